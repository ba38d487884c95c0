package editing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"goa.design/acontext/runtime/message"
	"goa.design/acontext/runtime/tokens"
)

// textMessage returns a message whose single text part costs n estimator
// tokens.
func textMessage(id string, role message.Role, n int) *message.Message {
	return &message.Message{
		ID:    id,
		Role:  role,
		Parts: []message.Part{message.NewTextPart(strings.Repeat("a", n*4))},
	}
}

// toolSession returns pairs of assistant tool calls and user tool results.
func toolSession(t *testing.T, pairs int) []*message.Message {
	t.Helper()
	msgs := make([]*message.Message, 0, pairs*2)
	for i := range pairs {
		id := fmt.Sprintf("call_%d", i)
		call, err := message.NewToolCallPart(id, "search", fmt.Sprintf(`{"query":%q}`, strings.Repeat("q", 40)))
		require.NoError(t, err)
		res, err := message.NewToolResultPart(id, fmt.Sprintf("result %d", i), false)
		require.NoError(t, err)
		msgs = append(msgs,
			&message.Message{ID: fmt.Sprintf("m%d", 2*i), Role: message.RoleAssistant, Parts: []message.Part{call}},
			&message.Message{ID: fmt.Sprintf("m%d", 2*i+1), Role: message.RoleUser, Parts: []message.Part{res}},
		)
	}
	return msgs
}

func ids(msgs []*message.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func encodeAll(t *testing.T, msgs []*message.Message) []string {
	t.Helper()
	out := make([]string, len(msgs))
	for i, m := range msgs {
		raw, err := json.Marshal(m)
		require.NoError(t, err)
		out[i] = string(raw)
	}
	return out
}

func ptr(n int) *int { return &n }

func TestApplyRejectsInvalidStrategies(t *testing.T) {
	cases := []struct {
		name string
		in   Strategy
	}{
		{"unknown type", Strategy{Type: "summarize"}},
		{"missing required", Strategy{Type: StrategyTokenLimit}},
		{"negative", Strategy{Type: StrategyTokenLimit, Params: map[string]any{"limit_tokens": -1}}},
		{"wrong type", Strategy{Type: StrategyMiddleOut, Params: map[string]any{"token_reduce_to": "100"}}},
		{"fraction", Strategy{Type: StrategyRemoveToolResult, Params: map[string]any{"keep_recent_n_tool_results": 1.5}}},
		{"unknown param", Strategy{Type: StrategyRemoveToolCallParams, Params: map[string]any{"gt": 3}}},
	}
	msgs := toolSession(t, 2)
	before := encodeAll(t, msgs)
	p := New(nil)
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			valid := Strategy{Type: StrategyRemoveToolResult, Params: map[string]any{"keep_recent_n_tool_results": 0}}
			_, err := p.Apply(context.Background(), msgs, []Strategy{valid, c.in}, "")
			require.Error(t, err)
			require.True(t, IsStrategyValidation(err))
			var sv *StrategyValidationError
			require.ErrorAs(t, err, &sv)
			require.Equal(t, 1, sv.Index)
			require.Equal(t, c.in.Type, sv.Type)
			require.Equal(t, before, encodeAll(t, msgs))
		})
	}
}

func TestRemoveToolResultKeepsMostRecent(t *testing.T) {
	msgs := toolSession(t, 5)
	require.Len(t, msgs, 10)
	before := encodeAll(t, msgs)

	res, err := New(nil).Apply(context.Background(), msgs, []Strategy{
		{Type: StrategyRemoveToolResult, Params: map[string]any{"keep_recent_n_tool_results": 3}},
	}, "")
	require.NoError(t, err)
	require.Len(t, res.Messages, 10)
	require.Equal(t, "m9", res.EffectivePin)
	require.Zero(t, res.Removed)

	var texts []string
	for _, m := range res.Messages {
		for _, part := range m.Parts {
			if r, ok := part.(message.ToolResultPart); ok {
				texts = append(texts, r.Text)
			}
		}
	}
	require.Equal(t, []string{"Done", "Done", "result 2", "result 3", "result 4"}, texts)
	require.Equal(t, before, encodeAll(t, msgs), "input must not change")
}

func TestRemoveToolResultCriteria(t *testing.T) {
	msgs := toolSession(t, 3)
	big, err := message.NewToolResultPart("call_1", strings.Repeat("x", 400), false)
	require.NoError(t, err)
	msgs[3].Parts[0] = big

	t.Run("gt_token only", func(t *testing.T) {
		res, err := New(nil).Apply(context.Background(), msgs, []Strategy{
			{Type: StrategyRemoveToolResult, Params: map[string]any{"gt_token": 50, "tool_result_placeholder": "[trimmed]"}},
		}, "")
		require.NoError(t, err)
		require.Equal(t, "result 0", res.Messages[1].Parts[0].(message.ToolResultPart).Text)
		require.Equal(t, "[trimmed]", res.Messages[3].Parts[0].(message.ToolResultPart).Text)
		require.Equal(t, "result 2", res.Messages[5].Parts[0].(message.ToolResultPart).Text)
	})

	t.Run("keep_tools", func(t *testing.T) {
		res, err := New(nil).Apply(context.Background(), msgs, []Strategy{
			{Type: StrategyRemoveToolResult, Params: map[string]any{"keep_recent_n_tool_results": 0, "keep_tools": []any{"search"}}},
		}, "")
		require.NoError(t, err)
		require.Equal(t, encodeAll(t, msgs), encodeAll(t, res.Messages))
	})

	t.Run("no criteria", func(t *testing.T) {
		res, err := New(nil).Apply(context.Background(), msgs, []Strategy{{Type: StrategyRemoveToolResult}}, "")
		require.NoError(t, err)
		require.Equal(t, encodeAll(t, msgs), encodeAll(t, res.Messages))
	})
}

func TestRemoveToolCallParamsKeepsPairing(t *testing.T) {
	msgs := toolSession(t, 3)
	res, err := New(nil).Apply(context.Background(), msgs, []Strategy{
		{Type: StrategyRemoveToolCallParams, Params: map[string]any{"gt_token": 5, "keep_recent_n_tool_calls": 1}},
	}, "")
	require.NoError(t, err)

	for i, m := range []int{0, 2} {
		call := res.Messages[m].Parts[0].(message.ToolCallPart)
		require.Equal(t, fmt.Sprintf("call_%d", i), call.ID)
		require.Equal(t, "search", call.Name)
		require.Equal(t, RedactedArguments, call.Arguments)
	}
	last := res.Messages[4].Parts[0].(message.ToolCallPart)
	require.Contains(t, last.Arguments, "query")
	require.Equal(t, message.ToolCallIDs(res.Messages), message.ToolResultIDs(res.Messages))
	require.Contains(t, msgs[0].Parts[0].(message.ToolCallPart).Arguments, "query")
}

func TestMiddleOutKeepsBoundaries(t *testing.T) {
	var msgs []*message.Message
	for i := range 6 {
		role := message.RoleUser
		if i%2 == 1 {
			role = message.RoleAssistant
		}
		msgs = append(msgs, textMessage(fmt.Sprintf("m%d", i), role, 83))
	}
	res, err := New(nil).Apply(context.Background(), msgs, []Strategy{
		{Type: StrategyMiddleOut, Params: map[string]any{"token_reduce_to": 100}},
	}, "")
	require.NoError(t, err)
	require.Equal(t, []string{"m0", "m5"}, ids(res.Messages))
	require.Equal(t, 4, res.Removed)
}

func TestMiddleOutRemovesFromTheMiddle(t *testing.T) {
	var msgs []*message.Message
	for i := range 6 {
		msgs = append(msgs, textMessage(fmt.Sprintf("m%d", i), message.RoleUser, 100))
	}
	res, err := New(nil).Apply(context.Background(), msgs, []Strategy{
		{Type: StrategyMiddleOut, Params: map[string]any{"token_reduce_to": 450}},
	}, "")
	require.NoError(t, err)
	require.Equal(t, []string{"m0", "m3", "m4", "m5"}, ids(res.Messages))
}

func TestMiddleOrder(t *testing.T) {
	require.Empty(t, middleOrder(2))
	require.Equal(t, []int{1}, middleOrder(3))
	require.Equal(t, []int{2, 1, 3, 4}, middleOrder(6))
	require.Equal(t, []int{3, 2, 4, 1, 5}, middleOrder(7))
}

func TestTokenLimitPrunesOrphans(t *testing.T) {
	msgs := append([]*message.Message{textMessage("intro", message.RoleUser, 50)}, toolSession(t, 2)...)
	// intro(50) + call_0(15) + result_0(2) + call_1(15) + result_1(2): the
	// limit drops intro and call_0, which orphans result_0.
	res, err := New(nil).Apply(context.Background(), msgs, []Strategy{
		{Type: StrategyTokenLimit, Params: map[string]any{"limit_tokens": 20}},
	}, "")
	require.NoError(t, err)
	require.Equal(t, []string{"m2", "m3"}, ids(res.Messages))
	require.Equal(t, message.ToolCallIDs(res.Messages), message.ToolResultIDs(res.Messages))
}

func TestTokenLimitRunsLast(t *testing.T) {
	msgs := toolSession(t, 4)
	removeResults := Strategy{Type: StrategyRemoveToolResult, Params: map[string]any{"keep_recent_n_tool_results": 0, "tool_result_placeholder": ""}}
	limit := Strategy{Type: StrategyTokenLimit, Params: map[string]any{"limit_tokens": 60}}

	p := New(nil)
	a, err := p.Apply(context.Background(), msgs, []Strategy{limit, removeResults}, "")
	require.NoError(t, err)
	b, err := p.Apply(context.Background(), msgs, []Strategy{removeResults, limit}, "")
	require.NoError(t, err)
	require.Equal(t, encodeAll(t, b.Messages), encodeAll(t, a.Messages))
}

func TestTokenLimitProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)
	est := tokens.NewEstimator()
	p := New(est)

	properties.Property("token_limit fits the budget and is idempotent", prop.ForAll(
		func(sizes []int, limit int) bool {
			msgs := make([]*message.Message, len(sizes))
			for i, n := range sizes {
				msgs[i] = textMessage(fmt.Sprintf("m%d", i), message.RoleUser, n)
			}
			strategies := []Strategy{{Type: StrategyTokenLimit, Params: map[string]any{"limit_tokens": limit}}}
			first, err := p.Apply(context.Background(), msgs, strategies, "")
			if err != nil {
				return false
			}
			total := 0
			for _, m := range first.Messages {
				n, _ := tokens.CountMessage(context.Background(), est, m)
				total += n
			}
			if total > limit {
				return false
			}
			second, err := p.Apply(context.Background(), first.Messages, strategies, "")
			if err != nil || second.Removed != 0 {
				return false
			}
			return len(second.Messages) == len(first.Messages)
		},
		gen.SliceOf(gen.IntRange(0, 300)),
		gen.IntRange(0, 1500),
	))

	properties.TestingRun(t)
}

func TestPinStabilityProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)
	p := New(nil)
	strategies := []Strategy{
		{Type: StrategyRemoveToolResult, Params: map[string]any{"keep_recent_n_tool_results": 1}},
		{Type: StrategyTokenLimit, Params: map[string]any{"limit_tokens": 120}},
	}

	properties.Property("appending messages never changes the pinned prefix", prop.ForAll(
		func(pairs, pin, extra int) bool {
			msgs := toolSession(t, pairs)
			pin = pin % len(msgs)
			pinID := msgs[pin].ID
			first, err := p.Apply(context.Background(), msgs, strategies, pinID)
			if err != nil || first.EffectivePin != pinID {
				return false
			}
			longer := append(append([]*message.Message{}, msgs...), toolSession(t, pairs+extra)[2*pairs:]...)
			second, err := p.Apply(context.Background(), longer, strategies, pinID)
			if err != nil || second.EffectivePin != pinID {
				return false
			}
			kept := len(first.Messages) - (len(msgs) - pin - 1)
			a := encodeAll(t, first.Messages[:kept])
			b := encodeAll(t, second.Messages[:kept])
			for i := range a {
				if a[i] != b[i] {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 6),
		gen.IntRange(0, 100),
		gen.IntRange(1, 4),
	))

	properties.TestingRun(t)
}

func TestPinLeavesSuffixUntouched(t *testing.T) {
	msgs := toolSession(t, 3)
	res, err := New(nil).Apply(context.Background(), msgs, []Strategy{
		{Type: StrategyRemoveToolResult, Params: map[string]any{"keep_recent_n_tool_results": 0}},
	}, "m3")
	require.NoError(t, err)
	require.Equal(t, "m3", res.EffectivePin)
	require.Equal(t, "Done", res.Messages[1].Parts[0].(message.ToolResultPart).Text)
	require.Equal(t, "Done", res.Messages[3].Parts[0].(message.ToolResultPart).Text)
	require.Equal(t, "result 2", res.Messages[5].Parts[0].(message.ToolResultPart).Text)
}

func TestUnknownPin(t *testing.T) {
	_, err := New(nil).Apply(context.Background(), toolSession(t, 1), nil, "missing")
	require.ErrorIs(t, err, ErrPinNotFound)
}

func TestEmptyHistory(t *testing.T) {
	res, err := New(nil).Apply(context.Background(), nil, []Strategy{
		{Type: StrategyMiddleOut, Params: map[string]any{"token_reduce_to": 0}},
	}, "")
	require.NoError(t, err)
	require.Empty(t, res.Messages)
	require.Empty(t, res.EffectivePin)
}

func TestCounterFailuresCountAsZero(t *testing.T) {
	failing := tokens.CounterFunc(func(context.Context, ...message.Part) (int, error) {
		return 0, errors.Join(tokens.ErrUnavailable, errors.New("down"))
	})
	msgs := toolSession(t, 2)
	res, err := New(failing).Apply(context.Background(), msgs, []Strategy{
		{Type: StrategyTokenLimit, Params: map[string]any{"limit_tokens": 1}},
	}, "")
	require.NoError(t, err)
	require.Len(t, res.Messages, len(msgs))
}

func TestApplyHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(nil).Apply(ctx, toolSession(t, 1), []Strategy{
		{Type: StrategyTokenLimit, Params: map[string]any{"limit_tokens": 1}},
	}, "")
	require.ErrorIs(t, err, context.Canceled)
}

func TestLoadPresets(t *testing.T) {
	presets, err := LoadPresets(strings.NewReader(`
compact:
  - type: remove_tool_result
    params: {keep_recent_n_tool_results: 3}
  - type: token_limit
    params: {limit_tokens: 20000}
cache_friendly:
  - type: remove_tool_call_params
    params: {gt_token: 200}
`))
	require.NoError(t, err)
	compact, ok := presets.Lookup("compact")
	require.True(t, ok)
	require.Len(t, compact, 2)
	require.Equal(t, StrategyTokenLimit, compact[1].Type)
	_, ok = presets.Lookup("missing")
	require.False(t, ok)

	_, err = LoadPresets(strings.NewReader("broken:\n  - type: summarize\n"))
	require.True(t, IsStrategyValidation(err))

	empty, err := LoadPresets(strings.NewReader(""))
	require.NoError(t, err)
	require.Empty(t, empty)
}
