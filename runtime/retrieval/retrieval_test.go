package retrieval_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	sdk "github.com/openai/openai-go"
	"github.com/stretchr/testify/require"

	"goa.design/acontext/features/convert/anthropic"
	"goa.design/acontext/features/convert/gemini"
	"goa.design/acontext/features/convert/openai"
	"goa.design/acontext/runtime/convert"
	"goa.design/acontext/runtime/editing"
	"goa.design/acontext/runtime/message"
	"goa.design/acontext/runtime/retrieval"
	"goa.design/acontext/runtime/telemetry"
)

type recordingMetrics struct {
	mu       sync.Mutex
	counters map[string]float64
	timers   int
}

func (m *recordingMetrics) IncCounter(name string, value float64, _ ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters == nil {
		m.counters = make(map[string]float64)
	}
	m.counters[name] += value
}

func (m *recordingMetrics) RecordTimer(string, time.Duration, ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timers++
}

func newAssembler(metrics telemetry.Metrics) *retrieval.Assembler {
	reg := convert.NewRegistry(convert.NewCanonical(), openai.New(), anthropic.New(), gemini.New())
	return retrieval.New(reg, editing.New(nil), telemetry.Set{Metrics: metrics})
}

func ingest(t *testing.T, f message.Format, blobs ...string) []*message.Message {
	t.Helper()
	reg := convert.NewRegistry(openai.New(), anthropic.New(), gemini.New())
	base := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	var history []*message.Message
	for i, b := range blobs {
		m, err := reg.ToCanonical(f, json.RawMessage(b), i)
		require.NoError(t, err)
		m.ID = fmt.Sprintf("m%d", i)
		m.CreatedAt = base.Add(time.Duration(i) * time.Second)
		history = append(history, message.LinkToolResults(history, m))
	}
	return history
}

func TestGeminiFunctionCallRetrievedAsOpenAI(t *testing.T) {
	msgs := ingest(t, message.FormatGemini,
		`{"role":"user","parts":[{"text":"Weather in Paris?"}]}`,
		`{"role":"model","parts":[{"functionCall":{"name":"get_weather","args":{"city":"Paris"}}}]}`,
		`{"role":"user","parts":[{"functionResponse":{"name":"get_weather","response":{"temp":22}}}]}`,
	)
	resp, err := newAssembler(nil).Get(context.Background(), retrieval.Request{
		Messages: msgs,
		Format:   message.FormatOpenAI,
		Order:    retrieval.OrderAsc,
	})
	require.NoError(t, err)
	require.Equal(t, retrieval.OrderAsc, resp.Order)
	require.Equal(t, "m2", resp.EditAtMessageID)
	require.Len(t, resp.Blobs, 3)

	var assistant struct {
		ToolCalls []struct {
			ID string `json:"id"`
		} `json:"tool_calls"`
	}
	require.NoError(t, json.Unmarshal(resp.Blobs[1], &assistant))
	require.Len(t, assistant.ToolCalls, 1)
	require.NotEmpty(t, assistant.ToolCalls[0].ID)

	var tool struct {
		ToolCallID string `json:"tool_call_id"`
	}
	require.NoError(t, json.Unmarshal(resp.Blobs[2], &tool))
	require.Equal(t, assistant.ToolCalls[0].ID, tool.ToolCallID)
}

func TestDefaultOrderIsNewestFirst(t *testing.T) {
	msgs := ingest(t, message.FormatOpenAI,
		`{"role":"user","content":"first"}`,
		`{"role":"assistant","content":"second"}`,
	)
	// Out of order input is sorted by creation time first.
	msgs[0], msgs[1] = msgs[1], msgs[0]

	resp, err := newAssembler(nil).Get(context.Background(), retrieval.Request{Messages: msgs, Format: message.FormatOpenAI})
	require.NoError(t, err)
	require.Equal(t, retrieval.OrderDesc, resp.Order)
	require.Equal(t, "m1", resp.EditAtMessageID)
	require.JSONEq(t, `{"role":"assistant","content":"second"}`, string(resp.Blobs[0]))
	require.JSONEq(t, `{"role":"user","content":"first"}`, string(resp.Blobs[1]))
	require.Equal(t, "m1", resp.Messages[0].ID)
}

func TestDescOrderReversesSplitMessages(t *testing.T) {
	msgs := ingest(t, message.FormatAnthropic,
		`{"role":"assistant","content":[{"type":"tool_use","id":"a","name":"f","input":{}},{"type":"tool_use","id":"b","name":"f","input":{}}]}`,
		`{"role":"user","content":[{"type":"tool_result","tool_use_id":"a","content":"ra"},{"type":"tool_result","tool_use_id":"b","content":"rb"}]}`,
	)
	resp, err := newAssembler(nil).Get(context.Background(), retrieval.Request{Messages: msgs, Format: message.FormatOpenAI})
	require.NoError(t, err)
	require.Len(t, resp.Blobs, 3)
	require.JSONEq(t, `{"role":"tool","tool_call_id":"b","content":"rb"}`, string(resp.Blobs[0]))
	require.JSONEq(t, `{"role":"tool","tool_call_id":"a","content":"ra"}`, string(resp.Blobs[1]))
	require.Contains(t, string(resp.Blobs[2]), `"role":"assistant"`)
}

func TestSDKParamsView(t *testing.T) {
	msgs := ingest(t, message.FormatOpenAI,
		`{"role":"user","content":"first"}`,
		`{"role":"assistant","content":"second"}`,
	)
	resp, err := newAssembler(nil).Get(context.Background(), retrieval.Request{
		Messages:  msgs,
		Format:    message.FormatOpenAI,
		SDKParams: true,
	})
	require.NoError(t, err)
	require.Empty(t, resp.Blobs)
	require.Equal(t, retrieval.OrderAsc, resp.Order)
	params, ok := resp.Params.([]sdk.ChatCompletionMessageParamUnion)
	require.True(t, ok)
	require.Len(t, params, 2)
	require.NotNil(t, params[0].OfUser)
	require.NotNil(t, params[1].OfAssistant)

	_, err = newAssembler(nil).Get(context.Background(), retrieval.Request{
		Messages:  msgs,
		Format:    message.FormatGemini,
		SDKParams: true,
	})
	require.ErrorIs(t, err, convert.ErrNoSDKParams)
}

func TestEditingAppliesBeforeConversion(t *testing.T) {
	msgs := ingest(t, message.FormatAnthropic,
		`{"role":"user","content":"look it up"}`,
		`{"role":"assistant","content":[{"type":"tool_use","id":"toolu_1","name":"search","input":{"q":"a"}}]}`,
		`{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_1","content":"long result"}]}`,
		`{"role":"assistant","content":[{"type":"tool_use","id":"toolu_2","name":"search","input":{"q":"b"}}]}`,
		`{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_2","content":"fresh result"}]}`,
	)
	resp, err := newAssembler(nil).Get(context.Background(), retrieval.Request{
		Messages: msgs,
		Format:   message.FormatAnthropic,
		Order:    retrieval.OrderAsc,
		Strategies: []editing.Strategy{
			{Type: editing.StrategyRemoveToolResult, Params: map[string]any{"keep_recent_n_tool_results": 1}},
		},
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_1","content":"Done"}]}`, string(resp.Blobs[2]))
	require.JSONEq(t, `{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_2","content":"fresh result"}]}`, string(resp.Blobs[4]))
	require.Equal(t, "long result", msgs[2].Parts[0].(message.ToolResultPart).Text)
}

func TestGetErrors(t *testing.T) {
	metrics := &recordingMetrics{}
	a := newAssembler(metrics)
	msgs := ingest(t, message.FormatOpenAI, `{"role":"user","content":"hi"}`)

	_, err := a.Get(context.Background(), retrieval.Request{Messages: msgs, Format: "cohere"})
	require.ErrorIs(t, err, message.ErrUnknownFormat)

	_, err = a.Get(context.Background(), retrieval.Request{Messages: msgs, Format: message.FormatOpenAI, Order: "sideways"})
	require.ErrorIs(t, err, retrieval.ErrInvalidOrder)

	_, err = a.Get(context.Background(), retrieval.Request{
		Messages:   msgs,
		Format:     message.FormatOpenAI,
		Strategies: []editing.Strategy{{Type: "summarize"}},
	})
	require.True(t, editing.IsStrategyValidation(err))

	_, err = a.Get(context.Background(), retrieval.Request{Messages: msgs, Format: message.FormatOpenAI, PinAt: "nope"})
	require.ErrorIs(t, err, editing.ErrPinNotFound)

	_, err = a.Get(context.Background(), retrieval.Request{Messages: msgs, Format: message.FormatGemini, SDKParams: true})
	require.ErrorIs(t, err, convert.ErrNoSDKParams)

	require.Equal(t, 5.0, metrics.counters[telemetry.MetricRetrievals])
	require.Equal(t, 5, metrics.timers)
}

func TestParseOrder(t *testing.T) {
	o, err := retrieval.ParseOrder("")
	require.NoError(t, err)
	require.Equal(t, retrieval.DefaultOrder, o)
	o, err = retrieval.ParseOrder("asc")
	require.NoError(t, err)
	require.Equal(t, retrieval.OrderAsc, o)
	_, err = retrieval.ParseOrder("up")
	require.ErrorIs(t, err, retrieval.ErrInvalidOrder)
}
