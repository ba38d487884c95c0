package anthropic

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/acontext/runtime/message"
)

func decode(t *testing.T, blob string) *message.Message {
	t.Helper()
	m, err := New().ToCanonical(json.RawMessage(blob), 0)
	require.NoError(t, err)
	m.SetMeta(message.MetaKeySourceFormat, string(message.FormatAnthropic))
	return m
}

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		blob string
	}{
		{"user string", `{"role":"user","content":"Hello Claude"}`},
		{"text with cache control", `{"role":"user","content":[{"type":"text","text":"long context","cache_control":{"type":"ephemeral"}}]}`},
		{"images", `{"role":"user","content":[{"type":"image","source":{"type":"base64","media_type":"image/png","data":"aGVsbG8="}},{"type":"image","source":{"type":"url","url":"https://example.com/a.png"}},{"type":"image","source":{"type":"file","file_id":"file_01"}}]}`},
		{"documents", `{"role":"user","content":[{"type":"document","source":{"type":"base64","media_type":"application/pdf","data":"JVBERi0="},"title":"spec.pdf","context":"reference"},{"type":"document","source":{"type":"text","media_type":"text/plain","data":"plain body"}}]}`},
		{"tool use", `{"role":"assistant","content":[{"type":"thinking","thinking":"need weather","signature":"EqQB"},{"type":"text","text":"Let me check."},{"type":"tool_use","id":"toolu_01","name":"get_weather","input":{"city":"Paris","units":["c"]}}]}`},
		{"tool result string", `{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_01","content":"22C"}]}`},
		{"tool result error", `{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_01","content":"boom","is_error":true}]}`},
		{"tool result blocks", `{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_01","content":[{"type":"text","text":"line 1"},{"type":"image","source":{"type":"base64","media_type":"image/png","data":"aGk="}},{"type":"text","text":"line 2"}]}]}`},
		{"redacted thinking", `{"role":"assistant","content":[{"type":"redacted_thinking","data":"EmwKAhgB"},{"type":"text","text":"Done."}]}`},
		{"citations", `{"role":"assistant","content":[{"type":"text","text":"The grass is green.","citations":[{"type":"char_location","cited_text":"green","document_index":0,"start_char_index":0,"end_char_index":5}]}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := decode(t, tc.blob)
			blobs, err := New().FromCanonical(m)
			require.NoError(t, err)
			require.Len(t, blobs, 1)
			require.JSONEq(t, tc.blob, string(blobs[0]))

			again, err := New().ToCanonical(blobs[0], 0)
			require.NoError(t, err)
			again.SetMeta(message.MetaKeySourceFormat, string(message.FormatAnthropic))
			require.Equal(t, m, again)
		})
	}
}

func TestToolUseInputIsCompactedArguments(t *testing.T) {
	m := decode(t, `{"role":"assistant","content":[{"type":"tool_use","id":"t1","name":"search","input":{ "q" : "go" }}]}`)
	require.Equal(t, message.ToolCallPart{ID: "t1", Name: "search", Arguments: `{"q":"go"}`}, m.Parts[0])
}

func TestToolResultBlocksAreJoined(t *testing.T) {
	m := decode(t, `{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":[{"type":"text","text":"a"},{"type":"text","text":"b"}]}]}`)
	r := m.Parts[0].(message.ToolResultPart)
	require.Equal(t, "a\nb", r.Text)
}

func TestEditedToolResultFallsBackToString(t *testing.T) {
	m := decode(t, `{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":[{"type":"text","text":"a"}]}]}`)
	r := m.Parts[0].(message.ToolResultPart)
	r.Text = "Done"
	m.Parts[0] = r
	blobs, err := New().FromCanonical(m)
	require.NoError(t, err)
	require.JSONEq(t, `{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":"Done"}]}`, string(blobs[0]))
}

func TestUnsupportedBlock(t *testing.T) {
	_, err := New().ToCanonical(json.RawMessage(`{"role":"user","content":[{"type":"server_tool_use","id":"x"}]}`), 0)
	require.Error(t, err)
	require.True(t, message.IsUnsupportedPartType(err))
}

func TestInvalidMessages(t *testing.T) {
	for _, blob := range []string{
		`{"role":"system","content":"x"}`,
		`{"role":"user"}`,
		`{"role":"user","content":[]}`,
		`{"role":"user","content":[{"type":"tool_result","content":"no id"}]}`,
		`{"role":"assistant","content":[{"type":"tool_use","name":"x","input":{}}]}`,
		`{"role":"user","content":[{"type":"image"}]}`,
	} {
		_, err := New().ToCanonical(json.RawMessage(blob), 0)
		require.Error(t, err, blob)
		require.True(t, message.IsFormatValidation(err), blob)
	}
}

func TestFromOpenAIStyleCanonical(t *testing.T) {
	m := &message.Message{
		Role: message.RoleAssistant,
		Parts: []message.Part{
			message.TextPart{Text: "Calling."},
			message.ToolCallPart{ID: "call_1", Name: "lookup", Arguments: "not json"},
		},
		Meta: map[string]any{message.MetaKeySourceFormat: string(message.FormatOpenAI)},
	}
	blobs, err := New().FromCanonical(m)
	require.NoError(t, err)
	require.JSONEq(t, `{"role":"assistant","content":[{"type":"text","text":"Calling."},{"type":"tool_use","id":"call_1","name":"lookup","input":{"input":"not json"}}]}`, string(blobs[0]))
}

func TestForeignThinkingIsDropped(t *testing.T) {
	m := &message.Message{
		Role: message.RoleAssistant,
		Parts: []message.Part{
			message.ThinkingPart{Text: "gemini thought"},
			message.TextPart{Text: "answer"},
		},
		Meta: map[string]any{message.MetaKeySourceFormat: string(message.FormatGemini)},
	}
	blobs, err := New().FromCanonical(m)
	require.NoError(t, err)
	require.JSONEq(t, `{"role":"assistant","content":"answer"}`, string(blobs[0]))
}

func TestAudioDegradesToText(t *testing.T) {
	m := &message.Message{
		Role:  message.RoleUser,
		Parts: []message.Part{message.AudioPart{Data: "UklGRg==", Format: "wav"}},
	}
	blobs, err := New().FromCanonical(m)
	require.NoError(t, err)
	require.JSONEq(t, `{"role":"user","content":[{"type":"text","text":"[audio: wav]"}]}`, string(blobs[0]))
}

func TestMessageParams(t *testing.T) {
	msgs := []*message.Message{
		decode(t, `{"role":"user","content":"Hi"}`),
		decode(t, `{"role":"assistant","content":[{"type":"tool_use","id":"t1","name":"f","input":{}}]}`),
		decode(t, `{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":"ok"}]}`),
	}
	params, err := MessageParams(msgs)
	require.NoError(t, err)
	require.Len(t, params, 3)
	require.Equal(t, "assistant", string(params[1].Role))

	_, err = MessageParams(nil)
	require.Error(t, err)
}
