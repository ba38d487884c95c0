package convert_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/acontext/features/convert/anthropic"
	"goa.design/acontext/features/convert/gemini"
	"goa.design/acontext/features/convert/openai"
	"goa.design/acontext/runtime/convert"
	"goa.design/acontext/runtime/message"
)

func registry() *convert.Registry {
	return convert.NewRegistry(convert.NewCanonical(), openai.New(), anthropic.New(), gemini.New())
}

func ingest(t *testing.T, r *convert.Registry, f message.Format, blobs ...string) []*message.Message {
	t.Helper()
	var history []*message.Message
	for i, b := range blobs {
		m, err := r.ToCanonical(f, json.RawMessage(b), i)
		require.NoError(t, err)
		history = append(history, message.LinkToolResults(history, m))
	}
	return history
}

func TestGeminiToOpenAISynthesizesPairedIDs(t *testing.T) {
	r := registry()
	msgs := ingest(t, r, message.FormatGemini,
		`{"role":"user","parts":[{"text":"Weather in Paris?"}]}`,
		`{"role":"model","parts":[{"functionCall":{"name":"get_weather","args":{"city":"Paris"}}}]}`,
		`{"role":"user","parts":[{"functionResponse":{"name":"get_weather","response":{"temp":22}}}]}`,
	)
	out, err := r.FromCanonical(message.FormatOpenAI, msgs)
	require.NoError(t, err)
	require.Len(t, out, 3)
	require.JSONEq(t, `{"role":"user","content":"Weather in Paris?"}`, string(out[0]))
	require.JSONEq(t, `{"role":"assistant","tool_calls":[{"id":"call_1_0","type":"function","function":{"name":"get_weather","arguments":"{\"city\":\"Paris\"}"}}]}`, string(out[1]))
	require.JSONEq(t, `{"role":"tool","tool_call_id":"call_1_0","content":"{\"temp\":22}"}`, string(out[2]))

	back, err := r.FromCanonical(message.FormatGemini, msgs)
	require.NoError(t, err)
	require.JSONEq(t, `{"role":"model","parts":[{"functionCall":{"name":"get_weather","args":{"city":"Paris"}}}]}`, string(back[1]))
	require.JSONEq(t, `{"role":"user","parts":[{"functionResponse":{"name":"get_weather","response":{"temp":22}}}]}`, string(back[2]))
}

func TestOpenAIToAnthropicAndGemini(t *testing.T) {
	r := registry()
	msgs := ingest(t, r, message.FormatOpenAI,
		`{"role":"system","content":"Be brief."}`,
		`{"role":"user","content":[{"type":"text","text":"What is this?"},{"type":"image_url","image_url":{"url":"data:image/png;base64,aGk="}}]}`,
		`{"role":"assistant","content":"Let me look.","tool_calls":[{"id":"call_a","type":"function","function":{"name":"describe","arguments":"{\"q\":1}"}}]}`,
		`{"role":"tool","tool_call_id":"call_a","content":"a cat"}`,
	)
	out, err := r.FromCanonical(message.FormatAnthropic, msgs)
	require.NoError(t, err)
	require.Len(t, out, 4)
	require.JSONEq(t, `{"role":"user","content":"Be brief."}`, string(out[0]))
	require.JSONEq(t, `{"role":"user","content":[{"type":"text","text":"What is this?"},{"type":"image","source":{"type":"base64","media_type":"image/png","data":"aGk="}}]}`, string(out[1]))
	require.JSONEq(t, `{"role":"assistant","content":[{"type":"text","text":"Let me look."},{"type":"tool_use","id":"call_a","name":"describe","input":{"q":1}}]}`, string(out[2]))
	require.JSONEq(t, `{"role":"user","content":[{"type":"tool_result","tool_use_id":"call_a","content":"a cat"}]}`, string(out[3]))

	out, err = r.FromCanonical(message.FormatGemini, msgs)
	require.NoError(t, err)
	require.JSONEq(t, `{"role":"user","parts":[{"functionResponse":{"id":"call_a","name":"describe","response":{"result":"a cat"}}}]}`, string(out[3]))
}

func TestAnthropicToOpenAIPreservesOrderAndText(t *testing.T) {
	r := registry()
	msgs := ingest(t, r, message.FormatAnthropic,
		`{"role":"assistant","content":[{"type":"thinking","thinking":"hm","signature":"s"},{"type":"text","text":"one"},{"type":"tool_use","id":"t1","name":"f","input":{}},{"type":"tool_use","id":"t2","name":"g","input":{}}]}`,
		`{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":"r1"},{"type":"tool_result","tool_use_id":"t2","content":"r2"},{"type":"text","text":"thanks"}]}`,
	)
	out, err := r.FromCanonical(message.FormatOpenAI, msgs)
	require.NoError(t, err)
	require.Len(t, out, 4)
	require.JSONEq(t, `{"role":"assistant","content":"one","tool_calls":[{"id":"t1","type":"function","function":{"name":"f","arguments":"{}"}},{"id":"t2","type":"function","function":{"name":"g","arguments":"{}"}}]}`, string(out[0]))
	require.JSONEq(t, `{"role":"tool","tool_call_id":"t1","content":"r1"}`, string(out[1]))
	require.JSONEq(t, `{"role":"tool","tool_call_id":"t2","content":"r2"}`, string(out[2]))
	require.JSONEq(t, `{"role":"user","content":"thanks"}`, string(out[3]))
}
