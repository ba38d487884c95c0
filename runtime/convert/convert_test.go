package convert

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/acontext/runtime/message"
)

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry(NewCanonical())
	c, err := r.Lookup(message.FormatAcontext)
	require.NoError(t, err)
	require.Equal(t, message.FormatAcontext, c.Format())

	_, err = r.Lookup("cohere")
	require.ErrorIs(t, err, message.ErrUnknownFormat)
	require.Equal(t, []message.Format{message.FormatAcontext}, r.Formats())
}

func TestRegistryStampsSourceFormat(t *testing.T) {
	r := NewRegistry(NewCanonical())
	m, err := r.ToCanonical(message.FormatAcontext, json.RawMessage(`{"role":"user","parts":[{"type":"text","text":"hi"}]}`), 0)
	require.NoError(t, err)
	require.Equal(t, message.FormatAcontext, m.SourceFormat())
}

func TestCanonicalRoundTrip(t *testing.T) {
	blob := `{"role":"assistant","parts":[{"type":"text","text":"ok"},{"type":"tool-call","meta":{"id":"c1","name":"f","arguments":"{}"}}],"meta":{"source_format":"openai"}}`
	m, err := NewCanonical().ToCanonical(json.RawMessage(blob), 0)
	require.NoError(t, err)
	out, err := NewCanonical().FromCanonical(m)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.JSONEq(t, blob, string(out[0]))
}

func TestCanonicalRejectsInvalid(t *testing.T) {
	_, err := NewCanonical().ToCanonical(json.RawMessage(`{"role":"robot","parts":[]}`), 0)
	require.True(t, message.IsFormatValidation(err))
	_, err = NewCanonical().ToCanonical(json.RawMessage(`{"role":"user","parts":[{"type":"smell"}]}`), 0)
	require.True(t, message.IsUnsupportedPartType(err))
}

func TestParseDataURL(t *testing.T) {
	mt, data, ok := ParseDataURL("data:image/png;base64,aGk=")
	require.True(t, ok)
	require.Equal(t, "image/png", mt)
	require.Equal(t, "aGk=", data)

	_, _, ok = ParseDataURL("data:text/plain,hello")
	require.False(t, ok)
	_, _, ok = ParseDataURL("https://example.com/a.png")
	require.False(t, ok)
	require.Equal(t, "data:image/png;base64,aGk=", DataURL("image/png", "aGk="))
}

func TestArgumentsObject(t *testing.T) {
	require.JSONEq(t, `{"a":1}`, string(ArgumentsObject(` {"a":1} `)))
	require.JSONEq(t, `{"input":[1,2]}`, string(ArgumentsObject(`[1,2]`)))
	require.JSONEq(t, `{"input":"oops{"}`, string(ArgumentsObject(`oops{`)))
	require.JSONEq(t, `{"input":""}`, string(ArgumentsObject(``)))
}

func TestPrefersParts(t *testing.T) {
	f := message.FormatOpenAI
	m := &message.Message{}
	require.False(t, PrefersParts(m, f, []message.Part{message.NewTextPart("x")}))
	require.True(t, PrefersParts(m, f, []message.Part{message.NewTextPart("x"), message.NewTextPart("y")}))
	require.True(t, PrefersParts(m, f, []message.Part{message.TextPart{Text: "x", CacheControl: map[string]any{"type": "ephemeral"}}}))
	require.False(t, PrefersParts(m, f, []message.Part{message.TextPart{Text: "x", Extra: map[string]any{message.ExtraSourceRole: "system"}}}))
	m.SetMeta(message.MetaKeyContentForm, message.ContentFormParts)
	require.False(t, PrefersParts(m, f, []message.Part{message.NewTextPart("x")}))
	m.SetMeta(message.MetaKeySourceFormat, string(f))
	require.True(t, PrefersParts(m, f, []message.Part{message.NewTextPart("x")}))
}

func TestPlaceholder(t *testing.T) {
	require.Equal(t, "[audio: wav]", Placeholder(message.AudioPart{Data: "x", Format: "wav"}))
	require.Equal(t, "[file: a.pdf]", Placeholder(message.FilePart{Filename: "a.pdf"}))
	require.Equal(t, "[video: https://v]", Placeholder(message.VideoPart{Source: message.Source{Type: message.SourceURL, URL: "https://v"}}))
	require.JSONEq(t, `{"data_type":"chart","series":[1]}`, Placeholder(message.DataPart{DataType: "chart", Extra: map[string]any{"series": []any{1}, "__x__": true}}))
}
