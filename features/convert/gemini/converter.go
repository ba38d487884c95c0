// Package gemini converts between Gemini Content values and the canonical
// message model.
//
// Gemini function calls and responses may omit ids. Missing ids are replaced
// with message.SyntheticCallID(seq, partIndex) and the part is flagged with
// message.ExtraSyntheticID, so re-emission to Gemini drops the id again while
// other formats see a stable, real looking identifier.
package gemini

import (
	"encoding/json"
	"fmt"
	"strings"

	"goa.design/acontext/runtime/convert"
	"goa.design/acontext/runtime/message"
)

// Converter implements convert.Converter for the Gemini format.
type Converter struct{}

var _ convert.Converter = Converter{}

// New returns a Gemini converter.
func New() Converter { return Converter{} }

// Format implements convert.Converter.
func (Converter) Format() message.Format { return message.FormatGemini }

// ToCanonical decodes one Gemini Content value.
func (Converter) ToCanonical(blob json.RawMessage, seq int) (*message.Message, error) {
	var w wireContent
	if err := json.Unmarshal(blob, &w); err != nil {
		return nil, invalid("", "malformed content", err)
	}
	m := &message.Message{}
	switch w.Role {
	case "":
		m.Role = message.RoleUser
		m.SetMeta(metaKeyNoRole, true)
	case roleUser:
		m.Role = message.RoleUser
	case roleModel:
		m.Role = message.RoleAssistant
	default:
		return nil, invalid("role", fmt.Sprintf("unsupported role %q", w.Role), nil)
	}
	if len(w.Parts) == 0 {
		return nil, invalid("parts", "content has no parts", nil)
	}
	m.Parts = make([]message.Part, 0, len(w.Parts))
	for i, wp := range w.Parts {
		p, err := decodePart(wp, seq, i)
		if err != nil {
			if message.IsUnsupportedPartType(err) {
				return nil, err
			}
			return nil, invalid(fmt.Sprintf("parts[%d]", i), "", err)
		}
		m.Parts = append(m.Parts, p)
	}
	return m, nil
}

func decodePart(wp wirePart, seq, idx int) (message.Part, error) {
	var extra map[string]any
	if wp.ThoughtSignature != "" && !wp.Thought {
		extra = map[string]any{extraThoughtSignature: wp.ThoughtSignature}
	}
	switch {
	case wp.FunctionCall != nil:
		fc := wp.FunctionCall
		if fc.Name == "" {
			return nil, fmt.Errorf("functionCall without name")
		}
		call := message.ToolCallPart{ID: fc.ID, Name: fc.Name, Arguments: "{}", Extra: extra}
		if len(fc.Args) > 0 {
			call.Arguments = message.CompactJSON(fc.Args)
		} else {
			call.Extra = withFlag(call.Extra, extraNoArgs)
		}
		if call.ID == "" {
			call.ID = message.SyntheticCallID(seq, idx)
			call.Extra = withFlag(call.Extra, message.ExtraSyntheticID)
		}
		return call, nil
	case wp.FunctionResponse != nil:
		fr := wp.FunctionResponse
		if fr.Name == "" {
			return nil, fmt.Errorf("functionResponse without name")
		}
		res := message.ToolResultPart{ToolCallID: fr.ID, Name: fr.Name, Extra: extra}
		if len(fr.Response) > 0 {
			res.Text = message.CompactJSON(fr.Response)
		}
		if res.ToolCallID == "" {
			res.ToolCallID = message.SyntheticCallID(seq, idx)
			res.Extra = withFlag(res.Extra, message.ExtraSyntheticID)
		}
		return res, nil
	case wp.InlineData != nil:
		return decodeMedia(wp.InlineData.MimeType, message.Source{
			Type:      message.SourceBase64,
			MediaType: wp.InlineData.MimeType,
			Data:      wp.InlineData.Data,
		}, extra)
	case wp.FileData != nil:
		return decodeMedia(wp.FileData.MimeType, message.Source{
			Type:      message.SourceURL,
			MediaType: wp.FileData.MimeType,
			URL:       wp.FileData.FileURI,
		}, extra)
	case wp.Text != nil && wp.Thought:
		return message.ThinkingPart{Text: *wp.Text, Signature: wp.ThoughtSignature}, nil
	case wp.Text != nil:
		return message.TextPart{Text: *wp.Text, Extra: extra}, nil
	}
	return nil, &message.UnsupportedPartTypeError{Format: message.FormatGemini, Type: "unknown"}
}

func decodeMedia(mime string, src message.Source, extra map[string]any) (message.Part, error) {
	var p message.Part
	switch major, minor, _ := strings.Cut(mime, "/"); major {
	case "image":
		p = message.ImagePart{Source: src, Extra: extra}
	case "audio":
		if src.Type == message.SourceBase64 {
			p = message.AudioPart{Data: src.Data, Format: minor, Extra: extra}
		} else {
			p = message.FilePart{Source: src, Extra: extra}
		}
	case "video":
		p = message.VideoPart{Source: src, Extra: extra}
	default:
		p = message.FilePart{Source: src, Extra: extra}
	}
	return p, p.Validate()
}

func withFlag(extra map[string]any, key string) map[string]any {
	if extra == nil {
		extra = make(map[string]any, 1)
	}
	extra[key] = true
	return extra
}

// FromCanonical encodes m as one Gemini Content value.
func (Converter) FromCanonical(m *message.Message) ([]json.RawMessage, error) {
	same := convert.SameSource(m, message.FormatGemini)
	w := wireContent{Role: roleUser}
	switch {
	case m.Role == message.RoleAssistant:
		w.Role = roleModel
	case same:
		if noRole, _ := m.Meta[metaKeyNoRole].(bool); noRole {
			w.Role = ""
		}
	}
	for _, p := range m.Parts {
		wp, ok, err := encodePart(p, same)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if same {
			if sig := message.ExtraString(p, extraThoughtSignature); sig != "" {
				wp.ThoughtSignature = sig
			}
		}
		w.Parts = append(w.Parts, wp)
	}
	if len(w.Parts) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}
	return []json.RawMessage{raw}, nil
}

func encodePart(p message.Part, same bool) (wirePart, bool, error) {
	switch v := p.(type) {
	case message.TextPart:
		return text(v.Text), true, nil
	case message.ThinkingPart:
		wp := text(v.Text)
		wp.Thought = true
		if same {
			wp.ThoughtSignature = v.Signature
		}
		return wp, true, nil
	case message.ImagePart:
		if wp, ok := encodeSource(v.Source); ok {
			return wp, true, nil
		}
	case message.VideoPart:
		if wp, ok := encodeSource(v.Source); ok {
			return wp, true, nil
		}
	case message.FilePart:
		if v.Source.Type == message.SourceText {
			return text(v.Source.Data), true, nil
		}
		if wp, ok := encodeSource(v.Source); ok {
			return wp, true, nil
		}
	case message.AudioPart:
		if v.Data != "" {
			return wirePart{InlineData: &wireBlob{MimeType: "audio/" + v.Format, Data: v.Data}}, true, nil
		}
	case message.ToolCallPart:
		fc := &wireFunctionCall{Name: v.Name}
		if !same || !message.ExtraBool(v, extraNoArgs) || v.Arguments != "{}" {
			fc.Args = convert.ArgumentsObject(v.Arguments)
		}
		if !message.ExtraBool(v, message.ExtraSyntheticID) {
			fc.ID = v.ID
		}
		return wirePart{FunctionCall: fc}, true, nil
	case message.ToolResultPart:
		name := v.Name
		if name == "" {
			name = v.ToolCallID
		}
		fr := &wireFunctionResponse{Name: name, Response: responseObject(v.Text)}
		if !message.ExtraBool(v, message.ExtraSyntheticID) {
			fr.ID = v.ToolCallID
		}
		return wirePart{FunctionResponse: fr}, true, nil
	case message.DataPart:
		if v.DataType == dataRedactedThinking {
			return wirePart{}, false, nil
		}
	default:
		return wirePart{}, false, &message.UnsupportedPartTypeError{Format: message.FormatGemini, Type: fmt.Sprintf("%T", p)}
	}
	return text(convert.Placeholder(p)), true, nil
}

const dataRedactedThinking = "redacted_thinking"

func encodeSource(s message.Source) (wirePart, bool) {
	switch s.Type {
	case message.SourceBase64:
		return wirePart{InlineData: &wireBlob{MimeType: s.MediaType, Data: s.Data}}, true
	case message.SourceURL:
		return wirePart{FileData: &wireFileData{MimeType: s.MediaType, FileURI: s.URL}}, true
	}
	return wirePart{}, false
}

// responseObject renders tool result text as the JSON object Gemini expects.
// Text that is not a JSON object is wrapped under "result".
func responseObject(text string) json.RawMessage {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") && json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	var v any = text
	if trimmed != "" && json.Valid([]byte(trimmed)) {
		v = json.RawMessage(trimmed)
	}
	raw, _ := json.Marshal(map[string]any{"result": v})
	return raw
}

func invalid(path, reason string, err error) error {
	return message.NewFormatValidationError(message.FormatGemini, path, reason, err)
}
