// Package openai converts between OpenAI Chat Completions messages and the
// canonical message model.
package openai

import (
	"encoding/json"
	"fmt"
	"strings"

	"goa.design/acontext/runtime/convert"
	"goa.design/acontext/runtime/message"
)

// Converter implements convert.Converter for the OpenAI format.
type Converter struct{}

var _ convert.Converter = Converter{}

// New returns an OpenAI converter.
func New() Converter { return Converter{} }

// Format implements convert.Converter.
func (Converter) Format() message.Format { return message.FormatOpenAI }

// ToCanonical decodes one Chat Completions message. System and developer
// messages become user messages whose parts remember the original role.
// Tool messages become user messages holding a single tool result.
func (Converter) ToCanonical(blob json.RawMessage, _ int) (*message.Message, error) {
	var w wireMessage
	if err := json.Unmarshal(blob, &w); err != nil {
		return nil, invalid("", "malformed message", err)
	}
	m := &message.Message{}
	if w.Name != "" {
		m.SetMeta(message.MetaKeySenderName, w.Name)
	}
	switch w.Role {
	case roleTool:
		m.Role = message.RoleUser
		part, err := decodeToolResult(m, w)
		if err != nil {
			return nil, err
		}
		m.Parts = []message.Part{part}
		return m, nil
	case roleUser, roleSystem, roleDeveloper:
		m.Role = message.RoleUser
	case roleAssistant:
		m.Role = message.RoleAssistant
	case "":
		return nil, invalid("role", "missing role", nil)
	default:
		return nil, invalid("role", fmt.Sprintf("unsupported role %q", w.Role), nil)
	}

	parts, err := decodeContent(m, w.Content)
	if err != nil {
		return nil, err
	}
	if w.Refusal != "" {
		parts = append(parts, message.TextPart{Text: w.Refusal, IsRefusal: true})
	}
	for i, tc := range w.ToolCalls {
		if tc.Type != "" && tc.Type != "function" {
			return nil, &message.UnsupportedPartTypeError{Format: message.FormatOpenAI, Type: "tool_call:" + tc.Type}
		}
		call, err := message.NewToolCallPart(tc.ID, tc.Function.Name, tc.Function.Arguments)
		if err != nil {
			return nil, invalid(fmt.Sprintf("tool_calls[%d]", i), "", err)
		}
		parts = append(parts, call)
	}
	if len(parts) == 0 {
		return nil, invalid("content", "message has no content", nil)
	}
	if w.Role == roleSystem || w.Role == roleDeveloper {
		for i, p := range parts {
			parts[i] = withSourceRole(p, w.Role)
		}
	}
	m.Parts = parts
	return m, nil
}

func decodeToolResult(m *message.Message, w wireMessage) (message.Part, error) {
	if w.ToolCallID == "" {
		return nil, invalid("tool_call_id", "required on tool messages", nil)
	}
	part := message.ToolResultPart{ToolCallID: w.ToolCallID}
	switch convert.JSONKind(w.Content) {
	case '"':
		if err := json.Unmarshal(w.Content, &part.Text); err != nil {
			return nil, invalid("content", "", err)
		}
	case '[':
		var blocks []wireContentPart
		if err := json.Unmarshal(w.Content, &blocks); err != nil {
			return nil, invalid("content", "", err)
		}
		var sb strings.Builder
		for i, b := range blocks {
			if b.Type != partText || b.Text == nil {
				return nil, invalid(fmt.Sprintf("content[%d]", i), "tool messages only carry text", nil)
			}
			sb.WriteString(*b.Text)
		}
		part.Text = sb.String()
		m.SetMeta(message.MetaKeyContentForm, message.ContentFormParts)
		if len(blocks) > 1 {
			var raw []any
			if err := json.Unmarshal(w.Content, &raw); err != nil {
				return nil, invalid("content", "", err)
			}
			part.Extra = map[string]any{message.ExtraContentBlocks: raw}
		}
	case 0:
	default:
		return nil, invalid("content", "must be a string or an array", nil)
	}
	return part, nil
}

func decodeContent(m *message.Message, raw json.RawMessage) ([]message.Part, error) {
	switch convert.JSONKind(raw) {
	case 0:
		return nil, nil
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, invalid("content", "", err)
		}
		return []message.Part{message.NewTextPart(s)}, nil
	case '[':
	default:
		return nil, invalid("content", "must be a string or an array", nil)
	}
	var blocks []wireContentPart
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, invalid("content", "", err)
	}
	m.SetMeta(message.MetaKeyContentForm, message.ContentFormParts)
	parts := make([]message.Part, 0, len(blocks))
	for i, b := range blocks {
		p, err := decodeBlock(b)
		if err != nil {
			if message.IsUnsupportedPartType(err) {
				return nil, err
			}
			return nil, invalid(fmt.Sprintf("content[%d]", i), "", err)
		}
		parts = append(parts, p)
	}
	return parts, nil
}

func decodeBlock(b wireContentPart) (message.Part, error) {
	switch b.Type {
	case partText:
		if b.Text == nil {
			return nil, fmt.Errorf("text part without text")
		}
		return message.NewTextPart(*b.Text), nil
	case partRefusal:
		return message.TextPart{Text: b.Refusal, IsRefusal: true, Extra: map[string]any{extraRefusalPart: true}}, nil
	case partImageURL:
		if b.ImageURL == nil || b.ImageURL.URL == "" {
			return nil, fmt.Errorf("image_url part without url")
		}
		img := message.ImagePart{Source: urlSource(b.ImageURL.URL), Detail: b.ImageURL.Detail}
		return img, img.Validate()
	case partInputAudio:
		if b.InputAudio == nil {
			return nil, fmt.Errorf("input_audio part without payload")
		}
		audio := message.AudioPart{Data: b.InputAudio.Data, Format: b.InputAudio.Format}
		return audio, audio.Validate()
	case partFile:
		if b.File == nil {
			return nil, fmt.Errorf("file part without payload")
		}
		file := message.FilePart{Filename: b.File.Filename}
		switch {
		case b.File.FileID != "":
			file.Source = message.Source{Type: message.SourceFileID, FileID: b.File.FileID}
		case b.File.FileData != "":
			if mt, data, ok := convert.ParseDataURL(b.File.FileData); ok {
				file.Source = message.Source{Type: message.SourceBase64, MediaType: mt, Data: data}
			} else {
				file.Source = message.Source{Type: message.SourceBase64, Data: b.File.FileData}
			}
		}
		return file, file.Validate()
	}
	return nil, &message.UnsupportedPartTypeError{Format: message.FormatOpenAI, Type: b.Type}
}

func urlSource(u string) message.Source {
	if mt, data, ok := convert.ParseDataURL(u); ok {
		return message.Source{Type: message.SourceBase64, MediaType: mt, Data: data}
	}
	return message.Source{Type: message.SourceURL, URL: u}
}

// FromCanonical encodes m as one or more Chat Completions messages. Each
// tool result is emitted as its own tool message in part order.
func (Converter) FromCanonical(m *message.Message) ([]json.RawMessage, error) {
	var msgs []wireMessage
	if m.Role == message.RoleAssistant {
		w, ok, err := encodeAssistant(m)
		if err != nil {
			return nil, err
		}
		if ok {
			msgs = append(msgs, w)
		}
	} else {
		var err error
		if msgs, err = encodeUser(m); err != nil {
			return nil, err
		}
	}
	out := make([]json.RawMessage, 0, len(msgs))
	for _, w := range msgs {
		raw, err := json.Marshal(w)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

func encodeAssistant(m *message.Message) (wireMessage, bool, error) {
	w := wireMessage{Role: roleAssistant, Name: m.MetaString(message.MetaKeySenderName)}
	same := convert.SameSource(m, message.FormatOpenAI)
	var (
		content  []message.Part
		refusals []string
	)
	for _, p := range m.Parts {
		switch v := p.(type) {
		case message.TextPart:
			if v.IsRefusal && !(same && message.ExtraBool(v, extraRefusalPart)) {
				refusals = append(refusals, v.Text)
				continue
			}
			content = append(content, v)
		case message.ToolCallPart:
			w.ToolCalls = append(w.ToolCalls, wireToolCall{
				ID:       v.ID,
				Type:     "function",
				Function: wireFunction{Name: v.Name, Arguments: v.Arguments},
			})
		case message.ThinkingPart:
		case message.DataPart:
			if v.DataType == dataRedactedThinking {
				continue
			}
			content = append(content, message.NewTextPart(convert.Placeholder(v)))
		case message.ToolResultPart:
			content = append(content, message.NewTextPart(v.Text))
		case message.ImagePart, message.AudioPart, message.VideoPart, message.FilePart:
			content = append(content, message.NewTextPart(convert.Placeholder(v)))
		default:
			return w, false, &message.UnsupportedPartTypeError{Format: message.FormatOpenAI, Type: fmt.Sprintf("%T", p)}
		}
	}
	w.Refusal = strings.Join(refusals, "")
	if len(content) > 0 {
		raw, err := encodeContent(m, content)
		if err != nil {
			return w, false, err
		}
		w.Content = raw
	}
	ok := len(content) > 0 || w.Refusal != "" || len(w.ToolCalls) > 0
	return w, ok, nil
}

func encodeUser(m *message.Message) ([]wireMessage, error) {
	var (
		out   []wireMessage
		group []message.Part
	)
	flush := func() error {
		if len(group) == 0 {
			return nil
		}
		w := wireMessage{Role: sourceRole(group), Name: m.MetaString(message.MetaKeySenderName)}
		raw, err := encodeContent(m, group)
		if err != nil {
			return err
		}
		w.Content = raw
		out = append(out, w)
		group = nil
		return nil
	}
	for _, p := range m.Parts {
		if _, ok := p.(message.ThinkingPart); ok {
			continue
		}
		r, ok := p.(message.ToolResultPart)
		if !ok {
			group = append(group, p)
			continue
		}
		if err := flush(); err != nil {
			return nil, err
		}
		w := wireMessage{Role: roleTool, ToolCallID: r.ToolCallID}
		raw, err := encodeToolContent(m, r)
		if err != nil {
			return nil, err
		}
		w.Content = raw
		out = append(out, w)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return out, nil
}

func encodeToolContent(m *message.Message, r message.ToolResultPart) (json.RawMessage, error) {
	if convert.SameSource(m, message.FormatOpenAI) {
		if blocks, ok := r.Extra[message.ExtraContentBlocks].([]any); ok && joinedText(blocks) == r.Text {
			return json.Marshal(blocks)
		}
	}
	if convert.SameSource(m, message.FormatOpenAI) && m.MetaString(message.MetaKeyContentForm) == message.ContentFormParts {
		return json.Marshal([]wireContentPart{textPart(r.Text)})
	}
	return json.Marshal(r.Text)
}

// encodeContent renders parts as a plain string when possible and as a
// content part array otherwise.
func encodeContent(m *message.Message, parts []message.Part) (json.RawMessage, error) {
	var kept []message.Part
	for _, p := range parts {
		if _, ok := p.(message.ThinkingPart); ok {
			continue
		}
		kept = append(kept, p)
	}
	if !convert.PrefersParts(m, message.FormatOpenAI, kept) {
		if len(kept) == 0 {
			return json.Marshal("")
		}
		return json.Marshal(kept[0].(message.TextPart).Text)
	}
	blocks := make([]wireContentPart, 0, len(kept))
	for _, p := range kept {
		b, err := encodePart(p)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	return json.Marshal(blocks)
}

func encodePart(p message.Part) (wireContentPart, error) {
	switch v := p.(type) {
	case message.TextPart:
		if v.IsRefusal {
			return wireContentPart{Type: partRefusal, Refusal: v.Text}, nil
		}
		return textPart(v.Text), nil
	case message.ImagePart:
		if u := convert.SourceURL(v.Source); u != "" {
			return wireContentPart{Type: partImageURL, ImageURL: &wireImageURL{URL: u, Detail: v.Detail}}, nil
		}
	case message.AudioPart:
		if v.Data != "" {
			return wireContentPart{Type: partInputAudio, InputAudio: &wireInputAudio{Data: v.Data, Format: v.Format}}, nil
		}
	case message.FilePart:
		switch v.Source.Type {
		case message.SourceFileID:
			return wireContentPart{Type: partFile, File: &wireFile{FileID: v.Source.FileID, Filename: v.Filename}}, nil
		case message.SourceBase64:
			data := v.Source.Data
			if v.Source.MediaType != "" {
				data = convert.DataURL(v.Source.MediaType, data)
			}
			return wireContentPart{Type: partFile, File: &wireFile{FileData: data, Filename: v.Filename}}, nil
		case message.SourceText:
			return textPart(v.Source.Data), nil
		}
	case message.ToolCallPart:
		return textPart(fmt.Sprintf("[tool call %s: %s]", v.Name, v.Arguments)), nil
	case message.VideoPart, message.DataPart:
	default:
		return wireContentPart{}, &message.UnsupportedPartTypeError{Format: message.FormatOpenAI, Type: fmt.Sprintf("%T", p)}
	}
	return textPart(convert.Placeholder(p)), nil
}

// dataRedactedThinking is the data type Anthropic redacted thinking blocks
// are stored under. Such payloads only make sense to Anthropic.
const dataRedactedThinking = "redacted_thinking"

func sourceRole(parts []message.Part) string {
	role := message.ExtraString(parts[0], message.ExtraSourceRole)
	if role != roleSystem && role != roleDeveloper {
		return roleUser
	}
	for _, p := range parts[1:] {
		if message.ExtraString(p, message.ExtraSourceRole) != role {
			return roleUser
		}
	}
	return role
}

func withSourceRole(p message.Part, role string) message.Part {
	switch v := p.(type) {
	case message.TextPart:
		v.Extra = map[string]any{message.ExtraSourceRole: role}
		return v
	case message.ImagePart:
		v.Extra = map[string]any{message.ExtraSourceRole: role}
		return v
	case message.AudioPart:
		v.Extra = map[string]any{message.ExtraSourceRole: role}
		return v
	case message.FilePart:
		v.Extra = map[string]any{message.ExtraSourceRole: role}
		return v
	}
	return p
}

func joinedText(blocks []any) string {
	var sb strings.Builder
	for _, b := range blocks {
		if mb, ok := b.(map[string]any); ok {
			if s, ok := mb["text"].(string); ok {
				sb.WriteString(s)
			}
		}
	}
	return sb.String()
}

func invalid(path, reason string, err error) error {
	return message.NewFormatValidationError(message.FormatOpenAI, path, reason, err)
}
