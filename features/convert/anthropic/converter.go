// Package anthropic converts between Anthropic Messages API messages and the
// canonical message model.
package anthropic

import (
	"encoding/json"
	"fmt"
	"strings"

	"goa.design/acontext/runtime/convert"
	"goa.design/acontext/runtime/message"
)

// Converter implements convert.Converter for the Anthropic format.
type Converter struct{}

var _ convert.Converter = Converter{}

// New returns an Anthropic converter.
func New() Converter { return Converter{} }

// Format implements convert.Converter.
func (Converter) Format() message.Format { return message.FormatAnthropic }

// DataTypeRedactedThinking is the data part type holding redacted thinking
// blocks.
const DataTypeRedactedThinking = "redacted_thinking"

// ToCanonical decodes one Anthropic message.
func (Converter) ToCanonical(blob json.RawMessage, _ int) (*message.Message, error) {
	var w wireMessage
	if err := json.Unmarshal(blob, &w); err != nil {
		return nil, invalid("", "malformed message", err)
	}
	m := &message.Message{}
	switch w.Role {
	case "user":
		m.Role = message.RoleUser
	case "assistant":
		m.Role = message.RoleAssistant
	case "":
		return nil, invalid("role", "missing role", nil)
	default:
		return nil, invalid("role", fmt.Sprintf("unsupported role %q", w.Role), nil)
	}
	switch convert.JSONKind(w.Content) {
	case '"':
		var s string
		if err := json.Unmarshal(w.Content, &s); err != nil {
			return nil, invalid("content", "", err)
		}
		m.Parts = []message.Part{message.NewTextPart(s)}
		return m, nil
	case '[':
	case 0:
		return nil, invalid("content", "missing content", nil)
	default:
		return nil, invalid("content", "must be a string or an array", nil)
	}
	var blocks []wireBlock
	if err := json.Unmarshal(w.Content, &blocks); err != nil {
		return nil, invalid("content", "", err)
	}
	if len(blocks) == 0 {
		return nil, invalid("content", "message has no content", nil)
	}
	m.SetMeta(message.MetaKeyContentForm, message.ContentFormParts)
	m.Parts = make([]message.Part, 0, len(blocks))
	for i, b := range blocks {
		p, err := decodeBlock(b)
		if err != nil {
			if message.IsUnsupportedPartType(err) {
				return nil, err
			}
			return nil, invalid(fmt.Sprintf("content[%d]", i), "", err)
		}
		m.Parts = append(m.Parts, p)
	}
	return m, nil
}

func decodeBlock(b wireBlock) (message.Part, error) {
	switch b.Type {
	case blockText:
		p := message.TextPart{Text: b.Text, CacheControl: b.CacheControl}
		if len(b.Citations) > 0 {
			p.Extra = map[string]any{extraCitations: rawValue(b.Citations)}
		}
		return p, nil
	case blockImage:
		src, err := decodeSource(b.Source)
		if err != nil {
			return nil, err
		}
		p := message.ImagePart{Source: src, CacheControl: b.CacheControl}
		return p, p.Validate()
	case blockDocument:
		src, err := decodeSource(b.Source)
		if err != nil {
			return nil, err
		}
		p := message.FilePart{Filename: b.Title, Source: src, CacheControl: b.CacheControl}
		if b.Context != "" || len(b.Citations) > 0 {
			p.Extra = make(map[string]any)
			if b.Context != "" {
				p.Extra[extraContext] = b.Context
			}
			if len(b.Citations) > 0 {
				p.Extra[extraCitations] = rawValue(b.Citations)
			}
		}
		return p, p.Validate()
	case blockToolUse:
		args := "{}"
		if len(b.Input) > 0 {
			args = message.CompactJSON(b.Input)
		}
		p, err := message.NewToolCallPart(b.ID, b.Name, args)
		if err != nil {
			return nil, err
		}
		p.CacheControl = b.CacheControl
		return p, nil
	case blockToolResult:
		p := message.ToolResultPart{ToolCallID: b.ToolUseID, IsError: b.IsError, CacheControl: b.CacheControl}
		switch convert.JSONKind(b.Content) {
		case '"':
			if err := json.Unmarshal(b.Content, &p.Text); err != nil {
				return nil, err
			}
		case '[':
			var raw []any
			if err := json.Unmarshal(b.Content, &raw); err != nil {
				return nil, err
			}
			p.Text = joinedText(raw)
			p.Extra = map[string]any{message.ExtraContentBlocks: raw}
		case 0:
		default:
			return nil, fmt.Errorf("tool_result content must be a string or an array")
		}
		return p, p.Validate()
	case blockThinking:
		return message.ThinkingPart{Text: b.Thinking, Signature: b.Signature}, nil
	case blockRedactedThinking:
		return message.DataPart{DataType: DataTypeRedactedThinking, Extra: map[string]any{extraData: b.Data}}, nil
	}
	return nil, &message.UnsupportedPartTypeError{Format: message.FormatAnthropic, Type: b.Type}
}

func decodeSource(s *wireSource) (message.Source, error) {
	if s == nil {
		return message.Source{}, fmt.Errorf("missing source")
	}
	switch s.Type {
	case sourceBase64:
		return message.Source{Type: message.SourceBase64, MediaType: s.MediaType, Data: s.Data}, nil
	case sourceText:
		return message.Source{Type: message.SourceText, MediaType: s.MediaType, Data: s.Data}, nil
	case sourceURL:
		return message.Source{Type: message.SourceURL, URL: s.URL}, nil
	case sourceFile:
		return message.Source{Type: message.SourceFileID, FileID: s.FileID}, nil
	}
	return message.Source{}, &message.UnsupportedPartTypeError{Format: message.FormatAnthropic, Type: "source:" + s.Type}
}

// FromCanonical encodes m as one Anthropic message. Parts Anthropic cannot
// carry degrade to text; thinking is only replayed to Anthropic itself since
// signatures are provider specific.
func (Converter) FromCanonical(m *message.Message) ([]json.RawMessage, error) {
	same := convert.SameSource(m, message.FormatAnthropic)
	parts := make([]message.Part, 0, len(m.Parts))
	for _, p := range m.Parts {
		switch v := p.(type) {
		case message.ThinkingPart:
			if !same {
				continue
			}
		case message.DataPart:
			if v.DataType == DataTypeRedactedThinking && !same {
				continue
			}
		}
		parts = append(parts, p)
	}
	if len(parts) == 0 {
		return nil, nil
	}
	w := wireMessage{Role: string(m.Role)}
	if m.Role != message.RoleAssistant {
		w.Role = "user"
	}
	var err error
	if !convert.PrefersParts(m, message.FormatAnthropic, parts) {
		w.Content, err = json.Marshal(parts[0].(message.TextPart).Text)
	} else {
		blocks := make([]wireBlock, 0, len(parts))
		for _, p := range parts {
			b, err := encodePart(m, p, same)
			if err != nil {
				return nil, err
			}
			blocks = append(blocks, b)
		}
		w.Content, err = json.Marshal(blocks)
	}
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}
	return []json.RawMessage{raw}, nil
}

func encodePart(m *message.Message, p message.Part, same bool) (wireBlock, error) {
	switch v := p.(type) {
	case message.TextPart:
		b := wireBlock{Type: blockText, Text: v.Text, CacheControl: v.CacheControl}
		if same {
			b.Citations = rawJSON(v.Extra[extraCitations])
		}
		return b, nil
	case message.ImagePart:
		if src := encodeSource(v.Source); src != nil && src.Type != sourceText {
			return wireBlock{Type: blockImage, Source: src, CacheControl: v.CacheControl}, nil
		}
	case message.FilePart:
		if src := encodeSource(v.Source); src != nil {
			b := wireBlock{Type: blockDocument, Source: src, Title: v.Filename, CacheControl: v.CacheControl}
			if same {
				b.Context, _ = v.Extra[extraContext].(string)
				b.Citations = rawJSON(v.Extra[extraCitations])
			}
			return b, nil
		}
	case message.ToolCallPart:
		if m.Role == message.RoleAssistant {
			return wireBlock{
				Type:         blockToolUse,
				ID:           v.ID,
				Name:         v.Name,
				Input:        convert.ArgumentsObject(v.Arguments),
				CacheControl: v.CacheControl,
			}, nil
		}
	case message.ToolResultPart:
		if m.Role == message.RoleUser {
			content, err := toolResultContent(v, same)
			if err != nil {
				return wireBlock{}, err
			}
			return wireBlock{
				Type:         blockToolResult,
				ToolUseID:    v.ToolCallID,
				Content:      content,
				IsError:      v.IsError,
				CacheControl: v.CacheControl,
			}, nil
		}
		return wireBlock{Type: blockText, Text: v.Text}, nil
	case message.ThinkingPart:
		return wireBlock{Type: blockThinking, Thinking: v.Text, Signature: v.Signature}, nil
	case message.DataPart:
		if v.DataType == DataTypeRedactedThinking {
			data, _ := v.Extra[extraData].(string)
			return wireBlock{Type: blockRedactedThinking, Data: data}, nil
		}
	case message.AudioPart, message.VideoPart:
	default:
		return wireBlock{}, &message.UnsupportedPartTypeError{Format: message.FormatAnthropic, Type: fmt.Sprintf("%T", p)}
	}
	return wireBlock{Type: blockText, Text: convert.Placeholder(p)}, nil
}

func encodeSource(s message.Source) *wireSource {
	switch s.Type {
	case message.SourceBase64:
		return &wireSource{Type: sourceBase64, MediaType: s.MediaType, Data: s.Data}
	case message.SourceText:
		return &wireSource{Type: sourceText, MediaType: s.MediaType, Data: s.Data}
	case message.SourceURL:
		return &wireSource{Type: sourceURL, URL: s.URL}
	case message.SourceFileID:
		return &wireSource{Type: sourceFile, FileID: s.FileID}
	}
	return nil
}

func toolResultContent(r message.ToolResultPart, same bool) (json.RawMessage, error) {
	if blocks, ok := r.Extra[message.ExtraContentBlocks].([]any); ok && same && joinedText(blocks) == r.Text {
		return json.Marshal(blocks)
	}
	return json.Marshal(r.Text)
}

// joinedText concatenates the text blocks of a tool result, one per line.
func joinedText(blocks []any) string {
	var texts []string
	for _, b := range blocks {
		mb, ok := b.(map[string]any)
		if !ok || mb["type"] != blockText {
			continue
		}
		if s, ok := mb["text"].(string); ok {
			texts = append(texts, s)
		}
	}
	return strings.Join(texts, "\n")
}

func rawValue(raw json.RawMessage) any {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

func rawJSON(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}

func invalid(path, reason string, err error) error {
	return message.NewFormatValidationError(message.FormatAnthropic, path, reason, err)
}
