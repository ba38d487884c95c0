package message

import (
	"encoding/json"
	"fmt"
	"time"
)

// PartJSON is the canonical serialized shape of a part. Typed fields that
// have no dedicated slot are flattened into Meta.
type PartJSON struct {
	Type     PartType       `json:"type"`
	Text     string         `json:"text,omitempty"`
	Asset    *Asset         `json:"asset,omitempty"`
	Filename string         `json:"filename,omitempty"`
	Meta     map[string]any `json:"meta,omitempty"`
}

// Canonical part meta keys.
const (
	metaCacheControl = "cache_control"
	metaSourceType   = "type"
	metaMediaType    = "media_type"
	metaData         = "data"
	metaURL          = "url"
	metaFileID       = "file_id"
	metaDetail       = "detail"
	metaFormat       = "format"
	metaID           = "id"
	metaName         = "name"
	metaArguments    = "arguments"
	metaToolCallID   = "tool_call_id"
	metaIsError      = "is_error"
	metaIsRefusal    = "is_refusal"
	metaSignature    = "signature"
	metaDataType     = "data_type"
	metaFilename     = "filename"
)

type messageJSON struct {
	ID        string            `json:"id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	ParentID  string            `json:"parent_id,omitempty"`
	Role      Role              `json:"role"`
	Parts     []json.RawMessage `json:"parts"`
	Meta      map[string]any    `json:"meta,omitempty"`
	CreatedAt *time.Time        `json:"created_at,omitempty"`
}

// MarshalJSON encodes the message in canonical form.
func (m *Message) MarshalJSON() ([]byte, error) {
	out := messageJSON{
		ID:        m.ID,
		SessionID: m.SessionID,
		ParentID:  m.ParentID,
		Role:      m.Role,
		Parts:     make([]json.RawMessage, 0, len(m.Parts)),
		Meta:      m.Meta,
	}
	if !m.CreatedAt.IsZero() {
		ts := m.CreatedAt
		out.CreatedAt = &ts
	}
	for i, p := range m.Parts {
		raw, err := MarshalPart(p)
		if err != nil {
			return nil, fmt.Errorf("parts[%d]: %w", i, err)
		}
		out.Parts = append(out.Parts, raw)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a canonical message and validates its parts.
func (m *Message) UnmarshalJSON(data []byte) error {
	var in messageJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	role, err := ParseRole(string(in.Role))
	if err != nil {
		return err
	}
	parts := make([]Part, 0, len(in.Parts))
	for i, raw := range in.Parts {
		p, err := UnmarshalPart(raw)
		if err != nil {
			return fmt.Errorf("parts[%d]: %w", i, err)
		}
		parts = append(parts, p)
	}
	*m = Message{
		ID:        in.ID,
		SessionID: in.SessionID,
		ParentID:  in.ParentID,
		Role:      role,
		Parts:     parts,
		Meta:      in.Meta,
	}
	if in.CreatedAt != nil {
		m.CreatedAt = *in.CreatedAt
	}
	return nil
}

// MarshalPart encodes p in canonical JSON.
func MarshalPart(p Part) ([]byte, error) {
	pj, err := EncodePart(p)
	if err != nil {
		return nil, err
	}
	return json.Marshal(pj)
}

// UnmarshalPart decodes and validates a canonical part.
func UnmarshalPart(data []byte) (Part, error) {
	var pj PartJSON
	if err := json.Unmarshal(data, &pj); err != nil {
		return nil, fmt.Errorf("decode part: %w", err)
	}
	return DecodePart(pj)
}

// EncodePart flattens p into its canonical serialized shape.
func EncodePart(p Part) (PartJSON, error) {
	var (
		pj   = PartJSON{Type: p.Type()}
		meta map[string]any
	)
	switch v := p.(type) {
	case TextPart:
		pj.Text = v.Text
		meta = withExtra(v.Extra)
		setIf(meta, metaIsRefusal, v.IsRefusal, v.IsRefusal)
		setIf(meta, metaCacheControl, v.CacheControl, v.CacheControl != nil)
	case ImagePart:
		pj.Asset = v.Asset
		meta = withExtra(v.Extra)
		putSource(meta, v.Source)
		setIf(meta, metaDetail, v.Detail, v.Detail != "")
		setIf(meta, metaCacheControl, v.CacheControl, v.CacheControl != nil)
	case AudioPart:
		pj.Asset = v.Asset
		meta = withExtra(v.Extra)
		setIf(meta, metaData, v.Data, v.Data != "")
		setIf(meta, metaFormat, v.Format, v.Format != "")
	case VideoPart:
		pj.Asset = v.Asset
		meta = withExtra(v.Extra)
		putSource(meta, v.Source)
	case FilePart:
		pj.Asset = v.Asset
		pj.Filename = v.Filename
		meta = withExtra(v.Extra)
		putSource(meta, v.Source)
		setIf(meta, metaCacheControl, v.CacheControl, v.CacheControl != nil)
	case ToolCallPart:
		meta = withExtra(v.Extra)
		meta[metaID] = v.ID
		meta[metaName] = v.Name
		meta[metaArguments] = v.Arguments
		setIf(meta, metaCacheControl, v.CacheControl, v.CacheControl != nil)
	case ToolResultPart:
		pj.Text = v.Text
		meta = withExtra(v.Extra)
		meta[metaToolCallID] = v.ToolCallID
		setIf(meta, metaName, v.Name, v.Name != "")
		setIf(meta, metaIsError, v.IsError, v.IsError)
		setIf(meta, metaCacheControl, v.CacheControl, v.CacheControl != nil)
	case ThinkingPart:
		pj.Text = v.Text
		meta = withExtra(v.Extra)
		setIf(meta, metaSignature, v.Signature, v.Signature != "")
	case DataPart:
		meta = withExtra(v.Extra)
		meta[metaDataType] = v.DataType
	default:
		return PartJSON{}, &UnsupportedPartTypeError{Format: FormatAcontext, Type: fmt.Sprintf("%T", p)}
	}
	if len(meta) > 0 {
		pj.Meta = meta
	}
	return pj, nil
}

// DecodePart rebuilds a typed part from its canonical serialized shape.
// Meta keys with no typed field are kept in the part Extra map.
func DecodePart(pj PartJSON) (Part, error) {
	meta := cloneMap(pj.Meta)
	var p Part
	switch pj.Type {
	case PartTypeText:
		p = TextPart{
			Text:         pj.Text,
			IsRefusal:    takeBool(meta, metaIsRefusal),
			CacheControl: takeMap(meta, metaCacheControl),
			Extra:        leftover(meta),
		}
	case PartTypeImage:
		p = ImagePart{
			Asset:        pj.Asset,
			Source:       takeSource(meta),
			Detail:       takeString(meta, metaDetail),
			CacheControl: takeMap(meta, metaCacheControl),
			Extra:        leftover(meta),
		}
	case PartTypeAudio:
		p = AudioPart{
			Asset:  pj.Asset,
			Data:   takeString(meta, metaData),
			Format: takeString(meta, metaFormat),
			Extra:  leftover(meta),
		}
	case PartTypeVideo:
		p = VideoPart{
			Asset:  pj.Asset,
			Source: takeSource(meta),
			Extra:  leftover(meta),
		}
	case PartTypeFile:
		filename := pj.Filename
		if filename == "" {
			filename = takeString(meta, metaFilename)
		}
		p = FilePart{
			Asset:        pj.Asset,
			Filename:     filename,
			Source:       takeSource(meta),
			CacheControl: takeMap(meta, metaCacheControl),
			Extra:        leftover(meta),
		}
	case PartTypeToolCall:
		p = ToolCallPart{
			ID:           takeString(meta, metaID),
			Name:         takeString(meta, metaName),
			Arguments:    takeString(meta, metaArguments),
			CacheControl: takeMap(meta, metaCacheControl),
			Extra:        leftover(meta),
		}
	case PartTypeToolResult:
		p = ToolResultPart{
			ToolCallID:   takeString(meta, metaToolCallID),
			Text:         pj.Text,
			Name:         takeString(meta, metaName),
			IsError:      takeBool(meta, metaIsError),
			CacheControl: takeMap(meta, metaCacheControl),
			Extra:        leftover(meta),
		}
	case PartTypeThinking:
		p = ThinkingPart{
			Text:      pj.Text,
			Signature: takeString(meta, metaSignature),
			Extra:     leftover(meta),
		}
	case PartTypeData:
		p = DataPart{
			DataType: takeString(meta, metaDataType),
			Extra:    leftover(meta),
		}
	default:
		return nil, &UnsupportedPartTypeError{Format: FormatAcontext, Type: string(pj.Type)}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func withExtra(extra map[string]any) map[string]any {
	meta := make(map[string]any, len(extra)+4)
	for k, v := range extra {
		meta[k] = cloneValue(v)
	}
	return meta
}

func setIf(meta map[string]any, key string, value any, ok bool) {
	if ok {
		meta[key] = value
	}
}

func putSource(meta map[string]any, s Source) {
	setIf(meta, metaSourceType, string(s.Type), s.Type != "")
	setIf(meta, metaMediaType, s.MediaType, s.MediaType != "")
	setIf(meta, metaData, s.Data, s.Data != "")
	setIf(meta, metaURL, s.URL, s.URL != "")
	setIf(meta, metaFileID, s.FileID, s.FileID != "")
}

func takeSource(meta map[string]any) Source {
	return Source{
		Type:      SourceType(takeString(meta, metaSourceType)),
		MediaType: takeString(meta, metaMediaType),
		Data:      takeString(meta, metaData),
		URL:       takeString(meta, metaURL),
		FileID:    takeString(meta, metaFileID),
	}
}

func takeString(meta map[string]any, key string) string {
	s, ok := meta[key].(string)
	if ok {
		delete(meta, key)
	}
	return s
}

func takeBool(meta map[string]any, key string) bool {
	b, ok := meta[key].(bool)
	if ok {
		delete(meta, key)
	}
	return b
}

func takeMap(meta map[string]any, key string) map[string]any {
	m, ok := meta[key].(map[string]any)
	if ok {
		delete(meta, key)
	}
	return m
}

func leftover(meta map[string]any) map[string]any {
	if len(meta) == 0 {
		return nil
	}
	return meta
}
