package message

import (
	"bytes"
	"encoding/json"

	goa "goa.design/goa/v3/pkg"
)

type (
	// Part is a single element of a message's ordered content. It is a closed
	// sum type: only the concrete types declared in this package implement
	// it.
	Part interface {
		// Type returns the part discriminator used on the wire.
		Type() PartType
		// Validate reports missing or inconsistent fields.
		Validate() error
		isPart()
	}

	// PartType is the canonical part discriminator.
	PartType string

	// SourceType identifies where media bytes live.
	SourceType string

	// Source locates media content either inline, by URL or by provider
	// file identifier.
	Source struct {
		Type      SourceType
		MediaType string
		Data      string
		URL       string
		FileID    string
	}

	// Asset references media persisted in object storage.
	Asset struct {
		Bucket string `json:"bucket"`
		S3Key  string `json:"s3_key"`
		ETag   string `json:"etag,omitempty"`
		SHA256 string `json:"sha256,omitempty"`
		MIME   string `json:"mime,omitempty"`
		SizeB  int64  `json:"size_b,omitempty"`
	}

	// TextPart carries plain text.
	TextPart struct {
		Text string
		// IsRefusal marks text emitted as a model refusal.
		IsRefusal bool
		// CacheControl is the provider cache hint, carried opaquely.
		CacheControl map[string]any
		// Extra keeps provider specific keys that have no typed field.
		Extra map[string]any
	}

	// ImagePart carries an image by asset reference or by source.
	ImagePart struct {
		Asset        *Asset
		Source       Source
		Detail       string
		CacheControl map[string]any
		Extra        map[string]any
	}

	// AudioPart carries audio content.
	AudioPart struct {
		Asset  *Asset
		Data   string
		Format string
		Extra  map[string]any
	}

	// VideoPart carries video content.
	VideoPart struct {
		Asset  *Asset
		Source Source
		Extra  map[string]any
	}

	// FilePart carries a document or arbitrary file.
	FilePart struct {
		Asset        *Asset
		Filename     string
		Source       Source
		CacheControl map[string]any
		Extra        map[string]any
	}

	// ToolCallPart is a model request to invoke a tool.
	ToolCallPart struct {
		ID string
		// Name is the tool name.
		Name string
		// Arguments is the JSON-encoded argument object, kept as a string.
		Arguments    string
		CacheControl map[string]any
		Extra        map[string]any
	}

	// ToolResultPart is the outcome of a tool call.
	ToolResultPart struct {
		ToolCallID string
		Text       string
		// Name is the tool name when the provider supplies it.
		Name         string
		IsError      bool
		CacheControl map[string]any
		Extra        map[string]any
	}

	// ThinkingPart is model reasoning content.
	ThinkingPart struct {
		Text      string
		Signature string
		Extra     map[string]any
	}

	// DataPart is an opaque typed payload carried in Extra.
	DataPart struct {
		DataType string
		Extra    map[string]any
	}
)

const (
	PartTypeText       PartType = "text"
	PartTypeImage      PartType = "image"
	PartTypeAudio      PartType = "audio"
	PartTypeVideo      PartType = "video"
	PartTypeFile       PartType = "file"
	PartTypeToolCall   PartType = "tool-call"
	PartTypeToolResult PartType = "tool-result"
	PartTypeThinking   PartType = "thinking"
	PartTypeData       PartType = "data"
)

const (
	SourceBase64 SourceType = "base64"
	SourceURL    SourceType = "url"
	SourceFileID SourceType = "file_id"
	// SourceText is inline plain text content (Anthropic text documents).
	SourceText SourceType = "text"
)

// Part-level private keys stored in Extra. Keys wrapped in double
// underscores are never emitted to providers.
const (
	// ExtraSyntheticID marks tool ids fabricated during ingestion.
	ExtraSyntheticID = "__synthetic_id__"
	// ExtraSourceRole keeps a provider role collapsed into user
	// (OpenAI system and developer).
	ExtraSourceRole = "__source_role__"
	// ExtraContentBlocks keeps the original block array of a tool result so
	// the source provider gets it back verbatim when unchanged.
	ExtraContentBlocks = "__content_blocks__"
)

func (TextPart) isPart()       {}
func (ImagePart) isPart()      {}
func (AudioPart) isPart()      {}
func (VideoPart) isPart()      {}
func (FilePart) isPart()       {}
func (ToolCallPart) isPart()   {}
func (ToolResultPart) isPart() {}
func (ThinkingPart) isPart()   {}
func (DataPart) isPart()       {}

func (TextPart) Type() PartType       { return PartTypeText }
func (ImagePart) Type() PartType      { return PartTypeImage }
func (AudioPart) Type() PartType      { return PartTypeAudio }
func (VideoPart) Type() PartType      { return PartTypeVideo }
func (FilePart) Type() PartType       { return PartTypeFile }
func (ToolCallPart) Type() PartType   { return PartTypeToolCall }
func (ToolResultPart) Type() PartType { return PartTypeToolResult }
func (ThinkingPart) Type() PartType   { return PartTypeThinking }
func (DataPart) Type() PartType       { return PartTypeData }

// Validate implements Part. Empty text is allowed.
func (p TextPart) Validate() error { return nil }

// Validate implements Part.
func (p ImagePart) Validate() error {
	if p.Asset == nil {
		return p.Source.validate("image")
	}
	return nil
}

// Validate implements Part.
func (p AudioPart) Validate() error {
	if p.Asset == nil && p.Data == "" {
		return goa.MissingFieldError("data", "audio")
	}
	return nil
}

// Validate implements Part.
func (p VideoPart) Validate() error {
	if p.Asset == nil {
		return p.Source.validate("video")
	}
	return nil
}

// Validate implements Part.
func (p FilePart) Validate() error {
	if p.Asset == nil {
		return p.Source.validate("file")
	}
	return nil
}

// Validate implements Part.
func (p ToolCallPart) Validate() error {
	var err error
	if p.ID == "" {
		err = goa.MergeErrors(err, goa.MissingFieldError("id", "tool-call"))
	}
	if p.Name == "" {
		err = goa.MergeErrors(err, goa.MissingFieldError("name", "tool-call"))
	}
	if p.Arguments == "" {
		err = goa.MergeErrors(err, goa.MissingFieldError("arguments", "tool-call"))
	}
	return err
}

// Validate implements Part.
func (p ToolResultPart) Validate() error {
	if p.ToolCallID == "" {
		return goa.MissingFieldError("tool_call_id", "tool-result")
	}
	return nil
}

// Validate implements Part.
func (p ThinkingPart) Validate() error { return nil }

// Validate implements Part.
func (p DataPart) Validate() error {
	if p.DataType == "" {
		return goa.MissingFieldError("data_type", "data")
	}
	return nil
}

func (s Source) validate(context string) error {
	switch s.Type {
	case SourceBase64, SourceText:
		if s.Data == "" {
			return goa.MissingFieldError("data", context)
		}
	case SourceURL:
		if s.URL == "" {
			return goa.MissingFieldError("url", context)
		}
	case SourceFileID:
		if s.FileID == "" {
			return goa.MissingFieldError("file_id", context)
		}
	case "":
		return goa.MissingFieldError("asset or source", context)
	default:
		return goa.InvalidEnumValueError(context+".type", s.Type, []any{SourceBase64, SourceURL, SourceFileID, SourceText})
	}
	return nil
}

// NewTextPart returns a text part.
func NewTextPart(text string) TextPart {
	return TextPart{Text: text}
}

// NewToolCallPart builds a validated tool call part.
func NewToolCallPart(id, name, arguments string) (ToolCallPart, error) {
	p := ToolCallPart{ID: id, Name: name, Arguments: arguments}
	if err := p.Validate(); err != nil {
		return ToolCallPart{}, err
	}
	return p, nil
}

// NewToolResultPart builds a validated tool result part.
func NewToolResultPart(toolCallID, text string, isError bool) (ToolResultPart, error) {
	p := ToolResultPart{ToolCallID: toolCallID, Text: text, IsError: isError}
	if err := p.Validate(); err != nil {
		return ToolResultPart{}, err
	}
	return p, nil
}

// NewImagePart builds a validated image part from a source.
func NewImagePart(src Source) (ImagePart, error) {
	p := ImagePart{Source: src}
	if err := p.Validate(); err != nil {
		return ImagePart{}, err
	}
	return p, nil
}

// NewFilePart builds a validated file part from a source.
func NewFilePart(filename string, src Source) (FilePart, error) {
	p := FilePart{Filename: filename, Source: src}
	if err := p.Validate(); err != nil {
		return FilePart{}, err
	}
	return p, nil
}

// IsPrivateKey reports whether key is a system key that must never reach a
// provider.
func IsPrivateKey(key string) bool {
	return len(key) > 4 && key[:2] == "__" && key[len(key)-2:] == "__"
}

// ExtraOf returns the Extra map of p.
func ExtraOf(p Part) map[string]any {
	switch v := p.(type) {
	case TextPart:
		return v.Extra
	case ImagePart:
		return v.Extra
	case AudioPart:
		return v.Extra
	case VideoPart:
		return v.Extra
	case FilePart:
		return v.Extra
	case ToolCallPart:
		return v.Extra
	case ToolResultPart:
		return v.Extra
	case ThinkingPart:
		return v.Extra
	case DataPart:
		return v.Extra
	}
	return nil
}

// ExtraBool returns the boolean stored under key in p's Extra map.
func ExtraBool(p Part, key string) bool {
	b, _ := ExtraOf(p)[key].(bool)
	return b
}

// ExtraString returns the string stored under key in p's Extra map.
func ExtraString(p Part, key string) string {
	s, _ := ExtraOf(p)[key].(string)
	return s
}

// ClonePart deep copies p.
func ClonePart(p Part) Part {
	switch v := p.(type) {
	case TextPart:
		v.CacheControl = cloneMap(v.CacheControl)
		v.Extra = cloneMap(v.Extra)
		return v
	case ImagePart:
		v.Asset = cloneAsset(v.Asset)
		v.CacheControl = cloneMap(v.CacheControl)
		v.Extra = cloneMap(v.Extra)
		return v
	case AudioPart:
		v.Asset = cloneAsset(v.Asset)
		v.Extra = cloneMap(v.Extra)
		return v
	case VideoPart:
		v.Asset = cloneAsset(v.Asset)
		v.Extra = cloneMap(v.Extra)
		return v
	case FilePart:
		v.Asset = cloneAsset(v.Asset)
		v.CacheControl = cloneMap(v.CacheControl)
		v.Extra = cloneMap(v.Extra)
		return v
	case ToolCallPart:
		v.CacheControl = cloneMap(v.CacheControl)
		v.Extra = cloneMap(v.Extra)
		return v
	case ToolResultPart:
		v.CacheControl = cloneMap(v.CacheControl)
		v.Extra = cloneMap(v.Extra)
		return v
	case ThinkingPart:
		v.Extra = cloneMap(v.Extra)
		return v
	case DataPart:
		v.Extra = cloneMap(v.Extra)
		return v
	}
	return p
}

func cloneAsset(a *Asset) *Asset {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

// CompactJSON returns raw compacted, or raw unchanged when it is not valid
// JSON.
func CompactJSON(raw []byte) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
