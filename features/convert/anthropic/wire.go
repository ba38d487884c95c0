package anthropic

import "encoding/json"

type (
	wireMessage struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}

	wireBlock struct {
		Type         string          `json:"type"`
		Text         string          `json:"text,omitempty"`
		Source       *wireSource     `json:"source,omitempty"`
		Title        string          `json:"title,omitempty"`
		Context      string          `json:"context,omitempty"`
		Citations    json.RawMessage `json:"citations,omitempty"`
		ID           string          `json:"id,omitempty"`
		Name         string          `json:"name,omitempty"`
		Input        json.RawMessage `json:"input,omitempty"`
		ToolUseID    string          `json:"tool_use_id,omitempty"`
		Content      json.RawMessage `json:"content,omitempty"`
		IsError      bool            `json:"is_error,omitempty"`
		Thinking     string          `json:"thinking,omitempty"`
		Signature    string          `json:"signature,omitempty"`
		Data         string          `json:"data,omitempty"`
		CacheControl map[string]any  `json:"cache_control,omitempty"`
	}

	wireSource struct {
		Type      string `json:"type"`
		MediaType string `json:"media_type,omitempty"`
		Data      string `json:"data,omitempty"`
		URL       string `json:"url,omitempty"`
		FileID    string `json:"file_id,omitempty"`
	}
)

const (
	blockText             = "text"
	blockImage            = "image"
	blockDocument         = "document"
	blockToolUse          = "tool_use"
	blockToolResult       = "tool_result"
	blockThinking         = "thinking"
	blockRedactedThinking = "redacted_thinking"
)

const (
	sourceBase64 = "base64"
	sourceText   = "text"
	sourceURL    = "url"
	sourceFile   = "file"
)

// Provider specific keys kept in part Extra.
const (
	extraCitations = "citations"
	extraContext   = "context"
	extraData      = "data"
)
