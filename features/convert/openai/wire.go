package openai

import "encoding/json"

type (
	wireMessage struct {
		Role       string          `json:"role"`
		Content    json.RawMessage `json:"content,omitempty"`
		Name       string          `json:"name,omitempty"`
		Refusal    string          `json:"refusal,omitempty"`
		ToolCalls  []wireToolCall  `json:"tool_calls,omitempty"`
		ToolCallID string          `json:"tool_call_id,omitempty"`
	}

	wireToolCall struct {
		ID       string       `json:"id"`
		Type     string       `json:"type"`
		Function wireFunction `json:"function"`
	}

	wireFunction struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	}

	wireContentPart struct {
		Type       string          `json:"type"`
		Text       *string         `json:"text,omitempty"`
		Refusal    string          `json:"refusal,omitempty"`
		ImageURL   *wireImageURL   `json:"image_url,omitempty"`
		InputAudio *wireInputAudio `json:"input_audio,omitempty"`
		File       *wireFile       `json:"file,omitempty"`
	}

	wireImageURL struct {
		URL    string `json:"url"`
		Detail string `json:"detail,omitempty"`
	}

	wireInputAudio struct {
		Data   string `json:"data"`
		Format string `json:"format"`
	}

	wireFile struct {
		FileID   string `json:"file_id,omitempty"`
		FileData string `json:"file_data,omitempty"`
		Filename string `json:"filename,omitempty"`
	}
)

const (
	roleSystem    = "system"
	roleDeveloper = "developer"
	roleUser      = "user"
	roleAssistant = "assistant"
	roleTool      = "tool"
)

const (
	partText       = "text"
	partRefusal    = "refusal"
	partImageURL   = "image_url"
	partInputAudio = "input_audio"
	partFile       = "file"
)

// extraRefusalPart marks refusals sent as content parts rather than in the
// top-level refusal field.
const extraRefusalPart = "__refusal_part__"

func textPart(s string) wireContentPart {
	return wireContentPart{Type: partText, Text: &s}
}
