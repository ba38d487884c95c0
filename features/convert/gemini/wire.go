package gemini

import "encoding/json"

type (
	wireContent struct {
		Role  string     `json:"role,omitempty"`
		Parts []wirePart `json:"parts"`
	}

	wirePart struct {
		Text             *string               `json:"text,omitempty"`
		Thought          bool                  `json:"thought,omitempty"`
		ThoughtSignature string                `json:"thoughtSignature,omitempty"`
		InlineData       *wireBlob             `json:"inlineData,omitempty"`
		FileData         *wireFileData         `json:"fileData,omitempty"`
		FunctionCall     *wireFunctionCall     `json:"functionCall,omitempty"`
		FunctionResponse *wireFunctionResponse `json:"functionResponse,omitempty"`
	}

	wireBlob struct {
		MimeType string `json:"mimeType"`
		Data     string `json:"data"`
	}

	wireFileData struct {
		MimeType string `json:"mimeType,omitempty"`
		FileURI  string `json:"fileUri"`
	}

	wireFunctionCall struct {
		ID   string          `json:"id,omitempty"`
		Name string          `json:"name"`
		Args json.RawMessage `json:"args,omitempty"`
	}

	wireFunctionResponse struct {
		ID       string          `json:"id,omitempty"`
		Name     string          `json:"name"`
		Response json.RawMessage `json:"response"`
	}
)

const (
	roleUser  = "user"
	roleModel = "model"
)

// extraThoughtSignature keeps signatures Gemini attaches to non-thought
// parts.
const extraThoughtSignature = "thought_signature"

const (
	// extraNoArgs marks function calls sent without args so they are
	// re-emitted without them.
	extraNoArgs = "__no_args__"
	// metaKeyNoRole marks contents sent without a role.
	metaKeyNoRole = "__no_role__"
)

func text(s string) wirePart { return wirePart{Text: &s} }
