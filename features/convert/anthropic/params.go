package anthropic

import (
	"encoding/json"
	"errors"

	sdk "github.com/anthropics/anthropic-sdk-go"

	"goa.design/acontext/runtime/convert"
	"goa.design/acontext/runtime/message"
)

// SDKParams implements convert.SDKRenderer.
func (Converter) SDKParams(msgs []*message.Message) (any, error) {
	return MessageParams(msgs)
}

// MessageParams renders canonical messages as typed SDK message parameters.
// Messages left without any block are skipped.
func MessageParams(msgs []*message.Message) ([]sdk.MessageParam, error) {
	conversation := make([]sdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		same := convert.SameSource(m, message.FormatAnthropic)
		blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch v := part.(type) {
			case message.TextPart:
				if v.Text != "" {
					blocks = append(blocks, sdk.NewTextBlock(v.Text))
				}
			case message.ToolCallPart:
				if m.Role != message.RoleAssistant {
					blocks = append(blocks, sdk.NewTextBlock(convert.Placeholder(v)))
					continue
				}
				blocks = append(blocks, sdk.NewToolUseBlock(v.ID, json.RawMessage(convert.ArgumentsObject(v.Arguments)), v.Name))
			case message.ToolResultPart:
				if m.Role != message.RoleUser {
					blocks = append(blocks, sdk.NewTextBlock(v.Text))
					continue
				}
				blocks = append(blocks, sdk.NewToolResultBlock(v.ToolCallID, v.Text, v.IsError))
			case message.ImagePart:
				if v.Source.Type == message.SourceBase64 {
					blocks = append(blocks, sdk.NewImageBlockBase64(v.Source.MediaType, v.Source.Data))
					continue
				}
				blocks = append(blocks, sdk.NewTextBlock(convert.Placeholder(v)))
			case message.ThinkingPart:
				if same && v.Signature != "" {
					blocks = append(blocks, sdk.NewThinkingBlock(v.Signature, v.Text))
				}
			case message.DataPart:
				if v.DataType == DataTypeRedactedThinking {
					if data, ok := v.Extra[extraData].(string); ok && same {
						blocks = append(blocks, sdk.NewRedactedThinkingBlock(data))
					}
					continue
				}
				blocks = append(blocks, sdk.NewTextBlock(convert.Placeholder(v)))
			default:
				blocks = append(blocks, sdk.NewTextBlock(convert.Placeholder(v)))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		if m.Role == message.RoleAssistant {
			conversation = append(conversation, sdk.NewAssistantMessage(blocks...))
		} else {
			conversation = append(conversation, sdk.NewUserMessage(blocks...))
		}
	}
	if len(conversation) == 0 {
		return nil, errors.New("anthropic: at least one non-empty message is required")
	}
	return conversation, nil
}
