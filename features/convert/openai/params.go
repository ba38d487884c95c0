package openai

import (
	"fmt"

	sdk "github.com/openai/openai-go"

	"goa.design/acontext/runtime/convert"
	"goa.design/acontext/runtime/message"
)

// SDKParams implements convert.SDKRenderer.
func (Converter) SDKParams(msgs []*message.Message) (any, error) {
	return Params(msgs)
}

// Params renders canonical messages as typed openai-go request parameters so
// callers can hand a retrieved conversation straight to the SDK client.
func Params(msgs []*message.Message) ([]sdk.ChatCompletionMessageParamUnion, error) {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == message.RoleAssistant {
			p, ok := assistantParam(m)
			if ok {
				out = append(out, p)
			}
			continue
		}
		var group []sdk.ChatCompletionContentPartUnionParam
		var role string
		flush := func() {
			if len(group) == 0 {
				return
			}
			switch role {
			case roleSystem:
				out = append(out, sdk.SystemMessage(joinParams(group)))
			case roleDeveloper:
				out = append(out, sdk.DeveloperMessage(joinParams(group)))
			default:
				if len(group) == 1 && group[0].GetText() != nil {
					out = append(out, sdk.UserMessage(*group[0].GetText()))
				} else {
					out = append(out, sdk.UserMessage(group))
				}
			}
			group = nil
		}
		for _, p := range m.Parts {
			switch v := p.(type) {
			case message.ToolResultPart:
				flush()
				out = append(out, sdk.ToolMessage(v.Text, v.ToolCallID))
			case message.ThinkingPart:
			default:
				role = message.ExtraString(p, message.ExtraSourceRole)
				cp, err := contentParam(p)
				if err != nil {
					return nil, err
				}
				group = append(group, cp)
			}
		}
		flush()
	}
	return out, nil
}

func assistantParam(m *message.Message) (sdk.ChatCompletionMessageParamUnion, bool) {
	var (
		text, refusal string
		calls         []sdk.ChatCompletionMessageToolCallParam
	)
	for _, p := range m.Parts {
		switch v := p.(type) {
		case message.TextPart:
			if v.IsRefusal {
				refusal += v.Text
				continue
			}
			text += v.Text
		case message.ToolCallPart:
			calls = append(calls, sdk.ChatCompletionMessageToolCallParam{
				ID: v.ID,
				Function: sdk.ChatCompletionMessageToolCallFunctionParam{
					Name:      v.Name,
					Arguments: v.Arguments,
				},
			})
		}
	}
	if len(calls) == 0 && refusal == "" {
		if text == "" {
			return sdk.ChatCompletionMessageParamUnion{}, false
		}
		return sdk.AssistantMessage(text), true
	}
	assistant := sdk.ChatCompletionAssistantMessageParam{ToolCalls: calls}
	if text != "" {
		assistant.Content = sdk.ChatCompletionAssistantMessageParamContentUnion{OfString: sdk.String(text)}
	}
	if refusal != "" {
		assistant.Refusal = sdk.String(refusal)
	}
	return sdk.ChatCompletionMessageParamUnion{OfAssistant: &assistant}, true
}

func contentParam(p message.Part) (sdk.ChatCompletionContentPartUnionParam, error) {
	switch v := p.(type) {
	case message.TextPart:
		return sdk.TextContentPart(v.Text), nil
	case message.ImagePart:
		if u := convert.SourceURL(v.Source); u != "" {
			return sdk.ImageContentPart(sdk.ChatCompletionContentPartImageImageURLParam{URL: u, Detail: v.Detail}), nil
		}
	case message.AudioPart:
		if v.Data != "" {
			return sdk.InputAudioContentPart(sdk.ChatCompletionContentPartInputAudioInputAudioParam{Data: v.Data, Format: v.Format}), nil
		}
	case message.FilePart:
		file := sdk.ChatCompletionContentPartFileFileParam{}
		if v.Filename != "" {
			file.Filename = sdk.String(v.Filename)
		}
		switch v.Source.Type {
		case message.SourceFileID:
			file.FileID = sdk.String(v.Source.FileID)
			return sdk.FileContentPart(file), nil
		case message.SourceBase64:
			data := v.Source.Data
			if v.Source.MediaType != "" {
				data = convert.DataURL(v.Source.MediaType, data)
			}
			file.FileData = sdk.String(data)
			return sdk.FileContentPart(file), nil
		case message.SourceText:
			return sdk.TextContentPart(v.Source.Data), nil
		}
	case message.VideoPart, message.DataPart, message.ToolCallPart:
	default:
		return sdk.ChatCompletionContentPartUnionParam{}, &message.UnsupportedPartTypeError{Format: message.FormatOpenAI, Type: fmt.Sprintf("%T", p)}
	}
	return sdk.TextContentPart(convert.Placeholder(p)), nil
}

func joinParams(group []sdk.ChatCompletionContentPartUnionParam) string {
	var text string
	for _, p := range group {
		if t := p.GetText(); t != nil {
			text += *t
		}
	}
	return text
}
