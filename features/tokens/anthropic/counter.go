// Package anthropic counts tokens with the Anthropic Messages count_tokens
// endpoint.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	convanthropic "goa.design/acontext/features/convert/anthropic"
	"goa.design/acontext/runtime/message"
	"goa.design/acontext/runtime/tokens"
)

type (
	// CountClient captures the subset of the Anthropic SDK client used by the
	// counter. It is satisfied by *sdk.MessageService.
	CountClient interface {
		CountTokens(ctx context.Context, body sdk.MessageCountTokensParams, opts ...option.RequestOption) (*sdk.MessageTokensCount, error)
	}

	// Counter implements tokens.Counter by asking Anthropic how many input
	// tokens the parts would consume in a single user turn.
	Counter struct {
		client CountClient
		model  string
	}
)

// New returns a Counter using client and model.
func New(client CountClient, model string) (*Counter, error) {
	if client == nil {
		return nil, errors.New("anthropic client is required")
	}
	if model == "" {
		return nil, errors.New("model identifier is required")
	}
	return &Counter{client: client, model: model}, nil
}

// NewFromAPIKey constructs a Counter using the default Anthropic HTTP client.
func NewFromAPIKey(apiKey, model string) (*Counter, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, model)
}

// Count implements tokens.Counter. Errors wrap tokens.ErrUnavailable and, on
// HTTP 429, tokens.ErrRateLimited.
func (c *Counter) Count(ctx context.Context, parts ...message.Part) (int, error) {
	m := &message.Message{Role: message.RoleUser, Parts: flatten(parts)}
	if len(m.Parts) == 0 {
		return 0, nil
	}
	params, err := convanthropic.MessageParams([]*message.Message{m})
	if err != nil {
		// Nothing countable survived rendering.
		return 0, nil
	}
	res, err := c.client.CountTokens(ctx, sdk.MessageCountTokensParams{
		Messages: params,
		Model:    sdk.Model(c.model),
	})
	if err != nil {
		if isRateLimited(err) {
			return 0, fmt.Errorf("%w: %w: %w", tokens.ErrUnavailable, tokens.ErrRateLimited, err)
		}
		return 0, fmt.Errorf("%w: anthropic count_tokens: %w", tokens.ErrUnavailable, err)
	}
	return int(res.InputTokens), nil
}

// flatten rewrites parts that only make sense inside a paired conversation
// into text carrying the same payload so they can be counted in isolation.
func flatten(parts []message.Part) []message.Part {
	out := make([]message.Part, 0, len(parts))
	for _, p := range parts {
		switch v := p.(type) {
		case nil:
		case message.ToolCallPart:
			out = append(out, message.NewTextPart(strings.TrimSpace(v.Name+" "+v.Arguments)))
		case message.ToolResultPart:
			out = append(out, message.NewTextPart(v.Text))
		case message.ThinkingPart:
			out = append(out, message.NewTextPart(v.Text))
		default:
			out = append(out, p)
		}
	}
	return out
}

func isRateLimited(err error) bool {
	var apiErr *sdk.Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}
