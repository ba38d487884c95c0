// Package retrieval assembles the read path: it orders a session history,
// runs the edit pipeline over it and converts the result into the requested
// wire format.
package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"goa.design/acontext/runtime/convert"
	"goa.design/acontext/runtime/editing"
	"goa.design/acontext/runtime/message"
	"goa.design/acontext/runtime/telemetry"
)

type (
	// Order selects the order of the returned blobs.
	Order string

	// Request describes one retrieval.
	Request struct {
		// Messages is the session history. It is sorted by creation time
		// before editing; ties keep their relative order.
		Messages []*message.Message
		// Format is the wire format of the returned blobs.
		Format message.Format
		// Strategies are applied in order, token_limit last.
		Strategies []editing.Strategy
		// PinAt restricts editing to the messages up to and including this
		// id.
		PinAt string
		// Order of the returned blobs. Defaults to DefaultOrder.
		Order Order
		// SDKParams requests the typed provider SDK parameters in
		// Response.Params instead of wire blobs. SDK parameters are always
		// chronological.
		SDKParams bool
	}

	// Response is the outcome of a retrieval.
	Response struct {
		// Blobs are the converted messages in Order. A message converted to
		// several blobs (OpenAI tool results) contributes them in Order as
		// well, so a desc list is reverse chronological blob by blob.
		Blobs []json.RawMessage
		// Params holds the provider SDK parameters when requested, for
		// example []openai.ChatCompletionMessageParamUnion.
		Params any
		// Messages are the edited canonical messages in Order.
		Messages []*message.Message
		// EditAtMessageID is the effective pin. Callers echo it back on the
		// next call to keep the edited prefix stable.
		EditAtMessageID string
		// Order is the order actually used.
		Order Order
	}

	// Assembler runs retrievals. It is safe for concurrent use.
	Assembler struct {
		converters *convert.Registry
		pipeline   *editing.Pipeline
		tel        telemetry.Set
	}
)

const (
	// OrderAsc returns the oldest message first.
	OrderAsc Order = "asc"
	// OrderDesc returns the newest message first.
	OrderDesc Order = "desc"
	// DefaultOrder is used when a request leaves Order empty.
	DefaultOrder = OrderDesc
)

// ErrInvalidOrder is returned for an order other than asc or desc.
var ErrInvalidOrder = errors.New("invalid order")

// ParseOrder parses s, mapping the empty string to DefaultOrder.
func ParseOrder(s string) (Order, error) {
	switch Order(s) {
	case "":
		return DefaultOrder, nil
	case OrderAsc, OrderDesc:
		return Order(s), nil
	}
	return "", fmt.Errorf("%w %q: must be %q or %q", ErrInvalidOrder, s, OrderAsc, OrderDesc)
}

// New returns an Assembler converting with converters and editing with
// pipeline.
func New(converters *convert.Registry, pipeline *editing.Pipeline, tel telemetry.Set) *Assembler {
	return &Assembler{converters: converters, pipeline: pipeline, tel: tel.WithDefaults()}
}

// Get edits and converts req.Messages. Strategy, pin, order and format
// errors are returned before any conversion happens.
func (a *Assembler) Get(ctx context.Context, req Request) (resp Response, err error) {
	start := time.Now()
	ctx, span := a.tel.Tracer.Start(ctx, "retrieval.get", trace.WithAttributes(
		attribute.String("acontext.format", string(req.Format)),
		attribute.Int("acontext.messages", len(req.Messages)),
		attribute.Int("acontext.strategies", len(req.Strategies)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		a.tel.Metrics.IncCounter(telemetry.MetricRetrievals, 1, "format", string(req.Format), "ok", fmt.Sprint(err == nil))
		a.tel.Metrics.RecordTimer(telemetry.MetricRetrievalDuration, time.Since(start), "format", string(req.Format))
	}()

	order, err := ParseOrder(string(req.Order))
	if err != nil {
		return Response{}, err
	}
	if req.SDKParams {
		order = OrderAsc
		if _, err := a.converters.SDKRenderer(req.Format); err != nil {
			return Response{}, err
		}
	} else if _, err := a.converters.Lookup(req.Format); err != nil {
		return Response{}, err
	}

	msgs := slices.DeleteFunc(slices.Clone(req.Messages), func(m *message.Message) bool { return m == nil })
	slices.SortStableFunc(msgs, func(x, y *message.Message) int {
		return x.CreatedAt.Compare(y.CreatedAt)
	})
	edited, err := a.pipeline.Apply(ctx, msgs, req.Strategies, req.PinAt)
	if err != nil {
		return Response{}, err
	}
	span.AddEvent("edited", "removed", edited.Removed, "pin", edited.EffectivePin)

	out := edited.Messages
	var (
		blobs  []json.RawMessage
		params any
	)
	if req.SDKParams {
		sr, _ := a.converters.SDKRenderer(req.Format)
		if params, err = sr.SDKParams(out); err != nil {
			return Response{}, err
		}
	} else if blobs, err = a.converters.FromCanonical(req.Format, out); err != nil {
		return Response{}, err
	}
	if order == OrderDesc {
		slices.Reverse(out)
		slices.Reverse(blobs)
	}
	a.tel.Logger.Debug(ctx, "retrieved messages",
		"format", string(req.Format),
		"messages", len(out),
		"removed", edited.Removed,
		"strategies", len(req.Strategies),
		"edit_at_message_id", edited.EffectivePin)
	return Response{
		Blobs:           blobs,
		Params:          params,
		Messages:        out,
		EditAtMessageID: edited.EffectivePin,
		Order:           order,
	}, nil
}
