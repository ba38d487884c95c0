// Package editing implements the read-time context editing pipeline. A
// pipeline derives a trimmed view of a session history from an ordered list
// of strategies. Stored messages are never modified: every edit happens on
// clones.
//
// When a pin message id is supplied only the messages up to and including
// the pin are edited and the rest pass through unchanged. As long as the pin
// does not move backward between calls, the edited prefix (and therefore
// the provider prompt cache prefix) stays byte-identical.
package editing

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"goa.design/acontext/runtime/message"
	"goa.design/acontext/runtime/telemetry"
	"goa.design/acontext/runtime/tokens"
)

type (
	// Pipeline applies edit strategies to message histories. It holds no
	// per-request state and is safe for concurrent use.
	Pipeline struct {
		counter tokens.Counter
		tel     telemetry.Set
	}

	// Option configures a Pipeline.
	Option func(*Pipeline)

	// Result is the outcome of Apply.
	Result struct {
		// Messages is the edited view: the edited prefix followed by the
		// untouched suffix.
		Messages []*message.Message
		// EffectivePin is the id of the last edited message: the supplied
		// pin, or the id of the last message when none was supplied. It is
		// empty when there were no messages.
		EffectivePin string
		// Removed counts messages dropped from the view.
		Removed int
	}

	// region is the editable prefix being transformed by the strategies.
	region struct {
		p    *Pipeline
		msgs []*message.Message
	}
)

// ErrPinNotFound is returned when the pin message id is not part of the
// history.
var ErrPinNotFound = errors.New("pin message not found")

// WithTelemetry sets the logger, metrics and tracer used by the pipeline.
func WithTelemetry(tel telemetry.Set) Option {
	return func(p *Pipeline) { p.tel = tel }
}

// New returns a pipeline counting tokens with counter. A nil counter uses
// tokens.NewEstimator.
func New(counter tokens.Counter, opts ...Option) *Pipeline {
	if counter == nil {
		counter = tokens.NewEstimator()
	}
	p := &Pipeline{counter: counter}
	for _, o := range opts {
		o(p)
	}
	p.tel = p.tel.WithDefaults()
	return p
}

// Apply validates strategies then runs them over msgs in order, except that
// token_limit strategies always run last. msgs must be in chronological
// order and is never modified. pinAt, when not empty, restricts editing to
// the messages up to and including that id.
func (p *Pipeline) Apply(ctx context.Context, msgs []*message.Message, strategies []Strategy, pinAt string) (Result, error) {
	steps, err := compile(strategies)
	if err != nil {
		return Result{}, err
	}
	cut := len(msgs)
	if pinAt != "" {
		cut = -1
		for i, m := range msgs {
			if m != nil && m.ID == pinAt {
				cut = i + 1
				break
			}
		}
		if cut < 0 {
			return Result{}, fmt.Errorf("%w: %s", ErrPinNotFound, pinAt)
		}
	}
	res := Result{EffectivePin: pinAt}
	if res.EffectivePin == "" && len(msgs) > 0 && msgs[len(msgs)-1] != nil {
		res.EffectivePin = msgs[len(msgs)-1].ID
	}

	r := &region{p: p, msgs: slices.DeleteFunc(message.CloneAll(msgs[:cut]), isNil)}
	before := len(r.msgs)
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		r.run(ctx, s)
	}
	res.Removed = before - len(r.msgs)
	res.Messages = append(r.msgs, message.CloneAll(msgs[cut:])...)
	if res.Removed > 0 {
		p.tel.Metrics.IncCounter(telemetry.MetricStrategyRemoved, float64(res.Removed))
	}
	return res, nil
}

func (r *region) run(ctx context.Context, s step) {
	switch params := s.params.(type) {
	case RemoveToolResultParams:
		r.removeToolResults(ctx, params)
	case RemoveToolCallParamsParams:
		r.removeToolCallParams(ctx, params)
	case MiddleOutParams:
		r.middleOut(ctx, params)
	case TokenLimitParams:
		r.tokenLimit(ctx, params)
	}
}

// partTokens counts the tokens of one part. Counter failures count as zero
// so retrieval keeps working in degraded mode.
func (r *region) partTokens(ctx context.Context, part message.Part) int {
	n, err := r.p.counter.Count(ctx, part)
	if err != nil {
		r.p.tel.Logger.Warn(ctx, "token counter unavailable, counting part as zero",
			"part_type", string(part.Type()), "err", err)
		r.p.tel.Metrics.IncCounter(telemetry.MetricTokenCounterError, 1, "part_type", string(part.Type()))
		return 0
	}
	return n
}

func (r *region) messageTokens(ctx context.Context, m *message.Message) int {
	total := 0
	for _, part := range m.Parts {
		total += r.partTokens(ctx, part)
	}
	return total
}

func (r *region) messageCosts(ctx context.Context) ([]int, int) {
	costs := make([]int, len(r.msgs))
	total := 0
	for i, m := range r.msgs {
		costs[i] = r.messageTokens(ctx, m)
		total += costs[i]
	}
	return costs, total
}

func isNil(m *message.Message) bool { return m == nil }
