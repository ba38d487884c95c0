// Package convert defines the contract implemented by wire format converters
// and a registry resolving format names to converters.
//
// A converter turns one provider blob into a canonical message and rebuilds
// provider blobs from canonical messages. Converters are stateless and safe
// for concurrent use.
package convert

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"goa.design/acontext/runtime/message"
)

type (
	// Converter translates between one wire format and the canonical model.
	Converter interface {
		// Format returns the wire format handled by the converter.
		Format() message.Format
		// ToCanonical decodes one provider message. seq is the position of
		// the message in its session and is used to synthesize
		// deterministic ids the provider omitted.
		ToCanonical(blob json.RawMessage, seq int) (*message.Message, error)
		// FromCanonical encodes m in the provider format. Some formats need
		// several provider messages to represent one canonical message.
		FromCanonical(m *message.Message) ([]json.RawMessage, error)
	}

	// SDKRenderer is implemented by converters that can also render
	// messages as the typed request parameters of the provider SDK.
	SDKRenderer interface {
		SDKParams(msgs []*message.Message) (any, error)
	}

	// Registry maps formats to converters.
	Registry struct {
		mu         sync.RWMutex
		converters map[message.Format]Converter
	}
)

// ErrNoSDKParams is returned when the converter of a format has no SDK
// parameter view.
var ErrNoSDKParams = errors.New("format has no SDK parameter view")

// NewRegistry returns a registry holding the given converters.
func NewRegistry(converters ...Converter) *Registry {
	r := &Registry{converters: make(map[message.Format]Converter)}
	for _, c := range converters {
		r.Register(c)
	}
	return r
}

// Register adds or replaces the converter for c.Format().
func (r *Registry) Register(c Converter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.converters[c.Format()] = c
}

// Lookup returns the converter registered for f.
func (r *Registry) Lookup(f message.Format) (Converter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.converters[f]
	if !ok {
		return nil, fmt.Errorf("%w: %q", message.ErrUnknownFormat, f)
	}
	return c, nil
}

// Formats lists registered formats in lexical order.
func (r *Registry) Formats() []message.Format {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]message.Format, 0, len(r.converters))
	for f := range r.converters {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ToCanonical decodes blob using the converter registered for f and stamps
// the source format on the result.
func (r *Registry) ToCanonical(f message.Format, blob json.RawMessage, seq int) (*message.Message, error) {
	c, err := r.Lookup(f)
	if err != nil {
		return nil, err
	}
	m, err := c.ToCanonical(blob, seq)
	if err != nil {
		return nil, err
	}
	m.SetMeta(message.MetaKeySourceFormat, string(f))
	return m, nil
}

// FromCanonical encodes msgs in order using the converter registered for f.
func (r *Registry) FromCanonical(f message.Format, msgs []*message.Message) ([]json.RawMessage, error) {
	c, err := r.Lookup(f)
	if err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, 0, len(msgs))
	for i, m := range msgs {
		blobs, err := c.FromCanonical(m)
		if err != nil {
			return nil, fmt.Errorf("message %d (%s): %w", i, m.ID, err)
		}
		out = append(out, blobs...)
	}
	return out, nil
}

// SDKRenderer returns the SDK renderer of the converter registered for f.
func (r *Registry) SDKRenderer(f message.Format) (SDKRenderer, error) {
	c, err := r.Lookup(f)
	if err != nil {
		return nil, err
	}
	sr, ok := c.(SDKRenderer)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoSDKParams, f)
	}
	return sr, nil
}
