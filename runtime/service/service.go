// Package service implements the two boundary operations: storing provider
// messages in canonical form and retrieving a session in any supported
// format, optionally edited.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goa "goa.design/goa/v3/pkg"

	"goa.design/acontext/runtime/convert"
	"goa.design/acontext/runtime/editing"
	"goa.design/acontext/runtime/message"
	"goa.design/acontext/runtime/retrieval"
	"goa.design/acontext/runtime/store"
	"goa.design/acontext/runtime/telemetry"
)

type (
	// Options configures a Service.
	Options struct {
		// Store persists messages. Required.
		Store store.Store
		// Converters maps formats to converters. Required.
		Converters *convert.Registry
		// Pipeline edits histories on retrieval. Defaults to an editing
		// pipeline using the token estimator.
		Pipeline *editing.Pipeline
		// Presets are named strategy lists callers may refer to.
		Presets editing.Presets
		// Telemetry defaults to no-op collaborators.
		Telemetry telemetry.Set
		// Now returns the current time. Defaults to time.Now.
		Now func() time.Time
	}

	// Service implements StoreMessage, StoreMessages and GetMessages.
	Service struct {
		store      store.Store
		converters *convert.Registry
		assembler  *retrieval.Assembler
		presets    editing.Presets
		tel        telemetry.Set
		now        func() time.Time

		locksMu sync.Mutex
		locks   map[string]*sessionLock
	}

	// sessionLock serializes writes to one session. It is dropped once no
	// caller holds or waits for it.
	sessionLock struct {
		mu   sync.Mutex
		refs int
	}

	// StoreRequest is the payload of StoreMessage.
	StoreRequest struct {
		SessionID string          `json:"session_id"`
		Format    message.Format  `json:"format"`
		Blob      json.RawMessage `json:"blob"`
		Meta      map[string]any  `json:"meta,omitempty"`
	}

	// StoreBatchRequest is the payload of StoreMessages.
	StoreBatchRequest struct {
		SessionID string            `json:"session_id"`
		Format    message.Format    `json:"format"`
		Blobs     []json.RawMessage `json:"blobs"`
		Meta      map[string]any    `json:"meta,omitempty"`
	}

	// BatchError reports why one blob of a batch was rejected.
	BatchError struct {
		Index int   `json:"index"`
		Err   error `json:"-"`
	}

	// BatchResult is the outcome of StoreMessages.
	BatchResult struct {
		Stored []*message.Message `json:"stored"`
		Errors []BatchError       `json:"errors,omitempty"`
	}

	// GetRequest is the payload of GetMessages.
	GetRequest struct {
		SessionID string         `json:"session_id"`
		Format    message.Format `json:"format"`
		// EditStrategies run in order, token_limit last.
		EditStrategies []editing.Strategy `json:"edit_strategies,omitempty"`
		// Preset names a configured strategy list. Its strategies run
		// before EditStrategies.
		Preset string `json:"preset,omitempty"`
		// PinEditingStrategiesAtMessage restricts editing to the messages
		// up to and including this id.
		PinEditingStrategiesAtMessage string `json:"pin_editing_strategies_at_message,omitempty"`
		// Order is "asc" or "desc"; empty means desc.
		Order string `json:"order,omitempty"`
		// View is ViewWire (the default) or ViewSDK.
		View string `json:"view,omitempty"`
	}

	// GetResponse is the result of GetMessages.
	GetResponse struct {
		Items           []json.RawMessage `json:"items"`
		Params          any               `json:"params,omitempty"`
		EditAtMessageID string            `json:"edit_at_message_id,omitempty"`
		Order           retrieval.Order   `json:"order"`
	}
)

const (
	// ViewWire returns provider wire blobs in GetResponse.Items.
	ViewWire = "wire"
	// ViewSDK returns typed provider SDK request parameters in
	// GetResponse.Params, always oldest first.
	ViewSDK = "sdk"
)

var (
	// ErrUnknownPreset is returned when GetRequest.Preset names no preset.
	ErrUnknownPreset = errors.New("unknown edit strategy preset")
	// ErrInvalidView is returned for a view other than wire or sdk.
	ErrInvalidView = errors.New("invalid view")
)

// New returns a Service.
func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Converters == nil {
		return nil, errors.New("converters are required")
	}
	tel := opts.Telemetry.WithDefaults()
	pipeline := opts.Pipeline
	if pipeline == nil {
		pipeline = editing.New(nil, editing.WithTelemetry(tel))
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:      opts.Store,
		converters: opts.Converters,
		assembler:  retrieval.New(opts.Converters, pipeline, tel),
		presets:    opts.Presets,
		tel:        tel,
		now:        now,
		locks:      make(map[string]*sessionLock),
	}, nil
}

// Error implements error.
func (e BatchError) Error() string {
	return fmt.Sprintf("blobs[%d]: %v", e.Index, e.Err)
}

// Unwrap returns the underlying error.
func (e BatchError) Unwrap() error { return e.Err }

// MarshalJSON renders the error message.
func (e BatchError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Index int    `json:"index"`
		Error string `json:"error"`
	}{e.Index, e.Err.Error()})
}

// StoreMessage decodes req.Blob and appends it to the session. The stored
// message is returned.
func (s *Service) StoreMessage(ctx context.Context, req *StoreRequest) (*message.Message, error) {
	if err := validateSession(req.SessionID, req.Format); err != nil {
		return nil, err
	}
	res, err := s.StoreMessages(ctx, &StoreBatchRequest{
		SessionID: req.SessionID,
		Format:    req.Format,
		Blobs:     []json.RawMessage{req.Blob},
		Meta:      req.Meta,
	})
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, res.Errors[0].Err
	}
	return res.Stored[0], nil
}

// StoreMessages decodes every blob and appends the valid ones to the
// session in order. Invalid blobs are reported in BatchResult.Errors and do
// not prevent the others from being stored.
func (s *Service) StoreMessages(ctx context.Context, req *StoreBatchRequest) (*BatchResult, error) {
	if err := validateSession(req.SessionID, req.Format); err != nil {
		return nil, err
	}
	if _, err := s.converters.Lookup(req.Format); err != nil {
		return nil, err
	}
	unlock := s.lock(req.SessionID)
	defer unlock()

	history, err := s.store.List(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", req.SessionID, err)
	}
	var (
		res  = &BatchResult{}
		last *message.Message
	)
	if len(history) > 0 {
		last = history[len(history)-1]
	}
	for i, blob := range req.Blobs {
		m, err := s.converters.ToCanonical(req.Format, blob, len(history))
		if err != nil {
			res.Errors = append(res.Errors, BatchError{Index: i, Err: err})
			s.tel.Logger.Warn(ctx, "rejected message", "session_id", req.SessionID, "format", string(req.Format), "index", i, "err", err)
			s.tel.Metrics.IncCounter(telemetry.MetricMessagesRejected, 1, "format", string(req.Format))
			continue
		}
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("generate message id: %w", err)
		}
		m.ID = id.String()
		m.SessionID = req.SessionID
		m.CreatedAt = s.timestamp(last)
		if last != nil {
			m.ParentID = last.ID
		}
		m.WrapUserMeta(req.Meta)
		message.LinkToolResults(history, m)
		history = append(history, m)
		res.Stored = append(res.Stored, m)
		last = m
	}
	if len(res.Stored) == 0 {
		return res, nil
	}
	if err := s.store.Append(ctx, req.SessionID, res.Stored...); err != nil {
		return nil, fmt.Errorf("store session %s: %w", req.SessionID, err)
	}
	s.tel.Metrics.IncCounter(telemetry.MetricMessagesStored, float64(len(res.Stored)), "format", string(req.Format))
	s.tel.Logger.Debug(ctx, "stored messages", "session_id", req.SessionID, "format", string(req.Format),
		"stored", len(res.Stored), "rejected", len(res.Errors))
	return res, nil
}

// GetMessages loads the session, edits it and converts it to req.Format.
func (s *Service) GetMessages(ctx context.Context, req *GetRequest) (*GetResponse, error) {
	if err := validateSession(req.SessionID, req.Format); err != nil {
		return nil, err
	}
	order, err := retrieval.ParseOrder(req.Order)
	if err != nil {
		return nil, err
	}
	if req.View != "" && req.View != ViewWire && req.View != ViewSDK {
		return nil, fmt.Errorf("%w %q: must be %q or %q", ErrInvalidView, req.View, ViewWire, ViewSDK)
	}
	strategies := req.EditStrategies
	if req.Preset != "" {
		preset, ok := s.presets.Lookup(req.Preset)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownPreset, req.Preset)
		}
		strategies = append(append([]editing.Strategy{}, preset...), strategies...)
	}
	if err := editing.Validate(strategies); err != nil {
		return nil, err
	}
	msgs, err := s.store.List(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", req.SessionID, err)
	}
	resp, err := s.assembler.Get(ctx, retrieval.Request{
		Messages:   msgs,
		Format:     req.Format,
		Strategies: strategies,
		PinAt:      req.PinEditingStrategiesAtMessage,
		Order:      order,
		SDKParams:  req.View == ViewSDK,
	})
	if err != nil {
		return nil, err
	}
	items := resp.Blobs
	if items == nil {
		items = []json.RawMessage{}
	}
	return &GetResponse{Items: items, Params: resp.Params, EditAtMessageID: resp.EditAtMessageID, Order: resp.Order}, nil
}

// timestamp returns the creation time of a new message, strictly after the
// previous one so chronological order matches insertion order.
func (s *Service) timestamp(last *message.Message) time.Time {
	now := s.now().UTC()
	if last != nil && !now.After(last.CreatedAt) {
		now = last.CreatedAt.Add(time.Microsecond)
	}
	return now
}

func (s *Service) lock(sessionID string) func() {
	s.locksMu.Lock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sessionLock{}
		s.locks[sessionID] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		defer s.locksMu.Unlock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, sessionID)
		}
	}
}

func validateSession(sessionID string, format message.Format) error {
	var err error
	if sessionID == "" {
		err = goa.MergeErrors(err, goa.MissingFieldError("session_id", "request"))
	}
	if format == "" {
		err = goa.MergeErrors(err, goa.MissingFieldError("format", "request"))
	}
	return err
}
