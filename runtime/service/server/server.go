// Package server exposes the service endpoints over HTTP using the goa
// muxer, request decoder and response encoder.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	goahttp "goa.design/goa/v3/http"
	goa "goa.design/goa/v3/pkg"

	"goa.design/acontext/runtime/convert"
	"goa.design/acontext/runtime/editing"
	"goa.design/acontext/runtime/message"
	"goa.design/acontext/runtime/retrieval"
	"goa.design/acontext/runtime/service"
	"goa.design/acontext/runtime/store"
)

type (
	// Server lists the mounted handlers.
	Server struct {
		Mounts []*MountPoint

		endpoints *service.Endpoints
		dec       func(*http.Request) goahttp.Decoder
		enc       func(context.Context, http.ResponseWriter) goahttp.Encoder
		eh        func(context.Context, http.ResponseWriter, error)
	}

	// MountPoint holds information about a mounted endpoint.
	MountPoint struct {
		Method  string
		Verb    string
		Pattern string
	}

	// ErrorBody is the JSON body written for failed requests.
	ErrorBody struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	}

	storeBody struct {
		Format message.Format  `json:"format"`
		Blob   json.RawMessage `json:"blob"`
		Meta   map[string]any  `json:"meta,omitempty"`
	}

	storeBatchBody struct {
		Format message.Format    `json:"format"`
		Blobs  []json.RawMessage `json:"blobs"`
		Meta   map[string]any    `json:"meta,omitempty"`
	}

	queryBody struct {
		Format                        message.Format     `json:"format"`
		EditStrategies                []editing.Strategy `json:"edit_strategies,omitempty"`
		Preset                        string             `json:"preset,omitempty"`
		PinEditingStrategiesAtMessage string             `json:"pin_editing_strategies_at_message,omitempty"`
		Order                         string             `json:"order,omitempty"`
		View                          string             `json:"view,omitempty"`
	}
)

// New returns a Server for e. eh is called with errors that could not be
// written to the client; it may be nil.
func New(
	e *service.Endpoints,
	dec func(*http.Request) goahttp.Decoder,
	enc func(context.Context, http.ResponseWriter) goahttp.Encoder,
	eh func(context.Context, http.ResponseWriter, error),
) *Server {
	if eh == nil {
		eh = func(context.Context, http.ResponseWriter, error) {}
	}
	return &Server{
		Mounts: []*MountPoint{
			{"StoreMessage", "POST", "/sessions/{session_id}/messages"},
			{"StoreMessages", "POST", "/sessions/{session_id}/messages/batch"},
			{"GetMessages", "GET", "/sessions/{session_id}/messages"},
			{"GetMessages", "POST", "/sessions/{session_id}/messages/query"},
		},
		endpoints: e,
		dec:       dec,
		enc:       enc,
		eh:        eh,
	}
}

// Mount configures the mux to serve the endpoints.
func Mount(mux goahttp.Muxer, s *Server) {
	mux.Handle("POST", "/sessions/{session_id}/messages", s.handle(mux, http.StatusCreated, s.endpoints.StoreMessage, decodeStore))
	mux.Handle("POST", "/sessions/{session_id}/messages/batch", s.handle(mux, http.StatusOK, s.endpoints.StoreMessages, decodeStoreBatch))
	mux.Handle("GET", "/sessions/{session_id}/messages", s.handle(mux, http.StatusOK, s.endpoints.GetMessages, decodeGetQuery))
	mux.Handle("POST", "/sessions/{session_id}/messages/query", s.handle(mux, http.StatusOK, s.endpoints.GetMessages, decodeGetBody))
}

type decodeFunc func(r *http.Request, dec goahttp.Decoder, sessionID string) (any, error)

func (s *Server) handle(mux goahttp.Muxer, status int, endpoint goa.Endpoint, decode decodeFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		req, err := decode(r, s.dec(r), mux.Vars(r)["session_id"])
		if err != nil {
			s.fail(ctx, w, goa.DecodePayloadError(err.Error()))
			return
		}
		res, err := endpoint(ctx, req)
		if err != nil {
			s.fail(ctx, w, err)
			return
		}
		w.WriteHeader(status)
		if err := s.enc(ctx, w).Encode(res); err != nil {
			s.eh(ctx, w, err)
		}
	}
}

func (s *Server) fail(ctx context.Context, w http.ResponseWriter, err error) {
	body := ErrorBody{Name: "internal", Message: err.Error()}
	status := StatusOf(err)
	var se *goa.ServiceError
	switch {
	case errors.As(err, &se):
		body.Name = se.Name
	case status == http.StatusBadRequest:
		body.Name = "invalid_request"
	case status == http.StatusNotFound:
		body.Name = "not_found"
	case status == http.StatusConflict:
		body.Name = "conflict"
	}
	w.WriteHeader(status)
	if encErr := s.enc(ctx, w).Encode(&body); encErr != nil {
		s.eh(ctx, w, encErr)
	}
	if status >= http.StatusInternalServerError {
		s.eh(ctx, w, err)
	}
}

// StatusOf maps service errors to HTTP status codes.
func StatusOf(err error) int {
	var (
		se *goa.ServiceError
		sv *editing.StrategyValidationError
	)
	switch {
	case errors.As(err, &se):
		if se.Fault {
			return http.StatusInternalServerError
		}
		return http.StatusBadRequest
	case message.IsFormatValidation(err),
		message.IsUnsupportedPartType(err),
		errors.Is(err, message.ErrUnknownFormat),
		errors.As(err, &sv),
		errors.Is(err, retrieval.ErrInvalidOrder),
		errors.Is(err, service.ErrUnknownPreset),
		errors.Is(err, service.ErrInvalidView),
		errors.Is(err, convert.ErrNoSDKParams):
		return http.StatusBadRequest
	case errors.Is(err, editing.ErrPinNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDuplicateMessage):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func decodeStore(_ *http.Request, dec goahttp.Decoder, sessionID string) (any, error) {
	var body storeBody
	if err := dec.Decode(&body); err != nil {
		return nil, err
	}
	return &service.StoreRequest{SessionID: sessionID, Format: body.Format, Blob: body.Blob, Meta: body.Meta}, nil
}

func decodeStoreBatch(_ *http.Request, dec goahttp.Decoder, sessionID string) (any, error) {
	var body storeBatchBody
	if err := dec.Decode(&body); err != nil {
		return nil, err
	}
	return &service.StoreBatchRequest{SessionID: sessionID, Format: body.Format, Blobs: body.Blobs, Meta: body.Meta}, nil
}

func decodeGetBody(_ *http.Request, dec goahttp.Decoder, sessionID string) (any, error) {
	var body queryBody
	if err := dec.Decode(&body); err != nil {
		return nil, err
	}
	return &service.GetRequest{
		SessionID:                     sessionID,
		Format:                        body.Format,
		EditStrategies:                body.EditStrategies,
		Preset:                        body.Preset,
		PinEditingStrategiesAtMessage: body.PinEditingStrategiesAtMessage,
		Order:                         body.Order,
		View:                          body.View,
	}, nil
}

// decodeGetQuery reads the query string. Strategies are given as a JSON
// array in edit_strategies.
func decodeGetQuery(r *http.Request, _ goahttp.Decoder, sessionID string) (any, error) {
	q := r.URL.Query()
	req := &service.GetRequest{
		SessionID:                     sessionID,
		Format:                        message.Format(strings.ToLower(q.Get("format"))),
		Preset:                        q.Get("preset"),
		PinEditingStrategiesAtMessage: q.Get("pin_editing_strategies_at_message"),
		Order:                         q.Get("order"),
		View:                          q.Get("view"),
	}
	if raw := q.Get("edit_strategies"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.EditStrategies); err != nil {
			return nil, err
		}
	}
	return req, nil
}
