package service

import (
	"context"

	goa "goa.design/goa/v3/pkg"
)

// Endpoints wraps the service methods in goa endpoints so transport layers
// and middleware (logging, payload debugging) can be composed around them.
type Endpoints struct {
	StoreMessage  goa.Endpoint
	StoreMessages goa.Endpoint
	GetMessages   goa.Endpoint
}

// NewEndpoints wraps the methods of s.
func NewEndpoints(s *Service) *Endpoints {
	return &Endpoints{
		StoreMessage:  NewStoreMessageEndpoint(s),
		StoreMessages: NewStoreMessagesEndpoint(s),
		GetMessages:   NewGetMessagesEndpoint(s),
	}
}

// Use applies the given middleware to all the endpoints.
func (e *Endpoints) Use(m func(goa.Endpoint) goa.Endpoint) {
	e.StoreMessage = m(e.StoreMessage)
	e.StoreMessages = m(e.StoreMessages)
	e.GetMessages = m(e.GetMessages)
}

// NewStoreMessageEndpoint returns an endpoint calling StoreMessage with a
// *StoreRequest.
func NewStoreMessageEndpoint(s *Service) goa.Endpoint {
	return func(ctx context.Context, req any) (any, error) {
		p := req.(*StoreRequest)
		return s.StoreMessage(ctx, p)
	}
}

// NewStoreMessagesEndpoint returns an endpoint calling StoreMessages with a
// *StoreBatchRequest.
func NewStoreMessagesEndpoint(s *Service) goa.Endpoint {
	return func(ctx context.Context, req any) (any, error) {
		p := req.(*StoreBatchRequest)
		return s.StoreMessages(ctx, p)
	}
}

// NewGetMessagesEndpoint returns an endpoint calling GetMessages with a
// *GetRequest.
func NewGetMessagesEndpoint(s *Service) goa.Endpoint {
	return func(ctx context.Context, req any) (any, error) {
		p := req.(*GetRequest)
		return s.GetMessages(ctx, p)
	}
}
