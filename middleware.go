package bidi

import "context"

// RequestFilter decides whether a pipeline's handler sees an intercepted
// request. Rejected requests are continued unmodified.
type RequestFilter func(params *BeforeRequestSentParameters) bool

// RequestHandler computes the continuation for an intercepted request.
// Returning ErrRequestHandled means the handler resolved the request itself.
type RequestHandler func(ctx context.Context, params *BeforeRequestSentParameters) (*ContinueRequestParameters, error)

// RequestMiddleware wraps a RequestHandler to add cross-cutting behavior.
type RequestMiddleware func(next RequestHandler) RequestHandler

// buildHandler applies middleware to h, first entry outermost.
func buildHandler(h RequestHandler, middleware []RequestMiddleware) RequestHandler {
	for i := len(middleware) - 1; i >= 0; i-- {
		h = middleware[i](h)
	}
	return h
}
