package bidi

import (
	"context"
	"errors"
	"strings"
)

// DefaultRequestHandler continues the request unmodified.
func DefaultRequestHandler(_ context.Context, p *BeforeRequestSentParameters) (*ContinueRequestParameters, error) {
	return defaultContinuation(p), nil
}

// Redirect continues the request against url instead.
func Redirect(url string) RequestHandler {
	return func(_ context.Context, p *BeforeRequestSentParameters) (*ContinueRequestParameters, error) {
		return &ContinueRequestParameters{Request: p.Request.Request, URL: url}, nil
	}
}

// SetHeader continues the request with header name set to value, replacing
// any existing header of that name.
func SetHeader(name, value string) RequestHandler {
	return func(_ context.Context, p *BeforeRequestSentParameters) (*ContinueRequestParameters, error) {
		headers := make([]Header, 0, len(p.Request.Headers)+1)
		for _, h := range p.Request.Headers {
			if !strings.EqualFold(h.Name, name) {
				headers = append(headers, h)
			}
		}
		headers = append(headers, Header{Name: name, Value: StringValue(value)})
		return &ContinueRequestParameters{Request: p.Request.Request, Headers: headers}, nil
	}
}

// Fail fails the request with a network error.
func Fail() RequestHandler {
	return func(ctx context.Context, p *BeforeRequestSentParameters) (*ContinueRequestParameters, error) {
		return resolve(ctx, &FailRequestParameters{Request: p.Request.Request})
	}
}

// Respond completes the request with the given status and body without
// contacting the server.
func Respond(status int, body string, headers ...Header) RequestHandler {
	return func(ctx context.Context, p *BeforeRequestSentParameters) (*ContinueRequestParameters, error) {
		params := &ProvideResponseParameters{
			Request:    p.Request.Request,
			Headers:    headers,
			StatusCode: Some(status),
		}
		if body != "" {
			b := StringValue(body)
			params.Body = &b
		}
		return resolve(ctx, params)
	}
}

// errDecisionExpired is returned by resolving handlers that run past
// HandlerTimeout; the request has already been continued.
var errDecisionExpired = errors.New("bidi: request already continued after handler timeout")

// resolve issues cmd on the delivering session and reports the request as
// handled. Inside a dispatch the command is only sent if the decision has
// not expired, and it is awaited past HandlerTimeout once sent.
func resolve(ctx context.Context, cmd Command) (*ContinueRequestParameters, error) {
	s := SessionFromContext(ctx)
	if s == nil {
		return nil, errors.New("bidi: no session in handler context")
	}
	if r := resolutionFromContext(ctx); r != nil {
		if !r.claim() {
			return nil, errDecisionExpired
		}
		ctx = context.WithoutCancel(ctx)
	}
	if _, err := s.Invoke(ctx, cmd); err != nil {
		return nil, err
	}
	return nil, ErrRequestHandled
}
