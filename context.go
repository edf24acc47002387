package bidi

import "context"

type contextKey int

const (
	sessionKey contextKey = iota
	interceptKey
	resolutionKey
)

// SessionFromContext returns the Session delivering the current event.
// Returns nil if not present.
func SessionFromContext(ctx context.Context) *Session {
	if s, ok := ctx.Value(sessionKey).(*Session); ok {
		return s
	}
	return nil
}

// InterceptFromContext returns the intercept id of the pipeline handling
// the current request. Returns "" if not present.
func InterceptFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(interceptKey).(string); ok {
		return id
	}
	return ""
}

// withSession returns a context with the given session.
func withSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// withIntercept returns a context with the given intercept id.
func withIntercept(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, interceptKey, id)
}

func withResolution(ctx context.Context, r *resolution) context.Context {
	return context.WithValue(ctx, resolutionKey, r)
}

func resolutionFromContext(ctx context.Context) *resolution {
	r, _ := ctx.Value(resolutionKey).(*resolution)
	return r
}
