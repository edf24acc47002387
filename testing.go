package bidi

import "context"

// WithTestSession returns a context carrying s as the delivering session,
// so handlers that call SessionFromContext can be exercised directly.
func WithTestSession(ctx context.Context, s *Session) context.Context {
	return withSession(ctx, s)
}

// WithTestIntercept returns a context carrying intercept as the id of the
// handling pipeline.
func WithTestIntercept(ctx context.Context, intercept string) context.Context {
	return withIntercept(ctx, intercept)
}
