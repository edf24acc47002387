package bidi

import "context"

// DispatchObserver allows external packages to hook into request dispatch.
// BeforeDispatch is called before the filter runs and may enrich the
// context. AfterDispatch is called once the decision has been issued, with
// the error of the continuation command, if any.
type DispatchObserver interface {
	BeforeDispatch(ctx context.Context, params *BeforeRequestSentParameters) context.Context
	AfterDispatch(ctx context.Context, d *Decision, err error)
}
