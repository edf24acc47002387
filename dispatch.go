package bidi

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-json-experiment/json/jsontext"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// Outcome tells how a dispatched request was decided.
type Outcome string

const (
	// OutcomeCustom means the filter accepted and a custom handler decided.
	OutcomeCustom Outcome = "custom"
	// OutcomeDefault means the request was continued unmodified as intended.
	OutcomeDefault Outcome = "default"
	// OutcomeFallback means the filter or handler failed and the request was
	// continued unmodified instead.
	OutcomeFallback Outcome = "fallback"
	// OutcomeHandled means the handler resolved the request itself.
	OutcomeHandled Outcome = "handled"
)

// Decision describes how one intercepted request was resolved.
type Decision struct {
	Intercept    string
	Request      string
	URL          string
	Method       string
	Outcome      Outcome
	Continuation *ContinueRequestParameters // nil for OutcomeHandled
	Duration     time.Duration
	Err          error // *HandlerFault or *MalformedPayloadError for OutcomeFallback
}

// registration is one dispatch pipeline bound to one remote intercept.
type registration struct {
	network *Network
	session *Session
	filter  RequestFilter
	handler RequestHandler
	custom  bool
	log     zerolog.Logger

	sub *Subscription
	// ready is closed by activate or abort. Events queue up until then.
	ready     chan struct{}
	intercept string
	seq       uint64
	removed   atomic.Bool
}

func newRegistration(n *Network, s *Session, filter RequestFilter, handler RequestHandler, custom bool) *registration {
	return &registration{
		network: n,
		session: s,
		filter:  filter,
		handler: handler,
		custom:  custom,
		log:     n.log,
		ready:   make(chan struct{}),
	}
}

func (reg *registration) activate() {
	close(reg.ready)
}

func (reg *registration) abort() {
	reg.sub.Unsubscribe()
	close(reg.ready)
}

// dispatch is the subscription callback for network.beforeRequestSent.
func (reg *registration) dispatch(ctx context.Context, ev *Event) {
	select {
	case <-reg.ready:
	case <-ctx.Done():
		return
	}
	if reg.intercept == "" {
		return
	}

	params, err := decodeBeforeRequestSent(ev.Params)
	if err != nil {
		reg.salvage(ctx, ev.Params, err)
		return
	}
	if !reg.owns(params) {
		return
	}
	reg.handle(ctx, params)
}

// salvage continues a request whose event failed to decode, as long as the
// request id can still be read. The filter and handler never see it.
func (reg *registration) salvage(ctx context.Context, raw jsontext.Value, err error) {
	id := gjson.GetBytes(raw, "request.request")
	if id.Type != gjson.String || id.Str == "" {
		recordDrop("malformed")
		reg.log.Warn().Err(err).Str("intercept", reg.intercept).Msg("dropping malformed beforeRequestSent")
		return
	}

	params := &BeforeRequestSentParameters{
		Request: RequestData{
			Request: id.Str,
			URL:     gjson.GetBytes(raw, "request.url").String(),
			Method:  gjson.GetBytes(raw, "request.method").String(),
		},
	}
	if blocked := gjson.GetBytes(raw, "isBlocked"); blocked.IsBool() {
		params.IsBlocked = Some(blocked.Bool())
	}
	for _, v := range gjson.GetBytes(raw, "intercepts").Array() {
		params.Intercepts = append(params.Intercepts, v.String())
	}
	if !reg.owns(params) {
		return
	}

	start := time.Now()
	ctx = withIntercept(ctx, reg.intercept)
	ctx = reg.before(ctx, params)
	reg.log.Warn().Err(err).Str("intercept", reg.intercept).Str("request", id.Str).Msg("malformed beforeRequestSent, continuing unmodified")
	reg.finish(ctx, &Decision{
		Intercept:    reg.intercept,
		Request:      params.Request.Request,
		URL:          params.Request.URL,
		Method:       params.Request.Method,
		Outcome:      OutcomeFallback,
		Continuation: defaultContinuation(params),
		Err:          err,
	}, start)
}

// owns reports whether this pipeline must decide the request.
func (reg *registration) owns(params *BeforeRequestSentParameters) bool {
	if blocked, ok := params.IsBlocked.Get(); ok && !blocked {
		recordDrop("not_blocked")
		return false
	}
	if len(params.Intercepts) == 0 {
		return true
	}
	owner := reg.network.owner(params.Intercepts)
	if owner == nil {
		recordDrop("foreign_intercept")
		return false
	}
	return owner == reg
}

func (reg *registration) handle(ctx context.Context, params *BeforeRequestSentParameters) {
	start := time.Now()
	ctx = withIntercept(ctx, reg.intercept)
	ctx = reg.before(ctx, params)
	reg.finish(ctx, reg.decide(ctx, params), start)
}

func (reg *registration) before(ctx context.Context, params *BeforeRequestSentParameters) context.Context {
	for _, o := range reg.network.options.Observers {
		ctx = o.BeforeDispatch(ctx, params)
	}
	return ctx
}

// finish issues the decided continuation and reports the decision.
func (reg *registration) finish(ctx context.Context, d *Decision, start time.Time) {
	var err error
	if d.Outcome != OutcomeHandled {
		_, err = reg.session.Invoke(ctx, d.Continuation)
	}
	d.Duration = time.Since(start)
	recordDispatch(d.Outcome)

	ev := reg.log.Debug()
	if err != nil {
		ev = reg.log.Warn().Err(err)
	}
	ev.Str("intercept", reg.intercept).
		Str("request", d.Request).
		Str("url", d.URL).
		Str("outcome", string(d.Outcome)).
		Dur("duration", d.Duration).
		Msg("request decided")

	for _, o := range reg.network.options.Observers {
		o.AfterDispatch(ctx, d, err)
	}
}

type decideResult struct {
	accepted     bool
	continuation *ContinueRequestParameters
	err          error
	panic        any
}

// decide runs filter and handler under HandlerTimeout with panics
// recovered. Any failure falls back to the default continuation.
func (reg *registration) decide(ctx context.Context, params *BeforeRequestSentParameters) *Decision {
	d := &Decision{
		Intercept: reg.intercept,
		Request:   params.Request.Request,
		URL:       params.Request.URL,
		Method:    params.Request.Method,
	}

	timeout := reg.network.options.HandlerTimeout
	res := new(resolution)
	hctx, cancel := context.WithTimeout(withResolution(ctx, res), timeout)
	defer cancel()

	// The handler may outlive the timeout; it gets its own copy.
	view := *params
	done := make(chan decideResult, 1)
	go func() {
		var r decideResult
		defer func() {
			if p := recover(); p != nil {
				r = decideResult{panic: p}
			}
			done <- r
		}()
		if r.accepted = reg.filter(&view); r.accepted {
			r.continuation, r.err = reg.handler(hctx, &view)
		}
	}()

	var fault *HandlerFault
	select {
	case r := <-done:
		fault = reg.judge(d, r, params)
	case <-hctx.Done():
		if res.expire() {
			fault = &HandlerFault{
				Request: d.Request,
				Err:     fmt.Errorf("no decision within %s: %w", timeout, hctx.Err()),
			}
			break
		}
		// The handler already sent a resolving command; its outcome decides.
		fault = reg.judge(d, <-done, params)
	}

	if fault != nil {
		reg.log.Warn().Err(fault).Str("intercept", reg.intercept).Str("url", d.URL).Msg("handler fault, continuing unmodified")
		d.Outcome = OutcomeFallback
		d.Continuation = defaultContinuation(params)
		d.Err = fault
	}
	return d
}

// judge turns a finished filter and handler run into d's outcome, or a
// fault when the default continuation must be used.
func (reg *registration) judge(d *Decision, r decideResult, params *BeforeRequestSentParameters) *HandlerFault {
	switch {
	case r.panic != nil:
		return &HandlerFault{Request: d.Request, Panic: r.panic}
	case !r.accepted:
		d.Outcome = OutcomeDefault
		d.Continuation = defaultContinuation(params)
	case errors.Is(r.err, ErrRequestHandled):
		d.Outcome = OutcomeHandled
	case r.err != nil:
		return &HandlerFault{Request: d.Request, Err: r.err}
	case r.continuation == nil:
		return &HandlerFault{Request: d.Request, Err: errors.New("handler returned no continuation")}
	default:
		d.Outcome = OutcomeDefault
		if reg.custom {
			d.Outcome = OutcomeCustom
		}
		d.Continuation = reg.bind(r.continuation, d.Request)
	}
	return nil
}

// resolution arbitrates between a handler resolving its request itself and
// the dispatcher giving up after HandlerTimeout. Exactly one side wins.
type resolution struct {
	state atomic.Int32
}

const (
	resolutionOpen int32 = iota
	resolutionClaimed
	resolutionExpired
)

// claim reserves the request for a handler-issued fail or provide command.
func (r *resolution) claim() bool {
	return r.state.CompareAndSwap(resolutionOpen, resolutionClaimed)
}

// expire reserves the request for the fallback continuation.
func (r *resolution) expire() bool {
	return r.state.CompareAndSwap(resolutionOpen, resolutionExpired)
}

// bind pins the continuation to the intercepted request id.
func (reg *registration) bind(c *ContinueRequestParameters, request string) *ContinueRequestParameters {
	if c.Request == request {
		return c
	}
	if c.Request != "" {
		reg.log.Warn().Str("request", request).Str("returned", c.Request).Msg("continuation for another request, rebinding")
	}
	bound := *c
	bound.Request = request
	return &bound
}

func defaultContinuation(params *BeforeRequestSentParameters) *ContinueRequestParameters {
	return &ContinueRequestParameters{Request: params.Request.Request}
}
