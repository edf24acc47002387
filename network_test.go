package bidi

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// recordingObserver collects every dispatch decision.
type recordingObserver struct {
	mu        sync.Mutex
	decisions []*Decision
	errs      []error
	notify    chan struct{}
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{notify: make(chan struct{}, 64)}
}

func (o *recordingObserver) BeforeDispatch(ctx context.Context, _ *BeforeRequestSentParameters) context.Context {
	return ctx
}

func (o *recordingObserver) AfterDispatch(_ context.Context, d *Decision, err error) {
	o.mu.Lock()
	o.decisions = append(o.decisions, d)
	o.errs = append(o.errs, err)
	o.mu.Unlock()
	o.notify <- struct{}{}
}

func (o *recordingObserver) wait(t *testing.T, n int) []*Decision {
	t.Helper()
	for range n {
		select {
		case <-o.notify:
		case <-time.After(2 * time.Second):
			t.Fatalf("expected %d decisions", n)
		}
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*Decision(nil), o.decisions...)
}

func newTestNetwork(t *testing.T, opts ...NetworkOptions) (*Network, *fakeRemote, *recordingObserver) {
	t.Helper()
	s, remote := newTestSession(t)
	obs := newRecordingObserver()
	var opt NetworkOptions
	if len(opts) > 0 {
		opt = opts[0]
	}
	opt.Observers = append(opt.Observers, obs)
	return NewNetwork(s, opt), remote, obs
}

func TestNetworkRedirectHandler(t *testing.T) {
	n, remote, obs := newTestNetwork(t)
	ctx := context.Background()

	intercept, err := n.AddRequestHandler(ctx, AcceptAll, func(ctx context.Context, p *BeforeRequestSentParameters) (*ContinueRequestParameters, error) {
		return &ContinueRequestParameters{Request: p.Request.Request, URL: "https://example.org/other"}, nil
	})
	if err != nil {
		t.Fatalf("AddRequestHandler failed: %v", err)
	}
	if intercept != "intercept-1" {
		t.Errorf("intercept = %q", intercept)
	}

	sub := remote.waitFor(MethodSubscribe)
	assertParams(t, sub, map[string]any{"events": []any{EventBeforeRequestSent}})
	add := remote.waitFor(MethodAddIntercept)
	assertParams(t, add, map[string]any{"phases": []any{"beforeRequestSent"}})

	remote.beforeRequestSent("42", "https://example.com/")
	cont := remote.waitFor(MethodContinueRequest)
	assertParams(t, cont, map[string]any{
		"request": "42",
		"url":     "https://example.org/other",
	})

	d := obs.wait(t, 1)[0]
	if d.Outcome != OutcomeCustom || d.Request != "42" || d.Intercept != "intercept-1" {
		t.Errorf("unexpected decision: %+v", d)
	}
}

func TestNetworkRejectedRequestContinuesUnmodified(t *testing.T) {
	n, remote, obs := newTestNetwork(t)

	handlerCalled := false
	_, err := n.AddRequestHandler(context.Background(),
		func(*BeforeRequestSentParameters) bool { return false },
		func(ctx context.Context, p *BeforeRequestSentParameters) (*ContinueRequestParameters, error) {
			handlerCalled = true
			return &ContinueRequestParameters{Request: p.Request.Request, URL: "https://nope.test/"}, nil
		})
	if err != nil {
		t.Fatalf("AddRequestHandler failed: %v", err)
	}

	remote.beforeRequestSent("7", "https://example.com/")
	cont := remote.waitFor(MethodContinueRequest)
	assertParams(t, cont, map[string]any{"request": "7"})

	if d := obs.wait(t, 1)[0]; d.Outcome != OutcomeDefault {
		t.Errorf("Outcome = %s, want default", d.Outcome)
	}
	if handlerCalled {
		t.Error("handler called for rejected request")
	}
}

func TestNetworkMissingInterceptIDFails(t *testing.T) {
	n, remote, _ := newTestNetwork(t)
	remote.on(MethodAddIntercept, func(cmd receivedCommand) []byte {
		return successFrame(cmd.ID, `{}`)
	})

	_, err := n.AddRequestHandler(context.Background(), nil, nil)
	if !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload, got %v", err)
	}
	if got := n.Intercepts(); len(got) != 0 {
		t.Errorf("Intercepts() = %v, want none", got)
	}
	if n.State() != StateRegistered {
		t.Errorf("State() = %s, want registered", n.State())
	}

	s, _ := n.Session(context.Background())
	s.mu.Lock()
	subs := len(s.subs[EventBeforeRequestSent])
	s.mu.Unlock()
	if subs != 0 {
		t.Errorf("%d local subscriptions left after failed add", subs)
	}
	assertParams(t, remote.waitFor(MethodUnsubscribe), map[string]any{"subscriptions": []any{"sub-1"}})

	remote.on(MethodAddIntercept, func(cmd receivedCommand) []byte {
		return successFrame(cmd.ID, `{"intercept":"intercept-2"}`)
	})
	if _, err := n.AddRequestHandler(context.Background(), nil, nil); err != nil {
		t.Fatalf("second AddRequestHandler failed: %v", err)
	}
	if got := remote.count(MethodSubscribe); got != 2 {
		t.Errorf("session.subscribe sent %d times, want 2", got)
	}
}

func TestNetworkAddInterceptProtocolError(t *testing.T) {
	n, remote, _ := newTestNetwork(t)
	remote.on(MethodAddIntercept, func(cmd receivedCommand) []byte {
		return errorFrame(cmd.ID, CodeInvalidArgument, "bad phases")
	})

	_, err := n.AddRequestHandler(context.Background(), nil, nil)
	if !IsProtocolError(err, CodeInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if n.State() != StateRegistered {
		t.Errorf("State() = %s, want registered", n.State())
	}
}

func TestNetworkDefaults(t *testing.T) {
	n, remote, obs := newTestNetwork(t)
	if _, err := n.AddRequestHandler(context.Background(), nil, nil); err != nil {
		t.Fatalf("AddRequestHandler failed: %v", err)
	}

	remote.beforeRequestSent("3", "https://example.com/")
	assertParams(t, remote.waitFor(MethodContinueRequest), map[string]any{"request": "3"})
	if d := obs.wait(t, 1)[0]; d.Outcome != OutcomeDefault || d.Err != nil {
		t.Errorf("unexpected decision: %+v", d)
	}
}

func TestNetworkHandlerFaultsFallBack(t *testing.T) {
	tests := []struct {
		name    string
		filter  RequestFilter
		handler RequestHandler
	}{
		{
			name: "handler panic",
			handler: func(context.Context, *BeforeRequestSentParameters) (*ContinueRequestParameters, error) {
				panic("boom")
			},
		},
		{
			name: "filter panic",
			filter: func(*BeforeRequestSentParameters) bool {
				panic("boom")
			},
			handler: Redirect("https://example.org/"),
		},
		{
			name: "handler error",
			handler: func(context.Context, *BeforeRequestSentParameters) (*ContinueRequestParameters, error) {
				return nil, errors.New("no thanks")
			},
		},
		{
			name: "nil continuation",
			handler: func(context.Context, *BeforeRequestSentParameters) (*ContinueRequestParameters, error) {
				return nil, nil
			},
		},
		{
			name: "handler timeout",
			handler: func(ctx context.Context, p *BeforeRequestSentParameters) (*ContinueRequestParameters, error) {
				time.Sleep(500 * time.Millisecond)
				return &ContinueRequestParameters{Request: p.Request.Request, URL: "https://late.test/"}, nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, remote, obs := newTestNetwork(t, NetworkOptions{HandlerTimeout: 50 * time.Millisecond})
			if _, err := n.AddRequestHandler(context.Background(), tt.filter, tt.handler); err != nil {
				t.Fatalf("AddRequestHandler failed: %v", err)
			}

			remote.beforeRequestSent("9", "https://example.com/")
			remote.beforeRequestSent("10", "https://example.com/")
			assertParams(t, remote.waitFor(MethodContinueRequest), map[string]any{"request": "9"})
			assertParams(t, remote.waitFor(MethodContinueRequest), map[string]any{"request": "10"})

			d := obs.wait(t, 2)[0]
			if d.Outcome != OutcomeFallback {
				t.Errorf("Outcome = %s, want fallback", d.Outcome)
			}
			if !errors.Is(d.Err, ErrHandlerFault) {
				t.Errorf("Err = %v, want handler fault", d.Err)
			}
		})
	}
}

func TestNetworkContinuationBoundToRequest(t *testing.T) {
	n, remote, _ := newTestNetwork(t)
	_, err := n.AddRequestHandler(context.Background(), nil, func(context.Context, *BeforeRequestSentParameters) (*ContinueRequestParameters, error) {
		return &ContinueRequestParameters{URL: "https://example.org/"}, nil
	})
	if err != nil {
		t.Fatalf("AddRequestHandler failed: %v", err)
	}

	remote.beforeRequestSent("5", "https://example.com/")
	assertParams(t, remote.waitFor(MethodContinueRequest), map[string]any{
		"request": "5",
		"url":     "https://example.org/",
	})
}

func TestNetworkRequestHandledSuppressesContinuation(t *testing.T) {
	n, remote, obs := newTestNetwork(t)
	_, err := n.AddRequestHandler(context.Background(), URLPrefix("https://ads."), Fail())
	if err != nil {
		t.Fatalf("AddRequestHandler failed: %v", err)
	}

	remote.beforeRequestSent("1", "https://ads.example.com/banner.js")
	remote.beforeRequestSent("2", "https://example.com/")

	assertParams(t, remote.waitFor(MethodFailRequest), map[string]any{"request": "1"})
	assertParams(t, remote.waitFor(MethodContinueRequest), map[string]any{"request": "2"})

	ds := obs.wait(t, 2)
	if ds[0].Outcome != OutcomeHandled || ds[0].Continuation != nil {
		t.Errorf("first decision = %+v, want handled", ds[0])
	}
	if remote.count(MethodContinueRequest) != 1 {
		t.Errorf("continueRequest sent %d times", remote.count(MethodContinueRequest))
	}
}

func TestNetworkRespondHandler(t *testing.T) {
	n, remote, _ := newTestNetwork(t)
	_, err := n.AddRequestHandler(context.Background(), nil, Respond(204, ""))
	if err != nil {
		t.Fatalf("AddRequestHandler failed: %v", err)
	}

	remote.beforeRequestSent("8", "https://example.com/ping")
	assertParams(t, remote.waitFor(MethodProvideResponse), map[string]any{
		"request":    "8",
		"statusCode": float64(204),
	})
}

func TestNetworkOwnershipFirstInterceptWins(t *testing.T) {
	n, remote, obs := newTestNetwork(t)
	ctx := context.Background()

	first, err := n.AddRequestHandler(ctx, nil, Redirect("https://first.test/"))
	if err != nil {
		t.Fatalf("AddRequestHandler failed: %v", err)
	}
	second, err := n.AddRequestHandler(ctx, nil, Redirect("https://second.test/"))
	if err != nil {
		t.Fatalf("AddRequestHandler failed: %v", err)
	}
	if remote.count(MethodSubscribe) != 1 {
		t.Errorf("session.subscribe sent %d times, want once", remote.count(MethodSubscribe))
	}

	remote.beforeRequestSent("1", "https://example.com/", `"intercepts":["`+second+`","`+first+`"]`)
	assertParams(t, remote.waitFor(MethodContinueRequest), map[string]any{
		"request": "1",
		"url":     "https://first.test/",
	})

	remote.beforeRequestSent("2", "https://example.com/", `"intercepts":["`+second+`"]`)
	assertParams(t, remote.waitFor(MethodContinueRequest), map[string]any{
		"request": "2",
		"url":     "https://second.test/",
	})

	obs.wait(t, 2)
	time.Sleep(50 * time.Millisecond)
	if got := remote.count(MethodContinueRequest); got != 2 {
		t.Errorf("continueRequest sent %d times, want 2", got)
	}
}

func TestNetworkEventWithoutInterceptsReachesEveryPipeline(t *testing.T) {
	n, remote, obs := newTestNetwork(t)
	ctx := context.Background()
	for range 2 {
		if _, err := n.AddRequestHandler(ctx, nil, nil); err != nil {
			t.Fatalf("AddRequestHandler failed: %v", err)
		}
	}

	remote.beforeRequestSent("1", "https://example.com/")
	obs.wait(t, 2)
	if got := remote.count(MethodContinueRequest); got != 2 {
		t.Errorf("continueRequest sent %d times, want 2", got)
	}
}

func TestNetworkSkipsUnblockedRequests(t *testing.T) {
	n, remote, obs := newTestNetwork(t)
	if _, err := n.AddRequestHandler(context.Background(), nil, nil); err != nil {
		t.Fatalf("AddRequestHandler failed: %v", err)
	}

	remote.emit(EventBeforeRequestSent, `{"isBlocked":false,"request":{"request":"1","url":"https://example.com/"}}`)
	remote.beforeRequestSent("2", "https://example.com/")

	assertParams(t, remote.waitFor(MethodContinueRequest), map[string]any{"request": "2"})
	if ds := obs.wait(t, 1); ds[0].Request != "2" {
		t.Errorf("decided request %s, want 2", ds[0].Request)
	}
}

func TestNetworkMalformedEventDropped(t *testing.T) {
	n, remote, _ := newTestNetwork(t)
	if _, err := n.AddRequestHandler(context.Background(), nil, nil); err != nil {
		t.Fatalf("AddRequestHandler failed: %v", err)
	}

	remote.emit(EventBeforeRequestSent, `{"request":{"url":"https://example.com/"}}`)
	remote.beforeRequestSent("2", "https://example.com/")
	assertParams(t, remote.waitFor(MethodContinueRequest), map[string]any{"request": "2"})
}

func TestNetworkMalformedEventContinued(t *testing.T) {
	n, remote, obs := newTestNetwork(t)
	var called atomic.Bool
	intercept, err := n.AddRequestHandler(context.Background(), nil, func(ctx context.Context, p *BeforeRequestSentParameters) (*ContinueRequestParameters, error) {
		called.Store(true)
		return DefaultRequestHandler(ctx, p)
	})
	if err != nil {
		t.Fatalf("AddRequestHandler failed: %v", err)
	}

	// Not paused: nothing to continue even when it cannot be decoded.
	remote.emit(EventBeforeRequestSent, `{"isBlocked":false,"request":{"request":"8"}}`)
	// Missing url.
	remote.emit(EventBeforeRequestSent, `{"isBlocked":true,"intercepts":["`+intercept+`"],"request":{"request":"9"}}`)
	// Wrong-typed timestamp.
	remote.emit(EventBeforeRequestSent, `{"isBlocked":true,"timestamp":"soon","request":{"request":"10","url":"https://example.com/"}}`)

	assertParams(t, remote.waitFor(MethodContinueRequest), map[string]any{"request": "9"})
	assertParams(t, remote.waitFor(MethodContinueRequest), map[string]any{"request": "10"})

	ds := obs.wait(t, 2)
	for _, d := range ds {
		if d.Outcome != OutcomeFallback {
			t.Errorf("request %s: Outcome = %s, want fallback", d.Request, d.Outcome)
		}
		if !errors.Is(d.Err, ErrMalformedPayload) {
			t.Errorf("request %s: Err = %v, want malformed payload", d.Request, d.Err)
		}
	}
	if ds[1].URL != "https://example.com/" {
		t.Errorf("URL = %q", ds[1].URL)
	}
	if called.Load() {
		t.Error("handler called for malformed event")
	}
	if got := remote.count(MethodContinueRequest); got != 2 {
		t.Errorf("continueRequest sent %d times, want 2", got)
	}
}

func TestNetworkResolvingHandlerOutlivesTimeout(t *testing.T) {
	n, remote, obs := newTestNetwork(t, NetworkOptions{HandlerTimeout: 30 * time.Millisecond})
	remote.silence(MethodFailRequest)
	if _, err := n.AddRequestHandler(context.Background(), nil, Fail()); err != nil {
		t.Fatalf("AddRequestHandler failed: %v", err)
	}

	remote.beforeRequestSent("3", "https://example.com/")
	fail := remote.waitFor(MethodFailRequest)
	time.Sleep(100 * time.Millisecond)
	remote.reply(fail.ID, `{}`)

	if d := obs.wait(t, 1)[0]; d.Outcome != OutcomeHandled {
		t.Errorf("Outcome = %s, want handled (err %v)", d.Outcome, d.Err)
	}
	if got := remote.count(MethodContinueRequest); got != 0 {
		t.Errorf("continueRequest sent %d times after failRequest", got)
	}
}

func TestNetworkLateResolvingHandlerSuppressed(t *testing.T) {
	n, remote, obs := newTestNetwork(t, NetworkOptions{HandlerTimeout: 30 * time.Millisecond})
	late := func(ctx context.Context, p *BeforeRequestSentParameters) (*ContinueRequestParameters, error) {
		time.Sleep(100 * time.Millisecond)
		return Fail()(ctx, p)
	}
	if _, err := n.AddRequestHandler(context.Background(), nil, late); err != nil {
		t.Fatalf("AddRequestHandler failed: %v", err)
	}

	remote.beforeRequestSent("4", "https://example.com/")
	assertParams(t, remote.waitFor(MethodContinueRequest), map[string]any{"request": "4"})
	if d := obs.wait(t, 1)[0]; d.Outcome != OutcomeFallback {
		t.Errorf("Outcome = %s, want fallback", d.Outcome)
	}

	time.Sleep(200 * time.Millisecond)
	if got := remote.count(MethodFailRequest); got != 0 {
		t.Errorf("failRequest sent %d times after fallback continuation", got)
	}
}

func TestNetworkRemoveRequestHandler(t *testing.T) {
	n, remote, _ := newTestNetwork(t)
	ctx := context.Background()

	intercept, err := n.AddRequestHandler(ctx, nil, nil)
	if err != nil {
		t.Fatalf("AddRequestHandler failed: %v", err)
	}
	if n.State() != StateIntercepting {
		t.Errorf("State() = %s, want intercepting", n.State())
	}

	if err := n.RemoveRequestHandler(ctx, intercept); err != nil {
		t.Fatalf("RemoveRequestHandler failed: %v", err)
	}
	assertParams(t, remote.waitFor(MethodRemoveIntercept), map[string]any{"intercept": intercept})
	if n.State() != StateRegistered {
		t.Errorf("State() = %s, want registered", n.State())
	}
	if got := n.Intercepts(); len(got) != 0 {
		t.Errorf("Intercepts() = %v", got)
	}

	err = n.RemoveRequestHandler(ctx, intercept)
	if !IsProtocolError(err, CodeNoSuchIntercept) {
		t.Errorf("second remove: %v", err)
	}
	var perr *ProtocolError
	if errors.As(err, &perr) && perr.Method != MethodRemoveIntercept {
		t.Errorf("Method = %q, want %q", perr.Method, MethodRemoveIntercept)
	}
}

func TestNetworkMiddlewareOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	trace := func(name string) RequestMiddleware {
		return func(next RequestHandler) RequestHandler {
			return func(ctx context.Context, p *BeforeRequestSentParameters) (*ContinueRequestParameters, error) {
				mu.Lock()
				order = append(order, name+" before")
				mu.Unlock()
				c, err := next(ctx, p)
				mu.Lock()
				order = append(order, name+" after")
				mu.Unlock()
				return c, err
			}
		}
	}

	n, remote, obs := newTestNetwork(t, NetworkOptions{
		Middleware: []RequestMiddleware{trace("outer"), trace("inner")},
	})
	_, err := n.AddRequestHandler(context.Background(), nil, func(ctx context.Context, p *BeforeRequestSentParameters) (*ContinueRequestParameters, error) {
		mu.Lock()
		order = append(order, "handler")
		mu.Unlock()
		return DefaultRequestHandler(ctx, p)
	})
	if err != nil {
		t.Fatalf("AddRequestHandler failed: %v", err)
	}

	remote.beforeRequestSent("1", "https://example.com/")
	obs.wait(t, 1)

	want := []string{"outer before", "inner before", "handler", "inner after", "outer after"}
	mu.Lock()
	defer mu.Unlock()
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestNetworkHandlerContext(t *testing.T) {
	n, remote, _ := newTestNetwork(t)
	s, _ := n.Session(context.Background())

	got := make(chan string, 1)
	intercept, err := n.AddRequestHandler(context.Background(), nil, func(ctx context.Context, p *BeforeRequestSentParameters) (*ContinueRequestParameters, error) {
		if SessionFromContext(ctx) != s {
			got <- "wrong session"
		} else {
			got <- InterceptFromContext(ctx)
		}
		return DefaultRequestHandler(ctx, p)
	})
	if err != nil {
		t.Fatalf("AddRequestHandler failed: %v", err)
	}

	remote.beforeRequestSent("1", "https://example.com/")
	select {
	case v := <-got:
		if v != intercept {
			t.Errorf("handler context intercept = %q, want %q", v, intercept)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}
}

func TestNetworkLazyDialOnce(t *testing.T) {
	var dials atomic.Int32
	var remote *fakeRemote
	var session *Session
	dial := func(ctx context.Context, url string, opts ...SessionOptions) (*Session, error) {
		dials.Add(1)
		if url != "ws://browser.test/session" {
			t.Errorf("dial url = %q", url)
		}
		session, remote = newTestSession(t, opts...)
		return session, nil
	}

	n := NewNetworkURL("ws://browser.test/session", NetworkOptions{Dial: dial})
	if n.State() != StateUninitialized {
		t.Errorf("State() = %s, want uninitialized", n.State())
	}

	ctx := context.Background()
	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := n.AddRequestHandler(ctx, nil, nil); err != nil {
				t.Errorf("AddRequestHandler failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if dials.Load() != 1 {
		t.Errorf("dialed %d times, want once", dials.Load())
	}
	if remote.count(MethodSubscribe) != 1 {
		t.Errorf("session.subscribe sent %d times, want once", remote.count(MethodSubscribe))
	}
	if len(n.Intercepts()) != 3 || n.State() != StateIntercepting {
		t.Errorf("intercepts = %v, state = %s", n.Intercepts(), n.State())
	}

	if err := n.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if remote.count(MethodRemoveIntercept) != 3 {
		t.Errorf("removeIntercept sent %d times, want 3", remote.count(MethodRemoveIntercept))
	}
	assertParams(t, remote.waitFor(MethodUnsubscribe), map[string]any{"subscriptions": []any{"sub-1"}})
	select {
	case <-session.Done():
	case <-time.After(time.Second):
		t.Error("owned session not closed")
	}
	if n.State() != StateUninitialized {
		t.Errorf("State() after Close = %s", n.State())
	}
	if _, err := n.AddRequestHandler(ctx, nil, nil); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("AddRequestHandler after Close: %v", err)
	}
}

func TestNetworkCloseKeepsBorrowedSession(t *testing.T) {
	n, _, _ := newTestNetwork(t)
	ctx := context.Background()
	if _, err := n.AddRequestHandler(ctx, nil, nil); err != nil {
		t.Fatalf("AddRequestHandler failed: %v", err)
	}
	s, _ := n.Session(ctx)
	if err := n.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	select {
	case <-s.Done():
		t.Error("borrowed session closed by controller")
	default:
	}
}

func TestNetworkAbandonedAddInterceptIsRemoved(t *testing.T) {
	n, remote, _ := newTestNetwork(t)
	remote.silence(MethodAddIntercept)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := n.AddRequestHandler(ctx, nil, nil)
	if !errors.Is(err, ErrTransportTimeout) {
		t.Fatalf("expected ErrTransportTimeout, got %v", err)
	}

	add := remote.waitFor(MethodAddIntercept)
	remote.reply(add.ID, `{"intercept":"late"}`)
	assertParams(t, remote.waitFor(MethodRemoveIntercept), map[string]any{"intercept": "late"})
	if got := n.Intercepts(); len(got) != 0 {
		t.Errorf("Intercepts() = %v", got)
	}
}

func TestNetworkDirectCommands(t *testing.T) {
	n, remote, _ := newTestNetwork(t)
	ctx := context.Background()

	if err := n.ContinueRequest(ctx, &ContinueRequestParameters{Request: "1", HTTPMethod: "POST"}); err != nil {
		t.Fatalf("ContinueRequest failed: %v", err)
	}
	assertParams(t, remote.waitFor(MethodContinueRequest), map[string]any{"request": "1", "method": "POST"})

	if err := n.FailRequest(ctx, "2"); err != nil {
		t.Fatalf("FailRequest failed: %v", err)
	}
	assertParams(t, remote.waitFor(MethodFailRequest), map[string]any{"request": "2"})

	remote.on(MethodProvideResponse, func(cmd receivedCommand) []byte {
		return errorFrame(cmd.ID, CodeNoSuchRequest, "request 3 is not blocked")
	})
	err := n.ProvideResponse(ctx, &ProvideResponseParameters{Request: "3", StatusCode: Some(200)})
	if !IsProtocolError(err, CodeNoSuchRequest) {
		t.Errorf("ProvideResponse: %v", err)
	}
}

func TestNetworkOptionsDefaults(t *testing.T) {
	opts := mergeNetworkOptions(nil)
	if opts.HandlerTimeout != 3*time.Second {
		t.Errorf("HandlerTimeout = %v, want 3s", opts.HandlerTimeout)
	}
	if opts.Dial == nil {
		t.Error("Dial default missing")
	}
}

func TestStateString(t *testing.T) {
	for state, want := range map[State]string{
		StateUninitialized: "uninitialized",
		StateRegistered:    "registered",
		StateIntercepting:  "intercepting",
		State(9):           "State(9)",
	} {
		if got := state.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(state), got, want)
		}
	}
}
