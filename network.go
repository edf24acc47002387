package bidi

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// State is the lifecycle state of a Network controller.
type State int

const (
	// StateUninitialized means no session has been established yet.
	StateUninitialized State = iota
	// StateRegistered means a session is available but no intercept is active.
	StateRegistered
	// StateIntercepting means at least one pipeline is active.
	StateIntercepting
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateRegistered:
		return "registered"
	case StateIntercepting:
		return "intercepting"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Network is the request interception controller. Every AddRequestHandler
// call registers an independent intercept on the remote end and binds a
// filter and handler pipeline to network.beforeRequestSent.
type Network struct {
	url     string
	options NetworkOptions
	log     zerolog.Logger

	session atomic.Pointer[Session]

	// setupMu serialises dialing and the remote event subscription.
	setupMu      sync.Mutex
	owned        bool
	closed       bool
	subscribed   bool
	subscription string
	adding       int // AddRequestHandler calls between subscribe and registration

	mu            sync.Mutex
	seq           uint64
	registrations map[string]*registration
}

// NewNetwork returns a controller issuing commands on s. The controller
// does not own s and never closes it.
func NewNetwork(s *Session, opts ...NetworkOptions) *Network {
	n := newNetwork("", opts)
	n.session.Store(s)
	return n
}

// NewNetworkURL returns a controller that dials url on first use and owns
// the resulting session.
func NewNetworkURL(url string, opts ...NetworkOptions) *Network {
	n := newNetwork(url, opts)
	n.owned = true
	return n
}

func newNetwork(url string, opts []NetworkOptions) *Network {
	options := mergeNetworkOptions(opts)
	return &Network{
		url:           url,
		options:       options,
		log:           loggerOrNop(options.Logger).With().Str("component", "network").Logger(),
		registrations: make(map[string]*registration),
	}
}

// Session returns the controller's session, dialing it if needed. The dial
// happens at most once per controller.
func (n *Network) Session(ctx context.Context) (*Session, error) {
	n.setupMu.Lock()
	defer n.setupMu.Unlock()
	return n.sessionLocked(ctx)
}

func (n *Network) sessionLocked(ctx context.Context) (*Session, error) {
	if n.closed {
		return nil, ErrSessionClosed
	}
	if s := n.session.Load(); s != nil {
		return s, nil
	}
	if n.url == "" {
		return nil, errors.New("bidi: network controller has neither session nor url")
	}
	s, err := n.options.Dial(ctx, n.url, n.options.Session)
	if err != nil {
		return nil, err
	}
	n.session.Store(s)
	n.log.Debug().Str("url", n.url).Msg("session established")
	return s, nil
}

// ensureEventSubscription subscribes the session to beforeRequestSent on
// the remote end, once per controller. setupMu must be held.
func (n *Network) ensureEventSubscription(ctx context.Context, s *Session) error {
	if n.subscribed {
		return nil
	}
	res, err := Call[SubscribeResult](ctx, s, &SubscribeParameters{
		Events:   []string{EventBeforeRequestSent},
		Contexts: n.options.Contexts,
	})
	if err != nil {
		return err
	}
	n.subscribed = true
	n.subscription = res.Subscription
	return nil
}

// AddRequestHandler intercepts requests at the beforeRequestSent phase.
// Requests accepted by filter are passed to handler; all others are
// continued unmodified. A nil filter accepts everything, a nil handler
// continues unmodified. It returns the remote intercept id.
//
// Each call creates an independent pipeline. When the remote end reports
// which intercepts blocked a request, only the pipeline registered first
// among them decides it.
func (n *Network) AddRequestHandler(ctx context.Context, filter RequestFilter, handler RequestHandler) (string, error) {
	if filter == nil {
		filter = AcceptAll
	}
	custom := handler != nil
	if custom {
		handler = buildHandler(handler, n.options.Middleware)
	} else {
		handler = DefaultRequestHandler
	}

	n.setupMu.Lock()
	s, err := n.sessionLocked(ctx)
	if err == nil {
		err = n.ensureEventSubscription(ctx, s)
	}
	if err != nil {
		n.setupMu.Unlock()
		return "", err
	}
	n.adding++
	n.setupMu.Unlock()

	reg := newRegistration(n, s, filter, handler, custom)
	sub, err := s.Subscribe(EventBeforeRequestSent, reg.dispatch)
	if err != nil {
		n.doneAdding(ctx, s, false)
		return "", err
	}
	reg.sub = sub

	intercept, err := n.addIntercept(ctx, s)
	if err != nil {
		reg.abort()
		n.doneAdding(ctx, s, false)
		n.log.Warn().Err(err).Msg("add intercept failed")
		return "", err
	}

	n.mu.Lock()
	n.seq++
	reg.seq = n.seq
	reg.intercept = intercept
	n.registrations[intercept] = reg
	n.mu.Unlock()
	reg.activate()
	n.doneAdding(ctx, s, true)

	n.log.Debug().Str("intercept", intercept).Bool("custom", custom).Msg("intercepting")
	return intercept, nil
}

// doneAdding ends an AddRequestHandler call. After a failed add that leaves
// no pipeline, the remote event subscription is dropped again.
func (n *Network) doneAdding(ctx context.Context, s *Session, ok bool) {
	n.setupMu.Lock()
	defer n.setupMu.Unlock()
	n.adding--
	if ok || n.adding > 0 || n.closed {
		return
	}
	n.mu.Lock()
	idle := len(n.registrations) == 0
	n.mu.Unlock()
	if idle {
		n.unsubscribeLocked(context.WithoutCancel(ctx), s)
	}
}

// unsubscribeLocked drops the remote event subscription. setupMu must be held.
func (n *Network) unsubscribeLocked(ctx context.Context, s *Session) {
	if !n.subscribed {
		return
	}
	params := &UnsubscribeParameters{Events: []string{EventBeforeRequestSent}}
	if n.subscription != "" {
		params = &UnsubscribeParameters{Subscriptions: []string{n.subscription}}
	}
	if _, err := s.Invoke(ctx, params); err != nil {
		n.log.Debug().Err(err).Msg("unsubscribe")
	}
	n.subscribed = false
	n.subscription = ""
}

func (n *Network) addIntercept(ctx context.Context, s *Session) (string, error) {
	ctx, cancel := s.withCommandTimeout(ctx)
	defer cancel()

	p, err := s.Send(ctx, &AddInterceptParameters{
		Phases:      []InterceptPhase{PhaseBeforeRequestSent},
		Contexts:    n.options.Contexts,
		URLPatterns: n.options.URLPatterns,
	})
	if err != nil {
		return "", err
	}
	raw, err := p.Wait(ctx)
	if err != nil {
		// The remote end may still create the intercept.
		go n.reapIntercept(s, p)
		return "", err
	}
	return decodeInterceptID(raw)
}

// reapIntercept waits for the reply to an abandoned addIntercept and
// removes the intercept it created.
func (n *Network) reapIntercept(s *Session, p *Pending) {
	ctx, cancel := context.WithTimeout(context.Background(), s.options.CommandTimeout)
	defer cancel()

	raw, err := p.Wait(ctx)
	if err != nil {
		p.Cancel()
		return
	}
	intercept, err := decodeInterceptID(raw)
	if err != nil {
		return
	}
	if _, err := s.Invoke(ctx, &RemoveInterceptParameters{Intercept: intercept}); err != nil {
		n.log.Warn().Err(err).Str("intercept", intercept).Msg("remove abandoned intercept")
		return
	}
	n.log.Debug().Str("intercept", intercept).Msg("removed abandoned intercept")
}

func decodeInterceptID(raw []byte) (string, error) {
	var res AddInterceptResult
	if err := Decode(raw, &res); err != nil {
		return "", err
	}
	if res.Intercept == "" {
		return "", NewMalformedPayload("AddInterceptResult", "empty intercept id")
	}
	return res.Intercept, nil
}

// RemoveRequestHandler removes the intercept and stops its pipeline. Events
// already queued for the pipeline are still decided so no request is left
// paused.
func (n *Network) RemoveRequestHandler(ctx context.Context, intercept string) error {
	n.mu.Lock()
	reg, ok := n.registrations[intercept]
	if !ok || reg.removed.Load() {
		n.mu.Unlock()
		perr := NewProtocolError(CodeNoSuchIntercept, "unknown intercept "+intercept)
		perr.Method = MethodRemoveIntercept
		return perr
	}
	reg.removed.Store(true)
	n.mu.Unlock()

	_, err := reg.session.Invoke(ctx, &RemoveInterceptParameters{Intercept: intercept})
	reg.sub.Drain()
	go func() {
		<-reg.sub.Done()
		n.mu.Lock()
		delete(n.registrations, intercept)
		n.mu.Unlock()
	}()

	if err != nil {
		n.log.Warn().Err(err).Str("intercept", intercept).Msg("remove intercept failed")
		return err
	}
	n.log.Debug().Str("intercept", intercept).Msg("intercept removed")
	return nil
}

// Intercepts returns the ids of the active intercepts in registration order.
func (n *Network) Intercepts() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	regs := make([]*registration, 0, len(n.registrations))
	for _, reg := range n.registrations {
		if !reg.removed.Load() {
			regs = append(regs, reg)
		}
	}
	slices.SortFunc(regs, func(a, b *registration) int {
		return cmp.Compare(a.seq, b.seq)
	})
	ids := make([]string, len(regs))
	for i, reg := range regs {
		ids[i] = reg.intercept
	}
	return ids
}

// State reports the controller's lifecycle state.
func (n *Network) State() State {
	if n.session.Load() == nil {
		return StateUninitialized
	}
	if len(n.Intercepts()) > 0 {
		return StateIntercepting
	}
	return StateRegistered
}

// Close removes every intercept, drops the remote event subscription and
// closes the session if the controller dialed it. The controller cannot be
// used afterwards.
func (n *Network) Close(ctx context.Context) error {
	var errs []error
	for _, id := range n.Intercepts() {
		if err := n.RemoveRequestHandler(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}

	n.setupMu.Lock()
	defer n.setupMu.Unlock()
	n.closed = true
	s := n.session.Load()
	if s == nil {
		return errors.Join(errs...)
	}
	n.unsubscribeLocked(ctx, s)
	if n.owned {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
		n.session.Store(nil)
	}
	return errors.Join(errs...)
}

// ContinueRequest resumes a paused request, optionally with overrides.
func (n *Network) ContinueRequest(ctx context.Context, params *ContinueRequestParameters) error {
	return n.invoke(ctx, params)
}

// FailRequest fails a paused request with a network error.
func (n *Network) FailRequest(ctx context.Context, request string) error {
	return n.invoke(ctx, &FailRequestParameters{Request: request})
}

// ProvideResponse completes a paused request with the given response.
func (n *Network) ProvideResponse(ctx context.Context, params *ProvideResponseParameters) error {
	return n.invoke(ctx, params)
}

func (n *Network) invoke(ctx context.Context, cmd Command) error {
	s, err := n.Session(ctx)
	if err != nil {
		return err
	}
	_, err = s.Invoke(ctx, cmd)
	return err
}

// owner returns the first-registered pipeline among intercepts, or nil if
// none of them belongs to this controller.
func (n *Network) owner(intercepts []string) *registration {
	n.mu.Lock()
	defer n.mu.Unlock()
	var owner *registration
	for _, id := range intercepts {
		reg, ok := n.registrations[id]
		if !ok {
			continue
		}
		if owner == nil || reg.seq < owner.seq {
			owner = reg
		}
	}
	return owner
}
