package bidi

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
)

// Session owns one transport to the remote end. It serialises all writes,
// correlates replies with commands by id and fans events out to
// subscriptions.
type Session struct {
	transport Transport
	options   SessionOptions
	log       zerolog.Logger

	send   chan []byte
	nextID atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]*Pending
	subs    map[string][]*Subscription
	closed  bool
	err     error

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
	done   chan struct{}
}

// Dial opens a WebSocket to url and starts a session on it.
func Dial(ctx context.Context, url string, opts ...SessionOptions) (*Session, error) {
	t, err := DialWebSocket(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return NewSession(t, opts...), nil
}

// NewSession starts a session on an open transport. An optional
// SessionOptions can be passed to configure it.
func NewSession(t Transport, opts ...SessionOptions) *Session {
	options := mergeSessionOptions(opts)
	base, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(base)

	s := &Session{
		transport: t,
		options:   options,
		log:       loggerOrNop(options.Logger).With().Str("component", "session").Logger(),
		send:      make(chan []byte, options.SendBuffer),
		pending:   make(map[uint64]*Pending),
		subs:      make(map[string][]*Subscription),
		ctx:       ctx,
		cancel:    cancel,
		group:     group,
		done:      make(chan struct{}),
	}
	group.Go(s.readPump)
	group.Go(s.writePump)
	go s.run()
	return s
}

// Send writes cmd and returns the in-flight command. The reply is awaited
// with Pending.Wait, which lets a caller interleave several commands.
func (s *Session) Send(ctx context.Context, cmd Command) (*Pending, error) {
	method := cmd.Method()
	params, err := Encode(cmd)
	if err != nil {
		return nil, err
	}
	id := s.nextID.Add(1)
	data, err := encodeCommand(id, method, params)
	if err != nil {
		return nil, err
	}

	p := newPending(s, id, method)
	s.mu.Lock()
	if s.closed {
		reason := s.err
		s.mu.Unlock()
		return nil, closedError(method, reason)
	}
	s.pending[id] = p
	s.mu.Unlock()

	select {
	case s.send <- data:
		s.log.Debug().Uint64("id", id).Str("method", method).Msg("command queued")
		return p, nil
	case <-ctx.Done():
		s.forget(id)
		return nil, contextError(method, ctx)
	case <-s.ctx.Done():
		s.forget(id)
		return nil, closedError(method, s.Err())
	}
}

// Invoke sends cmd and waits for its reply. When ctx has no deadline the
// session's CommandTimeout applies.
func (s *Session) Invoke(ctx context.Context, cmd Command) (jsontext.Value, error) {
	ctx, cancel := s.withCommandTimeout(ctx)
	defer cancel()

	start := time.Now()
	p, err := s.Send(ctx, cmd)
	if err != nil {
		recordCommand(cmd.Method(), start, err)
		return nil, err
	}
	result, err := p.Wait(ctx)
	if err != nil && !p.resolved() {
		p.Cancel()
		recordCommand(cmd.Method(), start, err)
	}
	return result, err
}

// Call invokes cmd and decodes its result into R.
func Call[R any](ctx context.Context, s *Session, cmd Command) (*R, error) {
	raw, err := s.Invoke(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		raw = jsontext.Value(`{}`)
	}
	var r R
	if err := Decode(raw, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Subscribe registers cb for every future event named event. Callbacks of
// one subscription run one at a time in arrival order; distinct
// subscriptions run independently.
func (s *Session) Subscribe(event string, cb EventCallback) (*Subscription, error) {
	sub := newSubscription(s, event, cb)
	s.mu.Lock()
	if s.closed {
		reason := s.err
		s.mu.Unlock()
		return nil, closedError("subscribe "+event, reason)
	}
	s.subs[event] = append(s.subs[event], sub)
	s.mu.Unlock()

	go sub.run(withSession(s.ctx, s))
	s.log.Debug().Str("event", event).Str("subscription", sub.id).Msg("subscribed")
	return sub, nil
}

// Close shuts the session down. Pending commands fail with a TransportError.
func (s *Session) Close() error {
	s.shutdown(ErrSessionClosed)
	<-s.done
	return nil
}

// Done is closed once the session has shut down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns why the session shut down, or nil while it is open.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) withCommandTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.options.CommandTimeout)
}

func (s *Session) run() {
	err := s.group.Wait()
	s.shutdown(err)
	close(s.done)
}

// readPump reads messages from the transport and routes them.
func (s *Session) readPump() error {
	for {
		data, err := s.transport.Receive(s.ctx)
		if err != nil {
			return err
		}
		s.route(data)
	}
}

// writePump writes queued commands to the transport.
func (s *Session) writePump() error {
	for {
		select {
		case <-s.ctx.Done():
			return nil
		case data := <-s.send:
			if err := s.transport.Send(s.ctx, data); err != nil {
				return err
			}
		}
	}
}

func (s *Session) route(data []byte) {
	if !gjson.ValidBytes(data) {
		s.log.Warn().Int("bytes", len(data)).Msg("dropping invalid JSON message")
		return
	}
	var msg IncomingMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.log.Warn().Err(err).Msg("dropping unreadable message")
		return
	}

	switch msg.Type {
	case TypeSuccess:
		if msg.ID == nil {
			s.log.Warn().Msg("success reply without command id")
			return
		}
		s.complete(*msg.ID, msg.Result, nil)
	case TypeError:
		if msg.ID == nil {
			s.log.Error().Str("code", msg.Error).Str("message", msg.Message).Msg("error reply without command id")
			return
		}
		s.complete(*msg.ID, nil, &ProtocolError{
			Code:       msg.Error,
			Message:    msg.Message,
			Stacktrace: msg.Stacktrace,
		})
	case TypeEvent:
		s.dispatch(&Event{Method: msg.Method, Params: msg.Params})
	default:
		s.log.Warn().Str("type", string(msg.Type)).Msg("unknown message type")
	}
}

func (s *Session) complete(id uint64, result jsontext.Value, perr *ProtocolError) {
	s.mu.Lock()
	p, ok := s.pending[id]
	delete(s.pending, id)
	s.mu.Unlock()
	if !ok {
		s.log.Debug().Uint64("id", id).Msg("reply for unknown or abandoned command")
		return
	}
	if perr != nil {
		perr.Method = p.Method
		s.log.Debug().Uint64("id", id).Str("method", p.Method).Str("code", perr.Code).Msg("command failed")
		p.resolve(nil, perr)
		return
	}
	p.resolve(result, nil)
}

func (s *Session) dispatch(ev *Event) {
	recordEvent(ev.Method)
	s.mu.Lock()
	subs := append([]*Subscription(nil), s.subs[ev.Method]...)
	s.mu.Unlock()
	if len(subs) == 0 {
		s.log.Debug().Str("event", ev.Method).Msg("event without subscribers")
		return
	}
	for _, sub := range subs {
		sub.push(ev)
	}
}

func (s *Session) forget(id uint64) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

func (s *Session) unsubscribe(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.subs[sub.event]
	for i, cur := range list {
		if cur == sub {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(s.subs, sub.event)
	} else {
		s.subs[sub.event] = list
	}
}

func (s *Session) shutdown(reason error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if reason == nil {
		reason = ErrTransportClosed
	}
	s.err = reason
	pending := s.pending
	s.pending = make(map[uint64]*Pending)
	subs := s.subs
	s.subs = make(map[string][]*Subscription)
	s.mu.Unlock()

	s.cancel()
	if err := s.transport.Close(); err != nil {
		s.log.Debug().Err(err).Msg("transport close")
	}
	if errors.Is(reason, ErrSessionClosed) {
		s.log.Debug().Msg("session closed")
	} else {
		s.log.Error().Err(reason).Int("pending", len(pending)).Msg("transport lost")
	}

	for _, p := range pending {
		p.resolve(nil, closedError(p.Method, reason))
	}
	for _, list := range subs {
		for _, sub := range list {
			sub.halt()
		}
	}
}

// closedError reports a command that can no longer complete because the
// session is gone. It always matches ErrTransportClosed.
func closedError(op string, reason error) error {
	switch {
	case reason == nil, errors.Is(reason, ErrTransportClosed):
		return &TransportError{Op: op, Err: ErrTransportClosed}
	}
	return &TransportError{Op: op, Err: fmt.Errorf("%w: %w", ErrTransportClosed, reason)}
}

// contextError maps an expired context to a transport timeout.
func contextError(op string, ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TransportError{Op: op, Err: ErrTransportTimeout}
	}
	return ctx.Err()
}

// Pending is a command that was sent and awaits its reply.
type Pending struct {
	ID     uint64
	Method string

	session *Session
	start   time.Time
	once    sync.Once
	done    chan struct{}
	result  jsontext.Value
	err     error
}

func newPending(s *Session, id uint64, method string) *Pending {
	return &Pending{
		ID:      id,
		Method:  method,
		session: s,
		start:   time.Now(),
		done:    make(chan struct{}),
	}
}

// Wait blocks until the reply arrives, the session closes or ctx ends. It
// may be called again after a context error.
func (p *Pending) Wait(ctx context.Context) (jsontext.Value, error) {
	select {
	case <-p.done:
		return p.result, p.err
	default:
	}
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		return nil, contextError(p.Method, ctx)
	}
}

// Done is closed once the reply (or a transport failure) has arrived.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Cancel stops tracking the command. A reply arriving later is dropped.
func (p *Pending) Cancel() {
	p.session.forget(p.ID)
}

func (p *Pending) resolved() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *Pending) resolve(result jsontext.Value, err error) {
	p.once.Do(func() {
		p.result, p.err = result, err
		close(p.done)
		recordCommand(p.Method, p.start, err)
	})
}
