package bidi

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
)

// EventCallback receives one event. The context carries the delivering
// Session (see SessionFromContext) and is cancelled when the session closes.
type EventCallback func(ctx context.Context, ev *Event)

// Subscription is a local registration for one event name. Events are
// queued without bound and delivered to the callback one at a time, so a
// slow callback never blocks the session's read loop or other subscribers.
type Subscription struct {
	id       string
	event    string
	session  *Session
	callback EventCallback

	mu      sync.Mutex
	queue   []*Event
	stopped bool
	drain   bool
	wake    chan struct{}

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func newSubscription(s *Session, event string, cb EventCallback) *Subscription {
	return &Subscription{
		id:       uuid.NewString(),
		event:    event,
		session:  s,
		callback: cb,
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// ID returns the subscription's unique id.
func (sub *Subscription) ID() string { return sub.id }

// Event returns the subscribed event name.
func (sub *Subscription) Event() string { return sub.event }

// Unsubscribe stops delivery immediately. Queued events that have not
// started are discarded; a callback already running finishes.
func (sub *Subscription) Unsubscribe() {
	sub.session.unsubscribe(sub)
	sub.halt()
}

// Drain stops accepting new events but delivers everything already queued
// before the subscription finishes.
func (sub *Subscription) Drain() {
	sub.session.unsubscribe(sub)
	sub.mu.Lock()
	sub.drain = true
	sub.mu.Unlock()
	sub.halt()
}

// Done is closed once the delivery goroutine has exited.
func (sub *Subscription) Done() <-chan struct{} {
	return sub.done
}

func (sub *Subscription) push(ev *Event) {
	sub.mu.Lock()
	if sub.stopped {
		sub.mu.Unlock()
		return
	}
	sub.queue = append(sub.queue, ev)
	sub.mu.Unlock()

	select {
	case sub.wake <- struct{}{}:
	default:
	}
}

// next pops the oldest queued event. After a stop it keeps returning
// queued events only while draining.
func (sub *Subscription) next() (*Event, bool) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.stopped && !sub.drain {
		sub.queue = nil
		return nil, false
	}
	if len(sub.queue) == 0 {
		return nil, false
	}
	ev := sub.queue[0]
	sub.queue[0] = nil
	sub.queue = sub.queue[1:]
	return ev, true
}

func (sub *Subscription) halt() {
	sub.stopOnce.Do(func() {
		sub.mu.Lock()
		sub.stopped = true
		sub.mu.Unlock()
		close(sub.stop)
	})
}

func (sub *Subscription) run(ctx context.Context) {
	defer close(sub.done)
	for {
		for {
			ev, ok := sub.next()
			if !ok {
				break
			}
			sub.deliver(ctx, ev)
		}
		select {
		case <-sub.wake:
		case <-sub.stop:
			// Pick up anything pushed between the last pop and the stop.
			for {
				ev, ok := sub.next()
				if !ok {
					return
				}
				sub.deliver(ctx, ev)
			}
		}
	}
}

func (sub *Subscription) deliver(ctx context.Context, ev *Event) {
	defer func() {
		if r := recover(); r != nil {
			sub.session.log.Error().
				Str("event", ev.Method).
				Str("subscription", sub.id).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("event callback panicked")
		}
	}()
	sub.callback(ctx, ev)
}
