package bidi

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// SessionOptions configures a Session.
type SessionOptions struct {
	// CommandTimeout bounds Invoke when the caller's context has no deadline. Default: 30s
	CommandTimeout time.Duration
	// SendBuffer is the capacity of the outgoing message queue. Default: 256
	SendBuffer int
	// Logger receives session logs. Default: disabled
	Logger *zerolog.Logger
}

func defaultSessionOptions() SessionOptions {
	return SessionOptions{
		CommandTimeout: 30 * time.Second,
		SendBuffer:     256,
	}
}

func mergeSessionOptions(opts []SessionOptions) SessionOptions {
	options := defaultSessionOptions()
	if len(opts) == 0 {
		return options
	}
	opt := opts[0]
	if opt.CommandTimeout > 0 {
		options.CommandTimeout = opt.CommandTimeout
	}
	if opt.SendBuffer > 0 {
		options.SendBuffer = opt.SendBuffer
	}
	if opt.Logger != nil {
		options.Logger = opt.Logger
	}
	return options
}

// DialFunc opens a session to a remote end URL.
type DialFunc func(ctx context.Context, url string, opts ...SessionOptions) (*Session, error)

// NetworkOptions configures a Network controller.
type NetworkOptions struct {
	// HandlerTimeout bounds filter + handler for one request before the
	// request is continued unmodified. Default: 3s
	HandlerTimeout time.Duration
	// Contexts restricts intercepts and event subscriptions to these
	// browsing contexts. Default: all
	Contexts []string
	// URLPatterns restricts intercepts to matching URLs. Default: all
	URLPatterns []URLPattern
	// Middleware wraps every custom handler. The first entry is outermost.
	Middleware []RequestMiddleware
	// Observers see every dispatch decision, in order.
	Observers []DispatchObserver
	// Logger receives controller logs. Default: disabled
	Logger *zerolog.Logger
	// Session configures a lazily dialed session.
	Session SessionOptions
	// Dial opens the session for NewNetworkURL. Default: Dial
	Dial DialFunc
}

func defaultNetworkOptions() NetworkOptions {
	return NetworkOptions{
		HandlerTimeout: 3 * time.Second,
		Dial:           Dial,
	}
}

func mergeNetworkOptions(opts []NetworkOptions) NetworkOptions {
	options := defaultNetworkOptions()
	if len(opts) == 0 {
		return options
	}
	opt := opts[0]
	if opt.HandlerTimeout > 0 {
		options.HandlerTimeout = opt.HandlerTimeout
	}
	options.Contexts = opt.Contexts
	options.URLPatterns = opt.URLPatterns
	options.Middleware = opt.Middleware
	options.Observers = opt.Observers
	options.Session = opt.Session
	if opt.Logger != nil {
		options.Logger = opt.Logger
		if options.Session.Logger == nil {
			options.Session.Logger = opt.Logger
		}
	}
	if opt.Dial != nil {
		options.Dial = opt.Dial
	}
	return options
}

func loggerOrNop(l *zerolog.Logger) zerolog.Logger {
	if l == nil {
		return zerolog.Nop()
	}
	return *l
}
