package bidi

import "context"

// Transport is a bidirectional, message-framed channel to the remote end.
// The Session is its only user: it calls Send from a single writer
// goroutine and Receive from a single reader goroutine.
type Transport interface {
	// Send writes one message.
	Send(ctx context.Context, data []byte) error
	// Receive blocks until the next message arrives or the transport closes.
	Receive(ctx context.Context) ([]byte, error)
	// Close closes the transport and unblocks Receive.
	Close() error
}
