package bidi

import (
	"context"
	"sync"
)

// pipeTransport is one end of an in-memory transport pair.
type pipeTransport struct {
	in   <-chan []byte
	out  chan<- []byte
	done chan struct{}
	once *sync.Once
}

// NewPipe returns two connected in-memory transports. Whatever one end
// sends, the other receives. Closing either end closes both.
func NewPipe() (Transport, Transport) {
	a2b := make(chan []byte, 64)
	b2a := make(chan []byte, 64)
	done := make(chan struct{})
	once := &sync.Once{}
	a := &pipeTransport{in: b2a, out: a2b, done: done, once: once}
	b := &pipeTransport{in: a2b, out: b2a, done: done, once: once}
	return a, b
}

func (t *pipeTransport) Send(ctx context.Context, data []byte) error {
	buf := make([]byte, len(data))
	copy(buf, data)
	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}
	select {
	case t.out <- buf:
		return nil
	case <-t.done:
		return ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *pipeTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case data := <-t.in:
		return data, nil
	case <-t.done:
		return nil, ErrTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *pipeTransport) Close() error {
	t.once.Do(func() { close(t.done) })
	return nil
}
