package bidi

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsTransport wraps a WebSocket connection as a transport.
type wsTransport struct {
	ws        *websocket.Conn
	closeOnce sync.Once
	closeErr  error
}

// DialWebSocket opens a WebSocket transport to url.
func DialWebSocket(ctx context.Context, url string, header http.Header) (Transport, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
	}
	ws, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, &TransportError{Op: "dial " + url, Err: err}
	}
	return NewWebSocketTransport(ws), nil
}

// NewWebSocketTransport wraps an established WebSocket connection.
func NewWebSocketTransport(ws *websocket.Conn) Transport {
	return &wsTransport{ws: ws}
}

func (t *wsTransport) Send(ctx context.Context, data []byte) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = t.ws.SetWriteDeadline(deadline)
		defer t.ws.SetWriteDeadline(time.Time{})
	}
	return t.ws.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Receive(ctx context.Context) ([]byte, error) {
	for {
		typ, data, err := t.ws.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTransportClosed, err)
		}
		if typ == websocket.TextMessage || typ == websocket.BinaryMessage {
			return data, nil
		}
	}
}

// Close sends a close frame to notify the remote end, then closes the
// underlying connection.
func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() {
		_ = t.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
			time.Now().Add(5*time.Second),
		)
		t.closeErr = t.ws.Close()
	})
	return t.closeErr
}
