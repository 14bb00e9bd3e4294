package probe

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the subset of a websocket connection the prober needs.
// *websocket.Conn satisfies it.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// Dialer opens probe connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials the echo endpoint over gorilla/websocket.
type WebsocketDialer struct {
	dialer  *websocket.Dialer
	timeout time.Duration
}

// NewWebsocketDialer returns a dialer whose handshakes are bounded by timeout.
func NewWebsocketDialer(timeout time.Duration) *WebsocketDialer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebsocketDialer{
		dialer: &websocket.Dialer{
			Proxy: http.ProxyFromEnvironment,
			NetDialContext: (&net.Dialer{
				Timeout:   timeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			HandshakeTimeout: timeout,
			ReadBufferSize:   256,
			WriteBufferSize:  256,
		},
		timeout: timeout,
	}
}

// Dial implements Dialer.
func (d *WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	conn, resp, err := d.dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("handshake http %d: %w", resp.StatusCode, err)
		}
		return nil, err
	}
	return conn, nil
}
