// Package ws connects the console to a websocket ping feed.
package ws

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	handshakeTimeout = 10 * time.Second
	closeGrace       = time.Second
)

// Conn is one websocket connection to the feed. It satisfies
// ingest.Transport.
type Conn struct {
	ws     *websocket.Conn
	logger *slog.Logger
}

// Dial connects to the feed endpoint. The handshake honors ctx.
func Dial(ctx context.Context, url string, logger *slog.Logger) (*Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	ws, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial feed %s: %w (status %s)", url, err, resp.Status)
		}
		return nil, fmt.Errorf("dial feed %s: %w", url, err)
	}
	logger.Info("feed connected", "url", url)
	return &Conn{ws: ws, logger: logger}, nil
}

// ReadMessage returns the next frame from the feed. Gorilla reads cannot be
// interrupted directly, so cancellation closes the connection out from under
// the blocked read. A normal closure from the peer is reported as io.EOF.
func (c *Conn) ReadMessage(ctx context.Context) ([]byte, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.ws.Close()
		case <-done:
		}
	}()

	_, data, err := c.ws.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read feed frame: %w", err)
	}
	return data, nil
}

// Close announces a normal closure to the peer, then drops the connection.
func (c *Conn) Close() error {
	deadline := time.Now().Add(closeGrace)
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return c.ws.Close()
}
