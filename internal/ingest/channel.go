// Package ingest pumps classified feed frames from a transport connection
// into the map host's event inbox.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/autosat/beacon-map/internal/domain"
	"github.com/autosat/beacon-map/internal/observability"
)

// Transport is one live connection to a ping feed. The websocket and kafka
// adapters implement it.
type Transport interface {
	// ReadMessage blocks until the next frame arrives, ctx is done, or the
	// connection fails. A cleanly closed feed is reported as io.EOF.
	ReadMessage(ctx context.Context) ([]byte, error)
	Close() error
}

// Event is one classified feed frame.
type Event struct {
	Kind domain.Kind
	Ping domain.Ping // populated when Kind is domain.KindPing
	Raw  []byte
	Err  error // classification failure when Kind is domain.KindMalformed
}

// Channel reads frames from a single transport connection, classifies them,
// and delivers the results to an inbox it does not own, so consecutive
// connections can share one inbox across reconnects.
type Channel struct {
	transport Transport
	inbox     chan<- Event
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// New creates a Channel pumping into inbox.
func New(transport Transport, inbox chan<- Event, logger *slog.Logger, metrics *observability.Metrics) *Channel {
	return &Channel{
		transport: transport,
		inbox:     inbox,
		logger:    logger,
		metrics:   metrics,
	}
}

// Run pumps frames until the feed closes or ctx is canceled. A clean close
// returns nil; any other transport failure is returned wrapped. A frame that
// fails classification is still delivered, as a malformed event, and the
// pump moves on to the next frame.
func (c *Channel) Run(ctx context.Context) error {
	for {
		raw, err := c.transport.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.logger.Info("feed closed")
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read feed frame: %w", err)
		}

		ping, kind, cerr := domain.ClassifyMessage(raw)
		c.metrics.FeedMessages.WithLabelValues(kind.String()).Inc()

		select {
		case c.inbox <- Event{Kind: kind, Ping: ping, Raw: raw, Err: cerr}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
