package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"

	httpadapter "github.com/autosat/beacon-map/internal/adapter/http"
	kafkaadapter "github.com/autosat/beacon-map/internal/adapter/kafka"
	"github.com/autosat/beacon-map/internal/adapter/leaflet"
	"github.com/autosat/beacon-map/internal/adapter/mapbox"
	wsadapter "github.com/autosat/beacon-map/internal/adapter/ws"
	"github.com/autosat/beacon-map/internal/config"
	"github.com/autosat/beacon-map/internal/domain"
	"github.com/autosat/beacon-map/internal/ingest"
	"github.com/autosat/beacon-map/internal/maphost"
	"github.com/autosat/beacon-map/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	bridge := leaflet.NewBridge(logger)
	host := maphost.New(bridge, cfg, logger, metrics)
	if err := host.Mount(); err != nil {
		logger.Error("failed to mount map surface", "error", err)
		os.Exit(1)
	}

	var geocoder domain.Geocoder
	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, logger)
		geocoder = mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize)
		logger.Info("mapbox place lookup enabled",
			"cache_size", cfg.MapboxCacheSize,
			"timeout", cfg.MapboxTimeout)
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, host, bridge, geocoder, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// The inbox outlives any single feed connection so that reconnects keep
	// delivering into the same running host.
	inbox := make(chan ingest.Event, 64)

	// Start the map host event loop.
	go host.Run(ctx, inbox)

	// Start the feed supervisor.
	go runFeed(ctx, cfg, inbox, logger, metrics)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	host.Unmount()

	logger.Info("shutdown complete")
}

// runFeed keeps one feed transport connected for the life of ctx, handing each
// connection to an ingest channel and reconnecting with exponential backoff
// when the connection drops or cannot be established.
func runFeed(ctx context.Context, cfg *config.Config, inbox chan<- ingest.Event, logger *slog.Logger, metrics *observability.Metrics) {
	policy := backoff.NewExponentialBackOff()
	policy.MaxInterval = cfg.ReconnectMaxInterval
	policy.MaxElapsedTime = 0

	for ctx.Err() == nil {
		transport, err := dialFeed(ctx, cfg, logger)
		if err != nil {
			wait := policy.NextBackOff()
			logger.Warn("feed connect failed", "error", err, "retry_in", wait)
			metrics.FeedReconnects.Inc()
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return
			}
			continue
		}
		policy.Reset()

		metrics.FeedConnected.Set(1)
		err = ingest.New(transport, inbox, logger, metrics).Run(ctx)
		metrics.FeedConnected.Set(0)
		if cerr := transport.Close(); cerr != nil {
			logger.Debug("feed transport close", "error", cerr)
		}

		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logger.Warn("feed connection lost", "error", err)
		} else {
			logger.Info("feed closed by server, reconnecting")
		}
		metrics.FeedReconnects.Inc()

		select {
		case <-time.After(policy.NextBackOff()):
		case <-ctx.Done():
			return
		}
	}
}

// dialFeed opens the transport selected by FEED_SOURCE. Kafka readers connect
// lazily, so construction never fails; websocket dials fail fast and are
// retried by the caller.
func dialFeed(ctx context.Context, cfg *config.Config, logger *slog.Logger) (ingest.Transport, error) {
	if cfg.FeedSource == "kafka" {
		return kafkaadapter.NewReader(cfg, logger), nil
	}
	return wsadapter.Dial(ctx, cfg.FeedURL, logger)
}
