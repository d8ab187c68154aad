// Package maphost coordinates the map surface lifecycle with the ping feed.
// One host owns the history store for the life of the process and, while
// mounted, the marker manager for the current surface.
package maphost

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/autosat/beacon-map/internal/config"
	"github.com/autosat/beacon-map/internal/domain"
	"github.com/autosat/beacon-map/internal/history"
	"github.com/autosat/beacon-map/internal/ingest"
	"github.com/autosat/beacon-map/internal/mapwidget"
	"github.com/autosat/beacon-map/internal/observability"
	"github.com/autosat/beacon-map/internal/render"
)

// Host applies classified feed events to the history store and, while a
// surface is mounted, keeps the marker set reconciled with it. All mutation
// flows through Run's goroutine; the mutex exists so the HTTP surface can
// take consistent reads.
type Host struct {
	widget  mapwidget.Widget
	logger  *slog.Logger
	metrics *observability.Metrics

	centerLat float64
	centerLon float64
	zoom      int

	mu         sync.Mutex
	store      *history.Store
	surface    mapwidget.SurfaceID
	manager    *render.Manager
	mounted    bool
	stylesDone bool
}

// New creates a Host over an empty history store. No surface exists until
// Mount.
func New(widget mapwidget.Widget, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *Host {
	return &Host{
		widget:    widget,
		logger:    logger,
		metrics:   metrics,
		centerLat: cfg.MapCenterLat,
		centerLon: cfg.MapCenterLon,
		zoom:      cfg.MapZoom,
		store:     history.New(cfg.HistoryCapacity),
	}
}

// Mount injects widget styles, creates the surface, and renders a marker for
// every ping already held in history. Styles are injected at most once per
// host even across remounts; a failed injection is retried on the next
// Mount. Mounting an already-mounted host is a no-op.
func (h *Host) Mount() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.mounted {
		return nil
	}

	if !h.stylesDone {
		if err := h.widget.EnsureStyles(); err != nil {
			return fmt.Errorf("ensure widget styles: %w", err)
		}
		h.stylesDone = true
	}

	surface, err := h.widget.CreateSurface(h.centerLat, h.centerLon, h.zoom)
	if err != nil {
		return fmt.Errorf("create surface: %w", err)
	}

	h.surface = surface
	h.manager = render.NewManager(h.widget, surface, h.logger, h.metrics)
	h.manager.Sync(h.store.Snapshot())
	h.mounted = true

	h.logger.Info("map mounted",
		"surface", string(surface),
		"center_lat", h.centerLat,
		"center_lon", h.centerLon,
		"zoom", h.zoom,
		"restored", h.store.Len(),
	)
	return nil
}

// Unmount destroys every marker and popup, then the surface. History is
// retained: a later Mount renders it again. Unmounting an unmounted host is
// a no-op.
func (h *Host) Unmount() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.mounted {
		return
	}

	h.manager.RemoveAll()
	if err := h.widget.DestroySurface(h.surface); err != nil {
		h.logger.Warn("surface teardown failed", "surface", string(h.surface), "error", err)
	}

	h.manager = nil
	h.surface = ""
	h.mounted = false
	h.logger.Info("map unmounted", "retained", h.store.Len())
}

// Run consumes classified feed events until ctx is canceled or the inbox is
// closed. The feed ending does not tear the surface down; markers stay up
// until Unmount.
func (h *Host) Run(ctx context.Context, inbox <-chan ingest.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-inbox:
			if !ok {
				h.logger.Info("event inbox closed")
				return
			}
			h.HandleEvent(ev)
		}
	}
}

// HandleEvent applies one classified feed event. Only pings mutate state;
// control frames and malformed frames are logged and dropped.
func (h *Host) HandleEvent(ev ingest.Event) {
	switch ev.Kind {
	case domain.KindPing:
		h.handlePing(ev.Ping)
	case domain.KindControl:
		h.logger.Debug("control frame ignored")
	case domain.KindMalformed:
		snippet := ev.Raw
		if len(snippet) > 120 {
			snippet = snippet[:120]
		}
		h.logger.Warn("malformed feed frame dropped",
			"size", len(ev.Raw),
			"frame", string(snippet),
			"error", ev.Err,
		)
	}
}

func (h *Host) handlePing(p domain.Ping) {
	h.mu.Lock()
	defer h.mu.Unlock()

	start := time.Now()

	added, evicted := h.store.Append(p)
	if len(evicted) > 0 {
		h.metrics.Evictions.Add(float64(len(evicted)))
	}
	h.metrics.HistoryLength.Set(float64(h.store.Len()))

	if h.mounted {
		for _, old := range evicted {
			h.manager.Remove(old)
		}
		if err := h.manager.Place(added); err != nil {
			h.logger.Error("marker placement failed",
				"seq", added.Seq,
				"device_id", p.DeviceID,
				"error", err,
			)
		}
	}

	h.metrics.ReconcileDuration.Observe(time.Since(start).Seconds())
	h.logger.Debug("ping stored",
		"seq", added.Seq,
		"device_id", p.DeviceID,
		"mode", string(p.Mode),
		"evicted", len(evicted),
	)
}

// Stats is a point-in-time view of the host for the admin surface.
type Stats struct {
	Mounted         bool `json:"mounted"`
	HistoryLength   int  `json:"history_length"`
	HistoryCapacity int  `json:"history_capacity"`
	LiveMarkers     int  `json:"live_markers"`
}

// Stats reports the current host state.
func (h *Host) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := Stats{
		Mounted:         h.mounted,
		HistoryLength:   h.store.Len(),
		HistoryCapacity: h.store.Capacity(),
	}
	if h.mounted {
		s.LiveMarkers = h.manager.Live()
	}
	return s
}

// History returns a copy of the stored pings, oldest first.
func (h *Host) History() []history.Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.store.Snapshot()
}

// HasMarker reports whether a live marker represents the given identity.
// Always false while unmounted.
func (h *Host) HasMarker(deviceID string, ts time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mounted && h.manager.Has(deviceID, ts)
}

// Mounted reports whether a surface is currently up.
func (h *Host) Mounted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mounted
}

// CheckReadiness reports whether the console can serve traffic: the map
// surface must be mounted.
func (h *Host) CheckReadiness(_ context.Context) error {
	if !h.Mounted() {
		return errors.New("map surface not mounted")
	}
	return nil
}
