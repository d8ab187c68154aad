package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/autosat/beacon-map/internal/domain"
	"github.com/autosat/beacon-map/internal/history"
	"github.com/autosat/beacon-map/internal/maphost"
)

// ConsoleState is the host-side state the admin endpoints report.
type ConsoleState interface {
	CheckReadiness(ctx context.Context) error
	Stats() maphost.Stats
	History() []history.Entry
}

// PageUI serves the browser-facing console page and its event stream.
type PageUI interface {
	ServePage(w http.ResponseWriter, r *http.Request)
	ServeEvents(w http.ResponseWriter, r *http.Request)
}

// Server exposes the console page, its event stream, and the health,
// readiness, metrics, and admin endpoints.
type Server struct {
	httpServer *http.Server
	state      ConsoleState
	geocoder   domain.Geocoder
	logger     *slog.Logger
}

// NewServer creates the console HTTP server. geocoder may be nil, in which
// case history responses carry no place names.
func NewServer(addr string, state ConsoleState, ui PageUI, geocoder domain.Geocoder, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:        addr,
			Handler:     mux,
			ReadTimeout: 10 * time.Second,
			// No write timeout: /events streams for the page's lifetime.
			IdleTimeout: 60 * time.Second,
		},
		state:    state,
		geocoder: geocoder,
		logger:   logger,
	}

	mux.HandleFunc("GET /{$}", ui.ServePage)
	mux.HandleFunc("GET /events", ui.ServeEvents)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.state.CheckReadiness(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.state.Stats())
}

// historyItem is the admin wire shape of one stored ping.
type historyItem struct {
	Seq        uint64          `json:"seq"`
	DeviceID   string          `json:"deviceId"`
	TS         string          `json:"ts"`
	Lat        float64         `json:"lat"`
	Lon        float64         `json:"lon"`
	Mode       string          `json:"mode"`
	PDOP       float64         `json:"pdop"`
	Answers    json.RawMessage `json:"answers,omitempty"`
	ReceivedAt string          `json:"receivedAt"`
	Place      string          `json:"place,omitempty"`
}

// geocodeWindow bounds the total time one history request may spend on
// place lookups. Cached cells still resolve after the deadline; misses
// are skipped.
const geocodeWindow = 2 * time.Second

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries := s.state.History()

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
			return
		}
		if limit < len(entries) {
			// Newest entries live at the tail.
			entries = entries[len(entries)-limit:]
		}
	}

	items := make([]historyItem, len(entries))
	for i, e := range entries {
		items[i] = historyItem{
			Seq:        e.Seq,
			DeviceID:   e.Ping.DeviceID,
			TS:         e.Ping.Timestamp.UTC().Format(time.RFC3339),
			Lat:        e.Ping.Lat,
			Lon:        e.Ping.Lon,
			Mode:       string(e.Ping.Mode),
			PDOP:       e.Ping.SignalQuality,
			Answers:    e.Ping.Answers,
			ReceivedAt: e.Ping.ReceivedAt.UTC().Format(time.RFC3339),
		}
	}

	if s.geocoder != nil {
		geoCtx, cancel := context.WithTimeout(r.Context(), geocodeWindow)
		for i := range items {
			place, err := s.geocoder.ReverseGeocode(geoCtx, items[i].Lat, items[i].Lon)
			if err != nil {
				continue
			}
			items[i].Place = place.Name
		}
		cancel()
	}

	writeJSON(w, http.StatusOK, items)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort admin response
}
