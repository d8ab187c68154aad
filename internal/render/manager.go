package render

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/autosat/beacon-map/internal/domain"
	"github.com/autosat/beacon-map/internal/history"
	"github.com/autosat/beacon-map/internal/mapwidget"
	"github.com/autosat/beacon-map/internal/observability"
)

// Marker colors, lifted from the handheld's UI palette so the console and
// the device agree on what distress looks like.
const (
	alertColor  = "#dc5050"
	normalColor = "#3cb478"
)

// record pairs the widget handles owned for one history entry.
type record struct {
	marker   mapwidget.MarkerID
	popup    mapwidget.PopupID
	identity string
}

// Manager owns the marker lifecycle for one mounted map surface: exactly one
// marker and popup pair per history entry, created when the entry is appended
// and destroyed when it is evicted. It is not safe for concurrent use; the
// host event loop owns it.
type Manager struct {
	widget  mapwidget.Widget
	surface mapwidget.SurfaceID
	logger  *slog.Logger
	metrics *observability.Metrics

	records    map[uint64]record // keyed by history sequence number
	identities map[string]int    // device@timestamp -> live marker count
}

// NewManager creates a Manager bound to an already-created surface.
func NewManager(widget mapwidget.Widget, surface mapwidget.SurfaceID, logger *slog.Logger, metrics *observability.Metrics) *Manager {
	return &Manager{
		widget:     widget,
		surface:    surface,
		logger:     logger,
		metrics:    metrics,
		records:    make(map[uint64]record),
		identities: make(map[string]int),
	}
}

// Place creates the marker and popup pair for one history entry. On failure
// nothing is recorded: a marker that could not get its popup is removed
// again, so no half-built pair ever leaks. Placing an entry that already has
// a record is a no-op.
func (m *Manager) Place(e history.Entry) error {
	if _, ok := m.records[e.Seq]; ok {
		return nil
	}

	view := domain.NormalizeAnswers(e.Ping.Answers)

	color := normalColor
	alert := alerting(e.Ping, view)
	if alert {
		color = alertColor
	}

	html, err := PopupHTML(e.Ping, view)
	if err != nil {
		m.metrics.MarkerFailures.Inc()
		return fmt.Errorf("render popup for seq %d: %w", e.Seq, err)
	}

	marker, err := m.widget.AddMarker(m.surface, e.Ping.Lat, e.Ping.Lon, mapwidget.Element{Color: color, Alert: alert})
	if err != nil {
		m.metrics.MarkerFailures.Inc()
		return fmt.Errorf("add marker for seq %d: %w", e.Seq, err)
	}

	popup, err := m.widget.AttachPopup(marker, html)
	if err != nil {
		// Roll the marker back so a record never exists without its popup.
		if rmErr := m.widget.RemoveMarker(marker); rmErr != nil {
			m.logger.Warn("marker rollback failed", "seq", e.Seq, "error", rmErr)
		}
		m.metrics.MarkerFailures.Inc()
		return fmt.Errorf("attach popup for seq %d: %w", e.Seq, err)
	}

	identity := e.Ping.Identity()
	m.records[e.Seq] = record{marker: marker, popup: popup, identity: identity}
	m.identities[identity]++
	m.metrics.MarkersCreated.Inc()
	m.metrics.MarkersLive.Set(float64(len(m.records)))

	m.logger.Debug("marker placed",
		"seq", e.Seq,
		"device_id", e.Ping.DeviceID,
		"mode", string(e.Ping.Mode),
		"alert", alert,
	)
	return nil
}

// Remove destroys the marker and popup pair for an evicted entry. Entries
// whose placement failed have no record and are skipped.
func (m *Manager) Remove(e history.Entry) {
	rec, ok := m.records[e.Seq]
	if !ok {
		return
	}
	m.release(e.Seq, rec)
	m.logger.Debug("marker removed", "seq", e.Seq, "device_id", e.Ping.DeviceID)
}

// RemoveAll destroys every live pair, oldest first. Used at surface teardown.
func (m *Manager) RemoveAll() {
	seqs := make([]uint64, 0, len(m.records))
	for seq := range m.records {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })

	for _, seq := range seqs {
		m.release(seq, m.records[seq])
	}
}

// Sync makes the live marker set match entries exactly: stale records are
// released and missing entries are placed oldest first. Placement failures
// are logged and skipped so one bad entry cannot block the rest; the store
// remains the source of truth and a later Sync retries them.
func (m *Manager) Sync(entries []history.Entry) {
	present := make(map[uint64]struct{}, len(entries))
	for _, e := range entries {
		present[e.Seq] = struct{}{}
	}

	for seq, rec := range m.records {
		if _, ok := present[seq]; !ok {
			m.release(seq, rec)
		}
	}

	for _, e := range entries {
		if err := m.Place(e); err != nil {
			m.logger.Error("sync placement failed", "seq", e.Seq, "error", err)
		}
	}
}

// Live returns the number of marker and popup pairs currently on the surface.
func (m *Manager) Live() int {
	return len(m.records)
}

// Has reports whether at least one live marker represents the given device
// identity. Duplicate deliveries of the same identity each keep their own
// marker, so Has stays true until the last of them is evicted.
func (m *Manager) Has(deviceID string, ts time.Time) bool {
	p := domain.Ping{DeviceID: deviceID, Timestamp: ts}
	return m.identities[p.Identity()] > 0
}

// release destroys one pair, popup before the marker it hangs off, and drops
// the record unconditionally. Widget refusals are logged, not retried: the
// record is gone either way, which is what keeps eviction from leaking.
func (m *Manager) release(seq uint64, rec record) {
	if err := m.widget.RemovePopup(rec.popup); err != nil {
		m.logger.Warn("popup removal failed", "seq", seq, "error", err)
	}
	if err := m.widget.RemoveMarker(rec.marker); err != nil {
		m.logger.Warn("marker removal failed", "seq", seq, "error", err)
	}

	delete(m.records, seq)
	if n := m.identities[rec.identity] - 1; n > 0 {
		m.identities[rec.identity] = n
	} else {
		delete(m.identities, rec.identity)
	}

	m.metrics.MarkersDestroyed.Inc()
	m.metrics.MarkersLive.Set(float64(len(m.records)))
}
