// Package leaflet renders the map widget in a browser. The bridge keeps an
// authoritative copy of the widget state server-side and streams every
// mutation to subscribed pages as JSON ops over Server-Sent Events; a page
// arriving late gets the current state replayed before live ops.
package leaflet

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/autosat/beacon-map/internal/mapwidget"
)

// op is one widget mutation on the wire to the browser.
type op struct {
	Op        string  `json:"op"`
	Surface   string  `json:"surface,omitempty"`
	Marker    string  `json:"marker,omitempty"`
	Popup     string  `json:"popup,omitempty"`
	CenterLat float64 `json:"centerLat"`
	CenterLon float64 `json:"centerLon"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Zoom      int     `json:"zoom"`
	Color     string  `json:"color,omitempty"`
	Alert     bool    `json:"alert"`
	HTML      string  `json:"html,omitempty"`
}

type markerRec struct {
	order     int
	lat, lon  float64
	el        mapwidget.Element
	popup     mapwidget.PopupID
	popupHTML string
}

// Bridge implements mapwidget.Widget over a browser page. One surface can be
// live at a time, which is all the host ever mounts.
type Bridge struct {
	logger *slog.Logger

	mu          sync.Mutex
	stylesDone  bool
	surface     mapwidget.SurfaceID
	surfaceLive bool
	centerLat   float64
	centerLon   float64
	zoom        int
	order       int
	markers     map[mapwidget.MarkerID]*markerRec
	popups      map[mapwidget.PopupID]mapwidget.MarkerID
	subs        map[chan []byte]struct{}
}

// NewBridge creates an empty bridge with no subscribers.
func NewBridge(logger *slog.Logger) *Bridge {
	return &Bridge{
		logger:  logger,
		markers: make(map[mapwidget.MarkerID]*markerRec),
		popups:  make(map[mapwidget.PopupID]mapwidget.MarkerID),
		subs:    make(map[chan []byte]struct{}),
	}
}

// EnsureStyles marks the marker styles as injected and tells pages to add
// them. Safe to call repeatedly; only the first call broadcasts.
func (b *Bridge) EnsureStyles() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stylesDone {
		return nil
	}
	b.stylesDone = true
	b.broadcastLocked(op{Op: "ensure_styles"})
	return nil
}

// CreateSurface brings up the map view at the given center and zoom.
func (b *Bridge) CreateSurface(centerLat, centerLon float64, zoom int) (mapwidget.SurfaceID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.surfaceLive {
		return "", fmt.Errorf("surface %q is already live", b.surface)
	}

	id := mapwidget.SurfaceID("s-" + uuid.NewString())
	b.surface = id
	b.surfaceLive = true
	b.centerLat = centerLat
	b.centerLon = centerLon
	b.zoom = zoom

	b.broadcastLocked(op{
		Op:        "create_surface",
		Surface:   string(id),
		CenterLat: centerLat,
		CenterLon: centerLon,
		Zoom:      zoom,
	})
	return id, nil
}

// AddMarker places a marker on the live surface.
func (b *Bridge) AddMarker(surface mapwidget.SurfaceID, lat, lon float64, el mapwidget.Element) (mapwidget.MarkerID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.surfaceLive || surface != b.surface {
		return "", fmt.Errorf("unknown surface %q", surface)
	}

	id := mapwidget.MarkerID("m-" + uuid.NewString())
	b.order++
	b.markers[id] = &markerRec{order: b.order, lat: lat, lon: lon, el: el}

	b.broadcastLocked(op{
		Op:      "add_marker",
		Surface: string(surface),
		Marker:  string(id),
		Lat:     lat,
		Lon:     lon,
		Color:   el.Color,
		Alert:   el.Alert,
	})
	return id, nil
}

// AttachPopup binds popup HTML to a marker. A marker holds at most one
// popup.
func (b *Bridge) AttachPopup(marker mapwidget.MarkerID, html string) (mapwidget.PopupID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.markers[marker]
	if !ok {
		return "", fmt.Errorf("unknown marker %q", marker)
	}
	if rec.popup != "" {
		return "", fmt.Errorf("marker %q already has popup %q", marker, rec.popup)
	}

	id := mapwidget.PopupID("p-" + uuid.NewString())
	rec.popup = id
	rec.popupHTML = html
	b.popups[id] = marker

	b.broadcastLocked(op{
		Op:     "attach_popup",
		Marker: string(marker),
		Popup:  string(id),
		HTML:   html,
	})
	return id, nil
}

// RemoveMarker removes a marker. Its popup, if any, must already be gone.
func (b *Bridge) RemoveMarker(marker mapwidget.MarkerID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.markers[marker]
	if !ok {
		return fmt.Errorf("unknown marker %q", marker)
	}
	if rec.popup != "" {
		delete(b.popups, rec.popup)
	}
	delete(b.markers, marker)

	b.broadcastLocked(op{Op: "remove_marker", Marker: string(marker)})
	return nil
}

// RemovePopup detaches and removes a popup.
func (b *Bridge) RemovePopup(popup mapwidget.PopupID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	marker, ok := b.popups[popup]
	if !ok {
		return fmt.Errorf("unknown popup %q", popup)
	}
	if rec, ok := b.markers[marker]; ok {
		rec.popup = ""
		rec.popupHTML = ""
	}
	delete(b.popups, popup)

	b.broadcastLocked(op{Op: "remove_popup", Popup: string(popup)})
	return nil
}

// DestroySurface tears the map view down. Markers left on the surface go
// with it.
func (b *Bridge) DestroySurface(surface mapwidget.SurfaceID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.surfaceLive || surface != b.surface {
		return fmt.Errorf("unknown surface %q", surface)
	}

	b.surfaceLive = false
	b.surface = ""
	b.markers = make(map[mapwidget.MarkerID]*markerRec)
	b.popups = make(map[mapwidget.PopupID]mapwidget.MarkerID)

	b.broadcastLocked(op{Op: "destroy_surface", Surface: string(surface)})
	return nil
}

// subscribe registers a new page. The returned channel first yields a replay
// of the current widget state, then live ops. cancel unregisters.
func (b *Bridge) subscribe() (<-chan []byte, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	replay := b.replayLocked()
	ch := make(chan []byte, len(replay)+256)
	for _, o := range replay {
		ch <- mustMarshal(o)
	}
	b.subs[ch] = struct{}{}

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
	}
	return ch, cancel
}

// replayLocked reconstructs the op sequence that brings an empty page to the
// current state: styles, surface, then markers and popups in creation order.
func (b *Bridge) replayLocked() []op {
	var ops []op
	if b.stylesDone {
		ops = append(ops, op{Op: "ensure_styles"})
	}
	if !b.surfaceLive {
		return ops
	}

	ops = append(ops, op{
		Op:        "create_surface",
		Surface:   string(b.surface),
		CenterLat: b.centerLat,
		CenterLon: b.centerLon,
		Zoom:      b.zoom,
	})

	ids := make([]mapwidget.MarkerID, 0, len(b.markers))
	for id := range b.markers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return b.markers[ids[i]].order < b.markers[ids[j]].order })

	for _, id := range ids {
		rec := b.markers[id]
		ops = append(ops, op{
			Op:      "add_marker",
			Surface: string(b.surface),
			Marker:  string(id),
			Lat:     rec.lat,
			Lon:     rec.lon,
			Color:   rec.el.Color,
			Alert:   rec.el.Alert,
		})
		if rec.popup != "" {
			ops = append(ops, op{
				Op:     "attach_popup",
				Marker: string(id),
				Popup:  string(rec.popup),
				HTML:   rec.popupHTML,
			})
		}
	}
	return ops
}

// broadcastLocked fans one op out to every subscriber. A page that cannot
// keep up is dropped; it will reconnect and get a fresh replay.
func (b *Bridge) broadcastLocked(o op) {
	data := mustMarshal(o)
	for ch := range b.subs {
		select {
		case ch <- data:
		default:
			delete(b.subs, ch)
			close(ch)
			b.logger.Warn("dropped slow map page subscriber")
		}
	}
}

func mustMarshal(o op) []byte {
	data, err := json.Marshal(o)
	if err != nil {
		panic(err)
	}
	return data
}
