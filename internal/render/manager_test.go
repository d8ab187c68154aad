package render

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autosat/beacon-map/internal/domain"
	"github.com/autosat/beacon-map/internal/history"
	"github.com/autosat/beacon-map/internal/mapwidget"
	"github.com/autosat/beacon-map/internal/observability"
)

// --- fake widget ---

type fakeWidget struct {
	nextID int

	markers   map[mapwidget.MarkerID]mapwidget.Element
	popups    map[mapwidget.PopupID]mapwidget.MarkerID
	popupHTML map[mapwidget.PopupID]string

	addMarkerErr   error
	attachPopupErr error

	ops []string
}

func newFakeWidget() *fakeWidget {
	return &fakeWidget{
		markers:   make(map[mapwidget.MarkerID]mapwidget.Element),
		popups:    make(map[mapwidget.PopupID]mapwidget.MarkerID),
		popupHTML: make(map[mapwidget.PopupID]string),
	}
}

func (w *fakeWidget) EnsureStyles() error {
	w.ops = append(w.ops, "styles")
	return nil
}

func (w *fakeWidget) CreateSurface(_, _ float64, _ int) (mapwidget.SurfaceID, error) {
	w.ops = append(w.ops, "surface")
	return "surface-1", nil
}

func (w *fakeWidget) AddMarker(_ mapwidget.SurfaceID, _, _ float64, el mapwidget.Element) (mapwidget.MarkerID, error) {
	if w.addMarkerErr != nil {
		return "", w.addMarkerErr
	}
	w.nextID++
	id := mapwidget.MarkerID(fmt.Sprintf("m%d", w.nextID))
	w.markers[id] = el
	w.ops = append(w.ops, "add-marker "+string(id))
	return id, nil
}

func (w *fakeWidget) AttachPopup(marker mapwidget.MarkerID, html string) (mapwidget.PopupID, error) {
	if w.attachPopupErr != nil {
		return "", w.attachPopupErr
	}
	w.nextID++
	id := mapwidget.PopupID(fmt.Sprintf("p%d", w.nextID))
	w.popups[id] = marker
	w.popupHTML[id] = html
	w.ops = append(w.ops, "attach-popup "+string(id))
	return id, nil
}

func (w *fakeWidget) RemoveMarker(marker mapwidget.MarkerID) error {
	delete(w.markers, marker)
	w.ops = append(w.ops, "remove-marker "+string(marker))
	return nil
}

func (w *fakeWidget) RemovePopup(popup mapwidget.PopupID) error {
	delete(w.popups, popup)
	delete(w.popupHTML, popup)
	w.ops = append(w.ops, "remove-popup "+string(popup))
	return nil
}

func (w *fakeWidget) DestroySurface(_ mapwidget.SurfaceID) error {
	w.ops = append(w.ops, "destroy")
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(w mapwidget.Widget) *Manager {
	return NewManager(w, "surface-1", discardLogger(), observability.NewMetricsForTesting())
}

func markerEntry(seq uint64, deviceID string) history.Entry {
	return history.Entry{Seq: seq, Ping: domain.Ping{
		DeviceID:      deviceID,
		Timestamp:     time.Date(2025, 6, 14, 19, 4, 5, 0, time.UTC),
		Lat:           43.7315,
		Lon:           -79.7624,
		Mode:          domain.ModeNormal,
		SignalQuality: 2.9,
	}}
}

// --- tests ---

func TestManager_PlaceCreatesPair(t *testing.T) {
	w := newFakeWidget()
	m := newTestManager(w)

	e := markerEntry(1, "autosat-01")
	require.NoError(t, m.Place(e))

	assert.Equal(t, 1, m.Live())
	require.Len(t, w.markers, 1)
	require.Len(t, w.popups, 1)
	for _, parent := range w.popups {
		_, ok := w.markers[parent]
		assert.True(t, ok, "popup hangs off the placed marker")
	}
	assert.True(t, m.Has("autosat-01", e.Ping.Timestamp))
}

func TestManager_PlaceSameSeqTwice(t *testing.T) {
	w := newFakeWidget()
	m := newTestManager(w)

	e := markerEntry(1, "autosat-01")
	require.NoError(t, m.Place(e))
	require.NoError(t, m.Place(e))

	assert.Equal(t, 1, m.Live())
	assert.Len(t, w.markers, 1)
}

func TestManager_AlertStyling(t *testing.T) {
	tests := []struct {
		name      string
		mode      domain.Mode
		answers   string
		wantColor string
		wantAlert bool
	}{
		{
			name:      "distress mode",
			mode:      domain.ModeDistress,
			wantColor: alertColor,
			wantAlert: true,
		},
		{
			name:      "danger answer overrides normal mode",
			mode:      domain.ModeNormal,
			answers:   `[{"q":"IN_DANGER","a":"Yes"}]`,
			wantColor: alertColor,
			wantAlert: true,
		},
		{
			name:      "routine ping",
			mode:      domain.ModeNormal,
			answers:   `[{"q":"status","a":"fine"}]`,
			wantColor: normalColor,
			wantAlert: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newFakeWidget()
			m := newTestManager(w)

			e := markerEntry(1, "autosat-01")
			e.Ping.Mode = tt.mode
			if tt.answers != "" {
				e.Ping.Answers = json.RawMessage(tt.answers)
			}
			require.NoError(t, m.Place(e))

			require.Len(t, w.markers, 1)
			for _, el := range w.markers {
				assert.Equal(t, tt.wantColor, el.Color)
				assert.Equal(t, tt.wantAlert, el.Alert)
			}
		})
	}
}

func TestManager_RemoveDestroysPopupBeforeMarker(t *testing.T) {
	w := newFakeWidget()
	m := newTestManager(w)

	e := markerEntry(1, "autosat-01")
	require.NoError(t, m.Place(e))
	m.Remove(e)

	assert.Equal(t, 0, m.Live())
	assert.Empty(t, w.markers)
	assert.Empty(t, w.popups)
	assert.False(t, m.Has("autosat-01", e.Ping.Timestamp))

	var popupAt, markerAt int
	for i, op := range w.ops {
		if strings.HasPrefix(op, "remove-popup") {
			popupAt = i
		}
		if strings.HasPrefix(op, "remove-marker") {
			markerAt = i
		}
	}
	assert.Less(t, popupAt, markerAt, "popup is detached before its marker goes")
}

func TestManager_EvictionKeepsMarkerSetBounded(t *testing.T) {
	w := newFakeWidget()
	m := newTestManager(w)
	s := history.New(3)

	for i := 1; i <= 5; i++ {
		added, evicted := s.Append(markerEntry(0, fmt.Sprintf("autosat-%02d", i)).Ping)
		for _, old := range evicted {
			m.Remove(old)
		}
		require.NoError(t, m.Place(added))
	}

	assert.Equal(t, 3, m.Live())
	assert.Len(t, w.markers, 3)
	assert.Len(t, w.popups, 3)

	ts := markerEntry(0, "").Ping.Timestamp
	assert.False(t, m.Has("autosat-01", ts), "evicted ping has no marker left")
	assert.False(t, m.Has("autosat-02", ts))
	assert.True(t, m.Has("autosat-03", ts))
	assert.True(t, m.Has("autosat-05", ts))
}

func TestManager_DuplicateIdentityKeepsBothMarkers(t *testing.T) {
	w := newFakeWidget()
	m := newTestManager(w)

	first := markerEntry(1, "autosat-01")
	second := markerEntry(2, "autosat-01")
	require.NoError(t, m.Place(first))
	require.NoError(t, m.Place(second))

	assert.Equal(t, 2, m.Live())
	assert.Len(t, w.markers, 2)

	m.Remove(first)
	assert.True(t, m.Has("autosat-01", first.Ping.Timestamp), "second copy still live")

	m.Remove(second)
	assert.False(t, m.Has("autosat-01", first.Ping.Timestamp))
}

func TestManager_AddMarkerFailureLeavesNoRecord(t *testing.T) {
	w := newFakeWidget()
	w.addMarkerErr = errors.New("surface is gone")
	m := newTestManager(w)

	err := m.Place(markerEntry(1, "autosat-01"))
	require.Error(t, err)
	assert.Equal(t, 0, m.Live())
	assert.Empty(t, w.markers)
	assert.Empty(t, w.popups)

	// One refused placement must not poison the next.
	w.addMarkerErr = nil
	require.NoError(t, m.Place(markerEntry(2, "autosat-02")))
	assert.Equal(t, 1, m.Live())
}

func TestManager_PopupFailureRollsBackMarker(t *testing.T) {
	w := newFakeWidget()
	w.attachPopupErr = errors.New("popup rejected")
	m := newTestManager(w)

	err := m.Place(markerEntry(1, "autosat-01"))
	require.Error(t, err)
	assert.Equal(t, 0, m.Live())
	assert.Empty(t, w.markers, "marker without a popup is rolled back")
	assert.Empty(t, w.popups)
}

func TestManager_RemoveAll(t *testing.T) {
	w := newFakeWidget()
	m := newTestManager(w)

	for i := 1; i <= 4; i++ {
		require.NoError(t, m.Place(markerEntry(uint64(i), fmt.Sprintf("autosat-%02d", i))))
	}
	m.RemoveAll()

	assert.Equal(t, 0, m.Live())
	assert.Empty(t, w.markers)
	assert.Empty(t, w.popups)
}

func TestManager_SyncAlignsWithSnapshot(t *testing.T) {
	w := newFakeWidget()
	m := newTestManager(w)

	require.NoError(t, m.Place(markerEntry(1, "autosat-01")))
	require.NoError(t, m.Place(markerEntry(2, "autosat-02")))

	m.Sync([]history.Entry{
		markerEntry(2, "autosat-02"),
		markerEntry(3, "autosat-03"),
		markerEntry(4, "autosat-04"),
	})

	assert.Equal(t, 3, m.Live())
	assert.Len(t, w.markers, 3)
	ts := markerEntry(0, "").Ping.Timestamp
	assert.False(t, m.Has("autosat-01", ts))
	assert.True(t, m.Has("autosat-02", ts))
	assert.True(t, m.Has("autosat-04", ts))
}

func TestManager_SyncSkipsFailedPlacements(t *testing.T) {
	w := newFakeWidget()
	m := newTestManager(w)

	require.NoError(t, m.Place(markerEntry(1, "autosat-01")))

	w.addMarkerErr = errors.New("surface is gone")
	m.Sync([]history.Entry{
		markerEntry(1, "autosat-01"),
		markerEntry(2, "autosat-02"),
	})

	assert.Equal(t, 1, m.Live(), "existing record survives, failed placement is skipped")
}

func TestManager_RemoveUnknownSeq(t *testing.T) {
	w := newFakeWidget()
	m := newTestManager(w)

	m.Remove(markerEntry(99, "autosat-99"))

	assert.Equal(t, 0, m.Live())
	assert.Empty(t, w.ops, "nothing to release, nothing touched")
}
