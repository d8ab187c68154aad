// Package mapwidget defines the narrow capability set the live map consumes
// from a map-rendering widget. The widget itself (Leaflet in a browser, a
// recording fake in tests) lives behind this interface; nothing in the
// rendering core depends on how pixels get drawn.
package mapwidget

// SurfaceID identifies one created map instance.
type SurfaceID string

// MarkerID identifies one positioned visual marker on a surface.
type MarkerID string

// PopupID identifies one info popup attached to a marker.
type PopupID string

// Element describes the visual dot placed at a marker's position. Color is
// a CSS color value; Alert selects the pulsing distress style registered by
// EnsureStyles.
type Element struct {
	Color string
	Alert bool
}

// Widget is the map-rendering collaborator. Implementations own all visual
// state; callers own the returned handles and must release them with the
// matching Remove/Destroy call exactly once.
type Widget interface {
	// EnsureStyles registers the marker styles. Idempotent; the map host
	// invokes it once per process before the first surface is created.
	EnsureStyles() error

	// CreateSurface creates one map instance centered at the given WGS-84
	// position and zoom level.
	CreateSurface(centerLat, centerLon float64, zoom int) (SurfaceID, error)

	// AddMarker places a visual marker on the surface.
	AddMarker(surface SurfaceID, lat, lon float64, el Element) (MarkerID, error)

	// AttachPopup attaches an info popup, given as an HTML fragment, to a
	// marker.
	AttachPopup(marker MarkerID, html string) (PopupID, error)

	// RemoveMarker releases a marker and its visual.
	RemoveMarker(marker MarkerID) error

	// RemovePopup releases a popup.
	RemovePopup(popup PopupID) error

	// DestroySurface destroys a map instance and everything still on it.
	DestroySurface(surface SurfaceID) error
}
