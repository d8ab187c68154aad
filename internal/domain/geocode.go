package domain

import "context"

// Place is a reverse-geocoded location shown beside raw coordinates. The
// zero Place means no result: a failed or empty lookup degrades to nothing
// rather than to an error the display layer has to special-case.
type Place struct {
	Name  string // short locality name ("Brampton")
	Label string // full formatted label ("Brampton, Ontario, Canada")
	Lat   float64
	Lon   float64
}

// Geocoder resolves coordinates to a place. Implementations must be safe
// for concurrent use; the admin surface calls them from request handlers.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, lat, lon float64) (Place, error)
}
