package station

import (
	"context"
	"errors"
	"regexp"
)

var (
	// ErrNotLoaded is returned whenever a resolution is attempted before the index was built for the first time
	ErrNotLoaded = errors.New("the station index has not been loaded yet")

	// ErrNotFound is returned whenever no station with the requested code exists
	ErrNotFound = errors.New("no station with the requested code exists")

	// ErrInvalidCoordinate is returned whenever a given coordinate pair is out of the valid range
	ErrInvalidCoordinate = errors.New("the given coordinate pair is out of range")
)

// CodeRegex matches ICAO-style station codes
var CodeRegex = regexp.MustCompile(`^[A-Z0-9]{4}$`)

// Station represents a single weather reporting station.
// Stations are immutable once loaded; an index refresh replaces them wholesale.
type Station struct {
	ICAO      string  `json:"icao"`
	Name      string  `json:"name,omitempty"`
	Country   string  `json:"country,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Elevation int     `json:"elevation"`
}

// Distance represents a station together with its distance to a queried coordinate pair
type Distance struct {
	Station *Station `json:"station"`
	// Kilometers holds the great-circle distance to the queried point
	Kilometers float64 `json:"kilometers"`
}

// Source defines the bulk station source the index is built from
type Source interface {
	// ListAllStations retrieves the complete station list
	ListAllStations(ctx context.Context) ([]*Station, error)
}

// ValidCoordinate returns whether the given coordinate pair is inside the valid range
func ValidCoordinate(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
