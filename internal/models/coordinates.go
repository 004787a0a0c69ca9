package models

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidCoordinates is returned when a coordinate pair is outside the WGS84 range.
var ErrInvalidCoordinates = errors.New("invalid coordinates")

// Coordinates represents a geographical point defined by its latitude and longitude.
// A value is treated as an immutable snapshot once it has been handed to a pipeline run.
type Coordinates struct {
	Latitude  float64 `json:"lat"` // Latitude of the geographical point.
	Longitude float64 `json:"lon"` // Longitude of the geographical point.
}

// Validate reports whether the coordinates describe a real point on the globe.
func (c Coordinates) Validate() error {
	const (
		maxLatitude  = 90
		maxLongitude = 180
	)

	if math.IsNaN(c.Latitude) || c.Latitude < -maxLatitude || c.Latitude > maxLatitude {
		return fmt.Errorf("%w: latitude %v", ErrInvalidCoordinates, c.Latitude)
	}
	if math.IsNaN(c.Longitude) || c.Longitude < -maxLongitude || c.Longitude > maxLongitude {
		return fmt.Errorf("%w: longitude %v", ErrInvalidCoordinates, c.Longitude)
	}

	return nil
}
