package geo

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

const (
	// earthRadiusKm is the mean Earth radius used by the haversine formula.
	earthRadiusKm = 6371.0

	// significantMoveKm is the distance beyond which a location's cache is
	// considered to belong to a different place.
	significantMoveKm = 10.0
)

// ErrInvalidCoordinates is returned when a coordinate pair cannot be turned
// into a cache key (NaN, infinite, or out of range).
var ErrInvalidCoordinates = errors.New("invalid coordinates")

// LocationKey identifies a ~1 km grid cell. Nearby coordinates share a key.
type LocationKey string

// Coordinates is a latitude/longitude pair in decimal degrees.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Validate rejects coordinates that Quantize must never see.
func (c Coordinates) Validate() error {
	switch {
	case math.IsNaN(c.Lat) || math.IsNaN(c.Lng):
		return fmt.Errorf("%w: NaN in (%v, %v)", ErrInvalidCoordinates, c.Lat, c.Lng)
	case math.IsInf(c.Lat, 0) || math.IsInf(c.Lng, 0):
		return fmt.Errorf("%w: infinite value in (%v, %v)", ErrInvalidCoordinates, c.Lat, c.Lng)
	case c.Lat < -90 || c.Lat > 90:
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidCoordinates, c.Lat)
	case c.Lng < -180 || c.Lng > 180:
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidCoordinates, c.Lng)
	}
	return nil
}

// Key returns the quantized cache key for c. c must be valid.
func (c Coordinates) Key() LocationKey {
	return Quantize(c.Lat, c.Lng)
}

// Quantize rounds both coordinates to two decimal places and joins them as
// "{lat}_{lng}". Inputs are assumed finite; see Coordinates.Validate.
func Quantize(lat, lng float64) LocationKey {
	return LocationKey(formatGrid(lat) + "_" + formatGrid(lng))
}

func formatGrid(v float64) string {
	r := math.Round(v*100) / 100
	if r == 0 {
		r = 0 // drop the sign of -0
	}
	return strconv.FormatFloat(r, 'f', 2, 64)
}

// DistanceKm returns the great-circle distance between a and b.
func DistanceKm(a, b Coordinates) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// HasMovedSignificantly reports whether the two points are more than 10 km
// apart. It ignores the quantization grid entirely.
func HasMovedSignificantly(oldLat, oldLng, newLat, newLng float64) bool {
	return DistanceKm(Coordinates{oldLat, oldLng}, Coordinates{newLat, newLng}) > significantMoveKm
}
