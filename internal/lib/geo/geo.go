package geo

import (
	"errors"
	"fmt"

	"github.com/twpayne/go-polyline"
)

var (
	// ErrEmptyPolyline is returned when a route carries no geometry at all
	ErrEmptyPolyline = errors.New("encoded polyline string is empty")

	// ErrInvalidPolyline is returned for geometry that cannot be decoded
	ErrInvalidPolyline = errors.New("invalid encoded polyline")
)

// DecodePolyline decodes a Google encoded polyline (precision 5) into its
// ordered point sequence.
func DecodePolyline(encoded string) ([]Point, error) {
	if encoded == "" {
		return nil, ErrEmptyPolyline
	}

	coords, rest, err := polyline.DecodeCoords([]byte(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPolyline, err)
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrInvalidPolyline, len(rest))
	}

	points := make([]Point, len(coords))
	for i, coord := range coords {
		points[i] = Point{Latitude: coord[0], Longitude: coord[1]}
		if !isValidCoordinate(points[i]) {
			return nil, fmt.Errorf("%w: point %d out of range (%f, %f)", ErrInvalidPolyline, i, coord[0], coord[1])
		}
	}

	return points, nil
}

// EncodePolyline is the inverse of DecodePolyline
func EncodePolyline(points []Point) string {
	coords := make([][]float64, len(points))
	for i, p := range points {
		coords[i] = []float64{p.Latitude, p.Longitude}
	}
	return string(polyline.EncodeCoords(coords))
}

// BoundsOf returns the union region of every point in paths. Empty input, or
// input whose paths are all empty, yields the empty region.
func BoundsOf(paths [][]Point) Region {
	var region Region
	for _, path := range paths {
		for _, p := range path {
			region.Extend(p)
		}
	}
	return region
}

// NewPoint creates a Point from latitude and longitude values with validation
func NewPoint(latitude, longitude float64) (Point, error) {
	point := Point{Latitude: latitude, Longitude: longitude}
	if !isValidCoordinate(point) {
		return Point{}, errors.New("invalid coordinates: latitude must be [-90, 90], longitude must be [-180, 180]")
	}
	return point, nil
}

// isValidCoordinate validates latitude and longitude values
func isValidCoordinate(point Point) bool {
	return point.Latitude >= -90 && point.Latitude <= 90 &&
		point.Longitude >= -180 && point.Longitude <= 180
}
