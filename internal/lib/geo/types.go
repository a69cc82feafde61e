package geo

import "math"

// Point represents a geographic coordinate
type Point struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

// Region is the smallest latitude/longitude box covering a set of points.
// The zero value is the empty region.
type Region struct {
	SouthWest Point `json:"south_west"`
	NorthEast Point `json:"north_east"`
	set       bool
}

// IsEmpty reports whether no point has been added to the region
func (r Region) IsEmpty() bool {
	return !r.set
}

// Extend grows the region to include p
func (r *Region) Extend(p Point) {
	if !r.set {
		r.SouthWest, r.NorthEast = p, p
		r.set = true
		return
	}
	r.SouthWest.Latitude = math.Min(r.SouthWest.Latitude, p.Latitude)
	r.SouthWest.Longitude = math.Min(r.SouthWest.Longitude, p.Longitude)
	r.NorthEast.Latitude = math.Max(r.NorthEast.Latitude, p.Latitude)
	r.NorthEast.Longitude = math.Max(r.NorthEast.Longitude, p.Longitude)
}

// Contains reports whether p lies inside the region, edges included
func (r Region) Contains(p Point) bool {
	if !r.set {
		return false
	}
	return p.Latitude >= r.SouthWest.Latitude && p.Latitude <= r.NorthEast.Latitude &&
		p.Longitude >= r.SouthWest.Longitude && p.Longitude <= r.NorthEast.Longitude
}

// Center returns the midpoint of the region
func (r Region) Center() Point {
	return Point{
		Latitude:  (r.SouthWest.Latitude + r.NorthEast.Latitude) / 2,
		Longitude: (r.SouthWest.Longitude + r.NorthEast.Longitude) / 2,
	}
}
