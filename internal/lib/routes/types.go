package routes

import (
	"encoding/json"
	"strings"
)

// RouteType labels a candidate route as produced by the pricing backend
type RouteType string

const (
	Fastest  RouteType = "fastest"
	Eco      RouteType = "eco"
	Shortest RouteType = "shortest"
)

// IsAlternative reports whether the type is one of the backend's numbered
// alternatives ("alternative_1", "alternative_2", ...)
func (t RouteType) IsAlternative() bool {
	return strings.HasPrefix(string(t), "alternative_")
}

// Route is a single priced candidate route. Geometry may be empty or malformed.
type Route struct {
	Geometry        string    `json:"geometry"`
	DistanceKm      float64   `json:"distance_km"`
	DurationMinutes float64   `json:"duration_minutes"`
	FuelUsedLiters  float64   `json:"fuel_used_liters"`
	FuelCost        float64   `json:"fuel_cost"`
	RouteType       RouteType `json:"route_type"`
}

// UnmarshalJSON accepts the pricing backend's "polyline" key as an alias for
// "geometry"; an explicit geometry wins.
func (r *Route) UnmarshalJSON(data []byte) error {
	type plain Route
	var aux struct {
		plain
		Polyline *string `json:"polyline"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = Route(aux.plain)
	if r.Geometry == "" && aux.Polyline != nil {
		r.Geometry = *aux.Polyline
	}
	return nil
}

// RouteSet is the ordered list of candidate routes for one request. Index 0
// is the primary route.
type RouteSet []Route

// Primary returns the route at index 0
func (s RouteSet) Primary() (Route, bool) {
	if len(s) == 0 {
		return Route{}, false
	}
	return s[0], true
}

// Cheapest returns the index of the route with the lowest fuel cost, or -1
func (s RouteSet) Cheapest() int {
	return s.minBy(func(r Route) float64 { return r.FuelCost })
}

// Fastest returns the index of the route with the shortest duration, or -1
func (s RouteSet) Fastest() int {
	return s.minBy(func(r Route) float64 { return r.DurationMinutes })
}

// minBy keeps the earliest index on ties so presentation order breaks them
func (s RouteSet) minBy(key func(Route) float64) int {
	best := -1
	for i, r := range s {
		if best < 0 || key(r) < key(s[best]) {
			best = i
		}
	}
	return best
}

// Clone returns a copy that shares no backing array with s
func (s RouteSet) Clone() RouteSet {
	if s == nil {
		return nil
	}
	out := make(RouteSet, len(s))
	copy(out, s)
	return out
}

// View is everything the map surface is parameterized by
type View struct {
	Routes      RouteSet `json:"routes"`
	Origin      string   `json:"origin,omitempty"`
	Destination string   `json:"destination,omitempty"`
}
