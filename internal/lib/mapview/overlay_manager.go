package mapview

import (
	"go.uber.org/zap"

	"github.com/dpup/tripcost/server/internal/lib/geo"
	"github.com/dpup/tripcost/server/internal/lib/routes"
)

// Host is the part of MapHost the overlay manager depends on
type Host interface {
	Engine() (Engine, bool)
	Frame(region geo.Region) bool
}

// RefreshResult summarizes one applied refresh
type RefreshResult struct {
	Generation uint64     `json:"generation"`
	Polylines  int        `json:"polylines"`
	Markers    int        `json:"markers"`
	Skipped    []int      `json:"skipped,omitempty"`
	Region     geo.Region `json:"region"`
	Framed     bool       `json:"framed"`
}

// RouteOverlayManager keeps the drawn overlays in sync with the latest
// RouteSet. It exclusively owns its Registry.
type RouteOverlayManager struct {
	registry *Registry
	logger   *zap.Logger
}

// NewRouteOverlayManager creates a manager with an empty registry
func NewRouteOverlayManager(logger *zap.Logger) *RouteOverlayManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RouteOverlayManager{
		registry: NewRegistry(),
		logger:   logger,
	}
}

// Registry exposes the overlay registry for inspection
func (m *RouteOverlayManager) Registry() *Registry {
	return m.registry
}

// Refresh replaces every drawn overlay with those implied by set and frames
// the camera on the result. It returns false, without touching the registry,
// when host is not ready.
//
// Existing overlays are disposed before any new one is created. Routes whose
// geometry fails to decode are skipped; styling uses the route's index in set.
func (m *RouteOverlayManager) Refresh(set routes.RouteSet, host Host) (RefreshResult, bool) {
	engine, ok := host.Engine()
	if !ok {
		return RefreshResult{}, false
	}

	gen := m.registry.Clear()
	result := RefreshResult{Generation: gen}
	decoded := make([][]geo.Point, 0, len(set))

	for i, route := range set {
		path, err := geo.DecodePolyline(route.Geometry)
		if err != nil {
			m.logger.Debug("skipping route with undecodable geometry",
				zap.Int("route_index", i),
				zap.String("route_type", string(route.RouteType)),
				zap.Error(err))
			result.Skipped = append(result.Skipped, i)
			continue
		}

		style := StyleFor(i)
		line := engine.AddPolyline(style.polylineOptions(path))
		if !m.registry.Add(gen, Entry{Kind: KindPolyline, RouteIndex: i, Style: &style, Path: path}, line) {
			return m.superseded(result), true
		}
		result.Polylines++
		decoded = append(decoded, path)

		if style.IsPrimary && len(path) > 0 {
			markers := []MarkerOptions{OriginMarker(path[0]), DestinationMarker(path[len(path)-1])}
			for _, opts := range markers {
				handle := engine.AddMarker(opts)
				if !m.registry.Add(gen, Entry{Kind: KindMarker, RouteIndex: i, Marker: &opts}, handle) {
					return m.superseded(result), true
				}
				result.Markers++
			}
		}
	}

	result.Region = geo.BoundsOf(decoded)
	result.Framed = host.Frame(result.Region)

	m.logger.Debug("route overlays refreshed",
		zap.Uint64("generation", gen),
		zap.Int("routes", len(set)),
		zap.Int("polylines", result.Polylines),
		zap.Int("markers", result.Markers),
		zap.Ints("skipped", result.Skipped),
		zap.Bool("framed", result.Framed))

	return result, true
}

// Clear disposes every overlay, as on surface teardown
func (m *RouteOverlayManager) Clear() {
	m.registry.Clear()
}

// superseded stops a refresh whose generation was overtaken mid-draw; the
// newer refresh owns the registry.
func (m *RouteOverlayManager) superseded(result RefreshResult) RefreshResult {
	m.logger.Warn("refresh superseded before completion",
		zap.Uint64("generation", result.Generation),
		zap.Uint64("current_generation", m.registry.Generation()))
	return result
}
