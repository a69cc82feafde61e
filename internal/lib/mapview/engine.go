package mapview

import (
	"context"

	"github.com/dpup/tripcost/server/internal/lib/geo"
)

// Engine is the capability object handed out by a successful bootstrap. All
// drawing and camera operations go through it; nothing looks the engine up
// globally.
type Engine interface {
	// AddPolyline draws a styled path and returns its handle
	AddPolyline(opts PolylineOptions) Overlay

	// AddMarker places a marker and returns its handle
	AddMarker(opts MarkerOptions) Overlay

	// SetCamera moves the camera to an explicit center and zoom
	SetCamera(center geo.Point, zoom int)

	// FitBounds moves the camera so region is fully visible and returns the
	// resulting camera
	FitBounds(region geo.Region) Camera
}

// Overlay is an engine-owned drawing handle
type Overlay interface {
	Remove()
}

// EngineLoader performs the one-time asynchronous bootstrap of a mapping engine
type EngineLoader interface {
	Load(ctx context.Context, cfg EngineConfig) (Engine, error)
}

// EngineLoaderFunc adapts a function to EngineLoader
type EngineLoaderFunc func(ctx context.Context, cfg EngineConfig) (Engine, error)

// Load calls f(ctx, cfg)
func (f EngineLoaderFunc) Load(ctx context.Context, cfg EngineConfig) (Engine, error) {
	return f(ctx, cfg)
}

// EngineConfig carries credentials and visual configuration for bootstrap
type EngineConfig struct {
	APIKey        string
	MapID         string
	Theme         Theme
	InitialCenter geo.Point
	InitialZoom   int
}

// Theme is a set of map style tokens applied at bootstrap
type Theme struct {
	Name   string      `toml:"name"`
	Styles []StyleRule `toml:"styles"`
}

// StyleRule restyles one feature/element combination
type StyleRule struct {
	FeatureType string `toml:"feature_type"`
	ElementType string `toml:"element_type"`
	Color       string `toml:"color"`
}

// Camera is the visible part of the map
type Camera struct {
	Center geo.Point `json:"center"`
	Zoom   int       `json:"zoom"`
}

// PolylineOptions describes a route path to draw
type PolylineOptions struct {
	Path         []geo.Point
	Color        string
	Opacity      float64
	StrokeWeight int
	Geodesic     bool
}

// MarkerOptions describes an endpoint pin to draw
type MarkerOptions struct {
	Position    geo.Point `json:"position"`
	Title       string    `json:"title"`
	Glyph       string    `json:"glyph"`
	Background  string    `json:"background"`
	BorderColor string    `json:"border_color"`
	GlyphColor  string    `json:"glyph_color"`
}
