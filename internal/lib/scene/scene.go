// Package scene is a headless mapping engine. It keeps drawn overlays and the
// camera in memory and renders them as KML or as a Google Static Maps URL.
package scene

import (
	"math"
	"sort"
	"sync"

	"github.com/dpup/tripcost/server/internal/lib/geo"
	"github.com/dpup/tripcost/server/internal/lib/mapview"
)

// DefaultStaticMapsURL is the Google Static Maps endpoint
const DefaultStaticMapsURL = "https://maps.googleapis.com/maps/api/staticmap"

const (
	tileSize = 256
	maxZoom  = 21
)

// Viewport is the pixel size of the rendered map
type Viewport struct {
	Width   int
	Height  int
	Padding int
}

// Config configures a Scene
type Config struct {
	Viewport      Viewport
	MapID         string
	Theme         mapview.Theme
	StaticMapsURL string
}

// Scene implements mapview.Engine
type Scene struct {
	config Config

	mu        sync.Mutex
	nextID    int
	polylines map[int]mapview.PolylineOptions
	markers   map[int]mapview.MarkerOptions
	camera    mapview.Camera
	closed    bool
}

// New creates an empty scene
func New(config Config) *Scene {
	if config.Viewport.Width <= 0 || config.Viewport.Height <= 0 {
		config.Viewport = Viewport{Width: 640, Height: 480, Padding: 32}
	}
	if config.StaticMapsURL == "" {
		config.StaticMapsURL = DefaultStaticMapsURL
	}
	return &Scene{
		config:    config,
		polylines: make(map[int]mapview.PolylineOptions),
		markers:   make(map[int]mapview.MarkerOptions),
	}
}

type handle struct {
	scene *Scene
	id    int
}

// Remove deletes the overlay from the scene
func (h handle) Remove() {
	h.scene.mu.Lock()
	defer h.scene.mu.Unlock()
	delete(h.scene.polylines, h.id)
	delete(h.scene.markers, h.id)
}

// AddPolyline implements mapview.Engine
func (s *Scene) AddPolyline(opts mapview.PolylineOptions) mapview.Overlay {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.polylines[s.nextID] = opts
	return handle{scene: s, id: s.nextID}
}

// AddMarker implements mapview.Engine
func (s *Scene) AddMarker(opts mapview.MarkerOptions) mapview.Overlay {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.markers[s.nextID] = opts
	return handle{scene: s, id: s.nextID}
}

// SetCamera implements mapview.Engine
func (s *Scene) SetCamera(center geo.Point, zoom int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.camera = mapview.Camera{Center: center, Zoom: clampZoom(zoom)}
}

// FitBounds centers the camera on region at the largest zoom that keeps the
// whole region inside the padded viewport.
func (s *Scene) FitBounds(region geo.Region) mapview.Camera {
	s.mu.Lock()
	defer s.mu.Unlock()
	if region.IsEmpty() {
		return s.camera
	}
	s.camera = mapview.Camera{
		Center: region.Center(),
		Zoom:   fitZoom(region, s.config.Viewport),
	}
	return s.camera
}

// Camera returns the current camera
func (s *Scene) Camera() mapview.Camera {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.camera
}

// Polylines returns the live polylines in drawing order
func (s *Scene) Polylines() []mapview.PolylineOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]mapview.PolylineOptions, 0, len(s.polylines))
	for _, id := range sortedKeys(s.polylines) {
		out = append(out, s.polylines[id])
	}
	return out
}

// Markers returns the live markers in drawing order
func (s *Scene) Markers() []mapview.MarkerOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]mapview.MarkerOptions, 0, len(s.markers))
	for _, id := range sortedKeys(s.markers) {
		out = append(out, s.markers[id])
	}
	return out
}

// Close drops every overlay. A closed scene keeps accepting calls so late
// handles can still be removed safely.
func (s *Scene) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.polylines = make(map[int]mapview.PolylineOptions)
	s.markers = make(map[int]mapview.MarkerOptions)
	return nil
}

// Closed reports whether Close has been called
func (s *Scene) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// fitZoom uses the Web Mercator projection with 256px tiles
func fitZoom(region geo.Region, vp Viewport) int {
	width := float64(vp.Width - 2*vp.Padding)
	height := float64(vp.Height - 2*vp.Padding)
	if width <= 0 || height <= 0 {
		width, height = float64(vp.Width), float64(vp.Height)
	}

	latFraction := (mercatorLat(region.NorthEast.Latitude) - mercatorLat(region.SouthWest.Latitude)) / math.Pi
	lngDiff := region.NorthEast.Longitude - region.SouthWest.Longitude
	if lngDiff < 0 {
		lngDiff += 360
	}
	lngFraction := lngDiff / 360

	return clampZoom(min(zoomFor(height, latFraction), zoomFor(width, lngFraction)))
}

func zoomFor(pixels, fraction float64) int {
	if fraction <= 0 {
		return maxZoom
	}
	return int(math.Floor(math.Log2(pixels / tileSize / fraction)))
}

func mercatorLat(lat float64) float64 {
	sin := math.Sin(lat * math.Pi / 180)
	radX2 := math.Log((1+sin)/(1-sin)) / 2
	return math.Max(math.Min(radX2, math.Pi), -math.Pi) / 2
}

func clampZoom(z int) int {
	return max(0, min(z, maxZoom))
}
