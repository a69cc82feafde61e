package mapview

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/dpup/tripcost/server/internal/lib/geo"
)

// fakeEngine records drawing calls and tracks which overlays are still live
type fakeEngine struct {
	mu      sync.Mutex
	nextID  int
	live    map[int]fakeOverlay
	removed int
	fits    []geo.Region
	camera  Camera
	closed  bool
}

type fakeOverlay struct {
	kind   OverlayKind
	line   PolylineOptions
	marker MarkerOptions
}

type fakeHandle struct {
	engine *fakeEngine
	id     int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{live: make(map[int]fakeOverlay)}
}

func (e *fakeEngine) add(o fakeOverlay) Overlay {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	e.live[e.nextID] = o
	return &fakeHandle{engine: e, id: e.nextID}
}

func (e *fakeEngine) AddPolyline(opts PolylineOptions) Overlay {
	return e.add(fakeOverlay{kind: KindPolyline, line: opts})
}

func (e *fakeEngine) AddMarker(opts MarkerOptions) Overlay {
	return e.add(fakeOverlay{kind: KindMarker, marker: opts})
}

func (e *fakeEngine) SetCamera(center geo.Point, zoom int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.camera = Camera{Center: center, Zoom: zoom}
}

func (e *fakeEngine) FitBounds(region geo.Region) Camera {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fits = append(e.fits, region)
	e.camera = Camera{Center: region.Center(), Zoom: 9}
	return e.camera
}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (h *fakeHandle) Remove() {
	h.engine.mu.Lock()
	defer h.engine.mu.Unlock()
	if _, ok := h.engine.live[h.id]; ok {
		delete(h.engine.live, h.id)
		h.engine.removed++
	}
}

func (e *fakeEngine) liveCount(kind OverlayKind) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, o := range e.live {
		if o.kind == kind {
			n++
		}
	}
	return n
}

func (e *fakeEngine) livePolylines() []PolylineOptions {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []PolylineOptions
	for _, o := range e.live {
		if o.kind == KindPolyline {
			out = append(out, o.line)
		}
	}
	return out
}

func (e *fakeEngine) fitCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.fits)
}

func (e *fakeEngine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// MockLoader is a mock implementation of EngineLoader
type MockLoader struct {
	mock.Mock
}

func (m *MockLoader) Load(ctx context.Context, cfg EngineConfig) (Engine, error) {
	args := m.Called(ctx, cfg)
	engine, _ := args.Get(0).(Engine)
	return engine, args.Error(1)
}

// readyHost returns a host that has already bootstrapped onto engine
func readyHost(engine Engine) *MapHost {
	host := NewMapHost(EngineLoaderFunc(func(context.Context, EngineConfig) (Engine, error) {
		return engine, nil
	}), testConfig, nil)
	if err := host.Initialize(context.Background()); err != nil {
		panic(err)
	}
	return host
}

var testConfig = EngineConfig{
	APIKey:        "test-api-key",
	MapID:         "DEMO_MAP_ID",
	InitialCenter: geo.Point{Latitude: 37.7749, Longitude: -122.4194},
	InitialZoom:   12,
}

// Highway 4 segments used as route geometry
var (
	pathX = []geo.Point{
		{Latitude: 38.0675, Longitude: -120.5436},
		{Latitude: 38.1000, Longitude: -120.5000},
		{Latitude: 38.1391, Longitude: -120.4561},
	}
	pathY = []geo.Point{
		{Latitude: 38.1327, Longitude: -120.4606},
		{Latitude: 38.2458, Longitude: -120.3486},
	}
	pathZ = []geo.Point{
		{Latitude: 38.2458, Longitude: -120.3486},
		{Latitude: 38.5347, Longitude: -119.8075},
	}
)

const malformedGeometry = "not a polyline"

// decodedFixture returns the points a path decodes to after encoding
func decodedFixture(path []geo.Point) []geo.Point {
	points, err := geo.DecodePolyline(geo.EncodePolyline(path))
	if err != nil {
		panic(err)
	}
	return points
}
