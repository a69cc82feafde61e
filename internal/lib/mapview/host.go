package mapview

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/dpup/tripcost/server/internal/lib/geo"
)

var (
	// ErrBootstrapFailed wraps the cause of a failed engine bootstrap. The
	// failure is terminal for the host.
	ErrBootstrapFailed = errors.New("map engine bootstrap failed")

	// ErrHostClosed is returned once the host has been torn down
	ErrHostClosed = errors.New("map host closed")
)

// State is the bootstrap state of a MapHost
type State int

const (
	StateUninitialized State = iota
	StateBootstrapping
	StateReady
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateBootstrapping:
		return "bootstrapping"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state by name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name
func (s *State) UnmarshalText(text []byte) error {
	for candidate := StateUninitialized; candidate <= StateClosed; candidate++ {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown map state %q", text)
}

// MapHost owns the one-time bootstrap of a mapping engine and the camera.
//
// State moves Uninitialized -> Bootstrapping -> Ready | Failed, and any state
// may move to Closed. Ready and Failed are never left except by Close.
type MapHost struct {
	loader EngineLoader
	config EngineConfig
	logger *zap.Logger

	mu      sync.Mutex
	state   State
	engine  Engine
	camera  Camera
	err     error
	ready   chan struct{}
	settled chan struct{}
}

// NewMapHost creates a host that will bootstrap with loader on Initialize
func NewMapHost(loader EngineLoader, config EngineConfig, logger *zap.Logger) *MapHost {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MapHost{
		loader:  loader,
		config:  config,
		logger:  logger,
		camera:  Camera{Center: config.InitialCenter, Zoom: config.InitialZoom},
		ready:   make(chan struct{}),
		settled: make(chan struct{}),
	}
}

// Initialize bootstraps the engine. The loader runs at most once per host;
// concurrent and later calls wait for, then return, the outcome of that run.
func (h *MapHost) Initialize(ctx context.Context) error {
	h.mu.Lock()
	switch h.state {
	case StateUninitialized:
		h.state = StateBootstrapping
		h.mu.Unlock()
	case StateBootstrapping:
		h.mu.Unlock()
		select {
		case <-h.settled:
			return h.Err()
		case <-ctx.Done():
			return ctx.Err()
		}
	case StateClosed:
		h.mu.Unlock()
		return ErrHostClosed
	default:
		err := h.err
		h.mu.Unlock()
		return err
	}

	engine, err := h.loader.Load(ctx, h.config)
	if err == nil && engine == nil {
		err = errors.New("loader returned no engine")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	defer close(h.settled)

	if h.state == StateClosed {
		// Torn down while the bootstrap was in flight
		if engine != nil {
			release(engine)
		}
		h.err = ErrHostClosed
		return h.err
	}

	if err != nil {
		h.state = StateFailed
		h.err = fmt.Errorf("%w: %w", ErrBootstrapFailed, err)
		h.logger.Error("map engine bootstrap failed", zap.Error(err))
		return h.err
	}

	h.engine = engine
	h.engine.SetCamera(h.camera.Center, h.camera.Zoom)
	h.state = StateReady
	close(h.ready)
	h.logger.Info("map engine ready",
		zap.Float64("center_lat", h.camera.Center.Latitude),
		zap.Float64("center_lng", h.camera.Center.Longitude),
		zap.Int("zoom", h.camera.Zoom))
	return nil
}

// Ready is closed when the host becomes ready. It is never closed if the
// bootstrap fails.
func (h *MapHost) Ready() <-chan struct{} {
	return h.ready
}

// IsReady reports whether the engine is usable
func (h *MapHost) IsReady() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state == StateReady
}

// State returns the current bootstrap state
func (h *MapHost) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Err returns the bootstrap failure, if any
func (h *MapHost) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Engine returns the engine capability when ready
func (h *MapHost) Engine() (Engine, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateReady {
		return nil, false
	}
	return h.engine, true
}

// Camera returns the current camera
func (h *MapHost) Camera() Camera {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.camera
}

// Frame fits the camera to region. An empty region, or a host that is not
// ready, leaves the camera unchanged and Frame returns false.
func (h *MapHost) Frame(region geo.Region) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateReady || region.IsEmpty() {
		return false
	}
	h.camera = h.engine.FitBounds(region)
	return true
}

// Close tears the host down. An engine that implements io.Closer is closed,
// including one whose bootstrap completes after Close.
func (h *MapHost) Close() error {
	h.mu.Lock()
	prev := h.state
	engine := h.engine
	h.state = StateClosed
	h.engine = nil
	h.mu.Unlock()

	if prev == StateReady && engine != nil {
		return release(engine)
	}
	return nil
}

func release(engine Engine) error {
	if closer, ok := engine.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
