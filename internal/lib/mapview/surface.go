package mapview

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/dpup/tripcost/server/internal/lib/routes"
)

var (
	// ErrSurfaceClosed is returned by every operation after Close
	ErrSurfaceClosed = errors.New("map surface closed")

	// ErrNotReady is returned by Inspect before the engine is ready
	ErrNotReady = errors.New("map surface not ready")
)

// Snapshot is a point-in-time view of a surface
type Snapshot struct {
	State    State         `json:"state"`
	Ready    bool          `json:"ready"`
	Camera   Camera        `json:"camera"`
	Pending  bool          `json:"pending"`
	View     *routes.View  `json:"view,omitempty"`
	Last     RefreshResult `json:"last_refresh"`
	Overlays []Entry       `json:"overlays"`
	Error    string        `json:"error,omitempty"`
}

// Surface is a map presentation surface parameterized by a RouteSet and its
// origin/destination. A single event loop goroutine runs every update,
// bootstrap completion and teardown in order, so the registry and camera are
// only ever touched from that goroutine.
//
// Updates that arrive before the engine is ready are buffered, latest wins,
// and applied as soon as the bootstrap succeeds.
type Surface struct {
	host     *MapHost
	overlays *RouteOverlayManager
	logger   *zap.Logger

	events    chan func()
	done      chan struct{}
	openOnce  sync.Once
	closeOnce sync.Once

	// Owned by the event loop
	pending *routes.View
	current *routes.View
	last    RefreshResult
	closed  bool
}

// NewSurface creates a surface and starts its event loop. Call Open to begin
// the engine bootstrap.
func NewSurface(host *MapHost, overlays *RouteOverlayManager, logger *zap.Logger) *Surface {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Surface{
		host:     host,
		overlays: overlays,
		logger:   logger,
		events:   make(chan func()),
		done:     make(chan struct{}),
	}
	go s.loop()
	return s
}

// Host returns the surface's map host
func (s *Surface) Host() *MapHost {
	return s.host
}

// Open starts the engine bootstrap in the background. Only the first call
// has any effect.
func (s *Surface) Open(ctx context.Context) {
	s.openOnce.Do(func() {
		go func() {
			err := s.host.Initialize(ctx)
			s.post(func() { s.bootstrapped(err) })
		}()
	})
}

// Show records view as the latest surface input and renders it if the
// engine is ready.
func (s *Surface) Show(ctx context.Context, view routes.View) (Snapshot, error) {
	view.Routes = view.Routes.Clone()
	reply := make(chan Snapshot, 1)
	if err := s.dispatch(ctx, func() {
		s.pending = &view
		s.apply()
		reply <- s.snapshot()
	}); err != nil {
		return Snapshot{}, err
	}
	return <-reply, nil
}

// Snapshot returns the current state of the surface
func (s *Surface) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if err := s.dispatch(ctx, func() { reply <- s.snapshot() }); err != nil {
		return Snapshot{}, err
	}
	return <-reply, nil
}

// Inspect runs fn with the ready engine on the event loop, so fn observes a
// consistent set of overlays.
func (s *Surface) Inspect(ctx context.Context, fn func(Engine) error) error {
	reply := make(chan error, 1)
	if err := s.dispatch(ctx, func() {
		engine, ok := s.host.Engine()
		if !ok {
			reply <- ErrNotReady
			return
		}
		reply <- fn(engine)
	}); err != nil {
		return err
	}
	return <-reply
}

// Close disposes every overlay and tears down the host. A bootstrap still in
// flight will release its engine instead of becoming ready.
func (s *Surface) Close() error {
	var err error
	s.closeOnce.Do(func() {
		reply := make(chan error, 1)
		if err = s.dispatch(context.Background(), func() {
			s.overlays.Clear()
			s.pending = nil
			s.closed = true
			reply <- s.host.Close()
		}); err == nil {
			err = <-reply
		}
	})
	return err
}

// Done is closed once the surface has been torn down
func (s *Surface) Done() <-chan struct{} {
	return s.done
}

func (s *Surface) loop() {
	for fn := range s.events {
		fn()
		if s.closed {
			close(s.done)
			return
		}
	}
}

// dispatch runs fn on the event loop and waits for it to finish
func (s *Surface) dispatch(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case s.events <- func() { fn(); close(finished) }:
	case <-s.done:
		return ErrSurfaceClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post queues fn without waiting; it is dropped after teardown
func (s *Surface) post(fn func()) {
	select {
	case s.events <- fn:
	case <-s.done:
	}
}

func (s *Surface) bootstrapped(err error) {
	if err != nil {
		// MapHost has already logged the cause
		return
	}
	s.logger.Debug("surface ready", zap.Bool("pending", s.pending != nil))
	s.apply()
}

// apply renders the pending view if the host is ready
func (s *Surface) apply() {
	if s.pending == nil {
		return
	}
	result, ok := s.overlays.Refresh(s.pending.Routes, s.host)
	if !ok {
		return
	}
	s.current, s.pending = s.pending, nil
	s.last = result
	s.logger.Info("route set rendered",
		zap.String("origin", s.current.Origin),
		zap.String("destination", s.current.Destination),
		zap.Int("routes", len(s.current.Routes)),
		zap.Int("overlays", s.overlays.Registry().Len()))
}

func (s *Surface) snapshot() Snapshot {
	state := s.host.State()
	snap := Snapshot{
		State:    state,
		Ready:    state == StateReady,
		Camera:   s.host.Camera(),
		Pending:  s.pending != nil,
		View:     s.current,
		Last:     s.last,
		Overlays: s.overlays.Registry().Entries(),
	}
	if err := s.host.Err(); err != nil {
		snap.Error = err.Error()
	}
	return snap
}
