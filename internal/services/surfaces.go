package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/dpup/tripcost/server/internal/cache"
	"github.com/dpup/tripcost/server/internal/clients/pricing"
	"github.com/dpup/tripcost/server/internal/config"
	"github.com/dpup/tripcost/server/internal/lib/mapview"
	"github.com/dpup/tripcost/server/internal/lib/routes"
	"github.com/dpup/tripcost/server/internal/lib/scene"
)

var (
	ErrSurfaceNotFound = errors.New("map surface not found")
	ErrInvalidRequest  = errors.New("invalid request")

	// ErrCalculationFailed wraps any failure of the pricing backend
	ErrCalculationFailed = errors.New("route calculation failed")
)

// RouteCalculator prices candidate routes. pricing.Client implements it.
type RouteCalculator interface {
	CalculateRoutes(ctx context.Context, req pricing.Request) (*pricing.Response, error)
}

// SurfaceResponse is the JSON view of a surface
type SurfaceResponse struct {
	ID           string           `json:"id"`
	CreatedAt    time.Time        `json:"created_at"`
	Snapshot     mapview.Snapshot `json:"snapshot"`
	Summary      *RouteSummary    `json:"summary,omitempty"`
	StaticMapURL string           `json:"static_map_url,omitempty"`
}

// RouteSummary points at notable routes of the displayed set by index
type RouteSummary struct {
	Primary  int `json:"primary"`
	Cheapest int `json:"cheapest"`
	Fastest  int `json:"fastest"`
}

// CalculateResponse is returned by Calculate
type CalculateResponse struct {
	Routes  *pricing.Response `json:"routes"`
	Cached  bool              `json:"cached"`
	Surface SurfaceResponse   `json:"surface"`
}

type surfaceEntry struct {
	surface   *mapview.Surface
	createdAt time.Time
	lastUsed  time.Time
}

// MapViewService owns the live map surfaces and feeds them priced routes
type MapViewService struct {
	config     *config.Config
	theme      mapview.Theme
	loader     mapview.EngineLoader
	calculator RouteCalculator
	cache      *cache.Cache
	logger     *zap.Logger

	group singleflight.Group

	mu       sync.RWMutex
	surfaces map[string]*surfaceEntry
	now      func() time.Time
}

// NewMapViewService creates a new MapViewService
func NewMapViewService(cfg *config.Config, theme mapview.Theme, loader mapview.EngineLoader, calculator RouteCalculator, cache *cache.Cache, logger *zap.Logger) *MapViewService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MapViewService{
		config:     cfg,
		theme:      theme,
		loader:     loader,
		calculator: calculator,
		cache:      cache,
		logger:     logger,
		surfaces:   make(map[string]*surfaceEntry),
		now:        time.Now,
	}
}

// CreateSurface registers a new surface and starts its engine bootstrap. The
// bootstrap is not tied to ctx; it outlives the request that created it.
func (s *MapViewService) CreateSurface(ctx context.Context) (SurfaceResponse, error) {
	id := uuid.New().String()
	logger := s.logger.With(zap.String("surface_id", id))

	host := mapview.NewMapHost(s.loader, s.config.EngineConfig(s.theme), logger)
	surface := mapview.NewSurface(host, mapview.NewRouteOverlayManager(logger), logger)

	now := s.now()
	s.mu.Lock()
	s.surfaces[id] = &surfaceEntry{surface: surface, createdAt: now, lastUsed: now}
	s.mu.Unlock()

	surface.Open(context.Background())
	logger.Info("map surface created")

	return s.GetSurface(ctx, id)
}

// GetSurface returns the current state of a surface
func (s *MapViewService) GetSurface(ctx context.Context, id string) (SurfaceResponse, error) {
	entry, err := s.lookup(id)
	if err != nil {
		return SurfaceResponse{}, err
	}
	snap, err := entry.surface.Snapshot(ctx)
	if err != nil {
		return SurfaceResponse{}, err
	}
	return s.describe(ctx, id, entry, snap), nil
}

// ShowRoutes renders view on the surface, replacing whatever it showed
func (s *MapViewService) ShowRoutes(ctx context.Context, id string, view routes.View) (SurfaceResponse, error) {
	entry, err := s.lookup(id)
	if err != nil {
		return SurfaceResponse{}, err
	}
	snap, err := entry.surface.Show(ctx, view)
	if err != nil {
		return SurfaceResponse{}, err
	}
	return s.describe(ctx, id, entry, snap), nil
}

// Calculate prices routes with the backend and renders them on the surface
func (s *MapViewService) Calculate(ctx context.Context, id string, req pricing.Request) (CalculateResponse, error) {
	if err := req.Validate(); err != nil {
		return CalculateResponse{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	entry, err := s.lookup(id)
	if err != nil {
		return CalculateResponse{}, err
	}

	resp, cached, err := s.priceRoutes(ctx, req)
	if err != nil {
		return CalculateResponse{}, err
	}

	snap, err := entry.surface.Show(ctx, resp.View())
	if err != nil {
		return CalculateResponse{}, err
	}

	return CalculateResponse{
		Routes:  resp,
		Cached:  cached,
		Surface: s.describe(ctx, id, entry, snap),
	}, nil
}

// priceRoutes forwards every request to the backend, which records a trip
// for each calculation. Only when cache.route_ttl is positive are responses
// reused and identical concurrent requests coalesced.
func (s *MapViewService) priceRoutes(ctx context.Context, req pricing.Request) (*pricing.Response, bool, error) {
	ttl := s.config.Cache.RouteTTL
	if ttl <= 0 {
		resp, err := s.calculator.CalculateRoutes(ctx, req)
		if err != nil {
			return nil, false, fmt.Errorf("%w: %w", ErrCalculationFailed, err)
		}
		return resp, false, nil
	}

	if resp, found, err := s.cache.GetRouteResponse(req); err != nil {
		s.logger.Warn("route cache read failed", zap.Error(err))
	} else if found {
		return resp, true, nil
	}

	// Outlives this request; other callers may share the flight
	flightCtx := context.WithoutCancel(ctx)
	v, err, _ := s.group.Do(req.Key(), func() (any, error) {
		resp, err := s.calculator.CalculateRoutes(flightCtx, req)
		if err != nil {
			return nil, err
		}
		if err := s.cache.SetRouteResponse(req, resp, ttl); err != nil {
			s.logger.Warn("route cache write failed", zap.Error(err))
		}
		return resp, nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrCalculationFailed, err)
	}

	// Callers sharing a flight get their own copy of the route set
	resp := *v.(*pricing.Response)
	resp.Routes = resp.Routes.Clone()
	return &resp, false, nil
}

// ExportKML renders the surface's current overlays as a KML document
func (s *MapViewService) ExportKML(ctx context.Context, id string) ([]byte, error) {
	entry, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	err = entry.surface.Inspect(ctx, func(engine mapview.Engine) error {
		sc, ok := engine.(*scene.Scene)
		if !ok {
			return fmt.Errorf("engine %T cannot export KML", engine)
		}
		return sc.WriteKML(&buf, "Routes")
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DeleteSurface tears the surface down and forgets it
func (s *MapViewService) DeleteSurface(id string) error {
	s.mu.Lock()
	entry, ok := s.surfaces[id]
	delete(s.surfaces, id)
	s.mu.Unlock()

	if !ok {
		return ErrSurfaceNotFound
	}
	if err := entry.surface.Close(); err != nil && !errors.Is(err, mapview.ErrSurfaceClosed) {
		return err
	}
	s.logger.Info("map surface closed", zap.String("surface_id", id))
	return nil
}

// SurfaceCount returns the number of live surfaces
func (s *MapViewService) SurfaceCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.surfaces)
}

// CloseIdle tears down every surface unused for longer than idle
func (s *MapViewService) CloseIdle(idle time.Duration) int {
	cutoff := s.now().Add(-idle)

	s.mu.RLock()
	var stale []string
	for id, entry := range s.surfaces {
		if entry.lastUsed.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	s.mu.RUnlock()

	closed := 0
	for _, id := range stale {
		if s.closeIfIdle(id, cutoff) {
			closed++
		}
	}
	return closed
}

// closeIfIdle removes the surface only if it is still unused since cutoff; a
// request that touched it after the sweep listed it keeps it alive
func (s *MapViewService) closeIfIdle(id string, cutoff time.Time) bool {
	s.mu.Lock()
	entry, ok := s.surfaces[id]
	if !ok || !entry.lastUsed.Before(cutoff) {
		s.mu.Unlock()
		return false
	}
	delete(s.surfaces, id)
	s.mu.Unlock()

	if err := entry.surface.Close(); err != nil && !errors.Is(err, mapview.ErrSurfaceClosed) {
		s.logger.Warn("failed to close idle surface", zap.String("surface_id", id), zap.Error(err))
	}
	s.logger.Info("idle map surface closed", zap.String("surface_id", id))
	return true
}

// Close tears down every surface
func (s *MapViewService) Close() {
	s.mu.Lock()
	entries := s.surfaces
	s.surfaces = make(map[string]*surfaceEntry)
	s.mu.Unlock()

	for _, entry := range entries {
		_ = entry.surface.Close()
	}
}

func (s *MapViewService) lookup(id string) (*surfaceEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.surfaces[id]
	if !ok {
		return nil, ErrSurfaceNotFound
	}
	entry.lastUsed = s.now()
	return entry, nil
}

func (s *MapViewService) describe(ctx context.Context, id string, entry *surfaceEntry, snap mapview.Snapshot) SurfaceResponse {
	resp := SurfaceResponse{
		ID:        id,
		CreatedAt: entry.createdAt,
		Snapshot:  snap,
	}
	if snap.View != nil && len(snap.View.Routes) > 0 {
		resp.Summary = &RouteSummary{
			Primary:  0,
			Cheapest: snap.View.Routes.Cheapest(),
			Fastest:  snap.View.Routes.Fastest(),
		}
	}
	if snap.Ready {
		urls := make(chan string, 1)
		err := entry.surface.Inspect(ctx, func(engine mapview.Engine) error {
			if sc, ok := engine.(*scene.Scene); ok {
				urls <- sc.StaticMapURL(s.config.Maps.APIKey)
			}
			return nil
		})
		if err == nil && len(urls) > 0 {
			resp.StaticMapURL = <-urls
		}
	}
	return resp
}
