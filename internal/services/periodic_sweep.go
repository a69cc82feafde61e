package services

import (
	"context"
	"sync"
	"time"

	"github.com/dpup/prefab/logging"
)

// PeriodicSweepService closes map surfaces that nobody has touched for a
// while, releasing their engines and overlays
type PeriodicSweepService struct {
	mapView     *MapViewService
	idleTimeout time.Duration
	interval    time.Duration

	mu       sync.Mutex
	stopChan chan struct{}
	running  bool
}

// NewPeriodicSweepService creates a new periodic sweep service
func NewPeriodicSweepService(mapView *MapViewService, idleTimeout, interval time.Duration) *PeriodicSweepService {
	return &PeriodicSweepService{
		mapView:     mapView,
		idleTimeout: idleTimeout,
		interval:    interval,
	}
}

// Start begins sweeping in the background. It is a no-op when already running
// or when either duration is not positive.
func (p *PeriodicSweepService) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running || p.idleTimeout <= 0 || p.interval <= 0 {
		return
	}
	p.running = true
	p.stopChan = make(chan struct{})

	ctx = logging.EnsureLogger(ctx)
	logging.Infow(ctx, "Starting idle surface sweep", "interval", p.interval, "idle_timeout", p.idleTimeout)
	go p.sweepLoop(ctx, p.stopChan)
}

// Stop halts the sweep loop
func (p *PeriodicSweepService) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.running = false
	close(p.stopChan)
}

// IsRunning returns whether the sweep loop is active
func (p *PeriodicSweepService) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *PeriodicSweepService) sweepLoop(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

func (p *PeriodicSweepService) sweep(ctx context.Context) {
	if closed := p.mapView.CloseIdle(p.idleTimeout); closed > 0 {
		logging.Infow(ctx, "Closed idle map surfaces", "closed", closed, "remaining", p.mapView.SurfaceCount())
	}
}
