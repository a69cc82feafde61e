package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dpup/prefab/logging"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dpup/tripcost/server/internal/cache"
	"github.com/dpup/tripcost/server/internal/clients/pricing"
	"github.com/dpup/tripcost/server/internal/clients/staticmaps"
	"github.com/dpup/tripcost/server/internal/config"
	"github.com/dpup/tripcost/server/internal/lib/mapview"
	"github.com/dpup/tripcost/server/internal/lib/routes"
)

const (
	sierraGeometry   = "_p~iF~ps|U_ulLnnqC_mqNvxq`@"
	hwy4Geometry     = "{`jgFntv~Uo~L{aP{yS{~S"
	hwy4Direct       = "{`jgFntv~Ukya@wae@"
	testAPIKey       = "test-api-key"
	calculatePayload = `{"origin":"Angels Camp, CA","destination":"Arnold, CA","vehicle_id":7,"alternatives":true}`
)

// MockCalculator is a mock implementation of RouteCalculator
type MockCalculator struct {
	mock.Mock
}

func (m *MockCalculator) CalculateRoutes(ctx context.Context, req pricing.Request) (*pricing.Response, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*pricing.Response)
	return resp, args.Error(1)
}

func pricedResponse() *pricing.Response {
	tripID := 42
	return &pricing.Response{
		Origin:      "Angels Camp, CA",
		Destination: "Arnold, CA",
		VehicleID:   7,
		Routes: routes.RouteSet{
			{Geometry: hwy4Geometry, DistanceKm: 33.1, DurationMinutes: 31, FuelCost: 4.9, RouteType: routes.Fastest},
			{Geometry: hwy4Direct, DistanceKm: 35.4, DurationMinutes: 38, FuelCost: 4.5, RouteType: "alternative_1"},
		},
		TripID: &tripID,
	}
}

func newTestService(t *testing.T, apiKey string, calc RouteCalculator) *MapViewService {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Maps.APIKey = apiKey
	loader := staticmaps.NewLoaderWithHTTPDoer("https://maps.example.test/staticmap", http.DefaultClient)
	svc := NewMapViewService(cfg, config.DefaultTheme(), loader, calc, cache.NewCache(), zap.NewNop())
	t.Cleanup(svc.Close)
	return svc
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// createReadySurface creates a surface over HTTP and waits for its bootstrap
func createReadySurface(t *testing.T, svc *MapViewService) string {
	t.Helper()
	rec := do(t, svc.Handler(), http.MethodPost, "/api/v1/surfaces", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[SurfaceResponse](t, rec).ID

	require.Eventually(t, func() bool {
		resp, err := svc.GetSurface(context.Background(), id)
		return err == nil && resp.Snapshot.Ready
	}, 2*time.Second, 5*time.Millisecond)
	return id
}

func TestCreateSurface(t *testing.T) {
	svc := newTestService(t, testAPIKey, &MockCalculator{})
	id := createReadySurface(t, svc)

	_, err := uuid.Parse(id)
	assert.NoError(t, err, "surface ids are UUIDs")

	rec := do(t, svc.Handler(), http.MethodGet, "/api/v1/surfaces/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[SurfaceResponse](t, rec)

	assert.Equal(t, mapview.StateReady, resp.Snapshot.State)
	assert.Equal(t, 12, resp.Snapshot.Camera.Zoom)
	assert.InDelta(t, 37.7749, resp.Snapshot.Camera.Center.Latitude, 1e-9)
	assert.Empty(t, resp.Snapshot.Overlays)
	assert.Nil(t, resp.Summary)
	assert.Contains(t, resp.StaticMapURL, "key="+testAPIKey)
	assert.Equal(t, 1, svc.SurfaceCount())
}

func TestShowRoutes(t *testing.T) {
	svc := newTestService(t, testAPIKey, &MockCalculator{})
	id := createReadySurface(t, svc)

	body := `{
		"origin": "Angels Camp, CA",
		"destination": "Arnold, CA",
		"routes": [
			{"geometry": "` + hwy4Geometry + `", "fuel_cost": 4.9, "duration_minutes": 31, "route_type": "fastest"},
			{"polyline": "` + hwy4Direct + `", "fuel_cost": 4.5, "duration_minutes": 38, "route_type": "alternative_1"},
			{"geometry": "not a polyline", "fuel_cost": 1, "duration_minutes": 99, "route_type": "eco"}
		]
	}`
	rec := do(t, svc.Handler(), http.MethodPut, "/api/v1/surfaces/"+id+"/routes", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[SurfaceResponse](t, rec)

	snap := resp.Snapshot
	assert.False(t, snap.Pending)
	assert.Equal(t, 2, snap.Last.Polylines)
	assert.Equal(t, 2, snap.Last.Markers)
	assert.Equal(t, []int{2}, snap.Last.Skipped)
	assert.True(t, snap.Last.Framed)
	assert.Len(t, snap.Overlays, 4)
	require.NotNil(t, snap.View)
	assert.Equal(t, "Arnold, CA", snap.View.Destination)

	require.NotNil(t, resp.Summary)
	assert.Equal(t, RouteSummary{Primary: 0, Cheapest: 2, Fastest: 0}, *resp.Summary)

	assert.Equal(t, 2, strings.Count(resp.StaticMapURL, "path="))
	assert.Contains(t, resp.StaticMapURL, "label%3AA")
	assert.Contains(t, resp.StaticMapURL, "label%3AB")

	// A new set replaces the old overlays entirely
	rec = do(t, svc.Handler(), http.MethodPut, "/api/v1/surfaces/"+id+"/routes",
		`{"routes":[{"geometry":"`+sierraGeometry+`"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	snap = decode[SurfaceResponse](t, rec).Snapshot
	assert.Len(t, snap.Overlays, 3)
	assert.Equal(t, uint64(2), snap.Last.Generation)
}

func TestShowRoutes_BeforeReadyIsBuffered(t *testing.T) {
	gate := make(chan struct{})
	cfg := config.DefaultConfig()
	inner := staticmaps.NewLoaderWithHTTPDoer("https://maps.example.test/staticmap", http.DefaultClient)
	loader := mapview.EngineLoaderFunc(func(ctx context.Context, ec mapview.EngineConfig) (mapview.Engine, error) {
		<-gate
		return inner.Load(ctx, ec)
	})
	cfg.Maps.APIKey = testAPIKey
	svc := NewMapViewService(cfg, config.DefaultTheme(), loader, &MockCalculator{}, cache.NewCache(), zap.NewNop())
	t.Cleanup(svc.Close)

	created, err := svc.CreateSurface(context.Background())
	require.NoError(t, err)

	first := routes.View{Routes: routes.RouteSet{{Geometry: sierraGeometry}}}
	second := routes.View{Routes: routes.RouteSet{{Geometry: hwy4Geometry}, {Geometry: hwy4Direct}}}

	resp, err := svc.ShowRoutes(context.Background(), created.ID, first)
	require.NoError(t, err)
	assert.True(t, resp.Snapshot.Pending)
	assert.Empty(t, resp.Snapshot.Overlays)

	_, err = svc.ShowRoutes(context.Background(), created.ID, second)
	require.NoError(t, err)

	close(gate)
	require.Eventually(t, func() bool {
		resp, err := svc.GetSurface(context.Background(), created.ID)
		return err == nil && resp.Snapshot.Ready && !resp.Snapshot.Pending
	}, 2*time.Second, 5*time.Millisecond)

	resp, err = svc.GetSurface(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), resp.Snapshot.Last.Generation, "only the latest buffered set is drawn")
	assert.Equal(t, 2, resp.Snapshot.Last.Polylines)
}

func TestBootstrapFailure(t *testing.T) {
	svc := newTestService(t, staticmaps.PlaceholderAPIKey, &MockCalculator{})
	h := svc.Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/surfaces", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[SurfaceResponse](t, rec).ID

	var resp SurfaceResponse
	require.Eventually(t, func() bool {
		var err error
		resp, err = svc.GetSurface(context.Background(), id)
		return err == nil && resp.Snapshot.State == mapview.StateFailed
	}, 2*time.Second, 5*time.Millisecond)

	assert.False(t, resp.Snapshot.Ready)
	assert.Contains(t, resp.Snapshot.Error, "placeholder")
	assert.Empty(t, resp.StaticMapURL)

	rec = do(t, h, http.MethodPut, "/api/v1/surfaces/"+id+"/routes", `{"routes":[{"geometry":"`+sierraGeometry+`"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[SurfaceResponse](t, rec).Snapshot
	assert.True(t, snap.Pending)
	assert.Empty(t, snap.Overlays)

	rec = do(t, h, http.MethodGet, "/api/v1/surfaces/"+id+"/kml", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCalculate(t *testing.T) {
	calc := &MockCalculator{}
	calc.On("CalculateRoutes", mock.Anything, pricing.Request{
		Origin: "Angels Camp, CA", Destination: "Arnold, CA", VehicleID: 7, Alternatives: true,
	}).Return(pricedResponse(), nil).Once()

	svc := newTestService(t, testAPIKey, calc)
	svc.config.Cache.RouteTTL = time.Minute
	id := createReadySurface(t, svc)
	h := svc.Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/surfaces/"+id+"/calculate", calculatePayload)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[CalculateResponse](t, rec)

	assert.False(t, resp.Cached)
	require.NotNil(t, resp.Routes.TripID)
	assert.Equal(t, 42, *resp.Routes.TripID)
	assert.Len(t, resp.Surface.Snapshot.Overlays, 4)
	require.NotNil(t, resp.Surface.Summary)
	assert.Equal(t, 1, resp.Surface.Summary.Cheapest)
	assert.Equal(t, 0, resp.Surface.Summary.Fastest)

	// Same request again is answered from cache
	rec = do(t, h, http.MethodPost, "/api/v1/surfaces/"+id+"/calculate", calculatePayload)
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[CalculateResponse](t, rec)
	assert.True(t, resp.Cached)
	assert.Equal(t, uint64(2), resp.Surface.Snapshot.Last.Generation)

	calc.AssertExpectations(t)
}

func TestCalculate_DefaultForwardsEveryRequest(t *testing.T) {
	calc := &MockCalculator{}
	calc.On("CalculateRoutes", mock.Anything, mock.Anything).Return(pricedResponse(), nil).Twice()

	svc := newTestService(t, testAPIKey, calc)
	require.Zero(t, svc.config.Cache.RouteTTL)
	id := createReadySurface(t, svc)
	h := svc.Handler()

	// Each calculation records a trip upstream, so none are reused
	for range 2 {
		rec := do(t, h, http.MethodPost, "/api/v1/surfaces/"+id+"/calculate", calculatePayload)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.False(t, decode[CalculateResponse](t, rec).Cached)
	}

	calc.AssertNumberOfCalls(t, "CalculateRoutes", 2)
	assert.Zero(t, svc.cache.Stats().TotalEntries)
}

func TestCalculate_Errors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"unauthorized", pricing.ErrUnauthorized, http.StatusUnauthorized},
		{"vehicle not found", pricing.ErrVehicleNotFound, http.StatusNotFound},
		{"backend error", &pricing.APIError{StatusCode: 500, Detail: "Error calculating route"}, http.StatusBadGateway},
		{"transport", errors.New("connection refused"), http.StatusBadGateway},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"client timeout", timeoutError{}, http.StatusGatewayTimeout},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			calc := &MockCalculator{}
			calc.On("CalculateRoutes", mock.Anything, mock.Anything).Return(nil, tc.err)

			svc := newTestService(t, testAPIKey, calc)
			id := createReadySurface(t, svc)

			rec := do(t, svc.Handler(), http.MethodPost, "/api/v1/surfaces/"+id+"/calculate", calculatePayload)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[errorResponse](t, rec).Error)
		})
	}
}

func TestCalculate_InvalidRequest(t *testing.T) {
	calc := &MockCalculator{}
	svc := newTestService(t, testAPIKey, calc)
	id := createReadySurface(t, svc)
	h := svc.Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/surfaces/"+id+"/calculate", `{"origin":"Angels Camp, CA","vehicle_id":7}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/surfaces/"+id+"/calculate", `{"origin":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	calc.AssertNotCalled(t, "CalculateRoutes", mock.Anything, mock.Anything)
}

// gatedCalculator blocks until released and counts backend calls
type gatedCalculator struct {
	calls   atomic.Int32
	release chan struct{}
}

func (g *gatedCalculator) CalculateRoutes(ctx context.Context, req pricing.Request) (*pricing.Response, error) {
	g.calls.Add(1)
	<-g.release
	return pricedResponse(), nil
}

func TestCalculate_CoalescesConcurrentRequests(t *testing.T) {
	calc := &gatedCalculator{release: make(chan struct{})}
	svc := newTestService(t, testAPIKey, calc)
	svc.config.Cache.RouteTTL = time.Minute
	id := createReadySurface(t, svc)

	req := pricing.Request{Origin: "Angels Camp, CA", Destination: "Arnold, CA", VehicleID: 7}

	var wg sync.WaitGroup
	results := make([]CalculateResponse, 3)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := svc.Calculate(context.Background(), id, req)
			assert.NoError(t, err)
			results[i] = resp
		}(i)
	}

	require.Eventually(t, func() bool { return calc.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(calc.release)
	wg.Wait()

	assert.Equal(t, int32(1), calc.calls.Load())
	for _, r := range results {
		require.NotNil(t, r.Routes)
		assert.Len(t, r.Routes.Routes, 2)
	}
	assert.NotSame(t, &results[0].Routes.Routes[0], &results[1].Routes.Routes[0])
}

func TestExportKML(t *testing.T) {
	svc := newTestService(t, testAPIKey, &MockCalculator{})
	id := createReadySurface(t, svc)
	h := svc.Handler()

	rec := do(t, h, http.MethodPut, "/api/v1/surfaces/"+id+"/routes", `{"routes":[{"geometry":"`+hwy4Geometry+`"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/surfaces/"+id+"/kml", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.google-earth.kml+xml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), id)

	doc := rec.Body.String()
	assert.Equal(t, 1, strings.Count(doc, "<LineString>"))
	assert.Equal(t, 2, strings.Count(doc, "<Point>"))
	assert.Contains(t, doc, "-120.5436,38.0675")
}

func TestDeleteSurface(t *testing.T) {
	svc := newTestService(t, testAPIKey, &MockCalculator{})
	id := createReadySurface(t, svc)
	h := svc.Handler()

	rec := do(t, h, http.MethodDelete, "/api/v1/surfaces/"+id, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, svc.SurfaceCount())

	rec = do(t, h, http.MethodGet, "/api/v1/surfaces/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodDelete, "/api/v1/surfaces/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnknownSurface(t *testing.T) {
	svc := newTestService(t, testAPIKey, &MockCalculator{})
	h := svc.Handler()

	for _, tc := range []struct{ method, path, body string }{
		{http.MethodGet, "/api/v1/surfaces/nope", ""},
		{http.MethodPut, "/api/v1/surfaces/nope/routes", `{"routes":[]}`},
		{http.MethodPost, "/api/v1/surfaces/nope/calculate", calculatePayload},
		{http.MethodGet, "/api/v1/surfaces/nope/kml", ""},
	} {
		rec := do(t, h, tc.method, tc.path, tc.body)
		assert.Equal(t, http.StatusNotFound, rec.Code, "%s %s", tc.method, tc.path)
	}
}

type timeoutError struct{}

func (timeoutError) Error() string { return "Client.Timeout exceeded while awaiting headers" }
func (timeoutError) Timeout() bool { return true }

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusGone, statusFor(mapview.ErrSurfaceClosed))
	assert.Equal(t, http.StatusConflict, statusFor(mapview.ErrNotReady))
	assert.Equal(t, http.StatusGatewayTimeout, statusFor(context.DeadlineExceeded))
	assert.Equal(t, http.StatusGatewayTimeout,
		statusFor(fmt.Errorf("%w: %w", ErrCalculationFailed, context.DeadlineExceeded)))
	assert.Equal(t, http.StatusGatewayTimeout,
		statusFor(fmt.Errorf("%w: %w", ErrCalculationFailed, timeoutError{})))
	assert.Equal(t, http.StatusBadGateway,
		statusFor(fmt.Errorf("%w: %w", ErrCalculationFailed, errors.New("connection refused"))))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}

func TestCloseIdle(t *testing.T) {
	svc := newTestService(t, testAPIKey, &MockCalculator{})
	clock := time.Date(2026, 1, 11, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return clock }

	stale, err := svc.CreateSurface(context.Background())
	require.NoError(t, err)

	clock = clock.Add(20 * time.Minute)
	fresh, err := svc.CreateSurface(context.Background())
	require.NoError(t, err)

	clock = clock.Add(15 * time.Minute)
	assert.Equal(t, 1, svc.CloseIdle(30*time.Minute))
	assert.Equal(t, 1, svc.SurfaceCount())

	_, err = svc.GetSurface(context.Background(), stale.ID)
	assert.ErrorIs(t, err, ErrSurfaceNotFound)
	_, err = svc.GetSurface(context.Background(), fresh.ID)
	assert.NoError(t, err)
}

func TestCloseIdle_SkipsSurfaceTouchedAfterListing(t *testing.T) {
	svc := newTestService(t, testAPIKey, &MockCalculator{})
	clock := time.Date(2026, 1, 11, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return clock }

	created, err := svc.CreateSurface(context.Background())
	require.NoError(t, err)

	// Listed as idle at this cutoff, then used before the close runs
	cutoff := clock.Add(time.Minute)
	clock = clock.Add(10 * time.Minute)
	_, err = svc.GetSurface(context.Background(), created.ID)
	require.NoError(t, err)

	assert.False(t, svc.closeIfIdle(created.ID, cutoff))
	assert.Equal(t, 1, svc.SurfaceCount())
	_, err = svc.GetSurface(context.Background(), created.ID)
	assert.NoError(t, err)

	assert.True(t, svc.closeIfIdle(created.ID, clock.Add(time.Minute)))
	assert.Zero(t, svc.SurfaceCount())
	assert.False(t, svc.closeIfIdle(created.ID, clock.Add(time.Minute)))
}

func TestPeriodicSweepService(t *testing.T) {
	svc := newTestService(t, testAPIKey, &MockCalculator{})
	_, err := svc.CreateSurface(context.Background())
	require.NoError(t, err)

	sweeper := NewPeriodicSweepService(svc, time.Nanosecond, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(logging.With(context.Background(), logging.NewDevLogger()))
	defer cancel()

	sweeper.Start(ctx)
	sweeper.Start(ctx)
	assert.True(t, sweeper.IsRunning())

	assert.Eventually(t, func() bool { return svc.SurfaceCount() == 0 }, time.Second, 5*time.Millisecond)

	sweeper.Stop()
	sweeper.Stop()
	assert.False(t, sweeper.IsRunning())

	disabled := NewPeriodicSweepService(svc, 0, time.Second)
	disabled.Start(ctx)
	assert.False(t, disabled.IsRunning())
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	svc := newTestService(t, testAPIKey, &MockCalculator{})
	rec := do(t, svc.Handler(), http.MethodPatch, "/api/v1/surfaces", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	var buf bytes.Buffer
	buf.WriteString(`{"routes":[]}`)
	req := httptest.NewRequest(http.MethodPut, "/api/v1/surfaces/x/routes/extra", &buf)
	rec = httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
