package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/dpup/prefab"
	"github.com/dpup/prefab/logging"
	"go.uber.org/zap"

	"github.com/dpup/tripcost/server/internal/cache"
	"github.com/dpup/tripcost/server/internal/clients/pricing"
	"github.com/dpup/tripcost/server/internal/clients/staticmaps"
	"github.com/dpup/tripcost/server/internal/config"
	"github.com/dpup/tripcost/server/internal/services"
)

func main() {
	// Local secrets (MAPS_API_KEY, PRICING_API_TOKEN) may live in .env
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("Failed to load .env: %v", err)
	}

	appConfig := loadConfig()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	theme, err := config.LoadTheme(appConfig.Maps.ThemeFile)
	if err != nil {
		log.Fatalf("Failed to load map theme: %v", err)
	}

	// Background loops log through prefab, which reads the logger from ctx
	ctx, cancel := context.WithCancel(logging.With(context.Background(), logging.NewProdLogger()))
	defer cancel()

	cacheInstance := cache.NewCache()
	cacheInstance.StartPeriodicCleanup(ctx, appConfig.Cache.CleanupInterval)

	pricingClient := pricing.NewClientWithHTTPDoer(appConfig.Pricing.BaseURL, appConfig.Pricing.Token, &http.Client{
		Timeout: appConfig.Pricing.Timeout,
	})

	loader := staticmaps.NewLoaderWithHTTPDoer(appConfig.Maps.StaticMapsURL, &http.Client{Timeout: 10 * time.Second},
		staticmaps.WithViewport(appConfig.Maps.Viewport.ToViewport()),
		staticmaps.WithVerification(appConfig.Maps.VerifyKey),
	)

	mapViewService := services.NewMapViewService(appConfig, theme, loader, pricingClient, cacheInstance, logger)
	defer mapViewService.Close()

	sweeper := services.NewPeriodicSweepService(mapViewService, appConfig.Surfaces.IdleTimeout, appConfig.Surfaces.SweepInterval)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	if appConfig.Maps.APIKey == "" || appConfig.Maps.APIKey == staticmaps.PlaceholderAPIKey {
		logging.Errorw(ctx, "Maps API key is not configured; map surfaces will fail to bootstrap")
	}

	logger.Info("Trip cost map server starting",
		zap.String("pricing_base_url", appConfig.Pricing.BaseURL),
		zap.String("map_id", appConfig.Maps.MapID),
		zap.String("theme", theme.Name),
		zap.Duration("route_ttl", appConfig.Cache.RouteTTL))

	// Server configuration (port, etc.) is loaded from prefab.yaml/env vars
	api := mapViewService.Handler()
	server := prefab.New(
		prefab.WithHTTPHandlerFunc("/api/v1/", api.ServeHTTP),
		prefab.WithHTTPHandlerFunc("/", homepageHandler),
	)

	// Start the server (blocks until shutdown)
	if err := server.Start(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

// loadConfig loads configuration using Prefab's config system on top of the
// defaults. Configuration is read from prefab.yaml and environment variables
// with the PF__ prefix; MAPS_API_KEY and PRICING_API_TOKEN override secrets.
func loadConfig() *config.Config {
	appConfig := config.DefaultConfig()

	sections := map[string]any{
		"maps":     &appConfig.Maps,
		"pricing":  &appConfig.Pricing,
		"cache":    &appConfig.Cache,
		"surfaces": &appConfig.Surfaces,
	}
	for key, target := range sections {
		if err := prefab.Config.Unmarshal(key, target); err != nil {
			log.Fatalf("Failed to unmarshal %s section: %v", key, err)
		}
	}

	appConfig.ApplyEnv()
	if err := appConfig.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	return appConfig
}

// homepageHandler serves a simple HTML homepage at the server root
func homepageHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	html := `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>tripcost maps</title>
    <style>
        body {
            font-family: 'Courier New', Consolas, monospace;
            background: #242f3e;
            color: #d59563;
            padding: 20px;
            line-height: 1.4;
        }
        pre { margin: 0; }
        .header { color: #10B981; }
    </style>
</head>
<body>
<pre>
<span class="header">tripcost maps</span>

Renders priced travel routes for a vehicle onto map surfaces.

<span class="header">API Endpoints:</span>

  POST   /api/v1/surfaces                  - Create a map surface
  GET    /api/v1/surfaces/{id}             - Surface state, overlays and static map URL
  PUT    /api/v1/surfaces/{id}/routes      - Show a route set
  POST   /api/v1/surfaces/{id}/calculate   - Price routes and show them
  GET    /api/v1/surfaces/{id}/kml         - Export the drawn routes as KML
  DELETE /api/v1/surfaces/{id}             - Close a surface

<span class="header">Example Usage:</span>
  curl -X POST /api/v1/surfaces
  curl -X POST -d '{"origin":"Angels Camp, CA","destination":"Arnold, CA","vehicle_id":1,"alternatives":true}' \
       /api/v1/surfaces/{id}/calculate
</pre>
</body>
</html>`

	if _, err := fmt.Fprint(w, html); err != nil {
		logging.Errorw(r.Context(), "Failed to write homepage HTML", "error", err)
	}
}
