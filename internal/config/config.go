package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/dpup/tripcost/server/internal/lib/geo"
	"github.com/dpup/tripcost/server/internal/lib/mapview"
	"github.com/dpup/tripcost/server/internal/lib/scene"
)

// Config represents the complete server configuration
type Config struct {
	Maps     MapsConfig     `koanf:"maps" yaml:"maps"`
	Pricing  PricingConfig  `koanf:"pricing" yaml:"pricing"`
	Cache    CacheConfig    `koanf:"cache" yaml:"cache"`
	Surfaces SurfacesConfig `koanf:"surfaces" yaml:"surfaces"`
}

// MapsConfig holds mapping engine credentials and presentation settings
type MapsConfig struct {
	APIKey        string          `koanf:"api_key" yaml:"api_key"`
	MapID         string          `koanf:"map_id" yaml:"map_id"`
	ThemeFile     string          `koanf:"theme_file" yaml:"theme_file"`
	VerifyKey     bool            `koanf:"verify_key" yaml:"verify_key"`
	StaticMapsURL string          `koanf:"static_maps_url" yaml:"static_maps_url"`
	InitialCenter CoordinatesYAML `koanf:"initial_center" yaml:"initial_center"`
	InitialZoom   int             `koanf:"initial_zoom" yaml:"initial_zoom"`
	Viewport      ViewportConfig  `koanf:"viewport" yaml:"viewport"`
}

// ViewportConfig is the pixel size of rendered maps
type ViewportConfig struct {
	Width   int `koanf:"width" yaml:"width"`
	Height  int `koanf:"height" yaml:"height"`
	Padding int `koanf:"padding" yaml:"padding"`
}

// PricingConfig holds the route calculation backend settings
type PricingConfig struct {
	BaseURL string        `koanf:"base_url" yaml:"base_url"`
	Token   string        `koanf:"token" yaml:"token"`
	Timeout time.Duration `koanf:"timeout" yaml:"timeout"`
}

// CacheConfig controls caching of priced route sets
type CacheConfig struct {
	RouteTTL        time.Duration `koanf:"route_ttl" yaml:"route_ttl"`
	CleanupInterval time.Duration `koanf:"cleanup_interval" yaml:"cleanup_interval"`
}

// SurfacesConfig controls the lifetime of idle map surfaces
type SurfacesConfig struct {
	IdleTimeout   time.Duration `koanf:"idle_timeout" yaml:"idle_timeout"`
	SweepInterval time.Duration `koanf:"sweep_interval" yaml:"sweep_interval"`
}

// CoordinatesYAML represents lat/lon coordinates in config
type CoordinatesYAML struct {
	Latitude  float64 `koanf:"latitude" yaml:"latitude"`
	Longitude float64 `koanf:"longitude" yaml:"longitude"`
}

// ToPoint converts CoordinatesYAML to a geo.Point
func (c CoordinatesYAML) ToPoint() geo.Point {
	return geo.Point{Latitude: c.Latitude, Longitude: c.Longitude}
}

// ToViewport converts ViewportConfig to a scene.Viewport
func (v ViewportConfig) ToViewport() scene.Viewport {
	return scene.Viewport{Width: v.Width, Height: v.Height, Padding: v.Padding}
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Maps: MapsConfig{
			MapID: "DEMO_MAP_ID",
			// San Francisco
			InitialCenter: CoordinatesYAML{
				Latitude:  37.7749,
				Longitude: -122.4194,
			},
			InitialZoom: 12,
			Viewport: ViewportConfig{
				Width:   640,
				Height:  480,
				Padding: 32,
			},
			StaticMapsURL: scene.DefaultStaticMapsURL,
		},
		Pricing: PricingConfig{
			BaseURL: "http://localhost:8000",
			Timeout: 30 * time.Second,
		},
		// Every calculation records a trip upstream, so responses are not
		// reused unless route_ttl is set
		Cache: CacheConfig{
			RouteTTL:        0,
			CleanupInterval: 5 * time.Minute,
		},
		Surfaces: SurfacesConfig{
			IdleTimeout:   30 * time.Minute,
			SweepInterval: time.Minute,
		},
	}
}

// LoadDotEnv loads .env files into the process environment. Missing files are
// not an error; variables already set win.
func LoadDotEnv(filenames ...string) error {
	if len(filenames) == 0 {
		filenames = []string{".env"}
	}
	var existing []string
	for _, f := range filenames {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// ApplyEnv overrides secrets from the environment
func (c *Config) ApplyEnv() {
	if key := strings.TrimSpace(os.Getenv("MAPS_API_KEY")); key != "" {
		c.Maps.APIKey = key
	}
	if token := strings.TrimSpace(os.Getenv("PRICING_API_TOKEN")); token != "" {
		c.Pricing.Token = token
	}
	if base := strings.TrimSpace(os.Getenv("PRICING_BASE_URL")); base != "" {
		c.Pricing.BaseURL = base
	}
}

// Validate checks the settings the server cannot start without. The maps API
// key is not required: a missing key fails each surface's bootstrap instead.
func (c *Config) Validate() error {
	if c.Pricing.BaseURL == "" {
		return errors.New("pricing.base_url is required")
	}
	if c.Maps.InitialZoom < 0 || c.Maps.InitialZoom > 21 {
		return errors.New("maps.initial_zoom must be between 0 and 21")
	}
	if _, err := geo.NewPoint(c.Maps.InitialCenter.Latitude, c.Maps.InitialCenter.Longitude); err != nil {
		return errors.New("maps.initial_center is not a valid coordinate")
	}
	if c.Cache.RouteTTL < 0 {
		return errors.New("cache.route_ttl must not be negative")
	}
	return nil
}

// EngineConfig builds the bootstrap configuration for a map surface
func (c *Config) EngineConfig(theme mapview.Theme) mapview.EngineConfig {
	return mapview.EngineConfig{
		APIKey:        c.Maps.APIKey,
		MapID:         c.Maps.MapID,
		Theme:         theme,
		InitialCenter: c.Maps.InitialCenter.ToPoint(),
		InitialZoom:   c.Maps.InitialZoom,
	}
}
