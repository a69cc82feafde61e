package staticmaps

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dpup/tripcost/server/internal/lib/mapview"
	"github.com/dpup/tripcost/server/internal/lib/scene"
)

// PlaceholderAPIKey is the value shipped in sample configuration files
const PlaceholderAPIKey = "your_google_maps_api_key"

var (
	ErrMissingAPIKey     = errors.New("maps API key is not configured")
	ErrPlaceholderAPIKey = errors.New("maps API key is still the placeholder value")
	ErrKeyRejected       = errors.New("maps API key was rejected")
)

// HTTPDoer is the subset of http.Client used by the loader
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Loader bootstraps headless map scenes backed by the Google Static Maps API
type Loader struct {
	httpClient HTTPDoer
	baseURL    string
	viewport   scene.Viewport
	verify     bool
}

// Option configures a Loader
type Option func(*Loader)

// WithViewport sets the pixel size of scenes created by the loader
func WithViewport(vp scene.Viewport) Option {
	return func(l *Loader) {
		l.viewport = vp
	}
}

// WithVerification makes Load check the API key against the Static Maps
// endpoint before handing out a scene
func WithVerification(verify bool) Option {
	return func(l *Loader) {
		l.verify = verify
	}
}

// NewLoader creates a loader that talks to the public Static Maps endpoint
func NewLoader(opts ...Option) *Loader {
	return NewLoaderWithHTTPDoer(scene.DefaultStaticMapsURL, &http.Client{
		Timeout: 10 * time.Second,
	}, opts...)
}

// NewLoaderWithHTTPDoer creates a loader with a custom endpoint and HTTP client
func NewLoaderWithHTTPDoer(baseURL string, httpClient HTTPDoer, opts ...Option) *Loader {
	l := &Loader{
		httpClient: httpClient,
		baseURL:    baseURL,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load implements mapview.EngineLoader
func (l *Loader) Load(ctx context.Context, cfg mapview.EngineConfig) (mapview.Engine, error) {
	key := strings.TrimSpace(cfg.APIKey)
	switch {
	case key == "":
		return nil, ErrMissingAPIKey
	case key == PlaceholderAPIKey:
		return nil, ErrPlaceholderAPIKey
	}

	if l.verify {
		if err := l.verifyKey(ctx, key); err != nil {
			return nil, err
		}
	}

	return scene.New(scene.Config{
		Viewport:      l.viewport,
		MapID:         cfg.MapID,
		Theme:         cfg.Theme,
		StaticMapsURL: l.baseURL,
	}), nil
}

// verifyKey requests the smallest possible map with the key
func (l *Loader) verifyKey(ctx context.Context, key string) error {
	params := url.Values{}
	params.Set("size", "1x1")
	params.Set("center", "0,0")
	params.Set("zoom", "0")
	params.Set("key", key)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrKeyRejected, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// Ensure Loader satisfies the bootstrap contract
var _ mapview.EngineLoader = (*Loader)(nil)
