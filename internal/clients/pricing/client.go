package pricing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dpup/tripcost/server/internal/lib/routes"
)

var (
	ErrUnauthorized    = errors.New("pricing backend rejected the credentials")
	ErrVehicleNotFound = errors.New("vehicle not found")
)

// APIError is any other non-success answer from the pricing backend
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("pricing API error %d", e.StatusCode)
	}
	return fmt.Sprintf("pricing API error %d: %s", e.StatusCode, e.Detail)
}

// HTTPDoer is the subset of http.Client used by the client
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Request asks the backend to price routes between two places for a vehicle
type Request struct {
	Origin       string `json:"origin"`
	Destination  string `json:"destination"`
	VehicleID    int    `json:"vehicle_id"`
	Alternatives bool   `json:"alternatives"`
}

// Validate checks the fields the backend requires
func (r Request) Validate() error {
	switch {
	case strings.TrimSpace(r.Origin) == "":
		return errors.New("origin is required")
	case strings.TrimSpace(r.Destination) == "":
		return errors.New("destination is required")
	case r.VehicleID <= 0:
		return errors.New("vehicle_id must be positive")
	}
	return nil
}

// Key identifies equivalent requests for caching and request coalescing
func (r Request) Key() string {
	return fmt.Sprintf("%s|%s|%d|%t",
		strings.ToLower(strings.TrimSpace(r.Origin)),
		strings.ToLower(strings.TrimSpace(r.Destination)),
		r.VehicleID, r.Alternatives)
}

// Response is the priced route set. TripID is the saved trip of the primary
// route, when the backend stored one.
type Response struct {
	Origin      string          `json:"origin"`
	Destination string          `json:"destination"`
	VehicleID   int             `json:"vehicle_id"`
	Routes      routes.RouteSet `json:"routes"`
	TripID      *int            `json:"trip_id,omitempty"`
}

// View converts the response into what a map surface displays
func (r *Response) View() routes.View {
	return routes.View{
		Routes:      r.Routes.Clone(),
		Origin:      r.Origin,
		Destination: r.Destination,
	}
}

// Client calls the route calculation endpoint of the pricing backend
type Client struct {
	token      string
	httpClient HTTPDoer
	baseURL    string
}

// NewClient creates a new pricing client
func NewClient(baseURL, token string) *Client {
	return NewClientWithHTTPDoer(baseURL, token, &http.Client{
		Timeout: 30 * time.Second,
	})
}

// NewClientWithHTTPDoer creates a pricing client with a custom HTTP client
func NewClientWithHTTPDoer(baseURL, token string, httpClient HTTPDoer) *Client {
	return &Client{
		token:      token,
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// CalculateRoutes prices the candidate routes for req
func (c *Client) CalculateRoutes(ctx context.Context, req Request) (*Response, error) {
	jsonBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/routes/calculate", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrVehicleNotFound, readDetail(resp.Body))
	case resp.StatusCode >= 400:
		return nil, &APIError{StatusCode: resp.StatusCode, Detail: readDetail(resp.Body)}
	}

	var response Response
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &response, nil
}

// readDetail extracts the backend's {"detail": "..."} message
func readDetail(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, 4096))
	var payload struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && payload.Detail != "" {
		return payload.Detail
	}
	return strings.TrimSpace(string(data))
}
