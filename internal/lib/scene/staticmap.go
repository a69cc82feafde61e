package scene

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/dpup/tripcost/server/internal/lib/geo"
	"github.com/dpup/tripcost/server/internal/lib/mapview"
)

// StaticMapURL renders the scene as a Google Static Maps request: one
// encoded path per polyline, the endpoint markers, the theme and the camera.
func (s *Scene) StaticMapURL(apiKey string) string {
	params := url.Values{}
	vp := s.config.Viewport
	params.Set("size", fmt.Sprintf("%dx%d", vp.Width, vp.Height))

	cam := s.Camera()
	params.Set("center", formatPoint(cam.Center))
	params.Set("zoom", fmt.Sprintf("%d", cam.Zoom))

	if s.config.MapID != "" {
		params.Set("map_id", s.config.MapID)
	}

	for _, line := range s.Polylines() {
		params.Add("path", fmt.Sprintf("color:%s|weight:%d|geodesic:%t|enc:%s",
			staticColor(line.Color, line.Opacity), line.StrokeWeight, line.Geodesic, geo.EncodePolyline(line.Path)))
	}

	for _, marker := range s.Markers() {
		params.Add("markers", fmt.Sprintf("color:%s|label:%s|%s",
			staticColor(marker.Background, 1), marker.Glyph, formatPoint(marker.Position)))
	}

	for _, rule := range s.config.Theme.Styles {
		params.Add("style", styleParam(rule))
	}

	if apiKey != "" {
		params.Set("key", apiKey)
	}

	return s.config.StaticMapsURL + "?" + params.Encode()
}

func formatPoint(p geo.Point) string {
	return fmt.Sprintf("%.6f,%.6f", p.Latitude, p.Longitude)
}

// staticColor converts "#RRGGBB" to the 0xRRGGBBAA form used by Static Maps
func staticColor(hex string, opacity float64) string {
	c := hexColor(hex, opacity)
	return fmt.Sprintf("0x%02X%02X%02X%02X", c.R, c.G, c.B, c.A)
}

func styleParam(rule mapview.StyleRule) string {
	var parts []string
	if rule.FeatureType != "" {
		parts = append(parts, "feature:"+rule.FeatureType)
	}
	if rule.ElementType != "" {
		parts = append(parts, "element:"+rule.ElementType)
	}
	if rule.Color != "" {
		parts = append(parts, "color:0x"+strings.TrimPrefix(rule.Color, "#"))
	}
	return strings.Join(parts, "|")
}
