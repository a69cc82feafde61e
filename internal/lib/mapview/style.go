package mapview

import "github.com/dpup/tripcost/server/internal/lib/geo"

// Palette is the ordered route color cycle
var Palette = [4]string{"#4F46E5", "#10B981", "#F59E0B", "#EF4444"}

const (
	primaryOpacity     = 1.0
	primaryWeight      = 5
	alternativeOpacity = 0.6
	alternativeWeight  = 3
)

// Style is the visual treatment of one route
type Style struct {
	Color        string  `json:"color"`
	Opacity      float64 `json:"opacity"`
	StrokeWeight int     `json:"stroke_weight"`
	IsPrimary    bool    `json:"is_primary"`
}

// StyleFor returns the style of the route at index in its RouteSet. The index
// is the route's original position, so a failed decode ahead of it does not
// shift colors or promote it to primary.
func StyleFor(index int) Style {
	style := Style{
		Color:        Palette[index%len(Palette)],
		Opacity:      alternativeOpacity,
		StrokeWeight: alternativeWeight,
	}
	if index == 0 {
		style.Opacity = primaryOpacity
		style.StrokeWeight = primaryWeight
		style.IsPrimary = true
	}
	return style
}

// polylineOptions builds the draw request for a decoded route
func (s Style) polylineOptions(path []geo.Point) PolylineOptions {
	return PolylineOptions{
		Path:         path,
		Color:        s.Color,
		Opacity:      s.Opacity,
		StrokeWeight: s.StrokeWeight,
		Geodesic:     true,
	}
}

// OriginMarker is the pin placed on the first point of the primary route
func OriginMarker(at geo.Point) MarkerOptions {
	return MarkerOptions{
		Position:    at,
		Title:       "Origin",
		Glyph:       "A",
		Background:  "#10B981",
		BorderColor: "#ffffff",
		GlyphColor:  "#ffffff",
	}
}

// DestinationMarker is the pin placed on the last point of the primary route
func DestinationMarker(at geo.Point) MarkerOptions {
	return MarkerOptions{
		Position:    at,
		Title:       "Destination",
		Glyph:       "B",
		Background:  "#EF4444",
		BorderColor: "#ffffff",
		GlyphColor:  "#ffffff",
	}
}
