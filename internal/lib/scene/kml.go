package scene

import (
	"fmt"
	"image/color"
	"io"
	"strconv"
	"strings"

	"github.com/twpayne/go-kml"

	"github.com/dpup/tripcost/server/internal/lib/geo"
	"github.com/dpup/tripcost/server/internal/lib/mapview"
)

// WriteKML writes the live overlays as a KML document. Each polyline gets a
// shared line style carrying its color, opacity and width.
func (s *Scene) WriteKML(w io.Writer, name string) error {
	polylines := s.Polylines()
	markers := s.Markers()

	children := []kml.Element{kml.Name(name), kml.Open(true)}

	for i, line := range polylines {
		style := kml.SharedStyle(fmt.Sprintf("route-%d", i),
			kml.LineStyle(
				kml.Color(hexColor(line.Color, line.Opacity)),
				kml.Width(float64(line.StrokeWeight)),
			),
		)
		children = append(children,
			style,
			kml.Placemark(
				kml.Name(fmt.Sprintf("Route %d", i+1)),
				kml.StyleURL(style.URL()),
				kml.LineString(
					kml.Tessellate(line.Geodesic),
					kml.Coordinates(kmlCoordinates(line.Path)...),
				),
			),
		)
	}

	for _, marker := range markers {
		children = append(children, kml.Placemark(
			kml.Name(marker.Glyph),
			kml.Description(marker.Title),
			kml.Style(
				kml.IconStyle(kml.Color(hexColor(marker.Background, 1))),
			),
			kml.Point(
				kml.Coordinates(kmlCoordinates([]geo.Point{marker.Position})...),
			),
		))
	}

	return kml.KML(kml.Document(children...)).WriteIndent(w, "", "  ")
}

func kmlCoordinates(path []geo.Point) []kml.Coordinate {
	coords := make([]kml.Coordinate, len(path))
	for i, p := range path {
		coords[i] = kml.Coordinate{Lon: p.Longitude, Lat: p.Latitude}
	}
	return coords
}

// hexColor parses "#RRGGBB"; anything else renders as opaque white
func hexColor(hex string, opacity float64) color.RGBA {
	c := color.RGBA{R: 0xff, G: 0xff, B: 0xff}
	hex = strings.TrimPrefix(hex, "#")
	if len(hex) == 6 {
		if v, err := strconv.ParseUint(hex, 16, 32); err == nil {
			c.R, c.G, c.B = uint8(v>>16), uint8(v>>8), uint8(v)
		}
	}
	c.A = alpha(opacity)
	return c
}

func alpha(opacity float64) uint8 {
	return uint8(max(0, min(opacity, 1))*255 + 0.5)
}

// Ensure Scene satisfies the engine contract
var _ mapview.Engine = (*Scene)(nil)
