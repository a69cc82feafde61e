package config

import (
	"fmt"
	"regexp"

	"github.com/BurntSushi/toml"

	"github.com/dpup/tripcost/server/internal/lib/mapview"
)

var hexColorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// DefaultTheme is the built-in dark map style
func DefaultTheme() mapview.Theme {
	return mapview.Theme{
		Name: "dark",
		Styles: []mapview.StyleRule{
			{ElementType: "geometry", Color: "#242f3e"},
			{ElementType: "labels.text.stroke", Color: "#242f3e"},
			{ElementType: "labels.text.fill", Color: "#746855"},
			{FeatureType: "water", ElementType: "geometry", Color: "#17263c"},
		},
	}
}

// LoadTheme loads map style tokens from a TOML file. An empty filename yields
// the default theme.
func LoadTheme(filename string) (mapview.Theme, error) {
	if filename == "" {
		return DefaultTheme(), nil
	}

	var theme mapview.Theme
	if _, err := toml.DecodeFile(filename, &theme); err != nil {
		return mapview.Theme{}, fmt.Errorf("error decoding theme file: %w", err)
	}

	if theme.Name == "" {
		return mapview.Theme{}, fmt.Errorf("name is required in theme file")
	}
	for i, rule := range theme.Styles {
		if rule.ElementType == "" && rule.FeatureType == "" {
			return mapview.Theme{}, fmt.Errorf("styles[%d]: feature_type or element_type is required", i)
		}
		if !hexColorPattern.MatchString(rule.Color) {
			return mapview.Theme{}, fmt.Errorf("styles[%d]: color %q is not a #RRGGBB value", i, rule.Color)
		}
	}

	return theme, nil
}
