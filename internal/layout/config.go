package layout

import (
	"fmt"
	"math"
)

// Config holds the page geometry and bounding box for one build.
// All lengths are in document units (Unit).
type Config struct {
	Unit         string  `toml:"unit" json:"unit"`
	PageWidth    float64 `toml:"page_width" json:"page_width"`
	PageHeight   float64 `toml:"page_height" json:"page_height"`
	MaxWidth     float64 `toml:"max_width" json:"max_width"`
	MaxHeight    float64 `toml:"max_height" json:"max_height"`
	Margin       float64 `toml:"margin" json:"margin"`               // top margin and gap between images
	BottomMargin float64 `toml:"bottom_margin" json:"bottom_margin"` // auto-break margin at page bottom
	SafetyMargin float64 `toml:"safety_margin" json:"safety_margin"` // extra slack before the break trigger
	Upscale      bool    `toml:"upscale" json:"upscale"`
	// PixelsPerUnit converts source pixels to units for an unscaled image.
	PixelsPerUnit float64 `toml:"pixels_per_unit" json:"pixels_per_unit"`
}

// DefaultConfig is an A4 portrait page in millimetres with a 200x200 box.
func DefaultConfig() Config {
	return Config{
		Unit:          "mm",
		PageWidth:     210,
		PageHeight:    297,
		MaxWidth:      200,
		MaxHeight:     200,
		Margin:        1,
		BottomMargin:  5,
		SafetyMargin:  5,
		PixelsPerUnit: 1,
	}
}

// BreakLimit is the lowest y an image's bottom edge may reach before a new page starts.
func (c Config) BreakLimit() float64 {
	return c.PageHeight - c.BottomMargin - c.SafetyMargin
}

// Units lists the document units the writer understands. An empty Unit means mm.
var Units = []string{"mm", "pt", "cm", "in"}

// Validate rejects geometry that cannot produce a sane document.
func (c Config) Validate() error {
	if !knownUnit(c.Unit) {
		return &InvalidConfigError{Field: "unit", Reason: fmt.Sprintf("%q is not one of %v", c.Unit, Units)}
	}
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"page_width", c.PageWidth},
		{"page_height", c.PageHeight},
		{"max_width", c.MaxWidth},
		{"max_height", c.MaxHeight},
		{"margin", c.Margin},
		{"bottom_margin", c.BottomMargin},
		{"safety_margin", c.SafetyMargin},
		{"pixels_per_unit", c.PixelsPerUnit},
	} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return &InvalidConfigError{Field: f.name, Reason: "must be a finite number"}
		}
	}
	switch {
	case c.PageWidth <= 0:
		return &InvalidConfigError{Field: "page_width", Reason: "must be positive"}
	case c.PageHeight <= 0:
		return &InvalidConfigError{Field: "page_height", Reason: "must be positive"}
	case c.MaxWidth <= 0:
		return &InvalidConfigError{Field: "max_width", Reason: "must be positive"}
	case c.MaxHeight <= 0:
		return &InvalidConfigError{Field: "max_height", Reason: "must be positive"}
	case c.Margin < 0 || c.BottomMargin < 0 || c.SafetyMargin < 0:
		return &InvalidConfigError{Field: "margin", Reason: "must not be negative"}
	case c.PixelsPerUnit <= 0:
		return &InvalidConfigError{Field: "pixels_per_unit", Reason: "must be positive"}
	case c.MaxWidth > c.PageWidth:
		return &InvalidConfigError{Field: "max_width", Reason: fmt.Sprintf("%.2f exceeds page width %.2f", c.MaxWidth, c.PageWidth)}
	case c.Margin+c.MaxHeight > c.BreakLimit():
		return &InvalidConfigError{Field: "max_height", Reason: fmt.Sprintf("%.2f exceeds printable height %.2f", c.MaxHeight, c.BreakLimit()-c.Margin)}
	}
	return nil
}

func knownUnit(u string) bool {
	if u == "" {
		return true
	}
	for _, k := range Units {
		if u == k {
			return true
		}
	}
	return false
}

// InvalidConfigError reports a layout parameter that cannot be used.
type InvalidConfigError struct {
	Field  string
	Reason string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid layout config: %s %s", e.Field, e.Reason)
}
