// Package encode maps raw feature attributes to visual values.
//
// Every function here is total: bad upstream values degrade to a documented
// fallback instead of failing.
package encode

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// RGB is an 8-bit color triple as consumed by the renderer.
type RGB [3]uint8

// Hex renders c as #rrggbb.
func (c RGB) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c[0], c[1], c[2])
}

// RGBA is an 8-bit color with alpha, used by the heat color range.
type RGBA [4]uint8

const (
	// PopulationCap is the count at which the population ramp saturates.
	PopulationCap = 500.0

	// ElevationScale converts a population count to scene units.
	ElevationScale = 3.0

	// DefaultHeatWeight is used for aggregate points without a weight.
	DefaultHeatWeight = 1.0
)

var (
	// PopulationLow is the ramp color at a count of zero.
	PopulationLow = RGB{145, 213, 255}
	// PopulationHigh is the ramp color at PopulationCap and above.
	PopulationHigh = RGB{0, 80, 179}
)

// HeatColorRange is the six-step color ramp for heat aggregation, light to dark.
var HeatColorRange = []RGBA{
	{198, 219, 239, 25},
	{158, 202, 225, 100},
	{107, 174, 214, 180},
	{66, 146, 198, 220},
	{33, 113, 181, 240},
	{8, 69, 148, 255},
}

// PopulationColor blends PopulationLow and PopulationHigh linearly over [0, PopulationCap].
func PopulationColor(count float64) RGB {
	t := clampCount(count) / PopulationCap
	if t > 1 {
		t = 1
	}
	var out RGB
	for i := range out {
		out[i] = blend(PopulationLow[i], PopulationHigh[i], t)
	}
	return out
}

func blend(low, high uint8, t float64) uint8 {
	v := float64(low)*(1-t) + float64(high)*t
	return uint8(math.Round(v))
}

// Elevation scales a population count to an extrusion height. There is no
// upper clamp; tall outliers render as-is.
func Elevation(count float64) float64 {
	return clampCount(count) * ElevationScale
}

// HeatWeight returns the raw weight when present and DefaultHeatWeight otherwise.
func HeatWeight(raw *float64) float64 {
	if raw == nil {
		return DefaultHeatWeight
	}
	return *raw
}

// clampCount treats negative and NaN counts as zero.
func clampCount(count float64) float64 {
	if math.IsNaN(count) || count < 0 {
		return 0
	}
	return count
}

// Count reads a count attribute that may arrive as a JSON number or as a
// numeric string (census tables store total_personas as text). Strings are
// read up to the first non-digit after an optional sign, so "12.7" and
// "300 personas" give 12 and 300. A string with no leading digits yields 0.
func Count(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		return leadingInt(n)
	}
	return 0
}

func leadingInt(s string) float64 {
	s = strings.TrimLeft(s, " \t\n\r")
	sign := ""
	if s != "" && (s[0] == '+' || s[0] == '-') {
		sign, s = s[:1], s[1:]
	}
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0
	}
	// ParseFloat keeps digit runs past int64 range finite.
	f, err := strconv.ParseFloat(sign+s[:end], 64)
	if err != nil {
		return 0
	}
	return f
}
