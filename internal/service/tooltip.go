package service

import (
	"math"
	"strconv"

	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-observatorio/internal/geodata"
)

// FeatureHit turns a picked feature into a tooltip hit.
func FeatureHit(f *geojson.Feature) map[string]any {
	if f == nil {
		return nil
	}
	return f.Properties
}

// Pick returns the hit for the index-th item of layer id in snap. Heat
// inputs yield their position and weight, which never produce a tooltip.
func Pick(snap CacheSnapshot, id LayerID, index int) (map[string]any, bool) {
	ds, ok := snap.Get(id)
	if !ok || index < 0 || index >= ds.Len() {
		return nil, false
	}
	switch d := ds.(type) {
	case *geodata.FeatureCollection:
		return FeatureHit(d.Features()[index]), true
	case *geodata.PointCollection:
		return FeatureHit(d.Features()[index]), true
	case geodata.WeightedPoints:
		p := d[index]
		hit := map[string]any{"lon": p.Lon, "lat": p.Lat}
		if p.Weight != nil {
			hit["weight"] = *p.Weight
		}
		return hit, true
	}
	return nil, false
}

// ResolveTooltip describes a hover target. hit is a feature's properties or
// an aggregate point's fields. It reports false when there is nothing to
// show: no hit, or neither a name nor a category. Numeric names and
// categories are shown as written; zero, false and missing fields stay empty.
func ResolveTooltip(hit map[string]any) (TooltipContent, bool) {
	if hit == nil {
		return TooltipContent{}, false
	}

	name := text(hit[PropName])
	category := text(hit[PropCategory])
	if name == "" && category == "" {
		return TooltipContent{}, false
	}

	return TooltipContent{
		Name:     name,
		Category: category,
		Rating:   rating(hit[PropRating]),
	}, true
}

// text renders a present, non-zero scalar attribute.
func text(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t != 0 && !math.IsNaN(t) {
			return strconv.FormatFloat(t, 'f', -1, 64)
		}
	case int:
		if t != 0 {
			return strconv.Itoa(t)
		}
	case int64:
		if t != 0 {
			return strconv.FormatInt(t, 10)
		}
	case bool:
		if t {
			return "true"
		}
	}
	return ""
}

func rating(v any) *float64 {
	var r float64
	switch n := v.(type) {
	case float64:
		r = n
	case int:
		r = float64(n)
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return nil
		}
		r = f
	default:
		return nil
	}
	return &r
}
