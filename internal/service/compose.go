package service

import (
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-observatorio/internal/encode"
	"github.com/joeblew999/plat-observatorio/internal/geodata"
)

// Feature property keys read during composition.
const (
	PropPopulation = "total_personas"
	PropCategory   = "category"
	PropName       = "name"
	PropRating     = "rating"
)

// LayerType tells the renderer which layer class to instantiate.
type LayerType string

const (
	TypeGeoJSON     LayerType = "geojson"
	TypeScatterplot LayerType = "scatterplot"
	TypeHeatmap     LayerType = "heatmap"
)

// Renderer constants for point and heat layers.
const (
	MarkerRadiusMeters = 40.0
	HeatRadiusPixels   = 60.0
	HeatIntensity      = 1.0
	HeatThreshold      = 0.05
)

// ActiveSet is a set of layer IDs. Only membership matters.
type ActiveSet map[LayerID]struct{}

// NewActiveSet builds a set from ids.
func NewActiveSet(ids ...LayerID) ActiveSet {
	s := make(ActiveSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports membership.
func (s ActiveSet) Has(id LayerID) bool {
	_, ok := s[id]
	return ok
}

// IDs returns the members sorted lexically.
func (s ActiveSet) IDs() []LayerID {
	out := make([]LayerID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clone returns an independent copy.
func (s ActiveSet) Clone() ActiveSet {
	cp := make(ActiveSet, len(s))
	for id := range s {
		cp[id] = struct{}{}
	}
	return cp
}

// Style carries the renderer parameters of one layer.
type Style struct {
	Filled         bool          `json:"filled"`
	Stroked        bool          `json:"stroked"`
	Extruded       bool          `json:"extruded"`
	Opacity        float64       `json:"opacity"`
	LineColor      *encode.RGB   `json:"lineColor,omitempty"`
	FillColor      *encode.RGB   `json:"fillColor,omitempty"`
	LineWidth      float64       `json:"lineWidth,omitempty"`
	LineWidthUnits string        `json:"lineWidthUnits,omitempty"`
	RadiusMeters   float64       `json:"radiusMeters,omitempty"`
	Pickable       bool          `json:"pickable"`
	RadiusPixels   float64       `json:"radiusPixels,omitempty"`
	Intensity      float64       `json:"intensity,omitempty"`
	Threshold      float64       `json:"threshold,omitempty"`
	ColorRange     []encode.RGBA `json:"colorRange,omitempty"`
}

// EncodedFeature is a feature plus the encodings derived for it. Feature is
// shared with the cache and must not be mutated.
type EncodedFeature struct {
	Feature   *geojson.Feature `json:"feature"`
	FillColor *encode.RGB      `json:"fillColor,omitempty"`
	Elevation *float64         `json:"elevation,omitempty"`
}

// Marker is one point of a scatterplot layer.
type Marker struct {
	Position   orb.Point          `json:"position"`
	FillColor  encode.RGB         `json:"fillColor"`
	Properties geojson.Properties `json:"properties,omitempty"`
}

// HeatPoint is one weighted input of the heat aggregation.
type HeatPoint struct {
	Position orb.Point `json:"position"`
	Weight   float64   `json:"weight"`
}

// RenderableLayer is one entry of a scene. Exactly one of Features,
// Markers or HeatPoints is populated, according to Type.
type RenderableLayer struct {
	ID         LayerID          `json:"id"`
	Label      string           `json:"label"`
	Type       LayerType        `json:"type"`
	Style      Style            `json:"style"`
	Features   []EncodedFeature `json:"features,omitempty"`
	Markers    []Marker         `json:"markers,omitempty"`
	HeatPoints []HeatPoint      `json:"heatPoints,omitempty"`
}

// Compose builds the scene for the active layers whose data is present in
// snap, in registry draw order. Layers that are inactive or not yet loaded
// are omitted. It has no side effects; identical inputs give identical output.
func Compose(reg *Registry, active ActiveSet, snap CacheSnapshot) []RenderableLayer {
	out := []RenderableLayer{}
	for _, desc := range reg.List() {
		if !active.Has(desc.ID) {
			continue
		}
		ds, ok := snap.Get(desc.ID)
		if !ok || ds.Kind() != desc.Kind {
			continue
		}
		out = append(out, renderLayer(desc, ds))
	}
	return out
}

func renderLayer(desc LayerDescriptor, ds geodata.Dataset) RenderableLayer {
	layer := RenderableLayer{ID: desc.ID, Label: desc.Label}

	switch data := ds.(type) {
	case *geodata.FeatureCollection:
		layer.Type = TypeGeoJSON
		layer.Style = polygonStyle(desc)
		if desc.Extruded {
			layer.Features = encodePopulation(data.Features())
		} else {
			layer.Features = plainFeatures(data.Features())
		}

	case *geodata.PointCollection:
		layer.Type = TypeScatterplot
		layer.Style = Style{
			Filled:       true,
			Opacity:      desc.Opacity,
			RadiusMeters: MarkerRadiusMeters,
			Pickable:     true,
		}
		layer.Markers = encodeMarkers(data.Features())

	case geodata.WeightedPoints:
		layer.Type = TypeHeatmap
		layer.Style = Style{
			Opacity:      desc.Opacity,
			RadiusPixels: HeatRadiusPixels,
			Intensity:    HeatIntensity,
			Threshold:    HeatThreshold,
			ColorRange:   encode.HeatColorRange,
		}
		layer.HeatPoints = encodeHeat(data)
	}
	return layer
}

func polygonStyle(desc LayerDescriptor) Style {
	color := desc.BaseColor
	s := Style{
		Filled:   desc.Filled,
		Stroked:  desc.Stroked,
		Extruded: desc.Extruded,
		Opacity:  desc.Opacity,
	}
	if desc.Stroked {
		s.LineColor = &color
		s.LineWidth = desc.StrokeWidth
		s.LineWidthUnits = "pixels"
	}
	// Extruded layers color each feature individually.
	if desc.Filled && !desc.Extruded {
		s.FillColor = &color
	}
	return s
}

func plainFeatures(features []*geojson.Feature) []EncodedFeature {
	out := make([]EncodedFeature, len(features))
	for i, f := range features {
		out[i] = EncodedFeature{Feature: f}
	}
	return out
}

// encodePopulation derives fill color and elevation from the same
// population attribute of each block.
func encodePopulation(features []*geojson.Feature) []EncodedFeature {
	out := make([]EncodedFeature, len(features))
	for i, f := range features {
		count := encode.Count(f.Properties[PropPopulation])
		color := encode.PopulationColor(count)
		elevation := encode.Elevation(count)
		out[i] = EncodedFeature{Feature: f, FillColor: &color, Elevation: &elevation}
	}
	return out
}

func encodeMarkers(features []*geojson.Feature) []Marker {
	out := make([]Marker, 0, len(features))
	for _, f := range features {
		p, ok := f.Geometry.(orb.Point)
		if !ok {
			continue
		}
		category, _ := f.Properties[PropCategory].(string)
		out = append(out, Marker{
			Position:   p,
			FillColor:  encode.CategoryColor(category),
			Properties: f.Properties,
		})
	}
	return out
}

func encodeHeat(points geodata.WeightedPoints) []HeatPoint {
	out := make([]HeatPoint, len(points))
	for i, p := range points {
		out[i] = HeatPoint{
			Position: orb.Point{p.Lon, p.Lat},
			Weight:   encode.HeatWeight(p.Weight),
		}
	}
	return out
}
