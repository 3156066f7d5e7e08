// Package geodata defines the payload variants a layer can hold and decodes
// remote responses into them.
package geodata

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// ErrMalformedPayload is returned when a payload does not match the variant
// expected for its layer.
var ErrMalformedPayload = errors.New("malformed payload")

// Kind identifies a dataset variant.
type Kind int

const (
	KindFeatureCollection Kind = iota
	KindPointCollection
	KindWeightedPoints
)

func (k Kind) String() string {
	switch k {
	case KindFeatureCollection:
		return "feature_collection"
	case KindPointCollection:
		return "point_collection"
	case KindWeightedPoints:
		return "weighted_points"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// MarshalText lets kinds travel as strings in JSON and YAML.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses the names produced by String.
func (k *Kind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "feature_collection":
		*k = KindFeatureCollection
	case "point_collection":
		*k = KindPointCollection
	case "weighted_points":
		*k = KindWeightedPoints
	default:
		return fmt.Errorf("unknown dataset kind %q", string(b))
	}
	return nil
}

// Dataset is the fetched payload of one layer.
type Dataset interface {
	Kind() Kind
	Len() int
}

// FeatureCollection holds polygon or line features with their properties.
type FeatureCollection struct {
	fc *geojson.FeatureCollection
}

// NewFeatureCollection wraps fc without copying it.
func NewFeatureCollection(fc *geojson.FeatureCollection) *FeatureCollection {
	return &FeatureCollection{fc: fc}
}

func (c *FeatureCollection) Kind() Kind { return KindFeatureCollection }
func (c *FeatureCollection) Len() int   { return len(c.fc.Features) }

// Features returns the underlying features. Callers must not mutate them.
func (c *FeatureCollection) Features() []*geojson.Feature { return c.fc.Features }

// Collection returns the underlying orb collection.
func (c *FeatureCollection) Collection() *geojson.FeatureCollection { return c.fc }

// PointCollection holds point features carrying name/category/rating properties.
type PointCollection struct {
	fc *geojson.FeatureCollection
}

// NewPointCollection wraps fc. Every geometry must be an orb.Point.
func NewPointCollection(fc *geojson.FeatureCollection) (*PointCollection, error) {
	if err := checkPoints(fc); err != nil {
		return nil, err
	}
	return &PointCollection{fc: fc}, nil
}

func (c *PointCollection) Kind() Kind { return KindPointCollection }
func (c *PointCollection) Len() int   { return len(c.fc.Features) }

// Features returns the underlying point features. Callers must not mutate them.
func (c *PointCollection) Features() []*geojson.Feature { return c.fc.Features }

// Collection returns the underlying orb collection.
func (c *PointCollection) Collection() *geojson.FeatureCollection { return c.fc }

// WeightedPoint is one input point of a heat aggregation. Weight is nil when
// the upstream row has no weight.
type WeightedPoint struct {
	Lon    float64  `json:"lon"`
	Lat    float64  `json:"lat"`
	Weight *float64 `json:"weight,omitempty"`
}

// WeightedPoints is the heat aggregation payload.
type WeightedPoints []WeightedPoint

func (p WeightedPoints) Kind() Kind { return KindWeightedPoints }
func (p WeightedPoints) Len() int   { return len(p) }

// Decode parses data as the variant named by kind. Any shape mismatch is
// reported as ErrMalformedPayload so the caller can leave the layer absent.
func Decode(kind Kind, data []byte) (Dataset, error) {
	switch kind {
	case KindFeatureCollection:
		fc, err := decodeCollection(data)
		if err != nil {
			return nil, err
		}
		for i, f := range fc.Features {
			if f.Geometry == nil {
				return nil, fmt.Errorf("%w: feature %d has no geometry", ErrMalformedPayload, i)
			}
		}
		return NewFeatureCollection(fc), nil

	case KindPointCollection:
		fc, err := decodeCollection(data)
		if err != nil {
			return nil, err
		}
		return NewPointCollection(fc)

	case KindWeightedPoints:
		return decodeWeighted(data)
	}
	return nil, fmt.Errorf("%w: unsupported kind %s", ErrMalformedPayload, kind)
}

func decodeCollection(data []byte) (*geojson.FeatureCollection, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if fc.Type != "FeatureCollection" {
		return nil, fmt.Errorf("%w: type %q is not a FeatureCollection", ErrMalformedPayload, fc.Type)
	}
	return fc, nil
}

func checkPoints(fc *geojson.FeatureCollection) error {
	for i, f := range fc.Features {
		if _, ok := f.Geometry.(orb.Point); !ok {
			return fmt.Errorf("%w: feature %d is not a point", ErrMalformedPayload, i)
		}
	}
	return nil
}

func decodeWeighted(data []byte) (WeightedPoints, error) {
	var raw []struct {
		Lon    *float64 `json:"lon"`
		Lat    *float64 `json:"lat"`
		Weight *float64 `json:"weight"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: expected an array of points", ErrMalformedPayload)
	}

	out := make(WeightedPoints, 0, len(raw))
	for i, r := range raw {
		if r.Lon == nil || r.Lat == nil || !finite(*r.Lon) || !finite(*r.Lat) {
			return nil, fmt.Errorf("%w: point %d lacks a usable lon/lat", ErrMalformedPayload, i)
		}
		out = append(out, WeightedPoint{Lon: *r.Lon, Lat: *r.Lat, Weight: r.Weight})
	}
	return out, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
