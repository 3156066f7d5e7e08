package service

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-observatorio/internal/encode"
	"github.com/joeblew999/plat-observatorio/internal/geodata"
)

// ErrUnknownLayer is returned for identifiers outside the registry.
var ErrUnknownLayer = errors.New("unknown layer")

// Registry is the fixed set of selectable layers, held in draw order.
// It is built once at startup and read-only afterwards.
type Registry struct {
	order []LayerID
	byID  map[LayerID]LayerDescriptor
}

// defaultDescriptors lists layers bottom to top: outline, area fills, line
// networks, point markers, heat aggregation.
func defaultDescriptors() []LayerDescriptor {
	return []LayerDescriptor{
		{
			ID: LayerBoundary, Label: "Limite Municipal", Domain: "cartografia",
			Kind: geodata.KindFeatureCollection, Endpoint: "/layers/limite_municipal/geojson",
			BaseColor: encode.RGB{0, 80, 179}, StrokeWidth: 2.5, Opacity: 1, Stroked: true,
		},
		{
			ID: LayerBuildings, Label: "Edificaciones", Domain: "osm",
			Kind: geodata.KindFeatureCollection, Endpoint: "/layers/osm_edificaciones/geojson",
			BaseColor: encode.RGB{94, 102, 135}, Opacity: 0.3, Filled: true,
		},
		{
			ID: LayerBlocks, Label: "Manzanas 3D", Domain: "cartografia",
			Kind: geodata.KindFeatureCollection, Endpoint: "/geo/manzanas?limit=5000",
			BaseColor: encode.RGB{24, 144, 255}, Opacity: 0.7, Filled: true, Extruded: true,
		},
		{
			ID: LayerRoads, Label: "Red Vial", Domain: "osm",
			Kind: geodata.KindFeatureCollection, Endpoint: "/layers/osm_vias/geojson",
			BaseColor: encode.RGB{0, 80, 179}, StrokeWidth: 1, Opacity: 0.4, Stroked: true,
		},
		{
			ID: LayerPlaces, Label: "Negocios", Domain: "economia",
			Kind: geodata.KindPointCollection, Endpoint: "/geo/places?limit=2000",
			BaseColor: encode.RGB{250, 140, 22}, Opacity: 1, Filled: true,
		},
		{
			ID: LayerHeatmap, Label: "Heatmap Negocios", Domain: "economia",
			Kind: geodata.KindWeightedPoints, Endpoint: "/geo/places/heatmap",
			BaseColor: encode.RGB{0, 80, 179}, Opacity: 1,
		},
	}
}

// DefaultActive is the layer set shown on first load.
var DefaultActive = []LayerID{LayerBoundary, LayerRoads, LayerPlaces}

// NewRegistry returns the built-in registry.
func NewRegistry() *Registry {
	r := &Registry{byID: make(map[LayerID]LayerDescriptor)}
	for _, d := range defaultDescriptors() {
		r.order = append(r.order, d.ID)
		r.byID[d.ID] = d
	}
	return r
}

// LoadRegistry returns the built-in registry with per-layer overrides read
// from a YAML file keyed by layer ID. Only the fields present in the file
// change; draw order and IDs never do. An empty path skips the file.
func LoadRegistry(path string) (*Registry, error) {
	r := NewRegistry()
	if path == "" {
		return r, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading layer overrides: %w", err)
	}

	var overrides map[LayerID]yaml.Node
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("parsing layer overrides: %w", err)
	}

	for id, node := range overrides {
		desc, ok := r.byID[id]
		if !ok {
			return nil, fmt.Errorf("layer overrides: %w %q", ErrUnknownLayer, id)
		}
		if err := node.Decode(&desc); err != nil {
			return nil, fmt.Errorf("layer overrides for %q: %w", id, err)
		}
		desc.ID = id
		r.byID[id] = desc
	}
	return r, nil
}

// List returns all descriptors in draw order.
func (r *Registry) List() []LayerDescriptor {
	out := make([]LayerDescriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Get returns a descriptor by ID.
func (r *Registry) Get(id LayerID) (LayerDescriptor, bool) {
	d, ok := r.byID[id]
	return d, ok
}

// IDs returns the layer identifiers in draw order.
func (r *Registry) IDs() []LayerID {
	out := make([]LayerID, len(r.order))
	copy(out, r.order)
	return out
}
