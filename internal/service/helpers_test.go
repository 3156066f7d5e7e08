package service

import (
	"context"
	"errors"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-observatorio/internal/geodata"
)

var errUpstream = errors.New("upstream returned 502")

// fakeFetcher counts calls per layer and answers from a per-layer function.
// When gate is non-nil every Fetch waits for it to close.
type fakeFetcher struct {
	mu      sync.Mutex
	calls   map[LayerID]int
	answers map[LayerID]func() (geodata.Dataset, error)
	gate    chan struct{}
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		calls:   make(map[LayerID]int),
		answers: make(map[LayerID]func() (geodata.Dataset, error)),
	}
}

func (f *fakeFetcher) answer(id LayerID, fn func() (geodata.Dataset, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers[id] = fn
}

func (f *fakeFetcher) count(id LayerID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func (f *fakeFetcher) Fetch(ctx context.Context, desc LayerDescriptor) (geodata.Dataset, error) {
	f.mu.Lock()
	f.calls[desc.ID]++
	fn := f.answers[desc.ID]
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fn == nil {
		return fixtureFor(desc), nil
	}
	return fn()
}

// fixtureFor returns a small valid dataset of the layer's kind.
func fixtureFor(desc LayerDescriptor) geodata.Dataset {
	switch desc.Kind {
	case geodata.KindPointCollection:
		return placesFixture()
	case geodata.KindWeightedPoints:
		w := 2.0
		return geodata.WeightedPoints{
			{Lon: -76.62, Lat: 7.88, Weight: &w},
			{Lon: -76.63, Lat: 7.87},
		}
	}
	if desc.Extruded {
		return blocksFixture()
	}
	return lineFixture()
}

func lineFixture() *geodata.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(orb.LineString{{-76.62, 7.88}, {-76.61, 7.89}}))
	return geodata.NewFeatureCollection(fc)
}

func blocksFixture() *geodata.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	square := orb.Polygon{orb.Ring{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}}

	empty := geojson.NewFeature(square)
	empty.Properties[PropPopulation] = "0"
	fc.Append(empty)

	half := geojson.NewFeature(square)
	half.Properties[PropPopulation] = "250"
	fc.Append(half)

	dense := geojson.NewFeature(square)
	dense.Properties[PropPopulation] = float64(5000)
	fc.Append(dense)

	return geodata.NewFeatureCollection(fc)
}

func placesFixture() *geodata.PointCollection {
	fc := geojson.NewFeatureCollection()

	bank := geojson.NewFeature(orb.Point{-76.62, 7.88})
	bank.Properties[PropName] = "Banco Agrario"
	bank.Properties[PropCategory] = "Bancos"
	bank.Properties[PropRating] = 4.1
	fc.Append(bank)

	odd := geojson.NewFeature(orb.Point{-76.63, 7.87})
	odd.Properties[PropCategory] = "Astilleros"
	fc.Append(odd)

	pc, err := geodata.NewPointCollection(fc)
	if err != nil {
		panic(err)
	}
	return pc
}

func fullSnapshot(reg *Registry) CacheSnapshot {
	entries := make(map[LayerID]geodata.Dataset)
	for _, d := range reg.List() {
		entries[d.ID] = fixtureFor(d)
	}
	return NewCacheSnapshot(entries)
}

func layerIDs(scene []RenderableLayer) []LayerID {
	out := make([]LayerID, len(scene))
	for i, l := range scene {
		out[i] = l.ID
	}
	return out
}
