package tiler

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-observatorio/internal/encode"
	"github.com/joeblew999/plat-observatorio/internal/geodata"
	"github.com/joeblew999/plat-observatorio/internal/pmtiles"
	"github.com/joeblew999/plat-observatorio/internal/service"
)

func blocks() *geodata.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	square := orb.Polygon{orb.Ring{
		{-76.63, 7.88}, {-76.62, 7.88}, {-76.62, 7.89}, {-76.63, 7.89}, {-76.63, 7.88},
	}}
	f := geojson.NewFeature(square)
	f.Properties[service.PropPopulation] = "250"
	fc.Append(f)
	return geodata.NewFeatureCollection(fc)
}

func TestFeatures_CarriesEncodings(t *testing.T) {
	reg := service.NewRegistry()
	src := blocks()
	scene := service.Compose(reg, service.NewActiveSet(service.LayerBlocks),
		service.NewCacheSnapshot(map[service.LayerID]geodata.Dataset{service.LayerBlocks: src}))

	fc := Features(scene[0])
	props := fc.Features[0].Properties
	if props[PropFillColor] != encode.PopulationColor(250).Hex() {
		t.Fatalf("expected population fill color, got %v", props[PropFillColor])
	}
	if props[PropElevation] != 750.0 {
		t.Fatalf("expected elevation 750, got %v", props[PropElevation])
	}
	if _, ok := src.Features()[0].Properties[PropFillColor]; ok {
		t.Fatalf("expected cached feature properties to stay untouched")
	}
}

func TestGenerate_ZoomRange(t *testing.T) {
	tiles := Generate(blocks().Collection(), Config{Layer: "blocks", MinZoom: 10, MaxZoom: 12})
	if len(tiles) == 0 {
		t.Fatalf("expected tiles")
	}
	seen := map[uint8]bool{}
	for _, tile := range tiles {
		if tile.Z < 10 || tile.Z > 12 {
			t.Fatalf("tile outside zoom range: %d", tile.Z)
		}
		seen[tile.Z] = true
	}
	if len(seen) != 3 {
		t.Fatalf("expected tiles at three zoom levels, got %v", seen)
	}
}

func TestGenerate_DoesNotMutateSource(t *testing.T) {
	src := blocks()
	before := orb.Clone(src.Features()[0].Geometry)
	Generate(src.Collection(), Config{MinZoom: 12, MaxZoom: 13})
	if !orb.Equal(before, src.Features()[0].Geometry) {
		t.Fatalf("expected source geometry unchanged")
	}
}

func TestWrite_Header(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, blocks().Collection(), Config{Layer: "blocks", MinZoom: 11, MaxZoom: 13}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h, err := pmtiles.DeserializeHeader(buf.Bytes())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.MinZoom != 11 || h.MaxZoom != 13 || h.TileType != pmtiles.Mvt || h.TileEntriesCount == 0 {
		t.Fatalf("unexpected header %+v", h)
	}
	if h.MinLonE7 != -766300000 || h.MaxLatE7 != 78900000 {
		t.Fatalf("expected bounds from features, got %+v", h)
	}
}

func TestConfig_Normalize(t *testing.T) {
	c := Config{MinZoom: 20, MaxZoom: 30}.normalize()
	if c.MaxZoom != MaxZoom || c.MinZoom != MaxZoom || c.Layer != "default" {
		t.Fatalf("unexpected normalized config %+v", c)
	}
}

func TestExport(t *testing.T) {
	reg := service.NewRegistry()
	fetcher := service.FetcherFunc(func(ctx context.Context, desc service.LayerDescriptor) (geodata.Dataset, error) {
		return blocks(), nil
	})
	cache := service.NewLayerCache(reg, fetcher, service.CacheOptions{})
	dir := filepath.Join(t.TempDir(), "tiles")

	path, err := Export(context.Background(), reg, cache, service.LayerBlocks, dir, Config{MinZoom: 12, MaxZoom: 12})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	if _, err := pmtiles.DeserializeHeader(data); err != nil {
		t.Fatalf("invalid archive: %v", err)
	}

	files, err := List(dir)
	if err != nil || len(files) != 1 || files[0].Name != "manzanas_censales.pmtiles" {
		t.Fatalf("expected one listed archive, got %+v %v", files, err)
	}
}

func TestValidName(t *testing.T) {
	if !ValidName("osm_vias.pmtiles") {
		t.Fatalf("expected plain name to be valid")
	}
	for _, bad := range []string{"", "../x.pmtiles", "a/b.pmtiles", "osm_vias.geojson"} {
		if ValidName(bad) {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}
