// Package tiler turns composed layers into PMTiles archives of MVT tiles.
//
// Uses paulmach/orb for clipping, simplification and MVT encoding and
// internal/pmtiles for the archive format.
package tiler

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/simplify"

	"github.com/joeblew999/plat-observatorio/internal/pmtiles"
	"github.com/joeblew999/plat-observatorio/internal/service"
)

// MaxZoom is the deepest zoom level generated.
const MaxZoom = 14

// Property names added to exported features.
const (
	PropFillColor = "fill_color"
	PropElevation = "elevation"
	PropWeight    = "weight"
)

// Config controls tile generation.
type Config struct {
	Layer   string
	MinZoom int
	MaxZoom int
}

func (c Config) normalize() Config {
	if c.Layer == "" {
		c.Layer = "default"
	}
	if c.MinZoom < 0 {
		c.MinZoom = 0
	}
	if c.MaxZoom <= 0 || c.MaxZoom > MaxZoom {
		c.MaxZoom = MaxZoom
	}
	if c.MinZoom > c.MaxZoom {
		c.MinZoom = c.MaxZoom
	}
	return c
}

// Features flattens a scene layer into plain features. Encoded colors and
// elevations become properties. Property maps are copied; geometries are
// shared and must not be mutated.
func Features(l service.RenderableLayer) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	for _, ef := range l.Features {
		f := geojson.NewFeature(ef.Feature.Geometry)
		copyProps(f.Properties, ef.Feature.Properties)
		if ef.FillColor != nil {
			f.Properties[PropFillColor] = ef.FillColor.Hex()
		} else if l.Style.FillColor != nil {
			f.Properties[PropFillColor] = l.Style.FillColor.Hex()
		}
		if ef.Elevation != nil {
			f.Properties[PropElevation] = *ef.Elevation
		}
		fc.Append(f)
	}

	for _, m := range l.Markers {
		f := geojson.NewFeature(m.Position)
		copyProps(f.Properties, m.Properties)
		f.Properties[PropFillColor] = m.FillColor.Hex()
		fc.Append(f)
	}

	for _, h := range l.HeatPoints {
		f := geojson.NewFeature(h.Position)
		f.Properties[PropWeight] = h.Weight
		fc.Append(f)
	}
	return fc
}

func copyProps(dst, src geojson.Properties) {
	for k, v := range src {
		dst[k] = v
	}
}

// Generate builds the gzipped MVT tiles for every zoom level in cfg.
func Generate(fc *geojson.FeatureCollection, cfg Config) []pmtiles.Tile {
	cfg = cfg.normalize()

	var out []pmtiles.Tile
	for z := cfg.MinZoom; z <= cfg.MaxZoom; z++ {
		for t, data := range generateZoomLevel(fc, maptile.Zoom(z), cfg.Layer) {
			out = append(out, pmtiles.Tile{Z: uint8(t.Z), X: t.X, Y: t.Y, Data: data})
		}
	}
	return out
}

// Write generates tiles for fc and writes a PMTiles archive to w.
func Write(w io.Writer, fc *geojson.FeatureCollection, cfg Config) error {
	cfg = cfg.normalize()
	tiles := Generate(fc, cfg)
	if len(tiles) == 0 {
		return fmt.Errorf("layer %s: %w", cfg.Layer, pmtiles.ErrNoTiles)
	}

	b := fc.BBox
	bound := collectionBound(fc)
	if len(b) != 4 {
		b = geojson.BBox{bound.Min[0], bound.Min[1], bound.Max[0], bound.Max[1]}
	}
	return pmtiles.Write(w, tiles, pmtiles.Archive{
		Name:    cfg.Layer,
		MinZoom: uint8(cfg.MinZoom),
		MaxZoom: uint8(cfg.MaxZoom),
		Bounds:  [4]float64{b[0], b[1], b[2], b[3]},
		Metadata: map[string]any{
			"vector_layers": []map[string]any{{
				"id": cfg.Layer, "minzoom": cfg.MinZoom, "maxzoom": cfg.MaxZoom,
			}},
		},
	})
}

// WriteFile writes the archive to path atomically.
func WriteFile(path string, fc *geojson.FeatureCollection, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create tiles directory: %w", err)
	}

	var buf bytes.Buffer
	if err := Write(&buf, fc, cfg); err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func collectionBound(fc *geojson.FeatureCollection) orb.Bound {
	var b orb.Bound
	for i, f := range fc.Features {
		if i == 0 {
			b = f.Geometry.Bound()
			continue
		}
		b = b.Union(f.Geometry.Bound())
	}
	return b
}

// generateZoomLevel creates MVT tiles for a specific zoom level.
func generateZoomLevel(fc *geojson.FeatureCollection, zoom maptile.Zoom, layerName string) map[maptile.Tile][]byte {
	result := make(map[maptile.Tile][]byte)

	tileFeatures := make(map[maptile.Tile][]*geojson.Feature)
	for _, f := range fc.Features {
		for _, t := range tilesInBounds(f.Geometry.Bound(), zoom) {
			tileFeatures[t] = append(tileFeatures[t], f)
		}
	}

	for t, features := range tileFeatures {
		if data := createMVT(t, features, layerName); len(data) > 0 {
			result[t] = data
		}
	}
	return result
}

// createMVT encodes the features intersecting tile into one gzipped MVT.
func createMVT(tile maptile.Tile, features []*geojson.Feature, layerName string) []byte {
	fc := geojson.NewFeatureCollection()
	tileBound := tile.Bound()

	for _, f := range features {
		if !geometryIntersectsTile(f.Geometry, tileBound) {
			continue
		}
		// Clip and ProjectToTile mutate in place; the source geometry is
		// shared with the layer cache.
		geom := orb.Clone(f.Geometry)
		if geom == nil {
			continue
		}
		clone := geojson.NewFeature(geom)
		copyProps(clone.Properties, f.Properties)
		fc.Append(clone)
	}
	if len(fc.Features) == 0 {
		return nil
	}

	layer := mvt.NewLayer(layerName, fc)
	if epsilon := simplifyEpsilon(tile.Z); epsilon > 0 {
		layer.Simplify(simplify.DouglasPeucker(epsilon))
	}
	layer.Clip(tileBound)
	layer.ProjectToTile(tile)
	layer.RemoveEmpty(0.5, 0.5)
	if len(layer.Features) == 0 {
		return nil
	}

	data, err := mvt.MarshalGzipped(mvt.Layers{layer})
	if err != nil {
		return nil
	}
	return data
}

// geometryIntersectsTile refines the bounding box test for points and polygons.
func geometryIntersectsTile(geom orb.Geometry, tileBound orb.Bound) bool {
	if !geom.Bound().Intersects(tileBound) {
		return false
	}

	switch g := geom.(type) {
	case orb.Point:
		return tileBound.Contains(g)

	case orb.MultiPoint:
		for _, p := range g {
			if tileBound.Contains(p) {
				return true
			}
		}
		return false

	case orb.Polygon:
		for _, ring := range g {
			for _, p := range ring {
				if tileBound.Contains(p) {
					return true
				}
			}
		}
		corners := []orb.Point{
			tileBound.Min,
			{tileBound.Max[0], tileBound.Min[1]},
			tileBound.Max,
			{tileBound.Min[0], tileBound.Max[1]},
			tileBound.Center(),
		}
		for _, p := range corners {
			if planar.PolygonContains(g, p) {
				return true
			}
		}
		return false

	case orb.MultiPolygon:
		for _, poly := range g {
			if geometryIntersectsTile(poly, tileBound) {
				return true
			}
		}
		return false

	case orb.MultiLineString:
		for _, ls := range g {
			if geometryIntersectsTile(ls, tileBound) {
				return true
			}
		}
		return false
	}
	// Lines and anything else: trust the bounding box.
	return true
}

// tilesInBounds returns all tiles at a zoom level that intersect a bounding box.
func tilesInBounds(bounds orb.Bound, zoom maptile.Zoom) []maptile.Tile {
	minTile := maptile.At(bounds.Min, zoom)
	maxTile := maptile.At(bounds.Max, zoom)

	minX, maxX := minTile.X, maxTile.X
	if minX > maxX {
		minX, maxX = maxX, minX
	}
	minY, maxY := minTile.Y, maxTile.Y
	if minY > maxY {
		minY, maxY = maxY, minY
	}

	var tiles []maptile.Tile
	for x := minX; x <= maxX; x++ {
		for y := minY; y <= maxY; y++ {
			tiles = append(tiles, maptile.New(x, y, zoom))
		}
	}
	return tiles
}

// simplifyEpsilon returns the simplification tolerance in degrees for a
// zoom level. Census blocks are a few hundred meters across, so tolerances
// stay well below that.
func simplifyEpsilon(zoom maptile.Zoom) float64 {
	switch {
	case zoom >= 14:
		return 0
	case zoom >= 10:
		return 0.00001
	case zoom >= 6:
		return 0.0001
	case zoom >= 4:
		return 0.0005
	default:
		return 0.001
	}
}
