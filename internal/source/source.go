// Package source reads layer datasets from local files through DuckDB
// spatial, as an alternative to the remote API.
package source

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-observatorio/internal/db"
	"github.com/joeblew999/plat-observatorio/internal/geodata"
	"github.com/joeblew999/plat-observatorio/internal/service"
)

// ErrNoSource is returned when no file backs a layer.
var ErrNoSource = errors.New("no local source")

// geomColumn is the alias given to the GeoJSON rendering of the geometry.
const geomColumn = "__geometry"

// Supported source file extensions and their types, in lookup preference.
var fileTypes = []struct {
	Ext  string
	Type string
}{
	{".geojson", "GeoJSON"},
	{".json", "GeoJSON"},
	{".fgb", "FlatGeobuf"},
	{".gpkg", "GeoPackage"},
	{".shp", "Shapefile"},
	{".parquet", "GeoParquet"},
}

// File describes one file in the sources directory.
type File struct {
	Name     string          `json:"name" doc:"File name"`
	Size     string          `json:"size" doc:"Human readable size"`
	FileType string          `json:"fileType" doc:"Detected format"`
	Layer    service.LayerID `json:"layer,omitempty" doc:"Layer this file backs, if any"`
}

// Source resolves layer files under {dataDir}/sources and reads them.
type Source struct {
	dir  string
	conn *sql.DB
	log  zerolog.Logger
}

// New creates a source reading from dataDir/sources through conn.
func New(conn *sql.DB, dataDir string, log zerolog.Logger) *Source {
	return &Source{
		dir:  filepath.Join(dataDir, "sources"),
		conn: conn,
		log:  log,
	}
}

// Dir returns the path to the sources directory.
func (s *Source) Dir() string { return s.dir }

// List returns all recognised source files.
func (s *Source) List(reg *service.Registry) ([]File, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []File{}, nil
		}
		return nil, err
	}

	files := []File{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		fileType := typeOf(ext)
		if fileType == "" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}

		f := File{Name: entry.Name(), Size: formatSize(info.Size()), FileType: fileType}
		id := service.LayerID(strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name())))
		if _, ok := reg.Get(id); ok {
			f.Layer = id
		}
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// Path returns the file backing id.
func (s *Source) Path(id service.LayerID) (string, error) {
	for _, ft := range fileTypes {
		p := filepath.Join(s.dir, string(id)+ft.Ext)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w for layer %s in %s", ErrNoSource, id, s.dir)
}

// Fetch implements service.Fetcher.
func (s *Source) Fetch(ctx context.Context, desc service.LayerDescriptor) (geodata.Dataset, error) {
	path, err := s.Path(desc.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", service.ErrFetchFailed, err)
	}

	start := time.Now()
	var ds geodata.Dataset
	if desc.Kind == geodata.KindWeightedPoints {
		ds, err = s.readWeighted(ctx, path)
	} else {
		ds, err = s.readFeatures(ctx, desc.Kind, path)
	}
	if err != nil {
		return nil, err
	}

	s.log.Debug().Str("layer", string(desc.ID)).Str("path", path).Int("rows", ds.Len()).
		Dur("elapsed", time.Since(start)).Msg("local layer read")
	return ds, nil
}

func (s *Source) readFeatures(ctx context.Context, kind geodata.Kind, path string) (geodata.Dataset, error) {
	geom, from := "geom", fmt.Sprintf("ST_Read(%s)", db.Quote(path))
	if strings.EqualFold(filepath.Ext(path), ".parquet") {
		geom, from = "geometry", fmt.Sprintf("read_parquet(%s)", db.Quote(path))
	}
	query := fmt.Sprintf("SELECT * EXCLUDE (%s), ST_AsGeoJSON(%s) AS %s FROM %s",
		geom, geom, geomColumn, from)

	rows, err := db.Rows(ctx, s.conn, query)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", service.ErrFetchFailed, filepath.Base(path), err)
	}

	fc := geojson.NewFeatureCollection()
	for i, row := range rows {
		raw, _ := row[geomColumn].(string)
		if raw == "" {
			return nil, fmt.Errorf("%w: row %d has no geometry", geodata.ErrMalformedPayload, i)
		}
		g, err := geojson.UnmarshalGeometry([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", geodata.ErrMalformedPayload, i, err)
		}

		f := geojson.NewFeature(g.Geometry())
		for col, v := range row {
			if col != geomColumn && v != nil {
				f.Properties[col] = jsonValue(v)
			}
		}
		fc.Append(f)
	}

	if kind == geodata.KindPointCollection {
		return geodata.NewPointCollection(fc)
	}
	return geodata.NewFeatureCollection(fc), nil
}

func (s *Source) readWeighted(ctx context.Context, path string) (geodata.Dataset, error) {
	query := fmt.Sprintf("SELECT * FROM read_json_auto(%s)", db.Quote(path))
	rows, err := db.Rows(ctx, s.conn, query)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", service.ErrFetchFailed, filepath.Base(path), err)
	}

	out := make(geodata.WeightedPoints, 0, len(rows))
	for i, row := range rows {
		lon, okLon := number(row["lon"])
		lat, okLat := number(row["lat"])
		if !okLon || !okLat {
			return nil, fmt.Errorf("%w: point %d lacks a usable lon/lat", geodata.ErrMalformedPayload, i)
		}
		p := geodata.WeightedPoint{Lon: lon, Lat: lat}
		if w, ok := number(row["weight"]); ok {
			p.Weight = &w
		}
		out = append(out, p)
	}
	return out, nil
}

// jsonValue maps driver values onto the types a JSON decode would produce,
// so local and remote datasets carry the same property types.
func jsonValue(v any) any {
	if n, ok := number(v); ok {
		return n
	}
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339)
	case string, bool:
		return x
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return string(b)
	}
	return out
}

func number(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int8:
		f = float64(n)
	case int16:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint8:
		f = float64(n)
	case uint16:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		x, err := strconv.ParseFloat(string(n), 64)
		if err != nil {
			return 0, false
		}
		f = x
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func typeOf(ext string) string {
	for _, ft := range fileTypes {
		if ft.Ext == ext {
			return ft.Type
		}
	}
	return ""
}

// formatSize returns a human-readable file size.
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
