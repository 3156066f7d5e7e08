package tiler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joeblew999/plat-observatorio/internal/geodata"
	"github.com/joeblew999/plat-observatorio/internal/service"
)

// Ext is the archive file extension.
const Ext = ".pmtiles"

// File is one archive in the tiles directory.
type File struct {
	Name string `json:"name" doc:"File name" example:"osm_vias.pmtiles"`
	Size string `json:"size" doc:"Human readable size"`
}

// Dir returns the tiles directory under dataDir.
func Dir(dataDir string) string {
	return filepath.Join(dataDir, "tiles")
}

// List returns the archives in dir, sorted by name.
func List(dir string) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []File{}, nil
		}
		return nil, err
	}

	files := []File{}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != Ext {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, File{Name: entry.Name(), Size: formatSize(info.Size())})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// Export loads layer id through cache, composes it alone and writes
// {dir}/{id}.pmtiles. The layer's active state elsewhere is irrelevant.
func Export(ctx context.Context, reg *service.Registry, cache *service.LayerCache, id service.LayerID, dir string, cfg Config) (string, error) {
	ds, err := cache.Load(ctx, id)
	if err != nil {
		return "", err
	}

	scene := service.Compose(reg,
		service.NewActiveSet(id),
		service.NewCacheSnapshot(map[service.LayerID]geodata.Dataset{id: ds}))
	if len(scene) != 1 {
		return "", fmt.Errorf("layer %s produced no renderable output", id)
	}

	if cfg.Layer == "" {
		cfg.Layer = string(id)
	}
	path := filepath.Join(dir, string(id)+Ext)
	if err := WriteFile(path, Features(scene[0]), cfg); err != nil {
		return "", fmt.Errorf("export %s: %w", id, err)
	}
	return path, nil
}

// ValidName reports whether name is a bare archive file name.
func ValidName(name string) bool {
	return name != "" && filepath.Ext(name) == Ext &&
		!strings.ContainsAny(name, `/\`) && !strings.Contains(name, "..")
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
