package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-observatorio/internal/geodata"
	"github.com/joeblew999/plat-observatorio/internal/service"
)

func points() service.Fetcher {
	return service.FetcherFunc(func(ctx context.Context, desc service.LayerDescriptor) (geodata.Dataset, error) {
		if desc.Kind == geodata.KindWeightedPoints {
			return geodata.WeightedPoints{{Lon: -76.62, Lat: 7.88}}, nil
		}
		fc := geojson.NewFeatureCollection()
		fc.Append(geojson.NewFeature(orb.Point{-76.62, 7.88}))
		if desc.Kind == geodata.KindPointCollection {
			return geodata.NewPointCollection(fc)
		}
		return geodata.NewFeatureCollection(fc), nil
	})
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	srv, err := New(Config{
		Host:         "localhost",
		Port:         "0",
		DataDir:      t.TempDir(),
		FetchTimeout: time.Second,
		Fetcher:      points(),
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func get(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestNew_MountsEveryLayer(t *testing.T) {
	srv := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, id := range srv.Store().Registry().IDs() {
		if _, err := srv.Store().Cache().Load(ctx, id); err != nil {
			t.Fatalf("load %s: %v", id, err)
		}
	}
	if got := len(srv.Store().Scene()); got != len(service.DefaultActive) {
		t.Fatalf("expected %d layers in the initial scene, got %d", len(service.DefaultActive), got)
	}
}

func TestNew_RejectsBadSource(t *testing.T) {
	if _, err := New(Config{Source: SourceRemote, NoMount: true}); err == nil {
		t.Fatalf("expected remote source without API base to fail")
	}
	if _, err := New(Config{Source: "ftp", NoMount: true}); err == nil {
		t.Fatalf("expected unknown source to fail")
	}
}

func TestRoutes(t *testing.T) {
	srv := newTestServer(t)

	if rec := get(t, srv, http.MethodGet, "/health"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /health, got %d", rec.Code)
	}

	rec := get(t, srv, http.MethodGet, "/")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "plat-observatorio") {
		t.Fatalf("unexpected root response %d %s", rec.Code, rec.Body.String())
	}

	rec = get(t, srv, http.MethodGet, "/api/v1/layers/osm_vias")
	if links := strings.Join(rec.Header().Values("Link"), ","); !strings.Contains(links, `rel="self"`) {
		t.Fatalf("expected self link on item route, got %q", links)
	}

	get(t, srv, http.MethodGet, "/api/v1/layers/osm_edificaciones")
	rec = get(t, srv, http.MethodGet, "/metrics")
	body := rec.Body.String()
	if !strings.Contains(body, "observatorio_http_requests_total") {
		t.Fatalf("expected request metrics, got:\n%s", body)
	}
	if !strings.Contains(body, `/api/v1/layers/{id}",status="200"} 2`) || strings.Contains(body, `path="/api/v1/layers/osm_vias"`) {
		t.Fatalf("expected layer requests labelled by route pattern, got:\n%s", body)
	}

	if rec := get(t, srv, http.MethodGet, "/missing"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestTiles(t *testing.T) {
	srv := newTestServer(t)
	dir := srv.services.TilesDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "osm_vias.pmtiles"), []byte("PMTiles"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := get(t, srv, http.MethodOptions, "/tiles/osm_vias.pmtiles")
	if rec.Code != http.StatusOK || rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected CORS preflight, got %d %v", rec.Code, rec.Header())
	}

	rec = get(t, srv, http.MethodGet, "/tiles/osm_vias.pmtiles")
	if rec.Code != http.StatusOK || rec.Body.String() != "PMTiles" {
		t.Fatalf("expected archive body, got %d %q", rec.Code, rec.Body.String())
	}

	if rec := get(t, srv, http.MethodGet, "/tiles/notes.txt"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected non-archive to be hidden, got %d", rec.Code)
	}
}

func TestOpenAPI(t *testing.T) {
	srv := newTestServer(t)
	paths := srv.OpenAPI().Paths
	for _, p := range []string{"/api/v1/scene", "/api/v1/view", "/api/v1/tooltip", "/api/v1/viewer/events"} {
		if _, ok := paths[p]; !ok {
			t.Fatalf("expected %s in OpenAPI paths", p)
		}
	}
}

func TestPatchView_MergesPartialCamera(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/view", strings.NewReader(`{"zoom": 15}`))
	req.Header.Set("Content-Type", "application/merge-patch+json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	want := service.DefaultViewState
	want.Zoom = 15
	if got := srv.Store().View(); got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}
