package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/joeblew999/plat-observatorio/internal/geodata"
	"github.com/joeblew999/plat-observatorio/internal/service"
)

const roadsBody = `{"type":"FeatureCollection","features":[
 {"type":"Feature","geometry":{"type":"LineString","coordinates":[[-76.62,7.88],[-76.61,7.89]]},"properties":{"highway":"primary"}}
]}`

const heatBody = `[{"lon":-76.62,"lat":7.88,"weight":3},{"lon":-76.63,"lat":7.87}]`

func descriptor(t *testing.T, id service.LayerID) service.LayerDescriptor {
	t.Helper()
	d, ok := service.NewRegistry().Get(id)
	if !ok {
		t.Fatalf("layer %s not registered", id)
	}
	return d
}

func TestFetch_DecodesByKind(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.RequestURI())
		mu.Unlock()
		switch r.URL.Path {
		case "/layers/osm_vias/geojson":
			_, _ = w.Write([]byte(roadsBody))
		case "/geo/places/heatmap":
			_, _ = w.Write([]byte(heatBody))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	roads, err := c.Fetch(context.Background(), descriptor(t, service.LayerRoads))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if roads.Kind() != geodata.KindFeatureCollection || roads.Len() != 1 {
		t.Fatalf("expected one-feature collection, got %s/%d", roads.Kind(), roads.Len())
	}

	heat, err := c.Fetch(context.Background(), descriptor(t, service.LayerHeatmap))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	points := heat.(geodata.WeightedPoints)
	if len(points) != 2 || points[1].Weight != nil {
		t.Fatalf("expected two points with second weight absent, got %+v", points)
	}

	mu.Lock()
	defer mu.Unlock()
	if paths[0] != "/layers/osm_vias/geojson" || paths[1] != "/geo/places/heatmap" {
		t.Fatalf("unexpected request paths %v", paths)
	}
}

func TestFetch_KeepsQuery(t *testing.T) {
	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.URL.RequestURI())
		_, _ = w.Write([]byte(`{"type":"FeatureCollection","features":[]}`))
	}))
	defer srv.Close()

	if _, err := New(srv.URL).Fetch(context.Background(), descriptor(t, service.LayerBlocks)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if uri, _ := got.Load().(string); uri != "/geo/manzanas?limit=5000" {
		t.Fatalf("expected limit query to be sent, got %q", uri)
	}
}

func TestFetch_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Fetch(context.Background(), descriptor(t, service.LayerRoads))
	if !errors.Is(err, service.ErrFetchFailed) {
		t.Fatalf("expected ErrFetchFailed, got %v", err)
	}
}

func TestFetch_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"type":"Feature"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).Fetch(context.Background(), descriptor(t, service.LayerRoads))
	if !errors.Is(err, geodata.ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload, got %v", err)
	}
}

func TestFetch_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url).Fetch(context.Background(), descriptor(t, service.LayerRoads))
	if !errors.Is(err, service.ErrFetchFailed) {
		t.Fatalf("expected ErrFetchFailed, got %v", err)
	}
}

func TestFetch_ThroughCache(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(roadsBody))
	}))
	defer srv.Close()

	reg := service.NewRegistry()
	cache := service.NewLayerCache(reg, New(srv.URL), service.CacheOptions{})
	for i := 0; i < 3; i++ {
		if _, err := cache.Load(context.Background(), service.LayerRoads); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("expected one request, got %d", n)
	}
}
