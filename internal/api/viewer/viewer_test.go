package viewer

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-observatorio/internal/geodata"
	"github.com/joeblew999/plat-observatorio/internal/service"
	"github.com/joeblew999/plat-observatorio/internal/templates"
)

func newTestHandler(t *testing.T) (*Handler, *service.Store) {
	t.Helper()
	reg := service.NewRegistry()
	bus := service.NewEventBus()
	notices := service.NewNotices()
	fetch := service.FetcherFunc(func(ctx context.Context, desc service.LayerDescriptor) (geodata.Dataset, error) {
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
	cache := service.NewLayerCache(reg, fetch, service.CacheOptions{Bus: bus, Reporter: notices})
	store := service.NewStore(reg, cache, service.NewCompositor(reg, nil), bus)

	renderer, err := templates.New()
	if err != nil {
		t.Fatalf("templates: %v", err)
	}
	return NewHandler(store, notices, renderer), store
}

func TestPanel(t *testing.T) {
	h, _ := newTestHandler(t)
	_, api := humatest.New(t)
	h.RegisterRoutes(api)

	resp := api.Get("/api/v1/viewer/panel")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	body := resp.Body.String()
	for _, want := range []string{"datastar-patch-elements", LayersSelector, `id="layer-limite_municipal"`, "Sin errores"} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in panel stream:\n%s", want, body)
		}
	}
}

func TestToggle(t *testing.T) {
	h, store := newTestHandler(t)
	_, api := humatest.New(t)
	h.RegisterRoutes(api)

	resp := api.Post("/api/v1/viewer/toggle", map[string]any{"layer": "manzanas_censales"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if !store.IsActive(service.LayerBlocks) {
		t.Fatalf("expected blocks to become active")
	}
	if !strings.Contains(resp.Body.String(), `layer-row active" id="layer-manzanas_censales"`) {
		t.Fatalf("expected active row in stream:\n%s", resp.Body.String())
	}
	if !strings.Contains(resp.Body.String(), `"success":"Capa activada: manzanas_censales"`) {
		t.Fatalf("expected success signal in stream:\n%s", resp.Body.String())
	}

	resp = api.Post("/api/v1/viewer/toggle", map[string]any{"layer": "manzanas_censales"})
	if store.IsActive(service.LayerBlocks) {
		t.Fatalf("expected blocks to become inactive")
	}
	if !strings.Contains(resp.Body.String(), `"success":"Capa desactivada: manzanas_censales"`) {
		t.Fatalf("expected deactivation signal in stream:\n%s", resp.Body.String())
	}

	if resp := api.Post("/api/v1/viewer/toggle", map[string]any{}); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without layer, got %d", resp.Code)
	}
	if resp := api.Post("/api/v1/viewer/toggle", map[string]any{"layer": "satellite"}); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestEvents_DispatchesSceneChanges(t *testing.T) {
	h, store := newTestHandler(t)
	_, api := humatest.New(t)
	h.RegisterRoutes(api)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	go func() {
		tick := time.NewTicker(20 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				store.Bus().Publish(service.Event{Resource: service.ResourceView, Action: service.ActionUpdated})
			}
		}
	}()

	resp := api.GetCtx(ctx, "/api/v1/viewer/events")
	body := resp.Body.String()
	if !strings.Contains(body, "scene-changed") || !strings.Contains(body, "datastar-patch-signals") {
		t.Fatalf("expected scene-changed event and signals, got:\n%s", body)
	}
}
