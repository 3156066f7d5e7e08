package service

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

func newTestStore(f Fetcher) *Store {
	reg := NewRegistry()
	bus := NewEventBus()
	cache := NewLayerCache(reg, f, CacheOptions{Timeout: 5 * time.Second, Bus: bus})
	return NewStore(reg, cache, NewCompositor(reg, nil), bus)
}

func TestStore_Defaults(t *testing.T) {
	s := newTestStore(newFakeFetcher())

	if s.View() != DefaultViewState {
		t.Fatalf("expected default view, got %+v", s.View())
	}
	want := []LayerID{LayerBoundary, LayerRoads, LayerPlaces}
	if got := s.ActiveLayers(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestStore_ToggleIsInvolutive(t *testing.T) {
	s := newTestStore(newFakeFetcher())
	before := s.Active()

	on, err := s.ToggleLayer(LayerHeatmap)
	if err != nil || !on {
		t.Fatalf("expected heatmap on, got %v %v", on, err)
	}
	on, err = s.ToggleLayer(LayerHeatmap)
	if err != nil || on {
		t.Fatalf("expected heatmap off, got %v %v", on, err)
	}
	if !reflect.DeepEqual(s.Active(), before) {
		t.Fatalf("expected active set restored, got %v", s.Active().IDs())
	}
}

func TestStore_ToggleDoesNotFetch(t *testing.T) {
	f := newFakeFetcher()
	s := newTestStore(f)

	if _, err := s.ToggleLayer(LayerHeatmap); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.count(LayerHeatmap); got != 0 {
		t.Fatalf("expected no fetch on toggle, got %d", got)
	}
	if s.Cache().Loading(LayerHeatmap) {
		t.Fatalf("expected nothing in flight")
	}
}

func TestStore_ToggleUnknownLayer(t *testing.T) {
	s := newTestStore(newFakeFetcher())
	before := s.Active()

	if _, err := s.ToggleLayer("satellite"); !errors.Is(err, ErrUnknownLayer) {
		t.Fatalf("expected ErrUnknownLayer, got %v", err)
	}
	if !reflect.DeepEqual(s.Active(), before) {
		t.Fatalf("expected active set unchanged")
	}
}

func TestStore_SetViewStateReplacesWholeCamera(t *testing.T) {
	s := newTestStore(newFakeFetcher())
	ch := s.Bus().Subscribe()
	defer s.Bus().Unsubscribe(ch)

	next := ViewState{Longitude: -75.5, Latitude: 6.2, Zoom: 10, Pitch: 0, Bearing: 0}
	s.SetViewState(next)
	if s.View() != next {
		t.Fatalf("expected %+v, got %+v", next, s.View())
	}

	select {
	case e := <-ch:
		if e.Resource != ResourceView || e.Action != ActionUpdated {
			t.Fatalf("expected view update event, got %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for view event")
	}
}

func TestStore_ActiveReturnsCopy(t *testing.T) {
	s := newTestStore(newFakeFetcher())
	a := s.Active()
	delete(a, LayerBoundary)
	if !s.IsActive(LayerBoundary) {
		t.Fatalf("expected store state unaffected by caller mutation")
	}
}

func TestStore_MountFetchesEveryLayer(t *testing.T) {
	f := newFakeFetcher()
	s := newTestStore(f)

	s.Mount()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, id := range s.Registry().IDs() {
		if _, err := s.Cache().Load(ctx, id); err != nil {
			t.Fatalf("unexpected error loading %s: %v", id, err)
		}
		if got := f.count(id); got != 1 {
			t.Fatalf("expected one fetch for %s, got %d", id, got)
		}
	}
}

func TestStore_SceneFollowsToggleAndLoad(t *testing.T) {
	f := newFakeFetcher()
	s := newTestStore(f)
	ctx := context.Background()

	if got := s.Scene(); len(got) != 0 {
		t.Fatalf("expected empty scene before any load, got %v", layerIDs(got))
	}

	if _, err := s.ToggleLayer(LayerHeatmap); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.Cache().Load(ctx, LayerBoundary); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := layerIDs(s.Scene()); !reflect.DeepEqual(got, []LayerID{LayerBoundary}) {
		t.Fatalf("expected boundary only, got %v", got)
	}

	if _, err := s.Cache().Load(ctx, LayerHeatmap); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := layerIDs(s.Scene())
	if !reflect.DeepEqual(got, []LayerID{LayerBoundary, LayerHeatmap}) {
		t.Fatalf("expected boundary then heatmap, got %v", got)
	}
}

func TestStore_Status(t *testing.T) {
	s := newTestStore(newFakeFetcher())
	if _, err := s.Cache().Load(context.Background(), LayerRoads); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	status := s.Status()
	if len(status) != 6 {
		t.Fatalf("expected six layers, got %d", len(status))
	}
	for _, st := range status {
		switch st.ID {
		case LayerRoads:
			if !st.Active || !st.Loaded {
				t.Fatalf("expected roads active and loaded, got %+v", st)
			}
		case LayerHeatmap:
			if st.Active || st.Loaded {
				t.Fatalf("expected heatmap inactive and absent, got %+v", st)
			}
		}
	}
}
