package service

import (
	"fmt"
	"sync"
)

// Store is the single owner of the view state and the active layer set, and
// the entry point to the layer cache and compositor. Each mutator applies
// atomically; readers never observe a partial update.
type Store struct {
	registry   *Registry
	cache      *LayerCache
	compositor *Compositor
	bus        *EventBus

	mu     sync.RWMutex
	view   ViewState
	active ActiveSet
}

// NewStore creates a store with the default view and default active layers.
func NewStore(reg *Registry, cache *LayerCache, compositor *Compositor, bus *EventBus) *Store {
	return &Store{
		registry:   reg,
		cache:      cache,
		compositor: compositor,
		bus:        bus,
		view:       DefaultViewState,
		active:     NewActiveSet(DefaultActive...),
	}
}

// Registry returns the layer registry.
func (s *Store) Registry() *Registry { return s.registry }

// Cache returns the layer data cache.
func (s *Store) Cache() *LayerCache { return s.cache }

// Bus returns the event bus.
func (s *Store) Bus() *EventBus { return s.bus }

// Mount requests data for every registered layer, active or not.
func (s *Store) Mount() {
	for _, id := range s.registry.IDs() {
		_ = s.cache.Ensure(id)
	}
}

// View returns the current camera.
func (s *Store) View() ViewState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view
}

// SetViewState replaces the whole camera.
func (s *Store) SetViewState(next ViewState) {
	s.mu.Lock()
	s.view = next
	s.mu.Unlock()
	s.bus.Publish(Event{Resource: ResourceView, Action: ActionUpdated})
}

// ToggleLayer flips membership of id in the active set and returns the new
// membership. It does not fetch; pair it with LayerCache.Ensure when data
// should follow.
func (s *Store) ToggleLayer(id LayerID) (bool, error) {
	if _, ok := s.registry.Get(id); !ok {
		return false, fmt.Errorf("%w %q", ErrUnknownLayer, id)
	}

	s.mu.Lock()
	_, on := s.active[id]
	if on {
		delete(s.active, id)
	} else {
		s.active[id] = struct{}{}
	}
	s.mu.Unlock()

	s.bus.Publish(Event{Resource: ResourceLayers, Action: ActionToggled, ID: string(id)})
	return !on, nil
}

// IsActive reports whether id is in the active set.
func (s *Store) IsActive(id LayerID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active.Has(id)
}

// Active returns a copy of the active set.
func (s *Store) Active() ActiveSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active.Clone()
}

// ActiveLayers returns the active IDs in draw order.
func (s *Store) ActiveLayers() []LayerID {
	active := s.Active()
	var out []LayerID
	for _, id := range s.registry.IDs() {
		if active.Has(id) {
			out = append(out, id)
		}
	}
	return out
}

// Scene composes the current active set over the current cache contents.
func (s *Store) Scene() []RenderableLayer {
	return s.compositor.Scene(s.Active(), s.cache.Snapshot())
}

// LayerStatus is the panel view of one layer.
type LayerStatus struct {
	LayerDescriptor
	Active  bool `json:"active" doc:"Whether the layer is toggled on"`
	Loaded  bool `json:"loaded" doc:"Whether the layer data is cached"`
	Loading bool `json:"loading" doc:"Whether a fetch is in flight"`
}

// Status lists every layer with its activation and cache state, in draw order.
func (s *Store) Status() []LayerStatus {
	active := s.Active()
	out := make([]LayerStatus, 0, len(s.registry.order))
	for _, desc := range s.registry.List() {
		_, loaded := s.cache.Get(desc.ID)
		out = append(out, LayerStatus{
			LayerDescriptor: desc,
			Active:          active.Has(desc.ID),
			Loaded:          loaded,
			Loading:         s.cache.Loading(desc.ID),
		})
	}
	return out
}
