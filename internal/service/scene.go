package service

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/joeblew999/plat-observatorio/internal/metrics"
)

// Compositor memoizes Compose. Cache entries never change once present, so
// the active set plus the presence of each active layer fully determines the
// scene; that pair is hashed into the memo key.
type Compositor struct {
	registry *Registry
	metrics  *metrics.Metrics

	mu    sync.Mutex
	key   uint64
	valid bool
	scene []RenderableLayer
}

// NewCompositor creates a compositor over reg.
func NewCompositor(reg *Registry, m *metrics.Metrics) *Compositor {
	return &Compositor{registry: reg, metrics: m}
}

// Scene returns the composed scene, reusing the previous result when the
// inputs are unchanged. The returned slice is shared and must be treated as
// read-only.
func (c *Compositor) Scene(active ActiveSet, snap CacheSnapshot) []RenderableLayer {
	key := c.sceneKey(active, snap)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.valid && c.key == key {
		c.metrics.IncSceneMemoHit()
		return c.scene
	}
	c.scene = Compose(c.registry, active, snap)
	c.key = key
	c.valid = true
	c.metrics.IncSceneComposition()
	return c.scene
}

// sceneKey hashes, in draw order, each layer's ID with its active and present bits.
func (c *Compositor) sceneKey(active ActiveSet, snap CacheSnapshot) uint64 {
	d := xxhash.New()
	for _, id := range c.registry.IDs() {
		_, present := snap.Get(id)
		_, _ = d.WriteString(string(id))
		_, _ = d.Write([]byte{flag(active.Has(id)), flag(present)})
	}
	return d.Sum64()
}

func flag(b bool) byte {
	if b {
		return 1
	}
	return 0
}
