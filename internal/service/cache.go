package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/joeblew999/plat-observatorio/internal/geodata"
	"github.com/joeblew999/plat-observatorio/internal/metrics"
)

// DefaultFetchTimeout bounds a single layer fetch.
const DefaultFetchTimeout = 30 * time.Second

// Fetcher retrieves the dataset of one layer.
type Fetcher interface {
	Fetch(ctx context.Context, desc LayerDescriptor) (geodata.Dataset, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, desc LayerDescriptor) (geodata.Dataset, error)

func (f FetcherFunc) Fetch(ctx context.Context, desc LayerDescriptor) (geodata.Dataset, error) {
	return f(ctx, desc)
}

// CacheOptions configures a LayerCache. Zero values are usable.
type CacheOptions struct {
	Timeout  time.Duration
	Logger   zerolog.Logger
	Metrics  *metrics.Metrics
	Bus      *EventBus
	Reporter ErrorReporter
}

// LayerCache holds at most one dataset per layer for the lifetime of the
// process. Entries are written once and never replaced or evicted; there is
// no expiry, so upstream changes are not observed until restart.
type LayerCache struct {
	registry *Registry
	fetcher  Fetcher
	timeout  time.Duration
	log      zerolog.Logger
	metrics  *metrics.Metrics
	bus      *EventBus
	reporter ErrorReporter

	group singleflight.Group

	mu      sync.RWMutex
	entries map[LayerID]geodata.Dataset
	// loading holds the generation of the fetch in flight per layer. A
	// caller arriving after a fetch settled gets a new generation, and so a
	// new singleflight key, instead of joining the finished call.
	loading map[LayerID]uint64
	flights uint64
	version uint64
}

// NewLayerCache creates an empty cache backed by fetcher.
func NewLayerCache(registry *Registry, fetcher Fetcher, opts CacheOptions) *LayerCache {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultFetchTimeout
	}
	return &LayerCache{
		registry: registry,
		fetcher:  fetcher,
		timeout:  opts.Timeout,
		log:      opts.Logger,
		metrics:  opts.Metrics,
		bus:      opts.Bus,
		reporter: opts.Reporter,
		entries:  make(map[LayerID]geodata.Dataset),
		loading:  make(map[LayerID]uint64),
	}
}

// Get returns the cached dataset for id, if present.
func (c *LayerCache) Get(id LayerID) (geodata.Dataset, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ds, ok := c.entries[id]
	return ds, ok
}

// Loading reports whether a fetch for id has been requested and has not
// settled yet. It turns true as soon as Ensure returns.
func (c *LayerCache) Loading(id LayerID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.loading[id]
	return ok
}

// Ensure starts a background fetch for id unless its data is cached or a
// fetch is already in flight. It never blocks on the network. Failures are
// delivered to the ErrorReporter; calling Ensure again retries.
func (c *LayerCache) Ensure(id LayerID) error {
	_, err := c.ensure(id)
	return err
}

// ensure returns the completion channel of the fetch it joined or started,
// or nil when the data is already cached.
func (c *LayerCache) ensure(id LayerID) (<-chan singleflight.Result, error) {
	desc, ok := c.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownLayer, id)
	}

	c.mu.Lock()
	if _, ok := c.entries[id]; ok {
		c.mu.Unlock()
		return nil, nil
	}
	gen, ok := c.loading[id]
	if !ok {
		c.flights++
		gen = c.flights
		c.loading[id] = gen
	}
	c.mu.Unlock()

	key := string(id) + "#" + strconv.FormatUint(gen, 10)
	return c.group.DoChan(key, func() (any, error) {
		return c.fetch(desc, gen)
	}), nil
}

// Load returns the dataset for id, fetching it if needed and waiting for the
// result. Cancelling ctx stops the wait, not the shared fetch.
func (c *LayerCache) Load(ctx context.Context, id LayerID) (geodata.Dataset, error) {
	ch, err := c.ensure(id)
	if err != nil {
		return nil, err
	}
	if ch == nil {
		ds, _ := c.Get(id)
		return ds, nil
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(geodata.Dataset), nil
	}
}

// fetch runs inside the singleflight group under generation gen. The
// loading mark is cleared before any event is published, so subscribers
// never see a settled layer as loading.
func (c *LayerCache) fetch(desc LayerDescriptor, gen uint64) (geodata.Dataset, error) {
	// A caller that took gen just before it settled reaches DoChan after
	// the group released the key and starts the call again.
	c.mu.Lock()
	if ds, ok := c.entries[desc.ID]; ok {
		c.mu.Unlock()
		return ds, nil
	}
	if _, ok := c.loading[desc.ID]; !ok {
		c.loading[desc.ID] = gen
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	start := time.Now()
	ds, err := c.fetcher.Fetch(ctx, desc)
	if err == nil {
		err = checkVariant(desc, ds)
	}
	elapsed := time.Since(start)

	if err != nil {
		c.mu.Lock()
		c.settle(desc.ID, gen)
		c.mu.Unlock()

		ferr := &FetchError{Layer: desc.ID, Domain: desc.Domain, Err: err}
		outcome := metrics.OutcomeFailure
		if ferr.Malformed() {
			outcome = metrics.OutcomeMalformed
		}
		c.metrics.ObserveLayerFetch(string(desc.ID), outcome, elapsed)
		c.log.Warn().Err(err).Str("layer", string(desc.ID)).Str("domain", desc.Domain).
			Str("outcome", outcome).Dur("elapsed", elapsed).Msg("layer fetch failed")
		if c.reporter != nil {
			c.reporter.Report(ferr)
		}
		c.bus.Publish(Event{Resource: ResourceLayers, Action: ActionFailed, ID: string(desc.ID)})
		return nil, ferr
	}

	c.mu.Lock()
	c.settle(desc.ID, gen)
	if prev, ok := c.entries[desc.ID]; ok {
		// Another generation got there first; entries are written once.
		c.mu.Unlock()
		return prev, nil
	}
	c.entries[desc.ID] = ds
	c.version++
	cached := len(c.entries)
	c.mu.Unlock()

	c.metrics.ObserveLayerFetch(string(desc.ID), metrics.OutcomeSuccess, elapsed)
	c.metrics.SetLayersCached(cached)
	c.log.Info().Str("layer", string(desc.ID)).Int("features", ds.Len()).
		Dur("elapsed", elapsed).Msg("layer cached")
	if c.reporter != nil {
		c.reporter.Resolve(desc.Domain, desc.ID)
	}
	c.bus.Publish(Event{Resource: ResourceLayers, Action: ActionLoaded, ID: string(desc.ID)})
	return ds, nil
}

// settle clears the loading mark of generation gen. Callers hold c.mu.
func (c *LayerCache) settle(id LayerID, gen uint64) {
	if c.loading[id] == gen {
		delete(c.loading, id)
	}
}

// checkVariant rejects datasets whose variant does not match the layer.
func checkVariant(desc LayerDescriptor, ds geodata.Dataset) error {
	if ds == nil {
		return fmt.Errorf("%w: empty dataset", geodata.ErrMalformedPayload)
	}
	if ds.Kind() != desc.Kind {
		return fmt.Errorf("%w: got %s, want %s", geodata.ErrMalformedPayload, ds.Kind(), desc.Kind)
	}
	return nil
}

// Snapshot returns an immutable view of the present entries.
func (c *LayerCache) Snapshot() CacheSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entries := make(map[LayerID]geodata.Dataset, len(c.entries))
	for id, ds := range c.entries {
		entries[id] = ds
	}
	return CacheSnapshot{entries: entries, Version: c.version}
}

// CacheSnapshot is a point-in-time copy of the cache contents.
type CacheSnapshot struct {
	entries map[LayerID]geodata.Dataset
	// Version increases by one with every entry written.
	Version uint64
}

// NewCacheSnapshot builds a snapshot from explicit entries.
func NewCacheSnapshot(entries map[LayerID]geodata.Dataset) CacheSnapshot {
	cp := make(map[LayerID]geodata.Dataset, len(entries))
	for id, ds := range entries {
		cp[id] = ds
	}
	return CacheSnapshot{entries: cp, Version: uint64(len(cp))}
}

// Get returns the dataset for id, if present in the snapshot.
func (s CacheSnapshot) Get(id LayerID) (geodata.Dataset, bool) {
	ds, ok := s.entries[id]
	return ds, ok
}

// IsFetchError reports whether err came from a failed layer fetch.
func IsFetchError(err error) bool {
	var ferr *FetchError
	return errors.As(err, &ferr)
}
