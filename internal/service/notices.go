package service

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/joeblew999/plat-observatorio/internal/geodata"
)

// ErrFetchFailed marks transport and upstream status failures.
var ErrFetchFailed = errors.New("fetch failed")

// FetchError describes a failed layer fetch.
type FetchError struct {
	Layer  LayerID
	Domain string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch layer %s (%s): %v", e.Layer, e.Domain, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Malformed reports whether the payload was rejected rather than the request.
func (e *FetchError) Malformed() bool {
	return errors.Is(e.Err, geodata.ErrMalformedPayload)
}

// ErrorReporter surfaces fetch failures to whatever displays them.
type ErrorReporter interface {
	Report(err *FetchError)
	Resolve(domain string, layer LayerID)
}

// Notice is one outstanding failure, shown grouped by domain.
type Notice struct {
	Domain    string    `json:"domain" doc:"Data domain" example:"osm"`
	Layer     LayerID   `json:"layer" doc:"Layer whose fetch failed" example:"osm_vias"`
	Message   string    `json:"message" doc:"Error message"`
	Malformed bool      `json:"malformed" doc:"Whether the response was rejected as malformed"`
	At        time.Time `json:"at" doc:"When the failure happened"`
}

// Notices keeps the latest failure per layer, grouped by domain. A later
// successful fetch of the same layer resolves its notice.
type Notices struct {
	mu       sync.RWMutex
	byDomain map[string]map[LayerID]Notice
	now      func() time.Time
}

// NewNotices creates an empty notice board.
func NewNotices() *Notices {
	return &Notices{byDomain: make(map[string]map[LayerID]Notice), now: time.Now}
}

// Report records err under its domain.
func (n *Notices) Report(err *FetchError) {
	n.mu.Lock()
	defer n.mu.Unlock()

	layers, ok := n.byDomain[err.Domain]
	if !ok {
		layers = make(map[LayerID]Notice)
		n.byDomain[err.Domain] = layers
	}
	layers[err.Layer] = Notice{
		Domain:    err.Domain,
		Layer:     err.Layer,
		Message:   err.Err.Error(),
		Malformed: err.Malformed(),
		At:        n.now(),
	}
}

// Resolve drops the notice for layer in domain, if any.
func (n *Notices) Resolve(domain string, layer LayerID) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if layers, ok := n.byDomain[domain]; ok {
		delete(layers, layer)
		if len(layers) == 0 {
			delete(n.byDomain, domain)
		}
	}
}

// List returns outstanding notices ordered by domain then layer.
func (n *Notices) List() []Notice {
	n.mu.RLock()
	defer n.mu.RUnlock()

	out := []Notice{}
	for _, layers := range n.byDomain {
		for _, notice := range layers {
			out = append(out, notice)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Domain != out[j].Domain {
			return out[i].Domain < out[j].Domain
		}
		return out[i].Layer < out[j].Layer
	})
	return out
}

// Domain returns the notices of one domain.
func (n *Notices) Domain(domain string) []Notice {
	var out []Notice
	for _, notice := range n.List() {
		if notice.Domain == domain {
			out = append(out, notice)
		}
	}
	return out
}

// Layer returns the outstanding notice for id, if any.
func (n *Notices) Layer(id LayerID) (Notice, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, layers := range n.byDomain {
		if notice, ok := layers[id]; ok {
			return notice, true
		}
	}
	return Notice{}, false
}
