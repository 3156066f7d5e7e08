// Package metrics exposes engine and HTTP metrics for Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch outcomes used as the "outcome" label.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeMalformed = "malformed"
)

// Metrics exposes application metrics that are safe to scrape via Prometheus.
// All methods are no-ops on a nil receiver.
type Metrics struct {
	registry            *prometheus.Registry
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	layerFetches        *prometheus.CounterVec
	layerFetchDuration  *prometheus.HistogramVec
	layersCached        prometheus.Gauge
	sceneCompositions   prometheus.Counter
	sceneMemoHits       prometheus.Counter
}

// New creates a fresh Metrics registry with HTTP and layer engine metrics registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "observatorio",
		Name:      "http_requests_total",
		Help:      "Count of HTTP requests processed",
	}, []string{"method", "path", "status"})

	httpRequestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "observatorio",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	layerFetches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "observatorio",
		Name:      "layer_fetches_total",
		Help:      "Layer data fetches by layer and outcome",
	}, []string{"layer", "outcome"})

	layerFetchDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "observatorio",
		Name:      "layer_fetch_duration_seconds",
		Help:      "Duration of layer data fetches",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"layer"})

	layersCached := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "observatorio",
		Name:      "layers_cached",
		Help:      "Number of layers with data in the session cache",
	})

	sceneCompositions := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "observatorio",
		Name:      "scene_compositions_total",
		Help:      "Scenes composed from scratch",
	})

	sceneMemoHits := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "observatorio",
		Name:      "scene_memo_hits_total",
		Help:      "Scene requests answered from the memoized result",
	})

	registry.MustRegister(
		httpRequests,
		httpRequestDuration,
		layerFetches,
		layerFetchDuration,
		layersCached,
		sceneCompositions,
		sceneMemoHits,
	)

	return &Metrics{
		registry:            registry,
		httpRequests:        httpRequests,
		httpRequestDuration: httpRequestDuration,
		layerFetches:        layerFetches,
		layerFetchDuration:  layerFetchDuration,
		layersCached:        layersCached,
		sceneCompositions:   sceneCompositions,
		sceneMemoHits:       sceneMemoHits,
	}
}

// ObserveHTTPRequest records a single HTTP request/response cycle.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// ObserveLayerFetch records one completed fetch.
func (m *Metrics) ObserveLayerFetch(layer, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.layerFetches.WithLabelValues(layer, outcome).Inc()
	m.layerFetchDuration.WithLabelValues(layer).Observe(duration.Seconds())
}

// SetLayersCached sets the number of cached layers.
func (m *Metrics) SetLayersCached(n int) {
	if m == nil {
		return
	}
	m.layersCached.Set(float64(n))
}

// IncSceneComposition counts a full composition.
func (m *Metrics) IncSceneComposition() {
	if m == nil {
		return
	}
	m.sceneCompositions.Inc()
}

// IncSceneMemoHit counts a memoized scene.
func (m *Metrics) IncSceneMemoHit() {
	if m == nil {
		return
	}
	m.sceneMemoHits.Inc()
}

// Handler exposes the Prometheus registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// UnmatchedRoute labels requests no mux pattern matched.
const UnmatchedRoute = "unmatched"

// route returns the mux pattern that served r, so path parameters and
// unknown URLs do not each create a series. ServeMux sets r.Pattern on the
// request it is handed, which is the one the middleware holds.
func route(r *http.Request) string {
	if r.Pattern == "" {
		return UnmatchedRoute
	}
	return r.Pattern
}

// Middleware records every request passing through next, labelled by the
// matched route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.ObserveHTTPRequest(r.Method, route(r), rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE streams working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
