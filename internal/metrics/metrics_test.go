package metrics

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandler_nilMetrics(t *testing.T) {
	var m *Metrics
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	m.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if got := rr.Body.String(); !strings.Contains(got, "metrics unavailable") {
		t.Fatalf("expected body to mention metrics unavailable, got %q", got)
	}
}

func TestNilMetrics_methodsAreNoops(t *testing.T) {
	var m *Metrics
	m.ObserveHTTPRequest(http.MethodGet, "/", 200, time.Millisecond)
	m.ObserveLayerFetch("osm_vias", OutcomeSuccess, time.Millisecond)
	m.SetLayersCached(3)
	m.IncSceneComposition()
	m.IncSceneMemoHit()
}

func TestHandler_exposesRegisteredMetrics(t *testing.T) {
	m := New()
	m.ObserveHTTPRequest(http.MethodGet, "/api/v1/scene", http.StatusOK, 12*time.Millisecond)
	m.ObserveLayerFetch("osm_vias", OutcomeSuccess, 200*time.Millisecond)
	m.ObserveLayerFetch("places_heatmap", OutcomeMalformed, 50*time.Millisecond)
	m.SetLayersCached(2)
	m.IncSceneComposition()
	m.IncSceneMemoHit()
	m.IncSceneMemoHit()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	m.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	body := rr.Body.String()
	for _, want := range []string{
		`observatorio_http_requests_total{method="GET",path="/api/v1/scene",status="200"} 1`,
		`observatorio_layer_fetches_total{layer="osm_vias",outcome="success"} 1`,
		`observatorio_layer_fetches_total{layer="places_heatmap",outcome="malformed"} 1`,
		`observatorio_layers_cached 2`,
		`observatorio_scene_compositions_total 1`,
		`observatorio_scene_memo_hits_total 2`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in body; body=%s", want, body)
		}
	}
}

func serveMetrics(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rr.Body.String()
}

func TestMiddleware_recordsStatusByPattern(t *testing.T) {
	m := New()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /brew/{pot}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := m.Middleware(mux)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/brew/a", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/brew/b", nil))

	body := serveMetrics(t, m)
	if !strings.Contains(body, `observatorio_http_requests_total{method="GET",path="GET /brew/{pot}",status="418"} 2`) {
		t.Fatalf("expected both requests under the route pattern; body=%s", body)
	}
}

func TestMiddleware_unmatchedPathsShareOneSeries(t *testing.T) {
	m := New()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {})
	h := m.Middleware(mux)

	for i := 0; i < 200; i++ {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, fmt.Sprintf("/nope/%d", i), nil))
	}

	series := 0
	for _, line := range strings.Split(serveMetrics(t, m), "\n") {
		if strings.HasPrefix(line, "observatorio_http_requests_total{") {
			series++
		}
	}
	if series != 1 {
		t.Fatalf("expected a single request series, got %d", series)
	}
	if body := serveMetrics(t, m); !strings.Contains(body, `path="unmatched",status="404"} 200`) {
		t.Fatalf("expected unmatched requests to be counted together; body=%s", body)
	}
}
