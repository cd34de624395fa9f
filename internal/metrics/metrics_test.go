package metrics

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNormalizeRoute(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		// Known exact routes.
		{"/healthz", "/healthz"},
		{"/readyz", "/readyz"},
		{"/metrics", "/metrics"},
		{"/", "/"},
		{"/api/v1/targets", "/api/v1/targets"},
		{"/api/v1/visible", "/api/v1/visible"},
		{"/api/v1/location", "/api/v1/location"},
		{"/api/v1/stream/visible", "/api/v1/stream/visible"},

		// Per-object routes collapse to one label.
		{"/api/v1/targets/25544", "/api/v1/targets/{id}"},
		{"/api/v1/targets/44713", "/api/v1/targets/{id}"},
		{"/api/v1/targets/1", "/api/v1/targets/{id}"},

		// Unknown/bot paths collapse to "other".
		{"/wp-admin", "other"},
		{"/robots.txt", "other"},
		{"/.env", "other"},
		{"/api/v1/targets/1/extra", "other"},
		{"/api/v1/targets/25544/passes", "/api/v1/targets/{id}/passes"},
		{"/api/v1/targets//passes", "other"},
		{"/api/v2/something", "other"},
		{"/favicon.ico", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := normalizeRoute(tt.path)
			if got != tt.want {
				t.Errorf("normalizeRoute(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

// TestMetricsCardinality verifies that 100 unique catalog ids produce
// exactly 1 distinct path label, not 100.
func TestMetricsCardinality(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		seen[normalizeRoute(fmt.Sprintf("/api/v1/targets/%d", 25000+i))] = true
	}
	if len(seen) != 1 {
		t.Errorf("expected 1 unique label for parameterized paths, got %d: %v", len(seen), seen)
	}
}

func TestMiddlewareRecordsStatus(t *testing.T) {
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("/api/v1/targets/{id}", "GET", "418"))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/targets/25544", nil))
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("/api/v1/targets/{id}", "GET", "418"))

	if after-before != 1 {
		t.Errorf("request counter moved by %v, want 1", after-before)
	}
}

func TestRecordPropagation(t *testing.T) {
	okBefore := testutil.ToFloat64(propagationRecordsTotal.WithLabelValues("ok"))
	errBefore := testutil.ToFloat64(propagationRecordsTotal.WithLabelValues("error"))

	RecordPropagation(10*time.Millisecond, 7, 2)

	if got := testutil.ToFloat64(propagationRecordsTotal.WithLabelValues("ok")) - okBefore; got != 7 {
		t.Errorf("ok records = %v, want 7", got)
	}
	if got := testutil.ToFloat64(propagationRecordsTotal.WithLabelValues("error")) - errBefore; got != 2 {
		t.Errorf("error records = %v, want 2", got)
	}
}

func TestCatalogGauges(t *testing.T) {
	SetCatalogRecords(42)
	if got := testutil.ToFloat64(catalogRecords); got != 42 {
		t.Errorf("catalog records = %v, want 42", got)
	}

	RecordEvaluation(3)
	if got := testutil.ToFloat64(visibleObjects); got != 3 {
		t.Errorf("visible objects = %v, want 3", got)
	}
}
