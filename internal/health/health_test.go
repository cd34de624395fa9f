package health

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dzeleniak/tleme/internal/tle"
)

type catalogFunc func() *tle.Catalog

func (f catalogFunc) Current() *tle.Catalog { return f() }

func TestHealthz(t *testing.T) {
	w := httptest.NewRecorder()
	Healthz(w, httptest.NewRequest("GET", "/healthz", nil))
	if w.Code != http.StatusOK || w.Body.String() != "ok\n" {
		t.Errorf("healthz = %d %q", w.Code, w.Body.String())
	}
}

func TestReadyz(t *testing.T) {
	records := []tle.Record{{CatalogID: "25544"}, {CatalogID: "44713"}}

	tests := []struct {
		name       string
		catalog    *tle.Catalog
		wantStatus int
		wantBody   string
	}{
		{"no catalog", nil, http.StatusServiceUnavailable, "not ready"},
		{"fresh catalog", tle.NewCatalog(records, "test", time.Now()), http.StatusOK, "ready (2 records)"},
		{"stale catalog", tle.NewCatalog(records, "test", time.Now().Add(-96*time.Hour)), http.StatusOK, "stale"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := Readyz(catalogFunc(func() *tle.Catalog { return tt.catalog }), tle.DefaultMaxAge)
			w := httptest.NewRecorder()
			h(w, httptest.NewRequest("GET", "/readyz", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("body = %q, want it to contain %q", w.Body.String(), tt.wantBody)
			}
		})
	}
}
