package health

import (
	"fmt"
	"net/http"
	"time"

	"github.com/dzeleniak/tleme/internal/tle"
)

// CatalogSource provides the current catalog snapshot.
type CatalogSource interface {
	Current() *tle.Catalog
}

// Healthz returns 200 "ok\n" unconditionally.
func Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

// Readyz returns a handler that reports 200 once a catalog is loaded and
// 503 before. A catalog older than maxAge is still served, so it stays
// ready but says so.
func Readyz(catalogs CatalogSource, maxAge time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")

		cat := catalogs.Current()
		if cat == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not ready: no catalog loaded\n"))
			return
		}

		w.WriteHeader(http.StatusOK)
		if tle.IsStale(cat.ModifiedAt, time.Now(), maxAge) {
			fmt.Fprintf(w, "ready (stale catalog, %d records)\n", cat.Len())
			return
		}
		fmt.Fprintf(w, "ready (%d records)\n", cat.Len())
	}
}
