package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dzeleniak/tleme/internal/httputil"
	"github.com/dzeleniak/tleme/internal/passes"
	"github.com/dzeleniak/tleme/internal/propagation"
	"github.com/dzeleniak/tleme/internal/transform"
	"github.com/dzeleniak/tleme/internal/visibility"
)

type handlers struct {
	catalogs         CatalogSource
	engine           Evaluator
	locator          Locator
	trustProxy       bool
	defaultThreshold float64
	maxEpochAge      time.Duration
	logger           *slog.Logger
	now              func() time.Time
}

type targetSummary struct {
	CatalogID  string  `json:"catalog_id"`
	Name       string  `json:"name"`
	MeanMotion float64 `json:"mean_motion"`
}

type targetsResponse struct {
	Source     string          `json:"source"`
	ModifiedAt time.Time       `json:"modified_at"`
	Count      int             `json:"count"`
	Targets    []targetSummary `json:"targets"`
}

type targetResponse struct {
	CatalogID  string  `json:"catalog_id"`
	Name       string  `json:"name"`
	Line1      string  `json:"line1"`
	Line2      string  `json:"line2"`
	MeanMotion float64 `json:"mean_motion"`
}

// GET /api/v1/targets
func (h *handlers) targets(w http.ResponseWriter, r *http.Request) {
	cat := h.catalogs.Current()
	if cat == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "catalog not loaded")
		return
	}

	records := cat.Records()
	resp := targetsResponse{
		Source:     cat.Source,
		ModifiedAt: cat.ModifiedAt,
		Count:      len(records),
		Targets:    make([]targetSummary, len(records)),
	}
	for i, rec := range records {
		resp.Targets[i] = targetSummary{CatalogID: rec.CatalogID, Name: rec.Name, MeanMotion: rec.MeanMotion}
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// GET /api/v1/targets/{id}
func (h *handlers) target(w http.ResponseWriter, r *http.Request) {
	cat := h.catalogs.Current()
	if cat == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "catalog not loaded")
		return
	}

	id := r.PathValue("id")
	rec, ok := cat.Get(id)
	if !ok {
		httputil.WriteError(w, http.StatusNotFound, "unknown catalog id "+id)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, targetResponse{
		CatalogID:  rec.CatalogID,
		Name:       rec.Name,
		Line1:      rec.Line1,
		Line2:      rec.Line2,
		MeanMotion: rec.MeanMotion,
	})
}

// GET /api/v1/visible?lat=..&lon=..&el=..&threshold=..&at=..
func (h *handlers) visible(w http.ResponseWriter, r *http.Request) {
	q, err := httputil.ParseVisibilityQuery(r.URL.Query(), h.defaultThreshold, h.now())
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	obs := q.Observer
	if !q.HasObserver {
		var status int
		if obs, status, err = h.locate(r); err != nil {
			httputil.WriteError(w, status, err.Error())
			return
		}
	}

	cat := h.catalogs.Current()
	if cat == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "catalog not loaded")
		return
	}

	report, err := h.engine.EvaluateCatalog(r.Context(), cat, obs, q.At, q.Threshold)
	switch {
	case errors.Is(err, transform.ErrInvalidObserver), errors.Is(err, visibility.ErrInvalidThreshold):
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.logger.Error("visibility evaluation failed", "component", "api", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "visibility evaluation failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

type passesResponse struct {
	CatalogID    string             `json:"catalog_id"`
	Name         string             `json:"name"`
	Observer     transform.Observer `json:"observer"`
	ThresholdDeg float64            `json:"threshold"`
	Start        time.Time          `json:"start"`
	End          time.Time          `json:"end"`
	Passes       []passes.Pass      `json:"passes"`
}

// GET /api/v1/targets/{id}/passes?lat=..&lon=..&el=..&threshold=..&at=..&hours=..&max=..
func (h *handlers) passes(w http.ResponseWriter, r *http.Request) {
	q, err := httputil.ParseVisibilityQuery(r.URL.Query(), h.defaultThreshold, h.now())
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	window := passes.DefaultWindow
	if v := r.URL.Query().Get("hours"); v != "" {
		hours, err := strconv.ParseFloat(v, 64)
		if err != nil || hours <= 0 || hours > passes.MaxWindow.Hours() {
			httputil.WriteError(w, http.StatusBadRequest, "hours must be a number in (0, 168]")
			return
		}
		window = time.Duration(hours * float64(time.Hour))
	}
	maxPasses := passes.DefaultMaxPasses
	if v := r.URL.Query().Get("max"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			httputil.WriteError(w, http.StatusBadRequest, "max must be an integer in [1, 100]")
			return
		}
		maxPasses = n
	}

	cat := h.catalogs.Current()
	if cat == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "catalog not loaded")
		return
	}
	id := r.PathValue("id")
	rec, ok := cat.Get(id)
	if !ok {
		httputil.WriteError(w, http.StatusNotFound, "unknown catalog id "+id)
		return
	}

	obs := q.Observer
	if !q.HasObserver {
		var status int
		if obs, status, err = h.locate(r); err != nil {
			httputil.WriteError(w, status, err.Error())
			return
		}
	}

	start := q.At.UTC().Truncate(time.Second)
	found, err := passes.Predict(r.Context(), rec, passes.Request{
		Observer:     obs,
		Start:        start,
		Window:       window,
		ThresholdDeg: q.Threshold,
		MaxPasses:    maxPasses,
		MaxEpochAge:  h.maxEpochAge,
	})
	switch {
	case errors.Is(err, passes.ErrInvalidRequest), errors.Is(err, transform.ErrInvalidObserver):
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, propagation.ErrPropagation):
		httputil.WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		h.logger.Error("pass prediction failed", "component", "api", "catalog_id", id, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "pass prediction failed")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, passesResponse{
		CatalogID:    rec.CatalogID,
		Name:         rec.Name,
		Observer:     obs,
		ThresholdDeg: q.Threshold,
		Start:        start,
		End:          start.Add(window),
		Passes:       found,
	})
}

// GET /api/v1/location
func (h *handlers) location(w http.ResponseWriter, r *http.Request) {
	obs, status, err := h.locate(r)
	if err != nil {
		httputil.WriteError(w, status, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, obs)
}

// locate resolves the observer for the requesting client. Clients behind a
// private address are located by this host's public IP.
func (h *handlers) locate(r *http.Request) (transform.Observer, int, error) {
	if h.locator == nil {
		return transform.Observer{}, http.StatusBadRequest, errors.New("lat and lon are required")
	}
	ip := httputil.ClientIP(r, h.trustProxy)
	if !httputil.IsPublicIP(ip) {
		ip = ""
	}
	obs, err := h.locator.ObserverForIP(r.Context(), ip)
	if err != nil {
		h.logger.Warn("observer lookup failed", "component", "api", "error", err)
		return transform.Observer{}, http.StatusFailedDependency, err
	}
	return obs, http.StatusOK, nil
}
