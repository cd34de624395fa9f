// Package stream implements Server-Sent Events (SSE) streaming of the visible
// set. Clients connect via GET /api/v1/stream/visible and receive the objects
// above the threshold, re-evaluated every Interval against the current
// catalog.
//
// SSE message format:
//
//	data: {"type":"visible","time":"2026-02-06T04:00:00Z","evaluated":9000,"failed":3,"visible":[...]}\n\n
//
// First message is always metadata:
//
//	data: {"type":"metadata","catalog_modified_at":"...","catalog_age_seconds":1800,"records":9000,...}\n\n
//
// Keep-alive comments (:\n\n) are sent every KeepaliveInterval to prevent timeout.
// Reconnecting clients receive a fresh metadata message on each connection.
package stream

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/dzeleniak/tleme/internal/httputil"
	"github.com/dzeleniak/tleme/internal/metrics"
	"github.com/dzeleniak/tleme/internal/tle"
	"github.com/dzeleniak/tleme/internal/transform"
	"github.com/dzeleniak/tleme/internal/visibility"
)

// CatalogSource provides the current catalog snapshot.
type CatalogSource interface {
	Current() *tle.Catalog
}

// Evaluator runs a whole-catalog visibility evaluation.
type Evaluator interface {
	EvaluateCatalog(ctx context.Context, cat *tle.Catalog, obs transform.Observer, t time.Time, thresholdDeg float64) (*visibility.Report, error)
}

// Locator places an IP address when the client gives no coordinates.
type Locator interface {
	ObserverForIP(ctx context.Context, ip string) (transform.Observer, error)
}

// Config holds streaming configuration loaded from environment variables.
type Config struct {
	MaxConcurrentPerIP int           // Max concurrent streams per IP (default: 4).
	MaxTotal           int           // Max concurrent streams overall (default: 1000).
	Interval           time.Duration // Re-evaluation interval (default: 5s).
	KeepaliveInterval  time.Duration // Keep-alive ping interval (default: 30s).
	DefaultThreshold   float64       // Elevation gate when the query has none.
	TrustProxy         bool          // Honour X-Forwarded-For for client IPs.
}

// Handler manages SSE streaming connections.
type Handler struct {
	catalogs CatalogSource
	engine   Evaluator
	locator  Locator
	config   Config
	limiter  *streamLimiter
	logger   *slog.Logger
	now      func() time.Time
}

// NewHandler creates a new streaming handler. locator may be nil, in which
// case clients must supply lat and lon.
func NewHandler(catalogs CatalogSource, engine Evaluator, locator Locator, config Config, logger *slog.Logger) *Handler {
	if config.Interval <= 0 {
		config.Interval = 5 * time.Second
	}
	if config.KeepaliveInterval <= 0 {
		config.KeepaliveInterval = 30 * time.Second
	}
	return &Handler{
		catalogs: catalogs,
		engine:   engine,
		locator:  locator,
		config:   config,
		limiter:  newStreamLimiter(config.MaxConcurrentPerIP, config.MaxTotal),
		logger:   logger,
		now:      time.Now,
	}
}

// HandleVisible serves the SSE visible-set stream.
// GET /api/v1/stream/visible?lat=..&lon=..&el=..&threshold=..
func (h *Handler) HandleVisible(w http.ResponseWriter, r *http.Request) {
	q, err := httputil.ParseVisibilityQuery(r.URL.Query(), h.config.DefaultThreshold, h.now())
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	ip := httputil.ClientIP(r, h.config.TrustProxy)

	obs := q.Observer
	if !q.HasObserver {
		if h.locator == nil {
			httputil.WriteError(w, http.StatusBadRequest, "lat and lon are required")
			return
		}
		lookup := ip
		if !httputil.IsPublicIP(lookup) {
			lookup = ""
		}
		if obs, err = h.locator.ObserverForIP(r.Context(), lookup); err != nil {
			httputil.WriteError(w, http.StatusFailedDependency, err.Error()+"; pass lat and lon explicitly")
			return
		}
	}

	// Rate limiting: enforce concurrent stream limit per IP.
	if !h.limiter.acquire(ip) {
		metrics.IncStreamErrors("rate_limit")
		h.logger.Warn("stream rate limit exceeded",
			"remote_ip", ip,
			"current_count", h.limiter.count(ip),
		)
		w.Header().Set("Retry-After", "30")
		httputil.WriteError(w, http.StatusTooManyRequests, "too many concurrent streams")
		return
	}

	metrics.IncStreamConnections("connect")
	metrics.IncStreamsActive()

	startTime := time.Now()
	h.logger.Info("stream connected",
		"remote_ip", ip,
		"user_agent", r.Header.Get("User-Agent"),
		"latitude", obs.LatDeg,
		"longitude", obs.LonDeg,
		"threshold", q.Threshold,
	)

	defer func() {
		h.limiter.release(ip)
		metrics.IncStreamConnections("disconnect")
		metrics.DecStreamsActive()
		h.logger.Info("stream disconnected",
			"remote_ip", ip,
			"duration_seconds", int(time.Since(startTime).Seconds()),
		)
	}()

	// Verify flusher support (required for SSE).
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering.
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Clear the server's default WriteTimeout for this connection.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("could not clear write deadline", "error", err)
	}

	c := &client{
		w:       w,
		flusher: flusher,
		rc:      rc,
		ip:      ip,
		logger:  h.logger,
	}

	// Jittered retry interval (3-7s) spreads reconnects after a restart.
	if err := c.sendRetry(3000 + rand.Intn(4000)); err != nil {
		return
	}

	cat := h.catalogs.Current()
	if cat != nil {
		if err := c.sendJSON(newMetadataMessage(cat, obs, q.Threshold, h.now())); err != nil {
			metrics.IncStreamErrors("send_error")
			h.logger.Warn("stream send error (metadata)", "remote_ip", ip, "error", err)
			return
		}
	}

	ticker := time.NewTicker(h.config.Interval)
	defer ticker.Stop()

	keepaliveTicker := time.NewTicker(h.config.KeepaliveInterval)
	defer keepaliveTicker.Stop()

	ctx := r.Context()

	// send evaluates once and writes the result. It returns false when the
	// connection should close.
	send := func() bool {
		cat := h.catalogs.Current()
		if cat == nil {
			metrics.IncStreamErrors("no_catalog")
			return true
		}
		report, err := h.engine.EvaluateCatalog(ctx, cat, obs, h.now(), q.Threshold)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return false
			}
			metrics.IncStreamErrors("evaluate_error")
			h.logger.Warn("stream evaluation error", "remote_ip", ip, "error", err)
			return true
		}
		if err := c.sendJSON(newVisibleMessage(report)); err != nil {
			metrics.IncStreamErrors("send_error")
			h.logger.Warn("stream send error", "remote_ip", ip, "error", err)
			return false
		}
		keepaliveTicker.Reset(h.config.KeepaliveInterval)
		return true
	}

	if !send() {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			if !send() {
				return
			}

		case <-keepaliveTicker.C:
			if err := c.sendKeepalive(); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream keepalive error", "remote_ip", ip, "error", err)
				return
			}
		}
	}
}

// SSE message payload types.

type metadataMessage struct {
	Type              string             `json:"type"`
	CatalogModifiedAt string             `json:"catalog_modified_at"`
	CatalogAge        int                `json:"catalog_age_seconds"`
	Records           int                `json:"records"`
	Observer          transform.Observer `json:"observer"`
	Threshold         float64            `json:"threshold"`
}

func newMetadataMessage(cat *tle.Catalog, obs transform.Observer, threshold float64, now time.Time) metadataMessage {
	return metadataMessage{
		Type:              "metadata",
		CatalogModifiedAt: cat.ModifiedAt.UTC().Format(time.RFC3339),
		CatalogAge:        int(cat.Age(now).Seconds()),
		Records:           cat.Len(),
		Observer:          obs,
		Threshold:         threshold,
	}
}

type visibleMessage struct {
	Type      string              `json:"type"`
	Time      string              `json:"time"`
	Evaluated int                 `json:"evaluated"`
	Failed    int                 `json:"failed"`
	Visible   []visibility.Result `json:"visible"`
}

func newVisibleMessage(r *visibility.Report) visibleMessage {
	return visibleMessage{
		Type:      "visible",
		Time:      r.Time.UTC().Format(time.RFC3339),
		Evaluated: r.Evaluated,
		Failed:    len(r.Failures),
		Visible:   r.Visible,
	}
}
