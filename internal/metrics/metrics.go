package metrics

import (
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tleme_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tleme_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	catalogFetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tleme_catalog_fetch_total",
			Help: "Catalog feed fetch attempts by result.",
		},
		[]string{"result"},
	)

	catalogFetchDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tleme_catalog_fetch_duration_seconds",
			Help:    "Catalog feed fetch duration in seconds.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	catalogRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tleme_catalog_refresh_total",
			Help: "Catalog refreshes by result (ok, unavailable, error).",
		},
		[]string{"result"},
	)

	catalogRecords = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tleme_catalog_records",
			Help: "Number of records in the current catalog snapshot.",
		},
	)

	propagationDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tleme_propagation_duration_seconds",
			Help:    "Whole-catalog propagation duration in seconds.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)

	propagationRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tleme_propagation_records_total",
			Help: "Records propagated by result (ok, error).",
		},
		[]string{"result"},
	)

	visibleObjects = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tleme_visible_objects",
			Help: "Objects above the threshold in the most recent evaluation.",
		},
	)

	evaluationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tleme_visibility_evaluations_total",
			Help: "Whole-catalog visibility evaluations.",
		},
	)

	passPredictionDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tleme_pass_prediction_duration_seconds",
			Help:    "Single-object pass prediction duration in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
	)

	streamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tleme_streams_active",
			Help: "Open SSE visibility streams.",
		},
	)

	streamConnectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tleme_stream_connections_total",
			Help: "SSE connection events (connect, disconnect).",
		},
		[]string{"event"},
	)

	streamMessagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tleme_stream_messages_total",
			Help: "SSE messages sent.",
		},
	)

	streamBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tleme_stream_bytes_total",
			Help: "SSE bytes written.",
		},
	)

	streamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tleme_stream_errors_total",
			Help: "SSE errors by reason.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		catalogFetchTotal,
		catalogFetchDurationSeconds,
		catalogRefreshTotal,
		catalogRecords,
		propagationDurationSeconds,
		propagationRecordsTotal,
		visibleObjects,
		evaluationsTotal,
		passPredictionDurationSeconds,
		streamsActive,
		streamConnectionsTotal,
		streamMessagesTotal,
		streamBytesTotal,
		streamErrorsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordFetch records one catalog feed fetch.
func RecordFetch(result string, d time.Duration) {
	catalogFetchTotal.WithLabelValues(result).Inc()
	catalogFetchDurationSeconds.Observe(d.Seconds())
}

// RecordRefresh records the outcome of a catalog refresh.
func RecordRefresh(result string) {
	catalogRefreshTotal.WithLabelValues(result).Inc()
}

// SetCatalogRecords sets the size of the current snapshot.
func SetCatalogRecords(n int) {
	catalogRecords.Set(float64(n))
}

// RecordPropagation records a whole-catalog propagation pass.
func RecordPropagation(d time.Duration, success, errors int) {
	propagationDurationSeconds.Observe(d.Seconds())
	propagationRecordsTotal.WithLabelValues("ok").Add(float64(success))
	propagationRecordsTotal.WithLabelValues("error").Add(float64(errors))
}

// RecordEvaluation records a whole-catalog visibility evaluation.
func RecordEvaluation(visible int) {
	evaluationsTotal.Inc()
	visibleObjects.Set(float64(visible))
}

// RecordPassPrediction records how long one pass search took.
func RecordPassPrediction(d time.Duration) {
	passPredictionDurationSeconds.Observe(d.Seconds())
}

func IncStreamsActive() { streamsActive.Inc() }
func DecStreamsActive() { streamsActive.Dec() }

func IncStreamConnections(event string) {
	streamConnectionsTotal.WithLabelValues(event).Inc()
}

func IncStreamMessages() { streamMessagesTotal.Inc() }

func AddStreamBytes(n int64) { streamBytesTotal.Add(float64(n)) }

func IncStreamErrors(reason string) {
	streamErrorsTotal.WithLabelValues(reason).Inc()
}

var knownRoutes = map[string]bool{
	"/":                      true,
	"/healthz":               true,
	"/readyz":                true,
	"/metrics":               true,
	"/api/v1/targets":        true,
	"/api/v1/visible":        true,
	"/api/v1/location":       true,
	"/api/v1/stream/visible": true,
}

var (
	targetRoute = regexp.MustCompile(`^/api/v1/targets/[^/]+$`)
	passesRoute = regexp.MustCompile(`^/api/v1/targets/[^/]+/passes$`)
)

// normalizeRoute maps a request path to a bounded label set so per-object
// paths and scanner noise do not explode metric cardinality.
func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}
	if targetRoute.MatchString(path) {
		return "/api/v1/targets/{id}"
	}
	if passesRoute.MatchString(path) {
		return "/api/v1/targets/{id}/passes"
	}
	return "other"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the underlying writer so SSE keeps working behind the
// middleware.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		route := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(route, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(route, r.Method).Observe(duration)
	})
}
