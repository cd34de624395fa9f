package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dzeleniak/tleme/internal/tle"
	"github.com/dzeleniak/tleme/internal/transform"
	"github.com/dzeleniak/tleme/internal/visibility"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
}

var catalogTime = time.Date(2026, 2, 6, 3, 45, 0, 0, time.UTC)

type staticCatalog struct{ cat *tle.Catalog }

func (s staticCatalog) Current() *tle.Catalog { return s.cat }

func testCatalog() staticCatalog {
	return staticCatalog{cat: tle.NewCatalog([]tle.Record{
		{CatalogID: "25544", Name: "ISS (ZARYA)", MeanMotion: 15.5},
		{CatalogID: "44713", Name: "STARLINK-1007", MeanMotion: 15.06},
	}, "test", catalogTime)}
}

// fakeEngine reports the first record as visible.
type fakeEngine struct {
	mu    sync.Mutex
	calls int
	obs   transform.Observer
}

func (f *fakeEngine) EvaluateCatalog(ctx context.Context, cat *tle.Catalog, obs transform.Observer, t time.Time, th float64) (*visibility.Report, error) {
	f.mu.Lock()
	f.calls++
	f.obs = obs
	f.mu.Unlock()

	rec := cat.Records()[0]
	return &visibility.Report{
		Time:         t,
		Observer:     obs,
		ThresholdDeg: th,
		Evaluated:    cat.Len(),
		Visible: []visibility.Result{{
			CatalogID: rec.CatalogID, Name: rec.Name, MeanMotion: rec.MeanMotion,
			ElevationDeg: 45, AzimuthDeg: 120, RangeKm: 560, Visible: true,
		}},
		Failures: []visibility.Failure{{CatalogID: "00001", Reason: "bad"}},
	}, nil
}

type fakeLocator struct {
	mu  sync.Mutex
	ip  *string
	obs transform.Observer
	err error
}

func (f *fakeLocator) ObserverForIP(ctx context.Context, ip string) (transform.Observer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ip = &ip
	return f.obs, f.err
}

func testConfig() Config {
	return Config{
		MaxConcurrentPerIP: 10,
		Interval:           50 * time.Millisecond,
		KeepaliveInterval:  30 * time.Second,
		DefaultThreshold:   30,
	}
}

// runStream serves one request until ctx expires and returns the recorder.
func runStream(t *testing.T, h *Handler, target, remoteAddr string, d time.Duration) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", target, nil)
	req.RemoteAddr = remoteAddr
	ctx, cancel := context.WithTimeout(req.Context(), d)
	defer cancel()
	req = req.WithContext(ctx)

	w := httptest.NewRecorder()
	h.HandleVisible(w, req)
	return w
}

// dataMessages decodes every "data: " line in an SSE body.
func dataMessages(t *testing.T, body string) []map[string]any {
	t.Helper()
	var msgs []map[string]any
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var msg map[string]any
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &msg); err != nil {
			t.Errorf("invalid JSON in SSE data line: %v", err)
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

// TestSSEMessageFormat verifies the SSE wire format: "data: {json}\n\n".
func TestSSEMessageFormat(t *testing.T) {
	engine := &fakeEngine{}
	h := NewHandler(testCatalog(), engine, nil, testConfig(), testLogger())

	w := runStream(t, h, "/api/v1/stream/visible?lat=51.5&lon=-0.12", "127.0.0.1:12345", 300*time.Millisecond)
	resp := w.Result()

	if resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", resp.Header.Get("Content-Type"))
	}
	if resp.Header.Get("Cache-Control") != "no-cache" {
		t.Errorf("Cache-Control = %q, want no-cache", resp.Header.Get("Cache-Control"))
	}

	body := w.Body.String()
	msgs := dataMessages(t, body)
	if len(msgs) < 2 {
		t.Fatalf("got %d messages, want metadata plus at least one visible set", len(msgs))
	}

	meta := msgs[0]
	if meta["type"] != "metadata" {
		t.Fatalf("first message type = %v, want metadata", meta["type"])
	}
	if meta["catalog_modified_at"] != "2026-02-06T03:45:00Z" {
		t.Errorf("catalog_modified_at = %v", meta["catalog_modified_at"])
	}
	if meta["records"].(float64) != 2 {
		t.Errorf("records = %v, want 2", meta["records"])
	}

	vis := msgs[1]
	if vis["type"] != "visible" {
		t.Fatalf("second message type = %v, want visible", vis["type"])
	}
	if vis["evaluated"].(float64) != 2 || vis["failed"].(float64) != 1 {
		t.Errorf("evaluated/failed = %v/%v, want 2/1", vis["evaluated"], vis["failed"])
	}
	sats, ok := vis["visible"].([]any)
	if !ok || len(sats) != 1 || sats[0].(map[string]any)["catalog_id"] != "25544" {
		t.Errorf("visible = %v, want ISS only", vis["visible"])
	}

	// Verify SSE format: lines should be "data: ...", "retry: ...", ":" or empty.
	for _, line := range strings.Split(body, "\n") {
		if line == "" || line == ":" || strings.HasPrefix(line, "data: ") || strings.HasPrefix(line, "retry: ") {
			continue
		}
		t.Errorf("unexpected SSE line: %q", line)
	}

	engine.mu.Lock()
	defer engine.mu.Unlock()
	if engine.calls < 2 {
		t.Errorf("engine evaluated %d times in 300ms at a 50ms interval", engine.calls)
	}
	if engine.obs.LatDeg != 51.5 || engine.obs.LonDeg != -0.12 {
		t.Errorf("engine got observer %+v", engine.obs)
	}
}

// TestStreamLocatesObserver verifies a loopback client falls back to this
// host's public location.
func TestStreamLocatesObserver(t *testing.T) {
	engine := &fakeEngine{}
	loc := &fakeLocator{obs: transform.Observer{LatDeg: 39.7, LonDeg: -105, ElevationM: 1609}}
	h := NewHandler(testCatalog(), engine, loc, testConfig(), testLogger())

	w := runStream(t, h, "/api/v1/stream/visible", "127.0.0.1:12345", 100*time.Millisecond)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	loc.mu.Lock()
	defer loc.mu.Unlock()
	if loc.ip == nil || *loc.ip != "" {
		t.Errorf("locator called with %v, want empty ip for a loopback client", loc.ip)
	}
	engine.mu.Lock()
	defer engine.mu.Unlock()
	if engine.obs != loc.obs {
		t.Errorf("engine observer = %+v, want located %+v", engine.obs, loc.obs)
	}
}

func TestStreamLocationUnavailable(t *testing.T) {
	loc := &fakeLocator{err: errors.New("location unavailable")}
	h := NewHandler(testCatalog(), &fakeEngine{}, loc, testConfig(), testLogger())

	w := runStream(t, h, "/api/v1/stream/visible", "203.0.113.9:4000", time.Second)
	if w.Code != http.StatusFailedDependency {
		t.Errorf("status = %d, want %d", w.Code, http.StatusFailedDependency)
	}
	loc.mu.Lock()
	defer loc.mu.Unlock()
	if loc.ip == nil || *loc.ip != "203.0.113.9" {
		t.Errorf("locator called with %v, want the client's public ip", loc.ip)
	}
}

// TestRateLimiting verifies per-IP concurrent stream limits.
func TestRateLimiting(t *testing.T) {
	limiter := newStreamLimiter(3, 0)

	for i := 0; i < 3; i++ {
		if !limiter.acquire("10.0.0.1") {
			t.Fatalf("acquire %d should succeed", i+1)
		}
	}
	if limiter.acquire("10.0.0.1") {
		t.Error("acquire beyond limit should fail")
	}
	if !limiter.acquire("10.0.0.2") {
		t.Error("different IP should not be rate limited")
	}

	limiter.release("10.0.0.1")
	if !limiter.acquire("10.0.0.1") {
		t.Error("acquire after release should succeed")
	}

	if c := limiter.count("10.0.0.1"); c != 3 {
		t.Errorf("count = %d, want 3", c)
	}
	if c := limiter.count("10.0.0.2"); c != 1 {
		t.Errorf("count = %d, want 1", c)
	}

	// Releasing an unknown IP must not drive the total negative.
	limiter.release("10.9.9.9")
	if a := limiter.active(); a != 4 {
		t.Errorf("active = %d, want 4", a)
	}
}

func TestRateLimitingGlobalCap(t *testing.T) {
	limiter := newStreamLimiter(5, 2)
	if !limiter.acquire("a") || !limiter.acquire("b") {
		t.Fatal("first two acquires should succeed")
	}
	if limiter.acquire("c") {
		t.Error("acquire beyond the global cap should fail")
	}
}

// TestRateLimitingConcurrent verifies rate limiter thread safety.
func TestRateLimitingConcurrent(t *testing.T) {
	limiter := newStreamLimiter(100, 0)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.acquire("10.0.0.1") {
				defer limiter.release("10.0.0.1")
				time.Sleep(10 * time.Millisecond)
			}
		}()
	}
	wg.Wait()

	if c := limiter.count("10.0.0.1"); c != 0 {
		t.Errorf("count after all released = %d, want 0", c)
	}
}

// TestRateLimitHTTPResponse verifies 429 response when limit exceeded.
func TestRateLimitHTTPResponse(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentPerIP = 1
	h := NewHandler(testCatalog(), &fakeEngine{}, nil, cfg, testLogger())

	// Hold the first connection open.
	done := make(chan struct{})
	go func() {
		defer close(done)
		runStream(t, h, "/api/v1/stream/visible?lat=0&lon=0", "10.0.0.1:12345", 300*time.Millisecond)
	}()

	deadline := time.Now().Add(time.Second)
	for h.limiter.count("10.0.0.1") == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	w := runStream(t, h, "/api/v1/stream/visible?lat=0&lon=0", "10.0.0.1:54321", time.Second)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}

	<-done
	if c := h.limiter.count("10.0.0.1"); c != 0 {
		t.Errorf("slot not released after disconnect: count = %d", c)
	}
}

// TestInvalidQueryParams verifies error responses for bad observer values.
func TestInvalidQueryParams(t *testing.T) {
	h := NewHandler(testCatalog(), &fakeEngine{}, nil, testConfig(), testLogger())

	tests := []struct {
		name  string
		query string
	}{
		{"missing coordinates without locator", ""},
		{"lat only", "?lat=10"},
		{"lat non-numeric", "?lat=abc&lon=1"},
		{"lat out of range", "?lat=100&lon=1"},
		{"threshold too large", "?lat=1&lon=1&threshold=95"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := runStream(t, h, "/api/v1/stream/visible"+tt.query, "127.0.0.1:12345", time.Second)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestVisibleMessageJSON(t *testing.T) {
	msg := newVisibleMessage(&visibility.Report{
		Time:      time.Date(2026, 2, 6, 4, 0, 0, 0, time.UTC),
		Evaluated: 3,
		Visible:   []visibility.Result{{CatalogID: "25544", ElevationDeg: 61.2}},
		Failures:  []visibility.Failure{{CatalogID: "1"}, {CatalogID: "2"}},
	})

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	var parsed map[string]any
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatal(err)
	}
	if parsed["time"] != "2026-02-06T04:00:00Z" {
		t.Errorf("time = %v", parsed["time"])
	}
	if parsed["failed"].(float64) != 2 {
		t.Errorf("failed = %v, want 2", parsed["failed"])
	}
}
