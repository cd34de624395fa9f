package tle

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

var fixedTime = time.Date(2026, 2, 6, 4, 0, 0, 0, time.UTC)

func TestIsStale(t *testing.T) {
	maxAge := 3 * 24 * time.Hour
	tests := []struct {
		name string
		age  time.Duration
		want bool
	}{
		{"fresh", time.Hour, false},
		{"exactly at threshold", maxAge, false},
		{"one nanosecond over", maxAge + time.Nanosecond, true},
		{"well over", 10 * 24 * time.Hour, true},
		{"future timestamp", -time.Hour, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsStale(fixedTime, fixedTime.Add(tt.age), maxAge); got != tt.want {
				t.Errorf("IsStale(age=%v) = %v, want %v", tt.age, got, tt.want)
			}
		})
	}
}

// feedServer serves body with status and counts requests.
func feedServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server, &hits
}

func testStore(t *testing.T, url string, fallback bool) *Store {
	t.Helper()
	return NewStore(StoreConfig{
		SourceURL:     url,
		CacheDir:      t.TempDir(),
		CacheFile:     "satellites.tle",
		MaxAge:        DefaultMaxAge,
		FetchTimeout:  2 * time.Second,
		StaleFallback: fallback,
	}, testLogger)
}

func seedCache(t *testing.T, s *Store, body string, age time.Duration) {
	t.Helper()
	if err := s.cache.Write([]byte(body)); err != nil {
		t.Fatal(err)
	}
	mtime := time.Now().Add(-age)
	if err := os.Chtimes(s.Path(), mtime, mtime); err != nil {
		t.Fatal(err)
	}
}

func TestStoreLoadInitializesMissingCache(t *testing.T) {
	server, hits := feedServer(t, http.StatusOK, twoRecordFeed())
	s := testStore(t, server.URL, false)

	cat, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("fetches = %d, want 1", hits.Load())
	}
	if cat.Len() != 2 {
		t.Errorf("records = %d, want 2", cat.Len())
	}
	if _, err := os.Stat(s.Path()); err != nil {
		t.Errorf("cache artifact not written: %v", err)
	}
	if s.Current() != cat {
		t.Error("Current() does not return the loaded snapshot")
	}
}

func TestStoreLoadFreshCacheSkipsFetch(t *testing.T) {
	server, hits := feedServer(t, http.StatusOK, twoRecordFeed())
	s := testStore(t, server.URL, false)
	seedCache(t, s, issName+"\n"+issLine1+"\n"+issLine2+"\n", 2*24*time.Hour)

	cat, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if hits.Load() != 0 {
		t.Errorf("fresh cache triggered %d fetches", hits.Load())
	}
	if cat.Len() != 1 {
		t.Errorf("records = %d, want 1 (cached copy)", cat.Len())
	}
	if cat.Source != s.Path() {
		t.Errorf("source = %q, want cache path", cat.Source)
	}
}

func TestStoreLoadUnchangedCacheKeepsSnapshot(t *testing.T) {
	server, hits := feedServer(t, http.StatusOK, twoRecordFeed())
	s := testStore(t, server.URL, false)
	seedCache(t, s, issName+"\n"+issLine1+"\n"+issLine2+"\n", time.Hour)

	first, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	second, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("second Load failed: %v", err)
	}
	if second != first {
		t.Error("unchanged cache produced a new snapshot")
	}

	seedCache(t, s, twoRecordFeed(), 30*time.Minute)
	third, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("third Load failed: %v", err)
	}
	if third == first || third.Len() != 2 {
		t.Errorf("rewritten cache not reloaded: records = %d", third.Len())
	}
	if hits.Load() != 0 {
		t.Errorf("fresh cache triggered %d fetches", hits.Load())
	}
}

func TestStoreLoadAfterRefreshKeepsSnapshot(t *testing.T) {
	server, hits := feedServer(t, http.StatusOK, twoRecordFeed())
	s := testStore(t, server.URL, false)

	refreshed, err := s.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	loaded, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded != refreshed {
		t.Error("Load after Refresh re-read the artifact it just wrote")
	}
	if hits.Load() != 1 {
		t.Errorf("fetches = %d, want 1", hits.Load())
	}
}

func TestStoreLoadStaleCacheRefreshes(t *testing.T) {
	server, hits := feedServer(t, http.StatusOK, twoRecordFeed())
	s := testStore(t, server.URL, false)
	seedCache(t, s, issName+"\n"+issLine1+"\n"+issLine2+"\n", 4*24*time.Hour)

	cat, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("fetches = %d, want 1", hits.Load())
	}
	if cat.Len() != 2 {
		t.Errorf("records = %d, want 2 (refreshed copy)", cat.Len())
	}
	if IsStale(cat.ModifiedAt, time.Now(), s.MaxAge()) {
		t.Error("refreshed snapshot is still stale")
	}
}

func TestStoreLoadStaleCacheFetchFailure(t *testing.T) {
	server, _ := feedServer(t, http.StatusServiceUnavailable, "")

	t.Run("without fallback", func(t *testing.T) {
		s := testStore(t, server.URL, false)
		seedCache(t, s, twoRecordFeed(), 5*24*time.Hour)

		cat, err := s.Load(context.Background())
		if !errors.Is(err, ErrSourceUnavailable) {
			t.Fatalf("expected ErrSourceUnavailable, got %v", err)
		}
		if cat != nil {
			t.Error("expected no catalog on failure")
		}
	})

	t.Run("with fallback", func(t *testing.T) {
		s := testStore(t, server.URL, true)
		seedCache(t, s, twoRecordFeed(), 5*24*time.Hour)

		cat, err := s.Load(context.Background())
		if err != nil {
			t.Fatalf("expected stale fallback, got %v", err)
		}
		if cat.Len() != 2 {
			t.Errorf("records = %d, want 2", cat.Len())
		}
	})
}

func TestStoreLoadMissingCacheFetchFailure(t *testing.T) {
	server, _ := feedServer(t, http.StatusNotFound, "")
	s := testStore(t, server.URL, true)

	_, err := s.Load(context.Background())
	if !IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if _, statErr := os.Stat(s.Path()); !os.IsNotExist(statErr) {
		t.Error("failed refresh must not create the artifact")
	}
}

// TestStoreRefreshMalformedKeepsCache verifies a malformed feed fails the
// refresh without overwriting the existing artifact.
func TestStoreRefreshMalformedKeepsCache(t *testing.T) {
	server, _ := feedServer(t, http.StatusOK, twoRecordFeed()+"EXTRA LINE\n")
	s := testStore(t, server.URL, false)
	seedCache(t, s, twoRecordFeed(), time.Hour)

	_, err := s.Refresh(context.Background())
	if !errors.Is(err, ErrMalformedCatalog) {
		t.Fatalf("expected ErrMalformedCatalog, got %v", err)
	}
	if IsTransient(err) {
		t.Error("malformed feed reported as transient")
	}

	data, _, err := s.cache.Read()
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != twoRecordFeed() {
		t.Error("malformed feed overwrote the cache")
	}
}

func TestStoreRefreshIgnoresAge(t *testing.T) {
	server, hits := feedServer(t, http.StatusOK, twoRecordFeed())
	s := testStore(t, server.URL, false)
	seedCache(t, s, twoRecordFeed(), time.Minute)

	if _, err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("fetches = %d, want 1", hits.Load())
	}
}

func TestStoreLoadMalformedCache(t *testing.T) {
	server, hits := feedServer(t, http.StatusOK, twoRecordFeed())
	s := testStore(t, server.URL, false)
	seedCache(t, s, "ONLY A NAME\n", time.Hour)

	_, err := s.Load(context.Background())
	if !errors.Is(err, ErrMalformedCatalog) {
		t.Fatalf("expected ErrMalformedCatalog, got %v", err)
	}
	if hits.Load() != 0 {
		t.Error("fresh but malformed cache should not trigger a fetch")
	}
}
