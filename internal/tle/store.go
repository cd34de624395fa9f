package tle

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dzeleniak/tleme/internal/metrics"
)

// DefaultMaxAge is the staleness threshold for the cached artifact.
const DefaultMaxAge = 3 * 24 * time.Hour

var tracer = otel.Tracer("github.com/dzeleniak/tleme/internal/tle")

// StoreConfig holds everything the catalog store needs; nothing is read from
// global state.
type StoreConfig struct {
	SourceURL    string
	CacheDir     string
	CacheFile    string
	MaxAge       time.Duration
	FetchTimeout time.Duration

	// StaleFallback serves a stale cache when its refresh fails with a
	// transient error instead of failing the load.
	StaleFallback bool
}

// IsStale reports whether an artifact written at modifiedAt is older than
// maxAge at now. An age exactly equal to maxAge is not stale.
func IsStale(modifiedAt, now time.Time, maxAge time.Duration) bool {
	return now.Sub(modifiedAt) > maxAge
}

// Store owns the cached catalog artifact and the current snapshot.
type Store struct {
	cache   *Cache
	fetcher *Fetcher
	maxAge  time.Duration
	config  StoreConfig
	logger  *slog.Logger
	now     func() time.Time

	current atomic.Pointer[Catalog]
	mu      sync.Mutex // serializes load/refresh
}

// NewStore creates a Store from cfg.
func NewStore(cfg StoreConfig, logger *slog.Logger) *Store {
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Store{
		cache:   NewCache(cfg.CacheDir, cfg.CacheFile),
		fetcher: NewFetcher(cfg.SourceURL, cfg.FetchTimeout, logger),
		maxAge:  maxAge,
		config:  cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Path returns the cache artifact path.
func (s *Store) Path() string {
	return s.cache.Path()
}

// MaxAge returns the staleness threshold in effect.
func (s *Store) MaxAge() time.Duration {
	return s.maxAge
}

// Current returns the last snapshot loaded by this store, or nil.
func (s *Store) Current() *Catalog {
	return s.current.Load()
}

// Load returns the cached catalog, refreshing it first when the artifact is
// missing or stale.
func (s *Store) Load(ctx context.Context) (*Catalog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	modTime, ok, err := s.cache.ModTime()
	if err != nil {
		return nil, err
	}

	if !ok {
		s.logger.Info("catalog cache does not exist, initializing", "path", s.cache.Path())
		return s.refreshLocked(ctx)
	}

	if age := s.now().Sub(modTime); IsStale(modTime, s.now(), s.maxAge) {
		s.logger.Info("catalog cache is stale",
			"path", s.cache.Path(),
			"age_days", fmt.Sprintf("%.2f", age.Hours()/24),
		)
		cat, err := s.refreshLocked(ctx)
		if err == nil {
			return cat, nil
		}
		if !s.config.StaleFallback || !IsTransient(err) {
			return nil, err
		}
		s.logger.Warn("catalog refresh failed, serving stale cache", "error", err)
	}

	// An unchanged artifact keeps the current snapshot, and with it every
	// propagator already initialized for it.
	if cur := s.current.Load(); cur != nil && cur.ModifiedAt.Equal(modTime) {
		return cur, nil
	}
	return s.readLocked()
}

// Refresh fetches the feed and replaces the cache regardless of its age.
func (s *Store) Refresh(ctx context.Context) (*Catalog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshLocked(ctx)
}

// refreshLocked fetches, validates and only then replaces the artifact, so
// a malformed feed never clobbers a good cache.
func (s *Store) refreshLocked(ctx context.Context) (*Catalog, error) {
	ctx, span := tracer.Start(ctx, "catalog.refresh")
	defer span.End()
	span.SetAttributes(attribute.String("source_url", s.fetcher.SourceURL()))

	data, err := s.fetcher.Fetch(ctx)
	if err != nil {
		return nil, s.refreshFailed(span, err)
	}

	records, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, s.refreshFailed(span, err)
	}

	if err := s.cache.Write(data); err != nil {
		return nil, s.refreshFailed(span, err)
	}

	modTime, _, err := s.cache.ModTime()
	if err != nil {
		return nil, s.refreshFailed(span, err)
	}

	cat := NewCatalog(records, s.fetcher.SourceURL(), modTime)
	s.current.Store(cat)

	metrics.RecordRefresh("ok")
	metrics.SetCatalogRecords(cat.Len())
	span.SetAttributes(attribute.Int("records", cat.Len()))
	s.logger.Info("catalog refreshed",
		"records", cat.Len(),
		"path", s.cache.Path(),
	)
	return cat, nil
}

func (s *Store) refreshFailed(span trace.Span, err error) error {
	result := "error"
	if IsTransient(err) {
		result = "unavailable"
	}
	metrics.RecordRefresh(result)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.logger.Error("catalog refresh failed", "error", err, "transient", IsTransient(err))
	return fmt.Errorf("refreshing catalog: %w", err)
}

func (s *Store) readLocked() (*Catalog, error) {
	data, modTime, err := s.cache.Read()
	if err != nil {
		return nil, err
	}
	records, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", s.cache.Path(), err)
	}

	cat := NewCatalog(records, s.cache.Path(), modTime)
	s.current.Store(cat)
	metrics.SetCatalogRecords(cat.Len())
	s.logger.Debug("loaded catalog from cache",
		"records", cat.Len(),
		"modified_at", modTime.UTC().Format(time.RFC3339),
	)
	return cat, nil
}
