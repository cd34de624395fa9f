package propagation

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dzeleniak/tleme/internal/metrics"
	"github.com/dzeleniak/tleme/internal/tle"
	"github.com/dzeleniak/tleme/internal/transform"
)

// sgp4Cache holds preinitialized SGP4 propagators for one catalog snapshot.
// Immutable after construction; safe for concurrent reads.
type sgp4Cache struct {
	catalog *tle.Catalog
	props   map[string]*SGP4Propagator
	failed  map[string]error
}

// Propagator propagates whole catalogs on a worker pool, reusing SGP4
// initialization across queries against the same snapshot.
type Propagator struct {
	pool   *WorkerPool
	config Config
	logger *slog.Logger
	sgp4   atomic.Pointer[sgp4Cache]
	sgp4Mu sync.Mutex // serializes cache rebuilds
}

// NewPropagator creates a propagator. Workers <= 0 means runtime.NumCPU().
func NewPropagator(config Config, logger *slog.Logger) *Propagator {
	if config.Workers <= 0 {
		config.Workers = runtime.NumCPU()
	}
	return &Propagator{
		pool:   NewWorkerPool(config.Workers, logger),
		config: config,
		logger: logger,
	}
}

// Propagate propagates a single record to t with the default epoch-age limit.
// It is stateless: the same record and instant always give the same result.
func Propagate(rec tle.Record, t time.Time) (transform.StateVector, error) {
	sp, err := NewSGP4Propagator(rec)
	if err != nil {
		return transform.StateVector{}, err
	}
	if err := checkEpochAge(rec.CatalogID, sp.Elements(), t, DefaultMaxEpochAge); err != nil {
		return transform.StateVector{}, err
	}
	return sp.Propagate(t)
}

// checkEpochAge rejects instants too far from the element epoch in either
// direction. maxAge <= 0 disables the check.
func checkEpochAge(catalogID string, el Elements, t time.Time, maxAge time.Duration) error {
	if maxAge <= 0 {
		return nil
	}
	age := el.EpochAge(t)
	if age < 0 {
		age = -age
	}
	if age > maxAge {
		return newError(catalogID, fmt.Sprintf("epoch %s is %.1f days from the query instant (limit %.0f)",
			el.Epoch.Format(time.RFC3339), age.Hours()/24, maxAge.Hours()/24), nil)
	}
	return nil
}

// cachedProps returns preinitialized SGP4 propagators for the given catalog.
// Rebuilds the cache if the catalog has changed (double-checked locking).
func (p *Propagator) cachedProps(cat *tle.Catalog) *sgp4Cache {
	if c := p.sgp4.Load(); c != nil && c.catalog == cat {
		return c
	}

	p.sgp4Mu.Lock()
	defer p.sgp4Mu.Unlock()

	if c := p.sgp4.Load(); c != nil && c.catalog == cat {
		return c
	}

	c := &sgp4Cache{
		catalog: cat,
		props:   make(map[string]*SGP4Propagator, cat.Len()),
		failed:  make(map[string]error),
	}
	for _, rec := range cat.Records() {
		sp, err := NewSGP4Propagator(rec)
		if err != nil {
			p.logger.Debug("sgp4 init failed", "catalog_id", rec.CatalogID, "error", err)
			c.failed[rec.CatalogID] = err
			continue
		}
		c.props[rec.CatalogID] = sp
	}

	p.logger.Info("sgp4 propagator cache rebuilt",
		"cached", len(c.props),
		"skipped", len(c.failed),
		"catalog_modified_at", cat.ModifiedAt.UTC().Format(time.RFC3339),
	)
	p.sgp4.Store(c)
	return c
}

// PropagateCatalog propagates every record in cat to t. Outcomes are in
// catalog order, one per record; per-record failures are carried in
// Outcome.Err and never abort the batch.
func (p *Propagator) PropagateCatalog(ctx context.Context, cat *tle.Catalog, t time.Time) ([]Outcome, error) {
	if cat == nil {
		return nil, fmt.Errorf("no catalog loaded")
	}

	c := p.cachedProps(cat)
	records := cat.Records()

	p.logger.Debug("propagating",
		"record_count", len(records),
		"target_time", t.UTC().Format(time.RFC3339),
		"workers", p.config.Workers,
	)

	start := time.Now()
	outcomes, err := p.pool.PropagateBatch(ctx, records, t, func(rec tle.Record) (*SGP4Propagator, error) {
		if sp, ok := c.props[rec.CatalogID]; ok {
			return sp, nil
		}
		return nil, c.failed[rec.CatalogID]
	}, p.config.MaxEpochAge)
	if err != nil {
		return nil, err
	}
	duration := time.Since(start)

	var successCount, errorCount int
	for _, o := range outcomes {
		if o.Err != nil {
			errorCount++
			continue
		}
		successCount++
	}
	metrics.RecordPropagation(duration, successCount, errorCount)

	p.logger.Debug("propagation complete",
		"success", successCount,
		"errors", errorCount,
		"duration_ms", duration.Milliseconds(),
	)

	return outcomes, nil
}
