package propagation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dzeleniak/tleme/internal/tle"
)

// LookupFunc resolves a record to an initialized propagator.
type LookupFunc func(tle.Record) (*SGP4Propagator, error)

// propagateJob is a unit of work for the worker pool.
type propagateJob struct {
	index  int
	record tle.Record
}

// propagateResult is the output of a single record propagation.
type propagateResult struct {
	index   int
	outcome Outcome
}

// WorkerPool manages a fixed number of goroutines for parallel SGP4 propagation.
type WorkerPool struct {
	workers int
	logger  *slog.Logger
}

// NewWorkerPool creates a worker pool with the given number of workers.
func NewWorkerPool(workers int, logger *slog.Logger) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	return &WorkerPool{
		workers: workers,
		logger:  logger,
	}
}

// PropagateBatch propagates all records to the target time using the worker
// pool. The returned outcomes are indexed like records. A nil lookup
// initializes each record from scratch.
//
// If ctx is cancelled before every record is processed, the partial batch is
// discarded and ctx.Err() is returned.
func (wp *WorkerPool) PropagateBatch(ctx context.Context, records []tle.Record, targetTime time.Time, lookup LookupFunc, maxEpochAge time.Duration) ([]Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	if lookup == nil {
		lookup = NewSGP4Propagator
	}

	jobs := make(chan propagateJob, wp.workers*2)
	results := make(chan propagateResult, wp.workers*2)

	// Start workers.
	var wg sync.WaitGroup
	for i := 0; i < wp.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				result := propagateResult{
					index:   job.index,
					outcome: propagateSingle(job.record, targetTime, lookup, maxEpochAge),
				}
				select {
				case results <- result:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	// Feed jobs in a goroutine.
	go func() {
		defer close(jobs)
		for i, rec := range records {
			select {
			case jobs <- propagateJob{index: i, record: rec}:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Close results when all workers are done.
	go func() {
		wg.Wait()
		close(results)
	}()

	outcomes := make([]Outcome, len(records))
	received := 0
	for result := range results {
		outcomes[result.index] = result.outcome
		received++
		if err := result.outcome.Err; err != nil {
			wp.logger.Debug("propagation failed",
				"catalog_id", result.outcome.Record.CatalogID,
				"error", err,
			)
		}
	}

	if received < len(records) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return outcomes, nil
}

// propagateSingle performs SGP4 propagation for one record.
func propagateSingle(rec tle.Record, t time.Time, lookup LookupFunc, maxEpochAge time.Duration) Outcome {
	out := Outcome{Record: rec}

	prop, err := lookup(rec)
	if err != nil {
		out.Err = err
		return out
	}
	if prop == nil {
		out.Err = newError(rec.CatalogID, "no propagator", nil)
		return out
	}
	out.Epoch = prop.Elements().Epoch

	if err := checkEpochAge(rec.CatalogID, prop.Elements(), t, maxEpochAge); err != nil {
		out.Err = err
		return out
	}

	state, err := prop.Propagate(t)
	if err != nil {
		out.Err = err
		return out
	}
	out.State = state
	return out
}
