package visibility

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/dzeleniak/tleme/internal/metrics"
	"github.com/dzeleniak/tleme/internal/propagation"
	"github.com/dzeleniak/tleme/internal/tle"
	"github.com/dzeleniak/tleme/internal/transform"
)

var tracer = otel.Tracer("github.com/dzeleniak/tleme/internal/visibility")

// ErrInvalidThreshold is returned for a non-finite elevation threshold.
var ErrInvalidThreshold = errors.New("invalid visibility threshold")

// Failure reports a record that could not be evaluated.
type Failure struct {
	CatalogID string `json:"catalog_id"`
	Name      string `json:"name"`
	Reason    string `json:"reason"`
	Err       error  `json:"-"`
}

// Report is the outcome of evaluating a whole catalog at one instant.
type Report struct {
	Time         time.Time          `json:"time"`
	Observer     transform.Observer `json:"observer"`
	ThresholdDeg float64            `json:"threshold"`
	Evaluated    int                `json:"evaluated"`
	Visible      []Result           `json:"visible"`
	Failures     []Failure          `json:"failures"`
}

// Engine evaluates catalogs against an observer.
type Engine struct {
	prop   *propagation.Propagator
	logger *slog.Logger
}

// NewEngine creates an engine propagating with prop.
func NewEngine(prop *propagation.Propagator, logger *slog.Logger) *Engine {
	return &Engine{prop: prop, logger: logger}
}

// EvaluateCatalog propagates every record in cat to t and returns the ones
// above thresholdDeg for obs, in catalog order. Records that fail to
// propagate are reported in Report.Failures and do not affect the rest.
//
// The instant is resolved to whole seconds.
func (e *Engine) EvaluateCatalog(ctx context.Context, cat *tle.Catalog, obs transform.Observer, t time.Time, thresholdDeg float64) (*Report, error) {
	if err := obs.Validate(); err != nil {
		return nil, err
	}
	if math.IsNaN(thresholdDeg) || math.IsInf(thresholdDeg, 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidThreshold, thresholdDeg)
	}
	t = t.UTC().Truncate(time.Second)

	ctx, span := tracer.Start(ctx, "visibility.evaluate_catalog")
	defer span.End()
	span.SetAttributes(
		attribute.Int("catalog.records", cat.Len()),
		attribute.Float64("observer.latitude", obs.LatDeg),
		attribute.Float64("observer.longitude", obs.LonDeg),
		attribute.Float64("visibility.threshold", thresholdDeg),
	)

	outcomes, err := e.prop.PropagateCatalog(ctx, cat, t)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("evaluating catalog: %w", err)
	}

	gmst := transform.GMST(t)
	report := &Report{
		Time:         t,
		Observer:     obs,
		ThresholdDeg: thresholdDeg,
		Evaluated:    len(outcomes),
		Visible:      []Result{},
		Failures:     []Failure{},
	}

	for _, o := range outcomes {
		if o.Err != nil {
			report.Failures = append(report.Failures, Failure{
				CatalogID: o.Record.CatalogID,
				Name:      o.Record.Name,
				Reason:    o.Err.Error(),
				Err:       o.Err,
			})
			continue
		}

		res := evaluateWithGMST(o.State, obs, gmst, thresholdDeg)
		if !res.Visible {
			continue
		}
		res.CatalogID = o.Record.CatalogID
		res.Name = o.Record.Name
		res.MeanMotion = o.Record.MeanMotion
		res.EpochAgeDays = t.Sub(o.Epoch).Hours() / 24
		report.Visible = append(report.Visible, res)
	}

	span.SetAttributes(
		attribute.Int("visibility.visible", len(report.Visible)),
		attribute.Int("visibility.failures", len(report.Failures)),
	)
	metrics.RecordEvaluation(len(report.Visible))

	if len(report.Failures) > 0 {
		e.logger.Info("skipped unpropagatable records",
			"skipped", len(report.Failures),
			"evaluated", report.Evaluated,
		)
	}
	e.logger.Debug("visibility evaluated",
		"visible", len(report.Visible),
		"evaluated", report.Evaluated,
		"threshold", thresholdDeg,
		"time", t.Format(time.RFC3339),
	)

	return report, nil
}
