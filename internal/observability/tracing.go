// Package observability configures OpenTelemetry tracing for tleme.
//
// Catalog refreshes and visibility evaluations start their own spans through
// the global tracer provider; Setup decides where those spans go.
package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Span exporters accepted in TracingConfig.Exporter.
const (
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

const (
	defaultServiceName  = "tleme"
	defaultOTLPEndpoint = "localhost:4317"
	shutdownTimeout     = 5 * time.Second
)

// ErrUnknownExporter is returned for an exporter name other than stdout or otlp.
var ErrUnknownExporter = errors.New("unknown tracing exporter")

// TracingConfig selects where spans are exported.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Exporter    string    // stdout | otlp
	Endpoint    string    // OTLP gRPC collector, host:port
	SampleRatio float64   // 0..1, applied to root spans
	Writer      io.Writer // stdout exporter destination, default os.Stdout
}

// Validate checks the exporter name. Disabled tracing is always valid.
func (c TracingConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch c.exporter() {
	case ExporterStdout, ExporterOTLP:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownExporter, c.Exporter)
}

func (c TracingConfig) exporter() string {
	switch name := strings.ToLower(strings.TrimSpace(c.Exporter)); name {
	case "":
		return ExporterStdout
	case "otlpgrpc":
		return ExporterOTLP
	default:
		return name
	}
}

// Tracing owns the process-wide tracer provider installed by Setup.
type Tracing struct {
	provider *sdktrace.TracerProvider // nil when disabled
	logger   *slog.Logger
}

// Setup installs the global tracer provider and W3C trace-context
// propagation. With tracing disabled a noop provider is installed and spans
// cost nothing.
func Setup(ctx context.Context, cfg TracingConfig, logger *slog.Logger) (*Tracing, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		logger.Debug("tracing disabled")
		return &Tracing{logger: logger}, nil
	}

	exp, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create %s exporter: %w", cfg.exporter(), err)
	}

	service := cfg.ServiceName
	if service == "" {
		service = defaultServiceName
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", service),
			attribute.String("service.version", buildVersion()),
		)),
	)
	otel.SetTracerProvider(tp)

	logger.Info("tracing enabled",
		"exporter", cfg.exporter(),
		"service_name", service,
		"sample_ratio", cfg.SampleRatio,
	)
	return &Tracing{provider: tp, logger: logger}, nil
}

// Shutdown flushes buffered spans, waiting at most five seconds. Failures
// are logged; a nil or disabled Tracing is a no-op.
func (t *Tracing) Shutdown(ctx context.Context) {
	if t == nil || t.provider == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := t.provider.Shutdown(ctx); err != nil {
		t.logger.Warn("tracing shutdown failed", "error", err)
	}
}

func newExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	if cfg.exporter() == ExporterOTLP {
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = defaultOTLPEndpoint
		}
		return otlptrace.New(ctx, otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		))
	}

	w := cfg.Writer
	if w == nil {
		w = os.Stdout
	}
	return stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithoutTimestamps())
}

// sampler honours the caller's sampling decision and samples new traces at
// ratio. Out-of-range ratios sample everything.
func sampler(ratio float64) sdktrace.Sampler {
	if math.IsNaN(ratio) || ratio < 0 || ratio > 1 {
		ratio = 1
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "(devel)"
}
