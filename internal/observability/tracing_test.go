package observability

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

var testLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))

func TestSetupDisabled(t *testing.T) {
	tr, err := Setup(context.Background(), TracingConfig{}, testLogger)
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	tr.Shutdown(context.Background())

	_, span := otel.Tracer("test").Start(context.Background(), "noop")
	if span.SpanContext().IsValid() {
		t.Error("disabled tracing produced a recording span")
	}
	span.End()
}

func TestSetupStdout(t *testing.T) {
	var buf bytes.Buffer
	tr, err := Setup(context.Background(), TracingConfig{
		Enabled:     true,
		Exporter:    "STDOUT",
		SampleRatio: 1,
		Writer:      &buf,
	}, testLogger)
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	t.Cleanup(func() {
		Setup(context.Background(), TracingConfig{}, testLogger)
	})

	_, span := otel.Tracer("test").Start(context.Background(), "catalog.refresh")
	span.End()

	tr.Shutdown(context.Background())

	out := buf.String()
	if !strings.Contains(out, "catalog.refresh") {
		t.Errorf("exported spans missing span name: %q", out)
	}
	if !strings.Contains(out, `"tleme"`) {
		t.Errorf("exported spans missing default service name: %q", out)
	}
}

func TestSetupInstallsTraceContextPropagator(t *testing.T) {
	if _, err := Setup(context.Background(), TracingConfig{}, testLogger); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	fields := otel.GetTextMapPropagator().Fields()
	found := false
	for _, f := range fields {
		if f == "traceparent" {
			found = true
		}
	}
	if !found {
		t.Errorf("propagator fields = %v, want traceparent", fields)
	}

	carrier := propagation.MapCarrier{"traceparent": "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"}
	ctx := otel.GetTextMapPropagator().Extract(context.Background(), carrier)
	_, span := otel.Tracer("test").Start(ctx, "child")
	defer span.End()
	if got := span.SpanContext().TraceID().String(); got != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("child trace id = %s, want the extracted parent's", got)
	}
}

func TestTracingConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     TracingConfig
		wantErr bool
	}{
		{"disabled ignores exporter", TracingConfig{Exporter: "zipkin"}, false},
		{"default exporter", TracingConfig{Enabled: true}, false},
		{"otlp", TracingConfig{Enabled: true, Exporter: "otlp"}, false},
		{"otlpgrpc alias", TracingConfig{Enabled: true, Exporter: "otlpgrpc"}, false},
		{"unknown", TracingConfig{Enabled: true, Exporter: "zipkin"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrUnknownExporter) {
				t.Errorf("error %v is not ErrUnknownExporter", err)
			}
		})
	}
}

func TestSetupUnknownExporter(t *testing.T) {
	_, err := Setup(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin"}, testLogger)
	if !errors.Is(err, ErrUnknownExporter) {
		t.Fatalf("expected ErrUnknownExporter, got %v", err)
	}
}

func TestShutdownNil(t *testing.T) {
	var tr *Tracing
	tr.Shutdown(context.Background())
}
