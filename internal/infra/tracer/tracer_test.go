package tracer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"aichat/internal/infra/config"
)

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TracerConfig{Enabled: false})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer shutdown(context.Background())

	if _, ok := otel.GetTracerProvider().(noop.TracerProvider); !ok {
		t.Errorf("expected noop provider, got %T", otel.GetTracerProvider())
	}
}

func TestSetupEmptyExporterIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TracerConfig{Enabled: true})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer shutdown(context.Background())

	if _, ok := otel.GetTracerProvider().(noop.TracerProvider); !ok {
		t.Errorf("expected noop provider for empty exporter, got %T", otel.GetTracerProvider())
	}
}

func TestSetupStdoutToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spans.json")
	shutdown, err := Setup(context.Background(), config.TracerConfig{Enabled: true, Exporter: "stdout", Output: path})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}

	_, span := StartSpan(context.Background(), "orchestrator.send")
	span.SetAttributes(StringAttr("conversation.id", "c1"), IntAttr("message.seq", 3))
	SetOK(span)
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	otel.SetTracerProvider(noop.NewTracerProvider())

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) == 0 {
		t.Error("expected exported span data")
	}
}

func TestSetupUnsupportedExporter(t *testing.T) {
	if _, err := Setup(context.Background(), config.TracerConfig{Enabled: true, Exporter: "jaeger"}); err == nil {
		t.Error("expected error for unsupported exporter")
	}
}

func TestSpanHelpers(t *testing.T) {
	otel.SetTracerProvider(noop.NewTracerProvider())

	ctx, span := StartSpan(context.Background(), "test-span")
	if ctx == nil {
		t.Error("context should not be nil")
	}
	SetOK(span)
	RecordError(span, errors.New("test error"))
	span.End()

	if kv := IntAttr("count", 42); string(kv.Key) != "count" || kv.Value.AsInt64() != 42 {
		t.Errorf("IntAttr = %v", kv)
	}
}

func TestSampler(t *testing.T) {
	for _, r := range []float64{0, 1, -1, 2} {
		if got := sampler(r).Description(); got != sdktrace.AlwaysSample().Description() {
			t.Errorf("sampler(%g) = %s, want AlwaysOnSampler", r, got)
		}
	}
	if got := sampler(0.25).Description(); !strings.Contains(got, "TraceIDRatioBased{0.25}") {
		t.Errorf("sampler(0.25) = %s", got)
	}
}
