package telemetry

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestInstrumentKind(t *testing.T) {
	cases := []struct {
		name string
		want int
	}{
		{"enhance.requests", kindCounter},
		{"enhance.failures", kindCounter},
		{"circuit_breaker.rejection", kindCounter},
		{"enhance.duration_ms", kindHistogram},
		{"enhance.prompt.size_bytes", kindHistogram},
		{"queue.wait_seconds", kindHistogram},
		{"circuit_breaker.state", kindGauge},
	}
	for _, tc := range cases {
		if got := instrumentKind(tc.name); got != tc.want {
			t.Errorf("instrumentKind(%q) = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestRecordMetricCachesInstruments(t *testing.T) {
	p := &OTelProvider{
		meter:      otel.Meter("test"),
		counters:   make(map[string]metric.Float64Counter),
		histograms: make(map[string]metric.Float64Histogram),
		gauges:     make(map[string]metric.Float64Gauge),
	}

	p.RecordMetric("enhance.requests", 1, map[string]string{"status": "success"})
	p.RecordMetric("enhance.requests", 1, map[string]string{"status": "error"})
	p.RecordMetric("enhance.duration_ms", 42.5, nil)
	p.RecordMetric("circuit_breaker.state", 2, map[string]string{"circuit": "inference"})

	if len(p.counters) != 1 {
		t.Errorf("counters cached = %d, want 1", len(p.counters))
	}
	if len(p.histograms) != 1 {
		t.Errorf("histograms cached = %d, want 1", len(p.histograms))
	}
	if len(p.gauges) != 1 {
		t.Errorf("gauges cached = %d, want 1", len(p.gauges))
	}
}

func TestSpanAttributeTypes(t *testing.T) {
	tracer := noop.NewTracerProvider().Tracer("test")
	_, inner := tracer.Start(context.Background(), "op")
	span := &otelSpan{span: inner}

	span.SetAttribute("string", "value")
	span.SetAttribute("int", 7)
	span.SetAttribute("int64", int64(7))
	span.SetAttribute("float", 0.5)
	span.SetAttribute("bool", true)
	span.SetAttribute("other", []string{"a", "b"})
	span.RecordError(errors.New("boom"))
	span.End()
}

func TestSpanExport(t *testing.T) {
	var buf bytes.Buffer
	exporter, err := stdouttrace.New(
		stdouttrace.WithWriter(&buf),
		stdouttrace.WithPrettyPrint(),
	)
	if err != nil {
		t.Fatalf("stdouttrace.New failed: %v", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
	)
	defer tp.Shutdown(context.Background())

	p := &OTelProvider{
		tracer:        tp.Tracer(scopeName),
		traceProvider: tp,
	}

	_, span := p.StartSpan(context.Background(), "enhance.request")
	span.SetAttribute("intent", "code_generation")
	span.RecordError(errors.New("boom"))
	span.End()

	out := buf.String()
	if !strings.Contains(out, "enhance.request") {
		t.Errorf("exported span missing name, got: %s", out)
	}
	if !strings.Contains(out, "code_generation") {
		t.Errorf("exported span missing attribute, got: %s", out)
	}
}

func TestNewOTelProviderLazyConnection(t *testing.T) {
	p, err := NewOTelProvider("promptlift-test", "localhost:0")
	if err != nil {
		t.Fatalf("NewOTelProvider failed: %v", err)
	}

	ctx, span := p.StartSpan(context.Background(), "test.op")
	if ctx == nil || span == nil {
		t.Fatal("StartSpan returned nil context or span")
	}
	span.SetAttribute("key", "value")
	span.End()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = p.Shutdown(shutdownCtx)
}
