package observability

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestTracingConfigWithEnv(t *testing.T) {
	env := map[string]string{
		"CONSOLE_TRACING_ENABLED":      "TRUE",
		"CONSOLE_TRACING_EXPORTER":     "OTLP",
		"CONSOLE_TRACING_SAMPLE_RATIO": "7",
		"CONSOLE_OTLP_ENDPOINT":        "collector:4317",
	}
	cfg := DefaultTracingConfig().WithEnv(func(k string) string { return env[k] })
	if !cfg.Enabled || cfg.Exporter != "otlp" || cfg.Endpoint != "collector:4317" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.SampleRatio != 1 {
		t.Fatalf("out of range ratio applied: %v", cfg.SampleRatio)
	}
	if cfg.ServiceName != "globe-console" {
		t.Fatalf("service name = %q", cfg.ServiceName)
	}
}

func TestInitTracingDisabledInstallsNoop(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), DefaultTracingConfig(), nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	_, span := otel.Tracer("test").Start(context.Background(), "noop")
	if span.SpanContext().IsValid() {
		t.Fatalf("disabled tracing produced a sampled span")
	}
	span.End()
	ShutdownWithTimeout(context.Background(), shutdown, nil)
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	cfg := DefaultTracingConfig()
	cfg.Enabled = true
	cfg.Exporter = "zipkin"
	if _, err := InitTracing(context.Background(), cfg, nil); err == nil {
		t.Fatalf("expected error for unsupported exporter")
	}
}
