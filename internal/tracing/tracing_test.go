package tracing

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

func shutdown(t *testing.T, p *Provider) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

// restoreGlobal puts back the global tracer provider a test replaces.
func restoreGlobal(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
}

func TestNewProvider_Disabled(t *testing.T) {
	p, err := NewProvider(Config{ServiceName: "panotour"})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	if p.IsEnabled() {
		t.Error("expected tracing to be disabled")
	}
	if p.Tracer("x") == nil {
		t.Error("disabled provider should still hand out a tracer")
	}
	shutdown(t, p)
}

func TestNewProvider_Rejects(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{"missing service name", Config{Enabled: true, SamplingRate: 0.1}, ErrMissingServiceName},
		{"negative rate", Config{ServiceName: "panotour", Enabled: true, SamplingRate: -0.1}, ErrInvalidSamplingRate},
		{"rate above one", Config{ServiceName: "panotour", Enabled: true, SamplingRate: 1.5}, ErrInvalidSamplingRate},
		{"unknown exporter", Config{ServiceName: "panotour", Enabled: true, ExporterType: "zipkin"}, ErrUnsupportedExporter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewProvider(tt.cfg); !errors.Is(err, tt.want) {
				t.Errorf("NewProvider() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNewProvider_OTLPExporters(t *testing.T) {
	restoreGlobal(t)
	for _, exporter := range []string{ExporterOTLPHTTP, ExporterOTLPGRPC, ""} {
		t.Run(exporter, func(t *testing.T) {
			p, err := NewProvider(Config{
				ServiceName:  "panotour",
				Enabled:      true,
				ExporterType: exporter,
				OTLPEndpoint: "localhost:4318",
				InsecureMode: true,
				SamplingRate: 0.5,
			})
			if err != nil {
				t.Fatalf("NewProvider() error = %v", err)
			}
			if !p.IsEnabled() {
				t.Error("expected tracing to be enabled")
			}
			// Nothing was recorded, so shutdown does not need the collector.
			shutdown(t, p)
		})
	}
}

func TestProvider_ExportsSpansWithResource(t *testing.T) {
	restoreGlobal(t)
	exp := tracetest.NewInMemoryExporter()
	p, err := NewProvider(Config{
		ServiceName:    "panotour",
		ServiceVersion: "1.2.3",
		Enabled:        true,
		Environment:    "test",
		SamplingRate:   1,
		Exporter:       exp,
	})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}

	_, span := p.Tracer("panotour").Start(context.Background(), "tour.dispatch")
	span.End()
	shutdown(t, p)

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "tour.dispatch" {
		t.Fatalf("exported spans = %v", spans)
	}
	attrs := spans[0].Resource.Attributes()
	want := map[string]string{
		string(semconv.ServiceNameKey):           "panotour",
		string(semconv.ServiceVersionKey):        "1.2.3",
		string(semconv.DeploymentEnvironmentKey): "test",
	}
	for _, kv := range attrs {
		if v, ok := want[string(kv.Key)]; ok {
			if kv.Value.AsString() != v {
				t.Errorf("%s = %q, want %q", kv.Key, kv.Value.AsString(), v)
			}
			delete(want, string(kv.Key))
		}
	}
	if len(want) > 0 {
		t.Errorf("missing resource attributes: %v", want)
	}
}

func TestProvider_DefaultVersion(t *testing.T) {
	restoreGlobal(t)
	exp := tracetest.NewInMemoryExporter()
	p, err := NewProvider(Config{ServiceName: "panotour", Enabled: true, SamplingRate: 1, Exporter: exp})
	if err != nil {
		t.Fatal(err)
	}
	_, span := p.Tracer("panotour").Start(context.Background(), "x")
	span.End()
	shutdown(t, p)

	for _, kv := range exp.GetSpans()[0].Resource.Attributes() {
		if kv.Key == semconv.ServiceVersionKey && kv.Value.AsString() != defaultVersion {
			t.Errorf("service.version = %q, want %q", kv.Value.AsString(), defaultVersion)
		}
	}
}

func TestNewSampler(t *testing.T) {
	tests := []struct {
		rate        float64
		wantSampled bool
	}{
		{1, true},
		{0, false},
	}
	for _, tt := range tests {
		restoreGlobal(t)
		exp := tracetest.NewInMemoryExporter()
		p, err := NewProvider(Config{ServiceName: "panotour", Enabled: true, SamplingRate: tt.rate, Exporter: exp})
		if err != nil {
			t.Fatal(err)
		}
		_, span := p.Tracer("panotour").Start(context.Background(), "root")
		if span.SpanContext().IsSampled() != tt.wantSampled {
			t.Errorf("rate %g: sampled = %v, want %v", tt.rate, span.SpanContext().IsSampled(), tt.wantSampled)
		}
		span.End()
		shutdown(t, p)
	}
}

func TestNewSampler_FollowsSampledParent(t *testing.T) {
	restoreGlobal(t)
	exp := tracetest.NewInMemoryExporter()
	p, err := NewProvider(Config{ServiceName: "panotour", Enabled: true, SamplingRate: 0, Exporter: exp})
	if err != nil {
		t.Fatal(err)
	}
	defer shutdown(t, p)

	parent := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1},
		SpanID:     trace.SpanID{1},
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	ctx := trace.ContextWithRemoteSpanContext(context.Background(), parent)
	_, span := p.Tracer("panotour").Start(ctx, "child")
	defer span.End()
	if !span.SpanContext().IsSampled() {
		t.Error("child of a sampled remote parent should be sampled")
	}
}

func TestProvider_Shutdown_Nil(t *testing.T) {
	shutdown(t, &Provider{})
}
