package observability

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// latencyBucketsMS covers the range between a cache hit and a cold search
// with a model call and hydration timeout.
var latencyBucketsMS = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// providers holds the tracer and meter providers installed by Init.
type providers struct {
	tracer *sdktrace.TracerProvider
	meter  *sdkmetric.MeterProvider
}

// newProviders builds both providers. With OpenTelemetry disabled the tracer
// never samples and the meter has no reader, so instrumented code stays
// cheap and exports nothing.
func newProviders(ctx context.Context, cfg *Config) (*providers, error) {
	if cfg == nil {
		return nil, fmt.Errorf("observability: providers require a config")
	}
	if !cfg.Enabled {
		return &providers{
			tracer: sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.NeverSample())),
			meter:  sdkmetric.NewMeterProvider(),
		}, nil
	}

	target, err := resolveCollector(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, fmt.Errorf("observability: invalid OTLP endpoint: %w", err)
	}
	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("observability: failed to build resource information: %w", err)
	}

	spans, err := target.spanExporter(ctx)
	if err != nil {
		return nil, fmt.Errorf("observability: failed to create OTLP trace exporter: %w", err)
	}
	metrics, err := target.metricExporter(ctx)
	if err != nil {
		_ = spans.Shutdown(ctx)
		return nil, fmt.Errorf("observability: failed to create OTLP metric exporter: %w", err)
	}

	return &providers{
		tracer: sdktrace.NewTracerProvider(
			sdktrace.WithSampler(samplerFromConfig(cfg)),
			sdktrace.WithResource(res),
			sdktrace.WithBatcher(spans),
		),
		meter: sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metrics, sdkmetric.WithInterval(cfg.MetricExportInterval))),
			sdkmetric.WithView(latencyView()),
		),
	}, nil
}

func (p *providers) install() {
	otel.SetTracerProvider(p.tracer)
	otel.SetMeterProvider(p.meter)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
}

// latencyView applies millisecond buckets to every cravings.* histogram
// recorded in ms.
func latencyView() sdkmetric.View {
	return sdkmetric.NewView(
		sdkmetric.Instrument{Name: "cravings.*", Kind: sdkmetric.InstrumentKindHistogram, Unit: "ms"},
		sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{Boundaries: latencyBucketsMS}},
	)
}

func samplerFromConfig(cfg *Config) sdktrace.Sampler {
	switch strings.ToLower(cfg.TracesSampler) {
	case "always_off":
		return sdktrace.NeverSample()
	case "traceidratio":
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.TracesSamplerArg))
	case "parentbased_always_on":
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	default:
		return sdktrace.AlwaysSample()
	}
}

func newResource(ctx context.Context, cfg *Config) (*resource.Resource, error) {
	attrs := make([]attribute.KeyValue, 0, len(cfg.ResourceAttributes)+1)
	attrs = append(attrs, attribute.String(resourceServiceNameKey, cfg.ServiceName))
	for key, value := range cfg.ResourceAttributes {
		if strings.EqualFold(key, resourceServiceNameKey) {
			continue
		}
		attrs = append(attrs, attribute.String(key, value))
	}

	return resource.New(
		ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithHost(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(attrs...),
	)
}
