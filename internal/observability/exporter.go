package observability

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const (
	tracesPath  = "/v1/traces"
	metricsPath = "/v1/metrics"
)

// collector is a resolved OTLP destination shared by the span and metric
// exporters.
type collector struct {
	protocol string
	// base is a URL for http/protobuf and host:port for grpc.
	base     string
	insecure bool
}

func resolveCollector(protocol, endpoint string) (collector, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return collector{}, fmt.Errorf("endpoint cannot be empty")
	}

	switch protocol {
	case defaultExporterProtocol:
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return collector{}, fmt.Errorf("parse endpoint: %w", err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return collector{}, fmt.Errorf("http/protobuf endpoint must start with http:// or https://")
		}
		if parsed.Host == "" {
			return collector{}, fmt.Errorf("endpoint must include a host")
		}
		return collector{protocol: protocol, base: endpoint, insecure: parsed.Scheme == "http"}, nil

	case protocolGRPC:
		// A bare host:port is plaintext, which is how a sidecar collector is
		// usually reached.
		if !strings.Contains(endpoint, "://") {
			if !strings.Contains(endpoint, ":") {
				return collector{}, fmt.Errorf("gRPC endpoint should be host:port")
			}
			return collector{protocol: protocol, base: endpoint, insecure: true}, nil
		}
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return collector{}, fmt.Errorf("parse endpoint: %w", err)
		}
		if parsed.Host == "" {
			return collector{}, fmt.Errorf("endpoint must include a host")
		}
		var insecure bool
		switch parsed.Scheme {
		case "http", "grpc":
			insecure = true
		case "https", "grpcs":
		default:
			return collector{}, fmt.Errorf("unsupported scheme %q", parsed.Scheme)
		}
		return collector{protocol: protocol, base: parsed.Host, insecure: insecure}, nil

	default:
		return collector{}, fmt.Errorf("unsupported OTLP exporter protocol %q", protocol)
	}
}

// signalURL returns the HTTP endpoint for one signal. A base that already
// ends with the signal path is kept; the query string is preserved.
func (c collector) signalURL(signal string) (string, error) {
	parsed, err := url.Parse(c.base)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	p := strings.TrimSuffix(parsed.Path, "/")
	if !strings.HasSuffix(p, signal) {
		p += signal
	}
	parsed.Path = p
	return parsed.String(), nil
}

func (c collector) spanExporter(ctx context.Context) (sdktrace.SpanExporter, error) {
	if c.protocol == protocolGRPC {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(c.base)}
		if c.insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	}

	endpoint, err := c.signalURL(tracesPath)
	if err != nil {
		return nil, err
	}
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpointURL(endpoint)}
	if c.insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return otlptracehttp.New(ctx, opts...)
}

func (c collector) metricExporter(ctx context.Context) (sdkmetric.Exporter, error) {
	if c.protocol == protocolGRPC {
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(c.base)}
		if c.insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		return otlpmetricgrpc.New(ctx, opts...)
	}

	endpoint, err := c.signalURL(metricsPath)
	if err != nil {
		return nil, err
	}
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpointURL(endpoint)}
	if c.insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	return otlpmetrichttp.New(ctx, opts...)
}
