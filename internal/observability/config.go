package observability

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ca-srg/cravings/internal/config"
)

const (
	defaultServiceName      = "cravings"
	defaultExporterProtocol = "http/protobuf"
	protocolGRPC            = "grpc"
	resourceServiceNameKey  = "service.name"
)

// Config holds the OpenTelemetry settings.
type Config struct {
	Enabled              bool
	ServiceName          string
	ExporterEndpoint     string
	ExporterProtocol     string
	ResourceAttributes   map[string]string
	TracesSampler        string
	TracesSamplerArg     float64
	MetricExportInterval time.Duration
}

// LoadConfig picks the OTEL_* settings out of the application config.
func LoadConfig(cfg *config.Config) (*Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("observability: nil application config")
	}

	attrs, err := parseResourceAttributes(cfg.OTelResourceAttributes)
	if err != nil {
		return nil, fmt.Errorf("observability: failed to parse resource attributes: %w", err)
	}

	otelCfg := &Config{
		Enabled:            cfg.OTelEnabled,
		ServiceName:        strings.TrimSpace(cfg.OTelServiceName),
		ExporterEndpoint:   strings.TrimSpace(cfg.OTelExporterOTLPEndpoint),
		ExporterProtocol:   cfg.OTelExporterOTLPProtocol,
		ResourceAttributes: attrs,
		TracesSampler:      strings.TrimSpace(cfg.OTelTracesSampler),
		TracesSamplerArg:   cfg.OTelTracesSamplerArg,
	}
	if err := otelCfg.Validate(); err != nil {
		return nil, err
	}
	return otelCfg, nil
}

// Validate fills defaults and, when enabled, checks the exporter settings.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("observability: config is nil")
	}

	if c.ServiceName == "" {
		c.ServiceName = defaultServiceName
	}
	c.ExporterProtocol = strings.ToLower(strings.TrimSpace(c.ExporterProtocol))
	if c.ExporterProtocol == "" {
		c.ExporterProtocol = defaultExporterProtocol
	}
	if c.TracesSampler == "" {
		c.TracesSampler = "always_on"
	}
	if c.MetricExportInterval <= 0 {
		c.MetricExportInterval = 60 * time.Second
	}
	c.ensureResourceDefaults()

	if !c.Enabled {
		return nil
	}
	if err := validateEndpoint(c.ExporterProtocol, c.ExporterEndpoint); err != nil {
		return err
	}
	if c.TracesSamplerArg < 0 {
		return fmt.Errorf("observability: traces sampler argument must be non-negative")
	}
	if strings.EqualFold(c.TracesSampler, "traceidratio") && (c.TracesSamplerArg <= 0 || c.TracesSamplerArg > 1) {
		return fmt.Errorf("observability: traceidratio sampler argument must be in (0, 1]")
	}
	return nil
}

func validateEndpoint(protocol, endpoint string) error {
	if endpoint == "" {
		return fmt.Errorf("observability: OTEL_EXPORTER_OTLP_ENDPOINT is required when OpenTelemetry is enabled")
	}
	if _, err := resolveCollector(protocol, endpoint); err != nil {
		return fmt.Errorf("observability: invalid OTLP endpoint: %w", err)
	}
	return nil
}

// parseResourceAttributes reads OTEL_RESOURCE_ATTRIBUTES style k=v,k=v pairs.
func parseResourceAttributes(input string) (map[string]string, error) {
	attributes := make(map[string]string)
	for _, pair := range strings.Split(input, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid resource attribute %q", pair)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("resource attribute key cannot be empty")
		}
		attributes[key] = strings.TrimSpace(value)
	}
	return attributes, nil
}

func (c *Config) ensureResourceDefaults() {
	if c.ResourceAttributes == nil {
		c.ResourceAttributes = make(map[string]string)
	}
	if _, ok := c.ResourceAttributes[resourceServiceNameKey]; !ok && c.ServiceName != "" {
		c.ResourceAttributes[resourceServiceNameKey] = c.ServiceName
	}
}

// Init installs the global tracer and meter providers. With OpenTelemetry
// disabled the providers are still installed but export nothing.
func Init(appCfg *config.Config) (ShutdownFunc, error) {
	noop := func(context.Context) error { return nil }

	otelCfg, err := LoadConfig(appCfg)
	if err != nil {
		return noop, err
	}

	p, err := newProviders(context.Background(), otelCfg)
	if err != nil {
		return noop, err
	}
	p.install()
	return NewShutdownFunc(p.tracer, p.meter), nil
}
