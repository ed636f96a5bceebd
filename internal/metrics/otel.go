package metrics

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	otelMetricsOnce       sync.Once
	otelRegistrationError error
)

// InitOTelMetrics registers the cravings.invocations.total gauge, which
// reports the SQLite totals on every collection. Call it after the meter
// provider is installed.
func InitOTelMetrics() error {
	otelMetricsOnce.Do(func() {
		meter := otel.Meter("github.com/ca-srg/cravings/internal/metrics")
		_, otelRegistrationError = meter.Int64ObservableGauge(
			"cravings.invocations.total",
			metric.WithDescription("Cumulative invocations by mode (craving, recommend, reembed, mcp)"),
			metric.WithUnit("{invocations}"),
			metric.WithInt64Callback(invocationCallback),
		)
	})
	return otelRegistrationError
}

func invocationCallback(_ context.Context, observer metric.Int64Observer) error {
	stats := GetStats()
	for _, mode := range AllModes {
		observer.Observe(stats[mode], metric.WithAttributes(attribute.String("mode", string(mode))))
	}
	return nil
}

// ResetOTelForTesting allows InitOTelMetrics to register again.
func ResetOTelForTesting() {
	otelMetricsOnce = sync.Once{}
	otelRegistrationError = nil
}
