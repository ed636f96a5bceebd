package mcpserver

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	mcpMetricsOnce      sync.Once
	mcpRequestCounter   metric.Int64Counter
	mcpErrorCounter     metric.Int64Counter
	mcpLatencyHistogram metric.Float64Histogram
)

func initMCPMetrics() {
	mcpMetricsOnce.Do(func() {
		meter := otel.Meter("github.com/ca-srg/cravings/internal/mcpserver")

		var err error
		mcpRequestCounter, err = meter.Int64Counter(
			"cravings.mcp.requests.total",
			metric.WithDescription("Total MCP tool calls"),
		)
		if err != nil {
			log.Warn().Err(err).Msg("failed to create MCP request counter")
		}

		mcpErrorCounter, err = meter.Int64Counter(
			"cravings.mcp.errors.total",
			metric.WithDescription("Total MCP tool calls that returned an error result"),
		)
		if err != nil {
			log.Warn().Err(err).Msg("failed to create MCP error counter")
		}

		mcpLatencyHistogram, err = meter.Float64Histogram(
			"cravings.mcp.response_time",
			metric.WithDescription("MCP tool response time"),
			metric.WithUnit("ms"),
		)
		if err != nil {
			log.Warn().Err(err).Msg("failed to create MCP latency histogram")
		}
	})
}

func recordToolCall(ctx context.Context, tool string, started time.Time, errType string) {
	initMCPMetrics()
	attrs := []attribute.KeyValue{attribute.String("tool", tool)}
	if mcpRequestCounter != nil {
		mcpRequestCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if mcpLatencyHistogram != nil {
		mcpLatencyHistogram.Record(ctx, float64(time.Since(started).Milliseconds()), metric.WithAttributes(attrs...))
	}
	if errType != "" && mcpErrorCounter != nil {
		mcpErrorCounter.Add(ctx, 1, metric.WithAttributes(append(attrs, attribute.String("error.type", errType))...))
	}
}
