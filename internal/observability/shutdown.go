package observability

import (
	"context"
	"errors"
	"fmt"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const defaultShutdownTimeout = 5 * time.Second

// ShutdownFunc flushes and stops the exporters.
type ShutdownFunc func(context.Context) error

// NewShutdownFunc flushes pending spans before metrics so the final batch of
// both reaches the collector. Errors from each provider are joined.
func NewShutdownFunc(tp *sdktrace.TracerProvider, mp *sdkmetric.MeterProvider) ShutdownFunc {
	type step struct {
		name string
		stop func(context.Context) error
	}
	var steps []step
	if tp != nil {
		steps = append(steps, step{"tracer provider", tp.Shutdown})
	}
	if mp != nil {
		steps = append(steps, step{"meter provider", mp.Shutdown})
	}

	return func(ctx context.Context) error {
		if ctx == nil {
			ctx = context.Background()
		}
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, defaultShutdownTimeout)
			defer cancel()
		}

		var errs []error
		for _, s := range steps {
			if err := s.stop(ctx); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
			}
		}
		return errors.Join(errs...)
	}
}
