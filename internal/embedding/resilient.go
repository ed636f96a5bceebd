package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

// ResilientConfig tunes the retry, timeout, rate limit and circuit breaker
// placed around an embedding provider.
type ResilientConfig struct {
	MaxAttempts int
	RetryDelay  time.Duration
	// Timeout bounds each individual provider call.
	Timeout time.Duration
	// RateLimit is the sustained requests per second; zero disables limiting.
	RateLimit float64
	RateBurst int
	// BreakerFailures consecutive failures open the breaker for BreakerTimeout.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

func (c *ResilientConfig) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 500 * time.Millisecond
	}
	if c.Timeout <= 0 {
		c.Timeout = 12 * time.Second
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 1
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = 30 * time.Second
	}
}

// Resilient wraps a provider with bounded retries and exponential backoff, a
// per-call timeout, a client-side rate limit and a circuit breaker. Embed
// never returns a provider error directly: exhausted attempts yield
// ErrNoEmbedding.
type Resilient struct {
	inner   Embedder
	cfg     ResilientConfig
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[any]
	logger  zerolog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewResilient(inner Embedder, cfg ResilientConfig, logger zerolog.Logger) *Resilient {
	cfg.applyDefaults()
	logger = logger.With().Str("component", "embedding").Logger()

	r := &Resilient{
		inner:  inner,
		cfg:    cfg,
		logger: logger,
		sleep:  sleepContext,
	}
	if cfg.RateLimit > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}
	r.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "embedding",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})
	return r
}

// Embed returns the vector for text, or an error wrapping ErrNoEmbedding.
func (r *Resilient) Embed(ctx context.Context, text string) ([]float32, error) {
	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := time.Duration(math.Pow(2, float64(attempt-2))) * r.cfg.RetryDelay
			if err := r.sleep(ctx, delay); err != nil {
				lastErr = err
				break
			}
		}

		out, err := r.call(ctx, func(callCtx context.Context) (any, error) {
			return r.inner.Embed(callCtx, text)
		})
		if err == nil {
			vec, _ := out.([]float32)
			if len(vec) > 0 {
				return vec, nil
			}
			err = fmt.Errorf("provider returned an empty vector")
		}
		lastErr = err

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) ||
			ctx.Err() != nil {
			break
		}
		r.logger.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", r.cfg.MaxAttempts).
			Msg("embedding attempt failed")
	}

	return nil, fmt.Errorf("%w: %v", ErrNoEmbedding, lastErr)
}

// EmbedBatch makes a single guarded batch call. It returns an error when the
// provider has no batch endpoint.
func (r *Resilient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	batcher, ok := r.inner.(BatchEmbedder)
	if !ok {
		return nil, fmt.Errorf("embedding provider does not support batch requests")
	}
	out, err := r.call(ctx, func(callCtx context.Context) (any, error) {
		return batcher.EmbedBatch(callCtx, texts)
	})
	if err != nil {
		return nil, err
	}
	vecs, _ := out.([][]float32)
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("batch embedding count mismatch: expected %d, got %d", len(texts), len(vecs))
	}
	return vecs, nil
}

func (r *Resilient) call(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}
	return r.breaker.Execute(func() (any, error) {
		callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
		return fn(callCtx)
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
