package opensearch

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	opensearch "github.com/opensearch-project/opensearch-go/v4"
	"github.com/opensearch-project/opensearch-go/v4/opensearchapi"
	requestsigner "github.com/opensearch-project/opensearch-go/v4/signer/awsv2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Client is a rate limited OpenSearch client with retry for the handful of
// calls the menu vector index makes.
type Client struct {
	client      *opensearchapi.Client
	rateLimiter *rate.Limiter
	config      *Config
	logger      zerolog.Logger
}

type Config struct {
	Endpoint string
	// Region enables SigV4 request signing for Amazon OpenSearch Service.
	// Leave empty for a self-managed cluster.
	Region          string
	InsecureSkipTLS bool
	// RateLimit is requests per second shared by every caller of the client.
	RateLimit      float64
	RateBurst      int
	RequestTimeout time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
	// MaxConns bounds connections per host; the idle pool keeps a quarter.
	MaxConns int
}

// Validate checks the endpoint and fills defaults for the tuning knobs.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 10
	}
	c.RateLimit = min(c.RateLimit, 1000)
	if c.RateBurst <= 0 {
		c.RateBurst = 20
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	c.RequestTimeout = min(c.RequestTimeout, 2*time.Minute)
	c.MaxRetries = max(c.MaxRetries, 0)
	if c.RetryDelay <= 0 {
		c.RetryDelay = 200 * time.Millisecond
	}
	if c.MaxConns <= 0 {
		c.MaxConns = 64
	}
	return nil
}

func NewClient(cfg *Config, logger zerolog.Logger) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	osConfig := opensearch.Config{
		Addresses: []string{cfg.Endpoint},
		Transport: &http.Transport{
			TLSClientConfig:       &tls.Config{InsecureSkipVerify: cfg.InsecureSkipTLS},
			MaxConnsPerHost:       cfg.MaxConns,
			MaxIdleConnsPerHost:   max(cfg.MaxConns/4, 2),
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: cfg.RequestTimeout,
		},
	}

	if cfg.Region != "" {
		awsConfig, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		signer, err := requestsigner.NewSignerWithService(awsConfig, "es")
		if err != nil {
			return nil, fmt.Errorf("failed to create AWS signer: %w", err)
		}
		osConfig.Signer = signer
	}

	osClient, err := opensearchapi.NewClient(opensearchapi.Config{Client: osConfig})
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenSearch client: %w", err)
	}

	return &Client{
		client:      osClient,
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		config:      cfg,
		logger:      logger.With().Str("component", "opensearch").Logger(),
	}, nil
}

// Ping reports whether the cluster answers a health request.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, "ClusterHealth", func(ctx context.Context) error {
		if _, err := c.client.Cluster.Health(ctx, &opensearchapi.ClusterHealthReq{}); err != nil {
			return ClassifyConnectionError(err)
		}
		return nil
	})
}

// do runs op under the rate limiter and the per-request timeout. Retryable
// SearchErrors are retried with exponential backoff; anything else returns
// immediately.
func (c *Client) do(ctx context.Context, name string, op func(context.Context) error) error {
	var lastErr error
	delay := c.config.RetryDelay

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Debug().Str("operation", name).Int("attempt", attempt+1).Dur("delay", delay).Msg("retrying")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		if c.rateLimiter != nil {
			if err := c.rateLimiter.Wait(ctx); err != nil {
				return fmt.Errorf("rate limit wait: %w", err)
			}
		}

		err := c.attempt(ctx, op)
		if err == nil {
			return nil
		}
		lastErr = err

		var searchErr *SearchError
		if errors.As(err, &searchErr) && !searchErr.IsRetryable() {
			return err
		}
		c.logger.Warn().Err(err).Str("operation", name).Int("attempt", attempt+1).Msg("opensearch request failed")
	}

	return fmt.Errorf("%s failed after %d attempts: %w", name, c.config.MaxRetries+1, lastErr)
}

func (c *Client) attempt(ctx context.Context, op func(context.Context) error) error {
	if c.config.RequestTimeout <= 0 {
		return op(ctx)
	}
	reqCtx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()
	return op(reqCtx)
}
