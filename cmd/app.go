package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/ca-srg/cravings/internal/cache"
	appcfg "github.com/ca-srg/cravings/internal/config"
	"github.com/ca-srg/cravings/internal/embedding"
	"github.com/ca-srg/cravings/internal/embedding/bedrock"
	"github.com/ca-srg/cravings/internal/embedding/openai"
	"github.com/ca-srg/cravings/internal/hashstore"
	"github.com/ca-srg/cravings/internal/hydrator"
	"github.com/ca-srg/cravings/internal/menu"
	"github.com/ca-srg/cravings/internal/menustore"
	"github.com/ca-srg/cravings/internal/metrics"
	"github.com/ca-srg/cravings/internal/normalizer"
	"github.com/ca-srg/cravings/internal/observability"
	"github.com/ca-srg/cravings/internal/opensearch"
	"github.com/ca-srg/cravings/internal/precompute"
	"github.com/ca-srg/cravings/internal/recommender"
	"github.com/ca-srg/cravings/internal/rules"
	"github.com/ca-srg/cravings/internal/search"
	"github.com/ca-srg/cravings/internal/vectorindex"
)

// menuBackend is what the engine needs from the menu and order stores.
type menuBackend interface {
	menu.Store
	menu.OrderHistory
}

// app holds every wired component for one process.
type app struct {
	cfg    *appcfg.Config
	logger zerolog.Logger

	menu        menuBackend
	embedder    embedding.Embedder
	chat        embedding.ChatClient
	index       vectorindex.Index
	osClient    *opensearch.Client
	cache       cache.Cache
	rules       *rules.Rules
	search      *search.Service
	recommender *recommender.Recommender

	closers []func() error
}

// newLogger builds the process logger from configuration.
func newLogger(cfg *appcfg.Config) zerolog.Logger {
	return observability.NewLogger(observability.LogConfig{
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		ServiceName: cfg.OTelServiceName,
	})
}

// loadApp reads the configuration and wires the application.
func loadApp(ctx context.Context) (*app, error) {
	cfg, err := appcfg.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return newApp(ctx, cfg, newLogger(cfg))
}

// newApp wires the components selected by cfg. The vector path is optional:
// when its backend cannot be built the search falls back to keyword ranking.
func newApp(ctx context.Context, cfg *appcfg.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	r, err := loadRules(cfg.RankingRulesPath)
	if err != nil {
		return nil, err
	}
	a.rules = r

	store, closeStore, err := buildMenuStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.menu = store
	a.addCloser(closeStore)

	var awsCfg *aws.Config
	loadAWS := func() (aws.Config, error) {
		if awsCfg != nil {
			return *awsCfg, nil
		}
		c, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
		}
		awsCfg = &c
		return c, nil
	}

	chat, rawEmbedder, err := buildModels(cfg, loadAWS)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.chat = chat
	if rawEmbedder != nil {
		a.embedder = embedding.NewResilient(rawEmbedder, embedding.ResilientConfig{
			MaxAttempts: cfg.EmbeddingMaxAttempts,
			RetryDelay:  cfg.EmbeddingRetryDelay,
			Timeout:     cfg.EmbeddingTimeout,
			RateLimit:   cfg.EmbeddingRateLimit,
			RateBurst:   cfg.EmbeddingRateBurst,
		}, logger)
	}

	index, osClient, err := buildIndex(ctx, cfg, logger)
	if err != nil {
		logger.Warn().Err(err).Str("backend", cfg.VectorBackend).Msg("vector index unavailable, keyword search only")
	}
	a.index, a.osClient = index, osClient

	c, closeCache, err := buildCache(ctx, cfg)
	if err != nil {
		logger.Warn().Err(err).Msg("redis cache unavailable, using in-process cache")
		c, closeCache = cache.NewMemory(), nil
	}
	a.cache = c
	a.addCloser(closeCache)

	parser := normalizer.New(chat, normalizer.Config{
		Timeout:     cfg.LLMTimeout,
		MaxAttempts: cfg.LLMMaxAttempts,
	}, logger)

	deps := search.Deps{
		Parser:   parser,
		Hydrator: hydrator.New(store, cfg.HydrationTimeout, logger),
		Items:    store,
		Cache:    a.cache,
		CacheTTL: cfg.CacheTTL,
		Rules:    a.rules,
	}
	if a.embedder != nil && a.index != nil {
		deps.Embedder = a.embedder
		deps.Index = a.index
	}
	a.search, err = search.NewService(deps, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.recommender = recommender.New(store, store, logger)
	return a, nil
}

// newReembedJob builds the precompute job. It needs an embedder and an index.
func (a *app) newReembedJob(prune bool) (*precompute.Job, error) {
	if a.embedder == nil {
		return nil, fmt.Errorf("re-embed requires an embedding provider: set GROQ_API_KEY or EMBEDDING_PROVIDER=bedrock")
	}
	if a.index == nil {
		return nil, fmt.Errorf("re-embed requires a vector index: check VECTOR_BACKEND settings")
	}

	var hashes *hashstore.HashStore
	var err error
	if a.cfg.HashDBPath != "" {
		hashes, err = hashstore.NewHashStoreWithPath(a.cfg.HashDBPath)
	} else {
		hashes, err = hashstore.NewHashStore()
	}
	if err != nil {
		a.logger.Warn().Err(err).Msg("content hash store unavailable, skipping by index presence only")
		hashes = nil
	} else {
		a.addCloser(hashes.Close)
	}

	return precompute.NewJob(a.menu, a.index, a.embedder, hashes, precompute.Options{
		IndexName: a.indexName(),
		ChunkSize: a.cfg.ReembedChunkSize,
		Workers:   a.cfg.ReembedWorkers,
		Prune:     prune,
	}, a.logger), nil
}

func (a *app) indexName() string {
	if a.cfg.VectorBackend == appcfg.VectorBackendOpenSearch {
		return a.cfg.OpenSearchIndex
	}
	return a.cfg.S3VectorIndex
}

// startTelemetry installs the OpenTelemetry providers and the invocation
// counters. The returned function flushes and closes both.
func (a *app) startTelemetry() func() {
	shutdown, err := observability.Init(a.cfg)
	if err != nil {
		a.logger.Warn().Err(err).Msg("OpenTelemetry disabled")
	}
	if err := metrics.Init(a.cfg.MetricsDBPath, a.logger); err == nil {
		if err := metrics.InitOTelMetrics(); err != nil {
			a.logger.Warn().Err(err).Msg("failed to register invocation gauge")
		}
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("telemetry shutdown failed")
		}
		_ = metrics.Close()
	}
}

func (a *app) addCloser(fn func() error) {
	if fn != nil {
		a.closers = append(a.closers, fn)
	}
}

// Close releases pooled connections in reverse construction order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn().Err(err).Msg("close failed")
		}
	}
	a.closers = nil
}

func loadRules(path string) (*rules.Rules, error) {
	if path == "" {
		return rules.Default(), nil
	}
	r, err := rules.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load ranking rules: %w", err)
	}
	return r, nil
}

func buildMenuStore(ctx context.Context, cfg *appcfg.Config, logger zerolog.Logger) (menuBackend, func() error, error) {
	switch cfg.MenuBackend {
	case appcfg.MenuBackendPostgres:
		pg, err := menustore.NewPostgres(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, nil, err
		}
		return pg, func() error { pg.Close(); return nil }, nil

	case appcfg.MenuBackendSnapshot:
		var loader menustore.Loader
		if cfg.MenuSnapshotFile != "" {
			loader = menustore.FileLoader(cfg.MenuSnapshotFile)
		} else {
			awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
			if err != nil {
				return nil, nil, fmt.Errorf("failed to load AWS config: %w", err)
			}
			loader = menustore.S3Loader(s3.NewFromConfig(awsCfg), cfg.MenuSnapshotBucket, cfg.MenuSnapshotKey)
		}
		snap, err := menustore.NewSnapshot(ctx, loader, cfg.MenuSnapshotMaxAge, logger)
		if err != nil {
			return nil, nil, err
		}
		return snap, nil, nil

	default:
		return nil, nil, fmt.Errorf("unsupported menu backend %q", cfg.MenuBackend)
	}
}

// buildModels returns the chat client and the raw embedder for the
// configured providers. Either may be nil when its provider has no
// credentials, which disables the LLM parse or the vector path.
func buildModels(cfg *appcfg.Config, loadAWS func() (aws.Config, error)) (embedding.ChatClient, embedding.Embedder, error) {
	var groq *openai.Client
	if cfg.GroqAPIKey != "" {
		groq = openai.NewClient(openai.Config{
			APIKey:         cfg.GroqAPIKey,
			BaseURL:        cfg.EmbeddingBaseURL,
			EmbeddingModel: cfg.EmbeddingModel,
			ChatModel:      cfg.LLMModel,
			Timeout:        cfg.EmbeddingTimeout,
		})
	}

	var chat embedding.ChatClient
	switch cfg.LLMProvider {
	case appcfg.ProviderBedrock:
		awsCfg, err := loadAWS()
		if err != nil {
			return nil, nil, err
		}
		chat = bedrock.GetSharedBedrockClient(awsCfg, cfg.BedrockChatModel, 0)
	default:
		if cfg.GroqAPIKey != "" {
			chat = openai.NewClient(openai.Config{
				APIKey:    cfg.GroqAPIKey,
				BaseURL:   cfg.LLMBaseURL,
				ChatModel: cfg.LLMModel,
				Timeout:   cfg.LLMTimeout,
			})
		}
	}

	var embedder embedding.Embedder
	switch cfg.EmbeddingProvider {
	case appcfg.ProviderBedrock:
		awsCfg, err := loadAWS()
		if err != nil {
			return nil, nil, err
		}
		embedder = bedrock.GetSharedBedrockClient(awsCfg, cfg.BedrockEmbeddingModel, cfg.EmbeddingDimensions)
	default:
		if groq != nil {
			embedder = groq
		}
	}

	return chat, embedder, nil
}

func buildIndex(ctx context.Context, cfg *appcfg.Config, logger zerolog.Logger) (vectorindex.Index, *opensearch.Client, error) {
	switch cfg.VectorBackend {
	case appcfg.VectorBackendMemory:
		return vectorindex.NewMemory(), nil, nil

	case appcfg.VectorBackendOpenSearch:
		client, err := opensearch.NewClient(&opensearch.Config{
			Endpoint:        cfg.OpenSearchEndpoint,
			Region:          cfg.OpenSearchRegion,
			InsecureSkipTLS: cfg.OpenSearchInsecureSkipTLS,
			RateLimit:       cfg.OpenSearchRateLimit,
			RateBurst:       cfg.OpenSearchRateBurst,
			RequestTimeout:  cfg.OpenSearchRequestTimeout,
			MaxRetries:      cfg.OpenSearchMaxRetries,
			RetryDelay:      cfg.OpenSearchRetryDelay,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create OpenSearch client: %w", err)
		}
		if err := client.Ping(ctx); err != nil {
			logger.Warn().Err(err).Str("endpoint", cfg.OpenSearchEndpoint).Msg("OpenSearch is not reachable yet")
		}
		return vectorindex.NewOpenSearch(client, cfg.OpenSearchIndex, logger), client, nil

	case appcfg.VectorBackendS3Vectors:
		idx, err := vectorindex.NewS3Vectors(ctx, vectorindex.S3VectorsConfig{
			VectorBucketName: cfg.S3VectorBucket,
			IndexName:        cfg.S3VectorIndex,
			Region:           cfg.AWSRegion,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return idx, nil, nil

	default:
		return nil, nil, fmt.Errorf("unsupported vector backend %q", cfg.VectorBackend)
	}
}

func buildCache(ctx context.Context, cfg *appcfg.Config) (cache.Cache, func() error, error) {
	if cfg.CacheBackend != appcfg.CacheBackendRedis {
		return cache.NewMemory(), nil, nil
	}
	r, err := cache.NewRedis(ctx, cache.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return nil, nil, err
	}
	return r, r.Close, nil
}
