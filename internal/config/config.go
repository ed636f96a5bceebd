package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	env "github.com/netflix/go-env"
)

// Backend choices.
const (
	VectorBackendS3Vectors  = "s3vectors"
	VectorBackendOpenSearch = "opensearch"
	VectorBackendMemory     = "memory"

	MenuBackendPostgres = "postgres"
	MenuBackendSnapshot = "snapshot"

	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"

	ProviderOpenAI  = "openai"
	ProviderBedrock = "bedrock"
)

// Config is the complete runtime configuration, read from the environment.
type Config struct {
	// Language model used to parse cravings. "openai" covers any
	// OpenAI-compatible endpoint, Groq by default.
	LLMProvider    string        `json:"llm_provider" env:"LLM_PROVIDER,default=openai"`
	GroqAPIKey     string        `json:"-" env:"GROQ_API_KEY"`
	LLMBaseURL     string        `json:"llm_base_url" env:"LLM_BASE_URL,default=https://api.groq.com/openai/v1"`
	LLMModel       string        `json:"llm_model" env:"LLM_MODEL,default=llama-3.1-8b-instant"`
	LLMTimeout     time.Duration `json:"llm_timeout" env:"LLM_TIMEOUT,default=15s"`
	LLMMaxAttempts int           `json:"llm_max_attempts" env:"LLM_MAX_ATTEMPTS,default=2"`

	// Embedding service
	EmbeddingProvider    string        `json:"embedding_provider" env:"EMBEDDING_PROVIDER,default=openai"`
	EmbeddingBaseURL     string        `json:"embedding_base_url" env:"EMBEDDING_BASE_URL"`
	EmbeddingModel       string        `json:"embedding_model" env:"EMBEDDING_MODEL,default=nomic-embed-text-v1.5"`
	EmbeddingDimensions  int           `json:"embedding_dimensions" env:"EMBEDDING_DIMENSIONS,default=768"`
	EmbeddingTimeout     time.Duration `json:"embedding_timeout" env:"EMBEDDING_TIMEOUT,default=12s"`
	EmbeddingMaxAttempts int           `json:"embedding_max_attempts" env:"EMBEDDING_MAX_ATTEMPTS,default=3"`
	EmbeddingRetryDelay  time.Duration `json:"embedding_retry_delay" env:"EMBEDDING_RETRY_DELAY,default=500ms"`
	EmbeddingRateLimit   float64       `json:"embedding_rate_limit" env:"EMBEDDING_RATE_LIMIT,default=10"`
	EmbeddingRateBurst   int           `json:"embedding_rate_burst" env:"EMBEDDING_RATE_BURST,default=5"`

	// Amazon Bedrock
	AWSRegion             string `json:"aws_region" env:"AWS_REGION,default=us-east-1"`
	BedrockEmbeddingModel string `json:"bedrock_embedding_model" env:"BEDROCK_EMBEDDING_MODEL,default=amazon.titan-embed-text-v2:0"`
	BedrockChatModel      string `json:"bedrock_chat_model" env:"BEDROCK_CHAT_MODEL,default=anthropic.claude-3-haiku-20240307-v1:0"`

	// Vector index
	VectorBackend  string `json:"vector_backend" env:"VECTOR_BACKEND,default=s3vectors"`
	S3VectorBucket string `json:"s3_vector_bucket" env:"S3_VECTOR_BUCKET"`
	S3VectorIndex  string `json:"s3_vector_index" env:"S3_VECTOR_INDEX,default=menu-items"`

	OpenSearchEndpoint        string        `json:"opensearch_endpoint" env:"OPENSEARCH_ENDPOINT"`
	OpenSearchIndex           string        `json:"opensearch_index" env:"OPENSEARCH_INDEX,default=menu-items"`
	OpenSearchRegion          string        `json:"opensearch_region" env:"OPENSEARCH_REGION"`
	OpenSearchInsecureSkipTLS bool          `json:"opensearch_insecure_skip_tls" env:"OPENSEARCH_INSECURE_SKIP_TLS,default=false"`
	OpenSearchRateLimit       float64       `json:"opensearch_rate_limit" env:"OPENSEARCH_RATE_LIMIT,default=10.0"`
	OpenSearchRateBurst       int           `json:"opensearch_rate_burst" env:"OPENSEARCH_RATE_BURST,default=20"`
	OpenSearchRequestTimeout  time.Duration `json:"opensearch_request_timeout" env:"OPENSEARCH_REQUEST_TIMEOUT,default=30s"`
	OpenSearchMaxRetries      int           `json:"opensearch_max_retries" env:"OPENSEARCH_MAX_RETRIES,default=3"`
	OpenSearchRetryDelay      time.Duration `json:"opensearch_retry_delay" env:"OPENSEARCH_RETRY_DELAY,default=1s"`

	// Menu and order store
	MenuBackend        string        `json:"menu_backend" env:"MENU_BACKEND,default=postgres"`
	DatabaseURL        string        `json:"-" env:"DATABASE_URL"`
	MenuSnapshotBucket string        `json:"menu_snapshot_bucket" env:"MENU_SNAPSHOT_BUCKET"`
	MenuSnapshotKey    string        `json:"menu_snapshot_key" env:"MENU_SNAPSHOT_KEY,default=menu/menu_items.json"`
	MenuSnapshotFile   string        `json:"menu_snapshot_file" env:"MENU_SNAPSHOT_FILE"`
	MenuSnapshotMaxAge time.Duration `json:"menu_snapshot_max_age" env:"MENU_SNAPSHOT_MAX_AGE,default=5m"`
	HydrationTimeout   time.Duration `json:"hydration_timeout" env:"HYDRATION_TIMEOUT,default=5s"`

	// Response cache
	CacheBackend  string        `json:"cache_backend" env:"CACHE_BACKEND,default=memory"`
	CacheTTL      time.Duration `json:"cache_ttl" env:"CACHE_TTL,default=600s"`
	RedisAddr     string        `json:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string        `json:"-" env:"REDIS_PASSWORD"`
	RedisDB       int           `json:"redis_db" env:"REDIS_DB,default=0"`

	// Ranking and recommendations
	RankingRulesPath   string `json:"ranking_rules_path" env:"RANKING_RULES_PATH"`
	RecommendationTopN int    `json:"recommendation_top_n" env:"RECOMMENDATION_TOP_N,default=3"`

	// Embedding precompute
	ReembedWorkers   int    `json:"reembed_workers" env:"REEMBED_WORKERS,default=4"`
	ReembedChunkSize int    `json:"reembed_chunk_size" env:"REEMBED_CHUNK_SIZE,default=32"`
	ReembedPrune     bool   `json:"reembed_prune" env:"REEMBED_PRUNE,default=false"`
	HashDBPath       string `json:"hash_db_path" env:"HASH_DB_PATH"`
	MetricsDBPath    string `json:"metrics_db_path" env:"METRICS_DB_PATH"`

	// Admin
	AdminReembedSecret   string `json:"-" env:"ADMIN_REEMBED_SECRET"`
	AdminReembedSecretID string `json:"admin_reembed_secret_id" env:"ADMIN_REEMBED_SECRET_ID"`

	// HTTP server
	HTTPHost              string        `json:"http_host" env:"HTTP_HOST,default=0.0.0.0"`
	HTTPPort              int           `json:"http_port" env:"HTTP_PORT,default=8080"`
	HTTPRateLimit         int           `json:"http_rate_limit" env:"HTTP_RATE_LIMIT,default=120"`
	HTTPReadTimeout       time.Duration `json:"http_read_timeout" env:"HTTP_READ_TIMEOUT,default=30s"`
	HTTPWriteTimeout      time.Duration `json:"http_write_timeout" env:"HTTP_WRITE_TIMEOUT,default=60s"`
	HTTPShutdownTimeout   time.Duration `json:"http_shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT,default=10s"`
	CORSAllowedOrigins    []string      `json:"cors_allowed_origins"`
	CORSAllowedOriginsStr string        `json:"-" env:"CORS_ALLOWED_ORIGINS,default=*"`
	MCPEnabled            bool          `json:"mcp_enabled" env:"MCP_ENABLED,default=false"`

	// Logging
	LogLevel  string `json:"log_level" env:"LOG_LEVEL,default=info"`
	LogFormat string `json:"log_format" env:"LOG_FORMAT,default=json"`

	// OpenTelemetry
	OTelEnabled              bool    `json:"otel_enabled" env:"OTEL_ENABLED,default=false"`
	OTelServiceName          string  `json:"otel_service_name" env:"OTEL_SERVICE_NAME,default=cravings"`
	OTelResourceAttributes   string  `json:"otel_resource_attributes" env:"OTEL_RESOURCE_ATTRIBUTES"`
	OTelExporterOTLPEndpoint string  `json:"otel_exporter_otlp_endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelExporterOTLPProtocol string  `json:"otel_exporter_otlp_protocol" env:"OTEL_EXPORTER_OTLP_PROTOCOL,default=http/protobuf"`
	OTelTracesSampler        string  `json:"otel_traces_sampler" env:"OTEL_TRACES_SAMPLER,default=always_on"`
	OTelTracesSamplerArg     float64 `json:"otel_traces_sampler_arg" env:"OTEL_TRACES_SAMPLER_ARG,default=1.0"`
}

// Load reads the configuration from environment variables.
func Load() (*Config, error) {
	var config Config

	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	config.CORSAllowedOrigins = splitList(config.CORSAllowedOriginsStr)
	if config.EmbeddingBaseURL == "" {
		config.EmbeddingBaseURL = config.LLMBaseURL
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &config, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// validateConfig clamps numeric knobs into safe ranges and checks that each
// selected backend has what it needs.
func validateConfig(config *Config) error {
	config.ReembedWorkers = clamp(config.ReembedWorkers, 1, 16)
	config.ReembedChunkSize = clamp(config.ReembedChunkSize, 1, 256)
	config.EmbeddingMaxAttempts = clamp(config.EmbeddingMaxAttempts, 1, 5)
	config.LLMMaxAttempts = clamp(config.LLMMaxAttempts, 1, 5)
	config.RecommendationTopN = clamp(config.RecommendationTopN, 1, 20)
	if config.HTTPRateLimit < 0 {
		config.HTTPRateLimit = 0
	}

	for _, p := range []*string{&config.VectorBackend, &config.MenuBackend, &config.CacheBackend, &config.EmbeddingProvider, &config.LLMProvider} {
		*p = strings.ToLower(strings.TrimSpace(*p))
	}

	if err := oneOf("LLM_PROVIDER", config.LLMProvider, ProviderOpenAI, ProviderBedrock); err != nil {
		return err
	}
	if err := oneOf("EMBEDDING_PROVIDER", config.EmbeddingProvider, ProviderOpenAI, ProviderBedrock); err != nil {
		return err
	}
	if config.EmbeddingDimensions <= 0 {
		return fmt.Errorf("EMBEDDING_DIMENSIONS must be greater than 0")
	}

	switch config.VectorBackend {
	case VectorBackendS3Vectors:
		if config.S3VectorBucket == "" {
			return fmt.Errorf("S3_VECTOR_BUCKET is required when VECTOR_BACKEND=%s", VectorBackendS3Vectors)
		}
	case VectorBackendOpenSearch:
		if err := validateOpenSearchConfig(config); err != nil {
			return fmt.Errorf("OpenSearch configuration validation failed: %w", err)
		}
	case VectorBackendMemory:
	default:
		return fmt.Errorf("VECTOR_BACKEND must be one of %s, %s, %s; got %q",
			VectorBackendS3Vectors, VectorBackendOpenSearch, VectorBackendMemory, config.VectorBackend)
	}

	switch config.MenuBackend {
	case MenuBackendPostgres:
		if config.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when MENU_BACKEND=%s", MenuBackendPostgres)
		}
	case MenuBackendSnapshot:
		if config.MenuSnapshotBucket == "" && config.MenuSnapshotFile == "" {
			return fmt.Errorf("MENU_SNAPSHOT_BUCKET or MENU_SNAPSHOT_FILE is required when MENU_BACKEND=%s", MenuBackendSnapshot)
		}
	default:
		return fmt.Errorf("MENU_BACKEND must be %s or %s; got %q", MenuBackendPostgres, MenuBackendSnapshot, config.MenuBackend)
	}

	switch config.CacheBackend {
	case CacheBackendMemory:
	case CacheBackendRedis:
		if config.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when CACHE_BACKEND=%s", CacheBackendRedis)
		}
	default:
		return fmt.Errorf("CACHE_BACKEND must be %s or %s; got %q", CacheBackendMemory, CacheBackendRedis, config.CacheBackend)
	}

	if config.CacheTTL <= 0 {
		config.CacheTTL = 600 * time.Second
	}
	if config.HTTPPort < 1 || config.HTTPPort > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535")
	}
	return nil
}

func oneOf(name, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s; got %q", name, strings.Join(allowed, ", "), value)
}

func validateOpenSearchConfig(config *Config) error {
	if config.OpenSearchEndpoint == "" {
		return fmt.Errorf("OPENSEARCH_ENDPOINT is required when VECTOR_BACKEND=%s", VectorBackendOpenSearch)
	}

	parsedURL, err := url.Parse(config.OpenSearchEndpoint)
	if err != nil {
		return fmt.Errorf("invalid OPENSEARCH_ENDPOINT URL format: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("OPENSEARCH_ENDPOINT scheme must be http or https")
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("OPENSEARCH_ENDPOINT must include a valid host")
	}

	if config.OpenSearchRateLimit <= 0 {
		return fmt.Errorf("OPENSEARCH_RATE_LIMIT must be greater than 0")
	}
	if config.OpenSearchRateLimit > 1000 {
		return fmt.Errorf("OPENSEARCH_RATE_LIMIT cannot exceed 1000 requests/second")
	}
	if config.OpenSearchRateBurst <= 0 {
		return fmt.Errorf("OPENSEARCH_RATE_BURST must be greater than 0")
	}
	if config.OpenSearchMaxRetries < 0 || config.OpenSearchMaxRetries > 10 {
		return fmt.Errorf("OPENSEARCH_MAX_RETRIES must be between 0 and 10")
	}
	if !isValidIndexName(config.OpenSearchIndex) {
		return fmt.Errorf("OPENSEARCH_INDEX contains invalid characters: %s", config.OpenSearchIndex)
	}
	return nil
}

// isValidIndexName accepts lower-case OpenSearch index names.
func isValidIndexName(name string) bool {
	if len(name) == 0 || len(name) > 255 {
		return false
	}
	if name[0] == '_' || name[0] == '-' {
		return false
	}
	for _, char := range name {
		if !((char >= 'a' && char <= 'z') || (char >= '0' && char <= '9') || char == '_' || char == '-') {
			return false
		}
	}
	return true
}
