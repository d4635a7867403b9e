package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the enhancement core.
// It supports three-layer configuration priority:
//  1. Default values (lowest priority)
//  2. Environment variables (medium priority)
//  3. Functional options (highest priority)
//
// Example usage:
//
//	cfg, err := NewConfig(
//	    WithServiceName("promptlift"),
//	    WithInferenceURL("http://intent-classifier:8085"),
//	    WithRedisURL("redis://localhost:6379"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
type Config struct {
	// Core configuration
	ServiceName string `json:"service_name" yaml:"service_name" env:"PROMPTLIFT_SERVICE_NAME"`

	// Inference client configuration (C1)
	Inference InferenceConfig `json:"inference" yaml:"inference"`

	// Cache configuration (C2)
	Cache CacheConfig `json:"cache" yaml:"cache"`

	// Rate limit configuration (C2 primitive)
	RateLimit RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`

	// Intent classifier configuration (C3)
	Classifier ClassifierConfig `json:"classifier" yaml:"classifier"`

	// Technique engine configuration (C4)
	Engine EngineConfig `json:"engine" yaml:"engine"`

	// Orchestrator configuration (C5)
	Orchestrator OrchestratorConfig `json:"orchestrator" yaml:"orchestrator"`

	// History persistence configuration
	History HistoryConfig `json:"history" yaml:"history"`

	// Telemetry configuration (optional module)
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`

	// Logging configuration
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// InferenceConfig contains the remote ML model client settings, including
// the retry policy and the circuit breaker guarding the endpoint.
type InferenceConfig struct {
	Enabled          bool          `json:"enabled" yaml:"enabled" env:"PROMPTLIFT_INFERENCE_ENABLED" default:"true"`
	BaseURL          string        `json:"base_url" yaml:"base_url" env:"PROMPTLIFT_INFERENCE_URL,INFERENCE_URL"`
	Timeout          time.Duration `json:"timeout" yaml:"timeout" env:"PROMPTLIFT_INFERENCE_TIMEOUT" default:"10s"`
	MaxRetries       int           `json:"max_retries" yaml:"max_retries" env:"PROMPTLIFT_INFERENCE_MAX_RETRIES" default:"3"`
	RetryBaseDelay   time.Duration `json:"retry_base_delay" yaml:"retry_base_delay" env:"PROMPTLIFT_INFERENCE_RETRY_BASE" default:"200ms"`
	RetryMaxDelay    time.Duration `json:"retry_max_delay" yaml:"retry_max_delay" env:"PROMPTLIFT_INFERENCE_RETRY_MAX" default:"5s"`
	RetryJitter      bool          `json:"retry_jitter" yaml:"retry_jitter" env:"PROMPTLIFT_INFERENCE_RETRY_JITTER" default:"true"`
	FailureThreshold int           `json:"failure_threshold" yaml:"failure_threshold" env:"PROMPTLIFT_BREAKER_THRESHOLD" default:"3"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout" yaml:"recovery_timeout" env:"PROMPTLIFT_BREAKER_RECOVERY" default:"30s"`
	HealthCacheTTL   time.Duration `json:"health_cache_ttl" yaml:"health_cache_ttl" env:"PROMPTLIFT_HEALTH_CACHE_TTL" default:"30s"`
	MaxBatchSize     int           `json:"max_batch_size" yaml:"max_batch_size" env:"PROMPTLIFT_INFERENCE_MAX_BATCH" default:"32"`
	MaxTextLen       int           `json:"max_text_len" yaml:"max_text_len" env:"PROMPTLIFT_INFERENCE_MAX_TEXT" default:"2048"`
}

// CacheConfig contains the Redis-backed cache settings.
// When RedisURL is empty the core falls back to the in-process cache.
type CacheConfig struct {
	Enabled      bool          `json:"enabled" yaml:"enabled" env:"PROMPTLIFT_CACHE_ENABLED" default:"true"`
	RedisURL     string        `json:"redis_url" yaml:"redis_url" env:"PROMPTLIFT_REDIS_URL,REDIS_URL"`
	Prefix       string        `json:"prefix" yaml:"prefix" env:"PROMPTLIFT_CACHE_PREFIX" default:"promptlift"`
	PoolSize     int           `json:"pool_size" yaml:"pool_size" env:"PROMPTLIFT_CACHE_POOL_SIZE" default:"10"`
	DialTimeout  time.Duration `json:"dial_timeout" yaml:"dial_timeout" env:"PROMPTLIFT_CACHE_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout" env:"PROMPTLIFT_CACHE_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout" env:"PROMPTLIFT_CACHE_WRITE_TIMEOUT" default:"3s"`
	DefaultTTL   time.Duration `json:"default_ttl" yaml:"default_ttl" env:"PROMPTLIFT_CACHE_DEFAULT_TTL" default:"1h"`
}

// RateLimitConfig controls the fail-open rate limiter built on the cache.
type RateLimitConfig struct {
	Enabled bool          `json:"enabled" yaml:"enabled" env:"PROMPTLIFT_RATELIMIT_ENABLED" default:"false"`
	Limit   int           `json:"limit" yaml:"limit" env:"PROMPTLIFT_RATELIMIT_LIMIT" default:"100"`
	Window  time.Duration `json:"window" yaml:"window" env:"PROMPTLIFT_RATELIMIT_WINDOW" default:"1m"`
}

// ClassifierConfig contains the hybrid intent classifier settings.
// Mode is one of "performance", "quality", "adaptive".
type ClassifierConfig struct {
	Mode              string        `json:"mode" yaml:"mode" env:"PROMPTLIFT_CLASSIFIER_MODE" default:"adaptive"`
	HighConfidence    float64       `json:"high_confidence" yaml:"high_confidence" env:"PROMPTLIFT_CLASSIFIER_HIGH_CONFIDENCE" default:"0.8"`
	LowConfidence     float64       `json:"low_confidence" yaml:"low_confidence" env:"PROMPTLIFT_CLASSIFIER_LOW_CONFIDENCE" default:"0.5"`
	MinConfidence     float64       `json:"min_confidence" yaml:"min_confidence" env:"PROMPTLIFT_CLASSIFIER_MIN_CONFIDENCE" default:"0.3"`
	CacheEnabled      bool          `json:"cache_enabled" yaml:"cache_enabled" env:"PROMPTLIFT_CLASSIFIER_CACHE" default:"true"`
	CacheTTL          time.Duration `json:"cache_ttl" yaml:"cache_ttl" env:"PROMPTLIFT_CLASSIFIER_CACHE_TTL" default:"1h"`
	PersistMLPatterns bool          `json:"persist_ml_patterns" yaml:"persist_ml_patterns" env:"PROMPTLIFT_CLASSIFIER_PERSIST_PATTERNS" default:"false"`
}

// Routing modes accepted by ClassifierConfig.Mode.
const (
	ModePerformance = "performance"
	ModeQuality     = "quality"
	ModeAdaptive    = "adaptive"
)

// EngineConfig contains technique engine settings.
type EngineConfig struct {
	DisabledTechniques []string `json:"disabled_techniques" yaml:"disabled_techniques" env:"PROMPTLIFT_DISABLED_TECHNIQUES"`
}

// OrchestratorConfig contains pipeline-level settings.
type OrchestratorConfig struct {
	CacheTTL         time.Duration `json:"cache_ttl" yaml:"cache_ttl" env:"PROMPTLIFT_ENHANCE_CACHE_TTL" default:"1h"`
	BatchConcurrency int           `json:"batch_concurrency" yaml:"batch_concurrency" env:"PROMPTLIFT_BATCH_CONCURRENCY" default:"5"`
	RequestTimeout   time.Duration `json:"request_timeout" yaml:"request_timeout" env:"PROMPTLIFT_REQUEST_TIMEOUT" default:"30s"`
}

// HistoryConfig contains the persistence adapter settings.
type HistoryConfig struct {
	Enabled         bool          `json:"enabled" yaml:"enabled" env:"PROMPTLIFT_HISTORY_ENABLED" default:"false"`
	DatabaseURL     string        `json:"database_url" yaml:"database_url" env:"PROMPTLIFT_DATABASE_URL,DATABASE_URL"`
	MinConns        int32         `json:"min_conns" yaml:"min_conns" env:"PROMPTLIFT_DB_MIN_CONNS" default:"2"`
	MaxConns        int32         `json:"max_conns" yaml:"max_conns" env:"PROMPTLIFT_DB_MAX_CONNS" default:"10"`
	MaxConnIdleTime time.Duration `json:"max_conn_idle_time" yaml:"max_conn_idle_time" env:"PROMPTLIFT_DB_MAX_IDLE" default:"5m"`
	AcquireTimeout  time.Duration `json:"acquire_timeout" yaml:"acquire_timeout" env:"PROMPTLIFT_DB_ACQUIRE_TIMEOUT" default:"5s"`
	QueryTimeout    time.Duration `json:"query_timeout" yaml:"query_timeout" env:"PROMPTLIFT_DB_QUERY_TIMEOUT" default:"10s"`
	QueueSize       int           `json:"queue_size" yaml:"queue_size" env:"PROMPTLIFT_HISTORY_QUEUE_SIZE" default:"1024"`
	DrainTimeout    time.Duration `json:"drain_timeout" yaml:"drain_timeout" env:"PROMPTLIFT_HISTORY_DRAIN_TIMEOUT" default:"10s"`
}

// TelemetryConfig contains OpenTelemetry settings.
type TelemetryConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled" env:"PROMPTLIFT_TELEMETRY_ENABLED" default:"false"`
	Endpoint string `json:"endpoint" yaml:"endpoint" env:"PROMPTLIFT_OTEL_ENDPOINT,OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level       string `json:"level" yaml:"level" env:"PROMPTLIFT_LOG_LEVEL" default:"info"`
	Format      string `json:"format" yaml:"format" env:"PROMPTLIFT_LOG_FORMAT" default:"json"`
	Development bool   `json:"development" yaml:"development" env:"PROMPTLIFT_DEV_MODE" default:"false"`
}

// Option is a functional option for configuring the core
type Option func(*Config) error

// DefaultConfig returns a Config with sensible defaults applied.
func DefaultConfig() *Config {
	return &Config{
		ServiceName: "promptlift",
		Inference: InferenceConfig{
			Enabled:          true,
			Timeout:          10 * time.Second,
			MaxRetries:       3,
			RetryBaseDelay:   200 * time.Millisecond,
			RetryMaxDelay:    5 * time.Second,
			RetryJitter:      true,
			FailureThreshold: 3,
			RecoveryTimeout:  30 * time.Second,
			HealthCacheTTL:   30 * time.Second,
			MaxBatchSize:     32,
			MaxTextLen:       2048,
		},
		Cache: CacheConfig{
			Enabled:      true,
			Prefix:       "promptlift",
			PoolSize:     10,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			DefaultTTL:   time.Hour,
		},
		RateLimit: RateLimitConfig{
			Enabled: false,
			Limit:   100,
			Window:  time.Minute,
		},
		Classifier: ClassifierConfig{
			Mode:           ModeAdaptive,
			HighConfidence: 0.8,
			LowConfidence:  0.5,
			MinConfidence:  0.3,
			CacheEnabled:   true,
			CacheTTL:       time.Hour,
		},
		Orchestrator: OrchestratorConfig{
			CacheTTL:         time.Hour,
			BatchConcurrency: 5,
			RequestTimeout:   30 * time.Second,
		},
		History: HistoryConfig{
			Enabled:         false,
			MinConns:        2,
			MaxConns:        10,
			MaxConnIdleTime: 5 * time.Minute,
			AcquireTimeout:  5 * time.Second,
			QueryTimeout:    10 * time.Second,
			QueueSize:       1024,
			DrainTimeout:    10 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Enabled: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// NewConfig creates a configuration by layering defaults, environment
// variables, and functional options, then validating the result.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env config: %w", err)
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Only variables that are set override the current values.
func (c *Config) LoadFromEnv() error {
	// Core settings
	if v := os.Getenv("PROMPTLIFT_SERVICE_NAME"); v != "" {
		c.ServiceName = v
	}

	// Inference settings
	if v := os.Getenv("PROMPTLIFT_INFERENCE_ENABLED"); v != "" {
		c.Inference.Enabled = parseBool(v)
	}
	if v := os.Getenv("PROMPTLIFT_INFERENCE_URL"); v != "" {
		c.Inference.BaseURL = v
	} else if v := os.Getenv("INFERENCE_URL"); v != "" {
		c.Inference.BaseURL = v
	}
	if v := os.Getenv("PROMPTLIFT_INFERENCE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Inference.Timeout = d
		}
	}
	if v := os.Getenv("PROMPTLIFT_INFERENCE_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Inference.MaxRetries = n
		}
	}
	if v := os.Getenv("PROMPTLIFT_BREAKER_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Inference.FailureThreshold = n
		}
	}
	if v := os.Getenv("PROMPTLIFT_BREAKER_RECOVERY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Inference.RecoveryTimeout = d
		}
	}
	if v := os.Getenv("PROMPTLIFT_INFERENCE_MAX_BATCH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Inference.MaxBatchSize = n
		}
	}

	// Cache settings
	if v := os.Getenv("PROMPTLIFT_CACHE_ENABLED"); v != "" {
		c.Cache.Enabled = parseBool(v)
	}
	if v := os.Getenv("PROMPTLIFT_REDIS_URL"); v != "" {
		c.Cache.RedisURL = v
	} else if v := os.Getenv("REDIS_URL"); v != "" {
		c.Cache.RedisURL = v
	}
	if v := os.Getenv("PROMPTLIFT_CACHE_PREFIX"); v != "" {
		c.Cache.Prefix = v
	}
	if v := os.Getenv("PROMPTLIFT_CACHE_DEFAULT_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Cache.DefaultTTL = d
		}
	}

	// Rate limit settings
	if v := os.Getenv("PROMPTLIFT_RATELIMIT_ENABLED"); v != "" {
		c.RateLimit.Enabled = parseBool(v)
	}
	if v := os.Getenv("PROMPTLIFT_RATELIMIT_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RateLimit.Limit = n
		}
	}
	if v := os.Getenv("PROMPTLIFT_RATELIMIT_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.RateLimit.Window = d
		}
	}

	// Classifier settings
	if v := os.Getenv("PROMPTLIFT_CLASSIFIER_MODE"); v != "" {
		c.Classifier.Mode = v
	}
	if v := os.Getenv("PROMPTLIFT_CLASSIFIER_HIGH_CONFIDENCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Classifier.HighConfidence = f
		}
	}
	if v := os.Getenv("PROMPTLIFT_CLASSIFIER_LOW_CONFIDENCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Classifier.LowConfidence = f
		}
	}
	if v := os.Getenv("PROMPTLIFT_CLASSIFIER_MIN_CONFIDENCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Classifier.MinConfidence = f
		}
	}
	if v := os.Getenv("PROMPTLIFT_CLASSIFIER_CACHE"); v != "" {
		c.Classifier.CacheEnabled = parseBool(v)
	}
	if v := os.Getenv("PROMPTLIFT_CLASSIFIER_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Classifier.CacheTTL = d
		}
	}

	// Engine settings
	if v := os.Getenv("PROMPTLIFT_DISABLED_TECHNIQUES"); v != "" {
		c.Engine.DisabledTechniques = parseStringList(v)
	}

	// Orchestrator settings
	if v := os.Getenv("PROMPTLIFT_ENHANCE_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Orchestrator.CacheTTL = d
		}
	}
	if v := os.Getenv("PROMPTLIFT_BATCH_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Orchestrator.BatchConcurrency = n
		}
	}
	if v := os.Getenv("PROMPTLIFT_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Orchestrator.RequestTimeout = d
		}
	}

	// History settings
	if v := os.Getenv("PROMPTLIFT_HISTORY_ENABLED"); v != "" {
		c.History.Enabled = parseBool(v)
	}
	if v := os.Getenv("PROMPTLIFT_DATABASE_URL"); v != "" {
		c.History.DatabaseURL = v
		c.History.Enabled = true // Auto-enable when a DSN is provided
	} else if v := os.Getenv("DATABASE_URL"); v != "" {
		c.History.DatabaseURL = v
		c.History.Enabled = true
	}
	if v := os.Getenv("PROMPTLIFT_DB_MAX_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.History.MaxConns = int32(n)
		}
	}
	if v := os.Getenv("PROMPTLIFT_HISTORY_QUEUE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.History.QueueSize = n
		}
	}

	// Telemetry settings
	if v := os.Getenv("PROMPTLIFT_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = parseBool(v)
	}
	if v := os.Getenv("PROMPTLIFT_OTEL_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
	} else if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
	}

	// Logging settings
	if v := os.Getenv("PROMPTLIFT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("PROMPTLIFT_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("PROMPTLIFT_DEV_MODE"); v != "" {
		c.Logging.Development = parseBool(v)
	}

	return nil
}

// LoadFromFile loads configuration from a JSON or YAML file.
// Values in the file override current values; apply options afterwards for
// per-process overrides.
func (c *Config) LoadFromFile(path string) error {
	cleanPath := filepath.Clean(path)

	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config file extension %s: %w", ext, ErrInvalidConfiguration)
	}

	if !filepath.IsAbs(cleanPath) {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		cleanPath = filepath.Join(wd, cleanPath)
	}

	data, err := os.ReadFile(filepath.Clean(cleanPath))
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", cleanPath, err)
	}

	switch ext {
	case ".json":
		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse JSON config file: %w", ErrInvalidConfiguration)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse YAML config file: %w", ErrInvalidConfiguration)
		}
	}

	return nil
}

// Validate checks if the configuration is valid and returns an error if not.
// This method is called automatically by NewConfig() but can also be called
// manually after modifying configuration.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return &PipelineError{
			Op:      "Config.Validate",
			Kind:    KindValidation,
			Message: "service name is required",
			Err:     ErrMissingConfiguration,
		}
	}

	switch c.Classifier.Mode {
	case ModePerformance, ModeQuality, ModeAdaptive:
	default:
		return &PipelineError{
			Op:      "Config.Validate",
			Kind:    KindValidation,
			Message: fmt.Sprintf("unknown classifier mode: %q", c.Classifier.Mode),
			Err:     ErrInvalidConfiguration,
		}
	}

	for _, v := range []float64{c.Classifier.HighConfidence, c.Classifier.LowConfidence, c.Classifier.MinConfidence} {
		if v < 0 || v > 1 {
			return &PipelineError{
				Op:      "Config.Validate",
				Kind:    KindValidation,
				Message: fmt.Sprintf("confidence threshold out of range: %v", v),
				Err:     ErrInvalidConfiguration,
			}
		}
	}
	if c.Classifier.LowConfidence > c.Classifier.HighConfidence {
		return &PipelineError{
			Op:      "Config.Validate",
			Kind:    KindValidation,
			Message: "low confidence threshold exceeds high confidence threshold",
			Err:     ErrInvalidConfiguration,
		}
	}

	if c.Inference.Enabled && c.Inference.BaseURL == "" {
		return &PipelineError{
			Op:      "Config.Validate",
			Kind:    KindValidation,
			Message: "inference base URL is required when inference is enabled",
			Err:     ErrMissingConfiguration,
		}
	}
	if c.Inference.MaxRetries < 1 {
		return &PipelineError{
			Op:      "Config.Validate",
			Kind:    KindValidation,
			Message: fmt.Sprintf("inference max retries must be at least 1, got %d", c.Inference.MaxRetries),
			Err:     ErrInvalidConfiguration,
		}
	}
	if c.Inference.FailureThreshold < 1 {
		return &PipelineError{
			Op:      "Config.Validate",
			Kind:    KindValidation,
			Message: fmt.Sprintf("breaker failure threshold must be at least 1, got %d", c.Inference.FailureThreshold),
			Err:     ErrInvalidConfiguration,
		}
	}

	if c.History.Enabled && c.History.DatabaseURL == "" {
		return &PipelineError{
			Op:      "Config.Validate",
			Kind:    KindValidation,
			Message: "database URL is required when history is enabled",
			Err:     ErrMissingConfiguration,
		}
	}
	if c.History.MinConns > c.History.MaxConns {
		return &PipelineError{
			Op:      "Config.Validate",
			Kind:    KindValidation,
			Message: fmt.Sprintf("history min conns %d exceeds max conns %d", c.History.MinConns, c.History.MaxConns),
			Err:     ErrInvalidConfiguration,
		}
	}

	if c.Orchestrator.BatchConcurrency < 1 {
		return &PipelineError{
			Op:      "Config.Validate",
			Kind:    KindValidation,
			Message: fmt.Sprintf("batch concurrency must be at least 1, got %d", c.Orchestrator.BatchConcurrency),
			Err:     ErrInvalidConfiguration,
		}
	}

	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return &PipelineError{
			Op:      "Config.Validate",
			Kind:    KindValidation,
			Message: "telemetry endpoint is required when telemetry is enabled",
			Err:     ErrMissingConfiguration,
		}
	}

	return nil
}

// Helper functions

// parseStringList splits a comma-separated string into a slice of strings.
// Whitespace is trimmed from each element, and empty strings are filtered out.
func parseStringList(s string) []string {
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// parseBool converts a string to a boolean value.
// Accepts: "true", "1", "yes", "on" (case-insensitive) as true.
// Everything else is false.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// Functional options

// WithServiceName sets the logical service name used in logs and telemetry.
func WithServiceName(name string) Option {
	return func(c *Config) error {
		c.ServiceName = name
		return nil
	}
}

// WithInferenceURL sets the ML inference service base URL and enables the
// inference client.
func WithInferenceURL(url string) Option {
	return func(c *Config) error {
		c.Inference.BaseURL = url
		c.Inference.Enabled = true
		return nil
	}
}

// WithInferenceDisabled turns off the ML tier; classification runs
// rules-only regardless of routing mode.
func WithInferenceDisabled() Option {
	return func(c *Config) error {
		c.Inference.Enabled = false
		return nil
	}
}

// WithRetryPolicy overrides the inference retry policy.
func WithRetryPolicy(maxRetries int, baseDelay, maxDelay time.Duration) Option {
	return func(c *Config) error {
		if maxRetries < 1 {
			return &PipelineError{
				Op:      "WithRetryPolicy",
				Kind:    KindValidation,
				Message: fmt.Sprintf("max retries must be at least 1, got %d", maxRetries),
				Err:     ErrInvalidConfiguration,
			}
		}
		c.Inference.MaxRetries = maxRetries
		c.Inference.RetryBaseDelay = baseDelay
		c.Inference.RetryMaxDelay = maxDelay
		return nil
	}
}

// WithCircuitBreaker overrides the breaker failure threshold and recovery
// timeout for the inference endpoint.
func WithCircuitBreaker(failureThreshold int, recoveryTimeout time.Duration) Option {
	return func(c *Config) error {
		if failureThreshold < 1 {
			return &PipelineError{
				Op:      "WithCircuitBreaker",
				Kind:    KindValidation,
				Message: fmt.Sprintf("failure threshold must be at least 1, got %d", failureThreshold),
				Err:     ErrInvalidConfiguration,
			}
		}
		c.Inference.FailureThreshold = failureThreshold
		c.Inference.RecoveryTimeout = recoveryTimeout
		return nil
	}
}

// WithRedisURL sets the cache backend connection URL.
func WithRedisURL(url string) Option {
	return func(c *Config) error {
		c.Cache.RedisURL = url
		c.Cache.Enabled = true
		return nil
	}
}

// WithCachePrefix sets the service-wide key prefix.
func WithCachePrefix(prefix string) Option {
	return func(c *Config) error {
		if prefix == "" {
			return &PipelineError{
				Op:      "WithCachePrefix",
				Kind:    KindValidation,
				Message: "cache prefix cannot be empty",
				Err:     ErrInvalidConfiguration,
			}
		}
		c.Cache.Prefix = prefix
		return nil
	}
}

// WithRoutingMode sets the classifier routing mode.
func WithRoutingMode(mode string) Option {
	return func(c *Config) error {
		switch mode {
		case ModePerformance, ModeQuality, ModeAdaptive:
			c.Classifier.Mode = mode
			return nil
		default:
			return &PipelineError{
				Op:      "WithRoutingMode",
				Kind:    KindValidation,
				Message: fmt.Sprintf("unknown classifier mode: %q", mode),
				Err:     ErrInvalidConfiguration,
			}
		}
	}
}

// WithConfidenceThresholds sets the classifier routing thresholds.
func WithConfidenceThresholds(high, low, min float64) Option {
	return func(c *Config) error {
		c.Classifier.HighConfidence = high
		c.Classifier.LowConfidence = low
		c.Classifier.MinConfidence = min
		return nil
	}
}

// WithDatabaseURL sets the history store DSN and enables persistence.
func WithDatabaseURL(dsn string) Option {
	return func(c *Config) error {
		c.History.DatabaseURL = dsn
		c.History.Enabled = true
		return nil
	}
}

// WithBatchConcurrency bounds how many batch items run at once.
func WithBatchConcurrency(n int) Option {
	return func(c *Config) error {
		if n < 1 {
			return &PipelineError{
				Op:      "WithBatchConcurrency",
				Kind:    KindValidation,
				Message: fmt.Sprintf("batch concurrency must be at least 1, got %d", n),
				Err:     ErrInvalidConfiguration,
			}
		}
		c.Orchestrator.BatchConcurrency = n
		return nil
	}
}

// WithRateLimit enables the fail-open rate limiter with the given budget.
func WithRateLimit(limit int, window time.Duration) Option {
	return func(c *Config) error {
		if limit < 1 {
			return &PipelineError{
				Op:      "WithRateLimit",
				Kind:    KindValidation,
				Message: fmt.Sprintf("rate limit must be at least 1, got %d", limit),
				Err:     ErrInvalidConfiguration,
			}
		}
		c.RateLimit.Enabled = true
		c.RateLimit.Limit = limit
		c.RateLimit.Window = window
		return nil
	}
}

// WithTelemetryEndpoint enables OTLP trace export to the given endpoint.
func WithTelemetryEndpoint(endpoint string) Option {
	return func(c *Config) error {
		c.Telemetry.Enabled = true
		c.Telemetry.Endpoint = endpoint
		return nil
	}
}

// WithDevelopmentMode switches logging to human-readable console output.
func WithDevelopmentMode() Option {
	return func(c *Config) error {
		c.Logging.Development = true
		c.Logging.Level = "debug"
		return nil
	}
}
