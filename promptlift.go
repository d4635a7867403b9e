// Package promptlift assembles the prompt enhancement pipeline and is the
// main entry point for embedding it. Applications that need finer control
// can import the underlying modules directly:
//   - github.com/promptlift/promptlift/core - types, config, errors
//   - github.com/promptlift/promptlift/orchestration - the pipeline
//   - github.com/promptlift/promptlift/technique - the technique engine
//   - github.com/promptlift/promptlift/telemetry - OpenTelemetry export
package promptlift

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/promptlift/promptlift/cache"
	"github.com/promptlift/promptlift/core"
	"github.com/promptlift/promptlift/history"
	"github.com/promptlift/promptlift/inference"
	"github.com/promptlift/promptlift/intent"
	"github.com/promptlift/promptlift/orchestration"
	"github.com/promptlift/promptlift/technique"
	"github.com/promptlift/promptlift/telemetry"
)

// Component status values reported by Health.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusDisabled = "disabled"
)

// HealthReport summarizes the service and its dependencies. Status is "ok"
// only when every enabled component is reachable; disabled components never
// degrade the overall status.
type HealthReport struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
}

// Service is the fully wired enhancement pipeline: classifier, technique
// engine, orchestrator, cache, rate limiter, history writer, and telemetry.
// Construct it with New, call Init before serving, Shutdown when done.
type Service struct {
	config       *core.Config
	logger       core.Logger
	zlog         *core.ZapLogger
	telemetry    core.Telemetry
	otel         *telemetry.OTelProvider
	cache        cache.Cache
	redis        *cache.RedisCache
	limiter      *cache.RateLimiter
	inference    *inference.Client
	registry     *technique.Registry
	engine       *technique.Engine
	classifier   *intent.Classifier
	store        *history.PGStore
	writer       *history.Writer
	orchestrator *orchestration.Orchestrator

	initialized  atomic.Bool
	initOnce     sync.Once
	initErr      error
	shutdownOnce sync.Once
	shutdownErr  error
}

// New builds a Service from defaults, environment variables, and the given
// options, in that order of precedence.
//
// Example:
//
//	svc, err := promptlift.New(
//	    promptlift.WithInferenceURL("http://intent-classifier:8085"),
//	    promptlift.WithRedisURL("redis://localhost:6379"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := svc.Init(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Shutdown(context.Background())
func New(opts ...core.Option) (*Service, error) {
	cfg, err := core.NewConfig(opts...)
	if err != nil {
		return nil, err
	}
	return NewFromConfig(cfg)
}

// NewFromConfig builds a Service from an already validated configuration.
// Useful when the config was loaded from a file or shared with other
// components.
func NewFromConfig(cfg *core.Config) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required: %w", core.ErrMissingConfiguration)
	}

	zlog, err := core.NewLoggerFromConfig(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	logger := core.Logger(zlog)

	var tel core.Telemetry = &core.NoOpTelemetry{}
	var otelProvider *telemetry.OTelProvider
	if cfg.Telemetry.Enabled {
		otelProvider, err = telemetry.NewOTelProvider(cfg.ServiceName, cfg.Telemetry.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("build telemetry: %w", err)
		}
		tel = otelProvider
	}

	// The cache is an accelerator, not a dependency: a Redis that is
	// configured but unreachable falls back to the in-process cache with a
	// warning instead of failing construction.
	var redisCache *cache.RedisCache
	if cfg.Cache.Enabled && cfg.Cache.RedisURL != "" {
		redisCache, err = cache.NewRedisCache(cache.RedisCacheOptions{
			RedisURL:     cfg.Cache.RedisURL,
			Prefix:       cfg.Cache.Prefix,
			PoolSize:     cfg.Cache.PoolSize,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			Logger:       logger,
		})
		if err != nil {
			logger.Warn("Redis unavailable, falling back to in-process cache", map[string]interface{}{
				"operation": "service.new",
				"error":     err,
			})
			redisCache = nil
		}
	}
	var cacheImpl cache.Cache
	switch {
	case redisCache != nil:
		cacheImpl = redisCache
	case cfg.Cache.Enabled:
		cacheImpl = cache.NewMemoryCache()
	}

	// Rate limiting needs counters shared across instances, so it only
	// engages on the Redis backend.
	var limiter *cache.RateLimiter
	if redisCache != nil && cfg.RateLimit.Enabled {
		limiter = cache.NewRateLimiter(redisCache, logger)
	}

	var infClient *inference.Client
	var ml core.Classifier
	if cfg.Inference.Enabled {
		clientOpts := inference.ClientOptions{
			Config:    &cfg.Inference,
			Logger:    logger,
			Telemetry: tel,
		}
		if cfg.Telemetry.Enabled {
			// Model service calls join the enhancement trace.
			httpClient := telemetry.NewTracedHTTPClientWithTransport(nil)
			httpClient.Timeout = cfg.Inference.Timeout
			clientOpts.HTTPClient = httpClient
		}
		infClient, err = inference.NewClient(clientOpts)
		if err != nil {
			return nil, fmt.Errorf("build inference client: %w", err)
		}
		ml = infClient
	}

	registry := technique.NewRegistry(logger)
	if err := technique.RegisterDefaults(registry, cfg.Engine.DisabledTechniques...); err != nil {
		return nil, fmt.Errorf("register techniques: %w", err)
	}
	engine, err := technique.NewEngine(technique.EngineOptions{
		Registry:  registry,
		Logger:    logger,
		Telemetry: tel,
	})
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}

	var pgStore *history.PGStore
	var writer *history.Writer
	if cfg.History.Enabled && cfg.History.DatabaseURL != "" {
		pgStore, err = history.NewPGStore(context.Background(), &cfg.History, logger)
		if err != nil {
			return nil, fmt.Errorf("build history store: %w", err)
		}
		writer = history.NewWriter(pgStore, &cfg.History, logger)
	}
	teardown := func() {
		if writer != nil {
			_ = writer.Close(context.Background())
		}
		if pgStore != nil {
			pgStore.Close()
		}
	}

	clsOpts := intent.ClassifierOptions{
		Config:    &cfg.Classifier,
		ML:        ml,
		Cache:     cacheImpl,
		Catalog:   registry,
		Logger:    logger,
		Telemetry: tel,
	}
	if writer != nil {
		clsOpts.Patterns = writer
	}
	classifier, err := intent.NewClassifier(clsOpts)
	if err != nil {
		teardown()
		return nil, fmt.Errorf("build classifier: %w", err)
	}

	orcOpts := orchestration.Options{
		Config:     &cfg.Orchestrator,
		RateLimit:  &cfg.RateLimit,
		Classifier: classifier,
		Engine:     engine,
		Cache:      cacheImpl,
		Logger:     logger,
		Telemetry:  tel,
	}
	if writer != nil {
		orcOpts.History = writer
	}
	if limiter != nil {
		orcOpts.Limiter = limiter
	}
	orch, err := orchestration.New(orcOpts)
	if err != nil {
		teardown()
		return nil, fmt.Errorf("build orchestrator: %w", err)
	}

	logger.Info("Service assembled", map[string]interface{}{
		"operation":         "service.new",
		"service":           cfg.ServiceName,
		"version":           Version,
		"classifier_mode":   cfg.Classifier.Mode,
		"cache_backend":     cacheBackend(redisCache, cacheImpl),
		"inference_enabled": cfg.Inference.Enabled,
		"history_enabled":   writer != nil,
		"telemetry_enabled": cfg.Telemetry.Enabled,
	})

	return &Service{
		config:       cfg,
		logger:       logger,
		zlog:         zlog,
		telemetry:    tel,
		otel:         otelProvider,
		cache:        cacheImpl,
		redis:        redisCache,
		limiter:      limiter,
		inference:    infClient,
		registry:     registry,
		engine:       engine,
		classifier:   classifier,
		store:        pgStore,
		writer:       writer,
		orchestrator: orch,
	}, nil
}

func cacheBackend(redis *cache.RedisCache, c cache.Cache) string {
	switch {
	case redis != nil:
		return "redis"
	case c != nil:
		return "memory"
	default:
		return "none"
	}
}

// Init prepares the service for traffic: it creates the history schema and
// primes the inference health probe. Init is idempotent; only the first
// call does work, and its result is returned to every caller.
func (s *Service) Init(ctx context.Context) error {
	s.initOnce.Do(func() {
		if s.store != nil {
			if err := s.store.Init(ctx); err != nil {
				s.initErr = fmt.Errorf("init history schema: %w", err)
				return
			}
		}

		// An unreachable model service is not fatal: classification
		// degrades to rules-only until it recovers.
		if s.inference != nil {
			if err := s.inference.Health(ctx); err != nil {
				s.logger.Warn("Inference service unreachable at startup", map[string]interface{}{
					"operation": "service.init",
					"error":     err,
				})
			}
		}

		s.initialized.Store(true)
		s.logger.Info("Service initialized", map[string]interface{}{
			"operation": "service.init",
			"service":   s.config.ServiceName,
		})
	})
	return s.initErr
}

// Shutdown drains the history queue, closes the connection pools, and
// flushes telemetry. Idempotent; the first call's result is returned to
// every caller. In-flight requests race the teardown, so stop accepting
// traffic before calling it.
func (s *Service) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.initialized.Store(false)

		var errs []error
		if s.writer != nil {
			if err := s.writer.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("history writer: %w", err))
			}
		}
		if s.store != nil {
			s.store.Close()
		}
		if s.cache != nil {
			if err := s.cache.Close(); err != nil {
				errs = append(errs, fmt.Errorf("cache: %w", err))
			}
		}
		if s.otel != nil {
			if err := s.otel.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("telemetry: %w", err))
			}
		}
		s.shutdownErr = errors.Join(errs...)

		s.logger.Info("Service shut down", map[string]interface{}{
			"operation": "service.shutdown",
			"service":   s.config.ServiceName,
			"clean":     s.shutdownErr == nil,
		})
		if s.zlog != nil {
			_ = s.zlog.Sync()
		}
	})
	return s.shutdownErr
}

func (s *Service) ready(op string) error {
	if !s.initialized.Load() {
		return &core.PipelineError{
			Op:      op,
			Kind:    core.KindUnavailable,
			Message: "service is not initialized",
			Err:     core.ErrNotInitialized,
		}
	}
	return nil
}

// Enhance runs the enhancement pipeline for a single prompt.
func (s *Service) Enhance(ctx context.Context, req *core.EnhanceRequest) (*core.EnhanceResponse, error) {
	if err := s.ready("service.enhance"); err != nil {
		return nil, err
	}
	return s.orchestrator.Enhance(ctx, req)
}

// EnhanceBatch enhances up to core.MaxBatchPrompts prompts concurrently.
// Per-item failures come back in their result slots; the returned error is
// reserved for batch-level problems.
func (s *Service) EnhanceBatch(ctx context.Context, batch *core.BatchRequest) ([]core.BatchItemResult, error) {
	if err := s.ready("service.enhance_batch"); err != nil {
		return nil, err
	}
	return s.orchestrator.EnhanceBatch(ctx, batch)
}

// Classify resolves the intent of a prompt without enhancing it.
func (s *Service) Classify(ctx context.Context, text string) (*core.IntentResult, error) {
	if err := s.ready("service.classify"); err != nil {
		return nil, err
	}
	return s.classifier.Classify(ctx, text)
}

// Health probes every enabled dependency and reports per-component status.
// It never returns an error: an unhealthy dependency is a degraded report,
// not a failure.
func (s *Service) Health(ctx context.Context) *HealthReport {
	report := &HealthReport{
		Status:     StatusOK,
		Components: make(map[string]string),
	}
	mark := func(name string, err error) {
		if err != nil {
			report.Components[name] = StatusDegraded + ": " + err.Error()
			report.Status = StatusDegraded
			return
		}
		report.Components[name] = StatusOK
	}

	switch {
	case s.redis != nil:
		mark("cache", s.redis.Ping(ctx))
	case s.cache != nil:
		report.Components["cache"] = StatusOK
	default:
		report.Components["cache"] = StatusDisabled
	}

	if s.inference != nil {
		mark("inference", s.inference.Health(ctx))
		report.Components["inference_breaker"] = s.inference.Breaker().State().String()
	} else {
		report.Components["inference"] = StatusDisabled
	}

	if s.store != nil {
		mark("history", s.store.Ping(ctx))
	} else {
		report.Components["history"] = StatusDisabled
	}

	return report
}

// Config returns the effective configuration.
func (s *Service) Config() *core.Config {
	return s.config
}

// Registry exposes the technique registry so applications can register
// custom techniques before Init.
func (s *Service) Registry() *technique.Registry {
	return s.registry
}

// Re-export common core types so most applications only import this package.
type (
	Config = core.Config
	Option = core.Option

	EnhanceRequest   = core.EnhanceRequest
	EnhanceResponse  = core.EnhanceResponse
	BatchRequest     = core.BatchRequest
	BatchItemResult  = core.BatchItemResult
	ResponseMetadata = core.ResponseMetadata

	Intent             = core.Intent
	IntentResult       = core.IntentResult
	Complexity         = core.Complexity
	EnhancementMetrics = core.EnhancementMetrics
	ErrorInfo          = core.ErrorInfo

	Logger    = core.Logger
	Telemetry = core.Telemetry
	Span      = core.Span
)

// Re-export classifier routing modes.
const (
	ModePerformance = core.ModePerformance
	ModeQuality     = core.ModeQuality
	ModeAdaptive    = core.ModeAdaptive
)

// Re-export core constructors and configuration options.
var (
	NewConfig     = core.NewConfig
	DefaultConfig = core.DefaultConfig

	WithServiceName          = core.WithServiceName
	WithInferenceURL         = core.WithInferenceURL
	WithInferenceDisabled    = core.WithInferenceDisabled
	WithRetryPolicy          = core.WithRetryPolicy
	WithCircuitBreaker       = core.WithCircuitBreaker
	WithRedisURL             = core.WithRedisURL
	WithCachePrefix          = core.WithCachePrefix
	WithRoutingMode          = core.WithRoutingMode
	WithConfidenceThresholds = core.WithConfidenceThresholds
	WithDatabaseURL          = core.WithDatabaseURL
	WithBatchConcurrency     = core.WithBatchConcurrency
	WithRateLimit            = core.WithRateLimit
	WithTelemetryEndpoint    = core.WithTelemetryEndpoint
	WithDevelopmentMode      = core.WithDevelopmentMode
)
