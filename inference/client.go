// Package inference implements the HTTP client for the intent model
// service. Every call runs through the retry policy and circuit breaker
// from the resilience package: connection and timeout failures retry with
// exponential backoff, model-side failures do not, and a tripped breaker
// fails fast without touching the network.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/promptlift/promptlift/core"
	"github.com/promptlift/promptlift/resilience"
)

const (
	classifyPath = "/v1/classify"
	batchPath    = "/v1/classify/batch"
	healthPath   = "/health"

	userAgent = "promptlift-inference/1.0"
)

// Client talks to the intent model service. It implements core.Classifier.
type Client struct {
	config      *core.InferenceConfig
	httpClient  *http.Client
	breaker     *resilience.CircuitBreaker
	retryConfig *resilience.RetryConfig
	logger      core.Logger
	telemetry   core.Telemetry

	healthMu      sync.Mutex
	healthErr     error
	healthChecked time.Time
}

// ClientOptions configures the inference client. Config is required;
// everything else defaults to no-ops.
type ClientOptions struct {
	Config     *core.InferenceConfig
	Logger     core.Logger
	Telemetry  core.Telemetry
	HTTPClient *http.Client
}

// NewClient builds a client for the model service at Config.BaseURL.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("inference config is required: %w", core.ErrMissingConfiguration)
	}
	if opts.Config.BaseURL == "" {
		return nil, fmt.Errorf("inference base URL is required: %w", core.ErrMissingConfiguration)
	}
	if opts.Logger == nil {
		opts.Logger = &core.NoOpLogger{}
	}
	if opts.Telemetry == nil {
		opts.Telemetry = &core.NoOpTelemetry{}
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Config.Timeout}
	}

	breaker, err := resilience.NewCircuitBreaker(&resilience.CircuitBreakerConfig{
		Name:             "inference",
		FailureThreshold: opts.Config.FailureThreshold,
		RecoveryTimeout:  opts.Config.RecoveryTimeout,
		Logger:           opts.Logger,
		Metrics:          resilience.NewTelemetryMetricsCollector(opts.Telemetry),
	})
	if err != nil {
		return nil, err
	}

	retryConfig := &resilience.RetryConfig{
		MaxAttempts:   opts.Config.MaxRetries,
		InitialDelay:  opts.Config.RetryBaseDelay,
		MaxDelay:      opts.Config.RetryMaxDelay,
		JitterEnabled: opts.Config.RetryJitter,
		// Only transport-level failures retry. Model-side errors and an
		// open breaker return immediately.
		Retryable: func(err error) bool {
			return errors.Is(err, core.ErrConnectionFailed) || errors.Is(err, core.ErrTimeout)
		},
	}

	opts.Logger.Info("Inference client initialized", map[string]interface{}{
		"base_url":          opts.Config.BaseURL,
		"timeout":           opts.Config.Timeout.String(),
		"max_retries":       opts.Config.MaxRetries,
		"failure_threshold": opts.Config.FailureThreshold,
		"max_batch_size":    opts.Config.MaxBatchSize,
	})

	return &Client{
		config:      opts.Config,
		httpClient:  opts.HTTPClient,
		breaker:     breaker,
		retryConfig: retryConfig,
		logger:      opts.Logger,
		telemetry:   opts.Telemetry,
	}, nil
}

// Breaker exposes the circuit breaker for health reporting.
func (c *Client) Breaker() *resilience.CircuitBreaker {
	return c.breaker
}

// Classify sends one text to the model service and returns its intent
// verdict enriched with timing and retry metadata.
func (c *Client) Classify(ctx context.Context, text string) (*core.IntentResult, error) {
	ctx, span := c.telemetry.StartSpan(ctx, "inference.classify")
	defer span.End()

	if strings.TrimSpace(text) == "" {
		err := &core.PipelineError{
			Op:      "inference.classify",
			Kind:    core.KindValidation,
			Message: "text is empty",
			Err:     core.ErrEmptyText,
		}
		span.RecordError(err)
		return nil, err
	}

	text = c.truncate(text)
	span.SetAttribute("inference.text_length", len(text))

	start := time.Now()

	var result *core.IntentResult
	attempts, err := resilience.RetryAttempts(ctx, c.retryConfig, func() error {
		return c.breaker.Execute(ctx, func() error {
			var callErr error
			result, callErr = c.doClassify(ctx, text)
			return callErr
		})
	})
	if err != nil {
		c.logger.Error("Intent classification failed", map[string]interface{}{
			"operation": "inference_classify",
			"attempts":  attempts,
			"error":     err,
		})
		span.RecordError(err)
		return nil, err
	}

	c.enrich(result, start, attempts)

	span.SetAttribute("inference.intent", string(result.Intent))
	span.SetAttribute("inference.confidence", result.Confidence)
	span.SetAttribute("inference.attempts", attempts)

	c.logger.Debug("Intent classified", map[string]interface{}{
		"operation":   "inference_classify",
		"intent":      result.Intent,
		"confidence":  result.Confidence,
		"attempts":    attempts,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	return result, nil
}

// BatchClassify sends up to MaxBatchSize texts in one network call. Excess
// texts are dropped and every returned result carries a truncation warning.
// The whole batch counts as a single outcome for the circuit breaker.
func (c *Client) BatchClassify(ctx context.Context, texts []string) ([]core.IntentResult, error) {
	ctx, span := c.telemetry.StartSpan(ctx, "inference.batch_classify")
	defer span.End()

	if len(texts) == 0 {
		err := &core.PipelineError{
			Op:      "inference.batch_classify",
			Kind:    core.KindValidation,
			Message: "no texts provided",
			Err:     core.ErrInvalidInput,
		}
		span.RecordError(err)
		return nil, err
	}
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			err := &core.PipelineError{
				Op:      "inference.batch_classify",
				Kind:    core.KindValidation,
				Message: fmt.Sprintf("text %d is empty", i),
				Err:     core.ErrEmptyText,
			}
			span.RecordError(err)
			return nil, err
		}
	}

	truncated := false
	if len(texts) > c.config.MaxBatchSize {
		c.logger.Warn("Batch exceeds limit, truncating", map[string]interface{}{
			"operation":  "inference_batch",
			"batch_size": len(texts),
			"max_size":   c.config.MaxBatchSize,
		})
		texts = texts[:c.config.MaxBatchSize]
		truncated = true
	}

	sendTexts := make([]string, len(texts))
	for i, text := range texts {
		sendTexts[i] = c.truncate(text)
	}

	span.SetAttribute("inference.batch_size", len(sendTexts))
	start := time.Now()

	var results []core.IntentResult
	attempts, err := resilience.RetryAttempts(ctx, c.retryConfig, func() error {
		return c.breaker.Execute(ctx, func() error {
			var callErr error
			results, callErr = c.doBatchClassify(ctx, sendTexts)
			return callErr
		})
	})
	if err != nil {
		c.logger.Error("Batch classification failed", map[string]interface{}{
			"operation":  "inference_batch",
			"batch_size": len(sendTexts),
			"attempts":   attempts,
			"error":      err,
		})
		span.RecordError(err)
		return nil, err
	}

	for i := range results {
		c.enrich(&results[i], start, attempts)
		if truncated {
			results[i].Warnings = append(results[i].Warnings, core.WarningBatchTruncated)
		}
	}

	return results, nil
}

// Health reports model service readiness, serving a cached verdict for up
// to HealthCacheTTL so concurrent health checks do not flood the service.
func (c *Client) Health(ctx context.Context) error {
	c.healthMu.Lock()
	defer c.healthMu.Unlock()

	if !c.healthChecked.IsZero() && time.Since(c.healthChecked) < c.config.HealthCacheTTL {
		return c.healthErr
	}
	return c.probeLocked(ctx)
}

// HealthNow probes the service immediately, bypassing and resetting the
// cached verdict.
func (c *Client) HealthNow(ctx context.Context) error {
	c.healthMu.Lock()
	defer c.healthMu.Unlock()
	return c.probeLocked(ctx)
}

func (c *Client) probeLocked(ctx context.Context) error {
	err := c.doHealth(ctx)
	c.healthErr = err
	c.healthChecked = time.Now()
	return err
}

func (c *Client) doHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+healthPath, nil)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.mapTransportError("inference.health", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &core.PipelineError{
			Op:      "inference.health",
			Kind:    core.KindUnavailable,
			Message: fmt.Sprintf("model service not ready (status %d)", resp.StatusCode),
			Err:     core.ErrServiceUnavailable,
		}
	}
	return nil
}

func (c *Client) doClassify(ctx context.Context, text string) (*core.IntentResult, error) {
	body, err := c.post(ctx, "inference.classify", classifyPath, classifyRequest{Text: text})
	if err != nil {
		return nil, err
	}

	var wire wireIntentResult
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, c.malformedBody("inference.classify", err)
	}

	result := wire.toIntentResult()
	return &result, nil
}

func (c *Client) doBatchClassify(ctx context.Context, texts []string) ([]core.IntentResult, error) {
	body, err := c.post(ctx, "inference.batch_classify", batchPath, batchClassifyRequest{Texts: texts})
	if err != nil {
		return nil, err
	}

	var wire batchClassifyResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, c.malformedBody("inference.batch_classify", err)
	}
	if len(wire.Results) != len(texts) {
		return nil, &core.PipelineError{
			Op:      "inference.batch_classify",
			Kind:    core.KindInference,
			Message: fmt.Sprintf("model returned %d results for %d texts", len(wire.Results), len(texts)),
			Err:     core.ErrInferenceFailed,
		}
	}

	results := make([]core.IntentResult, len(wire.Results))
	for i, w := range wire.Results {
		results[i] = w.toIntentResult()
	}
	return results, nil
}

// post executes one JSON request/response exchange and maps failures into
// the pipeline taxonomy.
func (c *Client) post(ctx context.Context, op, path string, payload interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		c.logRequestError(op, "request_preparation", err)
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		c.logRequestError(op, "request_creation", err)
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logRequestError(op, "request_execution", err)
		return nil, c.mapTransportError(op, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logRequestError(op, "response_read", err)
		return nil, c.mapTransportError(op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Error("Model service returned error", map[string]interface{}{
			"operation":   op,
			"status_code": resp.StatusCode,
			"phase":       "api_response",
		})
		return nil, c.handleStatus(op, resp.StatusCode, body)
	}

	return body, nil
}

func (c *Client) logRequestError(op, phase string, err error) {
	c.logger.Error("Model service request failed", map[string]interface{}{
		"operation": op,
		"phase":     phase,
		"error":     err,
	})
}

// mapTransportError sorts a transport failure into the taxonomy: deadline
// and net timeouts are TimeoutError, cancellation passes through, and
// everything else is ConnectError.
func (c *Client) mapTransportError(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &core.PipelineError{
			Op:      op,
			Kind:    core.KindTimeout,
			Message: "model service did not respond in time",
			Err:     core.ErrTimeout,
		}
	}

	return &core.PipelineError{
		Op:      op,
		Kind:    core.KindUnavailable,
		Message: "cannot reach model service",
		Err:     core.ErrConnectionFailed,
	}
}

// handleStatus maps a non-2xx response to an inference error. The status
// shapes the message only; none of these retry.
func (c *Client) handleStatus(op string, statusCode int, body []byte) error {
	var message string
	switch statusCode {
	case http.StatusTooManyRequests:
		message = "model service rate limit exceeded"
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		message = fmt.Sprintf("model service unavailable (status %d)", statusCode)
	default:
		message = fmt.Sprintf("model service error (status %d): %s", statusCode, truncateForLog(string(body), 200))
	}

	return &core.PipelineError{
		Op:      op,
		Kind:    core.KindInference,
		Message: message,
		Err:     core.ErrInferenceFailed,
	}
}

func (c *Client) malformedBody(op string, err error) error {
	c.logRequestError(op, "response_parse", err)
	return &core.PipelineError{
		Op:      op,
		Kind:    core.KindInference,
		Message: "malformed model response",
		Err:     core.ErrInferenceFailed,
	}
}

// truncate caps text at MaxTextLen runes.
func (c *Client) truncate(text string) string {
	if c.config.MaxTextLen <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= c.config.MaxTextLen {
		return text
	}
	return string(runes[:c.config.MaxTextLen])
}

// enrich fills the timing and retry metadata on a decoded result. The
// model's self-reported inference time wins when present.
func (c *Client) enrich(result *core.IntentResult, start time.Time, attempts int) {
	if result.InferenceTimeMs == 0 {
		result.InferenceTimeMs = time.Since(start).Milliseconds()
	}
	result.RetryAttempts = attempts - 1
	result.Source = core.SourceML
}

func truncateForLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
