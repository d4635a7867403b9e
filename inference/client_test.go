package inference

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/promptlift/promptlift/core"
	"github.com/promptlift/promptlift/resilience"
)

func testInferenceConfig(baseURL string) *core.InferenceConfig {
	return &core.InferenceConfig{
		Enabled:          true,
		BaseURL:          baseURL,
		Timeout:          2 * time.Second,
		MaxRetries:       3,
		RetryBaseDelay:   time.Millisecond,
		RetryMaxDelay:    5 * time.Millisecond,
		FailureThreshold: 3,
		RecoveryTimeout:  time.Minute,
		HealthCacheTTL:   time.Minute,
		MaxBatchSize:     32,
		MaxTextLen:       2048,
	}
}

func newTestClient(t *testing.T, handler http.Handler, mutate func(*core.InferenceConfig)) (*Client, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	config := testInferenceConfig(server.URL)
	if mutate != nil {
		mutate(config)
	}

	client, err := NewClient(ClientOptions{Config: config})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client, server
}

func writeWireResult(w http.ResponseWriter, intent string, confidence float64) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"intent":     intent,
		"confidence": confidence,
		"complexity": map[string]interface{}{"level": "moderate", "score": 0.55},
		"techniques": []map[string]interface{}{
			{"name": "chain_of_thought", "score": 0.9},
			{"name": "few_shot"},
		},
		"metadata": map[string]interface{}{
			"model_version":     "intent-v2.1",
			"inference_time_ms": 17,
		},
	})
}

func TestClassifySuccess(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != classifyPath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req classifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if req.Text != "write a sorting function" {
			t.Errorf("unexpected text %q", req.Text)
		}
		writeWireResult(w, "code_generation", 0.93)
	})

	client, _ := newTestClient(t, handler, nil)

	result, err := client.Classify(context.Background(), "write a sorting function")
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}

	if result.Intent != core.IntentCodeGeneration {
		t.Errorf("intent = %s, want code_generation", result.Intent)
	}
	if result.Confidence != 0.93 {
		t.Errorf("confidence = %f, want 0.93", result.Confidence)
	}
	if result.Complexity.Level != core.ComplexityModerate {
		t.Errorf("complexity = %s, want moderate", result.Complexity.Level)
	}
	if result.ModelVersion != "intent-v2.1" {
		t.Errorf("model_version = %s", result.ModelVersion)
	}
	if result.InferenceTimeMs != 17 {
		t.Errorf("inference_time_ms = %d, want model-reported 17", result.InferenceTimeMs)
	}
	if result.RetryAttempts != 0 {
		t.Errorf("retry_attempts = %d, want 0", result.RetryAttempts)
	}
	if result.Source != core.SourceML {
		t.Errorf("source = %s, want ml", result.Source)
	}
	if len(result.SuggestedTechniques) != 2 || result.SuggestedTechniques[0] != "chain_of_thought" {
		t.Errorf("suggested techniques = %v", result.SuggestedTechniques)
	}
}

func TestClassifyEmptyText(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeWireResult(w, "question_answering", 0.9)
	})

	client, _ := newTestClient(t, handler, nil)

	_, err := client.Classify(context.Background(), "   ")
	if !errors.Is(err, core.ErrEmptyText) {
		t.Errorf("expected ErrEmptyText, got %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("validation failure must not reach the network, got %d calls", calls.Load())
	}
}

func TestClassifyTruncatesLongText(t *testing.T) {
	var received string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req classifyRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		received = req.Text
		writeWireResult(w, "summarization", 0.8)
	})

	client, _ := newTestClient(t, handler, func(c *core.InferenceConfig) {
		c.MaxTextLen = 10
	})

	long := "this text is longer than ten characters"
	if _, err := client.Classify(context.Background(), long); err != nil {
		t.Fatalf("Classify failed: %v", err)
	}

	if len([]rune(received)) != 10 {
		t.Errorf("sent %d runes, want 10", len([]rune(received)))
	}
	if received != long[:10] {
		t.Errorf("sent %q, want prefix of original", received)
	}
}

func TestClassifyRetriesConnectionFailures(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n <= 2 {
			// Drop the connection mid-request to simulate transport failure.
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Fatal("server does not support hijacking")
			}
			conn, _, err := hj.Hijack()
			if err != nil {
				t.Fatalf("hijack failed: %v", err)
			}
			_ = conn.Close()
			return
		}
		writeWireResult(w, "reasoning", 0.88)
	})

	client, _ := newTestClient(t, handler, nil)

	result, err := client.Classify(context.Background(), "why is the sky blue")
	if err != nil {
		t.Fatalf("Classify failed after retries: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3 (two failures + success)", calls.Load())
	}
	if result.RetryAttempts != 2 {
		t.Errorf("retry_attempts = %d, want 2", result.RetryAttempts)
	}
}

func TestClassifyTimeoutMapping(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		writeWireResult(w, "reasoning", 0.9)
	})

	client, _ := newTestClient(t, handler, func(c *core.InferenceConfig) {
		c.Timeout = 20 * time.Millisecond
		c.MaxRetries = 1
	})

	_, err := client.Classify(context.Background(), "slow request")
	if !errors.Is(err, core.ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

func TestClassifyServerErrorDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "model exploded", http.StatusInternalServerError)
	})

	client, _ := newTestClient(t, handler, nil)

	_, err := client.Classify(context.Background(), "anything")
	if !errors.Is(err, core.ErrInferenceFailed) {
		t.Errorf("expected ErrInferenceFailed, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (inference errors are not retryable)", calls.Load())
	}
}

func TestClassifyMalformedBody(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("this is not json"))
	})

	client, _ := newTestClient(t, handler, nil)

	_, err := client.Classify(context.Background(), "anything")
	if !errors.Is(err, core.ErrInferenceFailed) {
		t.Errorf("expected ErrInferenceFailed for malformed body, got %v", err)
	}
}

func TestClassifyCircuitBreakerFailsFast(t *testing.T) {
	var calls atomic.Int32
	var healthy atomic.Bool
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if healthy.Load() {
			writeWireResult(w, "conversation", 0.8)
			return
		}
		http.Error(w, "down", http.StatusServiceUnavailable)
	})

	client, _ := newTestClient(t, handler, func(c *core.InferenceConfig) {
		c.FailureThreshold = 3
		c.RecoveryTimeout = 30 * time.Millisecond
	})

	ctx := context.Background()

	// Three model-side failures open the breaker.
	for i := 0; i < 3; i++ {
		if _, err := client.Classify(ctx, "text"); err == nil {
			t.Fatal("expected failure")
		}
	}
	if client.Breaker().State() != resilience.StateOpen {
		t.Fatalf("breaker state = %v, want open", client.Breaker().State())
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}

	// While open: fail fast, no network.
	start := time.Now()
	_, err := client.Classify(ctx, "text")
	if !errors.Is(err, core.ErrCircuitBreakerOpen) {
		t.Errorf("expected ErrCircuitBreakerOpen, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("open breaker made a network call (calls = %d)", calls.Load())
	}
	if elapsed := time.Since(start); elapsed > 5*time.Millisecond {
		t.Errorf("fail-fast took %v", elapsed)
	}

	// After recovery the single trial call goes through and closes the
	// breaker on success.
	healthy.Store(true)
	time.Sleep(40 * time.Millisecond)

	result, err := client.Classify(ctx, "text")
	if err != nil {
		t.Fatalf("trial call failed: %v", err)
	}
	if result.Intent != core.IntentConversation {
		t.Errorf("intent = %s", result.Intent)
	}
	if client.Breaker().State() != resilience.StateClosed {
		t.Errorf("breaker state = %v after successful trial, want closed", client.Breaker().State())
	}
}

func TestBatchClassify(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != batchPath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req batchClassifyRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		results := make([]map[string]interface{}, len(req.Texts))
		for i := range req.Texts {
			results[i] = map[string]interface{}{
				"intent":     "summarization",
				"confidence": 0.7,
				"complexity": map[string]interface{}{"level": "simple", "score": 0.2},
				"metadata":   map[string]interface{}{"model_version": "intent-v2.1"},
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"results": results})
	})

	client, _ := newTestClient(t, handler, nil)

	results, err := client.BatchClassify(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("BatchClassify failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i, r := range results {
		if r.Intent != core.IntentSummarization {
			t.Errorf("result %d intent = %s", i, r.Intent)
		}
		if len(r.Warnings) != 0 {
			t.Errorf("result %d has unexpected warnings %v", i, r.Warnings)
		}
	}
}

func TestBatchClassifyTruncation(t *testing.T) {
	var receivedCount int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req batchClassifyRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		receivedCount = len(req.Texts)

		results := make([]map[string]interface{}, len(req.Texts))
		for i := range req.Texts {
			results[i] = map[string]interface{}{
				"intent":     "conversation",
				"confidence": 0.6,
				"complexity": map[string]interface{}{"level": "simple", "score": 0.1},
				"metadata":   map[string]interface{}{},
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"results": results})
	})

	client, _ := newTestClient(t, handler, func(c *core.InferenceConfig) {
		c.MaxBatchSize = 2
	})

	results, err := client.BatchClassify(context.Background(), []string{"a", "b", "c", "d"})
	if err != nil {
		t.Fatalf("BatchClassify failed: %v", err)
	}

	if receivedCount != 2 {
		t.Errorf("server received %d texts, want 2", receivedCount)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for i, r := range results {
		found := false
		for _, warning := range r.Warnings {
			if warning == core.WarningBatchTruncated {
				found = true
			}
		}
		if !found {
			t.Errorf("result %d missing truncation warning", i)
		}
	}
}

func TestBatchClassifyCountMismatch(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []map[string]interface{}{},
		})
	})

	client, _ := newTestClient(t, handler, nil)

	_, err := client.BatchClassify(context.Background(), []string{"a", "b"})
	if !errors.Is(err, core.ErrInferenceFailed) {
		t.Errorf("expected ErrInferenceFailed on count mismatch, got %v", err)
	}
}

func TestBatchClassifyEmptyInput(t *testing.T) {
	client, _ := newTestClient(t, http.NotFoundHandler(), nil)

	_, err := client.BatchClassify(context.Background(), nil)
	if !errors.Is(err, core.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}

	_, err = client.BatchClassify(context.Background(), []string{"ok", ""})
	if !errors.Is(err, core.ErrEmptyText) {
		t.Errorf("expected ErrEmptyText, got %v", err)
	}
}

func TestHealthCaching(t *testing.T) {
	var probes atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != healthPath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		probes.Add(1)
		w.WriteHeader(http.StatusOK)
	})

	client, _ := newTestClient(t, handler, nil)
	ctx := context.Background()

	if err := client.Health(ctx); err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if err := client.Health(ctx); err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if probes.Load() != 1 {
		t.Errorf("probes = %d, want 1 (second call served from cache)", probes.Load())
	}

	if err := client.HealthNow(ctx); err != nil {
		t.Fatalf("HealthNow failed: %v", err)
	}
	if probes.Load() != 2 {
		t.Errorf("probes = %d, want 2 (HealthNow bypasses cache)", probes.Load())
	}
}

func TestHealthUnavailable(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "warming up", http.StatusServiceUnavailable)
	})

	client, _ := newTestClient(t, handler, nil)

	err := client.Health(context.Background())
	if !errors.Is(err, core.ErrServiceUnavailable) {
		t.Errorf("expected ErrServiceUnavailable, got %v", err)
	}
}

func TestWireUnknownIntentCollapses(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeWireResult(w, "galactic_poetry", 0.99)
	})

	client, _ := newTestClient(t, handler, nil)

	result, err := client.Classify(context.Background(), "anything")
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if result.Intent != core.IntentQuestionAnswering {
		t.Errorf("unknown label should collapse to question_answering, got %s", result.Intent)
	}
	if result.Confidence != 0 {
		t.Errorf("confidence should be zeroed for unknown label, got %f", result.Confidence)
	}
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(ClientOptions{})
	if !errors.Is(err, core.ErrMissingConfiguration) {
		t.Errorf("expected ErrMissingConfiguration for nil config, got %v", err)
	}

	_, err = NewClient(ClientOptions{Config: &core.InferenceConfig{}})
	if !errors.Is(err, core.ErrMissingConfiguration) {
		t.Errorf("expected ErrMissingConfiguration for empty URL, got %v", err)
	}
}
