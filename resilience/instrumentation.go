package resilience

import (
	"github.com/promptlift/promptlift/core"
)

// TelemetryMetricsCollector implements MetricsCollector on top of the
// core.Telemetry metric sink, so breaker activity shows up alongside the
// rest of the pipeline's metrics.
type TelemetryMetricsCollector struct {
	telemetry core.Telemetry
}

// NewTelemetryMetricsCollector wraps a telemetry provider. A nil provider
// yields a collector that drops everything.
func NewTelemetryMetricsCollector(t core.Telemetry) *TelemetryMetricsCollector {
	if t == nil {
		t = &core.NoOpTelemetry{}
	}
	return &TelemetryMetricsCollector{telemetry: t}
}

func (c *TelemetryMetricsCollector) RecordSuccess(name string) {
	c.telemetry.RecordMetric("circuit_breaker.success", 1, map[string]string{
		"circuit_breaker": name,
	})
}

func (c *TelemetryMetricsCollector) RecordFailure(name string, errorType string) {
	c.telemetry.RecordMetric("circuit_breaker.failure", 1, map[string]string{
		"circuit_breaker": name,
		"error_type":      errorType,
	})
}

func (c *TelemetryMetricsCollector) RecordStateChange(name string, from, to string) {
	c.telemetry.RecordMetric("circuit_breaker.state_change", 1, map[string]string{
		"circuit_breaker": name,
		"from_state":      from,
		"to_state":        to,
	})

	// Gauge encoding: closed=0, open=1, half-open=0.5.
	stateValue := 0.0
	switch to {
	case "open":
		stateValue = 1.0
	case "half-open":
		stateValue = 0.5
	}
	c.telemetry.RecordMetric("circuit_breaker.state", stateValue, map[string]string{
		"circuit_breaker": name,
	})
}

func (c *TelemetryMetricsCollector) RecordRejection(name string) {
	c.telemetry.RecordMetric("circuit_breaker.rejection", 1, map[string]string{
		"circuit_breaker": name,
	})
}
