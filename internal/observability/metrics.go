package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects runtime counters for turns, tool executions and
// scheduler fires.
type Metrics struct {
	// TurnCounter counts agent turns by session outcome.
	// Labels: status (success|error)
	TurnCounter *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// SchedulerFireCounter counts scheduled job fires.
	// Labels: mode (reminder|agent)
	SchedulerFireCounter *prometheus.CounterVec

	// ProviderRequestCounter counts provider calls.
	// Labels: provider, status (success|error)
	ProviderRequestCounter *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns the process-wide metrics, registering them with the
// default Prometheus registry on first use.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = &Metrics{
			TurnCounter: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "crabclaw_turns_total",
					Help: "Total number of agent turns by outcome",
				},
				[]string{"status"},
			),
			ToolExecutionCounter: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "crabclaw_tool_executions_total",
					Help: "Total number of tool executions by tool and outcome",
				},
				[]string{"tool_name", "status"},
			),
			SchedulerFireCounter: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "crabclaw_scheduler_fires_total",
					Help: "Total number of scheduled job fires by mode",
				},
				[]string{"mode"},
			),
			ProviderRequestCounter: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "crabclaw_provider_requests_total",
					Help: "Total number of provider requests by outcome",
				},
				[]string{"provider", "status"},
			),
		}
	})
	return defaultMetrics
}

// RecordTurn increments the turn counter.
func (m *Metrics) RecordTurn(err error) {
	m.TurnCounter.WithLabelValues(status(err)).Inc()
}

// RecordToolExecution increments the tool execution counter.
func (m *Metrics) RecordToolExecution(name string, isError bool) {
	s := "success"
	if isError {
		s = "error"
	}
	m.ToolExecutionCounter.WithLabelValues(name, s).Inc()
}

// RecordSchedulerFire increments the scheduler fire counter.
func (m *Metrics) RecordSchedulerFire(mode string) {
	m.SchedulerFireCounter.WithLabelValues(mode).Inc()
}

// RecordProviderRequest increments the provider request counter.
func (m *Metrics) RecordProviderRequest(provider string, err error) {
	m.ProviderRequestCounter.WithLabelValues(provider, status(err)).Inc()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
