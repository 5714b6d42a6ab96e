package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/example/agentcoach/internal/events"
	"github.com/example/agentcoach/internal/scheduler"
)

// Metrics holds the Prometheus metrics of the training engine. It is an
// event handler, a fallback recorder and a tick observer at once.
type Metrics struct {
	// Event metrics
	EventsTotal   *prometheus.CounterVec
	AttemptScores prometheus.Histogram

	// Provider metrics
	FallbacksTotal *prometheus.CounterVec

	// Scheduler metrics
	TicksTotal        *prometheus.CounterVec
	TickDuration      prometheus.Histogram
	SessionsProcessed prometheus.Counter
	SessionFailures   prometheus.Counter
	ActiveSessions    prometheus.Gauge
}

// New creates the metrics and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcoach_events_total",
				Help: "Total number of training events by type",
			},
			[]string{"type"},
		),
		AttemptScores: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agentcoach_attempt_score",
				Help:    "Scores of graded test attempts",
				Buckets: prometheus.LinearBuckets(10, 10, 10), // 10 to 100
			},
		),
		FallbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcoach_llm_fallbacks_total",
				Help: "Total number of times the deterministic fallback replaced the model",
			},
			[]string{"operation"},
		),
		TicksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcoach_scheduler_ticks_total",
				Help: "Total number of scheduler ticks",
			},
			[]string{"result"},
		),
		TickDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agentcoach_scheduler_tick_duration_seconds",
				Help:    "Duration of scheduler ticks in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 8), // 10ms to ~164s
			},
		),
		SessionsProcessed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "agentcoach_sessions_processed_total",
				Help: "Total number of phase windows processed",
			},
		),
		SessionFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "agentcoach_session_failures_total",
				Help: "Total number of sessions that failed to process in a tick",
			},
		),
		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentcoach_active_sessions",
				Help: "In-progress sessions seen by the last tick",
			},
		),
	}
}

// HandleEvent counts events and records attempt scores
func (m *Metrics) HandleEvent(ctx context.Context, event events.Event) error {
	m.EventsTotal.WithLabelValues(string(event.Type)).Inc()
	if event.Type != events.TestCompleted {
		return nil
	}
	switch score := event.Data["score"].(type) {
	case int:
		m.AttemptScores.Observe(float64(score))
	case float64:
		m.AttemptScores.Observe(score)
	default:
		return fmt.Errorf("test_completed event %s has no numeric score", event.ID)
	}
	return nil
}

// RecordFallback counts a degraded model call
func (m *Metrics) RecordFallback(operation string) {
	m.FallbacksTotal.WithLabelValues(operation).Inc()
}

// ObserveTick records a scheduler tick
func (m *Metrics) ObserveTick(report scheduler.TickReport) {
	if report.Skipped {
		m.TicksTotal.WithLabelValues("skipped").Inc()
		return
	}
	m.TicksTotal.WithLabelValues("completed").Inc()
	m.TickDuration.Observe(report.Duration.Seconds())
	m.SessionsProcessed.Add(float64(report.Processed))
	m.SessionFailures.Add(float64(report.Failed))
	m.ActiveSessions.Set(float64(report.Sessions))
}
