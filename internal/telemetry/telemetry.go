package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Telemetry exposes pipeline metrics through a prometheus registry. One
// instance is shared by the orchestrator, collector and scheduler.
type Telemetry struct {
	registry *prometheus.Registry

	StageAttempts  *prometheus.CounterVec
	StageFailures  *prometheus.CounterVec
	StageDuration  *prometheus.HistogramVec
	ItemsSubmitted prometheus.Counter
	ItemsPublished prometheus.Counter
	ItemsFailed    prometheus.Counter
	ProviderCalls  *prometheus.CounterVec
	PublishRetries prometheus.Counter
}

var (
	defaultOnce sync.Once
	defaultTele *Telemetry
)

// New creates a Telemetry instance backed by its own registry.
func New() *Telemetry {
	t := &Telemetry{
		registry: prometheus.NewRegistry(),
		StageAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autopress_stage_attempts_total",
			Help: "Stage executions, including retries.",
		}, []string{"stage"}),
		StageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autopress_stage_failures_total",
			Help: "Stage attempts that returned an error.",
		}, []string{"stage"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "autopress_stage_duration_seconds",
			Help:    "Wall time per stage attempt.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"stage"}),
		ItemsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autopress_work_items_submitted_total",
			Help: "Work items accepted by the orchestrator.",
		}),
		ItemsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autopress_work_items_published_total",
			Help: "Work items that reached the published state.",
		}),
		ItemsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autopress_work_items_failed_total",
			Help: "Work items that ended terminally failed.",
		}),
		ProviderCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autopress_search_provider_calls_total",
			Help: "Search provider invocations by provider and outcome.",
		}, []string{"provider", "outcome"}),
		PublishRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autopress_publish_retries_total",
			Help: "Publish calls retried after a transient failure.",
		}),
	}
	t.registry.MustRegister(
		t.StageAttempts, t.StageFailures, t.StageDuration,
		t.ItemsSubmitted, t.ItemsPublished, t.ItemsFailed,
		t.ProviderCalls, t.PublishRetries,
	)
	return t
}

// Default returns a process-wide Telemetry for callers that do not inject one.
func Default() *Telemetry {
	defaultOnce.Do(func() { defaultTele = New() })
	return defaultTele
}

// Registry exposes the underlying registry for the /metrics handler.
func (t *Telemetry) Registry() *prometheus.Registry {
	return t.registry
}
