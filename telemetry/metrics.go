// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	EventsPublished      *prometheus.CounterVec // by hub channel
	EventsDropped        *prometheus.CounterVec // by hub channel (slow subscriber)
	MessagesNormalized   *prometheus.CounterVec // by platform
	SendsEnqueued        *prometheus.CounterVec // by platform
	SendFailures         *prometheus.CounterVec // by platform
	ModerationDispatches *prometheus.CounterVec // by action, outcome
	ReaperSweeps         prometheus.Counter
	ReaperReapplied      prometheus.Counter
	ReaperCompleted      prometheus.Counter

	// Histograms (seconds)
	DispatchDuration prometheus.Observer
	SweepDuration    prometheus.Observer

	// Gauges
	SubscriberGauge *prometheus.GaugeVec // by hub channel
	ConnectorState  *prometheus.GaugeVec // by platform (numeric state)
	SendQueueDepth  *prometheus.GaugeVec // by platform
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{Name: "hub_events_published_total", Help: "Events published per hub channel"}, []string{"channel"})
		EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{Name: "hub_events_dropped_total", Help: "Events dropped for slow subscribers per hub channel"}, []string{"channel"})
		MessagesNormalized = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chat_messages_normalized_total", Help: "Chat messages normalized per platform"}, []string{"platform"})
		SendsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chat_sends_enqueued_total", Help: "Outbound chat messages enqueued per platform"}, []string{"platform"})
		SendFailures = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chat_send_failures_total", Help: "Outbound chat send failures per platform"}, []string{"platform"})
		ModerationDispatches = promauto.NewCounterVec(prometheus.CounterOpts{Name: "moderation_dispatches_total", Help: "Moderation dispatches by action and outcome"}, []string{"action", "outcome"})
		ReaperSweeps = promauto.NewCounter(prometheus.CounterOpts{Name: "timeout_reaper_sweeps_total", Help: "Timeout reaper sweep cycles"})
		ReaperReapplied = promauto.NewCounter(prometheus.CounterOpts{Name: "timeout_reaper_reapplied_total", Help: "Timeouts reapplied by the reaper"})
		ReaperCompleted = promauto.NewCounter(prometheus.CounterOpts{Name: "timeout_reaper_completed_total", Help: "Timeouts transitioned to completed by the reaper"})
		DispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "moderation_dispatch_duration_seconds", Help: "Moderation dispatch duration seconds", Buckets: prometheus.DefBuckets})
		SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "timeout_reaper_sweep_duration_seconds", Help: "Reaper sweep duration seconds", Buckets: prometheus.DefBuckets})
		SubscriberGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "hub_subscribers", Help: "Current subscribers per hub channel"}, []string{"channel"})
		ConnectorState = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "connector_state", Help: "Connector state (0=disconnected 1=connecting 2=connected 3=reconnecting 4=stopped)"}, []string{"platform"})
		SendQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "send_queue_depth", Help: "Pending outbound messages per platform"}, []string{"platform"})
	})
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
