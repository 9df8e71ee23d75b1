package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	metricPrefix = "routewatch_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	schedulerTicks    *prometheus.CounterVec
	schedulerSkipped  *prometheus.CounterVec
	schedulerDuration *prometheus.HistogramVec

	alertEventsTotal    *prometheus.CounterVec
	alertPersistFailure *prometheus.CounterVec
	staleBatches        *prometheus.CounterVec

	hubSubscribers prometheus.Gauge
	hubEvents      *prometheus.CounterVec
	hubDropped     prometheus.Counter

	relayDeliveries *prometheus.CounterVec

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *zap.Logger) {
	registerOnce.Do(func() {
		schedulerTicks = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "scheduler_ticks_total",
				Help: "Total agent ticks by outcome",
			},
			[]string{"agent", "outcome"},
		)
		schedulerSkipped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "scheduler_ticks_skipped_total",
				Help: "Ticks skipped because the previous evaluation was still running",
			},
			[]string{"agent"},
		)
		schedulerDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "scheduler_tick_duration_seconds",
				Help:    "Agent tick duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"agent", "outcome"},
		)

		alertEventsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_events_total",
				Help: "Total alert lifecycle events by type",
			},
			[]string{"event"},
		)
		alertPersistFailure = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_persist_failures_total",
				Help: "Alert writes that failed and were isolated",
			},
			[]string{"agent"},
		)
		staleBatches = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_stale_batches_total",
				Help: "Batches rejected because a newer generation was already applied",
			},
			[]string{"agent"},
		)

		hubSubscribers = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "hub_subscribers",
				Help: "Live broadcast subscribers",
			},
		)
		hubEvents = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "hub_events_published_total",
				Help: "Broadcast events by kind",
			},
			[]string{"kind"},
		)
		hubDropped = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "hub_subscribers_dropped_total",
				Help: "Subscribers dropped for falling behind",
			},
		)

		relayDeliveries = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "relay_deliveries_total",
				Help: "External relay deliveries by relay and result",
			},
			[]string{"relay", "result"},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "export_total",
				Help: "Total export operations by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "export_latency_seconds",
				Help:    "Export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			schedulerTicks,
			schedulerSkipped,
			schedulerDuration,
			alertEventsTotal,
			alertPersistFailure,
			staleBatches,
			hubSubscribers,
			hubEvents,
			hubDropped,
			relayDeliveries,
			exportTotal,
			exportLatency,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveTick records a sealed agent tick.
func ObserveTick(agent, outcome string, duration time.Duration) {
	if outcome == "" {
		outcome = "unknown"
	}
	if schedulerTicks != nil {
		schedulerTicks.WithLabelValues(agent, outcome).Inc()
	}
	if schedulerDuration != nil {
		schedulerDuration.WithLabelValues(agent, outcome).Observe(duration.Seconds())
	}
}

// IncTickSkipped counts a tick skipped for overlap.
func IncTickSkipped(agent string) {
	if schedulerSkipped != nil {
		schedulerSkipped.WithLabelValues(agent).Inc()
	}
}

// IncAlertEvent increments alert lifecycle counters.
func IncAlertEvent(event string) {
	if event == "" {
		event = "unknown"
	}
	if alertEventsTotal != nil {
		alertEventsTotal.WithLabelValues(event).Inc()
	}
}

// IncAlertPersistFailure counts an isolated alert write failure.
func IncAlertPersistFailure(agent string) {
	if alertPersistFailure != nil {
		alertPersistFailure.WithLabelValues(agent).Inc()
	}
}

// IncStaleBatch counts a rejected stale batch.
func IncStaleBatch(agent string) {
	if staleBatches != nil {
		staleBatches.WithLabelValues(agent).Inc()
	}
}

// SetHubSubscribers sets the live subscriber gauge.
func SetHubSubscribers(count int) {
	if count < 0 {
		count = 0
	}
	if hubSubscribers != nil {
		hubSubscribers.Set(float64(count))
	}
}

// IncHubEvent counts a published broadcast event.
func IncHubEvent(kind string) {
	if hubEvents != nil {
		hubEvents.WithLabelValues(kind).Inc()
	}
}

// IncHubDropped counts a dropped subscriber.
func IncHubDropped() {
	if hubDropped != nil {
		hubDropped.Inc()
	}
}

// IncRelayDelivery counts a relay delivery attempt.
func IncRelayDelivery(relay, result string) {
	if result == "" {
		result = resultSuccess
	}
	if relayDeliveries != nil {
		relayDeliveries.WithLabelValues(relay, result).Inc()
	}
}

// ObserveExport records export latency and result.
func ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
