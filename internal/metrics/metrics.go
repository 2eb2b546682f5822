// Package metrics exposes Prometheus instruments for the rule engine and
// the aggregation pipeline.
//
// A nil *Metrics is valid: every recording method is a no-op on nil, so
// components built without WithMetrics need no special casing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

const namespace = "referral"

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Engine metrics
	EventsProcessed    *prometheus.CounterVec
	EventDuration      *prometheus.HistogramVec
	AutomationOutcomes *prometheus.CounterVec
	CommissionsCreated *prometheus.CounterVec
	CommissionAmount   *prometheus.CounterVec
	CircleSwitches     prometheus.Counter

	// Aggregation metrics
	RollupRefreshes *prometheus.CounterVec
	RollupDeletions *prometheus.CounterVec
	Rebuilds        *prometheus.CounterVec

	// Dispatcher metrics
	QueueDepth prometheus.Gauge
}

// New creates a Metrics instance with all metrics registered on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EventsProcessed: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_processed_total",
				Help:      "Total number of trigger events processed by the engine",
			},
			[]string{"trigger", "result"}, // result: ok, error
		),
		EventDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "event_duration_seconds",
				Help:      "Trigger event processing latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"trigger"},
		),
		AutomationOutcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "automation_outcomes_total",
				Help:      "Automation evaluations by outcome",
			},
			[]string{"outcome"}, // applied, skipped, duplicate, mismatch, failed
		),
		CommissionsCreated: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commissions_created_total",
				Help:      "Total number of commissions created",
			},
			[]string{"conversion_type"},
		),
		CommissionAmount: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commission_amount_total",
				Help:      "Sum of created commission amounts",
			},
			[]string{"conversion_type"},
		),
		CircleSwitches: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circle_switches_total",
			Help:      "Total number of promoter circle switches",
		}),
		RollupRefreshes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rollup_refreshes_total",
				Help:      "Day-wise rollup rows recomputed",
			},
			[]string{"dimension"},
		),
		RollupDeletions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rollup_deletions_total",
				Help:      "All-time rollup rows deleted after their last day row was removed",
			},
			[]string{"dimension"},
		),
		Rebuilds: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rebuilds_total",
				Help:      "Full rollup rebuilds by result",
			},
			[]string{"result"}, // ok, error
		),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatcher_queue_depth",
			Help:      "Trigger events waiting in the dispatcher queue",
		}),
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// ObserveEvent records one processed trigger event.
func (m *Metrics) ObserveEvent(trigger string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.EventsProcessed.WithLabelValues(trigger, result).Inc()
	m.EventDuration.WithLabelValues(trigger).Observe(d.Seconds())
}

// AutomationOutcome counts one automation evaluation.
func (m *Metrics) AutomationOutcome(outcome string) {
	if m == nil {
		return
	}
	m.AutomationOutcomes.WithLabelValues(outcome).Inc()
}

// CommissionCreated counts a created commission and adds its amount.
func (m *Metrics) CommissionCreated(conversionType string, amount decimal.Decimal) {
	if m == nil {
		return
	}
	m.CommissionsCreated.WithLabelValues(conversionType).Inc()
	m.CommissionAmount.WithLabelValues(conversionType).Add(amount.InexactFloat64())
}

// CircleSwitched counts a successful circle switch.
func (m *Metrics) CircleSwitched() {
	if m == nil {
		return
	}
	m.CircleSwitches.Inc()
}

// RollupRefreshed counts a recomputed day-wise row.
func (m *Metrics) RollupRefreshed(dimension string) {
	if m == nil {
		return
	}
	m.RollupRefreshes.WithLabelValues(dimension).Inc()
}

// RollupDeleted counts a deleted all-time row.
func (m *Metrics) RollupDeleted(dimension string) {
	if m == nil {
		return
	}
	m.RollupDeletions.WithLabelValues(dimension).Inc()
}

// RebuildFinished counts a full rebuild.
func (m *Metrics) RebuildFinished(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Rebuilds.WithLabelValues(result).Inc()
}

// SetQueueDepth reports the dispatcher backlog.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}
