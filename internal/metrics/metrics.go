package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	BotEvaluations     *prometheus.CounterVec
	DealsEvaluated     prometheus.Counter
	MonitoredDeals     prometheus.Gauge
	TrailingUpdates    *prometheus.CounterVec
	TrailingResets     *prometheus.CounterVec
	SafetyOrdersPlaced prometheus.Counter
	SafetyOrderFills   prometheus.Counter
	RemoteCallErrors   *prometheus.CounterVec
	CycleDuration      prometheus.Histogram
}

// New creates the collectors and registers them with reg. Tests pass
// their own registry; main passes prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BotEvaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tslbot_bot_evaluations_total",
			Help: "Bot evaluation cycles, by outcome.",
		}, []string{"outcome"}),
		DealsEvaluated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tslbot_deals_evaluated_total",
			Help: "Deals evaluated across all cycles.",
		}),
		MonitoredDeals: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tslbot_monitored_deals",
			Help: "Deals currently requiring frequent monitoring.",
		}),
		TrailingUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tslbot_trailing_updates_total",
			Help: "Trailing updates pushed to the platform, by side.",
		}, []string{"side"}),
		TrailingResets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tslbot_trailing_resets_total",
			Help: "Trailing resets, by reason.",
		}, []string{"reason"}),
		SafetyOrdersPlaced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tslbot_safety_orders_placed_total",
			Help: "Manual safety orders placed.",
		}),
		SafetyOrderFills: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tslbot_safety_order_fills_total",
			Help: "Manual safety orders confirmed filled.",
		}),
		RemoteCallErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tslbot_remote_call_errors_total",
			Help: "Failed calls to the 3Commas API, by operation.",
		}, []string{"operation"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tslbot_cycle_duration_seconds",
			Help:    "Duration of one full evaluation pass over all groups.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.BotEvaluations,
		m.DealsEvaluated,
		m.MonitoredDeals,
		m.TrailingUpdates,
		m.TrailingResets,
		m.SafetyOrdersPlaced,
		m.SafetyOrderFills,
		m.RemoteCallErrors,
		m.CycleDuration,
	)
	return m
}
