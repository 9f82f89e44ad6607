package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"fxtrader/internal/breaker"
)

// Metrics holds all Prometheus metrics for the trading engine.
type Metrics struct {
	// Market data
	TicksTotal     prometheus.Counter
	CandlesCreated *prometheus.CounterVec // labels: duration
	StreamRestarts prometheus.Counter

	// Coordinator
	CyclesTotal   prometheus.Counter
	CycleDuration prometheus.Histogram
	CyclesSkipped *prometheus.CounterVec // labels: reason
	Decisions     *prometheus.CounterVec // labels: tag, kind
	RiskRejects   *prometheus.CounterVec // labels: tag
	OpenPositions prometheus.Gauge

	// Broker
	OrdersTotal        *prometheus.CounterVec // labels: tag, result
	BrokerErrors       *prometheus.CounterVec // labels: op
	BrokerRetries      *prometheus.CounterVec // labels: route
	StopReplacements   prometheus.Counter
	StopCancelFailures prometheus.Counter
	ReconcileDrops     prometheus.Counter

	// Circuit breakers (0=closed, 1=open, 2=half-open)
	BreakerState   *prometheus.GaugeVec // labels: name
	BreakerTrips   *prometheus.CounterVec
	BufferedEvents prometheus.Counter

	// Market session state
	MarketState prometheus.Gauge // 0=closed, 1=open

	// Offline
	ScannerAlerts *prometheus.CounterVec // labels: kind
	OptimizerRuns *prometheus.CounterVec // labels: result
}

// NewMetrics registers and returns all metrics on reg. A nil reg uses the
// default Prometheus registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fxtrader_ticks_total",
			Help: "Total ticks received from the pricing stream",
		}),
		CandlesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxtrader_candles_created_total",
			Help: "Candle buckets opened by tick upserts",
		}, []string{"duration"}),
		StreamRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fxtrader_stream_restarts_total",
			Help: "Pricing stream restarts after a permanent stream failure",
		}),

		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fxtrader_cycles_total",
			Help: "Coordinator evaluation cycles",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fxtrader_cycle_duration_seconds",
			Help:    "Coordinator cycle latency",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		CyclesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxtrader_cycles_skipped_total",
			Help: "Cycles that skipped evaluation",
		}, []string{"reason"}),
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxtrader_decisions_total",
			Help: "Detector decisions by tag and kind",
		}, []string{"tag", "kind"}),
		RiskRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxtrader_risk_rejects_total",
			Help: "Opens refused by the risk gate",
		}, []string{"tag"}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fxtrader_open_positions",
			Help: "Positions currently held in the position table",
		}),

		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxtrader_orders_total",
			Help: "Orders sent by tag and result",
		}, []string{"tag", "result"}),
		BrokerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxtrader_broker_errors_total",
			Help: "Failed broker operations",
		}, []string{"op"}),
		BrokerRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxtrader_broker_retries_total",
			Help: "Transient broker retries by route",
		}, []string{"route"}),
		StopReplacements: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fxtrader_stop_replacements_total",
			Help: "Stop-loss orders replaced",
		}),
		StopCancelFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fxtrader_stop_cancel_failures_total",
			Help: "Stop replacements abandoned because the cancel failed",
		}),
		ReconcileDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fxtrader_reconcile_drops_total",
			Help: "Local positions dropped because the broker no longer reports them",
		}),

		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fxtrader_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
		BreakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxtrader_circuit_breaker_trips_total",
			Help: "Times a circuit breaker tripped open",
		}, []string{"name"}),
		BufferedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fxtrader_buffered_events_total",
			Help: "Trade events buffered locally while Redis was unavailable",
		}),

		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fxtrader_market_state",
			Help: "Market session state (0=closed, 1=open)",
		}),

		ScannerAlerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxtrader_scanner_alerts_total",
			Help: "Market scanner alerts by kind",
		}, []string{"kind"}),
		OptimizerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxtrader_optimizer_runs_total",
			Help: "Optimizer runs by result",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.TicksTotal,
		m.CandlesCreated,
		m.StreamRestarts,
		m.CyclesTotal,
		m.CycleDuration,
		m.CyclesSkipped,
		m.Decisions,
		m.RiskRejects,
		m.OpenPositions,
		m.OrdersTotal,
		m.BrokerErrors,
		m.BrokerRetries,
		m.StopReplacements,
		m.StopCancelFailures,
		m.ReconcileDrops,
		m.BreakerState,
		m.BreakerTrips,
		m.BufferedEvents,
		m.MarketState,
		m.ScannerAlerts,
		m.OptimizerRuns,
	)

	return m
}

// ObserveBreaker mirrors a breaker transition into BreakerState and
// BreakerTrips. It matches breaker.Breaker.OnStateChange.
func (m *Metrics) ObserveBreaker(name string, _, to breaker.State) {
	m.BreakerState.WithLabelValues(name).Set(float64(to))
	if to == breaker.StateOpen {
		m.BreakerTrips.WithLabelValues(name).Inc()
	}
}
