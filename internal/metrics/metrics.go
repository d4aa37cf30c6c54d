// Package metrics exposes Prometheus metrics, a JSON health endpoint and
// the admin retrain trigger over HTTP.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the signal bot.
type Metrics struct {
	TicksTotal   prometheus.Counter
	TickFailures prometheus.Counter
	TickDuration prometheus.Histogram
	SignalsTotal *prometheus.CounterVec // labels: kind
	LastScore    prometheus.Gauge
	LoopState    prometheus.Gauge // 0=starting, 1=ready, 2=tick, 3=stopping, 4=stopped

	// Model lifecycle
	TrainingRuns     *prometheus.CounterVec // labels: result=success|failure
	TrainingDuration prometheus.Histogram
	ModelAccuracy    prometheus.Gauge
	ModelUpdated     prometheus.Gauge

	NotifyFailures prometheus.Counter
	OrdersTotal    *prometheus.CounterVec // labels: status
	Equity         prometheus.Gauge
	FeedReconnects prometheus.Counter
}

// NewMetrics creates all metrics and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalbot_ticks_total",
			Help: "Total trading loop ticks started",
		}),
		TickFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalbot_tick_failures_total",
			Help: "Ticks that ended in an error or panic",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signalbot_tick_duration_seconds",
			Help:    "Wall time from candle fetch to signal dispatch",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalbot_signals_total",
			Help: "Signals decided, by kind",
		}, []string{"kind"}),
		LastScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalbot_last_score",
			Help: "Most recent model probability of an up move",
		}),
		LoopState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalbot_loop_state",
			Help: "Trading loop state (0=starting, 1=ready, 2=tick, 3=stopping, 4=stopped)",
		}),

		TrainingRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalbot_training_runs_total",
			Help: "Training pipeline runs, by result",
		}, []string{"result"}),
		TrainingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signalbot_training_duration_seconds",
			Help:    "Training pipeline wall time",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		ModelAccuracy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalbot_model_accuracy",
			Help: "Self-evaluation accuracy of the last trained model",
		}),
		ModelUpdated: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalbot_model_updated_timestamp_seconds",
			Help: "Unix time the stored model was last written",
		}),

		NotifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalbot_notify_failures_total",
			Help: "Alerts that could not be delivered after retries",
		}),
		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalbot_orders_total",
			Help: "Directives submitted to execution, by result status",
		}, []string{"status"}),
		Equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalbot_equity",
			Help: "Latest balance recorded in the equity trace",
		}),
		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalbot_feed_reconnects_total",
			Help: "Market data WebSocket reconnection attempts",
		}),
	}

	reg.MustRegister(
		m.TicksTotal,
		m.TickFailures,
		m.TickDuration,
		m.SignalsTotal,
		m.LastScore,
		m.LoopState,
		m.TrainingRuns,
		m.TrainingDuration,
		m.ModelAccuracy,
		m.ModelUpdated,
		m.NotifyFailures,
		m.OrdersTotal,
		m.Equity,
		m.FeedReconnects,
	)

	return m
}
