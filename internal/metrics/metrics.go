// Package metrics exposes Prometheus instruments for the wager service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	Operations      *prometheus.CounterVec
	OperationErrors *prometheus.CounterVec
	OperationTime   *prometheus.HistogramVec
	Settlements     *prometheus.CounterVec
	FeesCollected   prometheus.Counter
	ActiveSessions  prometheus.Gauge
	SweptGames      prometheus.Counter
	Deposits        *prometheus.CounterVec
}

func New(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "game_operations_total",
			Help:      "Accepted game operations by kind",
		}, []string{"op"}),
		OperationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "game_operation_errors_total",
			Help:      "Rejected game operations by kind and error",
		}, []string{"op", "kind"}),
		OperationTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "game_operation_seconds",
			Help:      "Game operation latency including lock wait",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"op"}),
		Settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Settled games by outcome",
		}, []string{"outcome"}),
		FeesCollected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "platform_fees_total",
			Help:      "Platform fees retained, in currency units",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_sessions",
			Help:      "Connected push sessions",
		}),
		SweptGames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swept_games_total",
			Help:      "Games completed by the timeout sweep",
		}),
		Deposits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deposits_total",
			Help:      "Deposit callbacks by final status",
		}, []string{"status"}),
	}
	m.registry.MustRegister(
		m.Operations,
		m.OperationErrors,
		m.OperationTime,
		m.Settlements,
		m.FeesCollected,
		m.ActiveSessions,
		m.SweptGames,
		m.Deposits,
	)
	return m
}

// Observe records one operation. A nil receiver is a no-op so callers may run without metrics.
func (m *Metrics) Observe(op string, started time.Time, errKind string) {
	if m == nil {
		return
	}
	m.OperationTime.WithLabelValues(op).Observe(time.Since(started).Seconds())
	if errKind != "" {
		m.OperationErrors.WithLabelValues(op, errKind).Inc()
		return
	}
	m.Operations.WithLabelValues(op).Inc()
}

func (m *Metrics) Settled(outcome string, fee float64) {
	if m == nil {
		return
	}
	m.Settlements.WithLabelValues(outcome).Inc()
	if fee > 0 {
		m.FeesCollected.Add(fee)
	}
}

func (m *Metrics) Swept() {
	if m != nil {
		m.SweptGames.Inc()
	}
}

func (m *Metrics) SessionDelta(d float64) {
	if m != nil {
		m.ActiveSessions.Add(d)
	}
}

func (m *Metrics) Deposit(status string) {
	if m != nil {
		m.Deposits.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
