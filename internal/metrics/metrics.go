// Package metrics exposes Prometheus instruments for the engine.
//
//   - autopilot_orders_total{strategy,outcome}     every execution log entry
//   - autopilot_rejections_total{reason}           rejected orders by reason
//   - autopilot_active_reservations                reservations held right now
//   - autopilot_submission_duration_seconds{result} submission latency
//   - autopilot_analyze_failures_total             failed portfolio analyses
//   - autopilot_monitor_alerts_total{code,severity} alerts raised by the monitor
package metrics

import (
	"time"

	"github.com/autopilot-engine/internal/models"
	"github.com/autopilot-engine/internal/types"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	orders             *prometheus.CounterVec
	rejections         *prometheus.CounterVec
	activeReservations prometheus.Gauge
	submissionDuration *prometheus.HistogramVec
	analyzeFailures    prometheus.Counter
	monitorAlerts      *prometheus.CounterVec
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		orders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autopilot_orders_total",
				Help: "Executed orders by strategy and outcome",
			},
			[]string{"strategy", "outcome"},
		),
		rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autopilot_rejections_total",
				Help: "Rejected orders by reason",
			},
			[]string{"reason"},
		),
		activeReservations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "autopilot_active_reservations",
				Help: "Risk reservations currently held by in-flight orders",
			},
		),
		submissionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "autopilot_submission_duration_seconds",
				Help:    "Order submission latency",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30},
			},
			[]string{"result"}, // filled|failed
		),
		analyzeFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "autopilot_analyze_failures_total",
				Help: "Portfolio analyses that failed upstream",
			},
		),
		monitorAlerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autopilot_monitor_alerts_total",
				Help: "Alerts raised by the monitor",
			},
			[]string{"code", "severity"},
		),
	}

	reg.MustRegister(m.orders, m.rejections, m.activeReservations, m.submissionDuration, m.analyzeFailures, m.monitorAlerts)
	return m
}

// ObserveExecution counts one appended execution record
func (m *Metrics) ObserveExecution(rec *models.ExecutedOrder) {
	if m == nil || rec == nil {
		return
	}
	m.orders.WithLabelValues(string(rec.Order.Strategy), string(rec.Outcome)).Inc()
	if rec.RejectReason != "" && rec.Outcome == types.OutcomeRejected {
		m.rejections.WithLabelValues(rec.RejectReason).Inc()
	}
}

// ReservationAcquired increments the active reservations gauge
func (m *Metrics) ReservationAcquired() {
	if m == nil {
		return
	}
	m.activeReservations.Inc()
}

// ReservationReleased decrements the active reservations gauge
func (m *Metrics) ReservationReleased() {
	if m == nil {
		return
	}
	m.activeReservations.Dec()
}

// ObserveSubmission records how long a submission took
func (m *Metrics) ObserveSubmission(d time.Duration, result string) {
	if m == nil {
		return
	}
	m.submissionDuration.WithLabelValues(result).Observe(d.Seconds())
}

// AnalyzeFailed counts a failed analysis
func (m *Metrics) AnalyzeFailed() {
	if m == nil {
		return
	}
	m.analyzeFailures.Inc()
}

// ObserveAlert counts one monitor alert
func (m *Metrics) ObserveAlert(a models.Alert) {
	if m == nil {
		return
	}
	m.monitorAlerts.WithLabelValues(a.Code, string(a.Severity)).Inc()
}
