package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for split-payment orchestration.
type Metrics struct {
	// Stage latencies: reserve, quote, authorize, continue, execute
	StageLatency *prometheus.HistogramVec

	// Per-recipient outcomes by stage (succeeded / failed)
	RecipientOutcomes *prometheus.CounterVec

	// Terminal statuses
	TerminalStatus *prometheus.CounterVec

	// Payments currently awaiting authorization
	Pending prometheus.Gauge
}

// New registers the split-payment metrics on the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the metrics on reg.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		StageLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "splitpay_stage_duration_seconds",
			Help:    "Duration of each orchestration stage",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"stage"}),

		RecipientOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "splitpay_recipient_outcomes_total",
			Help: "Per-recipient outcomes by stage",
		}, []string{"stage", "outcome"}),

		TerminalStatus: f.NewCounterVec(prometheus.CounterOpts{
			Name: "splitpay_terminal_status_total",
			Help: "Split payments reaching a terminal status",
		}, []string{"status"}),

		Pending: f.NewGauge(prometheus.GaugeOpts{
			Name: "splitpay_pending_authorizations",
			Help: "Split payments awaiting payer authorization",
		}),
	}
}

// ObserveStage records a stage duration.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m != nil {
		m.StageLatency.WithLabelValues(stage).Observe(d.Seconds())
	}
}

// IncrementOutcome records one recipient outcome.
func (m *Metrics) IncrementOutcome(stage, outcome string) {
	if m != nil {
		m.RecipientOutcomes.WithLabelValues(stage, outcome).Inc()
	}
}

// IncrementTerminal records a terminal status.
func (m *Metrics) IncrementTerminal(status string) {
	if m != nil {
		m.TerminalStatus.WithLabelValues(status).Inc()
	}
}

// IncPending and DecPending track payments awaiting authorization.
func (m *Metrics) IncPending() {
	if m != nil {
		m.Pending.Inc()
	}
}

func (m *Metrics) DecPending() {
	if m != nil {
		m.Pending.Dec()
	}
}
