// Package metrics exposes the Gatekeeper's Prometheus instrumentation: per
// gate pass/block counters, the DQS/DRP state gauges, heat and sizing
// histograms, and reservation-ledger counters. Grounded on
// sawpanic-cryptorun's internal/interfaces/http/metrics.go
// (MetricsRegistry struct of *prometheus.CounterVec/HistogramVec/Gauge
// fields, constructed once via prometheus.MustRegister and exposed through
// promhttp.Handler()), generalized from pipeline-step metrics to the
// admission-chain domain.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every Gatekeeper Prometheus metric.
type Registry struct {
	GateEvaluations *prometheus.CounterVec
	GateBlocks      *prometheus.CounterVec
	ChainDuration   prometheus.Histogram

	DQSScore    prometheus.Gauge
	DQSMult     prometheus.Gauge
	DRPState    prometheus.Gauge
	DRPFlapCount prometheus.Gauge

	HeatUtilization   prometheus.Gauge
	HeatRejections    prometheus.Counter
	SizingConvergence *prometheus.CounterVec
	SizingIterations  prometheus.Histogram

	ReservationAttempts *prometheus.CounterVec
	ReservationConflicts *prometheus.CounterVec
	WriterOverloadRejects prometheus.Counter

	CorrMatrixAgeSec prometheus.Gauge
	CorrMatrixGamma  prometheus.Gauge
}

// New constructs and registers every Gatekeeper metric against the supplied
// prometheus.Registerer (typically prometheus.DefaultRegisterer).
func New(reg prometheus.Registerer) *Registry {
	r := &Registry{
		GateEvaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_gate_evaluations_total",
			Help: "Total number of gate evaluations by gate name and outcome.",
		}, []string{"gate", "outcome"}),

		GateBlocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_gate_blocks_total",
			Help: "Total number of admission blocks by rejection reason.",
		}, []string{"reason"}),

		ChainDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gatekeeper_chain_duration_seconds",
			Help:    "Wall-clock duration of one full admission chain evaluation.",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		DQSScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gatekeeper_dqs_score", Help: "Current Data Quality Score in [0,1].",
		}),
		DQSMult: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gatekeeper_dqs_mult", Help: "Current DQS-derived risk multiplier in [0,1].",
		}),
		DRPState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gatekeeper_drp_state", Help: "Current DRP state (0=NORMAL..5=EMERGENCY by priority rank).",
		}),
		DRPFlapCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gatekeeper_drp_flap_count", Help: "Strict-state transitions observed in the current anti-flapping window.",
		}),

		HeatUtilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gatekeeper_heat_utilization_frac", Help: "Portfolio heat norm as a fraction of the hard heat limit.",
		}),
		HeatRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gatekeeper_heat_rejections_total", Help: "Total number of candidates rejected for exceeding the heat budget.",
		}),
		SizingConvergence: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_sizing_convergence_total", Help: "Total sizing solves by strategy and convergence outcome.",
		}, []string{"strategy", "converged"}),
		SizingIterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gatekeeper_sizing_iterations", Help: "Iterations consumed by the sizing solver.",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
		}),

		ReservationAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_reservation_attempts_total", Help: "Total reservation attempts by order type and outcome.",
		}, []string{"order_type", "outcome"}),
		ReservationConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_reservation_conflicts_total", Help: "Total reservation conflicts by kind.",
		}, []string{"kind"}),
		WriterOverloadRejects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gatekeeper_writer_overload_rejects_total", Help: "Total reservation requests fast-rejected for writer overload.",
		}),

		CorrMatrixAgeSec: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gatekeeper_corr_matrix_age_seconds", Help: "Age of the currently published correlation-matrix snapshot.",
		}),
		CorrMatrixGamma: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gatekeeper_corr_matrix_gamma", Help: "Current smoothed stress-blend gamma.",
		}),
	}

	reg.MustRegister(
		r.GateEvaluations, r.GateBlocks, r.ChainDuration,
		r.DQSScore, r.DQSMult, r.DRPState, r.DRPFlapCount,
		r.HeatUtilization, r.HeatRejections, r.SizingConvergence, r.SizingIterations,
		r.ReservationAttempts, r.ReservationConflicts, r.WriterOverloadRejects,
		r.CorrMatrixAgeSec, r.CorrMatrixGamma,
	)
	return r
}

// ChainTimer times one admission chain evaluation.
type ChainTimer struct {
	r     *Registry
	start time.Time
}

// StartChainTimer begins timing a chain evaluation.
func (r *Registry) StartChainTimer() *ChainTimer {
	return &ChainTimer{r: r, start: time.Now()}
}

// Stop records the elapsed duration.
func (t *ChainTimer) Stop() {
	t.r.ChainDuration.Observe(time.Since(t.start).Seconds())
}

// RecordGate records one gate's pass/block outcome.
func (r *Registry) RecordGate(gate, outcome string) {
	r.GateEvaluations.WithLabelValues(gate, outcome).Inc()
}

// RecordBlock records an admission block by reason.
func (r *Registry) RecordBlock(reason string) {
	r.GateBlocks.WithLabelValues(reason).Inc()
}

// Handler returns the Prometheus scrape HTTP handler.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}
