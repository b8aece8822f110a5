// Package metrics records per-run Prometheus metrics and writes them to a
// textfile when the run ends.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder collects the metrics of one run. Every run owns its own
// registry so concurrent benchmark instances never share series.
type Recorder struct {
	reg *prometheus.Registry

	modelRequests *prometheus.CounterVec
	modelDuration *prometheus.HistogramVec
	promptTokens  *prometheus.CounterVec
	gateAttempts  *prometheus.CounterVec
	checkDuration *prometheus.HistogramVec
	phaseDuration *prometheus.HistogramVec
	phaseOutcomes *prometheus.CounterVec
	runOutcome    *prometheus.GaugeVec
}

// New creates a Recorder with a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Recorder{
		reg: reg,
		modelRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "factory_model_requests_total",
				Help: "Model requests by provider, purpose and status",
			},
			[]string{"provider", "purpose", "status"},
		),
		modelDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "factory_model_request_duration_seconds",
				Help:    "Duration of model requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider", "purpose"},
		),
		promptTokens: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "factory_model_prompt_tokens_total",
				Help: "Estimated prompt tokens sent to the model",
			},
			[]string{"provider"},
		),
		gateAttempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "factory_gate_checks_total",
				Help: "Quality gate check executions by check and result",
			},
			[]string{"check", "result"},
		),
		checkDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "factory_gate_check_duration_seconds",
				Help:    "Duration of lint and test commands",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"check"},
		),
		phaseDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "factory_phase_duration_seconds",
				Help:    "Duration of workflow phases",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"phase"},
		),
		phaseOutcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "factory_phase_results_total",
				Help: "Workflow phase completions by result",
			},
			[]string{"phase", "result"},
		),
		runOutcome: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "factory_run_outcome",
				Help: "Set to 1 for the terminal outcome of the run",
			},
			[]string{"outcome"},
		),
	}
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.reg
}

// ObserveModel records a completed model request.
func (r *Recorder) ObserveModel(provider, purpose string, promptTokens int, err error, d time.Duration) {
	if r == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	r.modelRequests.WithLabelValues(provider, purpose, status).Inc()
	r.modelDuration.WithLabelValues(provider, purpose).Observe(d.Seconds())
	if promptTokens > 0 {
		r.promptTokens.WithLabelValues(provider).Add(float64(promptTokens))
	}
}

// ObserveCheck records one lint or test execution.
func (r *Recorder) ObserveCheck(check string, passed, skipped bool, d time.Duration) {
	if r == nil {
		return
	}
	result := "fail"
	switch {
	case skipped:
		result = "skip"
	case passed:
		result = "pass"
	}
	r.gateAttempts.WithLabelValues(check, result).Inc()
	if !skipped {
		r.checkDuration.WithLabelValues(check).Observe(d.Seconds())
	}
}

// ObservePhase records a finished workflow phase.
func (r *Recorder) ObservePhase(phase string, err error, d time.Duration) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.phaseOutcomes.WithLabelValues(phase, result).Inc()
	r.phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// SetOutcome marks the terminal outcome of the run.
func (r *Recorder) SetOutcome(outcome string) {
	if r == nil {
		return
	}
	r.runOutcome.WithLabelValues(outcome).Set(1)
}

// WriteFile writes every collected series to path in the Prometheus text
// exposition format.
func (r *Recorder) WriteFile(path string) error {
	if r == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.reg)
}
