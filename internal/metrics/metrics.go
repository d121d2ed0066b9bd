// Package metrics exposes Prometheus counters for the webhook receiver.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cexll/swe-action/internal/pipeline"
)

// Run outcomes.
const (
	OutcomePrepared = "prepared"
	OutcomeSkipped  = "skipped"
	OutcomeFailed   = "failed"
)

// Recorder records delivery and pipeline run metrics on its own registry.
type Recorder struct {
	registry *prometheus.Registry

	deliveriesTotal *prometheus.CounterVec
	runsTotal       *prometheus.CounterVec
	degradedTotal   *prometheus.CounterVec
	runDuration     prometheus.Histogram
}

// NewRecorder creates a recorder with a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		deliveriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swe_webhook_deliveries_total",
				Help: "Webhook deliveries by event and handling result",
			},
			[]string{"event", "result"},
		),
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swe_pipeline_runs_total",
				Help: "Pipeline runs by outcome and, for failures, the aborting stage",
			},
			[]string{"outcome", "stage"},
		),
		degradedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swe_pipeline_degraded_stages_total",
				Help: "Stages that hit a recoverable problem",
			},
			[]string{"stage"},
		),
		runDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "swe_pipeline_run_duration_seconds",
				Help:    "Duration of pipeline runs in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}

// ObserveDelivery counts one webhook delivery.
func (r *Recorder) ObserveDelivery(event, result string) {
	r.deliveriesTotal.WithLabelValues(event, result).Inc()
}

// ObserveRun records a finished pipeline run.
func (r *Recorder) ObserveRun(report *pipeline.Report, err error, duration time.Duration) {
	outcome, stage := OutcomePrepared, ""
	switch {
	case err != nil:
		outcome = OutcomeFailed
		var stageErr *pipeline.StageError
		if errors.As(err, &stageErr) {
			stage = stageErr.Stage
		}
	case report != nil && !report.Triggered:
		outcome = OutcomeSkipped
	}
	r.runsTotal.WithLabelValues(outcome, stage).Inc()
	if report != nil {
		for _, s := range report.Degraded {
			r.degradedTotal.WithLabelValues(s).Inc()
		}
	}
	r.runDuration.Observe(duration.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
