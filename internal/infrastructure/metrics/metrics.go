package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/fruitflow/fruitflow/internal/app/dto"
)

// Namespace prefixes every metric name.
const Namespace = "fruitflow"

// Recorder holds the flow collectors.
type Recorder struct {
	registry *prometheus.Registry

	runsTotal      *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	stepsTotal     *prometheus.CounterVec
	stepDuration   *prometheus.HistogramVec
	labelsTotal    *prometheus.CounterVec
	snapshotsTotal *prometheus.CounterVec
	inflightSteps  prometheus.Gauge

	logger *zap.Logger
}

// NewRecorder registers the collectors on reg; a nil reg gets a fresh
// registry with the Go and process collectors.
func NewRecorder(reg *prometheus.Registry, logger *zap.Logger) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		runsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "runs_total",
			Help:      "Total number of flow runs by final status",
		}, []string{"flow", "status"}),
		runDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "run_duration_seconds",
			Help:      "Flow run duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"flow"}),
		stepsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "steps_total",
			Help:      "Total number of step executions by status",
		}, []string{"step", "status"}),
		stepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "step_duration_seconds",
			Help:      "Step handler duration in seconds",
			Buckets:   []float64{.005, .01, .05, .1, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"step"}),
		labelsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "labels_total",
			Help:      "Total number of router labels emitted",
		}, []string{"label"}),
		snapshotsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "snapshots_total",
			Help:      "Total number of snapshot writes by status",
		}, []string{"status"}),
		inflightSteps: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "inflight_steps",
			Help:      "Number of step handlers currently running",
		}),
		logger: logger.With(zap.String("component", "metrics")),
	}
}

// Registry returns the registry the collectors live on.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// RunFinished records a completed, failed or cancelled run.
func (r *Recorder) RunFinished(flowID string, status dto.ExecutionStatus, d time.Duration) {
	r.runsTotal.WithLabelValues(flowID, string(status)).Inc()
	r.runDuration.WithLabelValues(flowID).Observe(d.Seconds())
}

// StepStarted marks a step handler as in flight.
func (r *Recorder) StepStarted(string) {
	r.inflightSteps.Inc()
}

// StepFinished records a step outcome.
func (r *Recorder) StepFinished(stepID string, status dto.StepStatus, d time.Duration) {
	r.inflightSteps.Dec()
	r.stepsTotal.WithLabelValues(stepID, string(status)).Inc()
	r.stepDuration.WithLabelValues(stepID).Observe(d.Seconds())
}

// LabelEmitted counts a router decision.
func (r *Recorder) LabelEmitted(label string) {
	r.labelsTotal.WithLabelValues(label).Inc()
}

// SnapshotSaved counts a snapshot write.
func (r *Recorder) SnapshotSaved(err error) {
	status := "ok"
	if err != nil {
		status = "error"
		r.logger.Debug("snapshot write failed", zap.Error(err))
	}
	r.snapshotsTotal.WithLabelValues(status).Inc()
}
