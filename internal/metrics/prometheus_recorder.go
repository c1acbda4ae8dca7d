package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once          sync.Once
	stageDuration *prom.HistogramVec
	artifacts     *prom.CounterVec
	unitFailures  *prom.CounterVec
	placements    *prom.CounterVec
	workerCount   prom.Gauge
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.stageDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "kiln",
			Name:      "stage_duration_seconds",
			Help:      "Duration of individual pipeline stages",
			Buckets:   prom.DefBuckets,
		}, []string{"stage"})
		pr.artifacts = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "kiln",
			Name:      "artifacts_total",
			Help:      "Artifact materializations by stage and outcome",
		}, []string{"stage", "outcome"})
		pr.unitFailures = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "kiln",
			Name:      "unit_failures_total",
			Help:      "Per-unit stage failures",
		}, []string{"stage"})
		pr.placements = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "kiln",
			Name:      "placements_total",
			Help:      "Binary placement decisions by result",
		}, []string{"result"})
		pr.workerCount = prom.NewGauge(prom.GaugeOpts{
			Namespace: "kiln",
			Name:      "worker_count",
			Help:      "Configured worker pool size for the last stage",
		})
		reg.MustRegister(pr.stageDuration, pr.artifacts, pr.unitFailures, pr.placements, pr.workerCount)
	})
	return pr
}

func (p *PrometheusRecorder) ObserveStageDuration(stage string, d time.Duration) {
	if p == nil || p.stageDuration == nil {
		return
	}
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncArtifact(stage string, outcome ArtifactOutcome) {
	if p == nil || p.artifacts == nil {
		return
	}
	p.artifacts.WithLabelValues(stage, string(outcome)).Inc()
}

func (p *PrometheusRecorder) IncUnitFailure(stage string) {
	if p == nil || p.unitFailures == nil {
		return
	}
	p.unitFailures.WithLabelValues(stage).Inc()
}

func (p *PrometheusRecorder) IncPlacement(result string) {
	if p == nil || p.placements == nil {
		return
	}
	p.placements.WithLabelValues(result).Inc()
}

func (p *PrometheusRecorder) SetWorkerCount(n int) {
	if p == nil || p.workerCount == nil {
		return
	}
	p.workerCount.Set(float64(n))
}
