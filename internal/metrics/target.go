package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// TargetCollector records the work done by the synthetic target.
type TargetCollector struct {
	stageDuration *prometheus.HistogramVec
	rejected      prometheus.Counter
	completed     *prometheus.CounterVec
}

// NewTargetCollector registers the workload metrics with reg.
func NewTargetCollector(reg prometheus.Registerer) *TargetCollector {
	factory := promauto.With(reg)
	return &TargetCollector{
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "target",
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each workload stage",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
		}, []string{"stage"}),
		rejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "target",
			Name:      "rejected_total",
			Help:      "Requests refused by the capacity ceiling",
		}),
		completed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "target",
			Name:      "workloads_total",
			Help:      "Workload runs by result",
		}, []string{"result"}),
	}
}

// ObserveStage records the duration of one stage.
func (c *TargetCollector) ObserveStage(stage string, d time.Duration) {
	c.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordRejected counts a request refused by the rate limiter.
func (c *TargetCollector) RecordRejected() {
	c.rejected.Inc()
}

// RecordCompleted counts a finished workload; ok is false when a stage failed.
func (c *TargetCollector) RecordCompleted(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	c.completed.WithLabelValues(result).Inc()
}
