// internal/metrics/collector.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/FairForge/loadprobe/internal/loadtest"
)

const namespace = "loadprobe"

// ProbeCollector exports the progress of rate searches. It is a
// loadtest.Observer and is attached to every controller.
type ProbeCollector struct {
	currentRate         prometheus.Gauge
	stepSize            prometheus.Gauge
	consecutiveFailures prometheus.Gauge
	running             prometheus.Gauge
	sustainedRate       prometheus.Gauge

	burstsTotal   *prometheus.CounterVec
	searchesTotal *prometheus.CounterVec
	burstLatency  prometheus.Histogram
	burstAchieved prometheus.Gauge
	burstSuccess  prometheus.Gauge
	droppedTotal  prometheus.Counter
	requestsTotal prometheus.Counter
	failuresTotal prometheus.Counter
}

// NewProbeCollector registers the probe metrics with reg.
func NewProbeCollector(reg prometheus.Registerer) *ProbeCollector {
	factory := promauto.With(reg)
	return &ProbeCollector{
		currentRate: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_rate",
			Help:      "Request rate of the next burst in requests per second",
		}),
		stepSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "step_size",
			Help:      "Current rate step",
		}),
		consecutiveFailures: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consecutive_failures",
			Help:      "Failed bursts since the last pass",
		}),
		running: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "search_running",
			Help:      "1 while a search is in progress",
		}),
		sustainedRate: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sustained_rate",
			Help:      "Attempted rate of the last good burst",
		}),
		burstsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bursts_total",
			Help:      "Evaluated bursts by verdict",
		}, []string{"verdict"}),
		searchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Finished searches by stop reason",
		}, []string{"reason"}),
		burstLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "burst_median_latency_seconds",
			Help:      "Median request latency per burst",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}),
		burstAchieved: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "burst_actual_rate",
			Help:      "Throughput achieved by the last burst",
		}),
		burstSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "burst_success_percent",
			Help:      "Share of successful requests in the last burst",
		}),
		droppedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_dropped_total",
			Help:      "Requests not attempted because every slot was busy",
		}),
		requestsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests scheduled across all bursts",
		}),
		failuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_failed_total",
			Help:      "Requests that failed, including dropped ones",
		}),
	}
}

// Observe implements loadtest.Observer.
func (c *ProbeCollector) Observe(e loadtest.Event) {
	st := e.Status
	c.currentRate.Set(st.CurrentRate)
	c.stepSize.Set(st.StepSize)
	c.consecutiveFailures.Set(float64(st.ConsecutiveFailures))
	if st.Running {
		c.running.Set(1)
	} else {
		c.running.Set(0)
	}
	if st.LastGood != nil {
		c.sustainedRate.Set(st.LastGood.AttemptedRate)
	}

	switch e.Type {
	case loadtest.EventBurst:
		if e.Burst != nil {
			c.RecordBurst(*e.Burst)
		}
	case loadtest.EventFinished:
		c.running.Set(0)
		if e.Report != nil {
			c.searchesTotal.WithLabelValues(string(e.Report.StopReason)).Inc()
		}
	}
}

// RecordBurst records one evaluated burst.
func (c *ProbeCollector) RecordBurst(b loadtest.BurstResult) {
	c.burstsTotal.WithLabelValues(string(b.Verdict)).Inc()
	c.burstLatency.Observe(float64(b.MedianLatencyMs) / 1000)
	c.burstAchieved.Set(b.ActualRate)
	c.burstSuccess.Set(b.SuccessPercent)
	c.requestsTotal.Add(float64(b.Requests))
	c.failuresTotal.Add(float64(b.Failures))
	c.droppedTotal.Add(float64(b.Dropped))
}
