// internal/metrics/collector_test.go
package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/FairForge/loadprobe/internal/loadtest"
)

func TestProbeCollector_Observe(t *testing.T) {
	collector := NewProbeCollector(prometheus.NewRegistry())

	burst := loadtest.BurstResult{
		AttemptedRate:   5,
		ActualRate:      4.8,
		SuccessPercent:  100,
		MedianLatencyMs: 120,
		Requests:        100,
		Failures:        2,
		Dropped:         1,
		Verdict:         loadtest.VerdictPass,
	}
	collector.Observe(loadtest.Event{
		Type: loadtest.EventBurst,
		Status: loadtest.Status{
			Running:             true,
			CurrentRate:         7,
			StepSize:            2,
			ConsecutiveFailures: 0,
			LastGood:            &burst,
		},
		Burst: &burst,
	})

	assert.Equal(t, 7.0, testutil.ToFloat64(collector.currentRate))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.stepSize))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.running))
	assert.Equal(t, 5.0, testutil.ToFloat64(collector.sustainedRate))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.burstsTotal.WithLabelValues("pass")))
	assert.Equal(t, 4.8, testutil.ToFloat64(collector.burstAchieved))
	assert.Equal(t, 100.0, testutil.ToFloat64(collector.requestsTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.failuresTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.droppedTotal))
	assert.Equal(t, 1, testutil.CollectAndCount(collector.burstLatency))
}

func TestProbeCollector_Finished(t *testing.T) {
	collector := NewProbeCollector(prometheus.NewRegistry())

	collector.Observe(loadtest.Event{Type: loadtest.EventState, Status: loadtest.Status{Running: true}})
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.running))

	collector.Observe(loadtest.Event{
		Type:   loadtest.EventFinished,
		Status: loadtest.Status{Running: true, ConsecutiveFailures: 3},
		Report: &loadtest.Report{StopReason: loadtest.StopExhausted},
	})

	assert.Equal(t, 0.0, testutil.ToFloat64(collector.running))
	assert.Equal(t, 3.0, testutil.ToFloat64(collector.consecutiveFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.searchesTotal.WithLabelValues("exhausted")))
}

func TestProbeCollector_Exposition(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := NewProbeCollector(reg)
	collector.RecordBurst(loadtest.BurstResult{Verdict: loadtest.VerdictRequestsFailed, Requests: 3, Failures: 1})

	expected := `
# HELP loadprobe_bursts_total Evaluated bursts by verdict
# TYPE loadprobe_bursts_total counter
loadprobe_bursts_total{verdict="requests_failed"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "loadprobe_bursts_total"))
}

func TestMiddleware_LabelsByRoute(t *testing.T) {
	collector := NewHTTPCollector(prometheus.NewRegistry(), "api")

	r := chi.NewRouter()
	r.Use(Middleware(collector))
	r.Get("/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	for _, path := range []string{"/runs/a", "/runs/b", "/status"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.requestsTotal.WithLabelValues("GET", "/runs/{id}", "4xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.requestsTotal.WithLabelValues("GET", "/status", "2xx")))
	assert.Equal(t, 0.0, testutil.ToFloat64(collector.inFlight))
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(204))
	assert.Equal(t, "3xx", statusClass(301))
	assert.Equal(t, "4xx", statusClass(409))
	assert.Equal(t, "5xx", statusClass(503))
	assert.Equal(t, "101", statusClass(101))
}

func TestTargetCollector(t *testing.T) {
	collector := NewTargetCollector(prometheus.NewRegistry())

	collector.ObserveStage("cpu", 3*time.Millisecond)
	collector.ObserveStage("fs", time.Millisecond)
	collector.RecordRejected()
	collector.RecordCompleted(true)
	collector.RecordCompleted(false)
	collector.RecordCompleted(true)

	assert.Equal(t, 2, testutil.CollectAndCount(collector.stageDuration))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.rejected))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.completed.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.completed.WithLabelValues("error")))
}
