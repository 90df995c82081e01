package loadtest

import (
	"math"
	"sort"
	"time"
)

// Outcome is the terminal report for one scheduled request.
type Outcome struct {
	Index   int           `json:"index"`
	Elapsed time.Duration `json:"elapsed"`
	Success bool          `json:"success"`
	Dropped bool          `json:"dropped,omitempty"` // never attempted, all slots were busy
	Err     string        `json:"error,omitempty"`
}

// BurstResult summarises one burst. AttemptedRate is known before dispatch;
// the remaining fields are only meaningful once every outcome has arrived or
// the burst was abandoned.
type BurstResult struct {
	Seq             int       `json:"seq"`
	StartedAt       time.Time `json:"started_at"`
	AttemptedRate   float64   `json:"attempted_rate"`
	ActualRate      float64   `json:"actual_rate"`
	SuccessPercent  float64   `json:"success_percent"`
	MedianLatencyMs int64     `json:"median_latency_ms"`
	Requests        int       `json:"requests"`
	Failures        int       `json:"failures"`
	Dropped         int       `json:"dropped"`
	ElapsedMs       int64     `json:"elapsed_ms"`
	Passed          bool      `json:"passed"`
	Verdict         Verdict   `json:"verdict"`
	Abandoned       bool      `json:"abandoned,omitempty"`
}

// Aggregate computes the statistics of one burst from its outcomes and the
// wall-clock time between dispatch start and the last outcome. Arrival
// order is irrelevant. The acceptance verdict is left unset.
func Aggregate(attemptedRate float64, outcomes []Outcome, wall time.Duration) BurstResult {
	result := BurstResult{
		AttemptedRate: attemptedRate,
		Requests:      len(outcomes),
		ElapsedMs:     wall.Milliseconds(),
	}

	n := len(outcomes)
	if n == 0 {
		return result
	}

	elapsed := make([]time.Duration, n)
	successes := 0
	for i, o := range outcomes {
		elapsed[i] = o.Elapsed
		switch {
		case o.Success:
			successes++
		case o.Dropped:
			result.Dropped++
			result.Failures++
		default:
			result.Failures++
		}
	}

	sort.Slice(elapsed, func(i, j int) bool { return elapsed[i] < elapsed[j] })
	result.MedianLatencyMs = elapsed[n/2].Milliseconds()
	if result.MedianLatencyMs < 0 {
		result.MedianLatencyMs = 0
	}

	result.SuccessPercent = round1(float64(successes) * 100 / float64(n))

	wallMs := float64(wall) / float64(time.Millisecond)
	if wallMs > 0 {
		result.ActualRate = round2(float64(n) * 1000 / wallMs)
	}

	return result
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

func round2(v float64) float64 { return math.Round(v*100) / 100 }
