package loadtest

// Verdict names the outcome of applying the acceptance policy to a burst.
type Verdict string

const (
	VerdictPass                Verdict = "pass"
	VerdictRequestsFailed      Verdict = "requests_failed"      // success below threshold
	VerdictLatencyRegression   Verdict = "latency_regression"   // median grew past the allowed factor
	VerdictThroughputShortfall Verdict = "throughput_shortfall" // generator could not keep pace
	VerdictAbandoned           Verdict = "abandoned"            // outcomes missing after the grace period
)

// AcceptancePolicy decides whether a burst was sustained.
type AcceptancePolicy struct {
	MinSuccessPercent  float64 `yaml:"min_success_percent" json:"min_success_percent"`
	MaxLatencyGrowth   float64 `yaml:"max_latency_growth" json:"max_latency_growth"`
	MinThroughputRatio float64 `yaml:"min_throughput_ratio" json:"min_throughput_ratio"`
}

// DefaultAcceptancePolicy tolerates no failed request, at most 50% median
// growth over the last good burst and a 10% throughput shortfall.
func DefaultAcceptancePolicy() AcceptancePolicy {
	return AcceptancePolicy{
		MinSuccessPercent:  100.0,
		MaxLatencyGrowth:   1.5,
		MinThroughputRatio: 0.9,
	}
}

// Evaluate checks, in order, success share, latency regression against
// lastGood (when present) and achieved throughput. The first failing check
// determines the verdict.
func (p AcceptancePolicy) Evaluate(result BurstResult, lastGood *BurstResult) Verdict {
	if result.Abandoned {
		return VerdictAbandoned
	}
	if result.SuccessPercent < p.MinSuccessPercent {
		return VerdictRequestsFailed
	}
	if lastGood != nil && float64(result.MedianLatencyMs) > float64(lastGood.MedianLatencyMs)*p.MaxLatencyGrowth {
		return VerdictLatencyRegression
	}
	if result.ActualRate < result.AttemptedRate*p.MinThroughputRatio {
		return VerdictThroughputShortfall
	}
	return VerdictPass
}
