// Package loadtest searches for the highest request rate a target can
// sustain.
//
// # Overview
//
// A search is a sequence of bursts. Each burst dispatches requests at a
// fixed rate for a fixed window, waits for every outcome and then decides
// whether the target kept up:
//
//	cfg := loadtest.DefaultProbeConfig()
//	gen := loadgen.NewDispatcher(loadgen.DefaultOptions(), logger)
//	ctrl := loadtest.NewAdaptiveController(cfg, gen, loadtest.Target{
//	    URL: "http://localhost:8080/loadtest",
//	}, logger)
//
//	report, err := ctrl.Run(ctx)
//	fmt.Printf("Sustained: %.2f req/s\n", report.AnswerRate())
//
// # Bursts
//
// BuildSchedule spreads requests evenly over the window. With the default
// 20s window a rate of 1 req/s yields offsets 0s, 1s, ... 19s. Outcomes are
// reduced by Aggregate into a BurstResult carrying the median latency, the
// share of successful requests and the throughput actually achieved.
//
// # Acceptance
//
// AcceptancePolicy passes a burst only when every request succeeded, the
// median latency stayed within 1.5x of the last good burst and at least 90%
// of the attempted rate was achieved.
//
// # Step policy
//
// After a pass the rate grows by the current step. After a failure the rate
// falls back by the step and the step is halved, never below 0.25. Three
// consecutive failures end the search; the last passing burst is the answer.
//
// # Cancellation
//
// Stop and context cancellation are honoured between bursts only. A burst
// that has been dispatched always runs to completion, unless the generator
// stops reporting, in which case the burst is abandoned once the window
// plus GracePeriod has elapsed and the search ends with ErrGeneratorStalled.
package loadtest
