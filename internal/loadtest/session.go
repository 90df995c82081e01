package loadtest

import (
	"math"
	"sync"
)

// SearchSession is the state carried across the bursts of one search.
// Only the controller mutates it, and only after a burst has resolved.
// The stop request is the exception: it may be raised from any goroutine.
type SearchSession struct {
	CurrentRate         float64
	StepSize            float64
	ConsecutiveFailures int
	LastGood            *BurstResult

	stepFloor float64
	minRate   float64

	stopOnce sync.Once
	stop     chan struct{}
}

// NewSearchSession starts a session at the configured initial rate and step.
func NewSearchSession(cfg *ProbeConfig) *SearchSession {
	return &SearchSession{
		CurrentRate: cfg.InitialRate,
		StepSize:    cfg.InitialStep,
		stepFloor:   cfg.StepFloor,
		minRate:     cfg.MinRate,
		stop:        make(chan struct{}),
	}
}

// RequestStop marks the session for termination at the next burst boundary.
func (s *SearchSession) RequestStop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// StopRequested reports whether RequestStop has been called.
func (s *SearchSession) StopRequested() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// Stopped is closed once a stop has been requested.
func (s *SearchSession) Stopped() <-chan struct{} {
	return s.stop
}

// recordPass resets the failure streak, remembers the result as the new
// baseline and advances the rate by the unchanged step.
func (s *SearchSession) recordPass(result BurstResult) {
	s.ConsecutiveFailures = 0
	good := result
	s.LastGood = &good
	s.CurrentRate += s.StepSize
}

// recordFailure counts the failure and, unless the streak reached
// maxFailures, retreats by the current step and halves it down to the floor.
// It returns true when the search is exhausted.
func (s *SearchSession) recordFailure(maxFailures int) bool {
	s.ConsecutiveFailures++
	if s.ConsecutiveFailures >= maxFailures {
		return true
	}

	s.CurrentRate -= s.StepSize
	if s.CurrentRate < s.minRate {
		s.CurrentRate = s.minRate
	}
	s.StepSize = math.Max(s.StepSize/2, s.stepFloor)
	return false
}
