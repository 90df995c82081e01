package loadtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrAlreadyRunning    = errors.New("loadtest: search already running")
	ErrGeneratorStalled  = errors.New("loadtest: generator did not report every outcome")
	ErrInvalidRate       = errors.New("loadtest: rate must be positive")
	errEmptyBurstRequest = errors.New("loadtest: schedule is empty")
)

// ProbeConfig defines the search parameters.
type ProbeConfig struct {
	InitialRate     float64          // requests per second of the first burst
	InitialStep     float64          // rate increment, only ever shrinks
	StepFloor       float64          // smallest step after halving
	MinRate         float64          // rate never retreats below this
	MaxFailures     int              // consecutive failed bursts before stopping
	Window          time.Duration    // length of one burst schedule
	InterBurstDelay time.Duration    // pause between bursts
	GracePeriod     time.Duration    // extra wait past Window for outstanding outcomes
	Policy          AcceptancePolicy // pass/fail rule
}

// DefaultProbeConfig returns the standard search parameters: start at
// 1 req/s with a step of 2, 20s bursts separated by 10s pauses.
func DefaultProbeConfig() *ProbeConfig {
	return &ProbeConfig{
		InitialRate:     1,
		InitialStep:     2,
		StepFloor:       0.25,
		MinRate:         0.25,
		MaxFailures:     3,
		Window:          20 * time.Second,
		InterBurstDelay: 10 * time.Second,
		GracePeriod:     30 * time.Second,
		Policy:          DefaultAcceptancePolicy(),
	}
}

// Validate checks that the search can make progress.
func (c *ProbeConfig) Validate() error {
	if c.InitialRate <= 0 || c.MinRate <= 0 {
		return ErrInvalidRate
	}
	if c.InitialStep <= 0 || c.StepFloor <= 0 {
		return fmt.Errorf("loadtest: step and step floor must be positive")
	}
	if c.MaxFailures < 1 {
		return fmt.Errorf("loadtest: max failures must be at least 1")
	}
	if c.Window <= 0 {
		return fmt.Errorf("loadtest: window must be positive")
	}
	if c.InterBurstDelay < 0 || c.GracePeriod < 0 {
		return fmt.Errorf("loadtest: delays cannot be negative")
	}
	return nil
}

// AdaptiveController runs bursts one at a time and moves the rate up after
// a pass and down after a failure until the failure streak is exhausted or
// a stop is requested.
type AdaptiveController struct {
	config    *ProbeConfig
	generator Generator
	target    Target
	logger    *zap.Logger
	observers []Observer

	mu       sync.RWMutex
	runID    string
	state    State
	running  bool
	finished bool
	session  *SearchSession
	results  []BurstResult
}

// NewAdaptiveController creates a controller. A run id and session are
// allocated immediately so Stop and ID are usable before Run starts.
func NewAdaptiveController(config *ProbeConfig, generator Generator, target Target, logger *zap.Logger) *AdaptiveController {
	if config == nil {
		config = DefaultProbeConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AdaptiveController{
		config:    config,
		generator: generator,
		target:    target,
		logger:    logger,
		runID:     uuid.NewString(),
		state:     StateIdle,
		session:   NewSearchSession(config),
	}
}

// AddObserver registers o for controller events. Call before Run.
func (c *AdaptiveController) AddObserver(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

// ID returns the id of the current (or next) run.
func (c *AdaptiveController) ID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.runID
}

// Stop asks the search to end at the next burst boundary. A burst already
// dispatched always completes.
func (c *AdaptiveController) Stop() {
	c.mu.RLock()
	session := c.session
	c.mu.RUnlock()
	session.RequestStop()
}

// Status returns a snapshot of the search.
func (c *AdaptiveController) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.statusLocked()
}

func (c *AdaptiveController) statusLocked() Status {
	st := Status{
		RunID:               c.runID,
		Running:             c.running,
		State:               c.state,
		CurrentRate:         c.session.CurrentRate,
		StepSize:            c.session.StepSize,
		ConsecutiveFailures: c.session.ConsecutiveFailures,
		StopRequested:       c.session.StopRequested(),
		Bursts:              len(c.results),
	}
	if c.session.LastGood != nil {
		good := *c.session.LastGood
		st.LastGood = &good
	}
	return st
}

// Run executes the search until it stops. Cancelling ctx behaves like Stop:
// it is honoured between bursts only. The returned report is always
// non-nil once the search started; err is set when the generator stalled
// or a burst could not be dispatched.
func (c *AdaptiveController) Run(ctx context.Context) (*Report, error) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	if c.finished {
		c.runID = uuid.NewString()
		c.session = NewSearchSession(c.config)
		c.results = nil
		c.finished = false
	}
	c.running = true
	session := c.session
	c.mu.Unlock()

	report := &Report{
		ID:        c.ID(),
		Target:    c.target,
		StartedAt: time.Now(),
	}
	logger := c.logger.With(zap.String("run_id", report.ID), zap.String("target", c.target.URL))
	logger.Info("starting rate search",
		zap.Float64("initial_rate", c.config.InitialRate),
		zap.Float64("initial_step", c.config.InitialStep),
		zap.Duration("window", c.config.Window))

	var runErr error
	for seq := 0; ; seq++ {
		if c.stopRequested(ctx, session) {
			report.StopReason = StopCancelled
			break
		}

		result, err := c.runBurst(ctx, seq)
		if err != nil && !result.Abandoned {
			logger.Error("burst could not be dispatched", zap.Int("seq", seq), zap.Error(err))
			report.StopReason = StopSetupFailed
			runErr = err
			break
		}

		next := c.decide(result)
		logger.Info("burst evaluated",
			zap.Int("seq", seq),
			zap.Float64("attempted_rate", result.AttemptedRate),
			zap.Float64("actual_rate", result.ActualRate),
			zap.Int64("median_ms", result.MedianLatencyMs),
			zap.Float64("success_percent", result.SuccessPercent),
			zap.String("verdict", string(result.Verdict)),
			zap.String("next", string(next)))
		c.emit(EventBurst, &result, nil)

		if err != nil {
			logger.Error("abandoning search", zap.Int("seq", seq), zap.Error(err))
			report.StopReason = StopGeneratorStalled
			runErr = err
			break
		}
		if next == StateStopped {
			report.StopReason = StopExhausted
			break
		}

		c.setState(next)
		if !c.pause(ctx, session) {
			report.StopReason = StopCancelled
			break
		}
	}

	c.mu.Lock()
	report.Bursts = append([]BurstResult(nil), c.results...)
	if session.LastGood != nil {
		good := *session.LastGood
		report.Answer = &good
	}
	c.mu.Unlock()
	report.FinishedAt = time.Now()

	c.setState(StateStopped)
	c.mu.Lock()
	c.running = false
	c.finished = true
	c.mu.Unlock()
	c.emit(EventFinished, nil, report)

	if report.Found() {
		logger.Info("rate search finished",
			zap.String("reason", string(report.StopReason)),
			zap.Float64("sustained_rate", report.AnswerRate()),
			zap.Int("bursts", len(report.Bursts)))
	} else {
		logger.Warn("rate search finished without a sustainable rate",
			zap.String("reason", string(report.StopReason)),
			zap.Int("bursts", len(report.Bursts)))
	}
	return report, runErr
}

// runBurst schedules, dispatches and evaluates one burst. The result is
// well formed whenever it is marked Abandoned or err is nil.
func (c *AdaptiveController) runBurst(ctx context.Context, seq int) (BurstResult, error) {
	c.mu.RLock()
	rate := c.session.CurrentRate
	c.mu.RUnlock()

	schedule := BuildSchedule(rate, c.config.Window)
	if len(schedule) == 0 {
		return BurstResult{}, errEmptyBurstRequest
	}

	c.generator.Reset()
	for _, offset := range schedule {
		if _, err := c.generator.Schedule(offset, c.target); err != nil {
			return BurstResult{}, fmt.Errorf("schedule request: %w", err)
		}
	}

	// In-flight requests must not see the caller's cancellation.
	burstCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.Window+c.config.GracePeriod)
	defer cancel()

	c.setState(StateRunning)
	started := time.Now()
	outcomes, err := c.generator.Start(burstCtx)
	if err != nil {
		return BurstResult{}, fmt.Errorf("start burst: %w", err)
	}

	collected, complete := collect(burstCtx, outcomes, len(schedule))
	wall := time.Since(started)

	var burstErr error
	if !complete {
		c.generator.Reset()
		collected = fillMissing(collected, len(schedule), wall)
		burstErr = fmt.Errorf("%w: burst %d at %.2f req/s", ErrGeneratorStalled, seq, rate)
	}

	c.setState(StateEvaluating)
	result := Aggregate(rate, collected, wall)
	result.Seq = seq
	result.StartedAt = started
	result.Abandoned = !complete

	c.mu.RLock()
	result.Verdict = c.config.Policy.Evaluate(result, c.session.LastGood)
	c.mu.RUnlock()
	result.Passed = result.Verdict == VerdictPass

	return result, burstErr
}

// collect waits for want distinct outcomes. It gives up when ctx expires or
// the channel closes early.
func collect(ctx context.Context, outcomes <-chan Outcome, want int) ([]Outcome, bool) {
	collected := make([]Outcome, 0, want)
	seen := make([]bool, want)

	for len(collected) < want {
		select {
		case o, ok := <-outcomes:
			if !ok {
				return collected, false
			}
			if o.Index < 0 || o.Index >= want || seen[o.Index] {
				continue
			}
			seen[o.Index] = true
			collected = append(collected, o)
		case <-ctx.Done():
			return collected, false
		}
	}
	return collected, true
}

// fillMissing records every unreported request as a failure that took the
// whole wait.
func fillMissing(collected []Outcome, want int, waited time.Duration) []Outcome {
	seen := make([]bool, want)
	for _, o := range collected {
		seen[o.Index] = true
	}
	for i, ok := range seen {
		if !ok {
			collected = append(collected, Outcome{Index: i, Elapsed: waited, Err: "no outcome reported"})
		}
	}
	return collected
}

// decide records the result and applies the step policy. It returns the
// next state: StateContinuing, StateRetrying or StateStopped.
func (c *AdaptiveController) decide(result BurstResult) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.results = append(c.results, result)
	if result.Passed {
		c.session.recordPass(result)
		return StateContinuing
	}
	if c.session.recordFailure(c.config.MaxFailures) {
		return StateStopped
	}
	return StateRetrying
}

// pause waits the inter-burst delay. It returns false when a stop arrives
// first.
func (c *AdaptiveController) pause(ctx context.Context, session *SearchSession) bool {
	if c.stopRequested(ctx, session) {
		return false
	}
	if c.config.InterBurstDelay <= 0 {
		return true
	}

	timer := time.NewTimer(c.config.InterBurstDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-session.Stopped():
		return false
	case <-ctx.Done():
		return false
	}
}

func (c *AdaptiveController) stopRequested(ctx context.Context, session *SearchSession) bool {
	return session.StopRequested() || ctx.Err() != nil
}

func (c *AdaptiveController) setState(state State) {
	c.mu.Lock()
	changed := c.state != state
	c.state = state
	runID := c.runID
	c.mu.Unlock()

	if !changed {
		return
	}
	switch state {
	case StateContinuing, StateRetrying, StateStopped:
		c.logger.Info("search state changed", zap.String("run_id", runID), zap.String("state", string(state)))
	default:
		c.logger.Debug("search state changed", zap.String("run_id", runID), zap.String("state", string(state)))
	}
	c.emit(EventState, nil, nil)
}

func (c *AdaptiveController) emit(typ EventType, burst *BurstResult, report *Report) {
	c.mu.RLock()
	event := Event{
		Type:   typ,
		Time:   time.Now(),
		Status: c.statusLocked(),
		Burst:  burst,
		Report: report,
	}
	observers := append([]Observer(nil), c.observers...)
	c.mu.RUnlock()

	for _, o := range observers {
		o.Observe(event)
	}
}
