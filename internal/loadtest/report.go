package loadtest

import "time"

// State is a phase of the controller state machine.
type State string

const (
	StateIdle       State = "idle"
	StateRunning    State = "running"
	StateEvaluating State = "evaluating"
	StateContinuing State = "continuing"
	StateRetrying   State = "retrying"
	StateStopped    State = "stopped"
)

// StopReason explains why a search ended.
type StopReason string

const (
	StopExhausted        StopReason = "exhausted"         // consecutive failure limit reached
	StopCancelled        StopReason = "cancelled"         // operator stop or context cancellation
	StopGeneratorStalled StopReason = "generator_stalled" // outcomes missing past the grace period
	StopSetupFailed      StopReason = "setup_failed"      // a burst could not be dispatched
)

// Report is the output of one search: every burst in order, including the
// failed and retried ones, and the last good burst as the answer.
type Report struct {
	ID         string        `json:"id"`
	Target     Target        `json:"target"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Bursts     []BurstResult `json:"bursts"`
	Answer     *BurstResult  `json:"answer,omitempty"`
	StopReason StopReason    `json:"stop_reason"`
}

// Found reports whether any burst passed.
func (r *Report) Found() bool {
	return r.Answer != nil
}

// AnswerRate returns the attempted rate of the answer, or 0 when no rate
// was sustainable.
func (r *Report) AnswerRate() float64 {
	if r.Answer == nil {
		return 0
	}
	return r.Answer.AttemptedRate
}

// Status is a point-in-time view of a controller.
type Status struct {
	RunID               string       `json:"run_id"`
	Running             bool         `json:"running"`
	State               State        `json:"state"`
	CurrentRate         float64      `json:"current_rate"`
	StepSize            float64      `json:"step_size"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	StopRequested       bool         `json:"stop_requested"`
	Bursts              int          `json:"bursts"`
	LastGood            *BurstResult `json:"last_good,omitempty"`
}

// EventType distinguishes controller notifications.
type EventType string

const (
	EventState    EventType = "state"
	EventBurst    EventType = "burst"
	EventFinished EventType = "finished"
)

// Event is delivered to observers on every state change, after every
// evaluated burst and once when the search finishes.
type Event struct {
	Type   EventType    `json:"type"`
	Time   time.Time    `json:"time"`
	Status Status       `json:"status"`
	Burst  *BurstResult `json:"burst,omitempty"`
	Report *Report      `json:"report,omitempty"`
}

// Observer receives controller events synchronously on the control
// goroutine and must not block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// Observe calls f(e).
func (f ObserverFunc) Observe(e Event) { f(e) }
