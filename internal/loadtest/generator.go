package loadtest

import (
	"context"
	"time"
)

// DefaultSuccessPattern is the marker the target prints when a request
// completed every stage.
const DefaultSuccessPattern = "Finished OK"

// Target identifies what a scheduled request fetches and how success is
// recognised in the response body.
type Target struct {
	URL            string `json:"url"`
	SuccessPattern string `json:"success_pattern"`
}

// Pattern returns the success pattern, falling back to the default marker.
func (t Target) Pattern() string {
	if t.SuccessPattern == "" {
		return DefaultSuccessPattern
	}
	return t.SuccessPattern
}

// Generator dispatches one burst of scheduled requests.
//
// Reset discards the schedule and cancels anything still in flight.
// Schedule queues a request at offset from the start of the burst and
// returns its index; it fails once the burst has started. Start begins the
// burst and returns a channel that receives exactly one Outcome per
// scheduled request and is closed after the last one.
type Generator interface {
	Reset()
	Schedule(offset time.Duration, target Target) (int, error)
	Start(ctx context.Context) (<-chan Outcome, error)
}
