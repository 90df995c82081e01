package loadtest

import (
	"math"
	"time"
)

// BuildSchedule returns the dispatch offsets for one burst: 0, d, 2d, ...
// while the offset is below window, where d = 1s / ratePerSecond.
// Offsets are floored to whole milliseconds. A non-positive rate or window
// yields an empty schedule.
func BuildSchedule(ratePerSecond float64, window time.Duration) []time.Duration {
	if ratePerSecond <= 0 || window <= 0 {
		return nil
	}

	delayMs := 1000 / ratePerSecond
	windowMs := float64(window) / float64(time.Millisecond)

	offsets := make([]time.Duration, 0, int(math.Ceil(windowMs/delayMs)))
	for i := 0; ; i++ {
		at := float64(i) * delayMs
		if at >= windowMs {
			break
		}
		offsets = append(offsets, time.Duration(math.Floor(at))*time.Millisecond)
	}
	return offsets
}
