package loadtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func outcomesMs(pairs ...interface{}) []Outcome {
	var out []Outcome
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, Outcome{
			Index:   len(out),
			Elapsed: time.Duration(pairs[i].(int)) * time.Millisecond,
			Success: pairs[i+1].(bool),
		})
	}
	return out
}

func TestAggregate_MedianPicksFloorHalfIndex(t *testing.T) {
	tests := []struct {
		name     string
		elapsed  []int
		expected int64
	}{
		{"single", []int{42}, 42},
		{"odd", []int{300, 100, 200}, 200},
		{"even takes upper middle", []int{400, 100, 300, 200}, 300},
		{"even pair", []int{10, 20}, 20},
		{"duplicates", []int{5, 5, 5, 9, 1}, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var outcomes []Outcome
			for i, ms := range tt.elapsed {
				outcomes = append(outcomes, Outcome{Index: i, Elapsed: time.Duration(ms) * time.Millisecond, Success: true})
			}
			result := Aggregate(1, outcomes, time.Second)
			assert.Equal(t, tt.expected, result.MedianLatencyMs)
		})
	}
}

func TestAggregate_OneFailureOfThree(t *testing.T) {
	result := Aggregate(1, outcomesMs(100, true, 150, true, 900, false), 3*time.Second)

	assert.Equal(t, 66.7, result.SuccessPercent)
	assert.Equal(t, int64(150), result.MedianLatencyMs)
	assert.Equal(t, 1.0, result.ActualRate)
	assert.Equal(t, 3, result.Requests)
	assert.Equal(t, 1, result.Failures)
}

func TestAggregate_ActualRateRoundsToTwoDecimals(t *testing.T) {
	outcomes := make([]Outcome, 20)
	for i := range outcomes {
		outcomes[i] = Outcome{Index: i, Elapsed: 10 * time.Millisecond, Success: true}
	}

	result := Aggregate(1, outcomes, 20350*time.Millisecond)

	// 20 * 1000 / 20350 = 0.98280...
	assert.Equal(t, 0.98, result.ActualRate)
	assert.Equal(t, 100.0, result.SuccessPercent)
	assert.Equal(t, int64(20350), result.ElapsedMs)
}

func TestAggregate_SuccessPercentWithinBounds(t *testing.T) {
	for n := 1; n <= 12; n++ {
		for successes := 0; successes <= n; successes++ {
			outcomes := make([]Outcome, n)
			for i := range outcomes {
				outcomes[i] = Outcome{Index: i, Success: i < successes}
			}
			result := Aggregate(1, outcomes, time.Second)

			assert.GreaterOrEqual(t, result.SuccessPercent, 0.0)
			assert.LessOrEqual(t, result.SuccessPercent, 100.0)
			assert.Equal(t, round1(float64(successes)*100/float64(n)), result.SuccessPercent)
		}
	}
}

func TestAggregate_ArrivalOrderIrrelevant(t *testing.T) {
	forward := outcomesMs(10, true, 20, true, 30, false, 40, true, 50, true)
	reversed := make([]Outcome, len(forward))
	for i, o := range forward {
		reversed[len(forward)-1-i] = o
	}

	assert.Equal(t, Aggregate(5, forward, time.Second), Aggregate(5, reversed, time.Second))
}

func TestAggregate_CountsDropped(t *testing.T) {
	outcomes := []Outcome{
		{Index: 0, Elapsed: 10 * time.Millisecond, Success: true},
		{Index: 1, Dropped: true, Err: "all workers busy"},
	}

	result := Aggregate(2, outcomes, time.Second)

	assert.Equal(t, 1, result.Dropped)
	assert.Equal(t, 1, result.Failures)
	assert.Equal(t, 50.0, result.SuccessPercent)
}

func TestAggregate_DoesNotReorderInput(t *testing.T) {
	outcomes := outcomesMs(30, true, 10, true, 20, true)
	Aggregate(1, outcomes, time.Second)

	assert.Equal(t, 30*time.Millisecond, outcomes[0].Elapsed)
}

func TestAggregate_Empty(t *testing.T) {
	result := Aggregate(3, nil, time.Second)

	assert.Equal(t, 3.0, result.AttemptedRate)
	assert.Zero(t, result.Requests)
	assert.Zero(t, result.SuccessPercent)
	assert.Zero(t, result.ActualRate)
}
