package loadtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSchedule_OnePerSecond(t *testing.T) {
	offsets := BuildSchedule(1, 20*time.Second)

	require.Len(t, offsets, 20)
	for i, off := range offsets {
		assert.Equal(t, time.Duration(i)*time.Second, off)
	}
}

func TestBuildSchedule_FloorsFractionalDelays(t *testing.T) {
	offsets := BuildSchedule(3, time.Second)

	assert.Equal(t, []time.Duration{0, 333 * time.Millisecond, 666 * time.Millisecond}, offsets)
}

func TestBuildSchedule_NonIntegerRate(t *testing.T) {
	// 2.5 req/s is a 400ms spacing.
	offsets := BuildSchedule(2.5, 2*time.Second)

	assert.Equal(t, []time.Duration{
		0,
		400 * time.Millisecond,
		800 * time.Millisecond,
		1200 * time.Millisecond,
		1600 * time.Millisecond,
	}, offsets)
}

func TestBuildSchedule_SubSecondRate(t *testing.T) {
	offsets := BuildSchedule(0.25, 20*time.Second)

	assert.Equal(t, []time.Duration{0, 4 * time.Second, 8 * time.Second, 12 * time.Second, 16 * time.Second}, offsets)
}

func TestBuildSchedule_Deterministic(t *testing.T) {
	a := BuildSchedule(7.75, 20*time.Second)
	b := BuildSchedule(7.75, 20*time.Second)

	assert.Equal(t, a, b)
	for i := 1; i < len(a); i++ {
		assert.GreaterOrEqual(t, a[i], a[i-1], "offsets must be ordered")
	}
	assert.Less(t, a[len(a)-1], 20*time.Second)
}

func TestBuildSchedule_InvalidInput(t *testing.T) {
	assert.Empty(t, BuildSchedule(0, time.Second))
	assert.Empty(t, BuildSchedule(-1, time.Second))
	assert.Empty(t, BuildSchedule(1, 0))
}
