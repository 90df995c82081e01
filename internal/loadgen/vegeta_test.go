package loadgen

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/FairForge/loadprobe/internal/loadtest"
)

func TestSchedulePacer(t *testing.T) {
	p := schedulePacer{offsets: []time.Duration{0, 250 * time.Millisecond, 500 * time.Millisecond}, rate: 4}

	wait, stop := p.Pace(0, 0)
	assert.Zero(t, wait)
	assert.False(t, stop)

	wait, stop = p.Pace(100*time.Millisecond, 1)
	assert.Equal(t, 150*time.Millisecond, wait)
	assert.False(t, stop)

	// Running late fires immediately.
	wait, stop = p.Pace(600*time.Millisecond, 2)
	assert.Zero(t, wait)
	assert.False(t, stop)

	_, stop = p.Pace(time.Second, 3)
	assert.True(t, stop)

	assert.Equal(t, 4.0, p.Rate(0))
}

func TestNominalRate(t *testing.T) {
	assert.Equal(t, 1.0, nominalRate(loadtest.BuildSchedule(1, 20*time.Second)))
	assert.Equal(t, 4.0, nominalRate(loadtest.BuildSchedule(4, 5*time.Second)))
	assert.Equal(t, 1.0, nominalRate([]time.Duration{0}))
}

func TestVegetaGenerator_RunsBurst(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "loadprobe/1.0" {
			http.Error(w, "missing agent", http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, "Finished OK")
	}))
	defer srv.Close()

	g := NewVegetaGenerator(DefaultOptions(), zaptest.NewLogger(t))
	target := loadtest.Target{URL: srv.URL + "/loadtest"}
	for _, off := range []time.Duration{0, 20 * time.Millisecond, 40 * time.Millisecond, 60 * time.Millisecond} {
		_, err := g.Schedule(off, target)
		require.NoError(t, err)
	}

	ch, err := g.Start(context.Background())
	require.NoError(t, err)
	outcomes := drain(t, ch, 10*time.Second)

	require.Len(t, outcomes, 4)
	for i, o := range outcomes {
		assert.Equal(t, i, o.Index)
		assert.True(t, o.Success, o.Err)
	}

	g.Reset()
	idx, err := g.Schedule(0, target)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
}

func TestVegetaGenerator_ReportsMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "Stage 1 done")
	}))
	defer srv.Close()

	g := NewVegetaGenerator(DefaultOptions(), nil)
	_, err := g.Schedule(0, loadtest.Target{URL: srv.URL})
	require.NoError(t, err)

	ch, err := g.Start(context.Background())
	require.NoError(t, err)
	outcomes := drain(t, ch, 10*time.Second)

	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].Success)
	assert.Contains(t, outcomes[0].Err, "did not match")
}

func TestVegetaGenerator_ScheduleRules(t *testing.T) {
	g := NewVegetaGenerator(DefaultOptions(), nil)
	target := loadtest.Target{URL: "http://example.com/loadtest"}

	_, err := g.Schedule(time.Second, target)
	require.NoError(t, err)

	_, err = g.Schedule(0, target)
	assert.ErrorIs(t, err, ErrInvalidTarget, "offsets must ascend")

	_, err = g.Schedule(2*time.Second, loadtest.Target{URL: "http://other.example.com/"})
	assert.ErrorIs(t, err, ErrInvalidTarget, "one target per burst")

	_, err = g.Schedule(0, loadtest.Target{URL: "mailto:someone@example.com"})
	assert.ErrorIs(t, err, ErrInvalidTarget)
}

func TestVegetaGenerator_EmptyBurst(t *testing.T) {
	g := NewVegetaGenerator(DefaultOptions(), nil)

	ch, err := g.Start(context.Background())
	require.NoError(t, err)
	assert.Empty(t, drain(t, ch, time.Second))

	_, err = g.Start(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}
