package loadgen

import (
	"context"
	"net/http"
	"regexp"
	"sync"
	"time"

	vegeta "github.com/tsenart/vegeta/v12/lib"
	"go.uber.org/zap"

	"github.com/FairForge/loadprobe/internal/loadtest"
)

// schedulePacer releases hit n at offsets[n] and stops after the last one.
type schedulePacer struct {
	offsets []time.Duration
	rate    float64
}

// Pace determines how long to sleep until the next hit is due.
func (p schedulePacer) Pace(elapsed time.Duration, hits uint64) (time.Duration, bool) {
	if hits >= uint64(len(p.offsets)) {
		return 0, true
	}
	if wait := p.offsets[hits] - elapsed; wait > 0 {
		return wait, false
	}
	return 0, false
}

// Rate returns the nominal rate of the burst.
func (p schedulePacer) Rate(time.Duration) float64 {
	return p.rate
}

// VegetaGenerator drives bursts through the vegeta attacker. All scheduled
// requests of a burst must share one target.
type VegetaGenerator struct {
	opts   Options
	logger *zap.Logger

	mu       sync.Mutex
	offsets  []time.Duration
	target   loadtest.Target
	pattern  *regexp.Regexp
	started  bool
	attacker *vegeta.Attacker
	done     chan struct{}
}

// NewVegetaGenerator creates a generator. MaxInFlight caps attacker
// workers; unlike Dispatcher, hits wait for a free worker instead of being
// dropped.
func NewVegetaGenerator(opts Options, logger *zap.Logger) *VegetaGenerator {
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = DefaultOptions().MaxInFlight
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VegetaGenerator{opts: opts, logger: logger}
}

// Reset stops a running attack and clears the schedule.
func (g *VegetaGenerator) Reset() {
	g.mu.Lock()
	attacker, done := g.attacker, g.done
	g.mu.Unlock()

	if attacker != nil {
		attacker.Stop()
		<-done
	}

	g.mu.Lock()
	g.offsets = nil
	g.target = loadtest.Target{}
	g.pattern = nil
	g.started = false
	g.attacker = nil
	g.done = nil
	g.mu.Unlock()
}

// Schedule queues a hit at offset. Offsets must be scheduled in ascending
// order.
func (g *VegetaGenerator) Schedule(offset time.Duration, target loadtest.Target) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.started {
		return 0, ErrAlreadyStarted
	}
	if err := validateURL(target.URL); err != nil {
		return 0, err
	}
	if n := len(g.offsets); n > 0 {
		if target != g.target {
			return 0, ErrInvalidTarget
		}
		if offset < g.offsets[n-1] {
			return 0, ErrInvalidTarget
		}
	} else {
		re, err := regexp.Compile(target.Pattern())
		if err != nil {
			return 0, ErrInvalidTarget
		}
		g.target = target
		g.pattern = re
	}

	g.offsets = append(g.offsets, offset)
	return len(g.offsets) - 1, nil
}

// Start launches the attack. Hits are identified by their vegeta sequence
// number; any hit the attacker never reports is emitted as a failure once
// the attack ends.
func (g *VegetaGenerator) Start(ctx context.Context) (<-chan loadtest.Outcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.started {
		return nil, ErrAlreadyStarted
	}
	g.started = true

	n := len(g.offsets)
	out := make(chan loadtest.Outcome, n)
	if n == 0 {
		close(out)
		return out, nil
	}

	attacker := vegeta.NewAttacker(
		vegeta.Timeout(g.opts.ConnectTimeout+g.opts.ReadTimeout),
		vegeta.Workers(uint64(g.opts.MaxInFlight)),
		vegeta.MaxWorkers(uint64(g.opts.MaxInFlight)),
		vegeta.KeepAlive(true),
	)
	g.attacker = attacker
	g.done = make(chan struct{})

	header := http.Header{}
	if g.opts.UserAgent != "" {
		header.Set("User-Agent", g.opts.UserAgent)
	}
	if g.opts.Cookie != "" {
		header.Set("Cookie", g.opts.Cookie)
	}
	targeter := vegeta.NewStaticTargeter(vegeta.Target{
		Method: http.MethodGet,
		URL:    g.target.URL,
		Header: header,
	})
	pacer := schedulePacer{offsets: append([]time.Duration(nil), g.offsets...), rate: nominalRate(g.offsets)}

	go g.run(ctx, attacker, targeter, pacer, g.pattern, out, g.done)
	return out, nil
}

func (g *VegetaGenerator) run(ctx context.Context, attacker *vegeta.Attacker, targeter vegeta.Targeter, pacer schedulePacer, pattern *regexp.Regexp, out chan<- loadtest.Outcome, done chan struct{}) {
	defer close(done)
	defer close(out)

	stop := context.AfterFunc(ctx, func() { attacker.Stop() })
	defer stop()

	n := len(pacer.offsets)
	reported := make([]bool, n)
	for res := range attacker.Attack(targeter, pacer, 0, "loadprobe") {
		idx := int(res.Seq)
		if idx < 0 || idx >= n || reported[idx] {
			continue
		}
		reported[idx] = true
		out <- toOutcome(idx, res, pattern)
	}

	missing := 0
	for i, ok := range reported {
		if !ok {
			missing++
			out <- loadtest.Outcome{Index: i, Err: "hit not reported by attacker"}
		}
	}
	if missing > 0 {
		g.logger.Warn("attack ended early", zap.Int("missing", missing), zap.Int("scheduled", n))
	}
}

func toOutcome(idx int, res *vegeta.Result, pattern *regexp.Regexp) loadtest.Outcome {
	outcome := loadtest.Outcome{Index: idx, Elapsed: res.Latency}
	switch {
	case res.Error != "":
		outcome.Err = res.Error
	case res.Code < 200 || res.Code > 299:
		outcome.Err = http.StatusText(int(res.Code))
		if outcome.Err == "" {
			outcome.Err = "unexpected status"
		}
	case !pattern.Match(res.Body):
		outcome.Err = "response did not match " + pattern.String()
	default:
		outcome.Success = true
	}
	return outcome
}

// nominalRate derives req/s from the spacing of an evenly spread schedule.
func nominalRate(offsets []time.Duration) float64 {
	if len(offsets) < 2 {
		return 1
	}
	span := offsets[len(offsets)-1] - offsets[0]
	if span <= 0 {
		return float64(len(offsets))
	}
	return float64(len(offsets)-1) / span.Seconds()
}
