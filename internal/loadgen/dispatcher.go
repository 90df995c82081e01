// Package loadgen dispatches scheduled HTTP requests against a target and
// reports one outcome per request.
package loadgen

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/FairForge/loadprobe/internal/loadtest"
)

var (
	ErrAlreadyStarted = errors.New("loadgen: burst already started")
	ErrInvalidTarget  = errors.New("loadgen: invalid target")
)

// assumedRequestLength pads the progress horizon past the last offset.
const assumedRequestLength = time.Second

// Options tunes request dispatch. Requests beyond MaxInFlight are dropped.
// Cookie is the full header value and is only sent when set. OnProgress is
// called from the dispatch goroutine.
type Options struct {
	MaxInFlight    int
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	UserAgent      string
	Cookie         string
	OnProgress     func(percent int)
}

// DefaultOptions returns 20 in-flight requests with 10s connect and read
// timeouts.
func DefaultOptions() Options {
	return Options{
		MaxInFlight:    20,
		ConnectTimeout: 10 * time.Second,
		ReadTimeout:    10 * time.Second,
		UserAgent:      "loadprobe/1.0",
	}
}

type task struct {
	index   int
	offset  time.Duration
	url     string
	pattern *regexp.Regexp
}

// Dispatcher is a bounded pool that fires each scheduled request at its
// offset. When every slot is busy at a request's due time the request is
// not attempted and reported as dropped.
type Dispatcher struct {
	opts   Options
	client *http.Client
	logger *zap.Logger

	mu       sync.Mutex
	tasks    []task
	started  bool
	cancel   context.CancelFunc
	done     chan struct{}
	patterns map[string]*regexp.Regexp
}

// NewDispatcher creates a dispatcher with its own HTTP transport.
func NewDispatcher(opts Options, logger *zap.Logger) *Dispatcher {
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = DefaultOptions().MaxInFlight
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   opts.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          opts.MaxInFlight,
		MaxIdleConnsPerHost:   opts.MaxInFlight,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: opts.ReadTimeout,
	}

	client := &http.Client{Transport: transport}
	if opts.ConnectTimeout > 0 && opts.ReadTimeout > 0 {
		client.Timeout = opts.ConnectTimeout + opts.ReadTimeout
	}

	return &Dispatcher{
		opts:     opts,
		client:   client,
		logger:   logger,
		patterns: make(map[string]*regexp.Regexp),
	}
}

// Reset cancels any in-flight burst, waits for it to wind down and clears
// the schedule.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	d.mu.Lock()
	d.tasks = nil
	d.started = false
	d.cancel = nil
	d.done = nil
	d.mu.Unlock()
}

// Schedule queues a GET of target.URL at offset. The response succeeds when
// its status is 2xx and the body matches target.Pattern().
func (d *Dispatcher) Schedule(offset time.Duration, target loadtest.Target) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return 0, ErrAlreadyStarted
	}
	if offset < 0 {
		return 0, fmt.Errorf("%w: negative offset %v", ErrInvalidTarget, offset)
	}
	if err := validateURL(target.URL); err != nil {
		return 0, err
	}

	pattern, err := d.compile(target.Pattern())
	if err != nil {
		return 0, err
	}

	index := len(d.tasks)
	d.tasks = append(d.tasks, task{index: index, offset: offset, url: target.URL, pattern: pattern})
	return index, nil
}

func (d *Dispatcher) compile(expr string) (*regexp.Regexp, error) {
	if re, ok := d.patterns[expr]; ok {
		return re, nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: success pattern: %v", ErrInvalidTarget, err)
	}
	d.patterns[expr] = re
	return re, nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidTarget, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidTarget)
	}
	return nil
}

// Start begins the burst. The returned channel is buffered for the whole
// schedule and closed once every request has reported.
func (d *Dispatcher) Start(ctx context.Context) (<-chan loadtest.Outcome, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return nil, ErrAlreadyStarted
	}
	d.started = true

	tasks := append([]task(nil), d.tasks...)
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].offset < tasks[j].offset })

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})

	out := make(chan loadtest.Outcome, len(tasks))
	go d.run(runCtx, tasks, out, d.done)

	d.logger.Debug("burst started", zap.Int("requests", len(tasks)))
	return out, nil
}

func (d *Dispatcher) run(ctx context.Context, tasks []task, out chan<- loadtest.Outcome, done chan struct{}) {
	defer close(done)
	defer close(out)

	progress := newProgressTracker(tasks, d.opts.OnProgress)
	semaphore := make(chan struct{}, d.opts.MaxInFlight)
	var wg sync.WaitGroup
	start := time.Now()

	for i, t := range tasks {
		if !d.waitUntil(ctx, start.Add(t.offset), progress, start) {
			// Cancelled: the rest are reported without being attempted.
			for _, rest := range tasks[i:] {
				out <- loadtest.Outcome{Index: rest.index, Err: "burst cancelled"}
			}
			break
		}

		select {
		case semaphore <- struct{}{}:
			wg.Add(1)
			go func(t task) {
				defer wg.Done()
				defer func() { <-semaphore }()
				out <- d.execute(ctx, t)
			}(t)
		default:
			out <- loadtest.Outcome{Index: t.index, Dropped: true, Err: "all workers busy"}
		}
	}

	wg.Wait()
	progress.finish()
}

// waitUntil sleeps until due, reporting progress on the way. It returns
// false when ctx ends first.
func (d *Dispatcher) waitUntil(ctx context.Context, due time.Time, progress *progressTracker, start time.Time) bool {
	for {
		progress.update(time.Since(start))

		wait := time.Until(due)
		if wait <= 0 {
			return ctx.Err() == nil
		}
		if tick := progress.nextTick(); tick > 0 && tick < wait {
			wait = tick
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return false
		}
	}
}

func (d *Dispatcher) execute(ctx context.Context, t task) loadtest.Outcome {
	started := time.Now()
	outcome := loadtest.Outcome{Index: t.index}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url, nil)
	if err != nil {
		outcome.Err = err.Error()
		return outcome
	}
	if d.opts.UserAgent != "" {
		req.Header.Set("User-Agent", d.opts.UserAgent)
	}
	if d.opts.Cookie != "" {
		req.Header.Set("Cookie", d.opts.Cookie)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		outcome.Elapsed = time.Since(started)
		outcome.Err = err.Error()
		return outcome
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	outcome.Elapsed = time.Since(started)
	switch {
	case err != nil:
		outcome.Err = fmt.Sprintf("read body: %v", err)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		outcome.Err = fmt.Sprintf("unexpected status %d", resp.StatusCode)
	case !t.pattern.Match(body):
		outcome.Err = fmt.Sprintf("response did not match %q", t.pattern.String())
	default:
		outcome.Success = true
	}
	return outcome
}

// progressTracker reports the percentage of the expected burst duration
// that has elapsed, only when it changes.
type progressTracker struct {
	horizon time.Duration
	percent int
	notify  func(int)
}

func newProgressTracker(tasks []task, notify func(int)) *progressTracker {
	horizon := assumedRequestLength
	if n := len(tasks); n > 0 {
		horizon += tasks[n-1].offset
	}
	return &progressTracker{horizon: horizon, percent: -1, notify: notify}
}

func (p *progressTracker) update(elapsed time.Duration) {
	if p.notify == nil {
		return
	}
	percent := int(elapsed * 100 / p.horizon)
	if percent > 100 {
		percent = 100
	}
	if percent != p.percent {
		p.percent = percent
		p.notify(percent)
	}
}

// nextTick is the time between percentage points, or 0 when nobody listens.
func (p *progressTracker) nextTick() time.Duration {
	if p.notify == nil {
		return 0
	}
	return p.horizon / 100
}

func (p *progressTracker) finish() {
	if p.notify != nil && p.percent != 100 {
		p.percent = 100
		p.notify(100)
	}
}
