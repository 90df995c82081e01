// Package workload implements the synthetic endpoint probed by a search. Each
// request runs a fixed amount of CPU, memory, database and filesystem work,
// prints the time spent per stage and ends with the success marker.
package workload

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/FairForge/loadprobe/internal/loadtest"
	"github.com/FairForge/loadprobe/internal/metrics"
)

const (
	cpuDepth     = 4
	cpuFanOut    = 10
	cpuCalls     = 10000
	ramSeed      = "This string contains 64 characters.                             "
	ramDoublings = 18
	dbLookups    = 50
	fsBytes      = 1 << 20
	seedRows     = 150
)

// ErrWrongCount is returned when the CPU stage did not make every call.
var ErrWrongCount = errors.New("wrong count")

// Options configures a Workload.
type Options struct {
	DataDir   string
	RateLimit float64 // requests/s, 0 disables the capacity ceiling
	Burst     int
}

// Workload serves the synthetic request.
type Workload struct {
	db      *sql.DB
	dataDir string
	limiter *rate.Limiter
	metrics *metrics.TargetCollector
	logger  *zap.Logger
}

// New creates a workload. db may be nil, which skips the database stages.
func New(db *sql.DB, opts Options, collector *metrics.TargetCollector, logger *zap.Logger) *Workload {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.DataDir == "" {
		opts.DataDir = os.TempDir()
	}

	w := &Workload{
		db:      db,
		dataDir: opts.DataDir,
		metrics: collector,
		logger:  logger,
	}
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		w.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return w
}

// Routes returns the router serving GET /loadtest.
func (w *Workload) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/loadtest", w.handleLoadTest)
	r.Get("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusOK)
	})
	return r
}

func (w *Workload) handleLoadTest(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if w.limiter != nil && !w.limiter.Allow() {
		if w.metrics != nil {
			w.metrics.RecordRejected()
		}
		http.Error(rw, "capacity exceeded", http.StatusServiceUnavailable)
		return
	}

	var out bytes.Buffer
	err := w.Run(r.Context(), &out)
	if w.metrics != nil {
		w.metrics.RecordCompleted(err == nil)
	}
	if err != nil {
		w.logger.Warn("workload failed", zap.Error(err))
		fmt.Fprintf(&out, "[Error] %v\n", err)
		rw.WriteHeader(http.StatusInternalServerError)
		_, _ = rw.Write(out.Bytes())
		return
	}

	_, _ = rw.Write(out.Bytes())
}

// Run executes every stage, writing one timing line per stage to out and the
// success marker after the last one. It stops at the first failing stage.
func (w *Workload) Run(ctx context.Context, out *bytes.Buffer) error {
	start := time.Now()
	if n := countCalls(0); n != cpuCalls {
		return fmt.Errorf("%w: %d", ErrWrongCount, n)
	}
	w.report(out, "CPU", time.Since(start), "")

	start = time.Now()
	blob := grow(ramSeed, ramDoublings)
	w.report(out, "RAM", time.Since(start), "")

	if w.db != nil {
		start = time.Now()
		if err := w.lookups(ctx); err != nil {
			return err
		}
		w.report(out, "DB1", time.Since(start), "")

		start = time.Now()
		count, err := w.joinCount(ctx)
		if err != nil {
			return err
		}
		w.report(out, "DB2", time.Since(start), fmt.Sprintf(" (result = %d)", count))

		start = time.Now()
		if err := w.writeLog(ctx); err != nil {
			return err
		}
		w.report(out, "DB3", time.Since(start), "")
	}

	start = time.Now()
	if err := w.writeTemp(blob[:fsBytes]); err != nil {
		return err
	}
	w.report(out, " FS", time.Since(start), "")

	out.WriteString("\n" + loadtest.DefaultSuccessPattern + "\n")
	return nil
}

func (w *Workload) report(out *bytes.Buffer, stage string, d time.Duration, suffix string) {
	fmt.Fprintf(out, "%s: %.1fms%s\n", stage, float64(d)/float64(time.Millisecond), suffix)
	if w.metrics != nil {
		w.metrics.ObserveStage(stageLabel(stage), d)
	}
}

// countCalls recurses cpuFanOut ways until cpuDepth and returns the number
// of leaf calls.
func countCalls(depth int) int {
	if depth == cpuDepth {
		return 1
	}
	total := 0
	for i := 0; i < cpuFanOut; i++ {
		total += countCalls(depth + 1)
	}
	return total
}

// grow doubles s n times by concatenation.
func grow(s string, n int) string {
	for i := 0; i < n; i++ {
		s += s
	}
	return s
}

func (w *Workload) lookups(ctx context.Context) error {
	for i := 0; i < dbLookups; i++ {
		var value string
		err := w.db.QueryRowContext(ctx,
			`SELECT value FROM loadprobe_config WHERE name = $1`,
			fmt.Sprintf("sillyname%d", rand.Int64()),
		).Scan(&value)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return fmt.Errorf("lookup: %w", err)
		}
		return errors.New("silly record should not exist")
	}
	return nil
}

func (w *Workload) joinCount(ctx context.Context) (int64, error) {
	var count int64
	err := w.db.QueryRowContext(ctx, `
		SELECT COUNT(1)
		FROM loadprobe_config c
		LEFT JOIN loadprobe_config c1 ON c1.id % 7 = c.id % 7
		LEFT JOIN loadprobe_config c2 ON c2.id % 11 = c1.id % 11
		WHERE c.id < 150 AND c1.id < 150 AND c2.id < 150`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("join count: %w", err)
	}
	return count, nil
}

func (w *Workload) writeLog(ctx context.Context) error {
	_, err := w.db.ExecContext(ctx,
		`INSERT INTO loadprobe_log (time, action, info) VALUES ($1, $2, $3)`,
		time.Now().UTC(), "test", "")
	if err != nil {
		return fmt.Errorf("insert log: %w", err)
	}
	return nil
}

func (w *Workload) writeTemp(data string) error {
	f, err := os.CreateTemp(w.dataDir, "loadtest.temp.deleteme.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	name := f.Name()
	defer func() { _ = os.Remove(name) }()

	if _, err := f.WriteString(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	return nil
}

func stageLabel(stage string) string {
	return strings.ToLower(strings.TrimSpace(stage))
}
