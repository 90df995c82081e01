// internal/api/manager.go
package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/FairForge/loadprobe/internal/loadtest"
	"github.com/FairForge/loadprobe/internal/store"
)

var (
	ErrNotRunning     = errors.New("api: no search is running")
	ErrInvalidRequest = errors.New("api: invalid request")
)

const (
	historySize = 20
	persistWait = 30 * time.Second
)

// GeneratorFactory returns a fresh generator for each search.
type GeneratorFactory func() loadtest.Generator

// ReportStore persists finished searches.
type ReportStore interface {
	SaveReport(ctx context.Context, report *loadtest.Report) error
	ListRuns(ctx context.Context, limit int) ([]store.RunSummary, error)
	GetReport(ctx context.Context, id string) (*loadtest.Report, error)
}

// ReportArchiver uploads finished searches.
type ReportArchiver interface {
	Save(ctx context.Context, report *loadtest.Report) (string, error)
}

// StartRequest overrides the configured target and search parameters for one
// run. Zero values keep the configured defaults.
type StartRequest struct {
	URL         string  `json:"url,omitempty"`
	Pattern     string  `json:"pattern,omitempty"`
	InitialRate float64 `json:"initial_rate,omitempty"`
	InitialStep float64 `json:"initial_step,omitempty"`
	MaxFailures int     `json:"max_failures,omitempty"`
	Window      string  `json:"window,omitempty"`
	Delay       string  `json:"inter_burst_delay,omitempty"`
}

// ManagerConfig wires a Manager. Store and Archiver are optional.
type ManagerConfig struct {
	Probe        *loadtest.ProbeConfig
	Target       loadtest.Target
	NewGenerator GeneratorFactory
	Store        ReportStore
	Archiver     ReportArchiver
	Observers    []loadtest.Observer
	Logger       *zap.Logger
}

// Manager owns at most one active search and the history of finished ones.
type Manager struct {
	probe        loadtest.ProbeConfig
	target       loadtest.Target
	newGenerator GeneratorFactory
	store        ReportStore
	archiver     ReportArchiver
	observers    []loadtest.Observer
	logger       *zap.Logger

	mu         sync.Mutex
	controller *loadtest.AdaptiveController
	running    bool
	cancel     context.CancelFunc
	done       chan struct{}
	history    []*loadtest.Report
}

// NewManager creates a manager from cfg.
func NewManager(cfg ManagerConfig) *Manager {
	probe := cfg.Probe
	if probe == nil {
		probe = loadtest.DefaultProbeConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		probe:        *probe,
		target:       cfg.Target,
		newGenerator: cfg.NewGenerator,
		store:        cfg.Store,
		archiver:     cfg.Archiver,
		observers:    cfg.Observers,
		logger:       logger,
	}
}

// Start launches a search in the background and returns its run id.
func (m *Manager) Start(req StartRequest) (string, error) {
	probe, target, err := m.resolve(req)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return "", loadtest.ErrAlreadyRunning
	}

	controller := loadtest.NewAdaptiveController(probe, m.newGenerator(), target, m.logger)
	for _, o := range m.observers {
		controller.AddObserver(o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.controller = controller
	m.running = true
	m.cancel = cancel
	m.done = done

	go m.run(ctx, controller, done)
	return controller.ID(), nil
}

func (m *Manager) run(ctx context.Context, controller *loadtest.AdaptiveController, done chan struct{}) {
	defer close(done)

	report, err := controller.Run(ctx)
	if err != nil {
		m.logger.Error("search ended with error", zap.String("run_id", controller.ID()), zap.Error(err))
	}

	if report != nil {
		m.persist(report)
	}

	m.mu.Lock()
	if report != nil {
		m.history = append(m.history, report)
		if len(m.history) > historySize {
			m.history = m.history[len(m.history)-historySize:]
		}
	}
	m.running = false
	m.cancel()
	m.mu.Unlock()
}

func (m *Manager) persist(report *loadtest.Report) {
	ctx, cancel := context.WithTimeout(context.Background(), persistWait)
	defer cancel()

	if m.store != nil {
		if err := m.store.SaveReport(ctx, report); err != nil {
			m.logger.Error("failed to save report", zap.String("run_id", report.ID), zap.Error(err))
		}
	}
	if m.archiver != nil {
		if _, err := m.archiver.Save(ctx, report); err != nil {
			m.logger.Error("failed to archive report", zap.String("run_id", report.ID), zap.Error(err))
		}
	}
}

func (m *Manager) resolve(req StartRequest) (*loadtest.ProbeConfig, loadtest.Target, error) {
	probe := m.probe
	target := m.target

	if req.URL != "" {
		target.URL = req.URL
	}
	if req.Pattern != "" {
		target.SuccessPattern = req.Pattern
	}
	if target.URL == "" {
		return nil, target, fmt.Errorf("%w: target url is required", ErrInvalidRequest)
	}

	if req.InitialRate < 0 || req.InitialStep < 0 || req.MaxFailures < 0 {
		return nil, target, fmt.Errorf("%w: overrides cannot be negative", ErrInvalidRequest)
	}
	if req.InitialRate > 0 {
		probe.InitialRate = req.InitialRate
	}
	if req.InitialStep > 0 {
		probe.InitialStep = req.InitialStep
	}
	if req.MaxFailures > 0 {
		probe.MaxFailures = req.MaxFailures
	}
	if req.Window != "" {
		d, err := time.ParseDuration(req.Window)
		if err != nil {
			return nil, target, fmt.Errorf("%w: window: %v", ErrInvalidRequest, err)
		}
		probe.Window = d
	}
	if req.Delay != "" {
		d, err := time.ParseDuration(req.Delay)
		if err != nil {
			return nil, target, fmt.Errorf("%w: inter_burst_delay: %v", ErrInvalidRequest, err)
		}
		probe.InterBurstDelay = d
	}

	if err := probe.Validate(); err != nil {
		return nil, target, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return &probe, target, nil
}

// Stop asks the active search to end at the next burst boundary.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return ErrNotRunning
	}
	m.controller.Stop()
	return nil
}

// Status reports the active or most recent search.
func (m *Manager) Status() loadtest.Status {
	m.mu.Lock()
	controller, running := m.controller, m.running
	m.mu.Unlock()
	if controller == nil {
		return loadtest.Status{State: loadtest.StateIdle}
	}
	st := controller.Status()
	st.Running = st.Running || running
	return st
}

// Runs lists finished searches, newest first.
func (m *Manager) Runs(ctx context.Context, limit int) ([]store.RunSummary, error) {
	if m.store != nil {
		return m.store.ListRuns(ctx, limit)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	runs := make([]store.RunSummary, 0, len(m.history))
	for i := len(m.history) - 1; i >= 0; i-- {
		if limit > 0 && len(runs) == limit {
			break
		}
		runs = append(runs, summarize(m.history[i]))
	}
	return runs, nil
}

// Report returns a finished search by id.
func (m *Manager) Report(ctx context.Context, id string) (*loadtest.Report, error) {
	m.mu.Lock()
	for _, r := range m.history {
		if r.ID == id {
			m.mu.Unlock()
			return r, nil
		}
	}
	m.mu.Unlock()

	if m.store != nil {
		return m.store.GetReport(ctx, id)
	}
	return nil, store.ErrNotFound
}

// Wait blocks until the active search, if any, has finished and been saved.
func (m *Manager) Wait() {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Shutdown stops the active search and waits for it up to ctx's deadline.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	done := m.done
	if m.running {
		m.controller.Stop()
		m.cancel()
	}
	m.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func summarize(r *loadtest.Report) store.RunSummary {
	s := store.RunSummary{
		ID:         r.ID,
		Target:     r.Target.URL,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		StopReason: r.StopReason,
	}
	if r.Found() {
		rate := r.AnswerRate()
		s.AnswerRate = &rate
	}
	return s
}
