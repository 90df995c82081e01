package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/FairForge/loadprobe/internal/config"
	"github.com/FairForge/loadprobe/internal/loadgen"
	"github.com/FairForge/loadprobe/internal/loadtest"
	"github.com/FairForge/loadprobe/internal/logging"
	"github.com/FairForge/loadprobe/internal/report"
	"github.com/FairForge/loadprobe/internal/store"
)

// loadConfig reads the configuration file and environment, then applies the
// command-line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}

	if flagLogLevel != "" {
		cfg.Logging.Level = flagLogLevel
	}
	if flagPattern != "" {
		cfg.Target.SuccessPattern = flagPattern
	}
	if flagEngine != "" {
		cfg.Generator.Engine = flagEngine
	}
	if flagRate > 0 {
		cfg.Probe.InitialRate = flagRate
	}
	if flagStep > 0 {
		cfg.Probe.InitialStep = flagStep
	}
	if flagWindow != "" {
		d, err := time.ParseDuration(flagWindow)
		if err != nil {
			return nil, fmt.Errorf("--window: %w", err)
		}
		cfg.Probe.Window = d
	}
	if flagDelay != "" {
		d, err := time.ParseDuration(flagDelay)
		if err != nil {
			return nil, fmt.Errorf("--delay: %w", err)
		}
		cfg.Probe.InterBurstDelay = d
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := logging.New(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return logger, nil
}

// newGenerator returns the configured load generator engine.
func newGenerator(cfg *config.Config, onProgress func(int), logger *zap.Logger) loadtest.Generator {
	opts := cfg.GeneratorOptions()
	opts.OnProgress = onProgress
	if cfg.Generator.Engine == config.EngineVegeta {
		return loadgen.NewVegetaGenerator(opts, logger)
	}
	return loadgen.NewDispatcher(opts, logger)
}

// openStore connects to the database when one is configured.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*store.Store, error) {
	if cfg.Database.DSN == "" {
		return nil, nil
	}
	db, err := store.Open(cfg.Database.DSN, cfg.Database.MaxOpenConns)
	if err != nil {
		return nil, err
	}
	s := store.New(db, logger)
	if err := s.Ping(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := s.CreateTables(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// newArchiver builds the report archiver when a bucket is configured.
func newArchiver(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*report.Archiver, error) {
	if cfg.Archive.Bucket == "" {
		return nil, nil
	}
	client, err := report.NewS3Client(ctx, cfg.Archive)
	if err != nil {
		return nil, err
	}
	return report.NewArchiver(client, cfg.Archive.Bucket, cfg.Archive.Prefix, logger), nil
}

type server interface {
	Start() error
	Shutdown(ctx context.Context) error
}

// plainServer adapts an http.Server to server.
type plainServer struct {
	*http.Server
	logger *zap.Logger
}

func (s plainServer) Start() error {
	s.logger.Info("listening", zap.String("addr", s.Addr))
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// serveUntilDone runs srv until ctx is cancelled or it fails, then shuts it
// down within timeout.
func serveUntilDone(ctx context.Context, srv server, timeout time.Duration, logger *zap.Logger) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
