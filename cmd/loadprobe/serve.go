package main

import (
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/FairForge/loadprobe/internal/api"
	"github.com/FairForge/loadprobe/internal/loadtest"
	"github.com/FairForge/loadprobe/internal/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the operator API",
	Long: `Serve the operator API under /api/v1/probe with Prometheus metrics on /metrics.

Searches are started with POST /api/v1/probe/start and followed live on the
/api/v1/probe/events websocket.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if flagAddr != "" {
		cfg.Server.Addr = flagAddr
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	hub := api.NewHub(logger.Named("events"))
	managerCfg := api.ManagerConfig{
		Probe:  cfg.ProbeSettings(),
		Target: cfg.ProbeTarget(),
		NewGenerator: func() loadtest.Generator {
			return newGenerator(cfg, nil, logger.Named("loadgen"))
		},
		Observers: []loadtest.Observer{hub, metrics.NewProbeCollector(reg)},
		Logger:    logger.Named("probe"),
	}

	st, err := openStore(ctx, cfg, logger.Named("store"))
	if err != nil {
		return err
	}
	if st != nil {
		defer func() { _ = st.Close() }()
		managerCfg.Store = st
	}

	archiver, err := newArchiver(ctx, cfg, logger.Named("archive"))
	if err != nil {
		return err
	}
	if archiver != nil {
		managerCfg.Archiver = archiver
	}

	srv := api.NewServer(cfg.Server.Addr, api.NewManager(managerCfg), hub, reg,
		metrics.NewHTTPCollector(reg, "api"), logger)

	logger.Info("operator api ready",
		zap.String("addr", cfg.Server.Addr),
		zap.String("engine", cfg.Generator.Engine),
		zap.Bool("store", st != nil),
		zap.Bool("archive", archiver != nil))

	return serveUntilDone(ctx, srv, cfg.Server.ShutdownTimeout, logger)
}

