package main

import (
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/FairForge/loadprobe/internal/metrics"
	"github.com/FairForge/loadprobe/internal/store"
	"github.com/FairForge/loadprobe/internal/workload"
)

var targetCmd = &cobra.Command{
	Use:   "target",
	Short: "Serve the synthetic workload endpoint",
	Long: `Serve GET /loadtest, a request that spends a fixed amount of CPU, memory,
database and filesystem time and ends with "Finished OK".

The database stages run only when database.dsn is set. workload.rate_limit
caps the rate the endpoint accepts, which gives a search a known answer.`,
	Args: cobra.NoArgs,
	RunE: runTarget,
}

func runTarget(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if flagAddr != "" {
		cfg.Workload.Addr = flagAddr
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	opts := workload.Options{
		DataDir:   cfg.Workload.DataDir,
		RateLimit: cfg.Workload.RateLimit,
		Burst:     cfg.Workload.Burst,
	}

	var w *workload.Workload
	if cfg.Database.DSN != "" {
		db, err := store.Open(cfg.Database.DSN, cfg.Database.MaxOpenConns)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		w = workload.New(db, opts, metrics.NewTargetCollector(reg), logger)
		if err := w.EnsureSchema(ctx); err != nil {
			return err
		}
	} else {
		w = workload.New(nil, opts, metrics.NewTargetCollector(reg), logger)
	}

	r := chi.NewRouter()
	r.Use(metrics.Middleware(metrics.NewHTTPCollector(reg, "target")))
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Mount("/", w.Routes())

	logger.Info("workload target ready",
		zap.String("addr", cfg.Workload.Addr),
		zap.Bool("database", cfg.Database.DSN != ""),
		zap.Float64("rate_limit", cfg.Workload.RateLimit))

	srv := plainServer{
		Server: &http.Server{
			Addr:              cfg.Workload.Addr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
	return serveUntilDone(ctx, srv, cfg.Server.ShutdownTimeout, logger)
}
