package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/FairForge/loadprobe/internal/config"
	"github.com/FairForge/loadprobe/internal/loadtest"
	"github.com/FairForge/loadprobe/internal/report"
)

var runCmd = &cobra.Command{
	Use:   "run [url]",
	Short: "Run one rate search and print the report",
	Long: `Run one rate search against url (or target.url from the configuration).

The first interrupt finishes the burst in progress and stops; a second one
aborts immediately.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSearch,
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(args) == 1 {
		cfg.Target.URL = args[0]
	}
	if cfg.Target.URL == "" {
		return errors.New("no target url: pass one or set target.url")
	}
	if flagOutput != "text" && flagOutput != "json" {
		return fmt.Errorf("unknown output format %q", flagOutput)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	stderr := cmd.ErrOrStderr()
	var onProgress func(int)
	if flagProgress {
		onProgress = func(percent int) { fmt.Fprintf(stderr, "\r  burst %3d%%", percent) }
	}

	controller := loadtest.NewAdaptiveController(cfg.ProbeSettings(), newGenerator(cfg, onProgress, logger), cfg.ProbeTarget(), logger)
	controller.AddObserver(progressPrinter(stderr))

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	stopOnSignal(ctx, controller, stderr)

	fmt.Fprintf(stderr, "Searching %s (run %s)\n", cfg.Target.URL, controller.ID())
	result, runErr := controller.Run(ctx)
	if result == nil {
		return runErr
	}

	if !flagNoStore {
		saveReport(cfg, result, logger)
	}

	out := cmd.OutOrStdout()
	if flagOutput == "json" {
		err = report.WriteJSON(out, result)
	} else {
		err = report.WriteText(out, result)
	}
	if err != nil {
		return err
	}
	return runErr
}

// stopOnSignal turns the first interrupt into a stop at the next burst
// boundary and the second into an immediate exit.
func stopOnSignal(ctx context.Context, controller *loadtest.AdaptiveController, w io.Writer) {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigs)
		select {
		case <-sigs:
		case <-ctx.Done():
			return
		}
		fmt.Fprintln(w, "\nStopping after the current burst (interrupt again to abort)")
		controller.Stop()

		select {
		case <-sigs:
			fmt.Fprintln(w, "Aborted")
			os.Exit(130)
		case <-ctx.Done():
		}
	}()
}

func progressPrinter(w io.Writer) loadtest.Observer {
	return loadtest.ObserverFunc(func(e loadtest.Event) {
		switch e.Type {
		case loadtest.EventBurst:
			b := e.Burst
			fmt.Fprintf(w, "\r%6g req/s: actual %.2f, median %d ms, %.1f%% ok -> %s\n",
				b.AttemptedRate, b.ActualRate, b.MedianLatencyMs, b.SuccessPercent, b.Verdict)
		case loadtest.EventState:
			if e.Status.State == loadtest.StateRunning {
				fmt.Fprintf(w, "Burst %d at %g req/s\n", e.Status.Bursts+1, e.Status.CurrentRate)
			}
		}
	})
}

func saveReport(cfg *config.Config, result *loadtest.Report, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("report not saved", zap.Error(err))
	} else if st != nil {
		defer func() { _ = st.Close() }()
		if err := st.SaveReport(ctx, result); err != nil {
			logger.Error("report not saved", zap.Error(err))
		}
	}

	archiver, err := newArchiver(ctx, cfg, logger)
	if err != nil {
		logger.Error("report not archived", zap.Error(err))
		return
	}
	if archiver != nil {
		if _, err := archiver.Save(ctx, result); err != nil {
			logger.Error("report not archived", zap.Error(err))
		}
	}
}
