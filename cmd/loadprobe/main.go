// cmd/loadprobe/main.go
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "loadprobe",
	Short: "Find the highest request rate a server sustains",
	Long: `loadprobe searches for the highest request rate a web endpoint can sustain.

It sends fixed-length bursts of requests at a steady rate, raises the rate
after every burst the server handled and backs off after every burst it did
not, until three bursts in a row fail.

Examples:
  loadprobe target                                  # serve the synthetic workload on :8080
  loadprobe run http://localhost:8080/loadtest      # run one search and print the report
  loadprobe run -o json --engine vegeta <url>       # same, through vegeta, as JSON
  loadprobe serve -c loadprobe.yaml                 # operator API on :8090`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Flags shared by every command
var (
	flagConfig   string
	flagLogLevel string
)

// Flags for run
var (
	flagPattern  string
	flagEngine   string
	flagOutput   string
	flagRate     float64
	flagStep     float64
	flagWindow   string
	flagDelay    string
	flagProgress bool
	flagNoStore  bool
)

// Flags for serve and target
var (
	flagAddr string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level (debug/info/warn/error)")

	runCmd.Flags().StringVarP(&flagPattern, "pattern", "p", "", "Regular expression a successful response body must match")
	runCmd.Flags().StringVar(&flagEngine, "engine", "", "Load generator (native/vegeta)")
	runCmd.Flags().StringVarP(&flagOutput, "output", "o", "text", "Report format (text/json)")
	runCmd.Flags().Float64Var(&flagRate, "rate", 0, "Initial rate in requests/s")
	runCmd.Flags().Float64Var(&flagStep, "step", 0, "Initial rate step in requests/s")
	runCmd.Flags().StringVar(&flagWindow, "window", "", "Burst length (e.g. 20s)")
	runCmd.Flags().StringVar(&flagDelay, "delay", "", "Pause between bursts (e.g. 10s)")
	runCmd.Flags().BoolVar(&flagProgress, "progress", false, "Show burst progress on stderr")
	runCmd.Flags().BoolVar(&flagNoStore, "no-store", false, "Do not save the report to the database or archive")

	serveCmd.Flags().StringVar(&flagAddr, "addr", "", "Listen address")
	targetCmd.Flags().StringVar(&flagAddr, "addr", "", "Listen address")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(targetCmd)
}
