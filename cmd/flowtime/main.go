package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	verbose bool
	debug   bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "flowtime",
	Short: "Time-driven execution engine for live and backtest timelines",
	Long: `Flowtime advances a clock, either tracking wall time or replaying a
historical timeline at host speed, and on every tick dispatches the
processors named in a scenario file with failure isolation, retry/backoff
and performance statistics.

The same scenario runs unmodified in realtime or backtest mode.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the flowtime version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("flowtime", version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug output")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
}

func setupLogger() *slog.Logger {
	level := slog.LevelWarn
	if debug {
		level = slog.LevelDebug
	} else if verbose {
		level = slog.LevelInfo
	}
	return slog.New(NewRunHandler(os.Stdout, level))
}
