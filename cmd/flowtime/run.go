package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/FlowtimeProject/flowtime/pkg/clock"
	"github.com/FlowtimeProject/flowtime/pkg/config"
	"github.com/FlowtimeProject/flowtime/pkg/monitor"
	"github.com/FlowtimeProject/flowtime/pkg/processor"
)

var (
	runDuration  time.Duration
	metricsAddr  string
	outputFormat string
)

var runCmd = &cobra.Command{
	Use:   "run <scenario.yaml>",
	Short: "Run a scenario",
	Long: `Run a scenario from a YAML file.

The scenario defines the clock mode and timeline, the retry policy for
network processors, and the processors to drive.

A backtest scenario runs from its start time to its end time and exits.
A realtime scenario runs until interrupted, or for --duration if given.

Examples:
  # Replay a historical timeline as fast as the host allows
  flowtime run scenarios/backtest.yaml

  # Track wall time for one minute, exposing Prometheus metrics
  flowtime run scenarios/realtime.yaml --duration 1m --metrics-addr :9090`,
	Args: cobra.ExactArgs(1),
	RunE: runScenario,
}

func init() {
	runCmd.Flags().DurationVar(&runDuration, "duration", 0, "Stop a realtime run after this long (0 = run until interrupted)")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (empty = disabled)")
	runCmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "Summary output format (table, json)")
}

func runScenario(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	scenario, err := config.Load(args[0])
	if err != nil {
		return fmt.Errorf("failed to load scenario: %w", err)
	}

	logger.Info("loaded scenario",
		slog.String("name", scenario.Name),
		slog.String("description", scenario.Description),
		slog.String("mode", scenario.Clock.Mode),
		slog.Duration("tick_size", scenario.Clock.TickSize.Duration()),
	)

	cfg, err := scenario.ClockConfig()
	if err != nil {
		return fmt.Errorf("invalid scenario: %w", err)
	}

	eng, err := clock.New(cfg,
		clock.WithLogger(logger),
		clock.WithErrorCallback(func(id string, err error) {
			logger.Warn("processor error", slog.String("processor", id), slog.String("error", err.Error()))
		}),
	)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, spec := range scenario.Processors {
		p, err := buildProcessor(spec, logger)
		if err != nil {
			return err
		}
		if spec.Network {
			opts := []processor.NetworkOption{
				processor.WithPolicy(scenario.BackoffPolicy()),
				processor.WithLogger(logger),
			}
			if scenario.Retry.MaxRetries > 0 {
				opts = append(opts, processor.WithMaxRetries(scenario.Retry.MaxRetries))
			}
			if spec.Timeout.Duration() > 0 {
				opts = append(opts, processor.WithAttemptTimeout(spec.Timeout.Duration()))
			}
			p = processor.NewNetwork(p, opts...)
		}
		if err := eng.AddProcessorWithTag(ctx, p, spec.Name); err != nil {
			return fmt.Errorf("failed to register processor %q: %w", spec.Name, err)
		}
	}

	if metricsAddr != "" {
		if err := serveMetrics(metricsAddr, eng.Monitor(), logger); err != nil {
			return err
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received interrupt, shutting down...")
		eng.Stop(ctx)
	}()

	start := time.Now()
	if err := drive(ctx, eng, cfg); err != nil {
		return fmt.Errorf("run failed: %w", err)
	}
	elapsed := time.Since(start)

	eng.Stop(ctx)

	logger.Info("run complete",
		slog.Uint64("ticks", eng.TickCount()),
		slog.Duration("elapsed", elapsed),
	)

	return printSummary(eng, elapsed)
}

// drive picks the run bound from the scenario: backtests replay their
// configured timeline, realtime runs honor --duration or run until stopped.
func drive(ctx context.Context, eng *clock.Clock, cfg clock.Config) error {
	if cfg.Mode == clock.ModeBacktest {
		return eng.Run(ctx)
	}
	if err := eng.Start(ctx); err != nil {
		return err
	}
	if runDuration > 0 {
		return eng.RunTil(ctx, eng.CurrentTime().Add(runDuration))
	}
	if !cfg.EndTime.IsZero() {
		return eng.RunTil(ctx, cfg.EndTime)
	}
	// No bound: tick until Stop or interrupt.
	return eng.RunTil(ctx, eng.CurrentTime().AddDate(100, 0, 0))
}

func serveMetrics(addr string, m *monitor.Monitor, logger *slog.Logger) error {
	registry := prometheus.NewRegistry()
	if err := registry.Register(monitor.NewPrometheusExporter(m)); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	go func() {
		logger.Info("serving metrics", slog.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// processorSummary is one row of the end-of-run report.
type processorSummary struct {
	Processor string        `json:"processor"`
	Ticks     uint64        `json:"ticks"`
	Failures  uint64        `json:"failures"`
	Mean      time.Duration `json:"mean"`
	P95       time.Duration `json:"p95"`
	Max       time.Duration `json:"max"`
	ErrorRate float64       `json:"errorRate"`
}

func printSummary(eng *clock.Clock, elapsed time.Duration) error {
	m := eng.Monitor()

	var rows []processorSummary
	for _, id := range m.Processors() {
		stats, ok := m.StatsFor(id)
		if !ok {
			continue
		}
		invocations, failures := m.Totals(id)
		rows = append(rows, processorSummary{
			Processor: id,
			Ticks:     invocations,
			Failures:  failures,
			Mean:      stats.Mean,
			P95:       stats.P95,
			Max:       stats.Max,
			ErrorRate: stats.ErrorRate,
		})
	}

	switch outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	case "table":
		fmt.Println()
		table := tablewriter.NewWriter(os.Stdout)
		table.Append([]string{"Processor", "Ticks", "Failures", "Mean", "P95", "Max", "Error Rate"})
		for _, r := range rows {
			table.Append([]string{
				r.Processor,
				fmt.Sprintf("%d", r.Ticks),
				fmt.Sprintf("%d", r.Failures),
				r.Mean.Round(time.Microsecond).String(),
				r.P95.Round(time.Microsecond).String(),
				r.Max.Round(time.Microsecond).String(),
				fmt.Sprintf("%.1f%%", r.ErrorRate*100),
			})
		}
		table.Render()

		tick := m.TickStats()
		fmt.Printf("\nTicks: %d  Elapsed: %s  Mean tick: %s  P95 tick: %s\n",
			m.TotalTicks(),
			elapsed.Round(time.Millisecond),
			tick.Mean.Round(time.Microsecond),
			tick.P95.Round(time.Microsecond),
		)
		return nil
	default:
		return fmt.Errorf("unsupported output format: %s", outputFormat)
	}
}
