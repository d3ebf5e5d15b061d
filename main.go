package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pthm-cable/lbmflow/config"
	"github.com/pthm-cable/lbmflow/runner"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	logStats := flag.Bool("log-stats", false, "Output window stats via slog")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	statsWindow := flag.Int("stats-window", 0, "Stats window size in steps (0 = use config)")
	outputDir := flag.String("output-dir", "", "Output directory for CSV logs, dumps, plots and checkpoints")
	maxSteps := flag.Int("max-steps", 0, "Stop after N steps (0 = until interrupted)")
	resume := flag.String("resume", "", "Checkpoint file to resume from")
	checkpointEvery := flag.Int("checkpoint-every", 0, "Steps between checkpoints (0 = only at exit)")
	stopOnPanic := flag.Bool("stop-on-panic", false, "Abort when the solver becomes unstable")
	checked := flag.Bool("checked", false, "Enable the validation layer")

	flag.Parse()

	// Set up slog (JSON to stdout for structured logging)
	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := config.Init(*configPath); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := config.Cfg()

	if *statsWindow > 0 {
		cfg.Telemetry.StatsWindow = *statsWindow
	}
	if *checked {
		cfg.Solver.Checked = true
	}

	r, err := runner.New(cfg, runner.Options{
		LogStats:        *logStats,
		OutputDir:       *outputDir,
		ResumeFrom:      *resume,
		CheckpointEvery: *checkpointEvery,
		StopOnPanic:     *stopOnPanic,
	})
	if err != nil {
		slog.Error("failed to set up solver", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := r.Run(ctx, *maxSteps)
	if err := r.Close(); err != nil {
		slog.Error("failed to finish output", "error", err)
	}
	if runErr != nil {
		slog.Error("run failed", "error", runErr)
		os.Exit(1)
	}
}
