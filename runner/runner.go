// Package runner drives a solver run: it builds the scene and solver from
// the config, steps the solver and routes statistics, field dumps and
// checkpoints to the output directory.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pthm-cable/lbmflow/config"
	"github.com/pthm-cable/lbmflow/dump"
	"github.com/pthm-cable/lbmflow/scene"
	"github.com/pthm-cable/lbmflow/solver"
	"github.com/pthm-cable/lbmflow/telemetry"
)

// ErrUnstable is returned by Run when the solver raised its panic flag and
// Options.StopOnPanic is set.
var ErrUnstable = errors.New("solver unstable")

// CheckpointFile is the checkpoint name inside the output directory.
const CheckpointFile = "checkpoint.gob.gz"

// Options configures a Runner.
type Options struct {
	LogStats        bool   // Log window stats and perf via slog
	OutputDir       string // CSV, dumps, plots and checkpoints; empty disables output
	ResumeFrom      string // Checkpoint to restore before the first step
	CheckpointEvery int    // Steps between checkpoints (0 = only on Close)
	StopOnPanic     bool

	// StatsCallback is called with every flushed window.
	StatsCallback func(telemetry.WindowStats)
}

// Runner owns a solver and its telemetry.
type Runner struct {
	cfg    *config.Config
	scene  *scene.Scene
	solver *solver.Solver
	log    *slog.Logger

	collector     *telemetry.Collector
	perfCollector *telemetry.PerfCollector
	outputManager *telemetry.OutputManager

	logStats        bool
	stopOnPanic     bool
	checkpointEvery int
	statsCallback   func(telemetry.WindowStats)
}

// New builds a runner for cfg.
func New(cfg *config.Config, opts Options) (*Runner, error) {
	om, err := telemetry.NewOutputManager(opts.OutputDir)
	if err != nil {
		return nil, err
	}
	log := slog.Default()
	if om != nil {
		log = log.With("run_id", om.RunID())
	}

	sc, err := scene.FromConfig(cfg)
	if err != nil {
		om.Close()
		return nil, fmt.Errorf("building scene: %w", err)
	}
	solverOpts := []solver.Option{solver.WithLogger(log)}
	if sc.Attractors() > 0 {
		solverOpts = append(solverOpts, solver.WithControl(sc))
	}
	sv, err := solver.New(cfg, sc, solverOpts...)
	if err != nil {
		om.Close()
		return nil, err
	}

	r := &Runner{
		cfg:             cfg,
		scene:           sc,
		solver:          sv,
		log:             log,
		perfCollector:   telemetry.NewPerfCollector(cfg.Telemetry.StatsWindow),
		outputManager:   om,
		logStats:        opts.LogStats,
		stopOnPanic:     opts.StopOnPanic,
		checkpointEvery: opts.CheckpointEvery,
		statsCallback:   opts.StatsCallback,
	}
	if opts.ResumeFrom != "" {
		if err := r.restore(opts.ResumeFrom); err != nil {
			r.closeSolver()
			return nil, err
		}
	}
	r.collector = telemetry.NewCollector(cfg.Telemetry.StatsWindow, sv.InitialMass())
	r.collector.StartAt(sv.Steps())

	if err := om.WriteConfig(cfg); err != nil {
		r.closeSolver()
		return nil, err
	}
	log.Info("scene built", "objects", sc.Objects(), "attractors", sc.Attractors())
	return r, nil
}

// Solver returns the underlying solver.
func (r *Runner) Solver() *solver.Solver { return r.solver }

// Steps returns the number of finest-level steps taken.
func (r *Runner) Steps() int { return r.solver.Steps() }

// Update advances the solver by one step and handles dumps, telemetry and
// checkpoints that are due.
func (r *Runner) Update() error {
	stats, err := r.solver.Step()
	if err != nil {
		return fmt.Errorf("step %d: %w", r.solver.Steps(), err)
	}
	r.perfCollector.Record(stats)
	outputStart := time.Now()
	defer func() { r.perfCollector.AddOutput(time.Since(outputStart)) }()

	step := stats.Step
	if n := r.cfg.Telemetry.DumpInterval; n > 0 && step%n == 0 {
		if err := r.dumpFields(step); err != nil {
			return err
		}
	}

	r.collector.Record(stats)
	if err := r.outputManager.WriteStep(stats); err != nil {
		r.log.Error("failed to write step", "error", err)
	}
	r.flushTelemetry(step)

	if r.checkpointEvery > 0 && step%r.checkpointEvery == 0 {
		if err := r.checkpoint(); err != nil {
			return err
		}
	}

	if stats.Panic && r.stopOnPanic {
		_, reason := r.solver.Panic()
		return fmt.Errorf("step %d: %s: %w", step, reason, ErrUnstable)
	}
	return nil
}

// Run steps until maxSteps (0 = unlimited), ctx is done or a step fails.
// Cancellation is not an error.
func (r *Runner) Run(ctx context.Context, maxSteps int) error {
	r.log.Info("starting run", "max_steps", maxSteps, "dt", r.solver.Timestep())
	for maxSteps <= 0 || r.solver.Steps() < maxSteps {
		select {
		case <-ctx.Done():
			r.log.Info("run interrupted", "step", r.solver.Steps())
			return nil
		default:
		}
		if err := r.Update(); err != nil {
			return err
		}
	}
	r.log.Info("max steps reached", "step", r.solver.Steps(), "sim_time", r.solver.SimTime())
	return nil
}

// flushTelemetry emits the stats window when it is full.
func (r *Runner) flushTelemetry(step int) {
	if !r.collector.ShouldFlush(step) {
		return
	}
	r.emitWindow()
}

func (r *Runner) emitWindow() {
	stats := r.collector.Flush()
	perfStats := r.perfCollector.Stats()

	if r.statsCallback != nil {
		r.statsCallback(stats)
	}
	if r.logStats {
		stats.LogStats()
		r.log.Info("perf", "perf", perfStats)
	}
	if err := r.outputManager.WriteStats(stats); err != nil {
		r.log.Error("failed to write stats", "error", err)
	}
	if err := r.outputManager.WritePerf(perfStats, stats.WindowEnd); err != nil {
		r.log.Error("failed to write perf", "error", err)
	}
}

func (r *Runner) dumpFields(step int) error {
	fields := map[string]dump.Field{"fill": r.solver.FillField()}
	if r.cfg.Telemetry.IsoField {
		fields["iso"] = r.solver.IsoField(r.cfg.Surface.IsoSmoothing)
	}
	if err := r.outputManager.WriteFields(step, fields, r.cfg.Telemetry.DumpCompress); err != nil {
		return fmt.Errorf("dumping fields at step %d: %w", step, err)
	}
	return nil
}

// checkpoint writes the solver state next to the other output, replacing
// the previous checkpoint only once the new one is complete.
func (r *Runner) checkpoint() error {
	if r.outputManager == nil {
		return nil
	}
	path := r.outputManager.Path(CheckpointFile)
	tmp, err := os.CreateTemp(filepath.Dir(path), CheckpointFile+".*")
	if err != nil {
		return fmt.Errorf("creating checkpoint: %w", err)
	}
	if err := r.solver.SaveCheckpoint(tmp); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("installing checkpoint: %w", err)
	}
	r.log.Debug("checkpoint written", "step", r.solver.Steps(), "path", path)
	return nil
}

func (r *Runner) restore(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening checkpoint: %w", err)
	}
	defer f.Close()
	return r.solver.RestoreCheckpoint(f)
}

func (r *Runner) closeSolver() {
	r.solver.Close()
	r.outputManager.Close()
}

// Close flushes pending telemetry, writes a final checkpoint and plots when
// output is enabled, and stops the solver.
func (r *Runner) Close() error {
	if r.collector.Pending() {
		r.emitWindow()
	}
	var firstErr error
	if r.outputManager != nil && r.solver.Steps() > 0 {
		if err := r.checkpoint(); err != nil {
			firstErr = err
		}
	}
	if r.cfg.Telemetry.Plot {
		if err := r.outputManager.WritePlots(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.solver.Close()
	if err := r.outputManager.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
