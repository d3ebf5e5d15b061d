package runner

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm-cable/lbmflow/config"
	"github.com/pthm-cable/lbmflow/telemetry"
)

func init() {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func smallConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Defaults()
	require.NoError(t, err)
	cfg.Domain.Dim = 2
	cfg.Domain.SizeX, cfg.Domain.SizeY = 16, 16
	cfg.Solver.Workers = 1
	cfg.Timestep.Adaptive = false
	cfg.Telemetry.StatsWindow = 2
	cfg.Telemetry.DumpInterval = 2
	cfg.Telemetry.DumpCompress = true
	cfg.Telemetry.IsoField = true
	cfg.Telemetry.Plot = true
	cfg.ComputeDerived()
	return cfg
}

func TestRunner_Output(t *testing.T) {
	dir := t.TempDir()
	var windows []telemetry.WindowStats
	r, err := New(smallConfig(t), Options{
		OutputDir:     dir,
		StatsCallback: func(ws telemetry.WindowStats) { windows = append(windows, ws) },
	})
	require.NoError(t, err)

	require.NoError(t, r.Run(context.Background(), 4))
	assert.Equal(t, 4, r.Steps())
	require.NoError(t, r.Close())

	require.Len(t, windows, 2)
	assert.Equal(t, 2, windows[0].WindowEnd)
	assert.Equal(t, 4, windows[1].WindowEnd)

	for _, name := range []string{
		"config.yaml", "steps.csv", "stats.csv", "perf.csv", CheckpointFile,
		"fields/fill_000002.bin.gz", "fields/iso_000004.bin.gz", "mass.png",
	} {
		assert.FileExists(t, filepath.Join(dir, name))
	}
}

func TestRunner_Resume(t *testing.T) {
	dir := t.TempDir()
	cfg := smallConfig(t)
	cfg.Telemetry.Plot = false

	r, err := New(cfg, Options{OutputDir: dir, CheckpointEvery: 3})
	require.NoError(t, err)
	require.NoError(t, r.Run(context.Background(), 3))
	mass := r.Solver().Stats().Mass
	require.NoError(t, r.Close())

	resumed, err := New(cfg, Options{ResumeFrom: filepath.Join(dir, CheckpointFile)})
	require.NoError(t, err)
	defer resumed.Close()

	assert.Equal(t, 3, resumed.Steps())
	require.NoError(t, resumed.Run(context.Background(), 4))
	assert.Equal(t, 4, resumed.Steps())
	assert.InEpsilon(t, mass, resumed.Solver().Stats().Mass, 1e-6)
}

func TestRunner_ResumeMissingFile(t *testing.T) {
	_, err := New(smallConfig(t), Options{ResumeFrom: filepath.Join(t.TempDir(), "nope")})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRunner_Cancelled(t *testing.T) {
	r, err := New(smallConfig(t), Options{})
	require.NoError(t, err)
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, r.Run(ctx, 0))
	assert.Zero(t, r.Steps())
}

func TestRunner_InvalidConfig(t *testing.T) {
	cfg := smallConfig(t)
	cfg.Physics.Timestep = 0
	cfg.ComputeDerived()
	_, err := New(cfg, Options{})
	assert.ErrorIs(t, err, config.ErrTimestep)
}
