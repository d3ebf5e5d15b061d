package telemetry

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm-cable/lbmflow/solver"
)

func twoLevelStep(total time.Duration, fineCells, coarseCells int) solver.StepStats {
	return solver.StepStats{
		LevelCells: []int{coarseCells, fineCells},
		Timings: solver.StepTimings{
			Fine:    total / 2,
			Surface: total / 4,
			Grid:    total / 8,
			Coarse:  total / 8,
			Total:   total,
		},
	}
}

func TestPerfCollector_Throughput(t *testing.T) {
	pc := NewPerfCollector(10)
	// coarse levels only advance every other step
	pc.Record(twoLevelStep(100*time.Microsecond, 400, 0))
	pc.Record(twoLevelStep(300*time.Microsecond, 400, 100))

	ps := pc.Stats()
	assert.Equal(t, 2, ps.Steps)
	assert.Equal(t, 200*time.Microsecond, ps.AvgStep)
	assert.Equal(t, 300*time.Microsecond, ps.MaxStep)
	assert.InDelta(t, 900.0/400, ps.MLUPS, 1e-12)
	require.Len(t, ps.LevelMLUPS, 2)
	assert.InDelta(t, 100.0/400, ps.LevelMLUPS[0], 1e-12)
	assert.InDelta(t, 800.0/400, ps.LevelMLUPS[1], 1e-12)
}

func TestPerfCollector_StageShares(t *testing.T) {
	pc := NewPerfCollector(10)
	for i := 0; i < 4; i++ {
		pc.Record(twoLevelStep(800*time.Microsecond, 100, 10))
		pc.AddOutput(200 * time.Microsecond)
	}

	ps := pc.Stats()
	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"fine", ps.FinePct, 50},
		{"surface", ps.SurfacePct, 25},
		{"grid", ps.GridPct, 12.5},
		{"coarse", ps.CoarsePct, 12.5},
		{"adapt", ps.AdaptPct, 0},
		{"output", ps.OutputPct, 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.got, 1e-9)
		})
	}
}

func TestPerfCollector_RollingWindow(t *testing.T) {
	pc := NewPerfCollector(3)
	for i := 0; i < 3; i++ {
		pc.Record(twoLevelStep(time.Millisecond, 10, 0))
	}
	// a slow step only counts until it leaves the window
	pc.Record(twoLevelStep(10*time.Millisecond, 10, 0))
	assert.Equal(t, 10*time.Millisecond, pc.Stats().MaxStep)
	for i := 0; i < 3; i++ {
		pc.Record(twoLevelStep(time.Millisecond, 10, 0))
	}
	ps := pc.Stats()
	assert.Equal(t, 3, ps.Steps)
	assert.Equal(t, time.Millisecond, ps.MaxStep)
}

func TestPerfCollector_Empty(t *testing.T) {
	pc := NewPerfCollector(0)
	pc.AddOutput(time.Second)
	ps := pc.Stats()
	assert.Zero(t, ps.Steps)
	assert.Zero(t, ps.AvgStep)
	assert.Empty(t, ps.LevelMLUPS)
	assert.Equal(t, 50, pc.window)
}

func TestPerfStats_ToCSV(t *testing.T) {
	ps := PerfStats{
		Steps:      8,
		AvgStep:    2 * time.Millisecond,
		MLUPS:      1.5,
		LevelMLUPS: []float64{0.25, 1.25},
		FinePct:    90,
		OutputPct:  10,
	}

	rec := ps.ToCSV(100)
	assert.Equal(t, PerfStatsCSV{
		WindowEnd:  100,
		Steps:      8,
		AvgStepUS:  2000,
		MLUPS:      1.5,
		LevelMLUPS: "0.25;1.25",
		FinePct:    90,
		OutputPct:  10,
	}, rec)
}

func TestPerfStats_LogValue(t *testing.T) {
	ps := PerfStats{Steps: 2, LevelMLUPS: []float64{0.5, 3}, GridPct: 30, AdaptPct: 0.05}
	keys := map[string]bool{}
	for _, a := range ps.LogValue().Group() {
		keys[a.Key] = true
	}
	assert.True(t, keys["level0_mlups"])
	assert.True(t, keys["level1_mlups"])
	assert.True(t, keys["grid_pct"])
	assert.False(t, keys["adapt_pct"], "negligible stages are left out")
	assert.Equal(t, slog.KindGroup, ps.LogValue().Kind())
}
