package telemetry

import (
	"log/slog"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/pthm-cable/lbmflow/solver"
)

type perfSample struct {
	timings solver.StepTimings
	cells   []float64
	output  time.Duration
}

// PerfCollector tracks solver throughput over a rolling window of steps.
type PerfCollector struct {
	window  int
	samples []perfSample
	next    int
	count   int
}

// NewPerfCollector creates a collector averaging over window steps.
func NewPerfCollector(window int) *PerfCollector {
	if window < 1 {
		window = 50
	}
	return &PerfCollector{window: window, samples: make([]perfSample, window)}
}

// Record adds a finished step.
func (p *PerfCollector) Record(s solver.StepStats) {
	cells := make([]float64, len(s.LevelCells))
	for i, n := range s.LevelCells {
		cells[i] = float64(n)
	}
	p.samples[p.next] = perfSample{timings: s.Timings, cells: cells}
	p.next = (p.next + 1) % p.window
	if p.count < p.window {
		p.count++
	}
}

// AddOutput charges d of dump, telemetry and checkpoint work to the last
// recorded step.
func (p *PerfCollector) AddOutput(d time.Duration) {
	if p.count == 0 {
		return
	}
	last := (p.next + p.window - 1) % p.window
	p.samples[last].output += d
}

// PerfStats aggregates a window of steps.
type PerfStats struct {
	Steps   int
	AvgStep time.Duration
	MaxStep time.Duration

	// million cell updates per second of step time
	MLUPS      float64
	LevelMLUPS []float64 // coarsest first

	// share of step time per stage, in percent
	FinePct    float64
	SurfacePct float64
	GridPct    float64
	CoarsePct  float64
	AdaptPct   float64

	// share of the whole iteration spent on output after the step
	OutputPct float64
}

// Stats computes the window aggregate.
func (p *PerfCollector) Stats() PerfStats {
	if p.count == 0 {
		return PerfStats{}
	}
	var sum solver.StepTimings
	var output, maxStep time.Duration
	var cells []float64
	for i := 0; i < p.count; i++ {
		s := p.samples[i]
		t := s.timings
		sum.Fine += t.Fine
		sum.Surface += t.Surface
		sum.Grid += t.Grid
		sum.Coarse += t.Coarse
		sum.Adapt += t.Adapt
		sum.Total += t.Total
		maxStep = max(maxStep, t.Total)
		output += s.output
		if len(s.cells) > len(cells) {
			cells = append(cells, make([]float64, len(s.cells)-len(cells))...)
		}
		floats.Add(cells[:len(s.cells)], s.cells)
	}

	ps := PerfStats{
		Steps:      p.count,
		AvgStep:    sum.Total / time.Duration(p.count),
		MaxStep:    maxStep,
		LevelMLUPS: make([]float64, len(cells)),
	}
	if us := float64(sum.Total.Microseconds()); us > 0 {
		ps.MLUPS = floats.Sum(cells) / us
		floats.ScaleTo(ps.LevelMLUPS, 1/us, cells)
	}
	if sum.Total > 0 {
		pct := func(d time.Duration) float64 { return 100 * float64(d) / float64(sum.Total) }
		ps.FinePct = pct(sum.Fine)
		ps.SurfacePct = pct(sum.Surface)
		ps.GridPct = pct(sum.Grid)
		ps.CoarsePct = pct(sum.Coarse)
		ps.AdaptPct = pct(sum.Adapt)
	}
	if iter := sum.Total + output; iter > 0 {
		ps.OutputPct = 100 * float64(output) / float64(iter)
	}
	return ps
}

// LogValue implements slog.LogValuer.
func (s PerfStats) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int("steps", s.Steps),
		slog.Int64("avg_step_us", s.AvgStep.Microseconds()),
		slog.Int64("max_step_us", s.MaxStep.Microseconds()),
		slog.Float64("mlups", s.MLUPS),
	}
	for lev, v := range s.LevelMLUPS {
		attrs = append(attrs, slog.Float64("level"+strconv.Itoa(lev)+"_mlups", v))
	}
	for _, st := range []struct {
		name string
		pct  float64
	}{
		{"fine", s.FinePct}, {"surface", s.SurfacePct}, {"grid", s.GridPct},
		{"coarse", s.CoarsePct}, {"adapt", s.AdaptPct}, {"output", s.OutputPct},
	} {
		if st.pct > 0.1 {
			attrs = append(attrs, slog.Float64(st.name+"_pct", st.pct))
		}
	}
	return slog.GroupValue(attrs...)
}

// PerfStatsCSV is one row of perf.csv.
type PerfStatsCSV struct {
	WindowEnd  int     `csv:"window_end"`
	Steps      int     `csv:"steps"`
	AvgStepUS  int64   `csv:"avg_step_us"`
	MaxStepUS  int64   `csv:"max_step_us"`
	MLUPS      float64 `csv:"mlups"`
	LevelMLUPS string  `csv:"level_mlups"` // ';' separated, coarsest first
	FinePct    float64 `csv:"fine_pct"`
	SurfacePct float64 `csv:"surface_pct"`
	GridPct    float64 `csv:"grid_pct"`
	CoarsePct  float64 `csv:"coarse_pct"`
	AdaptPct   float64 `csv:"adapt_pct"`
	OutputPct  float64 `csv:"output_pct"`
}

// ToCSV flattens the stats of the window ending at step windowEnd.
func (s PerfStats) ToCSV(windowEnd int) PerfStatsCSV {
	levels := make([]string, len(s.LevelMLUPS))
	for i, v := range s.LevelMLUPS {
		levels[i] = strconv.FormatFloat(v, 'g', 6, 64)
	}
	return PerfStatsCSV{
		WindowEnd:  windowEnd,
		Steps:      s.Steps,
		AvgStepUS:  s.AvgStep.Microseconds(),
		MaxStepUS:  s.MaxStep.Microseconds(),
		MLUPS:      s.MLUPS,
		LevelMLUPS: strings.Join(levels, ";"),
		FinePct:    s.FinePct,
		SurfacePct: s.SurfacePct,
		GridPct:    s.GridPct,
		CoarsePct:  s.CoarsePct,
		AdaptPct:   s.AdaptPct,
		OutputPct:  s.OutputPct,
	}
}
