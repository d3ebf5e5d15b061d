package telemetry

import (
	"log/slog"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// WindowStats holds aggregated solver statistics for a window of steps.
type WindowStats struct {
	WindowStart int     `csv:"-"`
	WindowEnd   int     `csv:"window_end"`
	SimTime     float64 `csv:"sim_time"`
	Timestep    float64 `csv:"timestep"`

	// Mass bookkeeping at window end
	Mass      float64 `csv:"mass"`
	MassDrift float64 `csv:"mass_drift"` // (mass - initial) / initial
	FixMass   float64 `csv:"fix_mass"`
	Volume    float64 `csv:"volume"`

	// Peak lattice speed per step over the window
	MaxVelocityMean float64 `csv:"max_velocity_mean"`
	MaxVelocityStd  float64 `csv:"max_velocity_std"`
	MaxVelocityP90  float64 `csv:"max_velocity_p90"`
	MaxVelocityMax  float64 `csv:"max_velocity_max"`

	// Surface conversions during the window
	Filled  int `csv:"filled"`
	Emptied int `csv:"emptied"`

	Rescales   int     `csv:"rescales"`
	MLSUPSMean float64 `csv:"mlsups_mean"`
	Panic      bool    `csv:"panic"`
}

// SeriesStats holds the summary of one per-step series.
type SeriesStats struct {
	Mean, Std, P90, Max float64
}

// ComputeSeriesStats returns mean, sample standard deviation, 90th
// percentile and maximum of values. An empty slice yields zeros.
func ComputeSeriesStats(values []float64) SeriesStats {
	switch len(values) {
	case 0:
		return SeriesStats{}
	case 1:
		return SeriesStats{Mean: values[0], P90: values[0], Max: values[0]}
	}
	mean, std := stat.MeanStdDev(values, nil)

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	return SeriesStats{
		Mean: mean,
		Std:  std,
		P90:  stat.Quantile(0.9, stat.LinInterp, sorted, nil),
		Max:  floats.Max(sorted),
	}
}

// LogValue implements slog.LogValuer for structured logging.
func (s WindowStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("window_start", s.WindowStart),
		slog.Int("window_end", s.WindowEnd),
		slog.Float64("sim_time", s.SimTime),
		slog.Float64("dt", s.Timestep),
		slog.Float64("mass", s.Mass),
		slog.Float64("mass_drift", s.MassDrift),
		slog.Float64("fix_mass", s.FixMass),
		slog.Float64("max_v_mean", s.MaxVelocityMean),
		slog.Float64("max_v_max", s.MaxVelocityMax),
		slog.Int("filled", s.Filled),
		slog.Int("emptied", s.Emptied),
		slog.Int("rescales", s.Rescales),
		slog.Float64("mlsups", s.MLSUPSMean),
		slog.Bool("panic", s.Panic),
	)
}

// LogStats logs the window stats using slog.
func (s WindowStats) LogStats() {
	slog.Info("stats", "window", s)
}
