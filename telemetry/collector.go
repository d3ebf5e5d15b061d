package telemetry

import (
	"math"

	"github.com/pthm-cable/lbmflow/solver"
)

// Collector accumulates solver step statistics and produces WindowStats.
type Collector struct {
	windowSteps int
	initialMass float64

	windowStart    int
	rescalesBefore int

	maxVel  []float64
	mlsups  []float64
	filled  int
	emptied int
	panic   bool
	last    solver.StepStats
}

// NewCollector creates a collector that flushes every windowSteps steps.
// initialMass is the reference for the relative mass drift.
func NewCollector(windowSteps int, initialMass float64) *Collector {
	if windowSteps < 1 {
		windowSteps = 1
	}
	return &Collector{
		windowSteps: windowSteps,
		initialMass: initialMass,
		maxVel:      make([]float64, 0, windowSteps),
		mlsups:      make([]float64, 0, windowSteps),
	}
}

// StartAt begins the first window at step, for runs resumed from a
// checkpoint.
func (c *Collector) StartAt(step int) { c.windowStart = step }

// Record adds the statistics of one step.
func (c *Collector) Record(s solver.StepStats) {
	c.maxVel = append(c.maxVel, s.MaxVelocity)
	c.mlsups = append(c.mlsups, s.MLSUPS)
	c.filled += s.Filled
	c.emptied += s.Emptied
	c.panic = c.panic || s.Panic
	c.last = s
}

// ShouldFlush returns true once the window is full.
func (c *Collector) ShouldFlush(step int) bool {
	return step-c.windowStart >= c.windowSteps
}

// Pending reports whether steps were recorded since the last flush.
func (c *Collector) Pending() bool { return len(c.maxVel) > 0 }

// Flush produces a WindowStats and resets the window.
func (c *Collector) Flush() WindowStats {
	vel := ComputeSeriesStats(c.maxVel)
	perf := ComputeSeriesStats(c.mlsups)

	var drift float64
	if c.initialMass != 0 {
		drift = (c.last.Mass - c.initialMass) / c.initialMass
	}
	if math.IsNaN(drift) {
		drift = math.Inf(1)
	}

	stats := WindowStats{
		WindowStart:     c.windowStart,
		WindowEnd:       c.last.Step,
		SimTime:         c.last.SimTime,
		Timestep:        c.last.Timestep,
		Mass:            c.last.Mass,
		MassDrift:       drift,
		FixMass:         c.last.FixMass,
		Volume:          c.last.Volume,
		MaxVelocityMean: vel.Mean,
		MaxVelocityStd:  vel.Std,
		MaxVelocityP90:  vel.P90,
		MaxVelocityMax:  vel.Max,
		Filled:          c.filled,
		Emptied:         c.emptied,
		Rescales:        c.last.Rescales - c.rescalesBefore,
		MLSUPSMean:      perf.Mean,
		Panic:           c.panic,
	}

	c.windowStart = c.last.Step
	c.rescalesBefore = c.last.Rescales
	c.maxVel = c.maxVel[:0]
	c.mlsups = c.mlsups[:0]
	c.filled, c.emptied = 0, 0
	c.panic = false
	return stats
}

// WindowSteps returns the number of steps per window.
func (c *Collector) WindowSteps() int { return c.windowSteps }
