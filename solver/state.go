package solver

import (
	"log/slog"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/lbmflow/config"
	"github.com/pthm-cable/lbmflow/grid"
	"github.com/pthm-cable/lbmflow/lattice"
)

// State is the mutable solver state shared by all step phases. Each phase
// documents the fields it reads and writes.
type State struct {
	H   *grid.Hierarchy
	St  *lattice.Stencil
	Cfg *config.Config

	Control ControlForces
	objects [256]objectInfo

	// Finest-level cell lists, rebuilt every fine step.
	listFull     []int
	listEmpty    []int
	listNewInter []int

	// FixMass accumulates mass that could not be handed to a neighbour.
	FixMass float64

	StepCount int
	SimTime   float64
	Timestep  float64 // finest-level timestep in seconds

	CurrentMass   float64
	CurrentVolume float64
	InitialMass   float64

	// maxima of the last fine step
	maxUsqr float64
	maxU    r3.Vec

	panicked    bool
	panicReason string

	// first validation failure found mid-step in checked mode
	pendingCheck *CheckError

	// timestep controller
	rescaleLock int
	overCount   int
	minCutoff   bool
	rescales    int

	// per-step counters
	used, interpolated int
	filled, emptied    int
	levelUsed          []int
	timings            StepTimings

	// full 3^dim neighbourhood used by grid adaptation, centre first
	nbhood   [][3]int
	cellArea []float64
	gauss    []float64

	domainMin r3.Vec
	pool      *parallelState
	log       *slog.Logger
}

// StepStats summarizes one call to Step.
type StepStats struct {
	Step         int     `csv:"step"`
	SimTime      float64 `csv:"sim_time"`
	Timestep     float64 `csv:"timestep"`
	Mass         float64 `csv:"mass"`
	Volume       float64 `csv:"volume"`
	FixMass      float64 `csv:"fix_mass"`
	MaxVelocity  float64 `csv:"max_velocity"`
	UsedCells    int     `csv:"used_cells"`
	Interpolated int     `csv:"interpolated_cells"`
	Filled       int     `csv:"filled"`
	Emptied      int     `csv:"emptied"`
	Rescales     int     `csv:"rescales"`
	MLSUPS       float64 `csv:"mlsups"`
	Panic        bool    `csv:"panic"`

	LevelCells []int       `csv:"-"` // cells updated per level, coarsest first
	Timings    StepTimings `csv:"-"`
}

// StepTimings splits the wall time of one Step by stage.
type StepTimings struct {
	Fine    time.Duration // free-surface level sweep
	Surface time.Duration // interface conversions
	Grid    time.Duration // refine, coarsen and restrict
	Coarse  time.Duration // coarse level sweeps
	Adapt   time.Duration // timestep control and rescaling
	Total   time.Duration
}

// LogValue implements slog.LogValuer.
func (s StepStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("step", s.Step),
		slog.Float64("sim_time", s.SimTime),
		slog.Float64("dt", s.Timestep),
		slog.Float64("mass", s.Mass),
		slog.Float64("max_v", s.MaxVelocity),
		slog.Int("filled", s.Filled),
		slog.Int("emptied", s.Emptied),
		slog.Float64("mlsups", s.MLSUPS),
	)
}

// raisePanic sets the instability flag. The step still completes.
func (s *State) raisePanic(reason string) {
	if s.panicked {
		return
	}
	s.panicked = true
	s.panicReason = reason
	s.log.Warn("solver unstable", "step", s.StepCount, "reason", reason)
}

// merge folds chunk results of a sweep into level totals and lists.
func (s *State) merge(lv *grid.Level, results []sweepResult, lists bool) {
	lv.Mass, lv.Volume = 0, 0
	for i := range results {
		r := &results[i]
		lv.Mass += r.mass
		lv.Volume += r.volume
		s.InitialMass += r.massSource
		s.used += r.used
		s.levelUsed[lv.Num] += r.used
		s.interpolated += r.interpolated
		s.filled += r.filled
		s.emptied += r.emptied
		if r.maxUsqr > s.maxUsqr {
			s.maxUsqr = r.maxUsqr
			s.maxU = r.maxU
		}
		if r.panicReason != "" {
			s.raisePanic(r.panicReason)
		}
		if lists {
			s.listFull = append(s.listFull, r.full...)
			s.listEmpty = append(s.listEmpty, r.empty...)
		}
	}
}

// cellPos returns the world-space center of a cell on level lv. A coarse
// cell sits on top of the fine cell with twice its index.
func (s *State) cellPos(lv *grid.Level, i, j, k int) r3.Vec {
	h := s.H.Finest().NodeSize
	scale := float64(int(1) << (s.H.MaxRefine - lv.Num))
	p := r3.Vec{X: (float64(i)*scale + 0.5) * h, Y: (float64(j)*scale + 0.5) * h}
	if s.St.Dim == 3 {
		p.Z = (float64(k)*scale + 0.5) * h
	}
	return r3.Add(s.domainMin, p)
}

// latticeGravity returns the finest-level gravity in lattice units at dt.
func (s *State) latticeGravity(dt float64) r3.Vec {
	g := s.Cfg.Physics.Gravity
	f := dt * dt / s.Cfg.Derived.CellSize
	return r3.Vec{X: g[0] * f, Y: g[1] * f, Z: g[2] * f}
}

// omegaFor returns the finest-level relaxation rate at dt.
func (s *State) omegaFor(dt float64) float64 {
	return config.OmegaFor(s.Cfg.Derived.Viscosity, dt, s.Cfg.Derived.CellSize)
}

// updateObjectVelocities converts world object velocities to lattice units.
func (s *State) updateObjectVelocities() {
	f := s.Timestep / s.Cfg.Derived.CellSize
	for i := range s.objects {
		s.objects[i].vel = r3.Scale(f, s.objects[i].worldVel)
	}
}
