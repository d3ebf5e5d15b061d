// Package solver implements a multi-level lattice Boltzmann free-surface
// solver. The finest level tracks the fluid surface with interface cells
// that exchange mass; coarser levels hold bulk fluid and are coupled to the
// finer ones by interpolation and restriction.
package solver

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/lbmflow/config"
	"github.com/pthm-cable/lbmflow/grid"
	"github.com/pthm-cable/lbmflow/lattice"
)

// Option configures a Solver.
type Option func(*State)

// WithControl installs a control force field. nil disables control forces.
func WithControl(cf ControlForces) Option {
	return func(s *State) { s.Control = cf }
}

// WithLogger sets the logger used for solver events.
func WithLogger(l *slog.Logger) Option {
	return func(s *State) { s.log = l }
}

// Solver owns a grid hierarchy and advances it in time.
type Solver struct {
	st    *State
	stats StepStats
}

// New builds the grid hierarchy for cfg, paints it from geo and prepares the
// free surface and the coarse levels. No solver is returned on error.
func New(cfg *config.Config, geo Geometry, opts ...Option) (*Solver, error) {
	if geo == nil {
		return nil, ErrNoGeometry
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	st, err := lattice.ForDim(cfg.Domain.Dim)
	if err != nil {
		return nil, err
	}
	d := cfg.Domain
	nz := d.SizeZ
	if d.Dim == 2 {
		nz = 1
	}
	h, err := grid.New(st, d.SizeX, d.SizeY, nz, d.MaxRefine, cfg.Derived.CellSize, cfg.Solver.Checked)
	if err != nil {
		return nil, fmt.Errorf("building grid: %w", err)
	}

	s := &State{
		H:         h,
		St:        st,
		Cfg:       cfg,
		Timestep:  cfg.Physics.Timestep,
		levelUsed: make([]int, len(h.Levels)),
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.domainMin = r3.Vec{X: d.Min[0], Y: d.Min[1], Z: d.Min[2]}
	if d.Dim == 2 {
		s.domainMin.Z = 0.5 * (d.Min[2] + d.Max[2])
	}
	s.nbhood = neighbourhood(d.Dim)
	s.cellArea = cellAreas(d.Dim, s.nbhood)
	s.gauss = st.RestrictionWeights()

	if err := h.InitLevelOmegas(s.omegaFor(s.Timestep), s.Timestep, s.latticeGravity(s.Timestep), cfg.Physics.Smagorinsky); err != nil {
		return nil, fmt.Errorf("initializing levels: %w", err)
	}
	s.pool = newParallelState(cfg.Solver.Workers, cfg.Solver.ParallelThreshold)

	fluid, err := s.initFlags(geo)
	if err != nil {
		return nil, fmt.Errorf("painting geometry: %w", err)
	}
	if fluid == 0 {
		return nil, ErrNoFluid
	}
	s.markNoBndFluid()
	s.initFreeSurfaces()
	if cfg.Surface.StandingFluid {
		s.initStandingFluid()
	}
	s.initGrids()

	s.InitialMass, s.CurrentVolume = s.measure()
	s.CurrentMass = s.InitialMass
	s.updateObjectVelocities()
	s.pool.startWorkers()

	sizes := make([]string, len(h.Levels))
	for i, lv := range h.Levels {
		sizes[i] = fmt.Sprintf("%dx%dx%d", lv.Nx, lv.Ny, lv.Nz)
	}
	s.log.Info("solver initialized",
		"stencil", st.Name,
		"levels", sizes,
		"dt", s.Timestep,
		"omega", h.Finest().Omega,
		"mass", s.InitialMass,
		"workers", s.pool.numWorkers,
	)
	return &Solver{st: s}, nil
}

// Close stops the worker pool. The solver must not be stepped afterwards.
func (sv *Solver) Close() {
	sv.st.pool.stopWorkers()
}

// Step advances the finest level by one timestep. Coarser levels advance
// every 2^(finest-level) steps, coarse levels first. A raised panic flag does
// not stop the step; a failed check in checked mode returns *CheckError.
func (sv *Solver) Step() (StepStats, error) {
	s := sv.st
	start := time.Now()
	s.stepMain()

	if s.Cfg.Solver.Checked {
		if err := s.check(); err != nil {
			return sv.stats, err
		}
	}

	stats := StepStats{
		Step:         s.StepCount,
		SimTime:      s.SimTime,
		Timestep:     s.Timestep,
		Mass:         s.CurrentMass,
		Volume:       s.CurrentVolume,
		FixMass:      s.FixMass,
		MaxVelocity:  math.Sqrt(s.maxUsqr),
		UsedCells:    s.used,
		Interpolated: s.interpolated,
		Filled:       s.filled,
		Emptied:      s.emptied,
		Panic:        s.panicked,
		LevelCells:   slices.Clone(s.levelUsed),
	}
	adaptStart := time.Now()
	if err := s.adaptTimestep(); err != nil {
		return stats, err
	}
	s.timings.Adapt = time.Since(adaptStart)
	s.timings.Total = time.Since(start)
	stats.Timings = s.timings
	stats.Rescales = s.rescales
	if us := s.timings.Total.Microseconds(); us > 0 {
		stats.MLSUPS = float64(s.used) / float64(us)
	}
	sv.stats = stats
	s.log.Debug("step", "stats", stats)
	return stats, nil
}

// stepMain runs one finest-level step and every coarse level whose turn it
// is, then converts the collected surface cells.
func (s *State) stepMain() {
	s.CurrentMass = s.FixMass
	s.CurrentVolume = 0
	s.maxUsqr, s.maxU = 0, r3.Vec{}
	s.used, s.interpolated, s.filled, s.emptied = 0, 0, 0, 0
	clear(s.levelUsed)
	s.timings = StepTimings{}

	// bit (max-lev) of dsbits is set when level lev is due
	dsbits := s.StepCount ^ (s.StepCount - 1)
	top := s.H.MaxRefine
	for lev := 0; lev <= top; lev++ {
		if dsbits&(1<<(top-lev)) != 0 {
			if lev == top {
				s.fineAdvance()
			} else {
				t0 := time.Now()
				s.refine(lev)
				s.coarsen(lev)
				s.restrict(lev)
				t1 := time.Now()
				s.coarseAdvance(lev)
				s.timings.Grid += t1.Sub(t0)
				s.timings.Coarse += time.Since(t1)
			}
		}
		lv := s.H.Levels[lev]
		s.CurrentMass += lv.Mass
		s.CurrentVolume += lv.Volume
	}
	s.StepCount++
	s.syncFlags()
}

// fineAdvance steps the free-surface level and converts filled and emptied
// interface cells.
func (s *State) fineAdvance() {
	lv := s.H.Finest()
	s.listFull = s.listFull[:0]
	s.listEmpty = s.listEmpty[:0]
	start := time.Now()
	results := s.pool.sweep(lv.Slabs(), s.fineSweep)
	s.merge(lv, results, true)
	if s.Cfg.Solver.Checked {
		s.checkLists()
	}
	s.timings.Fine += time.Since(start)

	s.SimTime += s.Timestep
	lv.Buf.Swap()
	lv.Steps++
	start = time.Now()
	s.reinitFlags()
	s.timings.Surface += time.Since(start)
}

// Panic reports whether the solver became unstable and why.
func (sv *Solver) Panic() (bool, string) { return sv.st.panicked, sv.st.panicReason }

// FixMass returns the mass waiting to be handed to new interface cells.
func (sv *Solver) FixMass() float64 { return sv.st.FixMass }

// Stats returns the statistics of the last step.
func (sv *Solver) Stats() StepStats { return sv.stats }

// SimTime returns the simulated time in seconds.
func (sv *Solver) SimTime() float64 { return sv.st.SimTime }

// Timestep returns the current finest-level timestep in seconds.
func (sv *Solver) Timestep() float64 { return sv.st.Timestep }

// Steps returns the number of finest-level steps taken.
func (sv *Solver) Steps() int { return sv.st.StepCount }

// InitialMass returns the total mass after setup plus inflow minus outflow.
func (sv *Solver) InitialMass() float64 { return sv.st.InitialMass }

// IsCheckError reports whether err came from the validation layer.
func IsCheckError(err error) bool {
	var ce *CheckError
	return errors.As(err, &ce)
}
