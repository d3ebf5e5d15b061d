package grid

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/lbmflow/lattice"
)

// Setup-fatal errors.
var (
	ErrInvalidOmega = errors.New("invalid relaxation rate")
	ErrGridSize     = errors.New("invalid grid size")
	ErrRefineDepth  = errors.New("invalid refinement depth")
)

// Smagorinsky constants applied when LES is enabled on a refined grid.
const (
	fineCsmago1   = 0.026
	coarseCsmago1 = 0.029
	fineCsmago2   = 0.028
	coarseCsmago2 = 0.032
)

// dfEps bounds 1/omega-1 away from zero in non-equilibrium rescaling.
const dfEps = 1e-12

// Hierarchy is the stack of levels, coarsest first.
type Hierarchy struct {
	Stencil   *lattice.Stencil
	Levels    []*Level
	MaxRefine int

	// Non-equilibrium rescale factors between the two finest levels.
	DfScaleUp   float64
	DfScaleDown float64
}

// New allocates a hierarchy whose finest level has the given size. Each
// coarser level halves every extent (z stays 1 in 2D).
func New(st *lattice.Stencil, nx, ny, nz, maxRefine int, nodeSize float64, checked bool) (*Hierarchy, error) {
	if maxRefine < 0 {
		return nil, fmt.Errorf("max refine %d: %w", maxRefine, ErrRefineDepth)
	}
	if st.Dim == 2 {
		nz = 1
	}
	h := &Hierarchy{Stencil: st, MaxRefine: maxRefine, Levels: make([]*Level, maxRefine+1)}
	sx, sy, sz := nx, ny, nz
	cellFactor := 1.0
	dimFac := 8.0
	if st.Dim == 2 {
		dimFac = 4.0
	}
	for lev := maxRefine; lev >= 0; lev-- {
		minExt := 3
		if sx < minExt || sy < minExt || (st.Dim == 3 && sz < minExt) {
			return nil, fmt.Errorf("level %d size %dx%dx%d: %w", lev, sx, sy, sz, ErrGridSize)
		}
		lv := newLevel(st, lev, sx, sy, sz, checked)
		lv.CellFactor = cellFactor
		lv.NodeSize = nodeSize
		h.Levels[lev] = lv

		sx, sy = sx/2, sy/2
		if st.Dim == 3 {
			sz /= 2
		}
		cellFactor *= dimFac
		nodeSize *= 2
	}
	return h, nil
}

// Finest returns the finest level.
func (h *Hierarchy) Finest() *Level { return h.Levels[h.MaxRefine] }

// InitLevelOmegas derives omega, timestep, gravity and the Smagorinsky
// constant of every level from the finest-level values.
func (h *Hierarchy) InitLevelOmegas(omega, timestep float64, gravity r3.Vec, csmago float64) error {
	if !(omega > 0 && omega < 2) || math.IsNaN(omega) {
		return fmt.Errorf("omega %v: %w", omega, ErrInvalidOmega)
	}
	if !(timestep > 0) {
		return fmt.Errorf("timestep %v: %w", timestep, ErrInvalidOmega)
	}

	fine, coarse := csmago, csmago
	if csmago > 0 {
		if h.MaxRefine == 1 && csmago < fineCsmago1 {
			fine, coarse = fineCsmago1, coarseCsmago1
		}
		if h.MaxRefine > 1 && csmago < fineCsmago2 {
			fine, coarse = fineCsmago2, coarseCsmago2
		}
	}

	f := h.Levels[h.MaxRefine]
	f.Omega = omega
	f.Timestep = timestep
	f.Csmago = fine
	f.Lcnu = lattice.Viscosity(omega)
	f.Gravity = r3.Scale(1/omega, gravity)

	for lev := h.MaxRefine - 1; lev >= 0; lev-- {
		lv, up := h.Levels[lev], h.Levels[lev+1]
		lv.Omega = 1 / (0.5*(1/up.Omega-0.5) + 0.5)
		lv.Timestep = 2 * up.Timestep
		lv.Csmago = coarse
		lv.Lcnu = lattice.Viscosity(lv.Omega)
		lv.Gravity = r3.Scale(up.Omega*2/lv.Omega, up.Gravity)
	}

	if h.MaxRefine > 0 {
		c, fn := h.Levels[0], h.Levels[1]
		h.DfScaleUp = dfRatio(fn.Timestep, c.Timestep, fn.Omega, c.Omega)
		h.DfScaleDown = dfRatio(c.Timestep, fn.Timestep, c.Omega, fn.Omega)
	}
	return nil
}

// DfScale returns the non-equilibrium rescale factor for moving
// populations from level src to level dst with the given effective
// relaxation rates.
func (h *Hierarchy) DfScale(src, dst int, omegaSrc, omegaDst float64) float64 {
	return dfRatio(h.Levels[src].Timestep, h.Levels[dst].Timestep, omegaSrc, omegaDst)
}

// dfRatio is (td/ts)(1/omDst-1)/(1/omSrc-1). Populations relaxed with
// omega 1 are at equilibrium after collision, so nothing is carried over.
func dfRatio(ts, td, omSrc, omDst float64) float64 {
	den := 1/omSrc - 1
	if math.Abs(den) < dfEps {
		return 0
	}
	return (td / ts) * (1/omDst - 1) / den
}
