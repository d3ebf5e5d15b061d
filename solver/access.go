package solver

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/lbmflow/dump"
	"github.com/pthm-cable/lbmflow/grid"
	"github.com/pthm-cable/lbmflow/lattice"
)

// ErrOutOfRange is returned for level or cell coordinates outside the grid.
var ErrOutOfRange = errors.New("coordinates out of range")

// CellView is a read-only copy of one cell of the current buffer.
type CellView struct {
	Flag        lattice.Flag
	Density     float64
	Velocity    r3.Vec // lattice units
	Populations []float64
	Mass        float64
	Fill        float64
}

// Levels returns the number of grid levels.
func (sv *Solver) Levels() int { return len(sv.st.H.Levels) }

// LevelSize returns the cell counts of a level, or zeros if it does not exist.
func (sv *Solver) LevelSize(level int) (nx, ny, nz int) {
	if level < 0 || level >= len(sv.st.H.Levels) {
		return 0, 0, 0
	}
	lv := sv.st.H.Levels[level]
	return lv.Nx, lv.Ny, lv.Nz
}

// Cell returns a copy of cell (i, j, k) on level.
func (sv *Solver) Cell(level, i, j, k int) (CellView, error) {
	h := sv.st.H
	if level < 0 || level >= len(h.Levels) || !h.Levels[level].InBounds(i, j, k) {
		return CellView{}, fmt.Errorf("level %d cell (%d,%d,%d): %w", level, i, j, k, ErrOutOfRange)
	}
	lv := h.Levels[level]
	cur := lv.Buf.Cur()
	idx := lv.Index(i, j, k)
	return viewOf(lv, cur, idx), nil
}

func viewOf(lv *grid.Level, b *grid.Buffer, idx int) CellView {
	c := lv.Cell(b, idx)
	q := lv.Stencil.Q
	rho, ux, uy, uz := lv.Stencil.Moments(c)
	return CellView{
		Flag:        b.Flags[idx],
		Density:     rho,
		Velocity:    r3.Vec{X: ux, Y: uy, Z: uz},
		Populations: append([]float64(nil), c[:q]...),
		Mass:        c[lv.MassIdx],
		Fill:        c[lv.FfracIdx],
	}
}

// Velocity samples the fluid velocity at a world position in world units.
// The finest level that holds fluid at the position answers; positions in
// gas, walls or outside the domain return zero.
func (sv *Solver) Velocity(pos r3.Vec) r3.Vec {
	s := sv.st
	rel := r3.Sub(pos, s.domainMin)
	fine := s.H.Finest()
	for lev := s.H.MaxRefine; lev >= 0; lev-- {
		lv := s.H.Levels[lev]
		scale := float64(int(1) << (s.H.MaxRefine - lev))
		i := int(math.Floor(rel.X / (fine.NodeSize * scale)))
		j := int(math.Floor(rel.Y / (fine.NodeSize * scale)))
		k := 0
		if s.St.Dim == 3 {
			k = int(math.Floor(rel.Z / (fine.NodeSize * scale)))
		}
		if !lv.InBounds(i, j, k) {
			return r3.Vec{}
		}
		cur := lv.Buf.Cur()
		idx := lv.Index(i, j, k)
		f := cur.Flags[idx]
		switch {
		case f&lattice.Unused != 0:
			continue
		case f&(lattice.Fluid|lattice.Interface) == 0:
			return r3.Vec{}
		}
		u := viewOf(lv, cur, idx).Velocity
		return r3.Scale(s.Cfg.Derived.CellSize/s.Timestep, u)
	}
	return r3.Vec{}
}

// fillAt returns the fill fraction of finest cell (i, j, k), looking at the
// covering coarse cell where the finest level is not active.
func (s *State) fillAt(i, j, k int) float32 {
	for lev := s.H.MaxRefine; lev >= 0; lev-- {
		lv := s.H.Levels[lev]
		sh := s.H.MaxRefine - lev
		ci, cj, ck := i>>sh, j>>sh, k
		if s.St.Dim == 3 {
			ck = k >> sh
		}
		if !lv.InBounds(ci, cj, ck) {
			return 0
		}
		b := lv.Buf.Cur()
		idx := lv.Index(ci, cj, ck)
		f := b.Flags[idx]
		switch {
		case f&lattice.Unused != 0:
			continue
		case f&lattice.Fluid != 0:
			return 1
		case f&lattice.Interface != 0:
			return float32(min(1, max(0, b.Cells[idx*lv.Stride+lv.FfracIdx])))
		default:
			return 0
		}
	}
	return 0
}

// FillField returns the fill fraction of every finest-level cell: 1 for
// fluid, the interface fill clamped to [0,1], 0 for gas and walls.
func (sv *Solver) FillField() dump.Field {
	s := sv.st
	fine := s.H.Finest()
	f := dump.NewField(fine.Nx, fine.Ny, fine.Nz)
	for idx := range f.Data {
		i, j, k := fine.Coords(idx)
		f.Data[idx] = s.fillAt(i, j, k)
	}
	return f
}

// IsoField returns the fill field smoothed with a 3^dim kernel in which the
// center has weight 1 and each neighbour the given weight.
func (sv *Solver) IsoField(smoothing float64) dump.Field {
	s := sv.st
	fill := sv.FillField()
	out := dump.NewField(fill.Nx, fill.Ny, fill.Nz)
	for idx := range out.Data {
		i, j, k := s.H.Finest().Coords(idx)
		var sum, wsum float64
		for _, o := range s.nbhood {
			x, y, z := i+o[0], j+o[1], k+o[2]
			if x < 0 || y < 0 || z < 0 || x >= fill.Nx || y >= fill.Ny || z >= fill.Nz {
				continue
			}
			w := smoothing
			if o == [3]int{} {
				w = 1
			}
			sum += w * float64(fill.At(x, y, z))
			wsum += w
		}
		if wsum > 0 {
			out.Data[idx] = float32(sum / wsum)
		}
	}
	return out
}
