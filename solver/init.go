package solver

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/lbmflow/grid"
	"github.com/pthm-cable/lbmflow/lattice"
)

// initFlags paints every level from the geometry. All cells start Empty,
// the outermost layer of each level becomes the domain shell, and interior
// cells take the role of the object covering their center.
func (s *State) initFlags(geo Geometry) (fluid int, err error) {
	shell := KindNoSlip
	if b := s.Cfg.Domain.Boundary; b != "" {
		if shell, err = ParseKind(b); err != nil {
			return 0, err
		}
		if !shell.wall() {
			shell = KindNoSlip
		}
	}
	s.objects[0] = objectInfo{kind: shell, partSlip: s.Cfg.Domain.PartSlip}

	for _, lv := range s.H.Levels {
		finest := lv.Num == s.H.MaxRefine
		for idx := 0; idx < lv.NumCells(); idx++ {
			i, j, k := lv.Coords(idx)
			if !lv.Interior(i, j, k) {
				lv.InitCell(idx, shell.bndFlag(), 1, 0, r3.Vec{})
				continue
			}
			flag, u, err := s.classify(geo, lv, i, j, k, finest)
			if err != nil {
				return 0, err
			}
			switch {
			case flag&lattice.Fluid != 0:
				lv.InitCell(idx, flag, 1, 1, u)
				fluid++
			case flag&lattice.Inflow != 0:
				lv.InitCell(idx, flag, 1, 0, u)
				fluid++
			default:
				lv.InitCell(idx, flag, 1, 0, r3.Vec{})
			}
		}
	}
	return fluid, nil
}

// classify returns the initial flag of an interior cell. Coarse levels only
// take walls from the geometry; their fluid is derived from the finest level.
func (s *State) classify(geo Geometry, lv *grid.Level, i, j, k int, finest bool) (lattice.Flag, r3.Vec, error) {
	hit, ok := geo.Query(s.cellPos(lv, i, j, k))
	if !ok {
		return lattice.Empty, r3.Vec{}, nil
	}
	if hit.ObjectID < 1 || hit.ObjectID >= len(s.objects) {
		return 0, r3.Vec{}, fmt.Errorf("object %d: %w", hit.ObjectID, ErrObjectID)
	}
	obj := &s.objects[hit.ObjectID]
	obj.kind = hit.Kind
	obj.worldVel = hit.Velocity
	obj.partSlip = hit.PartSlip
	obj.vel = r3.Scale(s.Timestep/s.Cfg.Derived.CellSize, hit.Velocity)

	if hit.Kind.wall() {
		f := hit.Kind.bndFlag().WithObject(hit.ObjectID)
		if r3.Norm(hit.Velocity) > 0 {
			f |= lattice.Moving
		}
		return f, r3.Vec{}, nil
	}
	if !finest {
		return lattice.Empty, r3.Vec{}, nil
	}
	switch hit.Kind {
	case KindInflow:
		return (lattice.Empty | lattice.Inflow).WithObject(hit.ObjectID), obj.vel, nil
	case KindOutflow:
		return (lattice.Empty | lattice.Outflow).WithObject(hit.ObjectID), r3.Vec{}, nil
	}
	return lattice.Fluid, obj.vel, nil
}

// markNoBndFluid sets NoBndFluid on finest-level fluid cells that do not
// touch a boundary.
func (s *State) markNoBndFluid() {
	lv := s.H.Finest()
	cur := lv.Buf.Cur()
	forInterior(lv, func(i, j, k int) {
		idx := lv.Index(i, j, k)
		if cur.Flags[idx]&lattice.Fluid == 0 {
			return
		}
		for l := 1; l < lv.Stencil.Q; l++ {
			if cur.Flags[lv.Nb(idx, l)]&lattice.Bnd != 0 {
				cur.Flags[idx] &^= lattice.NoBndFluid
				return
			}
		}
		cur.Flags[idx] |= lattice.NoBndFluid
	})
}

// initFreeSurfaces turns fluid cells next to gas into interface cells and
// removes interface cells that cannot take part in mass exchange.
func (s *State) initFreeSurfaces() {
	lv := s.H.Finest()
	st := lv.Stencil
	cur := lv.Buf.Cur()
	fill := s.Cfg.Surface.InitFill

	nbored := func(idx int) lattice.Flag {
		var f lattice.Flag
		for l := 1; l < st.Q; l++ {
			f |= cur.Flags[lv.Nb(idx, l)]
		}
		return f
	}

	forInterior(lv, func(i, j, k int) {
		idx := lv.Index(i, j, k)
		f := cur.Flags[idx]
		if f&lattice.Fluid == 0 || nbored(idx)&lattice.Empty == 0 {
			return
		}
		rho, u := lv.Moments(cur, idx)
		lv.InitCell(idx, changeRole(f&^lattice.NoBndFluid, lattice.Interface), rho, fill*rho, u)
	})

	forInterior(lv, func(i, j, k int) {
		idx := lv.Index(i, j, k)
		f := cur.Flags[idx]
		if f&lattice.Interface == 0 {
			return
		}
		nb := nbored(idx)
		switch {
		case nb&lattice.Empty == 0:
			rho, u := lv.Moments(cur, idx)
			lv.InitCell(idx, changeRole(f, lattice.Fluid), rho, rho, u)
		case nb&lattice.Fluid == 0 || nb&lattice.Interface == 0:
			lv.InitCell(idx, changeRole(f, lattice.Empty), 1, 0, r3.Vec{})
		}
	})

	for pass := 0; pass < s.Cfg.Surface.SmoothPasses; pass++ {
		s.smoothSurface()
	}
}

// smoothSurface averages the mass of interface cells over their
// neighbourhood, counting fluid cells as full.
func (s *State) smoothSurface() {
	lv := s.H.Finest()
	st := lv.Stencil
	cur, oth := lv.Buf.Cur(), lv.Buf.Other()
	forInterior(lv, func(i, j, k int) {
		idx := lv.Index(i, j, k)
		if cur.Flags[idx]&lattice.Interface == 0 {
			return
		}
		var mass float64
		for l := 0; l < st.Q; l++ {
			n := lv.Nb(idx, l)
			switch f := cur.Flags[n]; {
			case f&lattice.Fluid != 0:
				mass++
			case f&lattice.Interface != 0:
				mass += cur.Cells[n*lv.Stride+lv.MassIdx]
			}
		}
		c := lv.Cell(oth, idx)
		c[lv.MassIdx] = mass / float64(st.Q)
		c[lv.FfracIdx] = c[lv.MassIdx]
	})
	forInterior(lv, func(i, j, k int) {
		idx := lv.Index(i, j, k)
		if cur.Flags[idx]&lattice.Interface != 0 {
			c, o := lv.Cell(cur, idx), lv.Cell(oth, idx)
			c[lv.MassIdx], c[lv.FfracIdx] = o[lv.MassIdx], o[lv.FfracIdx]
		}
	})
}

// initStandingFluid gives resting fluid a hydrostatic density profile along
// the dominant gravity axis, measured from the free surface of each column.
func (s *State) initStandingFluid() {
	lv := s.H.Finest()
	st := lv.Stencil
	cur := lv.Buf.Cur()
	g := r3.Scale(lv.Omega, lv.Gravity)

	axis := 1
	ga := []float64{math.Abs(g.X), math.Abs(g.Y), math.Abs(g.Z)}
	if ga[0] > ga[axis] {
		axis = 0
	}
	if st.Dim == 3 && ga[2] > ga[axis] {
		axis = 2
	}
	mag := ga[axis]
	if mag == 0 {
		return
	}
	down := -1 // direction gravity points along axis
	if [3]float64{g.X, g.Y, g.Z}[axis] > 0 {
		down = 1
	}
	ext := [3]int{lv.Nx, lv.Ny, lv.Nz}

	// walk every column against gravity from its top
	forInterior(lv, func(i, j, k int) {
		p := [3]int{i, j, k}
		top := 1
		if down == -1 {
			top = ext[axis] - 2
		}
		if p[axis] != top {
			return
		}
		depth := -1
		for c := top; c >= 1 && c <= ext[axis]-2; c += down {
			p[axis] = c
			idx := lv.Index(p[0], p[1], p[2])
			f := cur.Flags[idx]
			if f&(lattice.Fluid|lattice.Interface) == 0 {
				depth = -1
				continue
			}
			depth++
			if depth == 0 || f&lattice.FromCoarse != 0 {
				continue
			}
			rho := 1 + 3*mag*float64(depth)
			_, u := lv.Moments(cur, idx)
			c0 := lv.Cell(cur, idx)
			frac := c0[lv.FfracIdx]
			lv.InitCell(idx, f, rho, frac*rho, u)
		}
	})
}

// initGrids derives the coarse levels from the painted finest level by
// running the adaptation passes twice per level, finest first.
func (s *State) initGrids() {
	for lev := s.H.MaxRefine - 1; lev >= 0; lev-- {
		for pass := 0; pass < 2; pass++ {
			s.refine(lev)
			s.coarsen(lev)
			s.restrict(lev)
			s.syncBuffers(s.H.Levels[lev])
			s.syncBuffers(s.H.Levels[lev+1])
		}
	}
	for _, lv := range s.H.Levels {
		s.syncBuffers(lv)
	}
}

// syncBuffers copies the current buffer of lv into the other one.
func (s *State) syncBuffers(lv *grid.Level) {
	cur, oth := lv.Buf.Cur(), lv.Buf.Other()
	copy(oth.Cells, cur.Cells)
	copy(oth.Flags, cur.Flags)
}

// syncFlags copies only the flags of the current buffer of every level.
func (s *State) syncFlags() {
	for _, lv := range s.H.Levels {
		copy(lv.Buf.Other().Flags, lv.Buf.Cur().Flags)
	}
}

// measure returns the mass and volume of the current state, counted the
// same way a step accumulates them.
func (s *State) measure() (mass, volume float64) {
	fine := s.H.Finest()
	cur := fine.Buf.Cur()
	forInterior(fine, func(i, j, k int) {
		idx := fine.Index(i, j, k)
		f := cur.Flags[idx]
		c := fine.Cell(cur, idx)
		switch {
		case f&lattice.FromCoarse != 0:
		case f&lattice.Fluid != 0:
			rho, _, _, _ := fine.Stencil.Moments(c)
			mass += rho
			volume++
		case f&lattice.Interface != 0:
			mass += c[fine.MassIdx]
			volume += c[fine.FfracIdx]
		}
	})
	for lev := 0; lev < s.H.MaxRefine; lev++ {
		lv := s.H.Levels[lev]
		s.fluxAreas(lev)
		b := lv.Buf.Cur()
		var lm, lvol float64
		forInterior(lv, func(i, j, k int) {
			idx := lv.Index(i, j, k)
			f := b.Flags[idx]
			if f&lattice.Fluid == 0 || f&(lattice.FromFine|lattice.FromCoarse) != 0 {
				return
			}
			c := lv.Cell(b, idx)
			rho, _, _, _ := lv.Stencil.Moments(c)
			lm += c[lv.FluxIdx] * rho
			lvol += c[lv.FluxIdx]
		})
		mass += lm * lv.CellFactor
		volume += lvol * lv.CellFactor
	}
	return mass, volume
}
