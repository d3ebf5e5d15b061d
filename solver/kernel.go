package solver

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/lbmflow/grid"
	"github.com/pthm-cable/lbmflow/lattice"
)

const normalEps = 1e-5

// scratch is per-chunk working memory for the cell kernels.
type scratch struct {
	m      []float64
	nb     []lattice.Flag
	recons []bool
}

func newScratch(q int) *scratch {
	return &scratch{m: make([]float64, q), nb: make([]lattice.Flag, q), recons: make([]bool, q)}
}

// stream pulls the populations arriving at idx into m and fills nb with the
// neighbour flags. Populations coming from a boundary cell are reflected
// according to the boundary kind. It returns the OR of all neighbour flags.
func (s *State) stream(lv *grid.Level, b *grid.Buffer, idx int, sc *scratch) lattice.Flag {
	st := lv.Stencil
	own := lv.Cell(b, idx)
	sc.m[0] = own[0]
	sc.nb[0] = b.Flags[idx]
	var nbored lattice.Flag
	for l := 1; l < st.Q; l++ {
		sc.nb[l] = b.Flags[lv.Nb(idx, l)]
		nbored |= sc.nb[l]
	}
	for l := 1; l < st.Q; l++ {
		src := lv.Nb(idx, st.Inv[l])
		bf := b.Flags[src]
		if bf&lattice.Bnd == 0 {
			sc.m[l] = b.Cells[src*lv.Stride+l]
			continue
		}
		sc.m[l] = s.reflect(lv, b, idx, l, bf)
	}
	return nbored
}

// reflect returns population l of cell idx when its source x-e_l is a
// boundary cell with flag bf.
func (s *State) reflect(lv *grid.Level, b *grid.Buffer, idx, l int, bf lattice.Flag) float64 {
	st := lv.Stencil
	own := lv.Cell(b, idx)
	bounce := own[st.Inv[l]]
	obj := &s.objects[bf.ObjectID()]
	if bf&lattice.Moving != 0 {
		v := obj.vel
		bounce += 6 * st.W[l] * (float64(st.Ex[l])*v.X + float64(st.Ey[l])*v.Y + float64(st.Ez[l])*v.Z)
	}
	switch {
	case bf&lattice.BndFreeSlip != 0:
		return s.slip(lv, b, idx, l, bounce)
	case bf&lattice.BndPartSlip != 0:
		p := obj.partSlip
		return p*bounce + (1-p)*s.slip(lv, b, idx, l, bounce)
	}
	return bounce
}

// slip mirrors a diagonal population across a planar wall. Straight
// directions, corners and edges fall back to bounce-back.
func (s *State) slip(lv *grid.Level, b *grid.Buffer, idx, l int, bounce float64) float64 {
	st := lv.Stencil
	e := [3]int{st.Ex[l], st.Ey[l], st.Ez[l]}
	nonzero := 0
	for _, c := range e {
		if c != 0 {
			nonzero++
		}
	}
	if nonzero < 2 {
		return bounce
	}
	i, j, k := lv.Coords(idx)
	wall := -1
	for a := 0; a < 3; a++ {
		if e[a] == 0 {
			continue
		}
		p := [3]int{i, j, k}
		p[a] -= e[a]
		if b.Flags[lv.Index(p[0], p[1], p[2])]&lattice.Bnd != 0 {
			if wall >= 0 {
				return bounce
			}
			wall = a
		}
	}
	if wall < 0 {
		return bounce
	}
	// the mirrored population left the tangential neighbour toward the wall
	t := [3]int{i - e[0], j - e[1], k - e[2]}
	t[wall] = [3]int{i, j, k}[wall]
	ti := lv.Index(t[0], t[1], t[2])
	if b.Flags[ti]&(lattice.Fluid|lattice.Interface) == 0 {
		return bounce
	}
	r := e
	r[wall] = -r[wall]
	ml := st.Dir(r[0], r[1], r[2])
	return b.Cells[ti*lv.Stride+ml]
}

// fromCoarseCopy reports whether FromCoarse cells of lev only carry their
// populations forward on this step instead of interpolating.
func (s *State) fromCoarseCopy(lev int) bool {
	return lev == s.H.MaxRefine && s.StepCount&1 == 1
}

// checkCell records an instability if the cell state is unusable.
func (s *State) checkCell(res *sweepResult, lv *grid.Level, idx int, rho, ux, uy, uz float64) {
	if res.panicReason != "" {
		return
	}
	usqr := ux*ux + uy*uy + uz*uz
	limit := s.Cfg.Solver.PanicSpeed
	if math.IsNaN(rho) || math.IsInf(rho, 0) || math.IsNaN(usqr) || usqr > limit*limit {
		i, j, k := lv.Coords(idx)
		res.panicReason = fmt.Sprintf("level %d cell (%d,%d,%d) rho=%g |u|=%g", lv.Num, i, j, k, rho, math.Sqrt(usqr))
	}
}

// velocity adds gravity and control forces to the raw first moment. An
// active attraction takes the place of gravity.
func (s *State) velocity(lv *grid.Level, i, j, k int, ux, uy, uz float64) (float64, float64, float64) {
	u := r3.Vec{X: ux + lv.Gravity.X, Y: uy + lv.Gravity.Y, Z: uz + lv.Gravity.Z}
	if s.Control != nil && lv.Num == s.H.MaxRefine {
		u = s.Control.Force(s.cellPos(lv, i, j, k), u).Apply(u, lv.Gravity)
	}
	return u.X, u.Y, u.Z
}

// fineSweep advances the free-surface level over slabs [s0, s1) from the
// current into the other buffer, collecting filled and emptied cells.
func (s *State) fineSweep(res *sweepResult, s0, s1 int) {
	lv := s.H.Finest()
	st := lv.Stencil
	q := st.Q
	cur, oth := lv.Buf.Cur(), lv.Buf.Other()
	sc := newScratch(q)

	lo, hi := lv.SlabRange(s0, s1)
	for idx := lo; idx < hi; idx++ {
		i, j, k := lv.Coords(idx)
		if !lv.Interior(i, j, k) {
			continue
		}
		old := cur.Flags[idx]
		ccel := lv.Cell(cur, idx)
		tcel := lv.Cell(oth, idx)

		if old&lattice.FromCoarse != 0 {
			if s.fromCoarseCopy(lv.Num) {
				copy(tcel[:q], ccel[:q])
				oth.Flags[idx] = old
			} else {
				s.interpolateCell(lv.Num, i, j, k, oth, 0, lattice.Fluid|lattice.FromCoarse, false)
				res.interpolated++
			}
			continue
		}

		if old&lattice.Inflow != 0 && old&(lattice.Fluid|lattice.Interface) == 0 {
			v := s.objects[old.ObjectID()].vel
			st.EquilibriumAll(tcel, 1, v.X, v.Y, v.Z)
			tcel[lv.MassIdx], tcel[lv.FfracIdx], tcel[lv.FluxIdx] = 1, 1, st.FluxInit()
			oth.Flags[idx] = changeRole(old, lattice.Interface)
			res.massSource++
			res.mass++
			res.volume++
			res.used++
			continue
		}

		if old&lattice.Outflow != 0 && old&lattice.Fluid != 0 {
			rho, _, _, _ := st.Moments(ccel)
			copy(tcel[:q], ccel[:q])
			tcel[lv.MassIdx], tcel[lv.FfracIdx], tcel[lv.FluxIdx] = 0, 0, st.FluxInit()
			oth.Flags[idx] = changeRole(old, lattice.Interface)
			res.massSource -= rho
			res.empty = append(res.empty, idx)
			res.emptied++
			continue
		}

		switch {
		case old&lattice.Fluid != 0:
			s.fluidCell(res, lv, sc, idx, i, j, k, old)
		case old&lattice.Interface != 0:
			s.interfaceCell(res, lv, sc, idx, i, j, k, old)
		default:
			oth.Flags[idx] = old
		}
	}
}

func (s *State) fluidCell(res *sweepResult, lv *grid.Level, sc *scratch, idx, i, j, k int, old lattice.Flag) {
	st := lv.Stencil
	cur, oth := lv.Buf.Cur(), lv.Buf.Other()
	tcel := lv.Cell(oth, idx)

	nbored := s.stream(lv, cur, idx, sc)
	flag := old
	var rho, ux, uy, uz float64
	if old&lattice.Inflow != 0 {
		for l := 0; l < st.Q; l++ {
			rho += sc.m[l]
		}
		v := s.objects[old.ObjectID()].vel
		ux, uy, uz = v.X, v.Y, v.Z
		st.EquilibriumAll(tcel, rho, ux, uy, uz)
	} else {
		rho, ux, uy, uz = st.Moments(sc.m)
		ux, uy, uz = s.velocity(lv, i, j, k, ux, uy, uz)
		st.Collide(sc.m, rho, ux, uy, uz, lv.Omega, lv.Csmago)
		copy(tcel[:st.Q], sc.m)
	}
	if nbored&lattice.Bnd == 0 {
		flag |= lattice.NoBndFluid
	} else {
		flag &^= lattice.NoBndFluid
	}
	res.trackSpeed(ux, uy, uz)
	s.checkCell(res, lv, idx, rho, ux, uy, uz)

	tcel[lv.MassIdx] = rho
	tcel[lv.FfracIdx] = 1
	tcel[lv.FluxIdx] = st.FluxInit()
	oth.Flags[idx] = flag
	res.mass += rho
	res.volume++
	res.used++
}

// exchange combines the in and out parts of the mass exchange with an
// interface neighbour. Cells without fluid or empty neighbours only pass
// mass one way so thin layers drain or fill instead of oscillating.
func exchange(mine, theirs lattice.Flag, in, out float64) float64 {
	const nb = lattice.NoNbFluid | lattice.NoNbEmpty
	mine &= nb
	theirs &= nb
	switch mine {
	case 0:
		switch theirs {
		case lattice.NoNbFluid:
			return in
		case lattice.NoNbEmpty:
			return -out
		}
	case lattice.NoNbFluid:
		if theirs == 0 || theirs == lattice.NoNbEmpty {
			return -out
		}
	case lattice.NoNbEmpty:
		if theirs == 0 || theirs == lattice.NoNbFluid {
			return in
		}
	}
	return in - out
}

// surfaceNormal returns the central difference of fill fractions over the
// straight neighbours, pointing from fluid toward gas.
func (s *State) surfaceNormal(lv *grid.Level, b *grid.Buffer, idx int) r3.Vec {
	st := lv.Stencil
	frac := func(l int) float64 {
		n := lv.Nb(idx, l)
		if b.Flags[n]&(lattice.Fluid|lattice.Interface) == 0 {
			return 0
		}
		return b.Cells[n*lv.Stride+lv.FfracIdx]
	}
	n := r3.Vec{
		X: 0.5 * (frac(st.Axis(0, -1)) - frac(st.Axis(0, 1))),
		Y: 0.5 * (frac(st.Axis(1, -1)) - frac(st.Axis(1, 1))),
	}
	if st.Dim == 3 {
		n.Z = 0.5 * (frac(st.Axis(2, -1)) - frac(st.Axis(2, 1)))
	}
	return n
}

// exchangeMass returns the tracked mass of interface cell idx after the
// exchange with its streamed neighbourhood in sc. Directions toward gas or
// wall cells are marked for reconstruction.
func (s *State) exchangeMass(lv *grid.Level, b *grid.Buffer, sc *scratch, idx int, old lattice.Flag) float64 {
	st := lv.Stencil
	ccel := lv.Cell(b, idx)
	mass := ccel[lv.MassIdx]
	myfrac := ccel[lv.FfracIdx]
	myflux := ccel[lv.FluxIdx]

	for l := 1; l < st.Q; l++ {
		sc.recons[l] = false
		nf := sc.nb[l]
		in := sc.m[st.Inv[l]]
		out := ccel[l]
		switch {
		case nf&lattice.Fluid != 0:
			mass += in - out
		case nf&lattice.Interface != 0:
			nbc := lv.Cell(b, lv.Nb(idx, l))
			mynbfac := nbc[lv.FluxIdx] / myflux
			change := exchange(old, nf, in/mynbfac, mynbfac*out)
			mass += change * (myfrac + nbc[lv.FfracIdx]) * 0.5
		case nf&(lattice.Empty|lattice.Bnd) != 0:
			sc.recons[l] = true
		}
	}
	return mass
}

// reconstruct replaces the populations arriving from marked directions and
// from directions along the surface normal. Each one is rebuilt from the
// equilibrium at unit density and the cell's previous velocity.
func (s *State) reconstruct(lv *grid.Level, b *grid.Buffer, sc *scratch, idx int) {
	st := lv.Stencil
	ccel := lv.Cell(b, idx)

	n := s.surfaceNormal(lv, b, idx)
	if math.Abs(n.X)+math.Abs(n.Y)+math.Abs(n.Z) > normalEps {
		for l := 1; l < st.Q; l++ {
			if r3.Dot(st.Vec(l), n) > normalEps {
				sc.recons[l] = true
			}
		}
	}

	_, oux, ouy, ouz := st.Moments(ccel)
	for l := 1; l < st.Q; l++ {
		if !sc.recons[l] {
			continue
		}
		inv := st.Inv[l]
		sc.m[inv] = st.Equilibrium(l, 1, oux, ouy, ouz) + st.Equilibrium(inv, 1, oux, ouy, ouz) - ccel[l]
	}
}

func (s *State) interfaceCell(res *sweepResult, lv *grid.Level, sc *scratch, idx, i, j, k int, old lattice.Flag) {
	st := lv.Stencil
	q := st.Q
	cur, oth := lv.Buf.Cur(), lv.Buf.Other()
	ccel, tcel := lv.Cell(cur, idx), lv.Cell(oth, idx)

	flag := old &^ (lattice.NoNbFluid | lattice.NoNbEmpty | lattice.NoDelete | lattice.NoInterpolSrc | lattice.NoBndFluid)
	myfrac := ccel[lv.FfracIdx]

	nbored := s.stream(lv, cur, idx, sc)
	if nbored&lattice.Fluid == 0 {
		flag |= lattice.NoNbFluid
	}
	if nbored&lattice.Empty == 0 {
		flag |= lattice.NoNbEmpty
	}
	mass := s.exchangeMass(lv, cur, sc, idx, old)
	s.reconstruct(lv, cur, sc, idx)

	rho, ux, uy, uz := st.Moments(sc.m)
	ux, uy, uz = s.velocity(lv, i, j, k, ux, uy, uz)
	st.Collide(sc.m, rho, ux, uy, uz, lv.Omega, lv.Csmago)
	copy(tcel[:q], sc.m)
	rho = 0
	for l := 0; l < q; l++ {
		rho += sc.m[l]
	}
	res.trackSpeed(ux, uy, uz)
	s.checkCell(res, lv, idx, rho, ux, uy, uz)

	if old&lattice.Inflow != 0 && myfrac < 0.5 {
		mass += 0.25
		res.massSource += 0.25
	}

	margin := s.Cfg.Surface.FillMargin
	filled := mass >= rho*(1+margin)
	emptied := mass <= -rho*margin
	if old&lattice.Outflow != 0 {
		res.massSource -= mass
		mass = 0
		filled, emptied = false, true
	}

	// isolated cells with one-sided neighbourhoods are converted early
	if !filled && !emptied {
		both := func(f lattice.Flag) bool { return old&f != 0 && flag&f != 0 }
		if both(lattice.NoNbEmpty) && (mass > s.Cfg.Surface.ListFill*rho || nbored&lattice.Interface == 0) {
			filled = true
		} else if both(lattice.NoNbFluid) && (mass < s.Cfg.Surface.ListEmpty*rho || nbored&lattice.Interface == 0) {
			emptied = true
		}
	}
	if filled {
		res.full = append(res.full, idx)
		res.filled++
	} else if emptied {
		res.empty = append(res.empty, idx)
		res.emptied++
	}

	frac := 0.0
	if rho != 0 {
		frac = mass / rho
	}
	flux := st.FluxInit()
	for l := 1; l < q; l++ {
		if sc.nb[l]&(lattice.Fluid|lattice.Interface|lattice.Bnd) != 0 {
			flux += st.Length[l]
		}
	}
	tcel[lv.MassIdx] = mass
	tcel[lv.FfracIdx] = frac
	tcel[lv.FluxIdx] = flux
	oth.Flags[idx] = flag
	res.mass += mass
	res.volume += frac
	res.used++
}

// coarseSweep advances a coarse level lev over slabs [s0, s1). Only plain
// fluid cells are stepped; cells fed by the finer level are copied and
// cells fed by the coarser level are interpolated.
func (s *State) coarseSweep(lev int) func(res *sweepResult, s0, s1 int) {
	return func(res *sweepResult, s0, s1 int) {
		lv := s.H.Levels[lev]
		st := lv.Stencil
		q := st.Q
		cur, oth := lv.Buf.Cur(), lv.Buf.Other()
		sc := newScratch(q)

		lo, hi := lv.SlabRange(s0, s1)
		for idx := lo; idx < hi; idx++ {
			i, j, k := lv.Coords(idx)
			if !lv.Interior(i, j, k) {
				continue
			}
			flag := cur.Flags[idx]
			oth.Flags[idx] = flag
			ccel, tcel := lv.Cell(cur, idx), lv.Cell(oth, idx)

			if flag&lattice.FromCoarse != 0 {
				if s.fromCoarseCopy(lev) {
					copy(tcel[:q], ccel[:q])
				} else {
					s.interpolateCell(lev, i, j, k, oth, 0, lattice.Fluid|lattice.FromCoarse, false)
					res.interpolated++
				}
				continue
			}
			if flag&lattice.Fluid == 0 {
				continue
			}
			if flag&lattice.FromFine != 0 {
				copy(tcel[:q], ccel[:q])
				continue
			}

			s.stream(lv, cur, idx, sc)
			rho, ux, uy, uz := st.Moments(sc.m)
			ux, uy, uz = s.velocity(lv, i, j, k, ux, uy, uz)
			st.Collide(sc.m, rho, ux, uy, uz, lv.Omega, lv.Csmago)
			copy(tcel[:q], sc.m)
			oth.Flags[idx] |= lattice.NoBndFluid
			s.checkCell(res, lv, idx, rho, ux, uy, uz)

			flux := ccel[lv.FluxIdx]
			res.volume += flux
			res.mass += flux * rho
			res.used++
		}
	}
}
