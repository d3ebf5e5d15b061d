package solver

import (
	"github.com/pthm-cable/lbmflow/grid"
	"github.com/pthm-cable/lbmflow/lattice"
)

// Flags a fine cell must not carry to be covered by a coarse cell.
const notAllowed = lattice.Interface | lattice.FromFine | lattice.ToFine

// neighbourhood returns the 3^dim offsets around a cell, centre first.
func neighbourhood(dim int) [][3]int {
	zr := 1
	if dim == 2 {
		zr = 0
	}
	out := [][3]int{{0, 0, 0}}
	for dz := -zr; dz <= zr; dz++ {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dx == 0 && dy == 0 && dz == 0 {
					continue
				}
				out = append(out, [3]int{dx, dy, dz})
			}
		}
	}
	return out
}

// cellAreas returns the fraction of a coarse cell face area covered by the
// fine cell at each neighbourhood offset.
func cellAreas(dim int, nb [][3]int) []float64 {
	area := make([]float64, len(nb))
	for n, o := range nb {
		a := 0.125
		if dim == 2 {
			a = 0.25
		}
		for _, c := range o {
			if c != 0 {
				a *= 0.5
			}
		}
		area[n] = a
	}
	return area
}

// flagAt returns the flag at (i,j,k), treating off-grid sites as boundary.
func flagAt(lv *grid.Level, b *grid.Buffer, i, j, k int) lattice.Flag {
	if !lv.InBounds(i, j, k) {
		return lattice.Bnd
	}
	return b.Flags[lv.Index(i, j, k)]
}

func setFlag(lv *grid.Level, b *grid.Buffer, i, j, k int, f lattice.Flag) {
	if lv.InBounds(i, j, k) {
		b.Flags[lv.Index(i, j, k)] = f
	}
}

// forInterior calls fn for every interior site of lv in index order.
func forInterior(lv *grid.Level, fn func(i, j, k int)) {
	k0, k1 := 1, lv.Nz-1
	if lv.Stencil.Dim == 2 {
		k0, k1 = 0, 1
	}
	for k := k0; k < k1; k++ {
		for j := 1; j < lv.Ny-1; j++ {
			for i := 1; i < lv.Nx-1; i++ {
				fn(i, j, k)
			}
		}
	}
}

// anyNb reports whether a neighbourhood site of (i,j,k) carries one of mask.
func (s *State) anyNb(lv *grid.Level, b *grid.Buffer, i, j, k int, mask lattice.Flag) bool {
	for _, o := range s.nbhood[1:] {
		if flagAt(lv, b, i+o[0], j+o[1], k+o[2])&mask != 0 {
			return true
		}
	}
	return false
}

// allNb reports whether every neighbourhood site of (i,j,k) carries one of mask.
func (s *State) allNb(lv *grid.Level, b *grid.Buffer, i, j, k int, mask lattice.Flag) bool {
	for _, o := range s.nbhood[1:] {
		if flagAt(lv, b, i+o[0], j+o[1], k+o[2])&mask == 0 {
			return false
		}
	}
	return true
}

// reqType is the flag a fine cell needs before lev may cover it.
func (s *State) reqType(lev int) lattice.Flag {
	if lev+1 == s.H.MaxRefine {
		return lattice.NoBndFluid
	}
	return lattice.GrNorm
}

func coverable(f, req lattice.Flag) bool {
	return f&req != 0 && f&notAllowed == 0
}

// interpolateCell fills cell (i,j,k) of level lev in dst from the parent
// level, blending the parent's two buffers by t. With markNbs set, Unused
// neighbours are interpolated first so the cell has a complete stencil.
func (s *State) interpolateCell(lev, i, j, k int, dst *grid.Buffer, t float64, flag lattice.Flag, markNbs bool) {
	lv, up := s.H.Levels[lev], s.H.Levels[lev-1]
	st := lv.Stencil
	q := st.Q
	if markNbs {
		for _, o := range s.nbhood[1:] {
			ni, nj, nk := i+o[0], j+o[1], k+o[2]
			if flagAt(lv, dst, ni, nj, nk)&lattice.Unused != 0 {
				s.interpolateCell(lev, ni, nj, nk, dst, t, lattice.Fluid|lattice.FromCoarse, false)
			}
		}
	}
	idx := lv.Index(i, j, k)
	dst.Flags[idx] = flag

	var df [19]float64
	upCur, upOth := up.Buf.Cur(), up.Buf.Other()
	add := func(pi, pj, pk int, w, t float64) {
		pi, pj, pk = clamp(pi, up.Nx), clamp(pj, up.Ny), clamp(pk, up.Nz)
		pidx := up.Index(pi, pj, pk)
		c, o := up.Cell(upCur, pidx), up.Cell(upOth, pidx)
		for l := 0; l < q; l++ {
			df[l] += w * (c[l]*(1-t) + o[l]*t)
		}
	}

	bx, by, bz := i&1, j&1, k&1
	if bx == 0 && by == 0 && bz == 0 {
		add(i/2, j/2, k/2, 1, 0)
	} else {
		w := 1.0 / float64(int(1)<<(bx+by+bz))
		for dz := 0; dz <= bz; dz++ {
			for dy := 0; dy <= by; dy++ {
				for dx := 0; dx <= bx; dx++ {
					add(i/2+dx, j/2+dy, k/2+dz, w, t)
				}
			}
		}
	}

	rho, ux, uy, uz := st.Moments(df[:q])
	omDst, omSrc := lv.Omega, up.Omega
	if lv.Csmago > 0 {
		qo := st.StressMagnitude(df[:q], rho, ux, uy, uz)
		omDst = lattice.LESOmega(lv.Omega, lv.Csmago, qo)
		omSrc = lattice.LESOmega(up.Omega, up.Csmago, qo)
	}
	scale := s.H.DfScale(lev-1, lev, omSrc, omDst)
	c := lv.Cell(dst, idx)
	for l := 0; l < q; l++ {
		feq := st.Equilibrium(l, rho, ux, uy, uz)
		c[l] = feq + (df[l]-feq)*scale
	}
	c[lv.MassIdx] = rho
	c[lv.FfracIdx] = 1
	c[lv.FluxIdx] = st.FluxInit()
}

func clamp(v, n int) int {
	switch {
	case v < 0:
		return 0
	case v >= n:
		return n - 1
	}
	return v
}

// fluxAreas sets the flux field of fluid cells on lev to the fraction of
// the cell not covered by active fine cells.
func (s *State) fluxAreas(lev int) {
	lv, fine := s.H.Levels[lev], s.H.Levels[lev+1]
	cur, fcur := lv.Buf.Cur(), fine.Buf.Cur()
	forInterior(lv, func(i, j, k int) {
		idx := lv.Index(i, j, k)
		if cur.Flags[idx]&lattice.Fluid == 0 {
			return
		}
		c := lv.Cell(cur, idx)
		child := flagAt(fine, fcur, 2*i, 2*j, 2*k)
		switch {
		case child&lattice.FromCoarse != 0:
			area := s.cellArea[0]
			for n, o := range s.nbhood[1:] {
				if flagAt(fine, fcur, 2*i+o[0], 2*j+o[1], 2*k+o[2])&(lattice.FromCoarse|lattice.Unused|lattice.Empty) != 0 {
					area += s.cellArea[n+1]
				}
			}
			c[lv.FluxIdx] = area
		case child&(lattice.Empty|lattice.Unused) != 0:
			c[lv.FluxIdx] = 1
		default:
			c[lv.FluxIdx] = 0
		}
	})
}

// restrictSweep averages the fine populations under every FromFine cell of
// lev into the coarse current buffer and keeps ToFine markers up to date.
func (s *State) restrictSweep(lev int) func(res *sweepResult, s0, s1 int) {
	return func(res *sweepResult, s0, s1 int) {
		lv, fine := s.H.Levels[lev], s.H.Levels[lev+1]
		st := lv.Stencil
		q := st.Q
		dst, src := lv.Buf.Cur(), fine.Buf.Cur()

		lo, hi := lv.SlabRange(s0, s1)
		for idx := lo; idx < hi; idx++ {
			i, j, k := lv.Coords(idx)
			if !lv.Interior(i, j, k) {
				continue
			}
			flag := dst.Flags[idx]
			if flag&lattice.Fluid == 0 {
				continue
			}
			if flag&lattice.FromFine == 0 {
				if flagAt(fine, src, 2*i, 2*j, 2*k)&lattice.FromCoarse != 0 {
					dst.Flags[idx] |= lattice.ToFine
				} else {
					dst.Flags[idx] &^= lattice.ToFine
				}
				continue
			}

			var df [19]float64
			for n := 0; n < q; n++ {
				fidx := fine.Index(2*i+st.Ex[n], 2*j+st.Ey[n], 2*k+st.Ez[n])
				fc := fine.Cell(src, fidx)
				w := s.gauss[n]
				for l := 0; l < q; l++ {
					df[l] += w * fc[l]
				}
			}
			rho, ux, uy, uz := st.Moments(df[:q])
			omDst, omSrc := lv.Omega, fine.Omega
			if lv.Csmago > 0 {
				qo := st.StressMagnitude(df[:q], rho, ux, uy, uz)
				omDst = lattice.LESOmega(lv.Omega, lv.Csmago, qo)
				omSrc = lattice.LESOmega(fine.Omega, fine.Csmago, qo)
			}
			scale := s.H.DfScale(lev+1, lev, omSrc, omDst)
			c := lv.Cell(dst, idx)
			for l := 0; l < q; l++ {
				feq := st.Equilibrium(l, rho, ux, uy, uz)
				c[l] = feq + (df[l]-feq)*scale
			}
			res.used++
		}
	}
}

// restrict runs the fine to coarse transfer for lev.
func (s *State) restrict(lev int) {
	lv := s.H.Levels[lev]
	results := s.pool.sweep(lv.Slabs(), s.restrictSweep(lev))
	for i := range results {
		s.used += results[i].used
		s.levelUsed[lev] += results[i].used
	}
}

// refine grows the fine region of lev+1 where the coarse level no longer
// has a usable fine cover and rebuilds the FromCoarse transition layer.
func (s *State) refine(lev int) bool {
	lv, fine := s.H.Levels[lev], s.H.Levels[lev+1]
	src, dst := lv.Buf.Other(), lv.Buf.Cur()
	fsrc := fine.Buf.Cur()
	req := s.reqType(lev)
	changed := false

	forInterior(lv, func(i, j, k int) {
		if flagAt(lv, src, i, j, k)&lattice.FromFine == 0 {
			return
		}
		if coverable(flagAt(fine, fsrc, 2*i, 2*j, 2*k), req) {
			return
		}
		setFlag(lv, dst, i, j, k, lattice.Empty)
		changed = true
		for _, o := range s.nbhood[1:] {
			ni, nj, nk := i+o[0], j+o[1], k+o[2]
			nf := flagAt(lv, src, ni, nj, nk)
			if nf&lattice.Fluid != 0 && nf&lattice.FromFine == 0 {
				setFlag(lv, dst, ni, nj, nk, lattice.Fluid|lattice.FromFine)
			}
		}
	})

	forInterior(lv, func(i, j, k int) {
		if flagAt(lv, src, i, j, k)&lattice.FromCoarse == 0 {
			return
		}
		if !s.anyNb(lv, src, i, j, k, lattice.Unused) {
			setFlag(lv, dst, i, j, k, lattice.Fluid|lattice.GrNorm)
			changed = true
		}
		if !s.anyNb(lv, src, i, j, k, lattice.GrNorm) {
			setFlag(lv, dst, i, j, k, lattice.Unused)
			changed = true
		}
		if flagAt(fine, fsrc, 2*i, 2*j, 2*k)&lattice.FromCoarse == 0 {
			return
		}
		setFlag(lv, dst, i, j, k, lattice.Fluid|lattice.GrNorm)
		if lev > 0 {
			up := s.H.Levels[lev-1]
			pidx := up.Index(i/2, j/2, k/2)
			up.Buf.Cur().Flags[pidx] &^= lattice.ToFine
		}
		changed = true
		for _, o := range s.nbhood[1:] {
			ni, nj, nk := i+o[0], j+o[1], k+o[2]
			nf := flagAt(lv, src, ni, nj, nk)
			switch {
			case nf&lattice.GrNorm != 0:
				if s.anyNb(lv, src, ni, nj, nk, lattice.Unused) {
					setFlag(lv, dst, ni, nj, nk, lattice.Fluid|lattice.FromCoarse)
				}
			case nf&lattice.Unused != 0:
				s.interpolateCell(lev, ni, nj, nk, dst, 0, lattice.Fluid|lattice.FromCoarse, false)
			}
		}
	})

	forInterior(lv, func(i, j, k int) {
		if flagAt(lv, dst, i, j, k)&lattice.FromFine == 0 {
			return
		}
		if flagAt(fine, fsrc, 2*i, 2*j, 2*k)&lattice.FromCoarse == 0 {
			return
		}
		setf := lattice.Fluid
		if lev+1 < s.H.MaxRefine {
			setf |= lattice.GrNorm
		}
		setFlag(fine, fsrc, 2*i, 2*j, 2*k, setf)
		changed = true
		for _, o := range s.nbhood[1:] {
			bi, bj, bk := 2*i+o[0], 2*j+o[1], 2*k+o[2]
			bf := flagAt(fine, fsrc, bi, bj, bk)
			switch {
			case bf&lattice.FromCoarse != 0:
				setFlag(fine, fsrc, bi, bj, bk, setf)
			case bf&lattice.Unused != 0:
				s.interpolateCell(lev+1, bi, bj, bk, fsrc, 0, setf, false)
			}
		}
		for _, o := range s.nbhood[1:] {
			bi, bj, bk := 2*i+o[0], 2*j+o[1], 2*k+o[2]
			bf := flagAt(fine, fsrc, bi, bj, bk)
			if bf&lattice.Fluid == 0 || bf&lattice.FromCoarse != 0 {
				continue
			}
			for _, m := range s.nbhood[1:] {
				mi, mj, mk := bi+m[0], bj+m[1], bk+m[2]
				if flagAt(fine, fsrc, mi, mj, mk)&lattice.Unused != 0 {
					s.interpolateCell(lev+1, mi, mj, mk, fsrc, 0, lattice.Fluid|lattice.FromCoarse, false)
				}
			}
		}
	})
	return changed
}

// coarsen hands regions of lev+1 that are plain fluid with plain fluid
// surroundings to lev and marks coarse empty cells over coverable fine
// fluid as FromFine.
func (s *State) coarsen(lev int) bool {
	lv, fine := s.H.Levels[lev], s.H.Levels[lev+1]
	src := lv.Buf.Cur()
	fdst, foth := fine.Buf.Cur(), fine.Buf.Other()
	req := s.reqType(lev)
	changed := false
	zr := 1
	if lv.Stencil.Dim == 2 {
		zr = 0
	}
	const cover = lattice.GrNorm | lattice.FromCoarse

	forInterior(lv, func(i, j, k int) {
		if flagAt(lv, src, i, j, k)&lattice.FromFine == 0 {
			return
		}
		for _, o := range s.nbhood {
			if !coverable(flagAt(fine, fdst, 2*i+o[0], 2*j+o[1], 2*k+o[2]), req) {
				return
			}
		}
		if !s.allNb(lv, src, i, j, k, lattice.Fluid) {
			return
		}
		setFlag(lv, src, i, j, k, lattice.Fluid|lattice.GrNorm)
		changed = true

		for dz := -zr; dz <= zr; dz += 2 {
			for dy := -1; dy <= 1; dy += 2 {
				for dx := -1; dx <= 1; dx += 2 {
					ok := flagAt(lv, src, i+dx, j, k)&cover != 0 &&
						flagAt(lv, src, i, j+dy, k)&cover != 0 &&
						flagAt(lv, src, i, j, k+dz)&cover != 0 &&
						flagAt(lv, src, i+dx, j+dy, k)&cover != 0 &&
						flagAt(lv, src, i+dx, j, k+dz)&cover != 0 &&
						flagAt(lv, src, i, j+dy, k+dz)&cover != 0 &&
						flagAt(lv, src, i+dx, j+dy, k+dz)&cover != 0
					if !ok {
						continue
					}
					s.releaseFine(fine, fdst, foth, 2*i+dx, 2*j+dy, 2*k+dz)
				}
			}
		}
	})

	forInterior(lv, func(i, j, k int) {
		if flagAt(lv, src, i, j, k)&lattice.Empty == 0 {
			return
		}
		if coverable(flagAt(fine, fdst, 2*i, 2*j, 2*k), req) {
			setFlag(lv, src, i, j, k, lattice.Fluid|lattice.FromFine)
			changed = true
		}
	})
	return changed
}

// releaseFine marks fine cell (x,y,z) unused and turns its neighbours into
// transition cells. Interface mass that disappears goes to FixMass.
func (s *State) releaseFine(fine *grid.Level, cur, oth *grid.Buffer, x, y, z int) {
	setFlag(fine, cur, x, y, z, lattice.Unused)
	setFlag(fine, oth, x, y, z, lattice.Unused)
	for _, o := range s.nbhood[1:] {
		ni, nj, nk := x+o[0], y+o[1], z+o[2]
		nf := flagAt(fine, cur, ni, nj, nk)
		switch {
		case nf&lattice.Fluid != 0:
			setFlag(fine, cur, ni, nj, nk, lattice.Fluid|lattice.FromCoarse)
		case nf&lattice.Interface != 0:
			s.FixMass += fine.Cell(cur, fine.Index(ni, nj, nk))[fine.MassIdx]
			setFlag(fine, cur, ni, nj, nk, lattice.Fluid|lattice.FromCoarse)
		}
	}
	for _, o := range s.nbhood[1:] {
		ni, nj, nk := x+o[0], y+o[1], z+o[2]
		if !fine.InBounds(ni, nj, nk) || flagAt(fine, cur, ni, nj, nk)&lattice.Unused != 0 {
			continue
		}
		if s.allNb(fine, cur, ni, nj, nk, lattice.Unused|lattice.FromCoarse) {
			setFlag(fine, cur, ni, nj, nk, lattice.Unused)
			setFlag(fine, oth, ni, nj, nk, lattice.Unused)
		}
	}
}

// coarseAdvance performs one timestep of coarse level lev.
func (s *State) coarseAdvance(lev int) {
	lv := s.H.Levels[lev]
	s.fluxAreas(lev)

	cur := lv.Buf.Cur()
	forInterior(lv, func(i, j, k int) {
		idx := lv.Index(i, j, k)
		if cur.Flags[idx]&lattice.FromCoarse == 0 {
			return
		}
		unused := false
		for l := 1; l < lv.Stencil.Q; l++ {
			if cur.Flags[lv.Nb(idx, l)]&lattice.Unused != 0 {
				unused = true
				break
			}
		}
		if !unused {
			cur.Flags[idx] = lattice.Fluid | lattice.GrNorm
		}
	})

	results := s.pool.sweep(lv.Slabs(), s.coarseSweep(lev))
	s.merge(lv, results, false)
	lv.Buf.Swap()
	lv.Steps++
	lv.Mass *= lv.CellFactor
	lv.Volume *= lv.CellFactor
}
