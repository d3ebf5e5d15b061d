package solver

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/lbmflow/grid"
	"github.com/pthm-cable/lbmflow/lattice"
)

// surfaceBits are the interface markers dropped when a cell changes role.
const surfaceBits = lattice.NoNbFluid | lattice.NoNbEmpty | lattice.NoDelete | lattice.NoInterpolSrc

func changeRole(f, role lattice.Flag) lattice.Flag {
	return f&^(lattice.PrimaryMask|surfaceBits) | role
}

// massWeight returns the share of excess mass a filled (forward) or emptied
// cell hands to its interface neighbour in direction l.
func (s *State) massWeight(lv *grid.Level, b *grid.Buffer, idx, l int, forward bool) float64 {
	n := s.surfaceNormal(lv, b, idx)
	scal := r3.Dot(lv.Stencil.DvecNorm[l], n)
	if forward {
		if scal < normalEps {
			return 0
		}
		return scal
	}
	if scal > -normalEps {
		return 0
	}
	return -scal
}

// distribute moves change from idx to its interface neighbours, weighted by
// the surface normal. It returns false if there were no neighbours to take it.
func (s *State) distribute(lv *grid.Level, b *grid.Buffer, idx int, change float64, weights []float64, count int, total float64) bool {
	if count == 0 {
		return false
	}
	st := lv.Stencil
	for l := 1; l < st.Q; l++ {
		n := lv.Nb(idx, l)
		if b.Flags[n]&lattice.Interface == 0 {
			continue
		}
		share := change / float64(count)
		if total > 0 {
			share = change * weights[l] / total
		}
		b.Cells[n*lv.Stride+lv.MassIdx] += share
	}
	return true
}

// collectWeights fills w with the mass weights toward the current interface
// neighbours of idx and returns their count and sum.
func (s *State) collectWeights(lv *grid.Level, b *grid.Buffer, idx int, forward bool, w []float64) (int, float64) {
	count, total := 0, 0.0
	for l := 1; l < lv.Stencil.Q; l++ {
		w[l] = 0
		if b.Flags[lv.Nb(idx, l)]&lattice.Interface == 0 {
			continue
		}
		count++
		w[l] = s.massWeight(lv, b, idx, l, forward)
		total += w[l]
	}
	return count, total
}

// addNewInter records idx once in the list of cells whose interface state
// must be refreshed after the conversion.
func (s *State) addNewInter(seen map[int]struct{}, idx int) {
	if _, ok := seen[idx]; ok {
		return
	}
	seen[idx] = struct{}{}
	s.listNewInter = append(s.listNewInter, idx)
}

// reinitFlags converts the cells collected by the last fine step. Filled
// cells become fluid and emptied cells become gas; the layer of interface
// cells is repaired around both and excess mass is handed to neighbours.
func (s *State) reinitFlags() {
	lv := s.H.Finest()
	st := lv.Stencil
	q := st.Q
	work, oth := lv.Buf.Cur(), lv.Buf.Other()
	seen := make(map[int]struct{}, len(s.listFull)+len(s.listEmpty))
	s.listNewInter = s.listNewInter[:0]

	for _, idx := range s.listFull {
		for l := 1; l < q; l++ {
			n := lv.Nb(idx, l)
			nf := work.Flags[n]
			if nf&lattice.Empty != 0 {
				s.addNewInter(seen, n)
				s.initFromNeighbours(lv, work, n)
				work.Flags[n] = changeRole(nf, lattice.Interface|lattice.NoInterpolSrc)
			}
			if work.Flags[n]&lattice.Interface != 0 {
				work.Flags[n] |= lattice.NoDelete
				s.addNewInter(seen, n)
			}
		}
		work.Flags[idx] = changeRole(work.Flags[idx], lattice.Fluid)
	}

	// an emptied cell next to a filled one stays, so cells do not flicker
	kept := s.listEmpty[:0]
	for _, idx := range s.listEmpty {
		if work.Flags[idx]&(lattice.Interface|lattice.NoDelete) == lattice.Interface|lattice.NoDelete {
			s.addNewInter(seen, idx)
			continue
		}
		kept = append(kept, idx)
	}
	s.listEmpty = kept

	for _, idx := range s.listEmpty {
		for l := 1; l < q; l++ {
			n := lv.Nb(idx, l)
			nf := work.Flags[n]
			if nf&lattice.Fluid != 0 {
				work.Flags[n] = changeRole(nf, lattice.Interface)
				c := lv.Cell(work, n)
				var rho float64
				for m := 0; m < q; m++ {
					rho += c[m]
				}
				c[lv.MassIdx] = rho
				c[lv.FfracIdx] = 1
				s.addNewInter(seen, n)
			}
			if work.Flags[n]&lattice.Interface != 0 {
				s.addNewInter(seen, n)
			}
		}
		work.Flags[idx] = changeRole(work.Flags[idx], lattice.Empty)
	}

	// weights are taken after all flag changes and before any mass moves
	type weighted struct {
		w     []float64
		count int
		total float64
	}
	ws := make([]weighted, 0, len(s.listFull)+len(s.listEmpty))
	for _, idx := range s.listFull {
		w := make([]float64, q)
		count, total := s.collectWeights(lv, work, idx, true, w)
		ws = append(ws, weighted{w, count, total})
	}
	for _, idx := range s.listEmpty {
		w := make([]float64, q)
		count, total := s.collectWeights(lv, work, idx, false, w)
		ws = append(ws, weighted{w, count, total})
	}

	for n, idx := range s.listFull {
		c := lv.Cell(work, idx)
		var rho float64
		for l := 0; l < q; l++ {
			rho += c[l]
		}
		change := c[lv.MassIdx] - rho
		if !s.distribute(lv, work, idx, change, ws[n].w, ws[n].count, ws[n].total) {
			s.FixMass += change
		}
		c[lv.MassIdx] = rho
		c[lv.FfracIdx] = 1
	}
	off := len(s.listFull)
	for n, idx := range s.listEmpty {
		c := lv.Cell(work, idx)
		w := ws[off+n]
		if !s.distribute(lv, work, idx, c[lv.MassIdx], w.w, w.count, w.total) {
			s.FixMass += c[lv.MassIdx]
		}
		c[lv.MassIdx] = 0
		c[lv.FfracIdx] = 0
	}
	for _, idx := range s.listEmpty {
		oth.Flags[idx] = changeRole(oth.Flags[idx], lattice.Empty)
	}

	numNewIf := 0
	for _, idx := range s.listNewInter {
		if work.Flags[idx]&lattice.Interface != 0 {
			numNewIf++
		}
	}
	if numNewIf > 0 {
		share := s.FixMass / float64(numNewIf)
		for _, idx := range s.listNewInter {
			f := work.Flags[idx]
			if f&lattice.Interface == 0 {
				continue
			}
			c := lv.Cell(work, idx)
			c[lv.MassIdx] += share
			var nbored lattice.Flag
			for l := 1; l < q; l++ {
				nbored |= work.Flags[lv.Nb(idx, l)]
			}
			if nbored&lattice.Fluid == 0 {
				f |= lattice.NoNbFluid
			}
			if nbored&lattice.Empty == 0 {
				f |= lattice.NoNbEmpty
			}
			if oth.Flags[idx]&lattice.Interface == 0 {
				f |= lattice.NoDelete
			}
			work.Flags[idx] = f
		}
		for _, idx := range s.listNewInter {
			if work.Flags[idx]&lattice.Interface == 0 {
				continue
			}
			c := lv.Cell(work, idx)
			var rho float64
			for l := 0; l < q; l++ {
				rho += c[l]
			}
			if rho != 0 {
				c[lv.FfracIdx] = c[lv.MassIdx] / rho
			}
			c[lv.FluxIdx] = st.FluxInit()
		}
		s.FixMass = 0
	}

	s.listFull = s.listFull[:0]
	s.listEmpty = s.listEmpty[:0]
}

// initFromNeighbours sets an empty cell to the equilibrium of the average
// density and velocity of its fluid and settled interface neighbours.
func (s *State) initFromNeighbours(lv *grid.Level, b *grid.Buffer, idx int) {
	st := lv.Stencil
	var rho, ux, uy, uz float64
	count := 0
	for l := 1; l < st.Q; l++ {
		n := lv.Nb(idx, l)
		nf := b.Flags[n]
		if nf&lattice.Fluid == 0 && (nf&lattice.Interface == 0 || nf&lattice.NoInterpolSrc != 0) {
			continue
		}
		r, x, y, z := st.Moments(lv.Cell(b, n))
		rho += r
		ux += x
		uy += y
		uz += z
		count++
	}
	if count == 0 {
		rho, ux, uy, uz = 1, 0, 0, 0
		i, j, k := lv.Coords(idx)
		s.raisePanic(fmt.Sprintf("new interface cell (%d,%d,%d) has no fluid neighbours", i, j, k))
	} else {
		f := 1 / float64(count)
		rho, ux, uy, uz = rho*f, ux*f, uy*f, uz*f
	}
	c := lv.Cell(b, idx)
	st.EquilibriumAll(c, rho, ux, uy, uz)
	c[lv.MassIdx] = 0
	c[lv.FfracIdx] = 0
	c[lv.FluxIdx] = st.FluxInit()
}
