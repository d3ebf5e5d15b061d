package solver

import (
	"fmt"
	"math"

	"github.com/pthm-cable/lbmflow/grid"
	"github.com/pthm-cable/lbmflow/lattice"
)

// symmetryTol is the density difference tolerated between mirrored cells.
const symmetryTol = 1e-6

func (s *State) checkErr(lv *grid.Level, idx int, format string, args ...any) *CheckError {
	i, j, k := lv.Coords(idx)
	return &CheckError{Step: s.StepCount, Level: lv.Num, I: i, J: j, K: k, Reason: fmt.Sprintf(format, args...)}
}

// checkLists verifies that no cell was collected as both filled and emptied
// and that every collected cell is an interface cell of the new buffer.
func (s *State) checkLists() {
	if s.pendingCheck != nil {
		return
	}
	lv := s.H.Finest()
	oth := lv.Buf.Other()
	seen := make(map[int]bool, len(s.listFull))
	for _, idx := range s.listFull {
		seen[idx] = true
		if oth.Flags[idx]&lattice.Interface == 0 {
			s.pendingCheck = s.checkErr(lv, idx, "filled cell has flag %v", oth.Flags[idx])
			return
		}
	}
	for _, idx := range s.listEmpty {
		if seen[idx] {
			s.pendingCheck = s.checkErr(lv, idx, "cell is both filled and emptied")
			return
		}
		if oth.Flags[idx]&lattice.Interface == 0 {
			s.pendingCheck = s.checkErr(lv, idx, "emptied cell has flag %v", oth.Flags[idx])
			return
		}
	}
}

// check validates the state after a step: flag exclusivity, identical flags
// in both buffers, finite populations of active cells and, when configured,
// mirror symmetry of the finest level.
func (s *State) check() error {
	if s.pendingCheck != nil {
		err := s.pendingCheck
		s.pendingCheck = nil
		return err
	}
	for _, lv := range s.H.Levels {
		cur, oth := lv.Buf.Cur(), lv.Buf.Other()
		for idx := 0; idx < lv.NumCells(); idx++ {
			f := cur.Flags[idx]
			if !f.Valid() {
				return s.checkErr(lv, idx, "invalid flag %v", f)
			}
			if oth.Flags[idx] != f {
				return s.checkErr(lv, idx, "buffer flags differ: %v / %v", f, oth.Flags[idx])
			}
			if f&(lattice.Fluid|lattice.Interface) == 0 {
				continue
			}
			c := lv.Cell(cur, idx)
			for l := 0; l < lv.Stencil.Q; l++ {
				if math.IsNaN(c[l]) || math.IsInf(c[l], 0) {
					return s.checkErr(lv, idx, "population %d is %v", l, c[l])
				}
			}
			if f&lattice.Interface != 0 && math.IsNaN(c[lv.MassIdx]) {
				return s.checkErr(lv, idx, "interface mass is NaN")
			}
		}
	}
	if s.Cfg.Solver.CheckSymmetry {
		if err := s.checkSymmetry(symmetryTol); err != nil {
			return err
		}
	}
	return nil
}

// checkSymmetry compares every finest-level cell with its mirror across the
// x midplane. Primary flags must match and densities agree within tol.
func (s *State) checkSymmetry(tol float64) error {
	lv := s.H.Finest()
	cur := lv.Buf.Cur()
	for idx := 0; idx < lv.NumCells(); idx++ {
		i, j, k := lv.Coords(idx)
		mi := lv.Nx - 1 - i
		if mi <= i {
			continue
		}
		m := lv.Index(mi, j, k)
		f, mf := cur.Flags[idx], cur.Flags[m]
		if f.Primary() != mf.Primary() {
			return s.checkErr(lv, idx, "asymmetric flags %v / %v", f, mf)
		}
		if f&(lattice.Fluid|lattice.Interface) == 0 {
			continue
		}
		r0, _, _, _ := lv.Stencil.Moments(lv.Cell(cur, idx))
		r1, _, _, _ := lv.Stencil.Moments(lv.Cell(cur, m))
		if math.Abs(r0-r1) > tol {
			return s.checkErr(lv, idx, "asymmetric density %g / %g", r0, r1)
		}
	}
	return nil
}
