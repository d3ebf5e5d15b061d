package solver

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/lbmflow/lattice"
)

// adaptTimestep inspects the peak velocity of the last step and rescales
// the timestep hierarchy when it is too high or comfortably low.
func (s *State) adaptTimestep() error {
	tc := s.Cfg.Timestep
	if !tc.Adaptive {
		return nil
	}
	fine := s.H.Finest()
	allowMax, fac := tc.MaxSpeed, tc.Factor
	nextmax := math.Sqrt(s.maxUsqr) + r3.Norm(fine.Gravity)

	if nextmax > allowMax {
		s.overCount++
	} else {
		s.overCount = 0
	}

	dt := s.Timestep
	newdt := dt
	switch {
	case nextmax > allowMax/fac || s.overCount > tc.InstabilitySteps:
		newdt = dt * fac
	case nextmax < allowMax*fac:
		newdt = dt / fac
	}

	s.minCutoff = false
	if newdt > tc.Max {
		newdt = tc.Max
	}
	if newdt < tc.Min {
		newdt = tc.Min
		if nextmax > allowMax/fac {
			s.minCutoff = true
		}
	}

	locked := s.rescaleLock > 0
	if s.rescaleLock > 0 {
		s.rescaleLock--
	}
	if math.Abs(newdt-dt) > dt*tc.MinChange && !(newdt > dt && locked) {
		if err := s.rescale(newdt); err != nil {
			return err
		}
		// growth stays locked for a while so the step does not oscillate
		s.rescaleLock = 4 * (fine.Nx + fine.Ny + fine.Nz) / 3
	}

	if s.minCutoff && tc.BruteForce {
		s.bruteForce(allowMax)
	}
	return nil
}

// rescale changes the finest timestep to newdt and converts the populations
// of every active cell so that the physical state is preserved.
func (s *State) rescale(newdt float64) error {
	scale := newdt / s.Timestep
	n := len(s.H.Levels)
	oldOmega := make([]float64, n)
	oldDt := make([]float64, n)
	for lev, lv := range s.H.Levels {
		oldOmega[lev] = lv.Omega
		oldDt[lev] = lv.Timestep
	}
	rhoAvg := 1.0
	if s.CurrentVolume > 0 {
		rhoAvg = s.CurrentMass / s.CurrentVolume
	}

	omega := s.omegaFor(newdt)
	if err := s.H.InitLevelOmegas(omega, newdt, s.latticeGravity(newdt), s.Cfg.Physics.Smagorinsky); err != nil {
		// restore the previous hierarchy parameters before reporting
		if rerr := s.H.InitLevelOmegas(oldOmega[s.H.MaxRefine], oldDt[s.H.MaxRefine], s.latticeGravity(s.Timestep), s.Cfg.Physics.Smagorinsky); rerr != nil {
			s.log.Error("restoring level parameters", "step", s.StepCount, "dt", s.Timestep, "error", rerr)
		}
		return fmt.Errorf("rescaling timestep to %g: %w", newdt, err)
	}
	old := s.Timestep
	s.Timestep = newdt
	s.updateObjectVelocities()
	s.rescales++

	for lev := s.H.MaxRefine; lev >= 0; lev-- {
		if lev != s.H.MaxRefine {
			s.fluxAreas(lev)
		}
		s.pool.sweep(s.H.Levels[lev].Slabs(), s.rescaleSweep(lev, scale, rhoAvg, oldOmega[lev], oldDt[lev]))
	}

	s.log.Info("timestep rescaled",
		"step", s.StepCount,
		"old_dt", old,
		"new_dt", newdt,
		"omega", omega,
		"max_v", math.Sqrt(s.maxUsqr),
	)
	return nil
}

// rescaleSweep converts the current buffer of lev in place.
func (s *State) rescaleSweep(lev int, scale, rhoAvg, oldOmega, oldDt float64) func(res *sweepResult, s0, s1 int) {
	return func(res *sweepResult, s0, s1 int) {
		lv := s.H.Levels[lev]
		st := lv.Stencil
		q := st.Q
		cur := lv.Buf.Cur()
		var feqOld [19]float64

		lo, hi := lv.SlabRange(s0, s1)
		for idx := lo; idx < hi; idx++ {
			i, j, k := lv.Coords(idx)
			if !lv.Interior(i, j, k) {
				continue
			}
			flag := cur.Flags[idx]
			if flag&(lattice.Fluid|lattice.Interface) == 0 {
				continue
			}
			c := lv.Cell(cur, idx)
			rho, ux, uy, uz := st.Moments(c)
			rhoNew := (rho-rhoAvg)*scale + rhoAvg
			nx, ny, nz := ux*scale, uy*scale, uz*scale

			st.EquilibriumAll(feqOld[:q], rho, ux, uy, uz)
			omOld, omNew := oldOmega, lv.Omega
			if lv.Csmago > 0 {
				qo := st.StressMagnitude(c, rho, ux, uy, uz)
				omOld = lattice.LESOmega(oldOmega, lv.Csmago, qo)
				omNew = lattice.LESOmega(lv.Omega, lv.Csmago, qo)
			}
			delta := (lv.Timestep / omNew) / (oldDt / omOld)
			for l := 0; l < q; l++ {
				c[l] = st.Equilibrium(l, rhoNew, nx, ny, nz) + (c[l]-feqOld[l])*delta
			}

			if flag&lattice.Interface != 0 && rho != 0 {
				c[lv.MassIdx] = c[lv.MassIdx] / rho * rhoNew
				c[lv.FfracIdx] = c[lv.MassIdx] / rhoNew
			} else if flag&lattice.Fluid != 0 && lev == s.H.MaxRefine {
				c[lv.MassIdx] = rhoNew
			}
			res.used++
		}
	}
}

// bruteForce clamps every active cell faster than allowMax to equilibrium at
// the capped speed and resets non-finite cells to rest.
func (s *State) bruteForce(allowMax float64) {
	clamped := 0
	for _, lv := range s.H.Levels {
		st := lv.Stencil
		cur := lv.Buf.Cur()
		forInterior(lv, func(i, j, k int) {
			idx := lv.Index(i, j, k)
			if cur.Flags[idx]&(lattice.Fluid|lattice.Interface) == 0 {
				return
			}
			c := lv.Cell(cur, idx)
			rho, ux, uy, uz := st.Moments(c)
			if math.IsNaN(rho) || math.IsInf(rho, 0) {
				c[lv.MassIdx], c[lv.FfracIdx] = 1, 1
			}
			if rho, u, reset := clampState(rho, r3.Vec{X: ux, Y: uy, Z: uz}, allowMax); reset {
				st.EquilibriumAll(c, rho, u.X, u.Y, u.Z)
				clamped++
			}
		})
	}
	s.log.Warn("brute force velocity clamp", "step", s.StepCount, "cells", clamped, "dt", s.Timestep)
}

// clampState limits a cell state for bruteForce. A non-finite density
// resets the cell to rest at unit density and a NaN velocity resets it to
// rest. Faster cells are slowed to allowMax.
func clampState(rho float64, u r3.Vec, allowMax float64) (float64, r3.Vec, bool) {
	reset := false
	if math.IsNaN(rho) || math.IsInf(rho, 0) {
		rho, u = 1, r3.Vec{}
		reset = true
	}
	usqr := r3.Norm2(u)
	if math.IsNaN(usqr) {
		u = r3.Vec{}
		reset = true
	} else if usqr > allowMax*allowMax {
		u = r3.Scale(allowMax/math.Sqrt(usqr), u)
		reset = true
	}
	return rho, u, reset
}
