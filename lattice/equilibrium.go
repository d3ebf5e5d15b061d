package lattice

import "math"

// Equilibrium returns feq_l(rho, u) for the incompressible BGK model.
func (s *Stencil) Equilibrium(l int, rho, ux, uy, uz float64) float64 {
	usqr := 1.5 * (ux*ux + uy*uy + uz*uz)
	eu := float64(s.Ex[l])*ux + float64(s.Ey[l])*uy + float64(s.Ez[l])*uz
	return s.W[l] * (rho + eu*(4.5*eu+3) - usqr)
}

// EquilibriumAll writes all Q equilibrium populations into dst.
func (s *Stencil) EquilibriumAll(dst []float64, rho, ux, uy, uz float64) {
	usqr := 1.5 * (ux*ux + uy*uy + uz*uz)
	for l := 0; l < s.Q; l++ {
		eu := float64(s.Ex[l])*ux + float64(s.Ey[l])*uy + float64(s.Ez[l])*uz
		dst[l] = s.W[l] * (rho + eu*(4.5*eu+3) - usqr)
	}
}

// Moments returns density and first moment of f. The velocity is not
// divided by rho (incompressible formulation).
func (s *Stencil) Moments(f []float64) (rho, ux, uy, uz float64) {
	for l := 0; l < s.Q; l++ {
		v := f[l]
		rho += v
		ux += float64(s.Ex[l]) * v
		uy += float64(s.Ey[l]) * v
		uz += float64(s.Ez[l]) * v
	}
	return rho, ux, uy, uz
}

// StressMagnitude returns sqrt(sum Pi_ab^2) of the non-equilibrium
// momentum flux tensor. Off-diagonal entries are counted twice.
func (s *Stencil) StressMagnitude(f []float64, rho, ux, uy, uz float64) float64 {
	var xx, yy, zz, xy, xz, yz float64
	usqr := 1.5 * (ux*ux + uy*uy + uz*uz)
	for l := 1; l < s.Q; l++ {
		eu := float64(s.Ex[l])*ux + float64(s.Ey[l])*uy + float64(s.Ez[l])*uz
		neq := f[l] - s.W[l]*(rho+eu*(4.5*eu+3)-usqr)
		ex, ey, ez := float64(s.Ex[l]), float64(s.Ey[l]), float64(s.Ez[l])
		xx += ex * ex * neq
		yy += ey * ey * neq
		zz += ez * ez * neq
		xy += ex * ey * neq
		xz += ex * ez * neq
		yz += ey * ez * neq
	}
	return math.Sqrt(xx*xx + yy*yy + zz*zz + 2*(xy*xy+xz*xz+yz*yz))
}

// LESOmega returns the Smagorinsky-corrected relaxation rate for a cell
// with stress magnitude qo. A non-positive csmago disables the model.
func LESOmega(omega, csmago, qo float64) float64 {
	if csmago <= 0 {
		return omega
	}
	nu := (2/omega - 1) / 6
	c2 := csmago * csmago
	tau := 3*(nu+c2*(-nu+math.Sqrt(nu*nu+18*c2*qo))/(6*c2)) + 0.5
	return 1 / tau
}

// Viscosity returns the lattice viscosity for a relaxation rate.
func Viscosity(omega float64) float64 {
	return (2/omega - 1) / 6
}

// Collide performs BGK relaxation of f toward feq(rho,u) in place and
// returns the relaxation rate actually used.
func (s *Stencil) Collide(f []float64, rho, ux, uy, uz, omega, csmago float64) float64 {
	if csmago > 0 {
		omega = LESOmega(omega, csmago, s.StressMagnitude(f, rho, ux, uy, uz))
	}
	usqr := 1.5 * (ux*ux + uy*uy + uz*uz)
	for l := 0; l < s.Q; l++ {
		eu := float64(s.Ex[l])*ux + float64(s.Ey[l])*uy + float64(s.Ez[l])*uz
		feq := s.W[l] * (rho + eu*(4.5*eu+3) - usqr)
		f[l] = (1-omega)*f[l] + omega*feq
	}
	return omega
}
