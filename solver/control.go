package solver

import "gonum.org/v1/gonum/spatial/r3"

// ControlForce is the contribution of an external control field to one cell,
// in lattice units.
type ControlForce struct {
	Attraction       r3.Vec
	AttractionWeight float64

	Velocity       r3.Vec // target velocity
	VelocityWeight float64

	MaxDistance       r3.Vec
	MaxDistanceWeight float64
}

// ControlForces is queried for every free-surface level cell before collision.
// pos is the world-space cell center, vel the current lattice velocity.
type ControlForces interface {
	Force(pos, vel r3.Vec) ControlForce
}

// Apply adds the contribution to u, which already carries the gravity g.
// Attraction and velocity matching are exclusive: a non-zero attraction
// weight suppresses velocity matching and replaces g.
func (cf ControlForce) Apply(u, g r3.Vec) r3.Vec {
	switch {
	case cf.AttractionWeight > 0:
		u = r3.Add(r3.Sub(u, g), r3.Scale(cf.AttractionWeight, cf.Attraction))
	case cf.VelocityWeight > 0:
		u = r3.Add(u, r3.Scale(cf.VelocityWeight, r3.Sub(cf.Velocity, u)))
	}
	if cf.MaxDistanceWeight > 0 {
		u = r3.Add(u, r3.Scale(cf.MaxDistanceWeight, cf.MaxDistance))
	}
	return u
}
