package scene

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/lbmflow/solver"
)

// ShapeKind selects the inside test of a Shape.
type ShapeKind uint8

const (
	ShapeBox ShapeKind = iota
	ShapeSphere
)

// Shape is the region an object covers, in world units.
type Shape struct {
	Kind     ShapeKind
	Min, Max r3.Vec // box
	Center   r3.Vec // sphere
	Radius   float64
}

// Contains reports whether p lies inside the shape. With flat set the z
// coordinate is ignored.
func (s *Shape) Contains(p r3.Vec, flat bool) bool {
	switch s.Kind {
	case ShapeSphere:
		d := r3.Sub(p, s.Center)
		if flat {
			d.Z = 0
		}
		return r3.Norm2(d) <= s.Radius*s.Radius
	default:
		inZ := flat || (p.Z >= s.Min.Z && p.Z <= s.Max.Z)
		return p.X >= s.Min.X && p.X <= s.Max.X && p.Y >= s.Min.Y && p.Y <= s.Max.Y && inZ
	}
}

// Object is the solver role of an entity with a Shape.
type Object struct {
	ID       int // solver object id, 1..255
	Name     string
	Kind     solver.BoundaryKind
	Velocity r3.Vec
	PartSlip float64
}

// Position is the world position of an attractor.
type Position struct {
	r3.Vec
}

// Attractor is a control-force source.
type Attractor struct {
	Radius            float64
	Attraction        float64
	Velocity          r3.Vec
	VelocityWeight    float64
	MaxDistance       float64
	MaxDistanceWeight float64
}
