// Package scene holds the objects and control-force sources painted into
// the solver domain. Objects and attractors are ECS entities; the scene
// answers geometry queries during setup and control-force queries while
// stepping.
package scene

import (
	"errors"
	"fmt"
	"math"

	"github.com/mlange-42/ark/ecs"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/lbmflow/config"
	"github.com/pthm-cable/lbmflow/solver"
)

// ErrTooManyObjects is returned when a scene needs more object ids than the
// flag word can hold.
var ErrTooManyObjects = errors.New("too many scene objects")

const maxObjects = 255

// Scene is an ECS world of objects and attractors.
type Scene struct {
	world *ecs.World
	flat  bool

	objMapper  *ecs.Map2[Shape, Object]
	objFilter  *ecs.Filter2[Shape, Object]
	attrMapper *ecs.Map2[Position, Attractor]
	attrFilter *ecs.Filter2[Position, Attractor]

	objects    int
	attractors int
}

// New creates an empty scene. In 2D (dim 2) shapes ignore the z axis.
func New(dim int) *Scene {
	world := ecs.NewWorld()
	return &Scene{
		world:      world,
		flat:       dim == 2,
		objMapper:  ecs.NewMap2[Shape, Object](world),
		objFilter:  ecs.NewFilter2[Shape, Object](world),
		attrMapper: ecs.NewMap2[Position, Attractor](world),
		attrFilter: ecs.NewFilter2[Position, Attractor](world),
	}
}

// FromConfig builds a scene from the scene section of cfg.
func FromConfig(cfg *config.Config) (*Scene, error) {
	sc := New(cfg.Domain.Dim)
	for _, o := range cfg.Scene.Objects {
		kind, err := solver.ParseKind(o.Kind)
		if err != nil {
			return nil, fmt.Errorf("object %q: %w", o.Name, err)
		}
		var shape Shape
		switch o.Shape {
		case "box":
			shape = Shape{Kind: ShapeBox, Min: vec(o.Min), Max: vec(o.Max)}
		case "sphere":
			shape = Shape{Kind: ShapeSphere, Center: vec(o.Center), Radius: o.Radius}
		default:
			return nil, fmt.Errorf("object %q shape %q: %w", o.Name, o.Shape, config.ErrObjectShape)
		}
		obj := Object{Name: o.Name, Kind: kind, Velocity: vec(o.Velocity), PartSlip: o.PartSlip}
		if _, err := sc.AddObject(shape, obj); err != nil {
			return nil, err
		}
	}
	for _, a := range cfg.Scene.Attractors {
		sc.AddAttractor(vec(a.Center), Attractor{
			Radius:            a.Radius,
			Attraction:        a.Attraction,
			Velocity:          vec(a.Velocity),
			VelocityWeight:    a.VelocityWeight,
			MaxDistance:       a.MaxDistance,
			MaxDistanceWeight: a.MaxDistanceWeight,
		})
	}
	return sc, nil
}

func vec(a [3]float64) r3.Vec { return r3.Vec{X: a[0], Y: a[1], Z: a[2]} }

// AddObject creates an object entity. Ids are assigned in insertion order;
// where objects overlap the one added last wins.
func (sc *Scene) AddObject(shape Shape, obj Object) (ecs.Entity, error) {
	if sc.objects >= maxObjects {
		return ecs.Entity{}, fmt.Errorf("object %q: %w", obj.Name, ErrTooManyObjects)
	}
	sc.objects++
	obj.ID = sc.objects
	return sc.objMapper.NewEntity(&shape, &obj), nil
}

// AddAttractor creates an attractor entity at center.
func (sc *Scene) AddAttractor(center r3.Vec, a Attractor) ecs.Entity {
	sc.attractors++
	pos := Position{center}
	return sc.attrMapper.NewEntity(&pos, &a)
}

// Objects returns the number of objects.
func (sc *Scene) Objects() int { return sc.objects }

// Attractors returns the number of attractors.
func (sc *Scene) Attractors() int { return sc.attractors }

// Query implements solver.Geometry.
func (sc *Scene) Query(p r3.Vec) (solver.Hit, bool) {
	var hit solver.Hit
	found := false
	query := sc.objFilter.Query()
	for query.Next() {
		shape, obj := query.Get()
		if obj.ID <= hit.ObjectID || !shape.Contains(p, sc.flat) {
			continue
		}
		hit = solver.Hit{ObjectID: obj.ID, Kind: obj.Kind, Velocity: obj.Velocity, PartSlip: obj.PartSlip}
		found = true
	}
	return hit, found
}

// Force implements solver.ControlForces. Contributions of all attractors in
// range are summed; attraction falls off linearly toward the radius.
func (sc *Scene) Force(pos, vel r3.Vec) solver.ControlForce {
	var cf solver.ControlForce
	if sc.attractors == 0 {
		return cf
	}
	query := sc.attrFilter.Query()
	for query.Next() {
		at, a := query.Get()
		d := r3.Sub(at.Vec, pos)
		if sc.flat {
			d.Z = 0
		}
		dist := r3.Norm(d)
		if a.MaxDistance > 0 && dist > a.MaxDistance {
			pull := (dist - a.MaxDistance) / dist
			cf.MaxDistance = r3.Add(cf.MaxDistance, r3.Scale(pull, d))
			cf.MaxDistanceWeight = math.Max(cf.MaxDistanceWeight, a.MaxDistanceWeight)
		}
		if dist > a.Radius || a.Radius <= 0 {
			continue
		}
		fall := 1 - dist/a.Radius
		if a.Attraction != 0 && dist > 0 {
			cf.Attraction = r3.Add(cf.Attraction, r3.Scale(a.Attraction*fall/dist, d))
			cf.AttractionWeight = 1
		}
		if a.VelocityWeight > 0 {
			cf.Velocity = r3.Add(cf.Velocity, a.Velocity)
			cf.VelocityWeight = math.Max(cf.VelocityWeight, a.VelocityWeight*fall)
		}
	}
	return cf
}
