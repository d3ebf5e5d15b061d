package solver

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/lbmflow/lattice"
)

// BoundaryKind is the role a geometry object plays for the cells it covers.
type BoundaryKind uint8

const (
	KindFluid BoundaryKind = iota + 1
	KindNoSlip
	KindFreeSlip
	KindPartSlip
	KindInflow
	KindOutflow
)

var kindNames = map[string]BoundaryKind{
	"fluid":    KindFluid,
	"noslip":   KindNoSlip,
	"freeslip": KindFreeSlip,
	"partslip": KindPartSlip,
	"inflow":   KindInflow,
	"outflow":  KindOutflow,
}

// ParseKind converts a config name into a BoundaryKind.
func ParseKind(s string) (BoundaryKind, error) {
	k, ok := kindNames[s]
	if !ok {
		return 0, fmt.Errorf("boundary kind %q: %w", s, ErrUnknownKind)
	}
	return k, nil
}

func (k BoundaryKind) String() string {
	for name, v := range kindNames {
		if v == k {
			return name
		}
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// wall reports whether the kind paints boundary cells.
func (k BoundaryKind) wall() bool {
	return k == KindNoSlip || k == KindFreeSlip || k == KindPartSlip
}

// bndFlag returns the flag bits of a wall kind.
func (k BoundaryKind) bndFlag() lattice.Flag {
	switch k {
	case KindFreeSlip:
		return lattice.Bnd | lattice.BndFreeSlip
	case KindPartSlip:
		return lattice.Bnd | lattice.BndPartSlip
	}
	return lattice.Bnd | lattice.BndNoSlip
}

// Hit describes the object covering a point.
type Hit struct {
	ObjectID int // 1..255; 0 is reserved for the domain shell
	Kind     BoundaryKind
	Velocity r3.Vec  // world units
	PartSlip float64 // 1 = no-slip, 0 = free-slip
}

// Geometry answers inside/outside queries at world positions. It is only
// consulted during setup.
type Geometry interface {
	Query(p r3.Vec) (Hit, bool)
}

// GeometryFunc adapts a function to the Geometry interface.
type GeometryFunc func(p r3.Vec) (Hit, bool)

// Query implements Geometry.
func (f GeometryFunc) Query(p r3.Vec) (Hit, bool) { return f(p) }

// objectInfo is the per-object data needed while stepping.
type objectInfo struct {
	kind     BoundaryKind
	worldVel r3.Vec
	vel      r3.Vec // lattice units at the current timestep
	partSlip float64
}
