package lattice

import "strings"

// Flag is the per-cell flag word: one primary role, modifier bits and an
// 8-bit object id in the top byte.
type Flag uint32

// Primary roles.
const (
	Fluid Flag = 1 << iota
	Interface
	Empty
	Bnd
	Unused
)

// Modifiers.
const (
	FromCoarse Flag = 1 << (iota + 5)
	FromFine
	GrNorm
	ToFine
	NoDelete
	NoNbFluid
	NoNbEmpty
	NoInterpolSrc
	NoBndFluid
	BndNoSlip
	BndFreeSlip
	BndPartSlip
	Moving
	Inflow
	Outflow
)

// PrimaryMask covers the mutually exclusive role bits.
const PrimaryMask = Fluid | Interface | Empty | Bnd | Unused

// BndKindMask covers the wall kind bits of a boundary cell.
const BndKindMask = BndNoSlip | BndFreeSlip | BndPartSlip

const objectShift = 24

// Primary returns the role bits of f.
func (f Flag) Primary() Flag { return f & PrimaryMask }

// Is reports whether any of the bits in m are set.
func (f Flag) Is(m Flag) bool { return f&m != 0 }

// ObjectID returns the object id stored in the top byte.
func (f Flag) ObjectID() int { return int(f >> objectShift) }

// WithObject returns f with the object id replaced.
func (f Flag) WithObject(id int) Flag {
	return (f &^ (0xff << objectShift)) | Flag(id&0xff)<<objectShift
}

// Valid reports whether exactly one primary role is set.
func (f Flag) Valid() bool {
	p := f.Primary()
	return p != 0 && p&(p-1) == 0
}

var flagNames = []struct {
	f    Flag
	name string
}{
	{Fluid, "Fluid"}, {Interface, "Interface"}, {Empty, "Empty"}, {Bnd, "Bnd"}, {Unused, "Unused"},
	{FromCoarse, "FromCoarse"}, {FromFine, "FromFine"}, {GrNorm, "GrNorm"}, {ToFine, "ToFine"},
	{NoDelete, "NoDelete"}, {NoNbFluid, "NoNbFluid"}, {NoNbEmpty, "NoNbEmpty"},
	{NoInterpolSrc, "NoInterpolSrc"}, {NoBndFluid, "NoBndFluid"},
	{BndNoSlip, "NoSlip"}, {BndFreeSlip, "FreeSlip"}, {BndPartSlip, "PartSlip"},
	{Moving, "Moving"}, {Inflow, "Inflow"}, {Outflow, "Outflow"},
}

func (f Flag) String() string {
	var parts []string
	for _, fn := range flagNames {
		if f&fn.f != 0 {
			parts = append(parts, fn.name)
		}
	}
	if len(parts) == 0 {
		return "None"
	}
	return strings.Join(parts, "|")
}
