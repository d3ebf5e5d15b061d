// Package lattice describes the discrete velocity sets (D2Q9, D3Q19), the
// cell flag word and the BGK/LES collision primitives shared by every level.
package lattice

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Stencil is the runtime dimensionality trait. All direction tables are
// indexed by the population number l in [0, Q).
type Stencil struct {
	Name string
	Dim  int // 2 or 3
	Q    int // number of populations

	Ex, Ey, Ez []int
	W          []float64 // equilibrium weights
	Length     []float64 // |e_l|, used for flux areas

	// Inv[l] is the direction opposite to l.
	Inv []int
	// RefX/RefY/RefZ mirror l across the plane normal to that axis.
	RefX, RefY, RefZ []int
	// DvecNorm holds e_l normalized, zero for the rest direction.
	DvecNorm []r3.Vec
}

var (
	// D2Q9 uses the order C,N,S,E,W,NE,NW,SE,SW.
	D2Q9 = newStencil("D2Q9", 2,
		[]int{0, 0, 0, 1, -1, 1, -1, 1, -1},
		[]int{0, 1, -1, 0, 0, 1, 1, -1, -1},
		[]int{0, 0, 0, 0, 0, 0, 0, 0, 0},
	)

	// D3Q19 uses the order C,N,S,E,W,T,B,NE,NW,SE,SW,NT,NB,ST,SB,ET,EB,WT,WB.
	D3Q19 = newStencil("D3Q19", 3,
		[]int{0, 0, 0, 1, -1, 0, 0, 1, -1, 1, -1, 0, 0, 0, 0, 1, 1, -1, -1},
		[]int{0, 1, -1, 0, 0, 0, 0, 1, 1, -1, -1, 1, 1, -1, -1, 0, 0, 0, 0},
		[]int{0, 0, 0, 0, 0, 1, -1, 0, 0, 0, 0, 1, -1, 1, -1, 1, -1, 1, -1},
	)
)

// ForDim returns the stencil used for the given dimension.
func ForDim(dim int) (*Stencil, error) {
	switch dim {
	case 2:
		return D2Q9, nil
	case 3:
		return D3Q19, nil
	}
	return nil, fmt.Errorf("unsupported dimension %d", dim)
}

func newStencil(name string, dim int, ex, ey, ez []int) *Stencil {
	q := len(ex)
	s := &Stencil{
		Name:     name,
		Dim:      dim,
		Q:        q,
		Ex:       ex,
		Ey:       ey,
		Ez:       ez,
		W:        make([]float64, q),
		Length:   make([]float64, q),
		Inv:      make([]int, q),
		RefX:     make([]int, q),
		RefY:     make([]int, q),
		RefZ:     make([]int, q),
		DvecNorm: make([]r3.Vec, q),
	}

	for l := 0; l < q; l++ {
		n2 := ex[l]*ex[l] + ey[l]*ey[l] + ez[l]*ez[l]
		s.Length[l] = math.Sqrt(float64(n2))
		switch {
		case n2 == 0 && dim == 2:
			s.W[l] = 4.0 / 9.0
		case n2 == 0:
			s.W[l] = 1.0 / 3.0
		case n2 == 1 && dim == 2:
			s.W[l] = 1.0 / 9.0
		case n2 == 1:
			s.W[l] = 1.0 / 18.0
		default:
			s.W[l] = 1.0 / 36.0
		}
		if n2 > 0 {
			s.DvecNorm[l] = r3.Scale(1/s.Length[l], r3.Vec{X: float64(ex[l]), Y: float64(ey[l]), Z: float64(ez[l])})
		}
		s.Inv[l] = s.Dir(-ex[l], -ey[l], -ez[l])
		s.RefX[l] = s.Dir(-ex[l], ey[l], ez[l])
		s.RefY[l] = s.Dir(ex[l], -ey[l], ez[l])
		s.RefZ[l] = s.Dir(ex[l], ey[l], -ez[l])
	}
	return s
}

// Dir returns the population index with the given lattice velocity, or -1.
func (s *Stencil) Dir(x, y, z int) int {
	for l := 0; l < len(s.Ex); l++ {
		if s.Ex[l] == x && s.Ey[l] == y && s.Ez[l] == z {
			return l
		}
	}
	return -1
}

// Vec returns e_l as a vector.
func (s *Stencil) Vec(l int) r3.Vec {
	return r3.Vec{X: float64(s.Ex[l]), Y: float64(s.Ey[l]), Z: float64(s.Ez[l])}
}

// Axis returns the straight direction index pointing along +axis (0=x, 1=y, 2=z).
func (s *Stencil) Axis(axis int, sign int) int {
	switch axis {
	case 0:
		return s.Dir(sign, 0, 0)
	case 1:
		return s.Dir(0, sign, 0)
	}
	return s.Dir(0, 0, sign)
}

// FluxInit is the default flux area of an interface cell.
func (s *Stencil) FluxInit() float64 {
	return 0.5 * float64(s.Q)
}

// GaussWidth is the cutoff radius of the restriction kernel.
func (s *Stencil) GaussWidth() float64 {
	return math.Sqrt(2 * float64(s.Dim))
}

// RestrictionWeights returns the normalized Gaussian weights of the fine
// neighbourhood used when restricting fine populations to a coarse cell.
func (s *Stencil) RestrictionWeights() []float64 {
	gw := s.GaussWidth()
	w := make([]float64, s.Q)
	var sum float64
	for l := 0; l < s.Q; l++ {
		d := s.Length[l]
		w[l] = math.Exp(-d*d) - math.Exp(-gw*gw)
		sum += w[l]
	}
	for l := range w {
		w[l] /= sum
	}
	return w
}
