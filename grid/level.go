package grid

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/lbmflow/lattice"
)

// Level is one resolution of the grid hierarchy. Index 0 is the coarsest.
type Level struct {
	Num        int
	Nx, Ny, Nz int
	Stencil    *lattice.Stencil
	Buf        DoubleBuffer

	// Per-cell field offsets within a stride.
	Stride, MassIdx, FfracIdx, FluxIdx int

	Omega      float64
	Timestep   float64
	Gravity    r3.Vec // pre-divided by Omega
	Csmago     float64
	Lcnu       float64
	CellFactor float64 // volume of a cell in finest-cell units
	NodeSize   float64 // world size of a cell

	Steps  int
	Mass   float64
	Volume float64

	// nbOff[l] is the flat index offset of the neighbour in direction l.
	nbOff   []int
	checked bool
}

func newLevel(st *lattice.Stencil, num, nx, ny, nz int, checked bool) *Level {
	stride := st.Q + 3
	lv := &Level{
		Num:      num,
		Nx:       nx,
		Ny:       ny,
		Nz:       nz,
		Stencil:  st,
		Stride:   stride,
		MassIdx:  st.Q,
		FfracIdx: st.Q + 1,
		FluxIdx:  st.Q + 2,
		nbOff:    make([]int, st.Q),
		checked:  checked,
	}
	n := nx * ny * nz
	lv.Buf.sets[0] = newBuffer(n, stride)
	lv.Buf.sets[1] = newBuffer(n, stride)
	for l := 0; l < st.Q; l++ {
		lv.nbOff[l] = st.Ex[l] + nx*(st.Ey[l]+ny*st.Ez[l])
	}
	return lv
}

// NumCells returns the number of sites on the level.
func (lv *Level) NumCells() int { return lv.Nx * lv.Ny * lv.Nz }

// InBounds reports whether (i,j,k) lies on the level.
func (lv *Level) InBounds(i, j, k int) bool {
	return i >= 0 && j >= 0 && k >= 0 && i < lv.Nx && j < lv.Ny && k < lv.Nz
}

// Index returns the flat index of (i,j,k). In checked mode an out of
// range coordinate panics with a descriptive message.
func (lv *Level) Index(i, j, k int) int {
	if lv.checked && !lv.InBounds(i, j, k) {
		panic(fmt.Sprintf("grid: level %d index (%d,%d,%d) out of range %dx%dx%d", lv.Num, i, j, k, lv.Nx, lv.Ny, lv.Nz))
	}
	return i + lv.Nx*(j+lv.Ny*k)
}

// Coords is the inverse of Index.
func (lv *Level) Coords(idx int) (i, j, k int) {
	i = idx % lv.Nx
	idx /= lv.Nx
	return i, idx % lv.Ny, idx / lv.Ny
}

// Nb returns the flat index of the neighbour of idx in direction l.
func (lv *Level) Nb(idx, l int) int { return idx + lv.nbOff[l] }

// Interior reports whether every stencil neighbour of (i,j,k) is on the level.
func (lv *Level) Interior(i, j, k int) bool {
	if i < 1 || j < 1 || i >= lv.Nx-1 || j >= lv.Ny-1 {
		return false
	}
	if lv.Stencil.Dim == 2 {
		return k == 0
	}
	return k >= 1 && k < lv.Nz-1
}

// Cell returns the value slice of cell idx in buffer b.
func (lv *Level) Cell(b *Buffer, idx int) []float64 {
	o := idx * lv.Stride
	return b.Cells[o : o+lv.Stride : o+lv.Stride]
}

// SetAll writes the same flag into both buffers.
func (lv *Level) SetAll(idx int, f lattice.Flag) {
	lv.Buf.sets[0].Flags[idx] = f
	lv.Buf.sets[1].Flags[idx] = f
}

// InitCell sets a cell to equilibrium with the given mass and flag in both
// buffers.
func (lv *Level) InitCell(idx int, f lattice.Flag, rho, mass float64, u r3.Vec) {
	for s := 0; s < 2; s++ {
		b := &lv.Buf.sets[s]
		c := lv.Cell(b, idx)
		lv.Stencil.EquilibriumAll(c, rho, u.X, u.Y, u.Z)
		c[lv.MassIdx] = mass
		if rho != 0 {
			c[lv.FfracIdx] = mass / rho
		} else {
			c[lv.FfracIdx] = 0
		}
		c[lv.FluxIdx] = lv.Stencil.FluxInit()
		b.Flags[idx] = f
	}
}

// Moments returns density and velocity of cell idx in buffer b.
func (lv *Level) Moments(b *Buffer, idx int) (rho float64, u r3.Vec) {
	rho, ux, uy, uz := lv.Stencil.Moments(lv.Cell(b, idx))
	return rho, r3.Vec{X: ux, Y: uy, Z: uz}
}

// Slabs returns the extent of the outermost axis used for slab
// partitioning: z in 3D, y in 2D.
func (lv *Level) Slabs() int {
	if lv.Stencil.Dim == 2 {
		return lv.Ny
	}
	return lv.Nz
}

// SlabRange returns the flat index range covered by slabs [s0, s1).
func (lv *Level) SlabRange(s0, s1 int) (int, int) {
	if lv.Stencil.Dim == 2 {
		return s0 * lv.Nx, s1 * lv.Nx
	}
	plane := lv.Nx * lv.Ny
	return s0 * plane, s1 * plane
}
