package grid

import "github.com/pthm-cable/lbmflow/lattice"

// Buffer holds one set of cell values and flags for a level. Cell values
// are stored with a stride of Q+3: populations, mass, fill fraction, flux.
type Buffer struct {
	Cells []float64
	Flags []lattice.Flag
}

func newBuffer(n, stride int) Buffer {
	return Buffer{
		Cells: make([]float64, n*stride),
		Flags: make([]lattice.Flag, n),
	}
}

// DoubleBuffer is a pair of buffers with an explicit current/other role.
// Swap changes roles only.
type DoubleBuffer struct {
	sets [2]Buffer
	cur  int
}

// Cur returns the buffer holding the values of the current step.
func (d *DoubleBuffer) Cur() *Buffer { return &d.sets[d.cur] }

// Other returns the buffer written by the next step.
func (d *DoubleBuffer) Other() *Buffer { return &d.sets[1-d.cur] }

// Set returns buffer 0 or 1 regardless of role.
func (d *DoubleBuffer) Set(i int) *Buffer { return &d.sets[i] }

// CurIndex returns the index of the current buffer.
func (d *DoubleBuffer) CurIndex() int { return d.cur }

// Swap exchanges the current and other roles.
func (d *DoubleBuffer) Swap() { d.cur = 1 - d.cur }
