package grid

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/lbmflow/lattice"
)

func TestDoubleBuffer_Swap(t *testing.T) {
	var d DoubleBuffer
	d.sets[0].Flags = []lattice.Flag{lattice.Fluid}
	d.sets[1].Flags = []lattice.Flag{lattice.Empty}

	assert.Equal(t, lattice.Fluid, d.Cur().Flags[0])
	d.Swap()
	assert.Equal(t, lattice.Empty, d.Cur().Flags[0])
	assert.Equal(t, lattice.Fluid, d.Other().Flags[0])
	assert.Equal(t, 1, d.CurIndex())
}

func TestNew_LevelSizes(t *testing.T) {
	h, err := New(lattice.D3Q19, 32, 24, 16, 2, 0.1, false)
	require.NoError(t, err)
	require.Len(t, h.Levels, 3)

	tests := []struct {
		lev        int
		nx, ny, nz int
		factor     float64
	}{
		{2, 32, 24, 16, 1},
		{1, 16, 12, 8, 8},
		{0, 8, 6, 4, 64},
	}
	for _, tt := range tests {
		lv := h.Levels[tt.lev]
		assert.Equal(t, tt.nx, lv.Nx)
		assert.Equal(t, tt.ny, lv.Ny)
		assert.Equal(t, tt.nz, lv.Nz)
		assert.Equal(t, tt.factor, lv.CellFactor)
		assert.Len(t, lv.Buf.Cur().Flags, tt.nx*tt.ny*tt.nz)
	}
}

func TestNew_TooSmall(t *testing.T) {
	_, err := New(lattice.D2Q9, 8, 8, 1, 3, 1, false)
	assert.True(t, errors.Is(err, ErrGridSize))
}

func TestLevel_IndexCoords(t *testing.T) {
	h, err := New(lattice.D3Q19, 5, 6, 7, 0, 1, true)
	require.NoError(t, err)
	lv := h.Finest()
	idx := lv.Index(3, 4, 5)
	i, j, k := lv.Coords(idx)
	assert.Equal(t, []int{3, 4, 5}, []int{i, j, k})

	l := lattice.D3Q19.Dir(1, -1, 0)
	assert.Equal(t, lv.Index(4, 3, 5), lv.Nb(idx, l))

	assert.Panics(t, func() { lv.Index(5, 0, 0) })
}

func TestInitLevelOmegas(t *testing.T) {
	h, err := New(lattice.D3Q19, 16, 16, 16, 2, 1, false)
	require.NoError(t, err)
	g := r3.Vec{Y: -1e-4}
	require.NoError(t, h.InitLevelOmegas(1.9, 0.01, g, 0))

	for lev := 0; lev < h.MaxRefine; lev++ {
		c, f := h.Levels[lev], h.Levels[lev+1]
		assert.InDelta(t, 2*f.Timestep, c.Timestep, 1e-12)
		// viscosity halves in lattice units on the coarser grid
		assert.InDelta(t, 0.5*f.Lcnu, c.Lcnu, 1e-12)
		// gravity times omega doubles
		assert.InDelta(t, 2*f.Gravity.Y*f.Omega, c.Gravity.Y*c.Omega, 1e-15)
	}
	assert.InDelta(t, g.Y/1.9, h.Finest().Gravity.Y, 1e-15)
	assert.InDelta(t, 1, h.DfScaleUp*h.DfScaleDown, 1e-12)
}

func TestInitLevelOmegas_Csmago(t *testing.T) {
	h, err := New(lattice.D2Q9, 16, 16, 1, 1, 1, false)
	require.NoError(t, err)
	require.NoError(t, h.InitLevelOmegas(1.5, 0.01, r3.Vec{}, 0.01))
	assert.Equal(t, fineCsmago1, h.Levels[1].Csmago)
	assert.Equal(t, coarseCsmago1, h.Levels[0].Csmago)
}

func TestInitLevelOmegas_Invalid(t *testing.T) {
	h, err := New(lattice.D2Q9, 8, 8, 1, 0, 1, false)
	require.NoError(t, err)
	for _, om := range []float64{0, -1, 2.5} {
		err := h.InitLevelOmegas(om, 0.01, r3.Vec{}, 0)
		assert.ErrorIs(t, err, ErrInvalidOmega)
	}
}

func TestDfScale_UnitOmega(t *testing.T) {
	tests := []struct {
		name  string
		omega float64
	}{
		{"fine level at one", 1},
		{"coarse level at one", 2.0 / 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := New(lattice.D2Q9, 16, 16, 1, 1, 1, false)
			require.NoError(t, err)
			require.NoError(t, h.InitLevelOmegas(tt.omega, 0.01, r3.Vec{}, 0))

			for _, v := range []float64{h.DfScaleUp, h.DfScaleDown, h.DfScale(0, 1, h.Levels[0].Omega, h.Levels[1].Omega), h.DfScale(1, 0, h.Levels[1].Omega, h.Levels[0].Omega)} {
				assert.False(t, math.IsInf(v, 0) || math.IsNaN(v), "scale %v", v)
			}
		})
	}
	assert.Zero(t, dfRatio(1, 2, 1, 1.5))
	assert.InDelta(t, 2*(1/1.5-1)/(1/1.2-1), dfRatio(1, 2, 1.2, 1.5), 1e-15)
}
