package lattice

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStencil_Tables(t *testing.T) {
	for _, s := range []*Stencil{D2Q9, D3Q19} {
		t.Run(s.Name, func(t *testing.T) {
			var wsum float64
			for l := 0; l < s.Q; l++ {
				wsum += s.W[l]
				inv := s.Inv[l]
				require.GreaterOrEqual(t, inv, 0)
				assert.Equal(t, l, s.Inv[inv], "inverse of inverse")
				assert.Equal(t, -s.Ex[l], s.Ex[inv])
				assert.Equal(t, -s.Ey[l], s.Ey[inv])
				assert.Equal(t, -s.Ez[l], s.Ez[inv])
				assert.GreaterOrEqual(t, s.RefX[l], 0)
				assert.GreaterOrEqual(t, s.RefY[l], 0)
				assert.GreaterOrEqual(t, s.RefZ[l], 0)
			}
			assert.InDelta(t, 1.0, wsum, 1e-12)
		})
	}
}

func TestStencil_D3Q19Order(t *testing.T) {
	s := D3Q19
	// C,N,S,E,W,T,B,NE,...
	assert.Equal(t, 1, s.Dir(0, 1, 0))
	assert.Equal(t, 3, s.Dir(1, 0, 0))
	assert.Equal(t, 5, s.Dir(0, 0, 1))
	assert.Equal(t, 7, s.Dir(1, 1, 0))
	assert.Equal(t, 18, s.Dir(-1, 0, -1))
	assert.Equal(t, -1, s.Dir(1, 1, 1))
}

func TestEquilibrium_Moments(t *testing.T) {
	for _, s := range []*Stencil{D2Q9, D3Q19} {
		f := make([]float64, s.Q)
		uz := 0.0
		if s.Dim == 3 {
			uz = -0.02
		}
		s.EquilibriumAll(f, 1.1, 0.05, 0.03, uz)
		rho, ux, uy, gotUz := s.Moments(f)
		assert.InDelta(t, 1.1, rho, 1e-12, s.Name)
		assert.InDelta(t, 0.05, ux, 1e-12, s.Name)
		assert.InDelta(t, 0.03, uy, 1e-12, s.Name)
		assert.InDelta(t, uz, gotUz, 1e-12, s.Name)
		assert.InDelta(t, 0, s.StressMagnitude(f, rho, ux, uy, gotUz), 1e-12, s.Name)
	}
}

func TestLESOmega(t *testing.T) {
	tests := []struct {
		name   string
		csmago float64
		qo     float64
	}{
		{"disabled", 0, 1},
		{"no stress", 0.03, 0},
		{"stressed", 0.03, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LESOmega(1.8, tt.csmago, tt.qo)
			if tt.csmago == 0 || tt.qo == 0 {
				assert.InDelta(t, 1.8, got, 1e-12)
				return
			}
			assert.Less(t, got, 1.8)
			assert.Greater(t, got, 0.0)
		})
	}
}

func TestCollide_ConservesMoments(t *testing.T) {
	s := D3Q19
	f := make([]float64, s.Q)
	s.EquilibriumAll(f, 1, 0.02, 0, 0)
	f[3] += 0.01
	f[4] -= 0.01
	rho, ux, uy, uz := s.Moments(f)
	s.Collide(f, rho, ux, uy, uz, 1.5, 0.02)
	r2, ux2, uy2, uz2 := s.Moments(f)
	assert.InDelta(t, rho, r2, 1e-12)
	assert.InDelta(t, ux, ux2, 1e-12)
	assert.InDelta(t, uy, uy2, 1e-12)
	assert.InDelta(t, uz, uz2, 1e-12)
}

func TestRestrictionWeights(t *testing.T) {
	w := D3Q19.RestrictionWeights()
	var sum float64
	for _, v := range w {
		sum += v
	}
	assert.InDelta(t, 1, sum, 1e-12)
	assert.Greater(t, w[0], w[1])
	assert.Greater(t, w[1], w[7])
	assert.False(t, math.IsNaN(w[7]))
}

func TestFlag(t *testing.T) {
	f := (Interface | NoDelete).WithObject(7)
	assert.True(t, f.Valid())
	assert.Equal(t, Interface, f.Primary())
	assert.Equal(t, 7, f.ObjectID())
	assert.Equal(t, "Interface|NoDelete", (f &^ (0xff << 24)).String())
	assert.False(t, (Fluid | Empty).Valid())
	assert.False(t, Flag(0).Valid())
}
