package solver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestCell_OutOfRange(t *testing.T) {
	sv := newTestSolver(t, testConfig(t, 2, 12, 0), fluidBelow(0.5))

	for _, c := range [][4]int{{1, 1, 1, 0}, {0, -1, 1, 0}, {0, 12, 1, 0}, {0, 1, 1, 1}} {
		_, err := sv.Cell(c[0], c[1], c[2], c[3])
		assert.ErrorIs(t, err, ErrOutOfRange, "%v", c)
	}
	nx, ny, nz := sv.LevelSize(0)
	assert.Equal(t, [3]int{12, 12, 1}, [3]int{nx, ny, nz})
	assert.Equal(t, 1, sv.Levels())
}

func TestFillField(t *testing.T) {
	sv := newTestSolver(t, testConfig(t, 2, 12, 0), fluidBelow(0.5))
	f := sv.FillField()
	require.Equal(t, 12*12, len(f.Data))

	assert.Equal(t, float32(1), f.At(5, 2, 0), "fluid")
	assert.InDelta(t, 0.45, f.At(5, 5, 0), 1e-6, "interface")
	assert.Equal(t, float32(0), f.At(5, 8, 0), "gas")
	assert.Equal(t, float32(0), f.At(0, 2, 0), "wall")
}

func TestIsoField(t *testing.T) {
	sv := newTestSolver(t, testConfig(t, 2, 12, 0), fluidBelow(0.5))

	assert.Equal(t, sv.FillField(), sv.IsoField(0))

	iso := sv.IsoField(1)
	// a fluid cell below the interface row sees three partially filled cells
	want := (6 + 3*0.45) / 9
	assert.InDelta(t, want, iso.At(5, 4, 0), 1e-6)
}

func TestVelocity_Sampling(t *testing.T) {
	cfg := testConfig(t, 2, 12, 0)
	vel := r3.Vec{X: 0.01 * cfg.Derived.CellSize / cfg.Physics.Timestep}
	sv := newTestSolver(t, cfg, fluidEverywhere(vel))

	got := sv.Velocity(r3.Vec{X: 0.5, Y: 0.5})
	assert.InDelta(t, vel.X, got.X, 1e-9)
	assert.Equal(t, r3.Vec{}, sv.Velocity(r3.Vec{X: 2, Y: 0.5}))
	assert.Equal(t, r3.Vec{}, sv.Velocity(r3.Vec{X: 0.01, Y: 0.5}), "wall")
}
