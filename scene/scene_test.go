package scene

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/lbmflow/config"
	"github.com/pthm-cable/lbmflow/solver"
)

func TestShape_Contains(t *testing.T) {
	box := Shape{Kind: ShapeBox, Min: r3.Vec{}, Max: r3.Vec{X: 1, Y: 1, Z: 1}}
	ball := Shape{Kind: ShapeSphere, Center: r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}, Radius: 0.25}

	tests := []struct {
		name  string
		shape Shape
		p     r3.Vec
		flat  bool
		want  bool
	}{
		{"box inside", box, r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}, false, true},
		{"box outside z", box, r3.Vec{X: 0.5, Y: 0.5, Z: 2}, false, false},
		{"box flat ignores z", box, r3.Vec{X: 0.5, Y: 0.5, Z: 2}, true, true},
		{"sphere inside", ball, r3.Vec{X: 0.6, Y: 0.5, Z: 0.5}, false, true},
		{"sphere outside", ball, r3.Vec{X: 0.9, Y: 0.5, Z: 0.5}, false, false},
		{"disc ignores z", ball, r3.Vec{X: 0.6, Y: 0.5, Z: 3}, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.shape.Contains(tt.p, tt.flat))
		})
	}
}

func TestFromConfig_Defaults(t *testing.T) {
	cfg, err := config.Defaults()
	require.NoError(t, err)

	sc, err := FromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, sc.Objects())

	hit, ok := sc.Query(r3.Vec{X: 0.1, Y: 0.1, Z: 0.5})
	require.True(t, ok)
	assert.Equal(t, solver.KindFluid, hit.Kind)
	assert.Equal(t, 1, hit.ObjectID)

	_, ok = sc.Query(r3.Vec{X: 0.9, Y: 0.9, Z: 0.5})
	assert.False(t, ok)
}

func TestFromConfig_Errors(t *testing.T) {
	cfg, err := config.Defaults()
	require.NoError(t, err)

	cfg.Scene.Objects = []config.ObjectConfig{{Name: "x", Shape: "box", Kind: "lava"}}
	_, err = FromConfig(cfg)
	assert.ErrorIs(t, err, solver.ErrUnknownKind)

	cfg.Scene.Objects = []config.ObjectConfig{{Name: "x", Shape: "torus", Kind: "fluid"}}
	_, err = FromConfig(cfg)
	assert.ErrorIs(t, err, config.ErrObjectShape)
}

func TestQuery_LastObjectWins(t *testing.T) {
	sc := New(3)
	_, err := sc.AddObject(Shape{Kind: ShapeBox, Max: r3.Vec{X: 1, Y: 1, Z: 1}}, Object{Kind: solver.KindFluid})
	require.NoError(t, err)
	_, err = sc.AddObject(Shape{Kind: ShapeSphere, Center: r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}, Radius: 0.2},
		Object{Kind: solver.KindNoSlip, Velocity: r3.Vec{X: 1}})
	require.NoError(t, err)

	hit, ok := sc.Query(r3.Vec{X: 0.5, Y: 0.5, Z: 0.5})
	require.True(t, ok)
	assert.Equal(t, 2, hit.ObjectID)
	assert.Equal(t, solver.KindNoSlip, hit.Kind)
	assert.Equal(t, r3.Vec{X: 1}, hit.Velocity)

	hit, ok = sc.Query(r3.Vec{X: 0.1, Y: 0.1, Z: 0.1})
	require.True(t, ok)
	assert.Equal(t, 1, hit.ObjectID)
}

func TestAddObject_Limit(t *testing.T) {
	sc := New(2)
	for i := 0; i < maxObjects; i++ {
		_, err := sc.AddObject(Shape{}, Object{Kind: solver.KindFluid})
		require.NoError(t, err)
	}
	_, err := sc.AddObject(Shape{}, Object{Kind: solver.KindFluid})
	assert.ErrorIs(t, err, ErrTooManyObjects)
}

func TestForce(t *testing.T) {
	sc := New(3)
	assert.Equal(t, solver.ControlForce{}, sc.Force(r3.Vec{}, r3.Vec{}))

	sc.AddAttractor(r3.Vec{X: 1}, Attractor{Radius: 2, Attraction: 0.01, MaxDistance: 0.5, MaxDistanceWeight: 0.1})

	cf := sc.Force(r3.Vec{}, r3.Vec{})
	assert.Equal(t, 1.0, cf.AttractionWeight)
	// half way inside the radius, pointing at the attractor
	assert.InDelta(t, 0.005, cf.Attraction.X, 1e-12)
	assert.InDelta(t, 0.5, cf.MaxDistance.X, 1e-12)
	assert.Equal(t, 0.1, cf.MaxDistanceWeight)

	// outside the radius only the pull back remains
	cf = sc.Force(r3.Vec{X: -2}, r3.Vec{})
	assert.Zero(t, cf.AttractionWeight)
	assert.InDelta(t, 2.5, cf.MaxDistance.X, 1e-12)
}

func TestScene_DrivesSolver(t *testing.T) {
	cfg, err := config.Defaults()
	require.NoError(t, err)
	cfg.Domain.Dim = 2
	cfg.Domain.SizeX, cfg.Domain.SizeY = 16, 16
	cfg.Solver.Workers = 1
	cfg.Scene.Attractors = []config.AttractorConfig{{Center: [3]float64{0.8, 0.2, 0.5}, Radius: 0.5, Attraction: 1e-4}}
	cfg.ComputeDerived()

	sc, err := FromConfig(cfg)
	require.NoError(t, err)
	sv, err := solver.New(cfg, sc, solver.WithControl(sc))
	require.NoError(t, err)
	defer sv.Close()

	for n := 0; n < 3; n++ {
		_, err := sv.Step()
		require.NoError(t, err)
	}
	panicked, reason := sv.Panic()
	assert.False(t, panicked, reason)
}
