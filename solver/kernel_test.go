package solver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/lbmflow/lattice"
)

func TestExchange(t *testing.T) {
	const in, out = 0.3, 0.1
	tests := []struct {
		name         string
		mine, theirs lattice.Flag
		want         float64
	}{
		{"both standard", 0, 0, in - out},
		{"neighbour without fluid", 0, lattice.NoNbFluid, in},
		{"neighbour without gas", 0, lattice.NoNbEmpty, -out},
		{"mine without fluid", lattice.NoNbFluid, 0, -out},
		{"mine without fluid, neighbour without gas", lattice.NoNbFluid, lattice.NoNbEmpty, -out},
		{"mine without gas", lattice.NoNbEmpty, 0, in},
		{"mine without gas, neighbour without fluid", lattice.NoNbEmpty, lattice.NoNbFluid, in},
		{"both without fluid", lattice.NoNbFluid, lattice.NoNbFluid, in - out},
		{"other bits ignored", lattice.Interface | lattice.NoDelete, lattice.Interface, in - out},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, exchange(tt.mine, tt.theirs, in, out), 1e-15)
		})
	}
}

// Swapping the roles of two cells must negate the exchanged mass.
func TestExchange_Antisymmetric(t *testing.T) {
	flags := []lattice.Flag{0, lattice.NoNbFluid, lattice.NoNbEmpty}
	for _, a := range flags {
		for _, b := range flags {
			ab := exchange(a, b, 0.3, 0.1)
			ba := exchange(b, a, 0.1, 0.3)
			assert.InDelta(t, -ab, ba, 1e-15, "%v / %v", a, b)
		}
	}
}

func TestChangeRole(t *testing.T) {
	f := (lattice.Interface | lattice.NoDelete | lattice.NoNbEmpty | lattice.Inflow).WithObject(7)
	got := changeRole(f, lattice.Fluid)
	assert.Equal(t, (lattice.Fluid | lattice.Inflow).WithObject(7), got)
	assert.True(t, got.Valid())
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("partslip")
	require.NoError(t, err)
	assert.Equal(t, KindPartSlip, k)
	assert.Equal(t, "partslip", k.String())
	assert.Equal(t, lattice.Bnd|lattice.BndPartSlip, k.bndFlag())

	_, err = ParseKind("lava")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestControlForce_Apply(t *testing.T) {
	g := r3.Vec{Y: -0.05}
	u := r3.Vec{X: 0.1, Y: -0.05}
	tests := []struct {
		name string
		cf   ControlForce
		want r3.Vec
	}{
		{"none", ControlForce{}, u},
		{"attraction replaces gravity", ControlForce{Attraction: r3.Vec{Y: 1}, AttractionWeight: 0.5}, r3.Vec{X: 0.1, Y: 0.5}},
		{"velocity match", ControlForce{Velocity: r3.Vec{X: 0.3}, VelocityWeight: 0.5}, r3.Vec{X: 0.2, Y: -0.025}},
		{"attraction wins", ControlForce{
			Attraction: r3.Vec{Y: 1}, AttractionWeight: 0.5,
			Velocity: r3.Vec{X: 0.3}, VelocityWeight: 0.5,
		}, r3.Vec{X: 0.1, Y: 0.5}},
		{"max distance adds", ControlForce{MaxDistance: r3.Vec{Z: -1}, MaxDistanceWeight: 0.1}, r3.Vec{X: 0.1, Y: -0.05, Z: -0.1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.cf.Apply(u, g)
			assert.InDelta(t, 0, r3.Norm(r3.Sub(tt.want, got)), 1e-15)
		})
	}
}

type pushRight struct{ calls int }

func (p *pushRight) Force(pos, vel r3.Vec) ControlForce {
	p.calls++
	return ControlForce{Attraction: r3.Vec{X: 1}, AttractionWeight: 1e-4}
}

func TestStep_ControlForce(t *testing.T) {
	cfg := testConfig(t, 2, 12, 0)
	ctrl := &pushRight{}
	sv, err := New(cfg, fluidBelow(0.5), WithControl(ctrl), WithLogger(quiet))
	require.NoError(t, err)
	defer sv.Close()

	for n := 0; n < 3; n++ {
		_, err := sv.Step()
		require.NoError(t, err)
	}
	assert.Positive(t, ctrl.calls)
	c, err := sv.Cell(0, 5, 3, 0)
	require.NoError(t, err)
	assert.Greater(t, c.Velocity.X, 0.0)
}

func TestStep_AttractionOverridesGravity(t *testing.T) {
	tests := []struct {
		name    string
		ctrl    ControlForces
		falling bool
	}{
		{"gravity only", nil, true},
		{"attraction", &pushRight{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, 2, 12, 0)
			cfg.Physics.Gravity = [3]float64{0, -9.81, 0}
			cfg.ComputeDerived()
			opts := []Option{WithLogger(quiet)}
			if tt.ctrl != nil {
				opts = append(opts, WithControl(tt.ctrl))
			}
			sv, err := New(cfg, fluidEverywhere(r3.Vec{}), opts...)
			require.NoError(t, err)
			defer sv.Close()
			require.NotZero(t, sv.st.H.Finest().Gravity.Y)

			_, err = sv.Step()
			require.NoError(t, err)
			c, err := sv.Cell(0, 6, 6, 0)
			require.NoError(t, err)
			if tt.falling {
				assert.Less(t, c.Velocity.Y, 0.0)
				return
			}
			assert.InDelta(t, 0, c.Velocity.Y, 1e-15)
			assert.Greater(t, c.Velocity.X, 0.0)
		})
	}
}

func TestStream_SlipReflection(t *testing.T) {
	type pop struct {
		i, j   int
		dx, dy int
		val    float64
	}
	tests := []struct {
		name   string
		kind   BoundaryKind
		i, j   int
		dx, dy int // streamed direction
		pops   []pop
		want   float64
	}{
		{"no-slip diagonal bounces", KindNoSlip, 1, 3, 1, 1,
			[]pop{{1, 3, -1, -1, 2}, {1, 2, -1, 1, 1}}, 2},
		{"free-slip diagonal mirrors off side wall", KindFreeSlip, 1, 3, 1, 1,
			[]pop{{1, 3, -1, -1, 2}, {1, 2, -1, 1, 1}}, 1},
		{"free-slip diagonal mirrors off floor", KindFreeSlip, 3, 1, 1, 1,
			[]pop{{3, 1, -1, -1, 2}, {2, 1, 1, -1, 1}}, 1},
		{"part-slip blends bounce and mirror", KindPartSlip, 1, 3, 1, 1,
			[]pop{{1, 3, -1, -1, 2}, {1, 2, -1, 1, 1}}, 0.25*2 + 0.75*1},
		{"free-slip straight direction bounces", KindFreeSlip, 1, 3, 1, 0,
			[]pop{{1, 3, -1, 0, 3}}, 3},
		{"free-slip corner bounces", KindFreeSlip, 1, 1, 1, 1,
			[]pop{{1, 1, -1, -1, 2}, {2, 1, 1, -1, 1}, {1, 2, -1, 1, 1}}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, 2, 8, 0)
			sv := newTestSolver(t, cfg, fluidEverywhere(r3.Vec{}))
			s := sv.st
			lv := s.H.Finest()
			st := lv.Stencil
			cur := lv.Buf.Cur()

			for idx, f := range cur.Flags {
				if f&lattice.Bnd != 0 {
					cur.Flags[idx] = tt.kind.bndFlag().WithObject(f.ObjectID())
				}
			}
			s.objects[0].partSlip = 0.25
			for i := range cur.Cells {
				cur.Cells[i] = 0
			}
			for _, p := range tt.pops {
				lv.Cell(cur, lv.Index(p.i, p.j, 0))[st.Dir(p.dx, p.dy, 0)] = p.val
			}

			idx := lv.Index(tt.i, tt.j, 0)
			l := st.Dir(tt.dx, tt.dy, 0)
			require.NotZero(t, cur.Flags[lv.Nb(idx, st.Inv[l])]&lattice.Bnd, "source must be a wall")
			sc := newScratch(st.Q)
			s.stream(lv, cur, idx, sc)
			assert.InDelta(t, tt.want, sc.m[l], 1e-15)
		})
	}
}

func TestFineSweep_InflowOutflow(t *testing.T) {
	inflowVel := r3.Vec{X: 0.02, Y: -0.01}
	tests := []struct {
		name  string
		flag  lattice.Flag
		setup func(c []float64, massIdx, ffracIdx int)
		check func(t *testing.T, c []float64, f lattice.Flag, res *sweepResult, massIdx int)
	}{
		{"inflow fluid cell forces velocity", (lattice.Fluid | lattice.Inflow).WithObject(2), nil,
			func(t *testing.T, c []float64, f lattice.Flag, res *sweepResult, massIdx int) {
				assert.True(t, f.Is(lattice.Fluid))
				rho, ux, uy, _ := lattice.D2Q9.Moments(c)
				assert.InDelta(t, 1, rho, 1e-12)
				assert.InDelta(t, inflowVel.X, ux, 1e-15)
				assert.InDelta(t, inflowVel.Y, uy, 1e-15)
				assert.InDelta(t, rho, c[massIdx], 1e-15)
			}},
		{"inflow gas cell fills", (lattice.Empty | lattice.Inflow).WithObject(2), nil,
			func(t *testing.T, c []float64, f lattice.Flag, res *sweepResult, massIdx int) {
				assert.Equal(t, (lattice.Interface | lattice.Inflow).WithObject(2), f)
				rho, ux, uy, _ := lattice.D2Q9.Moments(c)
				assert.InDelta(t, 1, rho, 1e-12)
				assert.InDelta(t, inflowVel.X, ux, 1e-15)
				assert.InDelta(t, inflowVel.Y, uy, 1e-15)
				assert.InDelta(t, 1, c[massIdx], 1e-15)
				assert.InDelta(t, 1, res.massSource, 1e-15)
			}},
		{"outflow fluid cell drains", (lattice.Fluid | lattice.Outflow).WithObject(3), nil,
			func(t *testing.T, c []float64, f lattice.Flag, res *sweepResult, massIdx int) {
				assert.True(t, f.Is(lattice.Interface))
				assert.Zero(t, c[massIdx])
				assert.InDelta(t, -1, res.massSource, 1e-12)
				assert.Equal(t, 1, res.emptied)
			}},
		{"outflow interface cell drains", (lattice.Interface | lattice.Outflow).WithObject(3),
			func(c []float64, massIdx, ffracIdx int) { c[massIdx], c[ffracIdx] = 0.5, 0.5 },
			func(t *testing.T, c []float64, f lattice.Flag, res *sweepResult, massIdx int) {
				assert.Zero(t, c[massIdx])
				assert.InDelta(t, -0.5, res.massSource, 1e-12)
				assert.Equal(t, 1, res.emptied)
			}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, 2, 12, 0)
			sv := newTestSolver(t, cfg, fluidEverywhere(r3.Vec{}))
			s := sv.st
			lv := s.H.Finest()
			cur := lv.Buf.Cur()
			s.objects[2].vel = inflowVel

			idx := lv.Index(5, 5, 0)
			cur.Flags[idx] = tt.flag
			if tt.setup != nil {
				tt.setup(lv.Cell(cur, idx), lv.MassIdx, lv.FfracIdx)
			}

			var res sweepResult
			s.fineSweep(&res, 0, lv.Slabs())
			require.Empty(t, res.panicReason)
			oth := lv.Buf.Other()
			tt.check(t, lv.Cell(oth, idx), oth.Flags[idx], &res, lv.MassIdx)
			if tt.flag&lattice.Outflow != 0 {
				assert.Equal(t, []int{idx}, res.empty)
			}
		})
	}
}

func TestInterfaceCell_Reconstruction(t *testing.T) {
	tests := []struct {
		name   string
		col    int
		fracs  map[int]float64 // fill fraction of row neighbours by x offset
		dx, dy int             // neighbour direction
		want   bool
	}{
		{"wall neighbour", 1, map[int]float64{1: 0}, -1, 0, true},
		{"wall diagonal below", 1, map[int]float64{1: 0}, -1, -1, true},
		{"gas neighbour", 1, map[int]float64{1: 0}, 0, 1, true},
		{"fluid neighbour", 1, map[int]float64{1: 0}, 0, -1, false},
		{"interface across the normal", 1, map[int]float64{1: 0}, 1, 0, false},
		{"interface along the normal", 5, map[int]float64{-1: 1, 1: 0}, 1, 0, true},
		{"interface against the normal", 5, map[int]float64{-1: 1, 1: 0}, -1, 0, false},
		{"fluid tangent to the surface", 5, map[int]float64{-1: 1, 1: 0}, 1, -1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, 2, 12, 0)
			sv := newTestSolver(t, cfg, fluidBelow(0.5))
			s := sv.st
			lv := s.H.Finest()
			st := lv.Stencil
			cur := lv.Buf.Cur()

			idx := findInterface(t, lv, tt.col)
			_, j, _ := lv.Coords(idx)
			require.True(t, cur.Flags[lv.Index(tt.col, j-1, 0)].Is(lattice.Fluid))
			require.True(t, cur.Flags[lv.Index(tt.col, j+1, 0)].Is(lattice.Empty))
			for dx, f := range tt.fracs {
				n := lv.Index(tt.col+dx, j, 0)
				require.True(t, cur.Flags[n].Is(lattice.Interface))
				lv.Cell(cur, n)[lv.FfracIdx] = f
			}
			// give the cell a non-equilibrium state so reconstruction is visible
			ccel := lv.Cell(cur, idx)
			st.EquilibriumAll(ccel, 1, 0.01, 0.02, 0)
			for l := 1; l < st.Q; l++ {
				ccel[l] += 1e-3 * float64(l)
			}

			sc := newScratch(st.Q)
			s.stream(lv, cur, idx, sc)
			streamed := append([]float64(nil), sc.m...)
			s.exchangeMass(lv, cur, sc, idx, cur.Flags[idx])
			s.reconstruct(lv, cur, sc, idx)

			l := st.Dir(tt.dx, tt.dy, 0)
			inv := st.Inv[l]
			assert.Equal(t, tt.want, sc.recons[l])
			if !tt.want {
				assert.Equal(t, streamed[inv], sc.m[inv])
				return
			}
			_, ux, uy, uz := st.Moments(ccel)
			want := st.Equilibrium(l, 1, ux, uy, uz) + st.Equilibrium(inv, 1, ux, uy, uz) - ccel[l]
			assert.InDelta(t, want, sc.m[inv], 1e-15)
		})
	}
}

func TestStep_Smagorinsky(t *testing.T) {
	tests := []struct {
		name      string
		dim, n    int
		maxRefine int
		steps     int
		geo       Geometry
	}{
		{"2D single level", 2, 20, 0, 10, damBreak()},
		{"3D single level", 3, 10, 0, 4, damBreak()},
		{"2D two levels", 2, 32, 1, 4, fluidBelow(0.6)},
	}
	run := func(t *testing.T, dim, n, maxRefine, steps int, geo Geometry, csmago float64) *State {
		cfg := testConfig(t, dim, n, maxRefine)
		cfg.Physics.Gravity = [3]float64{0, -9.81, 0}
		cfg.Physics.Smagorinsky = csmago
		cfg.ComputeDerived()
		sv := newTestSolver(t, cfg, geo)
		initial := sv.InitialMass()
		for i := 0; i < steps; i++ {
			_, err := sv.Step()
			require.NoError(t, err, "step %d", i)
			if maxRefine == 0 {
				assert.InDelta(t, initial, totalMass(sv.st), 1e-8*initial, "step %d", i)
			}
		}
		panicked, reason := sv.Panic()
		require.False(t, panicked, reason)
		return sv.st
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			les := run(t, tt.dim, tt.n, tt.maxRefine, tt.steps, tt.geo, 0.02)
			for _, lv := range les.H.Levels {
				assert.Positive(t, lv.Csmago, "level %d", lv.Num)
			}
			plain := run(t, tt.dim, tt.n, tt.maxRefine, tt.steps, tt.geo, 0)
			assert.NotEqual(t, plain.H.Finest().Buf.Cur().Cells, les.H.Finest().Buf.Cur().Cells)
		})
	}
}
