package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/pthm-cable/lbmflow/dump"
)

func TestSliceGrid(t *testing.T) {
	f := dump.NewField(3, 2, 2)
	f.Data[f.Index(2, 1, 1)] = 0.5

	_, err := newSliceGrid(f, 2)
	assert.Error(t, err)

	g, err := newSliceGrid(f, 1)
	require.NoError(t, err)
	c, r := g.Dims()
	assert.Equal(t, 3, c)
	assert.Equal(t, 2, r)
	assert.Equal(t, 0.5, g.Z(2, 1))
	assert.Zero(t, g.Z(0, 0))
	assert.Equal(t, 2.0, g.X(2))
}

func TestSliceGrid_Renders(t *testing.T) {
	f := dump.NewField(4, 4, 1)
	for i := range f.Data {
		f.Data[i] = float32(i) / 15
	}
	g, err := newSliceGrid(f, 0)
	require.NoError(t, err)

	p := plot.New()
	p.Add(plotter.NewHeatMap(g, palette.Heat(8, 1)))
	out := filepath.Join(t.TempDir(), "slice.png")
	require.NoError(t, p.Save(2*vg.Inch, 2*vg.Inch, out))
	assert.FileExists(t, out)
}
