// Field preview tool - renders one z slice of a field dump to a PNG heat map.
//
// Usage: go run ./cmd/fieldpreview -in out/fields/fill_000100.bin.gz -out fill.png
package main

import (
	"flag"
	"fmt"
	"os"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/pthm-cable/lbmflow/dump"
)

// sliceGrid exposes the z = K plane of a field as a plotter.GridXYZ.
type sliceGrid struct {
	f dump.Field
	k int
}

func newSliceGrid(f dump.Field, k int) (sliceGrid, error) {
	if k < 0 || k >= f.Nz {
		return sliceGrid{}, fmt.Errorf("slice %d outside 0..%d", k, f.Nz-1)
	}
	return sliceGrid{f: f, k: k}, nil
}

func (g sliceGrid) Dims() (c, r int)   { return g.f.Nx, g.f.Ny }
func (g sliceGrid) Z(c, r int) float64 { return float64(g.f.At(c, r, g.k)) }
func (g sliceGrid) X(c int) float64    { return float64(c) }
func (g sliceGrid) Y(r int) float64    { return float64(r) }

func main() {
	inPath := flag.String("in", "", "Field dump (.bin or .bin.gz)")
	outPath := flag.String("out", "field.png", "Output PNG path")
	slice := flag.Int("z", -1, "Z slice to render (-1 = middle)")
	unit := flag.Bool("unit", true, "Fix the color range to [0,1]")
	colors := flag.Int("colors", 32, "Palette size")
	flag.Parse()

	if *inPath == "" {
		fmt.Fprintln(os.Stderr, "-in is required")
		os.Exit(1)
	}
	f, err := dump.ReadFile(*inPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read field: %v\n", err)
		os.Exit(1)
	}
	k := *slice
	if k < 0 {
		k = f.Nz / 2
	}
	g, err := newSliceGrid(f, k)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid slice: %v\n", err)
		os.Exit(1)
	}

	hm := plotter.NewHeatMap(g, palette.Heat(*colors, 1))
	if *unit {
		hm.Min, hm.Max = 0, 1
	}
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s z=%d", *inPath, k)
	p.X.Label.Text = "i"
	p.Y.Label.Text = "j"
	p.Add(hm)

	// Keep cells square
	w := 6 * vg.Inch
	h := w * vg.Length(f.Ny) / vg.Length(f.Nx)
	if err := p.Save(w, h, *outPath); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to save image: %v\n", err)
		os.Exit(1)
	}
	lo, hi := f.Range()
	fmt.Printf("Saved %dx%d slice %d to %s (values %.3f..%.3f)\n", f.Nx, f.Ny, k, *outPath, lo, hi)
}
