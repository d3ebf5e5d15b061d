package telemetry

import (
	"fmt"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

type series struct {
	file, title, label string
	value              func(WindowStats) float64
}

var plotSeries = []series{
	{"mass.png", "Total mass", "Mass", func(s WindowStats) float64 { return s.Mass }},
	{"mass_drift.png", "Relative mass drift", "Drift", func(s WindowStats) float64 { return s.MassDrift }},
	{"max_velocity.png", "Peak lattice speed (window mean)", "Speed", func(s WindowStats) float64 { return s.MaxVelocityMean }},
	{"timestep.png", "Timestep", "dt (s)", func(s WindowStats) float64 { return s.Timestep }},
}

// WritePlots writes one time-series chart per tracked quantity into dir,
// with simulated time on the x axis.
func WritePlots(dir string, history []WindowStats) error {
	for _, sr := range plotSeries {
		p := plot.New()
		p.Title.Text = sr.title
		p.X.Label.Text = "Time (s)"
		p.Y.Label.Text = sr.label

		pts := make(plotter.XYs, len(history))
		for i, s := range history {
			pts[i] = plotter.XY{X: s.SimTime, Y: sr.value(s)}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return fmt.Errorf("plotting %s: %w", sr.file, err)
		}
		line.Width = vg.Points(1)
		p.Add(line)

		if err := p.Save(10*vg.Inch, 4*vg.Inch, filepath.Join(dir, sr.file)); err != nil {
			return fmt.Errorf("saving %s: %w", sr.file, err)
		}
	}
	return nil
}
