package config

import (
	"errors"
	"fmt"
	"math"
)

// Setup-fatal validation errors.
var (
	ErrDimension    = errors.New("unsupported dimension")
	ErrGridSize     = errors.New("invalid grid size")
	ErrOmega        = errors.New("invalid relaxation rate")
	ErrTimestep     = errors.New("invalid timestep")
	ErrMemoryBudget = errors.New("memory budget exceeded")
	ErrObjectKind   = errors.New("unknown object kind")
	ErrObjectShape  = errors.New("unknown object shape")
)

var objectKinds = map[string]bool{
	"fluid": true, "noslip": true, "freeslip": true, "partslip": true, "inflow": true, "outflow": true,
}

// Validate checks the configuration for values the solver cannot run with.
func (c *Config) Validate() error {
	d := c.Domain
	if d.Dim != 2 && d.Dim != 3 {
		return fmt.Errorf("domain.dim %d: %w", d.Dim, ErrDimension)
	}
	minExt := 3 << d.MaxRefine
	if d.MaxRefine < 0 || d.SizeX < minExt || d.SizeY < minExt || (d.Dim == 3 && d.SizeZ < minExt) {
		return fmt.Errorf("domain %dx%dx%d with max_refine %d: %w", d.SizeX, d.SizeY, d.SizeZ, d.MaxRefine, ErrGridSize)
	}
	if !(d.Max[0] > d.Min[0]) || !(d.Max[1] > d.Min[1]) || (d.Dim == 3 && !(d.Max[2] > d.Min[2])) {
		return fmt.Errorf("domain extents %v..%v: %w", d.Min, d.Max, ErrGridSize)
	}
	if d.Boundary != "" && !objectKinds[d.Boundary] {
		return fmt.Errorf("domain.boundary %q: %w", d.Boundary, ErrObjectKind)
	}

	if !(c.Physics.Timestep > 0) {
		return fmt.Errorf("physics.timestep %v: %w", c.Physics.Timestep, ErrTimestep)
	}
	om := c.Derived.Omega
	if math.IsNaN(om) || om <= 0 || om >= 2 {
		return fmt.Errorf("omega %v: %w", om, ErrOmega)
	}

	t := c.Timestep
	if t.Adaptive && (!(t.Min > 0) || t.Max < t.Min || !(t.MaxSpeed > 0) || !(t.Factor > 0 && t.Factor < 1)) {
		return fmt.Errorf("timestep controller min=%v max=%v speed=%v factor=%v: %w", t.Min, t.Max, t.MaxSpeed, t.Factor, ErrTimestep)
	}

	if c.Solver.MemoryBudgetMB > 0 {
		if est := c.EstimateMemoryMB(); est > c.Solver.MemoryBudgetMB {
			return fmt.Errorf("estimated %.1f MB > budget %.1f MB: %w", est, c.Solver.MemoryBudgetMB, ErrMemoryBudget)
		}
	}

	for _, o := range c.Scene.Objects {
		if !objectKinds[o.Kind] {
			return fmt.Errorf("object %q kind %q: %w", o.Name, o.Kind, ErrObjectKind)
		}
		if o.Shape != "box" && o.Shape != "sphere" {
			return fmt.Errorf("object %q shape %q: %w", o.Name, o.Shape, ErrObjectShape)
		}
	}
	return nil
}

// EstimateMemoryMB returns the cell storage of all levels in megabytes:
// two buffers of Q+3 float64 values and a 4-byte flag per cell.
func (c *Config) EstimateMemoryMB() float64 {
	q := 19
	sz := c.Domain.SizeZ
	if c.Domain.Dim == 2 {
		q = 9
		sz = 1
	}
	perCell := float64(2*(q+3)*8 + 2*4)
	var cells float64
	sx, sy := c.Domain.SizeX, c.Domain.SizeY
	for lev := c.Domain.MaxRefine; lev >= 0; lev-- {
		cells += float64(sx) * float64(sy) * float64(sz)
		sx, sy = sx/2, sy/2
		if c.Domain.Dim == 3 {
			sz /= 2
		}
	}
	return cells * perCell / (1024 * 1024)
}
