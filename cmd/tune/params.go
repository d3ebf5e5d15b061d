package main

import (
	"github.com/pthm-cable/lbmflow/config"
)

// ParamSpec defines a single tunable parameter.
type ParamSpec struct {
	Name    string  // Human-readable name
	Path    string  // Config path for logging
	Min     float64 // Lower bound
	Max     float64 // Upper bound
	Default float64 // Default value
}

// ParamVector holds the set of all tunable parameters.
type ParamVector struct {
	Specs []ParamSpec
}

// NewParamVector creates the standard set of tunable parameters.
func NewParamVector() *ParamVector {
	return &ParamVector{
		Specs: []ParamSpec{
			{Name: "smagorinsky", Path: "physics.smagorinsky", Min: 0, Max: 0.2, Default: 0.03},
			{Name: "max_speed", Path: "timestep.max_speed", Min: 0.04, Max: 0.2, Default: 0.1},
			{Name: "factor", Path: "timestep.factor", Min: 0.5, Max: 0.95, Default: 0.8},
			{Name: "min_change", Path: "timestep.min_change", Min: 0.01, Max: 0.2, Default: 0.05},
			{Name: "fill_margin", Path: "surface.fill_margin", Min: 0, Max: 0.1, Default: 0.025},
		},
	}
}

// Dim returns the number of parameters.
func (pv *ParamVector) Dim() int {
	return len(pv.Specs)
}

// DefaultVector returns the default parameter values as a slice.
func (pv *ParamVector) DefaultVector() []float64 {
	v := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		v[i] = spec.Default
	}
	return v
}

// Normalize converts raw parameter values to [0,1] range.
func (pv *ParamVector) Normalize(raw []float64) []float64 {
	normalized := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		normalized[i] = (raw[i] - spec.Min) / (spec.Max - spec.Min)
	}
	return normalized
}

// Denormalize converts [0,1] values back to raw parameter values.
func (pv *ParamVector) Denormalize(normalized []float64) []float64 {
	raw := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		raw[i] = spec.Min + normalized[i]*(spec.Max-spec.Min)
	}
	return raw
}

// Clamp ensures all values are within bounds.
func (pv *ParamVector) Clamp(v []float64) []float64 {
	clamped := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		clamped[i] = min(spec.Max, max(spec.Min, v[i]))
	}
	return clamped
}

// ApplyToConfig applies parameter values to a Config struct and
// recomputes the derived values. Order must match Specs.
func (pv *ParamVector) ApplyToConfig(cfg *config.Config, values []float64) {
	clamped := pv.Clamp(values)
	cfg.Physics.Smagorinsky = clamped[0]
	cfg.Timestep.MaxSpeed = clamped[1]
	cfg.Timestep.Factor = clamped[2]
	cfg.Timestep.MinChange = clamped[3]
	cfg.Surface.FillMargin = clamped[4]
	cfg.ComputeDerived()
}

// ExtractFromConfig extracts current parameter values from a Config struct.
func (pv *ParamVector) ExtractFromConfig(cfg *config.Config) []float64 {
	return []float64{
		cfg.Physics.Smagorinsky,
		cfg.Timestep.MaxSpeed,
		cfg.Timestep.Factor,
		cfg.Timestep.MinChange,
		cfg.Surface.FillMargin,
	}
}
