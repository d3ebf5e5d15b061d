// Package config provides configuration loading and access for the solver.
package config

import (
	_ "embed"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds all solver configuration parameters.
type Config struct {
	Domain    DomainConfig    `yaml:"domain"`
	Physics   PhysicsConfig   `yaml:"physics"`
	Surface   SurfaceConfig   `yaml:"surface"`
	Timestep  TimestepConfig  `yaml:"timestep"`
	Solver    SolverConfig    `yaml:"solver"`
	Scene     SceneConfig     `yaml:"scene"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// DomainConfig describes the finest grid and the refinement depth.
type DomainConfig struct {
	Dim       int        `yaml:"dim"`        // 2 (D2Q9) or 3 (D3Q19)
	SizeX     int        `yaml:"size_x"`     // Finest level cells along x
	SizeY     int        `yaml:"size_y"`     // Finest level cells along y
	SizeZ     int        `yaml:"size_z"`     // Finest level cells along z (ignored in 2D)
	MaxRefine int        `yaml:"max_refine"` // Number of coarser levels below the finest
	Min       [3]float64 `yaml:"min"`        // World-space domain start
	Max       [3]float64 `yaml:"max"`        // World-space domain end
	Boundary  string     `yaml:"boundary"`   // Domain shell kind: noslip, freeslip, partslip
	PartSlip  float64    `yaml:"part_slip"`  // Slip value for a partslip shell (1 = no-slip)
}

// PhysicsConfig holds fluid parameters in world units.
type PhysicsConfig struct {
	Omega       float64    `yaml:"omega"`       // Finest-level relaxation rate; 0 = derive from viscosity
	Viscosity   float64    `yaml:"viscosity"`   // Kinematic viscosity (m^2/s), used when omega is 0
	Timestep    float64    `yaml:"timestep"`    // Finest-level timestep in seconds
	Gravity     [3]float64 `yaml:"gravity"`     // Acceleration (m/s^2)
	Smagorinsky float64    `yaml:"smagorinsky"` // LES constant; 0 disables the turbulence model
}

// SurfaceConfig holds free-surface tracking parameters.
type SurfaceConfig struct {
	FillMargin    float64 `yaml:"fill_margin"`    // Relative overshoot before fill/empty conversion
	ListFill      float64 `yaml:"list_fill"`      // Early fill threshold for cells without empty neighbours
	ListEmpty     float64 `yaml:"list_empty"`     // Early empty threshold for cells without fluid neighbours
	InitFill      float64 `yaml:"init_fill"`      // Fill fraction of interface cells created at init
	SmoothPasses  int     `yaml:"smooth_passes"`  // Fill-fraction smoothing passes at init
	IsoSmoothing  float64 `yaml:"iso_smoothing"`  // Neighbour weight of the iso field kernel
	StandingFluid bool    `yaml:"standing_fluid"` // Initialize a hydrostatic pressure gradient
}

// TimestepConfig holds adaptive timestep controller parameters.
type TimestepConfig struct {
	Adaptive         bool    `yaml:"adaptive"`          // Enable the controller
	Min              float64 `yaml:"min"`               // Smallest timestep (s)
	Max              float64 `yaml:"max"`               // Largest timestep (s)
	MaxSpeed         float64 `yaml:"max_speed"`         // Allowed lattice speed
	Factor           float64 `yaml:"factor"`            // Change factor per adaptation
	MinChange        float64 `yaml:"min_change"`        // Relative change below which no rescale happens
	InstabilitySteps int     `yaml:"instability_steps"` // Consecutive over-speed steps before shrinking
	BruteForce       bool    `yaml:"brute_force"`       // Clamp velocities when stuck at the minimum timestep
}

// SolverConfig holds execution parameters.
type SolverConfig struct {
	Workers           int     `yaml:"workers"`            // Worker goroutines (0 = GOMAXPROCS)
	ParallelThreshold int     `yaml:"parallel_threshold"` // Minimum slabs for parallel sweeps
	Checked           bool    `yaml:"checked"`            // Enable the validation layer
	MemoryBudgetMB    float64 `yaml:"memory_budget_mb"`   // Setup fails above this estimate (0 = unlimited)
	PanicSpeed        float64 `yaml:"panic_speed"`        // Lattice speed that raises the panic flag
	CheckSymmetry     bool    `yaml:"check_symmetry"`     // Checked mode: require mirror symmetry along x
}

// SceneConfig lists the objects painted into the domain.
type SceneConfig struct {
	Objects    []ObjectConfig    `yaml:"objects"`
	Attractors []AttractorConfig `yaml:"attractors"`
}

// ObjectConfig is one geometry object.
type ObjectConfig struct {
	Name     string     `yaml:"name"`
	Shape    string     `yaml:"shape"`     // box or sphere
	Kind     string     `yaml:"kind"`      // fluid, noslip, freeslip, partslip, inflow, outflow
	Min      [3]float64 `yaml:"min"`       // Box start
	Max      [3]float64 `yaml:"max"`       // Box end
	Center   [3]float64 `yaml:"center"`    // Sphere center
	Radius   float64    `yaml:"radius"`    // Sphere radius
	Velocity [3]float64 `yaml:"velocity"`  // Wall or inflow velocity (m/s)
	PartSlip float64    `yaml:"part_slip"` // Slip value for partslip objects
}

// AttractorConfig is one control-force source.
type AttractorConfig struct {
	Center            [3]float64 `yaml:"center"`
	Radius            float64    `yaml:"radius"`              // Influence radius
	Attraction        float64    `yaml:"attraction"`          // Pull strength toward the center
	Velocity          [3]float64 `yaml:"velocity"`            // Target velocity (lattice units)
	VelocityWeight    float64    `yaml:"velocity_weight"`     // Blend toward target velocity
	MaxDistance       float64    `yaml:"max_distance"`        // Distance beyond which fluid is pulled back
	MaxDistanceWeight float64    `yaml:"max_distance_weight"` // Strength of the pull back
}

// TelemetryConfig holds output and statistics parameters.
type TelemetryConfig struct {
	StatsWindow  int  `yaml:"stats_window"`  // Steps per aggregated statistics record
	DumpInterval int  `yaml:"dump_interval"` // Steps between field dumps (0 = off)
	DumpCompress bool `yaml:"dump_compress"` // Gzip field dumps
	IsoField     bool `yaml:"iso_field"`     // Dump the smoothed iso field next to the fill field
	Plot         bool `yaml:"plot"`          // Write summary plots on exit
}

// DerivedConfig holds values computed from other config values.
type DerivedConfig struct {
	CellSize       float64    // World size of a finest cell
	Viscosity      float64    // Kinematic viscosity in world units
	Omega          float64    // Finest-level relaxation rate at the configured timestep
	LatticeGravity [3]float64 // Gravity in lattice units at the configured timestep
}

var global *Config

// Init loads the configuration from path (or only embedded defaults if
// path is empty) and stores it as the global config.
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// MustInit is like Init but panics on error.
func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	cfg, err := Defaults()
	if err != nil {
		return nil, err
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Only overwrites fields present in file
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.ComputeDerived()
	return cfg, nil
}

// Defaults returns a fresh copy of the embedded defaults.
func Defaults() (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}
	cfg.ComputeDerived()
	return cfg, nil
}

// ComputeDerived recalculates values derived from the loaded config. Call
// it again after changing fields programmatically.
func (c *Config) ComputeDerived() {
	d := &c.Derived
	if c.Domain.SizeX > 0 {
		d.CellSize = (c.Domain.Max[0] - c.Domain.Min[0]) / float64(c.Domain.SizeX)
	}
	dt := c.Physics.Timestep

	// omega wins over viscosity when both are given
	d.Viscosity = c.Physics.Viscosity
	if c.Physics.Omega > 0 && dt > 0 && d.CellSize > 0 {
		latticeNu := (1/c.Physics.Omega - 0.5) / 3
		d.Viscosity = latticeNu * d.CellSize * d.CellSize / dt
	}
	d.Omega = OmegaFor(d.Viscosity, dt, d.CellSize)

	for i := range d.LatticeGravity {
		d.LatticeGravity[i] = 0
		if d.CellSize > 0 {
			d.LatticeGravity[i] = c.Physics.Gravity[i] * dt * dt / d.CellSize
		}
	}
}

// OmegaFor returns the relaxation rate for a world viscosity at timestep dt
// on cells of size dx.
func OmegaFor(viscosity, dt, dx float64) float64 {
	if dx <= 0 {
		return math.NaN()
	}
	latticeNu := viscosity * dt / (dx * dx)
	return 1 / (3*latticeNu + 0.5)
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
