package telemetry

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"
	"github.com/google/uuid"

	"github.com/pthm-cable/lbmflow/config"
	"github.com/pthm-cable/lbmflow/dump"
	"github.com/pthm-cable/lbmflow/solver"
)

// csvFile writes gocsv records, emitting the header only once.
type csvFile struct {
	f             *os.File
	headerWritten bool
}

func createCSV(dir, name string) (*csvFile, error) {
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", name, err)
	}
	return &csvFile{f: f}, nil
}

func (c *csvFile) write(records any) error {
	if !c.headerWritten {
		c.headerWritten = true
		return gocsv.Marshal(records, c.f)
	}
	return gocsv.MarshalWithoutHeaders(records, c.f)
}

// OutputManager handles structured run output: per-step and per-window CSV
// logs, perf records, the effective config, field dumps and plots.
type OutputManager struct {
	dir   string
	runID string

	stepsFile *csvFile
	statsFile *csvFile
	perfFile  *csvFile

	history []WindowStats
}

// NewOutputManager creates the output directory and its CSV files.
// Returns nil if dir is empty (output disabled).
func NewOutputManager(dir string) (*OutputManager, error) {
	if dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	om := &OutputManager{dir: dir, runID: uuid.New().String()}
	var err error
	if om.stepsFile, err = createCSV(dir, "steps.csv"); err != nil {
		return nil, err
	}
	if om.statsFile, err = createCSV(dir, "stats.csv"); err != nil {
		om.Close()
		return nil, err
	}
	if om.perfFile, err = createCSV(dir, "perf.csv"); err != nil {
		om.Close()
		return nil, err
	}
	return om, nil
}

// RunID returns the identifier of this run.
func (om *OutputManager) RunID() string {
	if om == nil {
		return ""
	}
	return om.runID
}

// WriteConfig saves the effective configuration as YAML.
func (om *OutputManager) WriteConfig(cfg *config.Config) error {
	if om == nil {
		return nil
	}
	return cfg.WriteYAML(filepath.Join(om.dir, "config.yaml"))
}

// WriteStep appends one step record to steps.csv.
func (om *OutputManager) WriteStep(s solver.StepStats) error {
	if om == nil {
		return nil
	}
	if err := om.stepsFile.write([]solver.StepStats{s}); err != nil {
		return fmt.Errorf("writing step: %w", err)
	}
	return nil
}

// WriteStats appends a window record to stats.csv and keeps it for plotting.
func (om *OutputManager) WriteStats(stats WindowStats) error {
	if om == nil {
		return nil
	}
	om.history = append(om.history, stats)
	if err := om.statsFile.write([]WindowStats{stats}); err != nil {
		return fmt.Errorf("writing stats: %w", err)
	}
	return nil
}

// WritePerf appends a performance record to perf.csv.
func (om *OutputManager) WritePerf(stats PerfStats, windowEnd int) error {
	if om == nil {
		return nil
	}
	if err := om.perfFile.write([]PerfStatsCSV{stats.ToCSV(windowEnd)}); err != nil {
		return fmt.Errorf("writing perf: %w", err)
	}
	return nil
}

// WriteFields dumps fields below fields/, suffixing each name with the step.
func (om *OutputManager) WriteFields(step int, fields map[string]dump.Field, compress bool) error {
	if om == nil {
		return nil
	}
	named := make(map[string]dump.Field, len(fields))
	for name, f := range fields {
		named[fmt.Sprintf("%s_%06d", name, step)] = f
	}
	return dump.WriteAll(filepath.Join(om.dir, "fields"), named, compress)
}

// WritePlots renders the window history as PNG charts.
func (om *OutputManager) WritePlots() error {
	if om == nil || len(om.history) == 0 {
		return nil
	}
	return WritePlots(om.dir, om.history)
}

// Path returns the path of name inside the output directory.
func (om *OutputManager) Path(name string) string {
	if om == nil {
		return name
	}
	return filepath.Join(om.dir, name)
}

// Dir returns the output directory path.
func (om *OutputManager) Dir() string {
	if om == nil {
		return ""
	}
	return om.dir
}

// Close closes all output files.
func (om *OutputManager) Close() error {
	if om == nil {
		return nil
	}
	var firstErr error
	for _, c := range []*csvFile{om.stepsFile, om.statsFile, om.perfFile} {
		if c == nil {
			continue
		}
		if err := c.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
