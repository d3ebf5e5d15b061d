package main

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/pthm-cable/lbmflow/config"
	"github.com/pthm-cable/lbmflow/runner"
	"github.com/pthm-cable/lbmflow/telemetry"
)

// Penalties for runs that do not reach the target time.
const (
	failurePenalty = 1e6
	driftWeight    = 100.0
)

// FitnessEvaluator runs headless simulations and computes fitness.
type FitnessEvaluator struct {
	params     *ParamVector
	maxSteps   int
	sizes      []int
	baseConfig *config.Config

	mu          sync.Mutex
	lastDrift   float64 // worst mass drift of the most recent Evaluate call
	lastFailure bool
}

// NewFitnessEvaluator creates an evaluator that runs each parameter vector
// at every finest-level grid size in sizes.
func NewFitnessEvaluator(params *ParamVector, maxSteps int, sizes []int, baseCfg *config.Config) *FitnessEvaluator {
	return &FitnessEvaluator{
		params:     params,
		maxSteps:   maxSteps,
		sizes:      sizes,
		baseConfig: baseCfg,
	}
}

// LastDrift returns the worst relative mass drift of the most recent
// evaluation and whether any run failed.
func (fe *FitnessEvaluator) LastDrift() (float64, bool) {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.lastDrift, fe.lastFailure
}

// runResult holds the results from a single simulation run.
type runResult struct {
	steps       int
	simTime     float64
	wall        time.Duration
	windowStats []telemetry.WindowStats // collected via StatsCallback each window
	failed      bool
}

// Evaluate computes fitness for a parameter vector (lower = better): wall
// time per simulated second, inflated by mass drift. Unstable or failing
// runs score a penalty that shrinks with the number of steps survived.
func (fe *FitnessEvaluator) Evaluate(x []float64) float64 {
	results := make([]runResult, len(fe.sizes))
	var wg sync.WaitGroup
	for i, n := range fe.sizes {
		wg.Add(1)
		go func(idx, size int) {
			defer wg.Done()
			cfg := fe.copyConfig()
			fe.params.ApplyToConfig(cfg, x)
			cfg.Domain.SizeX, cfg.Domain.SizeY, cfg.Domain.SizeZ = size, size, size
			cfg.ComputeDerived()
			results[idx] = fe.runSimulation(cfg)
		}(i, n)
	}
	wg.Wait()

	var total, worstDrift float64
	failed := false
	for _, r := range results {
		total += fe.computeFitness(r)
		worstDrift = math.Max(worstDrift, maxDrift(r.windowStats))
		failed = failed || r.failed
	}

	fe.mu.Lock()
	fe.lastDrift = worstDrift
	fe.lastFailure = failed
	fe.mu.Unlock()
	return total / float64(len(results))
}

func (fe *FitnessEvaluator) copyConfig() *config.Config {
	c := *fe.baseConfig
	return &c
}

func (fe *FitnessEvaluator) runSimulation(cfg *config.Config) runResult {
	var res runResult
	r, err := runner.New(cfg, runner.Options{
		StopOnPanic:   true,
		StatsCallback: func(ws telemetry.WindowStats) { res.windowStats = append(res.windowStats, ws) },
	})
	if err != nil {
		res.failed = true
		return res
	}
	start := time.Now()
	if err := r.Run(context.Background(), fe.maxSteps); err != nil {
		res.failed = true
	}
	res.wall = time.Since(start)
	res.steps = r.Steps()
	res.simTime = r.Solver().SimTime()
	r.Close()
	return res
}

func (fe *FitnessEvaluator) computeFitness(r runResult) float64 {
	if r.failed || r.simTime <= 0 {
		survived := float64(r.steps) / float64(fe.maxSteps)
		return failurePenalty * (2 - survived)
	}
	cost := r.wall.Seconds() / r.simTime
	return cost * (1 + driftWeight*maxDrift(r.windowStats))
}

func maxDrift(windows []telemetry.WindowStats) float64 {
	var d float64
	for _, ws := range windows {
		d = math.Max(d, math.Abs(ws.MassDrift))
	}
	return d
}
