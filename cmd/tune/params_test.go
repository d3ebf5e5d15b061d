package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm-cable/lbmflow/config"
)

func TestParamVector_RoundTrip(t *testing.T) {
	pv := NewParamVector()
	def := pv.DefaultVector()
	got := pv.Denormalize(pv.Normalize(def))
	assert.InDeltaSlice(t, def, got, 1e-12)
}

func TestParamVector_Clamp(t *testing.T) {
	pv := NewParamVector()
	v := make([]float64, pv.Dim())
	for i := range v {
		v[i] = 10
	}
	v[0] = -1

	c := pv.Clamp(v)
	assert.Equal(t, pv.Specs[0].Min, c[0])
	for i := 1; i < pv.Dim(); i++ {
		assert.Equal(t, pv.Specs[i].Max, c[i])
	}
}

func TestParamVector_ApplyExtract(t *testing.T) {
	pv := NewParamVector()
	cfg, err := config.Defaults()
	require.NoError(t, err)

	want := []float64{0.1, 0.15, 0.7, 0.1, 0.05}
	pv.ApplyToConfig(cfg, want)
	assert.InDeltaSlice(t, want, pv.ExtractFromConfig(cfg), 1e-12)
	assert.NoError(t, cfg.Validate())
}

func TestParamVector_DefaultsMatchConfig(t *testing.T) {
	cfg, err := config.Defaults()
	require.NoError(t, err)
	pv := NewParamVector()
	assert.InDeltaSlice(t, pv.DefaultVector(), pv.ExtractFromConfig(cfg), 1e-12)
}

func TestParseSizes(t *testing.T) {
	sizes, err := parseSizes("16, 24,32")
	require.NoError(t, err)
	assert.Equal(t, []int{16, 24, 32}, sizes)

	_, err = parseSizes("16,x")
	assert.Error(t, err)
}

func TestComputeFitness(t *testing.T) {
	fe := NewFitnessEvaluator(NewParamVector(), 100, nil, nil)

	failed := fe.computeFitness(runResult{steps: 50, failed: true})
	assert.InDelta(t, 1.5*failurePenalty, failed, 1e-6)

	ok := fe.computeFitness(runResult{steps: 100, simTime: 2, wall: 1e9})
	assert.InDelta(t, 0.5, ok, 1e-12)

	assert.Less(t, ok, failed)
}
