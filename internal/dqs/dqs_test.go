package dqs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func baseInputs() Inputs {
	return Inputs{
		Sources: []SourceReading{
			{Name: "binance", Weight: 1, StalenessMS: 100, HardStalenessMS: 2000},
			{Name: "okx", Weight: 1, StalenessMS: 200, HardStalenessMS: 2000},
		},
		CriticalBucketScores:    []float64{0.95, 0.9, 0.99},
		NoncriticalBucketScores: []float64{0.8, 0.85},
		XDevBps:                 5,
		XDevBlockBps:            50,
		CrossSourceStalenessValid: true,
		OracleDevFrac:           0.001,
		OracleDevThreshold:      0.02,
		OracleStalenessMS:       500,
		OracleHardMS:            5000,
		OracleAvailable:         true,
		DQSSourcesMin:           0.5,
	}
}

func TestSourceReadingScore(t *testing.T) {
	s := SourceReading{StalenessMS: 500, HardStalenessMS: 1000}
	assert.InDelta(t, 0.5, s.Score(), 1e-9)

	zero := SourceReading{StalenessMS: 100, HardStalenessMS: 0}
	assert.Equal(t, 1.0, zero.Score())
}

func TestEvaluateHealthyNoHardGate(t *testing.T) {
	res := Evaluate(baseInputs(), DefaultWeightCritical, 0.40, 0.70)
	assert.False(t, res.HardGateTriggered)
	assert.InDelta(t, 0.9, res.DQSCritical, 1e-9)
	assert.Greater(t, res.DQS, 0.0)
	assert.Equal(t, 1.0, res.DQSMult)
}

func TestEvaluateCriticalStalenessHardGate(t *testing.T) {
	in := baseInputs()
	in.AnyCriticalStalenessBeyondHard = true
	res := Evaluate(in, DefaultWeightCritical, 0.40, 0.70)
	assert.True(t, res.HardGateTriggered)
	assert.Equal(t, "critical_staleness_beyond_hard", res.HardGateReason)
	assert.Equal(t, 0.0, res.DQS)
	assert.Equal(t, 0.0, res.DQSMult)
}

func TestEvaluateXDevBlockHardGate(t *testing.T) {
	in := baseInputs()
	in.XDevBps = 60
	res := Evaluate(in, DefaultWeightCritical, 0.40, 0.70)
	assert.True(t, res.HardGateTriggered)
	assert.Equal(t, "xdev_block", res.HardGateReason)
}

func TestEvaluateSourcesBelowMinHardGate(t *testing.T) {
	in := baseInputs()
	in.Sources = []SourceReading{
		{Name: "binance", Weight: 1, StalenessMS: 1900, HardStalenessMS: 2000},
	}
	res := Evaluate(in, DefaultWeightCritical, 0.40, 0.70)
	assert.True(t, res.HardGateTriggered)
	assert.Equal(t, "dqs_sources_below_min", res.HardGateReason)
}

func TestEvaluateOracleSanityBlock(t *testing.T) {
	in := baseInputs()
	in.OracleDevFrac = 0.05
	res := Evaluate(in, DefaultWeightCritical, 0.40, 0.70)
	assert.True(t, res.HardGateTriggered)
	assert.Equal(t, "oracle_sanity_block", res.HardGateReason)
}

func TestDQSMultiplierInterpolation(t *testing.T) {
	assert.Equal(t, 0.0, dqsMultiplier(0.40, 0.40, 0.70))
	assert.Equal(t, 1.0, dqsMultiplier(0.70, 0.40, 0.70))
	assert.InDelta(t, 0.5, dqsMultiplier(0.55, 0.40, 0.70), 1e-9)
	assert.Equal(t, 0.0, dqsMultiplier(0.1, 0.40, 0.70))
}

func TestDQSMultiplierPanicsOnBadThresholds(t *testing.T) {
	assert.Panics(t, func() { dqsMultiplier(0.5, 0.7, 0.4) })
}
