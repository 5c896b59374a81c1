// Package dqs evaluates the Data Quality Score described in spec.md §4.5,
// grounded on sawpanic-cryptorun's internal/gates/entry.go GateCheck
// reporting shape (Name/Value/Threshold/Description/Passed), reused here per
// DQS sub-score so the evaluator reads exactly like a teacher-style gate
// report rather than a bag of floats.
package dqs

import (
	"fmt"

	"github.com/sawpanic/gatekeeper/internal/numerics"
)

// SourceReading is one critical/non-critical data source's staleness input.
type SourceReading struct {
	Name          string
	Weight        float64
	StalenessMS   float64
	HardStalenessMS float64
}

// Score returns clip(1 - staleness/staleness_hard, 0, 1), per spec.md §4.5.
func (s SourceReading) Score() float64 {
	if s.HardStalenessMS <= 0 {
		return 1
	}
	return numerics.Clip(1-s.StalenessMS/s.HardStalenessMS, 0, 1)
}

// Inputs bundles every field DQS needs, mirroring snapshot.DataQualityState
// plus the raw per-source readings used to build DQSSources.
type Inputs struct {
	Sources []SourceReading

	CriticalBucketScores    []float64 // price/volatility/orderbook staleness+integrity
	NoncriticalBucketScores []float64 // derivatives staleness + completeness

	AnyCriticalStalenessBeyondHard bool
	XDevBps                        float64
	XDevBlockBps                   float64
	CrossSourceStalenessValid      bool
	NaNOrInfInCriticalFields       bool
	SuspectedDataGlitch            bool
	StaleBookButFreshPrice         bool

	OracleDevFrac      float64
	OracleDevThreshold float64
	OracleStalenessMS  float64
	OracleHardMS       float64
	OracleAvailable    bool

	DQSSourcesMin float64
}

// Result is the full DQS evaluation output.
type Result struct {
	DQSSources    float64
	DQSCritical   float64
	DQSNoncritical float64
	DQS           float64
	DQSMult       float64
	HardGateTriggered bool
	HardGateReason    string
	SourceScores  map[string]float64
}

// DefaultWeightCritical is spec.md §6's dqs_weight_critical.
const DefaultWeightCritical = 0.75

// minFloat returns the minimum of a non-empty slice, or 1 if empty (no
// critical buckets configured is treated as "fully healthy" rather than
// dividing by zero).
func minFloat(xs []float64) float64 {
	if len(xs) == 0 {
		return 1
	}
	m := xs[0]
	for _, x := range xs[1:] {
		if x < m {
			m = x
		}
	}
	return m
}

func meanFloat(xs []float64) float64 {
	if len(xs) == 0 {
		return 1
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// Evaluate computes DQS per spec.md §4.5, applying every hard-gate that zeroes
// DQS outright before falling through to the weighted composite.
func Evaluate(in Inputs, weightCritical, dqsEmergencyThreshold, dqsDegradedThreshold float64) Result {
	sourceScores := make(map[string]float64, len(in.Sources))
	var weightedSum, weightSum float64
	for _, s := range in.Sources {
		sc := s.Score()
		sourceScores[s.Name] = sc
		weightedSum += s.Weight * sc
		weightSum += s.Weight
	}
	dqsSources := 1.0
	if weightSum > 0 {
		dqsSources = weightedSum / weightSum
	}

	dqsCritical := minFloat(in.CriticalBucketScores)
	dqsNoncritical := meanFloat(in.NoncriticalBucketScores)

	oracleBlock := in.OracleAvailable && in.OracleDevFrac >= in.OracleDevThreshold && in.OracleStalenessMS <= in.OracleHardMS

	hardGate, reason := false, ""
	switch {
	case in.AnyCriticalStalenessBeyondHard:
		hardGate, reason = true, "critical_staleness_beyond_hard"
	case in.XDevBps >= in.XDevBlockBps && in.CrossSourceStalenessValid:
		hardGate, reason = true, "xdev_block"
	case dqsSources < in.DQSSourcesMin:
		hardGate, reason = true, "dqs_sources_below_min"
	case in.NaNOrInfInCriticalFields:
		hardGate, reason = true, "nan_inf_critical_fields"
	case in.SuspectedDataGlitch:
		hardGate, reason = true, "suspected_data_glitch"
	case oracleBlock:
		hardGate, reason = true, "oracle_sanity_block"
	case in.StaleBookButFreshPrice:
		hardGate, reason = true, "stale_book_fresh_price"
	}

	dqs := weightCritical*dqsCritical + (1-weightCritical)*dqsNoncritical
	if hardGate {
		dqs = 0
	}

	dqsMult := dqsMultiplier(dqs, dqsEmergencyThreshold, dqsDegradedThreshold)

	return Result{
		DQSSources:        dqsSources,
		DQSCritical:       dqsCritical,
		DQSNoncritical:    dqsNoncritical,
		DQS:               dqs,
		DQSMult:           dqsMult,
		HardGateTriggered: hardGate,
		HardGateReason:    reason,
		SourceScores:      sourceScores,
	}
}

// dqsMultiplier linearly interpolates DQS between
// dqs_emergency_threshold (maps to 0) and dqs_degraded_threshold (maps to 1),
// per spec.md §4.5.
func dqsMultiplier(dqs, emergencyThreshold, degradedThreshold float64) float64 {
	if degradedThreshold <= emergencyThreshold {
		panic(fmt.Sprintf("dqs: degraded threshold %v must exceed emergency threshold %v", degradedThreshold, emergencyThreshold))
	}
	if dqs <= emergencyThreshold {
		return 0
	}
	if dqs >= degradedThreshold {
		return 1
	}
	return (dqs - emergencyThreshold) / (degradedThreshold - emergencyThreshold)
}
