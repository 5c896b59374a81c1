package gates

import (
	"math"

	"github.com/sawpanic/gatekeeper/internal/numerics"
)

// Gate15 rejects on post-sizing impact exceeding the acceptable ceiling.
func Gate15(ctx Context, impactBpsEst float64) GateResult {
	if impactBpsEst > ctx.Cfg.MaxAcceptableImpactBps {
		return block(ReasonImpactHardBlock, map[string]any{"impact_bps_est": impactBpsEst})
	}
	return pass(map[string]any{"impact_bps_est": impactBpsEst})
}

// Gate16Outcome is the subset of the reservation ledger's possible outcomes
// relevant to the admission chain; the full ledger lives in
// internal/reservation.
type Gate16Outcome struct {
	Reserved bool
	Reason   RejectionReason
}

// Gate16 translates a reservation attempt outcome into a GateResult. The
// reservation coordinator itself executes outside this package (it performs
// I/O); this gate only interprets its verdict.
func Gate16(outcome Gate16Outcome) GateResult {
	if !outcome.Reserved {
		return block(outcome.Reason, nil)
	}
	return pass(nil)
}

// Gate17 verifies actual risk after lot rounding stayed within tolerance of
// the sized target.
func Gate17(riskPctActual, riskPctTarget, deviationThreshold float64) GateResult {
	dev := math.Abs(riskPctActual-riskPctTarget) / numerics.DenomSafeUnsigned(riskPctTarget, 1e-9)
	diag := map[string]any{"deviation": dev}
	if dev > deviationThreshold {
		return block(ReasonSizingNotConverged, diag)
	}
	return pass(diag)
}

// Gate18Decision reports whether a partially filled order should be
// abandoned, per spec.md §4.7's fill-abandonment economics.
type Gate18Decision struct {
	Abandon           bool
	ImpactRRemaining  float64
	AbandonThresholdR float64
}

// Gate18 computes the remaining-impact-vs-abandon-threshold comparison after
// a partial fill.
func Gate18(impactBps, fillFrac, unitRiskBps, netRR, fillAbandonmentRRFrac, minAbandonR, abandonThresholdMinBps float64) Gate18Decision {
	impactRRemaining := (impactBps * (1 - fillFrac)) / numerics.DenomSafeUnsigned(unitRiskBps, 1e-9)
	abandonThresholdR := math.Max(netRR*fillAbandonmentRRFrac, math.Max(minAbandonR, abandonThresholdMinBps/numerics.DenomSafeUnsigned(unitRiskBps, 1e-9)))
	return Gate18Decision{
		Abandon:           impactRRemaining > abandonThresholdR,
		ImpactRRemaining:  impactRRemaining,
		AbandonThresholdR: abandonThresholdR,
	}
}

// PassiveFadeTimeoutSec implements Gate 18's adaptive passive-fade timeout.
func PassiveFadeTimeoutSec(baseSec, atrZShort, minSec, maxSec float64) float64 {
	denom := atrZShort
	if denom < 1 {
		denom = 1
	}
	return numerics.Clip(baseSec/denom, minSec, maxSec)
}
