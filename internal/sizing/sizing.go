// Package sizing implements the final sizing solver of spec.md §4.10: an
// analytical solve when the impact model is a simple power law, Newton-
// Raphson otherwise, and a damped fixed-point iteration as the robust
// fallback, plus feasibility caps and lot-step rounding. Grounded on
// spec.md §4.10 directly (the teacher repo sizes positions only via a
// composite-score-to-capital-weight lookup, not an inverse-impact solve);
// structured as pure functions in the style of the teacher's
// internal/domain/indicators package (stateless numeric transforms).
package sizing

import (
	"math"

	"github.com/sawpanic/gatekeeper/internal/numerics"
)

// ImpactModel estimates basis-point impact for a given quantity.
type ImpactModel func(qty float64) (impactBps float64)

// PowerLawParams describes impact_bps = a*qty^b, enabling the analytical
// solve branch.
type PowerLawParams struct {
	A, B float64
}

// Target bundles the sizing objective: find qty such that
// risk_pct_equity_actual(qty) == riskTargetForSizing.
type Target struct {
	RiskTargetForSizing float64
	UnitRiskAllinNet    float64
	EquityUSD           float64
	EntryPriceRef       float64
}

// RiskPctForQty computes risk_pct_equity_actual(qty) = qty*unitRisk/equity.
func (t Target) RiskPctForQty(qty float64) float64 {
	return qty * t.UnitRiskAllinNet / numerics.DenomSafeUnsigned(t.EquityUSD, 1e-9)
}

// QtyForRiskPctNoImpact inverts RiskPctForQty ignoring impact: the zeroth
// approximation used to seed every solver strategy.
func (t Target) QtyForRiskPctNoImpact(riskPct float64) float64 {
	return riskPct * t.EquityUSD / numerics.DenomSafeUnsigned(t.UnitRiskAllinNet, 1e-9)
}

// Result reports the solved quantity plus convergence diagnostics.
type Result struct {
	Qty         float64
	Iterations  int
	Converged   bool
	Strategy    string
	NotConverged bool
}

// SolveAnalytical handles the case where liquidityMult's impact model is the
// power law impact_bps = a*qty^b: since impact only discounts the achievable
// risk fraction multiplicatively here (via liquidityMult, applied upstream in
// REM), the unconstrained solve is a direct inversion.
func SolveAnalytical(t Target) Result {
	qty := t.QtyForRiskPctNoImpact(t.RiskTargetForSizing)
	return Result{Qty: qty, Iterations: 1, Converged: true, Strategy: "analytical"}
}

// SolveNewtonRaphson finds qty such that f(qty) = riskPctActual(qty) -
// target == 0, using F'(qty) with a derivative floor against stagnation.
func SolveNewtonRaphson(t Target, maxIters int, newtonDerivFloor, tol float64) Result {
	qty := t.QtyForRiskPctNoImpact(t.RiskTargetForSizing)
	f := func(q float64) float64 { return t.RiskPctForQty(q) - t.RiskTargetForSizing }
	fPrime := t.UnitRiskAllinNet / numerics.DenomSafeUnsigned(t.EquityUSD, 1e-9)

	for i := 0; i < maxIters; i++ {
		fv := f(qty)
		if math.Abs(fv) < tol {
			return Result{Qty: qty, Iterations: i + 1, Converged: true, Strategy: "newton_raphson"}
		}
		deriv := fPrime
		if math.Abs(deriv) < newtonDerivFloor {
			deriv = math.Copysign(newtonDerivFloor, deriv)
		}
		qty = qty - fv/deriv
		if qty < 0 {
			qty = 0
		}
	}
	return Result{Qty: qty, Iterations: maxIters, Converged: false, Strategy: "newton_raphson", NotConverged: true}
}

// SolveFixedPoint implements the damped fixed-point iteration of spec.md
// §4.10(c), with adaptive step halving on a sign change in delta-qty.
func SolveFixedPoint(t Target, impact ImpactModel, maxIters int, alpha0, alphaMin, tol float64) Result {
	qty := t.QtyForRiskPctNoImpact(t.RiskTargetForSizing)
	alpha := alpha0
	var prevDelta float64
	haveDelta := false

	for i := 0; i < maxIters; i++ {
		impactBps := 0.0
		if impact != nil {
			impactBps = impact(qty)
		}
		unitRiskEff := t.UnitRiskAllinNet * (1 + impactBps/10000)
		qtyHat := t.RiskTargetForSizing * t.EquityUSD / numerics.DenomSafeUnsigned(unitRiskEff, 1e-9)
		delta := qtyHat - qty

		if haveDelta && math.Signbit(delta) != math.Signbit(prevDelta) {
			alpha = math.Max(alpha/2, alphaMin)
		}
		haveDelta = true
		prevDelta = delta

		next := (1-alpha)*qty + alpha*qtyHat
		if math.Abs(next-qty) < tol {
			return Result{Qty: next, Iterations: i + 1, Converged: true, Strategy: "fixed_point"}
		}
		qty = next
	}
	return Result{Qty: qty, Iterations: maxIters, Converged: false, Strategy: "fixed_point", NotConverged: true}
}

// ApplyFeasibilityCaps implements Gate 13.5: scale the sizing target down
// when liquidity is too thin to converge, or impact is already too high.
func ApplyFeasibilityCaps(riskTarget, liquidityMult, impactBps, liquidityMinConvergenceThreshold, maxAcceptableImpactBps, lowLiquidityCapMult, highImpactCapMult float64) float64 {
	target := riskTarget
	if liquidityMult < liquidityMinConvergenceThreshold {
		target *= lowLiquidityCapMult
	}
	if impactBps > maxAcceptableImpactBps {
		target *= highImpactCapMult
	}
	return target
}

// NonConvergencePolicy picks the minimum qty across iterations that produced
// a finite, valid risk estimate and applies the non-converged risk cap.
func NonConvergencePolicy(candidateQtys []float64, riskCapMult float64) (qty float64, event bool) {
	if len(candidateQtys) == 0 {
		return 0, true
	}
	min := math.Inf(1)
	for _, q := range candidateQtys {
		if q < min && !math.IsNaN(q) && !math.IsInf(q, 0) {
			min = q
		}
	}
	if math.IsInf(min, 1) {
		return 0, true
	}
	return min * riskCapMult, true
}

// RoundLotStep implements conservative lot-step rounding: floor((amount +
// eps)/step)*step.
func RoundLotStep(amount, step, eps float64) float64 {
	if step <= 0 {
		return amount
	}
	steps := math.Floor((amount + eps) / step)
	return steps * step
}
