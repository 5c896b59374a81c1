package sizing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sampleTarget() Target {
	return Target{
		RiskTargetForSizing: 0.005,
		UnitRiskAllinNet:    2.0,
		EquityUSD:           100000,
		EntryPriceRef:       50000,
	}
}

func TestQtyForRiskPctNoImpactInverse(t *testing.T) {
	tg := sampleTarget()
	qty := tg.QtyForRiskPctNoImpact(tg.RiskTargetForSizing)
	assert.InDelta(t, tg.RiskTargetForSizing, tg.RiskPctForQty(qty), 1e-9)
}

func TestSolveAnalytical(t *testing.T) {
	tg := sampleTarget()
	res := SolveAnalytical(tg)
	assert.True(t, res.Converged)
	assert.InDelta(t, tg.RiskTargetForSizing, tg.RiskPctForQty(res.Qty), 1e-9)
}

func TestSolveNewtonRaphsonConverges(t *testing.T) {
	tg := sampleTarget()
	res := SolveNewtonRaphson(tg, 50, 1e-9, 1e-12)
	assert.True(t, res.Converged)
	assert.InDelta(t, tg.RiskTargetForSizing, tg.RiskPctForQty(res.Qty), 1e-6)
}

func TestSolveFixedPointConverges(t *testing.T) {
	tg := sampleTarget()
	res := SolveFixedPoint(tg, func(qty float64) float64 { return 0 }, 50, 0.5, 0.01, 1e-9)
	assert.True(t, res.Converged)
}

func TestApplyFeasibilityCapsScalesDownOnLowLiquidity(t *testing.T) {
	got := ApplyFeasibilityCaps(0.01, 0.3, 10, 0.5, 25, 0.5, 1.0)
	assert.InDelta(t, 0.005, got, 1e-12)
}

func TestApplyFeasibilityCapsScalesDownOnHighImpact(t *testing.T) {
	got := ApplyFeasibilityCaps(0.01, 0.9, 30, 0.5, 25, 1.0, 0.4)
	assert.InDelta(t, 0.004, got, 1e-12)
}

func TestNonConvergencePolicyPicksMinAndCaps(t *testing.T) {
	qty, event := NonConvergencePolicy([]float64{1.2, 0.9, 1.5}, 0.5)
	assert.True(t, event)
	assert.InDelta(t, 0.45, qty, 1e-12)
}

func TestRoundLotStepFloors(t *testing.T) {
	assert.InDelta(t, 1.2, RoundLotStep(1.2499, 0.1, 1e-9), 1e-9)
}
