// Package compounding implements safe geometric equity growth and the
// variance-drag diagnostic that can trigger a DRP escalation, per spec.md §4.3.
package compounding

import (
	"math"

	"github.com/sawpanic/gatekeeper/internal/numerics"
)

// CompoundEquity computes log(E) = log(E0) + sum(safe_log_return(r_k)) and
// returns the resulting equity. It propagates the first domain violation
// encountered in the return series.
func CompoundEquity(e0 float64, returns []float64, switchThreshold, floorEps float64) (float64, error) {
	logE := math.Log(e0)
	for _, r := range returns {
		lr, err := numerics.SafeLogReturn(r, switchThreshold, floorEps)
		if err != nil {
			return 0, err
		}
		logE += lr
	}
	return math.Exp(logE), nil
}

// VarianceDragResult reports the per-trade and annualized variance drag.
type VarianceDragResult struct {
	PerTrade        float64
	Annualized      float64
	CriticalBreach  bool
}

// VarianceDrag computes mean(r) - (exp(mean(log(1+r))) - 1), annualizes it by
// tradesPerYear, and flags whether it exceeds
// criticalFrac * targetReturnAnnual — the signal that may escalate DRP to
// DEFENSIVE per spec.md §4.3.
func VarianceDrag(returns []float64, tradesPerYear, criticalFrac, targetReturnAnnual, switchThreshold, floorEps float64) (VarianceDragResult, error) {
	if len(returns) == 0 {
		return VarianceDragResult{}, nil
	}
	var sumR, sumLogR float64
	for _, r := range returns {
		sumR += r
		lr, err := numerics.SafeLogReturn(r, switchThreshold, floorEps)
		if err != nil {
			return VarianceDragResult{}, err
		}
		sumLogR += lr
	}
	n := float64(len(returns))
	meanR := sumR / n
	meanLogR := sumLogR / n
	perTrade := meanR - (math.Exp(meanLogR) - 1)
	annualized := perTrade * tradesPerYear

	return VarianceDragResult{
		PerTrade:       perTrade,
		Annualized:     annualized,
		CriticalBreach: annualized > criticalFrac*targetReturnAnnual,
	}, nil
}
