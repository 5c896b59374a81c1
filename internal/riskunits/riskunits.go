// Package riskunits converts between USD, percent-of-equity and R-units, and
// computes all-in effective entry/TP/SL prices so every downstream gate
// compares apples to apples regardless of notional size.
package riskunits

import (
	"fmt"
	"math"

	"github.com/sawpanic/gatekeeper/internal/numerics"
)

// Direction is a closed enum; every switch over Direction must be exhaustive.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// CostBps bundles the basis-point cost components used to build all-in
// effective prices, per spec.md §4.2.
type CostBps struct {
	Spread           float64
	SlippageEntry    float64
	SlippageTP       float64
	SlippageStop     float64
	ImpactEntry      float64
	ImpactExit       float64
	ImpactStop       float64
	FeeEntry         float64
	FeeExit          float64
	StopSlippageMult float64
}

// b converts a bps value to a fraction, per spec.md §4.2 "b(x)=x/10000".
func b(bps float64) float64 {
	return bps / 10000.0
}

// EffectivePrices holds the all-in entry/TP/SL prices and the derived unit
// risk, which is the authoritative risk-per-unit for every later gate.
type EffectivePrices struct {
	EntryEffAllin   float64
	TPEffAllin      float64
	SLEffAllin      float64
	UnitRiskAllinNet float64
}

// ComputeEffectivePrices implements spec.md §4.2: LONG adds costs to entry and
// subtracts from tp/sl; SHORT is symmetric. Costs at the stop leg are
// multiplied by StopSlippageMult to reflect worse execution under stress.
func ComputeEffectivePrices(dir Direction, entry, tp, sl float64, costs CostBps) (EffectivePrices, error) {
	entryCost := b(costs.Spread/2 + costs.SlippageEntry + costs.ImpactEntry + costs.FeeEntry)
	tpCost := b(costs.Spread/2 + costs.SlippageTP + costs.ImpactExit + costs.FeeExit)
	stopMult := costs.StopSlippageMult
	if stopMult <= 0 {
		stopMult = 1
	}
	slCost := b(costs.Spread/2 + costs.SlippageStop*stopMult + costs.ImpactStop + costs.FeeExit)

	var ep EffectivePrices
	switch dir {
	case Long:
		ep.EntryEffAllin = entry * (1 + entryCost)
		ep.TPEffAllin = tp * (1 - tpCost)
		ep.SLEffAllin = sl * (1 - slCost)
	case Short:
		ep.EntryEffAllin = entry * (1 - entryCost)
		ep.TPEffAllin = tp * (1 + tpCost)
		ep.SLEffAllin = sl * (1 + slCost)
	default:
		return EffectivePrices{}, fmt.Errorf("riskunits: unhandled direction %q", dir)
	}
	ep.UnitRiskAllinNet = math.Abs(ep.EntryEffAllin - ep.SLEffAllin)
	return ep, nil
}

// RoundTick applies spec.md §4.2's conservative tick-size rounding: LONG
// rounds entry up and tp/sl down; SHORT mirrors that so rounding never
// improves the trader's apparent edge.
func RoundTick(dir Direction, leg string, price, tickSize float64) float64 {
	if tickSize <= 0 {
		return price
	}
	steps := price / tickSize
	roundUp := math.Ceil(steps) * tickSize
	roundDown := math.Floor(steps) * tickSize

	roundsUp := (dir == Long && leg == "entry") || (dir == Short && (leg == "tp" || leg == "sl"))
	if roundsUp {
		return roundUp
	}
	return roundDown
}

// RToUSD converts an R-denominated PnL to USD given the risk amount.
func RToUSD(r, riskAmountUSD float64) float64 {
	return r * riskAmountUSD
}

// USDToR converts a USD PnL into R-units, protecting against a near-zero risk
// amount via DenomSafeSigned.
func USDToR(pnlUSD, riskAmountUSD, eps float64) float64 {
	return pnlUSD / numerics.DenomSafeSigned(riskAmountUSD, eps)
}

// RiskPctOfEquity converts a USD risk amount into a fraction of equity,
// guarding against a zero or negative equity reading.
func RiskPctOfEquity(riskAmountUSD, equityUSD, pnlEps float64) float64 {
	return riskAmountUSD / math.Max(equityUSD, pnlEps)
}

// UnitRiskBps expresses the unit risk as basis points of the reference entry
// price, used by every size-invariant gate before sizing.
func UnitRiskBps(unitRiskAllinNet, entryPriceRef, eps float64) float64 {
	return 10000 * unitRiskAllinNet / numerics.DenomSafeUnsigned(entryPriceRef, eps)
}
