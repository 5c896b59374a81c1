package gates

import (
	"math"

	"github.com/sawpanic/gatekeeper/internal/drp"
	"github.com/sawpanic/gatekeeper/internal/numerics"
	"github.com/sawpanic/gatekeeper/internal/riskunits"
	"github.com/sawpanic/gatekeeper/internal/snapshot"
)

// Gate0 runs DQS, applies the resulting hard-gate outcome, and reports the
// dqs_mult risk multiplier propagated to later gates.
func Gate0(ctx Context) GateResult {
	diag := map[string]any{"dqs": ctx.DQSResult.DQS, "dqs_mult": ctx.DQSResult.DQSMult}
	if ctx.DQSResult.HardGateTriggered {
		reason := ReasonDQSHardGateBlock
		switch ctx.DQSResult.HardGateReason {
		case "oracle_sanity_block":
			reason = ReasonOracleSanityBlock
		case "stale_book_fresh_price":
			reason = ReasonStaleBookGlitchBlock
		}
		diag["hard_gate_reason"] = ctx.DQSResult.HardGateReason
		return block(reason, diag)
	}
	switch ctx.DRPState {
	case drp.Emergency, drp.Hibernate:
		return block(ReasonDQSHardGateBlock, diag)
	case drp.Recovery:
		if ctx.Portfolio.WarmupBarsRemaining > 0 {
			return block(ReasonDQSHardGateBlock, diag)
		}
	}
	r := pass(diag)
	r.RiskMult = ctx.DQSResult.DQSMult
	return r
}

// Gate1 enforces manual halts, trading mode, and the SHADOW-mode carve-out.
func Gate1(ctx Context) GateResult {
	p := ctx.Portfolio
	if p.ManualHaltAllTrading {
		return block(ReasonManualHaltBlock, nil)
	}
	if p.ManualHaltNewEntries {
		return block(ReasonManualHaltBlock, nil)
	}
	if p.TradingMode != snapshot.TradingModeLive && p.TradingMode != snapshot.TradingModeShadow {
		return block(ReasonTradingModeBlock, nil)
	}
	r := pass(map[string]any{"trading_mode": string(p.TradingMode)})
	return r
}

// Gate2 resolves the final regime via the Gate 2 decision table and applies
// the probe-trade carve-out.
func Gate2(ctx Context) GateResult {
	regime, _ := ResolveRegime(ctx.MRCRegime, ctx.BaselineRegime, ctx.MRCConfidence, ctx.Cfg.MRCVeryHighConfThreshold)
	diag := map[string]any{"final_regime": string(regime)}
	noiseForRangeEngine := ctx.MRCRegime == snapshot.RegimeNoise && ctx.Signal.Engine == snapshot.EngineRange
	if regime == ResolvedNoTrade && !noiseForRangeEngine {
		return block(ReasonMRCConflictBlock, diag)
	}
	r := pass(diag)
	probe := ctx.MRCConfidence >= ctx.Cfg.MRCVeryHighConfThreshold &&
		ctx.DQSResult.DQS >= ctx.Cfg.DQSDegradedThreshold &&
		ctx.Market.Liquidity.BidDepthUSD >= ctx.Cfg.ProbeMinDepthUSD &&
		ctx.Market.Liquidity.AskDepthUSD >= ctx.Cfg.ProbeMinDepthUSD &&
		ctx.Market.Liquidity.SpreadBps <= ctx.Cfg.ProbeMaxSpreadBps &&
		ctx.MLE != nil && (ctx.MLE.Decision == snapshot.MLENormal || ctx.MLE.Decision == snapshot.MLEStrong)
	if probe {
		r.RiskMult = ctx.Cfg.ProbeRiskMult
		diag["probe"] = true
	}
	return r
}

// Gate3 checks strategy/regime compatibility (Gate 3).
func Gate3(ctx Context, regime ResolvedRegime, mrcWasNoise bool) GateResult {
	ok := EngineCompatible(ctx.Signal.Engine, regime, mrcWasNoise, mleDecisionOf(ctx.MLE), ctx.Market.Volatility.ATRZShort, ctx.Cfg.NoiseRangeATRZCap)
	if !ok {
		return block(ReasonRegimeIncompatibleBlock, map[string]any{"engine": string(ctx.Signal.Engine), "regime": string(regime)})
	}
	return pass(nil)
}

func mleDecisionOf(m *snapshot.MLEOutput) snapshot.MLEDecision {
	if m == nil {
		return snapshot.MLEReject
	}
	return m.Decision
}

// Gate4 checks signal sanity: level monotonicity, SL distance bounds,
// holding-period bounds, and raw RR floor.
func Gate4(ctx Context) GateResult {
	if err := ctx.Signal.Validate(); err != nil {
		return block(ReasonSignalSanityBlock, map[string]any{"error": err.Error()})
	}
	lv := ctx.Signal.Levels
	atr := ctx.Market.Volatility.ATR
	slDist := math.Abs(lv.EntryPrice - lv.StopLoss)
	c := ctx.Signal.Constraints
	if atr > 0 {
		if slDist < c.SLMinATRMult*atr || slDist > c.SLMaxATRMult*atr {
			return block(ReasonSignalSanityBlock, map[string]any{"sl_dist": slDist, "atr": atr})
		}
	}
	h := ctx.Signal.Context.ExpectedHoldingHours
	if h <= 0 || math.IsNaN(h) || math.IsInf(h, 0) {
		return block(ReasonSignalSanityBlock, map[string]any{"expected_holding_hours": h})
	}
	reward := math.Abs(lv.TakeProfit - lv.EntryPrice)
	rawRR := numerics.DenomSafeUnsigned(reward, 0) / numerics.DenomSafeUnsigned(slDist, 1e-12)
	if rawRR < c.RRMinEngine {
		return block(ReasonSignalSanityBlock, map[string]any{"raw_rr": rawRR, "rr_min": c.RRMinEngine})
	}
	return pass(map[string]any{"raw_rr": rawRR})
}

// Gate5Result carries the size-invariant precomputation Gate 5 produces,
// which every later gate consumes instead of recomputing effective prices.
type Gate5Result struct {
	GateResult
	EffPrices         riskunits.EffectivePrices
	UnitRiskBps       float64
	EntryCostBps      float64
	ExpectedCostRPre  float64
}

// Gate5 computes all-in effective prices and rejects signals whose unit risk
// is too small to size sensibly.
func Gate5(ctx Context, dir riskunits.Direction, slExitCostBps, entryCostBps float64) Gate5Result {
	lv := ctx.Signal.Levels
	eff, err := riskunits.ComputeEffectivePrices(dir, lv.EntryPrice, lv.TakeProfit, lv.StopLoss, ctx.CostBps)
	if err != nil {
		return Gate5Result{GateResult: block(ReasonSignalSanityBlock, map[string]any{"error": err.Error()})}
	}
	unitRiskBps := riskunits.UnitRiskBps(eff.UnitRiskAllinNet, lv.EntryPrice, 1e-9)

	if eff.UnitRiskAllinNet < ctx.Cfg.UnitRiskMinAbs {
		return Gate5Result{GateResult: block(ReasonUnitRiskTooSmallBlock, map[string]any{"unit_risk_allin_net": eff.UnitRiskAllinNet})}
	}
	atr := ctx.Market.Volatility.ATR
	if atr > 0 && eff.UnitRiskAllinNet < ctx.Cfg.UnitRiskMinATRMult*atr {
		return Gate5Result{GateResult: block(ReasonUnitRiskBelowMinATRBlock, map[string]any{"unit_risk_allin_net": eff.UnitRiskAllinNet, "atr": atr})}
	}

	expectedCostRPre := numerics.DenomSafeUnsigned(entryCostBps+slExitCostBps, 0) / numerics.DenomSafeUnsigned(unitRiskBps, 1e-9)

	return Gate5Result{
		GateResult:       pass(map[string]any{"unit_risk_bps": unitRiskBps}),
		EffPrices:        eff,
		UnitRiskBps:      unitRiskBps,
		EntryCostBps:     entryCostBps,
		ExpectedCostRPre: expectedCostRPre,
	}
}

// MLEParams bundles the numbers Gate 6 needs beyond the MLEOutput itself.
type MLEParams struct {
	E1, E2                float64 // WEAK/NORMAL/STRONG decision thresholds
	PNeutralCutoff        float64
	EVNearZeroBand        float64
	NetEdgeFloorR         float64
	BetaBase              float64
	TailDependenceAlpha   float64
	LambdaUsed            float64
	BetaMin, BetaMax      float64
	TPExitCostBps         float64
	SLExitCostBps         float64
	FundingCostR          float64
}

// Gate6Result carries Gate 6's size-invariant price-edge outcome.
type Gate6Result struct {
	GateResult
	EVRPrice             float64
	Decision              snapshot.MLEDecision
	ExpectedCostRPostMLE  float64
}

// Gate6 computes EV_R_price from first principles if ctx.MLE is absent (pure
// price-edge evaluation), else consumes the precomputed MLEOutput fields, and
// applies the decision thresholds and near-zero/net-edge rejections.
func Gate6(ctx Context, eff riskunits.EffectivePrices, dir riskunits.Direction, p MLEParams) Gate6Result {
	var pSuccess, pNeutral, pFail, muSuccessR float64
	if ctx.MLE != nil {
		pSuccess, pNeutral, pFail = ctx.MLE.PSuccess, ctx.MLE.PNeutral, ctx.MLE.PFail
	} else {
		pSuccess, pNeutral, pFail = 1, 0, 0
	}
	lv := ctx.Signal.Levels
	muSuccessR = numerics.DenomSafeUnsigned(math.Abs(lv.TakeProfit-lv.EntryPrice), 0) / numerics.DenomSafeUnsigned(eff.UnitRiskAllinNet, 1e-9)
	muFailR := -1.0

	beta := numerics.Clip(p.BetaBase*p.TailDependenceAlpha/numerics.DenomSafeUnsigned(p.LambdaUsed, 1e-9), p.BetaMin, p.BetaMax)
	cvarFailR := muFailR * (1 + beta) // tail-weighted worsening of the -1R floor

	evRPrice := pSuccess*muSuccessR + pNeutral*0 + pFail*math.Min(muFailR, cvarFailR)

	var decision snapshot.MLEDecision
	switch {
	case evRPrice <= 0:
		decision = snapshot.MLEReject
	case evRPrice < p.E1:
		decision = snapshot.MLEWeak
	case evRPrice < p.E2:
		decision = snapshot.MLENormal
	default:
		decision = snapshot.MLEStrong
	}

	if pNeutral >= p.PNeutralCutoff && math.Abs(evRPrice) < p.EVNearZeroBand {
		decision = snapshot.MLEReject
	}

	unitRiskBps := riskunits.UnitRiskBps(eff.UnitRiskAllinNet, lv.EntryPrice, 1e-9)
	expectedCostRPostMLE := (ctx.CostEntryBps() + pSuccess*p.TPExitCostBps + pFail*p.SLExitCostBps) / numerics.DenomSafeUnsigned(unitRiskBps, 1e-9)

	if decision == snapshot.MLEReject {
		return Gate6Result{GateResult: block(ReasonMLEReject, map[string]any{"ev_r_price": evRPrice}), EVRPrice: evRPrice, Decision: decision, ExpectedCostRPostMLE: expectedCostRPostMLE}
	}

	riskMult := map[snapshot.MLEDecision]float64{snapshot.MLEWeak: 0.5, snapshot.MLENormal: 1.0, snapshot.MLEStrong: 1.25}[decision]

	netEdge := evRPrice - expectedCostRPostMLE - p.FundingCostR
	if netEdge < p.NetEdgeFloorR {
		return Gate6Result{GateResult: block(ReasonNetEdgeBelowFloor, map[string]any{"net_edge": netEdge}), EVRPrice: evRPrice, Decision: decision, ExpectedCostRPostMLE: expectedCostRPostMLE}
	}

	r := pass(map[string]any{"ev_r_price": evRPrice, "decision": string(decision)})
	r.RiskMult = riskMult
	return Gate6Result{GateResult: r, EVRPrice: evRPrice, Decision: decision, ExpectedCostRPostMLE: expectedCostRPostMLE}
}

// CostEntryBps is a seam for the entry-side all-in cost used by Gate 6's
// post-MLE cost reconstruction; it reads from the CostBps fields carried on
// Context rather than recomputing them.
func (c Context) CostEntryBps() float64 {
	return c.CostBps.Spread/2 + c.CostBps.SlippageEntry + c.CostBps.ImpactEntry + c.CostBps.FeeEntry
}
