package gates

import (
	"math"

	"github.com/sawpanic/gatekeeper/internal/corrmatrix"
	"github.com/sawpanic/gatekeeper/internal/drp"
	"github.com/sawpanic/gatekeeper/internal/numerics"
	"github.com/sawpanic/gatekeeper/internal/snapshot"
)

// Gate7Result carries the liquidity-derived multiplier used by Gate 13 step 11.
type Gate7Result struct {
	GateResult
	LiquidityMult float64
	OBI           float64
}

// Gate7 implements the hard/soft liquidity checks of spec.md §4.7.
func Gate7(ctx Context, notionalUSD, impactSoftBps, impactHardBps float64) Gate7Result {
	liq := ctx.Market.Liquidity
	c := ctx.Cfg
	switch {
	case liq.BidDepthUSD < c.BidDepthMinUSD:
		return Gate7Result{GateResult: block(ReasonLiquidityHardBlock, map[string]any{"bid_depth_usd": liq.BidDepthUSD})}
	case liq.AskDepthUSD < c.AskDepthMinUSD:
		return Gate7Result{GateResult: block(ReasonLiquidityHardBlock, map[string]any{"ask_depth_usd": liq.AskDepthUSD})}
	case liq.SpreadBps > c.SpreadMaxHardBps:
		return Gate7Result{GateResult: block(ReasonLiquidityHardBlock, map[string]any{"spread_bps": liq.SpreadBps})}
	case liq.Volume24hUSD < c.Volume24hMinUSD:
		return Gate7Result{GateResult: block(ReasonLiquidityHardBlock, map[string]any{"volume_24h_usd": liq.Volume24hUSD})}
	case liq.DepthVolatilityCV > c.DepthVolatilityCVCap:
		return Gate7Result{GateResult: block(ReasonSpoofingSuspectedBlock, map[string]any{"depth_volatility_cv": liq.DepthVolatilityCV})}
	}

	spreadMult := numerics.Clip((c.SpreadMaxHardBps-liq.SpreadBps)/numerics.DenomSafeUnsigned(c.SpreadMaxHardBps-c.SpreadSoftBps, 1e-9), 0, 1)

	avgDepth := (liq.BidDepthUSD + liq.AskDepthUSD) / 2
	impactBpsEst := liq.ImpactBpsEst
	if impactBpsEst == 0 && avgDepth > 0 {
		impactBpsEst = c.ImpactK * math.Pow(notionalUSD/avgDepth, c.ImpactPow) * 10000
	}
	impactMult := numerics.Clip((impactHardBps-impactBpsEst)/numerics.DenomSafeUnsigned(impactHardBps-impactSoftBps, 1e-9), 0, 1)

	liquidityMult := math.Min(spreadMult, impactMult)
	obi := numerics.DenomSafeSigned(liq.BidDepthUSD-liq.AskDepthUSD, 1e-9) / numerics.DenomSafeUnsigned(liq.BidDepthUSD+liq.AskDepthUSD, 1e-9)

	r := pass(map[string]any{"liquidity_mult": liquidityMult, "impact_bps_est": impactBpsEst, "obi": obi})
	return Gate7Result{GateResult: r, LiquidityMult: liquidityMult, OBI: obi}
}

// Gate8 detects price jumps, spikes, and stale-book-but-fresh-price, feeding
// DRP a glitch severity.
func Gate8(ctx Context, pPrev float64, recentPrices []float64) GateResult {
	c := ctx.Cfg
	pNow := ctx.Market.Price.Last
	if pPrev > 0 {
		jump := math.Abs(pNow-pPrev) / pPrev
		if jump > c.GapPriceJumpHard {
			return block(ReasonGapGlitchBlock, map[string]any{"price_jump_frac": jump, "severity": "HIGH"})
		}
		if jump > c.GapPriceJumpThreshold {
			return pass(map[string]any{"price_jump_frac": jump, "suspected_data_glitch": true, "severity": "MEDIUM"})
		}
	}
	if len(recentPrices) >= 5 {
		mean, std := meanStd(recentPrices)
		if std > 0 {
			z := math.Abs(pNow-mean) / std
			if z > c.GapSpikeZThreshold {
				return pass(map[string]any{"spike_z": z, "suspected_data_glitch": true, "severity": "MEDIUM"})
			}
		}
	}
	liq := ctx.Market.Liquidity
	if liq.OrderbookStalenessMS > c.StaleBookAgeMsThreshold && pNow > 0 {
		return block(ReasonStaleBookGlitchBlock, map[string]any{"orderbook_staleness_ms": liq.OrderbookStalenessMS, "severity": "LOW"})
	}
	return pass(nil)
}

func meanStd(xs []float64) (mean, std float64) {
	n := float64(len(xs))
	for _, x := range xs {
		mean += x
	}
	mean /= n
	for _, x := range xs {
		std += (x - mean) * (x - mean)
	}
	std = math.Sqrt(std / n)
	return
}

// Gate9Result carries the funding-filter outcome consumed by Gate 13 step 8.
type Gate9Result struct {
	GateResult
	FundingRiskMult     float64
	FundingProximityMult float64
	FundingCostR        float64
	NetYieldR           float64
}

// Gate9 implements the funding filter / proximity / blackout checks.
func Gate9(ctx Context, dir snapshot.Direction, evRPrice, expectedCostRUsed, fundingBonusR float64, holdingHours float64) Gate9Result {
	c := ctx.Cfg
	d := ctx.Market.Derivatives
	sign := 1.0
	if dir == snapshot.DirShort {
		sign = -1.0
	}

	periodH := d.FundingPeriodHours
	if periodH <= 0 {
		periodH = 8
	}
	tNextH := d.TimeToNextFundingS / 3600.0
	var nEventsRaw float64
	if holdingHours < tNextH {
		nEventsRaw = 0
	} else {
		nEventsRaw = 1 + math.Floor((holdingHours-tNextH)/periodH)
	}
	fundingPnLFrac := -sign * d.FundingRateCurrent * nEventsRaw

	unitRiskMinForFunding := c.UnitRiskMinForFunding
	fundingR := fundingPnLFrac * ctx.Signal.Levels.EntryPrice / numerics.DenomSafeUnsigned(ctx.EffPricesUnitRisk(), math.Max(unitRiskMinForFunding, 1e-12))
	fundingCostR := math.Max(0, -fundingR)
	fundingBonusRUsed := 0.0
	if c.FundingCreditAllowed {
		fundingBonusRUsed = fundingBonusR
	}

	netYieldR := evRPrice - expectedCostRUsed - fundingCostR + fundingBonusRUsed

	if fundingCostR >= c.FundingCostBlockR {
		return Gate9Result{GateResult: block(ReasonFundingCostBlock, map[string]any{"funding_cost_r": fundingCostR})}
	}
	if netYieldR < c.MinNetYieldR {
		return Gate9Result{GateResult: block(ReasonFundingNetYieldBlock, map[string]any{"net_yield_r": netYieldR})}
	}
	if ctx.EffPricesUnitRisk() < unitRiskMinForFunding {
		return Gate9Result{GateResult: block(ReasonFundingNetYieldBlock, map[string]any{"unit_risk_allin_net": ctx.EffPricesUnitRisk()})}
	}

	tau := numerics.Clip((c.FundingProximitySoftSec-d.TimeToNextFundingS)/numerics.DenomSafeUnsigned(c.FundingProximitySoftSec-c.FundingProximityHardSec, 1e-9), 0, 1)
	proximityMult := 1 - (1-c.FundingProximityMultMin)*math.Pow(tau, c.FundingProximityPower)

	blackoutSec := c.FundingBlackoutMinutes * 60
	if d.TimeToNextFundingS <= blackoutSec+1e-9 &&
		fundingCostR > 0 &&
		holdingHours <= c.FundingBlackoutMaxHoldingHours &&
		fundingCostR/math.Max(evRPrice, 1e-9) >= c.FundingBlackoutCostShareThresh {
		return Gate9Result{GateResult: block(ReasonFundingBlackoutBlock, map[string]any{"funding_cost_r": fundingCostR})}
	}

	r := pass(map[string]any{"funding_cost_r": fundingCostR, "net_yield_r": netYieldR, "proximity_mult": proximityMult})
	return Gate9Result{GateResult: r, FundingRiskMult: 1.0, FundingProximityMult: proximityMult, FundingCostR: fundingCostR, NetYieldR: netYieldR}
}

// EffPricesUnitRisk is a seam Gate9/others use to read the Gate-5-computed
// unit risk carried alongside Context during chain evaluation.
func (c Context) EffPricesUnitRisk() float64 {
	return c.unitRiskAllinNet
}

// Gate10Result records both candidate interpretations of Gate 10 so
// diagnostics always show the path not taken, per the Open Question
// resolution to compute both rather than pick one statically.
type Gate10Result struct {
	GateResult
	BasisRiskMult          float64
	CorrelationExposureMult float64
	ActiveInterpretation    string
}

// Gate10 evaluates both basis-risk and correlation/exposure-conflict
// interpretations and blocks on whichever fires first; the non-blocking
// multiplier still feeds diagnostics.
func Gate10(ctx Context, basisZ, basisVolZ, exposureFrac float64) Gate10Result {
	c := ctx.Cfg
	levelMult := smoothStep(math.Abs(basisZ), c.BasisZSoft, c.BasisZHard)
	volMult := smoothStep(math.Abs(basisVolZ), c.BasisVolZSoft, c.BasisVolZHard)
	eventMult := 1.0
	if ctx.Market.Derivatives.TimeToNextFundingS < 600 {
		eventMult = 0.5
	}
	basisRiskMult := math.Min(levelMult, math.Min(volMult, eventMult))

	exposureMult := smoothStep(exposureFrac, c.ExposureSoftCap, c.ExposureHardCap)

	diag := map[string]any{"basis_risk_mult": basisRiskMult, "correlation_exposure_mult": exposureMult}

	if math.Abs(basisZ) >= c.BasisZHard || math.Abs(basisVolZ) >= c.BasisVolZHard {
		return Gate10Result{GateResult: block(ReasonBasisLevelBlock, diag), BasisRiskMult: basisRiskMult, CorrelationExposureMult: exposureMult, ActiveInterpretation: "basis_risk"}
	}
	if exposureFrac >= c.ExposureHardCap {
		return Gate10Result{GateResult: block(ReasonCorrelationExposureBlock, diag), BasisRiskMult: basisRiskMult, CorrelationExposureMult: exposureMult, ActiveInterpretation: "correlation_exposure"}
	}
	r := pass(diag)
	return Gate10Result{GateResult: r, BasisRiskMult: basisRiskMult, CorrelationExposureMult: exposureMult, ActiveInterpretation: "none"}
}

// smoothStep returns 1 below soft, 0 above hard, linear clipped between.
func smoothStep(v, soft, hard float64) float64 {
	if hard <= soft {
		return 1
	}
	return numerics.Clip((hard-v)/(hard-soft), 0, 1)
}

// Gate11 checks net RR against the engine floor using all-in prices.
func Gate11(ctx Context, eff FxEffPrices, rrMinEngine float64, probe bool) GateResult {
	netReward := math.Abs(eff.TPEffAllin - eff.EntryEffAllin)
	netRisk := math.Abs(eff.EntryEffAllin - eff.SLEffAllin)
	netRR := netReward / numerics.DenomSafeUnsigned(netRisk, ctx.Cfg.NetRREpsPrice)
	floor := rrMinEngine
	if probe {
		floor += ctx.Cfg.RRMinProbeAdd
	}
	if netRR < floor {
		return block(ReasonNetRRBelowMin, map[string]any{"net_rr": netRR, "floor": floor})
	}
	return pass(map[string]any{"net_rr": netRR})
}

// FxEffPrices is a narrow alias avoiding an import cycle in Gate11's callers
// (equal in shape to riskunits.EffectivePrices).
type FxEffPrices struct {
	EntryEffAllin, TPEffAllin, SLEffAllin, UnitRiskAllinNet float64
}

// Gate12Params bundles the single-position and portfolio stress-gap inputs.
type Gate12Params struct {
	HV30, HV30Ref                  float64
	RiskPctUpperBound              float64
	EstimatedLiquidationDistFrac   float64
	StressMatrix                   corrmatrix.Matrix
	SignedRiskVector               []float64
	LambdaUsed                     float64
}

// Gate12 implements the single-position bankruptcy-gap and leverage-buffer
// checks plus the portfolio stress-gap quadratic form.
func Gate12(ctx Context, eff FxEffPrices, dir snapshot.Direction, p Gate12Params) GateResult {
	c := ctx.Cfg
	hv30Z := p.HV30 / numerics.DenomSafeUnsigned(p.HV30Ref, 1e-9)
	gapFrac := numerics.Clip(c.GapFracBase*(1+c.GapHVSensitivity*numerics.Clip(hv30Z-1, 0, c.GapHVZCap)), c.GapFracMin, c.GapFracMax)

	sl := ctx.Signal.Levels.StopLoss
	var slGapPrice float64
	if dir == snapshot.DirLong {
		slGapPrice = sl * (1 - gapFrac)
	} else {
		slGapPrice = sl * (1 + gapFrac)
	}
	gapMult := math.Abs(eff.EntryEffAllin-slGapPrice) / numerics.DenomSafeUnsigned(eff.UnitRiskAllinNet, c.GapUnitRiskEps)

	if p.RiskPctUpperBound*gapMult > c.MaxGapLossPctEquity {
		return block(ReasonBankruptcyGapBlockSingle, map[string]any{"gap_mult": gapMult})
	}
	if p.EstimatedLiquidationDistFrac < c.LiqBufferFrac {
		return block(ReasonLiquidationBufferBlock, map[string]any{"liq_dist_frac": p.EstimatedLiquidationDistFrac})
	}

	if len(p.SignedRiskVector) > 0 && p.StressMatrix.N == len(p.SignedRiskVector) {
		stress := p.StressMatrix
		if p.LambdaUsed >= c.StressGapLambdaUnityThreshold {
			stress = allOffDiagonalOnes(stress)
			stress = corrmatrix.RegularizeIfNeeded(stress, -1, c.PSDEigFloor, c.DiagEps)
		}
		gtcg := quadForm(p.SignedRiskVector, stress)
		portfolioGapLoss := math.Sqrt(math.Max(gtcg, 0))
		if portfolioGapLoss > c.PortfolioMaxGapLossPctEquity {
			return block(ReasonBankruptcyPortfolioStress, map[string]any{"portfolio_gap_loss": portfolioGapLoss})
		}
	}

	return pass(map[string]any{"gap_mult": gapMult})
}

func allOffDiagonalOnes(m corrmatrix.Matrix) corrmatrix.Matrix {
	rows := make([][]float64, m.N)
	for i := 0; i < m.N; i++ {
		rows[i] = make([]float64, m.N)
		for j := 0; j < m.N; j++ {
			if i == j {
				rows[i][j] = 1
			} else {
				rows[i][j] = 1
			}
		}
	}
	out, _ := corrmatrix.NewMatrixFromRows(rows)
	return out
}

func quadForm(v []float64, m corrmatrix.Matrix) float64 {
	n := len(v)
	var sum float64
	for i := 0; i < n; i++ {
		var rowSum float64
		for j := 0; j < n; j++ {
			rowSum += m.At(i, j) * v[j]
		}
		sum += v[i] * rowSum
	}
	return sum
}

// Gate13Inputs bundles every named multiplier Gate 13's 18-step sequence
// combines, per spec.md §4.7.
type Gate13Inputs struct {
	DRPHaltShortCircuit bool

	MLERiskMult float64

	DDSmoothed     float64
	DDRiskLadder   func(ddSmoothed float64) float64

	WinRate, RR   float64
	KellyFraction float64
	KellyCapMax   float64
	KPIValid      bool

	MaxTradeRiskHardCap float64

	LambdaUsed                    float64
	TailLambdaSoft, TailLambdaHard float64
	TailLambdaMMin                float64

	BetaMult, CorrMult, ReliabilityMult float64

	ProbeRiskMult           float64
	RegimeNoiseOverrideMult float64

	FundingRiskMult, FundingProximityMult float64
	BasisRiskMult                         float64
	ADLRiskMult                           float64
	LiquidityMult                         float64
	DQSMult                               float64

	DRPState   drp.State
	MLOpsMult  float64

	SizingMult float64

	ActiveThreshold     float64
	StackingPower       float64
	StackingPenaltyBase float64
}

// Gate13Result is the full sequential-risk trace, exposing both the final
// combined multiplier and each named intermediate for diagnostics.
type Gate13Result struct {
	GateResult
	AllowedRiskPct float64
	Steps          map[string]float64
}

// Gate13 executes the 18-step sequential risk computation of spec.md §4.7
// in authoritative order, short-circuiting to zero risk on DRP/halt.
func Gate13(ctx Context, in Gate13Inputs) Gate13Result {
	steps := map[string]float64{}

	if in.DRPHaltShortCircuit {
		return Gate13Result{GateResult: pass(nil), AllowedRiskPct: 0, Steps: steps}
	}
	steps["mle_risk_mult"] = in.MLERiskMult

	ddRiskMax := in.MaxTradeRiskHardCap
	if in.DDRiskLadder != nil {
		ddRiskMax = math.Min(ddRiskMax, in.DDRiskLadder(in.DDSmoothed))
	}
	steps["dd_risk_max"] = ddRiskMax

	kellyCap := in.MaxTradeRiskHardCap
	if in.KPIValid {
		kellyFull := (in.WinRate*in.RR - (1 - in.WinRate)) / math.Max(in.RR, 1e-9)
		kellyFrac := numerics.Clip(kellyFull*in.KellyFraction, 0, in.KellyCapMax)
		kellyCap = kellyFrac
	}
	steps["kelly_cap"] = kellyCap

	baseRisk := math.Min(ddRiskMax, math.Min(kellyCap, in.MaxTradeRiskHardCap)) * in.MLERiskMult
	steps["base_risk"] = baseRisk

	tailLambdaMult := 1 - (1-in.TailLambdaMMin)*numerics.Clip((in.LambdaUsed-in.TailLambdaSoft)/numerics.DenomSafeUnsigned(in.TailLambdaHard-in.TailLambdaSoft, 1e-9), 0, 1)
	steps["tail_lambda_mult"] = tailLambdaMult

	corrBetaMult := math.Min(in.BetaMult, math.Min(in.CorrMult, in.ReliabilityMult))
	steps["corr_beta_mult"] = corrBetaMult

	fundingMult := in.FundingRiskMult * in.FundingProximityMult
	steps["funding_mult"] = fundingMult
	steps["basis_risk_mult"] = in.BasisRiskMult
	steps["adl_risk_mult"] = in.ADLRiskMult
	steps["liquidity_mult"] = in.LiquidityMult
	steps["dqs_mult"] = in.DQSMult

	defensiveMult := math.Min(drp.DefensiveMultiplier(in.DRPState), in.MLOpsMult)
	steps["defensive_mult"] = defensiveMult
	steps["sizing_mult"] = in.SizingMult

	probeRiskMult := in.ProbeRiskMult
	if probeRiskMult == 0 {
		probeRiskMult = 1
	}
	regimeNoiseOverrideMult := in.RegimeNoiseOverrideMult
	if regimeNoiseOverrideMult == 0 {
		regimeNoiseOverrideMult = 1
	}
	steps["probe_risk_mult"] = probeRiskMult
	steps["regime_noise_override_mult"] = regimeNoiseOverrideMult

	marketClusterMults := []float64{tailLambdaMult, corrBetaMult, fundingMult, in.BasisRiskMult, in.ADLRiskMult, in.LiquidityMult, regimeNoiseOverrideMult}
	opsClusterMults := []float64{in.DQSMult, defensiveMult, in.SizingMult, probeRiskMult}

	marketCombined := combineCluster(marketClusterMults, in.ActiveThreshold, in.StackingPower, in.StackingPenaltyBase)
	opsCombined := combineCluster(opsClusterMults, in.ActiveThreshold, in.StackingPower, in.StackingPenaltyBase)
	steps["combined_market"] = marketCombined
	steps["combined_ops"] = opsCombined

	combinedTotal := 2 * marketCombined * opsCombined / math.Max(marketCombined+opsCombined, 1e-9)
	steps["combined_total"] = combinedTotal

	allowedRisk := baseRisk * combinedTotal
	steps["allowed_risk_pct"] = allowedRisk

	return Gate13Result{GateResult: pass(map[string]any{"allowed_risk_pct": allowedRisk}), AllowedRiskPct: allowedRisk, Steps: steps}
}

// combineCluster implements spec.md §4.7 item (15)'s active-strength stacking
// penalty for one multiplier cluster.
func combineCluster(mults []float64, activeThr, power, stackingPenaltyBase float64) float64 {
	if len(mults) == 0 {
		return 1
	}
	minMult := mults[0]
	var effectiveCount float64
	for _, m := range mults {
		if m < minMult {
			minMult = m
		}
		strength := numerics.Clip(math.Pow((1-m)/numerics.DenomSafeUnsigned(1-activeThr, 1e-9), power), 0, 1)
		effectiveCount += strength
	}
	if effectiveCount <= 1 {
		return minMult
	}
	return minMult * math.Pow(stackingPenaltyBase, effectiveCount-1)
}
