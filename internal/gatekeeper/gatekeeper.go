// Package gatekeeper wires the gate chain, DQS, DRP, correlation matrix,
// portfolio heat, sizing, and reservation packages into the single admission
// entrypoint of spec.md §4.7: Evaluate. Grounded on
// sawpanic-cryptorun's internal/gates/entry.go EntryGateEvaluator.Evaluate
// (a fixed-order sequence of gate checks accumulating into one verdict),
// generalized from a single-call scorer into a 19-step size-invariant
// pipeline that also drives DRP/DQS/heat/sizing/reservation side effects.
package gatekeeper

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sawpanic/gatekeeper/internal/clock"
	"github.com/sawpanic/gatekeeper/internal/corrmatrix"
	"github.com/sawpanic/gatekeeper/internal/drp"
	"github.com/sawpanic/gatekeeper/internal/gates"
	"github.com/sawpanic/gatekeeper/internal/gklog"
	"github.com/sawpanic/gatekeeper/internal/heat"
	"github.com/sawpanic/gatekeeper/internal/numerics"
	"github.com/sawpanic/gatekeeper/internal/reservation"
	"github.com/sawpanic/gatekeeper/internal/riskunits"
	"github.com/sawpanic/gatekeeper/internal/sizing"
	"github.com/sawpanic/gatekeeper/internal/snapshot"
)

// KPIStats bundles the win-rate/reward-risk statistics Gate 13's Kelly cap
// consumes; KPIValid is false until a configured minimum trade-history
// sample size has been observed (decided in the caller, not here).
type KPIStats struct {
	WinRate  float64
	RR       float64
	KPIValid bool
}

// MarketContext bundles the raw fields the gate chain needs beyond what
// snapshot.MarketState/PortfolioState already carry: prior-tick price
// history (Gate 8) and the candidate's cluster membership (Gate 10/12/13 exposure and heat checks).
type MarketContext struct {
	PrevPrice    float64
	RecentPrices []float64

	ExposureFrac float64
	ClusterID    string

	HV30Ref                    float64
	EstimatedLiquidationDistFrac float64
	StressMatrix               corrmatrix.Matrix
	PSDMatrix                  corrmatrix.Matrix

	FundingBonusR float64
	KPI           KPIStats
}

// Request is the full input to one admission decision.
type Request struct {
	Signal    snapshot.EngineSignal
	MLE       *snapshot.MLEOutput
	Market    snapshot.MarketState
	Portfolio snapshot.PortfolioState

	MRCRegime      snapshot.RegimeLabel
	MRCConfidence  float64
	BaselineRegime snapshot.RegimeLabel
	MRCWasNoise    bool

	MarketCtx MarketContext

	NowUnixMs int64
}

// Outcome is the admission contract's `(allowed, size_notional,
// rejection_reason, diagnostics)` tuple plus the full per-gate trace.
type Outcome struct {
	Allowed        bool
	Reason         gates.RejectionReason
	RejectedAtGate string
	SizeQty        float64
	SizeNotionalUSD float64
	AllowedRiskPct float64
	Reservation    *reservation.Record
	Chain          *gates.ChainResult
	DRPState       drp.State
}

// Machinery bundles the long-lived stateful collaborators the orchestrator
// drives: the DRP state machine, the correlation-matrix publisher's latest
// snapshot, and the reservation ledger. The caller owns their lifecycle;
// Evaluate only reads/writes through them once per call.
type Machinery struct {
	DRP       *drp.Machine
	Ledger    *reservation.Ledger
	Writer    *reservation.Writer
	TTL       reservation.TTLFloors
	CorrCache *corrmatrix.SnapshotCache

	// Clock advances a monotone logical clock from each request's market
	// timestamp and enforces logical_clock_ms >= market_state.ts_utc_ms. A
	// violation forces the effective DRP state to at least DEFENSIVE for
	// this call, per spec.md §3. A nil Clock skips the check.
	Clock *clock.LogicalClock

	// Snapshots, if set, receives the market/portfolio state of every
	// evaluated request, stamped with the logical clock value it was
	// checked against. Readers outside the hot path (health/ops endpoints,
	// the replay tool) use Snapshots.Current to see what the engine last
	// admitted a decision against.
	Snapshots *clock.Registry

	// Log receives one record per Evaluate call. A nil Log is valid: the
	// zero value of *gklog.Sink cannot be constructed directly, so callers
	// that don't want decision logging simply leave this unset.
	Log *gklog.Sink
}

// Evaluate runs Gate0 through Gate17 against req (Gate 18 runs separately,
// via EvaluatePartialFillAbandon), driving DRP,
// heat, sizing, and reservation as side effects, and returns the admission
// outcome. base is a gates.Context pre-populated by the caller with the
// fields that live outside Request (DQSResult, CorrSnapshot, CostBps,
// TickSize) since those are evaluated once per portfolio tick rather than
// per candidate signal. It never panics on a legitimate rejection; only an
// unhandled enum variant anywhere in the call graph panics, per the
// exhaustive-switch convention used throughout this module.
func Evaluate(ctx context.Context, cfg gates.Config, m *Machinery, drpState drp.State, base gates.Context, req Request) (out Outcome, err error) {
	if m != nil && m.Log != nil {
		defer func() {
			logDecision(m.Log, req, out)
		}()
	}

	var logicalClockMs int64
	clockViolation := false
	if m != nil && m.Clock != nil {
		if clockErr := clock.CheckOrdering(m.Clock.Now(), req.Market.TsUTCMs); clockErr != nil {
			clockViolation = true
			if m.Log != nil {
				m.Log.Log(gklog.SeverityWarn, "clock_violation", map[string]any{
					"instrument":       req.Signal.Instrument,
					"logical_clock_ms": m.Clock.Now(),
					"market_ts_ms":     req.Market.TsUTCMs,
				})
			}
		}
		logicalClockMs = m.Clock.Advance(req.Market.TsUTCMs)
	}

	// drpState is an input for a caller without a live Machine (the
	// one-shot `evaluate` CLI, most tests); when m.DRP is wired, this call
	// is itself the once-per-candidate DRP tick, so its result overrides
	// whatever the caller passed in.
	if m != nil && m.DRP != nil {
		corrStaleFrac := 0.0
		if base.CorrSnapshot.MatrixData.N > 0 {
			corrStaleFrac = numerics.Clip(base.CorrSnapshot.MatrixAgeSec/60.0, 0, 1)
		}
		flapRate := 0.0
		if cfg.FlapToHibernateThreshold > 0 {
			flapRate = float64(m.DRP.FlapCount()) / float64(cfg.FlapToHibernateThreshold)
		}
		crisis := drp.CrisisIndex(drp.CrisisIndexWeights{
			DQSDeficit:          cfg.CrisisWeightDQSDeficit,
			DrawdownSmoothed:    cfg.CrisisWeightDrawdownSmoothed,
			FlapRate:            cfg.CrisisWeightFlapRate,
			CorrMatrixStaleFrac: cfg.CrisisWeightCorrStaleFrac,
		}, base.DQSResult.DQS, req.Portfolio.DrawdownSmoothed, flapRate, corrStaleFrac)

		flapWindow := time.Duration(drp.FlapWindowMinutes(cfg.FlapWindowBaseMinutes, req.Market.Volatility.ATRZShort, cfg.FlapWindowMinMinutes, cfg.FlapWindowMaxMinutes) * float64(time.Minute))
		hibernateDuration := time.Duration(cfg.HibernateDurationMinutes * float64(time.Minute))

		drpState = m.DRP.Evaluate(time.Now(), drp.Inputs{
			DQS:                   base.DQSResult.DQS,
			DQSDegradedThreshold:  cfg.DQSDegradedThreshold,
			DQSEmergencyThreshold: cfg.DQSEmergencyThreshold,
			HardGateTriggered:     base.DQSResult.HardGateTriggered,
			CrisisIndex:           crisis,
			CrisisEmergencyThreshold: cfg.CrisisEmergencyThreshold,
			ATRZShort:             req.Market.Volatility.ATRZShort,
			DefensiveTrigger:      clockViolation,
		}, flapWindow, hibernateDuration)
	} else if clockViolation && (drpState == drp.Normal || drpState == drp.Degraded) {
		drpState = drp.Defensive
	}

	gctx := base
	gctx.Cfg = cfg
	gctx.DRPState = drpState
	gctx.Signal = req.Signal
	gctx.MLE = req.MLE
	gctx.Market = req.Market
	gctx.Portfolio = req.Portfolio
	gctx.MRCRegime = req.MRCRegime
	gctx.MRCConfidence = req.MRCConfidence
	gctx.BaselineRegime = req.BaselineRegime
	gctx.NowUnixMs = req.NowUnixMs

	if m != nil && m.Snapshots != nil {
		m.Snapshots.Publish(snapshot.Snapshot{
			LogicalClockMs: logicalClockMs,
			PublishedAtUTC: time.Now(),
			Market:         req.Market,
			Portfolio:      req.Portfolio,
		})
	}

	if m != nil && m.CorrCache != nil {
		if gctx.CorrSnapshot.MatrixData.N == 0 {
			if cached, ok := m.CorrCache.Load(ctx, req.Portfolio.PortfolioID); ok {
				gctx.CorrSnapshot = cached
			}
		} else {
			_ = m.CorrCache.Store(ctx, req.Portfolio.PortfolioID, gctx.CorrSnapshot)
		}
	}

	chain := evaluateChain(gctx, req)
	out = Outcome{
		Allowed:        chain.Allowed(),
		Reason:         chain.Reason,
		RejectedAtGate: chain.RejectedAt,
		AllowedRiskPct: chain.AllowedRiskPct,
		Chain:          chain,
		DRPState:       drpState,
	}
	if !out.Allowed {
		return out, nil
	}

	impactBpsEst := req.Market.Liquidity.ImpactBpsEst
	liquidityMult := chain.RiskMultipliers["liquidity"]
	adjustedRiskTarget := sizing.ApplyFeasibilityCaps(chain.AllowedRiskPct, liquidityMult, impactBpsEst,
		cfg.LiquidityMinConvergenceThreshold, cfg.MaxAcceptableImpactBps, cfg.LowLiquidityCapMult, cfg.HighImpactCapMult)

	target := sizing.Target{
		RiskTargetForSizing: adjustedRiskTarget,
		UnitRiskAllinNet:    chain.EffPrices.UnitRiskAllinNet,
		EquityUSD:           req.Portfolio.EquityUSD,
		EntryPriceRef:       req.Signal.Levels.EntryPrice,
	}
	impactModel := func(q float64) float64 { return cfg.ImpactK * math.Pow(q, cfg.ImpactPow) }
	sizeRes := sizing.SolveFixedPoint(target, impactModel, cfg.SizingMaxIters, cfg.SizingAlpha0, cfg.SizingAlphaMin, cfg.SizingTol)

	finalQty := sizeRes.Qty
	if !sizeRes.Converged {
		analyticalQty := sizing.SolveAnalytical(target).Qty
		cappedQty, _ := sizing.NonConvergencePolicy([]float64{sizeRes.Qty, analyticalQty}, cfg.SizingNotConvergedRiskCapMult)
		finalQty = cappedQty
		chain.Record("gate13_5_sizing", gates.GateResult{
			Advisory: true, Reason: gates.ReasonSizingNotConverged, RiskMult: cfg.SizingNotConvergedRiskCapMult,
			Diagnostics: map[string]any{"sizing_not_converged_event": true, "sizing_iterations": sizeRes.Iterations},
		})
	}
	qty := sizing.RoundLotStep(finalQty, cfg.LotStepQty, 1e-12)
	notional := qty * req.Signal.Levels.EntryPrice

	riskPctActual := target.RiskPctForQty(qty)

	var reserveReq reservation.ReserveRequest
	if m != nil && m.Ledger != nil {
		ttl := m.TTL.MinTTL(reservation.OrderMaker)
		reserveReq = reservation.ReserveRequest{
			PortfolioID:         req.Portfolio.PortfolioID,
			Instrument:          req.Signal.Instrument,
			ClusterID:           req.MarketCtx.ClusterID,
			RiskPct:             riskPctActual,
			ClusterRiskPct:      riskPctActual,
			GrossAbsRiskPct:     riskPctActual,
			HeatContributionPct: riskPctActual,
			PortfolioCapPct:     cfg.MaxPortfolioRiskPct,
			ClusterCapPct:       cfg.MaxPortfolioRiskPct,
			GrossCapPct:         cfg.MaxPortfolioRiskPct,
			HeatCapPct:          cfg.MaxAdjustedHeatPct,
			SnapshotIDUsed:      req.Portfolio.PortfolioID,
			OrderType:           reservation.OrderMaker,
			TTL:                 ttl,
		}
		rec, reserveErr := m.Ledger.Reserve(ctx, reserveReq)
		g16Reason := mapReservationErr(reserveErr)
		g16 := gates.Gate16(gates.Gate16Outcome{Reserved: reserveErr == nil, Reason: g16Reason})
		chain.Record("gate16", g16)
		if reserveErr != nil {
			out.Allowed = false
			out.Reason = g16Reason
			out.RejectedAtGate = "gate16"
			chain.RejectedAt = "gate16"
			chain.Reason = g16Reason
			return out, nil
		}
		out.Reservation = &rec

		g17 := gates.Gate17(riskPctActual, chain.AllowedRiskPct, cfg.SizingDeviationThreshold)
		chain.Record("gate17", g17)
		if g17.Blocked {
			if releaseErr := m.Ledger.Release(ctx, rec, reserveReq); releaseErr != nil && m.Log != nil {
				m.Log.Log(gklog.SeverityWarn, "reservation_release_failed", map[string]any{
					"instrument":     req.Signal.Instrument,
					"reservation_id": rec.ReservationID.String(),
					"error":          releaseErr.Error(),
				})
			}
			out.Allowed = false
			out.Reason = g17.Reason
			out.RejectedAtGate = "gate17"
			out.Reservation = nil
			chain.RejectedAt = "gate17"
			chain.Reason = g17.Reason
			return out, nil
		}
	} else {
		g17 := gates.Gate17(riskPctActual, chain.AllowedRiskPct, cfg.SizingDeviationThreshold)
		chain.Record("gate17", g17)
		if g17.Blocked {
			out.Allowed = false
			out.Reason = g17.Reason
			out.RejectedAtGate = "gate17"
			chain.RejectedAt = "gate17"
			chain.Reason = g17.Reason
			return out, nil
		}
	}

	out.SizeQty = qty
	out.SizeNotionalUSD = notional
	return out, nil
}

// mapReservationErr turns a reservation.Ledger.Reserve error into the
// specific admission reason it represents, rather than collapsing every
// failure mode into one generic conflict code.
func mapReservationErr(err error) gates.RejectionReason {
	if err == nil {
		return gates.ReasonNone
	}
	var conflict *reservation.ConflictError
	if errors.As(err, &conflict) {
		return gates.ReasonReservationConflict
	}
	if errors.Is(err, reservation.ErrPortfolioWriterOverload) {
		return gates.ReasonPortfolioWriterOverload
	}
	if errors.Is(err, reservation.ErrStalePortfolioSnapshot) {
		return gates.ReasonStalePortfolioSnapshot
	}
	return gates.ReasonReservationConflict
}

// logDecision records one admission outcome via the hot-path sink, per
// SPEC_FULL.md §1.1's "every admission decision is logged with gate index,
// rejection reason, and a diagnostics map — never silent." A blocked
// decision logs at WARN; an allowed one at INFO.
func logDecision(sink *gklog.Sink, req Request, out Outcome) {
	fields := map[string]any{
		"instrument":       req.Signal.Instrument,
		"portfolio_id":     req.Portfolio.PortfolioID,
		"allowed":          out.Allowed,
		"rejected_at_gate": out.RejectedAtGate,
		"reason":           string(out.Reason),
		"drp_state":        out.DRPState.String(),
	}
	if out.Allowed {
		fields["size_qty"] = out.SizeQty
		fields["size_notional_usd"] = out.SizeNotionalUSD
		fields["allowed_risk_pct"] = out.AllowedRiskPct
		sink.Log(gklog.SeverityInfo, "admission_decision", fields)
		return
	}
	if out.Chain != nil {
		fields["diagnostics"] = out.Chain.Gates[out.RejectedAtGate].Diagnostics
	}
	sink.Log(gklog.SeverityWarn, "admission_decision", fields)
}

// evaluateChain runs Gate0 through Gate15 (Gate 14 being the inline heat
// cap), threading the size-invariant Gate5 outputs and the heat-capped
// Gate13 risk budget into ChainResult.
func evaluateChain(gctx gates.Context, req Request) *gates.ChainResult {
	cr := &gates.ChainResult{Gates: make(map[string]gates.GateResult), RiskMultipliers: make(map[string]float64)}
	record := func(name string, r gates.GateResult) bool {
		cr.Gates[name] = r
		cr.Order = append(cr.Order, name)
		if r.Blocked && !r.Advisory && cr.RejectedAt == "" {
			cr.RejectedAt = name
			cr.Reason = r.Reason
		}
		return cr.RejectedAt == ""
	}

	if !record("gate0", gates.Gate0(gctx)) {
		return cr
	}
	if !record("gate1", gates.Gate1(gctx)) {
		return cr
	}

	regime, noiseOverride := gates.ResolveRegime(gctx.MRCRegime, gctx.BaselineRegime, gctx.MRCConfidence, gctx.Cfg.MRCVeryHighConfThreshold)
	cr.FinalRegime = regime
	g2 := gates.Gate2(gctx)
	if !record("gate2", g2) {
		return cr
	}
	cr.RiskMultipliers["probe"] = g2.RiskMult
	if noiseOverride {
		cr.RiskMultipliers["regime_noise_override"] = gctx.Cfg.NoiseOverrideRiskMult
	}
	if !record("gate3", gates.Gate3(gctx, regime, req.MRCWasNoise)) {
		return cr
	}
	if !record("gate4", gates.Gate4(gctx)) {
		return cr
	}

	dir := riskunits.Long
	snapDir := snapshot.DirLong
	if req.Signal.Direction == snapshot.DirShort {
		dir = riskunits.Short
		snapDir = snapshot.DirShort
	}

	entryCostBps := gctx.CostEntryBps()
	slExitCostBps := gctx.CostBps.Spread/2 + gctx.CostBps.SlippageStop*maxFloat(gctx.CostBps.StopSlippageMult, 1) + gctx.CostBps.ImpactStop + gctx.CostBps.FeeExit
	g5 := gates.Gate5(gctx, dir, slExitCostBps, entryCostBps)
	if !record("gate5", g5.GateResult) {
		return cr
	}
	cr.EffPrices = g5.EffPrices
	cr.UnitRiskBps = g5.UnitRiskBps
	gctx = gctx.WithUnitRiskAllinNet(g5.EffPrices.UnitRiskAllinNet)

	mleParams := gates.MLEParams{
		E1: 0.1, E2: 0.3, PNeutralCutoff: 0.5, EVNearZeroBand: 0.02,
		NetEdgeFloorR: 0.05, BetaBase: 1.0, TailDependenceAlpha: gctx.Market.Correlations.TailCorrToBTC,
		LambdaUsed: gctx.Market.Correlations.LambdaUsed, BetaMin: 0.5, BetaMax: 2.0,
		TPExitCostBps: gctx.CostBps.SlippageTP + gctx.CostBps.ImpactExit + gctx.CostBps.FeeExit,
		SLExitCostBps: slExitCostBps, FundingCostR: 0,
	}
	g6 := gates.Gate6(gctx, g5.EffPrices, dir, mleParams)
	if !record("gate6", g6.GateResult) {
		return cr
	}
	cr.EVRPrice = g6.EVRPrice
	cr.MLEDecisionOut = g6.Decision
	cr.RiskMultipliers["mle"] = g6.GateResult.RiskMult

	refNotional := gctx.Cfg.ReferenceNotionalRiskPct * gctx.Portfolio.EquityUSD / numerics.DenomSafeUnsigned(g5.EffPrices.UnitRiskAllinNet, 1e-9) * req.Signal.Levels.EntryPrice
	g7 := gates.Gate7(gctx, refNotional, gctx.Cfg.ImpactSoftBps, gctx.Cfg.ImpactHardBps)
	if !record("gate7", g7.GateResult) {
		return cr
	}
	cr.RiskMultipliers["liquidity"] = g7.LiquidityMult

	if !record("gate8", gates.Gate8(gctx, req.MarketCtx.PrevPrice, req.MarketCtx.RecentPrices)) {
		return cr
	}

	holdingHours := req.Signal.Context.ExpectedHoldingHours
	g9 := gates.Gate9(gctx, snapDir, g6.EVRPrice, g6.ExpectedCostRPostMLE, req.MarketCtx.FundingBonusR, holdingHours)
	if !record("gate9", g9.GateResult) {
		return cr
	}
	cr.RiskMultipliers["funding"] = g9.FundingRiskMult * g9.FundingProximityMult

	g10 := gates.Gate10(gctx, gctx.Market.Derivatives.BasisZ, gctx.Market.Derivatives.BasisVolZ, req.MarketCtx.ExposureFrac)
	if !record("gate10", g10.GateResult) {
		return cr
	}
	cr.RiskMultipliers["basis"] = g10.BasisRiskMult

	fx := gates.FxEffPrices(g5.EffPrices)
	probe := cr.Gates["gate2"].Diagnostics != nil && cr.Gates["gate2"].Diagnostics["probe"] == true
	if !record("gate11", gates.Gate11(gctx, fx, req.Signal.Constraints.RRMinEngine, probe)) {
		return cr
	}

	g12p := gates.Gate12Params{
		HV30:                         gctx.Market.Volatility.HV30,
		HV30Ref:                      req.MarketCtx.HV30Ref,
		RiskPctUpperBound:            gctx.Cfg.MaxTradeRiskHardCapPct,
		EstimatedLiquidationDistFrac: req.MarketCtx.EstimatedLiquidationDistFrac,
		StressMatrix:                 req.MarketCtx.StressMatrix,
		SignedRiskVector:             signedRiskVector(gctx.Portfolio, req.MarketCtx.ClusterID),
		LambdaUsed:                   gctx.Market.Correlations.LambdaUsed,
	}
	if !record("gate12", gates.Gate12(gctx, fx, snapDir, g12p)) {
		return cr
	}

	ddLadder := func(ddSmoothed float64) float64 {
		return gctx.Cfg.MaxTradeRiskHardCapPct * (1 - numerics.Clip((ddSmoothed-gctx.Cfg.DrawdownLadderSoftPct)/numerics.DenomSafeUnsigned(gctx.Cfg.DrawdownLadderHardPct-gctx.Cfg.DrawdownLadderSoftPct, 1e-9), 0, 1))
	}
	g13 := gates.Gate13(gctx, gates.Gate13Inputs{
		DRPHaltShortCircuit: gctx.DRPState == drp.Emergency || gctx.DRPState == drp.Hibernate,
		MLERiskMult:         g6.GateResult.RiskMult,
		DDSmoothed:          gctx.Portfolio.DrawdownSmoothed,
		DDRiskLadder:        ddLadder,
		WinRate:             req.MarketCtx.KPI.WinRate,
		RR:                  req.MarketCtx.KPI.RR,
		KellyFraction:       gctx.Cfg.KellyFraction,
		KellyCapMax:         gctx.Cfg.KellyCapMax,
		KPIValid:            req.MarketCtx.KPI.KPIValid,
		MaxTradeRiskHardCap: gctx.Cfg.MaxTradeRiskHardCapPct,
		LambdaUsed:          gctx.Market.Correlations.LambdaUsed,
		TailLambdaSoft:      0.3, TailLambdaHard: 0.8, TailLambdaMMin: 0.5,
		BetaMult: 1.0, CorrMult: 1.0, ReliabilityMult: gctx.Market.Correlations.TailReliabilityScore,
		ProbeRiskMult:           cr.RiskMultipliers["probe"],
		RegimeNoiseOverrideMult: cr.RiskMultipliers["regime_noise_override"],
		FundingRiskMult:         g9.FundingRiskMult, FundingProximityMult: g9.FundingProximityMult,
		BasisRiskMult: g10.BasisRiskMult, ADLRiskMult: 1.0,
		LiquidityMult: g7.LiquidityMult, DQSMult: gctx.DQSResult.DQSMult,
		DRPState: gctx.DRPState, MLOpsMult: 1.0, SizingMult: 1.0,
		ActiveThreshold: 0.8, StackingPower: 2.0, StackingPenaltyBase: 0.9,
	})
	if !record("gate13", g13.GateResult) {
		return cr
	}
	cr.AllowedRiskPct = g13.AllowedRiskPct

	heatCapped := applyHeatCap(gctx, req, g13.AllowedRiskPct, g5.EffPrices)
	heatDiag := map[string]any{"pre_heat_risk_pct": g13.AllowedRiskPct, "post_heat_risk_pct": heatCapped}
	if heatCapped <= 0 {
		record("gate14_heat", gates.GateResult{Blocked: true, Reason: gates.ReasonHeatHardViolation, Diagnostics: heatDiag})
		return cr
	}
	record("gate14_heat", gates.GateResult{Blocked: false, RiskMult: 1.0, Diagnostics: heatDiag})
	cr.AllowedRiskPct = heatCapped

	impactBpsEst := gctx.Market.Liquidity.ImpactBpsEst
	if !record("gate15", gates.Gate15(gctx, impactBpsEst)) {
		return cr
	}

	return cr
}

// applyHeatCap implements Gate 14: caps the candidate risk so the resulting
// portfolio heat stays within H_soft/H_max, worst-case across C_psd, C_blend,
// and the collapse-scenario H_uni_abs, per spec.md §4.9. Above H_hard only a
// hedging candidate (b<0) that reduces heat by heat_min_reduction_bps is
// admitted, capped by heat.HedgeCap so the hedge itself cannot overshoot.
func applyHeatCap(gctx gates.Context, req Request, candidateRiskPct float64, eff riskunits.EffectivePrices) float64 {
	sign := 1.0
	if req.Signal.Direction == snapshot.DirShort {
		sign = -1.0
	}
	r := signedRiskVector(req.Portfolio, req.MarketCtx.ClusterID)
	idx := clusterIndexOf(req.Portfolio, req.MarketCtx.ClusterID)
	if idx < 0 {
		r = append(r, 0)
		idx = len(r) - 1
	}

	psd := req.MarketCtx.PSDMatrix
	blend := req.MarketCtx.StressMatrix
	if psd.N == 0 || blend.N == 0 {
		return candidateRiskPct
	}

	limits := heat.NewLimits(gctx.Cfg.MaxAdjustedHeatPct, gctx.Cfg.HeatSoftFrac)
	currentHeat := heat.WorstForLimits(r, psd, blend)

	admissionPSD := heat.Solve(r, psd, idx, sign, limits.HMax, gctx.Cfg.DiscFloorEps, gctx.Cfg.LotStepQty)
	admissionBlend := heat.Solve(r, blend, idx, sign, limits.HMax, gctx.Cfg.DiscFloorEps, gctx.Cfg.LotStepQty)
	xUniAbs := maxFloat(limits.HMax-heat.UniAbs(r), 0)

	b := heat.Slope(blend, r, idx, sign)

	if admissionPSD.Rejected || admissionBlend.Rejected || currentHeat > limits.HMax {
		if b >= -gctx.Cfg.HeatForcedBMin {
			return 0
		}
		remainingCluster := maxFloat(gctx.Cfg.MaxAdjustedHeatPct-clusterRiskOf(req.Portfolio, req.MarketCtx.ClusterID), 0)
		remainingPortfolio := maxFloat(gctx.Cfg.MaxPortfolioRiskPct-req.Portfolio.CurrentPortfolioRiskPct, 0)
		hedgeCap := heat.HedgeCap(b, gctx.Cfg.HedgeOptMult, gctx.Cfg.HedgeAbsCapPct, remainingCluster, remainingPortfolio)
		if hedgeCap <= 0 {
			return 0
		}
		trial := append(append([]float64{}, r...))
		trial[idx] += sign * hedgeCap
		candidateHeat := heat.WorstForLimits(trial, psd, blend)
		if !heat.AboveHardAllowed(b, currentHeat, candidateHeat, gctx.Cfg.HeatMinReductionBps) {
			return 0
		}
		return minFloat(candidateRiskPct, hedgeCap)
	}

	remaining := heat.RemainingHeatLimits(admissionPSD.XMax, admissionBlend.XMax, xUniAbs)
	if b < 0 {
		hedgeCap := heat.HedgeCap(b, gctx.Cfg.HedgeOptMult, gctx.Cfg.HedgeAbsCapPct, gctx.Cfg.MaxAdjustedHeatPct, gctx.Cfg.MaxPortfolioRiskPct)
		remaining = minFloat(remaining, hedgeCap)
	}
	return minFloat(candidateRiskPct, remaining)
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func clusterRiskOf(p snapshot.PortfolioState, clusterID string) float64 {
	var sum float64
	for _, pos := range p.Positions {
		if pos.ClusterID == clusterID {
			sum += pos.RiskPctEquity
		}
	}
	return sum
}

func signedRiskVector(p snapshot.PortfolioState, candidateCluster string) []float64 {
	r := make([]float64, 0, len(p.Positions))
	for _, pos := range p.Positions {
		sign := 1.0
		if pos.Direction == snapshot.DirShort {
			sign = -1.0
		}
		r = append(r, sign*pos.RiskPctEquity)
	}
	return r
}

func clusterIndexOf(p snapshot.PortfolioState, clusterID string) int {
	for i, pos := range p.Positions {
		if pos.ClusterID == clusterID {
			return i
		}
	}
	return -1
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// ErrUnhandledDecision is a defensive sentinel kept for callers that need to
// distinguish a structural wiring bug from a legitimate rejection reason.
var ErrUnhandledDecision = fmt.Errorf("gatekeeper: unhandled admission branch")

// FillMonitorInputs bundles the live state of a partially-filled reservation
// that EvaluatePartialFillAbandon needs to decide whether remaining size
// should be abandoned, per spec.md §4.7's fill-abandonment economics.
type FillMonitorInputs struct {
	ImpactBps      float64
	FillFrac       float64
	UnitRiskBps    float64
	NetRR          float64
	FillAbandonmentRRFrac float64
	MinAbandonR    float64
	AbandonThresholdMinBps float64
}

// EvaluatePartialFillAbandon runs Gate 18 against a reservation's current
// fill state. It is called by the fill-monitoring loop, outside the
// pre-admission Evaluate chain, once a reservation has begun to fill.
func EvaluatePartialFillAbandon(in FillMonitorInputs) gates.Gate18Decision {
	return gates.Gate18(in.ImpactBps, in.FillFrac, in.UnitRiskBps, in.NetRR, in.FillAbandonmentRRFrac, in.MinAbandonR, in.AbandonThresholdMinBps)
}
