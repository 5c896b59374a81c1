package gatekeeper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/gatekeeper/internal/clock"
	"github.com/sawpanic/gatekeeper/internal/corrmatrix"
	"github.com/sawpanic/gatekeeper/internal/dqs"
	"github.com/sawpanic/gatekeeper/internal/drp"
	"github.com/sawpanic/gatekeeper/internal/gates"
	"github.com/sawpanic/gatekeeper/internal/gklog"
	"github.com/sawpanic/gatekeeper/internal/reservation"
	"github.com/sawpanic/gatekeeper/internal/riskunits"
	"github.com/sawpanic/gatekeeper/internal/snapshot"
)

func baseRequest() Request {
	return Request{
		Signal: snapshot.EngineSignal{
			Instrument: "BTC-PERP",
			Engine:     snapshot.EngineTrend,
			Direction:  snapshot.DirLong,
			Levels:     snapshot.Levels{EntryPrice: 50000, TakeProfit: 52000, StopLoss: 49000},
			Context:    snapshot.SignalContext{ExpectedHoldingHours: 12},
			Constraints: snapshot.SignalConstraints{RRMinEngine: 1.0, SLMinATRMult: 0.1, SLMaxATRMult: 10},
		},
		Market: snapshot.MarketState{
			Price:      snapshot.PriceState{Last: 50000, TickSize: 0.5},
			Volatility: snapshot.VolatilityState{ATR: 500, ATRZShort: 0.5},
			Liquidity: snapshot.LiquidityState{
				BidDepthUSD: 1000000, AskDepthUSD: 1000000, SpreadBps: 2, Volume24hUSD: 10000000,
			},
			Derivatives:  snapshot.DerivativesState{FundingPeriodHours: 8, TimeToNextFundingS: 20000},
			Correlations: snapshot.CorrelationsState{TailReliabilityScore: 1, LambdaUsed: 0.2},
		},
		Portfolio: snapshot.PortfolioState{
			PortfolioID: 1,
			EquityUSD:   100000,
			TradingMode: snapshot.TradingModeLive,
		},
		MRCRegime:      snapshot.RegimeTrendUp,
		BaselineRegime: snapshot.RegimeTrendUp,
		MRCConfidence:  0.95,
		MarketCtx:      MarketContext{ClusterID: "btc"},
	}
}

func baseGatesContext() gates.Context {
	return gates.Context{
		DQSResult: dqs.Result{DQS: 1, DQSMult: 1},
	}
}

func TestEvaluateManualHaltBlocksAtGate1(t *testing.T) {
	req := baseRequest()
	req.Portfolio.ManualHaltAllTrading = true

	out, err := Evaluate(context.Background(), gates.Default(), nil, drp.Normal, baseGatesContext(), req)
	require.NoError(t, err)
	assert.False(t, out.Allowed)
	assert.Equal(t, "gate1", out.RejectedAtGate)
	assert.Equal(t, gates.ReasonManualHaltBlock, out.Reason)
}

func TestEvaluateDQSHardGateBlocksAtGate0(t *testing.T) {
	req := baseRequest()
	base := baseGatesContext()
	base.DQSResult = dqs.Result{DQS: 0, DQSMult: 0, HardGateTriggered: true, HardGateReason: "suspected_data_glitch"}

	out, err := Evaluate(context.Background(), gates.Default(), nil, drp.Normal, base, req)
	require.NoError(t, err)
	assert.False(t, out.Allowed)
	assert.Equal(t, "gate0", out.RejectedAtGate)
}

func TestEvaluateDRPEmergencyBlocksAtGate0(t *testing.T) {
	req := baseRequest()
	out, err := Evaluate(context.Background(), gates.Default(), nil, drp.Emergency, baseGatesContext(), req)
	require.NoError(t, err)
	assert.False(t, out.Allowed)
	assert.Equal(t, "gate0", out.RejectedAtGate)
}

func TestEvaluateRegimeConflictBlocksAtGate2(t *testing.T) {
	req := baseRequest()
	req.MRCRegime = snapshot.RegimeNoise

	out, err := Evaluate(context.Background(), gates.Default(), nil, drp.Normal, baseGatesContext(), req)
	require.NoError(t, err)
	assert.False(t, out.Allowed)
	assert.Equal(t, "gate2", out.RejectedAtGate)
	assert.Equal(t, gates.ReasonMRCConflictBlock, out.Reason)
}

func TestEvaluateSignalSanityBlocksAtGate4(t *testing.T) {
	req := baseRequest()
	req.Signal.Levels.TakeProfit = 48000 // violates LONG monotonicity (TP < entry)

	out, err := Evaluate(context.Background(), gates.Default(), nil, drp.Normal, baseGatesContext(), req)
	require.NoError(t, err)
	assert.False(t, out.Allowed)
	assert.Equal(t, "gate4", out.RejectedAtGate)
}

func TestEvaluateUnitRiskTooSmallBlocksAtGate5(t *testing.T) {
	req := baseRequest()
	req.Market.Volatility.ATR = 0 // disables gate4's ATR-relative SL distance check
	req.Signal.Levels = snapshot.Levels{EntryPrice: 50000, TakeProfit: 50000.000000002, StopLoss: 49999.999999999}

	out, err := Evaluate(context.Background(), gates.Default(), nil, drp.Normal, baseGatesContext(), req)
	require.NoError(t, err)
	assert.False(t, out.Allowed)
	assert.Equal(t, "gate5", out.RejectedAtGate)
}

func TestEvaluateLogsDecisionWhenSinkConfigured(t *testing.T) {
	sink := gklog.NewSink(8)
	defer sink.Close()

	req := baseRequest()
	req.Portfolio.ManualHaltAllTrading = true

	out, err := Evaluate(context.Background(), gates.Default(), &Machinery{Log: sink}, drp.Normal, baseGatesContext(), req)
	require.NoError(t, err)
	assert.False(t, out.Allowed)

	// logDecision enqueues asynchronously; give the drain goroutine a turn.
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int64(0), sink.Dropped())
}

func TestEvaluateWithNilCorrCacheLeavesSnapshotUntouched(t *testing.T) {
	req := baseRequest()
	out, err := Evaluate(context.Background(), gates.Default(), &Machinery{}, drp.Normal, baseGatesContext(), req)
	require.NoError(t, err)
	assert.NotNil(t, out.Chain)
}

func TestEvaluateClockViolationEscalatesDRPToDefensive(t *testing.T) {
	req := baseRequest()
	req.Market.TsUTCMs = 10_000

	// Seeded behind the incoming market timestamp: the engine's own clock
	// hasn't ticked forward yet, so the first evaluate call should detect
	// the ordering violation and escalate drpState for this call.
	lc := clock.NewLogicalClock(0)

	out, err := Evaluate(context.Background(), gates.Default(), &Machinery{Clock: lc}, drp.Normal, baseGatesContext(), req)
	require.NoError(t, err)
	assert.Equal(t, drp.Defensive, out.DRPState)
	assert.Equal(t, int64(10_000), lc.Now())
}

func TestEvaluateClockInOrderLeavesDRPUnchanged(t *testing.T) {
	req := baseRequest()
	req.Market.TsUTCMs = 10_000

	lc := clock.NewLogicalClock(20_000)

	out, err := Evaluate(context.Background(), gates.Default(), &Machinery{Clock: lc}, drp.Normal, baseGatesContext(), req)
	require.NoError(t, err)
	assert.Equal(t, drp.Normal, out.DRPState)
}

func TestEvaluateWithLiveDRPMachineTicksOnClockViolation(t *testing.T) {
	req := baseRequest()
	req.Market.TsUTCMs = 10_000

	lc := clock.NewLogicalClock(0)
	drpMachine := drp.NewMachine(4)

	out, err := Evaluate(context.Background(), gates.Default(), &Machinery{Clock: lc, DRP: drpMachine}, drp.Normal, baseGatesContext(), req)
	require.NoError(t, err)
	assert.Equal(t, drp.Defensive, out.DRPState)
	assert.Equal(t, drp.Defensive, drpMachine.State())
}

func TestEvaluateWithLiveDRPMachineDQSEmergencyOverridesCallerState(t *testing.T) {
	req := baseRequest()
	base := baseGatesContext()
	base.DQSResult = dqs.Result{DQS: 0.1, DQSMult: 0}

	drpMachine := drp.NewMachine(4)

	out, err := Evaluate(context.Background(), gates.Default(), &Machinery{DRP: drpMachine}, drp.Normal, base, req)
	require.NoError(t, err)
	assert.Equal(t, drp.Emergency, out.DRPState)
}

func TestEvaluatePublishesSnapshotWhenRegistryConfigured(t *testing.T) {
	req := baseRequest()
	req.Market.TsUTCMs = 5_000

	registry := clock.NewRegistry(5000)
	_, err := Evaluate(context.Background(), gates.Default(), &Machinery{Snapshots: registry}, drp.Normal, baseGatesContext(), req)
	require.NoError(t, err)

	snap, ok := registry.Current()
	require.True(t, ok)
	assert.Equal(t, req.Portfolio.PortfolioID, snap.Portfolio.PortfolioID)
}

func TestEvaluatePartialFillAbandonDecidesOnRemainingImpact(t *testing.T) {
	d := EvaluatePartialFillAbandon(FillMonitorInputs{
		ImpactBps: 50, FillFrac: 0.3, UnitRiskBps: 20, NetRR: 2.0,
		FillAbandonmentRRFrac: 0.5, MinAbandonR: 0.1, AbandonThresholdMinBps: 10,
	})
	assert.True(t, d.Abandon)
}

func TestEvaluateReturnsChainTrace(t *testing.T) {
	req := baseRequest()
	req.Portfolio.ManualHaltAllTrading = true

	out, err := Evaluate(context.Background(), gates.Default(), nil, drp.Normal, baseGatesContext(), req)
	require.NoError(t, err)
	require.NotNil(t, out.Chain)
	assert.Contains(t, out.Chain.Order, "gate0")
	assert.Contains(t, out.Chain.Order, "gate1")
	assert.NotContains(t, out.Chain.Order, "gate2")
}

func TestMapReservationErrNil(t *testing.T) {
	assert.Equal(t, gates.ReasonNone, mapReservationErr(nil))
}

func TestMapReservationErrConflict(t *testing.T) {
	err := &reservation.ConflictError{Kind: "cluster_cap"}
	assert.Equal(t, gates.ReasonReservationConflict, mapReservationErr(err))
}

func TestMapReservationErrPortfolioWriterOverload(t *testing.T) {
	assert.Equal(t, gates.ReasonPortfolioWriterOverload, mapReservationErr(reservation.ErrPortfolioWriterOverload))
}

func TestMapReservationErrStalePortfolioSnapshot(t *testing.T) {
	assert.Equal(t, gates.ReasonStalePortfolioSnapshot, mapReservationErr(reservation.ErrStalePortfolioSnapshot))
}

func TestMapReservationErrUnknownFallsBackToConflict(t *testing.T) {
	assert.Equal(t, gates.ReasonReservationConflict, mapReservationErr(errors.New("reservation: something else")))
}

// identityMatrix returns an N-dimension correlation matrix with unit
// diagonal and zero off-diagonal, so each instrument's heat contribution is
// independent of the others.
func identityMatrix(n int) corrmatrix.Matrix {
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = make([]float64, n)
		rows[i][i] = 1
	}
	m, err := corrmatrix.NewMatrixFromRows(rows)
	if err != nil {
		panic(err)
	}
	return m
}

func TestApplyHeatCapPassesThroughWhenMatricesAbsent(t *testing.T) {
	gctx := baseGatesContext()
	req := baseRequest()
	got := applyHeatCap(gctx, req, 0.01, riskunits.EffectivePrices{})
	assert.Equal(t, 0.01, got)
}

func TestApplyHeatCapCapsWithinLimitsWhenFarFromHeatCeiling(t *testing.T) {
	gctx := baseGatesContext()
	gctx.Cfg = gates.Default()
	req := baseRequest()
	req.Portfolio.Positions = []snapshot.Position{{ClusterID: "btc", RiskPctEquity: 0.001}}
	req.MarketCtx.ClusterID = "btc"
	req.MarketCtx.PSDMatrix = identityMatrix(1)
	req.MarketCtx.StressMatrix = identityMatrix(1)

	got := applyHeatCap(gctx, req, 0.001, riskunits.EffectivePrices{})
	assert.LessOrEqual(t, got, 0.001)
	assert.Greater(t, got, 0.0)
}
