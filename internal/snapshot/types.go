// Package snapshot defines the immutable value objects that flow through the
// Gatekeeper pipeline: MarketState, PortfolioState, EngineSignal, MLEOutput,
// and their enumerated sub-types, per spec.md §3. Every update produces a new
// value with a successor SnapshotID; nothing in this package is ever mutated
// in place after construction.
package snapshot

import "time"

// SchemaVersion is bumped on any breaking change to a wire schema, per
// spec.md §6 "Schema compatibility policy."
type SchemaVersion int

// Engine is the strategy family that produced a signal.
type Engine string

const (
	EngineTrend Engine = "TREND"
	EngineRange Engine = "RANGE"
)

// Direction mirrors riskunits.Direction at the schema boundary so this
// package has no dependency on riskunits (entities are dependency-free value
// objects; conversions happen in the gates that consume them).
type Direction string

const (
	DirLong  Direction = "long"
	DirShort Direction = "short"
)

// MLEDecision is the closed set of MLE model outcomes, per spec.md §3.
type MLEDecision string

const (
	MLEReject MLEDecision = "REJECT"
	MLEWeak   MLEDecision = "WEAK"
	MLENormal MLEDecision = "NORMAL"
	MLEStrong MLEDecision = "STRONG"
)

// TradingMode is the closed set of portfolio trading modes, per spec.md §3/§4.7.
type TradingMode string

const (
	TradingModeLive   TradingMode = "LIVE"
	TradingModeShadow TradingMode = "SHADOW"
	TradingModeHalted TradingMode = "HALTED"
)

// RegimeLabel is the closed set of resolved market regimes consumed by Gate 2/3.
type RegimeLabel string

const (
	RegimeNoise       RegimeLabel = "NOISE"
	RegimeRange       RegimeLabel = "RANGE"
	RegimeTrendUp     RegimeLabel = "TREND_UP"
	RegimeTrendDown   RegimeLabel = "TREND_DOWN"
	RegimeBreakoutUp  RegimeLabel = "BREAKOUT_UP"
	RegimeBreakoutDown RegimeLabel = "BREAKOUT_DOWN"
)

// PriceState holds the last/mid/bid/ask and tick size for an instrument.
type PriceState struct {
	Last     float64
	Mid      float64
	Bid      float64
	Ask      float64
	TickSize float64
}

// VolatilityState holds ATR and realized-vol readings plus their z-scores.
type VolatilityState struct {
	ATR           float64
	ATRZShort     float64
	ATRZLong      float64
	HV30          float64
	HV30Z         float64
}

// LiquidityState holds spread/depth/impact/orderbook-freshness readings.
type LiquidityState struct {
	SpreadBps              float64
	BidDepthUSD            float64
	AskDepthUSD            float64
	ImpactBpsEst           float64
	Volume24hUSD           float64
	DepthVolatilityCV      float64
	OrderbookStalenessMS   float64
	OrderbookLastUpdateAgeMS float64
}

// DerivativesState holds funding/basis/OI/ADL readings.
type DerivativesState struct {
	FundingRateCurrent  float64
	FundingRateForecast float64
	FundingPeriodHours  float64
	TimeToNextFundingS  float64
	OpenInterestUSD     float64
	BasisValue          float64
	BasisZ              float64
	BasisVolZ           float64
	ADLRankQuantile     float64
}

// CorrelationsState holds the per-instrument correlation/tail-risk summary
// consumed by gates 10/12/13.
type CorrelationsState struct {
	TailReliabilityScore   float64
	TailCorrToBTC          float64
	StressBetaToBTC        float64
	LambdaUsed             float64
	MatrixSnapshotID       int64
	MatrixAgeSec           float64
	GammaS                 float64
}

// DataQualityState holds DQS inputs and outputs, per spec.md §4.5.
type DataQualityState struct {
	SuspectedGlitch       bool
	StaleBookGlitch       bool
	DQS                   float64
	DQSCritical           float64
	DQSNoncritical        float64
	DQSSources            float64
	DQSMult               float64
	PriceStalenessMS      float64
	OrderbookStalenessMS  float64
	DerivsStalenessMS     float64
	XDevBps               float64
	OracleDeviationFrac   float64
	OracleStalenessMS     float64
	OracleAvailable       bool
	ToxicFlowSuspected    bool
}

// MarketState is the frozen per-instrument market snapshot, per spec.md §3.
type MarketState struct {
	SchemaVersion SchemaVersion
	Instrument    string
	Timeframe     string // "H1"
	TsUTCMs       int64

	Price        PriceState
	Volatility   VolatilityState
	Liquidity    LiquidityState
	Derivatives  DerivativesState
	Correlations CorrelationsState
	DataQuality  DataQualityState
}

// Position is an immutable arena-indexed portfolio holding, per spec.md §9
// "cyclic references → arena + indices": PortfolioState holds a slice of
// Position, and ClusterID groups form the partition — there is no pointer
// back from a Position to its portfolio.
type Position struct {
	Instrument       string
	ClusterID        string
	Direction        Direction
	Qty              float64
	EntryPrice       float64
	EntryEffAllin    float64
	SLEffAllin       float64
	RiskAmountUSD    float64
	RiskPctEquity    float64
	NotionalUSD      float64
	UnrealizedPnLUSD float64
	FundingPnLUSD    float64
	OpenedTsUTCMs    int64
}

// DRPState is the closed set of Disaster-Recovery Protocol states, per
// spec.md §4.6. Order here is NOT priority order; see drp.State's priority method.
type DRPState string

const (
	DRPNormal     DRPState = "NORMAL"
	DRPDegraded   DRPState = "DEGRADED"
	DRPDefensive  DRPState = "DEFENSIVE"
	DRPEmergency  DRPState = "EMERGENCY"
	DRPRecovery   DRPState = "RECOVERY"
	DRPHibernate  DRPState = "HIBERNATE"
)

// RiskAggregates bundles the portfolio-level risk/heat figures of spec.md §3.
type RiskAggregates struct {
	CurrentPortfolioRiskPct      float64
	ReservedPortfolioRiskPct     float64
	CurrentClusterRiskPct        map[string]float64
	ReservedClusterRiskPct       map[string]float64
	SumAbsRiskPct                float64
	ReservedHeatUpperBoundPct    float64
	AdjustedHeatBasePct          float64
	AdjustedHeatBlendPct         float64
	AdjustedHeatWorstPct         float64
	HeatUniAbsPct                float64
	MaxTradeRiskCapPct           float64
	MaxPortfolioRiskPct          float64
	MaxAdjustedHeatPct           float64
}

// PortfolioState is the frozen, versioned portfolio snapshot, per spec.md §3.
type PortfolioState struct {
	PortfolioID int64

	EquityUSD           float64
	PeakEquityUSD       float64
	DrawdownFrac        float64
	DrawdownSmoothed    float64

	Risk RiskAggregates

	DRP                    DRPState
	TradingMode            TradingMode
	WarmupBarsRemaining    int
	DRPFlapCount           int
	HibernateUntilTsUTCMs  int64
	ManualHaltAllTrading   bool
	ManualHaltNewEntries   bool

	Positions []Position
}

// ClusterIndex partitions Positions by ClusterID without any pointer back
// into PortfolioState, per spec.md §9's arena+indices guidance.
func (p *PortfolioState) ClusterIndex() map[string][]int {
	idx := make(map[string][]int)
	for i, pos := range p.Positions {
		idx[pos.ClusterID] = append(idx[pos.ClusterID], i)
	}
	return idx
}

// Levels are the raw signal price levels before any cost adjustment.
type Levels struct {
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
}

// SignalContext holds holding-period and setup metadata.
type SignalContext struct {
	ExpectedHoldingHours float64
	RegimeHint           RegimeLabel
	SetupID              string
}

// SignalConstraints carries engine-specific admission constraints.
type SignalConstraints struct {
	RRMinEngine   float64
	SLMinATRMult  float64
	SLMaxATRMult  float64
}

// EngineSignal is the candidate trade proposed by a strategy engine, per
// spec.md §3.
type EngineSignal struct {
	Instrument  string
	Engine      Engine
	Direction   Direction
	Levels      Levels
	Context     SignalContext
	Constraints SignalConstraints
}

// Validate enforces spec.md §3's monotonicity invariant:
// LONG => TP>entry>SL; SHORT => TP<entry<SL.
func (s EngineSignal) Validate() error {
	e, tp, sl := s.Levels.EntryPrice, s.Levels.TakeProfit, s.Levels.StopLoss
	switch s.Direction {
	case DirLong:
		if !(tp > e && e > sl) {
			return &InvalidSignalError{Reason: "long signal requires TP > entry > SL"}
		}
	case DirShort:
		if !(tp < e && e < sl) {
			return &InvalidSignalError{Reason: "short signal requires TP < entry < SL"}
		}
	default:
		return &InvalidSignalError{Reason: "unhandled direction"}
	}
	return nil
}

// InvalidSignalError reports a structurally invalid EngineSignal.
type InvalidSignalError struct {
	Reason string
}

func (e *InvalidSignalError) Error() string { return "snapshot: invalid signal: " + e.Reason }

// MLEOutput is the asynchronously produced ML edge estimate attached to a
// signal, per spec.md §3.
type MLEOutput struct {
	ModelID                string
	ArtifactSHA256         string
	FeatureSchemaVersion   SchemaVersion
	CalibrationVersion     int
	Decision               MLEDecision
	RiskMult               float64
	EVRPrice               float64
	PFail                  float64
	PNeutral               float64
	PSuccess               float64
	PStopoutNoise          *float64
	ExpectedCostRPreMLE    *float64
	ExpectedCostRPostMLE   *float64
}

// ProbabilitySumTolerance is how far p_success+p_neutral+p_fail may drift
// from 1 before MLEOutput.Validate rejects it.
const ProbabilitySumTolerance = 1e-3

// Validate enforces spec.md §3's MLEOutput invariants: probabilities in
// [0,1] and summing to ~1, artifact hash well-formed, risk_mult in [0,1].
func (m MLEOutput) Validate() error {
	for _, p := range []float64{m.PFail, m.PNeutral, m.PSuccess} {
		if p < 0 || p > 1 {
			return &InvalidMLEOutputError{Reason: "probability out of [0,1]"}
		}
	}
	sum := m.PFail + m.PNeutral + m.PSuccess
	if sum < 1-ProbabilitySumTolerance || sum > 1+ProbabilitySumTolerance {
		return &InvalidMLEOutputError{Reason: "probabilities do not sum to ~1"}
	}
	if m.RiskMult < 0 || m.RiskMult > 1 {
		return &InvalidMLEOutputError{Reason: "risk_mult out of [0,1]"}
	}
	if len(m.ArtifactSHA256) != 64 {
		return &InvalidMLEOutputError{Reason: "artifact_sha256 must be 64 hex chars"}
	}
	for _, c := range m.ArtifactSHA256 {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return &InvalidMLEOutputError{Reason: "artifact_sha256 must be 64 hex chars"}
		}
	}
	return nil
}

// InvalidMLEOutputError reports a structurally invalid MLEOutput.
type InvalidMLEOutputError struct {
	Reason string
}

func (e *InvalidMLEOutputError) Error() string { return "snapshot: invalid MLE output: " + e.Reason }

// Snapshot pairs a MarketState and PortfolioState under one monotone
// SnapshotID and logical clock reading, per spec.md §3's "Snapshot" glossary
// entry.
type Snapshot struct {
	SnapshotID     int64
	LogicalClockMs int64
	PublishedAtUTC time.Time
	Market         MarketState
	Portfolio      PortfolioState
}

// IsStale reports whether the snapshot has exceeded maxAgeMs relative to now.
func (s Snapshot) IsStale(nowUTC time.Time, maxAgeMs int64) bool {
	ageMs := nowUTC.Sub(s.PublishedAtUTC).Milliseconds()
	return ageMs > maxAgeMs
}
