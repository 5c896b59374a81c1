package gates

import (
	"github.com/sawpanic/gatekeeper/internal/corrmatrix"
	"github.com/sawpanic/gatekeeper/internal/drp"
	"github.com/sawpanic/gatekeeper/internal/dqs"
	"github.com/sawpanic/gatekeeper/internal/riskunits"
	"github.com/sawpanic/gatekeeper/internal/snapshot"
)

// ResolvedRegime is Gate 2/3's resolved-regime enum: every snapshot.RegimeLabel
// plus NO_TRADE, which has no MarketState representation since it means "do
// not admit."
type ResolvedRegime string

const (
	ResolvedNoTrade       ResolvedRegime = "NO_TRADE"
	ResolvedRange         ResolvedRegime = ResolvedRegime(snapshot.RegimeRange)
	ResolvedTrendUp       ResolvedRegime = ResolvedRegime(snapshot.RegimeTrendUp)
	ResolvedTrendDown     ResolvedRegime = ResolvedRegime(snapshot.RegimeTrendDown)
	ResolvedBreakoutUp    ResolvedRegime = ResolvedRegime(snapshot.RegimeBreakoutUp)
	ResolvedBreakoutDown  ResolvedRegime = ResolvedRegime(snapshot.RegimeBreakoutDown)
)

// GateResult is the uniform return shape every gate produces, per spec.md
// §4.7: `(blocked, block_reason?, risk_mult?, diagnostics)`.
type GateResult struct {
	Blocked       bool
	Reason        RejectionReason
	RiskMult      float64 // defaults to 1.0 when not set by the gate
	Advisory      bool    // true if Blocked is informational only (never halts the chain)
	Diagnostics   map[string]any
}

func pass(diag map[string]any) GateResult {
	return GateResult{Blocked: false, RiskMult: 1.0, Diagnostics: diag}
}

func block(reason RejectionReason, diag map[string]any) GateResult {
	return GateResult{Blocked: true, Reason: reason, RiskMult: 0, Diagnostics: diag}
}

// Context carries every input the gate chain needs. It is built once per
// admission call and passed by value through Evaluate; no gate may mutate it
// (Go structs passed by value already enforce this at the call boundary).
type Context struct {
	Cfg Config

	MRCRegime      snapshot.RegimeLabel
	MRCProbs       map[snapshot.RegimeLabel]float64
	MRCConfidence  float64
	BaselineRegime snapshot.RegimeLabel

	Signal snapshot.EngineSignal
	MLE    *snapshot.MLEOutput

	Market    snapshot.MarketState
	Portfolio snapshot.PortfolioState

	DRPState   drp.State
	DQSResult  dqs.Result

	CorrSnapshot corrmatrix.Snapshot
	NowUnixMs    int64

	CostBps  riskunits.CostBps
	TickSize float64

	// unitRiskAllinNet is threaded in by the orchestrator after Gate 5 runs,
	// so later gates (9, 12...) can read the size-invariant unit risk without
	// recomputing effective prices themselves.
	unitRiskAllinNet float64
}

// WithUnitRiskAllinNet returns a copy of ctx carrying Gate 5's computed unit
// risk, for gates running after Gate 5 in the chain.
func (c Context) WithUnitRiskAllinNet(v float64) Context {
	c.unitRiskAllinNet = v
	return c
}

// ChainResult is the pipeline's cumulative output threaded across gates, and
// is what Evaluate ultimately distills into the admission contract's
// `(allowed, size_notional, rejection_reason, diagnostics)` tuple.
type ChainResult struct {
	Gates       map[string]GateResult
	Order       []string
	RejectedAt  string
	Reason      RejectionReason
	Shadow      bool
	Probe       bool
	FinalRegime ResolvedRegime

	EffPrices riskunits.EffectivePrices
	UnitRiskBps float64

	EVRPrice        float64
	MLEDecisionOut  snapshot.MLEDecision

	RiskMultipliers map[string]float64 // per named multiplier, Gate13 step label
	AllowedRiskPct  float64
}

func newChainResult() *ChainResult {
	return &ChainResult{
		Gates:           make(map[string]GateResult),
		RiskMultipliers: make(map[string]float64),
	}
}

// Record appends one gate's outcome to the chain trace, keyed by name and in
// evaluation order.
func (c *ChainResult) Record(name string, r GateResult) {
	c.Gates[name] = r
	c.Order = append(c.Order, name)
}

// Allowed reports whether no gate has blocked the chain so far.
func (c *ChainResult) Allowed() bool {
	return c.RejectedAt == ""
}
