// Package gates implements the fixed-order Gate00..Gate18 admission chain of
// spec.md §4.7, grounded on sawpanic-cryptorun's internal/gates/entry.go
// (EntryGateEvaluator/GateCheck reporting shape) and internal/domain/guards
// (first-blocking-guard-wins ordering), generalized from a single-pass score
// gate into the full 19-step size-invariant admission pipeline.
package gates

// RejectionReason is a stable, closed admission rejection code as listed in
// spec.md §6's admission contract.
type RejectionReason string

const (
	ReasonNone RejectionReason = ""

	ReasonDQSHardGateBlock          RejectionReason = "dqs_hard_gate_block"
	ReasonOracleSanityBlock         RejectionReason = "oracle_sanity_block"
	ReasonStaleBookGlitchBlock      RejectionReason = "stale_book_glitch_block"
	ReasonManualHaltBlock           RejectionReason = "manual_halt_block"
	ReasonTradingModeBlock          RejectionReason = "trading_mode_block"
	ReasonShadowModeNoTrade         RejectionReason = "shadow_mode_no_trade"
	ReasonMRCConflictBlock          RejectionReason = "mrc_conflict_block"
	ReasonRegimeIncompatibleBlock   RejectionReason = "regime_incompatible_block"
	ReasonSignalSanityBlock         RejectionReason = "signal_sanity_block"
	ReasonUnitRiskTooSmallBlock     RejectionReason = "unit_risk_too_small_block"
	ReasonUnitRiskBelowMinATRBlock  RejectionReason = "unit_risk_below_min_atr_block"
	ReasonMLEReject                 RejectionReason = "mle_reject"
	ReasonNetEdgeBelowFloor         RejectionReason = "net_edge_below_floor"
	ReasonLiquidityHardBlock        RejectionReason = "liquidity_hard_block"
	ReasonSpoofingSuspectedBlock    RejectionReason = "spoofing_suspected_block"
	ReasonGapGlitchBlock            RejectionReason = "gap_glitch_block"
	ReasonFundingCostBlock          RejectionReason = "funding_cost_block"
	ReasonFundingNetYieldBlock      RejectionReason = "funding_net_yield_block"
	ReasonFundingBlackoutBlock      RejectionReason = "funding_blackout_block"
	ReasonBasisLevelBlock           RejectionReason = "basis_level_block"
	ReasonCorrelationExposureBlock  RejectionReason = "correlation_exposure_block"
	ReasonNetRRBelowMin             RejectionReason = "net_rr_below_min"
	ReasonBankruptcyGapBlockSingle  RejectionReason = "bankruptcy_gap_block_single"
	ReasonBankruptcyPortfolioStress RejectionReason = "bankruptcy_portfolio_stress_block"
	ReasonLiquidationBufferBlock    RejectionReason = "liquidation_buffer_block"
	ReasonHeatHardViolation         RejectionReason = "heat_hard_violation"
	ReasonHeatSoftBlockIncrease     RejectionReason = "heat_soft_block_increase"
	ReasonForcedHedgeNotEffective   RejectionReason = "forced_hedge_not_effective_block"
	ReasonSizingNotConverged        RejectionReason = "sizing_not_converged_block"
	ReasonImpactHardBlock           RejectionReason = "impact_hard_block"
	ReasonPortfolioWriterOverload   RejectionReason = "portfolio_writer_overload_block"
	ReasonReservationConflict       RejectionReason = "reservation_conflict"
	ReasonStalePortfolioSnapshot    RejectionReason = "stale_portfolio_snapshot"
	ReasonPreexecValidationTimeout  RejectionReason = "preexec_validation_timeout"
	ReasonOrphanSweepInProgress     RejectionReason = "orphan_sweep_in_progress_block"
	ReasonFeatureSchemaIncompatible RejectionReason = "feature_schema_incompatible_block"
)
