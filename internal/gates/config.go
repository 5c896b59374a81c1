package gates

// Config holds every gate threshold from spec.md §6's defaults table. Values
// are loaded from YAML by internal/config and frozen before the chain runs;
// no gate may mutate it.
type Config struct {
	DQSDegradedThreshold  float64 `yaml:"dqs_degraded_threshold"`
	DQSEmergencyThreshold float64 `yaml:"dqs_emergency_threshold"`
	DQSWeightCritical     float64 `yaml:"dqs_weight_critical"`
	XDevBlockBps          float64 `yaml:"xdev_block_bps"`
	OracleDevBlockFrac    float64 `yaml:"oracle_dev_block_frac"`

	CompoundingRFloorEps  float64 `yaml:"compounding_r_floor_eps"`
	Log1pSwitchThreshold  float64 `yaml:"log1p_switch_threshold"`

	StressCorrDelta float64 `yaml:"stress_corr_delta"`
	PSDEigFloor     float64 `yaml:"psd_eig_floor"`
	PSDDiagFloor    float64 `yaml:"psd_diag_floor"`
	DiagEps         float64 `yaml:"diag_eps"`

	KellyFraction          float64 `yaml:"kelly_fraction"`
	KellyCapMax            float64 `yaml:"kelly_cap_max"`
	MaxTradeRiskHardCapPct float64 `yaml:"max_trade_risk_hard_cap_pct"`
	MaxPortfolioRiskPct    float64 `yaml:"max_portfolio_risk_pct"`
	MaxAdjustedHeatPct     float64 `yaml:"max_adjusted_heat_pct"`
	HeatSoftFrac           float64 `yaml:"heat_soft_frac"`

	FundingBlackoutMinutes          float64 `yaml:"funding_blackout_minutes"`
	FundingBlackoutCostShareThresh  float64 `yaml:"funding_blackout_cost_share_threshold"`
	FundingBlackoutMaxHoldingHours  float64 `yaml:"funding_blackout_max_holding_hours"`
	FundingCostBlockR               float64 `yaml:"funding_cost_block_r"`
	MinNetYieldR                    float64 `yaml:"min_net_yield_r"`
	UnitRiskMinForFunding           float64 `yaml:"unit_risk_min_for_funding"`
	FundingCreditAllowed            bool    `yaml:"funding_credit_allowed"`
	FundingProximitySoftSec         float64 `yaml:"funding_proximity_soft_sec"`
	FundingProximityHardSec         float64 `yaml:"funding_proximity_hard_sec"`
	FundingProximityMultMin         float64 `yaml:"funding_proximity_mult_min"`
	FundingProximityPower           float64 `yaml:"funding_proximity_power"`

	RRMinProbeAdd           float64 `yaml:"rr_min_probe_add"`
	ProbeRiskMult           float64 `yaml:"probe_risk_mult"`
	ProbeMinDepthUSD        float64 `yaml:"probe_min_depth_usd"`
	ProbeMaxSpreadBps       float64 `yaml:"probe_max_spread_bps"`
	MRCVeryHighConfThreshold float64 `yaml:"mrc_very_high_conf_threshold"`
	NoiseRangeATRZCap       float64 `yaml:"noise_range_atr_z_cap"`
	NoiseOverrideRiskMult   float64 `yaml:"noise_override_risk_mult"`

	SizingNotConvergedRiskCapMult float64 `yaml:"sizing_not_converged_risk_cap_mult"`
	MaxAcceptableImpactBps        float64 `yaml:"max_acceptable_impact_bps"`

	UnitRiskMinAbs     float64 `yaml:"unit_risk_min_abs"`
	UnitRiskMinATRMult float64 `yaml:"unit_risk_min_atr_mult"`

	BidDepthMinUSD       float64 `yaml:"bid_depth_min_usd"`
	AskDepthMinUSD       float64 `yaml:"ask_depth_min_usd"`
	SpreadMaxHardBps     float64 `yaml:"spread_max_hard_bps"`
	SpreadSoftBps        float64 `yaml:"spread_soft_bps"`
	Volume24hMinUSD      float64 `yaml:"volume_24h_min_usd"`
	DepthVolatilityCVCap float64 `yaml:"depth_volatility_cv_cap"`
	ImpactK              float64 `yaml:"impact_k"`
	ImpactPow            float64 `yaml:"impact_pow"`
	ImpactSoftBps        float64 `yaml:"impact_soft_bps"`
	ImpactHardBps        float64 `yaml:"impact_hard_bps"`

	GapPriceJumpThreshold float64 `yaml:"gap_price_jump_threshold"`
	GapPriceJumpHard      float64 `yaml:"gap_price_jump_hard"`
	GapSpikeZThreshold    float64 `yaml:"gap_spike_z_threshold"`
	StaleBookAgeMsThreshold float64 `yaml:"stale_book_age_ms_threshold"`

	BasisZSoft       float64 `yaml:"basis_z_soft"`
	BasisZHard       float64 `yaml:"basis_z_hard"`
	BasisVolZSoft    float64 `yaml:"basis_vol_z_soft"`
	BasisVolZHard    float64 `yaml:"basis_vol_z_hard"`
	ExposureSoftCap  float64 `yaml:"exposure_soft_cap_pct"`
	ExposureHardCap  float64 `yaml:"exposure_hard_cap_pct"`

	NetRREpsPrice float64 `yaml:"net_rr_eps_price"`

	GapFracBase        float64 `yaml:"gap_frac_base"`
	GapHVSensitivity   float64 `yaml:"gap_hv_sensitivity"`
	GapHVZCap          float64 `yaml:"gap_hv_z_cap"`
	GapFracMin         float64 `yaml:"gap_frac_min"`
	GapFracMax         float64 `yaml:"gap_frac_max"`
	GapUnitRiskEps     float64 `yaml:"gap_unit_risk_eps"`
	MaxGapLossPctEquity float64 `yaml:"max_gap_loss_pct_equity"`
	LiqBufferFrac      float64 `yaml:"liq_buffer_frac"`
	PortfolioMaxGapLossPctEquity float64 `yaml:"portfolio_max_gap_loss_pct_equity"`
	StressGapLambdaUnityThreshold float64 `yaml:"stress_gap_lambda_unity_threshold"`

	MaxOCCRetries  int `yaml:"max_occ_retries"`
	CommitRetryCount int `yaml:"commit_retry_count"`

	FlapToHibernateThreshold int     `yaml:"flap_to_hibernate_threshold"`
	CrisisEmergencyThreshold float64 `yaml:"crisis_emergency_threshold"`

	FlapWindowBaseMinutes   float64 `yaml:"flap_window_base_minutes"`
	FlapWindowMinMinutes    float64 `yaml:"flap_window_min_minutes"`
	FlapWindowMaxMinutes    float64 `yaml:"flap_window_max_minutes"`
	HibernateDurationMinutes float64 `yaml:"hibernate_duration_minutes"`

	CrisisWeightDQSDeficit       float64 `yaml:"crisis_weight_dqs_deficit"`
	CrisisWeightDrawdownSmoothed float64 `yaml:"crisis_weight_drawdown_smoothed"`
	CrisisWeightFlapRate         float64 `yaml:"crisis_weight_flap_rate"`
	CrisisWeightCorrStaleFrac    float64 `yaml:"crisis_weight_corr_stale_frac"`

	VarianceDragCriticalFrac float64 `yaml:"variance_drag_critical_frac"`

	DrawdownLadderSoftPct float64 `yaml:"drawdown_ladder_soft_pct"`
	DrawdownLadderHardPct float64 `yaml:"drawdown_ladder_hard_pct"`

	ReferenceNotionalRiskPct float64 `yaml:"reference_notional_risk_pct"`
	HeatMinReductionBps      float64 `yaml:"heat_min_reduction_bps"`
	HeatBlendMinReliability  float64 `yaml:"heat_blend_min_reliability"`
	DiscFloorEps             float64 `yaml:"disc_floor_eps"`
	LotStepQty               float64 `yaml:"lot_step_qty"`

	SizingDeviationThreshold float64 `yaml:"sizing_deviation_threshold"`
	LiquidityMinConvergenceThreshold float64 `yaml:"liquidity_min_convergence_threshold"`
	LowLiquidityCapMult      float64 `yaml:"low_liquidity_cap_mult"`
	HighImpactCapMult        float64 `yaml:"high_impact_cap_mult"`

	SizingMaxIters         int     `yaml:"sizing_max_iters"`
	SizingAlpha0           float64 `yaml:"sizing_alpha0"`
	SizingAlphaMin         float64 `yaml:"sizing_alpha_min"`
	SizingTol              float64 `yaml:"sizing_tol"`
	SizingNewtonDerivFloor float64 `yaml:"sizing_newton_deriv_floor"`

	HedgeOptMult       float64 `yaml:"hedge_opt_mult"`
	HedgeAbsCapPct     float64 `yaml:"hedge_abs_cap_pct"`
	HeatForcedBMin     float64 `yaml:"heat_forced_b_min"`
}

// Default returns the defaults table of spec.md §6, with additional
// reasonable values for thresholds §6 marks "complete tables are the source
// of truth for tests" but does not enumerate numerically.
func Default() Config {
	return Config{
		DQSDegradedThreshold:  0.70,
		DQSEmergencyThreshold: 0.40,
		DQSWeightCritical:     0.75,
		XDevBlockBps:          25,
		OracleDevBlockFrac:    0.01,

		CompoundingRFloorEps: 1e-6,
		Log1pSwitchThreshold: 0.01,

		StressCorrDelta: 0.50,
		PSDEigFloor:     1e-6,
		PSDDiagFloor:    1e-6,
		DiagEps:         1e-4,

		KellyFraction:          0.50,
		KellyCapMax:            0.004,
		MaxTradeRiskHardCapPct: 0.005,
		MaxPortfolioRiskPct:    0.04,
		MaxAdjustedHeatPct:     0.03,
		HeatSoftFrac:           0.95,

		FundingBlackoutMinutes:         15,
		FundingBlackoutCostShareThresh: 0.40,
		FundingBlackoutMaxHoldingHours: 2,
		FundingCostBlockR:              1.0,
		MinNetYieldR:                   0.0,
		UnitRiskMinForFunding:          1e-6,
		FundingCreditAllowed:           false,
		FundingProximitySoftSec:        3600,
		FundingProximityHardSec:        600,
		FundingProximityMultMin:        0.5,
		FundingProximityPower:          1.0,

		RRMinProbeAdd:            0.10,
		ProbeRiskMult:            0.33,
		ProbeMinDepthUSD:         100000,
		ProbeMaxSpreadBps:        30,
		MRCVeryHighConfThreshold: 0.90,
		NoiseRangeATRZCap:        1.0,
		NoiseOverrideRiskMult:    0.35,

		SizingNotConvergedRiskCapMult: 0.50,
		MaxAcceptableImpactBps:        25,

		UnitRiskMinAbs:     1e-8,
		UnitRiskMinATRMult: 0.05,

		BidDepthMinUSD:          20000,
		AskDepthMinUSD:          20000,
		SpreadMaxHardBps:        50,
		SpreadSoftBps:           20,
		Volume24hMinUSD:         500000,
		DepthVolatilityCVCap:    1.5,
		ImpactK:                 1.0,
		ImpactPow:               0.5,
		ImpactSoftBps:           10,
		ImpactHardBps:           25,

		GapPriceJumpThreshold:   0.01,
		GapPriceJumpHard:        0.03,
		GapSpikeZThreshold:      4.0,
		StaleBookAgeMsThreshold: 2000,

		BasisZSoft:      2.0,
		BasisZHard:      4.0,
		BasisVolZSoft:   2.0,
		BasisVolZHard:   4.0,
		ExposureSoftCap: 0.03,
		ExposureHardCap: 0.05,

		NetRREpsPrice: 1e-8,

		GapFracBase:                   0.02,
		GapHVSensitivity:              0.5,
		GapHVZCap:                     3.0,
		GapFracMin:                    0.01,
		GapFracMax:                    0.10,
		GapUnitRiskEps:                1e-8,
		MaxGapLossPctEquity:           0.02,
		LiqBufferFrac:                 0.10,
		PortfolioMaxGapLossPctEquity:  0.06,
		StressGapLambdaUnityThreshold: 0.90,

		MaxOCCRetries:    3,
		CommitRetryCount: 3,

		FlapToHibernateThreshold: 4,
		CrisisEmergencyThreshold: 0.85,

		FlapWindowBaseMinutes:    15,
		FlapWindowMinMinutes:     5,
		FlapWindowMaxMinutes:     30,
		HibernateDurationMinutes: 60,

		CrisisWeightDQSDeficit:       0.35,
		CrisisWeightDrawdownSmoothed: 0.30,
		CrisisWeightFlapRate:         0.20,
		CrisisWeightCorrStaleFrac:    0.15,

		VarianceDragCriticalFrac: 0.10,

		DrawdownLadderSoftPct: 0.05,
		DrawdownLadderHardPct: 0.15,

		ReferenceNotionalRiskPct: 0.01,
		HeatMinReductionBps:      20,
		HeatBlendMinReliability:  0.5,
		DiscFloorEps:             1e-9,
		LotStepQty:               1e-6,

		SizingDeviationThreshold:          0.10,
		LiquidityMinConvergenceThreshold:  0.5,
		LowLiquidityCapMult:               0.5,
		HighImpactCapMult:                 0.4,

		HedgeOptMult:   1.0,
		HedgeAbsCapPct: 0.01,
		HeatForcedBMin: 1e-6,

		SizingMaxIters:         50,
		SizingAlpha0:           0.5,
		SizingAlphaMin:         0.05,
		SizingTol:              1e-9,
		SizingNewtonDerivFloor: 1e-9,
	}
}
