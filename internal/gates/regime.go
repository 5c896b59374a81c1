package gates

import "github.com/sawpanic/gatekeeper/internal/snapshot"

// ResolveRegime implements the Gate 2 decision table of spec.md §4.8. It is a
// pure function of the MRC/baseline regime pair plus confidence so it can be
// unit-tested exhaustively against every cell of the table.
func ResolveRegime(mrc, baseline snapshot.RegimeLabel, mrcConfidence, veryHighConfThreshold float64) (regime ResolvedRegime, noiseOverride bool) {
	switch {
	case mrc == snapshot.RegimeNoise:
		return ResolvedNoTrade, false

	case baseline == snapshot.RegimeNoise && isTrendOrBreakout(mrc) && mrcConfidence >= veryHighConfThreshold:
		return ResolvedRegime(mrc), true

	case mrc == snapshot.RegimeRange && isTrend(baseline):
		return ResolvedRange, false

	case isTrend(mrc) && baseline == snapshot.RegimeRange:
		return breakoutAligned(mrc), false

	case isBreakout(mrc) && baseline == snapshot.RegimeRange:
		return ResolvedRegime(mrc), false

	case isBreakout(mrc) && isTrend(baseline):
		if sameSign(mrc, baseline) {
			return ResolvedRegime(mrc), false
		}
		return ResolvedNoTrade, false

	case mrc == snapshot.RegimeTrendUp && baseline == snapshot.RegimeTrendDown:
		return ResolvedNoTrade, false
	case mrc == snapshot.RegimeTrendDown && baseline == snapshot.RegimeTrendUp:
		return ResolvedNoTrade, false

	case mrc == baseline:
		return ResolvedRegime(mrc), false

	default:
		return ResolvedNoTrade, false
	}
}

func isTrend(r snapshot.RegimeLabel) bool {
	return r == snapshot.RegimeTrendUp || r == snapshot.RegimeTrendDown
}

func isBreakout(r snapshot.RegimeLabel) bool {
	return r == snapshot.RegimeBreakoutUp || r == snapshot.RegimeBreakoutDown
}

func isTrendOrBreakout(r snapshot.RegimeLabel) bool {
	return isTrend(r) || isBreakout(r)
}

func breakoutAligned(mrc snapshot.RegimeLabel) ResolvedRegime {
	if mrc == snapshot.RegimeTrendUp {
		return ResolvedBreakoutUp
	}
	return ResolvedBreakoutDown
}

func sameSign(a, b snapshot.RegimeLabel) bool {
	up := map[snapshot.RegimeLabel]bool{snapshot.RegimeTrendUp: true, snapshot.RegimeBreakoutUp: true}
	down := map[snapshot.RegimeLabel]bool{snapshot.RegimeTrendDown: true, snapshot.RegimeBreakoutDown: true}
	return (up[a] && up[b]) || (down[a] && down[b])
}

// EngineCompatible implements Gate 3: TREND engines require TREND_* or
// BREAKOUT_*; RANGE engines require RANGE, or a raw NOISE reading (which Gate
// 2 otherwise resolves to NO_TRADE) paired with a STRONG MLE decision under a
// tight ATR-z cap.
func EngineCompatible(engine snapshot.Engine, regime ResolvedRegime, mrcWasNoise bool, mleDecision snapshot.MLEDecision, atrZShort, noiseRangeATRZCap float64) bool {
	switch engine {
	case snapshot.EngineTrend:
		return regime == ResolvedTrendUp || regime == ResolvedTrendDown || regime == ResolvedBreakoutUp || regime == ResolvedBreakoutDown
	case snapshot.EngineRange:
		if regime == ResolvedRange {
			return true
		}
		return mrcWasNoise && mleDecision == snapshot.MLEStrong && atrZShort < noiseRangeATRZCap
	default:
		panic("gates: unhandled engine variant")
	}
}
