package riskunits

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeEffectivePricesLongS1(t *testing.T) {
	// Scenario S1 from spec.md §8: entry=100, sl=98, tp=106.
	costs := CostBps{
		Spread:           5,
		SlippageEntry:    2,
		SlippageTP:       2,
		SlippageStop:     2,
		ImpactEntry:      1,
		ImpactExit:       1,
		ImpactStop:       1,
		FeeEntry:         2,
		FeeExit:          2,
		StopSlippageMult: 2,
	}
	ep, err := ComputeEffectivePrices(Long, 100, 106, 98, costs)
	require.NoError(t, err)
	assert.Greater(t, ep.EntryEffAllin, 100.0)
	assert.Less(t, ep.TPEffAllin, 106.0)
	assert.Less(t, ep.SLEffAllin, 98.0)
	// 100*(1+7.5bps) - 98*(1-9.5bps) = 100.075 - 97.9069
	assert.InDelta(t, 2.1681, ep.UnitRiskAllinNet, 1e-6)
}

func TestComputeEffectivePricesShortMirrorsLong(t *testing.T) {
	costs := CostBps{Spread: 5, SlippageEntry: 2, SlippageTP: 2, SlippageStop: 2, ImpactEntry: 1, ImpactExit: 1, ImpactStop: 1, FeeEntry: 2, FeeExit: 2, StopSlippageMult: 2}
	ep, err := ComputeEffectivePrices(Short, 100, 94, 102, costs)
	require.NoError(t, err)
	assert.Less(t, ep.EntryEffAllin, 100.0)
	assert.Greater(t, ep.TPEffAllin, 94.0)
	assert.Greater(t, ep.SLEffAllin, 102.0)
}

func TestComputeEffectivePricesRejectsBadDirection(t *testing.T) {
	_, err := ComputeEffectivePrices(Direction("sideways"), 100, 106, 98, CostBps{})
	require.Error(t, err)
}

func TestRoundTickLongConservative(t *testing.T) {
	assert.Equal(t, 100.5, RoundTick(Long, "entry", 100.45, 0.5))
	assert.Equal(t, 106.0, RoundTick(Long, "tp", 106.45, 0.5))
	assert.Equal(t, 97.5, RoundTick(Long, "sl", 97.9, 0.5))
}

func TestRoundTickShortMirrors(t *testing.T) {
	assert.Equal(t, 99.5, RoundTick(Short, "entry", 99.9, 0.5))
	assert.Equal(t, 94.5, RoundTick(Short, "tp", 94.1, 0.5))
	assert.Equal(t, 102.5, RoundTick(Short, "sl", 102.1, 0.5))
}

func TestUSDToRAndBack(t *testing.T) {
	r := USDToR(-200, 200, 1e-6)
	assert.InDelta(t, -1.0, r, 1e-9)
	assert.InDelta(t, -200.0, RToUSD(r, 200), 1e-9)
}

func TestRiskPctOfEquity(t *testing.T) {
	assert.InDelta(t, 0.02, RiskPctOfEquity(200, 10000, 1e-6), 1e-12)
}

func TestUnitRiskBps(t *testing.T) {
	assert.InDelta(t, 203.0, UnitRiskBps(2.03, 100, 1e-6), 0.5)
}
