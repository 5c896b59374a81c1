package compounding

import (
	"errors"
	"testing"

	"github.com/sawpanic/gatekeeper/internal/numerics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompoundEquityGrowth(t *testing.T) {
	e, err := CompoundEquity(10000, []float64{0.1, -0.05, 0.02}, numerics.LogReturnSwitchThreshold, numerics.CompoundingRFloorEps)
	require.NoError(t, err)
	assert.InDelta(t, 10000*1.1*0.95*1.02, e, 1e-6)
}

func TestCompoundEquityDomainViolation(t *testing.T) {
	_, err := CompoundEquity(10000, []float64{0.1, -1.0}, numerics.LogReturnSwitchThreshold, numerics.CompoundingRFloorEps)
	require.Error(t, err)
	assert.True(t, errors.Is(err, numerics.ErrDomainViolation))
}

func TestVarianceDragCriticalBreach(t *testing.T) {
	returns := make([]float64, 50)
	for i := range returns {
		if i%2 == 0 {
			returns[i] = 0.3
		} else {
			returns[i] = -0.28
		}
	}
	res, err := VarianceDrag(returns, 250, 0.1, 0.2, numerics.LogReturnSwitchThreshold, numerics.CompoundingRFloorEps)
	require.NoError(t, err)
	assert.Greater(t, res.Annualized, 0.0)
	assert.True(t, res.CriticalBreach)
}

func TestVarianceDragEmptyIsNoop(t *testing.T) {
	res, err := VarianceDrag(nil, 250, 0.1, 0.2, numerics.LogReturnSwitchThreshold, numerics.CompoundingRFloorEps)
	require.NoError(t, err)
	assert.False(t, res.CriticalBreach)
}
