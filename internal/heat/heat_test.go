package heat

import (
	"math"
	"testing"

	"github.com/sawpanic/gatekeeper/internal/corrmatrix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func identity2() corrmatrix.Matrix {
	m, err := corrmatrix.NewMatrixFromRows([][]float64{{1, 0}, {0, 1}})
	if err != nil {
		panic(err)
	}
	return m
}

func TestNormIdentityEqualsEuclidean(t *testing.T) {
	r := []float64{0.01, 0.02}
	got := Norm(r, identity2())
	want := math.Sqrt(0.01*0.01 + 0.02*0.02)
	assert.InDelta(t, want, got, 1e-12)
}

func TestUniAbs(t *testing.T) {
	assert.InDelta(t, 0.03, UniAbs([]float64{0.01, -0.02}), 1e-12)
}

func TestWorstForLimitsTakesMax(t *testing.T) {
	r := []float64{0.05, -0.05}
	w := WorstForLimits(r, identity2(), identity2())
	assert.GreaterOrEqual(t, w, Norm(r, identity2()))
}

func TestSolveNearZeroBShortcut(t *testing.T) {
	r := []float64{0, 0}
	res := Solve(r, identity2(), 0, 1, 0.05, 1e-9, 1e-6)
	assert.InDelta(t, 0.05, res.XMax, 1e-9)
	assert.False(t, res.Rejected)
}

func TestSolveRejectsWhenNoRoom(t *testing.T) {
	r := []float64{0.1, 0.1}
	res := Solve(r, identity2(), 0, 1, 0.01, 1e-9, 1e-6)
	assert.True(t, res.Rejected || res.XMax == 0)
}

func TestHedgeCapTakesMinimum(t *testing.T) {
	got := HedgeCap(-0.02, 2.0, 0.05, 0.01, 0.03)
	assert.InDelta(t, 0.01, got, 1e-12)
}

func TestAboveHardAllowedRequiresReduction(t *testing.T) {
	assert.False(t, AboveHardAllowed(0.01, 0.05, 0.04, 10))
	assert.True(t, AboveHardAllowed(-0.01, 0.05, 0.03, 20))
}

func TestAssertUnitDiagonal(t *testing.T) {
	require.True(t, AssertUnitDiagonal(identity2(), 1e-6))
}

func TestRemainingHeatLimitsTakesMin(t *testing.T) {
	assert.InDelta(t, 0.2, RemainingHeatLimits(0.5, 0.2, 0.9), 1e-12)
}
