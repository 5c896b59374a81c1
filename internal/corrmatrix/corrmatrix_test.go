package corrmatrix

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func invalidCorrMatrix() Matrix {
	// Diagonal ok but off-diagonals make this matrix indefinite.
	m, err := NewMatrixFromRows([][]float64{
		{1, 0.95, -0.95},
		{0.95, 1, -0.95},
		{-0.95, -0.95, 1},
	})
	if err != nil {
		panic(err)
	}
	return m
}

func TestProjectPSDProducesUnitDiagonalAndNonNegativeEigenvalues(t *testing.T) {
	m := invalidCorrMatrix()
	res := ProjectPSD(m, 10, DefaultPSDEigFloor, DefaultPSDDiagFloor, DefaultDiagEps)

	for i := 0; i < res.Matrix.N; i++ {
		assert.InDelta(t, 1.0, res.Matrix.At(i, i), DefaultDiagEps*10)
	}
	_, values := EigFloorClip(res.Matrix, math.Inf(-1))
	for _, v := range values {
		assert.GreaterOrEqual(t, v, -1e-6)
	}
}

func TestShrinkTowardIdentity(t *testing.T) {
	m, err := NewMatrixFromRows([][]float64{{1, 0.8}, {0.8, 1}})
	require.NoError(t, err)
	shrunk := Shrink(m, 0.5)
	assert.InDelta(t, 0.4, shrunk.At(0, 1), 1e-9)
	assert.InDelta(t, 1.0, shrunk.At(0, 0), 1e-9)
}

func TestStressTransformAsymmetricWeakensNegativeCorrelation(t *testing.T) {
	m, err := NewMatrixFromRows([][]float64{{1, -0.6}, {-0.6, 1}})
	require.NoError(t, err)
	stressed := StressTransform(m, StressAsymmetric, DefaultStressCorrDelta)
	assert.Greater(t, stressed.At(0, 1), m.At(0, 1)) // moved toward 0, i.e. less negative
}

func TestStressTransformBreakHedgesPushesTowardOne(t *testing.T) {
	m, err := NewMatrixFromRows([][]float64{{1, -0.6}, {-0.6, 1}})
	require.NoError(t, err)
	stressed := StressTransform(m, StressBreakHedges, 0.5)
	assert.Greater(t, stressed.At(0, 1), -0.6)
}

func TestBlendGamma(t *testing.T) {
	psd, _ := NewMatrixFromRows([][]float64{{1, 0.2}, {0.2, 1}})
	stress, _ := NewMatrixFromRows([][]float64{{1, 0.8}, {0.8, 1}})
	blended := BlendGamma(psd, stress, 0.25)
	assert.InDelta(t, 0.35, blended.At(0, 1), 1e-9)
}

func TestSmoothGamma(t *testing.T) {
	g := SmoothGamma(0.2, 0.8, 0.1)
	assert.InDelta(t, 0.26, g, 1e-9)
}

func TestSHA256HexDeterministic(t *testing.T) {
	m, _ := NewMatrixFromRows([][]float64{{1, 0.5}, {0.5, 1}})
	h1 := SHA256Hex(m)
	h2 := SHA256Hex(m)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestPublisherPublishIncrementsID(t *testing.T) {
	pub := NewPublisher(0.1, StressAsymmetric, DefaultStressCorrDelta, 0.2, DefaultPSDEigFloor, DefaultPSDDiagFloor, DefaultDiagEps, 5)
	m := invalidCorrMatrix()
	s1, psd1 := pub.Publish(m, 0.3, 1000, 1000)
	s2, _ := pub.Publish(m, 0.3, 2000, 2000)
	assert.Equal(t, int64(1), s1.CorrMatrixSnapshotID)
	assert.Equal(t, int64(2), s2.CorrMatrixSnapshotID)
	assert.NotEmpty(t, s1.SHA256)
	for i := 0; i < psd1.N; i++ {
		assert.InDelta(t, 1.0, psd1.At(i, i), 1e-3)
	}
}

func TestSnapshotIsUsable(t *testing.T) {
	s := Snapshot{ValidFromUnixMs: 1000, MatrixAgeSec: 5}
	assert.True(t, s.IsUsable(2000, 10))
	assert.False(t, s.IsUsable(500, 10))
	assert.False(t, s.IsUsable(2000, 2))
}
