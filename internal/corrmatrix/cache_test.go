package corrmatrix

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilSnapshotCacheIsNoOp(t *testing.T) {
	var c *SnapshotCache
	ctx := context.Background()

	assert.NoError(t, c.Store(ctx, 1, Snapshot{}))
	_, ok := c.Load(ctx, 1)
	assert.False(t, ok)
}

func TestSnapshotCacheWithNoClientIsNoOp(t *testing.T) {
	c := NewSnapshotCache(nil, time.Minute)
	ctx := context.Background()

	assert.NoError(t, c.Store(ctx, 1, Snapshot{}))
	_, ok := c.Load(ctx, 1)
	assert.False(t, ok)
}

func TestWireSnapshotRoundTripsMatrixData(t *testing.T) {
	m, err := NewMatrixFromRows([][]float64{
		{1, 0.5, 0.2},
		{0.5, 1, 0.3},
		{0.2, 0.3, 1},
	})
	require.NoError(t, err)

	snap := Snapshot{
		CorrMatrixSnapshotID: 7,
		ComputedAtUnixMs:     1000,
		ValidFromUnixMs:      1000,
		MatrixAgeSec:         0.5,
		GammaS:               0.4,
		SHA256:               SHA256Hex(m),
		MatrixData:           m,
	}

	w := toWire(snap)
	round, err := fromWire(w)
	require.NoError(t, err)

	assert.Equal(t, snap.CorrMatrixSnapshotID, round.CorrMatrixSnapshotID)
	assert.Equal(t, snap.SHA256, round.SHA256)
	for i := 0; i < m.N; i++ {
		for j := 0; j < m.N; j++ {
			assert.InDelta(t, m.At(i, j), round.MatrixData.At(i, j), 1e-12)
		}
	}
}

func TestCacheKeyIsStableAndHandlesNegatives(t *testing.T) {
	assert.Equal(t, "gatekeeper:corrmatrix:0", cacheKey(0))
	assert.Equal(t, "gatekeeper:corrmatrix:42", cacheKey(42))
	assert.Equal(t, "gatekeeper:corrmatrix:-3", cacheKey(-3))
}
