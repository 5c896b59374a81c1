package snapshot

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineSignalValidateLong(t *testing.T) {
	s := EngineSignal{Direction: DirLong, Levels: Levels{EntryPrice: 100, TakeProfit: 106, StopLoss: 98}}
	require.NoError(t, s.Validate())

	bad := EngineSignal{Direction: DirLong, Levels: Levels{EntryPrice: 100, TakeProfit: 99, StopLoss: 98}}
	require.Error(t, bad.Validate())
}

func TestEngineSignalValidateShort(t *testing.T) {
	s := EngineSignal{Direction: DirShort, Levels: Levels{EntryPrice: 100, TakeProfit: 94, StopLoss: 102}}
	require.NoError(t, s.Validate())

	bad := EngineSignal{Direction: DirShort, Levels: Levels{EntryPrice: 100, TakeProfit: 101, StopLoss: 102}}
	require.Error(t, bad.Validate())
}

func TestMLEOutputValidate(t *testing.T) {
	ok := MLEOutput{
		ArtifactSHA256: strings.Repeat("a", 64),
		RiskMult:       1.0,
		PSuccess:       0.55,
		PNeutral:       0.05,
		PFail:          0.40,
	}
	require.NoError(t, ok.Validate())

	bad := ok
	bad.PSuccess = 2.0
	require.Error(t, bad.Validate())

	bad2 := ok
	bad2.PSuccess = 0.9
	require.Error(t, bad2.Validate())

	bad3 := ok
	bad3.ArtifactSHA256 = "short"
	require.Error(t, bad3.Validate())
}

func TestClusterIndexPartitionsByCluster(t *testing.T) {
	p := PortfolioState{Positions: []Position{
		{Instrument: "BTC", ClusterID: "majors"},
		{Instrument: "ETH", ClusterID: "majors"},
		{Instrument: "DOGE", ClusterID: "memes"},
	}}
	idx := p.ClusterIndex()
	assert.ElementsMatch(t, []int{0, 1}, idx["majors"])
	assert.ElementsMatch(t, []int{2}, idx["memes"])
}

func TestSnapshotIsStale(t *testing.T) {
	s := Snapshot{PublishedAtUTC: time.Now().Add(-2 * time.Second)}
	assert.True(t, s.IsStale(time.Now(), 500))
	assert.False(t, s.IsStale(time.Now(), 5000))
}
