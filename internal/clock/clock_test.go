package clock

import (
	"testing"
	"time"

	"github.com/sawpanic/gatekeeper/internal/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogicalClockMonotone(t *testing.T) {
	c := NewLogicalClock(100)
	assert.Equal(t, int64(101), c.Advance(50))
	assert.Equal(t, int64(200), c.Advance(200))
	assert.Equal(t, int64(201), c.Advance(150))
}

func TestCheckOrderingViolation(t *testing.T) {
	require.NoError(t, CheckOrdering(100, 90))
	err := CheckOrdering(80, 90)
	require.Error(t, err)
}

func TestRegistryPublishAndCurrent(t *testing.T) {
	r := NewRegistry(1000)
	_, ok := r.Current()
	assert.False(t, ok)

	id1 := r.Publish(snapshot.Snapshot{PublishedAtUTC: time.Now()})
	id2 := r.Publish(snapshot.Snapshot{PublishedAtUTC: time.Now()})
	assert.Equal(t, int64(1), id1)
	assert.Equal(t, int64(2), id2)

	cur, ok := r.Current()
	require.True(t, ok)
	assert.Equal(t, int64(2), cur.SnapshotID)
}
