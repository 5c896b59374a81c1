// Package clock implements the Lamport-style logical clock and the monotone
// snapshot registry described in spec.md §3/§4.12/§5, grounded on the
// cached-validity pattern in sawpanic-cryptorun's regime detector
// (internal/domain/regime/detector.go's ValidUntil/lastDetection fields),
// generalized here to a monotone counter with atomic CAS advancement.
package clock

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sawpanic/gatekeeper/internal/snapshot"
)

// LogicalClock produces monotone millisecond timestamps satisfying
// logical_clock_ms = max(external_ts_ms, prev+1).
type LogicalClock struct {
	last atomic.Int64
}

// NewLogicalClock creates a clock seeded at the given starting value.
func NewLogicalClock(seedMs int64) *LogicalClock {
	c := &LogicalClock{}
	c.last.Store(seedMs)
	return c
}

// Advance computes the next logical clock value for an externally reported
// timestamp and stores it if it is newer than the current value.
func (c *LogicalClock) Advance(externalTsMs int64) int64 {
	for {
		prev := c.last.Load()
		next := prev + 1
		if externalTsMs > next {
			next = externalTsMs
		}
		if c.last.CompareAndSwap(prev, next) {
			return next
		}
	}
}

// Now returns the current logical clock value without advancing it.
func (c *LogicalClock) Now() int64 {
	return c.last.Load()
}

// ClockViolationError is raised when logical_clock_ms < market_state.ts_utc_ms,
// per spec.md §3's invariant; the caller must force DRP >= DEFENSIVE.
type ClockViolationError struct {
	LogicalClockMs int64
	MarketTsMs     int64
}

func (e *ClockViolationError) Error() string {
	return fmt.Sprintf("clock: logical_clock_ms=%d < market_state.ts_utc_ms=%d", e.LogicalClockMs, e.MarketTsMs)
}

// CheckOrdering enforces logical_clock_ms >= market_state.ts_utc_ms.
func CheckOrdering(logicalClockMs, marketTsMs int64) error {
	if logicalClockMs < marketTsMs {
		return &ClockViolationError{LogicalClockMs: logicalClockMs, MarketTsMs: marketTsMs}
	}
	return nil
}

// Registry assigns monotone snapshot IDs and tracks the currently-published
// snapshot for readers. It is safe for concurrent use: publication is the
// only mutation, guarded by a mutex, while reads take a cheap copy of the
// pointer.
type Registry struct {
	mu       sync.RWMutex
	nextID   int64
	current  *snapshot.Snapshot
	maxAgeMs int64
}

// NewRegistry creates a snapshot registry that stores maxAgeMs as its
// staleness bound, exposed via MaxAgeMs. Current returns the latest snapshot
// whatever its age; it does not reject stale snapshots.
func NewRegistry(maxAgeMs int64) *Registry {
	return &Registry{maxAgeMs: maxAgeMs}
}

// Publish assigns the next snapshot ID, stores the snapshot as current, and
// returns the stamped snapshot ID.
func (r *Registry) Publish(s snapshot.Snapshot) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	s.SnapshotID = r.nextID
	r.current = &s
	return r.nextID
}

// Current returns the most recently published snapshot, or ok=false if none
// has been published yet.
func (r *Registry) Current() (snapshot.Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.current == nil {
		return snapshot.Snapshot{}, false
	}
	return *r.current, true
}

// MaxAgeMs returns the configured staleness bound.
func (r *Registry) MaxAgeMs() int64 {
	return r.maxAgeMs
}
