// Package drp implements the Disaster-Recovery Protocol state machine of
// spec.md §4.6: NORMAL/DEGRADED/DEFENSIVE/EMERGENCY/RECOVERY/HIBERNATE with
// strict priority ordering, warm-up-by-cause, anti-flapping, and a crisis
// index. Grounded on sawpanic-cryptorun's internal/net/circuit.Breaker
// (hand-rolled Closed/Open/HalfOpen state machine driven by explicit
// setState transitions under a mutex) generalized from three states to six,
// and wraps github.com/sony/gobreaker per market-data source so a tripped
// source breaker feeds DQS as a hard-stale input.
package drp

import (
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// State is one of the six DRP states.
type State int

const (
	Normal State = iota
	Degraded
	Defensive
	Emergency
	Recovery
	Hibernate
)

func (s State) String() string {
	switch s {
	case Normal:
		return "NORMAL"
	case Degraded:
		return "DEGRADED"
	case Defensive:
		return "DEFENSIVE"
	case Emergency:
		return "EMERGENCY"
	case Recovery:
		return "RECOVERY"
	case Hibernate:
		return "HIBERNATE"
	default:
		panic(fmt.Sprintf("drp: unhandled state variant %d", int(s)))
	}
}

// priority returns the conflict-resolution rank; higher wins. Ordering is
// EMERGENCY > HIBERNATE > RECOVERY > DEFENSIVE > DEGRADED > NORMAL.
func (s State) priority() int {
	switch s {
	case Emergency:
		return 5
	case Hibernate:
		return 4
	case Recovery:
		return 3
	case Defensive:
		return 2
	case Degraded:
		return 1
	case Normal:
		return 0
	default:
		panic(fmt.Sprintf("drp: unhandled state variant %d", int(s)))
	}
}

// isStrict reports whether a state counts toward the anti-flapping window;
// NORMAL and DEGRADED are the two non-strict operating states.
func (s State) isStrict() bool {
	switch s {
	case Defensive, Emergency, Recovery, Hibernate:
		return true
	case Normal, Degraded:
		return false
	default:
		panic(fmt.Sprintf("drp: unhandled state variant %d", int(s)))
	}
}

// Cause identifies why RECOVERY was entered, selecting the warm-up bar count.
type Cause int

const (
	CauseDataGlitch Cause = iota
	CauseLiquidity
	CauseDepeg
	CauseOther
)

// WarmupBars returns required warm-up bars per spec.md §4.6's table; OTHER
// is caller-configurable via otherBars.
func (c Cause) WarmupBars(otherBars int) int {
	switch c {
	case CauseDataGlitch:
		return 3
	case CauseLiquidity:
		return 6
	case CauseDepeg:
		return 24
	case CauseOther:
		return otherBars
	default:
		panic(fmt.Sprintf("drp: unhandled cause variant %d", int(c)))
	}
}

// Inputs is everything a single Evaluate call needs to decide the next DRP
// state, gathered from the snapshot, DQS, and the gate chain's own findings.
type Inputs struct {
	DQS                     float64
	DQSEmergencyThreshold   float64
	HardGateTriggered       bool
	CompoundingDomainViolation bool
	ReservationExpiredFill  bool
	ADLCritical             bool
	OracleBlock             bool
	CrisisIndex             float64
	CrisisEmergencyThreshold float64

	CausingConditionCleared bool
	Cause                   Cause
	OtherCauseWarmupBars    int

	ATRZShort float64

	// DQSDegradedThreshold and DefensiveTrigger drive the non-emergency
	// escalation ladder: DQS below DQSDegradedThreshold (but not low enough
	// to trigger EMERGENCY) degrades the state; DefensiveTrigger (clock
	// ordering violation, stale correlation snapshot, etc.) forces DEFENSIVE.
	DQSDegradedThreshold float64
	DefensiveTrigger     bool
}

// CrisisIndexWeights are the w1..w4 weights in spec.md's supplemented crisis
// index formula. Fields are named after the four inputs combined.
type CrisisIndexWeights struct {
	DQSDeficit           float64
	DrawdownSmoothed     float64
	FlapRate             float64
	CorrMatrixStaleFrac  float64
}

// CrisisIndex computes the composite crisis index described in SPEC_FULL.md's
// supplemented-features section:
//
//	w1*dqs_deficit + w2*drawdown_smoothed + w3*flap_rate + w4*corr_matrix_staleness_frac
func CrisisIndex(w CrisisIndexWeights, dqs, drawdownSmoothed, flapRate, corrMatrixStaleFrac float64) float64 {
	dqsDeficit := 1 - dqs
	if dqsDeficit < 0 {
		dqsDeficit = 0
	}
	return w.DQSDeficit*dqsDeficit + w.DrawdownSmoothed*drawdownSmoothed + w.FlapRate*flapRate + w.CorrMatrixStaleFrac*corrMatrixStaleFrac
}

// FlapWindowMinutes computes flap_window_minutes_eff = clip(base/max(atr_z_short,1), min, max).
func FlapWindowMinutes(baseMinutes, atrZShort, minMinutes, maxMinutes float64) float64 {
	denom := atrZShort
	if denom < 1 {
		denom = 1
	}
	v := baseMinutes / denom
	if v < minMinutes {
		return minMinutes
	}
	if v > maxMinutes {
		return maxMinutes
	}
	return v
}

// transition records one strict-state entry for the anti-flapping window.
type transition struct {
	at time.Time
	to State
}

// Machine is the mutable DRP state machine for one portfolio.
type Machine struct {
	mu sync.Mutex

	state                 State
	warmupBarsRemaining   int
	hibernateUntil        time.Time
	flapCount             int
	transitions           []transition
	flapToHibernateThresh int
	breakers              map[string]*gobreaker.CircuitBreaker[any]
}

// NewMachine constructs a machine starting in NORMAL with the given
// anti-flapping threshold.
func NewMachine(flapToHibernateThreshold int) *Machine {
	return &Machine{
		state:                 Normal,
		flapToHibernateThresh: flapToHibernateThreshold,
		breakers:              make(map[string]*gobreaker.CircuitBreaker[any]),
	}
}

// SourceBreaker lazily creates (or returns) the per-market-data-source
// circuit breaker, so a repeatedly failing feed trips open and feeds a
// hard-stale reading into DQS for that source.
func (m *Machine) SourceBreaker(source string, settings gobreaker.Settings) *gobreaker.CircuitBreaker[any] {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[source]; ok {
		return b
	}
	settings.Name = source
	b := gobreaker.NewCircuitBreaker[any](settings)
	m.breakers[source] = b
	return b
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// WarmupBarsRemaining returns the remaining RECOVERY warm-up bar count.
func (m *Machine) WarmupBarsRemaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.warmupBarsRemaining
}

// FlapCount returns the number of strict-state transitions observed in the
// current anti-flapping window.
func (m *Machine) FlapCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flapCount
}

// Evaluate runs one DRP decision tick, applying the escalation rules of
// spec.md §4.6 in priority order, updates internal state, and returns the
// resulting state.
func (m *Machine) Evaluate(now time.Time, in Inputs, flapWindow time.Duration, hibernateDuration time.Duration) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	target := m.state

	emergencyTrigger := in.HardGateTriggered ||
		in.DQS < in.DQSEmergencyThreshold ||
		in.CompoundingDomainViolation ||
		in.ReservationExpiredFill ||
		in.ADLCritical ||
		in.OracleBlock ||
		(in.CrisisEmergencyThreshold > 0 && in.CrisisIndex >= in.CrisisEmergencyThreshold)

	switch {
	case emergencyTrigger:
		target = Emergency
	case m.state == Emergency:
		if in.CausingConditionCleared {
			target = Recovery
			m.warmupBarsRemaining = in.Cause.WarmupBars(in.OtherCauseWarmupBars)
		} else {
			target = Emergency
		}
	case m.state == Recovery:
		if m.warmupBarsRemaining > 0 {
			m.warmupBarsRemaining--
		}
		if m.warmupBarsRemaining <= 0 {
			target = Normal
		} else {
			target = Recovery
		}
	case m.state == Hibernate:
		if now.Before(m.hibernateUntil) {
			target = Hibernate
		} else {
			target = Normal
		}
	case in.DefensiveTrigger:
		target = Defensive
	case in.DQS < in.DQSDegradedThreshold:
		target = Degraded
	default:
		target = Normal
	}

	if target != m.state && target.isStrict() {
		m.recordTransition(now, target, flapWindow)
		if m.flapCount >= m.flapToHibernateThresh {
			target = Hibernate
			m.hibernateUntil = now.Add(hibernateDuration)
		}
	}

	m.state = target
	return m.state
}

// recordTransition appends a strict-state transition and prunes the sliding
// window, updating flapCount.
func (m *Machine) recordTransition(now time.Time, to State, window time.Duration) {
	m.transitions = append(m.transitions, transition{at: now, to: to})
	cutoff := now.Add(-window)
	kept := m.transitions[:0]
	for _, t := range m.transitions {
		if t.at.After(cutoff) {
			kept = append(kept, t)
		}
	}
	m.transitions = kept
	m.flapCount = len(m.transitions)
}

// BlocksNewEntries reports whether the current state forbids new-entry
// admissions per spec.md Gate 0/1 semantics.
func (m *Machine) BlocksNewEntries() bool {
	s := m.State()
	switch s {
	case Emergency, Hibernate:
		return true
	case Recovery:
		return m.WarmupBarsRemaining() > 0
	case Normal, Degraded, Defensive:
		return false
	default:
		panic(fmt.Sprintf("drp: unhandled state variant %d", int(s)))
	}
}

// DefensiveMultiplier returns the DRP contribution to the Gate 13 step 13
// combined defensive multiplier, per the enumerated table implied by
// spec.md §4.7 Gate 13 item (13): stricter states compress allowed risk.
func DefensiveMultiplier(s State) float64 {
	switch s {
	case Normal:
		return 1.0
	case Degraded:
		return 0.75
	case Defensive:
		return 0.35
	case Emergency:
		return 0.0
	case Recovery:
		return 0.25
	case Hibernate:
		return 0.0
	default:
		panic(fmt.Sprintf("drp: unhandled state variant %d", int(s)))
	}
}
