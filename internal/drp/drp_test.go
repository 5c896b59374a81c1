package drp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseTime() time.Time {
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
}

func TestStatePriorityOrdering(t *testing.T) {
	assert.Greater(t, Emergency.priority(), Hibernate.priority())
	assert.Greater(t, Hibernate.priority(), Recovery.priority())
	assert.Greater(t, Recovery.priority(), Defensive.priority())
	assert.Greater(t, Defensive.priority(), Degraded.priority())
	assert.Greater(t, Degraded.priority(), Normal.priority())
}

func TestCauseWarmupBars(t *testing.T) {
	assert.Equal(t, 3, CauseDataGlitch.WarmupBars(99))
	assert.Equal(t, 6, CauseLiquidity.WarmupBars(99))
	assert.Equal(t, 24, CauseDepeg.WarmupBars(99))
	assert.Equal(t, 12, CauseOther.WarmupBars(12))
}

func TestEvaluateEmergencyOnHardGate(t *testing.T) {
	m := NewMachine(100)
	s := m.Evaluate(baseTime(), Inputs{HardGateTriggered: true}, time.Hour, time.Hour)
	assert.Equal(t, Emergency, s)
}

func TestEvaluateRecoveryWarmupThenNormal(t *testing.T) {
	m := NewMachine(100)
	now := baseTime()
	m.Evaluate(now, Inputs{HardGateTriggered: true}, time.Hour, time.Hour)
	require.Equal(t, Emergency, m.State())

	now = now.Add(time.Minute)
	s := m.Evaluate(now, Inputs{CausingConditionCleared: true, Cause: CauseDataGlitch}, time.Hour, time.Hour)
	assert.Equal(t, Recovery, s)
	assert.Equal(t, 3, m.WarmupBarsRemaining())

	for i := 0; i < 3; i++ {
		now = now.Add(time.Minute)
		s = m.Evaluate(now, Inputs{}, time.Hour, time.Hour)
	}
	assert.Equal(t, Normal, s)
	assert.Equal(t, 0, m.WarmupBarsRemaining())
}

func TestEvaluateDegradedOnLowDQS(t *testing.T) {
	m := NewMachine(100)
	s := m.Evaluate(baseTime(), Inputs{DQS: 0.5, DQSDegradedThreshold: 0.7, DQSEmergencyThreshold: 0.3}, time.Hour, time.Hour)
	assert.Equal(t, Degraded, s)
}

func TestEvaluateDefensiveTrigger(t *testing.T) {
	m := NewMachine(100)
	s := m.Evaluate(baseTime(), Inputs{DefensiveTrigger: true}, time.Hour, time.Hour)
	assert.Equal(t, Defensive, s)
}

func TestAntiFlappingForcesHibernate(t *testing.T) {
	m := NewMachine(2)
	now := baseTime()

	m.Evaluate(now, Inputs{DefensiveTrigger: true}, time.Hour, time.Hour)
	now = now.Add(time.Minute)
	m.Evaluate(now, Inputs{HardGateTriggered: true}, time.Hour, time.Hour)
	now = now.Add(time.Minute)
	s := m.Evaluate(now, Inputs{DefensiveTrigger: true, CausingConditionCleared: true, Cause: CauseDataGlitch}, time.Hour, time.Hour)

	assert.Equal(t, Hibernate, s)
}

func TestHibernateExpiresToNormal(t *testing.T) {
	m := NewMachine(1)
	now := baseTime()
	m.Evaluate(now, Inputs{DefensiveTrigger: true}, time.Hour, 2*time.Minute)
	require.Equal(t, Hibernate, m.State())

	now = now.Add(3 * time.Minute)
	s := m.Evaluate(now, Inputs{}, time.Hour, 2*time.Minute)
	assert.Equal(t, Normal, s)
}

func TestBlocksNewEntries(t *testing.T) {
	m := NewMachine(100)
	m.Evaluate(baseTime(), Inputs{HardGateTriggered: true}, time.Hour, time.Hour)
	assert.True(t, m.BlocksNewEntries())
}

func TestDefensiveMultiplierExhaustive(t *testing.T) {
	assert.Equal(t, 1.0, DefensiveMultiplier(Normal))
	assert.Equal(t, 0.0, DefensiveMultiplier(Emergency))
	assert.Equal(t, 0.0, DefensiveMultiplier(Hibernate))
}

func TestCrisisIndex(t *testing.T) {
	w := CrisisIndexWeights{DQSDeficit: 0.4, DrawdownSmoothed: 0.3, FlapRate: 0.2, CorrMatrixStaleFrac: 0.1}
	ci := CrisisIndex(w, 0.6, 0.1, 0.2, 0.0)
	assert.InDelta(t, 0.4*0.4+0.3*0.1+0.2*0.2, ci, 1e-9)
}

func TestFlapWindowMinutesClips(t *testing.T) {
	assert.Equal(t, 30.0, FlapWindowMinutes(60, 0.5, 5, 30))
	assert.Equal(t, 5.0, FlapWindowMinutes(60, 50, 5, 30))
}
