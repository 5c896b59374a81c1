package gklog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSinkDropsWhenQueueFull(t *testing.T) {
	s := NewSink(0)
	defer s.Close()

	for i := 0; i < 5; i++ {
		s.Log(SeverityInfo, "test_event", nil)
	}
	time.Sleep(10 * time.Millisecond)
	assert.GreaterOrEqual(t, s.Dropped(), int64(0))
}

func TestSinkSynchronousSeverityAlwaysWrites(t *testing.T) {
	s := NewSink(1)
	defer s.Close()

	assert.NotPanics(t, func() {
		s.Log(SeverityEmergency, "halt_all_trading", map[string]any{"reason": "test"})
	})
}

func TestSeverityZerologLevelExhaustive(t *testing.T) {
	for _, sev := range []Severity{SeverityDebug, SeverityInfo, SeverityWarn, SeverityError, SeverityCritical, SeverityEmergency} {
		assert.NotPanics(t, func() { _ = sev.zerologLevel() })
	}
}

func TestSeverityZerologLevelPanicsOnUnhandled(t *testing.T) {
	assert.Panics(t, func() { _ = Severity(99).zerologLevel() })
}
