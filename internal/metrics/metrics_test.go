package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersWithoutPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	var r *Registry
	assert.NotPanics(t, func() { r = New(reg) })
	require.NotNil(t, r)
}

func TestRecordGateAndBlock(t *testing.T) {
	r := New(prometheus.NewRegistry())

	assert.NotPanics(t, func() {
		r.RecordGate("gate5", "pass")
		r.RecordGate("gate5", "block")
		r.RecordBlock("unit_risk_too_small")
	})
}

func TestChainTimerStop(t *testing.T) {
	r := New(prometheus.NewRegistry())
	timer := r.StartChainTimer()
	assert.NotPanics(t, func() { timer.Stop() })
}

func TestHandlerNotNil(t *testing.T) {
	r := New(prometheus.NewRegistry())
	assert.NotNil(t, r.Handler())
}

func TestDoubleRegisterPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
