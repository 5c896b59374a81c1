package numerics

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDenomSafeSigned(t *testing.T) {
	assert.Equal(t, 5.0, DenomSafeSigned(5.0, 1e-6))
	assert.Equal(t, 1e-6, DenomSafeSigned(1e-9, 1e-6))
	assert.Equal(t, -1e-6, DenomSafeSigned(-1e-9, 1e-6))
	assert.Equal(t, 1e-6, DenomSafeSigned(0, 1e-6))
}

func TestDenomSafeUnsigned(t *testing.T) {
	assert.Equal(t, 5.0, DenomSafeUnsigned(-5.0, 1e-6))
	assert.Equal(t, 1e-6, DenomSafeUnsigned(1e-9, 1e-6))
}

func TestSafeLogReturnSwitchesNearZero(t *testing.T) {
	r, err := SafeLogReturn(0.001, LogReturnSwitchThreshold, CompoundingRFloorEps)
	require.NoError(t, err)
	assert.InDelta(t, math.Log1p(0.001), r, 1e-15)
}

func TestSafeLogReturnDomainViolation(t *testing.T) {
	_, err := SafeLogReturn(-1.0, LogReturnSwitchThreshold, CompoundingRFloorEps)
	require.Error(t, err)
	var dv *DomainViolationError
	require.True(t, errors.As(err, &dv))
	assert.True(t, errors.Is(err, ErrDomainViolation))
}

func TestSanitizeFallback(t *testing.T) {
	v, err := Sanitize(math.NaN(), 0.0, SanitizeFallback)
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)
}

func TestSanitizeForbid(t *testing.T) {
	_, err := Sanitize(math.Inf(1), 0.0, SanitizeForbid)
	require.Error(t, err)
}

func TestIsClose(t *testing.T) {
	assert.True(t, IsClose(1.0000000001, 1.0, ContextIntegrationKPI))
	assert.False(t, IsClose(1.1, 1.0, ContextStrictUnit))
}

func TestClip(t *testing.T) {
	assert.Equal(t, 0.0, Clip(-1, 0, 1))
	assert.Equal(t, 1.0, Clip(2, 0, 1))
	assert.Equal(t, 0.5, Clip(0.5, 0, 1))
}
