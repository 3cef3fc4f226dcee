package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGate(opts RateGateOptions) *RateGate {
	if opts.SignedInterval == 0 {
		opts.SignedInterval = time.Millisecond
	}
	if opts.UnsignedInterval == 0 {
		opts.UnsignedInterval = time.Millisecond
	}
	if opts.DecayInterval == 0 {
		opts.DecayInterval = time.Hour
	}
	if opts.QuietPeriod == 0 {
		opts.QuietPeriod = time.Hour
	}

	return NewRateGate(opts)
}

func TestRateGateMultiplierSteps(t *testing.T) {
	gate := newTestGate(RateGateOptions{
		FailureThreshold: 3,
		ThrottleStep:     1.5,
		MaxMultiplier:    4.0,
	})
	defer gate.Close()

	now := time.Now()

	gate.RecordTimeoutFailure(now)
	gate.RecordTimeoutFailure(now)
	assert.Equal(t, 1.0, gate.Multiplier())

	gate.RecordTimeoutFailure(now)
	assert.Equal(t, 1.5, gate.Multiplier())

	// each trigger needs a fresh window of failures
	for i := 0; i < 3; i++ {
		gate.RecordTimeoutFailure(now)
	}
	assert.InDelta(t, 2.25, gate.Multiplier(), 1e-9)
}

func TestRateGateWindowExpiry(t *testing.T) {
	gate := newTestGate(RateGateOptions{
		FailureWindow:    50 * time.Millisecond,
		FailureThreshold: 3,
	})
	defer gate.Close()

	now := time.Now()

	gate.RecordTimeoutFailure(now)
	gate.RecordTimeoutFailure(now)

	// the earlier failures have aged out of the window by now
	gate.RecordTimeoutFailure(now.Add(100 * time.Millisecond))
	assert.Equal(t, 1.0, gate.Multiplier())
}

func TestRateGateCircuitOpensAtCeiling(t *testing.T) {
	gate := newTestGate(RateGateOptions{
		FailureThreshold: 1,
		ThrottleStep:     2.0,
		MaxMultiplier:    4.0,
		CooldownDuration: 50 * time.Millisecond,
	})
	defer gate.Close()

	now := time.Now()

	gate.RecordTimeoutFailure(now)
	assert.Equal(t, 2.0, gate.Multiplier())

	_, open := gate.CircuitOpen(now)
	assert.False(t, open)

	gate.RecordTimeoutFailure(now)
	assert.Equal(t, 4.0, gate.Multiplier())

	remaining, open := gate.CircuitOpen(now)
	require.True(t, open)
	assert.Greater(t, remaining, time.Duration(0))

	// cooldown elapses: breaker closes and the multiplier resets to a
	// conservative value above 1x, below ceiling
	_, open = gate.CircuitOpen(now.Add(60 * time.Millisecond))
	assert.False(t, open)
	assert.Equal(t, 1.5, gate.Multiplier())
}

func TestRateGateDecay(t *testing.T) {
	gate := newTestGate(RateGateOptions{
		FailureThreshold: 1,
		ThrottleStep:     1.5,
		MaxMultiplier:    4.0,
		DecayInterval:    5 * time.Millisecond,
		QuietPeriod:      time.Millisecond,
	})
	defer gate.Close()

	// an old failure steps the multiplier up but does not hold off decay
	gate.RecordTimeoutFailure(time.Now().Add(-time.Second))
	require.Equal(t, 1.5, gate.Multiplier())

	require.Eventually(t, func() bool {
		return gate.Multiplier() == 1.0
	}, time.Second, 5*time.Millisecond)
}

func TestRateGateWaitPaces(t *testing.T) {
	gate := newTestGate(RateGateOptions{
		UnsignedInterval: 20 * time.Millisecond,
	})
	defer gate.Close()

	class := GateClass{Signed: false, Testnet: false}

	start := time.Now()
	require.NoError(t, gate.Wait(context.Background(), class))
	require.NoError(t, gate.Wait(context.Background(), class))
	require.NoError(t, gate.Wait(context.Background(), class))

	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestIsTimeoutError(t *testing.T) {
	assert.False(t, IsTimeoutError(nil))
	assert.False(t, IsTimeoutError(assert.AnError))
	assert.True(t, IsTimeoutError(context.DeadlineExceeded))
	assert.True(t, IsTimeoutError(errors.New("read tcp: i/o timeout")))
	assert.True(t, IsTimeoutError(errors.New("<APIError> code=-1001, msg=internal error")))
}
