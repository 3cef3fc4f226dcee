package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pushJobs(s *Scheduler, lane Lane, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := 0; i < n; i++ {
		q := &queuedJob{
			job:        Job{Lane: lane},
			enqueuedAt: time.Now(),
			done:       make(chan error, 1),
		}
		if lane == LaneSecondary {
			s.secondary = append(s.secondary, q)
		} else {
			s.primary = append(s.primary, q)
		}
	}
}

func TestSchedulerBurstWeightedFairness(t *testing.T) {
	gate := newTestGate(RateGateOptions{})
	defer gate.Close()

	s := NewScheduler(gate, SchedulerOptions{PrimaryBurst: 5})

	pushJobs(s, LanePrimary, 6)
	pushJobs(s, LaneSecondary, 5)

	var order []Lane
	for i := 0; i < 11; i++ {
		q := s.dequeue()
		require.NotNil(t, q)
		order = append(order, q.job.Lane)
	}

	assert.Nil(t, s.dequeue())

	// one secondary job after every full primary burst; the 6th primary
	// job waits for the next burst window
	expected := []Lane{
		LanePrimary, LanePrimary, LanePrimary, LanePrimary, LanePrimary,
		LaneSecondary,
		LanePrimary,
		LaneSecondary, LaneSecondary, LaneSecondary, LaneSecondary,
	}
	assert.Equal(t, expected, order)
}

func TestSchedulerLaneFallbackWhenOneEmpty(t *testing.T) {
	gate := newTestGate(RateGateOptions{})
	defer gate.Close()

	s := NewScheduler(gate, SchedulerOptions{PrimaryBurst: 2})

	pushJobs(s, LaneSecondary, 3)

	for i := 0; i < 3; i++ {
		q := s.dequeue()
		require.NotNil(t, q)
		assert.Equal(t, LaneSecondary, q.job.Lane)
	}
}

func (s *Scheduler) queueLens() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.primary), len(s.secondary)
}

func TestSchedulerBackpressureDropsOldestSecondaryFirst(t *testing.T) {
	gate := newTestGate(RateGateOptions{})
	defer gate.Close()

	// no drain loop running: jobs accumulate
	s := NewScheduler(gate, SchedulerOptions{MaxQueueSize: 2})

	results := make(chan error, 4)
	enqueue := func(lane Lane) {
		go func() {
			results <- s.Do(context.Background(), Job{
				Lane:    lane,
				Payload: func(ctx context.Context) error { return nil },
			})
		}()
	}

	enqueue(LaneSecondary)
	require.Eventually(t, func() bool {
		_, n := s.queueLens()
		return n == 1
	}, time.Second, time.Millisecond)

	enqueue(LanePrimary)
	require.Eventually(t, func() bool {
		n, _ := s.queueLens()
		return n == 1
	}, time.Second, time.Millisecond)

	// queue is at the bound: this submission evicts the secondary job
	enqueue(LanePrimary)
	err := <-results
	assert.ErrorIs(t, err, ErrQueueOverflow)

	np, ns := s.queueLens()
	assert.Equal(t, 2, np)
	assert.Equal(t, 0, ns)

	// only primary jobs remain: the oldest primary is the next victim
	enqueue(LanePrimary)
	err = <-results
	assert.ErrorIs(t, err, ErrQueueOverflow)
}

func TestSchedulerPayloadErrorPassthrough(t *testing.T) {
	gate := newTestGate(RateGateOptions{})
	defer gate.Close()

	s := NewScheduler(gate, SchedulerOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	err := s.Do(ctx, Job{
		Lane:    LanePrimary,
		Payload: func(ctx context.Context) error { return assert.AnError },
	})
	assert.ErrorIs(t, err, assert.AnError)

	err = s.Do(ctx, Job{
		Lane:    LaneSecondary,
		Payload: func(ctx context.Context) error { return nil },
	})
	assert.NoError(t, err)
}

func TestSchedulerCircuitBreakerEndToEnd(t *testing.T) {
	gate := newTestGate(RateGateOptions{
		FailureThreshold: 1,
		ThrottleStep:     2.0,
		MaxMultiplier:    4.0,
		CooldownDuration: 60 * time.Millisecond,
	})
	defer gate.Close()

	s := NewScheduler(gate, SchedulerOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	timeoutPayload := func(ctx context.Context) error { return context.DeadlineExceeded }

	// first timeout-class failure steps the multiplier above 1x
	err := s.Do(ctx, Job{Lane: LanePrimary, Payload: timeoutPayload})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 2.0, gate.Multiplier())

	// second failure reaches the ceiling and opens the circuit
	err = s.Do(ctx, Job{Lane: LanePrimary, Payload: timeoutPayload})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 4.0, gate.Multiplier())

	err = s.Do(ctx, Job{Lane: LanePrimary, Payload: func(ctx context.Context) error { return nil }})
	require.True(t, IsCircuitOpen(err))

	var coErr *CircuitOpenError
	require.ErrorAs(t, err, &coErr)
	assert.Greater(t, coErr.Cooldown, time.Duration(0))

	// after the cooldown the breaker closes and work flows again, with the
	// multiplier reset above 1x but below ceiling
	time.Sleep(80 * time.Millisecond)

	err = s.Do(ctx, Job{Lane: LanePrimary, Payload: func(ctx context.Context) error { return nil }})
	assert.NoError(t, err)

	m := gate.Multiplier()
	assert.Greater(t, m, 1.0)
	assert.Less(t, m, 4.0)
}
