package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type Lane string

const (
	LanePrimary   Lane = "primary"
	LaneSecondary Lane = "secondary"
)

// Job is one opaque unit of outbound work. The scheduler decides when the
// payload runs, never what it means.
type Job struct {
	Lane         Lane
	RequiresAuth bool
	Testnet      bool
	Payload      func(ctx context.Context) error
}

type queuedJob struct {
	job        Job
	enqueuedAt time.Time
	done       chan error
}

type SchedulerOptions struct {
	// PrimaryBurst is how many primary-lane jobs dispatch before one
	// secondary-lane job gets a turn when both lanes are non-empty.
	PrimaryBurst int

	// MaxQueueSize bounds the combined queue length. Beyond it the oldest
	// secondary-lane job is dropped, or the oldest primary-lane job if no
	// secondary jobs remain.
	MaxQueueSize int
}

func DefaultSchedulerOptions() SchedulerOptions {
	return SchedulerOptions{
		PrimaryBurst: 5,
		MaxQueueSize: 256,
	}
}

// Scheduler multiplexes submitted jobs across two priority lanes through a
// single drain loop, consulting the rate gate before every dispatch.
type Scheduler struct {
	gate *RateGate
	opts SchedulerOptions

	mu        sync.Mutex
	primary   []*queuedJob
	secondary []*queuedJob
	burstUsed int

	wake chan struct{}

	logger *logrus.Entry
}

func NewScheduler(gate *RateGate, opts SchedulerOptions) *Scheduler {
	def := DefaultSchedulerOptions()
	if opts.PrimaryBurst <= 0 {
		opts.PrimaryBurst = def.PrimaryBurst
	}
	if opts.MaxQueueSize <= 0 {
		opts.MaxQueueSize = def.MaxQueueSize
	}

	return &Scheduler{
		gate:   gate,
		opts:   opts,
		wake:   make(chan struct{}, 1),
		logger: logrus.WithField("component", "dispatch"),
	}
}

// Do submits the job and blocks until it settles. The payload's own error is
// returned untouched; scheduler-level rejections come back as
// *CircuitOpenError or ErrQueueOverflow.
func (s *Scheduler) Do(ctx context.Context, job Job) error {
	if remaining, open := s.gate.CircuitOpen(time.Now()); open {
		return &CircuitOpenError{Cooldown: remaining}
	}

	q := &queuedJob{
		job:        job,
		enqueuedAt: time.Now(),
		done:       make(chan error, 1),
	}

	s.mu.Lock()
	s.shedLocked()
	if job.Lane == LaneSecondary {
		s.secondary = append(s.secondary, q)
	} else {
		s.primary = append(s.primary, q)
	}
	s.updateDepthLocked()
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}

	select {
	case err := <-q.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// shedLocked enforces the queue bound, preferring to drop stale secondary
// work so recent primary work survives overload.
func (s *Scheduler) shedLocked() {
	for len(s.primary)+len(s.secondary) >= s.opts.MaxQueueSize {
		var victim *queuedJob
		var lane Lane

		if len(s.secondary) > 0 {
			victim, s.secondary = s.secondary[0], s.secondary[1:]
			lane = LaneSecondary
		} else if len(s.primary) > 0 {
			victim, s.primary = s.primary[0], s.primary[1:]
			lane = LanePrimary
		} else {
			return
		}

		droppedJobsMetrics.WithLabelValues(string(lane)).Inc()
		s.logger.Warnf("queue overflow, dropping oldest %s-lane job enqueued at %s",
			lane, victim.enqueuedAt.Format(time.RFC3339))
		victim.done <- ErrQueueOverflow
	}
}

// dequeue applies the burst-weighted pick-next policy.
func (s *Scheduler) dequeue() *queuedJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	var q *queuedJob

	switch {
	case len(s.primary) > 0 && len(s.secondary) > 0:
		if s.burstUsed < s.opts.PrimaryBurst {
			q, s.primary = s.primary[0], s.primary[1:]
			s.burstUsed++
		} else {
			q, s.secondary = s.secondary[0], s.secondary[1:]
			s.burstUsed = 0
		}
	case len(s.primary) > 0:
		q, s.primary = s.primary[0], s.primary[1:]
		if s.burstUsed < s.opts.PrimaryBurst {
			s.burstUsed++
		}
	case len(s.secondary) > 0:
		q, s.secondary = s.secondary[0], s.secondary[1:]
		s.burstUsed = 0
	default:
		return nil
	}

	s.updateDepthLocked()
	return q
}

func (s *Scheduler) updateDepthLocked() {
	queueDepthMetrics.WithLabelValues(string(LanePrimary)).Set(float64(len(s.primary)))
	queueDepthMetrics.WithLabelValues(string(LaneSecondary)).Set(float64(len(s.secondary)))
}

// Run drains the queue until the context is cancelled. There is exactly one
// drain loop per scheduler; ordering within a lane is FIFO.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		if remaining, open := s.gate.CircuitOpen(time.Now()); open {
			select {
			case <-ctx.Done():
				return
			case <-time.After(min(remaining, time.Second)):
			}
			continue
		}

		q := s.dequeue()
		if q == nil {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
			}
			continue
		}

		class := GateClass{Signed: q.job.RequiresAuth, Testnet: q.job.Testnet}
		if err := s.gate.Wait(ctx, class); err != nil {
			q.done <- err
			if ctx.Err() != nil {
				return
			}
			continue
		}

		go s.invoke(ctx, q)
	}
}

func (s *Scheduler) invoke(ctx context.Context, q *queuedJob) {
	err := q.job.Payload(ctx)
	if IsTimeoutError(err) {
		s.gate.RecordTimeoutFailure(time.Now())
	}

	q.done <- err
}
