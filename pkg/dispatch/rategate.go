package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// GateClass selects the pacing lane for an outbound request. Exchanges
// rate-limit signed and unsigned calls differently, and testnet budgets are
// independent of mainnet ones.
type GateClass struct {
	Signed  bool
	Testnet bool
}

func (c GateClass) String() string {
	s := "unsigned"
	if c.Signed {
		s = "signed"
	}
	if c.Testnet {
		return s + "/testnet"
	}
	return s + "/mainnet"
}

type RateGateOptions struct {
	SignedInterval   time.Duration
	UnsignedInterval time.Duration

	FailureWindow    time.Duration
	FailureThreshold int

	ThrottleStep  float64
	MaxMultiplier float64

	DecayFactor   float64
	DecayInterval time.Duration
	QuietPeriod   time.Duration

	CooldownDuration time.Duration
	ResetMultiplier  float64
}

func DefaultRateGateOptions() RateGateOptions {
	return RateGateOptions{
		SignedInterval:   250 * time.Millisecond,
		UnsignedInterval: 100 * time.Millisecond,
		FailureWindow:    60 * time.Second,
		FailureThreshold: 3,
		ThrottleStep:     1.5,
		MaxMultiplier:    4.0,
		DecayFactor:      0.8,
		DecayInterval:    5 * time.Second,
		QuietPeriod:      30 * time.Second,
		CooldownDuration: 15 * time.Second,
		ResetMultiplier:  1.5,
	}
}

// RateGate paces outbound requests per class and stretches all pacing
// intervals by an adaptive multiplier driven by timeout-class failures.
// State is per-process only; horizontally scaled deployments each carry
// their own budget.
type RateGate struct {
	opts RateGateOptions

	mu        sync.Mutex
	limiters  map[GateClass]*rate.Limiter
	baseEvery map[GateClass]time.Duration

	multiplier      float64
	failures        []time.Time
	lastFailure     time.Time
	circuitOpen     bool
	circuitOpenedAt time.Time

	stopOnce sync.Once
	done     chan struct{}

	logger *logrus.Entry
}

func NewRateGate(opts RateGateOptions) *RateGate {
	def := DefaultRateGateOptions()
	if opts.SignedInterval <= 0 {
		opts.SignedInterval = def.SignedInterval
	}
	if opts.UnsignedInterval <= 0 {
		opts.UnsignedInterval = def.UnsignedInterval
	}
	if opts.FailureWindow <= 0 {
		opts.FailureWindow = def.FailureWindow
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = def.FailureThreshold
	}
	if opts.ThrottleStep <= 1 {
		opts.ThrottleStep = def.ThrottleStep
	}
	if opts.MaxMultiplier <= 1 {
		opts.MaxMultiplier = def.MaxMultiplier
	}
	if opts.DecayFactor <= 0 || opts.DecayFactor >= 1 {
		opts.DecayFactor = def.DecayFactor
	}
	if opts.DecayInterval <= 0 {
		opts.DecayInterval = def.DecayInterval
	}
	if opts.QuietPeriod <= 0 {
		opts.QuietPeriod = def.QuietPeriod
	}
	if opts.CooldownDuration <= 0 {
		opts.CooldownDuration = def.CooldownDuration
	}
	if opts.ResetMultiplier <= 1 {
		opts.ResetMultiplier = def.ResetMultiplier
	}

	g := &RateGate{
		opts:       opts,
		limiters:   make(map[GateClass]*rate.Limiter),
		baseEvery:  make(map[GateClass]time.Duration),
		multiplier: 1.0,
		done:       make(chan struct{}),
		logger:     logrus.WithField("component", "rategate"),
	}

	for _, signed := range []bool{false, true} {
		for _, testnet := range []bool{false, true} {
			class := GateClass{Signed: signed, Testnet: testnet}
			base := opts.UnsignedInterval
			if signed {
				base = opts.SignedInterval
			}
			g.baseEvery[class] = base
			g.limiters[class] = rate.NewLimiter(rate.Every(base), 1)
		}
	}

	throttleMultiplierMetrics.Set(1.0)
	circuitOpenMetrics.Set(0)

	go g.decayLoop()
	return g
}

func (g *RateGate) Close() {
	g.stopOnce.Do(func() { close(g.done) })
}

// Wait blocks until the class's pacing allows the next request out.
func (g *RateGate) Wait(ctx context.Context, class GateClass) error {
	g.mu.Lock()
	limiter := g.limiters[class]
	g.mu.Unlock()

	return limiter.Wait(ctx)
}

// RecordTimeoutFailure reports one timeout-class failure. Enough failures
// inside the sliding window step the throttle multiplier up; reaching the
// ceiling opens the circuit.
func (g *RateGate) RecordTimeoutFailure(now time.Time) {
	timeoutFailureMetrics.Inc()

	g.mu.Lock()
	defer g.mu.Unlock()

	g.lastFailure = now

	cutoff := now.Add(-g.opts.FailureWindow)
	kept := g.failures[:0]
	for _, t := range g.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	g.failures = append(kept, now)

	if len(g.failures) < g.opts.FailureThreshold {
		return
	}

	// one throttle step per trigger, then start a fresh window
	g.failures = g.failures[:0]

	next := g.multiplier * g.opts.ThrottleStep
	if next >= g.opts.MaxMultiplier {
		next = g.opts.MaxMultiplier
	}

	if next != g.multiplier {
		g.multiplier = next
		g.applyLimitsLocked()
		g.logger.Warnf("throttle multiplier stepped up to %.2fx", g.multiplier)
	}

	if g.multiplier >= g.opts.MaxMultiplier && !g.circuitOpen {
		g.circuitOpen = true
		g.circuitOpenedAt = now
		circuitOpenMetrics.Set(1)
		g.logger.Warnf("circuit opened, cooling down for %s", g.opts.CooldownDuration)
	}
}

// CircuitOpen reports whether the breaker currently rejects work. An elapsed
// cooldown closes the breaker in place and resets the multiplier to a
// conservative value above 1x so a still-degraded backend does not re-trip
// immediately.
func (g *RateGate) CircuitOpen(now time.Time) (remaining time.Duration, open bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.circuitOpen {
		return 0, false
	}

	elapsed := now.Sub(g.circuitOpenedAt)
	if elapsed >= g.opts.CooldownDuration {
		g.circuitOpen = false
		g.failures = g.failures[:0]
		g.multiplier = g.opts.ResetMultiplier
		g.applyLimitsLocked()
		circuitOpenMetrics.Set(0)
		g.logger.Infof("circuit closed, multiplier reset to %.2fx", g.multiplier)
		return 0, false
	}

	return g.opts.CooldownDuration - elapsed, true
}

func (g *RateGate) Multiplier() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.multiplier
}

func (g *RateGate) applyLimitsLocked() {
	for class, limiter := range g.limiters {
		every := time.Duration(float64(g.baseEvery[class]) * g.multiplier)
		limiter.SetLimit(rate.Every(every))
	}
	throttleMultiplierMetrics.Set(g.multiplier)
}

func (g *RateGate) decayLoop() {
	ticker := time.NewTicker(g.opts.DecayInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.done:
			return
		case now := <-ticker.C:
			g.decay(now)
		}
	}
}

func (g *RateGate) decay(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.circuitOpen || g.multiplier <= 1.0 {
		return
	}

	if now.Sub(g.lastFailure) < g.opts.QuietPeriod {
		return
	}

	g.multiplier *= g.opts.DecayFactor
	if g.multiplier < 1.0 {
		g.multiplier = 1.0
	}

	g.applyLimitsLocked()
	g.logger.Debugf("throttle multiplier decayed to %.2fx", g.multiplier)
}
