package oc

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ocbot/ocbot/pkg/types"
)

const defaultMatchStateCacheSize = 16384
const defaultRetraceRatio = 0.3
const defaultStallDuration = 20 * time.Second

// Match is a detected open-change event. At most one is emitted per
// subscription per bucket.
type Match struct {
	SubscriptionID int64
	BotID          int64
	Symbol         string
	Interval       types.Interval
	BucketStart    int64

	Price         float64
	Anchor        float64
	AnchorSource  AnchorSource
	PercentChange float64
	Direction     types.Direction

	Time time.Time
}

func (m *Match) String() string {
	return fmt.Sprintf("match sub=%d %s %s oc=%.4f%% %s @%f",
		m.SubscriptionID, m.Symbol, m.Interval, m.PercentChange, m.Direction, m.Price)
}

// matchState is the per-(subscription, bucket) trigger state. It is owned
// exclusively by the Matcher and bounded by an LRU keyed the same way.
type matchState struct {
	armed bool
	fired bool

	peakAbs      float64
	peakAt       time.Time
	firstCrossAt time.Time
}

// Matcher consumes price ticks and decides whether a subscription's
// open-change rule has matched inside the current bucket.
type Matcher struct {
	tracker *Tracker

	mu     sync.Mutex
	states *lruCache[*matchState]

	logger *logrus.Entry
}

func NewMatcher(tracker *Tracker) *Matcher {
	return &Matcher{
		tracker: tracker,
		states:  newLRUCache[*matchState](defaultMatchStateCacheSize),
		logger:  logrus.WithField("component", "oc_matcher"),
	}
}

func stateKey(subID int64, symbol string, interval types.Interval, bucketStart int64) string {
	return fmt.Sprintf("%d:%s:%s:%d", subID, symbol, interval, bucketStart)
}

// Evaluate feeds one tick through the subscription's rule. A nil return
// means no match: either the anchor was unresolvable (hard skip, no state
// mutated), the threshold was not met, or the bucket already fired.
func (m *Matcher) Evaluate(ctx context.Context, sub types.Subscription, tick types.PriceTick) *Match {
	anchor, source, ok := m.tracker.GetAnchor(ctx, tick.Symbol, sub.Interval, tick.Price, tick.Time)
	if !ok || anchor <= 0 {
		return nil
	}

	bucketStart := types.BucketStart(sub.Interval, tick.Time.UnixMilli())
	percentChange := (tick.Price - anchor) / anchor * 100

	direction := types.DirectionUp
	if tick.Price < anchor {
		direction = types.DirectionDown
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := stateKey(sub.ID, tick.Symbol, sub.Interval, bucketStart)
	state, found := m.states.Get(key)
	if !found {
		state = &matchState{}
		m.states.Put(key, state)
	}

	if state.fired {
		return nil
	}

	if sub.Reverse {
		if !m.evaluateReverse(sub, state, percentChange, tick.Time) {
			return nil
		}
	} else {
		if !m.evaluateTrendFollow(sub, state, percentChange, tick.Time) {
			return nil
		}
	}

	state.fired = true

	return &Match{
		SubscriptionID: sub.ID,
		BotID:          sub.BotID,
		Symbol:         tick.Symbol,
		Interval:       sub.Interval,
		BucketStart:    bucketStart,
		Price:          tick.Price,
		Anchor:         anchor,
		AnchorSource:   source,
		PercentChange:  percentChange,
		Direction:      direction,
		Time:           tick.Time,
	}
}

// evaluateTrendFollow fires on the first tick that crosses the threshold.
func (m *Matcher) evaluateTrendFollow(sub types.Subscription, state *matchState, percentChange float64, now time.Time) bool {
	if math.Abs(percentChange) < sub.Threshold {
		return false
	}

	if state.firstCrossAt.IsZero() {
		state.firstCrossAt = now
	}

	return true
}

// evaluateReverse holds the peak after the threshold crossing and fires only
// once the move retraces by the configured ratio or stalls. Transient spikes
// that keep running in the triggering direction never fire.
func (m *Matcher) evaluateReverse(sub types.Subscription, state *matchState, percentChange float64, now time.Time) bool {
	abs := math.Abs(percentChange)

	if !state.armed {
		if abs < sub.Threshold {
			return false
		}

		state.armed = true
		state.firstCrossAt = now
		state.peakAbs = abs
		state.peakAt = now
		return false
	}

	if abs > state.peakAbs {
		state.peakAbs = abs
		state.peakAt = now
		return false
	}

	retraceRatio := sub.RetraceRatio
	if retraceRatio <= 0 {
		retraceRatio = defaultRetraceRatio
	}

	stall := sub.StallDuration.Duration()
	if stall <= 0 {
		stall = defaultStallDuration
	}

	if abs <= state.peakAbs*(1-retraceRatio) {
		return true
	}

	return now.Sub(state.peakAt) >= stall
}
