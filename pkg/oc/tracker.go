package oc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ocbot/ocbot/pkg/types"
)

// AnchorSource tags where a bucket anchor came from, mostly for logging and
// skip-reason reporting.
type AnchorSource string

const (
	SourceCached    AnchorSource = "cached"
	SourceCandle    AnchorSource = "candle"
	SourcePrevClose AnchorSource = "prev_close"
	SourceGrace     AnchorSource = "grace"
	SourceNone      AnchorSource = "none"
)

const defaultAnchorCacheSize = 8192
const defaultGracePeriod = 10 * time.Second

// Bucket is the anchor record for one (exchange, symbol, interval) window.
// A new bucketStart supersedes the previous one; superseded buckets age out
// of the LRU.
type Bucket struct {
	BucketStart int64
	Anchor      float64
	Source      AnchorSource
	LastUpdate  time.Time
}

type runningCandle struct {
	kline types.KLine
}

type prevClose struct {
	bucketStart int64
	close       float64
}

// TrackerOptions tune the tracker. Zero values fall back to defaults.
type TrackerOptions struct {
	AnchorCacheSize  int
	GracePeriod      time.Duration
	FetchConcurrency int
}

// Tracker maintains the bucket anchor currently in force for every
// (exchange, symbol, interval) it has observed, sourced from the
// highest-fidelity feed available with a REST fallback.
type Tracker struct {
	exchange types.ExchangeName

	mu        sync.Mutex
	anchors   *lruCache[*Bucket]
	running   map[string]runningCandle
	prevClose map[string]prevClose

	queue       *fetchQueue
	gracePeriod time.Duration

	logger *logrus.Entry
}

func NewTracker(exchange types.ExchangeName, fetcher OpenPriceFetcher, opts TrackerOptions) *Tracker {
	if opts.AnchorCacheSize <= 0 {
		opts.AnchorCacheSize = defaultAnchorCacheSize
	}

	if opts.GracePeriod <= 0 {
		opts.GracePeriod = defaultGracePeriod
	}

	t := &Tracker{
		exchange:    exchange,
		anchors:     newLRUCache[*Bucket](opts.AnchorCacheSize),
		running:     make(map[string]runningCandle),
		prevClose:   make(map[string]prevClose),
		gracePeriod: opts.GracePeriod,
		logger:      logrus.WithField("component", "oc_tracker"),
	}

	t.queue = newFetchQueue(exchange, fetcher, opts.FetchConcurrency, t.applyFetchResult)
	return t
}

func bucketKey(exchange types.ExchangeName, symbol string, interval types.Interval, bucketStart int64) string {
	return fmt.Sprintf("%s:%s:%s:%d", exchange, symbol, interval, bucketStart)
}

func seriesKey(exchange types.ExchangeName, symbol string, interval types.Interval) string {
	return fmt.Sprintf("%s:%s:%s", exchange, symbol, interval)
}

// HandleKLine ingests a running or closed candle. The candle open is the
// authoritative anchor for its own bucket, and a closed candle's close
// becomes the defensive open(t) = close(t-1) source for the next bucket.
func (t *Tracker) HandleKLine(k types.KLine) {
	sk := seriesKey(k.Exchange, k.Symbol, k.Interval)
	start := types.BucketStart(k.Interval, k.StartMs())
	if start < 0 {
		t.logger.Warnf("dropping kline with unsupported interval %q for %s", k.Interval, k.Symbol)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.running[sk] = runningCandle{kline: k}
	t.setAnchorLocked(k.Exchange, k.Symbol, k.Interval, start, k.Open, SourceCandle)

	if k.Closed {
		t.prevClose[sk] = prevClose{bucketStart: start, close: k.Close}
	}
}

// HandleTick ingests a trade price. Ticks only seed an anchor when the bucket
// has no anchor yet and the tick arrived inside the grace window; a late tick
// must never masquerade as the bucket open.
func (t *Tracker) HandleTick(tick types.PriceTick, interval types.Interval) {
	start := types.BucketStart(interval, tick.Time.UnixMilli())
	if start < 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	key := bucketKey(tick.Exchange, tick.Symbol, interval, start)
	if _, ok := t.anchors.Get(key); ok {
		return
	}

	if !t.withinGraceLocked(start, tick.Time) {
		return
	}

	t.setAnchorLocked(tick.Exchange, tick.Symbol, interval, start, tick.Price, SourceGrace)
}

func (t *Tracker) setAnchorLocked(
	exchange types.ExchangeName, symbol string, interval types.Interval,
	bucketStart int64, anchor float64, source AnchorSource,
) {
	if anchor <= 0 {
		return
	}

	key := bucketKey(exchange, symbol, interval, bucketStart)

	// A candle or REST open always overrides a grace-window approximation,
	// never the other way around.
	if existing, ok := t.anchors.Get(key); ok {
		if existing.Source != SourceGrace || source == SourceGrace {
			existing.LastUpdate = time.Now()
			return
		}
	}

	t.anchors.Put(key, &Bucket{
		BucketStart: bucketStart,
		Anchor:      anchor,
		Source:      source,
		LastUpdate:  time.Now(),
	})
}

func (t *Tracker) withinGraceLocked(bucketStart int64, now time.Time) bool {
	return now.UnixMilli()-bucketStart <= t.gracePeriod.Milliseconds()
}

func (t *Tracker) applyFetchResult(r fetchResult) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := bucketKey(r.Exchange, r.Symbol, r.Interval, r.BucketStart)
	t.anchors.Put(key, &Bucket{
		BucketStart: r.BucketStart,
		Anchor:      r.Price,
		Source:      SourceCached,
		LastUpdate:  time.Now(),
	})
}

// GetAnchor resolves the anchor for the bucket the timestamp falls into.
// Sources are tried strictly in order: cached anchor, the feed's running
// candle for the same bucket, the previous bucket's close, and finally the
// current price while still inside the grace window (with a REST fetch
// kicked off in the background). Once the grace window has elapsed an
// unresolved bucket yields ok=false and the caller must skip detection for
// this tick.
func (t *Tracker) GetAnchor(
	ctx context.Context, symbol string, interval types.Interval, currentPrice float64, now time.Time,
) (anchor float64, source AnchorSource, ok bool) {
	start := types.BucketStart(interval, now.UnixMilli())
	if start < 0 {
		recordAnchorResolution(SourceNone)
		return 0, SourceNone, false
	}

	t.mu.Lock()

	key := bucketKey(t.exchange, symbol, interval, start)
	if b, found := t.anchors.Get(key); found {
		t.mu.Unlock()
		recordAnchorResolution(b.Source)
		return b.Anchor, b.Source, true
	}

	sk := seriesKey(t.exchange, symbol, interval)

	if rc, found := t.running[sk]; found {
		if types.BucketStart(interval, rc.kline.StartMs()) == start && rc.kline.Open > 0 {
			t.setAnchorLocked(t.exchange, symbol, interval, start, rc.kline.Open, SourceCandle)
			t.mu.Unlock()
			recordAnchorResolution(SourceCandle)
			return rc.kline.Open, SourceCandle, true
		}
	}

	if pc, found := t.prevClose[sk]; found {
		if pc.bucketStart == start-interval.Milliseconds() && pc.close > 0 {
			t.setAnchorLocked(t.exchange, symbol, interval, start, pc.close, SourcePrevClose)
			t.mu.Unlock()
			recordAnchorResolution(SourcePrevClose)
			return pc.close, SourcePrevClose, true
		}
	}

	inGrace := t.withinGraceLocked(start, now)
	t.mu.Unlock()

	if !inGrace {
		recordAnchorResolution(SourceNone)
		return 0, SourceNone, false
	}

	t.queue.Submit(ctx, symbol, interval, start)

	if currentPrice > 0 {
		recordAnchorResolution(SourceGrace)
		return currentPrice, SourceGrace, true
	}

	recordAnchorResolution(SourceNone)
	return 0, SourceNone, false
}
