package oc

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/ocbot/ocbot/pkg/types"
)

const defaultFetchConcurrency = 2
const defaultFetchTimeout = 5 * time.Second
const maxFetchBackoff = 30 * time.Second

// OpenPriceFetcher is the REST collaborator that can recover a bucket's open
// price when no streaming source produced one.
type OpenPriceFetcher interface {
	FetchOpenPrice(ctx context.Context, symbol string, interval types.Interval, bucketStart int64) (float64, error)
}

type fetchResult struct {
	Exchange    types.ExchangeName
	Symbol      string
	Interval    types.Interval
	BucketStart int64
	Price       float64
}

// keyBreaker stops re-issuing fetches for a key that recently failed. Each
// failure pushes the retry deadline out exponentially, capped at
// maxFetchBackoff.
type keyBreaker struct {
	failures int
	retryAt  time.Time
	backoff  *backoff.ExponentialBackOff
}

func newKeyBreaker() *keyBreaker {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = maxFetchBackoff
	b.MaxElapsedTime = 0
	b.Reset()

	return &keyBreaker{backoff: b}
}

// fetchQueue de-duplicates and bounds the REST fallback path: at most one
// pending fetch per key, at most fetchConcurrency in flight overall.
type fetchQueue struct {
	fetcher  OpenPriceFetcher
	exchange types.ExchangeName
	onResult func(r fetchResult)

	sem     chan struct{}
	timeout time.Duration

	mu       sync.Mutex
	pending  map[string]struct{}
	breakers map[string]*keyBreaker

	logger *logrus.Entry
}

func newFetchQueue(exchange types.ExchangeName, fetcher OpenPriceFetcher, concurrency int, onResult func(r fetchResult)) *fetchQueue {
	if concurrency <= 0 {
		concurrency = defaultFetchConcurrency
	}

	return &fetchQueue{
		fetcher:  fetcher,
		exchange: exchange,
		onResult: onResult,
		sem:      make(chan struct{}, concurrency),
		timeout:  defaultFetchTimeout,
		pending:  make(map[string]struct{}),
		breakers: make(map[string]*keyBreaker),
		logger:   logrus.WithField("component", "oc_fetch_queue"),
	}
}

// Submit schedules a fetch for the key unless one is already pending or the
// key's breaker is still cooling down. It never blocks the caller.
func (q *fetchQueue) Submit(ctx context.Context, symbol string, interval types.Interval, bucketStart int64) {
	if q.fetcher == nil {
		return
	}

	key := bucketKey(q.exchange, symbol, interval, bucketStart)

	q.mu.Lock()
	if _, ok := q.pending[key]; ok {
		q.mu.Unlock()
		return
	}

	if br, ok := q.breakers[key]; ok && time.Now().Before(br.retryAt) {
		q.mu.Unlock()
		return
	}

	q.pending[key] = struct{}{}
	q.mu.Unlock()

	go q.fetch(ctx, key, symbol, interval, bucketStart)
}

func (q *fetchQueue) fetch(ctx context.Context, key, symbol string, interval types.Interval, bucketStart int64) {
	defer func() {
		q.mu.Lock()
		delete(q.pending, key)
		q.mu.Unlock()
	}()

	select {
	case q.sem <- struct{}{}:
		defer func() { <-q.sem }()
	case <-ctx.Done():
		return
	}

	fetchCtx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	price, err := q.fetcher.FetchOpenPrice(fetchCtx, symbol, interval, bucketStart)
	if err != nil {
		q.recordFailure(key, err)
		return
	}

	q.mu.Lock()
	delete(q.breakers, key)
	q.mu.Unlock()

	q.onResult(fetchResult{
		Exchange:    q.exchange,
		Symbol:      symbol,
		Interval:    interval,
		BucketStart: bucketStart,
		Price:       price,
	})
}

func (q *fetchQueue) recordFailure(key string, err error) {
	fetchFailureMetrics.Inc()

	q.mu.Lock()
	br, ok := q.breakers[key]
	if !ok {
		br = newKeyBreaker()
		q.breakers[key] = br
	}

	br.failures++
	cooldown := br.backoff.NextBackOff()
	br.retryAt = time.Now().Add(cooldown)
	q.mu.Unlock()

	q.logger.WithError(err).Warnf("open price fetch failed for %s, %d failures, next retry in %s",
		key, br.failures, cooldown)
}
