package feed

import (
	"context"
	"strconv"

	"github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"

	"github.com/ocbot/ocbot/pkg/types"
)

var errStreamClosed = errors.New("stream closed")

// RestOpenPriceFetcher recovers a bucket open price from the binance klines
// endpoint. It implements the oc tracker's REST-fallback contract and is
// only ever called through the tracker's bounded fetch queue.
type RestOpenPriceFetcher struct {
	client *binance.Client
}

func NewRestOpenPriceFetcher(client *binance.Client) *RestOpenPriceFetcher {
	return &RestOpenPriceFetcher{client: client}
}

func (f *RestOpenPriceFetcher) FetchOpenPrice(
	ctx context.Context, symbol string, interval types.Interval, bucketStart int64,
) (float64, error) {
	klines, err := f.client.NewKlinesService().
		Symbol(symbol).
		Interval(string(interval)).
		StartTime(bucketStart).
		EndTime(bucketStart + interval.Milliseconds() - 1).
		Limit(1).
		Do(ctx)
	if err != nil {
		return 0, err
	}

	if len(klines) == 0 {
		return 0, errors.Errorf("no kline returned for %s %s @%d", symbol, interval, bucketStart)
	}

	k := klines[0]
	if k.OpenTime != bucketStart {
		return 0, errors.Errorf("kline open time mismatch for %s %s: want %d, got %d",
			symbol, interval, bucketStart, k.OpenTime)
	}

	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "bad open price %q for %s", k.Open, symbol)
	}

	return open, nil
}
