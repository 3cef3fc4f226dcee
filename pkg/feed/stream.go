package feed

import (
	"context"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/ocbot/ocbot/pkg/types"
)

const defaultEventBuffer = 1024

// Handler receives normalized feed events. Calls are made from a single
// dispatch goroutine, so every event is observed exactly once in arrival
// order.
type Handler interface {
	HandleTick(tick types.PriceTick)
	HandleKLine(kline types.KLine)
}

type event struct {
	tick  *types.PriceTick
	kline *types.KLine
}

// Stream subscribes to binance kline and aggTrade websockets for a set of
// symbols and funnels the normalized events through one bounded channel.
type Stream struct {
	exchange  types.ExchangeName
	symbols   []string
	intervals []types.Interval
	handler   Handler

	events chan event

	logger *logrus.Entry
}

func NewStream(symbols []string, intervals []types.Interval, handler Handler) *Stream {
	return &Stream{
		exchange:  types.ExchangeBinance,
		symbols:   symbols,
		intervals: intervals,
		handler:   handler,
		events:    make(chan event, defaultEventBuffer),
		logger:    logrus.WithField("component", "feed"),
	}
}

// Run connects all subscriptions and dispatches events until the context is
// cancelled. Dropped websocket connections reconnect with exponential
// backoff.
func (s *Stream) Run(ctx context.Context) {
	for _, symbol := range s.symbols {
		go s.serve(ctx, "aggTrade:"+symbol, func() (chan struct{}, chan struct{}, error) {
			return binance.WsAggTradeServe(symbol, s.handleAggTrade, s.handleWsError)
		})

		for _, interval := range s.intervals {
			iv := interval
			sym := symbol
			go s.serve(ctx, "kline:"+sym+":"+string(iv), func() (chan struct{}, chan struct{}, error) {
				return binance.WsKlineServe(sym, string(iv), s.handleKLine, s.handleWsError)
			})
		}
	}

	s.dispatch(ctx)
}

type serveFunc func() (doneC, stopC chan struct{}, err error)

func (s *Stream) serve(ctx context.Context, name string, connect serveFunc) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	op := func() error {
		doneC, stopC, err := connect()
		if err != nil {
			s.logger.WithError(err).Warnf("subscribe %s failed", name)
			return err
		}

		bo.Reset()

		select {
		case <-ctx.Done():
			close(stopC)
			<-doneC
			return backoff.Permanent(ctx.Err())
		case <-doneC:
			s.logger.Warnf("stream %s closed by remote, reconnecting", name)
			return errStreamClosed
		}
	}

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil && ctx.Err() == nil {
		s.logger.WithError(err).Errorf("stream %s gave up", name)
	}
}

func (s *Stream) handleWsError(err error) {
	s.logger.WithError(err).Warn("websocket error")
}

func (s *Stream) handleAggTrade(e *binance.WsAggTradeEvent) {
	price, err := strconv.ParseFloat(e.Price, 64)
	if err != nil {
		s.logger.WithError(err).Warnf("bad aggTrade price %q for %s", e.Price, e.Symbol)
		return
	}

	s.push(event{tick: &types.PriceTick{
		Exchange: s.exchange,
		Symbol:   e.Symbol,
		Price:    price,
		Time:     time.UnixMilli(e.TradeTime),
	}})
}

func (s *Stream) handleKLine(e *binance.WsKlineEvent) {
	k, err := convertWsKline(s.exchange, e)
	if err != nil {
		s.logger.WithError(err).Warnf("bad kline event for %s", e.Symbol)
		return
	}

	s.push(event{kline: &k})
}

// push keeps arrival order by blocking instead of dropping; the channel is
// sized so a stall here means the consumer is wedged, not slow.
func (s *Stream) push(e event) {
	s.events <- e
}

func (s *Stream) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-s.events:
			if e.kline != nil {
				s.handler.HandleKLine(*e.kline)
			}
			if e.tick != nil {
				s.handler.HandleTick(*e.tick)
			}
		}
	}
}

func convertWsKline(exchange types.ExchangeName, e *binance.WsKlineEvent) (types.KLine, error) {
	open, err := strconv.ParseFloat(e.Kline.Open, 64)
	if err != nil {
		return types.KLine{}, err
	}

	high, err := strconv.ParseFloat(e.Kline.High, 64)
	if err != nil {
		return types.KLine{}, err
	}

	low, err := strconv.ParseFloat(e.Kline.Low, 64)
	if err != nil {
		return types.KLine{}, err
	}

	closePrice, err := strconv.ParseFloat(e.Kline.Close, 64)
	if err != nil {
		return types.KLine{}, err
	}

	volume, err := strconv.ParseFloat(e.Kline.Volume, 64)
	if err != nil {
		return types.KLine{}, err
	}

	return types.KLine{
		Exchange:  exchange,
		Symbol:    e.Symbol,
		Interval:  types.Interval(e.Kline.Interval),
		StartTime: time.UnixMilli(e.Kline.StartTime),
		EndTime:   time.UnixMilli(e.Kline.EndTime),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
		Closed:    e.Kline.IsFinal,
	}, nil
}
