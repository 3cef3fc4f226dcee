package types

import (
	"fmt"
	"time"
)

type ExchangeName string

const (
	ExchangeBinance ExchangeName = "binance"
	ExchangeBybit   ExchangeName = "bybit"
)

type Direction int

const DirectionUp = Direction(1)
const DirectionNone = Direction(0)
const DirectionDown = Direction(-1)

func (d Direction) String() string {
	switch d {
	case DirectionUp:
		return "up"
	case DirectionDown:
		return "down"
	}
	return "none"
}

// PriceTick is a single trade-price observation from a streaming feed.
type PriceTick struct {
	Exchange ExchangeName `json:"exchange"`
	Symbol   string       `json:"symbol"`
	Price    float64      `json:"price"`
	Time     time.Time    `json:"time"`
}

// KLine is a running or closed candle for one (symbol, interval).
type KLine struct {
	Exchange ExchangeName `json:"exchange"`
	Symbol   string       `json:"symbol"`
	Interval Interval     `json:"interval"`

	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`

	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`

	Closed bool `json:"closed"`
}

func (k KLine) String() string {
	return fmt.Sprintf("%s %s %s O:%f C:%f closed:%v",
		k.Exchange, k.Symbol, k.Interval, k.Open, k.Close, k.Closed)
}

// StartMs returns the candle start as epoch milliseconds, the unit bucket
// arithmetic is done in.
func (k KLine) StartMs() int64 {
	return k.StartTime.UnixMilli()
}
