package types

import (
	"encoding/json"
	"time"
)

type Interval string

func (i Interval) Minutes() int {
	return SupportedIntervals[i]
}

func (i Interval) Duration() time.Duration {
	return time.Duration(i.Minutes()) * time.Minute
}

func (i Interval) Milliseconds() int64 {
	return int64(i.Minutes()) * 60 * 1000
}

func (i *Interval) UnmarshalJSON(b []byte) (err error) {
	var a string
	err = json.Unmarshal(b, &a)
	if err != nil {
		return err
	}

	*i = Interval(a)
	return
}

func (i Interval) String() string {
	return string(i)
}

var Interval1m = Interval("1m")
var Interval3m = Interval("3m")
var Interval5m = Interval("5m")
var Interval15m = Interval("15m")
var Interval30m = Interval("30m")
var Interval1h = Interval("1h")
var Interval2h = Interval("2h")
var Interval4h = Interval("4h")
var Interval6h = Interval("6h")
var Interval8h = Interval("8h")
var Interval12h = Interval("12h")
var Interval1d = Interval("1d")
var Interval3d = Interval("3d")
var Interval1w = Interval("1w")

var SupportedIntervals = map[Interval]int{
	Interval1m:  1,
	Interval3m:  3,
	Interval5m:  5,
	Interval15m: 15,
	Interval30m: 30,
	Interval1h:  60,
	Interval2h:  60 * 2,
	Interval4h:  60 * 4,
	Interval6h:  60 * 6,
	Interval8h:  60 * 8,
	Interval12h: 60 * 12,
	Interval1d:  60 * 24,
	Interval3d:  60 * 24 * 3,
	Interval1w:  60 * 24 * 7,
}

// BucketStart aligns the given epoch-millisecond timestamp down to the
// interval boundary it falls into. An interval missing from
// SupportedIntervals yields -1; intervals arrive from operator-owned tables
// and feeds, so a bad value must be skippable, never fatal.
func BucketStart(interval Interval, timestampMs int64) int64 {
	width := interval.Milliseconds()
	if width <= 0 {
		return -1
	}

	return timestampMs - timestampMs%width
}
