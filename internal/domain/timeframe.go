package domain

import (
	"fmt"
	"time"
)

// Timeframe is a candle bucket width.
type Timeframe time.Duration

// Supported timeframes, 1m is the base resolution all others derive from.
const (
	Timeframe1m  = Timeframe(1 * time.Minute)
	Timeframe5m  = Timeframe(5 * time.Minute)
	Timeframe15m = Timeframe(15 * time.Minute)
	Timeframe30m = Timeframe(30 * time.Minute)
	Timeframe1h  = Timeframe(1 * time.Hour)
	Timeframe4h  = Timeframe(4 * time.Hour)
	Timeframe1d  = Timeframe(24 * time.Hour)
)

var timeframeToString = map[Timeframe]string{
	Timeframe1m:  "1m",
	Timeframe5m:  "5m",
	Timeframe15m: "15m",
	Timeframe30m: "30m",
	Timeframe1h:  "1h",
	Timeframe4h:  "4h",
	Timeframe1d:  "1d",
}

var stringToTimeframe = map[string]Timeframe{
	"1m":  Timeframe1m,
	"5m":  Timeframe5m,
	"15m": Timeframe15m,
	"30m": Timeframe30m,
	"1h":  Timeframe1h,
	"4h":  Timeframe4h,
	"1d":  Timeframe1d,
}

// Timeframes returns all supported timeframes in ascending width order.
func Timeframes() []Timeframe {
	return []Timeframe{
		Timeframe1m, Timeframe5m, Timeframe15m, Timeframe30m,
		Timeframe1h, Timeframe4h, Timeframe1d,
	}
}

// CascadeTimeframes returns the timeframes derived from 1-minute candles.
func CascadeTimeframes() []Timeframe {
	return []Timeframe{
		Timeframe5m, Timeframe15m, Timeframe30m,
		Timeframe1h, Timeframe4h, Timeframe1d,
	}
}

// ParseTimeframe converts a timeframe name ("5m", "1h", ...) to a Timeframe.
func ParseTimeframe(s string) (Timeframe, error) {
	tf, ok := stringToTimeframe[s]
	if !ok {
		return 0, fmt.Errorf("unknown timeframe %q", s)
	}
	return tf, nil
}

// String returns the canonical timeframe name, or the raw duration for
// unregistered values.
func (tf Timeframe) String() string {
	if s, ok := timeframeToString[tf]; ok {
		return s
	}
	return time.Duration(tf).String()
}

// Millis returns the bucket width in milliseconds.
func (tf Timeframe) Millis() int64 {
	return time.Duration(tf).Milliseconds()
}

// Valid reports whether tf is one of the supported timeframes.
func (tf Timeframe) Valid() bool {
	_, ok := timeframeToString[tf]
	return ok
}
