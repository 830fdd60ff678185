// Package ingest accepts raw ticks and points, assigns them stable ids and
// arrival sequence numbers, and drives the immediate aggregation feedback
// loop: a tick ingest answers with the refreshed 1-minute candle, a point
// ingest answers with the merged latest value.
package ingest

import (
	"errors"
	"fmt"
	"math"
)

// Validation errors. Rejected inputs are never retried.
var (
	ErrInvalidTick  = errors.New("invalid tick")
	ErrInvalidPoint = errors.New("invalid point")
)

// Rejection reasons, used as metric labels and for audit logging.
const (
	ReasonMissingKey = "missing_key"
	ReasonPrice      = "price"
	ReasonSize       = "size"
	ReasonSide       = "side"
	ReasonTimestamp  = "timestamp"
	ReasonSeriesKey  = "series_key"
	ReasonValue      = "value"
	ReasonNotFinite  = "not_finite"
)

// TickInput is a producer-submitted trade event. Exactly one of MarketKey
// and Symbol may be empty: producers that know the stable id send MarketKey,
// the rest send the human Symbol and rely on identity resolution.
type TickInput struct {
	MarketKey string  `json:"market_key,omitempty"`
	Symbol    string  `json:"symbol,omitempty"`
	Timestamp int64   `json:"timestamp"`
	Price     float64 `json:"price"`
	Size      float64 `json:"size"`
	Side      string  `json:"side"`
}

// PointInput is a producer-submitted metric observation.
type PointInput struct {
	MarketKey string  `json:"market_key"`
	SeriesKey string  `json:"series_key"`
	Timestamp int64   `json:"timestamp"`
	X         int64   `json:"x"`
	Value     float64 `json:"value"`
	Version   uint64  `json:"version"`
}

// ValidateTick checks a tick input against the ingest contract. The returned
// error wraps ErrInvalidTick and names the failing field.
func ValidateTick(in *TickInput) error {
	if in.MarketKey == "" && in.Symbol == "" {
		return rejectTick(ReasonMissingKey, "market_key and symbol both absent")
	}
	if in.Timestamp <= 0 {
		return rejectTick(ReasonTimestamp, fmt.Sprintf("timestamp %d not positive", in.Timestamp))
	}
	if math.IsNaN(in.Price) || math.IsInf(in.Price, 0) {
		return rejectTick(ReasonNotFinite, "price not finite")
	}
	if in.Price <= 0 {
		return rejectTick(ReasonPrice, fmt.Sprintf("price %g not positive", in.Price))
	}
	if math.IsNaN(in.Size) || math.IsInf(in.Size, 0) {
		return rejectTick(ReasonNotFinite, "size not finite")
	}
	if in.Size < 0 {
		return rejectTick(ReasonSize, fmt.Sprintf("size %g negative", in.Size))
	}
	if in.Side != "buy" && in.Side != "sell" {
		return rejectTick(ReasonSide, fmt.Sprintf("side %q not buy or sell", in.Side))
	}
	return nil
}

// ValidatePoint checks a point input against the ingest contract. The
// returned error wraps ErrInvalidPoint and names the failing field.
func ValidatePoint(in *PointInput) error {
	if in.MarketKey == "" {
		return rejectPoint(ReasonMissingKey, "market_key absent")
	}
	if in.SeriesKey == "" {
		return rejectPoint(ReasonSeriesKey, "series_key absent")
	}
	if in.Timestamp <= 0 {
		return rejectPoint(ReasonTimestamp, fmt.Sprintf("timestamp %d not positive", in.Timestamp))
	}
	if math.IsNaN(in.Value) || math.IsInf(in.Value, 0) {
		return rejectPoint(ReasonValue, "value not finite")
	}
	return nil
}

// RejectionReason extracts the reason token from a validation error message,
// falling back to "other" for unrecognized errors.
func RejectionReason(err error) string {
	var vErr *validationError
	if errors.As(err, &vErr) {
		return vErr.reason
	}
	return "other"
}

type validationError struct {
	base   error
	reason string
	detail string
}

func (e *validationError) Error() string {
	return fmt.Sprintf("%v: %s", e.base, e.detail)
}

func (e *validationError) Unwrap() error {
	return e.base
}

func rejectTick(reason, detail string) error {
	return &validationError{base: ErrInvalidTick, reason: reason, detail: detail}
}

func rejectPoint(reason, detail string) error {
	return &validationError{base: ErrInvalidPoint, reason: reason, detail: detail}
}
