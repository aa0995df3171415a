package fetcher

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Candle is one closed kline for a symbol.
type Candle struct {
	OpenTime  time.Time
	CloseTime time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}

// Series is an ordered candle sequence, most recent last.
type Series []Candle

// Closes extracts the closing prices in series order.
func (s Series) Closes() []decimal.Decimal {
	closes := make([]decimal.Decimal, len(s))
	for i, candle := range s {
		closes[i] = candle.Close
	}
	return closes
}

// Validate enforces the series invariant: at least minCandles entries and
// strictly increasing open times.
func (s Series) Validate(minCandles int) error {
	if len(s) < minCandles {
		return ErrInsufficientData
	}
	for i := 1; i < len(s); i++ {
		if !s[i].OpenTime.After(s[i-1].OpenTime) {
			return ErrInsufficientData
		}
	}
	return nil
}

// ErrInsufficientData marks a fetched series the detection core must not see:
// too short, out of order, or carrying unparseable numeric fields.
var ErrInsufficientData = errors.New("fetcher: insufficient or invalid candle data")

// RetryPolicy bounds transient-failure retries inside a fetch call.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// delay returns the linear backoff before retrying after the given one-based attempt.
func (p RetryPolicy) delay(attempt int) time.Duration {
	return time.Duration(attempt) * p.Backoff
}

// CandleFetcher retrieves the candle series for one symbol.
type CandleFetcher interface {
	FetchCandles(ctx context.Context, symbol string) (Series, error)
}
