package signal

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrInsufficient signals the closing-price series cannot cover every
// configured window at both of the last two bars.
var ErrInsufficient = errors.New("signal: insufficient data for configured windows")

// ComputePair computes the simple moving average of every configured window
// at the last two bar positions of the series. The SMA at position i over
// window w is the arithmetic mean of closes[i-w+1..i]. Pure function.
func ComputePair(closes []decimal.Decimal, windows []MA) (Pair, error) {
	if len(windows) == 0 {
		return Pair{}, errors.New("signal: no windows configured")
	}

	maxWindow := 0
	for _, id := range windows {
		if id.Window <= 0 {
			return Pair{}, errors.New("signal: window length must be positive")
		}
		if id.Window > maxWindow {
			maxWindow = id.Window
		}
	}
	if len(closes) < maxWindow {
		return Pair{}, ErrInsufficient
	}

	pair := Pair{
		Previous: make(Set, len(windows)),
		Current:  make(Set, len(windows)),
	}

	last := len(closes) - 1
	for _, id := range windows {
		previous, err := trailingMean(closes, last-1, id.Window)
		if err != nil {
			return Pair{}, err
		}
		current, err := trailingMean(closes, last, id.Window)
		if err != nil {
			return Pair{}, err
		}
		pair.Previous[id] = previous
		pair.Current[id] = current
	}
	return pair, nil
}

func trailingMean(closes []decimal.Decimal, position, window int) (decimal.Decimal, error) {
	start := position - window + 1
	if start < 0 || position >= len(closes) {
		return decimal.Decimal{}, ErrInsufficient
	}

	sum := decimal.Zero
	for _, close := range closes[start : position+1] {
		sum = sum.Add(close)
	}
	return sum.Div(decimal.NewFromInt(int64(window))), nil
}
