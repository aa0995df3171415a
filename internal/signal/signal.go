package signal

import (
	"time"

	"github.com/shopspring/decimal"
)

// MA identifies one configured moving average by name and window length.
type MA struct {
	Name   string
	Window int
}

// Set maps each configured MA to its computed value for a single bar.
type Set map[MA]decimal.Decimal

// Pair holds the MA values for the last two bars of a series.
type Pair struct {
	Previous Set
	Current  Set
}

// Direction classifies the outcome of one detection cycle.
type Direction int

const (
	None Direction = iota
	Up
	Down
)

func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	default:
		return "none"
	}
}

// Strategy is the immutable crossover configuration: one principal MA tested
// against a set of reference MAs with a minimum strength fraction
// (0.02 = the principal must clear each reference by 2%).
type Strategy struct {
	Principal   MA
	References  []MA
	MinStrength decimal.Decimal
}

// Windows returns the distinct MAs the strategy needs computed.
func (s Strategy) Windows() []MA {
	windows := make([]MA, 0, len(s.References)+1)
	seen := map[MA]bool{s.Principal: true}
	windows = append(windows, s.Principal)
	for _, ref := range s.References {
		if seen[ref] {
			continue
		}
		seen[ref] = true
		windows = append(windows, ref)
	}
	return windows
}

// Key identifies one independent alert-suppression slot.
type Key struct {
	Symbol    string
	Timeframe string
}

// Event is the outcome of one confirmed crossover for one symbol.
type Event struct {
	Symbol    string
	Timeframe string
	Direction Direction
	Price     decimal.Decimal
	BarTime   time.Time
	Values    Set
	Strength  decimal.Decimal
}

var hundred = decimal.NewFromInt(100)

// Strength returns the percentage distance between the principal and the
// closest reference, the bottleneck that limits the crossover's significance.
func (s Strategy) Strength(cur Set) decimal.Decimal {
	principal := cur[s.Principal]
	var strength decimal.Decimal
	for i, ref := range s.References {
		value := cur[ref]
		if value.IsZero() {
			continue
		}
		distance := principal.Sub(value).Div(value).Abs().Mul(hundred)
		if i == 0 || distance.LessThan(strength) {
			strength = distance
		}
	}
	return strength
}

// upperBound and lowerBound scale a reference value by the strength margin.
func (s Strategy) upperBound(ref decimal.Decimal) decimal.Decimal {
	return ref.Mul(decimal.NewFromInt(1).Add(s.MinStrength))
}

func (s Strategy) lowerBound(ref decimal.Decimal) decimal.Decimal {
	return ref.Mul(decimal.NewFromInt(1).Sub(s.MinStrength))
}
