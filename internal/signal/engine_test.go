package signal

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func constantCloses(value float64, n int) []decimal.Decimal {
	closes := make([]decimal.Decimal, n)
	for i := range closes {
		closes[i] = decimal.NewFromFloat(value)
	}
	return closes
}

func TestComputePairConstantSeries(t *testing.T) {
	windows := []MA{{"MA_7", 7}, {"MA_25", 25}, {"MA_99", 99}}
	pair, err := ComputePair(constantCloses(42.5, 120), windows)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := decimal.NewFromFloat(42.5)
	for _, id := range windows {
		if !pair.Current[id].Equal(want) {
			t.Fatalf("current %s = %s, want %s", id.Name, pair.Current[id], want)
		}
		if !pair.Previous[id].Equal(want) {
			t.Fatalf("previous %s = %s, want %s", id.Name, pair.Previous[id], want)
		}
	}
}

func TestComputePairTrailingMean(t *testing.T) {
	closes := []decimal.Decimal{
		decimal.NewFromInt(1),
		decimal.NewFromInt(2),
		decimal.NewFromInt(3),
		decimal.NewFromInt(4),
		decimal.NewFromInt(5),
	}
	ma3 := MA{"MA_3", 3}
	pair, err := ComputePair(closes, []MA{ma3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// current bar: mean(3,4,5) = 4; previous bar: mean(2,3,4) = 3
	if !pair.Current[ma3].Equal(decimal.NewFromInt(4)) {
		t.Fatalf("current MA_3 = %s, want 4", pair.Current[ma3])
	}
	if !pair.Previous[ma3].Equal(decimal.NewFromInt(3)) {
		t.Fatalf("previous MA_3 = %s, want 3", pair.Previous[ma3])
	}
}

func TestComputePairInsufficientSeries(t *testing.T) {
	// 50 candles cannot cover a 99-bar window.
	windows := []MA{{"MA_7", 7}, {"MA_99", 99}}
	if _, err := ComputePair(constantCloses(1, 50), windows); !errors.Is(err, ErrInsufficient) {
		t.Fatalf("want ErrInsufficient, got %v", err)
	}
}

func TestComputePairExactWindowLacksPreviousBar(t *testing.T) {
	// 99 candles cover the 99-bar window at the current bar only; the
	// previous bar position has no full window behind it.
	if _, err := ComputePair(constantCloses(1, 99), []MA{{"MA_99", 99}}); !errors.Is(err, ErrInsufficient) {
		t.Fatalf("want ErrInsufficient, got %v", err)
	}
}

func TestComputePairRejectsEmptyWindows(t *testing.T) {
	if _, err := ComputePair(constantCloses(1, 10), nil); err == nil {
		t.Fatal("expected error for empty window set")
	}
}
