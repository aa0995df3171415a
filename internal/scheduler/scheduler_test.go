package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRunStopsOnContextCancel(t *testing.T) {
	s := New(Options{Interval: time.Millisecond}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	var ticks atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(ctx context.Context, bucket time.Time) error {
			if ticks.Add(1) >= 3 {
				cancel()
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("want context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
	if ticks.Load() < 3 {
		t.Fatalf("expected at least 3 ticks, got %d", ticks.Load())
	}
}

func TestRunTerminatesAfterConsecutiveFailures(t *testing.T) {
	s := New(Options{Interval: time.Millisecond, MaxConsecutiveFailures: 3}, zerolog.Nop())

	boom := errors.New("boom")
	var ticks int
	err := s.Run(context.Background(), func(ctx context.Context, bucket time.Time) error {
		ticks++
		return boom
	})

	if err == nil || !errors.Is(err, boom) {
		t.Fatalf("want wrapped tick error, got %v", err)
	}
	if !strings.Contains(err.Error(), "3 consecutive") {
		t.Fatalf("error should mention the failure count: %v", err)
	}
	if ticks != 3 {
		t.Fatalf("expected exactly 3 ticks, got %d", ticks)
	}
}

func TestSuccessResetsFailureCounter(t *testing.T) {
	s := New(Options{Interval: time.Millisecond, MaxConsecutiveFailures: 2}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	boom := errors.New("boom")
	var ticks int
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(ctx context.Context, bucket time.Time) error {
			ticks++
			switch {
			case ticks%2 == 1:
				return boom // alternating failures never hit the budget
			case ticks >= 8:
				cancel()
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("alternating failures must not terminate the loop, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not finish")
	}
}
