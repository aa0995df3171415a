package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"ma-cross-alerts/internal/fetcher"
	"ma-cross-alerts/internal/service"
	"ma-cross-alerts/internal/signal"
)

// SimulateAlert pushes a synthetic crossover for symbol through the real
// detection and delivery path, so the whole chain down to Telegram can be
// verified without waiting for the market.
func (a *App) SimulateAlert(ctx context.Context, symbol string, direction signal.Direction) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is disabled")
	}
	if direction == signal.None {
		return errors.New("direction must be up or down")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("no alert channel configured")
	}

	strat, err := a.Config.Strategy.Build()
	if err != nil {
		return err
	}

	series, err := syntheticCrossover(strat, a.Config.MinCandles(), direction)
	if err != nil {
		return err
	}

	cfg := *a.Config
	cfg.Watch.Symbols = []string{symbol}

	svc := service.New(&cfg, nil, &staticCandleFetcher{series: series}, strat, nil, nil, notifier, a.Logger)

	bucket := time.Now().UTC().Truncate(cfg.Scheduler.Interval)
	return svc.ProcessTick(ctx, bucket)
}

// syntheticCrossover builds a flat close series whose final bar moves far
// enough that the principal clears every reference by the strength margin.
// The move size is searched by doubling since it depends on the window mix.
func syntheticCrossover(strat signal.Strategy, minCandles int, direction signal.Direction) (fetcher.Series, error) {
	base := decimal.NewFromInt(100)
	move := decimal.NewFromInt(10)

	for attempt := 0; attempt < 24; attempt++ {
		var last decimal.Decimal
		if direction == signal.Up {
			last = base.Add(move)
		} else {
			last = base.Sub(move)
			if last.Sign() <= 0 {
				break
			}
		}

		series := flatSeries(base, minCandles)
		series[len(series)-1].Close = last

		pair, err := signal.ComputePair(series.Closes(), strat.Windows())
		if err != nil {
			return nil, err
		}
		if signal.Classify(pair, strat) == direction {
			return series, nil
		}
		move = move.Mul(decimal.NewFromInt(2))
	}

	return nil, fmt.Errorf("could not synthesize a %s crossover for this strategy", direction)
}

func flatSeries(base decimal.Decimal, length int) fetcher.Series {
	start := time.Now().UTC().Add(-time.Duration(length) * time.Hour).Truncate(time.Hour)
	series := make(fetcher.Series, length)
	for i := range series {
		open := start.Add(time.Duration(i) * time.Hour)
		series[i] = fetcher.Candle{
			OpenTime:  open,
			CloseTime: open.Add(time.Hour - time.Millisecond),
			Open:      base,
			High:      base,
			Low:       base,
			Close:     base,
			Volume:    decimal.NewFromInt(1),
		}
	}
	return series
}

type staticCandleFetcher struct {
	series fetcher.Series
}

func (s *staticCandleFetcher) FetchCandles(ctx context.Context, symbol string) (fetcher.Series, error) {
	return s.series, nil
}

var _ fetcher.CandleFetcher = (*staticCandleFetcher)(nil)
