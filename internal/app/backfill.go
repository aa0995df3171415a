package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ma-cross-alerts/internal/signal"
	"ma-cross-alerts/internal/storage"
)

// Backfill seeds signal samples from historical klines. One fetch per symbol
// covers the exchange's lookback; each bar that has enough preceding closes
// becomes one sample.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	if !opts.From.Before(opts.To) {
		return errors.New("backfill window is empty, check --from/--to")
	}

	strat, err := a.Config.Strategy.Build()
	if err != nil {
		return err
	}
	minCandles := a.Config.MinCandles()

	var sampleStore storage.SampleStore
	if opts.DryRun {
		a.Logger.Warn().Msg("backfill dry-run: nothing will be written")
	} else {
		store, closeStore, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		if store == nil {
			return errors.New("database.dsn not configured; cannot backfill")
		}
		if closeStore != nil {
			defer closeStore()
		}
		sampleStore = store
	}

	candles := a.newFetcher()

	written := 0
	failed := 0
	for _, symbol := range a.Config.Watch.Symbols {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		series, err := candles.FetchCandles(ctx, symbol)
		if err != nil {
			failed++
			a.Logger.Error().Err(err).Str("symbol", symbol).Msg("backfill fetch failed")
			continue
		}
		closes := series.Closes()

		count := 0
		for i := minCandles - 1; i < len(series); i++ {
			bar := series[i]
			if bar.OpenTime.Before(opts.From) || !bar.OpenTime.Before(opts.To) {
				continue
			}

			pair, err := signal.ComputePair(closes[:i+1], strat.Windows())
			if err != nil {
				continue
			}
			direction := signal.Classify(pair, strat)

			values := make(map[string]string, len(pair.Current))
			for ma, value := range pair.Current {
				values[ma.Name] = value.String()
			}
			raw, err := json.Marshal(values)
			if err != nil {
				continue
			}

			sample := storage.SignalSample{
				Symbol:      symbol,
				Bucket:      bar.OpenTime,
				Close:       bar.Close,
				Values:      raw,
				StrengthPct: strat.Strength(pair.Current),
			}
			if direction != signal.None {
				sample.Direction = direction.String()
			}

			if sampleStore != nil {
				if err := sampleStore.UpsertSample(ctx, sample); err != nil {
					a.Logger.Error().Err(err).Str("symbol", symbol).Time("bucket", bar.OpenTime).Msg("backfill upsert failed")
					continue
				}
			}
			count++
		}

		written += count
		a.Logger.Info().Str("symbol", symbol).Int("samples", count).Msg("symbol backfilled")
	}

	a.Logger.Info().Int("written", written).Int("failed_symbols", failed).Msg("backfill complete")
	if failed > 0 {
		return fmt.Errorf("%d symbols failed to backfill", failed)
	}
	return nil
}
