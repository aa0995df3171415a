package app

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"ma-cross-alerts/internal/storage"
)

// Export renders one symbol's sample history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.Symbol == "" {
		return errors.New("--symbol is required")
	}
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scheduler.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	samples, err := store.ListSamplesBetween(ctx, opts.Symbol, from, to)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		a.Logger.Info().Str("symbol", opts.Symbol).Msg("no samples found for export window")
		return nil
	}

	downsampled := downsampleSamples(samples, opts.MaxPoints)
	a.Logger.Info().
		Str("symbol", opts.Symbol).
		Int("total", len(samples)).
		Int("exported", len(downsampled)).
		Msg("exporting samples")

	maNames := collectMANames(downsampled)

	if opts.CSVPath != "" {
		if err := writeSamplesCSV(opts.CSVPath, downsampled, maNames); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSamplesPNG(opts.PNGPath, opts.Symbol, downsampled, maNames); err != nil {
			return err
		}
	}

	return nil
}

func downsampleSamples(samples []storage.SignalSample, max int) []storage.SignalSample {
	if max <= 0 || len(samples) <= max {
		return samples
	}

	result := make([]storage.SignalSample, 0, max)
	step := float64(len(samples)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(samples) {
			idx = len(samples) - 1
		}
		result = append(result, samples[idx])
	}
	return result
}

// collectMANames returns the union of MA names across samples, sorted by
// window length so columns and chart legends read MA_7, MA_25, MA_99.
func collectMANames(samples []storage.SignalSample) []string {
	seen := map[string]bool{}
	for _, sample := range samples {
		for name := range decodeValues(sample.Values) {
			seen[name] = true
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		wi, wj := maWindowOf(names[i]), maWindowOf(names[j])
		if wi != wj {
			return wi < wj
		}
		return names[i] < names[j]
	})
	return names
}

func maWindowOf(name string) int {
	idx := -1
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '_' {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0
	}
	window, err := strconv.Atoi(name[idx+1:])
	if err != nil {
		return 0
	}
	return window
}

func decodeValues(raw json.RawMessage) map[string]string {
	values := map[string]string{}
	if len(raw) == 0 {
		return values
	}
	_ = json.Unmarshal(raw, &values)
	return values
}

func writeSamplesCSV(path string, samples []storage.SignalSample, maNames []string) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := append([]string{"bucket_ts", "symbol", "close", "strength_pct", "direction"}, maNames...)
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, sample := range samples {
		values := decodeValues(sample.Values)
		record := []string{
			sample.Bucket.Format(time.RFC3339),
			sample.Symbol,
			sample.Close.String(),
			sample.StrengthPct.String(),
			sample.Direction,
		}
		for _, name := range maNames {
			record = append(record, values[name])
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeSamplesPNG(path, symbol string, samples []storage.SignalSample, maNames []string) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(samples))
	closes := make([]float64, len(samples))
	maSeries := make(map[string][]float64, len(maNames))
	for _, name := range maNames {
		maSeries[name] = make([]float64, len(samples))
	}

	for i, sample := range samples {
		x[i] = sample.Bucket
		closes[i] = sample.Close.InexactFloat64()
		values := decodeValues(sample.Values)
		for _, name := range maNames {
			parsed, err := strconv.ParseFloat(values[name], 64)
			if err != nil {
				parsed = math.NaN()
			}
			maSeries[name][i] = parsed
		}
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.4f")
	}
	series := []chart.Series{
		chart.TimeSeries{
			Name:    "Close",
			XValues: x,
			YValues: closes,
		},
	}
	for _, name := range maNames {
		series = append(series, chart.TimeSeries{
			Name:    name,
			XValues: x,
			YValues: maSeries[name],
		})
	}

	graph := chart.Chart{
		Title:  symbol,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price",
			ValueFormatter: priceFormatter,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
