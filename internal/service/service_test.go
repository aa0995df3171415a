package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ma-cross-alerts/internal/alerting"
	"ma-cross-alerts/internal/config"
	"ma-cross-alerts/internal/fetcher"
	"ma-cross-alerts/internal/signal"
	"ma-cross-alerts/internal/storage"
)

type scriptedFetcher struct {
	mu      sync.Mutex
	scripts map[string][][]float64
	calls   map[string]int
	err     error
}

func (f *scriptedFetcher) FetchCandles(ctx context.Context, symbol string) (fetcher.Series, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}

	script := f.scripts[symbol]
	if len(script) == 0 {
		return fetcher.Series{}, nil
	}
	call := f.calls[symbol]
	f.calls[symbol]++
	if call >= len(script) {
		call = len(script) - 1
	}

	closes := script[call]
	series := make(fetcher.Series, 0, len(closes))
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		open := base.Add(time.Duration(i) * 4 * time.Hour)
		series = append(series, fetcher.Candle{
			OpenTime:  open,
			CloseTime: open.Add(4*time.Hour - time.Millisecond),
			Close:     decimal.NewFromFloat(c),
		})
	}
	return series, nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	sent  []alerting.Notification
	fail  bool
	calls int
}

func (n *recordingNotifier) Notify(ctx context.Context, note alerting.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	if n.fail {
		return errors.New("telegram unavailable")
	}
	n.sent = append(n.sent, note)
	return nil
}

type memoryAudit struct {
	mu      sync.Mutex
	alerts  []storage.AlertRecord
	samples []storage.SignalSample
}

func (m *memoryAudit) InsertAlert(ctx context.Context, alert storage.AlertRecord) (storage.AlertRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, alert)
	return alert, nil
}

func (m *memoryAudit) ListRecentAlerts(ctx context.Context, limit int) ([]storage.AlertRecord, error) {
	return m.alerts, nil
}

func (m *memoryAudit) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	return nil
}

func (m *memoryAudit) UpsertSample(ctx context.Context, sample storage.SignalSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, sample)
	return nil
}

func (m *memoryAudit) ListSamplesBetween(ctx context.Context, symbol string, from, to time.Time) ([]storage.SignalSample, error) {
	return m.samples, nil
}

func (m *memoryAudit) CountSamples(ctx context.Context) (int64, error) {
	return int64(len(m.samples)), nil
}

func testConfig() *config.Config {
	return &config.Config{
		Watch: config.WatchConfig{
			Symbols:   []string{"BTCUSDT"},
			Timeframe: "4h",
		},
		Strategy: config.StrategyConfig{
			Catalogue:   map[string]int{"MA_1": 1, "MA_2": 2},
			Principal:   "MA_1",
			References:  []string{"MA_2"},
			MinStrength: 0.02,
		},
		Alerting: config.AlertingConfig{
			Enabled:  true,
			Channels: []string{"telegram"},
		},
		Monitor: config.MonitorConfig{
			SymbolTimeout: 5 * time.Second,
		},
	}
}

func testService(t *testing.T, cfg *config.Config, candles fetcher.CandleFetcher, notifier alerting.Notifier, audit *memoryAudit) *Service {
	t.Helper()
	strat, err := cfg.Strategy.Build()
	if err != nil {
		t.Fatalf("build strategy: %v", err)
	}
	var samples storage.SampleStore
	var alerts storage.AlertStore
	if audit != nil {
		samples = audit
		alerts = audit
	}
	return New(cfg, nil, candles, strat, samples, alerts, notifier, zerolog.Nop())
}

// Drives the full lifecycle through real detection and suppression state:
// a crossover fires once, repeats are suppressed while separation holds,
// collapsed separation clears the slot, and the next crossover fires again.
func TestProcessTickAlertLifecycle(t *testing.T) {
	candles := &scriptedFetcher{
		scripts: map[string][][]float64{
			"BTCUSDT": {
				{100, 100, 110}, // crossover up with 110 vs bound 107.1
				{100, 110, 120}, // still separated, no transition
				{120, 120, 120}, // separation collapsed, slot resets
				{120, 120, 132}, // fresh crossover fires again
			},
		},
		calls: map[string]int{},
	}
	notifier := &recordingNotifier{}
	audit := &memoryAudit{}
	svc := testService(t, testConfig(), candles, notifier, audit)

	ctx := context.Background()
	bucket := time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		if err := svc.ProcessTick(ctx, bucket.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}

	if len(notifier.sent) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(notifier.sent))
	}
	first := notifier.sent[0]
	if first.Symbol != "BTCUSDT" || first.Direction != signal.Up {
		t.Fatalf("unexpected first notification %+v", first)
	}
	if first.Price.String() != "110" {
		t.Fatalf("unexpected price %s", first.Price)
	}
	if len(audit.alerts) != 2 {
		t.Fatalf("expected 2 audit records, got %d", len(audit.alerts))
	}
	if len(audit.samples) != 4 {
		t.Fatalf("expected 4 samples, got %d", len(audit.samples))
	}

	stats := svc.Stats()
	if stats.Ticks != 4 {
		t.Fatalf("expected 4 ticks, got %d", stats.Ticks)
	}
	if stats.AlertsSent != 2 {
		t.Fatalf("expected 2 alerts sent, got %d", stats.AlertsSent)
	}
	if stats.RequestsOK != 4 || stats.RequestsFailed != 0 {
		t.Fatalf("unexpected request counters %+v", stats)
	}
}

// A failed delivery must still consume the crossover: no duplicate attempt on
// the next tick while the signal stays separated.
func TestDeliveryFailureStillSuppresses(t *testing.T) {
	candles := &scriptedFetcher{
		scripts: map[string][][]float64{
			"BTCUSDT": {
				{100, 100, 110},
				{100, 110, 120},
			},
		},
		calls: map[string]int{},
	}
	notifier := &recordingNotifier{fail: true}
	svc := testService(t, testConfig(), candles, notifier, nil)

	ctx := context.Background()
	bucket := time.Now().UTC()
	for i := 0; i < 2; i++ {
		if err := svc.ProcessTick(ctx, bucket); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}

	if notifier.calls != 1 {
		t.Fatalf("expected exactly one delivery attempt, got %d", notifier.calls)
	}
	if stats := svc.Stats(); stats.AlertsSent != 0 {
		t.Fatalf("failed delivery must not count as sent, got %d", stats.AlertsSent)
	}
	if stats := svc.Stats(); stats.ActiveAlerts != 1 {
		t.Fatalf("crossover should stay recorded, active=%d", stats.ActiveAlerts)
	}
}

func TestProcessTickFailsOnlyWhenAllSymbolsFail(t *testing.T) {
	cfg := testConfig()
	cfg.Watch.Symbols = []string{"BTCUSDT", "ETHUSDT"}

	candles := &scriptedFetcher{
		scripts: map[string][][]float64{
			"BTCUSDT": {{100, 100, 101}},
			// ETHUSDT missing: empty series fails validation
		},
		calls: map[string]int{},
	}
	svc := testService(t, cfg, candles, &recordingNotifier{}, nil)

	if err := svc.ProcessTick(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("one healthy symbol should keep the tick alive: %v", err)
	}

	candles.err = errors.New("exchange down")
	err := svc.ProcessTick(context.Background(), time.Now().UTC())
	if err == nil {
		t.Fatal("expected error when every symbol fails")
	}
}

type blockingFetcher struct{}

func (f *blockingFetcher) FetchCandles(ctx context.Context, symbol string) (fetcher.Series, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// A fetch that never answers must not hold the tick open: the tick deadline
// bounds the whole fan-out even when no per-symbol timeout is set.
func TestTickTimeoutBoundsStuckFetch(t *testing.T) {
	cfg := testConfig()
	cfg.Monitor.SymbolTimeout = 0
	cfg.Monitor.TickTimeout = 50 * time.Millisecond

	svc := testService(t, cfg, &blockingFetcher{}, &recordingNotifier{}, nil)

	start := time.Now()
	err := svc.ProcessTick(context.Background(), time.Now().UTC())
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected tick failure when every symbol is stuck")
	}
	if elapsed > 2*time.Second {
		t.Fatalf("tick should return at the deadline, took %v", elapsed)
	}
}

func TestStatsCountsFailedRequests(t *testing.T) {
	candles := &scriptedFetcher{err: errors.New("boom"), calls: map[string]int{}}
	svc := testService(t, testConfig(), candles, &recordingNotifier{}, nil)

	if err := svc.ProcessTick(context.Background(), time.Now().UTC()); err == nil {
		t.Fatal("expected tick failure")
	}
	if stats := svc.Stats(); stats.RequestsFailed != 1 {
		t.Fatalf("expected one failed request, got %d", stats.RequestsFailed)
	}
}
