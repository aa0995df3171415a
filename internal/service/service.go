package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ma-cross-alerts/internal/alerting"
	"ma-cross-alerts/internal/config"
	"ma-cross-alerts/internal/fetcher"
	"ma-cross-alerts/internal/scheduler"
	"ma-cross-alerts/internal/signal"
	"ma-cross-alerts/internal/storage"
)

var hundred = decimal.NewFromInt(100)

// Stats is a point-in-time snapshot of the watcher's counters.
type Stats struct {
	StartedAt      time.Time
	Ticks          uint64
	RequestsOK     uint64
	RequestsFailed uint64
	AlertsSent     uint64
	ActiveAlerts   int
}

// Service orchestrates candle fetching, crossover detection, alert
// suppression, and delivery across the watched symbols.
type Service struct {
	scheduler  *scheduler.Scheduler
	fetcher    fetcher.CandleFetcher
	signals    *signal.Store
	strategy   signal.Strategy
	notifier   alerting.Notifier
	samples    storage.SampleStore
	alertStore storage.AlertStore
	locker     storage.AdvisoryLocker
	logger     zerolog.Logger

	symbols       []string
	timeframe     string
	minCandles    int
	symbolTimeout time.Duration
	tickTimeout   time.Duration
	channels      []string
	alertsOn      bool
	lockKey       int64

	startedAt      time.Time
	ticks          atomic.Uint64
	requestsOK     atomic.Uint64
	requestsFailed atomic.Uint64
	alertsSent     atomic.Uint64
}

// New constructs the monitoring service. samples and alertStore may be nil
// when audit storage is not configured; notifier may be nil when alerting is
// disabled.
func New(cfg *config.Config, sched *scheduler.Scheduler, candles fetcher.CandleFetcher, strat signal.Strategy, samples storage.SampleStore, alertStore storage.AlertStore, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := samples.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler:     sched,
		fetcher:       candles,
		signals:       signal.NewStore(),
		strategy:      strat,
		notifier:      notifier,
		samples:       samples,
		alertStore:    alertStore,
		locker:        locker,
		logger:        logger.With().Str("component", "service").Logger(),
		symbols:       cfg.Watch.Symbols,
		timeframe:     cfg.Watch.Timeframe,
		minCandles:    cfg.MinCandles(),
		symbolTimeout: cfg.Monitor.SymbolTimeout,
		tickTimeout:   cfg.Monitor.TickTimeout,
		channels:      cfg.Alerting.Channels,
		alertsOn:      cfg.Alerting.Enabled,
		lockKey:       cfg.Monitor.AdvisoryLockKey,
		startedAt:     time.Now().UTC(),
	}
}

// Run begins the aligned polling loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessTick)
}

// Stats snapshots the runtime counters.
func (s *Service) Stats() Stats {
	return Stats{
		StartedAt:      s.startedAt,
		Ticks:          s.ticks.Load(),
		RequestsOK:     s.requestsOK.Load(),
		RequestsFailed: s.requestsFailed.Load(),
		AlertsSent:     s.alertsSent.Load(),
		ActiveAlerts:   s.signals.Len(),
	}
}

// LogSummary emits the final runtime summary, called once on shutdown.
func (s *Service) LogSummary() {
	stats := s.Stats()
	s.logger.Info().
		Dur("uptime", time.Since(stats.StartedAt)).
		Uint64("ticks", stats.Ticks).
		Uint64("requests_ok", stats.RequestsOK).
		Uint64("requests_failed", stats.RequestsFailed).
		Uint64("alerts_sent", stats.AlertsSent).
		Msg("watcher stopped")
}

// ProcessTick evaluates every watched symbol for one scheduler bucket. It
// returns an error only when no symbol could be evaluated, so a single flaky
// symbol does not count against the scheduler's failure budget.
func (s *Service) ProcessTick(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip tick because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	s.ticks.Add(1)

	// The whole fan-out works against one bounded deadline; a stuck symbol
	// cannot hold the tick past it.
	if s.tickTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.tickTimeout)
		defer cancel()
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int
		fired  int
	)

	for _, symbol := range s.symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					s.requestsFailed.Add(1)
					mu.Lock()
					failed++
					mu.Unlock()
					s.logger.Error().Str("symbol", symbol).Interface("panic", r).Msg("symbol evaluation panicked")
				}
			}()

			symbolCtx := ctx
			if s.symbolTimeout > 0 {
				var cancel context.CancelFunc
				symbolCtx, cancel = context.WithTimeout(ctx, s.symbolTimeout)
				defer cancel()
			}

			didFire, err := s.processSymbol(symbolCtx, symbol, bucket)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				s.logger.Warn().Err(err).Str("symbol", symbol).Msg("symbol evaluation failed")
				return
			}
			if didFire {
				fired++
			}
		}(symbol)
	}
	wg.Wait()

	s.logger.Info().
		Time("bucket", bucket).
		Int("symbols", len(s.symbols)).
		Int("failed", failed).
		Int("alerts", fired).
		Int("active", s.signals.Len()).
		Msg("tick complete")

	if failed == len(s.symbols) && len(s.symbols) > 0 {
		return fmt.Errorf("all %d symbols failed", failed)
	}
	return nil
}

func (s *Service) processSymbol(ctx context.Context, symbol string, bucket time.Time) (bool, error) {
	series, err := s.fetcher.FetchCandles(ctx, symbol)
	if err != nil {
		s.requestsFailed.Add(1)
		return false, fmt.Errorf("fetch candles: %w", err)
	}
	s.requestsOK.Add(1)

	if err := series.Validate(s.minCandles); err != nil {
		return false, err
	}

	pair, err := signal.ComputePair(series.Closes(), s.strategy.Windows())
	if err != nil {
		return false, err
	}

	direction := signal.Classify(pair, s.strategy)
	key := signal.Key{Symbol: symbol, Timeframe: s.timeframe}
	fire := s.signals.ShouldFire(key, direction, pair.Current, s.strategy)

	latest := series[len(series)-1]
	strength := s.strategy.Strength(pair.Current)

	s.recordSample(ctx, symbol, bucket, latest, pair.Current, strength, direction)

	if !fire {
		return false, nil
	}

	s.signals.Record(key, direction, time.Now().UTC())

	event := signal.Event{
		Symbol:    symbol,
		Timeframe: s.timeframe,
		Direction: direction,
		Price:     latest.Close,
		BarTime:   latest.OpenTime,
		Values:    pair.Current,
		Strength:  strength,
	}
	s.dispatch(ctx, event)
	return true, nil
}

// dispatch persists and delivers one confirmed crossover. Delivery failures
// are logged but never undo the suppression record: a crossover is consumed
// the moment it is confirmed.
func (s *Service) dispatch(ctx context.Context, event signal.Event) {
	minPct := s.strategy.MinStrength.Mul(hundred)

	s.logger.Info().
		Str("symbol", event.Symbol).
		Str("direction", event.Direction.String()).
		Str("price", event.Price.String()).
		Str("strength_pct", event.Strength.StringFixed(2)).
		Time("bar", event.BarTime).
		Msg("crossover confirmed")

	if s.alertStore != nil {
		record := storage.AlertRecord{
			Symbol:       event.Symbol,
			Timeframe:    event.Timeframe,
			Direction:    event.Direction.String(),
			Price:        event.Price,
			StrengthPct:  event.Strength,
			ThresholdPct: minPct,
			BarTime:      event.BarTime,
			Values:       valuesJSON(event.Values),
			Channels:     s.channels,
		}
		if _, err := s.alertStore.InsertAlert(ctx, record); err != nil {
			s.logger.Error().Err(err).Str("symbol", event.Symbol).Msg("failed to persist alert record")
		}
	}

	if !s.alertsOn || s.notifier == nil {
		return
	}

	note := alerting.Notification{
		Symbol:         event.Symbol,
		Timeframe:      event.Timeframe,
		Direction:      event.Direction,
		Price:          event.Price,
		BarTime:        event.BarTime,
		Values:         event.Values,
		StrengthPct:    event.Strength,
		MinStrengthPct: minPct,
		Channels:       s.channels,
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Str("symbol", event.Symbol).Msg("failed to dispatch alert")
		return
	}
	s.alertsSent.Add(1)
}

func (s *Service) recordSample(ctx context.Context, symbol string, bucket time.Time, latest fetcher.Candle, values signal.Set, strength decimal.Decimal, direction signal.Direction) {
	if s.samples == nil {
		return
	}

	sample := storage.SignalSample{
		Symbol:      symbol,
		Bucket:      bucket,
		Close:       latest.Close,
		Values:      valuesJSON(values),
		StrengthPct: strength,
	}
	if direction != signal.None {
		sample.Direction = direction.String()
	}
	if err := s.samples.UpsertSample(ctx, sample); err != nil {
		s.logger.Error().Err(err).Str("symbol", symbol).Msg("failed to upsert signal sample")
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func valuesJSON(values signal.Set) json.RawMessage {
	out := make(map[string]string, len(values))
	for ma, value := range values {
		out[ma.Name] = value.String()
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}
