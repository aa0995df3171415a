package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"ma-cross-alerts/internal/alerting"
	"ma-cross-alerts/internal/config"
	"ma-cross-alerts/internal/fetcher"
	"ma-cross-alerts/internal/health"
	"ma-cross-alerts/internal/scheduler"
	"ma-cross-alerts/internal/service"
	"ma-cross-alerts/internal/storage"
	"ma-cross-alerts/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newFetcher() fetcher.CandleFetcher {
	return fetcher.NewBinance(fetcher.BinanceOptions{
		BaseURL:    a.Config.Binance.BaseURL,
		KlinesPath: a.Config.Binance.KlinesPath,
		Timeframe:  a.Config.Watch.Timeframe,
		Limit:      a.Config.Binance.LimitCandles,
		MinCandles: a.Config.MinCandles(),
		Timeout:    a.Config.Binance.RequestTimeout,
		Retry: fetcher.RetryPolicy{
			MaxAttempts: a.Config.Binance.RetryMaxAttempts,
			Backoff:     a.Config.Binance.RetryBackoff,
		},
		UserAgent: a.Config.Binance.UserAgent,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		timeout := cfg.RequestTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, timeout, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running watcher.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	strat, err := a.Config.Strategy.Build()
	if err != nil {
		return err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; audit persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	sched := scheduler.New(scheduler.Options{
		Interval:               a.Config.Scheduler.Interval,
		AlignToStart:           a.Config.Scheduler.AlignToBucket,
		StartupDelay:           a.Config.Scheduler.StartupDelay,
		MaxConsecutiveFailures: a.Config.Monitor.MaxConsecutiveFailures,
	}, a.Logger)

	candles := a.newFetcher()
	notifier := a.newNotifier()
	if telegram, ok := notifier.(*alerting.TelegramNotifier); ok {
		if err := telegram.Verify(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("telegram connectivity check failed; alerts may not deliver")
		}
	}

	var sampleStore storage.SampleStore
	var alertStore storage.AlertStore
	if store != nil {
		sampleStore = store
		alertStore = store
	}

	svc := service.New(a.Config, sched, candles, strat, sampleStore, alertStore, notifier, a.Logger)

	healthErr := make(chan error, 1)
	if a.Config.Health.Enabled {
		srv := health.NewServer(a.Config.Health.Addr, a.statusFunc(svc), a.Logger)
		go func() {
			healthErr <- srv.Run(ctx)
		}()
	} else {
		close(healthErr)
	}

	a.Logger.Info().
		Str("strategy", a.Config.Strategy.Describe()).
		Strs("symbols", a.Config.Watch.Symbols).
		Str("timeframe", a.Config.Watch.Timeframe).
		Msg("starting crossover watcher")

	runErr := svc.Run(ctx)
	svc.LogSummary()
	cancel()

	if err := <-healthErr; err != nil {
		a.Logger.Error().Err(err).Msg("health endpoint terminated with error")
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		a.Logger.Error().Err(runErr).Msg("watcher terminated with error")
		return runErr
	}

	a.Logger.Info().Msg("watcher stopped")
	return nil
}

func (a *App) statusFunc(svc *service.Service) health.StatusFunc {
	return func() health.Status {
		stats := svc.Stats()
		return health.Status{
			App:            a.Config.App.Name,
			Version:        version.Version,
			UptimeSeconds:  time.Since(stats.StartedAt).Seconds(),
			Symbols:        a.Config.Watch.Symbols,
			Timeframe:      a.Config.Watch.Timeframe,
			Strategy:       a.Config.Strategy.Describe(),
			IntervalSec:    a.Config.Scheduler.Interval.Seconds(),
			MinStrengthPct: a.Config.Strategy.MinStrength * 100,
			Ticks:          stats.Ticks,
			RequestsOK:     stats.RequestsOK,
			RequestsFailed: stats.RequestsFailed,
			AlertsSent:     stats.AlertsSent,
			ActiveAlerts:   stats.ActiveAlerts,
		}
	}
}

// ExportOptions hold parameters for exporting historical samples.
type ExportOptions struct {
	Symbol    string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// BackfillOptions configure the backfill job.
type BackfillOptions struct {
	From   time.Time
	To     time.Time
	DryRun bool
}
