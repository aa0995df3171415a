package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"ma-cross-alerts/internal/logging"
	"ma-cross-alerts/internal/signal"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Binance   BinanceConfig   `mapstructure:"binance"`
	Watch     WatchConfig     `mapstructure:"watch"`
	Strategy  StrategyConfig  `mapstructure:"strategy"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Health    HealthConfig    `mapstructure:"health"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// SchedulerConfig governs polling cadence.
type SchedulerConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	AlignToBucket bool          `mapstructure:"align_to_bucket"`
	StartupDelay  time.Duration `mapstructure:"startup_delay"`
}

// BinanceConfig covers futures kline access.
type BinanceConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	KlinesPath       string        `mapstructure:"klines_path"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	LimitCandles     int           `mapstructure:"limit_candles"`
	RetryMaxAttempts int           `mapstructure:"retry_max_attempts"`
	RetryBackoff     time.Duration `mapstructure:"retry_backoff"`
	UserAgent        string        `mapstructure:"user_agent"`
}

// WatchConfig selects what is monitored.
type WatchConfig struct {
	Symbols   []string `mapstructure:"symbols"`
	Timeframe string   `mapstructure:"timeframe"`
}

// StrategyConfig selects the crossover strategy from the MA catalogue.
type StrategyConfig struct {
	Catalogue   map[string]int `mapstructure:"catalogue"`
	Principal   string         `mapstructure:"principal"`
	References  []string       `mapstructure:"references"`
	MinStrength float64        `mapstructure:"min_strength"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram delivery endpoint.
type TelegramConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	APIBase        string        `mapstructure:"api_base"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// MonitorConfig bounds the per-tick work.
type MonitorConfig struct {
	SymbolTimeout          time.Duration `mapstructure:"symbol_timeout"`
	TickTimeout            time.Duration `mapstructure:"tick_timeout"`
	MaxConsecutiveFailures int           `mapstructure:"max_consecutive_failures"`
	AdvisoryLockKey        int64         `mapstructure:"advisory_lock_key"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity for audit storage.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// HealthConfig exposes the process introspection endpoint.
type HealthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

var validTimeframes = map[string]bool{
	"1m": true, "3m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "2h": true, "4h": true, "6h": true, "8h": true,
	"12h": true, "1d": true,
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CROSSWATCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "crosswatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "60s")
	v.SetDefault("scheduler.align_to_bucket", false)
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("binance.base_url", "https://fapi.binance.com")
	v.SetDefault("binance.klines_path", "/fapi/v1/klines")
	v.SetDefault("binance.request_timeout", "10s")
	v.SetDefault("binance.limit_candles", 100)
	v.SetDefault("binance.retry_max_attempts", 3)
	v.SetDefault("binance.retry_backoff", "2s")
	v.SetDefault("binance.user_agent", "crosswatcher/1.0")

	v.SetDefault("watch.symbols", []string{
		"BTCUSDT", "ETHUSDT", "ADAUSDT", "SOLUSDT",
		"AVAXUSDT", "DOGEUSDT", "XRPUSDT",
	})
	v.SetDefault("watch.timeframe", "4h")

	v.SetDefault("strategy.catalogue", map[string]int{
		"MA_5": 5, "MA_7": 7, "MA_9": 9, "MA_12": 12, "MA_20": 20,
		"MA_25": 25, "MA_30": 30, "MA_50": 50, "MA_99": 99,
		"MA_100": 100, "MA_150": 150, "MA_200": 200,
	})
	v.SetDefault("strategy.principal", "MA_7")
	v.SetDefault("strategy.references", []string{"MA_25", "MA_99"})
	v.SetDefault("strategy.min_strength", 0.02)

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.request_timeout", "10s")

	v.SetDefault("monitor.symbol_timeout", "30s")
	v.SetDefault("monitor.tick_timeout", "60s")
	v.SetDefault("monitor.max_consecutive_failures", 5)
	v.SetDefault("monitor.advisory_lock_key", int64(0x6d614372))

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")

	v.SetDefault("health.enabled", false)
	v.SetDefault("health.addr", ":8080")

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs sanity checks on the configuration values. An invalid
// strategy is fatal: the monitoring loop must not start on one.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if len(c.Watch.Symbols) == 0 {
		return fmt.Errorf("watch.symbols must not be empty")
	}
	if !validTimeframes[c.Watch.Timeframe] {
		return fmt.Errorf("watch.timeframe %q is not a supported kline interval", c.Watch.Timeframe)
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}

	if _, err := c.Strategy.Build(); err != nil {
		return err
	}
	if c.Binance.LimitCandles < c.MinCandles() {
		return fmt.Errorf("binance.limit_candles (%d) cannot cover the largest MA window plus one (%d)",
			c.Binance.LimitCandles, c.MinCandles())
	}

	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token must be configured")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id must be configured")
		}
	}
	return nil
}

// Build resolves the strategy selection against the catalogue into the
// immutable value the detection core consumes.
func (s StrategyConfig) Build() (signal.Strategy, error) {
	if s.MinStrength <= 0 {
		return signal.Strategy{}, fmt.Errorf("strategy.min_strength must be greater than zero")
	}
	if len(s.References) == 0 {
		return signal.Strategy{}, fmt.Errorf("strategy.references must contain at least one MA")
	}

	principalWindow, ok := s.Catalogue[s.Principal]
	if !ok {
		return signal.Strategy{}, fmt.Errorf("strategy.principal %q not found in catalogue", s.Principal)
	}

	references := make([]signal.MA, 0, len(s.References))
	for _, name := range s.References {
		window, ok := s.Catalogue[name]
		if !ok {
			return signal.Strategy{}, fmt.Errorf("strategy reference %q not found in catalogue", name)
		}
		if window == principalWindow {
			return signal.Strategy{}, fmt.Errorf("strategy reference %q shares window length %d with the principal", name, window)
		}
		references = append(references, signal.MA{Name: name, Window: window})
	}

	return signal.Strategy{
		Principal:   signal.MA{Name: s.Principal, Window: principalWindow},
		References:  references,
		MinStrength: decimal.NewFromFloat(s.MinStrength),
	}, nil
}

// Describe renders the strategy selection for logs and the status endpoint.
func (s StrategyConfig) Describe() string {
	refs := append([]string(nil), s.References...)
	sort.Strings(refs)
	return fmt.Sprintf("%s crossing %s", s.Principal, strings.Join(refs, ", "))
}

// MaxWindow returns the largest window length the strategy needs, or zero
// when the strategy does not resolve.
func (c *Config) MaxWindow() int {
	strat, err := c.Strategy.Build()
	if err != nil {
		return 0
	}
	max := strat.Principal.Window
	for _, ref := range strat.References {
		if ref.Window > max {
			max = ref.Window
		}
	}
	return max
}

// MinCandles is the series length the detection core needs: the largest
// window must be coverable at the previous bar as well.
func (c *Config) MinCandles() int {
	return c.MaxWindow() + 1
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
