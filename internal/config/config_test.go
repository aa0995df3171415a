package config

import (
	"strings"
	"testing"
	"time"
)

func baseConfig() *Config {
	return &Config{
		Scheduler: SchedulerConfig{Interval: time.Minute},
		Binance:   BinanceConfig{LimitCandles: 100},
		Watch: WatchConfig{
			Symbols:   []string{"BTCUSDT"},
			Timeframe: "4h",
		},
		Strategy: StrategyConfig{
			Catalogue:   map[string]int{"MA_7": 7, "MA_25": 25, "MA_99": 99},
			Principal:   "MA_7",
			References:  []string{"MA_25", "MA_99"},
			MinStrength: 0.02,
		},
		Export: ExportConfig{MaxDataPoints: 1000},
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	if err := baseConfig().Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestValidateRejectsUnknownPrincipal(t *testing.T) {
	cfg := baseConfig()
	cfg.Strategy.Principal = "MA_42"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "MA_42") {
		t.Fatalf("expected unknown-principal error, got %v", err)
	}
}

func TestValidateRejectsEmptyReferences(t *testing.T) {
	cfg := baseConfig()
	cfg.Strategy.References = nil
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty reference set")
	}
}

func TestValidateRejectsSharedWindow(t *testing.T) {
	cfg := baseConfig()
	cfg.Strategy.Catalogue["MA_DUP"] = 7
	cfg.Strategy.References = []string{"MA_DUP"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for reference sharing the principal window")
	}
}

func TestValidateRejectsShortCandleLimit(t *testing.T) {
	cfg := baseConfig()
	cfg.Binance.LimitCandles = 50
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when limit_candles cannot cover the largest window")
	}
}

func TestValidateRejectsBadTimeframe(t *testing.T) {
	cfg := baseConfig()
	cfg.Watch.Timeframe = "7h"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unsupported timeframe")
	}
}

func TestValidateRequiresTelegramCredentials(t *testing.T) {
	cfg := baseConfig()
	cfg.Alerting.Telegram.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for enabled telegram without credentials")
	}
	cfg.Alerting.Telegram.BotToken = "token"
	cfg.Alerting.Telegram.ChatID = "chat"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error with credentials set: %v", err)
	}
}

func TestBuildStrategy(t *testing.T) {
	cfg := baseConfig()
	strat, err := cfg.Strategy.Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strat.Principal.Window != 7 {
		t.Fatalf("principal window = %d, want 7", strat.Principal.Window)
	}
	if len(strat.References) != 2 {
		t.Fatalf("got %d references, want 2", len(strat.References))
	}
	if cfg.MaxWindow() != 99 {
		t.Fatalf("MaxWindow = %d, want 99", cfg.MaxWindow())
	}
	if cfg.MinCandles() != 100 {
		t.Fatalf("MinCandles = %d, want 100", cfg.MinCandles())
	}
}

func TestDescribe(t *testing.T) {
	got := baseConfig().Strategy.Describe()
	if got != "MA_7 crossing MA_25, MA_99" {
		t.Fatalf("Describe = %q", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load with defaults should succeed: %v", err)
	}
	if len(cfg.Watch.Symbols) != 7 {
		t.Fatalf("default symbol list has %d entries, want 7", len(cfg.Watch.Symbols))
	}
	if cfg.Strategy.Principal != "MA_7" {
		t.Fatalf("default principal = %q", cfg.Strategy.Principal)
	}
	if cfg.Monitor.MaxConsecutiveFailures != 5 {
		t.Fatalf("default max_consecutive_failures = %d", cfg.Monitor.MaxConsecutiveFailures)
	}
}
