package storage

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// AlertRecord captures one emitted crossover alert for auditing. The
// in-memory suppression state is deliberately not persisted; this table only
// answers "what fired when".
type AlertRecord struct {
	ID           int64
	Symbol       string
	Timeframe    string
	Direction    string
	Price        decimal.Decimal
	StrengthPct  decimal.Decimal
	ThresholdPct decimal.Decimal
	BarTime      time.Time
	Values       json.RawMessage
	Channels     []string
	CreatedAt    time.Time
}

// SignalSample is one per-symbol observation from a tick: the closing price
// and every computed MA value, feeding the show/export commands.
type SignalSample struct {
	Symbol      string
	Bucket      time.Time
	Close       decimal.Decimal
	Values      json.RawMessage
	StrengthPct decimal.Decimal
	Direction   string
	CreatedAt   time.Time
}
