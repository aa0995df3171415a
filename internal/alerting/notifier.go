package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ma-cross-alerts/internal/signal"
)

// Notification carries one confirmed crossover to a delivery channel.
type Notification struct {
	Symbol         string
	Timeframe      string
	Direction      signal.Direction
	Price          decimal.Decimal
	BarTime        time.Time
	Values         signal.Set
	StrengthPct    decimal.Decimal
	MinStrengthPct decimal.Decimal
	Channels       []string
}

// Notifier delivers rendered alerts.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier pushes alerts through the Telegram Bot sendMessage API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram delivery channel.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Verify calls getMe to confirm the bot token is usable. Run once at
// startup; a failure means alerts will not be deliverable.
func (n *TelegramNotifier) Verify(ctx context.Context) error {
	url := fmt.Sprintf("%s/bot%s/getMe", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram getMe request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram getMe status: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode telegram getMe response: %w", err)
	}
	if !result.OK {
		return fmt.Errorf("telegram getMe returned ok=false")
	}

	n.logger.Info().Msg("telegram bot connectivity verified")
	return nil
}

// Notify renders the crossover as plain text and calls sendMessage.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().
		Str("symbol", note.Symbol).
		Str("direction", note.Direction.String()).
		Str("channels", strings.Join(note.Channels, ",")).
		Msg("alert delivered (telegram)")
	return nil
}

func renderMessage(note Notification) string {
	emoji, label, action := "🟢", "UP", "LONG"
	if note.Direction == signal.Down {
		emoji, label, action = "🔴", "DOWN", "SHORT"
	}

	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("%s %s - %s\n\n", emoji, note.Symbol, label))
	builder.WriteString(fmt.Sprintf("Price: $%s\n", note.Price.StringFixed(4)))
	builder.WriteString(fmt.Sprintf("Strength: %s%% (%s)\n", note.StrengthPct.StringFixed(1), classifyStrength(note.StrengthPct, note.MinStrengthPct)))
	builder.WriteString(fmt.Sprintf("Minimum: %s%%\n", note.MinStrengthPct.StringFixed(1)))
	if line := renderValues(note.Values); line != "" {
		builder.WriteString(line + "\n")
	}
	builder.WriteString(fmt.Sprintf("Time: %s (%s)\n\n", note.BarTime.UTC().Format("15:04"), note.Timeframe))
	builder.WriteString(fmt.Sprintf("Action: %s now", action))
	return builder.String()
}

// classifyStrength grades the bottleneck distance against the configured
// minimum, as a rough confidence label for the reader.
func classifyStrength(strength, minimum decimal.Decimal) string {
	switch {
	case strength.GreaterThanOrEqual(minimum.Mul(decimal.NewFromInt(2))):
		return "very strong"
	case strength.GreaterThanOrEqual(minimum.Mul(decimal.NewFromFloat(1.5))):
		return "strong"
	default:
		return "valid"
	}
}

func renderValues(values signal.Set) string {
	if len(values) == 0 {
		return ""
	}

	ids := make([]signal.MA, 0, len(values))
	for id := range values {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Window < ids[j].Window })

	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%s: %s", id.Name, values[id].StringFixed(4)))
	}
	return strings.Join(parts, " | ")
}

var _ Notifier = (*TelegramNotifier)(nil)
