package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const defaultKlinesPath = "/fapi/v1/klines"

// BinanceOptions parameterise the futures klines fetcher.
type BinanceOptions struct {
	BaseURL    string
	KlinesPath string
	Timeframe  string
	Limit      int
	MinCandles int
	Timeout    time.Duration
	Retry      RetryPolicy
	UserAgent  string
}

// Binance fetches kline series from the Binance futures REST API.
type Binance struct {
	opts    BinanceOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewBinance constructs a candle fetcher against the futures API.
func NewBinance(opts BinanceOptions, logger zerolog.Logger) *Binance {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if opts.KlinesPath == "" {
		opts.KlinesPath = defaultKlinesPath
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry.MaxAttempts = 3
	}
	if opts.Retry.Backoff <= 0 {
		opts.Retry.Backoff = 2 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://fapi.binance.com"
	}

	return &Binance{
		opts:    opts,
		logger:  logger.With().Str("component", "binance_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchCandles retrieves the most recent klines for symbol, retrying
// transient failures within the configured policy. Rate-limit responses wait
// longer than ordinary failures before the next attempt.
func (b *Binance) FetchCandles(ctx context.Context, symbol string) (Series, error) {
	var lastErr error

	for attempt := 1; attempt <= b.opts.Retry.MaxAttempts; attempt++ {
		series, rateLimitWait, err := b.fetchOnce(ctx, symbol)
		if err == nil {
			return series, nil
		}
		lastErr = err

		retryIn := b.retryWait(rateLimitWait, attempt)
		b.logger.Warn().Err(err).
			Str("symbol", symbol).
			Int("attempt", attempt).
			Dur("retry_in", retryIn).
			Msg("kline fetch failed")

		if attempt == b.opts.Retry.MaxAttempts {
			break
		}
		if err := sleepCtx(ctx, retryIn); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("fetch klines for %s after %d attempts: %w", symbol, b.opts.Retry.MaxAttempts, lastErr)
}

// retryWait picks the pause before the next attempt. Rate-limit waits grow
// with each repeated throttle, like the linear backoff for ordinary failures.
func (b *Binance) retryWait(rateLimitWait time.Duration, attempt int) time.Duration {
	if rateLimitWait > 0 {
		return rateLimitWait * time.Duration(attempt)
	}
	return b.opts.Retry.delay(attempt)
}

// fetchOnce performs a single request. The returned duration is the base
// rate-limit wait when the server asked us to slow down, zero otherwise.
func (b *Binance) fetchOnce(ctx context.Context, symbol string) (Series, time.Duration, error) {
	endpoint := b.baseURL + b.opts.KlinesPath
	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("interval", b.opts.Timeframe)
	query.Set("limit", strconv.Itoa(b.opts.Limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(b.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		io.Copy(io.Discard, resp.Body)
		return nil, 10 * time.Second, fmt.Errorf("binance rate limited (429)")
	case http.StatusUnavailableForLegalReasons:
		io.Copy(io.Discard, resp.Body)
		return nil, 5 * time.Second, fmt.Errorf("binance rate limited (451)")
	default:
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, 0, fmt.Errorf("binance api error (%d): %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	series, err := decodeKlines(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	if err := series.Validate(b.opts.MinCandles); err != nil {
		return nil, 0, fmt.Errorf("%w: got %d candles, need %d", ErrInsufficientData, len(series), b.opts.MinCandles)
	}
	return series, 0, nil
}

// decodeKlines parses the futures kline payload: an array of rows where
// index 0 is the open time (ms), 1-5 are open/high/low/close/volume as
// strings, and 6 is the close time (ms).
func decodeKlines(body io.Reader) (Series, error) {
	var rows [][]json.RawMessage
	if err := json.NewDecoder(body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}

	series := make(Series, 0, len(rows))
	for _, row := range rows {
		if len(row) < 7 {
			return nil, fmt.Errorf("%w: kline row has %d fields", ErrInsufficientData, len(row))
		}

		openTime, err := parseMillis(row[0])
		if err != nil {
			return nil, err
		}
		closeTime, err := parseMillis(row[6])
		if err != nil {
			return nil, err
		}

		var candle Candle
		candle.OpenTime = openTime
		candle.CloseTime = closeTime
		for i, target := range []*decimal.Decimal{&candle.Open, &candle.High, &candle.Low, &candle.Close, &candle.Volume} {
			value, err := parsePrice(row[i+1])
			if err != nil {
				return nil, err
			}
			*target = value
		}
		series = append(series, candle)
	}
	return series, nil
}

func parseMillis(raw json.RawMessage) (time.Time, error) {
	var ms int64
	if err := json.Unmarshal(raw, &ms); err != nil {
		return time.Time{}, fmt.Errorf("%w: bad kline timestamp %s", ErrInsufficientData, raw)
	}
	return time.UnixMilli(ms).UTC(), nil
}

func parsePrice(raw json.RawMessage) (decimal.Decimal, error) {
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: bad kline field %s", ErrInsufficientData, raw)
	}
	value, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: bad kline number %q", ErrInsufficientData, text)
	}
	return value, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ CandleFetcher = (*Binance)(nil)
