package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertAlertSQL = `INSERT INTO crossover_alerts (
        symbol,
        timeframe,
        direction,
        price,
        strength_pct,
        threshold_pct,
        bar_ts,
        ma_values,
        channels
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    )
    ON CONFLICT (symbol, timeframe, bar_ts) DO UPDATE
    SET direction     = EXCLUDED.direction,
        price         = EXCLUDED.price,
        strength_pct  = EXCLUDED.strength_pct,
        threshold_pct = EXCLUDED.threshold_pct,
        ma_values     = EXCLUDED.ma_values,
        channels      = EXCLUDED.channels
    RETURNING id, symbol, timeframe, direction, price, strength_pct, threshold_pct, bar_ts, ma_values, channels, created_at;`

	listRecentAlertsSQL = `SELECT
        id, symbol, timeframe, direction, price, strength_pct, threshold_pct, bar_ts, ma_values, channels, created_at
    FROM crossover_alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteAlertsBeforeSQL = `DELETE FROM crossover_alerts WHERE created_at < $1;`

	upsertSampleSQL = `INSERT INTO signal_samples (
        symbol,
        bucket_ts,
        close_price,
        ma_values,
        strength_pct,
        direction
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    ON CONFLICT (symbol, bucket_ts) DO UPDATE
    SET close_price  = EXCLUDED.close_price,
        ma_values    = EXCLUDED.ma_values,
        strength_pct = EXCLUDED.strength_pct,
        direction    = EXCLUDED.direction;`

	listSamplesBetweenSQL = `SELECT
        symbol, bucket_ts, close_price, ma_values, strength_pct, direction, created_at
    FROM signal_samples
    WHERE symbol = $1
      AND bucket_ts >= $2
      AND bucket_ts < $3
    ORDER BY bucket_ts;`

	countSamplesSQL = `SELECT COUNT(*) FROM signal_samples;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// SampleStore defines operations for per-tick signal samples.
type SampleStore interface {
	UpsertSample(ctx context.Context, sample SignalSample) error
	ListSamplesBetween(ctx context.Context, symbol string, from, to time.Time) ([]SignalSample, error)
	CountSamples(ctx context.Context) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to alerts and samples.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a
// release func. Used so only one watcher instance evaluates a tick.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertAlert persists an alert emission.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.Symbol,
		alert.Timeframe,
		alert.Direction,
		alert.Price.String(),
		alert.StrengthPct.String(),
		alert.ThresholdPct.String(),
		alert.BarTime,
		[]byte(alert.Values),
		alert.Channels,
	)

	rec, scanErr := scanAlert(row)
	if scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return rec, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanAlert(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteAlertsBefore deletes historical alerts.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete alerts before: %w", execErr)
	}
	return nil
}

// UpsertSample persists or updates a signal sample.
func (s *Store) UpsertSample(ctx context.Context, sample SignalSample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertSampleSQL,
		sample.Symbol,
		sample.Bucket,
		sample.Close.String(),
		[]byte(sample.Values),
		sample.StrengthPct.String(),
		sample.Direction,
	)
	if execErr != nil {
		return fmt.Errorf("upsert signal sample: %w", execErr)
	}
	return nil
}

// ListSamplesBetween lists samples for one symbol within a time window.
func (s *Store) ListSamplesBetween(ctx context.Context, symbol string, from, to time.Time) ([]SignalSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSamplesBetweenSQL, symbol, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list samples between: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]SignalSample, 0)
	for rows.Next() {
		sample, scanErr := scanSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// CountSamples counts stored samples.
func (s *Store) CountSamples(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countSamplesSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count samples: %w", scanErr)
	}
	return count, nil
}

func scanAlert(row pgx.Row) (AlertRecord, error) {
	var (
		rec          AlertRecord
		priceStr     string
		strengthStr  string
		thresholdStr string
		values       json.RawMessage
	)

	if err := row.Scan(
		&rec.ID,
		&rec.Symbol,
		&rec.Timeframe,
		&rec.Direction,
		&priceStr,
		&strengthStr,
		&thresholdStr,
		&rec.BarTime,
		&values,
		&rec.Channels,
		&rec.CreatedAt,
	); err != nil {
		return AlertRecord{}, err
	}

	var convErr error
	rec.Price, convErr = decimal.NewFromString(priceStr)
	if convErr != nil {
		return AlertRecord{}, fmt.Errorf("parse price: %w", convErr)
	}
	rec.StrengthPct, convErr = decimal.NewFromString(strengthStr)
	if convErr != nil {
		return AlertRecord{}, fmt.Errorf("parse strength pct: %w", convErr)
	}
	rec.ThresholdPct, convErr = decimal.NewFromString(thresholdStr)
	if convErr != nil {
		return AlertRecord{}, fmt.Errorf("parse threshold pct: %w", convErr)
	}
	rec.Values = values
	return rec, nil
}

func scanSample(rows pgx.Rows) (SignalSample, error) {
	var (
		sample      SignalSample
		closeStr    string
		strengthStr string
		values      json.RawMessage
		direction   sql.NullString
	)

	if err := rows.Scan(
		&sample.Symbol,
		&sample.Bucket,
		&closeStr,
		&values,
		&strengthStr,
		&direction,
		&sample.CreatedAt,
	); err != nil {
		return SignalSample{}, err
	}

	var convErr error
	sample.Close, convErr = decimal.NewFromString(closeStr)
	if convErr != nil {
		return SignalSample{}, fmt.Errorf("parse close price: %w", convErr)
	}
	sample.StrengthPct, convErr = decimal.NewFromString(strengthStr)
	if convErr != nil {
		return SignalSample{}, fmt.Errorf("parse strength pct: %w", convErr)
	}
	sample.Values = values
	if direction.Valid {
		sample.Direction = direction.String
	}
	return sample, nil
}

var (
	_ AlertStore     = (*Store)(nil)
	_ SampleStore    = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
