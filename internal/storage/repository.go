package storage

import (
	"context"
	"database/sql"
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
	schemaSQL = `
CREATE TABLE IF NOT EXISTS price_samples (
    id          BIGSERIAL PRIMARY KEY,
    tick_id     UUID        NOT NULL,
    source_id   TEXT        NOT NULL,
    observed_at TIMESTAMPTZ NOT NULL,
    price       NUMERIC(18,4),
    ask         NUMERIC(18,4),
    rate        NUMERIC(18,6),
    status      TEXT        NOT NULL,
    error       TEXT,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (tick_id, source_id)
);
CREATE INDEX IF NOT EXISTS price_samples_observed_idx ON price_samples (observed_at DESC);

CREATE TABLE IF NOT EXISTS alerts (
    id            BIGSERIAL PRIMARY KEY,
    tick_id       UUID        NOT NULL,
    source_id     TEXT        NOT NULL,
    price         NUMERIC(18,4) NOT NULL,
    reference     NUMERIC(18,4) NOT NULL,
    change_pct    NUMERIC(12,6) NOT NULL,
    threshold_pct NUMERIC(12,6) NOT NULL,
    direction     TEXT        NOT NULL,
    raised_at     TIMESTAMPTZ NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (tick_id, source_id)
);`

	insertSampleSQL = `INSERT INTO price_samples (
        tick_id,
        source_id,
        observed_at,
        price,
        ask,
        rate,
        status,
        error
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    ON CONFLICT (tick_id, source_id) DO NOTHING;`

	listRecentSamplesSQL = `SELECT
        tick_id::text,
        source_id,
        observed_at,
        price::text,
        ask::text,
        rate::text,
        status,
        error,
        created_at
    FROM price_samples
    WHERE ($2 = '' OR source_id = $2)
    ORDER BY observed_at DESC
    LIMIT $1;`

	insertAlertSQL = `INSERT INTO alerts (
        tick_id,
        source_id,
        price,
        reference,
        change_pct,
        threshold_pct,
        direction,
        raised_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    ON CONFLICT (tick_id, source_id) DO UPDATE
    SET change_pct = EXCLUDED.change_pct
    RETURNING id, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        tick_id::text,
        source_id,
        price::text,
        reference::text,
        change_pct::text,
        threshold_pct::text,
        direction,
        raised_at,
        created_at
    FROM alerts
    ORDER BY raised_at DESC
    LIMIT $1;`

	deleteSamplesBeforeSQL = `DELETE FROM price_samples WHERE observed_at < $1;`
)

// SampleStore journals per-tick source outcomes.
type SampleStore interface {
	InsertSamples(ctx context.Context, samples []PriceSample) error
	ListRecentSamples(ctx context.Context, sourceID string, limit int) ([]PriceSample, error)
	DeleteSamplesBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// AlertStore journals raised alerts.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
}

// Store is the PostgreSQL-backed journal. It is never read back into alert state.
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

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureSchema creates the journal tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// InsertSamples writes one tick's samples in a single batch.
func (s *Store) InsertSamples(ctx context.Context, samples []PriceSample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, sample := range samples {
		var errMsg interface{}
		if sample.Error != nil {
			errMsg = *sample.Error
		}
		batch.Queue(insertSampleSQL,
			sample.TickID,
			sample.SourceID,
			sample.ObservedAt,
			nullableDecimal(sample.Price),
			nullableDecimal(sample.Ask),
			nullableDecimal(sample.Rate),
			sample.Status,
			errMsg,
		)
	}

	results := pool.SendBatch(ctx, batch)
	defer results.Close()

	for range samples {
		if _, execErr := results.Exec(); execErr != nil {
			return fmt.Errorf("insert price sample: %w", execErr)
		}
	}
	return nil
}

// ListRecentSamples lists the newest samples, optionally for one source.
func (s *Store) ListRecentSamples(ctx context.Context, sourceID string, limit int) ([]PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSamplesSQL, limit, sourceID)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent samples: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]PriceSample, 0, limit)
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

// DeleteSamplesBefore prunes the journal.
func (s *Store) DeleteSamplesBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteSamplesBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete samples before: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

// InsertAlert persists an alert emission.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.TickID,
		alert.SourceID,
		alert.Price.String(),
		alert.Reference.String(),
		alert.ChangePct.String(),
		alert.ThresholdPct.String(),
		alert.Direction,
		alert.RaisedAt,
	)

	rec := alert
	if scanErr := row.Scan(&rec.ID, &rec.CreatedAt); scanErr != nil {
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
		var (
			rec                                    AlertRecord
			priceStr, refStr, changeStr, threshStr string
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.TickID,
			&rec.SourceID,
			&priceStr,
			&refStr,
			&changeStr,
			&threshStr,
			&rec.Direction,
			&rec.RaisedAt,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}

		parsed, convErr := parseDecimals(priceStr, refStr, changeStr, threshStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse alert %d: %w", rec.ID, convErr)
		}
		rec.Price, rec.Reference, rec.ChangePct, rec.ThresholdPct = parsed[0], parsed[1], parsed[2], parsed[3]

		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

func scanSample(rows pgx.Rows) (PriceSample, error) {
	var (
		sample                    PriceSample
		priceStr, askStr, rateStr sql.NullString
		errMsg                    sql.NullString
	)

	if err := rows.Scan(
		&sample.TickID,
		&sample.SourceID,
		&sample.ObservedAt,
		&priceStr,
		&askStr,
		&rateStr,
		&sample.Status,
		&errMsg,
		&sample.CreatedAt,
	); err != nil {
		return PriceSample{}, err
	}

	var err error
	if sample.Price, err = parseNullDecimal(priceStr); err != nil {
		return PriceSample{}, fmt.Errorf("parse price: %w", err)
	}
	if sample.Ask, err = parseNullDecimal(askStr); err != nil {
		return PriceSample{}, fmt.Errorf("parse ask: %w", err)
	}
	if sample.Rate, err = parseNullDecimal(rateStr); err != nil {
		return PriceSample{}, fmt.Errorf("parse rate: %w", err)
	}
	if errMsg.Valid {
		msg := errMsg.String
		sample.Error = &msg
	}

	return sample, nil
}

func nullableDecimal(d decimal.NullDecimal) interface{} {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}

func parseNullDecimal(s sql.NullString) (decimal.NullDecimal, error) {
	if !s.Valid {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

func parseDecimals(values ...string) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}

var (
	_ SampleStore = (*Store)(nil)
	_ AlertStore  = (*Store)(nil)
)
