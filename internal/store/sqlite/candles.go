package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"signalbot/internal/model"
)

const candleSchema = `
	CREATE TABLE IF NOT EXISTS candles (
		asset  TEXT    NOT NULL,
		ts     INTEGER NOT NULL,
		open   REAL    NOT NULL,
		high   REAL    NOT NULL,
		low    REAL    NOT NULL,
		close  REAL    NOT NULL,
		volume REAL,
		PRIMARY KEY (asset, ts)
	);
`

// CandleStore is the candle history for one asset.
type CandleStore struct {
	db    *sql.DB
	asset string
	log   zerolog.Logger
	now   func() time.Time
}

// NewCandleStore opens (or creates) the database at path.
func NewCandleStore(path, asset string, log zerolog.Logger) (*CandleStore, error) {
	db, err := Open(path, candleSchema)
	if err != nil {
		return nil, err
	}
	log.Info().Str("path", path).Str("asset", asset).Msg("candle store opened")
	return &CandleStore{db: db, asset: asset, log: log, now: time.Now}, nil
}

// Record upserts one candle.
func (s *CandleStore) Record(ctx context.Context, c model.Candle) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO candles (asset, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, s.asset, c.TS.Unix(), c.Open, c.High, c.Low, c.Close, c.Volume)
	if err != nil {
		return fmt.Errorf("sqlite insert candle: %w", err)
	}
	return nil
}

// InsertBatch upserts candles in a single transaction.
func (s *CandleStore) InsertBatch(ctx context.Context, candles []model.Candle) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO candles (asset, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, s.asset, c.TS.Unix(), c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			tx.Rollback()
			return err
		}
	}

	start := time.Now()
	if err := tx.Commit(); err != nil {
		return err
	}
	s.log.Debug().Int("candles", len(candles)).Dur("took", time.Since(start)).Msg("committed candle batch")
	return nil
}

// History returns candles newer than now-lookback, ordered by timestamp ascending.
func (s *CandleStore) History(ctx context.Context, lookback time.Duration) ([]model.Candle, error) {
	after := s.now().Add(-lookback).Unix()
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume
		FROM candles
		WHERE asset = ? AND ts > ?
		ORDER BY ts ASC
	`, s.asset, after)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		var c model.Candle
		var tsUnix int64
		var vol sql.NullFloat64
		if err := rows.Scan(&tsUnix, &c.Open, &c.High, &c.Low, &c.Close, &vol); err != nil {
			return nil, fmt.Errorf("sqlite scan candles: %w", err)
		}
		c.TS = time.Unix(tsUnix, 0).UTC()
		c.Volume = vol.Float64
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// LastTimestamp returns the newest stored candle time. ok is false when empty.
func (s *CandleStore) LastTimestamp(ctx context.Context) (time.Time, bool, error) {
	var ts sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(ts) FROM candles WHERE asset = ?`, s.asset).Scan(&ts)
	if err != nil {
		return time.Time{}, false, err
	}
	if !ts.Valid {
		return time.Time{}, false, nil
	}
	return time.Unix(ts.Int64, 0).UTC(), true, nil
}

// Close closes the database.
func (s *CandleStore) Close() error {
	return s.db.Close()
}
