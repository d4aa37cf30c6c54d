package execution

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"signalbot/internal/store/sqlite"
)

const journalSchema = `
	CREATE TABLE IF NOT EXISTS fills (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id    TEXT NOT NULL UNIQUE,
		asset       TEXT NOT NULL,
		kind        TEXT NOT NULL,
		size        REAL NOT NULL,
		ref_price   REAL NOT NULL,
		fill_price  REAL NOT NULL,
		slippage    REAL DEFAULT 0,
		strength    REAL DEFAULT 0,
		filled_at   INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_fills_filled_at ON fills(filled_at);
`

// Journal persists fills to SQLite for analysis and audit.
type Journal struct {
	db *sql.DB
}

// NewJournal opens (or creates) a SQLite journal database.
func NewJournal(path string, log zerolog.Logger) (*Journal, error) {
	db, err := sqlite.Open(path, journalSchema)
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	log.Info().Str("path", path).Msg("fill journal opened")
	return &Journal{db: db}, nil
}

// RecordFill persists a fill to the journal.
func (j *Journal) RecordFill(ctx context.Context, f Fill) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO fills (order_id, asset, kind, size, ref_price, fill_price, slippage, strength, filled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		f.OrderID,
		f.Directive.Asset,
		string(f.Directive.Kind),
		f.Directive.Size,
		f.Directive.Price,
		f.FillPrice,
		f.Slippage,
		f.Directive.Strength,
		f.FilledAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("journal insert: %w", err)
	}
	return nil
}

// FillRecord represents a row from the fills table.
type FillRecord struct {
	ID        int64     `json:"id"`
	OrderID   string    `json:"order_id"`
	Asset     string    `json:"asset"`
	Kind      string    `json:"kind"`
	Size      float64   `json:"size"`
	FillPrice float64   `json:"fill_price"`
	FilledAt  time.Time `json:"filled_at"`
}

// Recent returns the last limit fills, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]FillRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, order_id, asset, kind, size, fill_price, filled_at
		FROM fills ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal query: %w", err)
	}
	defer rows.Close()

	var out []FillRecord
	for rows.Next() {
		var r FillRecord
		var ts int64
		if err := rows.Scan(&r.ID, &r.OrderID, &r.Asset, &r.Kind, &r.Size, &r.FillPrice, &ts); err != nil {
			return nil, fmt.Errorf("journal scan: %w", err)
		}
		r.FilledAt = time.Unix(0, ts).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
