package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const artifactSchema = `
	CREATE TABLE IF NOT EXISTS artifacts (
		key        TEXT    PRIMARY KEY,
		data       BLOB    NOT NULL,
		updated_at INTEGER NOT NULL
	);
`

// ArtifactStore keeps one row per key in the artifacts table.
// Each Save is a single INSERT OR REPLACE, so readers never see a partial blob.
type ArtifactStore struct {
	db *sql.DB
}

// NewArtifactStore opens (or creates) the database at path.
func NewArtifactStore(path string) (*ArtifactStore, error) {
	db, err := Open(path, artifactSchema)
	if err != nil {
		return nil, err
	}
	return &ArtifactStore{db: db}, nil
}

// Load returns nil, nil if no artifact exists under key.
func (s *ArtifactStore) Load(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM artifacts WHERE key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite read artifact %q: %w", key, err)
	}
	return data, nil
}

func (s *ArtifactStore) Save(ctx context.Context, key string, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO artifacts (key, data, updated_at) VALUES (?, ?, ?)`,
		key, data, time.Now().UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("sqlite write artifact %q: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *ArtifactStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE key = ?`, key); err != nil {
		return fmt.Errorf("sqlite delete artifact %q: %w", key, err)
	}
	return nil
}

// UpdatedAt returns when key was last saved. ok is false if it was never saved.
func (s *ArtifactStore) UpdatedAt(ctx context.Context, key string) (t time.Time, ok bool, err error) {
	var ts int64
	err = s.db.QueryRowContext(ctx, `SELECT updated_at FROM artifacts WHERE key = ?`, key).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("sqlite read artifact time %q: %w", key, err)
	}
	return time.Unix(ts, 0).UTC(), true, nil
}

// Close closes the database.
func (s *ArtifactStore) Close() error {
	return s.db.Close()
}
