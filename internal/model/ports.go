package model

import (
	"context"
	"time"
)

// ── Port Interfaces ──
// These interfaces decouple the signal pipeline from concrete market data and
// storage implementations (file, SQLite, Redis, WebSocket).

// ArtifactStore persists opaque blobs (model weights, scaler state) by key.
// Save must replace the previous blob atomically: readers observe either the
// old or the new value, never a partial write.
type ArtifactStore interface {
	// Load returns the blob stored under key.
	// Returns nil, nil if nothing has been stored yet.
	Load(ctx context.Context, key string) ([]byte, error)

	// Save replaces the blob stored under key.
	Save(ctx context.Context, key string, data []byte) error
}

// CandleFeed returns the most recent candle for the configured asset.
type CandleFeed interface {
	Latest(ctx context.Context) (Candle, error)
}

// HistorySource returns an ordered candle history covering the lookback
// window ending now.
type HistorySource interface {
	History(ctx context.Context, lookback time.Duration) ([]Candle, error)
}

// CandleRecorder accepts candles observed live so that history accumulates.
type CandleRecorder interface {
	Record(ctx context.Context, c Candle) error
}
