package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"signalbot/internal/features"
	"signalbot/internal/indicator"
	"signalbot/internal/model"
	"signalbot/internal/scaler"
	"signalbot/internal/scorer"
	"signalbot/internal/store"
)

// Report summarises one successful training run.
type Report struct {
	Accuracy  float64       `json:"accuracy"`
	Samples   int           `json:"samples"`
	Candles   int           `json:"candles"`
	Duration  time.Duration `json:"duration"`
	TrainedAt time.Time     `json:"trained_at"`
}

// Trainer runs history → indicators → dataset → scaler fit → model fit.
// Both artifacts are staged and reach the store only when the whole run
// succeeds, scaler first.
type Trainer struct {
	cfg     Config
	keys    Keys
	history model.HistorySource
	store   model.ArtifactStore
	log     zerolog.Logger
	now     func() time.Time
}

// NewTrainer creates a trainer writing to st.
func NewTrainer(cfg Config, keys Keys, history model.HistorySource, st model.ArtifactStore, log zerolog.Logger) *Trainer {
	return &Trainer{cfg: cfg, keys: keys, history: history, store: st, log: log, now: time.Now}
}

// Train fetches the configured lookback of history and fits on it.
func (t *Trainer) Train(ctx context.Context) (Report, error) {
	lookback := time.Duration(t.cfg.HistoryDays) * 24 * time.Hour
	candles, err := t.history.History(ctx, lookback)
	if err != nil {
		return Report{}, fmt.Errorf("train: history: %w", err)
	}
	t.log.Info().Int("candles", len(candles)).Int("days", t.cfg.HistoryDays).Msg("history fetched")
	return t.Fit(ctx, candles)
}

// Fit runs indicators → dataset → scaler fit → model fit on candles and
// commits both artifacts. A failed commit restores the previous blobs.
func (t *Trainer) Fit(ctx context.Context, candles []model.Candle) (Report, error) {
	start := t.now()

	rows := indicator.Compute(candles, t.cfg.Indicator)
	X, y, err := features.NewExtractor(t.cfg.Features).Dataset(rows)
	if err != nil {
		return Report{}, fmt.Errorf("train: dataset: %w", err)
	}

	staged := store.NewStaged(t.store)
	defer staged.Discard()

	scaled, _, err := scaler.New(staged, t.keys.Scaler, t.log).FitTransform(ctx, X)
	if err != nil {
		return Report{}, fmt.Errorf("train: scaler: %w", err)
	}
	acc, err := scorer.New(t.cfg.Scorer, staged, t.keys.Model, t.log).Train(ctx, scaled, y)
	if err != nil {
		return Report{}, fmt.Errorf("train: model: %w", err)
	}
	t.log.Debug().Strs("keys", staged.Pending()).Msg("committing artifacts")
	if err := staged.Commit(ctx); err != nil {
		return Report{}, fmt.Errorf("train: %w", err)
	}

	r := Report{
		Accuracy:  acc,
		Samples:   len(X),
		Candles:   len(candles),
		Duration:  t.now().Sub(start),
		TrainedAt: t.now().UTC(),
	}
	t.log.Info().
		Float64("accuracy", r.Accuracy).
		Int("samples", r.Samples).
		Dur("duration", r.Duration).
		Msg("training complete")
	return r, nil
}
