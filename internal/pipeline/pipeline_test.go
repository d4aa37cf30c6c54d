package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalbot/internal/logger"
	"signalbot/internal/marketdata/synthetic"
	"signalbot/internal/model"
	"signalbot/internal/scaler"
	"signalbot/internal/scorer"
	"signalbot/internal/store"
	"signalbot/internal/strategy"
)

var (
	keys  = Keys{Model: "trading_model", Scaler: "scaler"}
	clock = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.HistoryDays = 10
	cfg.Scorer.Epochs = 2
	return cfg
}

func feed() *synthetic.Feed {
	return synthetic.NewFeed(5*time.Minute, 7).WithClock(func() time.Time { return clock })
}

// recordingStore logs the order of saves.
type recordingStore struct {
	*store.Memory
	mu    sync.Mutex
	saves []string
}

func (r *recordingStore) Save(ctx context.Context, key string, data []byte) error {
	r.mu.Lock()
	r.saves = append(r.saves, key)
	r.mu.Unlock()
	return r.Memory.Save(ctx, key, data)
}

// modelWriteFails rejects writes of the model key once armed.
type modelWriteFails struct {
	*store.Memory
	armed bool
}

func (m *modelWriteFails) Save(ctx context.Context, key string, data []byte) error {
	if m.armed && key == keys.Model {
		return errors.New("disk full")
	}
	return m.Memory.Save(ctx, key, data)
}

type failingHistory struct{}

func (failingHistory) History(context.Context, time.Duration) ([]model.Candle, error) {
	return nil, errors.New("exchange down")
}

func TestTrainer_PersistsScalerThenModel(t *testing.T) {
	ctx := context.Background()
	st := &recordingStore{Memory: store.NewMemory()}

	r, err := NewTrainer(testConfig(), keys, feed(), st, logger.Nop()).Train(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"scaler", "trading_model"}, st.saves)
	assert.Equal(t, 10*288+1, r.Candles)
	assert.Greater(t, r.Samples, 0)
	assert.True(t, r.Accuracy >= 0 && r.Accuracy <= 1)

	// a fresh scaler/scorer pair loads what was committed
	sc := scaler.New(st, keys.Scaler, logger.Nop())
	require.NoError(t, sc.EnsureLoaded(ctx))
	sr := scorer.New(testConfig().Scorer, st, keys.Model, logger.Nop())
	ok, err := sr.Load(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTrainer_FailureWritesNothing(t *testing.T) {
	ctx := context.Background()

	cfg := testConfig()
	cfg.Scorer.MinSamples = 1_000_000
	st := &recordingStore{Memory: store.NewMemory()}
	_, err := NewTrainer(cfg, keys, feed(), st, logger.Nop()).Train(ctx)
	assert.ErrorIs(t, err, scorer.ErrInsufficientData)
	assert.Empty(t, st.saves, "scaler must not be committed when the model fails")

	_, err = NewTrainer(testConfig(), keys, failingHistory{}, st, logger.Nop()).Train(ctx)
	assert.Error(t, err)
	assert.Empty(t, st.saves)
}

func TestTrainer_FailureKeepsPreviousArtifacts(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	_, err := NewTrainer(testConfig(), keys, feed(), st, logger.Nop()).Train(ctx)
	require.NoError(t, err)
	model1, _ := st.Load(ctx, keys.Model)
	scaler1, _ := st.Load(ctx, keys.Scaler)

	cfg := testConfig()
	cfg.Scorer.MinSamples = 1_000_000
	_, err = NewTrainer(cfg, keys, synthetic.NewFeed(5*time.Minute, 99), st, logger.Nop()).Train(ctx)
	require.Error(t, err)

	model2, _ := st.Load(ctx, keys.Model)
	scaler2, _ := st.Load(ctx, keys.Scaler)
	assert.Equal(t, model1, model2)
	assert.Equal(t, scaler1, scaler2)
}

func TestTrainer_ModelWriteFailureRestoresScaler(t *testing.T) {
	ctx := context.Background()
	st := &modelWriteFails{Memory: store.NewMemory()}
	_, err := NewTrainer(testConfig(), keys, feed(), st, logger.Nop()).Train(ctx)
	require.NoError(t, err)
	model1, _ := st.Load(ctx, keys.Model)
	scaler1, _ := st.Load(ctx, keys.Scaler)

	st.armed = true
	other := synthetic.NewFeed(5*time.Minute, 99).WithClock(func() time.Time { return clock })
	_, err = NewTrainer(testConfig(), keys, other, st, logger.Nop()).Train(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "commit")

	model2, _ := st.Load(ctx, keys.Model)
	scaler2, _ := st.Load(ctx, keys.Scaler)
	assert.Equal(t, model1, model2)
	assert.Equal(t, scaler1, scaler2, "scaler from the failed run must not survive")
}

func TestTrainer_FitUsesGivenCandles(t *testing.T) {
	ctx := context.Background()
	candles, err := feed().History(ctx, 10*24*time.Hour)
	require.NoError(t, err)

	st := store.NewMemory()
	r, err := NewTrainer(testConfig(), keys, failingHistory{}, st, logger.Nop()).Fit(ctx, candles)
	require.NoError(t, err)
	assert.Equal(t, len(candles), r.Candles)
	b, _ := st.Load(ctx, keys.Model)
	assert.NotEmpty(t, b)
}

func trainedPredictor(t *testing.T) (*Predictor, []model.Candle) {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory()
	cfg := testConfig()
	_, err := NewTrainer(cfg, keys, feed(), st, logger.Nop()).Train(ctx)
	require.NoError(t, err)

	sr := scorer.New(cfg.Scorer, st, keys.Model, logger.Nop())
	ok, err := sr.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	candles, err := synthetic.NewFeed(5*time.Minute, 3).WithClock(func() time.Time { return clock }).History(ctx, 24*time.Hour)
	require.NoError(t, err)
	return NewPredictor(cfg, scaler.New(st, keys.Scaler, logger.Nop()), sr), candles
}

func TestPredictor_Predict(t *testing.T) {
	p, candles := trainedPredictor(t)

	pred, err := p.Predict(context.Background(), candles)
	require.NoError(t, err)
	assert.True(t, pred.Score >= 0 && pred.Score <= 1)
	assert.Len(t, pred.Features, 4)
	assert.Equal(t, candles[len(candles)-1].TS, pred.At)
	assert.Equal(t, strategy.Decide(pred.Score, strategy.DefaultThresholds()), pred.Signal)
}

func TestPredictor_NotEnoughHistory(t *testing.T) {
	p, candles := trainedPredictor(t)

	for _, n := range []int{0, 1, 5, 22} {
		_, err := p.Predict(context.Background(), candles[:n])
		assert.ErrorIs(t, err, ErrNotEnoughHistory, "n=%d", n)
	}
	_, err := p.Predict(context.Background(), candles[:23])
	assert.NoError(t, err, "warmup is 23 candles with default periods")
}

type fixedScorer struct{ p float64 }

func (f fixedScorer) Score([]float64) (float64, error) { return f.p, nil }

type identityScaler struct{ err error }

func (s identityScaler) Transform(_ context.Context, X [][]float64) ([][]float64, error) {
	return X, s.err
}

func TestPredictor_PropagatesScalerError(t *testing.T) {
	_, candles := trainedPredictor(t)
	p := NewPredictor(testConfig(), identityScaler{err: scaler.ErrScalerNotReady}, fixedScorer{0.9})
	_, err := p.Predict(context.Background(), candles)
	assert.ErrorIs(t, err, scaler.ErrScalerNotReady)
}

func TestBacktest_Tallies(t *testing.T) {
	_, candles := trainedPredictor(t)

	p := NewPredictor(testConfig(), identityScaler{}, fixedScorer{0.95})
	res, err := p.Backtest(context.Background(), candles)
	require.NoError(t, err)
	assert.Equal(t, len(candles)-22, res.Rows)
	assert.Equal(t, res.Rows, res.Buy)
	assert.Zero(t, res.Sell+res.Hold)
	assert.True(t, res.HitRate() >= 0 && res.HitRate() <= 1)

	hold := NewPredictor(testConfig(), identityScaler{}, fixedScorer{0.5})
	res, err = hold.Backtest(context.Background(), candles)
	require.NoError(t, err)
	assert.Equal(t, res.Rows, res.Hold)
	assert.Zero(t, res.HitRate())

	_, err = hold.Backtest(context.Background(), candles[:10])
	assert.ErrorIs(t, err, ErrNotEnoughHistory)
}
