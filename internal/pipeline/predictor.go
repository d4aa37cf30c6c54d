package pipeline

import (
	"context"
	"fmt"
	"time"

	"signalbot/internal/features"
	"signalbot/internal/indicator"
	"signalbot/internal/model"
	"signalbot/internal/strategy"
)

// VectorScaler is the scaler surface the predictor needs.
type VectorScaler interface {
	Transform(ctx context.Context, X [][]float64) ([][]float64, error)
}

// ProbabilityScorer is the scorer surface the predictor needs.
type ProbabilityScorer interface {
	Score(v []float64) (float64, error)
}

// Prediction is the outcome of one predict call.
type Prediction struct {
	Score    float64
	Signal   strategy.Signal
	Features features.Vector
	Close    float64
	At       time.Time
}

// Predictor turns a candle window into a signal for its newest candle.
type Predictor struct {
	cfg       Config
	extractor *features.Extractor
	scaler    VectorScaler
	scorer    ProbabilityScorer
}

// NewPredictor creates a predictor over loaded scaler and scorer instances.
func NewPredictor(cfg Config, sc VectorScaler, sr ProbabilityScorer) *Predictor {
	return &Predictor{cfg: cfg, extractor: features.NewExtractor(cfg.Features), scaler: sc, scorer: sr}
}

// Predict scores the newest candle of candles.
func (p *Predictor) Predict(ctx context.Context, candles []model.Candle) (Prediction, error) {
	rows := indicator.Compute(candles, p.cfg.Indicator)
	if len(rows) == 0 || !rows[len(rows)-1].Ready() {
		return Prediction{}, fmt.Errorf("%w: %d candles, need %d", ErrNotEnoughHistory, len(candles), p.cfg.Indicator.Warmup())
	}
	last := rows[len(rows)-1]

	v, err := p.extractor.Extract(last)
	if err != nil {
		return Prediction{}, fmt.Errorf("predict: %w", err)
	}
	scaled, err := p.scaler.Transform(ctx, [][]float64{v})
	if err != nil {
		return Prediction{}, fmt.Errorf("predict: scale: %w", err)
	}
	score, err := p.scorer.Score(scaled[0])
	if err != nil {
		return Prediction{}, fmt.Errorf("predict: score: %w", err)
	}

	return Prediction{
		Score:    score,
		Signal:   strategy.Decide(score, p.cfg.Thresholds),
		Features: v,
		Close:    last.Candle.Close,
		At:       last.Candle.TS,
	}, nil
}

// BacktestResult tallies signals over a history.
type BacktestResult struct {
	Rows int `json:"rows"`
	Buy  int `json:"buy"`
	Sell int `json:"sell"`
	Hold int `json:"hold"`
	// Hits counts actionable signals whose direction matched the next close.
	Hits int `json:"hits"`
}

// HitRate is Hits over actionable signals, 0 when there were none.
func (b BacktestResult) HitRate() float64 {
	n := b.Buy + b.Sell
	if n == 0 {
		return 0
	}
	return float64(b.Hits) / float64(n)
}

// Backtest replays the predictor over every ready row of candles.
func (p *Predictor) Backtest(ctx context.Context, candles []model.Candle) (BacktestResult, error) {
	ready := indicator.ReadySuffix(indicator.Compute(candles, p.cfg.Indicator))
	if len(ready) == 0 {
		return BacktestResult{}, ErrNotEnoughHistory
	}

	X := make([][]float64, len(ready))
	for i, r := range ready {
		v, err := p.extractor.Extract(r)
		if err != nil {
			return BacktestResult{}, fmt.Errorf("backtest: row %d: %w", i, err)
		}
		X[i] = v
	}
	scaled, err := p.scaler.Transform(ctx, X)
	if err != nil {
		return BacktestResult{}, fmt.Errorf("backtest: scale: %w", err)
	}

	var res BacktestResult
	for i, v := range scaled {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		score, err := p.scorer.Score(v)
		if err != nil {
			return res, fmt.Errorf("backtest: row %d: %w", i, err)
		}
		res.Rows++
		sig := strategy.Decide(score, p.cfg.Thresholds)
		var up bool
		hasNext := i+1 < len(ready)
		if hasNext {
			up = ready[i+1].Candle.Close > ready[i].Candle.Close
		}
		switch sig.Kind {
		case strategy.KindBuy:
			res.Buy++
			if hasNext && up {
				res.Hits++
			}
		case strategy.KindSell:
			res.Sell++
			if hasNext && !up {
				res.Hits++
			}
		default:
			res.Hold++
		}
	}
	return res, nil
}
