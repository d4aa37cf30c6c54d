// Package features turns indicator rows into fixed-width model inputs and
// builds supervised training pairs from a candle history.
package features

import (
	"errors"
	"fmt"

	"signalbot/internal/indicator"
)

// Dim is the width of every feature vector:
// [ema_cross, macd_cross, rsi_signal, macd_hist].
const Dim = 4

var (
	// ErrRowNotReady is returned when a row still has undefined indicator fields.
	ErrRowNotReady = errors.New("features: indicator row not ready")
	// ErrNotEnoughRows is returned when fewer than two ready rows are available.
	ErrNotEnoughRows = errors.New("features: need at least two ready rows")
)

// Config holds the RSI bands used for rsi_signal.
type Config struct {
	Overbought float64 `yaml:"overbought" default:"70" validate:"gt=0,lte=100"`
	Oversold   float64 `yaml:"oversold" default:"30" validate:"gte=0,ltfield=Overbought"`
}

// DefaultConfig returns the 70/30 RSI bands.
func DefaultConfig() Config {
	return Config{Overbought: 70, Oversold: 30}
}

// Vector is one model input.
type Vector []float64

// Extractor maps indicator rows to vectors.
type Extractor struct {
	cfg Config
}

// NewExtractor creates an extractor with the given RSI bands.
func NewExtractor(cfg Config) *Extractor {
	return &Extractor{cfg: cfg}
}

// Extract returns the feature vector for a ready row.
func (x *Extractor) Extract(r indicator.Row) (Vector, error) {
	if !r.Ready() {
		return nil, fmt.Errorf("%w at %s", ErrRowNotReady, r.Candle.TS.Format("2006-01-02T15:04:05Z"))
	}

	v := make(Vector, Dim)
	if r.EMAFast.V > r.EMASlow.V {
		v[0] = 1
	}
	if r.MACD.V > r.MACDSignal.V {
		v[1] = 1
	}
	switch {
	case r.RSI.V > x.cfg.Overbought:
		v[2] = -1
	case r.RSI.V < x.cfg.Oversold:
		v[2] = 1
	}
	v[3] = r.MACDHist.V
	return v, nil
}

// Dataset builds aligned (X, y) pairs from the ready suffix of rows.
// For N ready rows it yields N-1 pairs: X[i] is the vector at row i and
// y[i] is 1 when the next close is strictly higher, else 0. The last ready
// row has no label and is dropped from both.
func (x *Extractor) Dataset(rows []indicator.Row) ([][]float64, []float64, error) {
	ready := indicator.ReadySuffix(rows)
	if len(ready) < 2 {
		return nil, nil, fmt.Errorf("%w: have %d", ErrNotEnoughRows, len(ready))
	}

	n := len(ready) - 1
	X := make([][]float64, n)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		v, err := x.Extract(ready[i])
		if err != nil {
			return nil, nil, err
		}
		X[i] = v
		if ready[i+1].Candle.Close > ready[i].Candle.Close {
			y[i] = 1
		}
	}
	return X, y, nil
}
