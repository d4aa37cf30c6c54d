// Package pipeline wires indicators, features, the scaler and the scorer
// into the two flows the bot runs: training from history and predicting
// from a candle window.
package pipeline

import (
	"errors"

	"signalbot/internal/features"
	"signalbot/internal/indicator"
	"signalbot/internal/scorer"
	"signalbot/internal/strategy"
)

// ErrNotEnoughHistory is returned when the newest candle has no ready
// indicator row yet.
var ErrNotEnoughHistory = errors.New("pipeline: not enough history for indicators")

// Config groups the component settings both flows share.
type Config struct {
	HistoryDays int                 `yaml:"history_days" default:"90" validate:"gte=1"`
	Indicator   indicator.Config    `yaml:"indicator"`
	Features    features.Config     `yaml:"features"`
	Scorer      scorer.Config       `yaml:"scorer"`
	Thresholds  strategy.Thresholds `yaml:"thresholds"`
}

// DefaultConfig returns the stock indicator periods, thresholds and a
// 90-day training window.
func DefaultConfig() Config {
	return Config{
		HistoryDays: 90,
		Indicator:   indicator.DefaultConfig(),
		Features:    features.DefaultConfig(),
		Scorer:      scorer.DefaultConfig(),
		Thresholds:  strategy.DefaultThresholds(),
	}
}

// Keys names the artifacts in the store.
type Keys struct {
	Model  string
	Scaler string
}
