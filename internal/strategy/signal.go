// Package strategy turns a model score into a trading signal.
//
// A Signal is ephemeral: one per tick, forwarded to execution and
// notification and then discarded.
package strategy

import (
	"fmt"
	"math"
)

// Kind is the trading action carried by a Signal.
type Kind string

const (
	KindBuy  Kind = "BUY"
	KindSell Kind = "SELL"
	KindHold Kind = "HOLD"
)

// Signal is a decision with its conviction in [0,1]. HOLD always has strength 0.
type Signal struct {
	Kind     Kind    `json:"kind"`
	Strength float64 `json:"strength"`
}

// Actionable reports whether the signal should reach execution.
func (s Signal) Actionable() bool { return s.Kind != KindHold }

func (s Signal) String() string {
	return fmt.Sprintf("%s(%.2f)", s.Kind, s.Strength)
}

// Thresholds bound the BUY and SELL regions.
type Thresholds struct {
	Buy         float64 `yaml:"buy" default:"0.7" validate:"gt=0.5,lte=1"`
	Sell        float64 `yaml:"sell" default:"0.3" validate:"gte=0,lt=0.5"`
	MinStrength float64 `yaml:"min_strength" default:"0.6" validate:"gte=0,lt=1"`
}

// DefaultThresholds returns buy 0.7, sell 0.3, min strength 0.6.
func DefaultThresholds() Thresholds {
	return Thresholds{Buy: 0.7, Sell: 0.3, MinStrength: 0.6}
}

// Decide maps P(up) to a signal. strength = |score-0.5|*2; BUY needs
// score > Buy and strength > MinStrength, SELL needs score < Sell and
// strength > MinStrength. Anything else, NaN included, is HOLD.
func Decide(score float64, th Thresholds) Signal {
	if math.IsNaN(score) {
		return Signal{Kind: KindHold}
	}
	strength := math.Abs(score-0.5) * 2
	switch {
	case score > th.Buy && strength > th.MinStrength:
		return Signal{Kind: KindBuy, Strength: strength}
	case score < th.Sell && strength > th.MinStrength:
		return Signal{Kind: KindSell, Strength: strength}
	default:
		return Signal{Kind: KindHold}
	}
}
