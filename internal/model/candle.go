package model

import (
	"encoding/json"
	"time"
)

// Candle is one OHLCV bar for the traded asset on the configured timeframe.
// Timestamps are the bar open time in UTC.
type Candle struct {
	TS     time.Time `json:"ts"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// Before reports whether c opened strictly before o.
func (c Candle) Before(o Candle) bool {
	return c.TS.Before(o.TS)
}
