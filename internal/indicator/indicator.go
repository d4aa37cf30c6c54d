// Package indicator derives technical indicators from candle closes.
//
// All indicators implement the Indicator interface, receiving prices and
// producing float64 values. The Engine composes them into one Row per candle.
package indicator

// Indicator is the interface for all technical indicators.
type Indicator interface {
	// Name returns the indicator name (e.g., "EMA", "RSI").
	Name() string

	// Update feeds a new price and recalculates.
	Update(price float64)

	// Value returns the current calculated value. Returns 0 if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool
}

// Value is an indicator reading that may be undefined while the rolling
// window is still filling. A zero Value is "no value", never 0.0.
type Value struct {
	V     float64 `json:"v"`
	Ready bool    `json:"ready"`
}

func valueOf(ind Indicator) Value {
	if !ind.Ready() {
		return Value{}
	}
	return Value{V: ind.Value(), Ready: true}
}

// Config holds the indicator periods.
type Config struct {
	FastPeriod int `yaml:"fast_period" default:"5" validate:"gte=1"`
	SlowPeriod int `yaml:"slow_period" default:"20" validate:"gtfield=FastPeriod"`
	RSIPeriod  int `yaml:"rsi_period" default:"6" validate:"gte=1"`
	MACDFast   int `yaml:"macd_fast" default:"8" validate:"gte=1"`
	MACDSlow   int `yaml:"macd_slow" default:"18" validate:"gtfield=MACDFast"`
	MACDSignal int `yaml:"macd_signal" default:"6" validate:"gte=1"`
}

// DefaultConfig returns the standard periods: EMA 5/20, RSI 6, MACD 8/18/6.
func DefaultConfig() Config {
	return Config{
		FastPeriod: 5,
		SlowPeriod: 20,
		RSIPeriod:  6,
		MACDFast:   8,
		MACDSlow:   18,
		MACDSignal: 6,
	}
}

// Warmup returns how many candles must be seen before a Row is fully ready.
func (c Config) Warmup() int {
	n := c.SlowPeriod
	if v := c.FastPeriod; v > n {
		n = v
	}
	if v := c.RSIPeriod + 1; v > n {
		n = v
	}
	if v := c.MACDSlow + c.MACDSignal - 1; v > n {
		n = v
	}
	return n
}
