package indicator

import "signalbot/internal/model"

// Row is one candle together with every indicator reading at that candle.
type Row struct {
	Candle     model.Candle `json:"candle"`
	EMAFast    Value        `json:"ema_fast"`
	EMASlow    Value        `json:"ema_slow"`
	RSI        Value        `json:"rsi"`
	MACD       Value        `json:"macd"`
	MACDSignal Value        `json:"macd_signal"`
	MACDHist   Value        `json:"macd_hist"`
}

// Ready reports whether every derived field is defined.
func (r Row) Ready() bool {
	return r.EMAFast.Ready && r.EMASlow.Ready && r.RSI.Ready &&
		r.MACD.Ready && r.MACDSignal.Ready && r.MACDHist.Ready
}

// Engine computes the full indicator set for a single candle stream.
// Designed for single-goroutine usage — no locks needed.
type Engine struct {
	cfg     Config
	emaFast *EMA
	emaSlow *EMA
	rsi     *RSI
	macd    *MACD
}

// NewEngine creates an indicator engine with the given periods.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		cfg:     cfg,
		emaFast: NewEMA(cfg.FastPeriod),
		emaSlow: NewEMA(cfg.SlowPeriod),
		rsi:     NewRSI(cfg.RSIPeriod),
		macd:    NewMACD(cfg.MACDFast, cfg.MACDSlow, cfg.MACDSignal),
	}
}

// Update feeds the next candle and returns its Row.
func (e *Engine) Update(c model.Candle) Row {
	e.emaFast.Update(c.Close)
	e.emaSlow.Update(c.Close)
	e.rsi.Update(c.Close)
	e.macd.Update(c.Close)

	return Row{
		Candle:     c,
		EMAFast:    valueOf(e.emaFast),
		EMASlow:    valueOf(e.emaSlow),
		RSI:        valueOf(e.rsi),
		MACD:       valueOf(e.macd),
		MACDSignal: e.macd.Signal(),
		MACDHist:   e.macd.Histogram(),
	}
}

// Compute folds a fresh Engine over candles and returns one Row per candle,
// in input order. Fewer than two candles yields nil.
func Compute(candles []model.Candle, cfg Config) []Row {
	if len(candles) < 2 {
		return nil
	}
	e := NewEngine(cfg)
	rows := make([]Row, len(candles))
	for i, c := range candles {
		rows[i] = e.Update(c)
	}
	return rows
}

// ReadySuffix returns the contiguous run of ready rows at the end of rows.
func ReadySuffix(rows []Row) []Row {
	i := len(rows)
	for i > 0 && rows[i-1].Ready() {
		i--
	}
	return rows[i:]
}
