package indicator

// RSI calculates the Relative Strength Index from simple rolling means of
// gains and losses over the last period close-to-close deltas.
// Update is O(1) per price — no history scans.
type RSI struct {
	period    int
	count     int
	prevClose float64
	gains     *SMA
	losses    *SMA
	current   float64
}

// NewRSI creates a new RSI indicator with the given period.
func NewRSI(period int) *RSI {
	return &RSI{
		period: period,
		gains:  NewSMA(period),
		losses: NewSMA(period),
	}
}

func (r *RSI) Name() string { return "RSI" }

func (r *RSI) Update(price float64) {
	r.count++

	if r.count == 1 {
		// First price — just record it, no delta yet
		r.prevClose = price
		return
	}

	delta := price - r.prevClose
	r.prevClose = price

	gain, loss := 0.0, 0.0
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}
	r.gains.Update(gain)
	r.losses.Update(loss)

	if !r.gains.Ready() {
		return
	}
	r.current = rsiFrom(r.gains.Value(), r.losses.Value())
}

// rsiFrom maps average gain/loss into [0,100]. Zero average loss saturates at 100.
func rsiFrom(avgGain, avgLoss float64) float64 {
	if avgLoss <= 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	v := 100.0 - (100.0 / (1.0 + rs))
	if v < 0 {
		return 0
	}
	return v
}

func (r *RSI) Value() float64 { return r.current }
func (r *RSI) Ready() bool    { return r.count > r.period }
