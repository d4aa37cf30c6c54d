package indicator

// MACD tracks the fast-minus-slow EMA line, its signal EMA and the histogram.
// The signal EMA starts consuming the line once the slow EMA is ready.
type MACD struct {
	fast   *EMA
	slow   *EMA
	signal *EMA
	line   float64
}

// NewMACD creates a MACD with the given fast, slow and signal periods.
func NewMACD(fast, slow, signal int) *MACD {
	return &MACD{
		fast:   NewEMA(fast),
		slow:   NewEMA(slow),
		signal: NewEMA(signal),
	}
}

func (m *MACD) Name() string { return "MACD" }

func (m *MACD) Update(price float64) {
	m.fast.Update(price)
	m.slow.Update(price)
	if !m.fast.Ready() || !m.slow.Ready() {
		return
	}
	m.line = m.fast.Value() - m.slow.Value()
	m.signal.Update(m.line)
}

// Value returns the MACD line.
func (m *MACD) Value() float64 { return m.line }

// Ready reports whether the MACD line is defined.
func (m *MACD) Ready() bool { return m.fast.Ready() && m.slow.Ready() }

// Signal returns the signal line reading.
func (m *MACD) Signal() Value { return valueOf(m.signal) }

// Histogram returns line minus signal, undefined until the signal is ready.
func (m *MACD) Histogram() Value {
	if !m.signal.Ready() {
		return Value{}
	}
	return Value{V: m.line - m.signal.Value(), Ready: true}
}
