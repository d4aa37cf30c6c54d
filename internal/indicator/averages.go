package indicator

// SMA is the arithmetic mean of the last n inputs, kept as a running total
// over a fixed ring of slots.
type SMA struct {
	slots  []float64
	next   int
	filled bool
	total  float64
}

// NewSMA creates an n-input simple moving average.
func NewSMA(n int) *SMA {
	return &SMA{slots: make([]float64, n)}
}

func (s *SMA) Name() string { return "SMA" }

func (s *SMA) Update(v float64) {
	s.total += v - s.slots[s.next]
	s.slots[s.next] = v
	if s.next++; s.next == len(s.slots) {
		s.next = 0
		s.filled = true
	}
}

func (s *SMA) Ready() bool { return s.filled }

func (s *SMA) Value() float64 {
	if !s.filled {
		return 0
	}
	return s.total / float64(len(s.slots))
}

// EMA is an exponential moving average with alpha 2/(n+1). Its first value,
// after n inputs, is the plain mean of those inputs.
type EMA struct {
	n     int
	alpha float64
	seen  int
	acc   float64 // input sum until seeded, the average afterwards
}

// NewEMA creates an n-period exponential moving average.
func NewEMA(n int) *EMA {
	return &EMA{n: n, alpha: 2 / float64(n+1)}
}

func (e *EMA) Name() string { return "EMA" }

func (e *EMA) Update(v float64) {
	e.seen++
	switch {
	case e.seen < e.n:
		e.acc += v
	case e.seen == e.n:
		e.acc = (e.acc + v) / float64(e.n)
	default:
		e.acc += e.alpha * (v - e.acc)
	}
}

func (e *EMA) Ready() bool { return e.seen >= e.n }

func (e *EMA) Value() float64 {
	if !e.Ready() {
		return 0
	}
	return e.acc
}
