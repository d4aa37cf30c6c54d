package portfolio

// Summary describes an equity trace.
type Summary struct {
	Points         int     `json:"points"`
	Start          float64 `json:"start"`
	Last           float64 `json:"last"`
	Peak           float64 `json:"peak"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	ReturnPct      float64 `json:"return_pct"`
}

// Summarize walks the trace once, tracking the running peak.
func (e *EquityTrace) Summarize() Summary {
	pts := e.Snapshot()
	if len(pts) == 0 {
		return Summary{}
	}
	s := Summary{Points: len(pts), Start: pts[0].Balance, Last: pts[len(pts)-1].Balance}
	peak := pts[0].Balance
	for _, p := range pts {
		if p.Balance > peak {
			peak = p.Balance
		}
		if peak > 0 {
			if dd := (peak - p.Balance) / peak * 100; dd > s.MaxDrawdownPct {
				s.MaxDrawdownPct = dd
			}
		}
	}
	s.Peak = peak
	if s.Start != 0 {
		s.ReturnPct = (s.Last - s.Start) / s.Start * 100
	}
	return s
}
