package portfolio

import (
	"sync"

	"github.com/shopspring/decimal"
)

// RiskConfig defines the sizing inputs.
type RiskConfig struct {
	InitialBalance float64 `yaml:"initial_balance" default:"10000" validate:"gt=0"`
	RiskPercent    float64 `yaml:"risk_percent" default:"2" validate:"gt=0,lte=100"`
}

// DefaultRiskConfig returns a 10000 balance risking 2% per trade.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{InitialBalance: 10000, RiskPercent: 2}
}

// RiskSizer sizes each trade as balance × risk% / 100 and tracks the
// balance peak for drawdown reporting.
type RiskSizer struct {
	mu      sync.RWMutex
	pct     decimal.Decimal
	balance decimal.Decimal
	peak    decimal.Decimal
}

// NewRiskSizer creates a sizer starting at cfg.InitialBalance.
func NewRiskSizer(cfg RiskConfig) *RiskSizer {
	b := decimal.NewFromFloat(cfg.InitialBalance)
	return &RiskSizer{
		pct:     decimal.NewFromFloat(cfg.RiskPercent),
		balance: b,
		peak:    b,
	}
}

// Size returns the notional for the next trade, rounded to cents.
func (r *RiskSizer) Size() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.balance.Mul(r.pct).Div(decimal.NewFromInt(100)).Round(2).InexactFloat64()
}

// Balance returns the current balance.
func (r *RiskSizer) Balance() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.balance.InexactFloat64()
}

// RecordPnL adjusts the balance by pnl and updates the peak.
func (r *RiskSizer) RecordPnL(pnl float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balance = r.balance.Add(decimal.NewFromFloat(pnl))
	if r.balance.GreaterThan(r.peak) {
		r.peak = r.balance
	}
}

// RiskStatus summarises the sizer state.
type RiskStatus struct {
	Balance     float64 `json:"balance"`
	Peak        float64 `json:"peak"`
	DrawdownPct float64 `json:"drawdown_pct"`
	NextSize    float64 `json:"next_size"`
}

// Status returns current risk status.
func (r *RiskSizer) Status() RiskStatus {
	r.mu.RLock()
	dd := decimal.Zero
	if r.peak.IsPositive() {
		dd = r.peak.Sub(r.balance).Div(r.peak).Mul(decimal.NewFromInt(100))
	}
	st := RiskStatus{
		Balance:     r.balance.InexactFloat64(),
		Peak:        r.peak.InexactFloat64(),
		DrawdownPct: dd.Round(4).InexactFloat64(),
	}
	r.mu.RUnlock()
	st.NextSize = r.Size()
	return st
}
