package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"signalbot/internal/strategy"
)

// Fill represents a simulated order fill.
type Fill struct {
	OrderID   string    `json:"order_id"`
	Directive Directive `json:"directive"`
	FillPrice float64   `json:"fill_price"`
	Slippage  float64   `json:"slippage"` // absolute price offset applied
	FilledAt  time.Time `json:"filled_at"`
}

// FillRecorder persists fills. *Journal implements it.
type FillRecorder interface {
	RecordFill(ctx context.Context, f Fill) error
}

// PaperExecutor simulates order execution without real broker calls.
// Useful for backtesting and paper trading.
type PaperExecutor struct {
	mu    sync.RWMutex
	fills []Fill

	slippageBps float64 // basis points of slippage (e.g., 5 = 0.05%)
	journal     FillRecorder
	log         zerolog.Logger
	now         func() time.Time
}

// NewPaperExecutor creates a paper trading executor.
// journal may be nil.
func NewPaperExecutor(slippageBps float64, journal FillRecorder, log zerolog.Logger) *PaperExecutor {
	return &PaperExecutor{
		fills:       make([]Fill, 0, 64),
		slippageBps: slippageBps,
		journal:     journal,
		log:         log,
		now:         time.Now,
	}
}

// Submit fills d immediately at the reference price moved against the
// trader by the configured slippage.
func (p *PaperExecutor) Submit(ctx context.Context, d Directive) (OrderResult, error) {
	if err := d.Validate(); err != nil {
		return OrderResult{Status: "REJECTED", Message: err.Error(), Directive: d}, err
	}
	if err := ctx.Err(); err != nil {
		return OrderResult{}, err
	}

	slippage := d.Price * p.slippageBps / 10000
	fillPrice := d.Price
	if d.Kind == strategy.KindBuy {
		fillPrice += slippage // buy higher
	} else {
		fillPrice -= slippage // sell lower
	}

	fill := Fill{
		OrderID:   "PAPER-" + uuid.NewString(),
		Directive: d,
		FillPrice: fillPrice,
		Slippage:  slippage,
		FilledAt:  p.now().UTC(),
	}

	p.mu.Lock()
	p.fills = append(p.fills, fill)
	p.mu.Unlock()

	if p.journal != nil {
		if err := p.journal.RecordFill(ctx, fill); err != nil {
			// the fill stands; the journal is an audit trail
			p.log.Warn().Err(err).Str("order_id", fill.OrderID).Msg("journal write failed")
		}
	}

	p.log.Info().
		Str("order_id", fill.OrderID).
		Str("kind", string(d.Kind)).
		Str("asset", d.Asset).
		Float64("size", d.Size).
		Float64("price", fillPrice).
		Float64("slippage", slippage).
		Msg("paper fill")

	return OrderResult{
		OrderID:   fill.OrderID,
		Status:    "FILLED",
		Message:   fmt.Sprintf("paper filled at %.4f", fillPrice),
		FillPrice: fillPrice,
		Directive: d,
	}, nil
}

// Fills returns a snapshot of all fills.
func (p *PaperExecutor) Fills() []Fill {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := make([]Fill, len(p.fills))
	copy(cp, p.fills)
	return cp
}
