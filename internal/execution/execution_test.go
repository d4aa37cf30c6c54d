package execution

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalbot/internal/logger"
	"signalbot/internal/strategy"
)

type failingJournal struct{ calls int }

func (f *failingJournal) RecordFill(context.Context, Fill) error {
	f.calls++
	return errors.New("disk full")
}

func TestPaper_SlippageDirection(t *testing.T) {
	p := NewPaperExecutor(10, nil, logger.Nop())
	ctx := context.Background()

	buy, err := p.Submit(ctx, Directive{Kind: strategy.KindBuy, Size: 100, Price: 200})
	require.NoError(t, err)
	assert.Equal(t, "FILLED", buy.Status)
	assert.InDelta(t, 200.2, buy.FillPrice, 1e-9)
	assert.True(t, strings.HasPrefix(buy.OrderID, "PAPER-"))

	sell, err := p.Submit(ctx, Directive{Kind: strategy.KindSell, Size: 100, Price: 200})
	require.NoError(t, err)
	assert.InDelta(t, 199.8, sell.FillPrice, 1e-9)
	assert.NotEqual(t, buy.OrderID, sell.OrderID)

	assert.Len(t, p.Fills(), 2)
}

func TestPaper_RejectsInvalid(t *testing.T) {
	p := NewPaperExecutor(0, nil, logger.Nop())
	tests := []Directive{
		{Kind: strategy.KindHold, Size: 10},
		{Kind: strategy.KindBuy, Size: 0},
		{Kind: strategy.KindSell, Size: -1},
	}
	for _, d := range tests {
		res, err := p.Submit(context.Background(), d)
		assert.ErrorIs(t, err, ErrInvalidDirective)
		assert.Equal(t, "REJECTED", res.Status)
	}
	assert.Empty(t, p.Fills())
}

func TestPaper_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewPaperExecutor(0, nil, logger.Nop()).Submit(ctx, Directive{Kind: strategy.KindBuy, Size: 1, Price: 1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPaper_JournalFailureKeepsFill(t *testing.T) {
	j := &failingJournal{}
	p := NewPaperExecutor(0, j, logger.Nop())
	_, err := p.Submit(context.Background(), Directive{Kind: strategy.KindBuy, Size: 1, Price: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, j.calls)
	assert.Len(t, p.Fills(), 1)
}

func TestJournal_RecordAndRecent(t *testing.T) {
	ctx := context.Background()
	j, err := NewJournal(filepath.Join(t.TempDir(), "fills.db"), logger.Nop())
	require.NoError(t, err)
	defer j.Close()

	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	p := NewPaperExecutor(5, j, logger.Nop())
	p.now = func() time.Time { return at }

	for _, k := range []strategy.Kind{strategy.KindBuy, strategy.KindSell} {
		_, err := p.Submit(ctx, Directive{Kind: k, Size: 50, Asset: "BTC-USD", Price: 100, Strength: 0.8})
		require.NoError(t, err)
	}

	recs, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "SELL", recs[0].Kind, "newest first")
	assert.Equal(t, "BUY", recs[1].Kind)
	assert.Equal(t, "BTC-USD", recs[0].Asset)
	assert.True(t, recs[0].FilledAt.Equal(at))
	assert.InDelta(t, 100.05, recs[1].FillPrice, 1e-9)
}
