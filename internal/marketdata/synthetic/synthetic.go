// Package synthetic generates a seeded random-walk candle stream for
// offline runs and tests.
//
// Each bar: price += N(0,1)*0.1, open = price, high = price + |N|*0.2,
// low = price - |N|*0.2, close = price + N*0.1, volume ~ U[0,10000).
package synthetic

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"signalbot/internal/model"
)

// StartPrice is the level the walk starts from.
const StartPrice = 100.0

// Generator produces consecutive random-walk candles.
type Generator struct {
	rng   *rand.Rand
	price float64
}

// NewGenerator creates a generator with its own seeded RNG.
func NewGenerator(seed int64) *Generator {
	return &Generator{rng: rand.New(rand.NewSource(seed)), price: StartPrice}
}

// Next advances the walk one bar and stamps it with ts.
func (g *Generator) Next(ts time.Time) model.Candle {
	g.price += g.rng.NormFloat64() * 0.1
	p := g.price
	return model.Candle{
		TS:     ts.UTC(),
		Open:   p,
		High:   p + math.Abs(g.rng.NormFloat64())*0.2,
		Low:    p - math.Abs(g.rng.NormFloat64())*0.2,
		Close:  p + g.rng.NormFloat64()*0.1,
		Volume: math.Floor(g.rng.Float64() * 10000),
	}
}

// Series returns n consecutive bars starting at start, spaced by step.
func (g *Generator) Series(start time.Time, step time.Duration, n int) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		out[i] = g.Next(start.Add(time.Duration(i) * step))
	}
	return out
}

// Feed serves history and latest candles from one continuous walk.
// It implements model.CandleFeed and model.HistorySource.
type Feed struct {
	timeframe time.Duration
	now       func() time.Time

	mu   sync.Mutex
	gen  *Generator
	last model.Candle
	has  bool
}

// NewFeed creates a feed on the given timeframe.
func NewFeed(timeframe time.Duration, seed int64) *Feed {
	return &Feed{timeframe: timeframe, now: time.Now, gen: NewGenerator(seed)}
}

// WithClock replaces the wall clock, for tests.
func (f *Feed) WithClock(now func() time.Time) *Feed {
	f.now = now
	return f
}

// History returns bars aligned to the timeframe covering now-lookback to now.
func (f *Feed) History(ctx context.Context, lookback time.Duration) ([]model.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	end := f.now().UTC().Truncate(f.timeframe)
	n := int(lookback/f.timeframe) + 1
	start := end.Add(-time.Duration(n-1) * f.timeframe)

	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.gen.Series(start, f.timeframe, n)
	f.last = out[len(out)-1]
	f.has = true
	return out, nil
}

// Latest returns the bar for the current timeframe slot. Repeated calls
// within one slot return the same bar.
func (f *Feed) Latest(ctx context.Context) (model.Candle, error) {
	if err := ctx.Err(); err != nil {
		return model.Candle{}, err
	}
	ts := f.now().UTC().Truncate(f.timeframe)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.has && !f.last.TS.Before(ts) {
		return f.last, nil
	}
	f.last = f.gen.Next(ts)
	f.has = true
	return f.last, nil
}
