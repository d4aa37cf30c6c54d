// Package ringbuf provides a fixed-capacity, overwriting window of
// model.Candle ordered by timestamp. The trading loop keeps the most
// recent candles in it and rebuilds indicators from the whole window on
// every tick.
//
// A Window is owned by one goroutine and is not safe for concurrent use.
package ringbuf

import (
	"signalbot/internal/model"
)

// Window holds the newest Cap() candles. Capacity is rounded up to a power
// of two for bitwise modulo; Slice returns at most the requested size.
type Window struct {
	buf  []model.Candle
	mask uint64
	size int

	head uint64 // total accepted pushes

	rejected uint64
}

// New creates a window keeping the newest size candles. Minimum size is 2.
func New(size int) *Window {
	if size < 2 {
		size = 2
	}
	n := nextPow2(size)
	return &Window{
		buf:  make([]model.Candle, n),
		mask: uint64(n - 1),
		size: size,
	}
}

// Push appends c if it is strictly newer than the last candle. Older or
// duplicate timestamps are rejected and leave the window untouched.
func (w *Window) Push(c model.Candle) bool {
	if last, ok := w.Last(); ok && !last.TS.Before(c.TS) {
		w.rejected++
		return false
	}
	w.buf[w.head&w.mask] = c
	w.head++
	return true
}

// Seed pushes candles in order, returning how many were accepted.
func (w *Window) Seed(candles []model.Candle) int {
	n := 0
	for _, c := range candles {
		if w.Push(c) {
			n++
		}
	}
	return n
}

// Last returns the newest candle.
func (w *Window) Last() (model.Candle, bool) {
	if w.head == 0 {
		return model.Candle{}, false
	}
	return w.buf[(w.head-1)&w.mask], true
}

// Slice returns a copy of the window, oldest first.
func (w *Window) Slice() []model.Candle {
	n := w.Len()
	out := make([]model.Candle, n)
	start := w.head - uint64(n)
	for i := 0; i < n; i++ {
		out[i] = w.buf[(start+uint64(i))&w.mask]
	}
	return out
}

// Len returns the number of candles held, at most Cap().
func (w *Window) Len() int {
	if w.head < uint64(w.size) {
		return int(w.head)
	}
	return w.size
}

// Cap returns the configured window size.
func (w *Window) Cap() int {
	return w.size
}

// Rejected returns how many pushes were refused as stale or duplicate.
func (w *Window) Rejected() uint64 {
	return w.rejected
}

// nextPow2 returns the smallest power of 2 >= n.
func nextPow2(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
