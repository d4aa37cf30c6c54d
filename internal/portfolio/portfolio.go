// Package portfolio tracks the account balance across ticks and sizes
// positions against it.
//
// The balance is a paper figure: fills do not mark it to market. The
// equity trace records it once per tick so drawdown and summary views
// can be derived.
package portfolio

import (
	"sync"
	"time"
)

// Point is one balance snapshot.
type Point struct {
	At      time.Time `json:"at"`
	Balance float64   `json:"balance"`
}

// EquityTrace is an append-only, in-memory series of balance snapshots.
type EquityTrace struct {
	mu     sync.RWMutex
	points []Point
}

// NewEquityTrace creates an empty trace.
func NewEquityTrace() *EquityTrace {
	return &EquityTrace{points: make([]Point, 0, 1024)}
}

// Append records balance at t.
func (e *EquityTrace) Append(t time.Time, balance float64) {
	e.mu.Lock()
	e.points = append(e.points, Point{At: t, Balance: balance})
	e.mu.Unlock()
}

// Len returns the number of snapshots.
func (e *EquityTrace) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.points)
}

// Last returns the newest snapshot.
func (e *EquityTrace) Last() (Point, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if len(e.points) == 0 {
		return Point{}, false
	}
	return e.points[len(e.points)-1], true
}

// Snapshot returns a copy of all snapshots, oldest first.
func (e *EquityTrace) Snapshot() []Point {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cp := make([]Point, len(e.points))
	copy(cp, e.points)
	return cp
}
