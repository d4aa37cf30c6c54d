// Package scaler implements a persisted per-dimension min-max feature scaler.
package scaler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"signalbot/internal/model"
)

var (
	// ErrScalerNotReady is returned when no fitted state exists in memory or in the store.
	ErrScalerNotReady = errors.New("scaler: not fitted")
	// ErrDimensionMismatch matches any *DimensionMismatchError via errors.Is.
	ErrDimensionMismatch = errors.New("scaler: dimension mismatch")
	// ErrEmptyBatch is returned when fitting on zero rows.
	ErrEmptyBatch = errors.New("scaler: empty batch")
)

// DimensionMismatchError reports a vector whose width differs from the fitted width.
type DimensionMismatchError struct {
	Want int
	Got  int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("scaler: dimension mismatch: fitted %d, got %d", e.Want, e.Got)
}

// Is lets errors.Is(err, ErrDimensionMismatch) match.
func (e *DimensionMismatchError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

// State is the fitted per-dimension range.
type State struct {
	Min []float64 `json:"min"`
	Max []float64 `json:"max"`
}

// Dim returns the fitted dimensionality.
func (s State) Dim() int { return len(s.Min) }

func (s State) apply(v []float64) []float64 {
	out := make([]float64, len(v))
	for j, x := range v {
		span := s.Max[j] - s.Min[j]
		if span == 0 {
			continue // constant dimension maps to 0
		}
		out[j] = (x - s.Min[j]) / span
	}
	return out
}

// Scaler maps feature vectors into [0,1] per dimension using ranges learned
// at fit time. The fitted state is persisted under key and loaded lazily
// once per process.
type Scaler struct {
	store model.ArtifactStore
	key   string
	log   zerolog.Logger

	mu     sync.RWMutex
	state  State
	loaded bool
}

// New creates a scaler bound to store/key. Nothing is read until first use.
func New(store model.ArtifactStore, key string, log zerolog.Logger) *Scaler {
	return &Scaler{store: store, key: key, log: log}
}

// FitTransform learns per-dimension ranges from X, makes them the current
// state, persists them and returns X scaled with that state.
func (s *Scaler) FitTransform(ctx context.Context, X [][]float64) ([][]float64, State, error) {
	if len(X) == 0 {
		return nil, State{}, ErrEmptyBatch
	}
	dim := len(X[0])
	if dim == 0 {
		return nil, State{}, ErrEmptyBatch
	}

	st := State{Min: make([]float64, dim), Max: make([]float64, dim)}
	copy(st.Min, X[0])
	copy(st.Max, X[0])
	for _, row := range X[1:] {
		if len(row) != dim {
			return nil, State{}, &DimensionMismatchError{Want: dim, Got: len(row)}
		}
		for j, x := range row {
			if x < st.Min[j] {
				st.Min[j] = x
			}
			if x > st.Max[j] {
				st.Max[j] = x
			}
		}
	}

	data, err := json.Marshal(st)
	if err != nil {
		return nil, State{}, fmt.Errorf("scaler: encode state: %w", err)
	}
	if err := s.store.Save(ctx, s.key, data); err != nil {
		return nil, State{}, fmt.Errorf("scaler: persist state: %w", err)
	}

	s.mu.Lock()
	s.state = st
	s.loaded = true
	s.mu.Unlock()

	s.log.Info().Int("dim", dim).Int("rows", len(X)).Str("key", s.key).Msg("scaler fitted")

	out := make([][]float64, len(X))
	for i, row := range X {
		out[i] = st.apply(row)
	}
	return out, st, nil
}

// EnsureLoaded loads the persisted state if it is not already in memory.
// After the first success it never touches the store again.
func (s *Scaler) EnsureLoaded(ctx context.Context) error {
	s.mu.RLock()
	loaded := s.loaded
	s.mu.RUnlock()
	if loaded {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return nil
	}

	data, err := s.store.Load(ctx, s.key)
	if err != nil {
		return fmt.Errorf("scaler: load state: %w", err)
	}
	if data == nil {
		return ErrScalerNotReady
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("scaler: decode state: %w", err)
	}
	if st.Dim() == 0 || len(st.Max) != len(st.Min) {
		return fmt.Errorf("scaler: corrupt state under %q", s.key)
	}

	s.state = st
	s.loaded = true
	s.log.Info().Int("dim", st.Dim()).Str("key", s.key).Msg("scaler state loaded")
	return nil
}

// Reload drops the in-memory state and loads it from the store again. On
// failure the scaler is left not ready.
func (s *Scaler) Reload(ctx context.Context) error {
	s.mu.Lock()
	s.state = State{}
	s.loaded = false
	s.mu.Unlock()
	return s.EnsureLoaded(ctx)
}

// Transform scales X with the current state, loading it first if needed.
// Values outside the fitted range are not clipped. A row of the wrong width
// fails the whole call with no partial output.
func (s *Scaler) Transform(ctx context.Context, X [][]float64) ([][]float64, error) {
	if err := s.EnsureLoaded(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	st := s.state
	s.mu.RUnlock()

	for _, row := range X {
		if len(row) != st.Dim() {
			return nil, &DimensionMismatchError{Want: st.Dim(), Got: len(row)}
		}
	}
	out := make([][]float64, len(X))
	for i, row := range X {
		out[i] = st.apply(row)
	}
	return out, nil
}

// State returns the current fitted state and whether one is present.
func (s *Scaler) State() (State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, s.loaded
}

// Dim returns the fitted dimensionality, or 0 when not fitted.
func (s *Scaler) Dim() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Dim()
}
