// Package scorer trains, persists and evaluates the binary up/down model.
package scorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"signalbot/internal/model"
	"signalbot/internal/scaler"
)

var (
	// ErrInsufficientData is returned when there are too few samples to train.
	ErrInsufficientData = errors.New("scorer: insufficient training data")
	// ErrScorerNotReady is returned when scoring before any load or train.
	ErrScorerNotReady = errors.New("scorer: no model loaded")
	// ErrMisaligned is returned when inputs and targets do not pair up.
	ErrMisaligned = errors.New("scorer: inputs and targets misaligned")
)

// Config controls the network shape and the training run.
type Config struct {
	Hidden          int     `yaml:"hidden" default:"32" validate:"gte=1"`
	Dense           int     `yaml:"dense" default:"16" validate:"gte=1"`
	Epochs          int     `yaml:"epochs" default:"50" validate:"gte=1"`
	BatchSize       int     `yaml:"batch_size" default:"32" validate:"gte=1"`
	LearningRate    float64 `yaml:"learning_rate" default:"0.001" validate:"gt=0"`
	ValidationSplit float64 `yaml:"validation_split" default:"0.2" validate:"gte=0,lt=1"`
	MinSamples      int     `yaml:"min_samples" default:"50" validate:"gte=1"`
	Seed            int64   `yaml:"seed" default:"42"`
}

// DefaultConfig mirrors the yaml defaults.
func DefaultConfig() Config {
	return Config{
		Hidden:          32,
		Dense:           16,
		Epochs:          50,
		BatchSize:       32,
		LearningRate:    0.001,
		ValidationSplit: 0.2,
		MinSamples:      50,
		Seed:            42,
	}
}

// Meta describes a trained model.
type Meta struct {
	TrainedAt time.Time `json:"trained_at"`
	Accuracy  float64   `json:"accuracy"`
	Samples   int       `json:"samples"`
	Epochs    int       `json:"epochs"`
}

// Artifact is the persisted form of a trained model.
type Artifact struct {
	InputDim int       `json:"input_dim"`
	Hidden   int       `json:"hidden"`
	Dense    int       `json:"dense"`
	Weights  []float64 `json:"weights"`
	Meta     Meta      `json:"meta"`
}

// Scorer maps a scaled feature vector to the probability that the next
// close is higher. Score is pure once a model is installed.
type Scorer struct {
	cfg   Config
	store model.ArtifactStore
	key   string
	log   zerolog.Logger
	now   func() time.Time

	mu   sync.RWMutex
	net  *network
	meta Meta
}

// New creates a scorer with no model. Call Load or Train before Score.
func New(cfg Config, store model.ArtifactStore, key string, log zerolog.Logger) *Scorer {
	return &Scorer{cfg: cfg, store: store, key: key, log: log, now: time.Now}
}

// Train fits a fresh model on (X, y), self-evaluates it on all of X at
// threshold 0.5, persists it and installs it. On any failure the current
// model and the stored artifact are left as they were.
func (s *Scorer) Train(ctx context.Context, X [][]float64, y []float64) (float64, error) {
	if len(X) != len(y) {
		return 0, fmt.Errorf("%w: %d inputs, %d targets", ErrMisaligned, len(X), len(y))
	}
	if len(X) == 0 || len(X) < s.cfg.MinSamples {
		return 0, fmt.Errorf("%w: have %d samples, need %d", ErrInsufficientData, len(X), s.cfg.MinSamples)
	}
	dim := len(X[0])
	for i := range X {
		if len(X[i]) != dim {
			return 0, &scaler.DimensionMismatchError{Want: dim, Got: len(X[i])}
		}
		if y[i] != 0 && y[i] != 1 {
			return 0, fmt.Errorf("%w: target %d is %v, want 0 or 1", ErrMisaligned, i, y[i])
		}
	}

	start := time.Now()
	rng := rand.New(rand.NewSource(s.cfg.Seed))
	net := newNetwork(dim, s.cfg.Hidden, s.cfg.Dense, rng)
	opt := newAdam(len(net.w), s.cfg.LearningRate)

	nVal := int(float64(len(X)) * s.cfg.ValidationSplit)
	nTrain := len(X) - nVal
	order := make([]int, nTrain)
	for i := range order {
		order[i] = i
	}

	act := newActivations(net.H, net.F)
	grad := make([]float64, len(net.w))
	dh := make([]float64, net.H)

	for epoch := 0; epoch < s.cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return 0, fmt.Errorf("scorer: training interrupted at epoch %d: %w", epoch, err)
		}
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		var loss float64
		for b := 0; b < nTrain; b += s.cfg.BatchSize {
			end := b + s.cfg.BatchSize
			if end > nTrain {
				end = nTrain
			}
			for i := range grad {
				grad[i] = 0
			}
			for _, idx := range order[b:end] {
				p := net.forward(X[idx], act)
				loss += bce(p, y[idx])
				net.backward(X[idx], act, y[idx], grad, dh)
			}
			inv := 1 / float64(end-b)
			for i := range grad {
				grad[i] *= inv
			}
			opt.step(net.w, grad)
		}

		ev := s.cfg.Epochs/5 + 1
		if epoch%ev == 0 || epoch == s.cfg.Epochs-1 {
			e := s.log.Debug().Int("epoch", epoch+1).Float64("loss", loss/float64(nTrain))
			if nVal > 0 && e.Enabled() {
				vl, va := evaluate(net, X[nTrain:], y[nTrain:])
				e = e.Float64("val_loss", vl).Float64("val_accuracy", va)
			}
			e.Msg("training epoch")
		}
	}

	_, acc := evaluate(net, X, y)
	meta := Meta{TrainedAt: s.now().UTC(), Accuracy: acc, Samples: len(X), Epochs: s.cfg.Epochs}

	data, err := json.Marshal(Artifact{InputDim: dim, Hidden: net.H, Dense: net.F, Weights: net.w, Meta: meta})
	if err != nil {
		return 0, fmt.Errorf("scorer: encode artifact: %w", err)
	}
	if err := s.store.Save(ctx, s.key, data); err != nil {
		return 0, fmt.Errorf("scorer: persist artifact: %w", err)
	}

	s.mu.Lock()
	s.net = net
	s.meta = meta
	s.mu.Unlock()

	s.log.Info().
		Int("samples", len(X)).
		Int("validation", nVal).
		Float64("accuracy", acc).
		Dur("took", time.Since(start)).
		Msg("model trained")
	return acc, nil
}

// evaluate returns mean BCE loss and accuracy at threshold 0.5.
func evaluate(net *network, X [][]float64, y []float64) (float64, float64) {
	if len(X) == 0 {
		return 0, 0
	}
	act := newActivations(net.H, net.F)
	var loss float64
	correct := 0
	for i, x := range X {
		p := net.forward(x, act)
		loss += bce(p, y[i])
		pred := 0.0
		if p > 0.5 {
			pred = 1
		}
		if pred == y[i] {
			correct++
		}
	}
	return loss / float64(len(X)), float64(correct) / float64(len(X))
}

// Load installs the persisted model. It reports false with a nil error when
// no artifact has been stored yet.
func (s *Scorer) Load(ctx context.Context) (bool, error) {
	data, err := s.store.Load(ctx, s.key)
	if err != nil {
		return false, fmt.Errorf("scorer: load artifact: %w", err)
	}
	if data == nil {
		return false, nil
	}

	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return false, fmt.Errorf("scorer: decode artifact: %w", err)
	}
	if a.InputDim < 1 || a.Hidden < 1 || a.Dense < 1 || len(a.Weights) != paramCount(a.InputDim, a.Hidden, a.Dense) {
		return false, fmt.Errorf("scorer: corrupt artifact under %q", s.key)
	}

	s.mu.Lock()
	s.net = &network{D: a.InputDim, H: a.Hidden, F: a.Dense, w: a.Weights}
	s.meta = a.Meta
	s.mu.Unlock()

	s.log.Info().
		Int("input_dim", a.InputDim).
		Time("trained_at", a.Meta.TrainedAt).
		Float64("accuracy", a.Meta.Accuracy).
		Msg("model loaded")
	return true, nil
}

// Score returns P(next close higher) for one scaled vector.
func (s *Scorer) Score(v []float64) (float64, error) {
	s.mu.RLock()
	net := s.net
	s.mu.RUnlock()

	if net == nil {
		return 0, ErrScorerNotReady
	}
	if len(v) != net.D {
		return 0, &scaler.DimensionMismatchError{Want: net.D, Got: len(v)}
	}
	p := net.forward(v, newActivations(net.H, net.F))
	if math.IsNaN(p) {
		return 0, fmt.Errorf("scorer: model produced NaN")
	}
	return p, nil
}

// Ready reports whether a model is installed.
func (s *Scorer) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.net != nil
}

// Meta returns metadata for the installed model.
func (s *Scorer) Meta() (Meta, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta, s.net != nil
}
