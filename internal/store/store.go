// Package store provides artifact store backends and helpers shared by them.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"signalbot/internal/model"
	"signalbot/internal/store/file"
	"signalbot/internal/store/redis"
	"signalbot/internal/store/sqlite"
)

// Config selects and configures an artifact store backend.
type Config struct {
	Backend       string `yaml:"backend" default:"file" validate:"oneof=file sqlite redis memory"`
	Dir           string `yaml:"dir" default:"data"`
	SQLitePath    string `yaml:"sqlite_path" default:"data/signalbot.db"`
	RedisAddr     string `yaml:"redis_addr" default:"localhost:6379"`
	RedisPassword string `yaml:"redis_password"`
	RedisPrefix   string `yaml:"redis_prefix" default:"signalbot:artifact:"`
	ModelKey      string `yaml:"model_key" default:"trading_model" validate:"required"`
	ScalerKey     string `yaml:"scaler_key" default:"scaler" validate:"required,nefield=ModelKey"`
}

// Backend is an artifact store that owns resources.
type Backend interface {
	model.ArtifactStore
	Deleter
	Close() error
}

// Open builds the configured backend.
func Open(cfg Config, log zerolog.Logger) (Backend, error) {
	switch cfg.Backend {
	case "file", "":
		return file.New(cfg.Dir)
	case "sqlite":
		return sqlite.NewArtifactStore(cfg.SQLitePath)
	case "redis":
		return redis.NewArtifactStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisPrefix, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("store: unknown backend %q", cfg.Backend)
	}
}

// Timestamper reports when a key was last written.
type Timestamper interface {
	UpdatedAt(ctx context.Context, key string) (time.Time, bool, error)
}

// Checker reports backend health without reading data.
type Checker interface {
	Check(ctx context.Context) error
}

// HealthChecks returns the dependency checks b supports, keyed by name.
// "store" loads modelKey. "store_breaker" is added for backends that
// implement Checker. "model_age" is added for Timestampers and passes the
// model's last write time to onModelWrite.
func HealthChecks(b model.ArtifactStore, modelKey string, onModelWrite func(time.Time)) map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{
		"store": func(ctx context.Context) error {
			_, err := b.Load(ctx, modelKey)
			return err
		},
	}
	if c, ok := b.(Checker); ok {
		checks["store_breaker"] = c.Check
	}
	if ts, ok := b.(Timestamper); ok && onModelWrite != nil {
		checks["model_age"] = func(ctx context.Context) error {
			at, ok, err := ts.UpdatedAt(ctx, modelKey)
			if err != nil {
				return err
			}
			if ok {
				onModelWrite(at)
			}
			return nil
		}
	}
	return checks
}

// Memory is an in-process artifact store.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
	at    map[string]time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte), at: make(map[string]time.Time)}
}

func (m *Memory) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), b...), nil
}

func (m *Memory) Save(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	m.blobs[key] = append([]byte(nil), data...)
	m.at[key] = time.Now().UTC()
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.blobs, key)
	delete(m.at, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) UpdatedAt(_ context.Context, key string) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	at, ok := m.at[key]
	return at, ok, nil
}

func (m *Memory) Close() error { return nil }

// Staged buffers writes in memory over a base store until Commit.
// Reads see staged blobs first, then fall through to the base.
type Staged struct {
	base   model.ArtifactStore
	mu     sync.Mutex
	order  []string
	staged map[string][]byte
}

// NewStaged wraps base.
func NewStaged(base model.ArtifactStore) *Staged {
	return &Staged{base: base, staged: make(map[string][]byte)}
}

func (s *Staged) Load(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	b, ok := s.staged[key]
	s.mu.Unlock()
	if ok {
		return append([]byte(nil), b...), nil
	}
	return s.base.Load(ctx, key)
}

func (s *Staged) Save(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.staged[key]; !ok {
		s.order = append(s.order, key)
	}
	s.staged[key] = append([]byte(nil), data...)
	return nil
}

// Pending returns the staged keys in first-write order.
func (s *Staged) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// Deleter is implemented by stores that can remove a key.
type Deleter interface {
	Delete(ctx context.Context, key string) error
}

// Commit writes staged blobs to the base store in first-write order and
// clears them. If a write fails, every blob already written is put back to
// what the base held before Commit (keys that were absent are deleted when
// the base is a Deleter), so the base never ends up with a partial set.
func (s *Staged) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := make(map[string][]byte, len(s.order))
	for _, key := range s.order {
		b, err := s.base.Load(ctx, key)
		if err != nil {
			return fmt.Errorf("store: commit: snapshot %q: %w", key, err)
		}
		prev[key] = b
	}

	for i, key := range s.order {
		if err := s.base.Save(ctx, key, s.staged[key]); err != nil {
			err = fmt.Errorf("store: commit %q: %w", key, err)
			if rerr := s.rollback(ctx, s.order[:i], prev); rerr != nil {
				return errors.Join(err, rerr)
			}
			return err
		}
	}
	s.order = nil
	s.staged = make(map[string][]byte)
	return nil
}

func (s *Staged) rollback(ctx context.Context, written []string, prev map[string][]byte) error {
	var errs []error
	for i := len(written) - 1; i >= 0; i-- {
		key := written[i]
		if old := prev[key]; old != nil {
			if err := s.base.Save(ctx, key, old); err != nil {
				errs = append(errs, fmt.Errorf("store: rollback %q: %w", key, err))
			}
			continue
		}
		d, ok := s.base.(Deleter)
		if !ok {
			errs = append(errs, fmt.Errorf("store: rollback %q: base cannot delete", key))
			continue
		}
		if err := d.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("store: rollback %q: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// Discard drops every staged blob.
func (s *Staged) Discard() {
	s.mu.Lock()
	s.order = nil
	s.staged = make(map[string][]byte)
	s.mu.Unlock()
}
