// Package redis stores artifacts in Redis behind a circuit breaker.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// kv is the subset of the Redis client the store needs.
type kv interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.StatusCmd
	Del(ctx context.Context, keys ...string) *goredis.IntCmd
	Close() error
}

// ArtifactStore keeps each artifact as a plain string key. SET replaces the
// value atomically and artifacts never expire.
type ArtifactStore struct {
	client  kv
	prefix  string
	breaker *CircuitBreaker
	log     zerolog.Logger
}

// NewArtifactStore connects to Redis and pings the server.
func NewArtifactStore(addr, password, prefix string, log zerolog.Logger) (*ArtifactStore, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Info().Str("addr", addr).Str("prefix", prefix).Msg("redis artifact store connected")
	return newArtifactStore(client, prefix, log), nil
}

func newArtifactStore(client kv, prefix string, log zerolog.Logger) *ArtifactStore {
	cb := NewCircuitBreaker(5, 10*time.Second)
	cb.OnStateChange = func(from, to State) {
		log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("redis circuit breaker transition")
	}
	return &ArtifactStore{client: client, prefix: prefix, breaker: cb, log: log}
}

// Load returns nil, nil if no artifact exists under key.
func (s *ArtifactStore) Load(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.breaker.Execute(func() error {
		b, err := s.client.Get(ctx, s.prefix+key).Bytes()
		if errors.Is(err, goredis.Nil) {
			return nil // absent is not a failure
		}
		if err != nil {
			return err
		}
		data = b
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", s.prefix+key, err)
	}
	return data, nil
}

func (s *ArtifactStore) Save(ctx context.Context, key string, data []byte) error {
	err := s.breaker.Execute(func() error {
		return s.client.Set(ctx, s.prefix+key, data, 0).Err()
	})
	if err != nil {
		return fmt.Errorf("redis set %s: %w", s.prefix+key, err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *ArtifactStore) Delete(ctx context.Context, key string) error {
	err := s.breaker.Execute(func() error {
		return s.client.Del(ctx, s.prefix+key).Err()
	})
	if err != nil {
		return fmt.Errorf("redis del %s: %w", s.prefix+key, err)
	}
	return nil
}

// Check fails with ErrCircuitOpen while the breaker is open.
func (s *ArtifactStore) Check(context.Context) error {
	if s.breaker.CurrentState() == StateOpen {
		return ErrCircuitOpen
	}
	return nil
}

// Close closes the client.
func (s *ArtifactStore) Close() error {
	return s.client.Close()
}
