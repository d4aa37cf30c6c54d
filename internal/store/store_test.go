package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalbot/internal/logger"
	"signalbot/internal/store/file"
	"signalbot/internal/store/redis"
	"signalbot/internal/store/sqlite"
)

type failingStore struct {
	*Memory
	failKey string
}

func (f *failingStore) Save(ctx context.Context, key string, data []byte) error {
	if key == f.failKey {
		return errors.New("disk full")
	}
	return f.Memory.Save(ctx, key, data)
}

func TestMemory_AbsentIsNil(t *testing.T) {
	m := NewMemory()
	b, err := m.Load(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, b)
}

func TestMemory_CopiesOnSaveAndLoad(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	in := []byte("abc")
	require.NoError(t, m.Save(ctx, "k", in))
	in[0] = 'X'

	out, err := m.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), out)
}

func TestStaged_WritesInvisibleUntilCommit(t *testing.T) {
	ctx := context.Background()
	base := NewMemory()
	require.NoError(t, base.Save(ctx, "model", []byte("old")))

	s := NewStaged(base)
	require.NoError(t, s.Save(ctx, "scaler", []byte("s1")))
	require.NoError(t, s.Save(ctx, "model", []byte("m1")))

	got, _ := s.Load(ctx, "model")
	assert.Equal(t, []byte("m1"), got, "staged read sees staged blob")
	got, _ = base.Load(ctx, "model")
	assert.Equal(t, []byte("old"), got, "base untouched before commit")
	assert.Equal(t, []string{"scaler", "model"}, s.Pending())

	require.NoError(t, s.Commit(ctx))
	got, _ = base.Load(ctx, "model")
	assert.Equal(t, []byte("m1"), got)
	got, _ = base.Load(ctx, "scaler")
	assert.Equal(t, []byte("s1"), got)
	assert.Empty(t, s.Pending())
}

func TestStaged_Discard(t *testing.T) {
	ctx := context.Background()
	base := NewMemory()
	s := NewStaged(base)
	require.NoError(t, s.Save(ctx, "model", []byte("m1")))
	s.Discard()
	require.NoError(t, s.Commit(ctx))

	got, _ := base.Load(ctx, "model")
	assert.Nil(t, got)
}

func TestStaged_FailedCommitRestoresPreviousBlobs(t *testing.T) {
	ctx := context.Background()
	base := &failingStore{Memory: NewMemory()}
	require.NoError(t, base.Save(ctx, "scaler", []byte("s0")))
	require.NoError(t, base.Save(ctx, "model", []byte("m0")))
	base.failKey = "model"

	s := NewStaged(base)
	require.NoError(t, s.Save(ctx, "scaler", []byte("s1")))
	require.NoError(t, s.Save(ctx, "model", []byte("m1")))

	err := s.Commit(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `commit "model"`)

	got, _ := base.Load(ctx, "scaler")
	assert.Equal(t, []byte("s0"), got, "scaler rolled back")
	got, _ = base.Load(ctx, "model")
	assert.Equal(t, []byte("m0"), got)
	assert.Equal(t, []string{"scaler", "model"}, s.Pending(), "staged set kept for the caller to discard")
}

func TestStaged_FailedFirstCommitLeavesBaseEmpty(t *testing.T) {
	ctx := context.Background()
	base := &failingStore{Memory: NewMemory(), failKey: "model"}
	s := NewStaged(base)
	require.NoError(t, s.Save(ctx, "scaler", []byte("s1")))
	require.NoError(t, s.Save(ctx, "model", []byte("m1")))

	require.Error(t, s.Commit(ctx))
	got, _ := base.Load(ctx, "scaler")
	assert.Nil(t, got, "scaler written then deleted")
}

func TestHealthChecks_ByCapability(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	var seen time.Time
	checks := HealthChecks(m, "model", func(at time.Time) { seen = at })
	require.Contains(t, checks, "store")
	require.Contains(t, checks, "model_age")
	assert.NotContains(t, checks, "store_breaker")

	require.NoError(t, checks["model_age"](ctx))
	assert.True(t, seen.IsZero(), "no model written yet")

	require.NoError(t, m.Save(ctx, "model", []byte("w")))
	require.NoError(t, checks["store"](ctx))
	require.NoError(t, checks["model_age"](ctx))
	assert.WithinDuration(t, time.Now(), seen, time.Minute)

	assert.NotContains(t, HealthChecks(m, "model", nil), "model_age")
}

var (
	_ Timestamper = (*Memory)(nil)
	_ Timestamper = (*file.Store)(nil)
	_ Timestamper = (*sqlite.ArtifactStore)(nil)
	_ Checker     = (*redis.ArtifactStore)(nil)
)

func TestOpen_Backends(t *testing.T) {
	dir := t.TempDir()
	log := logger.Nop()

	b, err := Open(Config{Backend: "file", Dir: dir}, log)
	require.NoError(t, err)
	require.NoError(t, b.Close())

	b, err = Open(Config{Backend: "sqlite", SQLitePath: filepath.Join(dir, "a.db")}, log)
	require.NoError(t, err)
	require.NoError(t, b.Close())

	b, err = Open(Config{Backend: "memory"}, log)
	require.NoError(t, err)
	require.NoError(t, b.Close())

	_, err = Open(Config{Backend: "s3"}, log)
	assert.Error(t, err)
}
