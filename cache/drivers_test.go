package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorage(t *testing.T) {
	testStorage(t, NewMemoryStorage())
}

func TestMemoryStorage_MatchReturnsCopy(t *testing.T) {
	ctx := context.Background()
	c, err := NewMemoryStorage().Open(ctx, "copy-v1")
	require.NoError(t, err)
	require.NoError(t, c.Put(ctx, "k", &Entry{Status: 200, Body: []byte("abc")}))

	got, err := c.Match(ctx, "k")
	require.NoError(t, err)
	got.Body[0] = 'X'

	again, err := c.Match(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again.Body)
}

func TestFileStorage(t *testing.T) {
	s, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)
	testStorage(t, s)
}

func TestSQLiteStorage(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	testStorage(t, s)
}

func TestSQLiteStorage_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	c, err := s.Open(ctx, "sharesathi-v1")
	require.NoError(t, err)
	require.NoError(t, c.Put(ctx, "GET http://localhost/", &Entry{Status: 200, Body: []byte("<html>")}))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	c, err = s.Open(ctx, "sharesathi-v1")
	require.NoError(t, err)
	got, err := c.Match(ctx, "GET http://localhost/")
	require.NoError(t, err)
	assert.Equal(t, []byte("<html>"), got.Body)
}

func TestOpenSQLite_RequiresPath(t *testing.T) {
	_, err := OpenSQLite("  ")
	assert.Error(t, err)
}

func TestRedisStorage(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set, skipping redis storage test")
	}
	ctx := context.Background()
	s, err := OpenRedis(ctx, addr)
	require.NoError(t, err)
	s.prefix = "sharesathi:test:" + t.Name()
	t.Cleanup(func() {
		names, _ := s.Keys(ctx)
		for _, n := range names {
			_, _ = s.Delete(ctx, n)
		}
		_ = s.Close()
	})
	testStorage(t, s)

	t.Run("write racing delete leaves no orphan hash", func(t *testing.T) {
		for i := range 50 {
			name := fmt.Sprintf("race-v%d", i)
			c, err := s.Open(ctx, name)
			require.NoError(t, err)

			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer wg.Done()
				_ = c.Put(ctx, "GET http://localhost/", &Entry{Status: 200, Body: []byte("late")})
			}()
			go func() {
				defer wg.Done()
				_, _ = s.Delete(ctx, name)
			}()
			wg.Wait()

			n, err := s.rdb.Exists(ctx, s.entriesKey(name)).Result()
			require.NoError(t, err)
			assert.Zero(t, n, "entries for deleted cache %s were recreated", name)
		}
	})
}

func TestPostgresStorage(t *testing.T) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping postgres storage test")
	}
	ctx := context.Background()
	s, err := OpenPostgres(ctx, dbURL)
	require.NoError(t, err)
	t.Cleanup(func() {
		names, _ := s.Keys(ctx)
		for _, n := range names {
			_, _ = s.Delete(ctx, n)
		}
		_ = s.Close()
	})
	testStorage(t, s)
}

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []string{"file", "memory", "postgres", "redis", "sqlite"}, r.List())

	s, err := r.Open(context.Background(), "memory", "")
	require.NoError(t, err)
	_, ok := s.(*MemoryStorage)
	assert.True(t, ok, "memory driver should open a MemoryStorage")

	_, err = r.Open(context.Background(), "etcd", "")
	assert.ErrorIs(t, err, ErrUnknownDriver)
}

func TestRegistryOverwrite(t *testing.T) {
	r := NewRegistry()
	first := NewMemoryStorage()
	second := NewMemoryStorage()
	r.Register(DriverFunc{"mem", func(context.Context, string) (Storage, error) { return first, nil }})
	r.Register(DriverFunc{"mem", func(context.Context, string) (Storage, error) { return second, nil }})

	assert.Len(t, r.List(), 1)
	s, err := r.Open(context.Background(), "mem", "")
	require.NoError(t, err)
	assert.Same(t, second, s)
}
