package cache

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testStorage exercises the behaviour every Storage implementation shares.
func testStorage(t *testing.T, s Storage) {
	t.Helper()
	ctx := context.Background()

	t.Run("open creates named cache", func(t *testing.T) {
		c, err := s.Open(ctx, "sharesathi-v1")
		require.NoError(t, err)
		assert.Equal(t, "sharesathi-v1", c.Name())

		names, err := s.Keys(ctx)
		require.NoError(t, err)
		assert.Contains(t, names, "sharesathi-v1")
	})

	t.Run("match on empty cache is not found", func(t *testing.T) {
		c, err := s.Open(ctx, "empty-v1")
		require.NoError(t, err)
		_, err = c.Match(ctx, "GET http://localhost/logo.png")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("put then match round trips the response", func(t *testing.T) {
		c, err := s.Open(ctx, "roundtrip-v1")
		require.NoError(t, err)

		entry := &Entry{
			Status: http.StatusOK,
			Header: http.Header{"Content-Type": {"image/png"}, "Etag": {`"abc"`}},
			Body:   []byte("png-bytes"),
		}
		require.NoError(t, c.Put(ctx, "GET http://localhost/logo.png", entry))

		got, err := c.Match(ctx, "GET http://localhost/logo.png")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, got.Status)
		assert.Equal(t, "image/png", got.Header.Get("Content-Type"))
		assert.Equal(t, []byte("png-bytes"), got.Body)
		assert.False(t, got.StoredAt.IsZero(), "StoredAt should be set on put")

		// Overwrite replaces the entry.
		require.NoError(t, c.Put(ctx, "GET http://localhost/logo.png", &Entry{Status: 200, Body: []byte("v2")}))
		got, err = c.Match(ctx, "GET http://localhost/logo.png")
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), got.Body)
	})

	t.Run("caches are isolated by name", func(t *testing.T) {
		a, err := s.Open(ctx, "iso-a")
		require.NoError(t, err)
		b, err := s.Open(ctx, "iso-b")
		require.NoError(t, err)

		require.NoError(t, a.Put(ctx, "GET http://localhost/", &Entry{Status: 200, Body: []byte("a")}))
		_, err = b.Match(ctx, "GET http://localhost/")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("delete removes cache and its entries", func(t *testing.T) {
		c, err := s.Open(ctx, "old-v0")
		require.NoError(t, err)
		require.NoError(t, c.Put(ctx, "GET http://localhost/", &Entry{Status: 200, Body: []byte("old")}))

		existed, err := s.Delete(ctx, "old-v0")
		require.NoError(t, err)
		assert.True(t, existed)

		names, err := s.Keys(ctx)
		require.NoError(t, err)
		assert.NotContains(t, names, "old-v0")

		existed, err = s.Delete(ctx, "old-v0")
		require.NoError(t, err)
		assert.False(t, existed)

		// Reopening gives a fresh, empty cache.
		c, err = s.Open(ctx, "old-v0")
		require.NoError(t, err)
		_, err = c.Match(ctx, "GET http://localhost/")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("put through a deleted handle fails", func(t *testing.T) {
		c, err := s.Open(ctx, "gone-v1")
		require.NoError(t, err)
		_, err = s.Delete(ctx, "gone-v1")
		require.NoError(t, err)

		err = c.Put(ctx, "GET http://localhost/", &Entry{Status: 200, Body: []byte("late")})
		assert.ErrorIs(t, err, ErrCacheDeleted)

		names, err := s.Keys(ctx)
		require.NoError(t, err)
		assert.NotContains(t, names, "gone-v1")

		// The late write must not come back when the name is reused.
		c, err = s.Open(ctx, "gone-v1")
		require.NoError(t, err)
		_, err = c.Match(ctx, "GET http://localhost/")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.Delete(ctx, "gone-v1")
		require.NoError(t, err)
	})

	t.Run("invalid names are rejected", func(t *testing.T) {
		_, err := s.Open(ctx, "../escape")
		assert.ErrorIs(t, err, ErrInvalidName)
	})

	t.Run("concurrent puts are safe", func(t *testing.T) {
		c, err := s.Open(ctx, "concurrent-v1")
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = c.Put(ctx, "GET http://localhost/app.js", &Entry{Status: 200, Body: []byte("js")})
			}()
		}
		wg.Wait()

		got, err := c.Match(ctx, "GET http://localhost/app.js")
		require.NoError(t, err)
		assert.Equal(t, []byte("js"), got.Body)
	})
}
