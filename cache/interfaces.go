// Package cache provides named, versioned stores of captured HTTP responses.
//
// A Storage holds any number of named caches. Each Cache maps a request
// identity (see RequestKey) to the full response captured for it.
package cache

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Match when no entry exists for a key.
	ErrNotFound = errors.New("cache entry not found")

	// ErrCacheDeleted is returned when writing through a handle whose named
	// cache has since been deleted from its Storage.
	ErrCacheDeleted = errors.New("cache has been deleted")

	// ErrInvalidName is returned for cache names that are empty or contain
	// characters outside [A-Za-z0-9._-].
	ErrInvalidName = errors.New("invalid cache name")
)

// Reader looks up captured responses.
type Reader interface {
	// Match returns the entry stored under key, or ErrNotFound.
	Match(ctx context.Context, key string) (*Entry, error)
}

// Writer stores captured responses.
type Writer interface {
	// Put stores entry under key, replacing any previous entry.
	Put(ctx context.Context, key string, entry *Entry) error
}

// Cache is a single named store.
type Cache interface {
	Reader
	Writer
	Name() string
}

// Storage enumerates, opens and deletes named caches. Implementations must be
// safe for concurrent use.
type Storage interface {
	// Open returns the named cache, creating it if needed.
	Open(ctx context.Context, name string) (Cache, error)
	// Keys lists the names of all caches, sorted.
	Keys(ctx context.Context) ([]string, error)
	// Delete removes a named cache and all of its entries. It reports
	// whether the cache existed.
	Delete(ctx context.Context, name string) (bool, error)
	Close() error
}
