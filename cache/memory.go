package cache

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStorage keeps named caches in process memory.
type MemoryStorage struct {
	mu     sync.RWMutex
	caches map[string]*memoryCache
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{caches: make(map[string]*memoryCache)}
}

// Open implements Storage.
func (ms *MemoryStorage) Open(ctx context.Context, name string) (Cache, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	mc, ok := ms.caches[name]
	if !ok {
		mc = &memoryCache{name: name, entries: make(map[string]*Entry)}
		ms.caches[name] = mc
	}
	return mc, nil
}

// Keys implements Storage.
func (ms *MemoryStorage) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ms.mu.RLock()
	names := make([]string, 0, len(ms.caches))
	for name := range ms.caches {
		names = append(names, name)
	}
	ms.mu.RUnlock()
	sort.Strings(names)
	return names, nil
}

// Delete implements Storage.
func (ms *MemoryStorage) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	ms.mu.Lock()
	mc, ok := ms.caches[name]
	delete(ms.caches, name)
	ms.mu.Unlock()
	if ok {
		mc.markDeleted()
	}
	return ok, nil
}

// Close implements Storage.
func (ms *MemoryStorage) Close() error { return nil }

type memoryCache struct {
	name    string
	mu      sync.RWMutex
	entries map[string]*Entry
	deleted bool
}

func (mc *memoryCache) Name() string { return mc.name }

func (mc *memoryCache) Match(ctx context.Context, key string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	e, ok := mc.entries[key]
	if !ok || mc.deleted {
		return nil, ErrNotFound
	}
	return e.Clone(), nil
}

func (mc *memoryCache) Put(ctx context.Context, key string, entry *Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stored := entry.Clone()
	if stored.StoredAt.IsZero() {
		stored.StoredAt = time.Now().UTC()
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if mc.deleted {
		return ErrCacheDeleted
	}
	mc.entries[key] = stored
	return nil
}

func (mc *memoryCache) markDeleted() {
	mc.mu.Lock()
	mc.deleted = true
	mc.entries = nil
	mc.mu.Unlock()
}
