package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "sharesathi:cache"

// RedisStorage keeps the set of cache names in a Redis set and each named
// cache in its own hash (field = request key, value = JSON entry).
type RedisStorage struct {
	rdb    redis.UniversalClient
	prefix string
	owned  bool
}

// NewRedisStorage wraps an existing client. The caller keeps ownership of rdb.
func NewRedisStorage(rdb redis.UniversalClient, prefix string) *RedisStorage {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStorage{rdb: rdb, prefix: prefix}
}

// OpenRedis dials addr and verifies the connection.
func OpenRedis(ctx context.Context, addr string) (*RedisStorage, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	s := NewRedisStorage(rdb, "")
	s.owned = true
	return s, nil
}

func (s *RedisStorage) namesKey() string { return s.prefix + ":names" }

func (s *RedisStorage) entriesKey(name string) string { return s.prefix + ":entries:" + name }

// Open implements Storage.
func (s *RedisStorage) Open(ctx context.Context, name string) (Cache, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := s.rdb.SAdd(ctx, s.namesKey(), name).Err(); err != nil {
		return nil, fmt.Errorf("create cache %s: %w", name, err)
	}
	return &redisCache{name: name, storage: s}, nil
}

// Keys implements Storage.
func (s *RedisStorage) Keys(ctx context.Context) ([]string, error) {
	names, err := s.rdb.SMembers(ctx, s.namesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list caches: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Delete implements Storage.
func (s *RedisStorage) Delete(ctx context.Context, name string) (bool, error) {
	var removed *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.SRem(ctx, s.namesKey(), name)
		pipe.Del(ctx, s.entriesKey(name))
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete cache %s: %w", name, err)
	}
	return removed.Val() > 0, nil
}

// Close implements Storage. Clients passed to NewRedisStorage are left open.
func (s *RedisStorage) Close() error {
	if !s.owned {
		return nil
	}
	return s.rdb.Close()
}

type redisCache struct {
	name    string
	storage *RedisStorage
}

func (c *redisCache) Name() string { return c.name }

func (c *redisCache) Match(ctx context.Context, key string) (*Entry, error) {
	raw, err := c.storage.rdb.HGet(ctx, c.storage.entriesKey(c.name), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("match %s: %w", key, err)
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}
	return &entry, nil
}

// putScript writes an entry only while the cache is still listed, so a
// write racing Delete cannot recreate the hash.
var putScript = redis.NewScript(`
if redis.call('SISMEMBER', KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[2], ARGV[2], ARGV[3])
return 1
`)

func (c *redisCache) Put(ctx context.Context, key string, entry *Entry) error {
	stored := *entry
	if stored.StoredAt.IsZero() {
		stored.StoredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(&stored)
	if err != nil {
		return err
	}

	keys := []string{c.storage.namesKey(), c.storage.entriesKey(c.name)}
	written, err := putScript.Run(ctx, c.storage.rdb, keys, c.name, key, payload).Int()
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	if written == 0 {
		return ErrCacheDeleted
	}
	return nil
}
