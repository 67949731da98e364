package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/user"
	"path/filepath"
	"sort"
	"time"
)

// FileStorage keeps each named cache as a directory of JSON files, one per
// request key.
type FileStorage struct {
	dir string
}

// NewFileStorage creates a file-based storage rooted at dir.
// If dir is empty, uses ~/.sharesathi_cache.
func NewFileStorage(dir string) (*FileStorage, error) {
	if dir == "" {
		usr, err := user.Current()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(usr.HomeDir, ".sharesathi_cache")
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}

	return &FileStorage{dir: filepath.Clean(dir)}, nil
}

// Open implements Storage.
func (fs *FileStorage) Open(ctx context.Context, name string) (Cache, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	dir := filepath.Join(fs.dir, name)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &fileCache{name: name, dir: dir}, nil
}

// Keys implements Storage.
func (fs *FileStorage) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && ValidateName(e.Name()) == nil {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Delete implements Storage.
func (fs *FileStorage) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := ValidateName(name); err != nil {
		return false, err
	}
	dir := filepath.Join(fs.dir, name)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, err
	}
	return true, nil
}

// Close implements Storage.
func (fs *FileStorage) Close() error { return nil }

type fileCache struct {
	name string
	dir  string
}

func (fc *fileCache) Name() string { return fc.name }

func (fc *fileCache) Match(ctx context.Context, key string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(fc.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}
	return &entry, nil
}

func (fc *fileCache) Put(ctx context.Context, key string, entry *Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(fc.dir); errors.Is(err, os.ErrNotExist) {
		return ErrCacheDeleted
	}

	stored := *entry
	if stored.StoredAt.IsZero() {
		stored.StoredAt = time.Now().UTC()
	}
	data, err := json.Marshal(&stored)
	if err != nil {
		return err
	}

	// Write to temporary file first, then rename (atomic operation)
	path := fc.path(key)
	tmpPath := path + fmt.Sprintf(".tmp.%d", rand.Int())
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return deletedIfMissing(err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return deletedIfMissing(err)
	}
	return nil
}

// deletedIfMissing reports a write into a directory removed by Delete as
// ErrCacheDeleted.
func deletedIfMissing(err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return ErrCacheDeleted
	}
	return err
}

func (fc *fileCache) path(key string) string {
	return filepath.Join(fc.dir, fileNameFor(key))
}
