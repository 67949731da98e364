package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownDriver is returned by Registry.Open for unregistered driver names.
var ErrUnknownDriver = errors.New("unknown cache driver")

// Driver opens a Storage from a driver-specific data source string.
type Driver interface {
	// Name returns the driver name used in configuration (e.g. "sqlite").
	Name() string
	// Open connects to or creates the storage described by dsn.
	Open(ctx context.Context, dsn string) (Storage, error)
}

// DriverFunc adapts a plain function to the Driver interface.
type DriverFunc struct {
	DriverName string
	OpenFunc   func(ctx context.Context, dsn string) (Storage, error)
}

func (d DriverFunc) Name() string { return d.DriverName }

func (d DriverFunc) Open(ctx context.Context, dsn string) (Storage, error) {
	return d.OpenFunc(ctx, dsn)
}

// Registry manages available storage drivers.
type Registry struct {
	drivers map[string]Driver
}

// NewRegistry creates an empty driver registry.
func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]Driver)}
}

// DefaultRegistry returns a registry holding every built-in driver:
// memory, file, sqlite, redis and postgres.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(DriverFunc{"memory", func(context.Context, string) (Storage, error) {
		return NewMemoryStorage(), nil
	}})
	r.Register(DriverFunc{"file", func(_ context.Context, dsn string) (Storage, error) {
		return NewFileStorage(dsn)
	}})
	r.Register(DriverFunc{"sqlite", func(_ context.Context, dsn string) (Storage, error) {
		return OpenSQLite(dsn)
	}})
	r.Register(DriverFunc{"redis", func(ctx context.Context, dsn string) (Storage, error) {
		return OpenRedis(ctx, dsn)
	}})
	r.Register(DriverFunc{"postgres", func(ctx context.Context, dsn string) (Storage, error) {
		return OpenPostgres(ctx, dsn)
	}})
	return r
}

// Register adds a driver, replacing any driver with the same name.
func (r *Registry) Register(d Driver) {
	r.drivers[d.Name()] = d
}

// Get retrieves a driver by name.
func (r *Registry) Get(name string) (Driver, bool) {
	d, ok := r.drivers[name]
	return d, ok
}

// List returns all registered driver names, sorted.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.drivers))
	for name := range r.drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open looks up the named driver and opens a storage with it.
func (r *Registry) Open(ctx context.Context, driver, dsn string) (Storage, error) {
	d, ok := r.Get(driver)
	if !ok {
		return nil, fmt.Errorf("%w %q (available: %v)", ErrUnknownDriver, driver, r.List())
	}
	s, err := d.Open(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", driver, err)
	}
	return s, nil
}
