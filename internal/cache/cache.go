// Package cache persists resolved location coordinates so a restart does not
// repeat every name search against the upstream.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kjstillabower/weather-exporter/internal/models"
)

// Backend names accepted by Open.
const (
	BackendInMemory  = "in_memory"
	BackendMemcached = "memcached"
	BackendSQLite    = "sqlite"
)

// CoordinateStore maps a location name to its resolved coordinates.
// Get returns ok=false on a miss; an error means the store itself failed.
type CoordinateStore interface {
	Get(ctx context.Context, name string) (models.Coordinates, bool, error)
	Set(ctx context.Context, name string, coords models.Coordinates) error
	Close() error
}

// Options selects and configures a CoordinateStore.
type Options struct {
	Backend          string
	MemcachedAddrs   string
	MemcachedTimeout time.Duration

	// MemcachedMaxIdleConns of 0 keeps the gomemcache default.
	MemcachedMaxIdleConns int
	SQLitePath            string
}

// Open builds the store named by opts.Backend. An empty backend means in-memory.
func Open(ctx context.Context, opts Options) (CoordinateStore, error) {
	switch opts.Backend {
	case "", BackendInMemory:
		return NewInMemoryStore(), nil
	case BackendMemcached:
		return NewMemcachedStore(opts.MemcachedAddrs, opts.MemcachedTimeout, opts.MemcachedMaxIdleConns)
	case BackendSQLite:
		return NewSQLiteStore(ctx, opts.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", opts.Backend)
	}
}

// InMemoryStore keeps coordinates for the lifetime of the process. Safe for concurrent use.
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string]models.Coordinates
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		data: make(map[string]models.Coordinates),
	}
}

// Get implements CoordinateStore.
func (s *InMemoryStore) Get(ctx context.Context, name string) (models.Coordinates, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.data[name]
	return c, ok, nil
}

// Set implements CoordinateStore.
func (s *InMemoryStore) Set(ctx context.Context, name string, coords models.Coordinates) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[name] = coords
	return nil
}

// Close implements CoordinateStore.
func (s *InMemoryStore) Close() error { return nil }
