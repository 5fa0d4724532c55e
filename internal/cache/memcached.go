package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/kjstillabower/weather-exporter/internal/models"
)

const (
	keyPrefix = "weather:coords:"

	// memcached treats larger relative expirations as absolute unix times.
	maxRelativeExp = 30 * 24 * 60 * 60
)

// MemcachedStore implements CoordinateStore on memcached so several exporter
// replicas share resolutions.
type MemcachedStore struct {
	client *memcache.Client
}

// NewMemcachedStore creates a MemcachedStore. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// use package defaults if zero.
func NewMemcachedStore(addrs string, timeout time.Duration, maxIdleConns int) (*MemcachedStore, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedStore{client: client}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// key maps a location name to a memcached key. memcached rejects spaces and
// keys over 250 bytes; long names are hashed.
func key(name string) string {
	k := keyPrefix + strings.ReplaceAll(strings.ToLower(name), " ", "_")
	if len(k) > 250 {
		sum := sha256.Sum256([]byte(name))
		k = keyPrefix + hex.EncodeToString(sum[:])
	}
	return k
}

// Get implements CoordinateStore. Returns false, nil on a miss.
func (s *MemcachedStore) Get(ctx context.Context, name string) (models.Coordinates, bool, error) {
	if ctx.Err() != nil {
		return models.Coordinates{}, false, ctx.Err()
	}
	item, err := s.client.Get(key(name))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return models.Coordinates{}, false, nil
		}
		return models.Coordinates{}, false, err
	}
	var coords models.Coordinates
	if err := json.Unmarshal(item.Value, &coords); err != nil {
		return models.Coordinates{}, false, err
	}
	return coords, true, nil
}

// Set implements CoordinateStore.
func (s *MemcachedStore) Set(ctx context.Context, name string, coords models.Coordinates) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	raw, err := json.Marshal(coords)
	if err != nil {
		return err
	}
	return s.client.Set(&memcache.Item{
		Key:        key(name),
		Value:      raw,
		Expiration: maxRelativeExp,
	})
}

// Ping checks if memcached is reachable.
func (s *MemcachedStore) Ping() error {
	return s.client.Ping()
}

// Close closes the memcached client connections.
func (s *MemcachedStore) Close() error {
	return s.client.Close()
}
