//go:build integration
// +build integration

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/kjstillabower/weather-exporter/internal/models"
)

// TestMemcachedStore_GetSet_Integration verifies that MemcachedStore stores and
// retrieves coordinates when a memcached server is available.
func TestMemcachedStore_GetSet_Integration(t *testing.T) {
	s, err := NewMemcachedStore("localhost:11211", 500*time.Millisecond, 2)
	if err != nil {
		t.Fatalf("NewMemcachedStore() error = %v", err)
	}
	defer s.Close()
	if err := s.Ping(); err != nil {
		t.Skipf("memcached not reachable: %v", err)
	}

	ctx := context.Background()
	want := models.Coordinates{Latitude: 59.9133, Longitude: 10.739}
	if err := s.Set(ctx, "Oslo", want); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, ok, err := s.Get(ctx, "Oslo")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if got != want {
		t.Errorf("Get() = %+v, want %+v", got, want)
	}
}

// TestMemcachedStore_Get_Miss_Integration verifies ok=false for unknown names.
func TestMemcachedStore_Get_Miss_Integration(t *testing.T) {
	s, err := NewMemcachedStore("localhost:11211", 500*time.Millisecond, 2)
	if err != nil {
		t.Fatalf("NewMemcachedStore() error = %v", err)
	}
	defer s.Close()

	_, ok, err := s.Get(context.Background(), "nowhere-at-all")
	if err != nil {
		t.Skipf("Get failed (memcached may not be running): %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for miss")
	}
}
