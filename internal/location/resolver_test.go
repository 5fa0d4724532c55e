package location

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/weather-exporter/internal/cache"
	"github.com/kjstillabower/weather-exporter/internal/client"
	"github.com/kjstillabower/weather-exporter/internal/models"
)

type stubSearcher struct {
	calls  int
	coords models.Coordinates
	err    error
}

func (s *stubSearcher) SearchLocation(ctx context.Context, name string) (models.Coordinates, error) {
	s.calls++
	return s.coords, s.err
}

type brokenStore struct{}

func (brokenStore) Get(ctx context.Context, name string) (models.Coordinates, bool, error) {
	return models.Coordinates{}, false, errors.New("store down")
}

func (brokenStore) Set(ctx context.Context, name string, coords models.Coordinates) error {
	return errors.New("store down")
}

func (brokenStore) Close() error { return nil }

func TestStoreResolver_StoreHitSkipsSearch(t *testing.T) {
	store := cache.NewInMemoryStore()
	oslo := models.Coordinates{Latitude: 59.9133, Longitude: 10.739}
	require.NoError(t, store.Set(context.Background(), "Oslo", oslo))
	search := &stubSearcher{}

	got, err := NewStoreResolver(search, store, nil).Resolve(context.Background(), "Oslo")
	require.NoError(t, err)
	assert.Equal(t, oslo, got)
	assert.Zero(t, search.calls)
}

func TestStoreResolver_MissSearchesAndStores(t *testing.T) {
	store := cache.NewInMemoryStore()
	bergen := models.Coordinates{Latitude: 60.3894, Longitude: 5.33}
	search := &stubSearcher{coords: bergen}
	r := NewStoreResolver(search, store, nil)

	got, err := r.Resolve(context.Background(), "Bergen")
	require.NoError(t, err)
	assert.Equal(t, bergen, got)

	stored, ok, err := store.Get(context.Background(), "Bergen")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, bergen, stored)
}

func TestStoreResolver_FailureIsNotStored(t *testing.T) {
	store := cache.NewInMemoryStore()
	search := &stubSearcher{err: client.ErrLocationNotFound}
	r := NewStoreResolver(search, store, nil)

	_, err := r.Resolve(context.Background(), "Xyzzyville")
	require.ErrorIs(t, err, client.ErrLocationNotFound)
	_, err = r.Resolve(context.Background(), "Xyzzyville")
	require.ErrorIs(t, err, client.ErrLocationNotFound)

	assert.Equal(t, 2, search.calls, "failures must not be cached")
	_, ok, _ := store.Get(context.Background(), "Xyzzyville")
	assert.False(t, ok)
}

func TestStoreResolver_StoreErrorsAreBypassed(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	lisbon := models.Coordinates{Latitude: 38.7071, Longitude: -9.1355}
	search := &stubSearcher{coords: lisbon}

	got, err := NewStoreResolver(search, brokenStore{}, zap.New(core)).Resolve(context.Background(), "Lisbon")
	require.NoError(t, err)
	assert.Equal(t, lisbon, got)
	assert.Equal(t, 1, search.calls)
	assert.Equal(t, 1, logs.FilterMessage("coordinate store get failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("coordinate store set failed").Len())
}
