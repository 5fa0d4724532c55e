package location

import (
	"context"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-exporter/internal/cache"
	"github.com/kjstillabower/weather-exporter/internal/client"
	"github.com/kjstillabower/weather-exporter/internal/models"
	"github.com/kjstillabower/weather-exporter/internal/observability"
)

// Resolver maps a location name to coordinates.
type Resolver interface {
	Resolve(ctx context.Context, name string) (models.Coordinates, error)
}

// StoreResolver consults a coordinate store before the upstream search and
// records every upstream answer in it. Failures are never stored, so an
// unresolvable name is searched again on its next attempt.
type StoreResolver struct {
	search client.Searcher
	store  cache.CoordinateStore
	logger *zap.Logger
}

// NewStoreResolver returns a resolver. store may be nil.
func NewStoreResolver(search client.Searcher, store cache.CoordinateStore, logger *zap.Logger) *StoreResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreResolver{search: search, store: store, logger: logger}
}

// Resolve implements Resolver. Store errors are logged and bypassed.
func (r *StoreResolver) Resolve(ctx context.Context, name string) (models.Coordinates, error) {
	if r.store != nil {
		coords, ok, err := r.store.Get(ctx, name)
		if err != nil {
			r.logger.Warn("coordinate store get failed",
				zap.String("location", name),
				zap.Error(err),
			)
		} else if ok {
			observability.ResolutionsTotal.WithLabelValues("store").Inc()
			return coords, nil
		}
	}

	coords, err := r.search.SearchLocation(ctx, name)
	if err != nil {
		observability.ResolutionsTotal.WithLabelValues("failed").Inc()
		return models.Coordinates{}, err
	}
	observability.ResolutionsTotal.WithLabelValues("upstream").Inc()

	if r.store != nil {
		if err := r.store.Set(ctx, name, coords); err != nil {
			r.logger.Warn("coordinate store set failed",
				zap.String("location", name),
				zap.Error(err),
			)
		}
	}
	return coords, nil
}
