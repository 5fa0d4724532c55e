package location

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-exporter/internal/client"
	"github.com/kjstillabower/weather-exporter/internal/models"
	"github.com/kjstillabower/weather-exporter/internal/observability"
)

// errNotModifiedWhileCold guards against an upstream answering 304 to a
// request that carried no validator.
var errNotModifiedWhileCold = errors.New("not modified without a cached forecast")

// Publisher receives the outcome of every refresh. Implementations replace a
// location's published values atomically.
type Publisher interface {
	Publish(location string, coords models.Coordinates, f models.Forecast)
	MarkFailed(location string)
}

// Outcome is the result of one RunOnce call.
type Outcome int

const (
	// OutcomeSkipped: notBefore lies in the future, no upstream call was made.
	OutcomeSkipped Outcome = iota
	// OutcomeFresh: a new forecast was received and published.
	OutcomeFresh
	// OutcomeNotModified: upstream confirmed the cached forecast.
	OutcomeNotModified
	// OutcomeFailed: resolution or fetch failed; cached values stay published.
	OutcomeFailed
	// OutcomeCanceled: the context ended mid-refresh; the entry is unchanged.
	OutcomeCanceled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFresh:
		return "fresh"
	case OutcomeNotModified:
		return "not_modified"
	case OutcomeFailed:
		return "failed"
	case OutcomeCanceled:
		return "canceled"
	}
	return "unknown"
}

// Worker refreshes a single Entry.
type Worker struct {
	entry     *Entry
	resolver  Resolver
	fetcher   client.Fetcher
	publisher Publisher
	policy    Policy
	now       func() time.Time
	logger    *zap.Logger
}

// WorkerOption customizes a Worker.
type WorkerOption func(*Worker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) WorkerOption {
	return func(w *Worker) { w.now = now }
}

// WithLogger sets the logger; the location name is added to every line.
func WithLogger(l *zap.Logger) WorkerOption {
	return func(w *Worker) { w.logger = l }
}

// NewWorker builds a worker for entry.
func NewWorker(entry *Entry, resolver Resolver, fetcher client.Fetcher, publisher Publisher, policy Policy, opts ...WorkerOption) *Worker {
	w := &Worker{
		entry:     entry,
		resolver:  resolver,
		fetcher:   fetcher,
		publisher: publisher,
		policy:    policy,
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("location", entry.Name()))
	observability.SetLocationState(entry.Name(), entry.State().String(), StateNames)
	return w
}

// Name returns the location the worker refreshes.
func (w *Worker) Name() string { return w.entry.Name() }

// Entry returns the entry the worker refreshes.
func (w *Worker) Entry() *Entry { return w.entry }

// RunOnce performs one eligibility check and, when eligible, one refresh:
// resolve if needed, conditional fetch, update the entry, publish.
// Calls for the same entry are serialized; a caller that waited for another
// refresh normally finds the entry ineligible and skips.
func (w *Worker) RunOnce(ctx context.Context) Outcome {
	e := w.entry
	e.fetch.Lock()
	defer e.fetch.Unlock()

	name := e.Name()
	now := w.now()
	if !e.eligible(now) {
		observability.CacheHitsTotal.WithLabelValues(name).Inc()
		w.logger.Debug("refresh skipped", zap.Time("notBefore", e.NotBefore()))
		return OutcomeSkipped
	}
	defer func() {
		observability.SetLocationState(name, e.State().String(), StateNames)
	}()

	coords, ok := e.coords()
	if !ok {
		resolved, err := w.resolver.Resolve(ctx, name)
		if err != nil {
			return w.fail(ctx, err, false)
		}
		e.resolve(resolved)
		coords = resolved
		w.logger.Info("location resolved",
			zap.Float64("latitude", coords.Latitude),
			zap.Float64("longitude", coords.Longitude),
		)
	}

	observability.FetchesInFlight.Inc()
	res, err := w.fetcher.FetchForecast(ctx, name, coords, e.validator())
	observability.FetchesInFlight.Dec()
	if err != nil {
		return w.fail(ctx, err, true)
	}

	now = w.now()
	if res.Status == http.StatusNonAuthoritativeInfo && e.warnDeprecatedOnce() {
		w.logger.Warn("upstream answered 203: this API version is deprecated")
	}
	notBefore := w.policy.AfterSuccess(now, res.Expires)

	if res.NotModified {
		cached, ok := e.Forecast()
		if !ok {
			return w.fail(ctx, errNotModifiedWhileCold, true)
		}
		e.notModified(now, notBefore)
		observability.CacheHitsTotal.WithLabelValues(name).Inc()
		w.publisher.Publish(name, coords, cached)
		w.logger.Debug("forecast not modified", zap.Time("notBefore", notBefore))
		return OutcomeNotModified
	}

	e.fresh(now, res.Forecast, res.Validator, notBefore)
	w.publisher.Publish(name, coords, res.Forecast)
	w.logger.Info("forecast updated",
		zap.Time("forecastTime", res.Forecast.Time),
		zap.Time("notBefore", notBefore),
	)
	return OutcomeFresh
}

// fail records a failed attempt. hold=false leaves notBefore alone so an
// unresolved location is retried on its next tick.
func (w *Worker) fail(ctx context.Context, err error, hold bool) Outcome {
	if ctx.Err() != nil {
		w.logger.Debug("refresh abandoned", zap.Error(err))
		return OutcomeCanceled
	}

	e := w.entry
	now := w.now()
	failures := e.failed(now, err, hold, func(prev time.Time, n int) time.Time {
		return w.policy.AfterFailure(now, prev, n)
	})
	w.publisher.MarkFailed(e.Name())

	category := client.CategorizeError(err)
	observability.FetchErrorsTotal.WithLabelValues(e.Name(), string(category)).Inc()
	w.logger.Warn("refresh failed",
		zap.String("category", string(category)),
		zap.Int("consecutiveFailures", failures),
		zap.Time("notBefore", e.NotBefore()),
		zap.Error(err),
	)
	return OutcomeFailed
}
