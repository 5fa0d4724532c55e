package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-exporter/internal/models"
	"github.com/kjstillabower/weather-exporter/internal/observability"
)

const (
	DefaultSearchURL   = "https://www.yr.no/api/v0/locations/search"
	DefaultForecastURL = "https://api.met.no/weatherapi/locationforecast/2.0/compact"

	endpointSearch   = "search"
	endpointForecast = "forecast"

	maxBodyBytes = 8 << 20
)

var (
	ErrMissingUserAgent = errors.New("user agent is required")
	ErrResolutionFailed = errors.New("location resolution failed")
	ErrLocationNotFound = errors.New("location not found")
	ErrRateLimited      = errors.New("rate limited")
	ErrForbidden        = errors.New("forbidden")
	ErrUpstreamFailure  = errors.New("upstream failure")
	ErrParse            = errors.New("parse upstream payload")
	ErrTransport        = errors.New("transport error")
	ErrCircuitOpen      = errors.New("circuit breaker open")
)

// Searcher resolves a free-text place name to coordinates.
type Searcher interface {
	SearchLocation(ctx context.Context, name string) (models.Coordinates, error)
}

// Fetcher performs one conditional forecast request.
type Fetcher interface {
	FetchForecast(ctx context.Context, location string, coords models.Coordinates, v Validator) (FetchResult, error)
}

// Validator carries the conditional-request tokens of a previous 200 response.
// Callers store it and hand it back verbatim; only this package reads it.
type Validator struct {
	etag         string
	lastModified string
}

// NewValidator builds a Validator from raw header values.
func NewValidator(etag, lastModified string) Validator {
	return Validator{etag: etag, lastModified: lastModified}
}

// IsZero reports whether the validator carries no token.
func (v Validator) IsZero() bool {
	return v.etag == "" && v.lastModified == ""
}

func (v Validator) apply(h http.Header) {
	if v.etag != "" {
		h.Set("If-None-Match", v.etag)
	}
	if v.lastModified != "" {
		h.Set("If-Modified-Since", v.lastModified)
	}
}

func validatorFromHeader(h http.Header) Validator {
	return Validator{etag: h.Get("ETag"), lastModified: h.Get("Last-Modified")}
}

// FetchResult is the outcome of a forecast request that did not fail.
// When NotModified is true Forecast and Validator are zero and the caller keeps its own.
type FetchResult struct {
	NotModified bool
	Forecast    models.Forecast
	Validator   Validator
	// Expires is the upstream expiry hint; zero when the response carried none.
	Expires time.Time
	Status  int
}

// Options configures a METClient.
type Options struct {
	UserAgent   string
	SearchURL   string
	ForecastURL string
	Timeout     time.Duration
	// Limiter spaces every outbound request; nil disables spacing.
	Limiter    *rate.Limiter
	HTTPClient *http.Client
	Now        func() time.Time
}

// METClient talks to the yr.no location search and the met.no locationforecast API.
type METClient struct {
	searchURL   string
	forecastURL string
	client      *http.Client
	limiter     *rate.Limiter
	breaker     *gobreaker.CircuitBreaker
	now         func() time.Time
}

// NewMETClient validates opts and returns a client. Every request it issues
// carries opts.UserAgent; an empty user agent is rejected here so the
// refresh loop never starts without one.
func NewMETClient(opts Options) (*METClient, error) {
	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		return nil, ErrMissingUserAgent
	}
	if opts.SearchURL == "" {
		opts.SearchURL = DefaultSearchURL
	}
	if opts.ForecastURL == "" {
		opts.ForecastURL = DefaultForecastURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	base := httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	wrapped := *httpClient
	wrapped.Transport = &userAgentTransport{userAgent: ua, base: base}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        endpointSearch,
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrLocationNotFound) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			observability.SetCircuitBreakerState(name, int(to))
		},
	})

	return &METClient{
		searchURL:   opts.SearchURL,
		forecastURL: opts.ForecastURL,
		client:      &wrapped,
		limiter:     opts.Limiter,
		breaker:     breaker,
		now:         opts.Now,
	}, nil
}

// userAgentTransport stamps the identification header on every outbound request.
type userAgentTransport struct {
	userAgent string
	base      http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(r)
}

type searchResponse struct {
	Embedded *struct {
		Location []struct {
			Name     string `json:"name"`
			Position struct {
				Lat float64 `json:"lat"`
				Lon float64 `json:"lon"`
			} `json:"position"`
		} `json:"location"`
	} `json:"_embedded"`
}

// SearchLocation resolves name using the first search match. Every error wraps
// ErrResolutionFailed; zero matches additionally wrap ErrLocationNotFound.
func (c *METClient) SearchLocation(ctx context.Context, name string) (models.Coordinates, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Coordinates{}, fmt.Errorf("%w: empty name", ErrResolutionFailed)
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.search(ctx, name)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}
		return models.Coordinates{}, fmt.Errorf("%w: %q: %w", ErrResolutionFailed, name, err)
	}
	return out.(models.Coordinates), nil
}

func (c *METClient) search(ctx context.Context, name string) (models.Coordinates, error) {
	u, err := url.Parse(c.searchURL)
	if err != nil {
		return models.Coordinates{}, fmt.Errorf("invalid search URL: %w", err)
	}
	q := u.Query()
	q.Set("q", name)
	u.RawQuery = q.Encode()

	resp, err := c.do(ctx, name, endpointSearch, u.String(), Validator{})
	if err != nil {
		return models.Coordinates{}, err
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return models.Coordinates{}, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return models.Coordinates{}, fmt.Errorf("%w: read body: %w", ErrTransport, err)
	}
	var sr searchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return models.Coordinates{}, parseError(resp, body, err)
	}
	if sr.Embedded == nil || len(sr.Embedded.Location) == 0 {
		return models.Coordinates{}, ErrLocationNotFound
	}
	first := sr.Embedded.Location[0]
	return models.Coordinates{Latitude: first.Position.Lat, Longitude: first.Position.Lon}, nil
}

type forecastResponse struct {
	Properties struct {
		Timeseries []timeseriesEntry `json:"timeseries"`
	} `json:"properties"`
}

type timeseriesEntry struct {
	Time time.Time `json:"time"`
	Data struct {
		Instant struct {
			Details struct {
				AirPressureAtSeaLevel    *float64 `json:"air_pressure_at_sea_level"`
				AirTemperature           *float64 `json:"air_temperature"`
				CloudAreaFraction        *float64 `json:"cloud_area_fraction"`
				RelativeHumidity         *float64 `json:"relative_humidity"`
				WindFromDirection        *float64 `json:"wind_from_direction"`
				WindSpeed                *float64 `json:"wind_speed"`
				UltravioletIndexClearSky *float64 `json:"ultraviolet_index_clear_sky"`
			} `json:"details"`
		} `json:"instant"`
		Next1Hours *struct {
			Details struct {
				PrecipitationAmount *float64 `json:"precipitation_amount"`
			} `json:"details"`
		} `json:"next_1_hours"`
	} `json:"data"`
}

// FetchForecast issues one conditional forecast request. A nil error means the
// upstream answered 2xx with a usable body or 304; everything else is an error.
func (c *METClient) FetchForecast(ctx context.Context, location string, coords models.Coordinates, v Validator) (FetchResult, error) {
	u, err := url.Parse(c.forecastURL)
	if err != nil {
		return FetchResult{}, fmt.Errorf("invalid forecast URL: %w", err)
	}
	q := u.Query()
	q.Set("lat", formatCoord(coords.Latitude))
	q.Set("lon", formatCoord(coords.Longitude))
	u.RawQuery = q.Encode()

	resp, err := c.do(ctx, location, endpointForecast, u.String(), v)
	if err != nil {
		return FetchResult{}, err
	}
	defer resp.Body.Close()

	expires := expiresFromHeader(resp.Header)

	if resp.StatusCode == http.StatusNotModified {
		return FetchResult{NotModified: true, Expires: expires, Status: resp.StatusCode}, nil
	}
	if err := classifyStatus(resp.StatusCode); err != nil {
		return FetchResult{}, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return FetchResult{}, fmt.Errorf("%w: read body: %w", ErrTransport, err)
	}
	var fr forecastResponse
	if err := json.Unmarshal(body, &fr); err != nil {
		return FetchResult{}, parseError(resp, body, err)
	}
	entry, ok := closestEntry(fr.Properties.Timeseries, c.now())
	if !ok {
		return FetchResult{}, parseError(resp, body, errors.New("empty timeseries"))
	}

	return FetchResult{
		Forecast:  mapEntry(entry),
		Validator: validatorFromHeader(resp.Header),
		Expires:   expires,
		Status:    resp.StatusCode,
	}, nil
}

func (c *METClient) do(ctx context.Context, location, endpoint, rawURL string, v Validator) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limiter: %w", ErrTransport, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	v.apply(req.Header)

	start := time.Now()
	resp, err := c.client.Do(req)
	duration := time.Since(start).Seconds()
	if err != nil {
		observability.RecordAPICall(location, endpoint, "error", duration)
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	observability.RecordAPICall(location, endpoint, statusLabel(resp.StatusCode), duration)
	return resp, nil
}

// classifyStatus maps non-success statuses to sentinel errors. 304 is handled by the caller.
func classifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	case code == http.StatusForbidden:
		return fmt.Errorf("%w: check User-Agent", ErrForbidden)
	default:
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, code)
	}
}

func parseError(resp *http.Response, body []byte, cause error) error {
	prefix := body
	if len(prefix) > 256 {
		prefix = prefix[:256]
	}
	return fmt.Errorf("%w: status=%d content_type=%q body=%q: %w",
		ErrParse, resp.StatusCode, resp.Header.Get("Content-Type"), prefix, cause)
}

func expiresFromHeader(h http.Header) time.Time {
	raw := h.Get("Expires")
	if raw == "" {
		return time.Time{}
	}
	t, err := http.ParseTime(raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

// closestEntry picks the timeseries entry nearest to now in either direction.
func closestEntry(series []timeseriesEntry, now time.Time) (timeseriesEntry, bool) {
	if len(series) == 0 {
		return timeseriesEntry{}, false
	}
	best := 0
	bestDiff := absDuration(series[0].Time.Sub(now))
	for i := 1; i < len(series); i++ {
		if d := absDuration(series[i].Time.Sub(now)); d < bestDiff {
			best, bestDiff = i, d
		}
	}
	return series[best], true
}

func mapEntry(e timeseriesEntry) models.Forecast {
	d := e.Data.Instant.Details
	f := models.Forecast{
		Time:          e.Time.UTC(),
		Temperature:   d.AirTemperature,
		Humidity:      d.RelativeHumidity,
		WindSpeed:     d.WindSpeed,
		WindDirection: d.WindFromDirection,
		Pressure:      d.AirPressureAtSeaLevel,
		CloudCover:    d.CloudAreaFraction,
		UVIndex:       d.UltravioletIndexClearSky,
	}
	if e.Data.Next1Hours != nil {
		f.Precipitation = e.Data.Next1Hours.Details.PrecipitationAmount
	}
	return f
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// formatCoord rounds to the 4 decimals the forecast API accepts.
func formatCoord(v float64) string {
	return strconv.FormatFloat(math.Round(v*1e4)/1e4, 'f', -1, 64)
}

func statusLabel(statusCode int) string {
	switch {
	case statusCode == http.StatusNotModified:
		return "not_modified"
	case statusCode >= 200 && statusCode < 300:
		return "success"
	case statusCode == http.StatusTooManyRequests:
		return "rate_limited"
	case statusCode >= 400 && statusCode < 500:
		return "client_error"
	case statusCode >= 500:
		return "server_error"
	}
	return "error"
}
