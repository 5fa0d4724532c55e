// Package testhelpers provides a fake yr.no search and met.no forecast upstream
// for tests across packages.
package testhelpers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"
)

// Point is one timeseries entry rendered by ForecastJSON.
type Point struct {
	Time          time.Time
	Temperature   float64
	Humidity      float64
	WindSpeed     float64
	WindDirection float64
	Pressure      float64
	CloudCover    float64
	UVIndex       float64
	Precipitation float64
}

// ForecastJSON renders points as a locationforecast 2.0 compact payload.
func ForecastJSON(points ...Point) string {
	type details map[string]float64
	series := make([]map[string]interface{}, 0, len(points))
	for _, p := range points {
		series = append(series, map[string]interface{}{
			"time": p.Time.UTC().Format(time.RFC3339),
			"data": map[string]interface{}{
				"instant": map[string]interface{}{
					"details": details{
						"air_pressure_at_sea_level":   p.Pressure,
						"air_temperature":             p.Temperature,
						"cloud_area_fraction":         p.CloudCover,
						"relative_humidity":           p.Humidity,
						"wind_from_direction":         p.WindDirection,
						"wind_speed":                  p.WindSpeed,
						"ultraviolet_index_clear_sky": p.UVIndex,
					},
				},
				"next_1_hours": map[string]interface{}{
					"details": details{"precipitation_amount": p.Precipitation},
				},
			},
		})
	}
	raw, _ := json.Marshal(map[string]interface{}{
		"type": "Feature",
		"properties": map[string]interface{}{
			"timeseries": series,
		},
	})
	return string(raw)
}

// SearchJSON renders a location search answer with a single match.
func SearchJSON(name string, lat, lon float64) string {
	raw, _ := json.Marshal(map[string]interface{}{
		"_embedded": map[string]interface{}{
			"location": []map[string]interface{}{
				{
					"name":     name,
					"position": map[string]float64{"lat": lat, "lon": lon},
				},
			},
		},
	})
	return string(raw)
}

type place struct {
	lat, lon float64
}

// Upstream is a fake search + forecast server. The forecast endpoint honours
// If-None-Match against the configured ETag and answers 304 when it matches.
type Upstream struct {
	Server *httptest.Server

	mu               sync.Mutex
	places           map[string]place
	forecasts        map[string]string
	defaultForecast  string
	etag             string
	lastModified     string
	expires          time.Time
	forecastStatus   int
	forecastTransErr bool
	forecastDelay    time.Duration
	searchStatus     int
	searchCalls      map[string]int
	forecastCalls    map[string]int
	userAgents       []string
	lastHeaders      http.Header
}

// NewUpstream starts a fake upstream and closes it when the test ends.
func NewUpstream(t testing.TB) *Upstream {
	t.Helper()
	u := &Upstream{
		places:        make(map[string]place),
		forecasts:     make(map[string]string),
		searchCalls:   make(map[string]int),
		forecastCalls: make(map[string]int),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/search", u.handleSearch)
	mux.HandleFunc("/forecast", u.handleForecast)
	u.Server = httptest.NewServer(mux)
	t.Cleanup(u.Server.Close)
	return u
}

// SearchURL is the search endpoint of the fake.
func (u *Upstream) SearchURL() string { return u.Server.URL + "/search" }

// ForecastURL is the forecast endpoint of the fake.
func (u *Upstream) ForecastURL() string { return u.Server.URL + "/forecast" }

// AddPlace makes name resolvable to lat/lon.
func (u *Upstream) AddPlace(name string, lat, lon float64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.places[name] = place{lat: lat, lon: lon}
}

// SetForecast sets the body served for every coordinate without a specific body.
func (u *Upstream) SetForecast(body string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.defaultForecast = body
}

// SetForecastFor sets the body served for lat/lon (as rounded by the client).
func (u *Upstream) SetForecastFor(lat, lon float64, body string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.forecasts[coordKey(formatFloat(lat), formatFloat(lon))] = body
}

// SetValidators sets the ETag and Last-Modified sent with 200 responses.
func (u *Upstream) SetValidators(etag, lastModified string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.etag = etag
	u.lastModified = lastModified
}

// SetExpires sets the Expires header; zero omits it.
func (u *Upstream) SetExpires(t time.Time) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.expires = t
}

// SetForecastStatus forces a status code on the forecast endpoint; 0 restores normal answers.
func (u *Upstream) SetForecastStatus(code int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.forecastStatus = code
}

// SetForecastTransportError makes the forecast endpoint drop the connection.
func (u *Upstream) SetForecastTransportError(v bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.forecastTransErr = v
}

// SetForecastDelay delays every forecast answer.
func (u *Upstream) SetForecastDelay(d time.Duration) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.forecastDelay = d
}

// SetSearchStatus forces a status code on the search endpoint; 0 restores normal answers.
func (u *Upstream) SetSearchStatus(code int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.searchStatus = code
}

// SearchCalls returns how often name was searched.
func (u *Upstream) SearchCalls(name string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.searchCalls[name]
}

// ForecastCalls returns how often lat/lon was fetched.
func (u *Upstream) ForecastCalls(lat, lon float64) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.forecastCalls[coordKey(formatFloat(lat), formatFloat(lon))]
}

// TotalForecastCalls returns the number of forecast requests across all coordinates.
func (u *Upstream) TotalForecastCalls() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	n := 0
	for _, c := range u.forecastCalls {
		n += c
	}
	return n
}

// UserAgents returns the User-Agent of every request received so far.
func (u *Upstream) UserAgents() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.userAgents...)
}

// LastHeaders returns the headers of the most recent forecast request.
func (u *Upstream) LastHeaders() http.Header {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.lastHeaders.Clone()
}

func (u *Upstream) handleSearch(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("q")
	u.mu.Lock()
	u.searchCalls[name]++
	u.userAgents = append(u.userAgents, r.Header.Get("User-Agent"))
	status := u.searchStatus
	p, ok := u.places[name]
	u.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if !ok {
		_, _ = w.Write([]byte(`{"totalResults":0,"_embedded":{"location":[]}}`))
		return
	}
	_, _ = w.Write([]byte(SearchJSON(name, p.lat, p.lon)))
}

func (u *Upstream) handleForecast(w http.ResponseWriter, r *http.Request) {
	key := coordKey(r.URL.Query().Get("lat"), r.URL.Query().Get("lon"))
	u.mu.Lock()
	u.forecastCalls[key]++
	u.userAgents = append(u.userAgents, r.Header.Get("User-Agent"))
	u.lastHeaders = r.Header.Clone()
	status := u.forecastStatus
	transErr := u.forecastTransErr
	delay := u.forecastDelay
	etag, lastModified, expires := u.etag, u.lastModified, u.expires
	body, ok := u.forecasts[key]
	if !ok {
		body = u.defaultForecast
	}
	u.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	if transErr {
		if hj, ok := w.(http.Hijacker); ok {
			conn, _, err := hj.Hijack()
			if err == nil {
				_ = conn.Close()
				return
			}
		}
		w.WriteHeader(http.StatusBadGateway)
		return
	}
	if status != 0 {
		w.WriteHeader(status)
		return
	}
	if !expires.IsZero() {
		w.Header().Set("Expires", expires.UTC().Format(http.TimeFormat))
	}
	if etag != "" && r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	if etag != "" {
		w.Header().Set("ETag", etag)
	}
	if lastModified != "" {
		w.Header().Set("Last-Modified", lastModified)
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}

func coordKey(lat, lon string) string {
	return lat + "," + lon
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
