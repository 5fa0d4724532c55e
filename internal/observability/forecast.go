package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kjstillabower/weather-exporter/internal/models"
)

var forecastLabels = []string{"location", "latitude", "longitude"}

type forecastGauge struct {
	desc  *prometheus.Desc
	value func(models.Forecast) *float64
}

// locationSeries is the published state of one location. It is replaced as a
// whole, never mutated in place, so Collect always sees a consistent set.
type locationSeries struct {
	hasForecast bool
	coords      models.Coordinates
	forecast    models.Forecast
	success     float64
}

// ForecastCollector exposes the latest forecast of every location as gauges.
// Publish and MarkFailed swap a location's series under a lock that is never
// held across network calls; Collect reads a snapshot, so a scrape observes
// either the old or the new values for a location, never a mix.
type ForecastCollector struct {
	mu        sync.RWMutex
	locations map[string]locationSeries

	gauges        []forecastGauge
	timestampDesc *prometheus.Desc
	successDesc   *prometheus.Desc
}

// NewForecastCollector returns an empty collector.
func NewForecastCollector() *ForecastCollector {
	gauge := func(name, help string, value func(models.Forecast) *float64) forecastGauge {
		return forecastGauge{desc: prometheus.NewDesc(name, help, forecastLabels, nil), value: value}
	}
	return &ForecastCollector{
		locations: make(map[string]locationSeries),
		gauges: []forecastGauge{
			gauge("weather_temperature_celsius", "Temperature in Celsius",
				func(f models.Forecast) *float64 { return f.Temperature }),
			gauge("weather_humidity_percent", "Relative humidity percentage",
				func(f models.Forecast) *float64 { return f.Humidity }),
			gauge("weather_wind_speed_mps", "Wind speed in meters per second",
				func(f models.Forecast) *float64 { return f.WindSpeed }),
			gauge("weather_wind_direction_degrees", "Wind direction in degrees",
				func(f models.Forecast) *float64 { return f.WindDirection }),
			gauge("weather_pressure_hpa", "Air pressure in hectopascals",
				func(f models.Forecast) *float64 { return f.Pressure }),
			gauge("weather_precipitation_mm", "Precipitation in millimeters",
				func(f models.Forecast) *float64 { return f.Precipitation }),
			gauge("weather_cloud_coverage_percent", "Cloud coverage percentage",
				func(f models.Forecast) *float64 { return f.CloudCover }),
			gauge("weather_uv_index", "UV index",
				func(f models.Forecast) *float64 { return f.UVIndex }),
		},
		timestampDesc: prometheus.NewDesc("weather_forecast_timestamp_seconds",
			"Unix time the published forecast values apply to", forecastLabels, nil),
		successDesc: prometheus.NewDesc("weather_fetch_success",
			"Whether the last weather fetch was successful", []string{"location"}, nil),
	}
}

// Publish replaces the forecast series of location and sets its success gauge to 1.
func (c *ForecastCollector) Publish(location string, coords models.Coordinates, f models.Forecast) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.locations[location] = locationSeries{
		hasForecast: true,
		coords:      coords,
		forecast:    f,
		success:     1,
	}
}

// MarkFailed sets the success gauge of location to 0 and leaves any published forecast in place.
func (c *ForecastCollector) MarkFailed(location string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.locations[location]
	s.success = 0
	c.locations[location] = s
}

// Describe implements prometheus.Collector.
func (c *ForecastCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, g := range c.gauges {
		ch <- g.desc
	}
	ch <- c.timestampDesc
	ch <- c.successDesc
}

// Collect implements prometheus.Collector.
func (c *ForecastCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	snapshot := make(map[string]locationSeries, len(c.locations))
	for name, s := range c.locations {
		snapshot[name] = s
	}
	c.mu.RUnlock()

	for name, s := range snapshot {
		ch <- prometheus.MustNewConstMetric(c.successDesc, prometheus.GaugeValue, s.success, name)
		if !s.hasForecast {
			continue
		}
		labels := []string{name, s.coords.LatitudeLabel(), s.coords.LongitudeLabel()}
		for _, g := range c.gauges {
			if v := g.value(s.forecast); v != nil {
				ch <- prometheus.MustNewConstMetric(g.desc, prometheus.GaugeValue, *v, labels...)
			}
		}
		if !s.forecast.Time.IsZero() {
			ch <- prometheus.MustNewConstMetric(c.timestampDesc, prometheus.GaugeValue,
				float64(s.forecast.Time.Unix()), labels...)
		}
	}
}
