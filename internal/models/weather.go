package models

import (
	"strconv"
	"time"
)

// Coordinates is a resolved geographic position in decimal degrees.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// LatitudeLabel formats the latitude the way it appears in metric labels.
func (c Coordinates) LatitudeLabel() string {
	return strconv.FormatFloat(c.Latitude, 'f', -1, 64)
}

// LongitudeLabel formats the longitude the way it appears in metric labels.
func (c Coordinates) LongitudeLabel() string {
	return strconv.FormatFloat(c.Longitude, 'f', -1, 64)
}

// Forecast holds the values published for one location. Nil fields were absent
// from the upstream payload and are not exported.
type Forecast struct {
	Time          time.Time `json:"time"`
	Temperature   *float64  `json:"temperature,omitempty"`   // °C
	Humidity      *float64  `json:"humidity,omitempty"`      // %
	WindSpeed     *float64  `json:"windSpeed,omitempty"`     // m/s
	WindDirection *float64  `json:"windDirection,omitempty"` // degrees
	Pressure      *float64  `json:"pressure,omitempty"`      // hPa at sea level
	Precipitation *float64  `json:"precipitation,omitempty"` // mm, next hour
	CloudCover    *float64  `json:"cloudCover,omitempty"`    // %
	UVIndex       *float64  `json:"uvIndex,omitempty"`
}

// Float returns a pointer to v. Handy for building forecasts in tests and fixtures.
func Float(v float64) *float64 {
	return &v
}
