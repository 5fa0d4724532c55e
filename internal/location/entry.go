// Package location holds the per-location fetch-and-cache engine: one Entry
// per configured place, a Worker that decides whether to hit the upstream on
// each tick, and the policy that computes when the next request may happen.
package location

import (
	"sync"
	"time"

	"github.com/kjstillabower/weather-exporter/internal/client"
	"github.com/kjstillabower/weather-exporter/internal/models"
)

// State is the lifecycle stage of an Entry.
type State int

const (
	// StateUnresolved: coordinates are not known yet.
	StateUnresolved State = iota
	// StateCold: coordinates are known but no forecast was ever received.
	StateCold
	// StateWarm: a forecast and its validator are cached.
	StateWarm
)

func (s State) String() string {
	switch s {
	case StateUnresolved:
		return "unresolved"
	case StateCold:
		return "cold"
	case StateWarm:
		return "warm"
	}
	return "unknown"
}

// StateNames lists every State label, used to zero the inactive state series.
var StateNames = []string{StateUnresolved.String(), StateCold.String(), StateWarm.String()}

// entryState is sealed: only the three types below implement it, so a
// validator or forecast can never exist without coordinates.
type entryState interface {
	state() State
}

type unresolved struct{}

type cold struct {
	coords models.Coordinates
}

type warm struct {
	coords    models.Coordinates
	forecast  models.Forecast
	validator client.Validator
}

func (unresolved) state() State { return StateUnresolved }
func (cold) state() State       { return StateCold }
func (warm) state() State       { return StateWarm }

// Entry is the cached state of one location.
type Entry struct {
	name string

	// fetch serializes refreshes; held across network calls.
	fetch sync.Mutex

	// mu guards the fields below for concurrent readers such as /status.
	// It is never held across network calls.
	mu                  sync.RWMutex
	st                  entryState
	notBefore           time.Time
	consecutiveFailures int
	lastFetchSucceeded  bool
	lastAttempt         time.Time
	lastSuccess         time.Time
	lastError           string
	warnedDeprecated    bool
}

// NewEntry returns an unresolved entry eligible immediately.
func NewEntry(name string) *Entry {
	return &Entry{name: name, st: unresolved{}}
}

// Name returns the location name the entry is keyed by.
func (e *Entry) Name() string { return e.name }

// State returns the current lifecycle stage.
func (e *Entry) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.st.state()
}

// NotBefore returns the earliest instant the next upstream request may be issued.
func (e *Entry) NotBefore() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.notBefore
}

// ConsecutiveFailures returns the number of failed refreshes since the last success.
func (e *Entry) ConsecutiveFailures() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.consecutiveFailures
}

// LastFetchSucceeded reports whether the latest refresh attempt succeeded.
func (e *Entry) LastFetchSucceeded() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastFetchSucceeded
}

// Forecast returns the last good forecast, if any.
func (e *Entry) Forecast() (models.Forecast, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if w, ok := e.st.(warm); ok {
		return w.forecast, true
	}
	return models.Forecast{}, false
}

// coords returns the resolved coordinates, if any.
func (e *Entry) coords() (models.Coordinates, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	switch s := e.st.(type) {
	case cold:
		return s.coords, true
	case warm:
		return s.coords, true
	}
	return models.Coordinates{}, false
}

// validator returns the conditional-request tokens of the last fresh response.
func (e *Entry) validator() client.Validator {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if w, ok := e.st.(warm); ok {
		return w.validator
	}
	return client.Validator{}
}

// eligible reports whether an upstream request may be issued at now.
func (e *Entry) eligible(now time.Time) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !now.Before(e.notBefore)
}

// resolve moves Unresolved to Cold. Resolved entries keep their coordinates.
func (e *Entry) resolve(coords models.Coordinates) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.st.(unresolved); ok {
		e.st = cold{coords: coords}
	}
}

// fresh records a 200 answer. Cold and Warm both become Warm.
func (e *Entry) fresh(now time.Time, f models.Forecast, v client.Validator, notBefore time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var coords models.Coordinates
	switch s := e.st.(type) {
	case cold:
		coords = s.coords
	case warm:
		coords = s.coords
	default:
		return
	}
	e.st = warm{coords: coords, forecast: f, validator: v}
	e.notBefore = notBefore
	e.succeeded(now)
}

// notModified records a 304 answer; the cached forecast and validator stay.
func (e *Entry) notModified(now time.Time, notBefore time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notBefore = notBefore
	e.succeeded(now)
}

func (e *Entry) succeeded(now time.Time) {
	e.consecutiveFailures = 0
	e.lastFetchSucceeded = true
	e.lastAttempt = now
	e.lastSuccess = now
	e.lastError = ""
}

// failed records a failed attempt and returns the new failure count. When
// hold is false notBefore is left unchanged so the next tick retries.
func (e *Entry) failed(now time.Time, err error, hold bool, next func(prev time.Time, failures int) time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.consecutiveFailures++
	e.lastFetchSucceeded = false
	e.lastAttempt = now
	e.lastError = err.Error()
	if hold {
		e.notBefore = next(e.notBefore, e.consecutiveFailures)
	}
	return e.consecutiveFailures
}

// warnDeprecatedOnce reports true the first time it is called for the entry.
func (e *Entry) warnDeprecatedOnce() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.warnedDeprecated {
		return false
	}
	e.warnedDeprecated = true
	return true
}

// Snapshot is a point-in-time copy of an Entry for the status endpoint.
type Snapshot struct {
	Name                string           `json:"name"`
	State               string           `json:"state"`
	Latitude            *float64         `json:"latitude,omitempty"`
	Longitude           *float64         `json:"longitude,omitempty"`
	NotBefore           time.Time        `json:"notBefore"`
	ConsecutiveFailures int              `json:"consecutiveFailures"`
	LastFetchSucceeded  bool             `json:"lastFetchSucceeded"`
	LastAttempt         *time.Time       `json:"lastAttempt,omitempty"`
	LastSuccess         *time.Time       `json:"lastSuccess,omitempty"`
	LastError           string           `json:"lastError,omitempty"`
	Forecast            *models.Forecast `json:"forecast,omitempty"`
}

// Snapshot copies the entry under its read lock.
func (e *Entry) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := Snapshot{
		Name:                e.name,
		State:               e.st.state().String(),
		NotBefore:           e.notBefore,
		ConsecutiveFailures: e.consecutiveFailures,
		LastFetchSucceeded:  e.lastFetchSucceeded,
		LastError:           e.lastError,
	}
	switch st := e.st.(type) {
	case cold:
		s.Latitude, s.Longitude = models.Float(st.coords.Latitude), models.Float(st.coords.Longitude)
	case warm:
		s.Latitude, s.Longitude = models.Float(st.coords.Latitude), models.Float(st.coords.Longitude)
		f := st.forecast
		s.Forecast = &f
	}
	if !e.lastAttempt.IsZero() {
		t := e.lastAttempt
		s.LastAttempt = &t
	}
	if !e.lastSuccess.IsZero() {
		t := e.lastSuccess
		s.LastSuccess = &t
	}
	return s
}
