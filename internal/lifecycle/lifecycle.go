// Package lifecycle holds process-wide shutdown state shared by the HTTP
// surface and the refresh scheduler.
package lifecycle

import (
	"context"
	"sync/atomic"
	"time"
)

var shuttingDown atomic.Bool

// SetShuttingDown sets the shutdown flag. Call when SIGTERM/SIGINT is received.
// The health handler answers 503 while it is set.
func SetShuttingDown(v bool) {
	shuttingDown.Store(v)
}

// IsShuttingDown reports whether the process is draining.
func IsShuttingDown() bool {
	return shuttingDown.Load()
}

// InFlightTracker counts units of work that shutdown should wait for:
// HTTP requests in the middleware, location refreshes in the scheduler.
type InFlightTracker struct {
	count atomic.Int64
}

// Begin adds one to the in-flight count.
func (t *InFlightTracker) Begin() {
	t.count.Add(1)
}

// End subtracts one from the in-flight count.
func (t *InFlightTracker) End() {
	t.count.Add(-1)
}

// Count returns the current in-flight count.
func (t *InFlightTracker) Count() int64 {
	return t.count.Load()
}

// WaitForZero blocks until the count reaches zero or ctx is done.
// checkInterval is how often the count is re-checked.
func (t *InFlightTracker) WaitForZero(ctx context.Context, checkInterval time.Duration) error {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()
	for {
		if t.Count() <= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
