// Package lifecycle holds process-wide readiness and draining flags read by
// the health endpoint.
package lifecycle

import (
	"sync/atomic"
	"time"
)

var (
	shuttingDown atomic.Bool
	ready        atomic.Bool
	startedAt    atomic.Int64
)

func init() {
	startedAt.Store(time.Now().UnixNano())
}

// SetShuttingDown sets the drain flag. Call when SIGTERM/SIGINT is received.
func SetShuttingDown(v bool) {
	shuttingDown.Store(v)
}

func IsShuttingDown() bool {
	return shuttingDown.Load()
}

// MarkReady flags the process as ready once stores are loaded and the first
// refresh has run (or the ready delay elapsed).
func MarkReady() {
	ready.Store(true)
}

func IsReady() bool {
	return ready.Load()
}

// Uptime is the time since the package was initialised.
func Uptime() time.Duration {
	return time.Since(time.Unix(0, startedAt.Load()))
}

// Reset clears both flags. For tests only.
func Reset() {
	shuttingDown.Store(false)
	ready.Store(false)
}
