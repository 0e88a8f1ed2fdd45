// Package connector defines the lifecycle contract shared by the platform
// connectors: a state machine and a bounded exponential backoff for reconnects.
package connector

import (
	"math/rand"
	"time"
)

// State is a connector's lifecycle phase. STOPPED is terminal and reachable
// only by deliberate shutdown or by failing closed on missing credentials.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

const (
	// BackoffFloor keeps a misconfigured or rejected connector out of a tight
	// retry loop.
	BackoffFloor = 2 * time.Second
	BackoffCap   = 2 * time.Minute
)

// Backoff returns the delay before reconnect attempt n (0-based), doubling
// from the floor up to the cap with a little jitter so connectors don't
// thunder together after an outage.
func Backoff(attempt int) time.Duration {
	d := BackoffFloor
	for i := 0; i < attempt && d < BackoffCap; i++ {
		d *= 2
	}
	if d > BackoffCap {
		d = BackoffCap
	}
	//nolint:gosec // G404: math/rand is sufficient for retry jitter, not used for security
	jitter := time.Duration(rand.Int63n(int64(d / 4)))
	return d + jitter
}
