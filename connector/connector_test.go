package connector

import (
	"testing"
)

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateDisconnected: "disconnected",
		StateConnecting:   "connecting",
		StateConnected:    "connected",
		StateReconnecting: "reconnecting",
		StateStopped:      "stopped",
		State(99):         "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}

func TestBackoffBounds(t *testing.T) {
	for attempt := 0; attempt < 20; attempt++ {
		d := Backoff(attempt)
		if d < BackoffFloor {
			t.Fatalf("attempt %d: %v below floor %v", attempt, d, BackoffFloor)
		}
		// Jitter adds up to a quarter of the base delay on top of the cap.
		if d > BackoffCap+BackoffCap/4 {
			t.Fatalf("attempt %d: %v above cap+jitter", attempt, d)
		}
	}
}

func TestBackoffGrows(t *testing.T) {
	// Strip jitter by comparing lower bounds: the base doubles per attempt
	// until the cap, so attempt n's delay is at least floor*2^n (pre-cap).
	base := BackoffFloor
	for attempt := 0; attempt < 7; attempt++ {
		d := Backoff(attempt)
		if d < base {
			t.Fatalf("attempt %d: %v below expected base %v", attempt, d, base)
		}
		if base < BackoffCap {
			base *= 2
		}
		if base > BackoffCap {
			base = BackoffCap
		}
	}
}

func TestBackoffCapReached(t *testing.T) {
	// Well past the doubling range, the base must sit exactly at the cap.
	d := Backoff(30)
	if d < BackoffCap {
		t.Fatalf("Backoff(30) = %v, want at least the cap %v", d, BackoffCap)
	}
	if d > BackoffCap+BackoffCap/4 {
		t.Fatalf("Backoff(30) = %v, jitter exceeds a quarter of the cap", d)
	}
}
