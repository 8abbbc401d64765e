package realtime

import (
	"math/rand"
	"time"
)

// Defaults for the reconnect backoff policy.
const (
	DefaultBackoffBase   = 500 * time.Millisecond
	DefaultBackoffCap    = 30 * time.Second
	DefaultBackoffJitter = 250 * time.Millisecond
)

// Backoff computes reconnect delays: exponential growth from Base, capped
// at Cap, with up to Jitter of additive random noise so a fleet of clients
// does not reconnect in lockstep. The zero value uses the defaults,
// including DefaultBackoffJitter; set Jitter negative to disable jitter
// (deterministic delays, mainly for tests).
type Backoff struct {
	Base   time.Duration
	Cap    time.Duration
	Jitter time.Duration
}

// Delay returns the wait before reconnect attempt number retry (0-based).
// Ignoring jitter, the sequence is non-decreasing and bounded by Cap.
func (b Backoff) Delay(retry int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = DefaultBackoffBase
	}
	cap := b.Cap
	if cap <= 0 {
		cap = DefaultBackoffCap
	}

	d := base
	for i := 0; i < retry; i++ {
		d *= 2
		if d >= cap || d <= 0 { // d <= 0 guards shift overflow
			d = cap
			break
		}
	}
	if d > cap {
		d = cap
	}

	jitter := b.Jitter
	if jitter == 0 {
		jitter = DefaultBackoffJitter
	}
	if jitter > 0 {
		d += time.Duration(rand.Int63n(int64(jitter)))
	}
	return d
}
