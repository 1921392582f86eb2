// Package retry implements the reconnecting-stream half of simplehttp:
// an exponential backoff decider and a resumable connect/reconnect
// iterator built on it.
package retry

import (
	"time"

	"github.com/searchktools/valtron/valtron"
)

// Backoff is the network layer's name for valtron.Decider: the
// executor's idle-manager backoff and the HTTP reconnect backoff share
// one implementation (see valtron.Decider's doc comment) so this
// package never needs its own RNG/jitter math.
type Backoff = valtron.Decider

// RetryState is the network layer's name for valtron.RetryState.
type RetryState = valtron.RetryState

// NewBackoff builds a Backoff. jitter is a fraction in [0,1]; maxRetries
// is the total number of attempts the decider grants before reporting
// exhaustion; rngSeed fixes the jitter sequence for deterministic
// tests.
func NewBackoff(factor, jitter float64, min, max time.Duration, maxRetries uint64, rngSeed int64) *Backoff {
	return valtron.NewDecider(factor, jitter, min, max, maxRetries, rngSeed)
}
