package valtron

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// RetryState tracks how many attempts a retrying operation has made and
// how long it should wait before the attempt numbered Attempt.
type RetryState struct {
	Attempt      uint64
	TotalAllowed uint64
	Wait         *time.Duration
}

// Decider is an exponential-backoff retry policy. It is deliberately
// decoupled from networking: IdleMan/SleepyMan reuse the exact same
// decider that the HTTP reconnect layer uses, so both share one
// implementation of "how long do we wait before attempt N".
type Decider struct {
	Factor       float64
	Jitter       float64 // in [0, 1]
	Min          time.Duration
	Max          time.Duration // zero means unbounded
	TotalAllowed uint64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewDecider builds a Decider. rngSeed makes the jitter deterministic,
// which is required for the decider's testable "given a seeded RNG"
// contract.
func NewDecider(factor, jitter float64, min, max time.Duration, totalAllowed uint64, rngSeed int64) *Decider {
	return &Decider{
		Factor:       factor,
		Jitter:       jitter,
		Min:          min,
		Max:          max,
		TotalAllowed: totalAllowed,
		rng:          rand.New(rand.NewSource(rngSeed)),
	}
}

// Next computes the RetryState for the attempt following state. The
// second return value is false once no further retry is permitted.
func (d *Decider) Next(state RetryState) (RetryState, bool) {
	if state.Attempt >= d.TotalAllowed {
		return RetryState{}, false
	}

	base := float64(d.Min) * math.Pow(d.Factor, float64(state.Attempt))
	if d.Max > 0 && base > float64(d.Max) {
		base = float64(d.Max)
	}

	factor := 1.0
	if d.Jitter > 0 {
		d.mu.Lock()
		r := d.rng.Float64()*2 - 1 // in [-1, 1]
		d.mu.Unlock()
		factor = 1 + d.Jitter*r
	}

	wait := time.Duration(base * factor)
	if wait < 0 {
		wait = 0
	}

	return RetryState{
		Attempt:      state.Attempt + 1,
		TotalAllowed: d.TotalAllowed,
		Wait:         &wait,
	}, true
}
