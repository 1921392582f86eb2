package valtron

import "time"

// DelayedKind identifies which variant a Delayed value holds.
type DelayedKind int

const (
	// DelayedPending means the wait has not yet elapsed.
	DelayedPending DelayedKind = iota
	// DelayedDone means the wait elapsed and the payload was emitted.
	DelayedDone
)

// Delayed is the uniform representation of a time-bounded wait that can
// be polled without blocking. Once a SleepIterator yields DelayedDone,
// every subsequent poll reports no further items.
type Delayed[T any] struct {
	Kind      DelayedKind
	Start     time.Time
	Total     time.Duration
	Remaining time.Duration
	Payload   T
}

// Clock returns the current time. Tests substitute a fake clock so
// SleepIterator behavior is deterministic.
type Clock func() time.Time

// SleepIterator is a non-blocking, single-shot delayed emitter: it never
// sleeps itself, it only reports how much time remains.
type SleepIterator[T any] struct {
	start    time.Time
	duration time.Duration
	payload  T
	emitted  bool
	clock    Clock
}

// NewSleepIterator constructs a SleepIterator that will emit payload once
// duration has elapsed since start.
func NewSleepIterator[T any](start time.Time, duration time.Duration, payload T) *SleepIterator[T] {
	return &SleepIterator[T]{start: start, duration: duration, payload: payload, clock: time.Now}
}

// WithClock overrides the clock used to evaluate elapsed time, for tests.
func (s *SleepIterator[T]) WithClock(c Clock) *SleepIterator[T] {
	s.clock = c
	return s
}

// Poll advances the iterator. The second return value is false once the
// payload has already been emitted by a prior call.
func (s *SleepIterator[T]) Poll() (Delayed[T], bool) {
	if s.emitted {
		var zero Delayed[T]
		return zero, false
	}

	now := s.clock()
	end := s.start.Add(s.duration)
	if !now.Before(end) {
		s.emitted = true
		return Delayed[T]{Kind: DelayedDone, Payload: s.payload}, true
	}

	return Delayed[T]{
		Kind:      DelayedPending,
		Start:     s.start,
		Total:     s.duration,
		Remaining: end.Sub(now),
	}, true
}
