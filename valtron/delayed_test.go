package valtron

import (
	"testing"
	"time"
)

func TestSleepIteratorPendingThenDone(t *testing.T) {
	base := time.Unix(0, 0)
	now := base
	clock := func() time.Time { return now }

	it := NewSleepIterator(base, 10*time.Millisecond, "payload").WithClock(clock)

	d, ok := it.Poll()
	if !ok {
		t.Fatalf("expected a value before the duration elapses")
	}
	if d.Kind != DelayedPending {
		t.Fatalf("expected DelayedPending, got %v", d.Kind)
	}
	if d.Remaining != 10*time.Millisecond {
		t.Fatalf("expected 10ms remaining, got %v", d.Remaining)
	}

	now = base.Add(10 * time.Millisecond)
	d, ok = it.Poll()
	if !ok {
		t.Fatalf("expected a final value once the duration elapses")
	}
	if d.Kind != DelayedDone {
		t.Fatalf("expected DelayedDone, got %v", d.Kind)
	}
	if d.Payload != "payload" {
		t.Fatalf("expected payload to be carried through, got %q", d.Payload)
	}

	if _, ok := it.Poll(); ok {
		t.Fatalf("expected no further values after emitting Done")
	}
}

func TestSleepIteratorImmediatelyDone(t *testing.T) {
	base := time.Unix(0, 0)
	it := NewSleepIterator(base, 0, 42).WithClock(func() time.Time { return base })

	d, ok := it.Poll()
	if !ok || d.Kind != DelayedDone {
		t.Fatalf("expected immediate DelayedDone, got %+v, %v", d, ok)
	}
}
