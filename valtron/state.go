package valtron

import "time"

// StateKind is the engine-level outcome of advancing one Runnable by
// one tick.
type StateKind int

const (
	StatePending StateKind = iota
	StateReschedule
	StateProgressed
	StateSpawnFinished
	StateSpawnFailed
	StatePaniced
	StateDone
)

// State is returned by Runnable.Advance.
type State struct {
	Kind  StateKind
	Sleep *time.Duration
	Err   error
}

// PriorityOrder governs which end of a worker's local deque is
// consulted first when the worker has no current task: Top picks the
// most recently lifted task first, Bottom drains the deque in the
// order tasks were scheduled.
type PriorityOrder int

const (
	PriorityTop PriorityOrder = iota
	PriorityBottom
)

// Runnable is the type-erased form of an ExecutionIterator that the
// executors actually queue and advance. User code never implements
// Runnable directly - it comes from wrapping a TaskIterator with
// NewExecutionIterator.
type Runnable interface {
	Advance(entry EntryID, engine Engine) State
}

// Engine is the interface a running task's ExecutionAction uses to
// insert newly spawned tasks. Both Single and Multi implement it.
type Engine interface {
	// Lift inserts r at the front of the local queue: it runs next,
	// but never preempts the task currently executing.
	Lift(r Runnable)
	// Schedule inserts r at the back of the local queue.
	Schedule(r Runnable)
	// Broadcast inserts r into the global, cross-worker queue.
	Broadcast(r Runnable)
}
