package valtron

import "time"

// StatusKind identifies which variant a TaskStatus holds.
type StatusKind int

const (
	StatusInit StatusKind = iota
	StatusPending
	StatusDelayed
	StatusSpawn
	StatusReady
)

// TaskStatus is the value a TaskIterator yields on every Next call.
// Ready and Pending are the task's own result/progress payload types;
// Spawn carries an ExecutionAction for the engine to apply.
type TaskStatus[Ready, Pending any] struct {
	Kind    StatusKind
	Pending Pending
	Delay   time.Duration
	Spawn   ExecutionAction
	Ready   Ready
}

// Init returns a TaskStatus in the Init state.
func Init[Ready, Pending any]() TaskStatus[Ready, Pending] {
	return TaskStatus[Ready, Pending]{Kind: StatusInit}
}

// PendingStatus returns a TaskStatus carrying a Pending payload.
func PendingStatus[Ready, Pending any](p Pending) TaskStatus[Ready, Pending] {
	return TaskStatus[Ready, Pending]{Kind: StatusPending, Pending: p}
}

// DelayedStatus returns a TaskStatus asking the engine to wait d before
// polling the task again.
func DelayedStatus[Ready, Pending any](d time.Duration) TaskStatus[Ready, Pending] {
	return TaskStatus[Ready, Pending]{Kind: StatusDelayed, Delay: d}
}

// SpawnStatus returns a TaskStatus asking the engine to apply action.
func SpawnStatus[Ready, Pending any](action ExecutionAction) TaskStatus[Ready, Pending] {
	return TaskStatus[Ready, Pending]{Kind: StatusSpawn, Spawn: action}
}

// ReadyStatus returns a TaskStatus carrying a final/interim result. A
// task may yield Ready more than once before it finally returns false
// from Next - Ready does not imply termination.
func ReadyStatus[Ready, Pending any](v Ready) TaskStatus[Ready, Pending] {
	return TaskStatus[Ready, Pending]{Kind: StatusReady, Ready: v}
}

// TaskIterator is the contract every valtron task implements. Next
// returns the task's next status; a false second return value is
// terminal - the task will not be polled again.
type TaskIterator[Ready, Pending any] interface {
	Next() (TaskStatus[Ready, Pending], bool)
}

// EntryID is an opaque identifier for the task currently being
// advanced, passed to ExecutionAction.Apply so a spawn action can
// correlate the new task with its spawner without the engine exposing
// task internals.
type EntryID uint64

// ExecutionAction is produced by a task's Spawn status. Apply is
// invoked by the engine with the spawning task's entry and the engine
// itself, and is expected to insert the new task via Lift, Schedule or
// Broadcast per its own configured policy.
type ExecutionAction interface {
	Apply(entry EntryID, engine Engine) error
}

// ExecutionActionFunc adapts a plain function to ExecutionAction.
type ExecutionActionFunc func(entry EntryID, engine Engine) error

func (f ExecutionActionFunc) Apply(entry EntryID, engine Engine) error {
	return f(entry, engine)
}
