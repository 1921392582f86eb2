package valtron

import "fmt"

// ReadyResolver receives each Ready value a task emits, in order.
type ReadyResolver[Ready any] func(Ready)

// StatusMapper rewrites a yielded TaskStatus before it is translated
// into an engine State. Returning ok=false is equivalent to the task
// itself having yielded Pending with no payload.
type StatusMapper[Ready, Pending any] func(TaskStatus[Ready, Pending]) (TaskStatus[Ready, Pending], bool)

// PanicHandler is invoked with the recovered panic value when a task's
// Next call panics. It may be called concurrently from multiple
// workers.
type PanicHandler func(recovered any)

// ExecutionIterator adapts a TaskIterator into the engine-level Runnable
// contract: it catches panics, runs status mappers in order, and
// dispatches Ready values to a resolver.
type ExecutionIterator[Ready, Pending any] struct {
	task     TaskIterator[Ready, Pending]
	resolver ReadyResolver[Ready]
	mappers  []StatusMapper[Ready, Pending]
	onPanic  PanicHandler
}

// Option configures an ExecutionIterator.
type Option[Ready, Pending any] func(*ExecutionIterator[Ready, Pending])

// WithResolver sets the ReadyResolver invoked for every Ready status.
func WithResolver[Ready, Pending any](r ReadyResolver[Ready]) Option[Ready, Pending] {
	return func(e *ExecutionIterator[Ready, Pending]) { e.resolver = r }
}

// WithMapper appends a StatusMapper to the mapper chain.
func WithMapper[Ready, Pending any](m StatusMapper[Ready, Pending]) Option[Ready, Pending] {
	return func(e *ExecutionIterator[Ready, Pending]) { e.mappers = append(e.mappers, m) }
}

// WithPanicHandler sets the handler invoked when the task panics.
func WithPanicHandler[Ready, Pending any](h PanicHandler) Option[Ready, Pending] {
	return func(e *ExecutionIterator[Ready, Pending]) { e.onPanic = h }
}

// NewExecutionIterator wraps task as a Runnable the executors can
// queue directly.
func NewExecutionIterator[Ready, Pending any](task TaskIterator[Ready, Pending], opts ...Option[Ready, Pending]) *ExecutionIterator[Ready, Pending] {
	e := &ExecutionIterator[Ready, Pending]{task: task}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Advance implements Runnable.
func (e *ExecutionIterator[Ready, Pending]) Advance(entry EntryID, engine Engine) (state State) {
	defer func() {
		if r := recover(); r != nil {
			if e.onPanic != nil {
				e.onPanic(r)
			}
			state = State{Kind: StatePaniced, Err: fmt.Errorf("valtron: task panic: %v", r)}
		}
	}()

	status, ok := e.task.Next()
	if !ok {
		return State{Kind: StateDone}
	}

	for _, m := range e.mappers {
		mapped, ok := m(status)
		if !ok {
			status = TaskStatus[Ready, Pending]{Kind: StatusPending}
			continue
		}
		status = mapped
	}

	switch status.Kind {
	case StatusDelayed:
		d := status.Delay
		return State{Kind: StatePending, Sleep: &d}

	case StatusPending, StatusInit:
		return State{Kind: StatePending}

	case StatusSpawn:
		if status.Spawn == nil {
			return State{Kind: StateSpawnFailed, Err: fmt.Errorf("valtron: nil spawn action")}
		}
		if err := status.Spawn.Apply(entry, engine); err != nil {
			return State{Kind: StateSpawnFailed, Err: err}
		}
		return State{Kind: StateSpawnFinished}

	case StatusReady:
		if e.resolver != nil {
			e.resolver(status.Ready)
		}
		return State{Kind: StateProgressed}

	default:
		return State{Kind: StateDone}
	}
}
