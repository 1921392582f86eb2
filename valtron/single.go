package valtron

import (
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// ProcessController abstracts "yield this OS thread" - a no-op in
// constrained environments with no threads to yield.
type ProcessController interface {
	Yield()
}

// NoopController never yields; it is the default controller.
type NoopController struct{}

func (NoopController) Yield() {}

type parkedTask struct {
	r   Runnable
	due time.Time
}

// Progress is returned by RunOnce; callers decide whether to sleep for
// the indicated duration before calling RunOnce again.
type Progress struct {
	Sleep     *time.Duration
	Advanced  bool
	LastState State
}

// Single is a single-threaded executor: a local deque of runnables, a
// global FIFO shared with external senders (and, under Multi, sibling
// workers), idle/backoff sleep management, and cooperative
// cancellation.
type Single struct {
	mu      sync.Mutex
	local   []Runnable
	parked  []parkedTask
	current Runnable

	global *Channel[Runnable]
	idle   *IdleMan
	order  PriorityOrder
	ctrl   ProcessController

	cancelled atomic.Bool
	entrySeq  atomic.Uint64

	// steal is consulted when both the local deque and global queue are
	// empty, before falling back to IdleMan. Multi wires this to attempt
	// work-stealing from sibling workers; plain single-threaded mode
	// leaves it nil.
	steal func() (Runnable, bool)
}

// SingleConfig configures a Single executor.
type SingleConfig struct {
	Global    *Channel[Runnable] // defaults to a fresh unbounded channel
	Idle      *IdleMan           // defaults to a conservative IdleMan
	Order     PriorityOrder
	Ctrl      ProcessController // defaults to NoopController
}

// NewSingle creates a Single executor.
func NewSingle(cfg SingleConfig) *Single {
	if cfg.Global == nil {
		cfg.Global = NewUnbounded[Runnable]()
	}
	if cfg.Idle == nil {
		cfg.Idle = NewIdleMan(32, time.Millisecond, NewDecider(2, 0.1, time.Millisecond, 250*time.Millisecond, 10, 1))
	}
	if cfg.Ctrl == nil {
		cfg.Ctrl = NoopController{}
	}
	return &Single{
		global: cfg.Global,
		idle:   cfg.Idle,
		order:  cfg.Order,
		ctrl:   cfg.Ctrl,
	}
}

// Lift implements Engine: insert at the front of the local deque.
func (s *Single) Lift(r Runnable) {
	s.mu.Lock()
	s.local = append([]Runnable{r}, s.local...)
	s.mu.Unlock()
}

// Schedule implements Engine: insert at the back of the local deque.
func (s *Single) Schedule(r Runnable) {
	s.mu.Lock()
	s.local = append(s.local, r)
	s.mu.Unlock()
}

// Broadcast implements Engine: push onto the global cross-worker queue.
func (s *Single) Broadcast(r Runnable) {
	_ = s.global.ForceSendOrSend(r)
}

// ForceSendOrSend is a small helper: the global queue is unbounded by
// default, so Send never fails with ErrChannelFull in that
// configuration, but callers that did configure a bounded global queue
// still want broadcast to make progress rather than silently drop.
func (c *Channel[T]) ForceSendOrSend(v T) error {
	if err := c.Send(v); err == nil {
		return nil
	}
	_, err := c.ForceSend(v)
	return err
}

func (s *Single) requeueDue(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.parked) == 0 {
		return
	}
	remaining := s.parked[:0]
	for _, p := range s.parked {
		if !now.Before(p.due) {
			s.local = append(s.local, p.r)
		} else {
			remaining = append(remaining, p)
		}
	}
	s.parked = remaining
}

func (s *Single) popLocal() (Runnable, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.local) == 0 {
		return nil, false
	}
	var r Runnable
	if s.order == PriorityTop {
		r = s.local[0]
		s.local = s.local[1:]
	} else {
		r = s.local[len(s.local)-1]
		s.local = s.local[:len(s.local)-1]
	}
	return r, true
}

func (s *Single) park(r Runnable, d time.Duration) {
	s.mu.Lock()
	s.parked = append(s.parked, parkedTask{r: r, due: time.Now().Add(d)})
	s.mu.Unlock()
}

// Cancel requests cooperative shutdown: RunUntil/RunOnce stop picking
// up new work once the current tick completes.
func (s *Single) Cancel() {
	s.cancelled.Store(true)
	s.global.Close()
}

func (s *Single) nextEntry() EntryID {
	return EntryID(s.entrySeq.Add(1))
}

// RunOnce performs at most one task advancement.
func (s *Single) RunOnce() Progress {
	s.requeueDue(time.Now())

	if s.current == nil && !s.cancelled.Load() {
		if r, ok := s.popLocal(); ok {
			s.current = r
		} else if r, err := s.global.Recv(); err == nil {
			s.current = r
		} else if s.steal != nil {
			if r, ok := s.steal(); ok {
				s.current = r
			}
		}
	}

	if s.current == nil {
		sleep := s.idle.Increment()
		return Progress{Sleep: &sleep}
	}

	task := s.current
	state := task.Advance(s.nextEntry(), s)

	switch state.Kind {
	case StateDone:
		s.current = nil
		s.idle.Reset()

	case StateProgressed, StateSpawnFinished:
		s.idle.Reset()
		// current stays assigned: it runs again next tick.

	case StateSpawnFailed:
		log.Printf("valtron: spawn failed: %v", state.Err)
		s.idle.Reset()

	case StatePending:
		s.current = nil
		if state.Sleep != nil {
			s.park(task, *state.Sleep)
		} else {
			s.mu.Lock()
			s.local = append(s.local, task)
			s.mu.Unlock()
		}

	case StatePaniced:
		log.Printf("valtron: task paniced: %v", state.Err)
		s.current = nil
		// idle counter intentionally not reset - a paniced task does not
		// count as progress.
	}

	return Progress{Advanced: true, LastState: state}
}

// RunUntil loops RunOnce until predicate(progress) returns true,
// sleeping for the duration RunOnce indicates when it made no progress.
func (s *Single) RunUntil(predicate func(Progress) bool) {
	for {
		p := s.RunOnce()
		if predicate(p) || s.cancelled.Load() {
			return
		}
		if p.Sleep != nil {
			s.ctrl.Yield()
			time.Sleep(*p.Sleep)
		}
	}
}

// BlockUntilFinished runs until both queues are empty, no task is
// parked, and no task is currently executing.
func (s *Single) BlockUntilFinished() {
	s.RunUntil(func(Progress) bool {
		s.mu.Lock()
		empty := len(s.local) == 0 && len(s.parked) == 0 && s.current == nil
		s.mu.Unlock()
		return empty && s.global.Len() == 0
	})
}
