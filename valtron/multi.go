package valtron

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

// trySteal removes one runnable from the opposite end of s's local
// deque from the one RunOnce would normally pop, so a thief never
// competes with the owner for the same item under contention-free
// scheduling.
func (s *Single) trySteal() (Runnable, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.local) == 0 {
		return nil, false
	}
	var r Runnable
	if s.order == PriorityTop {
		r = s.local[len(s.local)-1]
		s.local = s.local[:len(s.local)-1]
	} else {
		r = s.local[0]
		s.local = s.local[1:]
	}
	return r, true
}

// Multi is a work-stealing pool of Single workers sharing one global
// queue. External Lift/Schedule calls round-robin across workers and
// always land on the chosen worker's local deque; Broadcast always goes
// through the shared global queue.
type Multi struct {
	workers []*Single
	next    atomic.Uint64
	wg      sync.WaitGroup
	global  *Channel[Runnable]
	done    atomic.Bool

	statsSubmitted atomic.Uint64
	statsStolen    atomic.Uint64
}

// MultiConfig configures a Multi pool.
type MultiConfig struct {
	Workers   int
	Order     PriorityOrder
	IdleEach  func() *IdleMan // optional per-worker IdleMan factory
}

// NewMulti creates a Multi pool with cfg.Workers workers (at least 1),
// all sharing one global queue.
func NewMulti(cfg MultiConfig) *Multi {
	n := cfg.Workers
	if n < 1 {
		n = 1
	}
	global := NewUnbounded[Runnable]()

	m := &Multi{
		workers: make([]*Single, n),
		global:  global,
	}

	for i := 0; i < n; i++ {
		var idle *IdleMan
		if cfg.IdleEach != nil {
			idle = cfg.IdleEach()
		}
		w := NewSingle(SingleConfig{
			Global: global,
			Idle:   idle,
			Order:  cfg.Order,
		})
		m.workers[i] = w
	}

	for i, w := range m.workers {
		idx := i
		m.wireSteal(w, idx)
	}

	return m
}

func (m *Multi) wireSteal(w *Single, self int) {
	n := len(m.workers)
	w.steal = func() (Runnable, bool) {
		if n <= 1 {
			return nil, false
		}
		start := rand.Intn(n)
		for i := 0; i < n; i++ {
			peer := (start + i) % n
			if peer == self {
				continue
			}
			if r, ok := m.workers[peer].trySteal(); ok {
				m.statsStolen.Add(1)
				return r, true
			}
		}
		return nil, false
	}
}

// Lift round-robins r to a worker's local deque (front). It waits for
// that worker's lock rather than falling back to another worker or to
// the global queue.
func (m *Multi) Lift(r Runnable) {
	m.submit(r, func(w *Single, r Runnable) { w.Lift(r) })
}

// Schedule round-robins r to a worker's local deque (back).
func (m *Multi) Schedule(r Runnable) {
	m.submit(r, func(w *Single, r Runnable) { w.Schedule(r) })
}

// Broadcast inserts r into the global queue, visible to every worker.
func (m *Multi) Broadcast(r Runnable) {
	_ = m.global.ForceSendOrSend(r)
}

func (m *Multi) submit(r Runnable, assign func(*Single, Runnable)) {
	m.statsSubmitted.Add(1)
	n := uint64(len(m.workers))
	start := m.next.Add(1) % n
	assign(m.workers[start], r)
}

// Run starts every worker's tick loop in its own goroutine and blocks
// until Stop is called.
func (m *Multi) Run() {
	for _, w := range m.workers {
		m.wg.Add(1)
		go func(w *Single) {
			defer m.wg.Done()
			w.RunUntil(func(Progress) bool {
				if m.done.Load() {
					return true
				}
				return false
			})
		}(w)
	}
}

// Stop requests every worker to finish its current tick and return.
func (m *Multi) Stop() {
	m.done.Store(true)
	m.global.Close()
}

// Wait blocks until every worker goroutine started by Run has
// returned.
func (m *Multi) Wait() {
	m.wg.Wait()
}

// BlockUntilFinished runs until every worker's local deque, the shared
// global queue, and every worker's parked set are empty. Intended for
// tests and simple batch use where workers are not running under Run.
func (m *Multi) BlockUntilFinished() {
	for {
		allIdle := true
		for _, w := range m.workers {
			p := w.RunOnce()
			if p.Advanced {
				allIdle = false
			}
		}
		if allIdle && m.global.Len() == 0 && m.allWorkersEmpty() {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

func (m *Multi) allWorkersEmpty() bool {
	for _, w := range m.workers {
		w.mu.Lock()
		empty := len(w.local) == 0 && len(w.parked) == 0 && w.current == nil
		w.mu.Unlock()
		if !empty {
			return false
		}
	}
	return true
}
