package valtron

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestMultiBroadcastRunsAcrossWorkers(t *testing.T) {
	m := NewMulti(MultiConfig{Workers: 4})
	const n = 50

	var counter atomic.Int64
	for i := 0; i < n; i++ {
		m.Broadcast(runnableFunc(func(EntryID, Engine) State {
			counter.Add(1)
			return State{Kind: StateDone}
		}))
	}

	m.BlockUntilFinished()

	if got := counter.Load(); got != n {
		t.Fatalf("expected all %d broadcast tasks to run exactly once, got %d", n, got)
	}
}

func TestMultiScheduleRoundRobinsAcrossWorkers(t *testing.T) {
	m := NewMulti(MultiConfig{Workers: 3})
	const n = 30

	var counter atomic.Int64
	for i := 0; i < n; i++ {
		m.Schedule(runnableFunc(func(EntryID, Engine) State {
			counter.Add(1)
			return State{Kind: StateDone}
		}))
	}

	m.BlockUntilFinished()

	if got := counter.Load(); got != n {
		t.Fatalf("expected %d scheduled tasks to run, got %d", n, got)
	}
}

func TestMultiRunAndStop(t *testing.T) {
	m := NewMulti(MultiConfig{Workers: 2})
	var counter atomic.Int64

	m.Run()
	for i := 0; i < 10; i++ {
		m.Schedule(runnableFunc(func(EntryID, Engine) State {
			counter.Add(1)
			return State{Kind: StateDone}
		}))
	}

	deadline := time.Now().Add(time.Second)
	for counter.Load() < 10 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	m.Stop()
	m.Wait()

	if got := counter.Load(); got != 10 {
		t.Fatalf("expected 10 tasks to complete before Stop, got %d", got)
	}
}

func TestMultiStealingDrainsAnOverloadedWorker(t *testing.T) {
	m := NewMulti(MultiConfig{Workers: 4})

	var counter atomic.Int64
	// Round-robin submission would spread the tasks, so schedule all of
	// them directly onto worker 0 to give its siblings something to steal.
	for i := 0; i < 40; i++ {
		m.workers[0].Schedule(runnableFunc(func(EntryID, Engine) State {
			counter.Add(1)
			return State{Kind: StateDone}
		}))
	}

	m.Run()
	deadline := time.Now().Add(2 * time.Second)
	for counter.Load() < 40 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	m.Stop()
	m.Wait()

	if got := counter.Load(); got != 40 {
		t.Fatalf("expected all 40 tasks loaded onto one worker to complete via stealing, got %d", got)
	}
}
