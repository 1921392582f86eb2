package valtron

import (
	"sync"
	"testing"
	"time"
)

func TestChannelSendRecvOrder(t *testing.T) {
	c := NewUnbounded[int]()
	for i := 0; i < 5; i++ {
		if err := c.Send(i); err != nil {
			t.Fatalf("Send(%d): %v", i, err)
		}
	}

	for i := 0; i < 5; i++ {
		v, err := c.Recv()
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		if v != i {
			t.Fatalf("expected %d, got %d", i, v)
		}
	}

	if _, err := c.Recv(); err != ErrChannelEmpty {
		t.Fatalf("expected ErrChannelEmpty, got %v", err)
	}
}

func TestChannelBoundedFull(t *testing.T) {
	c := NewBounded[int](2)
	if err := c.Send(1); err != nil {
		t.Fatalf("Send(1): %v", err)
	}
	if err := c.Send(2); err != nil {
		t.Fatalf("Send(2): %v", err)
	}
	if err := c.Send(3); err != ErrChannelFull {
		t.Fatalf("expected ErrChannelFull, got %v", err)
	}
}

func TestChannelForceSendEvicts(t *testing.T) {
	c := NewBounded[int](2)
	_, _ = c.ForceSend(1)
	_, _ = c.ForceSend(2)

	evicted, err := c.ForceSend(3)
	if err != nil {
		t.Fatalf("ForceSend(3): %v", err)
	}
	if evicted == nil || *evicted != 1 {
		t.Fatalf("expected to evict 1, got %v", evicted)
	}

	v, _ := c.Recv()
	if v != 2 {
		t.Fatalf("expected 2 after eviction, got %d", v)
	}
}

func TestChannelCloseDrainsThenErrors(t *testing.T) {
	c := NewUnbounded[int]()
	_ = c.Send(7)
	c.Close()

	v, err := c.Recv()
	if err != nil || v != 7 {
		t.Fatalf("expected queued item to still drain, got %d, %v", v, err)
	}

	if _, err := c.Recv(); err != ErrChannelClosed {
		t.Fatalf("expected ErrChannelClosed after drain, got %v", err)
	}

	// Close must be idempotent.
	c.Close()
}

func TestChannelRecvTimeoutWakesOnSend(t *testing.T) {
	c := NewUnbounded[int]()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(5 * time.Millisecond)
		_ = c.Send(9)
	}()

	v, err := c.RecvTimeout(time.Second)
	wg.Wait()
	if err != nil {
		t.Fatalf("RecvTimeout: %v", err)
	}
	if v != 9 {
		t.Fatalf("expected 9, got %d", v)
	}
}

func TestChannelRecvTimeoutExpires(t *testing.T) {
	c := NewUnbounded[int]()
	_, err := c.RecvTimeout(5 * time.Millisecond)
	if err != ErrChannelTimeout {
		t.Fatalf("expected ErrChannelTimeout, got %v", err)
	}
}
