package loop

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func startLoop(t *testing.T) *Loop {
	t.Helper()
	l := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-l.Done()
	})
	return l
}

func TestLoop_RunsInPostOrder(t *testing.T) {
	l := startLoop(t)

	var order []int
	for i := 0; i < 100; i++ {
		i := i
		l.Post(func() { order = append(order, i) })
	}

	if err := l.Call(func() {}); err != nil {
		t.Fatalf("Call failed: %v", err)
	}

	if len(order) != 100 {
		t.Fatalf("ran %d closures, want 100", len(order))
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("order[%d] = %d", i, v)
		}
	}
}

func TestLoop_RecoversPanics(t *testing.T) {
	l := startLoop(t)

	l.Post(func() { panic("boom") })

	ran := false
	if err := l.Call(func() { ran = true }); err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if !ran {
		t.Error("closure after panic did not run")
	}
	if l.Panics() != 1 {
		t.Errorf("Panics() = %d, want 1", l.Panics())
	}
}

func TestLoop_StopRejectsPosts(t *testing.T) {
	l := New(nil)
	done := make(chan struct{})
	go func() {
		l.Run(context.Background())
		close(done)
	}()

	l.Stop()
	<-done

	if l.Post(func() {}) {
		t.Error("Post after Stop should return false")
	}
	if err := l.Call(func() {}); err != ErrStopped {
		t.Errorf("Call after Stop = %v, want ErrStopped", err)
	}
}

func TestLoop_AfterFunc(t *testing.T) {
	l := startLoop(t)

	fired := make(chan struct{})
	l.AfterFunc(10*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestLoop_TimerStopOnLoop(t *testing.T) {
	l := startLoop(t)

	var fired atomic.Bool
	var tm *Timer
	l.Call(func() {
		tm = l.AfterFunc(5*time.Millisecond, func() { fired.Store(true) })
	})

	// Block the loop past the deadline so the expiry is queued behind us,
	// then stop the timer from the loop.
	l.Call(func() {
		time.Sleep(20 * time.Millisecond)
		tm.Stop()
	})

	time.Sleep(20 * time.Millisecond)
	l.Call(func() {})

	if fired.Load() {
		t.Error("stopped timer callback ran")
	}
}
