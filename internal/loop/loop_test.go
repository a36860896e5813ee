package loop

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitFromManyGoroutines(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	const producers = 2
	const perProducer = 500

	// Counter is loop-confined; accepted tracks how many submissions got in.
	// Their equality proves every accepted task ran, and ran without
	// interleaving.
	counter := 0
	var accepted atomic.Int64
	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				switch err := l.Submit(func() { counter++ }); err {
				case nil:
					accepted.Add(1)
				case ErrQueueFull:
					// A saturated queue drops; that is the contract.
				default:
					t.Errorf("Submit failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	got := make(chan int)
	deadline := time.Now().Add(5 * time.Second)
	for {
		err := l.Submit(func() { got <- counter })
		if err == nil {
			break
		}
		if err != ErrQueueFull || time.Now().After(deadline) {
			t.Fatalf("Submit failed: %v", err)
		}
		time.Sleep(time.Millisecond)
	}
	select {
	case n := <-got:
		if int64(n) != accepted.Load() {
			t.Errorf("counter = %d, want %d (one increment per accepted task)", n, accepted.Load())
		}
		if n == 0 {
			t.Error("no tasks were accepted at all")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not process tasks in time")
	}

	l.Close()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}

func TestSubmitAfterCloseReturnsErrClosed(t *testing.T) {
	l := New()
	l.Close()
	if err := l.Submit(func() {}); err != ErrClosed {
		t.Errorf("Submit after Close = %v, want ErrClosed", err)
	}
	// Close is idempotent.
	l.Close()
}

func TestSubmitNeverBlocksWhenSaturated(t *testing.T) {
	// No Run: the queue fills and stays full.
	l := New()
	for i := 0; ; i++ {
		err := l.Submit(func() {})
		if err == ErrQueueFull {
			break
		}
		if err != nil {
			t.Fatalf("Submit %d failed: %v", i, err)
		}
		if i > 10_000 {
			t.Fatal("queue never reported full")
		}
	}

	// A producer stuck at a full queue must not hold Close hostage.
	closed := make(chan struct{})
	go func() {
		l.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close blocked behind a saturated queue")
	}
	if err := l.Submit(func() {}); err != ErrClosed {
		t.Errorf("Submit after Close = %v, want ErrClosed", err)
	}
}

func TestPendingTasksRunAfterClose(t *testing.T) {
	l := New()

	ran := make(chan struct{})
	if err := l.Submit(func() { close(ran) }); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	l.Close()

	done := make(chan struct{})
	go func() {
		l.Run(context.Background())
		close(done)
	}()

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("queued task was dropped at shutdown")
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestPanicInTaskDoesNotKillLoop(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	if err := l.Submit(func() { panic("boom") }); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	survived := make(chan struct{})
	if err := l.Submit(func() { close(survived) }); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	select {
	case <-survived:
	case <-time.After(5 * time.Second):
		t.Fatal("loop stopped processing after a panicking task")
	}
}
