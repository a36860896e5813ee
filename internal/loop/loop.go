// Package loop runs all orchestration on a single goroutine.
//
// Reader goroutines blocked on subprocess pipes never touch shared state
// directly; they post closures here and return immediately. The loop is the
// only synchronization boundary between the blocking readers and the rest of
// the system.
package loop

import (
	"context"
	"errors"
	"log"
	"runtime/debug"
	"sync"
)

// ErrClosed is returned by Submit after the loop has shut down.
var ErrClosed = errors.New("loop: closed")

// ErrQueueFull is returned by Submit when the queue is saturated. The task
// is dropped; callers log and move on.
var ErrQueueFull = errors.New("loop: queue full")

const queueSize = 256

// Loop executes submitted functions sequentially on one goroutine.
type Loop struct {
	tasks chan func()

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// New creates a loop. Call Run to start draining tasks.
func New() *Loop {
	return &Loop{
		tasks: make(chan func(), queueSize),
		done:  make(chan struct{}),
	}
}

// Submit schedules fn to run on the loop goroutine and returns without
// waiting for it. It never blocks: a saturated queue drops the task and
// returns ErrQueueFull, and after Close it returns ErrClosed. Callers log
// and move on, nothing escalates.
func (l *Loop) Submit(fn func()) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	// The send is non-blocking, so the lock is only held for an instant and
	// a backlogged loop can never stall a producer or a concurrent Close.
	select {
	case l.tasks <- fn:
		return nil
	default:
		log.Printf("[loop] queue full, dropping task")
		return ErrQueueFull
	}
}

// Run drains tasks until ctx is canceled or Close is called. It blocks the
// calling goroutine, which becomes the loop goroutine.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			l.Close()
			l.drain()
			return
		case fn, ok := <-l.tasks:
			if !ok {
				return
			}
			l.invoke(fn)
		case <-l.done:
			l.drain()
			return
		}
	}
}

// Close stops accepting new tasks. Pending tasks are still executed.
// Idempotent and safe from any goroutine, including a worker thread that
// races a shutdown.
func (l *Loop) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	close(l.done)
}

// drain runs tasks already queued at shutdown.
func (l *Loop) drain() {
	for {
		select {
		case fn := <-l.tasks:
			l.invoke(fn)
		default:
			return
		}
	}
}

// invoke runs one task, containing panics so a faulty handler cannot take
// down the loop. The worker that submitted the task has no way to observe
// the failure, so it is logged here where it happened.
func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[loop] panic in scheduled task: %v\n%s", r, debug.Stack())
		}
	}()
	fn()
}
