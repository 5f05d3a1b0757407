// Package sched runs deferred completion work on a dedicated goroutine so
// resolving a pending request can never block the datagram receive path.
package sched

import (
	"sync"

	"github.com/eapache/queue"
)

// Executor drains submitted functions in FIFO order on its own goroutine.
type Executor struct {
	mu     sync.Mutex
	cond   *sync.Cond
	work   *queue.Queue
	closed bool
	done   chan struct{}
}

// New starts an executor.
func New() *Executor {
	e := &Executor{
		work: queue.New(),
		done: make(chan struct{}),
	}
	e.cond = sync.NewCond(&e.mu)

	go e.run()
	return e
}

// Submit enqueues fn. Submissions after Close are dropped.
func (e *Executor) Submit(fn func()) {
	e.mu.Lock()
	if !e.closed {
		e.work.Add(fn)
		e.cond.Signal()
	}
	e.mu.Unlock()
}

// Close stops the executor after the backlog drains and waits for the
// worker to exit.
func (e *Executor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		<-e.done
		return
	}
	e.closed = true
	e.cond.Signal()
	e.mu.Unlock()

	<-e.done
}

func (e *Executor) run() {
	defer close(e.done)

	for {
		e.mu.Lock()
		for e.work.Length() == 0 && !e.closed {
			e.cond.Wait()
		}
		if e.work.Length() == 0 && e.closed {
			e.mu.Unlock()
			return
		}
		fn := e.work.Remove().(func())
		e.mu.Unlock()

		fn()
	}
}
