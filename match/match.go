// Package match pairs one outstanding outbound request with one later,
// asynchronously delivered inbound response. It tolerates out-of-order and
// missing responses with a fixed-capacity slot array, per-slot atomic
// claims instead of a structure-wide lock, and a cooperative expiry sweep.
package match

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/wavemesh/dgram/internal/sched"
	"github.com/wavemesh/dgram/log"
	"github.com/wavemesh/dgram/trace"
)

const (
	// DefaultCapacity bounds the number of in-flight requests per queue.
	// The bound is a deliberate backpressure contract, not a buffer size.
	DefaultCapacity = 256

	// DefaultTimeout replaces non-positive or too-small request timeouts.
	DefaultTimeout = 15 * time.Second

	// SweepInterval is the cadence of the expiry check. Worst-case delay
	// between a request expiring and its caller observing the cancellation
	// is one interval.
	SweepInterval = 1 * time.Second

	minTimeout = 50 * time.Millisecond
)

var (
	// ErrFull is returned by Add when every slot is occupied. It is a
	// terminal failure for that call, distinct from a timeout.
	ErrFull = errors.New("match: queue is full")

	// ErrExpired cancels a request whose timeout elapsed unmatched.
	ErrExpired = errors.New("match: request expired")

	// ErrCleared cancels a request dropped by Clear during shutdown.
	ErrCleared = errors.New("match: queue cleared")
)

// Predicate reports whether an inbound response corresponds to a previously
// registered request.
type Predicate func(request, response interface{}) bool

const (
	slotFree uint32 = iota
	slotClaimed
	slotOccupied
)

type slot struct {
	state uint32

	owner   interface{}
	request interface{}
	expiry  time.Time
	handle  *Pending
	tag     string
}

// claim takes exclusive hold of an occupied slot. While claimed, no other
// scanner can free or inspect it.
func (s *slot) claim() bool {
	return atomic.CompareAndSwapUint32(&s.state, slotOccupied, slotClaimed)
}

// release puts a claimed slot back into circulation unchanged.
func (s *slot) release() {
	atomic.StoreUint32(&s.state, slotOccupied)
}

// vacate empties a claimed slot and returns it to the free pool.
func (s *slot) vacate() {
	s.owner = nil
	s.request = nil
	s.handle = nil
	s.tag = ""
	atomic.StoreUint32(&s.state, slotFree)
}

// Queue correlates requests with responses through a fixed array of slots.
type Queue struct {
	slots    []slot
	occupied int32

	exec      *sched.Executor
	ownedExec bool

	tracer trace.Tracer
	logger zerolog.Logger

	sweepMu  sync.Mutex
	sweeping bool

	closed uint32
}

// Option configures a queue at construction.
type Option func(*Queue)

// WithCapacity overrides the slot count. Values below one fall back to the
// default.
func WithCapacity(capacity int) Option {
	return func(q *Queue) {
		if capacity < 1 {
			capacity = DefaultCapacity
		}
		q.slots = make([]slot, capacity)
	}
}

// WithExecutor shares an existing completion executor instead of the queue
// owning one. The caller keeps responsibility for closing it.
func WithExecutor(exec *sched.Executor) Option {
	return func(q *Queue) {
		q.exec = exec
		q.ownedExec = false
	}
}

// WithTracer attaches tracing hooks around match and expire events.
func WithTracer(tracer trace.Tracer) Option {
	return func(q *Queue) {
		if tracer != nil {
			q.tracer = tracer
		}
	}
}

// WithLogger overrides the package logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(q *Queue) {
		q.logger = logger
	}
}

// NewQueue creates a match queue with the default capacity unless
// overridden.
func NewQueue(opts ...Option) *Queue {
	q := &Queue{
		slots:     make([]slot, DefaultCapacity),
		ownedExec: true,
		tracer:    trace.Nop(),
		logger:    log.Logger(),
	}

	for _, opt := range opts {
		opt(q)
	}

	if q.exec == nil {
		q.exec = sched.New()
		q.ownedExec = true
	}

	return q
}

// Len reports the number of occupied slots.
func (q *Queue) Len() int {
	return int(atomic.LoadInt32(&q.occupied))
}

// Cap reports the fixed slot capacity.
func (q *Queue) Cap() int {
	return len(q.slots)
}

// Add registers an in-flight request owned by owner, to be resolved through
// handle within timeout. Timeouts at or below the minimum are normalized to
// the default. When no slot is free, Add fails immediately with ErrFull; on
// a queue that has been closed it fails with ErrCleared, so no request can
// be registered past the point where Clear cancelled everything.
func (q *Queue) Add(owner, request interface{}, timeout time.Duration, handle *Pending, tag string) error {
	if atomic.LoadUint32(&q.closed) == 1 {
		return ErrCleared
	}

	if timeout < minTimeout {
		timeout = DefaultTimeout
	}

	// time.Now carries a monotonic reading, so expiry comparisons are
	// immune to wall-clock adjustment.
	expiry := time.Now().Add(timeout)

	for i := range q.slots {
		s := &q.slots[i]
		if !atomic.CompareAndSwapUint32(&s.state, slotFree, slotClaimed) {
			continue
		}

		s.owner = owner
		s.request = request
		s.expiry = expiry
		s.handle = handle
		s.tag = tag
		atomic.StoreUint32(&s.state, slotOccupied)

		atomic.AddInt32(&q.occupied, 1)

		// Close may have swept past this slot between the entry check and
		// the publish above. Re-check and take the occupancy back so the
		// handle is never stranded without a Match, Expiry or Clear.
		if atomic.LoadUint32(&q.closed) == 1 {
			if s.claim() {
				s.vacate()
				atomic.AddInt32(&q.occupied, -1)
			}
			return ErrCleared
		}

		q.ensureSweeper()
		return nil
	}

	return ErrFull
}

// Match scans occupied slots for one whose owner equals owner and whose
// stored request satisfies pred against response. A hit frees the slot and
// resolves its handle with result on a separate execution context, so a
// downstream continuation can never stall the caller. Scan order is not a
// priority order; the lowest-index satisfying slot wins.
func (q *Queue) Match(owner, response, result interface{}, pred Predicate) bool {
	span := q.tracer.SpanStart(trace.OpMatch)

	for i := range q.slots {
		s := &q.slots[i]
		if !s.claim() {
			continue
		}

		if s.owner != owner || !pred(s.request, response) {
			s.release()
			continue
		}

		handle, tag := s.handle, s.tag
		s.vacate()
		atomic.AddInt32(&q.occupied, -1)

		q.exec.Submit(func() {
			handle.resolve(result, nil)
		})

		span.Tag("slot", i)
		span.Tag("tag", tag)
		span.End(nil)
		return true
	}

	span.End(nil)

	q.logger.Debug().Msg("No pending request matched the response.")
	return false
}

// Clear cancels every occupied slot with ErrCleared, regardless of
// remaining time to live. It is called on session and server shutdown so
// outstanding requests are never silently dropped.
func (q *Queue) Clear() {
	for i := range q.slots {
		s := &q.slots[i]
		if !s.claim() {
			continue
		}

		handle := s.handle
		s.vacate()
		atomic.AddInt32(&q.occupied, -1)

		q.exec.Submit(func() {
			handle.resolve(nil, ErrCleared)
		})
	}
}

// Close clears the queue and, when the executor is owned, shuts it down
// after the backlog drains.
func (q *Queue) Close() {
	if !atomic.CompareAndSwapUint32(&q.closed, 0, 1) {
		return
	}

	q.Clear()

	if q.ownedExec {
		q.exec.Close()
	}
}

// ensureSweeper starts the expiry timer if it is not already running. The
// sweeper disables itself once the queue drains and is restarted here by
// the next successful Add.
func (q *Queue) ensureSweeper() {
	q.sweepMu.Lock()
	if !q.sweeping {
		q.sweeping = true
		go q.sweep()
	}
	q.sweepMu.Unlock()
}

func (q *Queue) sweep() {
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()

	for range ticker.C {
		now := time.Now()

		for i := range q.slots {
			s := &q.slots[i]
			if !s.claim() {
				continue
			}

			if s.expiry.After(now) {
				s.release()
				continue
			}

			span := q.tracer.SpanStart(trace.OpExpire)
			span.Tag("slot", i)
			span.Tag("tag", s.tag)

			handle := s.handle
			s.vacate()
			atomic.AddInt32(&q.occupied, -1)

			q.exec.Submit(func() {
				handle.resolve(nil, ErrExpired)
			})

			span.End(ErrExpired)
		}

		q.sweepMu.Lock()
		if atomic.LoadInt32(&q.occupied) == 0 || atomic.LoadUint32(&q.closed) == 1 {
			q.sweeping = false
			q.sweepMu.Unlock()
			return
		}
		q.sweepMu.Unlock()
	}
}
