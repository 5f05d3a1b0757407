package match

import (
	"context"
	"sync/atomic"
)

// Outcome is the terminal result of one pending request: either a response
// value, or the error that cancelled the wait.
type Outcome struct {
	Result interface{}
	Err    error
}

// Pending is the completion handle for one in-flight request. It resolves
// exactly once, with a matched response, an expiry, or a clear.
type Pending struct {
	outcome  chan Outcome
	resolved uint32
}

// NewPending creates an unresolved completion handle.
func NewPending() *Pending {
	return &Pending{outcome: make(chan Outcome, 1)}
}

// resolve delivers the outcome at most once. Later calls are no-ops.
func (p *Pending) resolve(result interface{}, err error) bool {
	if !atomic.CompareAndSwapUint32(&p.resolved, 0, 1) {
		return false
	}
	p.outcome <- Outcome{Result: result, Err: err}
	return true
}

// Resolved reports whether the handle has already been resolved.
func (p *Pending) Resolved() bool {
	return atomic.LoadUint32(&p.resolved) == 1
}

// Done returns a channel carrying the outcome once resolved. It is designed
// to be multiplexed with other signals through a select statement.
func (p *Pending) Done() <-chan Outcome {
	return p.outcome
}

// Wait blocks until the request resolves or ctx is done, whichever comes
// first.
func (p *Pending) Wait(ctx context.Context) (interface{}, error) {
	select {
	case out := <-p.outcome:
		return out.Result, out.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
