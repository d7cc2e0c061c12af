// Package async runs crypto/cert/DNS work off the single event-loop
// goroutine and hands results back onto it as ordinary state.StateEvent
// values, so a finished task resumes the FSM the same way an inbound
// message does (session.go's Run select loop treats both identically).
package async

import (
	"sync"

	"github.com/msgboxio/context"
	"github.com/msgboxio/ike/state"
)

// Task is one unit of off-loop work: DH computation, signature
// generation/verification, PPK lookup, DNS/IPSECKEY resolution. It runs
// on a pool goroutine and must not touch any state.IkeSA/ChildSA field
// directly — only the eventual Callback may, and only after Submit has
// re-entered the owning Session's event loop.
type Task func() (interface{}, error)

// Callback turns a Task's result into a follow-up event. It is invoked
// on the event-loop goroutine, never on the pool goroutine that ran the
// Task, matching spec.md §5's "the dispatcher resumes the state-machine
// step after the callback, not inside it".
type Callback func(result interface{}, err error) state.StateEvent

// poster is the subset of state.Fsm a Runner needs: just enough to
// deliver a finished Task's follow-up event back into the FSM's own
// queue. Declared as an interface so tests can supply a fake.
type poster interface {
	PostEvent(state.StateEvent)
}

// Runner is a bounded worker pool. One Runner is shared by every SA in
// a process; Submit's serial argument is what ties a queued Task back
// to a specific (and possibly by-then-deleted) SA.
type Runner struct {
	sem   chan struct{}
	store *state.Store

	mu      sync.Mutex
	pending map[uint64]int // serial -> outstanding task count, for tests/metrics
}

// NewRunner builds a Runner with room for concurrency outstanding
// Tasks; further Submits block the calling goroutine until a slot
// frees, the same back-pressure shape as a buffered channel semaphore.
func NewRunner(store *state.Store, concurrency int) *Runner {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Runner{
		sem:     make(chan struct{}, concurrency),
		store:   store,
		pending: make(map[uint64]int),
	}
}

// Submit runs t on a pool goroutine and, once it completes, delivers
// the Callback's follow-up event to fsm — unless serial no longer
// resolves in the Runner's Store, in which case the result is silently
// discarded (spec.md §4.3/§5: "cancellation is implicit... a callback
// whose owning state no longer exists is a no-op").
func (r *Runner) Submit(cxt context.Context, serial uint64, fsm poster, t Task, cb Callback) {
	r.mu.Lock()
	r.pending[serial]++
	r.mu.Unlock()

	r.sem <- struct{}{}
	go func() {
		defer func() { <-r.sem }()
		defer func() {
			r.mu.Lock()
			r.pending[serial]--
			if r.pending[serial] <= 0 {
				delete(r.pending, serial)
			}
			r.mu.Unlock()
		}()

		result, err := t()

		select {
		case <-cxt.Done():
			return
		default:
		}
		if _, ok := r.store.Lookup(serial); !ok {
			return
		}
		fsm.PostEvent(cb(result, err))
	}()
}

// Pending reports how many Tasks are outstanding for serial, for tests
// and metrics; timers.ReapHalfOpen does not consult it.
func (r *Runner) Pending(serial uint64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending[serial]
}
