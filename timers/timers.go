// Package timers drives every clock-triggered part of the negotiation
// that session.go's own StartRetryTimeout left as a stub ("// TODO -
// start timeout to delete sa if peers does not reply"): the per-request
// retransmit ladder, rekey/replace/expire scheduling, liveness (DPD)
// probing, and half-open SA reaping (spec.md §4.10/§5). Every timer
// posts a state.StateEvent back into the owning Fsm instead of acting
// directly, matching async.Runner's callback-through-the-event-loop
// idiom so a fired timer resumes the state machine the same way an
// inbound message or a finished async task does.
package timers

import (
	"sync"
	"time"

	"github.com/msgboxio/ike/config"
	"github.com/msgboxio/ike/state"
)

// poster is the subset of state.Fsm a timer needs to deliver its
// follow-up event, mirroring async.Runner's own poster interface.
type poster interface {
	PostEvent(state.StateEvent)
}

// RetransmitTimer runs the exponential-backoff ladder for one
// outstanding request (spec.md §4.10): doubling delay capped at
// cfg.RetransmitMax, for up to cfg.RetransmitTries resends. Exhaustion
// posts RETRANSMIT_TIMEOUT so the owner (Session.Run, outside the
// transition table) can declare the peer dead; after exhaustion it
// never retries or tears anything down itself.
type RetransmitTimer struct {
	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

// StartRetransmit arms the ladder. send re-emits the cached request
// bytes (session.go's own LastReply-style cache, but for the request
// side); its error is not fatal on its own — the ladder keeps ticking
// and a permanently failing send still ends in RETRANSMIT_TIMEOUT.
func StartRetransmit(cfg *config.Config, fsm poster, send func() error) *RetransmitTimer {
	rt := &RetransmitTimer{}
	if cfg.Impair != nil && cfg.Impair.SuppressRetransmit {
		rt.arm(cfg, fsm, send, cfg.RetransmitBase, cfg.RetransmitTries+1)
		return rt
	}
	rt.arm(cfg, fsm, send, cfg.RetransmitBase, 1)
	return rt
}

func (rt *RetransmitTimer) arm(cfg *config.Config, fsm poster, send func() error, delay time.Duration, attempt int) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.stopped {
		return
	}
	rt.timer = time.AfterFunc(delay, func() {
		rt.mu.Lock()
		stopped := rt.stopped
		rt.mu.Unlock()
		if stopped {
			return
		}
		if attempt > cfg.RetransmitTries {
			fsm.PostEvent(state.StateEvent{Event: state.RETRANSMIT_TIMEOUT})
			return
		}
		send()
		next := delay * 2
		if next > cfg.RetransmitMax {
			next = cfg.RetransmitMax
		}
		rt.arm(cfg, fsm, send, next, attempt+1)
	})
}

// Stop cancels the ladder, for when the expected response arrives.
func (rt *RetransmitTimer) Stop() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.stopped = true
	if rt.timer != nil {
		rt.timer.Stop()
	}
}

// DeadlineTimer fires a single state.StateEvent at a fixed wall-clock
// deadline; ScheduleIkeLifetimes/ScheduleChildLifetime compute the
// deadlines it's armed against.
type DeadlineTimer struct {
	mu    sync.Mutex
	timer *time.Timer
}

// At arms a DeadlineTimer against deadline; a deadline already in the
// past fires immediately rather than being silently dropped.
func At(deadline time.Time, fsm poster, evt state.EventId) *DeadlineTimer {
	d := time.Until(deadline)
	if d < 0 {
		d = 0
	}
	dt := &DeadlineTimer{}
	dt.timer = time.AfterFunc(d, func() {
		fsm.PostEvent(state.StateEvent{Event: evt})
	})
	return dt
}

func (dt *DeadlineTimer) Stop() {
	dt.mu.Lock()
	defer dt.mu.Unlock()
	if dt.timer != nil {
		dt.timer.Stop()
	}
}

// ScheduleIkeLifetimes sets sa's Rekey/Replace/Expire deadlines off its
// installation time: rekey fires RekeyMargin before the soft lifetime
// expires, replace at the soft lifetime itself (for the case no rekey
// completed in time), and expire ReplaceMargin after that as the final
// backstop (spec.md §4.10's "Child rekey... old Child scheduled to
// expire within grace=EXPIRE_OLD_SA_DELAY", generalized to the parent
// IKE SA too).
func ScheduleIkeLifetimes(cfg *config.Config, sa *state.IkeSA) {
	now := time.Now()
	sa.Lock()
	sa.RekeyDeadline = now.Add(cfg.IkeSaLifetime - cfg.RekeyMargin)
	sa.ReplaceDeadline = now.Add(cfg.IkeSaLifetime)
	sa.ExpireDeadline = now.Add(cfg.IkeSaLifetime + cfg.ReplaceMargin)
	sa.Unlock()
}

// ScheduleChildLifetime sets a freshly installed Child SA's expire
// deadline. A Child being replaced by a rekey instead gets
// ScheduleChildReplace's shorter grace window.
func ScheduleChildLifetime(cfg *config.Config, child *state.ChildSA) {
	child.ExpireDeadline = time.Now().Add(cfg.ChildSaLifetime)
}

// ScheduleChildReplace re-points an old Child's expire deadline to the
// grace window after its successor was installed (spec.md §4.10's
// EXPIRE_OLD_SA_DELAY), instead of its original full lifetime.
func ScheduleChildReplace(cfg *config.Config, child *state.ChildSA) {
	child.ExpireDeadline = time.Now().Add(cfg.ReplaceMargin)
}

// LivenessTimer polls an IkeSA's inbound-traffic clock and fires probe
// once it has gone quiet for cfg.LivenessInterval (spec.md §4.10's DPD:
// "if no inbound traffic for dpd_delay, send an empty encrypted
// INFORMATIONAL"). probe is expected to itself arm a RetransmitTimer,
// so the existing retransmit ladder — not a separate liveness timeout —
// is what eventually declares the peer dead.
type LivenessTimer struct {
	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

func StartLiveness(cfg *config.Config, sa *state.IkeSA, probe func()) *LivenessTimer {
	lt := &LivenessTimer{}
	lt.arm(cfg, sa, probe)
	return lt
}

func (lt *LivenessTimer) arm(cfg *config.Config, sa *state.IkeSA, probe func()) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	if lt.stopped {
		return
	}
	lt.timer = time.AfterFunc(cfg.LivenessInterval, func() {
		lt.mu.Lock()
		stopped := lt.stopped
		lt.mu.Unlock()
		if stopped {
			return
		}
		sa.Lock()
		idle := time.Since(sa.LastLiveness)
		sa.Unlock()
		if idle >= cfg.LivenessInterval {
			probe()
		}
		lt.arm(cfg, sa, probe)
	})
}

func (lt *LivenessTimer) Stop() {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	lt.stopped = true
	if lt.timer != nil {
		lt.timer.Stop()
	}
}

// ReapHalfOpen scans store for any IkeSA that has sat short of
// STATE_MATURE longer than cfg.HalfOpenTimeout and removes it (spec.md
// §5: "a half-open IKE SA that never authenticates is reaped after a
// bounded delay"). Callers run this periodically — session.go has no
// retrieved equivalent of its own, so this follows the same
// "HalfOpen() as a snapshot, then act outside the lock" shape
// state.Store.Remove already assumes for safe concurrent iteration.
func ReapHalfOpen(store *state.Store, cfg *config.Config) (reaped []uint64) {
	now := time.Now()
	for _, sa := range store.HalfOpen() {
		sa.Lock()
		age := now.Sub(sa.CreatedAt)
		serial := sa.Serial
		sa.Unlock()
		if age >= cfg.HalfOpenTimeout {
			store.Remove(sa)
			reaped = append(reaped, serial)
		}
	}
	return
}
