package timers

import (
	"sync"
	"testing"
	"time"

	"github.com/msgboxio/ike/config"
	"github.com/msgboxio/ike/state"
)

// fakePoster records every event PostEvent delivers, for tests that
// need to observe a timer fire without a real Fsm/transition table.
type fakePoster struct {
	mu     sync.Mutex
	events []state.EventId
	notify chan state.EventId
}

func newFakePoster() *fakePoster {
	return &fakePoster{notify: make(chan state.EventId, 16)}
}

func (f *fakePoster) PostEvent(evt state.StateEvent) {
	f.mu.Lock()
	f.events = append(f.events, evt.Event)
	f.mu.Unlock()
	f.notify <- evt.Event
}

func (f *fakePoster) waitFor(t *testing.T, evt state.EventId, within time.Duration) {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case got := <-f.notify:
			if got == evt {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", evt)
		}
	}
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.RetransmitBase = 5 * time.Millisecond
	cfg.RetransmitMax = 20 * time.Millisecond
	cfg.RetransmitTries = 2
	cfg.LivenessInterval = 10 * time.Millisecond
	return cfg
}

func TestRetransmitTimerResendsThenTimesOut(t *testing.T) {
	cfg := testConfig()
	fsm := newFakePoster()

	var mu sync.Mutex
	sends := 0
	send := func() error {
		mu.Lock()
		sends++
		mu.Unlock()
		return nil
	}

	StartRetransmit(cfg, fsm, send)
	fsm.waitFor(t, state.RETRANSMIT_TIMEOUT, time.Second)

	mu.Lock()
	defer mu.Unlock()
	if sends != cfg.RetransmitTries {
		t.Fatalf("expected %d resends before giving up, got %d", cfg.RetransmitTries, sends)
	}
}

func TestRetransmitTimerStopPreventsTimeout(t *testing.T) {
	cfg := testConfig()
	fsm := newFakePoster()
	rt := StartRetransmit(cfg, fsm, func() error { return nil })
	rt.Stop()

	select {
	case evt := <-fsm.notify:
		t.Fatalf("expected no further events after Stop, got %s", evt)
	case <-time.After(cfg.RetransmitBase * time.Duration(cfg.RetransmitTries+2)):
	}
}

func TestScheduleIkeLifetimesOrdering(t *testing.T) {
	cfg := config.DefaultConfig()
	store := state.NewStore()
	sa := store.NewIkeSA(true)

	ScheduleIkeLifetimes(cfg, sa)

	if !sa.RekeyDeadline.Before(sa.ReplaceDeadline) {
		t.Fatalf("expected rekey deadline before replace deadline: rekey=%s replace=%s", sa.RekeyDeadline, sa.ReplaceDeadline)
	}
	if !sa.ReplaceDeadline.Before(sa.ExpireDeadline) {
		t.Fatalf("expected replace deadline before expire deadline: replace=%s expire=%s", sa.ReplaceDeadline, sa.ExpireDeadline)
	}
}

func TestDeadlineTimerFires(t *testing.T) {
	fsm := newFakePoster()
	At(time.Now().Add(5*time.Millisecond), fsm, state.REKEY_TIMEOUT)
	fsm.waitFor(t, state.REKEY_TIMEOUT, time.Second)
}

func TestLivenessTimerProbesWhenIdle(t *testing.T) {
	cfg := testConfig()
	store := state.NewStore()
	sa := store.NewIkeSA(true)
	sa.LastLiveness = time.Now().Add(-time.Hour)

	probed := make(chan struct{}, 8)
	lt := StartLiveness(cfg, sa, func() { probed <- struct{}{} })
	defer lt.Stop()

	select {
	case <-probed:
	case <-time.After(time.Second):
		t.Fatal("expected a liveness probe for an idle SA")
	}
}

func TestLivenessTimerSkipsWhenRecentlyActive(t *testing.T) {
	cfg := testConfig()
	store := state.NewStore()
	sa := store.NewIkeSA(true)
	sa.LastLiveness = time.Now()

	// Keep inbound traffic arriving for the whole observation window, so
	// every liveness check sees activity younger than LivenessInterval.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		tick := time.NewTicker(cfg.LivenessInterval / 4)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				sa.Lock()
				sa.LastLiveness = time.Now()
				sa.Unlock()
			}
		}
	}()

	probed := make(chan struct{}, 8)
	lt := StartLiveness(cfg, sa, func() { probed <- struct{}{} })
	defer lt.Stop()

	select {
	case <-probed:
		t.Fatal("expected no probe while the SA has recent inbound traffic")
	case <-time.After(cfg.LivenessInterval + 5*time.Millisecond):
	}
}

func TestReapHalfOpenRemovesOnlyStaleUnauthenticated(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.HalfOpenTimeout = 10 * time.Millisecond
	store := state.NewStore()

	stale := store.NewIkeSA(true)
	stale.CreatedAt = time.Now().Add(-time.Hour)

	fresh := store.NewIkeSA(true)
	fresh.CreatedAt = time.Now()

	mature := store.NewIkeSA(true)
	mature.CreatedAt = time.Now().Add(-time.Hour)
	mature.State = state.STATE_MATURE

	reaped := ReapHalfOpen(store, cfg)
	if len(reaped) != 1 || reaped[0] != stale.Serial {
		t.Fatalf("expected only the stale half-open SA reaped, got %v", reaped)
	}
	if _, ok := store.Lookup(stale.Serial); ok {
		t.Fatal("expected the stale SA removed from the store")
	}
	if _, ok := store.Lookup(fresh.Serial); !ok {
		t.Fatal("expected the fresh half-open SA to survive")
	}
	if _, ok := store.Lookup(mature.Serial); !ok {
		t.Fatal("expected the mature SA to survive regardless of age")
	}
}
