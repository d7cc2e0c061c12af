package async

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/msgboxio/context"
	"github.com/msgboxio/ike/state"
)

type fakeFsm struct {
	mu     sync.Mutex
	events []state.StateEvent
	done   chan struct{}
}

func newFakeFsm() *fakeFsm { return &fakeFsm{done: make(chan struct{}, 16)} }

func (f *fakeFsm) PostEvent(evt state.StateEvent) {
	f.mu.Lock()
	f.events = append(f.events, evt)
	f.mu.Unlock()
	f.done <- struct{}{}
}

func (f *fakeFsm) wait(t *testing.T) {
	t.Helper()
	select {
	case <-f.done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for callback")
	}
}

func TestSubmitDeliversResultAsEvent(t *testing.T) {
	store := state.NewStore()
	sa := store.NewIkeSA(true)

	r := NewRunner(store, 2)
	fsm := newFakeFsm()
	cxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	r.Submit(cxt, sa.Serial, fsm, func() (interface{}, error) {
		return "computed", nil
	}, func(result interface{}, err error) state.StateEvent {
		if err != nil {
			return state.StateEvent{Event: state.FAIL, Data: err}
		}
		return state.StateEvent{Event: state.SUCCESS, Data: result}
	})

	fsm.wait(t)
	if len(fsm.events) != 1 || fsm.events[0].Event != state.SUCCESS || fsm.events[0].Data != "computed" {
		t.Fatalf("unexpected events: %+v", fsm.events)
	}
}

func TestSubmitDiscardsResultAfterSaRemoved(t *testing.T) {
	store := state.NewStore()
	sa := store.NewIkeSA(true)
	store.Remove(sa)

	r := NewRunner(store, 2)
	fsm := newFakeFsm()
	cxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	r.Submit(cxt, sa.Serial, fsm, func() (interface{}, error) {
		return nil, errors.New("should never be observed")
	}, func(result interface{}, err error) state.StateEvent {
		t.Fatal("callback must not run once owning SA is gone")
		return state.StateEvent{}
	})

	time.Sleep(50 * time.Millisecond)
	fsm.mu.Lock()
	defer fsm.mu.Unlock()
	if len(fsm.events) != 0 {
		t.Fatalf("expected no events delivered, got %+v", fsm.events)
	}
}

func TestSubmitCountsPendingTask(t *testing.T) {
	store := state.NewStore()
	sa := store.NewIkeSA(true)

	r := NewRunner(store, 1)
	fsm := newFakeFsm()
	cxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	release := make(chan struct{})
	r.Submit(cxt, sa.Serial, fsm, func() (interface{}, error) {
		<-release
		return nil, nil
	}, func(result interface{}, err error) state.StateEvent {
		return state.StateEvent{Event: state.SUCCESS}
	})

	if got := r.Pending(sa.Serial); got != 1 {
		close(release)
		t.Fatalf("expected 1 pending task, got %d", got)
	}
	close(release)
	fsm.wait(t)
}
