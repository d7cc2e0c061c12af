package state

import (
	"testing"

	"github.com/msgboxio/ike/protocol"
)

type fakeCallbacks struct {
	calls      []string
	installed  int
	removed    int
}

func (f *fakeCallbacks) record(name string) { f.calls = append(f.calls, name) }

func (f *fakeCallbacks) SendInit() StateEvent { f.record("SendInit"); return StateEvent{Event: NONE} }
func (f *fakeCallbacks) SendAuth() StateEvent { f.record("SendAuth"); return StateEvent{Event: NONE} }
func (f *fakeCallbacks) InstallSa() StateEvent {
	f.record("InstallSa")
	f.installed++
	return StateEvent{Event: NONE}
}
func (f *fakeCallbacks) RemoveSa() StateEvent {
	f.record("RemoveSa")
	f.removed++
	return StateEvent{Event: FINISHED}
}
func (f *fakeCallbacks) HandleIkeSaInit(interface{}) StateEvent {
	f.record("HandleIkeSaInit")
	return StateEvent{Event: SUCCESS}
}
func (f *fakeCallbacks) HandleIntermediate(interface{}) StateEvent {
	f.record("HandleIntermediate")
	return StateEvent{Event: NONE}
}
func (f *fakeCallbacks) HandleIkeAuth(interface{}) StateEvent {
	f.record("HandleIkeAuth")
	return StateEvent{Event: SUCCESS}
}
func (f *fakeCallbacks) CheckSa(interface{}) StateEvent { f.record("CheckSa"); return StateEvent{Event: NONE} }
func (f *fakeCallbacks) HandleClose(interface{}) StateEvent {
	f.record("HandleClose")
	return StateEvent{Event: NONE}
}
func (f *fakeCallbacks) HandleCreateChildSa(interface{}) StateEvent {
	f.record("HandleCreateChildSa")
	return StateEvent{Event: NONE}
}
func (f *fakeCallbacks) CheckError(interface{}) StateEvent { f.record("CheckError"); return StateEvent{Event: NONE} }
func (f *fakeCallbacks) Finished() StateEvent              { f.record("Finished"); return StateEvent{Event: NONE} }
func (f *fakeCallbacks) StartRetryTimeout() StateEvent     { return StateEvent{Event: NONE} }

func TestIkeFsmHappyPathInitiator(t *testing.T) {
	cb := &fakeCallbacks{}
	fsm := NewFsm(STATE_START, NewIkeTransitions(), cb)

	fsm.HandleEvent(StateEvent{Event: SUCCESS}) // kickoff -> SendInit
	if fsm.State != STATE_INIT {
		t.Fatalf("expected STATE_INIT after kickoff, got %s", fsm.State)
	}

	fsm.HandleEvent(StateEvent{Event: MSG_INIT, Data: "init-response"})
	if fsm.State != STATE_AUTH {
		t.Fatalf("expected STATE_AUTH after MSG_INIT, got %s", fsm.State)
	}

	fsm.HandleEvent(StateEvent{Event: MSG_AUTH, Data: "auth-response"})
	if fsm.State != STATE_MATURE {
		t.Fatalf("expected STATE_MATURE after MSG_AUTH, got %s", fsm.State)
	}
	if cb.installed != 1 {
		t.Fatalf("expected InstallSa to run once, ran %d times", cb.installed)
	}

	want := []string{"SendInit", "HandleIkeSaInit", "SendAuth", "HandleIkeAuth", "InstallSa"}
	if len(cb.calls) != len(want) {
		t.Fatalf("call sequence mismatch: got %v want %v", cb.calls, want)
	}
	for i := range want {
		if cb.calls[i] != want[i] {
			t.Fatalf("call sequence mismatch at %d: got %v want %v", i, cb.calls, want)
		}
	}
}

func TestIkeFsmTeardownCascadesToFinished(t *testing.T) {
	cb := &fakeCallbacks{}
	fsm := NewFsm(STATE_MATURE, NewIkeTransitions(), cb)

	fsm.HandleEvent(StateEvent{Event: AUTH_FAIL, Data: "boom"})
	if fsm.State != STATE_FINISHED {
		t.Fatalf("expected STATE_FINISHED after teardown, got %s", fsm.State)
	}
	if cb.removed != 1 {
		t.Fatalf("expected RemoveSa to run once, ran %d times", cb.removed)
	}
}

func TestFsmDropsUnknownTransition(t *testing.T) {
	cb := &fakeCallbacks{}
	fsm := NewFsm(STATE_IDLE, NewIkeTransitions(), cb)
	fsm.HandleEvent(StateEvent{Event: MSG_AUTH})
	if fsm.State != STATE_IDLE {
		t.Fatalf("unmatched transition should not move state, got %s", fsm.State)
	}
	if len(cb.calls) != 0 {
		t.Fatalf("unmatched transition should not invoke any callback, got %v", cb.calls)
	}
}

func TestStoreCascadesChildDeletion(t *testing.T) {
	store := NewStore()
	sa := store.NewIkeSA(true)
	sa.SpiI = protocol.Spi{1, 1, 1, 1, 1, 1, 1, 1}
	sa.SpiR = protocol.Spi{2, 2, 2, 2, 2, 2, 2, 2}
	store.IndexBySpi(sa)

	child := &ChildSA{Serial: 1, Parent: sa.Serial, SpiOut: [4]byte{9, 9, 9, 9}}
	sa.Children = append(sa.Children, child)
	store.IndexChild(sa, child.SpiOut)

	if _, _, ok := store.LookupChildBySpi(child.SpiOut); !ok {
		t.Fatal("expected to find child by outbound spi before removal")
	}

	store.Remove(sa)

	if _, ok := store.LookupBySpi(sa.SpiI, sa.SpiR); ok {
		t.Fatal("expected IkeSA to be gone after Remove")
	}
	if _, _, ok := store.LookupChildBySpi(child.SpiOut); ok {
		t.Fatal("expected child index to be cascaded away after parent Remove")
	}
}

func TestStoreHalfOpenExcludesMatureSAs(t *testing.T) {
	store := NewStore()
	halfOpen := store.NewIkeSA(true)
	mature := store.NewIkeSA(false)
	mature.State = STATE_MATURE

	open := store.HalfOpen()
	if len(open) != 1 || open[0].Serial != halfOpen.Serial {
		t.Fatalf("expected only the half-open SA, got %+v", open)
	}
}
