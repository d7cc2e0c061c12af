package state

// EventId names something that happened: a message arrived, a handler
// finished, a timer fired. Fsm.HandleEvent looks up the transition for
// (current state, event) and runs it.
type EventId int

const (
	NONE EventId = iota
	MSG_INIT
	MSG_INTERMEDIATE
	MSG_AUTH
	MSG_CHILD_SA
	MSG_INFORMATIONAL
	SUCCESS
	FAIL
	INIT_FAIL
	AUTH_FAIL
	REKEY_FAIL
	DELETE_IKE_SA
	DELETE_CHILD_SA
	RETRANSMIT_TIMEOUT
	REKEY_TIMEOUT
	REPLACE_TIMEOUT
	EXPIRE_TIMEOUT
	LIVENESS_TIMEOUT
	FINISHED
)

func (e EventId) String() string {
	switch e {
	case NONE:
		return "NONE"
	case MSG_INIT:
		return "MSG_INIT"
	case MSG_INTERMEDIATE:
		return "MSG_INTERMEDIATE"
	case MSG_AUTH:
		return "MSG_AUTH"
	case MSG_CHILD_SA:
		return "MSG_CHILD_SA"
	case MSG_INFORMATIONAL:
		return "MSG_INFORMATIONAL"
	case SUCCESS:
		return "SUCCESS"
	case FAIL:
		return "FAIL"
	case INIT_FAIL:
		return "INIT_FAIL"
	case AUTH_FAIL:
		return "AUTH_FAIL"
	case REKEY_FAIL:
		return "REKEY_FAIL"
	case DELETE_IKE_SA:
		return "DELETE_IKE_SA"
	case DELETE_CHILD_SA:
		return "DELETE_CHILD_SA"
	case RETRANSMIT_TIMEOUT:
		return "RETRANSMIT_TIMEOUT"
	case REKEY_TIMEOUT:
		return "REKEY_TIMEOUT"
	case REPLACE_TIMEOUT:
		return "REPLACE_TIMEOUT"
	case EXPIRE_TIMEOUT:
		return "EXPIRE_TIMEOUT"
	case LIVENESS_TIMEOUT:
		return "LIVENESS_TIMEOUT"
	case FINISHED:
		return "FINISHED"
	default:
		return "UNKNOWN"
	}
}

// StateEvent is the payload posted through a Fsm's event channel:
// session.go's own PostEvent(state.StateEvent{...}) shape, unchanged.
type StateEvent struct {
	Event EventId
	Data  interface{}
}

// Verdict is a handler's outcome, per spec.md §4.4/§7's small
// enumeration: advance state, suspend for async work, do nothing,
// fail with a notify, or die without replying.
type Verdict int

const (
	OK Verdict = iota
	SUSPEND
	IGNORE
	FAIL_NOTIFY
	FATAL
)

// Callbacks is implemented by the root Session; Fsm invokes these by
// name from its transition table actions, exactly as session.go's own
// SendInit/SendAuth/InstallSa/... methods are invoked by the teacher's
// (unretrieved) transition table.
type Callbacks interface {
	SendInit() StateEvent
	SendAuth() StateEvent
	InstallSa() StateEvent
	RemoveSa() StateEvent
	HandleIkeSaInit(interface{}) StateEvent
	HandleIntermediate(interface{}) StateEvent
	HandleIkeAuth(interface{}) StateEvent
	CheckSa(interface{}) StateEvent
	HandleClose(interface{}) StateEvent
	HandleCreateChildSa(interface{}) StateEvent
	CheckError(interface{}) StateEvent
	Finished() StateEvent
	StartRetryTimeout() StateEvent
}

// Action runs as part of one transition; it may return a follow-up
// event, which Fsm feeds back through HandleEvent before returning to
// the caller (e.g. HandleIkeSaInit succeeding on the initiator returns
// SUCCESS, which runs SendAuth).
type Action func(Callbacks, interface{}) StateEvent

// Transition is the state.Transition named in spec.md §3's Data Model:
// {from_state, exchange, requires_payloads, forbids_payloads, to_state,
// handler, timeout_event}, adapted to the event-driven shape the
// teacher's session.go already assumes (Event substitutes for
// "exchange"; RequiresPayloads/ForbidsPayloads are enforced by the
// handler via message.Digest.EnsurePayloads rather than the table
// itself, since the payload sets depend on negotiated options).
type Transition struct {
	Next   StateId
	Action Action
}

// Table is (state, event) -> Transition.
type Table map[StateId]map[EventId]Transition

// Fsm drives one IkeSA (or ChildSA) through a Table, dispatching
// Actions against a Callbacks implementation. Events flow through a
// channel so the owning Session.Run's select loop can intermix them
// with outgoing/incoming wire traffic (session.go's own pattern).
type Fsm struct {
	State       StateId
	table       Table
	callbacks   Callbacks
	events      chan StateEvent
	closed      bool
}

func NewFsm(initial StateId, table Table, cb Callbacks) *Fsm {
	return &Fsm{
		State:     initial,
		table:     table,
		callbacks: cb,
		events:    make(chan StateEvent, 16),
	}
}

func (f *Fsm) Events() <-chan StateEvent { return f.events }

// PostEvent enqueues evt for the next HandleEvent call. It never blocks
// the caller: if the buffered channel is full, delivery continues on a
// new goroutine, matching the teacher's own fire-and-forget PostEvent
// semantics (session.go calls it from deep inside synchronous handlers).
func (f *Fsm) PostEvent(evt StateEvent) {
	if f.closed {
		return
	}
	select {
	case f.events <- evt:
	default:
		go func() {
			defer func() { recover() }() // events may close concurrently
			f.events <- evt
		}()
	}
}

// CloseEvents is called once, from Finished(), after the owning
// Session has drained its outgoing queue.
func (f *Fsm) CloseEvents() {
	if f.closed {
		return
	}
	f.closed = true
	close(f.events)
}

// HandleEvent looks up the transition for the current state and evt,
// applies its Next state, runs its Action, and recurses on any
// follow-up event the Action returns. Events with no matching
// transition are dropped, mirroring the dispatcher's "if none matches,
// ... drop" rule (spec.md §4.4) for state/event pairs that cannot
// occur under the negotiated options.
func (f *Fsm) HandleEvent(evt StateEvent) {
	row, ok := f.table[f.State]
	if !ok {
		return
	}
	tr, ok := row[evt.Event]
	if !ok {
		return
	}
	f.State = tr.Next
	if tr.Action == nil {
		return
	}
	next := tr.Action(f.callbacks, evt.Data)
	if next.Event != NONE {
		f.HandleEvent(next)
	}
}
