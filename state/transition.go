package state

// activeIkeStates lists every state an IKE SA can be torn down from; used
// to wire the FAIL/AUTH_FAIL/INIT_FAIL/error-notify transitions without
// repeating them per state.
var activeIkeStates = []StateId{
	STATE_IDLE, STATE_START, STATE_INIT, STATE_AUTH,
	STATE_MATURE, STATE_REKEY_IKE_SA,
}

// set installs the same Transition under every (state, event) pair in
// states x events.
func set(t Table, states []StateId, events []EventId, tr Transition) {
	for _, s := range states {
		row, ok := t[s]
		if !ok {
			row = make(map[EventId]Transition)
			t[s] = row
		}
		for _, e := range events {
			row[e] = tr
		}
	}
}

func put(t Table, s StateId, e EventId, tr Transition) {
	row, ok := t[s]
	if !ok {
		row = make(map[EventId]Transition)
		t[s] = row
	}
	row[e] = tr
}

// NewIkeTransitions builds the IKE-SA transition table: IKE_SA_INIT,
// IKE_INTERMEDIATE, IKE_AUTH, CREATE_CHILD_SA (rekey-IKE shape) and
// teardown, shared between initiator and responder roles by branching
// inside each Callbacks method on IkeSA.IsInitiator (session.go's own
// HandleIkeSaInit/HandleIkeAuth do the same).
func NewIkeTransitions() Table {
	t := make(Table)

	// Initiator kickoff: the root Session posts {SUCCESS} once right
	// after creating an initiator Fsm.
	put(t, STATE_START, SUCCESS, Transition{
		Next:   STATE_INIT,
		Action: func(cb Callbacks, _ interface{}) StateEvent { return cb.SendInit() },
	})

	// Initiator receives the IKE_SA_INIT response.
	put(t, STATE_INIT, MSG_INIT, Transition{
		Next:   STATE_AUTH,
		Action: func(cb Callbacks, d interface{}) StateEvent { return cb.HandleIkeSaInit(d) },
	})
	// Responder receives the IKE_SA_INIT request (validates + replies
	// inline; nothing to chain unless INTERMEDIATE was negotiated).
	put(t, STATE_IDLE, MSG_INIT, Transition{
		Next:   STATE_AUTH,
		Action: func(cb Callbacks, d interface{}) StateEvent { return cb.HandleIkeSaInit(d) },
	})

	// Either role may run one or more IKE_INTERMEDIATE rounds before
	// IKE_AUTH. Each round only appends its messages to InitIb/InitRb
	// for the AUTH signature; keys are not re-derived.
	put(t, STATE_AUTH, MSG_INTERMEDIATE, Transition{
		Next:   STATE_AUTH,
		Action: func(cb Callbacks, d interface{}) StateEvent { return cb.HandleIntermediate(d) },
	})

	// Initiator sends IKE_AUTH after a successful INIT/INTERMEDIATE.
	put(t, STATE_AUTH, SUCCESS, Transition{
		Next:   STATE_AUTH,
		Action: func(cb Callbacks, _ interface{}) StateEvent { return cb.SendAuth() },
	})
	// Either role processes the IKE_AUTH message (request or response).
	put(t, STATE_AUTH, MSG_AUTH, Transition{
		Next:   STATE_MATURE,
		Action: func(cb Callbacks, d interface{}) StateEvent { return cb.HandleIkeAuth(d) },
	})
	put(t, STATE_MATURE, SUCCESS, Transition{
		Next:   STATE_MATURE,
		Action: func(cb Callbacks, _ interface{}) StateEvent { return cb.InstallSa() },
	})

	// CREATE_CHILD_SA while mature: new/rekeyed child, or IKE-SA rekey.
	put(t, STATE_MATURE, MSG_CHILD_SA, Transition{
		Next:   STATE_MATURE,
		Action: func(cb Callbacks, d interface{}) StateEvent { return cb.HandleCreateChildSa(d) },
	})
	put(t, STATE_REKEY_IKE_SA, MSG_CHILD_SA, Transition{
		Next:   STATE_MATURE,
		Action: func(cb Callbacks, d interface{}) StateEvent { return cb.HandleCreateChildSa(d) },
	})

	// Peer-initiated INFORMATIONAL carrying Delete/liveness/MOBIKE.
	set(t, append(append([]StateId{}, activeIkeStates...), STATE_REKEY_CHILD_SA), []EventId{MSG_INFORMATIONAL}, Transition{
		Next:   STATE_MATURE,
		Action: func(cb Callbacks, d interface{}) StateEvent { return cb.CheckSa(d) },
	})

	// Error/failure paths: any active state can fail and tear down.
	set(t, activeIkeStates, []EventId{FAIL, AUTH_FAIL, INIT_FAIL, REKEY_FAIL}, Transition{
		Next: STATE_DELETING,
		Action: func(cb Callbacks, d interface{}) StateEvent {
			cb.CheckError(d)
			return StateEvent{Event: DELETE_IKE_SA, Data: d}
		},
	})

	// Peer closes the session (Delete(IKE-SA) informational, or a
	// locally detected fatal condition).
	set(t, activeIkeStates, []EventId{DELETE_IKE_SA}, Transition{
		Next: STATE_FINISHED,
		Action: func(cb Callbacks, d interface{}) StateEvent {
			cb.HandleClose(d)
			return cb.RemoveSa()
		},
	})
	put(t, STATE_DELETING, DELETE_IKE_SA, Transition{
		Next: STATE_FINISHED,
		Action: func(cb Callbacks, d interface{}) StateEvent {
			return cb.RemoveSa()
		},
	})

	set(t, []StateId{STATE_FINISHED, STATE_DELETING}, []EventId{SUCCESS, FINISHED}, Transition{
		Next:   STATE_FINISHED,
		Action: func(cb Callbacks, _ interface{}) StateEvent { return cb.Finished() },
	})

	return t
}

// childActiveStates lists the states a Child SA's own sub-negotiation
// passes through; a Child SA's State field is tracked independently of
// its parent IkeSA.State (spec.md §9: "State transition table shared
// between IKE and Child on the same MD" is handled here by keeping two
// distinct tables rather than one shared to_state space).
var childActiveStates = []StateId{STATE_START, STATE_REKEY_CHILD_SA, STATE_MATURE}

// NewChildTransitions builds the Child-SA transition table: creation
// (via the parent's IKE_AUTH or a CREATE_CHILD_SA new-child exchange),
// rekey, and teardown.
func NewChildTransitions() Table {
	t := make(Table)

	put(t, STATE_START, SUCCESS, Transition{
		Next:   STATE_MATURE,
		Action: func(cb Callbacks, _ interface{}) StateEvent { return cb.InstallSa() },
	})
	put(t, STATE_MATURE, MSG_CHILD_SA, Transition{
		Next:   STATE_REKEY_CHILD_SA,
		Action: func(cb Callbacks, d interface{}) StateEvent { return cb.HandleCreateChildSa(d) },
	})
	put(t, STATE_REKEY_CHILD_SA, SUCCESS, Transition{
		Next:   STATE_MATURE,
		Action: func(cb Callbacks, _ interface{}) StateEvent { return cb.InstallSa() },
	})

	set(t, childActiveStates, []EventId{FAIL, REKEY_FAIL, DELETE_CHILD_SA}, Transition{
		Next: STATE_FINISHED,
		Action: func(cb Callbacks, d interface{}) StateEvent {
			return cb.RemoveSa()
		},
	})
	put(t, STATE_FINISHED, FINISHED, Transition{
		Next:   STATE_FINISHED,
		Action: func(cb Callbacks, _ interface{}) StateEvent { return cb.Finished() },
	})

	return t
}
