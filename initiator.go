package ike

import (
	"fmt"
	"net"

	kitlog "github.com/go-kit/kit/log"
	"github.com/msgboxio/context"
	"github.com/msgboxio/ike/async"
	"github.com/msgboxio/ike/config"
	"github.com/msgboxio/ike/crypto"
	"github.com/msgboxio/ike/handlers"
	"github.com/msgboxio/ike/message"
	"github.com/msgboxio/ike/platform"
	"github.com/msgboxio/ike/state"
)

// Identities bundles the peer-facing handles a Session needs beyond its
// negotiation policy: how to authenticate, how to verify the peer, and
// where to install the resulting Child SAs.
type Identities struct {
	Ids        platform.IdentityStore
	Ppks       platform.PPKStore
	Verifier   Verifier
	AuthParams handlers.AuthParams
	Installer  platform.Installer
}

func newSession(cxt context.Context, cancel context.CancelFunc, cfg *config.Config, store *state.Store, sa *state.IkeSA, ids Identities, runner *async.Runner, local, remote net.Addr, write WriteData) (*Session, error) {
	suite, err := crypto.NewCipherSuite(cfg.ProposalIke)
	if err != nil {
		return nil, err
	}
	sa.Suite = suite

	installer := ids.Installer
	if installer == nil {
		installer = platform.NoopInstaller{}
	}

	o := &Session{
		Context:   cxt,
		cancel:    cancel,
		cfg:       cfg,
		store:     store,
		sa:        sa,
		ids:       ids.Ids,
		ppks:      ids.Ppks,
		verifier:  ids.Verifier,
		ap:        ids.AuthParams,
		installer: installer,
		runner:    runner,
		local:     local,
		remote:    remote,
		incoming:  make(chan *message.Digest, 10),
		outgoing:  make(chan []byte, 10),
		writeData: write,
		ikLogger:  kitlog.NewNopLogger(),
		childFsms: make(map[uint64]*state.Fsm),
	}
	o.Fsm = state.NewFsm(sa.State, state.NewIkeTransitions(), o)
	return o, nil
}

// NewInitiator creates a Session that owns a fresh IkeSA and drives the
// IKE_SA_INIT/IKE_AUTH exchanges as the initiating side.
func NewInitiator(parent context.Context, cfg *config.Config, store *state.Store, ids Identities, runner *async.Runner, local, remote net.Addr, write WriteData) (*Session, error) {
	cxt, cancel := context.WithCancel(parent)
	sa := store.NewIkeSA(true)
	o, err := newSession(cxt, cancel, cfg, store, sa, ids, runner, local, remote, write)
	if err != nil {
		cancel(err)
		return nil, err
	}
	o.PostEvent(state.StateEvent{Event: state.SUCCESS})
	return o, nil
}

// NewResponder creates a Session for an IkeSA freshly instantiated by an
// inbound IKE_SA_INIT request; it waits at STATE_IDLE until that request
// is posted in.
func NewResponder(parent context.Context, cfg *config.Config, store *state.Store, ids Identities, runner *async.Runner, local, remote net.Addr, write WriteData) (*Session, error) {
	cxt, cancel := context.WithCancel(parent)
	sa := store.NewIkeSA(false)
	sa.State = state.STATE_IDLE
	return newSession(cxt, cancel, cfg, store, sa, ids, runner, local, remote, write)
}

func (o *Session) String() string {
	return fmt.Sprintf("ike session %#x<=>%#x", o.sa.SpiI, o.sa.SpiR)
}
