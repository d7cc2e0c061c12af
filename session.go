package ike

import (
	"crypto/rand"
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
	"github.com/msgboxio/ike/protocol"
	"github.com/msgboxio/ike/state"
	"github.com/msgboxio/ike/timers"
	"github.com/msgboxio/log"
	"github.com/msgboxio/packets"
)

// WriteData hands an encoded message to whatever transport owns the
// socket; conn.go's Conn.WritePacket satisfies it once bound to a
// remote address.
type WriteData func([]byte) error

// Verifier resolves a peer's certificate-backed AUTH method to
// something that can check the signature, generalizing the single PSK
// path handlers.verifyAuth otherwise assumes.
type Verifier func(idData []byte, certs [][]byte) (crypto.Verifier, error)

// Session drives one IkeSA's whole life: every state.Callbacks method
// below is invoked by the transition table state.NewIkeTransitions()
// returns, the way the teacher's own session.go was invoked by its
// table.
type Session struct {
	context.Context
	cancel context.CancelFunc
	*state.Fsm
	isClosing bool

	cfg   *config.Config
	store *state.Store
	sa    *state.IkeSA

	ids      platform.IdentityStore
	ppks     platform.PPKStore
	verifier Verifier
	ap       handlers.AuthParams

	cookieSecret  handlers.CookieSecret
	requireCookie bool

	installer platform.Installer
	runner    *async.Runner

	local, remote net.Addr

	incoming  chan *message.Digest
	outgoing  chan []byte
	writeData WriteData

	ikLogger kitlog.Logger

	retransmit *timers.RetransmitTimer
	liveness   *timers.LivenessTimer

	childFsms map[uint64]*state.Fsm

	// pendingChild carries the Child SA InstallSa() should spawn (and
	// the predecessor it replaces, if any) once the table's
	// STATE_MATURE,SUCCESS row fires after IKE_AUTH or CREATE_CHILD_SA
	// completes. Session only ever carries one: this engine never runs
	// two Child SA negotiations at once on the same IKE SA.
	pendingChild *handlers.CreateChildRequest
	// pendingCreateChild remembers what BuildCreateChildRequest asked
	// for, so the matching CREATE_CHILD_SA response can be decoded
	// against the right DH/nonce/predecessor.
	pendingCreateChild *handlers.CreateChildRequest
}

// childCallbacks adapts Session to drive one Child SA's own Fsm, built
// from state.NewChildTransitions(), independently of the parent IkeSA's
// Fsm (state.NewIkeTransitions()). Only InstallSa, RemoveSa and Finished
// are ever reached by that table: install on creation, remove on
// DELETE_CHILD_SA/FAIL, and the terminal drain. CREATE_CHILD_SA wire
// dispatch happens entirely at the IKE-level Fsm, before any specific
// child is known, so the table's own MSG_CHILD_SA row is never reached
// here (see DESIGN.md).
type childCallbacks struct {
	o     *Session
	child *state.ChildSA
}

func (c *childCallbacks) SendInit() state.StateEvent  { return state.StateEvent{} }
func (c *childCallbacks) SendAuth() state.StateEvent  { return state.StateEvent{} }
func (c *childCallbacks) InstallSa() state.StateEvent { return c.o.installChild(c.child) }
func (c *childCallbacks) RemoveSa() state.StateEvent {
	c.o.removeChild(c.child)
	return state.StateEvent{}
}
func (c *childCallbacks) HandleIkeSaInit(interface{}) state.StateEvent    { return state.StateEvent{} }
func (c *childCallbacks) HandleIntermediate(interface{}) state.StateEvent { return state.StateEvent{} }
func (c *childCallbacks) HandleIkeAuth(interface{}) state.StateEvent     { return state.StateEvent{} }
func (c *childCallbacks) CheckSa(interface{}) state.StateEvent           { return state.StateEvent{} }
func (c *childCallbacks) HandleClose(interface{}) state.StateEvent       { return state.StateEvent{} }
func (c *childCallbacks) HandleCreateChildSa(interface{}) state.StateEvent {
	return state.StateEvent{}
}
func (c *childCallbacks) CheckError(interface{}) state.StateEvent { return state.StateEvent{} }
func (c *childCallbacks) Finished() state.StateEvent              { return state.StateEvent{} }
func (c *childCallbacks) StartRetryTimeout() state.StateEvent     { return state.StateEvent{} }

// Housekeeping

func (o *Session) Tag() string {
	if o.sa == nil {
		return "ike: "
	}
	return fmt.Sprintf("ike[%#x<=>%#x]: ", o.sa.SpiI, o.sa.SpiR)
}

// Spi returns the SPIi/SPIr pair identifying this Session's IkeSA, so a
// daemon reading datagrams off a shared Conn can route each to the
// Session that owns it.
func (o *Session) Spi() (i, r protocol.Spi) {
	return o.sa.SpiI, o.sa.SpiR
}

// Serial returns the IkeSA's store serial, so a daemon can match a
// timers.ReapHalfOpen result back to the Session that owned it.
func (o *Session) Serial() uint64 {
	return o.sa.Serial
}

// Run is the single goroutine that owns this Session: every wire write,
// every inbound message and every Fsm event passes through this loop,
// matching the teacher's own Run select shape.
func (o *Session) Run() {
	for {
		select {
		case raw, ok := <-o.outgoing:
			if !ok {
				break
			}
			if err := o.writeData(raw); err != nil {
				log.Error(o.Tag()+"write failed: ", err)
			}
		case d, ok := <-o.incoming:
			if !ok {
				break
			}
			if err := o.decryptInbound(d); err != nil {
				log.Error(o.Tag()+"drop message: ", err)
				break
			}
			if !o.acceptMessage(d) {
				break
			}
			if evt := eventFor(d); evt != nil {
				o.HandleEvent(*evt)
			}
		case evt, ok := <-o.Events():
			if !ok {
				break
			}
			// These timer events have no row in
			// state.NewIkeTransitions(): the table shape fits message
			// dispatch (state,event)->action, but a fired timer needs
			// to act regardless of the SA's current state, so Session
			// handles them directly instead of duplicating rows across
			// every active state.
			switch evt.Event {
			case state.RETRANSMIT_TIMEOUT:
				o.Close(fmt.Errorf("ike: peer did not respond"))
			case state.REKEY_TIMEOUT:
				o.startChildRekey()
			case state.REPLACE_TIMEOUT, state.EXPIRE_TIMEOUT:
				o.Close(fmt.Errorf("ike: %s reached", evt.Event))
			case state.LIVENESS_TIMEOUT:
				o.sendLivenessProbe()
			default:
				o.HandleEvent(evt)
			}
		case <-o.Done():
			return
		}
	}
}

// PostMessage delivers an inbound message.Digest into the event loop.
// Like Fsm.PostEvent, it never blocks the caller.
func (o *Session) PostMessage(d *message.Digest) {
	if o.Context.Err() != nil {
		return
	}
	select {
	case o.incoming <- d:
	default:
		go func() {
			defer func() { recover() }() // incoming may close concurrently
			o.incoming <- d
		}()
	}
}

func (o *Session) decryptInbound(d *message.Digest) error {
	if !d.IsEncrypted() {
		return nil
	}
	skA, skE := o.peerKeys()
	return d.Decrypt(o.sa.Suite, skA, skE, o.ikLogger)
}

// acceptMessage enforces RFC 7296 2.3's message-ID window on inbound
// requests: the next expected request advances the counter and proceeds
// to its handler, an exact repeat of the one before it is answered
// straight from the cached LastReply without running the handler again,
// and anything else is stale or out of order and gets dropped. Responses
// aren't gated here: the retransmit timer they cancel already ties them
// to a specific outstanding request.
func (o *Session) acceptMessage(d *message.Digest) bool {
	if d.IkeHeader.Flags.IsResponse() {
		return true
	}
	switch id := d.IkeHeader.MsgId; {
	case id == o.sa.MsgIdExpected:
		o.sa.MsgIdExpected++
		return true
	case o.sa.MsgIdExpected > 0 && id == o.sa.MsgIdExpected-1:
		if o.sa.LastReply != nil {
			o.send(o.sa.LastReply)
		}
		return false
	default:
		log.Infof(o.Tag()+"dropping request id %d, expected %d", id, o.sa.MsgIdExpected)
		return false
	}
}

func eventFor(d *message.Digest) *state.StateEvent {
	switch d.IkeHeader.ExchangeType {
	case protocol.IKE_SA_INIT:
		return &state.StateEvent{Event: state.MSG_INIT, Data: d}
	case protocol.IKE_INTERMEDIATE:
		return &state.StateEvent{Event: state.MSG_INTERMEDIATE, Data: d}
	case protocol.IKE_AUTH:
		return &state.StateEvent{Event: state.MSG_AUTH, Data: d}
	case protocol.CREATE_CHILD_SA:
		return &state.StateEvent{Event: state.MSG_CHILD_SA, Data: d}
	case protocol.INFORMATIONAL:
		return &state.StateEvent{Event: state.MSG_INFORMATIONAL, Data: d}
	}
	return nil
}

// Close starts a local teardown: send the Delete(IKE SA) request, then
// let the DELETE_IKE_SA transition drive HandleClose/RemoveSa the same
// way a peer-initiated close does.
func (o *Session) Close(err error) {
	if o.isClosing {
		return
	}
	o.isClosing = true
	log.Infof(o.Tag()+"closing session: %s", err)
	b := handlers.BuildDeleteIkeRequest(o.sa)
	_ = o.encryptAndSend(b)
	o.PostEvent(state.StateEvent{Event: state.DELETE_IKE_SA, Data: err})
}

// ourKeys/peerKeys always read SK_ai/ar/ei/er off NoPpkKeys, never Keys:
// RFC 8784 4.1 never lets a PPK change the keys that protect IKE_AUTH
// itself, only SK_d/SK_pi/SK_pr (handlers' resolveLocalPpk/resolvePeerPpk
// replace sa.Keys with the PPK-mixed derivation during IKE_AUTH; reading
// NoPpkKeys keeps SK_a/SK_e unchanged whether that happens before or
// after a message is protected).
func (o *Session) ourKeys() (skA, skE []byte) {
	if o.sa.IsInitiator {
		return o.sa.NoPpkKeys.SkAi, o.sa.NoPpkKeys.SkEi
	}
	return o.sa.NoPpkKeys.SkAr, o.sa.NoPpkKeys.SkEr
}

func (o *Session) peerKeys() (skA, skE []byte) {
	if o.sa.IsInitiator {
		return o.sa.NoPpkKeys.SkAr, o.sa.NoPpkKeys.SkEr
	}
	return o.sa.NoPpkKeys.SkAi, o.sa.NoPpkKeys.SkEi
}

func (o *Session) encryptAndSend(b *message.Builder) error {
	skA, skE := o.ourKeys()
	raw, err := b.EncodeEncrypted(o.sa.Suite, skA, skE, o.ikLogger)
	if err != nil {
		return err
	}
	o.sa.LastReply = raw
	o.send(raw)
	return nil
}

// send enqueues raw for Run's own writeData call. It never blocks: Run
// is both the only reader of outgoing and, via any Callbacks method it
// calls synchronously, a potential writer of it too, so a blocking
// send here would deadlock the loop against itself.
func (o *Session) send(raw []byte) {
	select {
	case o.outgoing <- raw:
	default:
		go func() {
			defer func() { recover() }()
			o.outgoing <- raw
		}()
	}
}

// callbacks (state.Callbacks)

// SendInit is the initiator's kickoff action, run once from
// STATE_START,SUCCESS right after NewInitiator builds this Session.
func (o *Session) SendInit() state.StateEvent {
	o.sa.SpiI = makeSpi()
	b, err := handlers.BuildInitRequest(o.cfg, o.sa, o.local, o.remote)
	if err != nil {
		return state.StateEvent{Event: state.INIT_FAIL, Data: err}
	}
	raw := b.EncodeCleartext()
	o.sa.InitIb = raw
	o.sa.MsgIdNextSend++
	o.send(raw)
	o.retransmit = timers.StartRetransmit(o.cfg, o.Fsm, func() error { o.send(raw); return nil })
	return state.StateEvent{}
}

func (o *Session) retryInitWithCookie(resp *message.Digest) state.StateEvent {
	cookies := resp.NotifyPayloads(protocol.COOKIE)
	if len(cookies) == 0 {
		return state.StateEvent{Event: state.INIT_FAIL, Data: fmt.Errorf("ike: cookie challenge missing its own notify")}
	}
	b, err := handlers.BuildInitRequest(o.cfg, o.sa, o.local, o.remote)
	if err != nil {
		return state.StateEvent{Event: state.INIT_FAIL, Data: err}
	}
	b.Add(&protocol.NotifyPayload{
		PayloadHeader:    &protocol.PayloadHeader{},
		ProtocolId:       protocol.IKE,
		NotificationType: protocol.COOKIE,
		Data:             cookies[0].Data,
	})
	raw := b.EncodeCleartext()
	o.sa.InitIb = raw
	o.send(raw)
	o.retransmit = timers.StartRetransmit(o.cfg, o.Fsm, func() error { o.send(raw); return nil })
	return state.StateEvent{}
}

// retryInitWithDhGroup handles an INVALID_KE_PAYLOAD response (RFC 7296
// 2.5): the responder named the DH group it wants in the notify's 2-byte
// Data field. Bounded to a single retry per SA, and only adopted if it
// names a group this side can actually generate keys for.
func (o *Session) retryInitWithDhGroup(resp *message.Digest) state.StateEvent {
	if o.sa.InvalidKeRetries > 0 {
		return state.StateEvent{Event: state.INIT_FAIL, Data: fmt.Errorf("ike: peer repeated INVALID_KE_PAYLOAD")}
	}
	notifies := resp.NotifyPayloads(protocol.INVALID_KE_PAYLOAD)
	if len(notifies) == 0 || len(notifies[0].Data) < 2 {
		return state.StateEvent{Event: state.INIT_FAIL, Data: fmt.Errorf("ike: INVALID_KE_PAYLOAD missing its suggested group")}
	}
	groupId, _ := packets.ReadB16(notifies[0].Data, 0)
	group := protocol.DhTransformId(groupId)
	if !crypto.SupportsDhGroup(group) {
		return state.StateEvent{Event: state.INIT_FAIL, Data: fmt.Errorf("ike: peer suggested unsupported dh group %s", group)}
	}
	o.sa.InvalidKeRetries++
	o.cfg = cfgWithDhGroup(o.cfg, group)
	b, err := handlers.BuildInitRequest(o.cfg, o.sa, o.local, o.remote)
	if err != nil {
		return state.StateEvent{Event: state.INIT_FAIL, Data: err}
	}
	raw := b.EncodeCleartext()
	o.sa.InitIb = raw
	o.send(raw)
	o.retransmit = timers.StartRetransmit(o.cfg, o.Fsm, func() error { o.send(raw); return nil })
	return state.StateEvent{}
}

// cfgWithDhGroup returns a copy of cfg proposing group in place of its
// current DH transform, leaving cfg itself untouched since it may be
// shared by other Sessions.
func cfgWithDhGroup(cfg *config.Config, group protocol.DhTransformId) *config.Config {
	next := *cfg
	trs := make(protocol.Transforms, len(cfg.ProposalIke))
	for t, tr := range cfg.ProposalIke {
		trs[t] = tr
	}
	trs[protocol.TRANSFORM_TYPE_DH] = &protocol.SaTransform{
		Transform: protocol.Transform{Type: protocol.TRANSFORM_TYPE_DH, TransformId: uint16(group)},
		IsLast:    cfg.ProposalIke[protocol.TRANSFORM_TYPE_DH].IsLast,
	}
	next.ProposalIke = trs
	return &next
}

func (o *Session) sendInitError(d *message.Digest, nt protocol.NotificationType) {
	b := message.NewBuilder(&protocol.IkeHeader{
		SpiI:         d.IkeHeader.SpiI,
		MajorVersion: protocol.IKEV2_MAJOR_VERSION,
		MinorVersion: protocol.IKEV2_MINOR_VERSION,
		ExchangeType: protocol.IKE_SA_INIT,
		Flags:        protocol.RESPONSE,
		MsgId:        d.IkeHeader.MsgId,
	})
	b.Add(&protocol.NotifyPayload{PayloadHeader: &protocol.PayloadHeader{}, ProtocolId: protocol.IKE, NotificationType: nt})
	o.send(b.EncodeCleartext())
}

func (o *Session) sendAuthError(d *message.Digest, nt protocol.NotificationType) {
	b := message.NewBuilder(&protocol.IkeHeader{
		SpiI:         o.sa.SpiI,
		SpiR:         o.sa.SpiR,
		MajorVersion: protocol.IKEV2_MAJOR_VERSION,
		MinorVersion: protocol.IKEV2_MINOR_VERSION,
		ExchangeType: protocol.IKE_AUTH,
		Flags:        protocol.RESPONSE,
		MsgId:        d.IkeHeader.MsgId,
	})
	b.Add(&protocol.NotifyPayload{PayloadHeader: &protocol.PayloadHeader{}, ProtocolId: protocol.IKE, NotificationType: nt})
	_ = o.encryptAndSend(b)
}

func (o *Session) sendChildError(d *message.Digest, nt protocol.NotificationType) {
	b := message.NewBuilder(&protocol.IkeHeader{
		SpiI:         o.sa.SpiI,
		SpiR:         o.sa.SpiR,
		MajorVersion: protocol.IKEV2_MAJOR_VERSION,
		MinorVersion: protocol.IKEV2_MINOR_VERSION,
		ExchangeType: protocol.CREATE_CHILD_SA,
		Flags:        protocol.RESPONSE,
		MsgId:        d.IkeHeader.MsgId,
	})
	b.Add(&protocol.NotifyPayload{PayloadHeader: &protocol.PayloadHeader{}, ProtocolId: protocol.ESP, NotificationType: nt})
	_ = o.encryptAndSend(b)
}

// HandleIkeSaInit processes both the initiator's IKE_SA_INIT response
// and the responder's IKE_SA_INIT request, branching on d.IsResponse.
// Only the initiator branch returns SUCCESS: STATE_AUTH,SUCCESS->SendAuth
// is an initiator-only action, and a responder reaching STATE_AUTH here
// must simply wait for the peer's own IKE_AUTH request next.
func (o *Session) HandleIkeSaInit(msg interface{}) state.StateEvent {
	d := msg.(*message.Digest)

	if o.sa.IsInitiator {
		if o.retransmit != nil {
			o.retransmit.Stop()
		}
		_, nt, err := handlers.HandleInitResponse(o.cfg, o.sa, d)
		if err != nil {
			if nt == protocol.COOKIE {
				return o.retryInitWithCookie(d)
			}
			if nt == protocol.INVALID_KE_PAYLOAD {
				return o.retryInitWithDhGroup(d)
			}
			return state.StateEvent{Event: state.INIT_FAIL, Data: err}
		}
		o.store.IndexBySpi(o.sa)
		return state.StateEvent{Event: state.SUCCESS}
	}

	nt, err := handlers.CheckInitRequest(o.cfg, o.cookieSecret, o.requireCookie, d, o.remote)
	if err != nil {
		if nt != 0 {
			o.sendInitError(d, nt)
		}
		return state.StateEvent{}
	}
	o.sa.SpiI = d.IkeHeader.SpiI
	o.sa.SpiR = makeSpi()
	o.sa.Flags.SeenPPK = o.cfg.PPK != config.PPKDisabled && d.HasNotify(protocol.USE_PPK)
	b, err := handlers.BuildInitResponse(o.cfg, o.sa, d, o.local, o.remote)
	if err != nil {
		return state.StateEvent{Event: state.INIT_FAIL, Data: err}
	}
	if err := handlers.HandleInitRequestAfterCheck(o.sa, d); err != nil {
		return state.StateEvent{Event: state.INIT_FAIL, Data: err}
	}
	raw := b.EncodeCleartext()
	o.sa.InitRb = raw
	o.sa.LastReply = raw
	o.store.IndexBySpi(o.sa)
	o.send(raw)
	return state.StateEvent{}
}

// HandleIntermediate handles one IKE_INTERMEDIATE round. The responder
// branch replies inline and stays at STATE_AUTH (NONE); the initiator
// branch (reachable only if this session sent an intermediate request,
// which SendAuth does not do — see DESIGN.md) folds the reply into the
// AUTH signature input and advances toward SendAuth.
func (o *Session) HandleIntermediate(msg interface{}) state.StateEvent {
	d := msg.(*message.Digest)
	if d.IsResponse {
		if o.retransmit != nil {
			o.retransmit.Stop()
		}
		if err := handlers.HandleIntermediateResponse(o.sa, d, o.ikLogger); err != nil {
			return state.StateEvent{Event: state.INIT_FAIL, Data: err}
		}
		return state.StateEvent{Event: state.SUCCESS}
	}
	raw, err := handlers.BuildIntermediateResponse(o.sa, d, o.ikLogger)
	if err != nil {
		return state.StateEvent{Event: state.INIT_FAIL, Data: err}
	}
	o.sa.LastReply = raw
	o.send(raw)
	return state.StateEvent{}
}

// SendAuth is the initiator's STATE_AUTH,SUCCESS action. It never runs
// an IKE_INTERMEDIATE round of its own first, even when the responder's
// IKE_SA_INIT reply advertised support for one (see DESIGN.md).
func (o *Session) SendAuth() state.StateEvent {
	b, child, err := handlers.BuildAuthRequest(o.cfg, o.sa, o.ids, o.ap, o.local, o.remote)
	if err != nil {
		return state.StateEvent{Event: state.AUTH_FAIL, Data: err}
	}
	o.pendingChild = &handlers.CreateChildRequest{NewChild: child}
	o.sa.MsgIdNextSend++
	if err := o.encryptAndSend(b); err != nil {
		return state.StateEvent{Event: state.AUTH_FAIL, Data: err}
	}
	o.retransmit = timers.StartRetransmit(o.cfg, o.Fsm, func() error { o.send(o.sa.LastReply); return nil })
	return state.StateEvent{}
}

// HandleIkeAuth processes the IKE_AUTH exchange for either role; both
// branches return SUCCESS, since both sides install their first Child
// SA as soon as authentication completes.
func (o *Session) HandleIkeAuth(msg interface{}) state.StateEvent {
	d := msg.(*message.Digest)

	if o.sa.IsInitiator {
		if o.retransmit != nil {
			o.retransmit.Stop()
		}
		pc := o.pendingChild
		if pc == nil || pc.NewChild == nil {
			return state.StateEvent{Event: state.AUTH_FAIL, Data: fmt.Errorf("ike: unexpected IKE_AUTH response")}
		}
		_, nt, err := handlers.HandleAuthResponse(o.sa, o.ids, o.verifier, pc.NewChild, d)
		if err != nil {
			o.pendingChild = nil
			if nt != 0 {
				return state.StateEvent{Event: state.AUTH_FAIL, Data: nt}
			}
			return state.StateEvent{Event: state.AUTH_FAIL, Data: err}
		}
		pc.NewChild.SpiOut = peerProposalSpi(d, protocol.ESP)
		return state.StateEvent{Event: state.SUCCESS}
	}

	nt, err := handlers.CheckAuthRequest(o.cfg, o.sa, o.ids, o.ppks, o.verifier, d)
	if err != nil {
		o.sendAuthError(d, nt)
		return state.StateEvent{Event: state.AUTH_FAIL, Data: err}
	}
	b, child, err := handlers.BuildAuthResponse(o.cfg, o.sa, o.ids, o.ap, d, o.local, o.remote)
	if err != nil {
		return state.StateEvent{Event: state.AUTH_FAIL, Data: err}
	}
	child.SpiOut = peerProposalSpi(d, protocol.ESP)
	o.pendingChild = &handlers.CreateChildRequest{NewChild: child}
	if err := o.encryptAndSend(b); err != nil {
		return state.StateEvent{Event: state.AUTH_FAIL, Data: err}
	}
	return state.StateEvent{Event: state.SUCCESS}
}

// InstallSa is STATE_MATURE,SUCCESS's action: a thin dispatcher that
// spawns the Child SA just negotiated (via its own Fsm, see spawnChild)
// and reschedules a predecessor being rekeyed onto its shorter
// replace-grace window.
func (o *Session) InstallSa() state.StateEvent {
	pc := o.pendingChild
	o.pendingChild = nil
	if pc == nil {
		return state.StateEvent{}
	}
	if pc.NewChild != nil {
		o.spawnChild(pc.NewChild)
	}
	if pc.RekeyChild != nil {
		timers.ScheduleChildReplace(o.cfg, pc.RekeyChild)
		if fsm, ok := o.childFsms[pc.RekeyChild.Serial]; ok {
			timers.At(pc.RekeyChild.ExpireDeadline, fsm, state.DELETE_CHILD_SA)
		}
	}
	return state.StateEvent{}
}

// RemoveSa tears down every Child SA and this IkeSA's Store entry. It
// is idempotent: handlers.HandleInformationalRequest's IKE-delete branch
// already calls store.Remove itself, so a RemoveSa that runs afterward
// (every close path eventually posts DELETE_IKE_SA) finds sa.Children
// already nil and store.Remove a no-op.
func (o *Session) RemoveSa() state.StateEvent {
	if o.retransmit != nil {
		o.retransmit.Stop()
	}
	if o.liveness != nil {
		o.liveness.Stop()
	}
	for _, child := range append([]*state.ChildSA{}, o.sa.Children...) {
		o.removeChild(child)
	}
	o.store.Remove(o.sa)
	return state.StateEvent{}
}

// HandleClose is deliberately a no-op: Close already sent the
// Delete(IKE SA) request before posting DELETE_IKE_SA, and a
// peer-initiated delete was already acked and removed from the store
// inside CheckSa's call to handlers.HandleInformationalRequest.
func (o *Session) HandleClose(msg interface{}) state.StateEvent {
	return state.StateEvent{}
}

// HandleCreateChildSa processes one CREATE_CHILD_SA exchange: a new
// Child, a Child rekey, or an IKE SA rekey, for either role.
func (o *Session) HandleCreateChildSa(msg interface{}) state.StateEvent {
	d := msg.(*message.Digest)

	if d.IsResponse {
		if o.retransmit != nil {
			o.retransmit.Stop()
		}
		out := o.pendingCreateChild
		o.pendingCreateChild = nil
		if out == nil {
			return state.StateEvent{Event: state.REKEY_FAIL, Data: fmt.Errorf("ike: unexpected CREATE_CHILD_SA response")}
		}
		child, keys, _, nt, err := handlers.HandleCreateChildResponse(o.sa, out, d)
		if err != nil {
			if nt != 0 {
				return state.StateEvent{Event: state.REKEY_FAIL, Data: nt}
			}
			return state.StateEvent{Event: state.REKEY_FAIL, Data: err}
		}
		if out.RekeyIke {
			o.rekeyIkeKeys(keys)
			return state.StateEvent{Event: state.SUCCESS}
		}
		child.SpiOut = peerProposalSpi(d, protocol.ESP)
		o.pendingChild = &handlers.CreateChildRequest{NewChild: child, RekeyChild: out.RekeyChild}
		return state.StateEvent{Event: state.SUCCESS}
	}

	if o.pendingCreateChild != nil && o.pendingCreateChild.RekeyIke && handlers.IsIkeRekeyRequest(d) {
		if theirNonce, err := handlers.RequestNonce(d); err == nil {
			if handlers.ResolveSimultaneousRekey(o.pendingCreateChild.Nonce, theirNonce) {
				// we win the collision: reject their request, our own
				// outgoing rekey stays in flight.
				o.sendChildError(d, protocol.TEMPORARY_FAILURE)
				return state.StateEvent{}
			}
			// we lose: abandon our own outgoing rekey and process theirs.
			if o.retransmit != nil {
				o.retransmit.Stop()
			}
			o.pendingCreateChild = nil
		}
	}

	b, child, keys, nt, err := handlers.HandleCreateChildRequest(o.cfg, o.sa, o.store, d)
	if err != nil {
		o.sendChildError(d, nt)
		return state.StateEvent{Event: state.REKEY_FAIL, Data: err}
	}
	if keys != nil {
		o.rekeyIkeKeys(keys)
		if err := o.encryptAndSend(b); err != nil {
			return state.StateEvent{Event: state.REKEY_FAIL, Data: err}
		}
		return state.StateEvent{Event: state.SUCCESS}
	}
	child.SpiOut = peerProposalSpi(d, protocol.ESP)
	var rekeyOld *state.ChildSA
	if child.Predecessor != 0 {
		for _, c := range o.sa.Children {
			if c.Serial == child.Predecessor {
				rekeyOld = c
				break
			}
		}
	}
	o.pendingChild = &handlers.CreateChildRequest{NewChild: child, RekeyChild: rekeyOld}
	if err := o.encryptAndSend(b); err != nil {
		return state.StateEvent{Event: state.REKEY_FAIL, Data: err}
	}
	return state.StateEvent{Event: state.SUCCESS}
}

// CheckSa processes an INFORMATIONAL exchange: Delete/liveness/MOBIKE
// for either role, diffing sa.Children before/after a request to learn
// which childFsms (if any) need draining.
func (o *Session) CheckSa(msg interface{}) state.StateEvent {
	d := msg.(*message.Digest)

	if d.IsResponse {
		if o.retransmit != nil {
			o.retransmit.Stop()
		}
		if err := handlers.HandleInformationalResponse(o.sa, d); err != nil {
			return state.StateEvent{Event: state.FAIL, Data: err}
		}
		return state.StateEvent{}
	}

	before := make(map[uint64]bool, len(o.sa.Children))
	for _, c := range o.sa.Children {
		before[c.Serial] = true
	}

	resp, ikeDeleted, redirect, err := handlers.HandleInformationalRequest(o.cfg, o.sa, o.store, o.installer, d, o.local)
	if err != nil {
		return state.StateEvent{Event: state.FAIL, Data: err}
	}
	if redirect != nil {
		log.Infof(o.Tag()+"peer requested redirect to %x", redirect.GwIdent)
	}
	for serial := range before {
		still := false
		for _, c := range o.sa.Children {
			if c.Serial == serial {
				still = true
				break
			}
		}
		if !still {
			if fsm, ok := o.childFsms[serial]; ok {
				fsm.CloseEvents()
				delete(o.childFsms, serial)
			}
		}
	}
	if resp != nil {
		if err := o.encryptAndSend(resp); err != nil {
			return state.StateEvent{Event: state.FAIL, Data: err}
		}
	}
	if ikeDeleted {
		return state.StateEvent{Event: state.DELETE_IKE_SA}
	}
	return state.StateEvent{}
}

// CheckError logs a peer notification or local error that was not
// already acted on by the handler that produced it.
func (o *Session) CheckError(msg interface{}) state.StateEvent {
	if nt, ok := msg.(protocol.NotificationType); ok {
		log.Infof(o.Tag()+"peer notified: %s", nt)
	} else if err, ok := msg.(error); ok {
		log.Error(o.Tag()+"session failed: ", err)
	}
	return state.StateEvent{}
}

// Finished drains the outgoing queue before closing everything down, so
// the last response (a Delete-IKE ack, say) is not lost underneath us.
func (o *Session) Finished() state.StateEvent {
	if queued := len(o.outgoing); queued > 0 {
		o.PostEvent(state.StateEvent{Event: state.FINISHED})
		return state.StateEvent{}
	}
	close(o.incoming)
	close(o.outgoing)
	o.CloseEvents()
	log.Info(o.Tag() + "finished")
	o.cancel(context.Canceled)
	return state.StateEvent{}
}

// StartRetryTimeout is never called by state.NewIkeTransitions(); every
// retransmit is instead armed directly by SendInit/SendAuth/
// startChildRekey/sendLivenessProbe at the point each sends a request.
func (o *Session) StartRetryTimeout() state.StateEvent { return state.StateEvent{} }

// child management

func (o *Session) spawnChild(child *state.ChildSA) {
	o.sa.Children = append(o.sa.Children, child)
	o.store.IndexChild(o.sa, child.SpiOut)
	fsm := state.NewFsm(state.STATE_START, state.NewChildTransitions(), &childCallbacks{o: o, child: child})
	o.childFsms[child.Serial] = fsm
	fsm.HandleEvent(state.StateEvent{Event: state.SUCCESS})
}

func childDirectionKeys(keys *crypto.ChildKeys, isInitiator bool, dir platform.Direction) (encr, auth []byte) {
	sendEncr, sendAuth := keys.EspEi, keys.EspAi
	recvEncr, recvAuth := keys.EspEr, keys.EspAr
	if !isInitiator {
		sendEncr, sendAuth, recvEncr, recvAuth = keys.EspEr, keys.EspAr, keys.EspEi, keys.EspAi
	}
	if dir == platform.DirectionOut {
		return sendEncr, sendAuth
	}
	return recvEncr, recvAuth
}

// installChild programs both directions of child's kernel SA via the
// shared async.Runner, keeping the potentially slow platform.Installer
// call off the event loop. EncrTransform/AuthTransform are re-derived
// from cfg.ProposalEsp rather than carried on crypto.CipherSuite, which
// keeps no record of which transform ID it was built from (see
// DESIGN.md).
func (o *Session) installChild(child *state.ChildSA) state.StateEvent {
	local := addrIP(o.local)
	remote := addrIP(o.remote)
	encr := protocol.EncrTransformId(o.cfg.ProposalEsp[protocol.TRANSFORM_TYPE_ENCR].Transform.TransformId)
	auth := protocol.AuthTransformId(o.cfg.ProposalEsp[protocol.TRANSFORM_TYPE_INTEG].Transform.TransformId)

	inEncr, inAuth := childDirectionKeys(child.Keys, o.sa.IsInitiator, platform.DirectionIn)
	outEncr, outAuth := childDirectionKeys(child.Keys, o.sa.IsInitiator, platform.DirectionOut)

	inParams := &platform.SaParams{
		IsInitiator: o.sa.IsInitiator, Direction: platform.DirectionIn,
		LocalAddr: local, RemoteAddr: remote, Spi: child.SpiIn,
		EncrTransform: encr, EncrKey: inEncr, AuthTransform: auth, AuthKey: inAuth,
		IsTransportMode: child.IsTransportMode, IpCompEnabled: child.IpCompEnabled, IpCompCpi: child.IpCompCpi,
		TsLocal: child.TsLocal, TsRemote: child.TsRemote,
	}
	outParams := &platform.SaParams{
		IsInitiator: o.sa.IsInitiator, Direction: platform.DirectionOut,
		LocalAddr: local, RemoteAddr: remote, Spi: child.SpiOut,
		EncrTransform: encr, EncrKey: outEncr, AuthTransform: auth, AuthKey: outAuth,
		IsTransportMode: child.IsTransportMode, IpCompEnabled: child.IpCompEnabled, IpCompCpi: child.IpCompCpi,
		TsLocal: child.TsRemote, TsRemote: child.TsLocal,
	}

	task := func() (interface{}, error) {
		if err := o.installer.InstallSA(inParams); err != nil {
			return nil, err
		}
		if err := o.installer.InstallSA(outParams); err != nil {
			return nil, err
		}
		return nil, nil
	}
	cb := func(_ interface{}, err error) state.StateEvent {
		if err != nil {
			return state.StateEvent{Event: state.FAIL, Data: err}
		}
		timers.ScheduleChildLifetime(o.cfg, child)
		if fsm, ok := o.childFsms[child.Serial]; ok {
			timers.At(child.ExpireDeadline, fsm, state.DELETE_CHILD_SA)
		}
		if len(o.sa.Children) == 1 {
			timers.ScheduleIkeLifetimes(o.cfg, o.sa)
			timers.At(o.sa.RekeyDeadline, o.Fsm, state.REKEY_TIMEOUT)
			timers.At(o.sa.ReplaceDeadline, o.Fsm, state.REPLACE_TIMEOUT)
			timers.At(o.sa.ExpireDeadline, o.Fsm, state.EXPIRE_TIMEOUT)
			o.liveness = timers.StartLiveness(o.cfg, o.sa, func() {
				o.PostEvent(state.StateEvent{Event: state.LIVENESS_TIMEOUT})
			})
		}
		return state.StateEvent{}
	}
	fsm := o.childFsms[child.Serial]
	o.runner.Submit(o.Context, child.Serial, fsm, task, cb)
	return state.StateEvent{}
}

func (o *Session) removeChild(child *state.ChildSA) {
	local := addrIP(o.local)
	remote := addrIP(o.remote)
	_ = o.installer.DeleteSA(&platform.SaParams{Direction: platform.DirectionIn, LocalAddr: local, RemoteAddr: remote, Spi: child.SpiIn})
	_ = o.installer.DeleteSA(&platform.SaParams{Direction: platform.DirectionOut, LocalAddr: local, RemoteAddr: remote, Spi: child.SpiOut})
	for i, c := range o.sa.Children {
		if c.Serial == child.Serial {
			o.sa.Children = append(o.sa.Children[:i], o.sa.Children[i+1:]...)
			break
		}
	}
	if fsm, ok := o.childFsms[child.Serial]; ok {
		fsm.CloseEvents()
		delete(o.childFsms, child.Serial)
	}
}

func (o *Session) rekeyIkeKeys(keys *crypto.Keys) {
	o.sa.Keys = keys
	timers.ScheduleIkeLifetimes(o.cfg, o.sa)
	timers.At(o.sa.RekeyDeadline, o.Fsm, state.REKEY_TIMEOUT)
	timers.At(o.sa.ReplaceDeadline, o.Fsm, state.REPLACE_TIMEOUT)
	timers.At(o.sa.ExpireDeadline, o.Fsm, state.EXPIRE_TIMEOUT)
}

// startChildRekey is REKEY_TIMEOUT's handler: it rekeys the oldest
// surviving Child SA proactively, well before ReplaceDeadline/
// ExpireDeadline would otherwise force a hard teardown (see Run).
// Rekeying the IKE SA itself is left to an explicit
// handlers.BuildCreateChildRequest(rekeyIke=true) call a deployment's
// policy layer can invoke directly, rather than a second automatic
// timer (see DESIGN.md).
func (o *Session) startChildRekey() {
	if len(o.sa.Children) == 0 || o.pendingCreateChild != nil {
		return
	}
	old := o.sa.Children[0]
	b, out, err := handlers.BuildCreateChildRequest(o.cfg, o.sa, old, false, 0)
	if err != nil {
		log.Error(o.Tag()+"child rekey build failed: ", err)
		return
	}
	o.pendingCreateChild = out
	if err := o.encryptAndSend(b); err != nil {
		log.Error(o.Tag()+"child rekey send failed: ", err)
		return
	}
	o.retransmit = timers.StartRetransmit(o.cfg, o.Fsm, func() error { o.send(o.sa.LastReply); return nil })
}

func (o *Session) sendLivenessProbe() {
	b := handlers.BuildEmptyInformational(o.sa, false, o.sa.MsgIdNextSend)
	o.sa.MsgIdNextSend++
	if err := o.encryptAndSend(b); err != nil {
		return
	}
	o.retransmit = timers.StartRetransmit(o.cfg, o.Fsm, func() error { o.send(o.sa.LastReply); return nil })
}

// package-level helpers

func makeSpi() (spi protocol.Spi) {
	_, _ = rand.Read(spi[:])
	return
}

// peerProposalSpi extracts the SPI the peer's own chosen proposal (in
// d) carries for prot, the value this side must use as its ChildSA's
// SpiOut. handlers/auth.go's newChildProposal only ever fills in
// SpiIn; the matching SpiOut always comes from our own inbound digest,
// whether that's the initiator reading a response or the responder
// reading a request.
func peerProposalSpi(d *message.Digest, prot protocol.ProtocolId) (spi [4]byte) {
	sa, ok := d.Payloads.Get(protocol.PayloadTypeSA).(*protocol.SaPayload)
	if !ok {
		return
	}
	for _, p := range sa.Proposals {
		if p.ProtocolId == prot && len(p.Spi) >= 4 {
			copy(spi[:], p.Spi[:4])
			return
		}
	}
	return
}

func addrIP(addr net.Addr) net.IP {
	if u, ok := addr.(*net.UDPAddr); ok {
		return u.IP
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return net.ParseIP(addr.String())
	}
	return net.ParseIP(host)
}
