package handlers

import (
	"crypto/rand"
	"fmt"
	"net"

	"github.com/msgboxio/ike/config"
	"github.com/msgboxio/ike/crypto"
	"github.com/msgboxio/ike/message"
	"github.com/msgboxio/ike/platform"
	"github.com/msgboxio/ike/protocol"
	"github.com/msgboxio/ike/state"
)

// AuthParams collects the per-connection choices BuildAuthRequest/
// BuildAuthResponse need beyond cfg/sa: which identity to assert, how to
// authenticate it, and (for digital-signature methods) the key material to
// sign with. RFC 7619's NULL authentication is selected by setting Method
// to NULL_AUTH_METHOD, which sends a zero-length AUTH value and no extra
// notify.
type AuthParams struct {
	IdType protocol.IdType
	Method protocol.AuthMethod
	Signer crypto.Signer // required unless Method is SHARED_KEY_MESSAGE_INTEGRITY_CODE or NULL_AUTH_METHOD
	Certs  [][]byte       // CERT payload chain to send, leaf first; nil to omit
}

// BuildAuthRequest assembles the initiator's IKE_AUTH request: IDi, an
// optional CERT chain, AUTH, and the SAi2/TSi/TSr triple proposing the
// first Child SA. sa must already carry the key schedule from
// HandleInitResponse. Grounded on tkm.go's Auth/AuthId, generalized past
// its single PSK path to the full id/cert/auth/child flow spec.md §4.7
// names.
func BuildAuthRequest(cfg *config.Config, sa *state.IkeSA, ids platform.IdentityStore, ap AuthParams, local, remote net.Addr) (*message.Builder, *state.ChildSA, error) {
	if sa.Keys == nil {
		return nil, nil, fmt.Errorf("handlers: BuildAuthRequest called before key schedule exists")
	}
	idI := protocol.NewIdPayload(false, ap.IdType, ids.ForAuthentication(ap.IdType))

	ppkId, err := resolveLocalPpk(cfg, sa)
	if err != nil {
		return nil, nil, err
	}

	auth, err := signAuth(sa, ids, ap, idI, sa.InitIb, sa.Nr, []byte(sa.Keys.SkPi))
	if err != nil {
		return nil, nil, err
	}

	child, err := newChildProposal(cfg, sa, true)
	if err != nil {
		return nil, nil, err
	}

	b := message.NewBuilder(&protocol.IkeHeader{
		SpiI:         sa.SpiI,
		SpiR:         sa.SpiR,
		MajorVersion: protocol.IKEV2_MAJOR_VERSION,
		MinorVersion: protocol.IKEV2_MINOR_VERSION,
		ExchangeType: protocol.IKE_AUTH,
		Flags:        protocol.INITIATOR,
		MsgId:        sa.MsgIdNextSend,
	})
	b.Add(idI)
	for _, c := range ap.Certs {
		b.Add(&protocol.CertPayload{PayloadHeader: &protocol.PayloadHeader{}, Encoding: protocol.CERT_X509_SIGNATURE, Data: c})
	}
	b.Add(&protocol.AuthPayload{PayloadHeader: &protocol.PayloadHeader{}, Method: ap.Method, Data: auth})
	if ppkId != nil {
		b.Add(&protocol.NotifyPayload{PayloadHeader: &protocol.PayloadHeader{}, ProtocolId: protocol.IKE, NotificationType: protocol.PPK_IDENTITY, Data: ppkId})
	} else if sa.Flags.SeenPPK {
		b.Add(&protocol.NotifyPayload{PayloadHeader: &protocol.PayloadHeader{}, ProtocolId: protocol.IKE, NotificationType: protocol.NO_PPK_AUTH})
	}
	addChildProposal(b, cfg, child, true)
	return b, child, nil
}

// resolveLocalPpk swaps sa.Keys for the full PPK-mixed derivation (of
// which only SK_d/SK_pi/SK_pr are used, per RFC 8784 4.1; Session keeps
// taking SK_e/SK_a from NoPpkKeys) when this side negotiated USE_PPK and has
// a PPK configured for this connection, returning the identity to assert
// in the PPK_IDENTITY notify. It returns nil, nil when PPK isn't in play,
// leaving sa.Keys as the plain no-PPK derivation.
func resolveLocalPpk(cfg *config.Config, sa *state.IkeSA) ([]byte, error) {
	if !sa.Flags.SeenPPK || cfg.PPK == config.PPKDisabled {
		return nil, nil
	}
	id, secret, ok := cfg.PPKIdentities.Pick()
	if !ok {
		if cfg.PPK == config.PPKRequired {
			return nil, fmt.Errorf("handlers: ppk required but none configured")
		}
		return nil, nil
	}
	keys, err := ResolvePpkKeys(sa, secret)
	if err != nil {
		return nil, err
	}
	sa.Keys = keys
	return id, nil
}

// CheckAuthRequest validates an inbound IKE_AUTH request: required
// payloads present, the initiator's AUTH verifies against ids/verifier,
// and the proposed Child SA is acceptable under cfg. On failure it
// returns the notify type the responder should reply with (RFC 7296
// 2.21.2's "if the first message doesn't authenticate, the only payload
// in the response is a notify").
func CheckAuthRequest(cfg *config.Config, sa *state.IkeSA, ids platform.IdentityStore, ppks platform.PPKStore, verifier func(idData []byte, certs [][]byte) (crypto.Verifier, error), req *message.Digest) (protocol.NotificationType, error) {
	if err := req.EnsurePayloads([]protocol.PayloadType{protocol.PayloadTypeIDi, protocol.PayloadTypeAUTH, protocol.PayloadTypeSA, protocol.PayloadTypeTSi, protocol.PayloadTypeTSr}); err != nil {
		return protocol.INVALID_SYNTAX, err
	}
	idI := req.Payloads.Get(protocol.PayloadTypeIDi).(*protocol.IdPayload)
	authPayload := req.Payloads.Get(protocol.PayloadTypeAUTH).(*protocol.AuthPayload)

	if err := resolvePeerPpk(cfg, sa, ppks, req); err != nil {
		return protocol.AUTHENTICATION_FAILED, err
	}

	signed := crypto.SignedOctets(sa.Suite.Prf, sa.InitIb, sa.Nr, []byte(sa.Keys.SkPi), idI.Encode())
	if err := verifyAuth(sa, ids, verifier, authPayload, idI, signed); err != nil {
		return protocol.AUTHENTICATION_FAILED, err
	}

	if err := cfg.CheckFromAuth(req); err != nil {
		return protocol.TS_UNACCEPTABLE, err
	}
	sa.PeerIdentity = append([]byte{}, idI.Data...)
	return 0, nil
}

// resolvePeerPpk handles the responder's side of RFC 8784's negotiation:
// if sa negotiated USE_PPK, the initiator's IKE_AUTH must carry either
// PPK_IDENTITY (resolved against ppks, then mixed into sa.Keys the same
// way resolveLocalPpk does) or NO_PPK_AUTH (accepted only when this
// side's policy doesn't require one). A required PPK with neither notify
// present, or an identity ppks doesn't recognize, fails authentication.
func resolvePeerPpk(cfg *config.Config, sa *state.IkeSA, ppks platform.PPKStore, req *message.Digest) error {
	if !sa.Flags.SeenPPK || cfg.PPK == config.PPKDisabled {
		return nil
	}
	if ids := req.NotifyPayloads(protocol.PPK_IDENTITY); len(ids) > 0 {
		if ppks == nil {
			return fmt.Errorf("handlers: peer sent PPK_IDENTITY but no PPKStore is configured")
		}
		secret, ok := ppks.LookupByID(ids[0].Data)
		if !ok {
			return fmt.Errorf("handlers: unknown ppk identity %x", ids[0].Data)
		}
		keys, err := ResolvePpkKeys(sa, secret)
		if err != nil {
			return err
		}
		sa.Keys = keys
		return nil
	}
	if req.HasNotify(protocol.NO_PPK_AUTH) {
		if cfg.PPK == config.PPKRequired {
			return fmt.Errorf("handlers: peer fell back to NO_PPK_AUTH but ppk is required")
		}
		return nil
	}
	if cfg.PPK == config.PPKRequired {
		return fmt.Errorf("handlers: ppk required but peer sent neither PPK_IDENTITY nor NO_PPK_AUTH")
	}
	return nil
}

// BuildAuthResponse assembles the responder's IKE_AUTH reply once
// CheckAuthRequest has accepted req: IDr, AUTH, and the narrowed
// SAi2/TSi/TSr triple completing the first Child SA. It also derives and
// returns that ChildSA so the caller can hand it to platform.Installer.
func BuildAuthResponse(cfg *config.Config, sa *state.IkeSA, ids platform.IdentityStore, ap AuthParams, req *message.Digest, local, remote net.Addr) (*message.Builder, *state.ChildSA, error) {
	idR := protocol.NewIdPayload(true, ap.IdType, ids.ForAuthentication(ap.IdType))

	auth, err := signAuth(sa, ids, ap, idR, sa.InitRb, sa.Ni, []byte(sa.Keys.SkPr))
	if err != nil {
		return nil, nil, err
	}

	reqSa := req.Payloads.Get(protocol.PayloadTypeSA).(*protocol.SaPayload)
	reqTsI := req.Payloads.Get(protocol.PayloadTypeTSi).(*protocol.TrafficSelectorPayload)
	reqTsR := req.Payloads.Get(protocol.PayloadTypeTSr).(*protocol.TrafficSelectorPayload)

	child, err := newChildProposal(cfg, sa, false)
	if err != nil {
		return nil, nil, err
	}
	child.TsLocal = narrowSelectors(cfg.TsR, reqTsR.Selectors)
	child.TsRemote = narrowSelectors(cfg.TsI, reqTsI.Selectors)

	childKeys, err := crypto.DeriveChildKeys(child.Suite, sa.Keys.SkD, sa.Ni, sa.Nr)
	if err != nil {
		return nil, nil, err
	}
	child.Keys = childKeys

	b := message.NewBuilder(&protocol.IkeHeader{
		SpiI:         sa.SpiI,
		SpiR:         sa.SpiR,
		MajorVersion: protocol.IKEV2_MAJOR_VERSION,
		MinorVersion: protocol.IKEV2_MINOR_VERSION,
		ExchangeType: protocol.IKE_AUTH,
		Flags:        protocol.RESPONSE,
		MsgId:        req.IkeHeader.MsgId,
	})
	b.Add(idR)
	for _, c := range ap.Certs {
		b.Add(&protocol.CertPayload{PayloadHeader: &protocol.PayloadHeader{}, Encoding: protocol.CERT_X509_SIGNATURE, Data: c})
	}
	b.Add(&protocol.AuthPayload{PayloadHeader: &protocol.PayloadHeader{}, Method: ap.Method, Data: auth})
	b.Add(&protocol.SaPayload{PayloadHeader: &protocol.PayloadHeader{}, Proposals: protocol.ProposalFromTransforms(protocol.ESP, cfg.ProposalEsp, child.SpiIn[:])})
	b.Add(protocol.NewTrafficSelectorPayload(false, child.TsRemote...))
	b.Add(protocol.NewTrafficSelectorPayload(true, child.TsLocal...))
	_ = reqSa // the ESP proposal itself was already validated by CheckFromAuth
	return b, child, nil
}

// HandleAuthResponse completes the initiator's side: verifies the
// responder's AUTH, narrows the negotiated Child SA's selectors against
// what came back, and derives its KEYMAT.
func HandleAuthResponse(sa *state.IkeSA, ids platform.IdentityStore, verifier func(idData []byte, certs [][]byte) (crypto.Verifier, error), child *state.ChildSA, resp *message.Digest) (state.Verdict, protocol.NotificationType, error) {
	if resp.HasNotify(protocol.AUTHENTICATION_FAILED) {
		return state.FATAL, protocol.AUTHENTICATION_FAILED, protocol.ErrF(protocol.ERR_AUTHENTICATION_FAILED, "responder rejected our AUTH")
	}
	if err := resp.EnsurePayloads([]protocol.PayloadType{protocol.PayloadTypeIDr, protocol.PayloadTypeAUTH, protocol.PayloadTypeSA, protocol.PayloadTypeTSi, protocol.PayloadTypeTSr}); err != nil {
		return state.FATAL, protocol.INVALID_SYNTAX, err
	}
	idR := resp.Payloads.Get(protocol.PayloadTypeIDr).(*protocol.IdPayload)
	authPayload := resp.Payloads.Get(protocol.PayloadTypeAUTH).(*protocol.AuthPayload)

	signed := crypto.SignedOctets(sa.Suite.Prf, sa.InitRb, sa.Ni, []byte(sa.Keys.SkPr), idR.Encode())
	if err := verifyAuth(sa, ids, verifier, authPayload, idR, signed); err != nil {
		return state.FAIL_NOTIFY, protocol.AUTHENTICATION_FAILED, err
	}
	sa.PeerIdentity = append([]byte{}, idR.Data...)

	tsI := resp.Payloads.Get(protocol.PayloadTypeTSi).(*protocol.TrafficSelectorPayload)
	tsR := resp.Payloads.Get(protocol.PayloadTypeTSr).(*protocol.TrafficSelectorPayload)
	child.TsLocal = tsI.Selectors
	child.TsRemote = tsR.Selectors

	keys, err := crypto.DeriveChildKeys(child.Suite, sa.Keys.SkD, sa.Ni, sa.Nr)
	if err != nil {
		return state.FATAL, 0, err
	}
	child.Keys = keys
	return state.OK, 0, nil
}

// signAuth computes the AUTH payload's data for whichever method ap
// selects: the PSK formula (RFC 7296 2.15) for
// SHARED_KEY_MESSAGE_INTEGRITY_CODE, a zero-length value for
// NULL_AUTH_METHOD (RFC 7619's AUTH is empty, authentication is carried
// entirely by the method choice itself), or ap.Signer otherwise.
func signAuth(sa *state.IkeSA, ids platform.IdentityStore, ap AuthParams, idPayload *protocol.IdPayload, firstMessage, peerNonce, skP []byte) ([]byte, error) {
	signed := crypto.SignedOctets(sa.Suite.Prf, firstMessage, peerNonce, skP, idPayload.Encode())
	switch ap.Method {
	case protocol.NULL_AUTH_METHOD:
		return nil, nil
	case protocol.SHARED_KEY_MESSAGE_INTEGRITY_CODE:
		psk, err := ids.AuthData(idPayload.Data, ap.Method)
		if err != nil {
			return nil, err
		}
		return crypto.SignAuthPsk(sa.Suite.Prf, psk, signed), nil
	default:
		if ap.Signer == nil {
			return nil, fmt.Errorf("handlers: auth method %s requires a Signer", ap.Method)
		}
		return ap.Signer.Sign(signed)
	}
}

// verifyAuth checks a peer's AUTH payload against signed, the octet
// string this side independently reconstructed.
func verifyAuth(sa *state.IkeSA, ids platform.IdentityStore, verifier func(idData []byte, certs [][]byte) (crypto.Verifier, error), authPayload *protocol.AuthPayload, idPayload *protocol.IdPayload, signed []byte) error {
	switch authPayload.Method {
	case protocol.NULL_AUTH_METHOD:
		return nil
	case protocol.SHARED_KEY_MESSAGE_INTEGRITY_CODE:
		psk, err := ids.AuthData(idPayload.Data, authPayload.Method)
		if err != nil {
			return err
		}
		want := crypto.SignAuthPsk(sa.Suite.Prf, psk, signed)
		if !constantTimeEqual(want, authPayload.Data) {
			return protocol.ErrF(protocol.ERR_AUTHENTICATION_FAILED, "psk auth mismatch")
		}
		return nil
	default:
		if verifier == nil {
			return fmt.Errorf("handlers: auth method %s requires a certificate verifier", authPayload.Method)
		}
		v, err := verifier(idPayload.Data, nil)
		if err != nil {
			return err
		}
		return v.Verify(signed, authPayload.Data)
	}
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}

// newChildProposal builds the ChildSA this side is about to propose
// (initiator) or has provisionally accepted (responder, before TS
// narrowing), with a fresh ESP cipher suite and inbound SPI.
func newChildProposal(cfg *config.Config, sa *state.IkeSA, isInitiator bool) (*state.ChildSA, error) {
	suite, err := crypto.NewCipherSuite(cfg.ProposalEsp)
	if err != nil {
		return nil, err
	}
	if err := suite.CheckEspTransforms(); err != nil {
		return nil, err
	}
	// ESP proposals carry no PRF transform of their own (RFC 7296 3.3.2);
	// child KEYMAT is always sliced with the parent IKE SA's negotiated
	// PRF (RFC 7296 2.17), so borrow it here rather than leaving it nil.
	suite.Prf = sa.Suite.Prf
	var spi [4]byte
	if _, err := rand.Read(spi[:]); err != nil {
		return nil, err
	}
	return &state.ChildSA{
		Parent:          sa.Serial,
		IsInitiator:     isInitiator,
		Suite:           suite,
		SpiIn:           spi,
		IsTransportMode: cfg.IsTransportMode,
		TsLocal:         cfg.TsI,
		TsRemote:        cfg.TsR,
	}, nil
}

func addChildProposal(b *message.Builder, cfg *config.Config, child *state.ChildSA, isInitiator bool) {
	b.Add(&protocol.SaPayload{PayloadHeader: &protocol.PayloadHeader{}, Proposals: protocol.ProposalFromTransforms(protocol.ESP, cfg.ProposalEsp, child.SpiIn[:])})
	b.Add(protocol.NewTrafficSelectorPayload(false, child.TsLocal...))
	b.Add(protocol.NewTrafficSelectorPayload(true, child.TsRemote...))
}

// narrowSelectors returns the configured selectors whenever any are
// configured, without checking them against the peer's offer (a
// configured range the peer did not offer is still returned); with none
// configured it passes the peer's own offer through unnarrowed. No
// subset-intersection narrowing across multiple selectors is done.
func narrowSelectors(configured, offered []*protocol.Selector) []*protocol.Selector {
	if len(configured) > 0 {
		return configured
	}
	return offered
}
