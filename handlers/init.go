package handlers

import (
	"bytes"
	"crypto/sha1"
	"math/big"
	"net"

	"github.com/msgboxio/ike/config"
	"github.com/msgboxio/ike/crypto"
	"github.com/msgboxio/ike/message"
	"github.com/msgboxio/ike/protocol"
	"github.com/msgboxio/ike/state"
)

// ErrMissingCookie is returned by CheckInitRequest when cfg requires a
// cookie challenge and the request carried none (RFC 7296 2.6).
var ErrMissingCookie = protocol.ErrF(protocol.ERR_INVALID_SYNTAX, "cookie required")

// BuildInitRequest assembles the initiator's first IKE_SA_INIT message:
// SA/KE/Ni plus NAT-detection and capability notifies. It generates a
// fresh DH keypair and nonce and stores them on sa for the eventual
// response to consume.
func BuildInitRequest(cfg *config.Config, sa *state.IkeSA, local, remote net.Addr) (*message.Builder, error) {
	suite, err := crypto.NewCipherSuite(cfg.ProposalIke)
	if err != nil {
		return nil, err
	}
	if err := suite.CheckIkeTransforms(); err != nil {
		return nil, err
	}
	sa.Suite = suite

	priv, pub, err := crypto.GenerateDhKey(suite)
	if err != nil {
		return nil, err
	}
	sa.DhLocalSecret = priv.Bytes()
	sa.DhLocalPublic = pub.Bytes()

	nonce, err := crypto.RandomNonce(32)
	if err != nil {
		return nil, err
	}
	sa.Ni = nonce

	b := message.NewBuilder(&protocol.IkeHeader{
		SpiI:         sa.SpiI,
		MajorVersion: protocol.IKEV2_MAJOR_VERSION,
		MinorVersion: protocol.IKEV2_MINOR_VERSION,
		ExchangeType: protocol.IKE_SA_INIT,
		MsgId:        0,
	})
	addInitPayloads(b, cfg, sa.SpiI, protocol.Spi{}, pub, nonce, local, remote)
	if cfg.PPK != config.PPKDisabled {
		b.Add(notifyPayload(protocol.IKE, protocol.USE_PPK, nil))
	}
	return b, nil
}

// CheckInitRequest validates an inbound IKE_SA_INIT request against
// cfg: cookie (if required), DH group, and proposal acceptability. On
// failure it returns the notify type that should be sent back, per RFC
// 7296 2.6/3.10.1's error-response rules for this exchange.
func CheckInitRequest(cfg *config.Config, secret CookieSecret, requireCookie bool, d *message.Digest, remote net.Addr) (protocol.NotificationType, error) {
	sa, ok := d.Payloads.Get(protocol.PayloadTypeSA).(*protocol.SaPayload)
	if !ok {
		return protocol.INVALID_SYNTAX, protocol.ErrF(protocol.ERR_INVALID_SYNTAX, "missing SA payload")
	}
	ke, ok := d.Payloads.Get(protocol.PayloadTypeKE).(*protocol.KePayload)
	if !ok {
		return protocol.INVALID_SYNTAX, protocol.ErrF(protocol.ERR_INVALID_SYNTAX, "missing KE payload")
	}
	nonce, ok := d.Payloads.Get(protocol.PayloadTypeNonce).(*protocol.NoncePayload)
	if !ok {
		return protocol.INVALID_SYNTAX, protocol.ErrF(protocol.ERR_INVALID_SYNTAX, "missing Nonce payload")
	}

	if requireCookie {
		cookies := d.NotifyPayloads(protocol.COOKIE)
		if len(cookies) == 0 {
			return protocol.COOKIE, ErrMissingCookie
		}
		want := MakeCookie(secret, nonce.Nonce.Bytes(), d.IkeHeader.SpiI, remote)
		if !bytes.Equal(cookies[0].Data, want) {
			return protocol.COOKIE, protocol.ErrF(protocol.ERR_INVALID_SYNTAX, "invalid cookie")
		}
	}

	wantDh := protocol.DhTransformId(cfg.ProposalIke[protocol.TRANSFORM_TYPE_DH].Transform.TransformId)
	if ke.DhTransformId != wantDh {
		return protocol.INVALID_KE_PAYLOAD, protocol.ErrF(protocol.ERR_INVALID_KE_PAYLOAD,
			"peer offered dh group %s, want %s", ke.DhTransformId, wantDh)
	}
	if err := cfg.CheckProposals(protocol.IKE, sa.Proposals); err != nil {
		return protocol.NO_PROPOSAL_CHOSEN, err
	}
	return 0, nil
}

// BuildInitResponse assembles the responder's IKE_SA_INIT reply after
// CheckInitRequest has already accepted req: a fresh DH keypair/nonce
// for this side, the negotiated proposal, and matching NAT-detection
// notifies.
func BuildInitResponse(cfg *config.Config, sa *state.IkeSA, req *message.Digest, local, remote net.Addr) (*message.Builder, error) {
	suite, err := crypto.NewCipherSuite(cfg.ProposalIke)
	if err != nil {
		return nil, err
	}
	sa.Suite = suite

	priv, pub, err := crypto.GenerateDhKey(suite)
	if err != nil {
		return nil, err
	}
	sa.DhLocalSecret = priv.Bytes()
	sa.DhLocalPublic = pub.Bytes()

	nonce, err := crypto.RandomNonce(32)
	if err != nil {
		return nil, err
	}
	sa.Nr = nonce

	b := message.NewBuilder(&protocol.IkeHeader{
		SpiI:         sa.SpiI,
		SpiR:         sa.SpiR,
		MajorVersion: protocol.IKEV2_MAJOR_VERSION,
		MinorVersion: protocol.IKEV2_MINOR_VERSION,
		ExchangeType: protocol.IKE_SA_INIT,
		Flags:        protocol.RESPONSE,
		MsgId:        0,
	})
	addInitPayloads(b, cfg, sa.SpiI, sa.SpiR, pub, nonce, local, remote)
	if sa.Flags.SeenPPK {
		b.Add(notifyPayload(protocol.IKE, protocol.USE_PPK, nil))
	}
	return b, nil
}

// addInitPayloads appends the SA/KE/Ni(Nr)/notify chain shared by both
// the initiator's request and the responder's response. spiR is the
// zero Spi on the initiator's own request, since the responder's SPI
// isn't known yet.
func addInitPayloads(b *message.Builder, cfg *config.Config, spiI, spiR protocol.Spi, dhPublic *big.Int, nonce []byte, local, remote net.Addr) {
	if !cfg.Impair.ShouldOmit("SA") {
		b.Add(&protocol.SaPayload{
			PayloadHeader: &protocol.PayloadHeader{},
			Proposals:     protocol.ProposalFromTransforms(protocol.IKE, cfg.ProposalIke, spiI[:]),
		})
	}
	if !cfg.Impair.ShouldOmit("KE") {
		dh := cfg.ProposalIke[protocol.TRANSFORM_TYPE_DH]
		keyData := dhPublic
		if cfg.Impair.ShouldEmitEmpty("KE") {
			keyData = new(big.Int)
		}
		b.Add(&protocol.KePayload{
			PayloadHeader: &protocol.PayloadHeader{},
			DhTransformId: protocol.DhTransformId(dh.Transform.TransformId),
			KeyData:       keyData,
		})
	}
	ni := &protocol.NoncePayload{
		PayloadHeader: &protocol.PayloadHeader{},
		Nonce:         new(big.Int).SetBytes(nonce),
	}
	b.Add(ni)
	if cfg.Impair.ShouldDuplicate("Ni") {
		b.Add(ni)
	}
	if cfg.EnableFragmentation {
		b.Add(notifyPayload(protocol.IKE, protocol.IKEV2_FRAGMENTATION_SUPPORTED, nil))
	}
	if !(cfg.Impair != nil && cfg.Impair.SkipHashNotify) {
		b.Add(notifyPayload(protocol.IKE, protocol.SIGNATURE_HASH_ALGORITHMS, signatureHashList()))
	}
	if local != nil {
		b.Add(notifyPayload(protocol.IKE, protocol.NAT_DETECTION_DESTINATION_IP, natHash(spiI, spiR, local)))
	}
	if remote != nil {
		b.Add(notifyPayload(protocol.IKE, protocol.NAT_DETECTION_SOURCE_IP, natHash(spiI, spiR, remote)))
	}
}

func notifyPayload(prot protocol.ProtocolId, nt protocol.NotificationType, data []byte) *protocol.NotifyPayload {
	return &protocol.NotifyPayload{
		PayloadHeader:    &protocol.PayloadHeader{},
		ProtocolId:       prot,
		NotificationType: nt,
		Data:             data,
	}
}

// signatureHashList announces support for SHA-256/384/512 under RFC
// 7427, the set the teacher's own checkSignatureAlgo cared about.
func signatureHashList() []byte {
	return []byte{0, 2, 0, 3, 0, 4}
}

func natHash(spiI, spiR protocol.Spi, addr net.Addr) []byte {
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		host = addr.String()
		portStr = "500"
	}
	ip := net.ParseIP(host)
	buf := append([]byte{}, spiI[:]...)
	buf = append(buf, spiR[:]...)
	buf = append(buf, ip.To4()...)
	port := parsePort(portStr)
	buf = append(buf, byte(port>>8), byte(port))
	sum := sha1.Sum(buf)
	return sum[:]
}

// HandleInitResponse completes the initiator's side of IKE_SA_INIT: it
// reads the peer's SPI/KE/Nonce out of resp, computes the DH shared
// secret against sa's own stored private value, and derives the full
// key schedule.
func HandleInitResponse(cfg *config.Config, sa *state.IkeSA, resp *message.Digest) (state.Verdict, protocol.NotificationType, error) {
	for _, nt := range []protocol.NotificationType{protocol.COOKIE, protocol.INVALID_KE_PAYLOAD, protocol.NO_PROPOSAL_CHOSEN} {
		if resp.HasNotify(nt) {
			return state.FAIL_NOTIFY, nt, protocol.ErrF(protocol.ERR_INVALID_SYNTAX, "responder sent %s", nt)
		}
	}
	sa.SpiR = resp.IkeHeader.SpiR
	if sa.SpiR == sa.SpiI {
		return state.FATAL, 0, protocol.ErrF(protocol.ERR_INVALID_SYNTAX, "responder reused our SPI")
	}

	ke, ok := resp.Payloads.Get(protocol.PayloadTypeKE).(*protocol.KePayload)
	if !ok {
		return state.FATAL, 0, protocol.ErrF(protocol.ERR_INVALID_SYNTAX, "missing KE payload")
	}
	nonce, ok := resp.Payloads.Get(protocol.PayloadTypeNonce).(*protocol.NoncePayload)
	if !ok {
		return state.FATAL, 0, protocol.ErrF(protocol.ERR_INVALID_SYNTAX, "missing Nonce payload")
	}
	sa.Nr = nonce.Nonce.Bytes()
	sa.DhPeerPublic = ke.KeyData.Bytes()

	sa.Flags.SeenPPK = cfg.PPK != config.PPKDisabled && resp.HasNotify(protocol.USE_PPK)
	if err := deriveIkeKeys(sa); err != nil {
		return state.FATAL, 0, err
	}
	sa.InitRb = resp.Raw()
	return state.OK, 0, nil
}

// HandleInitRequestAfterCheck completes the responder's side once
// CheckInitRequest has already accepted req and BuildInitResponse has
// generated this side's own DH keypair/nonce into sa: it pulls the
// peer's KE out of req and derives the shared key schedule.
func HandleInitRequestAfterCheck(sa *state.IkeSA, req *message.Digest) error {
	ke, ok := req.Payloads.Get(protocol.PayloadTypeKE).(*protocol.KePayload)
	if !ok {
		return protocol.ErrF(protocol.ERR_INVALID_SYNTAX, "missing KE payload")
	}
	nonce, ok := req.Payloads.Get(protocol.PayloadTypeNonce).(*protocol.NoncePayload)
	if !ok {
		return protocol.ErrF(protocol.ERR_INVALID_SYNTAX, "missing Nonce payload")
	}
	sa.Ni = nonce.Nonce.Bytes()
	sa.DhPeerPublic = ke.KeyData.Bytes()
	sa.InitIb = req.Raw()
	return deriveIkeKeys(sa)
}

// deriveIkeKeys always derives the no-PPK keyset first: SK_ei/SK_er/
// SK_ai/SK_ar (the keys that protect IKE_AUTH itself) are never PPK-mixed
// per RFC 8784 4.1, so sa.Keys starts out identical to sa.NoPpkKeys and
// only SK_d/SK_pi/SK_pr get replaced later, once a PPK is actually
// resolved (see ResolvePpkKeys, called from BuildAuthRequest/
// CheckAuthRequest once PPK_IDENTITY/NO_PPK_AUTH is known).
func deriveIkeKeys(sa *state.IkeSA) error {
	keys, err := sharedKeys(sa, nil)
	if err != nil {
		return err
	}
	sa.NoPpkKeys = keys
	sa.Keys = keys
	return nil
}

func sharedKeys(sa *state.IkeSA, ppk []byte) (*crypto.Keys, error) {
	shared, err := crypto.ComputeDhSharedSecret(sa.Suite, new(big.Int).SetBytes(sa.DhPeerPublic), new(big.Int).SetBytes(sa.DhLocalSecret))
	if err != nil {
		return nil, err
	}
	return crypto.DeriveIkeKeys(sa.Suite, sa.Ni, sa.Nr, shared, sa.SpiI, sa.SpiR, ppk)
}

// ResolvePpkKeys recomputes the IKE SA key schedule with ppk mixed in,
// reusing the DH values stored from IKE_SA_INIT. Per RFC 8784 4.1 only
// SK_d/SK_pi/SK_pr are meant to change; this implementation's key
// schedule mixes ppk earlier (into the DH shared secret, before
// SKEYSEED), so it recomputes the full set but callers only ever take
// SkD/SkPi/SkPr from the result — sa.NoPpkKeys (and Session.ourKeys/
// peerKeys, which always read from it) keeps driving SK_ei/er/ai/ar so
// the IKE_AUTH exchange's own encryption never depends on which PPK, if
// any, ends up resolved by the time this is called.
func ResolvePpkKeys(sa *state.IkeSA, ppk []byte) (*crypto.Keys, error) {
	return sharedKeys(sa, ppk)
}
