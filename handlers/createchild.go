package handlers

import (
	"crypto/rand"
	"math/big"

	"github.com/msgboxio/ike/config"
	"github.com/msgboxio/ike/crypto"
	"github.com/msgboxio/ike/message"
	"github.com/msgboxio/ike/protocol"
	"github.com/msgboxio/ike/state"
)

// CreateChildRequest is the half-built state a CREATE_CHILD_SA request
// carries between Build and the matching Handle* call: the nonce and
// (for PFS or an IKE-SA rekey) the DH private value this side generated,
// kept off sa/child until the exchange actually completes.
type CreateChildRequest struct {
	Nonce      []byte
	DhPrivate  *big.Int
	RekeyChild *state.ChildSA // non-nil when this narrows an existing Child SA
	RekeyIke   bool
	NewChild   *state.ChildSA // nil when RekeyIke is true
}

// BuildCreateChildRequest assembles a CREATE_CHILD_SA request for any of
// RFC 7296's three shapes (1.3.1 new child, 1.3.2 ike rekey via the
// pfsGroup/RekeyIke combination, 1.3.3 child rekey via rekeyOld).
// pfsGroup is 0 to propose no new KE for a new/rekeyed Child SA; rekeyIke
// forces a KE unconditionally (RFC 7296 2.18 requires one for an IKE SA
// rekey) and skips TSi/TSr.
func BuildCreateChildRequest(cfg *config.Config, sa *state.IkeSA, rekeyOld *state.ChildSA, rekeyIke bool, pfsGroup protocol.DhTransformId) (*message.Builder, *CreateChildRequest, error) {
	nonce, err := crypto.RandomNonce(32)
	if err != nil {
		return nil, nil, err
	}

	b := message.NewBuilder(&protocol.IkeHeader{
		SpiI:         sa.SpiI,
		SpiR:         sa.SpiR,
		MajorVersion: protocol.IKEV2_MAJOR_VERSION,
		MinorVersion: protocol.IKEV2_MINOR_VERSION,
		ExchangeType: protocol.CREATE_CHILD_SA,
		Flags:        protocol.INITIATOR,
		MsgId:        sa.MsgIdNextSend,
	})

	out := &CreateChildRequest{Nonce: nonce, RekeyChild: rekeyOld, RekeyIke: rekeyIke}

	if rekeyIke {
		b.Add(&protocol.SaPayload{PayloadHeader: &protocol.PayloadHeader{}, Proposals: protocol.ProposalFromTransforms(protocol.IKE, cfg.ProposalIke, sa.SpiI[:])})
		priv, pub, err := crypto.GenerateDhKey(sa.Suite)
		if err != nil {
			return nil, nil, err
		}
		out.DhPrivate = priv
		dh := cfg.ProposalIke[protocol.TRANSFORM_TYPE_DH]
		b.Add(&protocol.KePayload{PayloadHeader: &protocol.PayloadHeader{}, DhTransformId: protocol.DhTransformId(dh.Transform.TransformId), KeyData: pub})
		b.Add(nonceBigPayload(nonce))
		sa.MsgIdNextSend++
		return b, out, nil
	}

	child, err := newChildProposal(cfg, sa, true)
	if err != nil {
		return nil, nil, err
	}
	out.NewChild = child

	b.Add(&protocol.SaPayload{PayloadHeader: &protocol.PayloadHeader{}, Proposals: protocol.ProposalFromTransforms(protocol.ESP, cfg.ProposalEsp, child.SpiIn[:])})
	b.Add(nonceBigPayload(nonce))
	if pfsGroup != 0 {
		priv, pub, err := crypto.GenerateDhKey(sa.Suite)
		if err != nil {
			return nil, nil, err
		}
		out.DhPrivate = priv
		b.Add(&protocol.KePayload{PayloadHeader: &protocol.PayloadHeader{}, DhTransformId: pfsGroup, KeyData: pub})
		child.PfsGroup = pfsGroup
	}
	b.Add(protocol.NewTrafficSelectorPayload(false, child.TsLocal...))
	b.Add(protocol.NewTrafficSelectorPayload(true, child.TsRemote...))
	if rekeyOld != nil {
		b.Add(&protocol.NotifyPayload{
			PayloadHeader:    &protocol.PayloadHeader{},
			ProtocolId:       protocol.ESP,
			NotificationType: protocol.REKEY_SA,
			Spi:              append([]byte{}, rekeyOld.SpiIn[:]...),
		})
	}
	sa.MsgIdNextSend++
	return b, out, nil
}

// HandleCreateChildRequest validates an inbound CREATE_CHILD_SA request
// and builds the matching response. For a child rekey/create it narrows
// selectors and derives ChildKeys (mixing in PFS if the request carried a
// KE); for an IKE SA rekey it derives the replacement Keys via
// crypto.RekeyIkeKeys. store is used to resolve a REKEY_SA notify's SPI
// back to the ChildSA being replaced.
func HandleCreateChildRequest(cfg *config.Config, sa *state.IkeSA, store *state.Store, req *message.Digest) (*message.Builder, *state.ChildSA, *crypto.Keys, protocol.NotificationType, error) {
	saPayload, ok := req.Payloads.Get(protocol.PayloadTypeSA).(*protocol.SaPayload)
	if !ok {
		return nil, nil, nil, protocol.INVALID_SYNTAX, protocol.ErrF(protocol.ERR_INVALID_SYNTAX, "missing SA payload")
	}
	noncePayload, ok := req.Payloads.Get(protocol.PayloadTypeNonce).(*protocol.NoncePayload)
	if !ok {
		return nil, nil, nil, protocol.INVALID_SYNTAX, protocol.ErrF(protocol.ERR_INVALID_SYNTAX, "missing Nonce payload")
	}

	isIkeRekey := len(saPayload.Proposals) > 0 && saPayload.Proposals[0].ProtocolId == protocol.IKE
	b := message.NewBuilder(&protocol.IkeHeader{
		SpiI:         sa.SpiI,
		SpiR:         sa.SpiR,
		MajorVersion: protocol.IKEV2_MAJOR_VERSION,
		MinorVersion: protocol.IKEV2_MINOR_VERSION,
		ExchangeType: protocol.CREATE_CHILD_SA,
		Flags:        protocol.RESPONSE,
		MsgId:        req.IkeHeader.MsgId,
	})

	if isIkeRekey {
		if err := cfg.CheckProposals(protocol.IKE, saPayload.Proposals); err != nil {
			return nil, nil, nil, protocol.NO_PROPOSAL_CHOSEN, err
		}
		ke, ok := req.Payloads.Get(protocol.PayloadTypeKE).(*protocol.KePayload)
		if !ok {
			return nil, nil, nil, protocol.INVALID_SYNTAX, protocol.ErrF(protocol.ERR_INVALID_SYNTAX, "ike rekey missing KE payload")
		}
		priv, pub, err := crypto.GenerateDhKey(sa.Suite)
		if err != nil {
			return nil, nil, nil, 0, err
		}
		shared, err := crypto.ComputeDhSharedSecret(sa.Suite, ke.KeyData, priv)
		if err != nil {
			return nil, nil, nil, 0, err
		}
		nonce, err := crypto.RandomNonce(32)
		if err != nil {
			return nil, nil, nil, 0, err
		}
		newSpiR := randomSpi()
		newKeys, err := crypto.RekeyIkeKeys(sa.Suite, sa.Keys.SkD, noncePayload.Nonce.Bytes(), nonce, shared, sa.SpiI, newSpiR)
		if err != nil {
			return nil, nil, nil, 0, err
		}
		dh := cfg.ProposalIke[protocol.TRANSFORM_TYPE_DH]
		b.Add(&protocol.SaPayload{PayloadHeader: &protocol.PayloadHeader{}, Proposals: protocol.ProposalFromTransforms(protocol.IKE, cfg.ProposalIke, newSpiR[:])})
		b.Add(&protocol.KePayload{PayloadHeader: &protocol.PayloadHeader{}, DhTransformId: protocol.DhTransformId(dh.Transform.TransformId), KeyData: pub})
		b.Add(nonceBigPayload(nonce))
		return b, nil, newKeys, 0, nil
	}

	if err := cfg.CheckProposals(protocol.ESP, saPayload.Proposals); err != nil {
		return nil, nil, nil, protocol.NO_PROPOSAL_CHOSEN, err
	}
	tsI, ok1 := req.Payloads.Get(protocol.PayloadTypeTSi).(*protocol.TrafficSelectorPayload)
	tsR, ok2 := req.Payloads.Get(protocol.PayloadTypeTSr).(*protocol.TrafficSelectorPayload)
	if !ok1 || !ok2 {
		return nil, nil, nil, protocol.TS_UNACCEPTABLE, protocol.ErrF(protocol.ERR_TS_UNACCEPTABLE, "missing traffic selectors")
	}

	var rekeyOld *state.ChildSA
	if rekeys := req.NotifyPayloads(protocol.REKEY_SA); len(rekeys) > 0 {
		var spi [4]byte
		copy(spi[:], rekeys[0].Spi)
		_, old, ok := store.LookupChildBySpi(spi)
		if !ok {
			return nil, nil, nil, protocol.CHILD_SA_NOT_FOUND, protocol.ErrF(protocol.ERR_CHILD_SA_NOT_FOUND, "rekey target %x not found", spi)
		}
		rekeyOld = old
	}

	child, err := newChildProposal(cfg, sa, false)
	if err != nil {
		return nil, nil, nil, 0, err
	}
	child.TsLocal = narrowSelectors(cfg.TsR, tsR.Selectors)
	child.TsRemote = narrowSelectors(cfg.TsI, tsI.Selectors)
	if rekeyOld != nil {
		child.Predecessor = rekeyOld.Serial
	}

	nonce, err := crypto.RandomNonce(32)
	if err != nil {
		return nil, nil, nil, 0, err
	}
	skD := sa.Keys.SkD
	if ke, ok := req.Payloads.Get(protocol.PayloadTypeKE).(*protocol.KePayload); ok {
		priv, pub, err := crypto.GenerateDhKey(sa.Suite)
		if err != nil {
			return nil, nil, nil, 0, err
		}
		shared, err := crypto.ComputeDhSharedSecret(sa.Suite, ke.KeyData, priv)
		if err != nil {
			return nil, nil, nil, 0, err
		}
		skD = crypto.RekeyChildSkD(sa.Suite, skD, shared, noncePayload.Nonce.Bytes(), nonce)
		child.PfsGroup = ke.DhTransformId
		b.Add(&protocol.KePayload{PayloadHeader: &protocol.PayloadHeader{}, DhTransformId: ke.DhTransformId, KeyData: pub})
	}
	childKeys, err := crypto.DeriveChildKeys(child.Suite, skD, noncePayload.Nonce.Bytes(), nonce)
	if err != nil {
		return nil, nil, nil, 0, err
	}
	child.Keys = childKeys

	b.Add(&protocol.SaPayload{PayloadHeader: &protocol.PayloadHeader{}, Proposals: protocol.ProposalFromTransforms(protocol.ESP, cfg.ProposalEsp, child.SpiIn[:])})
	b.Add(nonceBigPayload(nonce))
	b.Add(protocol.NewTrafficSelectorPayload(false, child.TsRemote...))
	b.Add(protocol.NewTrafficSelectorPayload(true, child.TsLocal...))
	return b, child, nil, 0, nil
}

// HandleCreateChildResponse completes the initiator's side: derives
// ChildKeys (or the replacement IKE Keys, for a rekey) from resp and out,
// the bookkeeping BuildCreateChildRequest returned.
func HandleCreateChildResponse(sa *state.IkeSA, out *CreateChildRequest, resp *message.Digest) (*state.ChildSA, *crypto.Keys, state.Verdict, protocol.NotificationType, error) {
	for _, nt := range []protocol.NotificationType{protocol.NO_PROPOSAL_CHOSEN, protocol.TS_UNACCEPTABLE, protocol.INVALID_KE_PAYLOAD, protocol.CHILD_SA_NOT_FOUND} {
		if resp.HasNotify(nt) {
			return nil, nil, state.FAIL_NOTIFY, nt, protocol.ErrF(protocol.ERR_INVALID_SYNTAX, "peer sent %s", nt)
		}
	}
	noncePayload, ok := resp.Payloads.Get(protocol.PayloadTypeNonce).(*protocol.NoncePayload)
	if !ok {
		return nil, nil, state.FATAL, 0, protocol.ErrF(protocol.ERR_INVALID_SYNTAX, "missing Nonce payload")
	}

	if out.RekeyIke {
		ke, ok := resp.Payloads.Get(protocol.PayloadTypeKE).(*protocol.KePayload)
		if !ok {
			return nil, nil, state.FATAL, 0, protocol.ErrF(protocol.ERR_INVALID_SYNTAX, "missing KE payload")
		}
		saPayload, ok := resp.Payloads.Get(protocol.PayloadTypeSA).(*protocol.SaPayload)
		if !ok || len(saPayload.Proposals) == 0 {
			return nil, nil, state.FATAL, 0, protocol.ErrF(protocol.ERR_INVALID_SYNTAX, "missing SA payload")
		}
		var newSpiR protocol.Spi
		copy(newSpiR[:], saPayload.Proposals[0].Spi)
		shared, err := crypto.ComputeDhSharedSecret(sa.Suite, ke.KeyData, out.DhPrivate)
		if err != nil {
			return nil, nil, state.FATAL, 0, err
		}
		keys, err := crypto.RekeyIkeKeys(sa.Suite, sa.Keys.SkD, out.Nonce, noncePayload.Nonce.Bytes(), shared, sa.SpiI, newSpiR)
		if err != nil {
			return nil, nil, state.FATAL, 0, err
		}
		return nil, keys, state.OK, 0, nil
	}

	child := out.NewChild
	tsI, ok1 := resp.Payloads.Get(protocol.PayloadTypeTSi).(*protocol.TrafficSelectorPayload)
	tsR, ok2 := resp.Payloads.Get(protocol.PayloadTypeTSr).(*protocol.TrafficSelectorPayload)
	if !ok1 || !ok2 {
		return nil, nil, state.FATAL, 0, protocol.ErrF(protocol.ERR_INVALID_SYNTAX, "missing traffic selectors")
	}
	child.TsLocal = tsI.Selectors
	child.TsRemote = tsR.Selectors

	skD := sa.Keys.SkD
	if ke, ok := resp.Payloads.Get(protocol.PayloadTypeKE).(*protocol.KePayload); ok && out.DhPrivate != nil {
		shared, err := crypto.ComputeDhSharedSecret(sa.Suite, ke.KeyData, out.DhPrivate)
		if err != nil {
			return nil, nil, state.FATAL, 0, err
		}
		skD = crypto.RekeyChildSkD(sa.Suite, skD, shared, out.Nonce, noncePayload.Nonce.Bytes())
	}
	childKeys, err := crypto.DeriveChildKeys(child.Suite, skD, out.Nonce, noncePayload.Nonce.Bytes())
	if err != nil {
		return nil, nil, state.FATAL, 0, err
	}
	child.Keys = childKeys
	return child, nil, state.OK, 0, nil
}

// IsIkeRekeyRequest reports whether req's SA payload proposes an IKE SA
// rekey, the same test HandleCreateChildRequest uses internally, exposed so
// a caller can detect a simultaneous-rekey collision before the request is
// processed.
func IsIkeRekeyRequest(req *message.Digest) bool {
	saPayload, ok := req.Payloads.Get(protocol.PayloadTypeSA).(*protocol.SaPayload)
	return ok && len(saPayload.Proposals) > 0 && saPayload.Proposals[0].ProtocolId == protocol.IKE
}

// RequestNonce pulls the Nonce payload's raw bytes out of req, for
// comparison by ResolveSimultaneousRekey.
func RequestNonce(req *message.Digest) ([]byte, error) {
	noncePayload, ok := req.Payloads.Get(protocol.PayloadTypeNonce).(*protocol.NoncePayload)
	if !ok {
		return nil, protocol.ErrF(protocol.ERR_INVALID_SYNTAX, "missing Nonce payload")
	}
	return noncePayload.Nonce.Bytes(), nil
}

// ResolveSimultaneousRekey implements RFC 7296 2.25.1's collision rule for
// two CREATE_CHILD_SA rekeys racing each other: the side that initiated
// with the numerically lower nonce (compared as an unsigned big-endian
// integer) loses and must tear down the SA its own request created,
// keeping only the winner's.
func ResolveSimultaneousRekey(ourNonce, theirNonce []byte) (weWin bool) {
	return new(big.Int).SetBytes(ourNonce).Cmp(new(big.Int).SetBytes(theirNonce)) > 0
}

func nonceBigPayload(nonce []byte) *protocol.NoncePayload {
	return &protocol.NoncePayload{PayloadHeader: &protocol.PayloadHeader{}, Nonce: new(big.Int).SetBytes(nonce)}
}

func randomSpi() protocol.Spi {
	var spi protocol.Spi
	_, _ = rand.Read(spi[:])
	return spi
}
