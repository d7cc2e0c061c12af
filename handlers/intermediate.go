package handlers

import (
	"github.com/go-kit/kit/log"

	"github.com/msgboxio/ike/message"
	"github.com/msgboxio/ike/protocol"
	"github.com/msgboxio/ike/state"
)

// BuildIntermediateRequest assembles one IKE_INTERMEDIATE request (RFC
// 9242), sent by the initiator only when the responder's IKE_SA_INIT
// reply carried INTERMEDIATE_EXCHANGE_SUPPORTED. The base RFC defines no
// payload content of its own — content is left to whatever extension
// negotiated the exchange (a post-quantum KE round, say) — so this sends
// an empty encrypted body whose only job is to extend the AUTH payload's
// signed octets with one more round-trip, matching the one-round cap
// `original_source/programs/pluto/ikev2_parent.c`'s
// `ikev2_in_IKE_SA_INIT_R_or_IKE_INTERMEDIATE_R_out_IKE_INTERMEDIATE_I_continue`
// settles for ("for now, do only one Intermediate Exchange round").
func BuildIntermediateRequest(sa *state.IkeSA, logger log.Logger) ([]byte, error) {
	if sa.Keys == nil {
		return nil, protocol.ErrF(protocol.ERR_INVALID_SYNTAX, "intermediate exchange needs a key schedule")
	}
	b := message.NewBuilder(&protocol.IkeHeader{
		SpiI:         sa.SpiI,
		SpiR:         sa.SpiR,
		MajorVersion: protocol.IKEV2_MAJOR_VERSION,
		MinorVersion: protocol.IKEV2_MINOR_VERSION,
		ExchangeType: protocol.IKE_INTERMEDIATE,
		Flags:        protocol.INITIATOR,
		MsgId:        sa.MsgIdNextSend,
	})
	raw, err := b.EncodeEncrypted(sa.Suite, sa.Keys.SkAi, sa.Keys.SkEi, logger)
	if err != nil {
		return nil, err
	}
	sa.InitIb = append(append([]byte{}, sa.InitIb...), raw...)
	sa.MsgIdNextSend++
	return raw, nil
}

// BuildIntermediateResponse mirrors BuildIntermediateRequest for the
// responder, after req has already been decrypted by the caller.
func BuildIntermediateResponse(sa *state.IkeSA, req *message.Digest, logger log.Logger) ([]byte, error) {
	if sa.Keys == nil {
		return nil, protocol.ErrF(protocol.ERR_INVALID_SYNTAX, "intermediate exchange needs a key schedule")
	}
	sa.InitIb = append(append([]byte{}, sa.InitIb...), req.Raw()...)

	b := message.NewBuilder(&protocol.IkeHeader{
		SpiI:         sa.SpiI,
		SpiR:         sa.SpiR,
		MajorVersion: protocol.IKEV2_MAJOR_VERSION,
		MinorVersion: protocol.IKEV2_MINOR_VERSION,
		ExchangeType: protocol.IKE_INTERMEDIATE,
		Flags:        protocol.RESPONSE,
		MsgId:        req.IkeHeader.MsgId,
	})
	raw, err := b.EncodeEncrypted(sa.Suite, sa.Keys.SkAr, sa.Keys.SkEr, logger)
	if err != nil {
		return nil, err
	}
	sa.InitRb = append(append([]byte{}, sa.InitRb...), raw...)
	return raw, nil
}

// HandleIntermediateResponse extends the initiator's tracked InitRb with
// the responder's reply, so the eventual IKE_AUTH AUTH payload signs
// over every byte exchanged, per RFC 9242 2's "the Intermediate Exchange
// payloads MUST be included" signed-octets rule.
func HandleIntermediateResponse(sa *state.IkeSA, resp *message.Digest, logger log.Logger) error {
	if err := resp.Decrypt(sa.Suite, sa.Keys.SkAr, sa.Keys.SkEr, logger); err != nil {
		return err
	}
	sa.InitRb = append(append([]byte{}, sa.InitRb...), resp.Raw()...)
	return nil
}
