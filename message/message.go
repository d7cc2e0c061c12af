// Package message assembles and decrypts full IKEv2 messages: the
// cleartext payload chain any message starts with, and the SK/SKF
// payload that carries everything past IKE_SA_INIT.
package message

import (
	"github.com/go-kit/kit/log"
	"github.com/msgboxio/ike/crypto"
	"github.com/msgboxio/ike/protocol"
)

// Message is a single decoded IKEv2 datagram: header plus whatever
// payload chain has been decoded so far. Immediately after Decode, a
// message whose first payload is SK/SKF carries no further payloads
// until Decrypt is called.
type Message struct {
	IkeHeader *protocol.IkeHeader
	Payloads  *protocol.Payloads

	raw     []byte // full wire bytes, needed by Decrypt for the AEAD/HMAC input
	sk      *protocol.SkPayload
	skIsSet bool
}

// Decode parses the header and the leading cleartext payload chain. If
// the chain starts with SK or SKF, decoding stops there; call Decrypt
// to continue into the protected payloads.
func Decode(raw []byte) (*Message, error) {
	header, err := protocol.DecodeIkeHeader(raw)
	if err != nil {
		return nil, err
	}
	if uint32(len(raw)) < header.MsgLength {
		return nil, protocol.ErrF(protocol.ERR_INVALID_SYNTAX, "message shorter than header length %d", header.MsgLength)
	}
	m := &Message{
		IkeHeader: header,
		Payloads:  protocol.NewPayloads(),
		raw:       raw,
	}
	body := raw[protocol.IKE_HEADER_LEN:header.MsgLength]
	next := header.NextPayload
	for next != protocol.PayloadTypeNone {
		if len(body) < protocol.PAYLOAD_HEADER_LENGTH {
			return nil, protocol.ErrF(protocol.ERR_INVALID_SYNTAX, "truncated payload header")
		}
		pHeader := &protocol.PayloadHeader{}
		if err := pHeader.Decode(body[:protocol.PAYLOAD_HEADER_LENGTH]); err != nil {
			return nil, err
		}
		if len(body) < int(pHeader.PayloadLength) {
			return nil, protocol.ErrF(protocol.ERR_INVALID_SYNTAX, "truncated payload body")
		}
		pbuf := body[protocol.PAYLOAD_HEADER_LENGTH:pHeader.PayloadLength]

		if next == protocol.PayloadTypeSK || next == protocol.PayloadTypeSKF {
			payload, err := protocol.DecodePayloadBody(next, pHeader, pbuf)
			if err != nil {
				return nil, err
			}
			m.sk = payload.(*protocol.SkPayload)
			m.skIsSet = true
			return m, nil
		}

		payload, err := protocol.DecodePayloadBody(next, pHeader, pbuf)
		if err != nil {
			return nil, err
		}
		m.Payloads.Add(payload)
		next = pHeader.NextPayload
		body = body[pHeader.PayloadLength:]
	}
	return m, nil
}

// IsEncrypted reports whether this message's chain starts with SK/SKF
// and still needs Decrypt before its payloads are available.
func (m *Message) IsEncrypted() bool { return m.skIsSet }

// Raw returns the full wire bytes this Message was decoded from, the
// input an AUTH payload signature mixes in as InitIb/InitRb.
func (m *Message) Raw() []byte { return m.raw }

// Fragment returns the SKF fragment fields when this message is one
// fragment of a reassembled message; ok is false for a plain SK message.
func (m *Message) Fragment() (number, total uint16, ok bool) {
	if !m.skIsSet || m.sk.Type() != protocol.PayloadTypeSKF {
		return 0, 0, false
	}
	return m.sk.FragmentNumber, m.sk.TotalFragments, true
}

// Decrypt verifies and decrypts the SK/SKF payload using the given
// cipher suite and directional keys, then decodes the resulting
// cleartext chain into m.Payloads. It is a no-op if the message was
// never encrypted.
func (m *Message) Decrypt(cs *crypto.CipherSuite, skA, skE []byte, logger log.Logger) error {
	if !m.skIsSet {
		return nil
	}
	dec, err := cs.VerifyDecrypt(m.raw, skA, skE, logger)
	if err != nil {
		return err
	}
	next := m.sk.NextPayloadType()
	for next != protocol.PayloadTypeNone {
		if len(dec) < protocol.PAYLOAD_HEADER_LENGTH {
			return protocol.ErrF(protocol.ERR_INVALID_SYNTAX, "truncated inner payload header")
		}
		pHeader := &protocol.PayloadHeader{}
		if err := pHeader.Decode(dec[:protocol.PAYLOAD_HEADER_LENGTH]); err != nil {
			return err
		}
		if len(dec) < int(pHeader.PayloadLength) {
			return protocol.ErrF(protocol.ERR_INVALID_SYNTAX, "truncated inner payload body")
		}
		pbuf := dec[protocol.PAYLOAD_HEADER_LENGTH:pHeader.PayloadLength]
		payload, err := protocol.DecodePayloadBody(next, pHeader, pbuf)
		if err != nil {
			return err
		}
		m.Payloads.Add(payload)
		next = pHeader.NextPayload
		dec = dec[pHeader.PayloadLength:]
	}
	m.skIsSet = false
	return nil
}

// EnsurePayloads checks that every payload type in want is present.
func (m *Message) EnsurePayloads(want []protocol.PayloadType) error {
	for _, t := range want {
		if m.Payloads.Get(t) == nil {
			return protocol.ErrF(protocol.ERR_INVALID_SYNTAX, "missing required payload %s", t)
		}
	}
	return nil
}

// Builder assembles an outgoing message payload by payload before it is
// encoded, optionally through SK encryption.
type Builder struct {
	IkeHeader *protocol.IkeHeader
	Payloads  *protocol.Payloads
}

func NewBuilder(header *protocol.IkeHeader) *Builder {
	return &Builder{IkeHeader: header, Payloads: protocol.NewPayloads()}
}

func (b *Builder) Add(p protocol.Payload) { b.Payloads.Add(p) }

// EncodeCleartext encodes the header and payload chain without any SK
// wrapping, used for IKE_SA_INIT.
func (b *Builder) EncodeCleartext() []byte {
	if len(b.Payloads.Array) > 0 {
		b.IkeHeader.NextPayload = b.Payloads.Array[0].Type()
	} else {
		b.IkeHeader.NextPayload = protocol.PayloadTypeNone
	}
	body := protocol.EncodePayloads(b.Payloads)
	b.IkeHeader.MsgLength = uint32(len(body) + protocol.IKE_HEADER_LEN)
	return append(b.IkeHeader.Encode(), body...)
}

// EncodeEncrypted encodes the payload chain, encrypts it as a single SK
// payload with cs/skA/skE, and assembles the final wire message.
func (b *Builder) EncodeEncrypted(cs *crypto.CipherSuite, skA, skE []byte, logger log.Logger) ([]byte, error) {
	var innerNext protocol.PayloadType
	if len(b.Payloads.Array) > 0 {
		innerNext = b.Payloads.Array[0].Type()
	}
	cleartext := protocol.EncodePayloads(b.Payloads)

	b.IkeHeader.NextPayload = protocol.PayloadTypeSK
	skHeader := protocol.EncodePayloadHeader(innerNext, uint16(cs.Overhead(cleartext)+len(cleartext)))
	b.IkeHeader.MsgLength = uint32(protocol.IKE_HEADER_LEN + len(skHeader) + cs.Overhead(cleartext) + len(cleartext))
	headerBytes := append(b.IkeHeader.Encode(), skHeader...)

	return cs.EncryptMac(headerBytes, cleartext, skA, skE, logger)
}
