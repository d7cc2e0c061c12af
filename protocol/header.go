// Package protocol implements the IKEv2 (RFC 7296) wire format: the
// fixed IKE header, the payload grammar, and the notify/transform
// catalogues needed to parse and build exchange messages.
package protocol

import (
	"encoding/hex"

	"github.com/msgboxio/log"
	"github.com/msgboxio/packets"
)

const (
	IKE_PORT      = 500
	IKE_NATT_PORT = 4500

	IKEV2_MAJOR_VERSION = 2
	IKEV2_MINOR_VERSION = 0

	LOG_CODEC = 3
)

// Spi is an 8 byte IKE SA security parameter index.
type Spi [8]byte

type IkeExchangeType uint16

const (
	// 0-33 Reserved [RFC7296]
	IKE_SA_INIT        IkeExchangeType = 34
	IKE_AUTH           IkeExchangeType = 35
	CREATE_CHILD_SA    IkeExchangeType = 36
	INFORMATIONAL      IkeExchangeType = 37
	IKE_SESSION_RESUME IkeExchangeType = 38 // [RFC5723]
	IKE_INTERMEDIATE   IkeExchangeType = 43 // [RFC9242]
)

type PayloadType uint8

const (
	PayloadTypeNone PayloadType = 0
	// 1-32 Reserved [RFC7296]
	PayloadTypeSA      PayloadType = 33
	PayloadTypeKE      PayloadType = 34
	PayloadTypeIDi     PayloadType = 35
	PayloadTypeIDr     PayloadType = 36
	PayloadTypeCERT    PayloadType = 37
	PayloadTypeCERTREQ PayloadType = 38
	PayloadTypeAUTH    PayloadType = 39
	PayloadTypeNonce   PayloadType = 40
	PayloadTypeN       PayloadType = 41
	PayloadTypeD       PayloadType = 42
	PayloadTypeV       PayloadType = 43
	PayloadTypeTSi     PayloadType = 44
	PayloadTypeTSr     PayloadType = 45
	PayloadTypeSK      PayloadType = 46
	PayloadTypeCP      PayloadType = 47
	PayloadTypeEAP     PayloadType = 48
	PayloadTypeSKF     PayloadType = 53 // [RFC7383]
)

type IkeFlags uint8

const (
	RESPONSE  IkeFlags = 1 << 5
	VERSION   IkeFlags = 1 << 4
	INITIATOR IkeFlags = 1 << 3
)

func (f IkeFlags) IsResponse() bool   { return f&RESPONSE != 0 }
func (f IkeFlags) IsInitiator() bool  { return f&INITIATOR != 0 }
func ResponseFlag(isResponse bool) IkeFlags {
	if isResponse {
		return RESPONSE
	}
	return 0
}

type ProtocolId uint8

const (
	IKE ProtocolId = 1
	AH  ProtocolId = 2
	ESP ProtocolId = 3
)

/*
    0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
   +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
   |                       IKE SA Initiator's SPI                  |
   +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
   |                       IKE SA Responder's SPI                  |
   +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
   |  Next Payload | MjVer | MnVer | Exchange Type |     Flags     |
   +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
   |                          Message ID                           |
   +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
   |                            Length                             |
   +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
*/
const IKE_HEADER_LEN = 28

type IkeHeader struct {
	SpiI, SpiR                 Spi
	NextPayload                PayloadType
	MajorVersion, MinorVersion uint8
	ExchangeType               IkeExchangeType
	Flags                      IkeFlags
	MsgId                      uint32
	MsgLength                  uint32
}

func DecodeIkeHeader(b []byte) (h *IkeHeader, err error) {
	h = &IkeHeader{}
	if len(b) < IKE_HEADER_LEN {
		log.V(LOG_CODEC).Infof("packet too short: %d", len(b))
		return nil, ErrF(ERR_INVALID_SYNTAX, "header too short: %d", len(b))
	}
	copy(h.SpiI[:], b)
	copy(h.SpiR[:], b[8:])
	pt, _ := packets.ReadB8(b, 16)
	h.NextPayload = PayloadType(pt)
	ver, _ := packets.ReadB8(b, 17)
	h.MajorVersion = ver >> 4
	h.MinorVersion = ver & 0x0f
	et, _ := packets.ReadB8(b, 18)
	h.ExchangeType = IkeExchangeType(et)
	flags, _ := packets.ReadB8(b, 19)
	h.Flags = IkeFlags(flags)
	h.MsgId, _ = packets.ReadB32(b, 20)
	h.MsgLength, _ = packets.ReadB32(b, 24)
	if h.MsgLength < IKE_HEADER_LEN {
		return nil, ErrF(ERR_INVALID_SYNTAX, "message length %d too small", h.MsgLength)
	}
	if h.MajorVersion != IKEV2_MAJOR_VERSION {
		return nil, ErrF(ERR_INVALID_MAJOR_VERSION, "major version %d", h.MajorVersion)
	}
	log.V(LOG_CODEC).Infof("ike header: %+v from\n%s", *h, hex.Dump(b[:IKE_HEADER_LEN]))
	return
}

func (h *IkeHeader) Encode() (b []byte) {
	b = make([]byte, IKE_HEADER_LEN)
	copy(b, h.SpiI[:])
	copy(b[8:], h.SpiR[:])
	packets.WriteB8(b, 16, uint8(h.NextPayload))
	packets.WriteB8(b, 17, h.MajorVersion<<4|h.MinorVersion)
	packets.WriteB8(b, 18, uint8(h.ExchangeType))
	packets.WriteB8(b, 19, uint8(h.Flags))
	packets.WriteB32(b, 20, h.MsgId)
	packets.WriteB32(b, 24, h.MsgLength)
	return
}

/*
    0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
   +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
   | Next Payload  |C|  RESERVED   |         Payload Length        |
   +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
*/
const PAYLOAD_HEADER_LENGTH = 4

type PayloadHeader struct {
	NextPayload    PayloadType
	IsCriticalFlag bool
	PayloadLength  uint16
}

func (h *PayloadHeader) NextPayloadType() PayloadType { return h.NextPayload }
func (h *PayloadHeader) IsCritical() bool             { return h != nil && h.IsCriticalFlag }

func EncodePayloadHeader(pt PayloadType, plen uint16) (b []byte) {
	b = make([]byte, PAYLOAD_HEADER_LENGTH)
	packets.WriteB8(b, 0, uint8(pt))
	packets.WriteB16(b, 2, plen+PAYLOAD_HEADER_LENGTH)
	return
}

func (h *PayloadHeader) Decode(b []byte) (err error) {
	if len(b) < PAYLOAD_HEADER_LENGTH {
		return ErrF(ERR_INVALID_SYNTAX, "payload header too short: %d", len(b))
	}
	pt, _ := packets.ReadB8(b, 0)
	h.NextPayload = PayloadType(pt)
	if c, _ := packets.ReadB8(b, 1); c&0x80 != 0 {
		h.IsCriticalFlag = true
	}
	h.PayloadLength, _ = packets.ReadB16(b, 2)
	if int(h.PayloadLength) < PAYLOAD_HEADER_LENGTH {
		return ErrF(ERR_INVALID_SYNTAX, "payload length %d too small", h.PayloadLength)
	}
	return
}

// Payload is implemented by every IKEv2 payload body.
type Payload interface {
	Type() PayloadType
	Decode([]byte) error
	Encode() []byte
	NextPayloadType() PayloadType
	IsCritical() bool
}
