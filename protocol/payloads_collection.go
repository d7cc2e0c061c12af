package protocol

import "github.com/msgboxio/packets"

// SkPayload is the still-encrypted body of a Secured (SK) or Secured
// Fragment (SKF) payload; message.Digest is responsible for decrypting
// it before the remaining chain can be decoded.
type SkPayload struct {
	*PayloadHeader
	skPayloadType PayloadType // PayloadTypeSK or PayloadTypeSKF
	// SKF fragmentation fields (RFC 7383); zero for a plain SK payload.
	FragmentNumber, TotalFragments uint16
	RawBody                       []byte
}

func NewSkPayload(isFragment bool) *SkPayload {
	pt := PayloadTypeSK
	if isFragment {
		pt = PayloadTypeSKF
	}
	return &SkPayload{PayloadHeader: &PayloadHeader{}, skPayloadType: pt}
}

func (s *SkPayload) Type() PayloadType { return s.skPayloadType }
func (s *SkPayload) Encode() (b []byte) {
	if s.skPayloadType == PayloadTypeSKF {
		hdr := make([]byte, 4)
		packets.WriteB16(hdr, 0, s.FragmentNumber)
		packets.WriteB16(hdr, 2, s.TotalFragments)
		return append(hdr, s.RawBody...)
	}
	return append([]byte{}, s.RawBody...)
}
func (s *SkPayload) Decode(b []byte) (err error) {
	if s.skPayloadType == PayloadTypeSKF {
		if len(b) < 4 {
			return ErrF(ERR_INVALID_SYNTAX, "skf payload too small")
		}
		s.FragmentNumber, _ = packets.ReadB16(b, 0)
		s.TotalFragments, _ = packets.ReadB16(b, 2)
		s.RawBody = append([]byte{}, b[4:]...)
		return
	}
	s.RawBody = append([]byte{}, b...)
	return
}

// Payloads is an ordered collection of decoded payload bodies. Map
// records each PayloadType's first occurrence for Get's singleton
// lookup (SA/KE/Nonce/ID/AUTH/TS only ever appear once per message);
// Array holds every payload in wire order, since Notify/CERT/CERTREQ
// all legitimately repeat within one message.
type Payloads struct {
	Map   map[PayloadType]int
	Array []Payload
}

func NewPayloads() *Payloads {
	return &Payloads{Map: make(map[PayloadType]int)}
}

// Get returns the first payload of type t, for the singleton payload
// types. Use GetNotifications (or Digest.NotifyPayloads) for types that
// can repeat.
func (p *Payloads) Get(t PayloadType) Payload {
	if idx, ok := p.Map[t]; ok {
		return p.Array[idx]
	}
	return nil
}

func (p *Payloads) GetNotifications(nt NotificationType) (out []*NotifyPayload) {
	for _, pl := range p.Array {
		if np, ok := pl.(*NotifyPayload); ok && np.NotificationType == nt {
			out = append(out, np)
		}
	}
	return
}

func (p *Payloads) Add(t Payload) {
	if _, ok := p.Map[t.Type()]; !ok {
		p.Map[t.Type()] = len(p.Array)
	}
	p.Array = append(p.Array, t)
}

// DecodePayloadBody allocates the right payload type for nextPayload and
// decodes b into it; the PayloadHeader itself has already been decoded.
func DecodePayloadBody(nextPayload PayloadType, header *PayloadHeader, b []byte) (Payload, error) {
	var payload Payload
	switch nextPayload {
	case PayloadTypeSA:
		payload = &SaPayload{PayloadHeader: header}
	case PayloadTypeKE:
		payload = &KePayload{PayloadHeader: header}
	case PayloadTypeIDi:
		payload = &IdPayload{PayloadHeader: header, idPayloadType: PayloadTypeIDi}
	case PayloadTypeIDr:
		payload = &IdPayload{PayloadHeader: header, idPayloadType: PayloadTypeIDr}
	case PayloadTypeCERT:
		payload = &CertPayload{PayloadHeader: header}
	case PayloadTypeCERTREQ:
		payload = &CertRequestPayload{PayloadHeader: header}
	case PayloadTypeAUTH:
		payload = &AuthPayload{PayloadHeader: header}
	case PayloadTypeNonce:
		payload = &NoncePayload{PayloadHeader: header}
	case PayloadTypeN:
		payload = &NotifyPayload{PayloadHeader: header}
	case PayloadTypeD:
		payload = &DeletePayload{PayloadHeader: header}
	case PayloadTypeV:
		payload = &VendorIdPayload{PayloadHeader: header}
	case PayloadTypeTSi:
		payload = &TrafficSelectorPayload{PayloadHeader: header, trafficSelectorPayloadType: PayloadTypeTSi}
	case PayloadTypeTSr:
		payload = &TrafficSelectorPayload{PayloadHeader: header, trafficSelectorPayloadType: PayloadTypeTSr}
	case PayloadTypeCP:
		payload = &ConfigurationPayload{PayloadHeader: header}
	case PayloadTypeEAP:
		payload = &EapPayload{PayloadHeader: header}
	case PayloadTypeSK:
		payload = &SkPayload{PayloadHeader: header, skPayloadType: PayloadTypeSK}
	case PayloadTypeSKF:
		payload = &SkPayload{PayloadHeader: header, skPayloadType: PayloadTypeSKF}
	default:
		if header.IsCriticalFlag {
			return nil, ErrF(ERR_UNSUPPORTED_CRITICAL_PAYLOAD, "critical payload type %d", nextPayload)
		}
		payload = &UnknownPayload{PayloadHeader: header, payloadType: nextPayload}
	}
	if err := payload.Decode(b); err != nil {
		return nil, err
	}
	return payload, nil
}

// UnknownPayload preserves the raw bytes of a non-critical payload type
// the codec does not implement, so it round-trips instead of being dropped.
type UnknownPayload struct {
	*PayloadHeader
	payloadType PayloadType
	Raw         []byte
}

func (s *UnknownPayload) Type() PayloadType  { return s.payloadType }
func (s *UnknownPayload) Encode() (b []byte) { return append([]byte{}, s.Raw...) }
func (s *UnknownPayload) Decode(b []byte) (err error) {
	s.Raw = append([]byte{}, b...)
	return
}

// EncodePayloads concatenates the wire encoding of every payload in order,
// chaining NextPayload pointers and payload-header lengths. The chain is
// derived from array order, not from each payload's own header, since a
// payload built for encoding carries an empty PayloadHeader.
func EncodePayloads(payloads *Payloads) (b []byte) {
	for i, pl := range payloads.Array {
		next := PayloadTypeNone
		if i+1 < len(payloads.Array) {
			next = payloads.Array[i+1].Type()
		}
		body := pl.Encode()
		hdr := EncodePayloadHeader(next, uint16(len(body)))
		b = append(b, hdr...)
		b = append(b, body...)
	}
	return
}
