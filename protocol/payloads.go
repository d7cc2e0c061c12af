package protocol

import (
	"math/big"
	"net"

	"github.com/msgboxio/packets"
)

/*
    0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
   +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
   |   Diffie-Hellman Group Num    |           RESERVED            |
   +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
   ~                       Key Exchange Data                       ~
   +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
*/
type KePayload struct {
	*PayloadHeader
	DhTransformId DhTransformId
	KeyData       *big.Int
}

func (s *KePayload) Type() PayloadType { return PayloadTypeKE }
func (s *KePayload) Encode() (b []byte) {
	b = make([]byte, 4)
	packets.WriteB16(b, 0, uint16(s.DhTransformId))
	return append(b, s.KeyData.Bytes()...)
}
func (s *KePayload) Decode(b []byte) (err error) {
	if len(b) < 4 {
		return ErrF(ERR_INVALID_SYNTAX, "ke payload too small")
	}
	gn, _ := packets.ReadB16(b, 0)
	s.DhTransformId = DhTransformId(gn)
	s.KeyData = new(big.Int).SetBytes(b[4:])
	return
}

// CertEncoding identifies the encoding of a CERT/CERTREQ payload body.
type CertEncoding uint8

const (
	CERT_X509_SIGNATURE CertEncoding = 4
	CERT_RAW_RSA_KEY     CertEncoding = 11
	CERT_HASH_AND_URL    CertEncoding = 12
)

/*
   | Cert Encoding |  ~  Certificate Data  ~
*/
type CertPayload struct {
	*PayloadHeader
	Encoding CertEncoding
	Data     []byte
}

func (s *CertPayload) Type() PayloadType { return PayloadTypeCERT }
func (s *CertPayload) Encode() (b []byte) {
	return append([]byte{uint8(s.Encoding)}, s.Data...)
}
func (s *CertPayload) Decode(b []byte) (err error) {
	if len(b) < 1 {
		return ErrF(ERR_INVALID_SYNTAX, "cert payload empty")
	}
	s.Encoding = CertEncoding(b[0])
	s.Data = append([]byte{}, b[1:]...)
	return
}

/*
   | Cert Encoding |  ~  Certification Authority  ~
*/
type CertRequestPayload struct {
	*PayloadHeader
	Encoding CertEncoding
	CaData   []byte
}

func (s *CertRequestPayload) Type() PayloadType { return PayloadTypeCERTREQ }
func (s *CertRequestPayload) Encode() (b []byte) {
	return append([]byte{uint8(s.Encoding)}, s.CaData...)
}
func (s *CertRequestPayload) Decode(b []byte) (err error) {
	if len(b) < 1 {
		return ErrF(ERR_INVALID_SYNTAX, "certreq payload empty")
	}
	s.Encoding = CertEncoding(b[0])
	s.CaData = append([]byte{}, b[1:]...)
	return
}

type AuthMethod uint8

const (
	RSA_DIGITAL_SIGNATURE             AuthMethod = 1
	SHARED_KEY_MESSAGE_INTEGRITY_CODE AuthMethod = 2
	DSS_DIGITAL_SIGNATURE             AuthMethod = 3
	NULL_AUTH_METHOD                  AuthMethod = 13 // [RFC7619]
	AUTH_DIGITAL_SIGNATURE            AuthMethod = 14 // [RFC7427]
)

/*
   | Auth Method   |  ~  Authentication Data  ~
*/
type AuthPayload struct {
	*PayloadHeader
	Method AuthMethod
	Data   []byte
}

func (s *AuthPayload) Type() PayloadType { return PayloadTypeAUTH }
func (s *AuthPayload) Encode() (b []byte) {
	b = []byte{uint8(s.Method), 0, 0, 0}
	return append(b, s.Data...)
}
func (s *AuthPayload) Decode(b []byte) (err error) {
	if len(b) < 4 {
		return ErrF(ERR_INVALID_SYNTAX, "auth payload too small")
	}
	method, _ := packets.ReadB8(b, 0)
	s.Method = AuthMethod(method)
	s.Data = append([]byte{}, b[4:]...)
	return
}

/*
   ~  Nonce Data  ~
*/
type NoncePayload struct {
	*PayloadHeader
	Nonce *big.Int
}

func (s *NoncePayload) Type() PayloadType  { return PayloadTypeNonce }
func (s *NoncePayload) Encode() (b []byte) { return s.Nonce.Bytes() }
func (s *NoncePayload) Decode(b []byte) (err error) {
	if len(b) < 16 || len(b) > 256 {
		return ErrF(ERR_INVALID_SYNTAX, "nonce length %d out of [16,256]", len(b))
	}
	s.Nonce = new(big.Int).SetBytes(b)
	return
}

/*
   | Protocol ID   |   SPI Size    |      Notify Message Type      |
   ~                Security Parameter Index (SPI)                 ~
   ~                       Notification Data                       ~
*/
type NotifyPayload struct {
	*PayloadHeader
	ProtocolId       ProtocolId
	NotificationType NotificationType
	Spi              []byte
	Data             []byte
}

func (s *NotifyPayload) Type() PayloadType { return PayloadTypeN }
func (s *NotifyPayload) Encode() (b []byte) {
	b = []byte{uint8(s.ProtocolId), uint8(len(s.Spi)), 0, 0}
	packets.WriteB16(b, 2, uint16(s.NotificationType))
	b = append(b, s.Spi...)
	b = append(b, s.Data...)
	return
}
func (s *NotifyPayload) Decode(b []byte) (err error) {
	if len(b) < 4 {
		return ErrF(ERR_INVALID_SYNTAX, "notify payload too small")
	}
	pId, _ := packets.ReadB8(b, 0)
	s.ProtocolId = ProtocolId(pId)
	spiLen, _ := packets.ReadB8(b, 1)
	if len(b) < 4+int(spiLen) {
		return ErrF(ERR_INVALID_SYNTAX, "notify spi overruns buffer")
	}
	nType, _ := packets.ReadB16(b, 2)
	s.NotificationType = NotificationType(nType)
	s.Spi = append([]byte{}, b[4:4+spiLen]...)
	s.Data = append([]byte{}, b[4+spiLen:]...)
	return
}

/*
   | Protocol ID   |   SPI Size    |          Num of SPIs          |
   ~               Security Parameter Index(es) (SPI)              ~
*/
type DeletePayload struct {
	*PayloadHeader
	ProtocolId ProtocolId
	SpiSize    uint8
	Spis       [][]byte
}

func (s *DeletePayload) Type() PayloadType { return PayloadTypeD }
func (s *DeletePayload) Encode() (b []byte) {
	b = []byte{uint8(s.ProtocolId), s.SpiSize, 0, 0}
	packets.WriteB16(b, 2, uint16(len(s.Spis)))
	for _, spi := range s.Spis {
		b = append(b, spi...)
	}
	return
}
func (s *DeletePayload) Decode(b []byte) (err error) {
	if len(b) < 4 {
		return ErrF(ERR_INVALID_SYNTAX, "delete payload too small")
	}
	pId, _ := packets.ReadB8(b, 0)
	s.ProtocolId = ProtocolId(pId)
	s.SpiSize, _ = packets.ReadB8(b, 1)
	num, _ := packets.ReadB16(b, 2)
	rest := b[4:]
	for i := 0; i < int(num); i++ {
		if len(rest) < int(s.SpiSize) {
			return ErrF(ERR_INVALID_SYNTAX, "delete payload spi overruns buffer")
		}
		s.Spis = append(s.Spis, append([]byte{}, rest[:s.SpiSize]...))
		rest = rest[s.SpiSize:]
	}
	return
}

/*
   ~  Vendor ID (VID)  ~
*/
type VendorIdPayload struct {
	*PayloadHeader
	Vid []byte
}

func (s *VendorIdPayload) Type() PayloadType  { return PayloadTypeV }
func (s *VendorIdPayload) Encode() (b []byte) { return append([]byte{}, s.Vid...) }
func (s *VendorIdPayload) Decode(b []byte) (err error) {
	s.Vid = append([]byte{}, b...)
	return
}

// start of traffic selector

type SelectorType uint8

const (
	TS_IPV4_ADDR_RANGE SelectorType = 7
	TS_IPV6_ADDR_RANGE SelectorType = 8
)

const MIN_LEN_SELECTOR = 8

type Selector struct {
	Type                     SelectorType
	IpProtocolId             uint8
	StartPort, Endport       uint16
	StartAddress, EndAddress net.IP
}

func decodeSelector(b []byte) (sel *Selector, used int, err error) {
	if len(b) < MIN_LEN_SELECTOR {
		return nil, 0, ErrF(ERR_INVALID_SYNTAX, "selector too short")
	}
	stype, _ := packets.ReadB8(b, 0)
	id, _ := packets.ReadB8(b, 1)
	slen, _ := packets.ReadB16(b, 2)
	if len(b) < int(slen) {
		return nil, 0, ErrF(ERR_INVALID_SYNTAX, "selector length overruns buffer")
	}
	sport, _ := packets.ReadB16(b, 4)
	eport, _ := packets.ReadB16(b, 6)
	iplen := net.IPv4len
	if SelectorType(stype) == TS_IPV6_ADDR_RANGE {
		iplen = net.IPv6len
	}
	if len(b) < 8+2*iplen {
		return nil, 0, ErrF(ERR_INVALID_SYNTAX, "selector address overruns buffer")
	}
	sel = &Selector{
		Type:         SelectorType(stype),
		IpProtocolId: id,
		StartPort:    sport,
		Endport:      eport,
		StartAddress: append(net.IP{}, b[8:8+iplen]...),
		EndAddress:   append(net.IP{}, b[8+iplen:8+2*iplen]...),
	}
	return sel, 8 + 2*iplen, nil
}

func encodeSelector(sel *Selector) (b []byte) {
	b = make([]byte, MIN_LEN_SELECTOR)
	packets.WriteB8(b, 0, uint8(sel.Type))
	packets.WriteB8(b, 1, uint8(sel.IpProtocolId))
	packets.WriteB16(b, 4, sel.StartPort)
	packets.WriteB16(b, 6, sel.Endport)
	b = append(b, sel.StartAddress...)
	b = append(b, sel.EndAddress...)
	packets.WriteB16(b, 2, uint16(len(b)))
	return
}

const MIN_LEN_TRAFFIC_SELECTOR = 4

type TrafficSelectorPayload struct {
	*PayloadHeader
	trafficSelectorPayloadType PayloadType
	Selectors                  []*Selector
}

// NewTrafficSelectorPayload builds a TSi/TSr payload from selectors.
func NewTrafficSelectorPayload(isResponder bool, sel ...*Selector) *TrafficSelectorPayload {
	pt := PayloadTypeTSi
	if isResponder {
		pt = PayloadTypeTSr
	}
	return &TrafficSelectorPayload{PayloadHeader: &PayloadHeader{}, trafficSelectorPayloadType: pt, Selectors: sel}
}

func (s *TrafficSelectorPayload) Type() PayloadType { return s.trafficSelectorPayloadType }
func (s *TrafficSelectorPayload) Encode() (b []byte) {
	b = []byte{uint8(len(s.Selectors)), 0, 0, 0}
	for _, sel := range s.Selectors {
		b = append(b, encodeSelector(sel)...)
	}
	return
}
func (s *TrafficSelectorPayload) Decode(b []byte) (err error) {
	if len(b) < MIN_LEN_TRAFFIC_SELECTOR {
		return ErrF(ERR_INVALID_SYNTAX, "ts payload too short")
	}
	numSel, _ := packets.ReadB8(b, 0)
	rest := b[4:]
	for len(rest) > 0 {
		sel, used, serr := decodeSelector(rest)
		if serr != nil {
			return serr
		}
		s.Selectors = append(s.Selectors, sel)
		rest = rest[used:]
	}
	if len(s.Selectors) != int(numSel) {
		return ErrF(ERR_INVALID_SYNTAX, "ts count mismatch")
	}
	return
}

// ConfigAttributeType identifies a single CP attribute (RFC 7296 3.15.1).
type ConfigAttributeType uint16

const (
	INTERNAL_IP4_ADDRESS  ConfigAttributeType = 1
	INTERNAL_IP4_NETMASK  ConfigAttributeType = 2
	INTERNAL_IP4_DNS      ConfigAttributeType = 3
	INTERNAL_IP4_SUBNET   ConfigAttributeType = 4
	INTERNAL_IP6_ADDRESS  ConfigAttributeType = 8
	INTERNAL_IP6_DNS      ConfigAttributeType = 10
	INTERNAL_IP6_SUBNET   ConfigAttributeType = 11
	INTERNAL_IP4_DHCP     ConfigAttributeType = 6
	APPLICATION_VERSION   ConfigAttributeType = 7
)

type ConfigAttribute struct {
	Type  ConfigAttributeType
	Value []byte
}

type ConfigType uint8

const (
	CFG_REQUEST ConfigType = 1
	CFG_REPLY   ConfigType = 2
	CFG_SET     ConfigType = 3
	CFG_ACK     ConfigType = 4
)

/*
   |   CFG Type    |                    RESERVED                   |
   ~                   Configuration Attributes                    ~
*/
type ConfigurationPayload struct {
	*PayloadHeader
	CfgType    ConfigType
	Attributes []*ConfigAttribute
}

func (s *ConfigurationPayload) Type() PayloadType { return PayloadTypeCP }
func (s *ConfigurationPayload) Encode() (b []byte) {
	b = []byte{uint8(s.CfgType), 0, 0, 0}
	for _, a := range s.Attributes {
		ab := make([]byte, 4)
		packets.WriteB16(ab, 0, uint16(a.Type))
		packets.WriteB16(ab, 2, uint16(len(a.Value)))
		ab = append(ab, a.Value...)
		b = append(b, ab...)
	}
	return
}
func (s *ConfigurationPayload) Decode(b []byte) (err error) {
	if len(b) < 4 {
		return ErrF(ERR_INVALID_SYNTAX, "cp payload too small")
	}
	s.CfgType = ConfigType(b[0])
	rest := b[4:]
	for len(rest) > 0 {
		if len(rest) < 4 {
			return ErrF(ERR_INVALID_SYNTAX, "cp attribute too small")
		}
		at, _ := packets.ReadB16(rest, 0)
		alen, _ := packets.ReadB16(rest, 2)
		if len(rest) < 4+int(alen) {
			return ErrF(ERR_INVALID_SYNTAX, "cp attribute overruns buffer")
		}
		s.Attributes = append(s.Attributes, &ConfigAttribute{
			Type:  ConfigAttributeType(at),
			Value: append([]byte{}, rest[4:4+alen]...),
		})
		rest = rest[4+alen:]
	}
	return
}

/*
   ~  EAP Message  ~
*/
type EapPayload struct {
	*PayloadHeader
	Data []byte
}

func (s *EapPayload) Type() PayloadType  { return PayloadTypeEAP }
func (s *EapPayload) Encode() (b []byte) { return append([]byte{}, s.Data...) }
func (s *EapPayload) Decode(b []byte) (err error) {
	s.Data = append([]byte{}, b...)
	return
}
