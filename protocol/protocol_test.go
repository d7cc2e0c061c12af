package protocol

import (
	"bytes"
	"encoding/hex"
	"math/big"
	"strings"
	"testing"

	"github.com/msgboxio/packets"
)

// sa_init is a captured IKE_SA_INIT request: header, SA (two proposals), KE, Nonce.
var sa_init = `
92 8f 3f 58 1f 05 a5 63  00 00 00 00 00 00 00 00
21 20 22 08 00 00 00 00  00 00 01 a8 22 00 00 60
02 00 00 34 01 01 08 04  92 8f 3f 58 1f 05 a5 63
03 00 00 0c 01 00 00 17  80 0e 01 00 03 00 00 08
02 00 00 05 03 00 00 08  03 00 00 0c 00 00 00 08
04 00 00 0e 00 00 00 28  02 03 04 03 13 5a a9 69
03 00 00 0c 01 00 00 17  80 0e 01 00 03 00 00 08
05 00 00 01 00 00 00 08  03 00 00 0c 28 00 01 08
00 0e 00 00 ed cf 56 38  1a 58 71 62 48 fc b5 89
0d f2 08 19 91 af f3 16  39 1c 2f 16 80 ef 88 49
21 76 38 40 98 4d 44 73  71 ed 59 05 35 44 90 a0
2f ef f0 5a 0e 99 c9 e6  f0 06 d4 c2 e3 03 ab 62
01 7f 5b 34 94 ca 7d 30  7e 41 9a b2 96 21 e1 68
e3 da f1 66 4e 88 13 14  8f b0 9e a3 88 d7 7d 92
28 11 8e 47 67 d4 e5 f4  80 ce 22 ae 1f 70 c3 b0
eb 59 e5 c7 26 0d f9 69  81 96 e9 81 17 7a a2 55
2b a6 40 f0 cd 12 34 16  7b 9a ac 3d ca b2 07 39
cf cc 95 17 28 6b 79 5d  6b d5 03 36 50 a6 15 18
81 ae 8c d8 8d ec 42 5d  40 e2 96 0d d9 fe c0 3c
ef 8b 2e 3f 41 50 66 ad  00 bf df 6c 22 e4 1c b6
ad 2e 4f c7 7d 89 10 8d  b4 25 23 6e a9 b7 d7 d8
40 9a 53 04 31 33 c1 87  25 5c c0 fb 40 86 10 a9
f2 c2 98 98 2b fd 26 87  4c 57 b5 1f 38 dc 7f fc
6b f8 a4 cb 91 33 45 aa  aa a8 33 ff b9 33 51 aa
b6 7a f6 83 00 00 00 24  63 a0 2b 62 47 56 80 de
1c 50 af 97 a8 2a 7a bd  8d 46 4d 95 11 f8 7a c8
6a 3e 1e 42 17 40 5a fa
`

func hexit(s string) []byte {
	s = strings.Join(strings.Fields(s), "")
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

// decodeMessage walks a cleartext (pre-SK) payload chain the way message.Digest
// will: header first, then each payload in turn following NextPayload.
func decodeMessage(b []byte) (*IkeHeader, *Payloads, error) {
	hdr, err := DecodeIkeHeader(b)
	if err != nil {
		return nil, nil, err
	}
	payloads := NewPayloads()
	next := hdr.NextPayload
	rest := b[IKE_HEADER_LEN:]
	for next != PayloadTypeNone {
		ph := &PayloadHeader{}
		if err := ph.Decode(rest); err != nil {
			return nil, nil, err
		}
		body := rest[PAYLOAD_HEADER_LENGTH:ph.PayloadLength]
		pl, err := DecodePayloadBody(next, ph, body)
		if err != nil {
			return nil, nil, err
		}
		payloads.Add(pl)
		next = ph.NextPayload
		rest = rest[ph.PayloadLength:]
	}
	return hdr, payloads, nil
}

func encodeMessage(hdr *IkeHeader, payloads *Payloads) []byte {
	body := EncodePayloads(payloads)
	hdr.MsgLength = uint32(IKE_HEADER_LEN + len(body))
	if len(payloads.Array) > 0 {
		hdr.NextPayload = payloads.Array[0].Type()
	} else {
		hdr.NextPayload = PayloadTypeNone
	}
	return append(hdr.Encode(), body...)
}

func TestSaInitRoundTrip(t *testing.T) {
	dec := hexit(sa_init)

	hdr, payloads, err := decodeMessage(dec)
	if err != nil {
		t.Fatal(err)
	}
	if hdr.ExchangeType != IKE_SA_INIT {
		t.Errorf("exchange type = %s, want IKE_SA_INIT", hdr.ExchangeType)
	}
	if hdr.Flags.IsResponse() {
		t.Errorf("sa_init capture is a request, got response flag set")
	}

	sa, ok := payloads.Get(PayloadTypeSA).(*SaPayload)
	if !ok {
		t.Fatal("missing SA payload")
	}
	if len(sa.Proposals) != 2 {
		t.Fatalf("got %d proposals, want 2", len(sa.Proposals))
	}

	ke, ok := payloads.Get(PayloadTypeKE).(*KePayload)
	if !ok {
		t.Fatal("missing KE payload")
	}
	if ke.DhTransformId != MODP_2048 {
		t.Errorf("ke group = %s, want MODP_2048", ke.DhTransformId)
	}

	if payloads.Get(PayloadTypeNonce) == nil {
		t.Fatal("missing Nonce payload")
	}

	enc := encodeMessage(hdr, payloads)
	if !bytes.Equal(enc, dec) {
		t.Errorf("round trip mismatch:\ngot:  %s\nwant: %s", hex.EncodeToString(enc), hex.EncodeToString(dec))
	}
}

func TestNotifyPayloadRoundTrip(t *testing.T) {
	n := &NotifyPayload{
		PayloadHeader:    &PayloadHeader{},
		ProtocolId:       IKE,
		NotificationType: NAT_DETECTION_SOURCE_IP,
		Data:             bytes.Repeat([]byte{0xaa}, 20),
	}
	enc := n.Encode()
	dec := &NotifyPayload{PayloadHeader: &PayloadHeader{}}
	if err := dec.Decode(enc); err != nil {
		t.Fatal(err)
	}
	if dec.NotificationType != NAT_DETECTION_SOURCE_IP || dec.ProtocolId != IKE {
		t.Errorf("decoded %+v", dec)
	}
	if !bytes.Equal(dec.Data, n.Data) {
		t.Errorf("data mismatch")
	}
}

func TestDeletePayloadRoundTrip(t *testing.T) {
	d := &DeletePayload{
		PayloadHeader: &PayloadHeader{},
		ProtocolId:    ESP,
		SpiSize:       4,
		Spis:          [][]byte{{1, 2, 3, 4}, {5, 6, 7, 8}},
	}
	enc := d.Encode()
	dec := &DeletePayload{PayloadHeader: &PayloadHeader{}}
	if err := dec.Decode(enc); err != nil {
		t.Fatal(err)
	}
	if len(dec.Spis) != 2 || !bytes.Equal(dec.Spis[1], d.Spis[1]) {
		t.Errorf("decoded %+v", dec)
	}
}

func TestCertPayloadRoundTrip(t *testing.T) {
	c := &CertPayload{
		PayloadHeader: &PayloadHeader{},
		Encoding:      CERT_X509_SIGNATURE,
		Data:          []byte("not a real certificate"),
	}
	enc := c.Encode()
	dec := &CertPayload{PayloadHeader: &PayloadHeader{}}
	if err := dec.Decode(enc); err != nil {
		t.Fatal(err)
	}
	if dec.Encoding != CERT_X509_SIGNATURE || !bytes.Equal(dec.Data, c.Data) {
		t.Errorf("decoded %+v", dec)
	}
}

func TestConfigurationPayloadRoundTrip(t *testing.T) {
	cp := &ConfigurationPayload{
		PayloadHeader: &PayloadHeader{},
		CfgType:       CFG_REPLY,
		Attributes: []*ConfigAttribute{
			{Type: INTERNAL_IP4_ADDRESS, Value: []byte{10, 0, 0, 5}},
			{Type: INTERNAL_IP4_DNS, Value: []byte{8, 8, 8, 8}},
		},
	}
	enc := cp.Encode()
	dec := &ConfigurationPayload{PayloadHeader: &PayloadHeader{}}
	if err := dec.Decode(enc); err != nil {
		t.Fatal(err)
	}
	if len(dec.Attributes) != 2 || dec.Attributes[0].Type != INTERNAL_IP4_ADDRESS {
		t.Errorf("decoded %+v", dec)
	}
}

func TestTrafficSelectorPayloadRoundTrip(t *testing.T) {
	sel := &Selector{
		Type:         TS_IPV4_ADDR_RANGE,
		IpProtocolId: 0,
		StartPort:    0,
		Endport:      65535,
		StartAddress: []byte{192, 168, 1, 0},
		EndAddress:   []byte{192, 168, 1, 255},
	}
	ts := NewTrafficSelectorPayload(false, sel)
	enc := ts.Encode()
	dec := &TrafficSelectorPayload{PayloadHeader: &PayloadHeader{}}
	if err := dec.Decode(enc); err != nil {
		t.Fatal(err)
	}
	if len(dec.Selectors) != 1 || !bytes.Equal(dec.Selectors[0].StartAddress, sel.StartAddress) {
		t.Errorf("decoded %+v", dec)
	}
}

func TestUnknownCriticalPayloadRejected(t *testing.T) {
	header := &PayloadHeader{IsCriticalFlag: true}
	_, err := DecodePayloadBody(PayloadType(200), header, []byte{1, 2, 3, 4})
	ierr, ok := err.(IkeError)
	if !ok || ierr.IkeErrorCode != ERR_UNSUPPORTED_CRITICAL_PAYLOAD {
		t.Fatalf("got %v, want ERR_UNSUPPORTED_CRITICAL_PAYLOAD", err)
	}
}

func TestUnknownNonCriticalPayloadPreserved(t *testing.T) {
	header := &PayloadHeader{}
	pl, err := DecodePayloadBody(PayloadType(200), header, []byte{1, 2, 3, 4})
	if err != nil {
		t.Fatal(err)
	}
	up, ok := pl.(*UnknownPayload)
	if !ok || !bytes.Equal(up.Raw, []byte{1, 2, 3, 4}) {
		t.Errorf("got %+v", pl)
	}
}

func TestSaTransformWithinPeerOffer(t *testing.T) {
	peerOffer := []*SaTransform{
		{Transform: Transform{Type: TRANSFORM_TYPE_ENCR, TransformId: uint16(ENCR_AES_CBC)}, KeyLength: 128},
		{Transform: Transform{Type: TRANSFORM_TYPE_PRF, TransformId: uint16(PRF_HMAC_SHA1)}},
		{Transform: Transform{Type: TRANSFORM_TYPE_INTEG, TransformId: uint16(AUTH_HMAC_SHA1_96)}},
		{Transform: Transform{Type: TRANSFORM_TYPE_DH, TransformId: uint16(MODP_1024)}, IsLast: true},
	}
	if !IKE_AES_CBC_SHA1_96_MODP1024.Within(peerOffer) {
		t.Error("expected configured transform set to be found within peer offer")
	}
	if IKE_AES_GCM_16_MODP3072.Within(peerOffer) {
		t.Error("AEAD transform set should not be satisfied by a CBC-only offer")
	}
}

func TestNoncePayloadLengthBounds(t *testing.T) {
	n := &NoncePayload{PayloadHeader: &PayloadHeader{}}
	if err := n.Decode(bytes.Repeat([]byte{1}, 8)); err == nil {
		t.Error("expected error for nonce shorter than 16 bytes")
	}
	n.Nonce = new(big.Int).SetBytes(bytes.Repeat([]byte{1}, 32))
	if err := n.Decode(n.Encode()); err != nil {
		t.Error(err)
	}
}

func TestSkfPayloadFragmentFields(t *testing.T) {
	skf := NewSkPayload(true)
	skf.FragmentNumber = 2
	skf.TotalFragments = 5
	skf.RawBody = []byte("still encrypted")
	enc := skf.Encode()

	dec := NewSkPayload(true)
	if err := dec.Decode(enc); err != nil {
		t.Fatal(err)
	}
	if dec.FragmentNumber != 2 || dec.TotalFragments != 5 {
		t.Errorf("decoded %+v", dec)
	}
	if n, _ := packets.ReadB16(enc, 0); n != 2 {
		t.Errorf("fragment number on wire = %d, want 2", n)
	}
}
