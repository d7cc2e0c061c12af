package message

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/go-kit/kit/log"
	"github.com/msgboxio/ike/crypto"
	"github.com/msgboxio/ike/protocol"
)

func testCipherSuite(t *testing.T) *crypto.CipherSuite {
	t.Helper()
	trs := protocol.Transforms{
		{Transform: protocol.Transform{Type: protocol.TRANSFORM_TYPE_ENCR, TransformId: uint16(protocol.ENCR_AES_CBC)}, KeyLength: 128},
		{Transform: protocol.Transform{Type: protocol.TRANSFORM_TYPE_INTEG, TransformId: uint16(protocol.AUTH_HMAC_SHA2_256_128)}},
	}
	cs, err := crypto.NewCipherSuite(trs)
	if err != nil {
		t.Fatal(err)
	}
	return cs
}

func testIkeHeader() *protocol.IkeHeader {
	h := &protocol.IkeHeader{ExchangeType: protocol.IKE_AUTH, MajorVersion: protocol.IKEV2_MAJOR_VERSION}
	copy(h.SpiI[:], bytes.Repeat([]byte{0x11}, 8))
	copy(h.SpiR[:], bytes.Repeat([]byte{0x22}, 8))
	return h
}

func TestCleartextRoundTrip(t *testing.T) {
	header := testIkeHeader()
	header.ExchangeType = protocol.IKE_SA_INIT
	header.Flags = protocol.INITIATOR

	b := NewBuilder(header)
	b.Add(&protocol.SaPayload{PayloadHeader: &protocol.PayloadHeader{}})
	b.Add(&protocol.KePayload{PayloadHeader: &protocol.PayloadHeader{}, DhTransformId: protocol.MODP_2048, KeyData: big.NewInt(12345)})
	wantNonce := new(big.Int).SetBytes(bytes.Repeat([]byte{0xab}, 32))
	b.Add(&protocol.NoncePayload{PayloadHeader: &protocol.PayloadHeader{}, Nonce: wantNonce})

	wire := b.EncodeCleartext()

	m, err := Decode(wire)
	if err != nil {
		t.Fatal(err)
	}
	if m.IsEncrypted() {
		t.Fatal("cleartext message should not report itself as encrypted")
	}
	if m.Payloads.Get(protocol.PayloadTypeSA) == nil {
		t.Fatal("missing SA payload")
	}
	ke, ok := m.Payloads.Get(protocol.PayloadTypeKE).(*protocol.KePayload)
	if !ok {
		t.Fatal("missing KE payload")
	}
	if ke.DhTransformId != protocol.MODP_2048 || ke.KeyData.Cmp(big.NewInt(12345)) != 0 {
		t.Fatalf("ke payload mismatch: %+v", ke)
	}
	nonce, ok := m.Payloads.Get(protocol.PayloadTypeNonce).(*protocol.NoncePayload)
	if !ok || nonce.Nonce.Cmp(wantNonce) != 0 {
		t.Fatal("nonce payload mismatch")
	}
}

func TestEncryptedRoundTrip(t *testing.T) {
	cs := testCipherSuite(t)
	logger := log.NewNopLogger()
	skA := bytes.Repeat([]byte{0x01}, cs.MacKeyLen)
	skE := bytes.Repeat([]byte{0x02}, cs.KeyLen)

	header := testIkeHeader()
	header.MsgId = 1
	b := NewBuilder(header)
	b.Add(protocol.NewIdPayload(false, protocol.ID_FQDN, []byte("initiator.example.com")))
	wantNonce := new(big.Int).SetBytes(bytes.Repeat([]byte{0xcd}, 24))
	b.Add(&protocol.NoncePayload{PayloadHeader: &protocol.PayloadHeader{}, Nonce: wantNonce})

	wire, err := b.EncodeEncrypted(cs, skA, skE, logger)
	if err != nil {
		t.Fatal(err)
	}

	m, err := Decode(wire)
	if err != nil {
		t.Fatal(err)
	}
	if !m.IsEncrypted() {
		t.Fatal("expected message to report itself as encrypted before Decrypt")
	}
	if err := m.Decrypt(cs, skA, skE, logger); err != nil {
		t.Fatal(err)
	}
	if m.IsEncrypted() {
		t.Fatal("expected message to report itself as decrypted after Decrypt")
	}
	idi, ok := m.Payloads.Get(protocol.PayloadTypeIDi).(*protocol.IdPayload)
	if !ok || string(idi.Data) != "initiator.example.com" {
		t.Fatalf("idi payload mismatch: %+v", idi)
	}
	nonce, ok := m.Payloads.Get(protocol.PayloadTypeNonce).(*protocol.NoncePayload)
	if !ok || nonce.Nonce.Cmp(wantNonce) != 0 {
		t.Fatal("nonce payload mismatch")
	}
}

func TestEncryptedRoundTripRejectsTamperedCiphertext(t *testing.T) {
	cs := testCipherSuite(t)
	logger := log.NewNopLogger()
	skA := bytes.Repeat([]byte{0x01}, cs.MacKeyLen)
	skE := bytes.Repeat([]byte{0x02}, cs.KeyLen)

	header := testIkeHeader()
	b := NewBuilder(header)
	b.Add(&protocol.NoncePayload{PayloadHeader: &protocol.PayloadHeader{}, Nonce: new(big.Int).SetBytes(bytes.Repeat([]byte{0xee}, 20))})
	wire, err := b.EncodeEncrypted(cs, skA, skE, logger)
	if err != nil {
		t.Fatal(err)
	}
	wire[len(wire)-1] ^= 0xff

	m, err := Decode(wire)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Decrypt(cs, skA, skE, logger); err == nil {
		t.Fatal("expected tampered ciphertext to be rejected")
	}
}

func TestEnsurePayloadsReportsMissing(t *testing.T) {
	header := testIkeHeader()
	header.ExchangeType = protocol.IKE_SA_INIT
	b := NewBuilder(header)
	b.Add(&protocol.SaPayload{PayloadHeader: &protocol.PayloadHeader{}})
	m, err := Decode(b.EncodeCleartext())
	if err != nil {
		t.Fatal(err)
	}
	if err := m.EnsurePayloads([]protocol.PayloadType{protocol.PayloadTypeSA, protocol.PayloadTypeKE}); err == nil {
		t.Fatal("expected missing KE payload to be reported")
	}
}
