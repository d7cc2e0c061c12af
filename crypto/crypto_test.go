package crypto

import (
	"bytes"
	"crypto/elliptic"
	"crypto/rand"
	"math/big"
	"testing"

	"github.com/go-kit/kit/log"
	"github.com/msgboxio/ike/protocol"
)

func TestModpDiffieHellmanAgrees(t *testing.T) {
	g := kexAlgoMap[protocol.MODP_2048].(*modpGroup)
	for i := 0; i < 3; i++ {
		ia, err := g.private(rand.Reader)
		if err != nil {
			t.Fatal(err)
		}
		ib, err := g.private(rand.Reader)
		if err != nil {
			t.Fatal(err)
		}
		pa := g.public(ia)
		pb := g.public(ib)
		sa, err := g.diffieHellman(pb, ia)
		if err != nil {
			t.Fatal(err)
		}
		sb, err := g.diffieHellman(pa, ib)
		if err != nil {
			t.Fatal(err)
		}
		if sa.Cmp(sb) != 0 {
			t.Fatalf("round %d: shared secrets disagree", i)
		}
	}
}

func TestEcpDiffieHellmanAgrees(t *testing.T) {
	for name, id := range map[string]protocol.DhTransformId{"p256": protocol.ECP_256, "p384": protocol.ECP_384} {
		g := kexAlgoMap[id].(*ecpGroup)
		ia, err := g.private(rand.Reader)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		ib, err := g.private(rand.Reader)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		pa := g.public(ia)
		pb := g.public(ib)
		sa, err := g.diffieHellman(pb, ia)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		sb, err := g.diffieHellman(pa, ib)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if sa.Cmp(sb) != 0 {
			t.Fatalf("%s: shared secrets disagree", name)
		}
	}
}

func TestEcpPointRejectsOffCurve(t *testing.T) {
	g := &ecpGroup{curve: elliptic.P256()}
	bogus := new(big.Int).SetBytes(bytes.Repeat([]byte{0x41}, 64))
	if _, _, err := unpackEcpPoint(g.curve, bogus); err == nil {
		t.Fatal("expected off-curve point to be rejected")
	}
}

func TestPrfplusLengthAndPrefix(t *testing.T) {
	prf, err := prfTransform(uint16(protocol.PRF_HMAC_SHA2_256))
	if err != nil {
		t.Fatal(err)
	}
	key := []byte("SKEYSEED")
	seed := []byte("Ni|Nr|SPIi|SPIr")
	short := prf.Prfplus(key, seed, 16)
	long := prf.Prfplus(key, seed, 160)
	if len(short) != 16 || len(long) != 160 {
		t.Fatalf("got lengths %d, %d", len(short), len(long))
	}
	if !bytes.Equal(short, long[:16]) {
		t.Fatal("prf+ output must be a prefix-stable keystream")
	}
}

func TestDeriveIkeKeysSlicesDistinctRegions(t *testing.T) {
	suite := &CipherSuite{KeyLen: 32, MacKeyLen: 32}
	suite.Prf, _ = prfTransform(uint16(protocol.PRF_HMAC_SHA2_256))

	var spiI, spiR protocol.Spi
	copy(spiI[:], bytes.Repeat([]byte{0x11}, 8))
	copy(spiR[:], bytes.Repeat([]byte{0x22}, 8))

	ni := bytes.Repeat([]byte{0xaa}, 32)
	nr := bytes.Repeat([]byte{0xbb}, 32)
	shared := bytes.Repeat([]byte{0xcc}, 256)

	keys, err := DeriveIkeKeys(suite, ni, nr, shared, spiI, spiR, nil)
	if err != nil {
		t.Fatal(err)
	}
	regions := [][]byte{keys.SkD, keys.SkAi, keys.SkAr, keys.SkEi, keys.SkEr, keys.SkPi, keys.SkPr}
	for i := range regions {
		for j := i + 1; j < len(regions); j++ {
			if bytes.Equal(regions[i], regions[j]) {
				t.Fatalf("regions %d and %d collided", i, j)
			}
		}
	}

	// re-deriving with the same inputs must be fully deterministic
	keys2, err := DeriveIkeKeys(suite, ni, nr, shared, spiI, spiR, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(keys.SkD, keys2.SkD) {
		t.Fatal("key schedule is not deterministic")
	}
}

func TestDeriveIkeKeysWithPpkChangesSkD(t *testing.T) {
	suite := &CipherSuite{KeyLen: 32, MacKeyLen: 32}
	suite.Prf, _ = prfTransform(uint16(protocol.PRF_HMAC_SHA2_256))

	var spiI, spiR protocol.Spi
	ni := bytes.Repeat([]byte{0xaa}, 32)
	nr := bytes.Repeat([]byte{0xbb}, 32)
	shared := bytes.Repeat([]byte{0xcc}, 256)
	ppk := []byte("out-of-band-ppk")

	without, err := DeriveIkeKeys(suite, ni, nr, shared, spiI, spiR, nil)
	if err != nil {
		t.Fatal(err)
	}
	with, err := DeriveIkeKeys(suite, ni, nr, shared, spiI, spiR, ppk)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(without.SkD, with.SkD) {
		t.Fatal("mixing a ppk must change the derived key schedule")
	}
}

func TestSignAuthPskDeterministic(t *testing.T) {
	prf, _ := prfTransform(uint16(protocol.PRF_HMAC_SHA2_256))
	psk := []byte("s3cr3t")
	signed := []byte("first-message||Nr||id-mac")
	a := SignAuthPsk(prf, psk, signed)
	b := SignAuthPsk(prf, psk, signed)
	if !bytes.Equal(a, b) {
		t.Fatal("AUTH computation must be deterministic")
	}
	other := SignAuthPsk(prf, []byte("different"), signed)
	if bytes.Equal(a, other) {
		t.Fatal("AUTH must depend on the shared secret")
	}
}

func TestSimpleCipherRoundTrip(t *testing.T) {
	logger := log.NewNopLogger()
	cs, ok := cipherTransform(uint16(protocol.ENCR_AES_CBC), 16, nil)
	if !ok {
		t.Fatal("expected aes-cbc transform")
	}
	cs, ok = integrityTransform(uint16(protocol.AUTH_HMAC_SHA2_256_128), cs)
	if !ok {
		t.Fatal("expected integrity transform")
	}

	skA := bytes.Repeat([]byte{0x01}, cs.macKeyLen)
	skE := bytes.Repeat([]byte{0x02}, cs.keyLen)
	headers := bytes.Repeat([]byte{0x00}, protocol.IKE_HEADER_LEN+protocol.PAYLOAD_HEADER_LENGTH)
	payload := []byte("hello ikev2 child sa")

	wire, err := cs.EncryptMac(headers, payload, skA, skE, logger)
	if err != nil {
		t.Fatal(err)
	}
	dec, err := cs.VerifyDecrypt(wire, skA, skE, logger)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(dec, payload) {
		t.Fatalf("round trip mismatch: got %q want %q", dec, payload)
	}
}

func TestSimpleCipherRejectsTamperedMac(t *testing.T) {
	logger := log.NewNopLogger()
	cs, _ := cipherTransform(uint16(protocol.ENCR_AES_CBC), 16, nil)
	cs, _ = integrityTransform(uint16(protocol.AUTH_HMAC_SHA2_256_128), cs)

	skA := bytes.Repeat([]byte{0x01}, cs.macKeyLen)
	skE := bytes.Repeat([]byte{0x02}, cs.keyLen)
	headers := bytes.Repeat([]byte{0x00}, protocol.IKE_HEADER_LEN+protocol.PAYLOAD_HEADER_LENGTH)
	payload := []byte("tamper me")

	wire, err := cs.EncryptMac(headers, payload, skA, skE, logger)
	if err != nil {
		t.Fatal(err)
	}
	wire[len(wire)-1] ^= 0xff
	if _, err := cs.VerifyDecrypt(wire, skA, skE, logger); err == nil {
		t.Fatal("expected mac verification to fail on tampered input")
	}
}

func TestAeadCipherRoundTrip(t *testing.T) {
	logger := log.NewNopLogger()
	cs, _, ok := aeadTransform(uint16(protocol.AEAD_AES_GCM_16), 0, nil)
	if !ok {
		t.Fatal("expected aes-gcm transform")
	}
	skE := bytes.Repeat([]byte{0x03}, aeadSaltLen+cs.keyLen)
	headers := bytes.Repeat([]byte{0x00}, protocol.IKE_HEADER_LEN+protocol.PAYLOAD_HEADER_LENGTH)
	payload := []byte("esp over aead")

	wire, err := cs.EncryptMac(headers, payload, nil, skE, logger)
	if err != nil {
		t.Fatal(err)
	}
	dec, err := cs.VerifyDecrypt(wire, nil, skE, logger)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(dec, payload) {
		t.Fatalf("round trip mismatch: got %q want %q", dec, payload)
	}
}

func TestChaCha20Poly1305RoundTrip(t *testing.T) {
	logger := log.NewNopLogger()
	cs, _, ok := aeadTransform(uint16(protocol.ENCR_CHACHA20_POLY1305), 0, nil)
	if !ok {
		t.Fatal("expected chacha20-poly1305 transform")
	}
	skE := bytes.Repeat([]byte{0x04}, aeadSaltLen+cs.keyLen)
	headers := bytes.Repeat([]byte{0x00}, protocol.IKE_HEADER_LEN+protocol.PAYLOAD_HEADER_LENGTH)
	payload := []byte("chacha esp payload")

	wire, err := cs.EncryptMac(headers, payload, nil, skE, logger)
	if err != nil {
		t.Fatal(err)
	}
	dec, err := cs.VerifyDecrypt(wire, nil, skE, logger)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(dec, payload) {
		t.Fatalf("round trip mismatch: got %q want %q", dec, payload)
	}
}
