package crypto

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"

	"github.com/msgboxio/ike/protocol"
)

// Signer produces the signature octets carried in an AUTH payload when
// the negotiated method is RSA_DIGITAL_SIGNATURE or the generic
// AUTH_DIGITAL_SIGNATURE (RFC 7427), given the already-assembled signed
// octets (see SignedOctets).
type Signer interface {
	AuthMethod() protocol.AuthMethod
	Sign(signed []byte) ([]byte, error)
}

// Verifier checks a peer's AUTH payload signature against its certificate.
type Verifier interface {
	Verify(signed, sig []byte) error
}

// rsaSigner signs with PKCS#1 v1.5 over SHA-256, the scheme RFC 7427
// names ASN.1 OID rsaEncryption for generic digital-signature auth.
type rsaSigner struct {
	key *rsa.PrivateKey
}

func NewRsaSigner(key *rsa.PrivateKey) Signer { return &rsaSigner{key: key} }

func (s *rsaSigner) AuthMethod() protocol.AuthMethod { return protocol.AUTH_DIGITAL_SIGNATURE }

func (s *rsaSigner) Sign(signed []byte) ([]byte, error) {
	h := sha256.Sum256(signed)
	return rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, h[:])
}

type rsaVerifier struct {
	pub *rsa.PublicKey
}

func NewRsaVerifier(pub *rsa.PublicKey) Verifier { return &rsaVerifier{pub: pub} }

func (v *rsaVerifier) Verify(signed, sig []byte) error {
	h := sha256.Sum256(signed)
	return rsa.VerifyPKCS1v15(v.pub, crypto.SHA256, h[:], sig)
}

// ecdsaSigner signs with ECDSA over SHA-384, matching the P-384 curve
// RFC 7427 recommends pairing with ECDSA-SHA384 (id-ecdsa-with-SHA384).
type ecdsaSigner struct {
	key *ecdsa.PrivateKey
}

func NewEcdsaSigner(key *ecdsa.PrivateKey) Signer { return &ecdsaSigner{key: key} }

func (s *ecdsaSigner) AuthMethod() protocol.AuthMethod { return protocol.AUTH_DIGITAL_SIGNATURE }

func (s *ecdsaSigner) Sign(signed []byte) ([]byte, error) {
	h := sha512.Sum384(signed)
	return ecdsa.SignASN1(rand.Reader, s.key, h[:])
}

type ecdsaVerifier struct {
	pub *ecdsa.PublicKey
}

func NewEcdsaVerifier(pub *ecdsa.PublicKey) Verifier { return &ecdsaVerifier{pub: pub} }

func (v *ecdsaVerifier) Verify(signed, sig []byte) error {
	h := sha512.Sum384(signed)
	if !ecdsa.VerifyASN1(v.pub, h[:], sig) {
		return fmt.Errorf("crypto: ecdsa signature verification failed")
	}
	return nil
}
