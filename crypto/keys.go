package crypto

import (
	"fmt"

	"github.com/msgboxio/ike/protocol"
)

// keyPadForAuth is the fixed string RFC 7296 2.15 mixes into the PSK-based
// AUTH payload so the same shared secret cannot be replayed as a MAC key
// for anything else.
const keyPadForAuth = "Key Pad for IKEv2"

// Keys holds the full IKE SA key schedule derived by DeriveIkeKeys (RFC 7296
// 2.14): one shared SK_d plus a directional pair for integrity and
// encryption, and a directional pair used only to authenticate the ID
// payload in AUTH.
type Keys struct {
	SkD                SkD
	SkAi, SkAr         []byte
	SkEi, SkEr         []byte
	SkPi, SkPr         []byte
}

// SkD is kept as its own type so a later CREATE_CHILD_SA IKE-SA rekey
// can require exactly this and nothing else.
type SkD []byte

// DeriveIkeKeys computes SKEYSEED and slices KEYMAT for a fresh IKE SA,
// following RFC 7296 2.14. ppk, if non-nil, is mixed into the DH shared
// secret as prf(ppk, g^ir) before SKEYSEED is computed, so every key in
// the result differs from the no-PPK derivation; no further SK_d' step
// is applied here or by the callers.
func DeriveIkeKeys(suite *CipherSuite, ni, nr, sharedSecret []byte, spiI, spiR protocol.Spi, ppk []byte) (*Keys, error) {
	if suite.Prf == nil {
		return nil, fmt.Errorf("crypto: cipher suite has no prf")
	}
	nonces := append(append([]byte{}, ni...), nr...)
	ikeSharedSecret := sharedSecret
	if ppk != nil {
		ikeSharedSecret = suite.Prf.Apply(ppk, sharedSecret)
	}
	skeyseed := suite.Prf.Apply(nonces, ikeSharedSecret)
	return sliceKeymat(suite, skeyseed, nonces, spiI, spiR)
}

// RekeyIkeKeys re-derives the key schedule for a CREATE_CHILD_SA exchange
// that rekeys the IKE SA itself (RFC 7296 2.18): SKEYSEED is rooted in the
// old SK_d instead of the nonces alone.
func RekeyIkeKeys(suite *CipherSuite, oldSkD SkD, ni, nr, sharedSecret []byte, spiI, spiR protocol.Spi) (*Keys, error) {
	if suite.Prf == nil {
		return nil, fmt.Errorf("crypto: cipher suite has no prf")
	}
	nonces := append(append([]byte{}, ni...), nr...)
	skeyseed := suite.Prf.Apply([]byte(oldSkD), append(append([]byte{}, sharedSecret...), nonces...))
	return sliceKeymat(suite, skeyseed, nonces, spiI, spiR)
}

func sliceKeymat(suite *CipherSuite, skeyseed, nonces []byte, spiI, spiR protocol.Spi) (*Keys, error) {
	seed := append(append([]byte{}, nonces...), spiI[:]...)
	seed = append(seed, spiR[:]...)

	prfLen := suite.Prf.Length
	integLen := suite.MacKeyLen
	cipherLen := suite.KeyLen

	total := prfLen + 2*integLen + 2*cipherLen + 2*prfLen
	keymat := suite.Prf.Prfplus(skeyseed, seed, total)

	k := &Keys{}
	off := 0
	take := func(n int) []byte {
		b := keymat[off : off+n]
		off += n
		return b
	}
	k.SkD = SkD(take(prfLen))
	k.SkAi = take(integLen)
	k.SkAr = take(integLen)
	k.SkEi = take(cipherLen)
	k.SkEr = take(cipherLen)
	k.SkPi = take(prfLen)
	k.SkPr = take(prfLen)
	return k, nil
}

// ChildKeys holds the ESP/AH key material derived for one child SA
// (RFC 7296 2.17): a directional pair of encryption keys, plus a
// directional pair of integrity keys when the transform isn't AEAD.
type ChildKeys struct {
	EspEi, EspEr []byte
	EspAi, EspAr []byte
}

// DeriveChildKeys computes KEYMAT for a CREATE_CHILD_SA (or the first
// child carried piggybacked on IKE_AUTH), rooted in SK_d rather than a
// fresh DH exchange unless the proposal carried a KE payload, in which
// case the caller mixes the new shared secret into skD before calling.
func DeriveChildKeys(suite *CipherSuite, skD SkD, ni, nr []byte) (*ChildKeys, error) {
	if suite.Prf == nil {
		return nil, fmt.Errorf("crypto: cipher suite has no prf")
	}
	seed := append(append([]byte{}, ni...), nr...)
	cipherLen := suite.KeyLen
	integLen := suite.MacKeyLen
	total := 2*cipherLen + 2*integLen
	keymat := suite.Prf.Prfplus([]byte(skD), seed, total)

	c := &ChildKeys{}
	off := 0
	take := func(n int) []byte {
		b := keymat[off : off+n]
		off += n
		return b
	}
	c.EspEi = take(cipherLen)
	c.EspEr = take(cipherLen)
	c.EspAi = take(integLen)
	c.EspAr = take(integLen)
	return c, nil
}

// RekeyChildSkD mixes a fresh DH shared secret into the parent SK_d
// before a child-SA rekey that carried its own KE payload (RFC 7296
// 2.18, PFS case): skD' = prf(SK_d, g^ir-new | Ni | Nr).
func RekeyChildSkD(suite *CipherSuite, skD SkD, newSharedSecret, ni, nr []byte) SkD {
	seed := append(append([]byte{}, newSharedSecret...), ni...)
	seed = append(seed, nr...)
	return SkD(suite.Prf.Apply([]byte(skD), seed))
}

// SignAuthPsk computes AUTH = prf(prf(psk, "Key Pad for IKEv2"), signed)
// for a pre-shared-key authenticated AUTH payload (RFC 7296 2.15).
func SignAuthPsk(prf *Prf, psk, signed []byte) []byte {
	padKey := prf.Apply(psk, []byte(keyPadForAuth))
	return prf.Apply(padKey, signed)
}

// SignedOctets builds the octet string an AUTH payload authenticates:
// the sender's full first message, the peer's nonce, and a MAC of the
// sender's ID payload body keyed by SK_pi (initiator) or SK_pr (responder).
func SignedOctets(prf *Prf, firstMessage, peerNonce, skP, idPayloadBody []byte) []byte {
	macId := prf.Apply(skP, idPayloadBody)
	signed := append(append([]byte{}, firstMessage...), peerNonce...)
	return append(signed, macId...)
}
