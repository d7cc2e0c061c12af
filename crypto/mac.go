package crypto

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"

	"github.com/msgboxio/ike/protocol"
)

type macFunc func(key, data []byte) []byte

func hashMac(h func() hash.Hash, macLen int) macFunc {
	return func(key, data []byte) []byte {
		mac := hmac.New(h, key)
		mac.Write(data)
		return mac.Sum(nil)[:macLen]
	}
}

// integrityTransform fills in the mac fields of an in-progress simpleCipher;
// cipher may already carry an ENCR pick from a prior switch case. macLen is
// the truncated ICV length written to the wire; macKeyLen is the length of
// the SK_a key, which for an HMAC-based mac equals the untruncated digest size.
func integrityTransform(authId uint16, cipher *simpleCipher) (*simpleCipher, bool) {
	macLen, macKeyLen, fn, ok := _integrityTransform(authId)
	if !ok {
		return nil, false
	}
	if cipher == nil {
		cipher = &simpleCipher{}
	}
	cipher.macLen = macLen
	cipher.macKeyLen = macKeyLen
	cipher.macFunc = fn
	cipher.AuthTransformId = protocol.AuthTransformId(authId)
	return cipher, true
}

func _integrityTransform(authId uint16) (truncLen, keyLen int, fn macFunc, ok bool) {
	switch protocol.AuthTransformId(authId) {
	case protocol.AUTH_HMAC_SHA1_96:
		return 12, sha1.Size, hashMac(sha1.New, 12), true
	case protocol.AUTH_HMAC_SHA2_256_128:
		return 16, sha256.Size, hashMac(sha256.New, 16), true
	case protocol.AUTH_HMAC_SHA2_384_192:
		return 24, sha512.Size384, hashMac(sha512.New384, 24), true
	case protocol.AUTH_HMAC_SHA2_512_256:
		return 32, sha512.Size, hashMac(sha512.New, 32), true
	case protocol.AUTH_NONE:
		return 0, 0, nil, true
	default:
		return 0, 0, nil, false
	}
}

func errUnsupportedAuth(authId uint16) error {
	return fmt.Errorf("crypto: unsupported integrity transform %d", authId)
}
