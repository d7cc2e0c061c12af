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

// Prf is a keyed pseudo-random function as used by the IKEv2 key
// schedule (RFC 7296 2.13), together with its preferred key length.
type Prf struct {
	Length int // bytes
	apply  func(key, data []byte) []byte
}

func (p *Prf) Apply(key, data []byte) []byte { return p.apply(key, data) }

// Prfplus implements prf+(K, S), the keystream expansion used to derive
// SKEYSEED-rooted and child-SA KEYMAT from a shared PRF.
func (p *Prf) Prfplus(key, seed []byte, length int) []byte {
	var t, out []byte
	for count := byte(1); len(out) < length; count++ {
		in := append(append([]byte{}, t...), seed...)
		in = append(in, count)
		t = p.apply(key, in)
		out = append(out, t...)
	}
	return out[:length]
}

func hmacPrf(h func() hash.Hash, length int) *Prf {
	return &Prf{
		Length: length,
		apply: func(key, data []byte) []byte {
			mac := hmac.New(h, key)
			mac.Write(data)
			return mac.Sum(nil)
		},
	}
}

func prfTransform(prfId uint16) (*Prf, error) {
	switch protocol.PrfTransformId(prfId) {
	case protocol.PRF_HMAC_SHA1:
		return hmacPrf(sha1.New, sha1.Size), nil
	case protocol.PRF_HMAC_SHA2_256:
		return hmacPrf(sha256.New, sha256.Size), nil
	case protocol.PRF_HMAC_SHA2_384:
		return hmacPrf(sha512.New384, sha512.Size384), nil
	case protocol.PRF_HMAC_SHA2_512:
		return hmacPrf(sha512.New, sha512.Size), nil
	default:
		return nil, fmt.Errorf("crypto: unsupported prf transform %d", prfId)
	}
}
