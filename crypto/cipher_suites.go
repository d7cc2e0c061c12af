package crypto

import (
	"fmt"

	kitlog "github.com/go-kit/kit/log"
	"github.com/msgboxio/ike/protocol"
	"github.com/msgboxio/log"
)

// Cipher provides encryption and integrity protection for one direction
// of SK payload traffic.
type Cipher interface {
	Overhead(clear []byte) int
	VerifyDecrypt(ike, skA, skE []byte, logger kitlog.Logger) (dec []byte, err error)
	EncryptMac(headers, payload, skA, skE []byte, logger kitlog.Logger) (b []byte, err error)
}

type CipherSuite struct {
	Cipher // aead or non-aead
	Prf    *Prf
	DhGroup dhGroup

	// lengths, in bytes, of the key material needed for each component
	KeyLen, MacKeyLen int
}

// NewCipherSuite builds a CipherSuite from a negotiated transform set.
func NewCipherSuite(trs protocol.Transforms) (*CipherSuite, error) {
	cs := &CipherSuite{}
	var aead *aeadCipher
	var simple *simpleCipher

	for _, tr := range trs {
		switch tr.Transform.Type {
		case protocol.TRANSFORM_TYPE_DH:
			dh, ok := kexAlgoMap[protocol.DhTransformId(tr.Transform.TransformId)]
			if !ok {
				return nil, fmt.Errorf("crypto: unsupported dh transform %d", tr.Transform.TransformId)
			}
			cs.DhGroup = dh
		case protocol.TRANSFORM_TYPE_PRF:
			prf, err := prfTransform(tr.Transform.TransformId)
			if err != nil {
				return nil, err
			}
			cs.Prf = prf
		case protocol.TRANSFORM_TYPE_ENCR:
			keyLen := int(tr.KeyLength) / 8 // from attribute; in bits
			var ok bool
			if simple, ok = cipherTransform(tr.Transform.TransformId, keyLen, simple); !ok {
				var aeadKeyLen int
				if aead, aeadKeyLen, ok = aeadTransform(tr.Transform.TransformId, keyLen, aead); !ok {
					return nil, fmt.Errorf("crypto: unsupported cipher transform %d", tr.Transform.TransformId)
				}
				keyLen = aeadKeyLen
			}
			cs.KeyLen = keyLen
		case protocol.TRANSFORM_TYPE_INTEG:
			var ok bool
			if simple, ok = integrityTransform(tr.Transform.TransformId, simple); !ok {
				return nil, fmt.Errorf("crypto: unsupported integrity transform %d", tr.Transform.TransformId)
			}
			cs.MacKeyLen = simple.macKeyLen
		case protocol.TRANSFORM_TYPE_ESN:
			// negotiated, but carried by the child SA install, not the cipher
		default:
			return nil, fmt.Errorf("crypto: unsupported transform type %d", tr.Transform.Type)
		}
	}
	if simple == nil && aead == nil {
		return nil, fmt.Errorf("crypto: no cipher transform in proposal")
	}
	if simple != nil && aead != nil {
		return nil, fmt.Errorf("crypto: invalid cipher transform combination")
	}
	if simple != nil {
		cs.Cipher = simple
		if cs.KeyLen == 0 {
			cs.KeyLen = simple.keyLen
		}
	}
	if aead != nil {
		cs.Cipher = aead
		cs.KeyLen = aead.keyLen
		cs.MacKeyLen = 0 // AEAD has no separate SK_a
	}
	return cs, nil
}

func (cs *CipherSuite) CheckIkeTransforms() error {
	if cs.DhGroup == nil || cs.Prf == nil {
		return fmt.Errorf("crypto: ike cipher suite missing dh group or prf")
	}
	if log.V(2) {
		log.Infof("IKE CipherSuite: %+v", *cs)
	}
	return nil
}

func (cs *CipherSuite) CheckEspTransforms() error {
	if cs.Cipher == nil {
		return fmt.Errorf("crypto: esp cipher suite missing cipher")
	}
	if log.V(2) {
		log.Infof("ESP CipherSuite: %+v", *cs)
	}
	return nil
}
