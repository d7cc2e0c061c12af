package crypto

import (
	"crypto/aes"
	stdcipher "crypto/cipher"
	"crypto/rand"
	"fmt"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/msgboxio/ike/protocol"
	"golang.org/x/crypto/chacha20poly1305"
)

const aeadSaltLen = 4     // bytes of SK_e consumed as a fixed salt, RFC 7296 3.3.3 / RFC 7634
const aeadExplicitIvLen = 8 // per-packet explicit IV/nonce sent on the wire
const aeadTagLen = 16

type aeadNewFunc func(key []byte) (stdcipher.AEAD, error)

// aeadCipher implements Cipher for combined-mode transforms: the salted
// nonce construction of RFC 7296/7634, no separate integrity transform.
type aeadCipher struct {
	protocol.EncrTransformId
	keyLen  int
	newAead aeadNewFunc
}

func (cs *aeadCipher) String() string { return cs.EncrTransformId.String() }

func (cs *aeadCipher) Overhead(clear []byte) int {
	return aeadExplicitIvLen + aeadTagLen
}

func (cs *aeadCipher) VerifyDecrypt(ike, _, skE []byte, logger log.Logger) (dec []byte, err error) {
	salt, key := skE[:aeadSaltLen], skE[aeadSaltLen:]
	aead, err := cs.newAead(key)
	if err != nil {
		return nil, err
	}
	b := ike[protocol.IKE_HEADER_LEN:]
	assocData := ike[:protocol.IKE_HEADER_LEN+protocol.PAYLOAD_HEADER_LENGTH]
	body := b[protocol.PAYLOAD_HEADER_LENGTH:]
	if len(body) < aeadExplicitIvLen+aeadTagLen {
		return nil, fmt.Errorf("crypto: aead body too short")
	}
	explicitIv := body[:aeadExplicitIvLen]
	ciphertext := body[aeadExplicitIvLen:]
	nonce := append(append([]byte{}, salt...), explicitIv...)
	dec, err = aead.Open(nil, nonce, ciphertext, assocData)
	level.Debug(logger).Log("msg", "aead verify&decrypt", "cipher", cs.String(), "ok", err == nil)
	return
}

func (cs *aeadCipher) EncryptMac(headers, payload, _, skE []byte, logger log.Logger) (b []byte, err error) {
	salt, key := skE[:aeadSaltLen], skE[aeadSaltLen:]
	aead, err := cs.newAead(key)
	if err != nil {
		return nil, err
	}
	explicitIv := make([]byte, aeadExplicitIvLen)
	if _, err = rand.Read(explicitIv); err != nil {
		return nil, err
	}
	nonce := append(append([]byte{}, salt...), explicitIv...)
	sealed := aead.Seal(nil, nonce, payload, headers)
	b = append(headers, explicitIv...)
	b = append(b, sealed...)
	level.Debug(logger).Log("msg", "aead encrypt&mac", "cipher", cs.String())
	return
}

func aeadTransform(cipherId uint16, keyLen int, existing *aeadCipher) (*aeadCipher, int, bool) {
	newFn, ok := _aeadTransform(cipherId)
	if !ok {
		return nil, keyLen, false
	}
	if keyLen == 0 {
		keyLen = defaultAeadKeyLen(protocol.EncrTransformId(cipherId))
	}
	return &aeadCipher{
		EncrTransformId: protocol.EncrTransformId(cipherId),
		keyLen:          keyLen,
		newAead:         newFn,
	}, keyLen, true
}

func _aeadTransform(cipherId uint16) (aeadNewFunc, bool) {
	switch protocol.EncrTransformId(cipherId) {
	case protocol.AEAD_AES_GCM_16:
		return newAesGcm, true
	case protocol.ENCR_CHACHA20_POLY1305:
		return chacha20poly1305.New, true
	default:
		return nil, false
	}
}

func defaultAeadKeyLen(id protocol.EncrTransformId) int {
	switch id {
	case protocol.ENCR_CHACHA20_POLY1305:
		return chacha20poly1305.KeySize
	default:
		return 32 // AES-256-GCM
	}
}

func newAesGcm(key []byte) (stdcipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return stdcipher.NewGCM(block)
}
