package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"

	"github.com/dgryski/go-camellia"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/msgboxio/ike/protocol"
)

// cipherFunc must return a cipher.BlockMode; only block ciphers are
// supported by the non-AEAD path.
type cipherFunc func(key, iv []byte, isRead bool) interface{}

func cipherTransform(cipherId uint16, keyLen int, cipher *simpleCipher) (*simpleCipher, bool) {
	blockSize, fn, ok := _cipherTransform(cipherId)
	if !ok {
		return nil, false
	}
	if cipher == nil {
		cipher = &simpleCipher{}
	}
	cipher.keyLen = keyLen
	cipher.blockLen = blockSize
	cipher.ivLen = blockSize
	cipher.cipherFunc = fn
	cipher.EncrTransformId = protocol.EncrTransformId(cipherId)
	return cipher, true
}

func _cipherTransform(cipherId uint16) (int, cipherFunc, bool) {
	switch protocol.EncrTransformId(cipherId) {
	case protocol.ENCR_CAMELLIA_CBC:
		return camellia.BlockSize, cipherCamellia, true
	case protocol.ENCR_AES_CBC:
		return aes.BlockSize, cipherAES, true
	case protocol.ENCR_NULL:
		return 0, cipherNull, true
	default:
		return 0, nil, false
	}
}

// simpleCipher implements Cipher for the non-AEAD MAC-then-encrypt
// (decrypt path) / encrypt-then-MAC (encrypt path) transforms: a block
// cipher for confidentiality plus a separate HMAC for integrity.
type simpleCipher struct {
	macLen, macKeyLen int
	macFunc

	keyLen, ivLen, blockLen int
	cipherFunc

	protocol.EncrTransformId
	protocol.AuthTransformId
}

func (cs *simpleCipher) String() string {
	return cs.EncrTransformId.String() + "+" + cs.AuthTransformId.String()
}

func (cs *simpleCipher) Overhead(clear []byte) int {
	if cs.blockLen == 0 {
		return cs.macLen
	}
	return cs.blockLen - len(clear)%cs.blockLen + cs.macLen + cs.ivLen
}

func (cs *simpleCipher) VerifyDecrypt(ike, skA, skE []byte, logger log.Logger) (dec []byte, err error) {
	level.Debug(logger).Log("msg", "simple verify&decrypt", "cipher", cs.String())
	if err = verifyMac(skA, ike, cs.macLen, cs.macFunc); err != nil {
		return
	}
	b := ike[protocol.IKE_HEADER_LEN:]
	dec, err = decrypt(b[protocol.PAYLOAD_HEADER_LENGTH:len(b)-cs.macLen], skE, cs.ivLen, cs.cipherFunc, logger)
	return
}

func (cs *simpleCipher) EncryptMac(headers, payload, skA, skE []byte, logger log.Logger) (b []byte, err error) {
	encr, err := encrypt(payload, skE, cs.ivLen, cs.cipherFunc, logger)
	if err != nil {
		return
	}
	data := append(headers, encr...)
	var mac []byte
	if cs.macFunc != nil {
		mac = cs.macFunc(skA, data)
	}
	b = append(data, mac...)
	level.Debug(logger).Log("msg", "simple encrypt&mac", "mac", hex.EncodeToString(mac))
	return
}

func verifyMac(skA, ike []byte, macLen int, fn macFunc) error {
	if fn == nil {
		return nil
	}
	if len(ike) < macLen {
		return errors.New("crypto: message shorter than mac")
	}
	body, mac := ike[:len(ike)-macLen], ike[len(ike)-macLen:]
	expected := fn(skA, body)
	if !hmacEqual(expected, mac) {
		return errors.New("crypto: mac verification failed")
	}
	return nil
}

func hmacEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var v byte
	for i := range a {
		v |= a[i] ^ b[i]
	}
	return v == 0
}

// cipherFunc Implementations

func cipherAES(key, iv []byte, isRead bool) interface{} {
	block, _ := aes.NewCipher(key)
	if isRead {
		return cipher.NewCBCDecrypter(block, iv)
	}
	return cipher.NewCBCEncrypter(block, iv)
}

func cipherCamellia(key, iv []byte, isRead bool) interface{} {
	block, _ := camellia.New(key)
	if isRead {
		return cipher.NewCBCDecrypter(block, iv)
	}
	return cipher.NewCBCEncrypter(block, iv)
}

func cipherNull([]byte, []byte, bool) interface{} { return nil }

// decryption & encryption routines

func decrypt(b, key []byte, ivLen int, cipherFn cipherFunc, logger log.Logger) (dec []byte, err error) {
	if ivLen == 0 {
		return b, nil
	}
	if len(b) < ivLen {
		return nil, errors.New("crypto: ciphertext shorter than iv")
	}
	iv := b[0:ivLen]
	ciphertext := b[ivLen:]
	mode := cipherFn(key, iv, true).(cipher.BlockMode)
	if len(ciphertext)%mode.BlockSize() != 0 {
		return nil, errors.New("crypto: ciphertext is not a multiple of the block size")
	}
	clear := make([]byte, len(ciphertext))
	mode.CryptBlocks(clear, ciphertext)
	if len(clear) == 0 {
		return nil, errors.New("crypto: empty plaintext")
	}
	padlen := int(clear[len(clear)-1]) + 1 // padlen byte itself
	if padlen > len(clear) || padlen > mode.BlockSize() {
		return nil, errors.New("crypto: pad length larger than block size")
	}
	dec = clear[:len(clear)-padlen]
	level.Debug(logger).Log("msg", "decrypt", "padlen", padlen)
	return
}

func encrypt(clear, key []byte, ivLen int, cipherFn cipherFunc, logger log.Logger) (b []byte, err error) {
	if ivLen == 0 {
		return clear, nil
	}
	iv := make([]byte, ivLen)
	if _, err = rand.Read(iv); err != nil {
		return
	}
	mode := cipherFn(key, iv, false).(cipher.BlockMode)
	padlen := mode.BlockSize() - len(clear)%mode.BlockSize()
	padded := append(append([]byte{}, clear...), make([]byte, padlen)...)
	padded[len(padded)-1] = byte(padlen - 1)
	ciphertext := make([]byte, len(padded))
	mode.CryptBlocks(ciphertext, padded)
	b = append(iv, ciphertext...)
	level.Debug(logger).Log("msg", "encrypt", "padlen", padlen)
	return
}
