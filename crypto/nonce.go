package crypto

import (
	"crypto/rand"
	"fmt"
)

// Nonce length bounds from RFC 7296 2.10: at least half the key size of
// the negotiated PRF, and never shorter than 16 or longer than 256 bytes.
const (
	MinNonceLen = 16
	MaxNonceLen = 256
)

// RandomNonce returns a fresh Ni/Nr of the given length in bytes. A
// length below MinNonceLen is raised to MinNonceLen; a length above
// MaxNonceLen is an error.
func RandomNonce(length int) ([]byte, error) {
	if length < MinNonceLen {
		length = MinNonceLen
	}
	if length > MaxNonceLen {
		return nil, fmt.Errorf("crypto: nonce length %d exceeds maximum %d", length, MaxNonceLen)
	}
	n := make([]byte, length)
	if _, err := rand.Read(n); err != nil {
		return nil, err
	}
	return n, nil
}
