package crypto

import (
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"io"
	"math/big"

	"github.com/msgboxio/ike/protocol"
)

// dhGroup is a Diffie-Hellman key-exchange group, either a MODP group
// (RFC 3526) or an elliptic curve group (RFC 5114 / RFC 8031).
type dhGroup interface {
	private(rand io.Reader) (*big.Int, error)
	public(priv *big.Int) *big.Int
	diffieHellman(theirPublic, myPrivate *big.Int) (*big.Int, error)
}

type modpGroup struct {
	prime, generator *big.Int
	bitLen           int
}

func (g *modpGroup) private(rnd io.Reader) (*big.Int, error) {
	// reserve the top and bottom bits, as recommended in RFC 2409 6.2
	priv := make([]byte, g.bitLen/8)
	if _, err := io.ReadFull(rnd, priv); err != nil {
		return nil, err
	}
	priv[0] |= 0xc0
	priv[len(priv)-1] |= 1
	return new(big.Int).SetBytes(priv), nil
}

func (g *modpGroup) public(priv *big.Int) *big.Int {
	return new(big.Int).Exp(g.generator, priv, g.prime)
}

func (g *modpGroup) diffieHellman(theirPublic, myPrivate *big.Int) (*big.Int, error) {
	if theirPublic.Sign() <= 0 || theirPublic.Cmp(g.prime) >= 0 {
		return nil, errors.New("crypto: dh public value out of range")
	}
	return new(big.Int).Exp(theirPublic, myPrivate, g.prime), nil
}

type ecpGroup struct {
	curve elliptic.Curve
}

func (g *ecpGroup) private(rnd io.Reader) (*big.Int, error) {
	priv, _, _, err := elliptic.GenerateKey(g.curve, rnd)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(priv), nil
}

func (g *ecpGroup) public(priv *big.Int) *big.Int {
	x, y := g.curve.ScalarBaseMult(priv.Bytes())
	return packEcpPoint(g.curve, x, y)
}

func (g *ecpGroup) diffieHellman(theirPublic, myPrivate *big.Int) (*big.Int, error) {
	x, y, err := unpackEcpPoint(g.curve, theirPublic)
	if err != nil {
		return nil, err
	}
	sx, _ := g.curve.ScalarMult(x, y, myPrivate.Bytes())
	return sx, nil
}

// packEcpPoint concatenates X|Y into the fixed-width KE payload encoding
// IKEv2 uses for ECP groups (RFC 5903 / RFC 8031), rather than SEC1's
// 0x04 point-compression prefix.
func packEcpPoint(curve elliptic.Curve, x, y *big.Int) *big.Int {
	byteLen := (curve.Params().BitSize + 7) / 8
	buf := make([]byte, 2*byteLen)
	x.FillBytes(buf[:byteLen])
	y.FillBytes(buf[byteLen:])
	return new(big.Int).SetBytes(buf)
}

func unpackEcpPoint(curve elliptic.Curve, packed *big.Int) (x, y *big.Int, err error) {
	byteLen := (curve.Params().BitSize + 7) / 8
	buf := packed.Bytes()
	if len(buf) > 2*byteLen {
		return nil, nil, errors.New("crypto: ecp point too long")
	}
	padded := make([]byte, 2*byteLen)
	copy(padded[2*byteLen-len(buf):], buf)
	x = new(big.Int).SetBytes(padded[:byteLen])
	y = new(big.Int).SetBytes(padded[byteLen:])
	if !curve.IsOnCurve(x, y) {
		return nil, nil, errors.New("crypto: ecp point not on curve")
	}
	return x, y, nil
}

// GenerateDhKey creates a fresh private/public DH keypair for suite's
// negotiated group, for the KE payload this side sends.
func GenerateDhKey(suite *CipherSuite) (priv, pub *big.Int, err error) {
	if suite.DhGroup == nil {
		return nil, nil, errors.New("crypto: cipher suite has no dh group")
	}
	priv, err = suite.DhGroup.private(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return priv, suite.DhGroup.public(priv), nil
}

// ComputeDhSharedSecret runs the DH exchange for suite's negotiated
// group against the peer's public KE value and this side's own private
// value from GenerateDhKey.
func ComputeDhSharedSecret(suite *CipherSuite, peerPublic, myPrivate *big.Int) ([]byte, error) {
	if suite.DhGroup == nil {
		return nil, errors.New("crypto: cipher suite has no dh group")
	}
	shared, err := suite.DhGroup.diffieHellman(peerPublic, myPrivate)
	if err != nil {
		return nil, err
	}
	return shared.Bytes(), nil
}

func modpGroupFromHex(primeHex string, generator int64, bitLen int) *modpGroup {
	p, ok := new(big.Int).SetString(primeHex, 16)
	if !ok {
		panic("crypto: bad modp prime")
	}
	return &modpGroup{prime: p, generator: big.NewInt(generator), bitLen: bitLen}
}

// kexAlgoMap maps the DH transform IDs this module is configured to offer
// or accept to their group implementation.
// Group 15 (MODP_3072) is deliberately not wired here: offering it would
// need its RFC 3526 prime alongside group 2/14, and nothing in a
// negotiated proposal can fall back to it once offered, so it stays out
// of the registry until that constant is added.
var kexAlgoMap = map[protocol.DhTransformId]dhGroup{
	protocol.MODP_1024: modpGroupFromHex(oakleyGroup2, 2, 1024),
	protocol.MODP_2048: modpGroupFromHex(oakleyGroup14, 2, 2048),
	protocol.ECP_256:   &ecpGroup{curve: elliptic.P256()},
	protocol.ECP_384:   &ecpGroup{curve: elliptic.P384()},
}

// SupportsDhGroup reports whether id is a DH group this module can
// generate keys for, the registry an INVALID_KE_PAYLOAD retry checks
// before adopting a peer-suggested group (RFC 7296 2.5 requires the new
// group actually be one the retrying side would offer).
func SupportsDhGroup(id protocol.DhTransformId) bool {
	_, ok := kexAlgoMap[id]
	return ok
}

// RFC 3526 / RFC 2409 well-known MODP primes.
const (
	oakleyGroup2 = "FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD129024E0" +
		"88A67CC74020BBEA63B139B22514A08798E3404DDEF9519B3CD3A43" +
		"1B302B0A6DF25F14374FE1356D6D51C245E485B576625E7EC6F44C4" +
		"2E9A637ED6B0BFF5CB6F406B7EDEE386BFB5A899FA5AE9F24117C4B" +
		"1FE649286651ECE65381FFFFFFFFFFFFFFFF"

	oakleyGroup14 = "FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD129024E0" +
		"88A67CC74020BBEA63B139B22514A08798E3404DDEF9519B3CD3A43" +
		"1B302B0A6DF25F14374FE1356D6D51C245E485B576625E7EC6F44C4" +
		"2E9A637ED6B0BFF5CB6F406B7EDEE386BFB5A899FA5AE9F24117C4B" +
		"1FE649286651ECE45B3DC2007CB8A163BF0598DA48361C55D39A69" +
		"163FA8FD24CF5F83655D23DCA3AD961C62F356208552BB9ED529077" +
		"096966D670C354E4ABC9804F1746C08CA18217C32905E462E36CE3B" +
		"E39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9DE2BCBF" +
		"6955817183995497CEA956AE515D2261898FA051015728E5A8AACAA" +
		"68FFFFFFFFFFFFFFFF"
)

func randomBigInt(bits int) (*big.Int, error) {
	b := make([]byte, bits/8)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(b), nil
}
