// Package platform isolates every effect that reaches outside this
// process: installing/removing kernel SAs, verifying certificate
// chains, looking up a PPK, resolving IPSECKEY/DNS records. Session
// only ever holds interfaces from this package; concrete
// implementations (netlink, PF_KEY, a cert store, a stub resolver) live
// outside this module and are wired in by cmd/ikev2d.
package platform

import (
	"net"
	"time"

	"github.com/msgboxio/ike/protocol"
)

// Direction names which half of a Child SA a SaParams describes.
type Direction int

const (
	DirectionIn Direction = iota
	DirectionOut
)

// SaParams carries everything an Installer needs to program one
// direction of one Child SA into the kernel. session.go's installChild
// and removeChild build one per direction and hand it to an Installer.
type SaParams struct {
	IsInitiator bool
	Direction   Direction

	LocalAddr, RemoteAddr net.IP

	Spi [4]byte

	EncrTransform protocol.EncrTransformId
	EncrKey       []byte
	AuthTransform protocol.AuthTransformId
	AuthKey       []byte

	IsTransportMode bool
	IpCompEnabled   bool
	IpCompCpi       uint16

	TsLocal, TsRemote []*protocol.Selector

	ReplaceDeadline time.Time
}

// Installer programs and removes kernel IPsec state. InstallSA is
// called twice per Child SA (once per direction); DeleteSA also takes
// a Direction so a half-torn-down Child SA (peer deleted only its
// outbound, say) can be modeled faithfully. MigrateSA moves an
// existing SA's addresses during MOBIKE without a rekey. QueryIdle
// reports whether an SA has carried any traffic recently, for
// liveness/DPD policy decisions.
type Installer interface {
	InstallSA(sa *SaParams) error
	DeleteSA(sa *SaParams) error
	MigrateSA(spi [4]byte, newLocal, newRemote net.IP) error
	QueryIdle(spi [4]byte) (idle bool, err error)
}

// Identity is a verified peer identity extracted from a certificate or
// pre-shared credential, the way session.go's (unretrieved) auth
// bodies evidently produced one for the AUTH payload checks.
type Identity struct {
	Kind  protocol.IdType
	Value []byte
}

// CertVerifier decodes an X.509 chain and checks it against roots,
// returning the leaf's subject identity and public key for AUTH
// payload verification. Chain format/trust policy stay outside this
// module's scope per spec.md's certificate-handling Non-goal; this
// interface is the seam a real implementation plugs into.
type CertVerifier interface {
	DecodeAndVerify(chain [][]byte, roots [][]byte) (Identity, interface{}, error)
}

// PPKStore resolves a Postquantum Preshared Key by the identifier
// carried in a PPK_IDENTITY notify.
type PPKStore interface {
	LookupByID(id []byte) (secret []byte, ok bool)
}

// Resolver performs the async IPSECKEY/DNS lookups a redirect or
// opportunistic-auth policy may need; it runs on async.Runner like any
// other Task, never inline on the event loop.
type Resolver interface {
	LookupIPSECKEY(hostname string) ([]byte, error)
}

// IdentityStore resolves the AUTH payload's PSK/key material, generalizing
// tkm.go's Identities interface (ForAuthentication/AuthData, referenced
// there but never defined anywhere in the retrieved sources, same gap as
// checkNatHash/getCookie). ForAuthentication gives the local ID payload
// body this side sends for idType; AuthData gives the secret a
// SHARED_KEY_MESSAGE_INTEGRITY_CODE AUTH is computed/verified against for
// a peer identity carried in an ID payload.
type IdentityStore interface {
	ForAuthentication(idType protocol.IdType) []byte
	AuthData(id []byte, method protocol.AuthMethod) ([]byte, error)
}
