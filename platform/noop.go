package platform

import (
	"errors"
	"net"

	"github.com/msgboxio/ike/protocol"
)

// NoopInstaller discards every SA install/delete/migrate call and
// reports every SA as idle. Useful for tests and for running the
// negotiation engine without kernel privileges (e.g. behind a
// userspace TUN device supplied by cmd/ikev2d instead).
type NoopInstaller struct{}

func (NoopInstaller) InstallSA(*SaParams) error { return nil }
func (NoopInstaller) DeleteSA(*SaParams) error  { return nil }
func (NoopInstaller) MigrateSA([4]byte, net.IP, net.IP) error {
	return nil
}
func (NoopInstaller) QueryIdle([4]byte) (bool, error) { return false, nil }

// StaticPPKStore is the simplest PPKStore: a fixed id->secret table,
// suitable for a config file-driven deployment with a handful of PPKs.
type StaticPPKStore map[string][]byte

func (s StaticPPKStore) LookupByID(id []byte) ([]byte, bool) {
	secret, ok := s[string(id)]
	return secret, ok
}

// NoResolver rejects every lookup; a deployment with no redirect/
// opportunistic-auth policy can wire this in rather than leaving the
// interface nil.
type NoResolver struct{}

func (NoResolver) LookupIPSECKEY(string) ([]byte, error) {
	return nil, errors.New("platform: no resolver configured")
}

// StaticIdentityStore is a single-peer IdentityStore: one local ID sent
// for every auth method, one PSK returned regardless of which peer
// identity is presented. Fits a point-to-point gateway config; a
// multi-peer deployment wires in something keyed by id instead.
type StaticIdentityStore struct {
	LocalID protocol.IdType
	LocalData []byte
	Psk       []byte
}

func (s StaticIdentityStore) ForAuthentication(protocol.IdType) []byte { return s.LocalData }

func (s StaticIdentityStore) AuthData(id []byte, method protocol.AuthMethod) ([]byte, error) {
	if method != protocol.SHARED_KEY_MESSAGE_INTEGRITY_CODE {
		return nil, errors.New("platform: static identity store only holds a PSK")
	}
	return s.Psk, nil
}
