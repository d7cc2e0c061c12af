// Package state holds the IKE SA / Child SA objects the rest of the
// engine negotiates, the serial/SPI-indexed store that looks them up,
// and the transition-table FSM that drives a single SA through its
// exchanges.
package state

import (
	"net"
	"sync"
	"time"

	"github.com/msgboxio/ike/crypto"
	"github.com/msgboxio/ike/protocol"
)

// StateId enumerates where a single IKE or Child SA sits in its own
// transition table. The same numeric space is reused by both tables;
// IkeTransitions and ChildTransitions each only reference the subset
// that applies to them.
type StateId int

const (
	STATE_IDLE StateId = iota
	STATE_START
	STATE_INIT_R // responder waiting to validate IKE_SA_INIT
	STATE_INIT
	STATE_AUTH
	STATE_MATURE
	STATE_REKEY_IKE_SA
	STATE_REKEY_CHILD_SA
	STATE_DELETING
	STATE_FINISHED
)

func (s StateId) String() string {
	switch s {
	case STATE_IDLE:
		return "IDLE"
	case STATE_START:
		return "START"
	case STATE_INIT_R:
		return "INIT_R"
	case STATE_INIT:
		return "INIT"
	case STATE_AUTH:
		return "AUTH"
	case STATE_MATURE:
		return "MATURE"
	case STATE_REKEY_IKE_SA:
		return "REKEY_IKE_SA"
	case STATE_REKEY_CHILD_SA:
		return "REKEY_CHILD_SA"
	case STATE_DELETING:
		return "DELETING"
	case STATE_FINISHED:
		return "FINISHED"
	default:
		return "UNKNOWN"
	}
}

// IkeFlags records the boolean feature-negotiation state spec.md's Data
// Model lists alongside the IKE SA: what both sides advertised/saw.
type IkeFlags struct {
	SeenFragmentation bool
	SeenPPK           bool
	SeenIntermediate  bool
	SeenRedirect      bool
	SeenMobike        bool
	NatDetected       bool
	ViableParent      bool
}

// IkeSA is one IKE_SA negotiation/peer pair: everything the Data Model
// (spec.md §3) lists minus the transport/event-loop concerns, which stay
// in the root Session.
type IkeSA struct {
	mu sync.Mutex

	Serial       uint64
	IsInitiator  bool
	State        StateId
	Predecessor  uint64 // 0 if this SA was not created by a rekey

	// CreatedAt bounds how long this SA may sit short of STATE_MATURE
	// before timers.ReapHalfOpen tears it down (spec.md §5/§4.10).
	CreatedAt time.Time

	SpiI, SpiR protocol.Spi

	Suite *crypto.CipherSuite
	Keys  *crypto.Keys
	// NoPpkKeys holds the "no-PPK" derivation, computed at IKE_SA_INIT for
	// every SA, so a NO_PPK_AUTH fallback never needs to redo the key
	// schedule; Session takes SK_e/SK_a from it.
	NoPpkKeys *crypto.Keys

	Ni, Nr                           []byte
	DhLocalPublic, DhLocalSecret      []byte
	DhPeerPublic                      []byte

	// InitIb/InitRb are the encoded bytes of the initiator's and
	// responder's first packets (IKE_SA_INIT, and any IKE_INTERMEDIATE
	// exchanges layered on top), fed into the AUTH payload signature.
	InitIb, InitRb []byte

	PeerIdentity       []byte
	PeerCert           []byte
	VerifiedPublicKey  interface{}

	ConnRef interface{} // back-reference to the owning connection config

	Children []*ChildSA

	MsgIdNextSend uint32 // next message-ID this side will use for a request
	MsgIdExpected uint32 // message-ID this side expects on the next inbound request
	// LastReply caches the encoded bytes of our most recent response, so
	// a duplicate inbound request at MsgIdExpected-1 can be answered
	// without re-running its handler (spec.md §5 ordering guarantees).
	LastReply []byte

	Flags IkeFlags

	RemoteAddr net.Addr

	RetransmitTimer  interface{} // opaque handle owned by timers
	ReplaceDeadline  time.Time
	RekeyDeadline    time.Time
	ExpireDeadline   time.Time
	LastLiveness     time.Time

	// PendingTask names the async task kind (if any) this SA is
	// suspended on. No code in this module sets or reads it, so
	// duplicate inbound messages are not told apart by it.
	PendingTask string

	InvalidKeRetries int
}

// Lock/Unlock let handlers and timers serialize mutation of one SA
// without taking the whole Store's lock.
func (sa *IkeSA) Lock()   { sa.mu.Lock() }
func (sa *IkeSA) Unlock() { sa.mu.Unlock() }

// ChildSA is one pair of IPsec SAs (inbound+outbound).
type ChildSA struct {
	Serial      uint64
	Parent      uint64 // IkeSA.Serial
	IsInitiator bool
	State       StateId
	Predecessor uint64

	Suite *crypto.CipherSuite
	Keys  *crypto.ChildKeys

	SpiIn, SpiOut [4]byte

	PfsGroup  protocol.DhTransformId // 0 if no PFS
	PfsSecret []byte

	TsLocal, TsRemote []*protocol.Selector

	IsTransportMode bool
	IpCompEnabled   bool
	IpCompCpi       uint16

	VirtualIP net.IP

	ExpireDeadline time.Time
}

type spiKey [16]byte

func spiKeyOf(i, r protocol.Spi) (k spiKey) {
	copy(k[:8], i[:])
	copy(k[8:], r[:])
	return
}

// Store indexes live IkeSAs by serial number and by SPI pair, and
// indexes their children by outbound SPI for CREATE_CHILD_SA rekey
// matching (spec.md §4.8). It is insertion-only plus explicit deletion:
// callers must not mutate the maps themselves, so a snapshot can be
// taken safely while iterating (spec.md §5 shared-resource policy).
type Store struct {
	mu         sync.RWMutex
	nextSerial uint64
	bySerial   map[uint64]*IkeSA
	bySpi      map[spiKey]*IkeSA
	childBySpi map[[4]byte]uint64 // child outbound SPI -> parent serial
}

func NewStore() *Store {
	return &Store{
		bySerial:   make(map[uint64]*IkeSA),
		bySpi:      make(map[spiKey]*IkeSA),
		childBySpi: make(map[[4]byte]uint64),
	}
}

// NewIkeSA allocates a serial number and registers an SA under it. The
// SPI index is populated separately via IndexBySpi once both SPIs are
// known (the initiator doesn't know SpiR until IKE_SA_INIT completes).
func (s *Store) NewIkeSA(isInitiator bool) *IkeSA {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSerial++
	sa := &IkeSA{Serial: s.nextSerial, IsInitiator: isInitiator, State: STATE_START, CreatedAt: time.Now()}
	s.bySerial[sa.Serial] = sa
	return sa
}

func (s *Store) IndexBySpi(sa *IkeSA) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bySpi[spiKeyOf(sa.SpiI, sa.SpiR)] = sa
}

func (s *Store) Lookup(serial uint64) (*IkeSA, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sa, ok := s.bySerial[serial]
	return sa, ok
}

func (s *Store) LookupBySpi(i, r protocol.Spi) (*IkeSA, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sa, ok := s.bySpi[spiKeyOf(i, r)]
	return sa, ok
}

// IndexChild records a child's outbound SPI so a peer's later
// N(REKEY_SA, spi) — which names our outbound SPI from their point of
// view — resolves back to both the parent and the child.
func (s *Store) IndexChild(parent *IkeSA, outboundSpi [4]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.childBySpi[outboundSpi] = parent.Serial
}

func (s *Store) LookupChildBySpi(spi [4]byte) (*IkeSA, *ChildSA, bool) {
	s.mu.RLock()
	parentSerial, ok := s.childBySpi[spi]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, false
	}
	parent, ok := s.Lookup(parentSerial)
	if !ok {
		return nil, nil, false
	}
	parent.Lock()
	defer parent.Unlock()
	for _, c := range parent.Children {
		if c.SpiOut == spi {
			return parent, c, true
		}
	}
	return nil, nil, false
}

// Remove deletes an IkeSA and, per the Data Model invariant that a
// Child SA exists iff its parent does, cascades to every one of its
// children before returning.
func (s *Store) Remove(sa *IkeSA) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sa.Lock()
	for _, c := range sa.Children {
		delete(s.childBySpi, c.SpiOut)
	}
	sa.Children = nil
	sa.Unlock()
	delete(s.bySerial, sa.Serial)
	delete(s.bySpi, spiKeyOf(sa.SpiI, sa.SpiR))
}

// HalfOpen returns every IkeSA that has not reached STATE_MATURE,
// for timers.ReapHalfOpen to scan periodically.
func (s *Store) HalfOpen() (out []*IkeSA) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sa := range s.bySerial {
		sa.Lock()
		mature := sa.State == STATE_MATURE || sa.State == STATE_DELETING || sa.State == STATE_FINISHED
		sa.Unlock()
		if !mature {
			out = append(out, sa)
		}
	}
	return
}
