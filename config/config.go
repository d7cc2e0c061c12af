// Package config holds one connection's negotiation policy: the
// proposal catalogues offered/accepted for IKE and ESP, the traffic
// selectors a Child SA is allowed to narrow within, and the
// feature-policy knobs (PPK, MOBIKE, redirect, fragmentation) spec.md
// names alongside them.
package config

import (
	"errors"
	"net"
	"time"

	"github.com/msgboxio/ike/impair"
	"github.com/msgboxio/ike/message"
	"github.com/msgboxio/ike/protocol"
	"github.com/msgboxio/log"
)

// PPKPolicy controls whether a Postquantum Preshared Key is required,
// offered-but-optional, or unused, per spec.md §4.7's PPK_IDENTITY /
// NO_PPK_AUTH fallback negotiation.
type PPKPolicy int

const (
	PPKDisabled PPKPolicy = iota
	PPKSupported
	PPKRequired
)

// Config is one connection's static policy, generalizing the
// teacher's Config (proposal catalogues + selectors only) with the
// feature knobs spec.md's Data Model and External Interfaces name.
type Config struct {
	ProposalIke, ProposalEsp protocol.Transforms

	TsI, TsR []*protocol.Selector

	IsTransportMode bool

	PPK           PPKPolicy
	PPKIdentities StaticPPKs

	EnableMobike        bool
	EnableRedirect       bool
	EnableFragmentation bool

	// HalfOpenTimeout bounds how long an SA may sit short of
	// STATE_MATURE before the reaper tears it down (spec.md §5).
	HalfOpenTimeout time.Duration

	// RetransmitBase/RetransmitMax bound the retransmission ladder
	// (spec.md §4.10).
	RetransmitBase time.Duration
	RetransmitMax  time.Duration
	RetransmitTries int

	// IkeSaLifetime/ChildSaLifetime are the soft lifetimes that
	// timers.ScheduleIkeLifetimes/ScheduleChildLifetime count down from
	// installation; RekeyMargin is how
	// long before expiry the rekey fires, and ReplaceMargin is how much
	// longer the predecessor is allowed to linger once its successor is
	// installed before it is force-replaced (spec.md §4.10's "Child
	// rekey... old Child scheduled to expire within grace=
	// EXPIRE_OLD_SA_DELAY").
	IkeSaLifetime   time.Duration
	ChildSaLifetime time.Duration
	RekeyMargin     time.Duration
	ReplaceMargin   time.Duration

	// LivenessInterval bounds how long an IKE SA may go without inbound
	// traffic before a DPD probe is sent (spec.md §4.10's dpd_delay).
	LivenessInterval time.Duration

	// Impair holds deliberate protocol deviations for interop/negative
	// testing (spec.md §6). nil behaves identically to impair.Default().
	Impair *impair.Impair
}

// StaticPPKs maps a PPK_IDENTITY's raw bytes to its shared secret.
type StaticPPKs map[string][]byte

func (s StaticPPKs) LookupByID(id []byte) ([]byte, bool) {
	secret, ok := s[string(id)]
	return secret, ok
}

// Pick returns this connection's configured PPK, for the initiator side
// of a point-to-point link where there is exactly one candidate to
// assert rather than a multi-tenant table to search.
func (s StaticPPKs) Pick() (id, secret []byte, ok bool) {
	for k, v := range s {
		return []byte(k), v, true
	}
	return nil, nil, false
}

// DefaultConfig matches the teacher's own DefaultConfig proposal
// choice (AES-CBC/SHA256/MODP2048 for IKE, AES-CBC/SHA256 for ESP),
// plus the new policy knobs defaulted to their conservative/off state.
func DefaultConfig() *Config {
	return &Config{
		ProposalIke: protocol.IKE_AES_CBC_SHA256_MODP2048,
		ProposalEsp: protocol.ESP_AES_CBC_SHA2_256,

		PPK: PPKDisabled,

		HalfOpenTimeout: 30 * time.Second,
		RetransmitBase:  500 * time.Millisecond,
		RetransmitMax:   30 * time.Second,
		RetransmitTries: 5,

		IkeSaLifetime:    4 * time.Hour,
		ChildSaLifetime:  1 * time.Hour,
		RekeyMargin:      5 * time.Minute,
		ReplaceMargin:    30 * time.Second,
		LivenessInterval: 30 * time.Second,

		Impair: impair.Default(),
	}
}

// CheckProposals reports whether any of proposals (restricted to prot)
// is acceptable under this Config's catalogue for prot.
func (cfg *Config) CheckProposals(prot protocol.ProtocolId, proposals protocol.Proposals) error {
	for _, prop := range proposals {
		if prop.ProtocolId != prot {
			continue
		}
		switch prot {
		case protocol.IKE:
			if cfg.ProposalIke.Within(prop.SaTransforms) {
				return nil
			}
		case protocol.ESP:
			if cfg.ProposalEsp.Within(prop.SaTransforms) {
				return nil
			}
		}
	}
	return errors.New("config: acceptable proposals are missing")
}

// AddSelector builds the initiator/responder traffic selector pair
// from two address ranges.
func (cfg *Config) AddSelector(initiator, responder *net.IPNet) error {
	first, last, err := IPNetToFirstLastAddress(initiator)
	if err != nil {
		return err
	}
	cfg.TsI = []*protocol.Selector{{
		Type:         protocol.TS_IPV4_ADDR_RANGE,
		IpProtocolId: 0,
		StartPort:    0,
		Endport:      65535,
		StartAddress: first,
		EndAddress:   last,
	}}
	first, last, err = IPNetToFirstLastAddress(responder)
	if err != nil {
		return err
	}
	cfg.TsR = []*protocol.Selector{{
		Type:         protocol.TS_IPV4_ADDR_RANGE,
		IpProtocolId: 0,
		StartPort:    0,
		Endport:      65535,
		StartAddress: first,
		EndAddress:   last,
	}}
	return nil
}

// CheckFromInit checks that an inbound IKE_SA_INIT carries an
// acceptable IKE proposal.
func (cfg *Config) CheckFromInit(initI *message.Digest) error {
	ikeSa, ok := initI.Payloads.Get(protocol.PayloadTypeSA).(*protocol.SaPayload)
	if !ok {
		return errors.New("config: IKE_SA_INIT missing SA payload")
	}
	return cfg.CheckProposals(protocol.IKE, ikeSa.Proposals)
}

// CheckFromAuth checks an inbound IKE_AUTH's ESP proposal and traffic
// selectors. Narrowing itself (selecting the tightest mutually
// acceptable range) is the responder's job in handlers/auth.go; this
// only validates that both sides offered something non-empty.
func (cfg *Config) CheckFromAuth(authI *message.Digest) error {
	espSa, ok := authI.Payloads.Get(protocol.PayloadTypeSA).(*protocol.SaPayload)
	if !ok {
		return errors.New("config: IKE_AUTH missing SA payload")
	}
	if err := cfg.CheckProposals(protocol.ESP, espSa.Proposals); err != nil {
		return err
	}
	tsiPayload, ok1 := authI.Payloads.Get(protocol.PayloadTypeTSi).(*protocol.TrafficSelectorPayload)
	tsrPayload, ok2 := authI.Payloads.Get(protocol.PayloadTypeTSr).(*protocol.TrafficSelectorPayload)
	if !ok1 || !ok2 || len(tsiPayload.Selectors) == 0 || len(tsrPayload.Selectors) == 0 {
		return errors.New("config: acceptable traffic selectors are missing")
	}
	log.Infof("Configured selectors: [INI]%s<=>%s[RES]", cfg.TsI, cfg.TsR)
	log.Infof("Offered selectors: [INI]%s<=>%s[RES]", tsiPayload.Selectors, tsrPayload.Selectors)
	return nil
}

// ProposalFromTransform wraps trs as a single, last, numbered proposal
// for prot carrying spi — the shape every IKE_SA_INIT/IKE_AUTH/
// CREATE_CHILD_SA SA payload is built from.
func ProposalFromTransform(prot protocol.ProtocolId, trs protocol.Transforms, spi []byte) []*protocol.SaProposal {
	return []*protocol.SaProposal{
		{
			IsLast:       true,
			Number:       1,
			ProtocolId:   prot,
			Spi:          append([]byte{}, spi...),
			SaTransforms: trs.AsList(),
		},
	}
}
