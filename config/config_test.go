package config

import (
	"net"
	"testing"

	"github.com/msgboxio/ike/protocol"
)

func TestCheckProposalsAcceptsWithin(t *testing.T) {
	cfg := DefaultConfig()
	props := protocol.Proposals{
		{ProtocolId: protocol.IKE, SaTransforms: cfg.ProposalIke.AsList()},
	}
	if err := cfg.CheckProposals(protocol.IKE, props); err != nil {
		t.Fatalf("expected matching proposal to be accepted: %v", err)
	}
}

func TestCheckProposalsRejectsUnrelated(t *testing.T) {
	cfg := DefaultConfig()
	props := protocol.Proposals{
		{ProtocolId: protocol.ESP, SaTransforms: cfg.ProposalEsp.AsList()},
	}
	if err := cfg.CheckProposals(protocol.IKE, props); err == nil {
		t.Fatal("expected no IKE proposal present to be rejected")
	}
}

func TestIPNetToFirstLastAddress(t *testing.T) {
	_, n, err := net.ParseCIDR("192.168.1.0/24")
	if err != nil {
		t.Fatal(err)
	}
	first, last, err := IPNetToFirstLastAddress(n)
	if err != nil {
		t.Fatal(err)
	}
	if !first.Equal(net.IPv4(192, 168, 1, 0)) {
		t.Fatalf("unexpected first address: %s", first)
	}
	if !last.Equal(net.IPv4(192, 168, 1, 255)) {
		t.Fatalf("unexpected last address: %s", last)
	}
}

func TestAddSelectorPopulatesTsITsR(t *testing.T) {
	cfg := DefaultConfig()
	_, initNet, _ := net.ParseCIDR("10.0.0.0/24")
	_, respNet, _ := net.ParseCIDR("10.0.1.0/24")
	if err := cfg.AddSelector(initNet, respNet); err != nil {
		t.Fatal(err)
	}
	if len(cfg.TsI) != 1 || len(cfg.TsR) != 1 {
		t.Fatalf("expected one selector per side, got TsI=%d TsR=%d", len(cfg.TsI), len(cfg.TsR))
	}
}
