package handlers

import (
	"net"
	"testing"

	"github.com/msgboxio/ike/config"
	"github.com/msgboxio/ike/message"
	"github.com/msgboxio/ike/platform"
	"github.com/msgboxio/ike/protocol"
	"github.com/msgboxio/ike/state"
)

// mustDigestFrom is mustDigest with an explicit source address, for
// tests that depend on the digest's RemoteAddr (MOBIKE's rebind source).
func mustDigestFrom(t *testing.T, raw []byte, remote net.Addr) *message.Digest {
	t.Helper()
	m, err := message.Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return message.NewDigest(m, remote, "eth0", false)
}

func TestInformationalDeleteIke(t *testing.T) {
	cfg := config.DefaultConfig()
	store := state.NewStore()
	initiatorSa, responderSa := bootstrapIkeSas(t, cfg, store)

	child := &state.ChildSA{Serial: 1, Parent: responderSa.Serial, SpiIn: [4]byte{1, 1, 1, 1}, SpiOut: [4]byte{2, 2, 2, 2}}
	responderSa.Children = append(responderSa.Children, child)
	store.IndexChild(responderSa, child.SpiOut)

	reqBuilder := BuildDeleteIkeRequest(initiatorSa)
	reqDigest := mustDigest(t, reqBuilder.EncodeCleartext())

	local := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 500}
	respBuilder, deleted, redirect, err := HandleInformationalRequest(cfg, responderSa, store, platform.NoopInstaller{}, reqDigest, local)
	if err != nil {
		t.Fatalf("HandleInformationalRequest: %v", err)
	}
	if !deleted {
		t.Fatal("expected the IKE SA delete to report ikeDeleted=true")
	}
	if redirect != nil {
		t.Fatal("expected no redirect info")
	}
	if len(respBuilder.Payloads.Array) != 0 {
		t.Fatalf("expected an empty ack response, got %d payloads", len(respBuilder.Payloads.Array))
	}
	if _, ok := store.Lookup(responderSa.Serial); ok {
		t.Fatal("expected the IKE SA to be removed from the store")
	}
	if _, _, ok := store.LookupChildBySpi(child.SpiOut); ok {
		t.Fatal("expected the child to be removed along with its parent")
	}
}

func TestInformationalDeleteChild(t *testing.T) {
	cfg := config.DefaultConfig()
	store := state.NewStore()
	initiatorSa, responderSa := bootstrapIkeSas(t, cfg, store)

	spiIn := [4]byte{9, 8, 7, 6}
	spiOut := [4]byte{6, 7, 8, 9}
	child := &state.ChildSA{Serial: 5, Parent: responderSa.Serial, SpiIn: spiIn, SpiOut: spiOut}
	responderSa.Children = append(responderSa.Children, child)
	store.IndexChild(responderSa, spiOut)

	reqBuilder := BuildDeleteChildRequest(initiatorSa, []*state.ChildSA{{SpiIn: spiOut}})
	reqDigest := mustDigest(t, reqBuilder.EncodeCleartext())

	local := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 500}
	respBuilder, deleted, _, err := HandleInformationalRequest(cfg, responderSa, store, platform.NoopInstaller{}, reqDigest, local)
	if err != nil {
		t.Fatalf("HandleInformationalRequest: %v", err)
	}
	if deleted {
		t.Fatal("expected the IKE SA to survive a child-only delete")
	}
	del, ok := respBuilder.Payloads.Get(protocol.PayloadTypeD).(*protocol.DeletePayload)
	if !ok || len(del.Spis) != 1 {
		t.Fatalf("expected an echoed Delete payload with one SPI, got %+v", del)
	}
	if len(responderSa.Children) != 0 {
		t.Fatalf("expected the child to be removed from sa.Children, got %d", len(responderSa.Children))
	}
	if _, _, ok := store.LookupChildBySpi(spiOut); ok {
		t.Fatal("expected the child to be removed from the store index")
	}
}

func TestInformationalMobikeRebind(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.EnableMobike = true
	store := state.NewStore()
	initiatorSa, responderSa := bootstrapIkeSas(t, cfg, store)
	responderSa.RemoteAddr = &net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 500}

	newRemote := &net.UDPAddr{IP: net.ParseIP("10.0.0.9"), Port: 500}
	oldLocal := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 500}
	reqBuilder := BuildMobikeUpdateRequest(initiatorSa, newRemote, oldLocal, []byte("cookie2-value"))
	reqDigest := mustDigestFrom(t, reqBuilder.EncodeCleartext(), newRemote)

	local := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 500}
	respBuilder, deleted, _, err := HandleInformationalRequest(cfg, responderSa, store, platform.NoopInstaller{}, reqDigest, local)
	if err != nil {
		t.Fatalf("HandleInformationalRequest: %v", err)
	}
	if deleted {
		t.Fatal("mobike update must not delete the IKE SA")
	}
	if responderSa.RemoteAddr.String() != newRemote.String() {
		t.Fatalf("expected RemoteAddr rebound to %s, got %s", newRemote, responderSa.RemoteAddr)
	}
	if !responderSa.Flags.SeenMobike {
		t.Fatal("expected Flags.SeenMobike to be set")
	}
	notifies := respBuilder.Payloads.Array
	count := 0
	for _, pl := range notifies {
		if pl.Type() == protocol.PayloadTypeN {
			count++
		}
	}
	if count < 3 {
		t.Fatalf("expected NAT-detection x2 and a COOKIE2 echo, got %d notify payloads", count)
	}
}

func TestInformationalMobikeRejectedWhenDisabled(t *testing.T) {
	cfg := config.DefaultConfig() // EnableMobike defaults to false
	store := state.NewStore()
	initiatorSa, responderSa := bootstrapIkeSas(t, cfg, store)

	local2 := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 500}
	remote2 := &net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 500}
	reqBuilder := BuildMobikeUpdateRequest(initiatorSa, local2, remote2, nil)
	reqDigest := mustDigest(t, reqBuilder.EncodeCleartext())

	local := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 500}
	if _, _, _, err := HandleInformationalRequest(cfg, responderSa, store, platform.NoopInstaller{}, reqDigest, local); err == nil {
		t.Fatal("expected mobike update to be rejected when disabled")
	}
}
