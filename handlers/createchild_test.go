package handlers

import (
	"net"
	"testing"

	"github.com/msgboxio/ike/config"
	"github.com/msgboxio/ike/protocol"
	"github.com/msgboxio/ike/state"
)

// bootstrapIkeSas runs IKE_SA_INIT to completion on both sides so Suite
// and Keys are populated, the same prerequisite auth_test.go relies on.
func bootstrapIkeSas(t *testing.T, cfg *config.Config, store *state.Store) (initiatorSa, responderSa *state.IkeSA) {
	t.Helper()
	local := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 500}
	remote := &net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 500}

	initiatorSa = store.NewIkeSA(true)
	initiatorSa.SpiI = protocol.Spi{1, 2, 3, 4, 5, 6, 7, 8}
	responderSa = store.NewIkeSA(false)
	responderSa.SpiI = initiatorSa.SpiI
	responderSa.SpiR = protocol.Spi{8, 7, 6, 5, 4, 3, 2, 1}
	initiatorSa.SpiR = responderSa.SpiR

	reqBuilder, err := BuildInitRequest(cfg, initiatorSa, local, remote)
	if err != nil {
		t.Fatalf("BuildInitRequest: %v", err)
	}
	reqDigest := mustDigest(t, reqBuilder.EncodeCleartext())
	if _, err := CheckInitRequest(cfg, CookieSecret{}, false, reqDigest, remote); err != nil {
		t.Fatalf("CheckInitRequest: %v", err)
	}
	respBuilder, err := BuildInitResponse(cfg, responderSa, reqDigest, remote, local)
	if err != nil {
		t.Fatalf("BuildInitResponse: %v", err)
	}
	if err := HandleInitRequestAfterCheck(responderSa, reqDigest); err != nil {
		t.Fatalf("HandleInitRequestAfterCheck: %v", err)
	}
	respDigest := mustDigest(t, respBuilder.EncodeCleartext())
	if verdict, nt, err := HandleInitResponse(cfg, initiatorSa, respDigest); err != nil || verdict != state.OK {
		t.Fatalf("HandleInitResponse: verdict=%v notify=%v err=%v", verdict, nt, err)
	}
	return initiatorSa, responderSa
}

func TestCreateChildNewChildRoundTrip(t *testing.T) {
	cfg := config.DefaultConfig()
	_, initNet, _ := net.ParseCIDR("10.1.0.1/32")
	_, respNet, _ := net.ParseCIDR("10.2.0.1/32")
	if err := cfg.AddSelector(initNet, respNet); err != nil {
		t.Fatalf("AddSelector: %v", err)
	}

	store := state.NewStore()
	initiatorSa, responderSa := bootstrapIkeSas(t, cfg, store)

	reqBuilder, out, err := BuildCreateChildRequest(cfg, initiatorSa, nil, false, 0)
	if err != nil {
		t.Fatalf("BuildCreateChildRequest: %v", err)
	}
	reqDigest := mustDigest(t, reqBuilder.EncodeCleartext())

	respBuilder, respChild, _, nt, err := HandleCreateChildRequest(cfg, responderSa, store, reqDigest)
	if err != nil {
		t.Fatalf("HandleCreateChildRequest: %v (notify %s)", err, nt)
	}
	respDigest := mustDigest(t, respBuilder.EncodeCleartext())

	initChild, _, verdict, nt, err := HandleCreateChildResponse(initiatorSa, out, respDigest)
	if err != nil {
		t.Fatalf("HandleCreateChildResponse: %v (notify %s)", err, nt)
	}
	if verdict != state.OK {
		t.Fatalf("expected OK verdict, got %v", verdict)
	}

	if string(initChild.Keys.EspEi) != string(respChild.Keys.EspEi) {
		t.Fatal("expected both sides to derive the same child encryption key")
	}
	if string(initChild.Keys.EspEi) == "" {
		t.Fatal("expected a non-empty derived key")
	}
}

func TestCreateChildRekeyRoundTrip(t *testing.T) {
	cfg := config.DefaultConfig()
	_, initNet, _ := net.ParseCIDR("10.1.0.1/32")
	_, respNet, _ := net.ParseCIDR("10.2.0.1/32")
	cfg.AddSelector(initNet, respNet)

	store := state.NewStore()
	initiatorSa, responderSa := bootstrapIkeSas(t, cfg, store)

	// Old Child SA this rekey replaces. The NotifyPayload carries the
	// initiator's own inbound SPI, which the responder's store indexes
	// as that child's outbound SPI (store.IndexChild's contract).
	oldSpi := [4]byte{0xaa, 0xbb, 0xcc, 0xdd}
	oldChild := &state.ChildSA{Serial: 1, Parent: responderSa.Serial, SpiOut: oldSpi}
	responderSa.Children = append(responderSa.Children, oldChild)
	store.IndexChild(responderSa, oldSpi)
	rekeyOld := &state.ChildSA{SpiIn: oldSpi}

	reqBuilder, out, err := BuildCreateChildRequest(cfg, initiatorSa, rekeyOld, false, 0)
	if err != nil {
		t.Fatalf("BuildCreateChildRequest: %v", err)
	}
	reqDigest := mustDigest(t, reqBuilder.EncodeCleartext())

	_, respChild, _, nt, err := HandleCreateChildRequest(cfg, responderSa, store, reqDigest)
	if err != nil {
		t.Fatalf("HandleCreateChildRequest: %v (notify %s)", err, nt)
	}
	if respChild.Predecessor != oldChild.Serial {
		t.Fatalf("expected resolved rekey target serial %d, got %d", oldChild.Serial, respChild.Predecessor)
	}
	_ = out
}

func TestCreateChildIkeRekeyRoundTrip(t *testing.T) {
	cfg := config.DefaultConfig()
	store := state.NewStore()
	initiatorSa, responderSa := bootstrapIkeSas(t, cfg, store)

	dh := cfg.ProposalIke[protocol.TRANSFORM_TYPE_DH]
	reqBuilder, out, err := BuildCreateChildRequest(cfg, initiatorSa, nil, true, protocol.DhTransformId(dh.Transform.TransformId))
	if err != nil {
		t.Fatalf("BuildCreateChildRequest: %v", err)
	}
	reqDigest := mustDigest(t, reqBuilder.EncodeCleartext())

	respBuilder, _, respKeys, nt, err := HandleCreateChildRequest(cfg, responderSa, store, reqDigest)
	if err != nil {
		t.Fatalf("HandleCreateChildRequest: %v (notify %s)", err, nt)
	}
	respDigest := mustDigest(t, respBuilder.EncodeCleartext())

	_, initKeys, verdict, nt, err := HandleCreateChildResponse(initiatorSa, out, respDigest)
	if err != nil {
		t.Fatalf("HandleCreateChildResponse: %v (notify %s)", err, nt)
	}
	if verdict != state.OK {
		t.Fatalf("expected OK verdict, got %v", verdict)
	}

	if string(initKeys.SkD) != string(respKeys.SkD) {
		t.Fatal("expected both sides to derive the same rekeyed SK_d")
	}
}

func TestResolveSimultaneousRekey(t *testing.T) {
	low := []byte{0x00, 0x01}
	high := []byte{0x00, 0x02}
	if !ResolveSimultaneousRekey(high, low) {
		t.Fatal("expected the higher nonce to win")
	}
	if ResolveSimultaneousRekey(low, high) {
		t.Fatal("expected the lower nonce to lose")
	}
}
