package handlers

import (
	"net"
	"testing"

	"github.com/msgboxio/ike/config"
	"github.com/msgboxio/ike/message"
	"github.com/msgboxio/ike/protocol"
	"github.com/msgboxio/ike/state"
)

func mustDigest(t *testing.T, raw []byte) *message.Digest {
	t.Helper()
	m, err := message.Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return message.NewDigest(m, &net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 500}, "eth0", false)
}

func TestIkeSaInitRoundTrip(t *testing.T) {
	cfg := config.DefaultConfig()
	local := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 500}
	remote := &net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 500}

	store := state.NewStore()
	initiatorSa := store.NewIkeSA(true)
	initiatorSa.SpiI = protocol.Spi{1, 2, 3, 4, 5, 6, 7, 8}

	reqBuilder, err := BuildInitRequest(cfg, initiatorSa, local, remote)
	if err != nil {
		t.Fatalf("BuildInitRequest: %v", err)
	}
	reqBytes := reqBuilder.EncodeCleartext()

	reqDigest := mustDigest(t, reqBytes)

	responderSa := store.NewIkeSA(false)
	responderSa.SpiI = initiatorSa.SpiI
	responderSa.SpiR = protocol.Spi{8, 7, 6, 5, 4, 3, 2, 1}

	if nt, err := CheckInitRequest(cfg, CookieSecret{}, false, reqDigest, remote); err != nil {
		t.Fatalf("CheckInitRequest rejected a well-formed request: %v (notify %s)", err, nt)
	}

	respBuilder, err := BuildInitResponse(cfg, responderSa, reqDigest, remote, local)
	if err != nil {
		t.Fatalf("BuildInitResponse: %v", err)
	}
	if err := HandleInitRequestAfterCheck(responderSa, reqDigest); err != nil {
		t.Fatalf("HandleInitRequestAfterCheck: %v", err)
	}
	respBytes := respBuilder.EncodeCleartext()

	respDigest := mustDigest(t, respBytes)
	verdict, nt, err := HandleInitResponse(cfg, initiatorSa, respDigest)
	if err != nil {
		t.Fatalf("HandleInitResponse: %v (notify %s)", err, nt)
	}
	if verdict != state.OK {
		t.Fatalf("expected OK verdict, got %v", verdict)
	}

	if string(initiatorSa.Keys.SkD) == "" {
		t.Fatal("expected initiator SK_d to be derived")
	}
	if string(responderSa.Keys.SkD) != string(initiatorSa.Keys.SkD) {
		t.Fatal("expected both sides to derive the same SK_d")
	}
}

func TestCheckInitRequestRequiresCookieWhenConfigured(t *testing.T) {
	cfg := config.DefaultConfig()
	remote := &net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 500}
	store := state.NewStore()
	sa := store.NewIkeSA(true)
	sa.SpiI = protocol.Spi{1, 1, 1, 1, 1, 1, 1, 1}

	reqBuilder, err := BuildInitRequest(cfg, sa, nil, remote)
	if err != nil {
		t.Fatal(err)
	}
	digest := mustDigest(t, reqBuilder.EncodeCleartext())

	if _, err := CheckInitRequest(cfg, CookieSecret{}, true, digest, remote); err != ErrMissingCookie {
		t.Fatalf("expected ErrMissingCookie, got %v", err)
	}
}
