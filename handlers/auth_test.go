package handlers

import (
	"net"
	"testing"

	"github.com/msgboxio/ike/config"
	"github.com/msgboxio/ike/platform"
	"github.com/msgboxio/ike/protocol"
	"github.com/msgboxio/ike/state"
)

func TestIkeAuthPskRoundTrip(t *testing.T) {
	cfg := config.DefaultConfig()
	_, initNet, _ := net.ParseCIDR("10.1.0.1/32")
	_, respNet, _ := net.ParseCIDR("10.2.0.1/32")
	if err := cfg.AddSelector(initNet, respNet); err != nil {
		t.Fatalf("AddSelector: %v", err)
	}

	local := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 500}
	remote := &net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 500}

	store := state.NewStore()
	initiatorSa := store.NewIkeSA(true)
	initiatorSa.SpiI = protocol.Spi{1, 2, 3, 4, 5, 6, 7, 8}
	responderSa := store.NewIkeSA(false)
	responderSa.SpiI = initiatorSa.SpiI
	responderSa.SpiR = protocol.Spi{8, 7, 6, 5, 4, 3, 2, 1}

	reqBuilder, err := BuildInitRequest(cfg, initiatorSa, local, remote)
	if err != nil {
		t.Fatalf("BuildInitRequest: %v", err)
	}
	reqBytes := reqBuilder.EncodeCleartext()
	initiatorSa.InitIb = reqBytes // the sender records its own first message, as Session.SendInit does
	reqDigest := mustDigest(t, reqBytes)
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
	respBytes := respBuilder.EncodeCleartext()
	responderSa.InitRb = respBytes // as Session.HandleIkeSaInit does on the responder
	respDigest := mustDigest(t, respBytes)
	if verdict, nt, err := HandleInitResponse(cfg, initiatorSa, respDigest); err != nil || verdict != state.OK {
		t.Fatalf("HandleInitResponse: verdict=%v notify=%v err=%v", verdict, nt, err)
	}

	ids := platform.StaticIdentityStore{
		LocalID:   protocol.ID_FQDN,
		LocalData: []byte("gw.example.com"),
		Psk:       []byte("a shared secret known to both gateways"),
	}
	ap := AuthParams{IdType: protocol.ID_FQDN, Method: protocol.SHARED_KEY_MESSAGE_INTEGRITY_CODE}

	authReqBuilder, initChild, err := BuildAuthRequest(cfg, initiatorSa, ids, ap, local, remote)
	if err != nil {
		t.Fatalf("BuildAuthRequest: %v", err)
	}
	authReqDigest := mustDigest(t, authReqBuilder.EncodeCleartext())

	if nt, err := CheckAuthRequest(cfg, responderSa, ids, nil, authReqDigest); err != nil {
		t.Fatalf("CheckAuthRequest rejected a well-formed request: %v (notify %s)", err, nt)
	}
	authRespBuilder, respChild, err := BuildAuthResponse(cfg, responderSa, ids, ap, authReqDigest, remote, local)
	if err != nil {
		t.Fatalf("BuildAuthResponse: %v", err)
	}
	authRespDigest := mustDigest(t, authRespBuilder.EncodeCleartext())

	verdict, nt, err := HandleAuthResponse(initiatorSa, ids, nil, initChild, authRespDigest)
	if err != nil {
		t.Fatalf("HandleAuthResponse: %v (notify %s)", err, nt)
	}
	if verdict != state.OK {
		t.Fatalf("expected OK verdict, got %v", verdict)
	}

	if string(initChild.Keys.EspEi) != string(respChild.Keys.EspEi) {
		t.Fatal("expected both sides to derive the same child encryption key")
	}
}

func TestIkeAuthPskRejectsWrongSecret(t *testing.T) {
	cfg := config.DefaultConfig()
	_, initNet, _ := net.ParseCIDR("10.1.0.1/32")
	_, respNet, _ := net.ParseCIDR("10.2.0.1/32")
	cfg.AddSelector(initNet, respNet)

	local := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 500}
	remote := &net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 500}

	store := state.NewStore()
	initiatorSa := store.NewIkeSA(true)
	initiatorSa.SpiI = protocol.Spi{1, 1, 1, 1, 1, 1, 1, 1}
	responderSa := store.NewIkeSA(false)
	responderSa.SpiI = initiatorSa.SpiI
	responderSa.SpiR = protocol.Spi{2, 2, 2, 2, 2, 2, 2, 2}

	reqBuilder, _ := BuildInitRequest(cfg, initiatorSa, local, remote)
	reqBytes := reqBuilder.EncodeCleartext()
	initiatorSa.InitIb = reqBytes
	reqDigest := mustDigest(t, reqBytes)
	CheckInitRequest(cfg, CookieSecret{}, false, reqDigest, remote)
	respBuilder, _ := BuildInitResponse(cfg, responderSa, reqDigest, remote, local)
	HandleInitRequestAfterCheck(responderSa, reqDigest)
	respBytes := respBuilder.EncodeCleartext()
	responderSa.InitRb = respBytes
	respDigest := mustDigest(t, respBytes)
	HandleInitResponse(cfg, initiatorSa, respDigest)

	initiatorIds := platform.StaticIdentityStore{LocalID: protocol.ID_FQDN, LocalData: []byte("i"), Psk: []byte("secret-one")}
	responderIds := platform.StaticIdentityStore{LocalID: protocol.ID_FQDN, LocalData: []byte("r"), Psk: []byte("secret-two")}
	ap := AuthParams{IdType: protocol.ID_FQDN, Method: protocol.SHARED_KEY_MESSAGE_INTEGRITY_CODE}

	authReqBuilder, _, err := BuildAuthRequest(cfg, initiatorSa, initiatorIds, ap, local, remote)
	if err != nil {
		t.Fatalf("BuildAuthRequest: %v", err)
	}
	authReqDigest := mustDigest(t, authReqBuilder.EncodeCleartext())

	if _, err := CheckAuthRequest(cfg, responderSa, responderIds, nil, authReqDigest); err == nil {
		t.Fatal("expected CheckAuthRequest to reject a mismatched PSK")
	}
}
