package handlers

import (
	"fmt"
	"net"
	"time"

	"github.com/msgboxio/ike/config"
	"github.com/msgboxio/ike/message"
	"github.com/msgboxio/ike/platform"
	"github.com/msgboxio/ike/protocol"
	"github.com/msgboxio/ike/state"
)

// RedirectInfo is what HandleInformationalRequest hands back when a
// REDIRECT notify (RFC 5685) was present, so the caller can decide
// whether its policy accepts following it; re-initiating against the
// new gateway is a Session-level concern, not this package's.
type RedirectInfo struct {
	GwIdentType byte // 1 IPv4, 2 IPv6, 3 FQDN, per RFC 5685 3.1
	GwIdent     []byte
}

// BuildDeleteIkeRequest builds an INFORMATIONAL request that deletes the
// whole IKE SA. RFC 7296 1.4.1: a Delete payload for the IKE SA itself
// carries zero SPIs, since the header's own SPI pair already identifies
// it.
func BuildDeleteIkeRequest(sa *state.IkeSA) *message.Builder {
	b := informationalBuilder(sa, protocol.INITIATOR, sa.MsgIdNextSend)
	b.Add(&protocol.DeletePayload{PayloadHeader: &protocol.PayloadHeader{}, ProtocolId: protocol.IKE, SpiSize: 0})
	sa.MsgIdNextSend++
	return b
}

// BuildDeleteChildRequest builds an INFORMATIONAL request deleting one or
// more Child SAs. Each Delete payload SPI is the sender's own inbound
// SPI (the value the peer's outbound traffic already carries), the same
// convention CREATE_CHILD_SA's REKEY_SA notify uses.
func BuildDeleteChildRequest(sa *state.IkeSA, children []*state.ChildSA) *message.Builder {
	b := informationalBuilder(sa, protocol.INITIATOR, sa.MsgIdNextSend)
	del := &protocol.DeletePayload{PayloadHeader: &protocol.PayloadHeader{}, ProtocolId: protocol.ESP, SpiSize: 4}
	for _, c := range children {
		del.Spis = append(del.Spis, append([]byte{}, c.SpiIn[:]...))
	}
	b.Add(del)
	sa.MsgIdNextSend++
	return b
}

// BuildEmptyInformational builds a content-free INFORMATIONAL, used both
// as a liveness (DPD) probe and as its ack.
func BuildEmptyInformational(sa *state.IkeSA, isResponse bool, msgId uint32) *message.Builder {
	flags := protocol.INITIATOR
	if isResponse {
		flags = protocol.RESPONSE
	}
	return informationalBuilder(sa, flags, msgId)
}

// BuildMobikeUpdateRequest builds an INFORMATIONAL request announcing the
// initiator's new address (spec.md 4.9's MOBIKE path): UPDATE_SA_ADDRESSES
// plus refreshed NAT-detection hashes and a fresh COOKIE2 echo-back value.
func BuildMobikeUpdateRequest(sa *state.IkeSA, local, remote net.Addr, cookie2 []byte) *message.Builder {
	b := informationalBuilder(sa, protocol.INITIATOR, sa.MsgIdNextSend)
	b.Add(notifyPayload(protocol.IKE, protocol.UPDATE_SA_ADDRESSES, nil))
	b.Add(notifyPayload(protocol.IKE, protocol.NAT_DETECTION_SOURCE_IP, natHash(sa.SpiI, sa.SpiR, local)))
	b.Add(notifyPayload(protocol.IKE, protocol.NAT_DETECTION_DESTINATION_IP, natHash(sa.SpiI, sa.SpiR, remote)))
	if len(cookie2) > 0 {
		b.Add(notifyPayload(protocol.IKE, protocol.COOKIE2, cookie2))
	}
	sa.MsgIdNextSend++
	return b
}

func informationalBuilder(sa *state.IkeSA, flags protocol.IkeFlags, msgId uint32) *message.Builder {
	return message.NewBuilder(&protocol.IkeHeader{
		SpiI:         sa.SpiI,
		SpiR:         sa.SpiR,
		MajorVersion: protocol.IKEV2_MAJOR_VERSION,
		MinorVersion: protocol.IKEV2_MINOR_VERSION,
		ExchangeType: protocol.INFORMATIONAL,
		Flags:        flags,
		MsgId:        msgId,
	})
}

// HandleInformationalRequest processes an inbound INFORMATIONAL request:
// IKE/Child Delete payloads, a MOBIKE UPDATE_SA_ADDRESSES rebind, a
// REDIRECT notify, or nothing (pure liveness, which only refreshes
// sa.LastLiveness). installer tears down/migrates kernel SA state; store
// resolves/removes deleted children. ikeDeleted reports whether this
// request deleted the IKE SA itself, so the caller knows to drive the
// owning Fsm to STATE_FINISHED afterwards (spec.md 4.9's Delete-IKE
// case) instead of just sending the built response.
func HandleInformationalRequest(cfg *config.Config, sa *state.IkeSA, store *state.Store, installer platform.Installer, req *message.Digest, local net.Addr) (resp *message.Builder, ikeDeleted bool, redirect *RedirectInfo, err error) {
	resp = informationalBuilder(sa, protocol.RESPONSE, req.IkeHeader.MsgId)

	if del, ok := req.Payloads.Get(protocol.PayloadTypeD).(*protocol.DeletePayload); ok {
		if del.ProtocolId == protocol.IKE {
			deleteAllChildren(sa, installer)
			store.Remove(sa)
			return resp, true, nil, nil
		}
		echo := &protocol.DeletePayload{PayloadHeader: &protocol.PayloadHeader{}, ProtocolId: protocol.ESP, SpiSize: 4}
		for _, rawSpi := range del.Spis {
			var spi [4]byte
			copy(spi[:], rawSpi)
			parent, child, ok := store.LookupChildBySpi(spi)
			if !ok || parent.Serial != sa.Serial {
				continue
			}
			deleteChild(sa, child, installer)
			echo.Spis = append(echo.Spis, append([]byte{}, child.SpiIn[:]...))
		}
		resp.Add(echo)
		return resp, false, nil, nil
	}

	if req.HasNotify(protocol.UPDATE_SA_ADDRESSES) {
		if err := handleMobikeUpdate(cfg, sa, installer, req, resp, local); err != nil {
			return nil, false, nil, err
		}
		return resp, false, nil, nil
	}

	if redirects := req.NotifyPayloads(protocol.REDIRECT); len(redirects) > 0 {
		info, err := parseRedirect(redirects[0].Data)
		if err != nil {
			return nil, false, nil, err
		}
		return resp, false, info, nil
	}

	sa.LastLiveness = time.Now()
	return resp, false, nil, nil
}

// HandleInformationalResponse processes the reply to one of this
// package's Build*Request calls: any reply (empty, a Delete echo, or a
// MOBIKE NAT-detection/COOKIE2 echo) confirms the peer is alive.
func HandleInformationalResponse(sa *state.IkeSA, resp *message.Digest) error {
	sa.LastLiveness = time.Now()
	return nil
}

func deleteChild(sa *state.IkeSA, child *state.ChildSA, installer platform.Installer) {
	installer.DeleteSA(&platform.SaParams{IsInitiator: sa.IsInitiator, Direction: platform.DirectionIn, Spi: child.SpiIn})
	installer.DeleteSA(&platform.SaParams{IsInitiator: sa.IsInitiator, Direction: platform.DirectionOut, Spi: child.SpiOut})
	kept := sa.Children[:0]
	for _, c := range sa.Children {
		if c.Serial != child.Serial {
			kept = append(kept, c)
		}
	}
	sa.Children = kept
}

func deleteAllChildren(sa *state.IkeSA, installer platform.Installer) {
	for _, c := range append([]*state.ChildSA{}, sa.Children...) {
		deleteChild(sa, c, installer)
	}
}

// handleMobikeUpdate rebinds sa.RemoteAddr to req's source (spec.md 4.9:
// "rebind endpoint to the request's source"), echoes NAT-detection and an
// optional COOKIE2, and migrates every live Child SA's kernel state to
// the new addresses.
func handleMobikeUpdate(cfg *config.Config, sa *state.IkeSA, installer platform.Installer, req *message.Digest, resp *message.Builder, local net.Addr) error {
	if !cfg.EnableMobike {
		return fmt.Errorf("handlers: mobike update received but disabled by policy")
	}
	newRemote := req.RemoteAddr
	sa.RemoteAddr = newRemote
	sa.Flags.SeenMobike = true

	resp.Add(notifyPayload(protocol.IKE, protocol.NAT_DETECTION_SOURCE_IP, natHash(sa.SpiI, sa.SpiR, local)))
	resp.Add(notifyPayload(protocol.IKE, protocol.NAT_DETECTION_DESTINATION_IP, natHash(sa.SpiI, sa.SpiR, newRemote)))
	if cookies := req.NotifyPayloads(protocol.COOKIE2); len(cookies) > 0 {
		resp.Add(notifyPayload(protocol.IKE, protocol.COOKIE2, cookies[0].Data))
	}

	localIP, remoteIP := addrIP(local), addrIP(newRemote)
	for _, c := range sa.Children {
		if err := installer.MigrateSA(c.SpiIn, localIP, remoteIP); err != nil {
			return err
		}
	}
	return nil
}

func addrIP(addr net.Addr) net.IP {
	if addr == nil {
		return nil
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		host = addr.String()
	}
	return net.ParseIP(host)
}

// parseRedirect decodes a REDIRECT notify's data per RFC 5685 3.1: one
// byte GW Ident Type, one byte GW Ident Length, the identity itself, then
// an optional Nonce Data tail this implementation ignores (it is only
// meaningful on a REDIRECTED_FROM retry, not the initial notify).
func parseRedirect(data []byte) (*RedirectInfo, error) {
	if len(data) < 2 {
		return nil, protocol.ErrF(protocol.ERR_INVALID_SYNTAX, "redirect notify too small")
	}
	gwType := data[0]
	n := int(data[1])
	if len(data) < 2+n {
		return nil, protocol.ErrF(protocol.ERR_INVALID_SYNTAX, "redirect notify identity overruns buffer")
	}
	return &RedirectInfo{GwIdentType: gwType, GwIdent: append([]byte{}, data[2:2+n]...)}, nil
}
