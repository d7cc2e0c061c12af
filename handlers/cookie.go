// Package handlers implements the per-exchange request/response logic:
// validating an inbound message.Digest against the owning state.IkeSA,
// building the reply, and reporting a state.Verdict back to the
// dispatcher. None of these functions touch the network or a timer
// directly — Session.Run calls them and acts on the Verdict.
package handlers

import (
	"crypto/hmac"
	"crypto/sha1"
	"net"

	"github.com/msgboxio/ike/protocol"
)

// cookieSecret is regenerated periodically by the owning listener (not
// here) so cookies from before a restart, or more than one rotation
// period old, stop verifying. A zero-value secret still works for a
// single process's lifetime, which is sufficient for this package's
// unit tests.
type CookieSecret [20]byte

// MakeCookie computes RFC 7296 2.6's responder cookie:
// HMAC(secret, Ni | IPi | SPIi), truncated to the hash's native size.
// Recomputing this over an inbound request's own fields and comparing
// is how CheckInitRequest verifies a returned cookie without storing
// any per-request state.
func MakeCookie(secret CookieSecret, nonce []byte, spiI protocol.Spi, remote net.Addr) []byte {
	h := hmac.New(sha1.New, secret[:])
	h.Write(nonce)
	if host, _, err := net.SplitHostPort(remote.String()); err == nil {
		h.Write([]byte(host))
	} else {
		h.Write([]byte(remote.String()))
	}
	h.Write(spiI[:])
	return h.Sum(nil)
}

// checkNatHash verifies a NAT_DETECTION_* notify's payload: RFC 7296
// 2.23's SHA1(SPIi | SPIr | IP | port). A mismatch means a NAT (or other
// middlebox) sits between the peers on that leg and this side should
// switch to port 4500 / keepalives once negotiation completes.
func checkNatHash(hashValue []byte, spiI, spiR protocol.Spi, addr net.Addr) bool {
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		host = addr.String()
		portStr = "500"
	}
	ip := net.ParseIP(host)
	h := sha1.New()
	h.Write(spiI[:])
	h.Write(spiR[:])
	h.Write(ip.To4())
	var portBuf [2]byte
	port := parsePort(portStr)
	portBuf[0] = byte(port >> 8)
	portBuf[1] = byte(port)
	h.Write(portBuf[:])
	computed := h.Sum(nil)
	return hmac.Equal(computed, hashValue)
}

func parsePort(s string) uint16 {
	var n uint16
	for _, c := range s {
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + uint16(c-'0')
	}
	return n
}
