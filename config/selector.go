package config

import (
	"errors"
	"net"
)

// IPNetToFirstLastAddress turns a CIDR range into its first and last
// IPv4 addresses, the shape protocol.Selector's StartAddress/EndAddress
// fields want. Referenced from the teacher's own AddSelector but never
// defined anywhere in the retrieved source; rebuilt here from plain
// net.IPNet mask arithmetic.
func IPNetToFirstLastAddress(n *net.IPNet) (first, last net.IP, err error) {
	ip4 := n.IP.To4()
	if ip4 == nil {
		return nil, nil, errors.New("config: only IPv4 selectors are supported")
	}
	mask := n.Mask
	if len(mask) == net.IPv6len {
		mask = mask[12:]
	}
	first = make(net.IP, net.IPv4len)
	last = make(net.IP, net.IPv4len)
	for i := 0; i < net.IPv4len; i++ {
		first[i] = ip4[i] & mask[i]
		last[i] = ip4[i] | ^mask[i]
	}
	return first, last, nil
}
