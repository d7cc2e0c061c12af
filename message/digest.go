package message

import (
	"net"

	"github.com/msgboxio/ike/protocol"
	"github.com/msgboxio/ike/state"
)

// Digest wraps a decoded Message with the extra bookkeeping a dispatcher
// needs once it starts routing to handlers: where the message came from,
// whether it is a request or a response, and which Transition the
// dispatcher matched it against. A Message only ever knows how to decode
// and decrypt itself; a Digest is what handlers/ actually operate on.
type Digest struct {
	*Message

	RemoteAddr net.Addr
	Interface  string // local listener tag, for multi-homed daemons

	IsResponse bool

	// notifyIndex is built lazily on first NotifyPayloads/HasNotify call,
	// since most messages carry zero or one notify.
	notifyIndex map[protocol.NotificationType][]*protocol.NotifyPayload

	// Transition is filled in by the dispatcher once it has matched this
	// Digest's exchange type and header flags against the owning SA's
	// current state, so a handler can be invoked without re-deriving it.
	Transition *state.Transition
}

// NewDigest wraps an already-decoded Message for dispatch.
func NewDigest(m *Message, remote net.Addr, iface string, isResponse bool) *Digest {
	return &Digest{Message: m, RemoteAddr: remote, Interface: iface, IsResponse: isResponse}
}

func (d *Digest) buildNotifyIndex() {
	if d.notifyIndex != nil {
		return
	}
	d.notifyIndex = make(map[protocol.NotificationType][]*protocol.NotifyPayload)
	for _, p := range d.Payloads.Array {
		if n, ok := p.(*protocol.NotifyPayload); ok {
			d.notifyIndex[n.NotificationType] = append(d.notifyIndex[n.NotificationType], n)
		}
	}
}

// NotifyPayloads returns every notify of type t carried by this message,
// in wire order. Handlers use this instead of Payloads.Get, which only
// ever returns the first match of a type and a message may legally carry
// several notifies of the same type (e.g. multiple SA proposals' worth
// of errors, or repeated REDIRECT_SUPPORTED).
func (d *Digest) NotifyPayloads(t protocol.NotificationType) []*protocol.NotifyPayload {
	d.buildNotifyIndex()
	return d.notifyIndex[t]
}

// HasNotify reports whether this message carries at least one notify of
// type t.
func (d *Digest) HasNotify(t protocol.NotificationType) bool {
	return len(d.NotifyPayloads(t)) > 0
}
