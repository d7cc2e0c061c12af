// Command ikev2d runs the negotiation engine as a standalone daemon: it
// binds a UDP socket, dispatches inbound datagrams to the Session that
// owns their SPI pair, and spawns a new responder Session the first
// time an unrecognized SPIi shows up in an IKE_SA_INIT request. Passing
// -remote also starts an initiator Session against that peer at
// startup. Kernel SA installation uses platform.NoopInstaller unless a
// deployment swaps in its own platform.Installer; this binary is the
// wiring point such an Installer replaces.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/msgboxio/context"
	"github.com/msgboxio/ike"
	"github.com/msgboxio/ike/async"
	"github.com/msgboxio/ike/config"
	"github.com/msgboxio/ike/handlers"
	"github.com/msgboxio/ike/message"
	"github.com/msgboxio/ike/platform"
	"github.com/msgboxio/ike/protocol"
	"github.com/msgboxio/ike/state"
	"github.com/msgboxio/ike/timers"
	"github.com/msgboxio/log"
)

func main() {
	var (
		listenAddr  = flag.String("listen", "0.0.0.0:500", "local address to bind the IKE socket on")
		remoteAddr  = flag.String("remote", "", "peer address to initiate a connection to; if empty, only responds")
		psk         = flag.String("psk", "", "pre-shared key for SHARED_KEY_MESSAGE_INTEGRITY_CODE auth")
		localID     = flag.String("local-id", "", "local identity asserted in the ID payload (IPv4 literal or FQDN)")
		concurrency = flag.Int("workers", 4, "async task runner concurrency")
	)
	flag.Parse()

	if *psk == "" {
		fmt.Fprintln(os.Stderr, "ikev2d: -psk is required")
		os.Exit(1)
	}

	cfg := config.DefaultConfig()

	idType, idData := protocol.ID_FQDN, []byte(*localID)
	if ip := net.ParseIP(*localID); ip != nil {
		idType, idData = protocol.ID_IPV4_ADDR, ip.To4()
	}
	ids := platform.StaticIdentityStore{
		LocalID:   idType,
		LocalData: idData,
		Psk:       []byte(*psk),
	}
	ap := handlers.AuthParams{IdType: idType, Method: protocol.SHARED_KEY_MESSAGE_INTEGRITY_CODE}

	store := state.NewStore()
	runner := async.NewRunner(store, *concurrency)

	conn, err := ike.Listen("udp", *listenAddr)
	if err != nil {
		log.Fatalf("ikev2d: listen %s: %v", *listenAddr, err)
	}
	defer conn.Close()

	d := newDaemon(cfg, store, runner, conn, ids, ap)
	go d.reapHalfOpenLoop(cfg.HalfOpenTimeout / 2)

	if *remoteAddr != "" {
		remote, err := net.ResolveUDPAddr("udp", *remoteAddr)
		if err != nil {
			log.Fatalf("ikev2d: resolve %s: %v", *remoteAddr, err)
		}
		if _, err := d.initiate(remote); err != nil {
			log.Fatalf("ikev2d: initiate to %s: %v", *remoteAddr, err)
		}
	}

	d.serve()
}

// spiKey indexes live Sessions by the SPIi/SPIr pair their IkeSA owns.
type spiKey [16]byte

func keyOf(i, r protocol.Spi) (k spiKey) {
	copy(k[:8], i[:])
	copy(k[8:], r[:])
	return k
}

// daemon dispatches datagrams read off one Conn to the Session that
// owns their SPI pair, routing a request that names an unrecognized
// SPIi to a freshly spawned responder Session.
type daemon struct {
	cfg    *config.Config
	store  *state.Store
	runner *async.Runner
	conn   ike.Conn

	ids platform.IdentityStore
	ap  handlers.AuthParams

	mu       sync.Mutex
	sessions map[spiKey]*ike.Session
	halfOpen map[protocol.Spi]*ike.Session // keyed on SPIi alone, before SPIr is known
}

func newDaemon(cfg *config.Config, store *state.Store, runner *async.Runner, conn ike.Conn, ids platform.IdentityStore, ap handlers.AuthParams) *daemon {
	return &daemon{
		cfg:      cfg,
		store:    store,
		runner:   runner,
		conn:     conn,
		ids:      ids,
		ap:       ap,
		sessions: make(map[spiKey]*ike.Session),
		halfOpen: make(map[protocol.Spi]*ike.Session),
	}
}

func (d *daemon) identities() ike.Identities {
	return ike.Identities{
		Ids:        d.ids,
		Ppks:       d.cfg.PPKIdentities,
		AuthParams: d.ap,
		Installer:  platform.NoopInstaller{},
	}
}

func (d *daemon) writerFor(remote net.Addr) ike.WriteData {
	return func(raw []byte) error {
		return d.conn.WritePacket(raw, remote)
	}
}

// initiate starts an initiator Session against remote and runs it.
func (d *daemon) initiate(remote net.Addr) (*ike.Session, error) {
	sess, err := ike.NewInitiator(context.Background(), d.cfg, d.store, d.identities(), d.runner, d.conn.LocalAddr(), remote, d.writerFor(remote))
	if err != nil {
		return nil, err
	}
	d.track(sess)
	go sess.Run()
	return sess, nil
}

// respond starts a responder Session for an inbound IKE_SA_INIT
// request and runs it.
func (d *daemon) respond(remote net.Addr) (*ike.Session, error) {
	sess, err := ike.NewResponder(context.Background(), d.cfg, d.store, d.identities(), d.runner, d.conn.LocalAddr(), remote, d.writerFor(remote))
	if err != nil {
		return nil, err
	}
	d.track(sess)
	go sess.Run()
	return sess, nil
}

// reapHalfOpenLoop periodically tears down any IkeSA that has sat short
// of STATE_MATURE longer than the configured half-open timeout, and
// forgets the Sessions that owned them so dispatch stops routing
// datagrams to a dead SA.
func (d *daemon) reapHalfOpenLoop(interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		reaped := timers.ReapHalfOpen(d.store, d.cfg)
		if len(reaped) == 0 {
			continue
		}
		log.Infof("ikev2d: reaped %d half-open SA(s)", len(reaped))
		d.forget(reaped)
	}
}

// forget drops every tracked Session whose IkeSA serial is in serials.
func (d *daemon) forget(serials []uint64) {
	dead := make(map[uint64]bool, len(serials))
	for _, s := range serials {
		dead[s] = true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for spi, sess := range d.halfOpen {
		if dead[sess.Serial()] {
			delete(d.halfOpen, spi)
		}
	}
	for key, sess := range d.sessions {
		if dead[sess.Serial()] {
			delete(d.sessions, key)
		}
	}
}

func (d *daemon) track(sess *ike.Session) {
	spiI, _ := sess.Spi()
	d.mu.Lock()
	d.halfOpen[spiI] = sess
	d.mu.Unlock()
}

// serve reads datagrams off conn and routes each to the Session
// owning its SPI pair until the socket errors out.
func (d *daemon) serve() {
	for {
		dg, err := ike.ReadMessage(d.conn)
		if err != nil {
			log.Errorf("ikev2d: read: %v", err)
			return
		}
		d.dispatch(dg)
	}
}

func (d *daemon) dispatch(dg *message.Digest) {
	spiI, spiR := dg.IkeHeader.SpiI, dg.IkeHeader.SpiR

	d.mu.Lock()
	sess, ok := d.sessions[keyOf(spiI, spiR)]
	if !ok {
		sess, ok = d.halfOpen[spiI]
	}
	d.mu.Unlock()

	if !ok {
		if dg.IsResponse || dg.IkeHeader.ExchangeType != protocol.IKE_SA_INIT {
			log.Warningf("ikev2d: no session for spi %x/%x, dropping", spiI, spiR)
			return
		}
		var err error
		sess, err = d.respond(dg.RemoteAddr)
		if err != nil {
			log.Errorf("ikev2d: spawn responder: %v", err)
			return
		}
	}
	sess.PostMessage(dg)

	if !dg.IsResponse && spiR != (protocol.Spi{}) {
		spiIOf, spiROf := sess.Spi()
		d.mu.Lock()
		d.sessions[keyOf(spiIOf, spiROf)] = sess
		delete(d.halfOpen, spiIOf)
		d.mu.Unlock()
	}
}
