// Package socket implements the socket pipeline: a reactor that accepts
// inbound connections, maintains the map of peer connections, performs
// round-robin upstream dispatch, and owns per-peer send/receive buffers of
// kernels with recovery semantics.
//
// Go has no portable raw-epoll primitive in the standard library; where the
// original design calls for a single reactor thread multiplexing readiness
// events, this package uses the idiomatic Go substitute — one reader
// goroutine per connection, each feeding a single serializing event loop
// goroutine through a channel (the "wake pipe" of spec §4.4/§5). All peer
// map mutation, routing decisions, and framed-stream decode happen on that
// one event-loop goroutine, preserving the spec's single-thread-owns-peer-map
// invariant. Grounded on the accept/dispatch split in
// cni-plugin/proxyscheduler/server/server.go and on the per-resource
// goroutine-plus-channel idiom of controller/api/destination/watcher.
package socket

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/bscheduler/bscheduler/pkg/kernel"
	"github.com/bscheduler/bscheduler/pkg/netaddr"
	"github.com/bscheduler/bscheduler/pkg/registry"
	"github.com/bscheduler/bscheduler/pkg/wire"
)

// ReadWriteTimeout is the OS-level user-timeout applied to peer socket I/O;
// exceeding it is treated as a connection failure (spec §5).
const ReadWriteTimeout = 7 * time.Second

// Forwarder is the subset of the CPU pipeline the socket pipeline needs.
type Forwarder interface {
	Send(k kernel.Kernel)
}

// Hierarchy is the subset of the discovery hierarchy the socket pipeline
// needs for routing and for notifying of connection loss. Implemented by
// *discovery.Hierarchy; declared here to avoid a dependency cycle.
type Hierarchy interface {
	// Subordinates returns the current round-robin candidate set.
	Subordinates() []netaddr.Address
	// OnPeerDisconnected is invoked when a connection to addr is lost; the
	// hierarchy reacts per spec §4.5 (principal loss triggers re-probing).
	OnPeerDisconnected(addr netaddr.Address)
}

type eventKind int

const (
	eventSubmit eventKind = iota
	eventAccepted
	eventReadable
	eventClosed
)

type event struct {
	kind eventKind
	k    kernel.Kernel
	h    *handler
	conn net.Conn
}

// Pipeline is the single-logical-threaded socket reactor.
type Pipeline struct {
	registry  *registry.Registry
	instances *registry.Instances
	cpu       Forwarder
	hierarchy Hierarchy

	useLocalhost bool
	localAddrs   []netaddr.Address // addresses owned by our listeners

	listeners []*listener

	events chan event
	done   chan struct{}
	stop   chan struct{}

	mu        sync.Mutex
	peers     map[string]*handler
	peerOrder []string
	cursor    int

	unixCounter uint64

	log *log.Entry

	metrics Metrics
}

// Metrics is the set of counters the admin surface reads; kept as plain
// atomics rather than a direct prometheus dependency so this package stays
// decoupled from the admin wiring.
type Metrics struct {
	BytesSent     uint64
	BytesReceived uint64
}

type listener struct {
	ln       net.Listener
	addr     netaddr.Address
	ifNet    *net.IPNet
	idCursor uint64
}

// contains reports whether ip falls within this listener's configured
// interface subnet, used by identity assignment to pick the owning server.
func (l *listener) contains(ip net.IP) bool {
	return l.ifNet != nil && l.ifNet.Contains(ip)
}

// New returns an unstarted socket pipeline.
func New(reg *registry.Registry, instances *registry.Instances, cpu Forwarder, hierarchy Hierarchy, useLocalhost bool) *Pipeline {
	return &Pipeline{
		registry:     reg,
		instances:    instances,
		cpu:          cpu,
		hierarchy:    hierarchy,
		useLocalhost: useLocalhost,
		events:       make(chan event, 256),
		done:         make(chan struct{}),
		stop:         make(chan struct{}),
		peers:        make(map[string]*handler),
		log:          log.WithField("pipeline", "socket"),
	}
}

// SetHierarchy wires the discovery hierarchy in after construction, since
// the hierarchy needs this pipeline's bound listener address before it can
// be built. Call before Start.
func (p *Pipeline) SetHierarchy(h Hierarchy) { p.hierarchy = h }

// Listen binds a new listening server to addr and begins accepting
// connections on it. Call before Start. ifNet, if non-nil, is the local
// interface subnet this listener serves, consulted by identity assignment
// (spec §4.4) to pick the owning server for a destination address.
func (p *Pipeline) Listen(network, addr string, ifNet *net.IPNet) (netaddr.Address, error) {
	ln, err := net.Listen(network, addr)
	if err != nil {
		return netaddr.Address{}, fmt.Errorf("socket: listen %s %s: %w", network, addr, err)
	}
	var a netaddr.Address
	switch ta := ln.Addr().(type) {
	case *net.TCPAddr:
		a = netaddr.FromTCPAddr(ta)
	case *net.UnixAddr:
		a = netaddr.FromUnixAddr(ta)
	default:
		ln.Close()
		return netaddr.Address{}, fmt.Errorf("socket: unsupported listener address type %T", ln.Addr())
	}
	p.listeners = append(p.listeners, &listener{ln: ln, addr: a, ifNet: ifNet})
	p.localAddrs = append(p.localAddrs, a)
	return a, nil
}

// Start launches the accept loops and the event loop goroutine.
func (p *Pipeline) Start() {
	for _, l := range p.listeners {
		go p.acceptLoop(l)
	}
	go p.run()
}

// Stop closes all listeners and peer connections and waits for the event
// loop to drain.
func (p *Pipeline) Stop() {
	close(p.stop)
	for _, l := range p.listeners {
		l.ln.Close()
	}
	<-p.done
}

// Send enqueues a kernel for routing; safe to call from any goroutine, this
// is the "wake pipe" of spec §4.4.
func (p *Pipeline) Send(k kernel.Kernel) {
	select {
	case p.events <- event{kind: eventSubmit, k: k}:
	case <-p.stop:
	}
}

func (p *Pipeline) acceptLoop(l *listener) {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-p.stop:
				return
			default:
				p.log.WithError(err).Warn("accept failed")
				return
			}
		}
		h := newHandler(conn, p.registry)
		h.listener = l
		select {
		case p.events <- event{kind: eventAccepted, h: h, conn: conn}:
		case <-p.stop:
			conn.Close()
			return
		}
	}
}

func (p *Pipeline) run() {
	defer close(p.done)
	for {
		select {
		case <-p.stop:
			p.mu.Lock()
			for _, h := range p.peers {
				h.close()
			}
			p.mu.Unlock()
			return
		case ev := <-p.events:
			p.handleEvent(ev)
		}
	}
}

func (p *Pipeline) handleEvent(ev event) {
	switch ev.kind {
	case eventSubmit:
		p.route(ev.k)
	case eventAccepted:
		p.onAccept(ev.h, ev.conn)
	case eventReadable:
		p.onReadable(ev.h)
	case eventClosed:
		p.onClosed(ev.h)
	}
}

// onAccept implements spec §4.4 Accept: the peer is identified by its
// virtual address; an existing handler for that address wins ties (a
// resolution of the contested-reconnect open question — see DESIGN.md).
func (p *Pipeline) onAccept(h *handler, conn net.Conn) {
	remote := remoteAddress(conn)
	virtual := netaddr.Virtual(remote, h.listener.addr.Port)

	p.mu.Lock()
	if existing, ok := p.peers[virtual.String()]; ok {
		p.mu.Unlock()
		p.log.WithField("peer", virtual).Debug("dropping duplicate inbound connection, existing handler kept")
		_ = existing
		conn.Close()
		return
	}
	h.virtualAddr = virtual
	p.peers[virtual.String()] = h
	p.rebuildOrderLocked()
	p.mu.Unlock()

	h.onReadable = func() { p.events <- event{kind: eventReadable, h: h} }
	h.onClosed = func() { p.events <- event{kind: eventClosed, h: h} }
	h.start()
	p.log.WithField("peer", virtual).Info("accepted peer connection")
}

func (p *Pipeline) onReadable(h *handler) {
	data, err := h.drainRead()
	if err != nil {
		p.closeHandler(h)
		return
	}
	atomic.AddUint64(&p.metrics.BytesReceived, uint64(len(data)))
	h.stream.Feed(data)

	for {
		k, ok, err := h.stream.ReadKernel()
		if err != nil {
			p.log.WithError(err).WithField("peer", h.virtualAddr).Warn("framing error, closing connection")
			p.closeHandler(h)
			return
		}
		if !ok {
			return
		}
		p.onDecoded(h, k)
	}
}

// onDecoded implements spec §4.4 receive path steps 1-4.
func (p *Pipeline) onDecoded(h *handler, k kernel.Kernel) {
	b := k.Base()
	b.Source = h.virtualAddr

	if b.Flags.Has(kernel.FlagMovesDownstream) {
		if m, ok := h.takeUpstreamSentByID(b.ID); ok {
			b.Parent = m.Base().Parent
			p.cpu.Send(k)
			return
		}
	}

	if b.PrincipalID != 0 {
		principal, ok := p.instances.Lookup(b.PrincipalID)
		if !ok {
			b.Result = kernel.NoPrincipalFound
			p.sendOnHandler(h, k)
			return
		}
		b.Principal = principal
	}

	p.cpu.Send(k)
}

func (p *Pipeline) onClosed(h *handler) {
	p.closeHandler(h)
}

func (p *Pipeline) closeHandler(h *handler) {
	p.mu.Lock()
	if _, ok := p.peers[h.virtualAddr.String()]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.peers, h.virtualAddr.String())
	p.rebuildOrderLocked()
	p.mu.Unlock()

	h.close()
	p.recover(h)
	if p.hierarchy != nil {
		p.hierarchy.OnPeerDisconnected(h.virtualAddr)
	}
}

func (p *Pipeline) rebuildOrderLocked() {
	order := make([]string, 0, len(p.peers))
	for k := range p.peers {
		order = append(order, k)
	}
	p.peerOrder = order
	if p.cursor >= len(p.peerOrder) {
		p.cursor = 0
	}
}

// ClosePeer implements discovery.Closer: it drops the connection to addr,
// if one exists, without waiting for an OS-level timeout. The normal
// close/recovery path runs exactly as it would for a peer-initiated
// disconnect.
func (p *Pipeline) ClosePeer(addr netaddr.Address) {
	p.mu.Lock()
	h, ok := p.peers[addr.String()]
	p.mu.Unlock()
	if !ok {
		return
	}
	select {
	case p.events <- event{kind: eventClosed, h: h}:
	case <-p.stop:
	}
}

// PeerCount returns the number of currently connected peers, for admin
// metrics.
func (p *Pipeline) PeerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.peers)
}

// MetricsSnapshot returns a point-in-time copy of the byte counters.
func (p *Pipeline) MetricsSnapshot() Metrics {
	return Metrics{
		BytesSent:     atomic.LoadUint64(&p.metrics.BytesSent),
		BytesReceived: atomic.LoadUint64(&p.metrics.BytesReceived),
	}
}

func remoteAddress(conn net.Conn) netaddr.Address {
	switch ra := conn.RemoteAddr().(type) {
	case *net.TCPAddr:
		return netaddr.FromTCPAddr(ra)
	case *net.UnixAddr:
		return netaddr.FromUnixAddr(ra)
	default:
		return netaddr.Address{}
	}
}
