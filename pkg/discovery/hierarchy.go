// Package discovery implements the hierarchy state machine of spec §4.5: a
// node probes candidate principals in address-interval order, adopts the
// first that accepts it as a subordinate, and tracks its own subordinate
// set so the socket pipeline can round-robin kernels over it. Grounded on
// the periodic-probe-and-react shape of controller/service-mirror's
// probe_worker.go and on controller/heartbeat.go's single long-lived
// state-carrying goroutine.
package discovery

import (
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/bscheduler/bscheduler/pkg/kernel"
	"github.com/bscheduler/bscheduler/pkg/netaddr"
	"github.com/bscheduler/bscheduler/pkg/wire/binary"
)

// state is the per-node discovery state of spec §4.5.
type state int

const (
	stateWaiting state = iota
	stateProbing
)

// Scheduler is the subset of the timer pipeline the hierarchy needs to
// schedule its own re-probe timer.
type Scheduler interface {
	Send(k kernel.Kernel, at time.Time)
}

// Closer is the subset of the socket pipeline the hierarchy needs to stop
// the connection to an abandoned principal, per spec §4.5 "stop socket
// client for the old principal".
type Closer interface {
	ClosePeer(addr netaddr.Address)
}

// Hierarchy is itself a kernel (spec §4.5: "runs as kernels"): dispatching
// it with Act begins probing; it is the React target (via Facade.Upstream)
// of every prober kernel it launches. It is a process-wide singleton,
// reachable from inbound probe kernels via Current.
type Hierarchy struct {
	base kernel.Base

	localAddr     netaddr.Address
	network       *net.IPNet
	discoveryPort uint16
	probeInterval time.Duration

	scheduler Scheduler
	closer    Closer
	log       *log.Entry

	mu           sync.Mutex
	st           state
	scan         *scanIterator
	principal    netaddr.Address
	subordinates map[string]netaddr.Address
}

var (
	currentMu sync.RWMutex
	current   *Hierarchy
)

// Current returns the process-wide hierarchy singleton, or nil before one
// has been installed. Inbound probe kernels call this from Act, since
// Act/React only receive a Facade, not a direct hierarchy reference.
func Current() *Hierarchy {
	currentMu.RLock()
	defer currentMu.RUnlock()
	return current
}

// New builds a hierarchy for the given local bind address and network, and
// installs it as the process-wide singleton. localAddr must be one of the
// daemon's listening addresses; network is the configured discovery CIDR.
func New(localAddr netaddr.Address, network *net.IPNet, discoveryPort uint16, probeInterval time.Duration, scheduler Scheduler, closer Closer) *Hierarchy {
	h := &Hierarchy{
		base:          kernel.Base{ID: HierarchyPrincipalID},
		localAddr:     localAddr,
		network:       network,
		discoveryPort: discoveryPort,
		probeInterval: probeInterval,
		scheduler:     scheduler,
		closer:        closer,
		log:           log.WithField("component", "discovery"),
		subordinates:  make(map[string]netaddr.Address),
	}
	h.scan = newScanIterator(network, localAddr.IP)

	currentMu.Lock()
	current = h
	currentMu.Unlock()
	return h
}

// Base implements kernel.Kernel.
func (h *Hierarchy) Base() *kernel.Base { return &h.base }

// TypeID implements kernel.Kernel; the hierarchy kernel never crosses the
// wire and is never looked up by id.
func (h *Hierarchy) TypeID() kernel.TypeID { return 0 }

func (h *Hierarchy) WriteBody(w *binary.Writer) error {
	return fmt.Errorf("discovery: hierarchy kernel is not transmittable")
}

func (h *Hierarchy) ReadBody(r *binary.Reader) error {
	return fmt.Errorf("discovery: hierarchy kernel is not transmittable")
}

// Act implements kernel.Kernel: dispatching the hierarchy kernel is
// spec §4.5's "on_start" operation.
func (h *Hierarchy) Act(f kernel.Facade) {
	h.probeNext(f)
}

// React implements kernel.Kernel: spec §4.5 "on prober return".
func (h *Hierarchy) React(f kernel.Facade, child kernel.Kernel) {
	prober, ok := child.(*proberKernel)
	if !ok {
		return
	}
	if prober.firstResult == kernel.Success {
		h.mu.Lock()
		oldPrincipal := h.principal
		h.principal = prober.candidate
		h.st = stateWaiting
		h.mu.Unlock()
		if h.closer != nil && !oldPrincipal.Empty() && !oldPrincipal.Equal(prober.candidate) {
			h.closer.ClosePeer(oldPrincipal)
		}
		h.log.WithField("principal", prober.candidate).Info("adopted new principal")
		// Re-probe later in case a closer principal appears.
		h.scheduler.Send(&timerKernel{hierarchy: h}, time.Now().Add(h.probeInterval))
		return
	}
	h.probeNext(f)
}

// onTimerFire implements spec §4.5 "On timer fire: if state is waiting,
// call probe_next".
func (h *Hierarchy) onTimerFire(f kernel.Facade) {
	h.mu.Lock()
	waiting := h.st == stateWaiting
	h.mu.Unlock()
	if waiting {
		h.probeNext(f)
	}
}

// probeNext implements spec §4.5 "probe_next".
func (h *Hierarchy) probeNext(f kernel.Facade) {
	h.mu.Lock()
	h.st = stateProbing
	next, ok := h.scan.Next()
	oldPrincipal := h.principal
	h.mu.Unlock()

	if !ok {
		h.mu.Lock()
		h.scan.Reset()
		h.st = stateWaiting
		h.mu.Unlock()
		h.scheduler.Send(&timerKernel{hierarchy: h}, time.Now().Add(h.probeInterval))
		return
	}

	candidate := netaddr.Address{Family: h.localAddr.Family, IP: next, Port: h.discoveryPort}
	prober := newProberKernel(candidate, oldPrincipal, candidate)
	f.Upstream(h, prober)
}

// SeedCandidates offers previously-known peer endpoints (typically loaded
// from the on-disk peer cache at startup) ahead of the address-interval
// walk. Addresses outside the configured network, or that fail to parse,
// are skipped.
func (h *Hierarchy) SeedCandidates(addrs []string) {
	ips := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		host, _, err := net.SplitHostPort(a)
		if err != nil {
			continue
		}
		ip := net.ParseIP(host)
		if ip == nil || !h.network.Contains(ip) {
			continue
		}
		ips = append(ips, ip)
	}
	h.mu.Lock()
	h.scan.Seed(ips)
	h.mu.Unlock()
}

// Principal returns the current principal address, or the empty address if
// none is set.
func (h *Hierarchy) Principal() netaddr.Address {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.principal
}

// Subordinates implements socket.Hierarchy: the current round-robin
// candidate set.
func (h *Hierarchy) Subordinates() []netaddr.Address {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]netaddr.Address, 0, len(h.subordinates))
	for _, a := range h.subordinates {
		out = append(out, a)
	}
	return out
}

// OnPeerDisconnected implements socket.Hierarchy: spec §4.5 "On
// socket-pipeline peer-disconnected event for our current principal: unset
// principal, probe_next". Called from the socket pipeline's event-loop
// goroutine, so it only mutates local state and hands off the probe_next
// continuation via an immediate re-probe timer rather than running it
// inline (the event-loop goroutine holds no Facade to dispatch through).
func (h *Hierarchy) OnPeerDisconnected(addr netaddr.Address) {
	h.mu.Lock()
	wasPrincipal := !h.principal.Empty() && h.principal.Equal(addr)
	if wasPrincipal {
		h.principal = netaddr.Address{}
		h.st = stateWaiting
	}
	delete(h.subordinates, addr.String())
	h.mu.Unlock()

	if wasPrincipal {
		h.log.WithField("peer", addr).Info("lost principal, resuming discovery")
		h.scheduler.Send(&timerKernel{hierarchy: h}, time.Now())
	}
}

// addSubordinate records sender as a subordinate, per an accepted probe.
func (h *Hierarchy) addSubordinate(sender netaddr.Address) {
	h.mu.Lock()
	h.subordinates[sender.String()] = sender
	h.mu.Unlock()
	h.log.WithField("peer", sender).Info("gained subordinate")
}

// removeSubordinate drops sender from the subordinate set, per a
// resignation probe.
func (h *Hierarchy) removeSubordinate(sender netaddr.Address) {
	h.mu.Lock()
	delete(h.subordinates, sender.String())
	h.mu.Unlock()
	h.log.WithField("peer", sender).Info("lost subordinate")
}
