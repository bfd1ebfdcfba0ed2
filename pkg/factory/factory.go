// Package factory implements the process-wide façade singleton of spec
// §4.6: the object every kernel's Act/React reaches the scheduling fabric
// through. It owns the three pipelines, the type registry, the instance
// registry, and (when discovery is configured) the hierarchy. Grounded on
// the single-owner, explicit Start/Stop/Wait lifecycle used by the
// teacher's controller mains (e.g. controller/cmd/public-api/main.go) and
// on logrus for structured lifecycle logging.
package factory

import (
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/bscheduler/bscheduler/pkg/discovery"
	"github.com/bscheduler/bscheduler/pkg/kernel"
	"github.com/bscheduler/bscheduler/pkg/netaddr"
	"github.com/bscheduler/bscheduler/pkg/pipeline/cpu"
	"github.com/bscheduler/bscheduler/pkg/pipeline/socket"
	"github.com/bscheduler/bscheduler/pkg/pipeline/timer"
	"github.com/bscheduler/bscheduler/pkg/registry"
)

// Config carries everything Factory needs to build and wire the three
// pipelines and, optionally, the discovery hierarchy.
type Config struct {
	ListenNetwork string // "tcp" or "unix"
	ListenAddr    string
	ListenIfNet   *net.IPNet

	Workers      int
	QueueDepth   int
	UseLocalhost bool

	// Network, when non-nil, enables discovery over this CIDR.
	Network       *net.IPNet
	DiscoveryPort uint16
	ProbeInterval time.Duration
}

// Factory is the process-wide façade, implementing kernel.Facade.
type Factory struct {
	cfg       Config
	registry  *registry.Registry
	instances *registry.Instances
	cpu       *cpu.Pipeline
	timer     *timer.Pipeline
	socket    *socket.Pipeline
	hierarchy *discovery.Hierarchy
	bindAddr  netaddr.Address

	mu       sync.Mutex
	exitCode int
	done     chan struct{}
	doneOnce sync.Once
	log      *log.Entry
}

// New builds the pipelines and binds the listening socket, but does not
// start any of them. The caller should register every application kernel
// type on Registry() before calling Start, per the registry's write-once
// startup discipline (spec §5).
func New(cfg Config) (*Factory, error) {
	f := &Factory{
		cfg:       cfg,
		registry:  registry.New(),
		instances: registry.NewInstances(),
		done:      make(chan struct{}),
		log:       log.WithField("component", "factory"),
	}

	f.cpu = cpu.New(f, cpu.WithWorkers(cfg.Workers), cpu.WithQueueDepth(cfg.QueueDepth))
	f.timer = timer.New(f.cpu)
	f.socket = socket.New(f.registry, f.instances, f.cpu, nil, cfg.UseLocalhost)

	bindAddr, err := f.socket.Listen(cfg.ListenNetwork, cfg.ListenAddr, cfg.ListenIfNet)
	if err != nil {
		return nil, fmt.Errorf("factory: %w", err)
	}
	f.bindAddr = bindAddr

	if cfg.Network != nil {
		discovery.RegisterTypes(f.registry)
		f.hierarchy = discovery.New(bindAddr, cfg.Network, cfg.DiscoveryPort, cfg.ProbeInterval, f.timer, f.socket)
		f.socket.SetHierarchy(f.hierarchy)
		// Every probe kernel stamps HierarchyPrincipalID so the receiving
		// node's socket pipeline resolves it back to this registration,
		// exercising the instance registry's principal-id lookup (spec
		// §4.4 receive-path step 3) on every probe, not just a hypothetical
		// one.
		f.instances.Put(f.hierarchy)
	}

	return f, nil
}

// Registry exposes the type registry for application kernel registration.
// Must be called before Start.
func (f *Factory) Registry() *registry.Registry { return f.registry }

// BindAddr returns the address this daemon is listening on.
func (f *Factory) BindAddr() netaddr.Address { return f.bindAddr }

// Hierarchy returns the discovery hierarchy, or nil if discovery is
// disabled, for the admin status endpoint.
func (f *Factory) Hierarchy() *discovery.Hierarchy { return f.hierarchy }

// CPU, Timer and Socket expose the pipelines for callers that need more
// than the summary accessors below (e.g. tests).
func (f *Factory) CPU() *cpu.Pipeline       { return f.cpu }
func (f *Factory) Timer() *timer.Pipeline   { return f.timer }
func (f *Factory) Socket() *socket.Pipeline { return f.socket }

// The accessors below satisfy pkg/admin's StatusProvider without admin
// importing factory's pipeline internals.

// CPUQueueDepth returns the number of kernels currently queued for dispatch.
func (f *Factory) CPUQueueDepth() int { return f.cpu.QueueDepth() }

// CPUDispatched returns the lifetime count of dispatched kernels.
func (f *Factory) CPUDispatched() uint64 { return f.cpu.Dispatched() }

// TimerPending returns the number of kernels waiting on the timer heap.
func (f *Factory) TimerPending() int { return f.timer.Pending() }

// SocketPeers returns the number of currently connected peers.
func (f *Factory) SocketPeers() int { return f.socket.PeerCount() }

// SocketBytes returns the lifetime bytes sent and received by the socket
// pipeline.
func (f *Factory) SocketBytes() (sent, received uint64) {
	m := f.socket.MetricsSnapshot()
	return m.BytesSent, m.BytesReceived
}

// HierarchySnapshot returns the current principal and subordinate set, and
// false if discovery is disabled.
func (f *Factory) HierarchySnapshot() (principal netaddr.Address, subordinates []netaddr.Address, enabled bool) {
	if f.hierarchy == nil {
		return netaddr.Address{}, nil, false
	}
	return f.hierarchy.Principal(), f.hierarchy.Subordinates(), true
}

// Start launches the three pipelines and, if discovery is enabled, kicks
// off the hierarchy's on_start.
func (f *Factory) Start() {
	f.cpu.Start()
	f.timer.Start()
	f.socket.Start()
	if f.hierarchy != nil {
		f.Send(f.hierarchy)
	}
	f.log.Info("factory started")
}

// Stop tears down the pipelines in reactor-then-timer-then-workers order so
// in-flight network activity has a chance to settle first.
func (f *Factory) Stop() {
	f.socket.Stop()
	f.timer.Stop()
	f.cpu.Stop()
	f.log.Info("factory stopped")
}

// Wait blocks until GracefulShutdown (directly or via Commit on a root
// kernel) has set the exit code, and returns it.
func (f *Factory) Wait() int {
	<-f.done
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exitCode
}

// Send implements kernel.Facade: enqueue on the local CPU pipeline.
func (f *Factory) Send(k kernel.Kernel) { f.cpu.Send(k) }

// SendRemote implements kernel.Facade: enqueue on the socket pipeline.
func (f *Factory) SendRemote(k kernel.Kernel) { f.socket.Send(k) }

// upstreamRoutingFlags is every Flags bit that marks a kernel as meant for
// the network routing table rather than a purely local Act, mirrored from
// pkg/kernel/flags.go.
const upstreamRoutingFlags = kernel.FlagMovesUpstream | kernel.FlagMovesDownstream | kernel.FlagMovesEverywhere | kernel.FlagMovesSomewhere

// Upstream implements kernel.Facade: spec §4.6 "sets child.parent :=
// parent; sends child". PrincipalID is left untouched here: it is only
// ever stamped by protocol code that deliberately wants the receiving
// node to resolve a fixed, pre-registered local instance, not by this
// general façade entry point — stamping it unconditionally would make any
// upstream send to an unrelated node bounce as no-principal-found before
// its Act ever runs, since the id is only meaningful in the sender's own
// instance registry.
//
// Locality is decided by whether child carries any network routing flag,
// not by child.Base().Destination.Empty(): a child with no routing flag at
// all (e.g. the discovery hierarchy's own proberKernel, which never crosses
// the wire) must reach the local CPU pipeline even though its Destination
// is unset, while a child flagged FlagMovesUpstream with an empty
// Destination must still reach the socket pipeline's routing table so
// round-robin subordinate placement (pkg/pipeline/socket route.go) gets a
// chance to run — checking Destination emptiness alone sent both cases to
// f.Send and left that round-robin branch unreachable.
func (f *Factory) Upstream(parent, child kernel.Kernel) {
	child.Base().Parent = parent

	if child.Base().Flags&upstreamRoutingFlags == 0 {
		f.Send(child)
		return
	}
	f.SendRemote(child)
}

// Commit implements kernel.Facade: spec §4.6 "commit". A kernel with a
// parent reports back to it; a kernel with neither parent nor principal
// but a non-empty source arrived fresh off the wire and is bounced back to
// its sender instead of being treated as a local root (spec §4.2 describes
// the local-root case only; replying to a network-originated root is the
// resolution of that gap, recorded in DESIGN.md).
func (f *Factory) Commit(k kernel.Kernel, code kernel.Result) {
	b := k.Base()
	b.Result = code

	if b.Parent != nil {
		b.Principal = b.Parent
		f.Send(k)
		return
	}
	if b.Principal != nil {
		f.Send(k)
		return
	}
	if !b.Source.Empty() {
		b.Flags = b.Flags.Clear(kernel.FlagMovesUpstream).Clear(kernel.FlagMovesSomewhere).Set(kernel.FlagMovesDownstream)
		b.Destination = b.Source
		f.SendRemote(k)
		return
	}

	f.GracefulShutdown(code.ExitCode())
}

// GracefulShutdown implements kernel.Facade's shutdown path: records the
// exit code and stops the pipelines. Safe to call more than once; only the
// first call's code is kept.
func (f *Factory) GracefulShutdown(code int) {
	f.doneOnce.Do(func() {
		f.mu.Lock()
		f.exitCode = code
		f.mu.Unlock()
		close(f.done)
		go f.Stop()
	})
}
