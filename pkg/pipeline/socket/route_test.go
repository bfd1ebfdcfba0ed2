package socket

import (
	"net"
	"testing"

	"github.com/bscheduler/bscheduler/pkg/kernel"
	"github.com/bscheduler/bscheduler/pkg/netaddr"
	"github.com/bscheduler/bscheduler/pkg/registry"
	"github.com/bscheduler/bscheduler/pkg/wire/binary"
)

const testTypeID kernel.TypeID = 9001

type stubKernel struct {
	base kernel.Base
}

func (k *stubKernel) Base() *kernel.Base                     { return &k.base }
func (k *stubKernel) TypeID() kernel.TypeID                  { return testTypeID }
func (k *stubKernel) WriteBody(w *binary.Writer) error       { return nil }
func (k *stubKernel) ReadBody(r *binary.Reader) error        { return nil }
func (k *stubKernel) Act(f kernel.Facade)                    {}
func (k *stubKernel) React(f kernel.Facade, c kernel.Kernel) {}

type fakeForwarder struct {
	sent []kernel.Kernel
}

func (f *fakeForwarder) Send(k kernel.Kernel) { f.sent = append(f.sent, k) }

type fakeHierarchy struct {
	subs []netaddr.Address
}

func (h *fakeHierarchy) Subordinates() []netaddr.Address    { return h.subs }
func (h *fakeHierarchy) OnPeerDisconnected(netaddr.Address) {}

func newTestPipeline(t *testing.T, hierarchy Hierarchy, useLocalhost bool) (*Pipeline, *fakeForwarder) {
	t.Helper()
	reg := registry.New()
	reg.MustRegister(testTypeID, func() kernel.Kernel { return &stubKernel{} })
	cpu := &fakeForwarder{}
	p := New(reg, registry.NewInstances(), cpu, hierarchy, useLocalhost)
	return p, cpu
}

func addPeer(p *Pipeline, addr netaddr.Address) *handler {
	h := newHandler(nil, p.registry)
	h.virtualAddr = addr
	p.mu.Lock()
	p.peers[addr.String()] = h
	p.rebuildOrderLocked()
	p.mu.Unlock()
	return h
}

// TestRouteSendsFlagMovesUpstreamToSubordinateRoundRobin exercises the
// round-robin branch of the routing table: a kernel flagged FlagMovesUpstream
// with no explicit Destination must land on one of the hierarchy's
// subordinates, and successive kernels must not pile up on the same one.
func TestRouteSendsFlagMovesUpstreamToSubordinateRoundRobin(t *testing.T) {
	subA := netaddr.Address{Family: netaddr.FamilyIPv4, IP: net.ParseIP("10.0.0.2").To4(), Port: 7851}
	subB := netaddr.Address{Family: netaddr.FamilyIPv4, IP: net.ParseIP("10.0.0.3").To4(), Port: 7851}
	hierarchy := &fakeHierarchy{subs: []netaddr.Address{subA, subB}}
	p, cpu := newTestPipeline(t, hierarchy, false)
	hA := addPeer(p, subA)
	hB := addPeer(p, subB)

	k1 := &stubKernel{base: kernel.Base{Flags: kernel.FlagMovesUpstream}}
	k2 := &stubKernel{base: kernel.Base{Flags: kernel.FlagMovesUpstream}}
	p.route(k1)
	p.route(k2)

	if len(cpu.sent) != 0 {
		t.Fatalf("round-robin kernels should never reach the local CPU pipeline, got %d", len(cpu.sent))
	}
	if k1.base.ID == 0 || k2.base.ID == 0 {
		t.Fatal("round-robin kernels must be assigned a wire identity before send")
	}

	upA, _ := hA.snapshotBuffers()
	upB, _ := hB.snapshotBuffers()
	if len(upA)+len(upB) != 2 {
		t.Fatalf("expected both kernels queued across the two subordinates, got %d on A and %d on B", len(upA), len(upB))
	}
	if len(upA) == 2 || len(upB) == 2 {
		t.Fatal("round-robin must not send both kernels to the same subordinate")
	}
}

// TestRouteWithNoSubordinatesReturnsToParent covers the NoUpstreamAvailable
// edge case: an upstream kernel with an empty candidate set and useLocalhost
// disabled bounces back to its parent via the local CPU pipeline.
func TestRouteWithNoSubordinatesReturnsToParent(t *testing.T) {
	hierarchy := &fakeHierarchy{}
	p, cpu := newTestPipeline(t, hierarchy, false)

	k := &stubKernel{base: kernel.Base{Flags: kernel.FlagMovesUpstream}}
	p.route(k)

	if len(cpu.sent) != 1 {
		t.Fatalf("expected kernel bounced to the local CPU pipeline, got %d sends", len(cpu.sent))
	}
	if k.base.Result != kernel.NoUpstreamAvailable {
		t.Fatalf("Result = %v, want NoUpstreamAvailable", k.base.Result)
	}
}

// TestRouteWithNoSubordinatesAndUseLocalhostRunsLocally covers the
// single-node development mode: with no subordinates but useLocalhost set,
// an upstream kernel runs on the local CPU pipeline instead of bouncing.
func TestRouteWithNoSubordinatesAndUseLocalhostRunsLocally(t *testing.T) {
	hierarchy := &fakeHierarchy{}
	p, cpu := newTestPipeline(t, hierarchy, true)

	k := &stubKernel{base: kernel.Base{Flags: kernel.FlagMovesUpstream}}
	p.route(k)

	if len(cpu.sent) != 1 {
		t.Fatalf("expected kernel sent to local CPU pipeline, got %d sends", len(cpu.sent))
	}
	if k.base.Result == kernel.NoUpstreamAvailable {
		t.Fatal("useLocalhost mode must not report NoUpstreamAvailable")
	}
}
