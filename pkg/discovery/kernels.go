package discovery

import (
	"fmt"
	"sync"

	"github.com/bscheduler/bscheduler/pkg/kernel"
	"github.com/bscheduler/bscheduler/pkg/netaddr"
	"github.com/bscheduler/bscheduler/pkg/registry"
	"github.com/bscheduler/bscheduler/pkg/wire/binary"
)

// TypeProbe is the stable wire type-id for the probe kernel; it is the only
// discovery kernel that ever crosses the network, so it is the only one
// registered in the type registry.
const TypeProbe kernel.TypeID = 2001

// HierarchyPrincipalID is the fixed instance-registry id every node
// registers its own Hierarchy singleton under (spec §4.4 receive-path step
// 3: "if k has a principal-id, look up the registered instance"). Every
// probe kernel stamps this id so the receiving node's socket pipeline
// resolves it back to that node's own Hierarchy without either side needing
// to know the other's registry contents ahead of time.
const HierarchyPrincipalID kernel.ID = 1

// probeDirection distinguishes the two legs of a prober's sub-protocol on
// the wire, per spec §6 ("a direction flag").
type probeDirection uint8

const (
	// directionPropose is sent to the candidate being proposed as our new
	// principal.
	directionPropose probeDirection = iota
	// directionResign is sent to the old principal to announce we have
	// switched away from it.
	directionResign
)

// probeKernel is the only discovery message that travels the wire. It
// carries the sender's (old, new) principal endpoints so the recipient can
// update its own subordinate set per spec §4.5.
type probeKernel struct {
	base kernel.Base

	OldPrincipal netaddr.Address
	NewPrincipal netaddr.Address
	Direction    probeDirection
}

// RegisterTypes registers every discovery kernel type that crosses the
// wire. Call once at startup, before any pipeline starts, per spec §7
// duplicate-type policy.
func RegisterTypes(reg *registry.Registry) {
	reg.MustRegister(TypeProbe, func() kernel.Kernel { return &probeKernel{} })
}

func (k *probeKernel) Base() *kernel.Base { return &k.base }

func (k *probeKernel) TypeID() kernel.TypeID { return TypeProbe }

func (k *probeKernel) WriteBody(w *binary.Writer) error {
	if err := w.WriteAddress(k.OldPrincipal); err != nil {
		return fmt.Errorf("discovery: write old-principal: %w", err)
	}
	if err := w.WriteAddress(k.NewPrincipal); err != nil {
		return fmt.Errorf("discovery: write new-principal: %w", err)
	}
	w.WriteUint8(uint8(k.Direction))
	return nil
}

func (k *probeKernel) ReadBody(r *binary.Reader) error {
	k.OldPrincipal = r.ReadAddress()
	k.NewPrincipal = r.ReadAddress()
	k.Direction = probeDirection(r.ReadUint8())
	return r.Err()
}

// Act runs on the node being probed: spec §4.5 "on inbound probe kernel".
// h is ordinarily resolved from the receiving socket pipeline's instance
// registry (k.base.Principal, populated via HierarchyPrincipalID); Current
// is kept as a fallback for kernels dispatched without going through that
// lookup, e.g. in tests that call Act directly.
func (k *probeKernel) Act(f kernel.Facade) {
	h, _ := k.base.Principal.(*Hierarchy)
	if h == nil {
		h = Current()
	}
	if h == nil {
		k.base.Result = kernel.Error
		f.Commit(k, k.base.Result)
		return
	}

	sender := k.base.Source
	if !h.Principal().Empty() && sender.Equal(h.Principal()) {
		// Principals may not become our subordinates.
		k.base.Result = kernel.Error
		f.Commit(k, k.base.Result)
		return
	}

	if k.NewPrincipal.Equal(h.localAddr) {
		h.addSubordinate(sender)
	}
	if k.OldPrincipal.Equal(h.localAddr) {
		h.removeSubordinate(sender)
	}
	k.base.Result = kernel.Success
	f.Commit(k, k.base.Result)
}

func (k *probeKernel) React(f kernel.Facade, child kernel.Kernel) {
	// A probe kernel never launches children.
}

// proberKernel runs the two-leg sub-protocol of spec §4.5 "Prober
// sub-protocol". It never crosses the wire itself — only the probe
// kernels it launches do — so it carries no wire type-id.
type proberKernel struct {
	base kernel.Base

	candidate    netaddr.Address
	oldPrincipal netaddr.Address
	newPrincipal netaddr.Address

	mu            sync.Mutex
	firstReturned bool
	firstResult   kernel.Result
	outstanding   int
}

func newProberKernel(candidate, oldPrincipal, newPrincipal netaddr.Address) *proberKernel {
	return &proberKernel{candidate: candidate, oldPrincipal: oldPrincipal, newPrincipal: newPrincipal}
}

func (k *proberKernel) Base() *kernel.Base { return &k.base }

func (k *proberKernel) TypeID() kernel.TypeID { return 0 }

func (k *proberKernel) WriteBody(w *binary.Writer) error {
	return fmt.Errorf("discovery: prober kernel is not transmittable")
}

func (k *proberKernel) ReadBody(r *binary.Reader) error {
	return fmt.Errorf("discovery: prober kernel is not transmittable")
}

func (k *proberKernel) Act(f kernel.Facade) {
	k.outstanding = 1
	first := &probeKernel{
		base:         kernel.Base{Destination: k.candidate, Flags: kernel.FlagMovesSomewhere, PrincipalID: HierarchyPrincipalID},
		OldPrincipal: k.oldPrincipal,
		NewPrincipal: k.newPrincipal,
		Direction:    directionPropose,
	}
	f.Upstream(k, first)
}

// React implements "on prober return": the first leg's result becomes the
// prober's own result; a successful first leg with a known old principal
// triggers the resignation leg before the prober itself completes.
func (k *proberKernel) React(f kernel.Facade, child kernel.Kernel) {
	probe, ok := child.(*probeKernel)
	if !ok {
		return
	}

	k.mu.Lock()
	var sendResign bool
	if !k.firstReturned {
		k.firstReturned = true
		k.firstResult = probe.base.Result
		k.outstanding--
		if k.firstResult == kernel.Success && !k.oldPrincipal.Empty() {
			k.outstanding++
			sendResign = true
		}
	} else {
		k.outstanding--
	}
	remaining := k.outstanding
	k.mu.Unlock()

	if sendResign {
		second := &probeKernel{
			base:         kernel.Base{Destination: k.oldPrincipal, Flags: kernel.FlagMovesSomewhere, PrincipalID: HierarchyPrincipalID},
			OldPrincipal: k.oldPrincipal,
			NewPrincipal: k.newPrincipal,
			Direction:    directionResign,
		}
		f.Upstream(k, second)
		return
	}

	if remaining == 0 {
		f.Commit(k, k.firstResult)
	}
}

// timerKernel is the discovery-timer kernel of spec §4.5: a purely local
// signal scheduled on the timer pipeline that re-enters probe_next once it
// fires. It never crosses the wire.
type timerKernel struct {
	base      kernel.Base
	hierarchy *Hierarchy
}

func (k *timerKernel) Base() *kernel.Base { return &k.base }

func (k *timerKernel) TypeID() kernel.TypeID { return 0 }

func (k *timerKernel) WriteBody(w *binary.Writer) error {
	return fmt.Errorf("discovery: timer kernel is not transmittable")
}

func (k *timerKernel) ReadBody(r *binary.Reader) error {
	return fmt.Errorf("discovery: timer kernel is not transmittable")
}

func (k *timerKernel) Act(f kernel.Facade) {
	k.hierarchy.onTimerFire(f)
}

func (k *timerKernel) React(f kernel.Facade, child kernel.Kernel) {}
