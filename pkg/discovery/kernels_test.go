package discovery

import (
	"net"
	"testing"
	"time"

	"github.com/bscheduler/bscheduler/pkg/kernel"
	"github.com/bscheduler/bscheduler/pkg/netaddr"
	"github.com/bscheduler/bscheduler/pkg/registry"
)

type fakeFacade struct {
	committed   kernel.Kernel
	committedAt kernel.Result
}

func (f *fakeFacade) Send(kernel.Kernel)          {}
func (f *fakeFacade) SendRemote(kernel.Kernel)    {}
func (f *fakeFacade) Upstream(_, _ kernel.Kernel) {}

func (f *fakeFacade) Commit(k kernel.Kernel, r kernel.Result) {
	f.committed = k
	f.committedAt = r
}

// TestProbeKernelActPrefersRegistryPrincipalOverSingleton exercises the
// instance-registry receive path: a probe kernel whose PrincipalID resolved
// to a specific registered Hierarchy (via Instances.Lookup, the way the
// socket pipeline populates Base.Principal on decode) must act on that
// instance, not on whatever Hierarchy happens to be the process-wide
// Current() singleton.
func TestProbeKernelActPrefersRegistryPrincipalOverSingleton(t *testing.T) {
	_, network, err := net.ParseCIDR("10.0.0.0/28")
	if err != nil {
		t.Fatalf("ParseCIDR: %v", err)
	}

	singleton := newTestHierarchy(t) // becomes Current()
	target := New(
		netaddr.Address{Family: netaddr.FamilyIPv4, IP: net.ParseIP("10.0.0.2").To4(), Port: 7850},
		network, 7851, time.Hour, noopScheduler{}, &noopCloser{},
	)
	if Current() != target {
		t.Fatal("expected the most recently constructed hierarchy to be Current()")
	}
	if target == singleton {
		t.Fatal("test setup requires two distinct hierarchies")
	}

	instances := registry.NewInstances()
	instances.Put(singleton)

	principal, ok := instances.Lookup(HierarchyPrincipalID)
	if !ok {
		t.Fatal("expected singleton to be registered under HierarchyPrincipalID")
	}

	sender := netaddr.Address{Family: netaddr.FamilyIPv4, IP: net.ParseIP("10.0.0.9").To4(), Port: 7851}
	probe := &probeKernel{
		base: kernel.Base{
			Source:      sender,
			PrincipalID: HierarchyPrincipalID,
			Principal:   principal,
		},
		NewPrincipal: singleton.localAddr,
	}

	f := &fakeFacade{}
	probe.Act(f)

	if f.committedAt != kernel.Success {
		t.Fatalf("Act result = %v, want Success", f.committedAt)
	}
	subs := singleton.Subordinates()
	if len(subs) != 1 || !subs[0].Equal(sender) {
		t.Fatalf("singleton.Subordinates() = %v, want [%v]", subs, sender)
	}
	if len(target.Subordinates()) != 0 {
		t.Fatal("Act must not have touched Current(), only the registry-resolved principal")
	}
}
