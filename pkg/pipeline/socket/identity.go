package socket

import (
	"sync/atomic"

	"github.com/bscheduler/bscheduler/pkg/kernel"
	"github.com/bscheduler/bscheduler/pkg/netaddr"
)

// assignIdentity implements spec §4.4 identity assignment: a kernel
// receives an id on first network hop, drawn from the owning listener's
// per-server counter (or the pipeline-wide unix counter for Unix-family
// destinations). If the kernel carries a parent, the parent is assigned an
// id the same way.
func (p *Pipeline) assignIdentity(k kernel.Kernel) {
	b := k.Base()
	if b.ID == 0 {
		b.ID = p.nextID(k)
	}
	if b.Flags.Has(kernel.FlagCarriesParent) && b.Parent != nil {
		p.assignIdentity(b.Parent)
	}
}

func (p *Pipeline) nextID(k kernel.Kernel) kernel.ID {
	dest := k.Base().Destination
	if dest.Family == netaddr.FamilyUnix {
		return kernel.ID(atomic.AddUint64(&p.unixCounter, 1))
	}

	owner := p.ownerListener(dest)
	return kernel.ID(atomic.AddUint64(&owner.idCursor, 1))
}

func (p *Pipeline) ownerListener(dest netaddr.Address) *listener {
	for _, l := range p.listeners {
		if l.contains(dest.IP) {
			return l
		}
	}
	if len(p.listeners) > 0 {
		return p.listeners[0]
	}
	return &listener{}
}
