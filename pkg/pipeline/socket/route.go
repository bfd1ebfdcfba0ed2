package socket

import (
	"github.com/bscheduler/bscheduler/pkg/kernel"
	"github.com/bscheduler/bscheduler/pkg/netaddr"
	"github.com/bscheduler/bscheduler/pkg/wire/binary"
)

// route implements the submitter-path routing table of spec §4.4.
func (p *Pipeline) route(k kernel.Kernel) {
	b := k.Base()

	if p.isLocal(b.Destination) {
		p.cpu.Send(k)
		return
	}

	if b.Flags.Has(kernel.FlagMovesEverywhere) {
		p.fanOut(k)
		return
	}

	if b.Flags.Has(kernel.FlagMovesUpstream) && b.Destination.Empty() {
		h, ok := p.nextSubordinate()
		if !ok {
			if p.useLocalhost {
				p.cpu.Send(k)
				return
			}
			b.Result = kernel.NoUpstreamAvailable
			p.returnToParent(k)
			return
		}
		p.assignIdentity(k)
		p.sendOnHandler(h, k)
		return
	}

	if b.Flags.Has(kernel.FlagMovesDownstream) && b.Source.Empty() {
		p.cpu.Send(k)
		return
	}

	if b.Destination.Empty() {
		b.Destination = b.Source
	}
	p.assignIdentity(k)
	h := p.handlerFor(b.Destination)
	p.sendOnHandler(h, k)
}

func (p *Pipeline) isLocal(addr netaddr.Address) bool {
	if addr.Empty() {
		return false
	}
	for _, a := range p.localAddrs {
		if a.Equal(addr) {
			return true
		}
	}
	return false
}

// fanOut is best-effort broadcast to every connected peer with no ordering
// guarantee across peers, per spec §5.
func (p *Pipeline) fanOut(k kernel.Kernel) {
	p.mu.Lock()
	handlers := make([]*handler, 0, len(p.peers))
	for _, h := range p.peers {
		handlers = append(handlers, h)
	}
	p.mu.Unlock()

	for _, h := range handlers {
		clone, err := p.cloneKernel(k)
		if err != nil {
			p.log.WithError(err).Warn("fan-out: failed to clone kernel, skipping peer")
			continue
		}
		p.assignIdentity(clone)
		p.sendOnHandler(h, clone)
	}
}

// cloneKernel makes an independent copy of k by round-tripping it through
// its wire encoding, so that each fan-out destination gets its own identity
// without aliasing the original kernel's Base fields.
func (p *Pipeline) cloneKernel(k kernel.Kernel) (kernel.Kernel, error) {
	w := binary.NewWriter()
	if err := p.registry.WriteKernel(w, k); err != nil {
		return nil, err
	}
	r := binary.NewReader(w.Bytes())
	return p.registry.ReadKernel(r)
}

// nextSubordinate advances the round-robin cursor over connected
// subordinate handlers, skipping any that have gone stale. Empty candidate
// set yields ok=false, per the round-robin invariant of spec §4.4.
func (p *Pipeline) nextSubordinate() (*handler, bool) {
	if p.hierarchy == nil {
		return nil, false
	}
	subs := p.hierarchy.Subordinates()
	if len(subs) == 0 {
		return nil, false
	}
	want := make(map[string]bool, len(subs))
	for _, a := range subs {
		want[a.String()] = true
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	candidates := make([]*handler, 0, len(subs))
	for _, key := range p.peerOrder {
		if want[key] {
			if h := p.peers[key]; h != nil && h.isRunning() {
				candidates = append(candidates, h)
			}
		}
	}
	if len(candidates) == 0 {
		return nil, false
	}
	if p.cursor >= len(candidates) {
		p.cursor = 0
	}
	h := candidates[p.cursor]
	p.cursor = (p.cursor + 1) % len(candidates)
	return h, true
}

// handlerFor returns the existing handler for dest, dialing a new outbound
// connection on demand.
func (p *Pipeline) handlerFor(dest netaddr.Address) *handler {
	p.mu.Lock()
	if h, ok := p.peers[dest.String()]; ok {
		p.mu.Unlock()
		return h
	}
	p.mu.Unlock()

	h, err := p.dial(dest)
	if err != nil {
		p.log.WithError(err).WithField("dest", dest).Warn("dial failed")
		stub := newHandler(nil, p.registry)
		stub.virtualAddr = dest
		stub.markDead()
		return stub
	}
	return h
}

// returnToParent implements "return to parent" from the routing table:
// the kernel's principal becomes its parent and it is resubmitted so the
// parent can react to the terminal result, mirroring Facade.Commit.
func (p *Pipeline) returnToParent(k kernel.Kernel) {
	b := k.Base()
	b.Principal = b.Parent
	p.cpu.Send(k)
}
