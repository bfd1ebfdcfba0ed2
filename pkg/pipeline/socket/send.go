package socket

import (
	"net"
	"sync/atomic"

	"github.com/bscheduler/bscheduler/pkg/kernel"
	"github.com/bscheduler/bscheduler/pkg/netaddr"
)

// sendOnHandler writes k on h's framed stream, closing and recovering the
// connection if the write fails (an OS-level timeout or reset is a
// transport error per spec §7).
func (p *Pipeline) sendOnHandler(h *handler, k kernel.Kernel) {
	n, err := h.send(k)
	if err != nil {
		p.log.WithError(err).WithField("peer", h.virtualAddr).Warn("send failed, closing connection")
		p.closeHandler(h)
		return
	}
	atomic.AddUint64(&p.metrics.BytesSent, uint64(n))
}

// dial opens an outbound connection to dest and registers a handler for it,
// used when routing a kernel to a peer we have not yet talked to.
func (p *Pipeline) dial(dest netaddr.Address) (*handler, error) {
	network := "tcp"
	addr := dest.String()
	if dest.Family == netaddr.FamilyUnix {
		network = "unix"
		addr = dest.Path
	}

	conn, err := net.DialTimeout(network, addr, ReadWriteTimeout)
	if err != nil {
		return nil, err
	}

	h := newHandler(conn, p.registry)
	h.virtualAddr = dest

	p.mu.Lock()
	p.peers[dest.String()] = h
	p.rebuildOrderLocked()
	p.mu.Unlock()

	h.onReadable = func() { p.events <- event{kind: eventReadable, h: h} }
	h.onClosed = func() { p.events <- event{kind: eventClosed, h: h} }
	h.start()
	return h, nil
}
