package socket

import (
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bscheduler/bscheduler/pkg/kernel"
	"github.com/bscheduler/bscheduler/pkg/netaddr"
	"github.com/bscheduler/bscheduler/pkg/registry"
	"github.com/bscheduler/bscheduler/pkg/wire"
)

// handler is the per-peer connection handler of spec §4.4: it owns a framed
// stream and the two ordered send buffers (upstream-sent, downstream-sent)
// used for recovery on connection loss.
type handler struct {
	conn        net.Conn
	virtualAddr netaddr.Address
	listener    *listener
	stream      *wire.Stream

	onReadable func()
	onClosed   func()

	mu             sync.Mutex
	pending        []byte
	upstreamSent   []kernel.Kernel
	downstreamSent []kernel.Kernel

	running   int32
	closeOnce sync.Once
}

func newHandler(conn net.Conn, reg *registry.Registry) *handler {
	return &handler{
		conn:    conn,
		stream:  wire.NewStream(reg),
		running: 1,
	}
}

func (h *handler) isRunning() bool { return atomic.LoadInt32(&h.running) == 1 }
func (h *handler) markDead()       { atomic.StoreInt32(&h.running, 0) }

func (h *handler) start() {
	go h.readLoop()
}

// readLoop is the per-connection reader goroutine substituting for the
// original design's epoll readiness notification: each read that succeeds
// is treated exactly like a "readable" reactor event.
func (h *handler) readLoop() {
	buf := make([]byte, 64*1024)
	for {
		if h.conn == nil {
			return
		}
		h.conn.SetReadDeadline(time.Now().Add(ReadWriteTimeout))
		n, err := h.conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			h.pushReadable(chunk)
		}
		if err != nil {
			if err == io.EOF || isTimeout(err) || !h.isRunning() {
				h.markDead()
				h.signalClosed()
				return
			}
			h.markDead()
			h.signalClosed()
			return
		}
	}
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

// pushReadable buffers data handed off from readLoop until drainRead is
// called by the event-loop goroutine.
func (h *handler) pushReadable(p []byte) {
	h.mu.Lock()
	h.pending = append(h.pending, p...)
	h.mu.Unlock()
	if h.onReadable != nil {
		h.onReadable()
	}
}

func (h *handler) drainRead() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.pending) == 0 {
		return nil, nil
	}
	p := h.pending
	h.pending = nil
	return p, nil
}

func (h *handler) signalClosed() {
	if h.onClosed != nil {
		h.onClosed()
	}
}

// send implements the per-handler send path of spec §4.4.
func (h *handler) send(k kernel.Kernel) (int, error) {
	b := k.Base()
	queued := false
	switch {
	case b.Flags.Has(kernel.FlagMovesUpstream) || b.Flags.Has(kernel.FlagMovesSomewhere):
		h.mu.Lock()
		h.upstreamSent = append(h.upstreamSent, k)
		h.mu.Unlock()
		queued = true
	case b.Flags.Has(kernel.FlagMovesDownstream) && b.Flags.Has(kernel.FlagCarriesParent):
		h.mu.Lock()
		h.downstreamSent = append(h.downstreamSent, k)
		h.mu.Unlock()
		queued = true
	}

	if err := h.stream.WriteKernel(k); err != nil {
		return 0, err
	}
	out := h.stream.Drain()
	if len(out) > 0 && h.conn != nil {
		h.conn.SetWriteDeadline(time.Now().Add(ReadWriteTimeout))
		if _, err := h.conn.Write(out); err != nil {
			return 0, err
		}
	}
	_ = queued // kernels not queued are simply left to the garbage collector
	return len(out), nil
}

// takeUpstreamSentByID removes and returns the upstream-sent kernel whose id
// matches, used by the receive path to graft a reply's parent back in.
func (h *handler) takeUpstreamSentByID(id kernel.ID) (kernel.Kernel, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, k := range h.upstreamSent {
		if k.Base().ID == id {
			h.upstreamSent = append(h.upstreamSent[:i], h.upstreamSent[i+1:]...)
			return k, true
		}
	}
	return nil, false
}

func (h *handler) snapshotBuffers() (upstream, downstream []kernel.Kernel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	upstream = append([]kernel.Kernel(nil), h.upstreamSent...)
	downstream = append([]kernel.Kernel(nil), h.downstreamSent...)
	h.upstreamSent = nil
	h.downstreamSent = nil
	return
}

func (h *handler) close() {
	h.closeOnce.Do(func() {
		h.markDead()
		if h.conn != nil {
			h.conn.Close()
		}
	})
}
