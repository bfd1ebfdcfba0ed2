// Package timer implements the timer pipeline: a single goroutine draining a
// min-heap of kernels ordered by scheduled wake time, handing each fired
// kernel to the CPU pipeline's standard dispatch path. Grounded on the
// teacher's jittered ticker idiom in controller/service-mirror/probe_worker.go
// (a single goroutine blocking on a timer channel until Stop), generalized
// here from a fixed ticker to a min-heap since wake times are per-kernel and
// arbitrary rather than a fixed period.
package timer

import (
	"container/heap"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/bscheduler/bscheduler/pkg/kernel"
)

// Forwarder is the subset of the CPU pipeline the timer pipeline needs: the
// ability to hand a fired kernel back into the standard dispatch path.
type Forwarder interface {
	Send(k kernel.Kernel)
}

type entry struct {
	k   kernel.Kernel
	at  time.Time
	idx int
}

type minHeap []*entry

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].idx = i; h[j].idx = j }
func (h *minHeap) Push(x interface{}) {
	e := x.(*entry)
	e.idx = len(*h)
	*h = append(*h, e)
}
func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Pipeline is the single-threaded timer wheel.
type Pipeline struct {
	forward Forwarder
	log     *log.Entry

	mu       sync.Mutex
	heap     minHeap
	wake     chan struct{}
	shutdown chan struct{}
	done     chan struct{}
}

// New returns a Pipeline that forwards fired kernels to forward.
func New(forward Forwarder) *Pipeline {
	return &Pipeline{
		forward:  forward,
		log:      log.WithField("pipeline", "timer"),
		wake:     make(chan struct{}, 1),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the single timer goroutine.
func (p *Pipeline) Start() {
	go p.run()
}

// Stop signals the timer goroutine to exit. Kernels still queued are
// leaked rather than delivered, per the spec's cancellation semantics —
// acceptable at process exit.
func (p *Pipeline) Stop() {
	close(p.shutdown)
	<-p.done
}

// Send schedules k to fire at at, an absolute deadline; callers compute
// "now + after" before calling.
func (p *Pipeline) Send(k kernel.Kernel, at time.Time) {
	p.mu.Lock()
	heap.Push(&p.heap, &entry{k: k, at: at})
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of kernels waiting to fire, for admin metrics.
func (p *Pipeline) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.heap)
}

func (p *Pipeline) run() {
	defer close(p.done)
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		p.mu.Lock()
		var d time.Duration
		if len(p.heap) == 0 {
			d = time.Hour
		} else {
			d = time.Until(p.heap[0].at)
			if d < 0 {
				d = 0
			}
		}
		p.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(d)

		select {
		case <-p.shutdown:
			return
		case <-timer.C:
			p.fireReady()
		case <-p.wake:
			// loop around to recompute the deadline against the new head
		}
	}
}

func (p *Pipeline) fireReady() {
	now := time.Now()
	for {
		p.mu.Lock()
		if len(p.heap) == 0 || p.heap[0].at.After(now) {
			p.mu.Unlock()
			return
		}
		e := heap.Pop(&p.heap).(*entry)
		p.mu.Unlock()
		p.forward.Send(e.k)
	}
}
