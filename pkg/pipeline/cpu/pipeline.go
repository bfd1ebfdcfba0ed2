// Package cpu implements the CPU pipeline: a bounded queue of ready kernels
// consumed by a pool of worker goroutines that invoke each kernel's Act or
// React callback. Grounded on the goroutine-per-worker-over-a-shared-channel
// idiom used throughout controller/api/destination/watcher (e.g.
// pod_watcher.go's update loop goroutine draining a work queue) and on
// logrus for structured per-kernel-failure logging, consistent with the
// rest of the codebase.
package cpu

import (
	"fmt"
	"runtime"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/bscheduler/bscheduler/pkg/kernel"
)

// Pipeline is a bounded concurrent queue feeding N worker goroutines.
// Submission never blocks the caller beyond the channel send itself.
type Pipeline struct {
	facade  kernel.Facade
	queue   chan kernel.Kernel
	workers int
	wg      sync.WaitGroup
	log     *log.Entry

	dispatched  uint64
	mu          sync.Mutex
}

// Option configures a Pipeline at construction.
type Option func(*Pipeline)

// WithWorkers overrides the worker count (default: runtime.GOMAXPROCS(0)).
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithQueueDepth overrides the channel buffer depth (default: 1024).
func WithQueueDepth(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.queue = make(chan kernel.Kernel, n)
		}
	}
}

// New returns a Pipeline bound to facade, not yet started.
func New(facade kernel.Facade, opts ...Option) *Pipeline {
	p := &Pipeline{
		facade:  facade,
		queue:   make(chan kernel.Kernel, 1024),
		workers: runtime.GOMAXPROCS(0),
		log:     log.WithField("pipeline", "cpu"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the worker goroutines.
func (p *Pipeline) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.log.Infof("started %d workers", p.workers)
}

// Stop closes the submission queue and waits for the workers to exit.
// Kernels still queued when Stop is called are not dropped: the workers
// dispatch every one of them before returning.
func (p *Pipeline) Stop() {
	close(p.queue)
	p.wg.Wait()
}

// Send enqueues k for dispatch. It panics if called after Stop has closed
// the queue, mirroring a programming error rather than a runtime condition.
func (p *Pipeline) Send(k kernel.Kernel) {
	p.queue <- k
}

// Dispatched returns the number of kernels this pipeline has dispatched,
// for the admin metrics surface.
func (p *Pipeline) Dispatched() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dispatched
}

// QueueDepth returns the number of kernels currently queued.
func (p *Pipeline) QueueDepth() int { return len(p.queue) }

func (p *Pipeline) worker(id int) {
	defer p.wg.Done()
	entry := p.log.WithField("worker", id)
	for k := range p.queue {
		p.dispatchOne(entry, k)
	}
}

// dispatchOne implements the dispatch rule of spec §4.2. Panics raised from
// Act/React are recovered at this boundary: they become a terminal Error
// result on the offending kernel rather than crashing the worker.
func (p *Pipeline) dispatchOne(entry *log.Entry, k kernel.Kernel) {
	defer func() {
		if r := recover(); r != nil {
			entry.WithField("recovered", r).Error("kernel action panicked")
			b := k.Base()
			b.Result = kernel.Error
			p.settle(k)
		}
	}()

	b := k.Base()
	p.mu.Lock()
	p.dispatched++
	p.mu.Unlock()

	switch {
	case b.Result == kernel.Undefined && b.Principal != nil:
		b.Principal.React(p.facade, k)
		if !b.Flags.Has(kernel.FlagDoNotDelete) {
			// Ownership transferred to React; nothing further to do here.
			_ = k
		}
	case b.Result == kernel.Undefined && b.Principal == nil:
		k.Act(p.facade)
	case b.Result != kernel.Undefined:
		p.settle(k)
	default:
		entry.WithField("type", fmt.Sprintf("%T", k)).Warn("kernel in unreachable dispatch state")
	}
}

// settle implements the third dispatch branch: a kernel that has already
// finished (Result != Undefined) either reports back to its principal or,
// if it is a root, is handed to Commit to decide between a network reply
// and true process termination. A non-nil Parent with no Principal yet
// (the common case for a kernel just grafted by the socket pipeline's
// receive path, see pipeline/socket's onDecoded) is resolved to its
// principal here, exactly as Commit would have on the sending side.
func (p *Pipeline) settle(k kernel.Kernel) {
	b := k.Base()
	if b.Principal == nil && b.Parent != nil {
		b.Principal = b.Parent
	}
	if b.Principal != nil {
		b.Principal.React(p.facade, k)
		return
	}
	p.facade.Commit(k, b.Result)
}
