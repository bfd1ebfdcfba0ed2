package timer

import (
	"sync"
	"testing"
	"time"

	"github.com/bscheduler/bscheduler/pkg/kernel"
	"github.com/bscheduler/bscheduler/pkg/wire/binary"
)

type fakeForwarder struct {
	mu  sync.Mutex
	got []kernel.Kernel
}

func (f *fakeForwarder) Send(k kernel.Kernel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, k)
}

func (f *fakeForwarder) order() []kernel.Kernel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]kernel.Kernel(nil), f.got...)
}

type labelKernel struct {
	base  kernel.Base
	label string
}

func (k *labelKernel) Base() *kernel.Base               { return &k.base }
func (k *labelKernel) TypeID() kernel.TypeID            { return 5003 }
func (k *labelKernel) WriteBody(*binary.Writer) error   { return nil }
func (k *labelKernel) ReadBody(*binary.Reader) error    { return nil }
func (k *labelKernel) Act(kernel.Facade)                {}
func (k *labelKernel) React(kernel.Facade, kernel.Kernel) {}

func TestFiresInDeadlineOrderNotSubmissionOrder(t *testing.T) {
	fwd := &fakeForwarder{}
	p := New(fwd)
	p.Start()
	defer p.Stop()

	now := time.Now()
	late := &labelKernel{label: "late"}
	early := &labelKernel{label: "early"}

	p.Send(late, now.Add(80*time.Millisecond))
	p.Send(early, now.Add(20*time.Millisecond))

	deadline := time.After(time.Second)
	for {
		if len(fwd.order()) == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("not all kernels fired")
		case <-time.After(5 * time.Millisecond):
		}
	}

	got := fwd.order()
	if got[0].(*labelKernel).label != "early" {
		t.Fatalf("fire order = %v, want early before late", got)
	}
}

func TestPendingReflectsQueueDepth(t *testing.T) {
	fwd := &fakeForwarder{}
	p := New(fwd)
	p.Start()
	defer p.Stop()

	p.Send(&labelKernel{label: "a"}, time.Now().Add(time.Hour))
	p.Send(&labelKernel{label: "b"}, time.Now().Add(time.Hour))

	if got := p.Pending(); got != 2 {
		t.Fatalf("Pending() = %d, want 2", got)
	}
}

func TestFireReadyDoesNotFireFutureKernels(t *testing.T) {
	fwd := &fakeForwarder{}
	p := New(fwd)
	p.Start()
	defer p.Stop()

	p.Send(&labelKernel{label: "soon"}, time.Now().Add(10*time.Millisecond))
	p.Send(&labelKernel{label: "far"}, time.Now().Add(time.Hour))

	time.Sleep(100 * time.Millisecond)

	got := fwd.order()
	if len(got) != 1 || got[0].(*labelKernel).label != "soon" {
		t.Fatalf("fired = %v, want only the near kernel", got)
	}
	if p.Pending() != 1 {
		t.Fatalf("Pending() = %d, want 1", p.Pending())
	}
}
