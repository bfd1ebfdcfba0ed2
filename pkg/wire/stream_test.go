package wire

import (
	"testing"

	"github.com/bscheduler/bscheduler/pkg/kernel"
	"github.com/bscheduler/bscheduler/pkg/registry"
	"github.com/bscheduler/bscheduler/pkg/wire/binary"
)

type pingKernel struct {
	base kernel.Base
	N    uint32
}

func (k *pingKernel) Base() *kernel.Base    { return &k.base }
func (k *pingKernel) TypeID() kernel.TypeID { return 3001 }
func (k *pingKernel) Act(kernel.Facade)            {}
func (k *pingKernel) React(kernel.Facade, kernel.Kernel) {}

func (k *pingKernel) WriteBody(w *binary.Writer) error {
	w.WriteUint32(k.N)
	return nil
}

func (k *pingKernel) ReadBody(r *binary.Reader) error {
	k.N = r.ReadUint32()
	return r.Err()
}

func newTestStream() *Stream {
	reg := registry.New()
	reg.MustRegister(3001, func() kernel.Kernel { return &pingKernel{} })
	return NewStream(reg)
}

func TestReadKernelWaitsForCompleteFrame(t *testing.T) {
	s := newTestStream()
	k := &pingKernel{N: 99}
	k.Base().ID = 1

	w := newTestStream()
	if err := w.WriteKernel(k); err != nil {
		t.Fatalf("write: %v", err)
	}
	frame := w.Drain()

	// Feed the frame one byte at a time: ReadKernel must never report a
	// kernel until the whole frame has arrived.
	for i := 0; i < len(frame)-1; i++ {
		s.Feed(frame[i : i+1])
		if _, ok, err := s.ReadKernel(); ok || err != nil {
			t.Fatalf("ReadKernel returned early at byte %d: ok=%v err=%v", i, ok, err)
		}
	}
	s.Feed(frame[len(frame)-1:])

	got, ok, err := s.ReadKernel()
	if err != nil || !ok {
		t.Fatalf("ReadKernel after full frame: ok=%v err=%v", ok, err)
	}
	if got.(*pingKernel).N != 99 {
		t.Fatalf("N = %d, want 99", got.(*pingKernel).N)
	}
}

func TestReadKernelHandlesBackToBackFrames(t *testing.T) {
	w := newTestStream()
	for i := uint32(0); i < 3; i++ {
		k := &pingKernel{N: i}
		if err := w.WriteKernel(k); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	frame := w.Drain()

	s := newTestStream()
	s.Feed(frame)
	for i := uint32(0); i < 3; i++ {
		got, ok, err := s.ReadKernel()
		if err != nil || !ok {
			t.Fatalf("ReadKernel %d: ok=%v err=%v", i, ok, err)
		}
		if got.(*pingKernel).N != i {
			t.Fatalf("frame %d: N = %d, want %d", i, got.(*pingKernel).N, i)
		}
	}
	if _, ok, _ := s.ReadKernel(); ok {
		t.Fatal("expected no more frames")
	}
}

func TestReadKernelRecoversAfterUnknownType(t *testing.T) {
	other := registry.New()
	other.MustRegister(9999, func() kernel.Kernel { return &pingKernel{} })
	w := NewStream(other)
	bad := &pingKernel{N: 1}
	if err := w.WriteKernel(bad); err != nil {
		t.Fatalf("write: %v", err)
	}

	good := newTestStream()
	goodKernel := &pingKernel{N: 2}
	if err := good.WriteKernel(goodKernel); err != nil {
		t.Fatalf("write: %v", err)
	}

	s := newTestStream()
	s.Feed(w.Drain())
	s.Feed(good.Drain())

	// The unknown-type frame is still a well-formed frame: its length
	// prefix lets the stream skip past it and recover frame alignment for
	// the next, decodable frame.
	if _, ok, err := s.ReadKernel(); err == nil {
		t.Fatal("expected decode error for unknown type")
	} else if ok {
		t.Fatal("unexpected ok=true alongside error")
	}

	got, ok, err := s.ReadKernel()
	if err != nil || !ok {
		t.Fatalf("second frame: ok=%v err=%v", ok, err)
	}
	if got.(*pingKernel).N != 2 {
		t.Fatalf("N = %d, want 2", got.(*pingKernel).N)
	}
}

func TestSyncReportsPartialInput(t *testing.T) {
	s := newTestStream()
	if s.Sync() {
		t.Fatal("empty stream should report no partial input")
	}
	s.Feed([]byte{0x00, 0x00, 0x00})
	if !s.Sync() {
		t.Fatal("expected partial input to be reported")
	}
}
