// Package echokernel defines a minimal application kernel, submitted by
// cmd/bsub and registered by cmd/bschedulerd, as a concrete, registrable
// Kernel: it carries a
// single counter, doubles it in Act, and reports success. Grounded on the
// Application_kernel round-trip described in
// original_source/src/bscheduler/daemon/bsub.cc, reduced to the smallest
// payload that exercises the wire codec and the upstream/react/commit path
// end to end.
package echokernel

import (
	"github.com/bscheduler/bscheduler/pkg/kernel"
	"github.com/bscheduler/bscheduler/pkg/registry"
	"github.com/bscheduler/bscheduler/pkg/wire/binary"
)

// TypeEcho is this kernel's stable wire type-id.
const TypeEcho kernel.TypeID = 1001

// Kernel doubles N and reports success. It never fails on its own; Result
// is only ever Error if Act panics, which it does not.
type Kernel struct {
	base kernel.Base
	N    uint32
}

// New returns an unsent echo kernel carrying payload n. The caller sets
// Base().Destination before submitting it.
func New(n uint32) *Kernel {
	return &Kernel{N: n}
}

func (k *Kernel) Base() *kernel.Base    { return &k.base }
func (k *Kernel) TypeID() kernel.TypeID { return TypeEcho }

func (k *Kernel) WriteBody(w *binary.Writer) error {
	w.WriteUint32(k.N)
	return nil
}

func (k *Kernel) ReadBody(r *binary.Reader) error {
	k.N = r.ReadUint32()
	return r.Err()
}

// Act doubles the payload and reports success.
func (k *Kernel) Act(f kernel.Facade) {
	k.N *= 2
	f.Commit(k, kernel.Success)
}

// React is a no-op: nothing in this repo sends an echo kernel upstream of
// another echo kernel.
func (k *Kernel) React(f kernel.Facade, child kernel.Kernel) {}

// RegisterTypes registers Kernel on reg.
func RegisterTypes(reg *registry.Registry) {
	reg.MustRegister(TypeEcho, func() kernel.Kernel { return &Kernel{} })
}
