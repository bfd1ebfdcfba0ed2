// Package kernel defines the unit of scheduling and network transport for
// the bscheduler runtime: the Kernel interface, its common header (Base),
// and the Facade contract kernels use to reach the scheduling fabric from
// inside Act/React without importing the factory package directly.
package kernel

import (
	"github.com/bscheduler/bscheduler/pkg/netaddr"
	"github.com/bscheduler/bscheduler/pkg/wire/binary"
)

// TypeID is the stable 16-bit wire identifier of a kernel class, assigned by
// the type registry.
type TypeID uint16

// ID is a kernel's opaque network identity. Zero means unassigned; an id is
// drawn from a per-server counter on first network send.
type ID uint64

// Base holds the attributes common to every kernel, independent of its
// concrete payload.
type Base struct {
	ID          ID
	Source      netaddr.Address
	Destination netaddr.Address
	Result      Result
	Flags       Flags

	// Parent is the in-memory kernel that launched this one, if any. It is
	// nil for kernels received fresh off the wire until a carries-parent
	// frame (or the upstream-sent buffer match on the receive path) grafts
	// one back in.
	Parent Kernel
	// Principal is the in-memory kernel currently awaiting this kernel's
	// result. It is set by the CPU pipeline when a Parent is promoted on
	// settle, and by the socket pipeline's principal-id lookup on receipt.
	Principal Kernel
	// PrincipalID is the wire identity of a principal registered in the
	// receiving node's own instance registry. Left zero by the general
	// Upstream path; only protocol code that registers a fixed local
	// instance on the receiving side (see pkg/discovery) should stamp it.
	PrincipalID ID
}

// IsRoot reports whether this kernel has neither a parent nor a principal;
// its completion terminates the enclosing process.
func (b *Base) IsRoot() bool { return b.Parent == nil && b.Principal == nil }

// Kernel is the atomic unit of scheduling and messaging. Concrete kernel
// types embed Base and implement Act/React/WriteBody/ReadBody.
type Kernel interface {
	// Base returns the mutable common header of this kernel.
	Base() *Base
	// TypeID returns the stable wire identifier for this kernel's type.
	TypeID() TypeID
	// Act is invoked when the kernel is dispatched with no principal set:
	// it is starting its work, locally or having just arrived over the
	// wire as the first hop of a computation.
	Act(f Facade)
	// React is invoked on a principal kernel when a subordinate kernel it
	// launched (via Facade.Upstream) has completed, successfully or not.
	React(f Facade, child Kernel)
	// WriteBody serializes the type-specific payload, excluding the common
	// header which the wire codec writes generically.
	WriteBody(w *binary.Writer) error
	// ReadBody deserializes the type-specific payload written by WriteBody.
	ReadBody(r *binary.Reader) error
}

// Facade is the subset of the process-wide factory that kernels may call
// from inside Act/React. Defining it here, rather than depending on the
// factory package, keeps kernel free of a dependency on its own caller.
type Facade interface {
	// Send enqueues k on the local CPU pipeline.
	Send(k Kernel)
	// SendRemote enqueues k on the socket pipeline for network routing.
	SendRemote(k Kernel)
	// Upstream sets child's parent to parent and sends child (locally or
	// remotely, per child's flags and destination).
	Upstream(parent, child Kernel)
	// Commit finalizes k with the given result. If k has a parent, its
	// principal becomes its parent and it is resubmitted so the principal
	// can react to it; with no parent but a principal, it is resubmitted
	// to that principal; with neither but a non-empty source, it is sent
	// back to the source as a downstream reply; otherwise code becomes the
	// process exit code and the facade begins shutdown.
	Commit(k Kernel, code Result)
}
