// Package registry implements the process-wide kernel type registry: the
// mapping from a stable wire type-id (and from a kernel's Go type) to a
// descriptor able to construct a fresh, empty instance for decoding.
//
// Grounded on the teacher's destination watcher cache pattern
// (controller/api/destination/watcher/endpoints_watcher_cache.go), which
// keeps a mutex-protected map keyed by a stable identifier and rejects
// conflicting registrations rather than silently overwriting them.
package registry

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/bscheduler/bscheduler/pkg/kernel"
	"github.com/bscheduler/bscheduler/pkg/wire/binary"
)

// TypeDescriptor binds a kernel class to its wire id and a constructor that
// produces a zero-valued instance ready for ReadBody.
type TypeDescriptor struct {
	ID  kernel.TypeID
	New func() kernel.Kernel
}

// Registry is a process-wide, write-once-at-startup map from type-id and
// from Go runtime type to TypeDescriptor.
type Registry struct {
	mu       sync.RWMutex
	byID     map[kernel.TypeID]TypeDescriptor
	byGoType map[reflect.Type]TypeDescriptor
	nextAuto kernel.TypeID
}

// New returns an empty registry. Auto-generated ids start just above the
// range commonly used for example/application kernels so hand-picked ids
// like 1001 never collide with one assigned automatically.
func New() *Registry {
	return &Registry{
		byID:     make(map[kernel.TypeID]TypeDescriptor),
		byGoType: make(map[reflect.Type]TypeDescriptor),
		nextAuto: 40000,
	}
}

// Register adds a descriptor to the registry. If id is zero, an id is drawn
// from a monotonic counter. Registering two descriptors with the same id or
// the same underlying Go type is rejected and leaves the registry
// unmodified.
func (r *Registry) Register(id kernel.TypeID, new func() kernel.Kernel) (kernel.TypeID, error) {
	if new == nil {
		return 0, fmt.Errorf("registry: nil constructor")
	}
	sample := new()
	goType := reflect.TypeOf(sample)

	r.mu.Lock()
	defer r.mu.Unlock()

	if id == 0 {
		id = r.nextAuto
		for {
			if _, taken := r.byID[id]; !taken {
				break
			}
			id++
		}
		r.nextAuto = id + 1
	}

	if _, exists := r.byID[id]; exists {
		return 0, fmt.Errorf("registry: duplicate-type: id %d already registered", id)
	}
	if _, exists := r.byGoType[goType]; exists {
		return 0, fmt.Errorf("registry: duplicate-type: go type %s already registered", goType)
	}

	desc := TypeDescriptor{ID: id, New: new}
	r.byID[id] = desc
	r.byGoType[goType] = desc
	return id, nil
}

// MustRegister is Register but aborts the process on failure, mirroring the
// spec's "process aborts before pipelines start" duplicate-type policy.
func (r *Registry) MustRegister(id kernel.TypeID, new func() kernel.Kernel) kernel.TypeID {
	assigned, err := r.Register(id, new)
	if err != nil {
		panic(err)
	}
	return assigned
}

// LookupByID returns the descriptor for a wire type-id.
func (r *Registry) LookupByID(id kernel.TypeID) (TypeDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byID[id]
	return d, ok
}

// LookupByRuntimeType returns the descriptor registered for k's Go type.
func (r *Registry) LookupByRuntimeType(k kernel.Kernel) (TypeDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byGoType[reflect.TypeOf(k)]
	return d, ok
}

// ErrUnknownType is returned by ReadKernel when the wire carries a type-id
// with no registered descriptor.
type ErrUnknownType struct{ ID kernel.TypeID }

func (e ErrUnknownType) Error() string {
	return fmt.Sprintf("registry: unknown-type: id %d", e.ID)
}

// WriteKernel writes k's type-id, common header, and self-serialized body;
// if k carries a parent, the parent is written recursively immediately
// after, with its own type-id and header but no length prefix of its own.
func (r *Registry) WriteKernel(w *binary.Writer, k kernel.Kernel) error {
	desc, ok := r.LookupByRuntimeType(k)
	if !ok {
		return fmt.Errorf("registry: cannot write unregistered kernel type %T", k)
	}

	w.WriteUint16(uint16(desc.ID))
	b := k.Base()
	w.WriteUint8(uint8(b.Flags))
	w.WriteUint64(uint64(b.ID))
	w.WriteUint16(uint16(b.Result))
	w.WriteUint64(uint64(b.PrincipalID))
	if err := w.WriteAddress(b.Source); err != nil {
		return fmt.Errorf("registry: write source: %w", err)
	}
	if err := w.WriteAddress(b.Destination); err != nil {
		return fmt.Errorf("registry: write destination: %w", err)
	}
	if err := k.WriteBody(w); err != nil {
		return fmt.Errorf("registry: write body: %w", err)
	}

	if b.Flags.Has(kernel.FlagCarriesParent) {
		if b.Parent == nil {
			return fmt.Errorf("registry: kernel %T carries-parent but has no parent", k)
		}
		if err := r.WriteKernel(w, b.Parent); err != nil {
			return fmt.Errorf("registry: write embedded parent: %w", err)
		}
	}
	return nil
}

// ReadKernel decodes one complete kernel object (type-id, common header,
// body, and recursively any embedded parent) from r.
func (r *Registry) ReadKernel(br *binary.Reader) (kernel.Kernel, error) {
	id := kernel.TypeID(br.ReadUint16())
	if br.Err() != nil {
		return nil, br.Err()
	}

	desc, ok := r.LookupByID(id)
	if !ok {
		return nil, ErrUnknownType{ID: id}
	}

	k := desc.New()
	b := k.Base()
	b.Flags = kernel.Flags(br.ReadUint8())
	b.ID = kernel.ID(br.ReadUint64())
	b.Result = kernel.Result(br.ReadUint16())
	b.PrincipalID = kernel.ID(br.ReadUint64())
	b.Source = br.ReadAddress()
	b.Destination = br.ReadAddress()
	if br.Err() != nil {
		return nil, br.Err()
	}

	if err := k.ReadBody(br); err != nil {
		return nil, fmt.Errorf("registry: read body for type %d: %w", id, err)
	}

	if b.Flags.Has(kernel.FlagCarriesParent) {
		parent, err := r.ReadKernel(br)
		if err != nil {
			return nil, fmt.Errorf("registry: read embedded parent: %w", err)
		}
		b.Parent = parent
	}
	return k, nil
}
