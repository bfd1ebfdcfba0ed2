package registry

import (
	"sync"

	"github.com/bscheduler/bscheduler/pkg/kernel"
)

// Instances is the local instance registry: a mutex-protected map from
// principal-id to the in-memory kernel instance currently acting as
// principal for that id. It is consulted by the socket pipeline's receive
// path to resolve an inbound kernel's PrincipalID to a live kernel.
type Instances struct {
	mu   sync.Mutex
	byID map[kernel.ID]kernel.Kernel
}

// NewInstances returns an empty instance registry.
func NewInstances() *Instances {
	return &Instances{byID: make(map[kernel.ID]kernel.Kernel)}
}

// Put registers k as the principal reachable at k.Base().ID.
func (r *Instances) Put(k kernel.Kernel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[k.Base().ID] = k
}

// Remove drops the registration for id, if any.
func (r *Instances) Remove(id kernel.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
}

// Lookup returns the kernel registered for id, if any.
func (r *Instances) Lookup(id kernel.ID) (kernel.Kernel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.byID[id]
	return k, ok
}
