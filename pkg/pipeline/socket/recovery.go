package socket

import (
	"github.com/bscheduler/bscheduler/pkg/kernel"
)

// recover implements spec §4.4 "Recovery on connection close": kernels
// still owned by h's send buffers when the connection died are rerouted or
// locally revived rather than silently lost.
func (p *Pipeline) recover(h *handler) {
	// Step 1 (drain remaining readable bytes once) already happened: the
	// reader goroutine's last successful Read, if any, was fed to the
	// stream before the close event was raised, so any kernels that
	// completed a full frame were already decoded and dispatched.

	upstream, downstream := h.snapshotBuffers()

	for _, k := range upstream {
		b := k.Base()
		switch {
		case b.Flags.Has(kernel.FlagMovesUpstream):
			// Resubmit so routing picks a different subordinate.
			p.route(k)
		case b.Flags.Has(kernel.FlagMovesSomewhere):
			b.Result = kernel.EndpointNotConnected
			b.Principal = b.Parent
			p.cpu.Send(k)
		}
	}

	for _, k := range downstream {
		if k.Base().Flags.Has(kernel.FlagCarriesParent) {
			p.cpu.Send(k)
		}
	}
}
