package kernel

// Flags is the set of routing and lifetime bits carried by every kernel.
type Flags uint8

// Flag bits as defined in the wire body layout.
const (
	// FlagCarriesParent marks that the kernel's wire frame embeds its
	// parent so the parent can be revived after a node failure.
	FlagCarriesParent Flags = 1 << iota
	// FlagDoNotDelete suppresses the CPU pipeline's automatic delete of a
	// kernel after its principal has reacted to it.
	FlagDoNotDelete
	// FlagMovesUpstream marks a kernel eligible for round-robin placement
	// on a subordinate of the current node when its destination is empty.
	FlagMovesUpstream
	// FlagMovesDownstream marks a reply kernel travelling back toward the
	// node that dispatched its sibling upstream.
	FlagMovesDownstream
	// FlagMovesEverywhere marks a kernel for best-effort fan-out to every
	// connected peer.
	FlagMovesEverywhere
	// FlagMovesSomewhere marks a kernel that must leave this node for any
	// single reachable peer, without the round-robin fairness guarantee of
	// FlagMovesUpstream.
	FlagMovesSomewhere
)

// Has reports whether all bits in mask are set in f.
func (f Flags) Has(mask Flags) bool { return f&mask == mask }

// Set returns f with mask set.
func (f Flags) Set(mask Flags) Flags { return f | mask }

// Clear returns f with mask cleared.
func (f Flags) Clear(mask Flags) Flags { return f &^ mask }
