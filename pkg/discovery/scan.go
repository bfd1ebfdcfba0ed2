package discovery

import (
	"encoding/binary"
	"net"
	"sort"
)

// maxScanHosts caps the address-interval scan to a sane size so a
// misconfigured wide CIDR (e.g. /8) does not allocate millions of
// candidate slots at startup.
const maxScanHosts = 1 << 16

// scanIterator produces the deterministic address-scan order of spec
// §4.5: positions in the implicit binary tree over the subnet, ordered by
// ascending (level-difference, absolute-rank-difference) from the local
// host's own position. The iterator is persistent across calls to Next;
// Reset restarts a fresh walk once the candidate set is exhausted.
type scanIterator struct {
	network    *net.IPNet
	candidates []uint32 // subnet offsets (0-based), in scan order
	idx        int

	seed    []net.IP // previously-known peers, tried before the tree walk
	seedIdx int
}

// newScanIterator builds the scan order for network, excluding self.
func newScanIterator(network *net.IPNet, self net.IP) *scanIterator {
	base := ipToUint32(network.IP)
	ones, bits := network.Mask.Size()
	hostBits := bits - ones
	var total uint32
	if hostBits >= 32 {
		total = 0xFFFFFFFF
	} else {
		total = uint32(1) << uint(hostBits)
	}
	if total > maxScanHosts {
		total = maxScanHosts
	}

	selfOffset := ipToUint32(self) - base
	order := buildScanOrder(total, selfOffset)

	return &scanIterator{network: network, candidates: order}
}

// buildScanOrder returns, for a subnet of size total (0-based offsets
// 0..total-1), every offset other than selfOffset ordered by ascending
// (level-difference, absolute-rank-difference) — the equivalent
// characterization of the binary-tree walk given in spec §4.5. Tree
// positions are 1-based (root at position 1), so offset o occupies
// position o+1.
func buildScanOrder(total, selfOffset uint32) []uint32 {
	if total == 0 {
		return nil
	}
	selfPos := uint64(selfOffset) + 1
	selfLevel := treeLevel(selfPos)

	type candidate struct {
		offset    uint32
		levelDiff int
		rankDiff  int64
	}
	list := make([]candidate, 0, total)
	for o := uint32(0); o < total; o++ {
		if o == selfOffset {
			continue
		}
		pos := uint64(o) + 1
		ld := treeLevel(pos) - selfLevel
		if ld < 0 {
			ld = -ld
		}
		rd := int64(pos) - int64(selfPos)
		if rd < 0 {
			rd = -rd
		}
		list = append(list, candidate{offset: o, levelDiff: ld, rankDiff: rd})
	}

	sort.Slice(list, func(i, j int) bool {
		if list[i].levelDiff != list[j].levelDiff {
			return list[i].levelDiff < list[j].levelDiff
		}
		if list[i].rankDiff != list[j].rankDiff {
			return list[i].rankDiff < list[j].rankDiff
		}
		return list[i].offset < list[j].offset
	})

	out := make([]uint32, len(list))
	for i, c := range list {
		out[i] = c.offset
	}
	return out
}

// treeLevel returns the depth of tree position pos (root at position 1,
// level 0), found by walking to the root via repeated halving — the same
// parent-of-p-is-floor(p/2) relation spec §4.5 describes.
func treeLevel(pos uint64) int {
	level := 0
	for pos > 1 {
		pos /= 2
		level++
	}
	return level
}

// Seed installs previously-known peer addresses (from the peer cache) to be
// offered ahead of the address-interval walk, on the theory that a node
// seen recently is more likely to still be reachable than an arbitrary
// unexplored tree position.
func (s *scanIterator) Seed(ips []net.IP) { s.seed = ips }

// Next returns the next candidate address in scan order, or ok=false once
// the iterator is exhausted.
func (s *scanIterator) Next() (net.IP, bool) {
	if s.seedIdx < len(s.seed) {
		ip := s.seed[s.seedIdx]
		s.seedIdx++
		return ip, true
	}
	if s.idx >= len(s.candidates) {
		return nil, false
	}
	offset := s.candidates[s.idx]
	s.idx++
	return uint32ToIP(ipToUint32(s.network.IP) + offset), true
}

// Reset restarts the walk from the beginning, used once a full sweep of
// the subnet has found no better principal. The peer-cache seed is not
// replayed on subsequent sweeps, since a failed seed candidate is no more
// likely to answer the second time.
func (s *scanIterator) Reset() { s.idx = 0 }

func ipToUint32(ip net.IP) uint32 {
	ip4 := ip.To4()
	if ip4 == nil {
		return 0
	}
	return binary.BigEndian.Uint32(ip4)
}

func uint32ToIP(v uint32) net.IP {
	ip := make(net.IP, 4)
	binary.BigEndian.PutUint32(ip, v)
	return ip
}
