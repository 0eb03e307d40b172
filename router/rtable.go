package router

import (
	"encoding/binary"

	"github.com/soypat/ip4rt/internal"
)

// RoutingEntry is one static (destination, mask, gateway, interface) tuple.
// A zero Gateway means the destination is directly attached: the next hop
// equals the final destination.
type RoutingEntry struct {
	Destination [4]byte
	Mask        [4]byte
	Gateway     [4]byte
	Iface       *Interface
}

func ipToUint32(ip [4]byte) uint32 { return binary.BigEndian.Uint32(ip[:]) }

// RoutingTable is an ordered, immutable-after-build list of routing entries.
type RoutingTable struct {
	entries []RoutingEntry
}

// NewRoutingTable builds a routing table from entries, preserving their order
// for deterministic longest-prefix-match tie-breaking.
func NewRoutingTable(entries []RoutingEntry) RoutingTable {
	return RoutingTable{entries: entries}
}

// Lookup returns the routing entry with the longest prefix match for dst, and
// true if one was found. Among entries with equal-length masks, the first
// entry encountered (by insertion order) wins; well-formed tables never hit
// this tie.
func (rt *RoutingTable) Lookup(dst [4]byte) (RoutingEntry, bool) {
	dstu := ipToUint32(dst)
	var best RoutingEntry
	found := false
	var bestMask uint32
	for _, e := range rt.entries {
		mask := ipToUint32(e.Mask)
		if dstu&mask != ipToUint32(e.Destination) {
			continue
		}
		if !found || bestMask < mask {
			best = e
			bestMask = mask
			found = true
		}
	}
	return best, found
}

// NextHop returns the entry's gateway if set, otherwise dst itself.
func NextHop(entry RoutingEntry, dst [4]byte) [4]byte {
	if !internal.IsZeroed(entry.Gateway) {
		return entry.Gateway
	}
	return dst
}
