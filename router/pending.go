package router

// MaxARPRetries is the total number of ARP requests sent for one pending
// resolution, the first request included, before it is abandoned (see
// [ARPState.MarkSent] and [ARPState.Sweep]).
const MaxARPRetries = 5

// MaxWithheldPerEntry bounds how many frames a single pending-ARP entry will
// hold onto. Frames beyond the bound are dropped silently (§5 resource bounds).
const MaxWithheldPerEntry = 32

// withheldFrame is a deep copy of an inbound frame parked pending ARP
// resolution of its next hop, plus the interface it arrived on (needed to
// build the correct source address if resolution ultimately fails and a
// host-unreachable ICMP must be sent back toward its origin).
type withheldFrame struct {
	data    []byte
	ingress *Interface
}

// pendingEntry tracks one outstanding ARP resolution.
type pendingEntry struct {
	targetIP  [4]byte
	iface     *Interface // egress interface the ARP request goes out on
	timesSent int
	lastSent  int64
	withheld  []withheldFrame
}

// pendingRegistry holds at most one pendingEntry per target IPv4 address.
// Like arpCache, it is not safe for concurrent use on its own.
type pendingRegistry struct {
	byIP map[[4]byte]*pendingEntry
}

func newPendingRegistry() pendingRegistry {
	return pendingRegistry{byIP: make(map[[4]byte]*pendingEntry)}
}

func (r *pendingRegistry) lookup(ip [4]byte) (*pendingEntry, bool) {
	e, ok := r.byIP[ip]
	return e, ok
}

// add creates a new pending entry for ip if one does not already exist.
// Returns the entry and whether it was newly created.
func (r *pendingRegistry) add(ip [4]byte, iface *Interface) (entry *pendingEntry, created bool) {
	if e, ok := r.byIP[ip]; ok {
		return e, false
	}
	e := &pendingEntry{targetIP: ip, iface: iface}
	r.byIP[ip] = e
	return e, true
}

// attach makes a deep copy of frame and appends it to entry's withheld list,
// silently dropping it once MaxWithheldPerEntry is reached.
func (r *pendingRegistry) attach(entry *pendingEntry, ingress *Interface, frame []byte) {
	if len(entry.withheld) >= MaxWithheldPerEntry {
		return
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	entry.withheld = append(entry.withheld, withheldFrame{data: cp, ingress: ingress})
}

// drop detaches entry from the registry. Callers must drain entry.withheld
// themselves before or after calling drop; once dropped the entry is no
// longer reachable by target IP.
func (r *pendingRegistry) drop(entry *pendingEntry) {
	delete(r.byIP, entry.targetIP)
}
