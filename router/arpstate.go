package router

import "sync"

// ARPState is the shared mutable state of the router: the ARP cache and the
// pending-ARP registry, behind a single mutex (the "ARP lock"). Every read or
// mutation of either structure must go through one of ARPState's methods,
// which hold the lock for the minimum span that preserves the invariants —
// never across a Transport.Send call.
type ARPState struct {
	mu      sync.Mutex
	cache   arpCache
	pending pendingRegistry
}

// NewARPState builds an ARPState with the given cache capacity and TTL.
func NewARPState(cacheCapacity int, ttlSeconds int64) *ARPState {
	return &ARPState{
		cache:   newARPCache(cacheCapacity, ttlSeconds),
		pending: newPendingRegistry(),
	}
}

// LookupCache returns a non-expired ARP binding for ip.
func (s *ARPState) LookupCache(ip [4]byte, now int64) (hw [6]byte, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.lookup(ip, now)
}

// InsertCache inserts or refreshes a binding. Reports full if the cache has
// no room.
func (s *ARPState) InsertCache(ip [4]byte, hw [6]byte, now int64) (full bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.insert(ip, hw, now)
}

// LookupPending returns the pending-ARP entry for ip, if any.
func (s *ARPState) LookupPending(ip [4]byte) (*pendingEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.lookup(ip)
}

// AddPending returns the existing pending entry for ip or creates a new one
// on egress interface iface. The invariant "an ARP cache entry and a pending
// ARP request for the same IPv4 do not simultaneously exist" is the caller's
// responsibility: callers must only reach here after a cache miss.
func (s *ARPState) AddPending(ip [4]byte, iface *Interface) (entry *pendingEntry, created bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.add(ip, iface)
}

// AttachFrame deep-copies frame and parks it on entry's withheld list.
func (s *ARPState) AttachFrame(entry *pendingEntry, ingress *Interface, frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending.attach(entry, ingress, frame)
}

// MarkSent records that an ARP request for entry was just sent at now. The
// caller is responsible for actually emitting the request; this only updates
// the retry bookkeeping, so the first request (sent when the entry is
// created) and the retry worker's retransmissions count against the same
// MaxARPRetries budget instead of the first send going untracked.
func (s *ARPState) MarkSent(entry *pendingEntry, now int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.timesSent++
	entry.lastSent = now
}

// ResolvePending atomically looks up and removes the pending entry for ip,
// inserting the resolved binding into the cache in the same critical
// section. It returns the entry's withheld frames (ownership transfers to
// the caller) so they can be drained outside the lock, and the egress
// interface the entry was waiting on.
func (s *ARPState) ResolvePending(ip [4]byte, hw [6]byte, now int64) (withheld []withheldFrame, iface *Interface, found bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.insert(ip, hw, now)
	entry, ok := s.pending.lookup(ip)
	if !ok {
		return nil, nil, false
	}
	s.pending.drop(entry)
	return entry.withheld, entry.iface, true
}

// SweepAction describes what the retry worker must do for one pending entry
// once the ARP lock has been released.
type SweepAction struct {
	Iface      *Interface
	TargetIP   [4]byte
	Retransmit bool            // emit another ARP request
	Withheld   []withheldFrame // present only when the entry was expired
}

// Sweep walks every pending entry whose last send is at least periodSeconds
// old and either marks it for retransmission (bumping its send counter and
// timestamp) or, if it has already reached MaxARPRetries, removes it and
// returns its withheld frames so the caller can emit host-unreachable ICMPs.
// Expired ARP cache entries are removed in the same pass.
func (s *ARPState) Sweep(now, periodSeconds int64) []SweepAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.sweepExpired(now)

	var actions []SweepAction
	for ip, entry := range s.pending.byIP {
		if now-entry.lastSent < periodSeconds {
			continue
		}
		if entry.timesSent >= MaxARPRetries {
			actions = append(actions, SweepAction{
				Iface:    entry.iface,
				TargetIP: ip,
				Withheld: entry.withheld,
			})
			s.pending.drop(entry)
			continue
		}
		entry.timesSent++
		entry.lastSent = now
		actions = append(actions, SweepAction{
			Iface:      entry.iface,
			TargetIP:   ip,
			Retransmit: true,
		})
	}
	return actions
}
