package router

// arpCacheEntry is one (IPv4 -> link address) binding with the clock time it
// was learned. Expiration is lazy: lookup treats an overage entry as a miss.
type arpCacheEntry struct {
	ip         [4]byte
	hw         [6]byte
	insertedAt int64
	used       bool
}

// arpCache is a bounded table of ARP bindings. It is not safe for concurrent
// use on its own; callers serialize access through the ARP lock (see
// [ARPState]).
type arpCache struct {
	entries []arpCacheEntry
	ttl     int64
}

func newARPCache(capacity int, ttlSeconds int64) arpCache {
	return arpCache{entries: make([]arpCacheEntry, capacity), ttl: ttlSeconds}
}

// lookup returns a non-expired binding for ip, or ok=false on a miss or an
// expired entry.
func (c *arpCache) lookup(ip [4]byte, now int64) (hw [6]byte, ok bool) {
	for i := range c.entries {
		e := &c.entries[i]
		if !e.used || e.ip != ip {
			continue
		}
		if now-e.insertedAt >= c.ttl {
			return hw, false // expired: treat as miss.
		}
		return e.hw, true
	}
	return hw, false
}

// insert creates or refreshes a binding. It reports full if the cache has no
// free or expired slot to reuse.
func (c *arpCache) insert(ip [4]byte, hw [6]byte, now int64) (full bool) {
	freeIdx := -1
	for i := range c.entries {
		e := &c.entries[i]
		if e.used && e.ip == ip {
			e.hw = hw
			e.insertedAt = now
			return false
		}
		if freeIdx < 0 && (!e.used || now-e.insertedAt >= c.ttl) {
			freeIdx = i
		}
	}
	if freeIdx < 0 {
		return true
	}
	c.entries[freeIdx] = arpCacheEntry{ip: ip, hw: hw, insertedAt: now, used: true}
	return false
}

// sweepExpired removes entries older than the TTL. Called by the retry
// worker; lookup already treats expired entries as misses on its own, this
// just reclaims the slots proactively.
func (c *arpCache) sweepExpired(now int64) {
	for i := range c.entries {
		e := &c.entries[i]
		if e.used && now-e.insertedAt >= c.ttl {
			*e = arpCacheEntry{}
		}
	}
}
