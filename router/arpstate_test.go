package router

import "testing"

func TestARPStateResolvePendingDrainsAtomically(t *testing.T) {
	s := NewARPState(16, 15)
	ip := [4]byte{10, 0, 0, 1}
	hw := [6]byte{1, 2, 3, 4, 5, 6}
	iface := &Interface{Name: "eth0"}

	entry, created := s.AddPending(ip, iface)
	if !created {
		t.Fatal("expected new pending entry")
	}
	s.AttachFrame(entry, iface, []byte{1, 2, 3})
	s.AttachFrame(entry, iface, []byte{4, 5, 6})

	withheld, egress, found := s.ResolvePending(ip, hw, 0)
	if !found {
		t.Fatal("expected ResolvePending to find the pending entry")
	}
	if egress != iface {
		t.Fatal("expected egress iface to match")
	}
	if len(withheld) != 2 {
		t.Fatalf("want 2 withheld frames, got %d", len(withheld))
	}

	// The cache entry must exist and the pending entry must be gone: they
	// never coexist for the same IP.
	if _, ok := s.LookupCache(ip, 0); !ok {
		t.Fatal("expected ARP binding to be inserted by ResolvePending")
	}
	if _, ok := s.LookupPending(ip); ok {
		t.Fatal("expected pending entry to be dropped by ResolvePending")
	}
}

func TestARPStateResolvePendingWithoutPriorRequest(t *testing.T) {
	s := NewARPState(16, 15)
	ip := [4]byte{10, 0, 0, 2}
	hw := [6]byte{1, 2, 3, 4, 5, 6}

	_, _, found := s.ResolvePending(ip, hw, 0)
	if found {
		t.Fatal("expected no pending entry to be found")
	}
	// An unsolicited reply still populates the cache.
	if _, ok := s.LookupCache(ip, 0); !ok {
		t.Fatal("expected unsolicited reply to still populate the cache")
	}
}

func TestARPStateSweepRetransmitsThenExpires(t *testing.T) {
	s := NewARPState(16, 15)
	ip := [4]byte{10, 0, 0, 3}
	iface := &Interface{Name: "eth0"}
	entry, _ := s.AddPending(ip, iface)
	s.AttachFrame(entry, iface, []byte{9, 9, 9})

	const periodSeconds = int64(1)
	var now int64
	for i := 0; i < MaxARPRetries; i++ {
		now += periodSeconds
		actions := s.Sweep(now, periodSeconds)
		if len(actions) != 1 {
			t.Fatalf("sweep %d: want 1 action, got %d", i, len(actions))
		}
		if !actions[0].Retransmit {
			t.Fatalf("sweep %d: expected retransmit, entry should not yet be exhausted", i)
		}
	}

	now += periodSeconds
	actions := s.Sweep(now, periodSeconds)
	if len(actions) != 1 {
		t.Fatalf("final sweep: want 1 action, got %d", len(actions))
	}
	if actions[0].Retransmit {
		t.Fatal("expected the entry to be expired, not retransmitted, after MaxARPRetries")
	}
	if len(actions[0].Withheld) != 1 {
		t.Fatalf("want 1 withheld frame returned, got %d", len(actions[0].Withheld))
	}
	if _, ok := s.LookupPending(ip); ok {
		t.Fatal("expected pending entry to be gone after exhausting retries")
	}
}
