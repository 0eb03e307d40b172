package router

import (
	"context"
	"time"

	"github.com/soypat/ip4rt/ethernet"
	"github.com/soypat/ip4rt/ipv4"
	"github.com/soypat/ip4rt/ipv4/icmpv4"
)

// RetryPeriod is the retry worker's sweep interval (spec §4.7).
const RetryPeriod = time.Second

// RunRetryWorker runs the periodic pending-ARP sweep until ctx is cancelled.
// Each tick, every pending entry whose last send is at least RetryPeriod old
// is either retransmitted (send count incremented) or, once it has already
// reached MaxARPRetries, dropped with a host-unreachable ICMP emitted toward
// the source of each of its withheld frames (spec §4.6's pending-ARP state
// machine and §4.7).
func (r *Router) RunRetryWorker(ctx context.Context) {
	ticker := time.NewTicker(RetryPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepOnce()
		}
	}
}

func (r *Router) sweepOnce() {
	now := r.Clock.Now()
	actions := r.ARP.Sweep(now, int64(RetryPeriod/time.Second))

	pending := 0
	for _, action := range actions {
		if action.Retransmit {
			pending++
			if err := sendARPRequest(action.Iface, action.TargetIP); err != nil {
				r.Log.warn("arp retry send failed")
			}
			continue
		}
		r.Log.debug("arp resolution exhausted, dropping pending entry")
		arpResolutionsExhausted.Inc()
		for _, wf := range action.Withheld {
			r.expireWithheld(wf)
		}
	}
	arpPendingDepth.Set(float64(pending))
}

// expireWithheld emits a host-unreachable ICMP back toward the original
// sender of a withheld frame whose ARP resolution was abandoned.
func (r *Router) expireWithheld(wf withheldFrame) {
	efrm, err := ethernet.NewFrame(wf.data)
	if err != nil {
		return
	}
	ifrm, err := ipv4.NewFrame(efrm.Payload())
	if err != nil {
		return
	}
	ethSrc := *efrm.SourceHardwareAddr()
	sendDestUnreachable(wf.ingress, ethSrc, ifrm, icmpv4.CodeHostUnreachable)
}
