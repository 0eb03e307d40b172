package router

import (
	"log/slog"

	"github.com/soypat/ip4rt"
	"github.com/soypat/ip4rt/arp"
	"github.com/soypat/ip4rt/ethernet"
	"github.com/soypat/ip4rt/internal"
	"github.com/soypat/ip4rt/ipv4"
	"github.com/soypat/ip4rt/ipv4/icmpv4"
)

const sizeHeaderARPv4 = 28

// Result is process_frame's return code convention from spec §6: 0 on
// success (including silent drops), 1 on a recoverable error (this frame is
// abandoned, processing continues), -1 on a fatal error (the router should
// shut down).
type Result int

const (
	ResultOK          Result = 0
	ResultRecoverable Result = 1
	ResultFatal       Result = -1
)

// DefaultARPCacheCapacity and DefaultARPCacheTTLSeconds are the defaults
// named in spec §3 ("typically 15 s").
const (
	DefaultARPCacheCapacity   = 256
	DefaultARPCacheTTLSeconds = 15
)

// Router is the per-router context: its own interfaces, its immutable
// routing table, and the mutex-guarded ARP state. Multiple Router values may
// coexist (spec §9: "no global/process state").
type Router struct {
	Interfaces []*Interface
	RTable     RoutingTable
	ARP        *ARPState
	Clock      Clock
	Log        *logger
}

// NewRouter builds a Router ready to call ProcessFrame on. log may be nil,
// in which case slog.Default() is used.
func NewRouter(ifaces []*Interface, rtable RoutingTable, arpState *ARPState, clock Clock, log *slog.Logger) *Router {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Router{
		Interfaces: ifaces,
		RTable:     rtable,
		ARP:        arpState,
		Clock:      clock,
		Log:        newLogger(log),
	}
}

func (r *Router) interfaceByIP(ip [4]byte) *Interface {
	for _, iface := range r.Interfaces {
		if iface.IPAddr == ip {
			return iface
		}
	}
	return nil
}

// ProcessFrame implements the dispatcher decision tree of spec §4.6. It
// never retains frame after returning; callers needing it to outlive the
// call must deep-copy first.
func (r *Router) ProcessFrame(ingress *Interface, frame []byte) (result Result) {
	defer func() { framesProcessed.WithLabelValues(resultLabel(result)).Inc() }()

	efrm, err := ethernet.NewFrame(frame)
	if err != nil {
		r.Log.debug("short ethernet frame")
		return ResultOK
	}
	var v ip4rt.Validator
	efrm.ValidateSize(&v)
	if v.HasError() {
		r.Log.debug("malformed ethernet frame", internal.SlogAddr6("iface", &ingress.HWAddr))
		return ResultOK
	}

	switch efrm.EtherTypeOrSize() {
	case ethernet.TypeIPv4:
		return r.processIPv4(ingress, efrm)
	case ethernet.TypeARP:
		return r.processARP(ingress, efrm)
	default:
		// Includes IPv6: spec §9 flags the original's "treat IPv6 like
		// IPv4" behaviour as almost certainly a bug, and recommends
		// dropping it silently instead of reproducing the quirk.
		return ResultOK
	}
}

func (r *Router) processIPv4(ingress *Interface, efrm ethernet.Frame) Result {
	ifrm, err := ipv4.NewFrame(efrm.Payload())
	if err != nil {
		r.Log.debug("short ipv4 frame")
		return ResultOK
	}
	var v ip4rt.Validator
	ifrm.ValidateExceptCRC(&v)
	if v.HasError() {
		r.Log.debug("malformed ipv4 frame")
		return ResultOK
	}

	dst := *ifrm.DestinationAddr()
	ethSrc := *efrm.SourceHardwareAddr()
	r.Log.trace("ipv4 frame received", internal.SlogAddr4("dst", &dst))

	if dst == ingress.IPAddr {
		return r.processLocal(ingress, ethSrc, ifrm)
	}
	if other := r.interfaceByIP(dst); other != nil {
		return r.replyOrRecoverable(sendDestUnreachable(ingress, ethSrc, ifrm, icmpv4.CodeHostUnreachable))
	}
	return r.forwardOrPark(ingress, ethSrc, efrm, ifrm)
}

// processLocal handles a datagram addressed to the ingress interface itself.
//
// The ICMP-echo check is evaluated before the TTL==1 check so that a packet
// with TTL 1 destined for the router answers with an echo reply rather than
// a time-exceeded message — locally-terminated packets are never
// TTL-decremented, per the boundary behaviour in spec §8. (This is an
// apparent tension with the §4.6 pseudocode's literal ordering, which checks
// TTL before the ICMP-echo branch; the explicit boundary-behaviour scenario
// is taken as authoritative.)
func (r *Router) processLocal(ingress *Interface, ethSrc [6]byte, ifrm ipv4.Frame) Result {
	proto := ifrm.Protocol()
	if proto == ip4rt.IPProtoTCP || proto == ip4rt.IPProtoUDP {
		return r.replyOrRecoverable(sendDestUnreachable(ingress, ethSrc, ifrm, icmpv4.CodePortUnreachable))
	}
	if proto == ip4rt.IPProtoICMP {
		icfrm, err := icmpv4.NewFrame(ifrm.Payload())
		if err == nil && icfrm.Type() == icmpv4.TypeEcho {
			return r.replyOrRecoverable(sendEchoReply(ingress, ethSrc, ifrm, icmpv4.FrameEcho{Frame: icfrm}))
		}
	}
	if ifrm.TTL() == 1 {
		return r.replyOrRecoverable(sendTimeExceeded(ingress, ethSrc, ifrm))
	}
	return r.replyOrRecoverable(sendDestUnreachable(ingress, ethSrc, ifrm, icmpv4.CodeProtoUnreachable))
}

// forwardOrPark implements the forwarding path: a route lookup, an ARP cache
// lookup, and either an immediate forward or parking on the pending-ARP
// registry.
func (r *Router) forwardOrPark(ingress *Interface, ethSrc [6]byte, efrm ethernet.Frame, ifrm ipv4.Frame) Result {
	dst := *ifrm.DestinationAddr()
	entry, ok := r.RTable.Lookup(dst)
	if !ok {
		return r.replyOrRecoverable(sendDestUnreachable(ingress, ethSrc, ifrm, icmpv4.CodeNetUnreachable))
	}
	next := NextHop(entry, dst)
	now := r.Clock.Now()

	linkAddr, ok := r.ARP.LookupCache(next, now)
	if !ok {
		pending, created := r.ARP.AddPending(next, entry.Iface)
		r.ARP.AttachFrame(pending, ingress, efrm.RawData())
		if created {
			r.ARP.MarkSent(pending, now)
			return r.replyOrRecoverable(sendARPRequest(entry.Iface, next))
		}
		return ResultOK
	}

	if ifrm.TTL() == 1 {
		return r.replyOrRecoverable(sendTimeExceeded(ingress, ethSrc, ifrm))
	}
	return r.replyOrRecoverable(forwardFrame(efrm.RawData(), entry.Iface, linkAddr))
}

// processARP handles an inbound ARP request or reply per spec §4.6.
func (r *Router) processARP(ingress *Interface, efrm ethernet.Frame) Result {
	afrm, err := arp.NewFrame(efrm.Payload())
	if err != nil {
		r.Log.debug("short arp frame")
		return ResultOK
	}
	var v ip4rt.Validator
	afrm.ValidateSize(&v)
	if v.HasError() {
		r.Log.debug("malformed arp frame")
		return ResultOK
	}

	_, targetIP := afrm.Target4()
	if *targetIP != ingress.IPAddr {
		return ResultOK // not addressed to us: ignore
	}

	switch afrm.Operation() {
	case arp.OpReply:
		senderHW, senderIP := afrm.Sender4()
		now := r.Clock.Now()
		withheld, egress, found := r.ARP.ResolvePending(*senderIP, *senderHW, now)
		if !found {
			return ResultOK
		}
		for _, wf := range withheld {
			r.drainWithheld(wf, egress, *senderHW)
		}
		return ResultOK
	case arp.OpRequest:
		return r.replyOrRecoverable(sendARPReply(ingress, efrm, afrm))
	default:
		return ResultOK
	}
}

// drainWithheld forwards one previously-parked frame now that its next hop
// has resolved, or emits time-exceeded if its TTL had already reached 1.
func (r *Router) drainWithheld(wf withheldFrame, egress *Interface, nextHopLink [6]byte) {
	efrm, err := ethernet.NewFrame(wf.data)
	if err != nil {
		return
	}
	ifrm, err := ipv4.NewFrame(efrm.Payload())
	if err != nil {
		return
	}
	if ifrm.TTL() == 1 {
		ethSrc := *efrm.SourceHardwareAddr()
		sendTimeExceeded(wf.ingress, ethSrc, ifrm)
		return
	}
	forwardFrame(wf.data, egress, nextHopLink)
}

// forwardFrame rewrites the link header, decrements TTL, recomputes the IP
// checksum, and emits on egress. The payload beyond the IP header is left
// unchanged.
func forwardFrame(fullFrame []byte, egress *Interface, nextHopLink [6]byte) error {
	efrm, err := ethernet.NewFrame(fullFrame)
	if err != nil {
		return err
	}
	*efrm.DestinationHardwareAddr() = nextHopLink
	*efrm.SourceHardwareAddr() = egress.HWAddr

	ifrm, err := ipv4.NewFrame(efrm.Payload())
	if err != nil {
		return err
	}
	ifrm.SetTTL(ifrm.TTL() - 1)
	ifrm.SetCRC(0)
	ifrm.SetCRC(ifrm.CalculateHeaderCRC())

	if err := egress.send(fullFrame); err != nil {
		return err
	}
	framesForwarded.Inc()
	return nil
}

// sendARPRequest emits a broadcast ARP request for targetIP on egress.
func sendARPRequest(egress *Interface, targetIP [4]byte) error {
	buf := make([]byte, sizeHeaderEthNoVLAN+sizeHeaderARPv4)
	efrm, _ := ethernet.NewFrame(buf)
	*efrm.DestinationHardwareAddr() = ethernet.BroadcastAddr()
	*efrm.SourceHardwareAddr() = egress.HWAddr
	efrm.SetEtherType(ethernet.TypeARP)

	afrm, _ := arp.NewFrame(efrm.Payload())
	afrm.SetHardware(1, 6)
	afrm.SetProtocol(ethernet.TypeIPv4, 4)
	afrm.SetOperation(arp.OpRequest)
	senderHW, senderIP := afrm.Sender4()
	*senderHW = egress.HWAddr
	*senderIP = egress.IPAddr
	_, targetIPField := afrm.Target4()
	*targetIPField = targetIP

	if err := egress.send(buf); err != nil {
		return err
	}
	arpRequestsSent.Inc()
	return nil
}

// sendARPReply answers an ARP request in place, reusing the inbound buffer:
// the sender fields become ours, the target fields become the requester's.
func sendARPReply(ingress *Interface, efrm ethernet.Frame, afrm arp.Frame) error {
	requesterHW := *efrm.SourceHardwareAddr()

	afrm.SwapTargetSender()
	senderHW, _ := afrm.Sender4()
	*senderHW = ingress.HWAddr
	afrm.SetOperation(arp.OpReply)

	*efrm.DestinationHardwareAddr() = requesterHW
	*efrm.SourceHardwareAddr() = ingress.HWAddr

	return ingress.send(efrm.RawData())
}

func (r *Router) replyOrRecoverable(err error) Result {
	if err != nil {
		r.Log.warn("transport send failed")
		return ResultRecoverable
	}
	return ResultOK
}
