package router

import (
	"testing"

	"github.com/soypat/ip4rt"
	"github.com/soypat/ip4rt/arp"
	"github.com/soypat/ip4rt/ethernet"
	"github.com/soypat/ip4rt/internal/ltesto"
	"github.com/soypat/ip4rt/ipv4"
	"github.com/soypat/ip4rt/ipv4/icmpv4"
)

// captureTransport records every frame it's asked to send.
type captureTransport struct {
	sent [][]byte
	err  error
}

func (c *captureTransport) Send(buf []byte) error {
	if c.err != nil {
		return c.err
	}
	cp := make([]byte, len(buf))
	copy(cp, buf)
	c.sent = append(c.sent, cp)
	return nil
}

type fakeClock struct{ now int64 }

func (c fakeClock) Now() int64 { return c.now }

func newTestInterface(name string, hw [6]byte, ip [4]byte) (*Interface, *captureTransport) {
	ct := &captureTransport{}
	return &Interface{Name: name, HWAddr: hw, IPAddr: ip, Transport: ct}, ct
}

func buildEthIPv4(t *testing.T, dstMAC, srcMAC [6]byte, dstIP, srcIP [4]byte, ttl uint8, etype ethernet.Type, payload []byte) []byte {
	t.Helper()
	buf := make([]byte, 14+20+len(payload))
	efrm, err := ethernet.NewFrame(buf)
	if err != nil {
		t.Fatal(err)
	}
	*efrm.DestinationHardwareAddr() = dstMAC
	*efrm.SourceHardwareAddr() = srcMAC
	efrm.SetEtherType(etype)

	ifrm, err := ipv4.NewFrame(efrm.Payload())
	if err != nil {
		t.Fatal(err)
	}
	ifrm.SetVersionAndIHL(4, 5)
	ifrm.SetTotalLength(uint16(20 + len(payload)))
	ifrm.SetTTL(ttl)
	ifrm.SetProtocol(ip4rt.IPProtoUDP)
	*ifrm.SourceAddr() = srcIP
	*ifrm.DestinationAddr() = dstIP
	copy(ifrm.Payload(), payload)
	ifrm.SetCRC(0)
	ifrm.SetCRC(ifrm.CalculateHeaderCRC())
	return buf
}

// buildICMPEcho builds a well-formed echo request using the shared test
// packet generator (see [ltesto.PacketGen]) instead of a second hand-rolled
// echo builder.
func buildICMPEcho(t *testing.T, dstMAC, srcMAC [6]byte, dstIP, srcIP [4]byte, ttl uint8, id, seq uint16, data []byte) []byte {
	t.Helper()
	gen := ltesto.PacketGen{SrcMAC: srcMAC, DstMAC: dstMAC, SrcIPv4: srcIP, DstIPv4: dstIP}
	return gen.AppendEchoRequest(nil, ttl, id, seq, data)
}

func TestProcessFrameEchoRequestToSelf(t *testing.T) {
	selfHW := [6]byte{1, 1, 1, 1, 1, 1}
	selfIP := [4]byte{10, 0, 0, 1}
	peerHW := [6]byte{2, 2, 2, 2, 2, 2}
	peerIP := [4]byte{10, 0, 0, 2}

	iface, ct := newTestInterface("eth0", selfHW, selfIP)
	r := NewRouter([]*Interface{iface}, NewRoutingTable(nil), NewARPState(16, 15), fakeClock{}, nil)

	frame := buildICMPEcho(t, selfHW, peerHW, selfIP, peerIP, 64, 0x1234, 1, []byte("hello"))
	result := r.ProcessFrame(iface, frame)
	if result != ResultOK {
		t.Fatalf("want ResultOK, got %v", result)
	}
	if len(ct.sent) != 1 {
		t.Fatalf("want 1 reply sent, got %d", len(ct.sent))
	}
	reply := ct.sent[0]
	efrm, err := ethernet.NewFrame(reply)
	if err != nil {
		t.Fatal(err)
	}
	ifrm, err := ipv4.NewFrame(efrm.Payload())
	if err != nil {
		t.Fatal(err)
	}
	icfrm, err := icmpv4.NewFrame(ifrm.Payload())
	if err != nil {
		t.Fatal(err)
	}
	if icfrm.Type() != icmpv4.TypeEchoReply {
		t.Errorf("want echo reply type, got %v", icfrm.Type())
	}
	if *ifrm.DestinationAddr() != peerIP {
		t.Errorf("want reply addressed to %v, got %v", peerIP, *ifrm.DestinationAddr())
	}
}

func TestProcessFrameEchoAtTTL1WinsOverTimeExceeded(t *testing.T) {
	// Boundary behaviour (spec §8): a TTL=1 echo request addressed to the
	// router itself gets an echo reply, not a time-exceeded message, since
	// locally terminated packets are never decremented.
	selfHW := [6]byte{1, 1, 1, 1, 1, 1}
	selfIP := [4]byte{10, 0, 0, 1}
	peerHW := [6]byte{2, 2, 2, 2, 2, 2}
	peerIP := [4]byte{10, 0, 0, 2}

	iface, ct := newTestInterface("eth0", selfHW, selfIP)
	r := NewRouter([]*Interface{iface}, NewRoutingTable(nil), NewARPState(16, 15), fakeClock{}, nil)

	frame := buildICMPEcho(t, selfHW, peerHW, selfIP, peerIP, 1, 1, 1, nil)
	r.ProcessFrame(iface, frame)
	if len(ct.sent) != 1 {
		t.Fatalf("want 1 reply sent, got %d", len(ct.sent))
	}
	ifrm, _ := ipv4.NewFrame(mustEthPayload(t, ct.sent[0]))
	icfrm, _ := icmpv4.NewFrame(ifrm.Payload())
	if icfrm.Type() != icmpv4.TypeEchoReply {
		t.Fatalf("want echo reply even at TTL 1, got type %v", icfrm.Type())
	}
}

func TestProcessFrameAddressedToOtherOwnInterface(t *testing.T) {
	hwA := [6]byte{1, 1, 1, 1, 1, 1}
	ipA := [4]byte{10, 0, 0, 1}
	hwB := [6]byte{2, 2, 2, 2, 2, 2}
	ipB := [4]byte{10, 0, 1, 1}
	peerHW := [6]byte{3, 3, 3, 3, 3, 3}
	peerIP := [4]byte{10, 0, 0, 2}

	ifaceA, ctA := newTestInterface("eth0", hwA, ipA)
	ifaceB, _ := newTestInterface("eth1", hwB, ipB)
	r := NewRouter([]*Interface{ifaceA, ifaceB}, NewRoutingTable(nil), NewARPState(16, 15), fakeClock{}, nil)

	// Frame arrives on ifaceA but is addressed to ifaceB's own IP.
	frame := buildEthIPv4(t, hwA, peerHW, ipB, peerIP, 64, ethernet.TypeIPv4, []byte{0, 0, 0, 0})
	result := r.ProcessFrame(ifaceA, frame)
	if result != ResultOK {
		t.Fatalf("want ResultOK, got %v", result)
	}
	if len(ctA.sent) != 1 {
		t.Fatalf("want a host-unreachable reply on the ingress interface, got %d frames", len(ctA.sent))
	}
	ifrm, _ := ipv4.NewFrame(mustEthPayload(t, ctA.sent[0]))
	icfrm, _ := icmpv4.NewFrame(ifrm.Payload())
	if icfrm.Type() != icmpv4.TypeDestinationUnreachable || icfrm.Code() != uint8(icmpv4.CodeHostUnreachable) {
		t.Errorf("want dest-unreachable/host-unreachable, got type=%v code=%d", icfrm.Type(), icfrm.Code())
	}
}

func TestProcessFrameForwardWithARPCacheHit(t *testing.T) {
	selfHW := [6]byte{1, 1, 1, 1, 1, 1}
	selfIP := [4]byte{10, 0, 0, 1}
	peerHW := [6]byte{9, 9, 9, 9, 9, 9}
	peerIP := [4]byte{10, 0, 0, 2}
	nextHopHW := [6]byte{5, 5, 5, 5, 5, 5}
	dstIP := [4]byte{20, 0, 0, 5}

	egress, ctEgress := newTestInterface("eth1", [6]byte{2, 2, 2, 2, 2, 2}, [4]byte{30, 0, 0, 1})
	ingress, _ := newTestInterface("eth0", selfHW, selfIP)

	d, m := mustCIDR(t, [4]byte{20, 0, 0, 0}, 8)
	rt := NewRoutingTable([]RoutingEntry{{Destination: d, Mask: m, Gateway: [4]byte{}, Iface: egress}})

	arpState := NewARPState(16, 15)
	arpState.InsertCache(dstIP, nextHopHW, 0)

	r := NewRouter([]*Interface{ingress, egress}, rt, arpState, fakeClock{now: 0}, nil)

	frame := buildEthIPv4(t, selfHW, peerHW, dstIP, peerIP, 10, ethernet.TypeIPv4, []byte{1, 2, 3, 4})
	result := r.ProcessFrame(ingress, frame)
	if result != ResultOK {
		t.Fatalf("want ResultOK, got %v", result)
	}
	if len(ctEgress.sent) != 1 {
		t.Fatalf("want 1 forwarded frame on egress, got %d", len(ctEgress.sent))
	}
	fwdEfrm, _ := ethernet.NewFrame(ctEgress.sent[0])
	if *fwdEfrm.DestinationHardwareAddr() != nextHopHW {
		t.Errorf("want forwarded frame addressed to resolved next hop %v, got %v", nextHopHW, *fwdEfrm.DestinationHardwareAddr())
	}
	fwdIfrm, _ := ipv4.NewFrame(fwdEfrm.Payload())
	if fwdIfrm.TTL() != 9 {
		t.Errorf("want TTL decremented to 9, got %d", fwdIfrm.TTL())
	}
}

func TestProcessFrameForwardNoRouteSendsNetUnreachable(t *testing.T) {
	selfHW := [6]byte{1, 1, 1, 1, 1, 1}
	selfIP := [4]byte{10, 0, 0, 1}
	peerHW := [6]byte{9, 9, 9, 9, 9, 9}
	peerIP := [4]byte{10, 0, 0, 2}
	dstIP := [4]byte{8, 8, 8, 8}

	ingress, ct := newTestInterface("eth0", selfHW, selfIP)
	r := NewRouter([]*Interface{ingress}, NewRoutingTable(nil), NewARPState(16, 15), fakeClock{}, nil)

	frame := buildEthIPv4(t, selfHW, peerHW, dstIP, peerIP, 10, ethernet.TypeIPv4, nil)
	r.ProcessFrame(ingress, frame)
	if len(ct.sent) != 1 {
		t.Fatalf("want 1 reply, got %d", len(ct.sent))
	}
	ifrm, _ := ipv4.NewFrame(mustEthPayload(t, ct.sent[0]))
	icfrm, _ := icmpv4.NewFrame(ifrm.Payload())
	if icfrm.Code() != uint8(icmpv4.CodeNetUnreachable) {
		t.Errorf("want net-unreachable code, got %d", icfrm.Code())
	}
}

func TestProcessFrameForwardARPMissParksFrame(t *testing.T) {
	selfHW := [6]byte{1, 1, 1, 1, 1, 1}
	selfIP := [4]byte{10, 0, 0, 1}
	peerHW := [6]byte{9, 9, 9, 9, 9, 9}
	peerIP := [4]byte{10, 0, 0, 2}
	dstIP := [4]byte{20, 0, 0, 5}

	egress, ctEgress := newTestInterface("eth1", [6]byte{2, 2, 2, 2, 2, 2}, [4]byte{30, 0, 0, 1})
	ingress, _ := newTestInterface("eth0", selfHW, selfIP)

	d, m := mustCIDR(t, [4]byte{20, 0, 0, 0}, 8)
	rt := NewRoutingTable([]RoutingEntry{{Destination: d, Mask: m, Iface: egress}})
	arpState := NewARPState(16, 15)

	r := NewRouter([]*Interface{ingress, egress}, rt, arpState, fakeClock{}, nil)
	frame := buildEthIPv4(t, selfHW, peerHW, dstIP, peerIP, 10, ethernet.TypeIPv4, []byte{7, 7})

	result := r.ProcessFrame(ingress, frame)
	if result != ResultOK {
		t.Fatalf("want ResultOK, got %v", result)
	}
	if len(ctEgress.sent) != 1 {
		t.Fatalf("want 1 ARP request emitted on egress, got %d", len(ctEgress.sent))
	}
	afrm, err := arp.NewFrame(mustEthPayload(t, ctEgress.sent[0]))
	if err != nil {
		t.Fatal(err)
	}
	if afrm.Operation() != arp.OpRequest {
		t.Errorf("want ARP request, got operation %v", afrm.Operation())
	}
	if _, ok := arpState.LookupPending(dstIP); !ok {
		t.Fatal("expected a pending-ARP entry to be parked for the unresolved destination")
	}
}

func TestProcessFrameARPReplyDrainsPendingFrame(t *testing.T) {
	selfHW := [6]byte{1, 1, 1, 1, 1, 1}
	selfIP := [4]byte{10, 0, 0, 1}
	peerHW := [6]byte{9, 9, 9, 9, 9, 9}
	peerIP := [4]byte{10, 0, 0, 2}
	dstIP := [4]byte{20, 0, 0, 5}
	nextHopHW := [6]byte{5, 5, 5, 5, 5, 5}

	egress, ctEgress := newTestInterface("eth1", [6]byte{2, 2, 2, 2, 2, 2}, [4]byte{30, 0, 0, 1})
	ingress, _ := newTestInterface("eth0", selfHW, selfIP)

	d, m := mustCIDR(t, [4]byte{20, 0, 0, 0}, 8)
	rt := NewRoutingTable([]RoutingEntry{{Destination: d, Mask: m, Iface: egress}})
	arpState := NewARPState(16, 15)
	r := NewRouter([]*Interface{ingress, egress}, rt, arpState, fakeClock{}, nil)

	// Park a frame waiting on ARP resolution for dstIP.
	frame := buildEthIPv4(t, selfHW, peerHW, dstIP, peerIP, 10, ethernet.TypeIPv4, []byte{7, 7})
	r.ProcessFrame(ingress, frame)
	ctEgress.sent = nil // discard the ARP request we just observed

	// Now deliver the ARP reply on egress.
	arpReply := buildARPReply(t, egress.HWAddr, nextHopHW, egress.IPAddr, dstIP, egress.HWAddr)
	result := r.ProcessFrame(egress, arpReply)
	if result != ResultOK {
		t.Fatalf("want ResultOK, got %v", result)
	}
	if len(ctEgress.sent) != 1 {
		t.Fatalf("want the parked frame to be forwarded after ARP resolves, got %d frames", len(ctEgress.sent))
	}
	fwdEfrm, _ := ethernet.NewFrame(ctEgress.sent[0])
	if *fwdEfrm.DestinationHardwareAddr() != nextHopHW {
		t.Errorf("want drained frame addressed to resolved next hop")
	}
}

func TestProcessFrameARPRequestToSelfReplied(t *testing.T) {
	selfHW := [6]byte{1, 1, 1, 1, 1, 1}
	selfIP := [4]byte{10, 0, 0, 1}
	peerHW := [6]byte{9, 9, 9, 9, 9, 9}
	peerIP := [4]byte{10, 0, 0, 2}

	iface, ct := newTestInterface("eth0", selfHW, selfIP)
	r := NewRouter([]*Interface{iface}, NewRoutingTable(nil), NewARPState(16, 15), fakeClock{}, nil)

	req := buildARPRequest(t, peerHW, peerIP, selfIP)
	r.ProcessFrame(iface, req)
	if len(ct.sent) != 1 {
		t.Fatalf("want 1 ARP reply, got %d", len(ct.sent))
	}
	afrm, err := arp.NewFrame(mustEthPayload(t, ct.sent[0]))
	if err != nil {
		t.Fatal(err)
	}
	if afrm.Operation() != arp.OpReply {
		t.Errorf("want ARP reply operation, got %v", afrm.Operation())
	}
	senderHW, senderIP := afrm.Sender4()
	if *senderHW != selfHW || *senderIP != selfIP {
		t.Errorf("want reply sender = self (%v,%v), got (%v,%v)", selfHW, selfIP, *senderHW, *senderIP)
	}
}

func buildARPRequest(t *testing.T, senderHW [6]byte, senderIP, targetIP [4]byte) []byte {
	t.Helper()
	buf := make([]byte, 14+28)
	efrm, _ := ethernet.NewFrame(buf)
	*efrm.DestinationHardwareAddr() = ethernet.BroadcastAddr()
	*efrm.SourceHardwareAddr() = senderHW
	efrm.SetEtherType(ethernet.TypeARP)

	afrm, _ := arp.NewFrame(efrm.Payload())
	afrm.SetHardware(1, 6)
	afrm.SetProtocol(ethernet.TypeIPv4, 4)
	afrm.SetOperation(arp.OpRequest)
	sHW, sIP := afrm.Sender4()
	*sHW = senderHW
	*sIP = senderIP
	_, tIP := afrm.Target4()
	*tIP = targetIP
	return buf
}

func buildARPReply(t *testing.T, dstMAC, senderHW [6]byte, targetIP, senderIP [4]byte, requesterMAC [6]byte) []byte {
	t.Helper()
	buf := make([]byte, 14+28)
	efrm, _ := ethernet.NewFrame(buf)
	*efrm.DestinationHardwareAddr() = dstMAC
	*efrm.SourceHardwareAddr() = senderHW
	efrm.SetEtherType(ethernet.TypeARP)

	afrm, _ := arp.NewFrame(efrm.Payload())
	afrm.SetHardware(1, 6)
	afrm.SetProtocol(ethernet.TypeIPv4, 4)
	afrm.SetOperation(arp.OpReply)
	sHW, sIP := afrm.Sender4()
	*sHW = senderHW
	*sIP = senderIP
	tHW, tIP := afrm.Target4()
	*tHW = requesterMAC
	*tIP = targetIP
	return buf
}

func mustEthPayload(t *testing.T, frame []byte) []byte {
	t.Helper()
	efrm, err := ethernet.NewFrame(frame)
	if err != nil {
		t.Fatal(err)
	}
	return efrm.Payload()
}
