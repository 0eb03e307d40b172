package router

import (
	"testing"

	"github.com/soypat/ip4rt"
	"github.com/soypat/ip4rt/ethernet"
	"github.com/soypat/ip4rt/ipv4"
	"github.com/soypat/ip4rt/ipv4/icmpv4"
)

func buildTriggerDatagram(t *testing.T, srcIP, dstIP [4]byte, ttl uint8, body []byte) ipv4.Frame {
	t.Helper()
	buf := make([]byte, 20+len(body))
	ifrm, err := ipv4.NewFrame(buf)
	if err != nil {
		t.Fatal(err)
	}
	ifrm.SetVersionAndIHL(4, 5)
	ifrm.SetTotalLength(uint16(len(buf)))
	ifrm.SetTTL(ttl)
	ifrm.SetProtocol(ip4rt.IPProtoUDP)
	*ifrm.SourceAddr() = srcIP
	*ifrm.DestinationAddr() = dstIP
	copy(ifrm.Payload(), body)
	ifrm.SetCRC(ifrm.CalculateHeaderCRC())
	return ifrm
}

func TestSendEchoReplyPreservesIdentifierSeqAndPayload(t *testing.T) {
	iface, ct := newTestInterface("eth0", [6]byte{1, 1, 1, 1, 1, 1}, [4]byte{10, 0, 0, 1})
	peerHW := [6]byte{2, 2, 2, 2, 2, 2}
	peerIP := [4]byte{10, 0, 0, 2}

	data := []byte("ping-payload")
	triggerBuf := make([]byte, 20+8+len(data))
	ifrm, _ := ipv4.NewFrame(triggerBuf)
	ifrm.SetVersionAndIHL(4, 5)
	ifrm.SetTotalLength(uint16(len(triggerBuf)))
	*ifrm.SourceAddr() = peerIP
	*ifrm.DestinationAddr() = iface.IPAddr
	icfrm, _ := icmpv4.NewFrame(ifrm.Payload())
	icfrm.SetType(icmpv4.TypeEcho)
	echoPayload := icfrm.Payload()
	echoPayload[0], echoPayload[1] = 0x12, 0x34
	echoPayload[2], echoPayload[3] = 0x00, 0x07
	copy(echoPayload[4:], data)

	req := icmpv4.FrameEcho{Frame: icfrm}
	if err := sendEchoReply(iface, peerHW, ifrm, req); err != nil {
		t.Fatal(err)
	}
	if len(ct.sent) != 1 {
		t.Fatalf("want 1 frame sent, got %d", len(ct.sent))
	}

	replyEfrm, _ := ethernet.NewFrame(ct.sent[0])
	replyIfrm, _ := ipv4.NewFrame(replyEfrm.Payload())
	replyIcfrm, _ := icmpv4.NewFrame(replyIfrm.Payload())
	replyEcho := icmpv4.FrameEcho{Frame: replyIcfrm}

	if replyIcfrm.Type() != icmpv4.TypeEchoReply {
		t.Errorf("want echo reply type, got %v", replyIcfrm.Type())
	}
	if replyEcho.Identifier() != 0x1234 {
		t.Errorf("want identifier 0x1234, got %#x", replyEcho.Identifier())
	}
	if replyEcho.SequenceNumber() != 7 {
		t.Errorf("want sequence 7, got %d", replyEcho.SequenceNumber())
	}
	if string(replyEcho.Data()) != string(data) {
		t.Errorf("want payload %q, got %q", data, replyEcho.Data())
	}
	if *replyIfrm.DestinationAddr() != peerIP {
		t.Errorf("want reply addressed back to %v, got %v", peerIP, *replyIfrm.DestinationAddr())
	}
}

func TestSendDestUnreachableQuotesTriggeringDatagram(t *testing.T) {
	iface, ct := newTestInterface("eth0", [6]byte{1, 1, 1, 1, 1, 1}, [4]byte{10, 0, 0, 1})
	peerHW := [6]byte{2, 2, 2, 2, 2, 2}
	peerIP := [4]byte{10, 0, 0, 2}

	body := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0xFF, 0xFF}
	trigger := buildTriggerDatagram(t, peerIP, iface.IPAddr, 64, body)

	if err := sendDestUnreachable(iface, peerHW, trigger, icmpv4.CodePortUnreachable); err != nil {
		t.Fatal(err)
	}
	if len(ct.sent) != 1 {
		t.Fatalf("want 1 frame sent, got %d", len(ct.sent))
	}
	efrm, _ := ethernet.NewFrame(ct.sent[0])
	ifrm, _ := ipv4.NewFrame(efrm.Payload())
	icfrm, _ := icmpv4.NewFrame(ifrm.Payload())

	if icfrm.Type() != icmpv4.TypeDestinationUnreachable {
		t.Errorf("want dest-unreachable type, got %v", icfrm.Type())
	}
	if icfrm.Code() != uint8(icmpv4.CodePortUnreachable) {
		t.Errorf("want port-unreachable code, got %d", icfrm.Code())
	}
	quoted := icfrm.Payload()[4:]
	wantQuote := trigger.RawData()
	if len(wantQuote) > quotedLen {
		wantQuote = wantQuote[:quotedLen]
	}
	if string(quoted) != string(wantQuote) {
		t.Errorf("want quoted datagram %x, got %x", wantQuote, quoted)
	}
}

func TestSendTimeExceeded(t *testing.T) {
	iface, ct := newTestInterface("eth0", [6]byte{1, 1, 1, 1, 1, 1}, [4]byte{10, 0, 0, 1})
	peerHW := [6]byte{2, 2, 2, 2, 2, 2}
	peerIP := [4]byte{10, 0, 0, 2}

	trigger := buildTriggerDatagram(t, peerIP, [4]byte{20, 0, 0, 9}, 1, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	if err := sendTimeExceeded(iface, peerHW, trigger); err != nil {
		t.Fatal(err)
	}
	efrm, _ := ethernet.NewFrame(ct.sent[0])
	ifrm, _ := ipv4.NewFrame(efrm.Payload())
	icfrm, _ := icmpv4.NewFrame(ifrm.Payload())
	if icfrm.Type() != icmpv4.TypeTimeExceeded {
		t.Errorf("want time-exceeded type, got %v", icfrm.Type())
	}
	if icfrm.Code() != uint8(icmpv4.CodeExceededInTransit) {
		t.Errorf("want exceeded-in-transit code, got %d", icfrm.Code())
	}
}

func TestQuoteDatagramTruncatesToQuotedLen(t *testing.T) {
	body := make([]byte, 100)
	for i := range body {
		body[i] = byte(i)
	}
	trigger := buildTriggerDatagram(t, [4]byte{1, 1, 1, 1}, [4]byte{2, 2, 2, 2}, 64, body)
	quote := quoteDatagram(trigger)
	if len(quote) != quotedLen {
		t.Fatalf("want %d quoted bytes, got %d", quotedLen, len(quote))
	}
}

func TestQuoteDatagramShorterThanQuotedLen(t *testing.T) {
	trigger := buildTriggerDatagram(t, [4]byte{1, 1, 1, 1}, [4]byte{2, 2, 2, 2}, 64, []byte{1, 2})
	quote := quoteDatagram(trigger)
	if len(quote) != len(trigger.RawData()) {
		t.Fatalf("want quote to cover the whole short datagram (%d bytes), got %d", len(trigger.RawData()), len(quote))
	}
}
