package router

import (
	"github.com/soypat/ip4rt"
	"github.com/soypat/ip4rt/ethernet"
	"github.com/soypat/ip4rt/ipv4"
	"github.com/soypat/ip4rt/ipv4/icmpv4"
)

const (
	sizeHeaderEthNoVLAN = 14
	sizeHeaderIPv4      = 20
	sizeHeaderICMP      = 4 // type + code + checksum
	ttlDefault          = 64

	// quotedLen is the number of bytes of the triggering IP datagram (header
	// plus leading payload) copied into a destination-unreachable or
	// time-exceeded message, per RFC 792.
	quotedLen = 28
)

// replyEnvelope carries the addressing an ICMP responder needs to build a
// reply frame without having to re-derive it from the triggering packet.
type replyEnvelope struct {
	iface  *Interface // interface to send on, and to take src addressing from
	dstMAC [6]byte    // link address of whoever should receive the reply
	dstIP  [4]byte    // IP address of whoever should receive the reply
}

// envelopeFromTrigger builds a replyEnvelope addressed back at the sender of
// the IP frame that triggered an ICMP diagnostic.
func envelopeFromTrigger(iface *Interface, ifrm ipv4.Frame, ethSrc [6]byte) replyEnvelope {
	return replyEnvelope{iface: iface, dstMAC: ethSrc, dstIP: *ifrm.SourceAddr()}
}

// buildICMP allocates a fresh Ethernet+IPv4+ICMP frame addressed per env,
// with the ICMP type/code set and its 4-byte type-specific header plus body
// filled in by fill (see [icmpv4.Frame.Payload]), and returns the complete
// wire bytes ready for Transport.Send with a correct IP and ICMP checksum.
func buildICMP(env replyEnvelope, icmpType icmpv4.Type, icmpCode uint8, bodyLen int, fill func(payload []byte)) []byte {
	icmpPayloadLen := 4 + bodyLen // 4-byte type-specific header + body
	total := sizeHeaderEthNoVLAN + sizeHeaderIPv4 + sizeHeaderICMP + icmpPayloadLen
	buf := make([]byte, total)

	efrm, _ := ethernet.NewFrame(buf)
	*efrm.DestinationHardwareAddr() = env.dstMAC
	*efrm.SourceHardwareAddr() = env.iface.HWAddr
	efrm.SetEtherType(ethernet.TypeIPv4)

	ifrm, _ := ipv4.NewFrame(efrm.Payload())
	ifrm.SetVersionAndIHL(4, 5)
	ifrm.SetToS(0)
	ifrm.SetTotalLength(uint16(sizeHeaderIPv4 + sizeHeaderICMP + icmpPayloadLen))
	ifrm.SetID(0)
	ifrm.SetFlags(0)
	ifrm.SetTTL(ttlDefault)
	ifrm.SetProtocol(ip4rt.IPProtoICMP)
	*ifrm.SourceAddr() = env.iface.IPAddr
	*ifrm.DestinationAddr() = env.dstIP
	ifrm.SetCRC(0)
	ifrm.SetCRC(ifrm.CalculateHeaderCRC())

	icfrm, _ := icmpv4.NewFrame(ifrm.Payload())
	icfrm.SetType(icmpType)
	icfrm.SetCode(icmpCode)
	fill(icfrm.Payload())
	icfrm.SetCRC(0)
	var crc ip4rt.CRC791
	icfrm.CRCWrite(&crc)
	icfrm.SetCRC(crc.Sum16())

	return buf
}

// sendEchoReply answers an ICMP echo request with a reply carrying the same
// identifier, sequence number and payload, per spec §4.5.
func sendEchoReply(iface *Interface, ethSrc [6]byte, ifrm ipv4.Frame, req icmpv4.FrameEcho) error {
	env := envelopeFromTrigger(iface, ifrm, ethSrc)
	data := req.Data()
	id, seq := req.Identifier(), req.SequenceNumber()
	buf := buildICMP(env, icmpv4.TypeEchoReply, 0, len(data), func(payload []byte) {
		binaryPutEchoHeader(payload, id, seq)
		copy(payload[4:], data)
	})
	icmpSent.WithLabelValues("echo_reply").Inc()
	return iface.send(buf)
}

// sendDestUnreachable emits an ICMP destination-unreachable message quoting
// the triggering datagram, per spec §4.5 and §4.6.
func sendDestUnreachable(iface *Interface, ethSrc [6]byte, triggerIfrm ipv4.Frame, code icmpv4.CodeDestinationUnreachable) error {
	env := envelopeFromTrigger(iface, triggerIfrm, ethSrc)
	quote := quoteDatagram(triggerIfrm)
	buf := buildICMP(env, icmpv4.TypeDestinationUnreachable, uint8(code), len(quote), func(payload []byte) {
		clear(payload[:4])
		copy(payload[4:], quote)
	})
	icmpSent.WithLabelValues("dest_unreachable").Inc()
	return iface.send(buf)
}

// sendTimeExceeded emits an ICMP time-exceeded message (TTL reached zero in
// transit), quoting the triggering datagram.
func sendTimeExceeded(iface *Interface, ethSrc [6]byte, triggerIfrm ipv4.Frame) error {
	env := envelopeFromTrigger(iface, triggerIfrm, ethSrc)
	quote := quoteDatagram(triggerIfrm)
	buf := buildICMP(env, icmpv4.TypeTimeExceeded, uint8(icmpv4.CodeExceededInTransit), len(quote), func(payload []byte) {
		clear(payload[:4])
		copy(payload[4:], quote)
	})
	icmpSent.WithLabelValues("time_exceeded").Inc()
	return iface.send(buf)
}

// quoteDatagram returns up to quotedLen bytes of the triggering IP datagram
// (its header plus leading payload octets) for inclusion in an ICMP error.
func quoteDatagram(ifrm ipv4.Frame) []byte {
	raw := ifrm.RawData()
	n := quotedLen
	if n > len(raw) {
		n = len(raw)
	}
	return raw[:n]
}

func binaryPutEchoHeader(dst []byte, id, seq uint16) {
	dst[0] = byte(id >> 8)
	dst[1] = byte(id)
	dst[2] = byte(seq >> 8)
	dst[3] = byte(seq)
}
