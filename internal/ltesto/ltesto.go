// Package ltesto builds well-formed, checksum-correct Ethernet/ARP/IPv4/ICMP
// packets for use in tests and fuzz targets, without requiring a live network.
package ltesto

import (
	"math/rand"

	"github.com/soypat/ip4rt"
	"github.com/soypat/ip4rt/arp"
	"github.com/soypat/ip4rt/ethernet"
	"github.com/soypat/ip4rt/ipv4"
	"github.com/soypat/ip4rt/ipv4/icmpv4"
)

const (
	sizeHeaderEthNoVLAN = 14
	sizeHeaderIPv4      = 20
	sizeHeaderARPv4     = 28
	sizeHeaderICMP      = 8
)

// PacketGen holds the addressing used to build synthetic packets.
type PacketGen struct {
	SrcMAC, DstMAC   [6]byte
	SrcIPv4, DstIPv4 [4]byte
}

// RandomizeAddrs fills in random, non-zero looking addresses.
func (gen *PacketGen) RandomizeAddrs(rng *rand.Rand) {
	rng.Read(gen.SrcMAC[:])
	rng.Read(gen.DstMAC[:])
	rng.Read(gen.SrcIPv4[:])
	rng.Read(gen.DstIPv4[:])
}

// AppendEchoRequest appends a well-formed Ethernet+IPv4+ICMP echo request packet to dst.
func (gen *PacketGen) AppendEchoRequest(dst []byte, ttl uint8, id, seq uint16, payload []byte) []byte {
	total := sizeHeaderEthNoVLAN + sizeHeaderIPv4 + sizeHeaderICMP + len(payload)
	off := len(dst)
	dst = append(dst, make([]byte, total)...)
	efrm, err := ethernet.NewFrame(dst[off:])
	if err != nil {
		panic(err)
	}
	*efrm.DestinationHardwareAddr() = gen.DstMAC
	*efrm.SourceHardwareAddr() = gen.SrcMAC
	efrm.SetEtherType(ethernet.TypeIPv4)

	ifrm, err := ipv4.NewFrame(efrm.Payload())
	if err != nil {
		panic(err)
	}
	ifrm.SetVersionAndIHL(4, 5)
	ifrm.SetToS(0)
	ifrm.SetTotalLength(uint16(sizeHeaderIPv4 + sizeHeaderICMP + len(payload)))
	ifrm.SetID(0)
	ifrm.SetFlags(0)
	ifrm.SetTTL(ttl)
	ifrm.SetProtocol(ip4rt.IPProtoICMP)
	*ifrm.SourceAddr() = gen.SrcIPv4
	*ifrm.DestinationAddr() = gen.DstIPv4
	ifrm.SetCRC(0)
	ifrm.SetCRC(ifrm.CalculateHeaderCRC())

	icfrm, err := icmpv4.NewFrame(ifrm.Payload())
	if err != nil {
		panic(err)
	}
	echo := icmpv4.FrameEcho{Frame: icfrm}
	echo.SetType(icmpv4.TypeEcho)
	echo.SetCode(0)
	echo.SetIdentifier(id)
	echo.SetSequenceNumber(seq)
	copy(echo.Data(), payload)
	echo.SetCRC(0)
	var crc ip4rt.CRC791
	echo.CRCWrite(&crc)
	echo.SetCRC(crc.Sum16())

	var vld ip4rt.Validator
	efrm.ValidateSize(&vld)
	if err := vld.ErrPop(); err != nil {
		panic(err)
	}
	ifrm.ValidateExceptCRC(&vld)
	if err := vld.ErrPop(); err != nil {
		panic(err)
	}
	return dst
}

// AppendARPRequest appends a well-formed Ethernet+ARP request packet to dst.
func (gen *PacketGen) AppendARPRequest(dst []byte, targetIP [4]byte) []byte {
	total := sizeHeaderEthNoVLAN + sizeHeaderARPv4
	off := len(dst)
	dst = append(dst, make([]byte, total)...)
	efrm, err := ethernet.NewFrame(dst[off:])
	if err != nil {
		panic(err)
	}
	*efrm.DestinationHardwareAddr() = ethernet.BroadcastAddr()
	*efrm.SourceHardwareAddr() = gen.SrcMAC
	efrm.SetEtherType(ethernet.TypeARP)

	afrm, err := arp.NewFrame(efrm.Payload())
	if err != nil {
		panic(err)
	}
	afrm.SetHardware(1, 6)
	afrm.SetProtocol(ethernet.TypeIPv4, 4)
	afrm.SetOperation(arp.OpRequest)
	senderHW, senderIP := afrm.Sender4()
	*senderHW = gen.SrcMAC
	*senderIP = gen.SrcIPv4
	targetHW, targetIPfield := afrm.Target4()
	*targetHW = [6]byte{}
	*targetIPfield = targetIP
	return dst
}
