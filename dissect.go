package resilinet

//
// Protocol dissector and capture filters
//

import (
	"errors"
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// DissectedPacket is a dissected Ethernet frame. The zero value is
// invalid; you MUST use the [DissectEthernetFrame] factory to create a
// new instance.
type DissectedPacket struct {
	// Packet is the underlying packet.
	Packet gopacket.Packet

	// IP is the POSSIBLY NIL IPv4 layer.
	IP *layers.IPv4

	// TCP is the POSSIBLY NIL TCP layer.
	TCP *layers.TCP

	// UDP is the POSSIBLY NIL UDP layer.
	UDP *layers.UDP

	// ICMP is the POSSIBLY NIL ICMPv4 layer. Note that only the first
	// fragment of a fragmented ICMP datagram carries this layer; later
	// fragments show up as bare IPv4 packets with the ICMP protocol.
	ICMP *layers.ICMPv4
}

// ErrDissectShortPacket indicates the frame is too short to dissect.
var ErrDissectShortPacket = errors.New("resilinet: dissect: packet too short")

// ErrDissectNetwork indicates that we do not support the frame's network protocol.
var ErrDissectNetwork = errors.New("resilinet: dissect: unsupported network protocol")

// DissectEthernetFrame parses the layers of an Ethernet frame captured
// from a veth endpoint. We only dissect IPv4 payloads: the topologies
// this package builds assign IPv4 addresses.
func DissectEthernetFrame(raw []byte) (*DissectedPacket, error) {
	if len(raw) < 14 {
		return nil, ErrDissectShortPacket
	}
	dp := &DissectedPacket{
		Packet: gopacket.NewPacket(raw, layers.LayerTypeEthernet, gopacket.Lazy),
	}

	ipLayer := dp.Packet.Layer(layers.LayerTypeIPv4)
	if ipLayer == nil {
		return nil, ErrDissectNetwork
	}
	dp.IP = ipLayer.(*layers.IPv4)

	if tcpLayer := dp.Packet.Layer(layers.LayerTypeTCP); tcpLayer != nil {
		dp.TCP = tcpLayer.(*layers.TCP)
	}
	if udpLayer := dp.Packet.Layer(layers.LayerTypeUDP); udpLayer != nil {
		dp.UDP = udpLayer.(*layers.UDP)
	}
	if icmpLayer := dp.Packet.Layer(layers.LayerTypeICMPv4); icmpLayer != nil {
		dp.ICMP = icmpLayer.(*layers.ICMPv4)
	}
	return dp, nil
}

// Summary returns a one-line human readable summary of the L3/L4 fields.
func (dp *DissectedPacket) Summary() string {
	switch {
	case dp.TCP != nil:
		return fmt.Sprintf("IPv4 %s:%d > %s:%d TCP flags=%s len=%d",
			dp.IP.SrcIP, dp.TCP.SrcPort, dp.IP.DstIP, dp.TCP.DstPort,
			tcpFlags(dp.TCP), dp.IP.Length)
	case dp.UDP != nil:
		return fmt.Sprintf("IPv4 %s:%d > %s:%d UDP len=%d",
			dp.IP.SrcIP, dp.UDP.SrcPort, dp.IP.DstIP, dp.UDP.DstPort, dp.IP.Length)
	case dp.ICMP != nil:
		return fmt.Sprintf("IPv4 %s > %s ICMP %s len=%d",
			dp.IP.SrcIP, dp.IP.DstIP, dp.ICMP.TypeCode, dp.IP.Length)
	default:
		return fmt.Sprintf("IPv4 %s > %s proto=%s len=%d frag-offset=%d",
			dp.IP.SrcIP, dp.IP.DstIP, dp.IP.Protocol, dp.IP.Length, dp.IP.FragOffset)
	}
}

// tcpFlags renders the set TCP flags in tcpdump-ish notation.
func tcpFlags(tcp *layers.TCP) string {
	flags := ""
	if tcp.SYN {
		flags += "S"
	}
	if tcp.ACK {
		flags += "A"
	}
	if tcp.FIN {
		flags += "F"
	}
	if tcp.RST {
		flags += "R"
	}
	if tcp.PSH {
		flags += "P"
	}
	if flags == "" {
		flags = "."
	}
	return flags
}

// PacketFilter is a predicate deciding whether a captured packet counts
// towards a capture's expected packet count.
type PacketFilter func(dp *DissectedPacket) bool

// FilterTCPSYNTo matches initial TCP SYN segments (SYN set, ACK clear)
// destined to the given address and port.
func FilterTCPSYNTo(destination net.IP, port uint16) PacketFilter {
	return func(dp *DissectedPacket) bool {
		return dp.TCP != nil &&
			dp.TCP.SYN && !dp.TCP.ACK &&
			dp.TCP.DstPort == layers.TCPPort(port) &&
			dp.IP.DstIP.Equal(destination)
	}
}

// FilterICMPTo matches every IPv4 packet of the ICMP protocol destined
// to the given address. The match is on the IP protocol field rather
// than on a dissected ICMP header, so that non-first fragments of a
// fragmented datagram also count: counting fragments is exactly what
// the fragmentation assertion needs.
func FilterICMPTo(destination net.IP) PacketFilter {
	return func(dp *DissectedPacket) bool {
		return dp.IP.Protocol == layers.IPProtocolICMPv4 &&
			dp.IP.DstIP.Equal(destination)
	}
}
