package resilinet

//
// Stimulus jobs
//

import (
	"bytes"
	"fmt"
	"math/rand"
	"net"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

// stimulusSourcePort is the TCP source port of crafted SYN segments.
const stimulusSourcePort = 46123

// NewSYNStimulusJob creates a [Job] that sends a single crafted TCP SYN
// segment from the namespace the job runs in to destination:port. The
// segment is serialized with computed checksums and written through a
// raw IP socket, so no local TCP state is created and no handshake
// continues: the point is only that the SYN crosses the link.
func NewSYNStimulusJob(source, destination net.IP, port uint16, logger Logger) Job {
	return func(ready func()) (any, error) {
		ip := &layers.IPv4{
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolTCP,
			SrcIP:    source.To4(),
			DstIP:    destination.To4(),
		}
		tcp := &layers.TCP{
			SrcPort: layers.TCPPort(stimulusSourcePort),
			DstPort: layers.TCPPort(port),
			Seq:     rand.Uint32(),
			SYN:     true,
			Window:  64240,
		}
		if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
			return nil, fmt.Errorf("stimulus: checksum setup: %w", err)
		}
		buffer := gopacket.NewSerializeBuffer()
		options := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		if err := gopacket.SerializeLayers(buffer, options, ip, tcp); err != nil {
			return nil, fmt.Errorf("stimulus: serialize SYN: %w", err)
		}

		// IPPROTO_RAW implies IP_HDRINCL: we provide the full IP packet
		fd, err := unix.Socket(unix.AF_INET, unix.SOCK_RAW, unix.IPPROTO_RAW)
		if err != nil {
			return nil, fmt.Errorf("stimulus: raw socket: %w", classifyErrno(err))
		}
		defer unix.Close(fd)

		sockaddr := &unix.SockaddrInet4{}
		copy(sockaddr.Addr[:], destination.To4())
		payload := buffer.Bytes()
		if err := unix.Sendto(fd, payload, 0, sockaddr); err != nil {
			return nil, fmt.Errorf("stimulus: send SYN: %w", classifyErrno(err))
		}
		logger.Infof("stimulus: sent SYN %s:%d > %s:%d",
			source, stimulusSourcePort, destination, port)
		return len(payload), nil
	}
}

// NewICMPStimulusJob creates a [Job] that sends one ICMP echo request
// with a payload of payloadSize bytes from the namespace the job runs in
// to the destination. The socket explicitly disables path MTU discovery,
// so an echo larger than the link MTU leaves as kernel-built fragments
// instead of failing with EMSGSIZE; that is precisely the stimulus the
// fragmentation assertion needs.
func NewICMPStimulusJob(destination net.IP, payloadSize int, logger Logger) Job {
	return func(ready func()) (any, error) {
		message := icmp.Message{
			Type: ipv4.ICMPTypeEcho,
			Code: 0,
			Body: &icmp.Echo{
				ID:   os.Getpid() & 0xffff,
				Seq:  1,
				Data: bytes.Repeat([]byte{'A'}, payloadSize),
			},
		}
		wire, err := message.Marshal(nil)
		if err != nil {
			return nil, fmt.Errorf("stimulus: marshal ICMP echo: %w", err)
		}

		fd, err := unix.Socket(unix.AF_INET, unix.SOCK_RAW, unix.IPPROTO_ICMP)
		if err != nil {
			return nil, fmt.Errorf("stimulus: raw ICMP socket: %w", classifyErrno(err))
		}
		defer unix.Close(fd)
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP,
			unix.IP_MTU_DISCOVER, unix.IP_PMTUDISC_DONT); err != nil {
			return nil, fmt.Errorf("stimulus: disable PMTU discovery: %w", classifyErrno(err))
		}

		sockaddr := &unix.SockaddrInet4{}
		copy(sockaddr.Addr[:], destination.To4())
		if err := unix.Sendto(fd, wire, 0, sockaddr); err != nil {
			return nil, fmt.Errorf("stimulus: send ICMP echo: %w", classifyErrno(err))
		}
		logger.Infof("stimulus: sent %d-byte ICMP echo to %s", payloadSize, destination)
		return len(wire), nil
	}
}
