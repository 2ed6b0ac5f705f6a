package resilinet

//
// Diagnostic sniffer
//

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// SnifferConfig configures a [Sniffer].
type SnifferConfig struct {
	// InterfaceName is the interface to sniff on.
	InterfaceName string

	// MaxPackets bounds how many packets get logged; zero or negative
	// means [DefaultSnifferMaxPackets].
	MaxPackets int

	// PCAPFile is the OPTIONAL path of a pcap file to also write the
	// sniffed packets to; empty means no file output.
	PCAPFile string
}

// DefaultSnifferMaxPackets is the logged-packet bound used when the
// config does not provide one.
const DefaultSnifferMaxPackets = 20

// Sniffer is an ad hoc diagnostic packet logger: it writes one summary
// line with the L3/L4 header fields per captured packet, bounded by a
// maximum packet count, and optionally mirrors the packets into a pcap
// file. It plays no role in pass/fail decisions. The zero value is
// invalid; use [NewSniffer] to construct.
type Sniffer struct {
	// config is the sniffer configuration.
	config *SnifferConfig

	// logger is the log destination.
	logger Logger
}

// NewSniffer creates a [Sniffer].
func NewSniffer(config *SnifferConfig, logger Logger) *Sniffer {
	return &Sniffer{config: config, logger: logger}
}

// Run captures and logs packets on the configured interface, inside the
// calling execution context's active namespace, until the packet bound
// is reached or the context is canceled. Run it through an [Executor]
// job to sniff inside a node.
func (sn *Sniffer) Run(ctx context.Context) error {
	handle, err := afpacket.NewTPacket(
		afpacket.OptInterface(sn.config.InterfaceName),
		afpacket.OptPollTimeout(capturePollTimeout),
	)
	if err != nil {
		return fmt.Errorf("snoop: open %s: %w", sn.config.InterfaceName, classifyErrno(err))
	}
	defer handle.Close()

	var writer *pcapgo.Writer
	if sn.config.PCAPFile != "" {
		filep, err := os.Create(sn.config.PCAPFile)
		if err != nil {
			return fmt.Errorf("snoop: %w", err)
		}
		defer filep.Close()
		writer = pcapgo.NewWriter(filep)
		const largeSnapLen = 262144
		if err := writer.WriteFileHeader(largeSnapLen, layers.LinkTypeEthernet); err != nil {
			return fmt.Errorf("snoop: write pcap header: %w", err)
		}
	}

	maxPackets := sn.config.MaxPackets
	if maxPackets <= 0 {
		maxPackets = DefaultSnifferMaxPackets
	}
	sn.logger.Infof("snoop: capturing up to %d packets on %s", maxPackets, sn.config.InterfaceName)

	for logged := 0; logged < maxPackets; {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		data, captureInfo, err := handle.ReadPacketData()
		if errors.Is(err, afpacket.ErrTimeout) {
			continue
		}
		if err != nil {
			return fmt.Errorf("snoop: read on %s: %w", sn.config.InterfaceName, err)
		}
		if writer != nil {
			if err := writer.WritePacket(captureInfo, data); err != nil {
				sn.logger.Warnf("snoop: write pcap entry: %s", err.Error())
				// fallthrough: file output is best effort
			}
		}
		dp, err := DissectEthernetFrame(data)
		if err != nil {
			sn.logger.Debugf("snoop: %s", err.Error())
			continue
		}
		sn.logger.Infof("snoop: %s", dp.Summary())
		logged++
	}
	return nil
}
