package resilinet

//
// Capture jobs
//

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/gopacket/afpacket"
)

// CaptureConfig describes a capture to run inside a node.
type CaptureConfig struct {
	// InterfaceName is the interface to capture on.
	InterfaceName string

	// Filter decides which packets count; a nil filter counts every
	// dissectable packet.
	Filter PacketFilter

	// ExpectedPackets is the number of matching packets after which
	// the capture stops early.
	ExpectedPackets int

	// Timeout bounds how long the capture may run.
	Timeout time.Duration
}

// CaptureResult is what a capture job resolves to.
type CaptureResult struct {
	// Packets are the matching packets, in arrival order.
	Packets []*DissectedPacket

	// TimedOut reports that the timeout expired before
	// ExpectedPackets matching packets arrived.
	TimedOut bool

	// Elapsed is how long the capture ran.
	Elapsed time.Duration
}

// capturePollTimeout is how often a blocked capture loop wakes up to
// re-check its deadline. It bounds the scheduling overhead a capture
// may add beyond its configured timeout.
const capturePollTimeout = 100 * time.Millisecond

// NewCaptureJob creates a [Job] that captures packets on an interface of
// the namespace the job runs in, using an AF_PACKET socket.
//
// The job signals readiness as soon as the socket is bound: from that
// moment every arriving packet lands in the kernel ring, so a stimulus
// dispatched after the readiness signal cannot be missed. The job always
// terminates within the configured timeout plus the poll granularity,
// resolving to a [CaptureResult]; an expired timeout is reported in the
// result, not as a job error, so callers can tell "ran fine, nothing
// arrived" apart from "could not capture at all".
func NewCaptureJob(config *CaptureConfig, logger Logger) Job {
	return func(ready func()) (any, error) {
		if config.Timeout <= 0 {
			return nil, fmt.Errorf("resilinet: capture: non-positive timeout %v", config.Timeout)
		}
		if config.ExpectedPackets < 1 {
			return nil, fmt.Errorf("resilinet: capture: expected packet count %d < 1", config.ExpectedPackets)
		}

		handle, err := afpacket.NewTPacket(
			afpacket.OptInterface(config.InterfaceName),
			afpacket.OptPollTimeout(capturePollTimeout),
		)
		if err != nil {
			return nil, fmt.Errorf("capture: open %s: %w", config.InterfaceName, classifyErrno(err))
		}
		defer handle.Close()

		// the socket is bound and receiving: we are listening now
		ready()
		logger.Debugf("capture: listening on %s for %d packets (timeout %v)",
			config.InterfaceName, config.ExpectedPackets, config.Timeout)

		begin := time.Now()
		deadline := begin.Add(config.Timeout)
		result := &CaptureResult{Packets: []*DissectedPacket{}}
		for time.Now().Before(deadline) && len(result.Packets) < config.ExpectedPackets {
			data, _, err := handle.ReadPacketData()
			if errors.Is(err, afpacket.ErrTimeout) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("capture: read on %s: %w", config.InterfaceName, err)
			}
			dp, err := DissectEthernetFrame(data)
			if err != nil {
				logger.Debugf("capture: %s", err.Error())
				continue
			}
			if config.Filter != nil && !config.Filter(dp) {
				continue
			}
			logger.Debugf("capture: matched %s", dp.Summary())
			result.Packets = append(result.Packets, dp)
		}

		result.TimedOut = len(result.Packets) < config.ExpectedPackets
		result.Elapsed = time.Since(begin)
		return result, nil
	}
}
