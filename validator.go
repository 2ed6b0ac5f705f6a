package resilinet

//
// Protocol validation
//

import (
	"fmt"
	"time"
)

// AssertionState is the state of a running protocol assertion.
type AssertionState int

const (
	// StateIdle means the assertion has not started.
	StateIdle = AssertionState(iota)

	// StateCaptureStarting means the capture job has been dispatched
	// and the validator awaits its readiness acknowledgment.
	StateCaptureStarting

	// StateCaptureReady means the capture unit acknowledged that it is
	// listening; stimulus may now be sent.
	StateCaptureReady

	// StateStimulusSent means the stimulus job has been dispatched.
	StateStimulusSent

	// StateEvaluating means the validator is joining the capture
	// result.
	StateEvaluating

	// StatePassed is the terminal success state.
	StatePassed

	// StateFailed is the terminal failure state.
	StateFailed
)

// String implements fmt.Stringer.
func (state AssertionState) String() string {
	switch state {
	case StateIdle:
		return "idle"
	case StateCaptureStarting:
		return "capture-starting"
	case StateCaptureReady:
		return "capture-ready"
	case StateStimulusSent:
		return "stimulus-sent"
	case StateEvaluating:
		return "evaluating"
	case StatePassed:
		return "passed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Assertion is a two-sided protocol assertion: capture in one node,
// stimulus from another.
type Assertion struct {
	// Name names the assertion in logs and verdicts.
	Name string

	// CaptureNamespace is the namespace to capture in.
	CaptureNamespace string

	// Capture configures the capture side.
	Capture *CaptureConfig

	// StimulusNamespace is the namespace to send the stimulus from.
	StimulusNamespace string

	// Stimulus is the stimulus job.
	Stimulus Job
}

// Verdict is the terminal outcome of one assertion.
type Verdict struct {
	// Assertion is the assertion name.
	Assertion string

	// State is [StatePassed] or [StateFailed].
	State AssertionState

	// Reason is nil on pass and otherwise wraps one of [ErrTimeout],
	// [ErrExecutionFailure], or [ErrAssertionFailure].
	Reason error

	// Captured is the number of matching packets captured.
	Captured int
}

// Passed returns whether the assertion passed.
func (v *Verdict) Passed() bool {
	return v.State == StatePassed
}

// DefaultStartupTimeout bounds how long a capture unit may take to
// acknowledge readiness.
const DefaultStartupTimeout = 5 * time.Second

// DefaultCaptureTimeout is the default capture timeout of the built-in
// assertions.
const DefaultCaptureTimeout = 5 * time.Second

// ProtocolValidator runs two-sided assertions across namespaces. The
// zero value is invalid; use [NewProtocolValidator] to construct.
//
// The validator never dispatches a stimulus before the capture unit has
// acknowledged that it is listening: readiness is an explicit one-shot
// signal bounded by StartupTimeout, not a fixed sleep, which eliminates
// the race where the stimulus crosses the link before anyone captures.
type ProtocolValidator struct {
	// runner dispatches jobs into namespaces.
	runner JobRunner

	// logger is the logger to use.
	logger Logger

	// StartupTimeout bounds the readiness handshake.
	StartupTimeout time.Duration
}

// NewProtocolValidator creates a [ProtocolValidator] using the given
// job runner.
func NewProtocolValidator(runner JobRunner, logger Logger) *ProtocolValidator {
	return &ProtocolValidator{
		runner:         runner,
		logger:         logger,
		StartupTimeout: DefaultStartupTimeout,
	}
}

// RunAssertion drives one assertion through its state machine and
// always returns a terminal [Verdict]; assertion failures are results,
// not errors.
func (pv *ProtocolValidator) RunAssertion(assertion *Assertion) *Verdict {
	state := StateIdle
	transition := func(next AssertionState) {
		pv.logger.Debugf("validator: %s: %s -> %s", assertion.Name, state, next)
		state = next
	}
	fail := func(reason error) *Verdict {
		transition(StateFailed)
		pv.logger.Warnf("validator: %s failed: %s", assertion.Name, reason.Error())
		return &Verdict{Assertion: assertion.Name, State: StateFailed, Reason: reason}
	}

	// dispatch the capture job and await its readiness acknowledgment
	transition(StateCaptureStarting)
	pending, err := pv.runner.Submit(assertion.CaptureNamespace, NewCaptureJob(assertion.Capture, pv.logger))
	if err != nil {
		return fail(fmt.Errorf("%w: dispatch capture: %v", ErrExecutionFailure, err))
	}
	startup := time.NewTimer(pv.StartupTimeout)
	defer startup.Stop()
	select {
	case <-pending.Ready():
		transition(StateCaptureReady)
	case result := <-pending.Done():
		// the capture unit died before it was ever listening
		return fail(fmt.Errorf("%w: capture exited before readiness: %v",
			ErrExecutionFailure, result.Err))
	case <-startup.C:
		// stimulus MUST NOT be sent: nobody is listening
		return fail(fmt.Errorf("%w: capture readiness not acknowledged within %v",
			ErrTimeout, pv.StartupTimeout))
	}

	// the capture unit is listening: send the stimulus
	transition(StateStimulusSent)
	if result := pv.runner.Run(assertion.StimulusNamespace, assertion.Stimulus); result.Failed() {
		// there is no in-flight cancellation; the capture side is
		// abandoned and terminates on its own timeout
		return fail(fmt.Errorf("%w: stimulus: %v", ErrExecutionFailure, result.Err))
	}

	// join the capture result and evaluate it
	transition(StateEvaluating)
	join := time.NewTimer(assertion.Capture.Timeout + pv.StartupTimeout)
	defer join.Stop()
	select {
	case result := <-pending.Done():
		if result.Failed() {
			return fail(fmt.Errorf("%w: capture: %v", ErrExecutionFailure, result.Err))
		}
		capture, good := result.Value.(*CaptureResult)
		if !good {
			return fail(fmt.Errorf("%w: capture produced %T instead of a capture result",
				ErrExecutionFailure, result.Value))
		}
		if len(capture.Packets) < assertion.Capture.ExpectedPackets {
			verdict := fail(fmt.Errorf("%w: captured %d of %d expected packets within %v",
				ErrAssertionFailure, len(capture.Packets),
				assertion.Capture.ExpectedPackets, assertion.Capture.Timeout))
			verdict.Captured = len(capture.Packets)
			return verdict
		}
		transition(StatePassed)
		pv.logger.Infof("validator: %s passed with %d captured packets",
			assertion.Name, len(capture.Packets))
		return &Verdict{
			Assertion: assertion.Name,
			State:     StatePassed,
			Captured:  len(capture.Packets),
		}
	case <-join.C:
		// captures are bounded, so this only fires if the capture unit
		// violated its own contract
		return fail(fmt.Errorf("%w: capture result not produced within %v",
			ErrTimeout, assertion.Capture.Timeout+pv.StartupTimeout))
	}
}

// HandshakeAssertion builds the TCP handshake delivery assertion: a SYN
// sent from the client node towards serverPort on the server address
// must be captured on the server endpoint within timeout.
func HandshakeAssertion(topo *ClientServerTopology, serverPort uint16, timeout time.Duration, logger Logger) (*Assertion, error) {
	clientIP, err := topo.ClientEndpoint.IP()
	if err != nil {
		return nil, err
	}
	serverIP, err := topo.ServerEndpoint.IP()
	if err != nil {
		return nil, err
	}
	assertion := &Assertion{
		Name:             "tcp-handshake-delivery",
		CaptureNamespace: topo.Server.Name,
		Capture: &CaptureConfig{
			InterfaceName:   topo.ServerEndpoint.InterfaceName,
			Filter:          FilterTCPSYNTo(serverIP, serverPort),
			ExpectedPackets: 1,
			Timeout:         timeout,
		},
		StimulusNamespace: topo.Client.Name,
		Stimulus:          NewSYNStimulusJob(clientIP, serverIP, serverPort, logger),
	}
	return assertion, nil
}

// FragmentationAssertion builds the IP fragmentation assertion: an ICMP
// echo with payloadSize bytes of payload, sent from the client node over
// a link whose MTU is smaller than the resulting datagram, must arrive
// at the server endpoint as at least two fragments within timeout.
func FragmentationAssertion(topo *ClientServerTopology, payloadSize int, timeout time.Duration, logger Logger) (*Assertion, error) {
	serverIP, err := topo.ServerEndpoint.IP()
	if err != nil {
		return nil, err
	}
	assertion := &Assertion{
		Name:             "ip-fragmentation",
		CaptureNamespace: topo.Server.Name,
		Capture: &CaptureConfig{
			InterfaceName:   topo.ServerEndpoint.InterfaceName,
			Filter:          FilterICMPTo(serverIP),
			ExpectedPackets: 2,
			Timeout:         timeout,
		},
		StimulusNamespace: topo.Client.Name,
		Stimulus:          NewICMPStimulusJob(serverIP, payloadSize, logger),
	}
	return assertion, nil
}
