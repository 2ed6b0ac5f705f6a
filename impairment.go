package resilinet

//
// Impairment model
//

import (
	"fmt"
	"sync"
	"time"
)

// ImpairmentProfile declares the impairments to apply to one link
// endpoint. Every field is optional; the zero value of a field means
// "unset" and translates to no emulation of that aspect. The zero value
// of the whole profile is the unimpaired link.
type ImpairmentProfile struct {
	// Delay is the base one-way delay. Unset means no added delay.
	Delay time.Duration

	// Jitter is the random variation around Delay. Unset means a
	// constant delay.
	Jitter time.Duration

	// LossPercent is the percentage of packets to drop, in [0, 100].
	LossPercent float64

	// ReorderPercent is the percentage of packets to reorder, in
	// [0, 100]. Reordering is unobservable without delay variance, so
	// when ReorderPercent is set and Delay is unset, translation
	// substitutes [ReorderFloorDelay] rather than silently dropping
	// the reordering.
	ReorderPercent float64
}

// ReorderFloorDelay is the minimum base delay substituted into a
// translated configuration when a profile requests reordering without
// specifying a delay.
const ReorderFloorDelay = 10 * time.Millisecond

// Validate eagerly checks the profile at the input boundary.
func (profile ImpairmentProfile) Validate() error {
	if profile.Delay < 0 || profile.Jitter < 0 {
		return fmt.Errorf("resilinet: negative delay or jitter in profile %+v", profile)
	}
	if profile.LossPercent < 0 || profile.LossPercent > 100 {
		return fmt.Errorf("resilinet: loss percentage %v out of [0, 100]", profile.LossPercent)
	}
	if profile.ReorderPercent < 0 || profile.ReorderPercent > 100 {
		return fmt.Errorf("resilinet: reorder percentage %v out of [0, 100]", profile.ReorderPercent)
	}
	return nil
}

// TranslateProfile deterministically converts a declarative profile into
// the emulation configuration to install. The second return value
// reports whether [ReorderFloorDelay] was substituted for an unset
// delay, so callers can surface the substitution instead of applying it
// silently.
func TranslateProfile(profile ImpairmentProfile) (NetemConfig, bool) {
	cfg := NetemConfig{
		Delay:          profile.Delay,
		Jitter:         profile.Jitter,
		LossPercent:    profile.LossPercent,
		ReorderPercent: profile.ReorderPercent,
	}
	substituted := false
	if cfg.ReorderPercent > 0 && cfg.Delay == 0 {
		cfg.Delay = ReorderFloorDelay
		substituted = true
	}
	return cfg, substituted
}

// ImpairmentHandle associates one active profile with one link endpoint.
// An endpoint has at most one handle at a time: applying a new profile
// fully replaces the previous one, it never stacks.
type ImpairmentHandle struct {
	// Endpoint is the impaired endpoint.
	Endpoint *LinkEndpoint

	// Profile is the declarative profile that was applied.
	Profile ImpairmentProfile

	// Config is the translated configuration actually installed.
	Config NetemConfig
}

// ImpairmentController turns declarative profiles into applied netem
// configurations on link endpoints. The zero value is invalid; use
// [NewImpairmentController] to construct.
//
// Impairment application is scoped per endpoint: calls for distinct
// endpoints may proceed concurrently without further coordination.
type ImpairmentController struct {
	// ctl is the network control capability.
	ctl NetworkControl

	// logger is the logger to use.
	logger Logger

	// mu protects active.
	mu sync.Mutex

	// active maps endpoint interface names to their active handles.
	active map[string]*ImpairmentHandle
}

// NewImpairmentController creates an [ImpairmentController] on top of
// the given network control capability.
func NewImpairmentController(ctl NetworkControl, logger Logger) *ImpairmentController {
	return &ImpairmentController{
		ctl:    ctl,
		logger: logger,
		mu:     sync.Mutex{},
		active: map[string]*ImpairmentHandle{},
	}
}

// Apply validates and translates the profile and installs the resulting
// configuration on the endpoint, atomically replacing any configuration
// active before. An empty translation is an observable no-op. Apply
// fails with [ErrResourceNotFound] when the endpoint's interface does
// not exist in its namespace.
func (ic *ImpairmentController) Apply(ep *LinkEndpoint, profile ImpairmentProfile) (*ImpairmentHandle, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	cfg, substituted := TranslateProfile(profile)
	if substituted {
		ic.logger.Warnf("impairment: substituting %s floor delay on %s to make reordering observable",
			ReorderFloorDelay, ep.InterfaceName)
	}
	if cfg.Empty() {
		ic.logger.Infof("impairment: empty profile for %s, nothing to apply", ep.InterfaceName)
		return nil, nil
	}
	if err := ic.ctl.ReplaceNetem(ep.Node.Name, ep.InterfaceName, cfg); err != nil {
		return nil, err
	}
	handle := &ImpairmentHandle{Endpoint: ep, Profile: profile, Config: cfg}
	ic.mu.Lock()
	ic.active[ep.InterfaceName] = handle
	ic.mu.Unlock()
	ic.logger.Infof("impairment: applied %+v to %s in %s", cfg, ep.InterfaceName, ep.Node.Name)
	return handle, nil
}

// Clear removes any active configuration from the endpoint. Clearing an
// endpoint that has no configuration succeeds: the end state is the
// same either way.
func (ic *ImpairmentController) Clear(ep *LinkEndpoint) error {
	ic.mu.Lock()
	delete(ic.active, ep.InterfaceName)
	ic.mu.Unlock()
	err := ic.ctl.DeleteRootQdisc(ep.Node.Name, ep.InterfaceName)
	if err != nil && IsResourceNotFound(err) {
		ic.logger.Debugf("impairment: %s already clear", ep.InterfaceName)
		return nil
	}
	if err == nil {
		ic.logger.Infof("impairment: cleared %s in %s", ep.InterfaceName, ep.Node.Name)
	}
	return err
}

// Active returns the currently active handle for an endpoint, or nil.
func (ic *ImpairmentController) Active(ep *LinkEndpoint) *ImpairmentHandle {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	return ic.active[ep.InterfaceName]
}
