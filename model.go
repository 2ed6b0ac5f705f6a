package resilinet

//
// Data model
//

import (
	"fmt"
	"net"
	"time"
)

// Logger is the logger we're using.
type Logger interface {
	// Debugf formats and emits a debug message.
	Debugf(format string, v ...any)

	// Debug emits a debug message.
	Debug(message string)

	// Infof formats and emits an informational message.
	Infof(format string, v ...any)

	// Info emits an informational message.
	Info(message string)

	// Warnf formats and emits a warning message.
	Warnf(format string, v ...any)

	// Warn emits a warning message.
	Warn(message string)
}

// NodeState is the lifecycle state of a node's network namespace.
type NodeState int

const (
	// NodePlanned means the namespace has not been created yet.
	NodePlanned = NodeState(iota)

	// NodeCreated means the namespace exists on the host.
	NodeCreated

	// NodeDestroyed means the namespace has been removed.
	NodeDestroyed
)

// Node is a handle to an isolated network namespace. A [Node] is owned
// exclusively by the [Topology] that created it; everything else holds a
// reference only and must never destroy it.
type Node struct {
	// Name is the unique namespace name.
	Name string

	// State is the namespace lifecycle state.
	State NodeState
}

// LinkEndpoint is one end of a point-to-point veth link. Endpoints are
// created and destroyed in pairs: a link has exactly two of them, each
// living in a different node's namespace.
type LinkEndpoint struct {
	// InterfaceName is the veth interface name inside the namespace.
	InterfaceName string

	// Node is the node whose namespace owns this endpoint.
	Node *Node

	// Address is the assigned IPv4 address in CIDR notation.
	Address string

	// peer is the other end of the veth pair.
	peer *LinkEndpoint
}

// Peer returns the other end of the point-to-point link.
func (ep *LinkEndpoint) Peer() *LinkEndpoint {
	return ep.peer
}

// IP returns the endpoint address without its prefix length.
func (ep *LinkEndpoint) IP() (net.IP, error) {
	ip, _, err := net.ParseCIDR(ep.Address)
	if err != nil {
		return nil, fmt.Errorf("resilinet: endpoint %s: %w", ep.InterfaceName, err)
	}
	return ip, nil
}

// NetemConfig is an applied emulation configuration for one interface:
// the translated, fixed-structure form of an [ImpairmentProfile]. The
// zero value means "no emulation".
type NetemConfig struct {
	// Delay is the base one-way delay added to every packet.
	Delay time.Duration

	// Jitter is the random delay variation around Delay.
	Jitter time.Duration

	// LossPercent is the percentage of packets to drop, in [0, 100].
	LossPercent float64

	// ReorderPercent is the percentage of packets sent immediately
	// rather than delayed, in [0, 100], which reorders them relative
	// to the delayed ones.
	ReorderPercent float64
}

// Empty returns whether this configuration carries no emulation at all.
func (cfg NetemConfig) Empty() bool {
	return cfg.Delay == 0 && cfg.Jitter == 0 &&
		cfg.LossPercent == 0 && cfg.ReorderPercent == 0
}

// NetworkControl is the low-level capability that manipulates kernel
// namespaces, links, addresses, and queueing disciplines. The core only
// consumes this interface; [NewNetlinkControl] provides the real
// implementation and tests substitute fakes.
//
// An empty namespace argument addresses the host (root) namespace.
// Implementations report failures using the package error taxonomy:
// [ErrResourceNotFound], [ErrAlreadyExists], or [ErrPermissionDenied].
type NetworkControl interface {
	// CreateNamespace creates a named network namespace.
	CreateNamespace(name string) error

	// DeleteNamespace removes a named network namespace.
	DeleteNamespace(name string) error

	// CreateVethPair creates a veth pair in the host namespace.
	CreateVethPair(name, peerName string) error

	// DeleteInterface removes an interface from the host namespace.
	DeleteInterface(name string) error

	// MoveInterface moves a host-namespace interface into a namespace.
	MoveInterface(name, namespace string) error

	// SetInterfaceUp sets the administrative state of an interface
	// inside the given namespace to up.
	SetInterfaceUp(namespace, name string) error

	// AssignAddress assigns an address in CIDR notation to an
	// interface inside the given namespace.
	AssignAddress(namespace, name, cidr string) error

	// ReplaceNetem installs the given emulation configuration as the
	// root queueing discipline of an interface, atomically replacing
	// whatever configuration was active before.
	ReplaceNetem(namespace, name string, cfg NetemConfig) error

	// DeleteRootQdisc removes the root queueing discipline of an
	// interface. Returns [ErrResourceNotFound] when there is none.
	DeleteRootQdisc(namespace, name string) error
}
