package resilinet

//
// Topology lifecycle management
//

import (
	"fmt"
	"hash/fnv"
	"sync"
)

// Topology creates and destroys isolated network namespaces ("nodes")
// and point-to-point veth links between them. Every resource it creates
// is recorded in a [ResourceRegistry] before use, so that [Topology.Cleanup]
// reaches everything no matter which setup step failed. The zero value is
// invalid; use [NewTopology] to construct.
//
// All structural mutations are serialized: the namespace and interface
// table of the host is a single shared resource and interleaved partial
// updates must never be observable.
type Topology struct {
	// ctl is the network control capability.
	ctl NetworkControl

	// logger is the logger to use.
	logger Logger

	// mu serializes all structural mutations.
	mu sync.Mutex

	// nodes maps node names to their handles.
	nodes map[string]*Node

	// registry tracks created resources for teardown.
	registry *ResourceRegistry
}

// NewTopology creates an empty [Topology] using the given network
// control capability.
func NewTopology(ctl NetworkControl, logger Logger) *Topology {
	return &Topology{
		ctl:      ctl,
		logger:   logger,
		mu:       sync.Mutex{},
		nodes:    map[string]*Node{},
		registry: NewResourceRegistry(),
	}
}

// Registry exposes the resource registry for inspection. Callers must
// not mutate it; the topology is its only writer.
func (topo *Topology) Registry() *ResourceRegistry {
	return topo.registry
}

// CreateNode creates a new isolated network namespace with the given
// name and records it for cleanup.
//
// When the namespace already exists on the host, CreateNode logs a
// warning, tracks the namespace for cleanup anyway, and succeeds: we
// prefer over-cleanup of a stale namespace from a previous run to
// leaking it.
func (topo *Topology) CreateNode(name string) (*Node, error) {
	topo.mu.Lock()
	defer topo.mu.Unlock()

	node := &Node{Name: name, State: NodePlanned}
	err := topo.ctl.CreateNamespace(name)
	switch {
	case err == nil:
		topo.logger.Infof("topology: created namespace %s", name)
	case IsAlreadyExists(err):
		topo.logger.Warnf("topology: namespace %s already exists, tracking it for cleanup", name)
	default:
		return nil, err
	}
	topo.registry.Add(ResourceNamespace, name)
	node.State = NodeCreated
	topo.nodes[name] = node
	return node, nil
}

// LinkNodes connects two nodes with a veth pair, moving one endpoint
// into each node's namespace, assigning the given IPv4 addresses with
// the given prefix length, and bringing the endpoints and each node's
// loopback interface up.
//
// Endpoint interface names derive deterministically from the node name
// pair (see [EndpointName]). Failures in the middle of the sequence
// leave the already-created interface registered, so cleanup still
// reaches it.
func (topo *Topology) LinkNodes(nodeA, nodeB *Node, addrA, addrB string, prefixLen int) (*LinkEndpoint, *LinkEndpoint, error) {
	topo.mu.Lock()
	defer topo.mu.Unlock()

	if nodeA.Name == nodeB.Name {
		return nil, nil, fmt.Errorf("resilinet: cannot link node %s to itself", nodeA.Name)
	}

	ifnameA := EndpointName(nodeA.Name, nodeB.Name)
	ifnameB := EndpointName(nodeB.Name, nodeA.Name)

	if err := topo.ctl.CreateVethPair(ifnameA, ifnameB); err != nil {
		return nil, nil, err
	}
	// Registering one endpoint suffices for teardown: deleting either
	// end of a veth pair removes both, and once an endpoint moved into
	// a namespace it dies with that namespace instead.
	topo.registry.Add(ResourceInterface, ifnameA)

	if err := topo.ctl.MoveInterface(ifnameA, nodeA.Name); err != nil {
		return nil, nil, err
	}
	if err := topo.ctl.MoveInterface(ifnameB, nodeB.Name); err != nil {
		return nil, nil, err
	}

	epA := &LinkEndpoint{
		InterfaceName: ifnameA,
		Node:          nodeA,
		Address:       fmt.Sprintf("%s/%d", addrA, prefixLen),
	}
	epB := &LinkEndpoint{
		InterfaceName: ifnameB,
		Node:          nodeB,
		Address:       fmt.Sprintf("%s/%d", addrB, prefixLen),
	}
	epA.peer, epB.peer = epB, epA

	for _, ep := range []*LinkEndpoint{epA, epB} {
		if err := topo.configureEndpoint(ep); err != nil {
			return nil, nil, err
		}
	}

	topo.logger.Infof("topology: linked %s (%s) <-> %s (%s)",
		nodeA.Name, epA.Address, nodeB.Name, epB.Address)
	return epA, epB, nil
}

// configureEndpoint assigns the endpoint address and brings the endpoint
// and the loopback interface of its namespace up.
func (topo *Topology) configureEndpoint(ep *LinkEndpoint) error {
	namespace := ep.Node.Name
	if err := topo.ctl.SetInterfaceUp(namespace, ep.InterfaceName); err != nil {
		return err
	}
	if err := topo.ctl.AssignAddress(namespace, ep.InterfaceName, ep.Address); err != nil {
		return err
	}
	return topo.ctl.SetInterfaceUp(namespace, "lo")
}

// Cleanup removes every registered interface, then every registered
// namespace. Interfaces go first because they may reference namespaces
// about to be destroyed; removing them first reduces reference errors.
//
// Per-item failures (typically resources that already vanished, e.g.
// veth endpoints that died with their namespace) are logged and
// swallowed: cleanup never fails past this call. Cleanup is idempotent
// because each teardown pass drains the registry.
func (topo *Topology) Cleanup() {
	topo.mu.Lock()
	defer topo.mu.Unlock()

	for _, entry := range topo.registry.Drain(ResourceInterface) {
		if err := topo.ctl.DeleteInterface(entry.ID); err != nil {
			topo.logger.Debugf("topology: cleanup: interface %s: %s", entry.ID, err.Error())
			continue
		}
		topo.logger.Infof("topology: removed interface %s", entry.ID)
	}
	for _, entry := range topo.registry.Drain(ResourceNamespace) {
		if err := topo.ctl.DeleteNamespace(entry.ID); err != nil {
			topo.logger.Warnf("topology: cleanup: namespace %s: %s", entry.ID, err.Error())
		} else {
			topo.logger.Infof("topology: removed namespace %s", entry.ID)
		}
		if node := topo.nodes[entry.ID]; node != nil {
			node.State = NodeDestroyed
		}
		delete(topo.nodes, entry.ID)
	}
}

// EndpointName derives the deterministic veth interface name for the
// link endpoint that lives in the local node, linked to the peer node.
//
// The name encodes an FNV-1a hash of the ordered node name pair instead
// of truncated node names: truncation collides for any two names sharing
// a tail, whereas distinct pairs only collide here with the 32-bit
// birthday bound. The result ("ve-xxxxxxxx") stays well under IFNAMSIZ.
func EndpointName(localNode, peerNode string) string {
	digest := fnv.New32a()
	_, _ = digest.Write([]byte(localNode))
	_, _ = digest.Write([]byte{'|'})
	_, _ = digest.Write([]byte(peerNode))
	return fmt.Sprintf("ve-%08x", digest.Sum32())
}

// ClientServerTopology is the canonical two-node topology: a client and
// a server node connected by a single veth link. The zero value is
// invalid; use [NewClientServerTopology] to construct.
type ClientServerTopology struct {
	// Topology is the underlying topology manager.
	Topology *Topology

	// Client is the client node.
	Client *Node

	// Server is the server node.
	Server *Node

	// ClientEndpoint is the client-side link endpoint.
	ClientEndpoint *LinkEndpoint

	// ServerEndpoint is the server-side link endpoint.
	ServerEndpoint *LinkEndpoint

	// closeOnce gives Close a "once" semantics.
	closeOnce sync.Once
}

// NewClientServerTopology builds a two-node topology and links the nodes
// with a /24 veth link. On any setup failure the partially built
// topology is cleaned up before the error is returned.
//
// Arguments:
//
// - ctl is the network control capability;
//
// - logger is the logger to use;
//
// - clientName and serverName are the namespace names of the two nodes;
//
// - clientAddress and serverAddress are their IPv4 addresses, which must
// share the /24 subnet for traffic to flow.
func NewClientServerTopology(
	ctl NetworkControl,
	logger Logger,
	clientName string,
	serverName string,
	clientAddress string,
	serverAddress string,
) (*ClientServerTopology, error) {
	topo := NewTopology(ctl, logger)

	client, err := topo.CreateNode(clientName)
	if err != nil {
		topo.Cleanup()
		return nil, err
	}
	server, err := topo.CreateNode(serverName)
	if err != nil {
		topo.Cleanup()
		return nil, err
	}

	const prefixLen = 24
	clientEndpoint, serverEndpoint, err := topo.LinkNodes(
		client, server, clientAddress, serverAddress, prefixLen)
	if err != nil {
		topo.Cleanup()
		return nil, err
	}

	cst := &ClientServerTopology{
		Topology:       topo,
		Client:         client,
		Server:         server,
		ClientEndpoint: clientEndpoint,
		ServerEndpoint: serverEndpoint,
		closeOnce:      sync.Once{},
	}
	return cst, nil
}

// Close tears down every namespace and interface created by this
// topology. It never fails and is safe to call multiple times.
func (cst *ClientServerTopology) Close() error {
	cst.closeOnce.Do(func() {
		cst.Topology.Cleanup()
	})
	return nil
}
