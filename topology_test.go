package resilinet

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// discardLogger is a [Logger] for tests that do not care about logs.
type discardLogger struct{}

func (dl *discardLogger) Debug(message string)           {}
func (dl *discardLogger) Debugf(format string, v ...any) {}
func (dl *discardLogger) Info(message string)            {}
func (dl *discardLogger) Infof(format string, v ...any)  {}
func (dl *discardLogger) Warn(message string)            {}
func (dl *discardLogger) Warnf(format string, v ...any)  {}

var _ Logger = &discardLogger{}

// fakeControl implements [NetworkControl] in memory. It records every
// operation in order and allows tests to inject a failure for a specific
// operation string.
type fakeControl struct {
	// mu protects everything below.
	mu sync.Mutex

	// ops records operations in invocation order.
	ops []string

	// namespaces is the set of existing namespaces.
	namespaces map[string]bool

	// interfaces maps interface names to the namespace that owns them,
	// where the empty string is the host namespace.
	interfaces map[string]string

	// peers maps each veth endpoint to its peer.
	peers map[string]string

	// netem maps "namespace/interface" to the installed configuration.
	netem map[string]NetemConfig

	// failures maps an operation string to the error to inject for it.
	failures map[string]error
}

func newFakeControl() *fakeControl {
	return &fakeControl{
		namespaces: map[string]bool{},
		interfaces: map[string]string{},
		peers:      map[string]string{},
		netem:      map[string]NetemConfig{},
		failures:   map[string]error{},
	}
}

// step records the operation and returns the injected failure, if any.
// The caller must hold fc.mu.
func (fc *fakeControl) step(op string) error {
	fc.ops = append(fc.ops, op)
	return fc.failures[op]
}

func (fc *fakeControl) CreateNamespace(name string) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if err := fc.step("create-ns " + name); err != nil {
		return err
	}
	if fc.namespaces[name] {
		return fmt.Errorf("%w: namespace %s", ErrAlreadyExists, name)
	}
	fc.namespaces[name] = true
	return nil
}

func (fc *fakeControl) DeleteNamespace(name string) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if err := fc.step("delete-ns " + name); err != nil {
		return err
	}
	if !fc.namespaces[name] {
		return fmt.Errorf("%w: namespace %s", ErrResourceNotFound, name)
	}
	delete(fc.namespaces, name)
	// veth endpoints die with the namespace that owns them, and their
	// peers die with them
	for ifname, owner := range fc.interfaces {
		if owner != name {
			continue
		}
		delete(fc.interfaces, ifname)
		if peer, good := fc.peers[ifname]; good {
			delete(fc.interfaces, peer)
			delete(fc.peers, peer)
		}
		delete(fc.peers, ifname)
	}
	return nil
}

func (fc *fakeControl) CreateVethPair(name, peerName string) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if err := fc.step(fmt.Sprintf("create-veth %s %s", name, peerName)); err != nil {
		return err
	}
	if _, good := fc.interfaces[name]; good {
		return fmt.Errorf("%w: interface %s", ErrAlreadyExists, name)
	}
	if _, good := fc.interfaces[peerName]; good {
		return fmt.Errorf("%w: interface %s", ErrAlreadyExists, peerName)
	}
	fc.interfaces[name] = ""
	fc.interfaces[peerName] = ""
	fc.peers[name] = peerName
	fc.peers[peerName] = name
	return nil
}

func (fc *fakeControl) DeleteInterface(name string) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if err := fc.step("delete-iface " + name); err != nil {
		return err
	}
	owner, good := fc.interfaces[name]
	if !good || owner != "" {
		return fmt.Errorf("%w: interface %s", ErrResourceNotFound, name)
	}
	delete(fc.interfaces, name)
	if peer, good := fc.peers[name]; good {
		delete(fc.interfaces, peer)
		delete(fc.peers, peer)
	}
	delete(fc.peers, name)
	return nil
}

func (fc *fakeControl) MoveInterface(name, namespace string) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if err := fc.step(fmt.Sprintf("move %s %s", name, namespace)); err != nil {
		return err
	}
	owner, good := fc.interfaces[name]
	if !good || owner != "" {
		return fmt.Errorf("%w: interface %s", ErrResourceNotFound, name)
	}
	if !fc.namespaces[namespace] {
		return fmt.Errorf("%w: namespace %s", ErrResourceNotFound, namespace)
	}
	fc.interfaces[name] = namespace
	return nil
}

func (fc *fakeControl) SetInterfaceUp(namespace, name string) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if err := fc.step(fmt.Sprintf("up %s %s", namespace, name)); err != nil {
		return err
	}
	return fc.requireInterface(namespace, name)
}

func (fc *fakeControl) AssignAddress(namespace, name, cidr string) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if err := fc.step(fmt.Sprintf("addr %s %s %s", namespace, name, cidr)); err != nil {
		return err
	}
	return fc.requireInterface(namespace, name)
}

func (fc *fakeControl) ReplaceNetem(namespace, name string, cfg NetemConfig) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if err := fc.step(fmt.Sprintf("netem %s %s", namespace, name)); err != nil {
		return err
	}
	if err := fc.requireInterface(namespace, name); err != nil {
		return err
	}
	fc.netem[namespace+"/"+name] = cfg
	return nil
}

func (fc *fakeControl) DeleteRootQdisc(namespace, name string) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if err := fc.step(fmt.Sprintf("del-qdisc %s %s", namespace, name)); err != nil {
		return err
	}
	if err := fc.requireInterface(namespace, name); err != nil {
		return err
	}
	if _, good := fc.netem[namespace+"/"+name]; !good {
		return fmt.Errorf("%w: no root qdisc on %s", ErrResourceNotFound, name)
	}
	delete(fc.netem, namespace+"/"+name)
	return nil
}

// requireInterface checks that the interface exists in the namespace.
// Loopback always exists. The caller must hold fc.mu.
func (fc *fakeControl) requireInterface(namespace, name string) error {
	if name == "lo" {
		return nil
	}
	if owner, good := fc.interfaces[name]; !good || owner != namespace {
		return fmt.Errorf("%w: interface %s in namespace %q", ErrResourceNotFound, name, namespace)
	}
	return nil
}

var _ NetworkControl = &fakeControl{}

func TestTopologyCreateNodeTracksExistingNamespace(t *testing.T) {
	fc := newFakeControl()
	fc.namespaces["rn-client"] = true // stale leftover from a previous run
	topo := NewTopology(fc, &discardLogger{})

	node, err := topo.CreateNode("rn-client")
	if err != nil {
		t.Fatal(err)
	}
	if node.State != NodeCreated {
		t.Fatal("expected the node to be in the created state")
	}
	if !topo.Registry().Contains(ResourceNamespace, "rn-client") {
		t.Fatal("expected the preexisting namespace to be tracked for cleanup")
	}

	topo.Cleanup()
	if fc.namespaces["rn-client"] {
		t.Fatal("expected cleanup to remove the preexisting namespace")
	}
}

func TestTopologyLinkNodes(t *testing.T) {
	fc := newFakeControl()
	topo := NewTopology(fc, &discardLogger{})
	client := mustCreateNode(t, topo, "rn-client")
	server := mustCreateNode(t, topo, "rn-server")

	epClient, epServer, err := topo.LinkNodes(client, server, "10.0.0.1", "10.0.0.2", 24)
	if err != nil {
		t.Fatal(err)
	}
	if epClient.Peer() != epServer || epServer.Peer() != epClient {
		t.Fatal("expected the endpoints to be peered with each other")
	}
	if epClient.Address != "10.0.0.1/24" || epServer.Address != "10.0.0.2/24" {
		t.Fatal("unexpected endpoint addresses")
	}
	if fc.interfaces[epClient.InterfaceName] != "rn-client" {
		t.Fatal("expected the client endpoint to live in the client namespace")
	}
	if fc.interfaces[epServer.InterfaceName] != "rn-server" {
		t.Fatal("expected the server endpoint to live in the server namespace")
	}

	// both endpoints and both loopbacks must have been brought up
	expectOps := []string{
		fmt.Sprintf("up rn-client %s", epClient.InterfaceName),
		fmt.Sprintf("addr rn-client %s 10.0.0.1/24", epClient.InterfaceName),
		"up rn-client lo",
		fmt.Sprintf("up rn-server %s", epServer.InterfaceName),
		fmt.Sprintf("addr rn-server %s 10.0.0.2/24", epServer.InterfaceName),
		"up rn-server lo",
	}
	if diff := cmp.Diff(expectOps, fc.ops[len(fc.ops)-len(expectOps):]); diff != "" {
		t.Fatal(diff)
	}
}

func TestTopologyLinkNodesRejectsSelfLink(t *testing.T) {
	fc := newFakeControl()
	topo := NewTopology(fc, &discardLogger{})
	client := mustCreateNode(t, topo, "rn-client")
	if _, _, err := topo.LinkNodes(client, client, "10.0.0.1", "10.0.0.2", 24); err == nil {
		t.Fatal("expected an error when linking a node to itself")
	}
}

func TestTopologyPartialLinkFailureStillCleansUp(t *testing.T) {
	fc := newFakeControl()
	topo := NewTopology(fc, &discardLogger{})
	client := mustCreateNode(t, topo, "rn-client")
	server := mustCreateNode(t, topo, "rn-server")

	// make the second move fail so the pair exists but setup aborts
	ifnameServer := EndpointName("rn-server", "rn-client")
	fc.failures[fmt.Sprintf("move %s rn-server", ifnameServer)] = ErrPermissionDenied

	if _, _, err := topo.LinkNodes(client, server, "10.0.0.1", "10.0.0.2", 24); err == nil {
		t.Fatal("expected the link setup to fail")
	}

	ifnameClient := EndpointName("rn-client", "rn-server")
	if !topo.Registry().Contains(ResourceInterface, ifnameClient) {
		t.Fatal("expected the half-built link to stay registered for cleanup")
	}

	topo.Cleanup()
	if len(fc.interfaces) != 0 || len(fc.namespaces) != 0 {
		t.Fatal("expected cleanup to reach every partially created resource")
	}
}

func TestTopologyCleanupRemovesInterfacesBeforeNamespaces(t *testing.T) {
	fc := newFakeControl()
	topo := NewTopology(fc, &discardLogger{})
	client := mustCreateNode(t, topo, "rn-client")
	server := mustCreateNode(t, topo, "rn-server")
	if _, _, err := topo.LinkNodes(client, server, "10.0.0.1", "10.0.0.2", 24); err != nil {
		t.Fatal(err)
	}

	before := len(fc.ops)
	topo.Cleanup()
	lastIface, firstNs := -1, -1
	for idx, op := range fc.ops[before:] {
		if strings.HasPrefix(op, "delete-iface ") && idx > lastIface {
			lastIface = idx
		}
		if strings.HasPrefix(op, "delete-ns ") && firstNs < 0 {
			firstNs = idx
		}
	}
	if lastIface < 0 || firstNs < 0 || lastIface > firstNs {
		t.Fatal("expected every interface removal to precede namespace removal")
	}
	if client.State != NodeDestroyed || server.State != NodeDestroyed {
		t.Fatal("expected both nodes to be marked destroyed")
	}
}

func TestTopologyCleanupIsIdempotent(t *testing.T) {
	fc := newFakeControl()
	topo := NewTopology(fc, &discardLogger{})
	client := mustCreateNode(t, topo, "rn-client")
	server := mustCreateNode(t, topo, "rn-server")
	if _, _, err := topo.LinkNodes(client, server, "10.0.0.1", "10.0.0.2", 24); err != nil {
		t.Fatal(err)
	}

	topo.Cleanup()
	opsAfterFirst := len(fc.ops)
	topo.Cleanup()
	if len(fc.ops) != opsAfterFirst {
		t.Fatal("expected the second cleanup to find a drained registry")
	}
	if topo.Registry().Len() != 0 {
		t.Fatal("expected the registry to be empty after cleanup")
	}
}

func TestEndpointNameIsCollisionResistant(t *testing.T) {
	// names sharing a long common tail used to collide under truncation
	first := EndpointName("alpha-client", "server")
	second := EndpointName("bravo-client", "server")
	if first == second {
		t.Fatal("expected distinct node pairs to produce distinct endpoint names")
	}
	// reversing the pair addresses the other endpoint
	if EndpointName("a", "b") == EndpointName("b", "a") {
		t.Fatal("expected the two ends of a link to have distinct names")
	}
	// deterministic and short enough for IFNAMSIZ
	if first != EndpointName("alpha-client", "server") {
		t.Fatal("expected endpoint naming to be deterministic")
	}
	if len(first) > 15 {
		t.Fatal("endpoint name exceeds the interface name limit:", first)
	}
}

func TestNewClientServerTopology(t *testing.T) {
	fc := newFakeControl()
	topo, err := NewClientServerTopology(
		fc, &discardLogger{}, "rn-client", "rn-server", "10.0.0.1", "10.0.0.2")
	if err != nil {
		t.Fatal(err)
	}
	clientIP, err := topo.ClientEndpoint.IP()
	if err != nil {
		t.Fatal(err)
	}
	if clientIP.String() != "10.0.0.1" {
		t.Fatal("unexpected client address", clientIP)
	}
	if topo.ClientEndpoint.Peer() != topo.ServerEndpoint {
		t.Fatal("expected the client and server endpoints to be peered")
	}

	if err := topo.Close(); err != nil {
		t.Fatal(err)
	}
	if len(fc.namespaces) != 0 {
		t.Fatal("expected close to remove both namespaces")
	}
	if err := topo.Close(); err != nil { // second close is a no-op
		t.Fatal(err)
	}
}

func TestNewClientServerTopologySetupFailureCleansUp(t *testing.T) {
	fc := newFakeControl()
	ifname := EndpointName("rn-client", "rn-server")
	fc.failures[fmt.Sprintf("move %s rn-client", ifname)] = ErrPermissionDenied

	topo, err := NewClientServerTopology(
		fc, &discardLogger{}, "rn-client", "rn-server", "10.0.0.1", "10.0.0.2")
	if err == nil {
		t.Fatal("expected the setup to fail")
	}
	if topo != nil {
		t.Fatal("expected a nil topology on setup failure")
	}
	if len(fc.namespaces) != 0 || len(fc.interfaces) != 0 {
		t.Fatal("expected the failed setup to leave nothing behind")
	}
}

func mustCreateNode(t *testing.T, topo *Topology, name string) *Node {
	t.Helper()
	node, err := topo.CreateNode(name)
	if err != nil {
		t.Fatal(err)
	}
	return node
}
