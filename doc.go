// Package resilinet builds ephemeral, isolated virtual network topologies
// on a single Linux host, degrades the link between them, and verifies
// protocol-level behavior across the degraded link.
//
// The [Topology] type creates network namespaces ("nodes") and connects
// them with veth pairs, recording every created resource into a
// [ResourceRegistry] so that [Topology.Cleanup] can remove everything no
// matter how a run ends. Use [NewClientServerTopology] for the canonical
// two-node client/server setup.
//
// The [ImpairmentController] translates a declarative [ImpairmentProfile]
// (delay, jitter, loss, reordering) into a netem queueing discipline and
// applies it to one [LinkEndpoint]. Applying a new profile fully replaces
// the previous one; clearing is idempotent.
//
// Because the active network namespace is an attribute of the calling
// OS-level thread, code that must run "inside" another node cannot share a
// thread with the rest of the program. The [Executor] runs a [Job] on a
// freshly spawned goroutine locked to a freshly spawned OS-level thread,
// switches that thread into the target namespace, and reports exactly one
// [Result] back on a one-shot channel. The thread is discarded afterwards
// and never returns to the scheduler.
//
// The [ProtocolValidator] composes the above to run two-sided assertions:
// it starts a capture [Job] in one node, waits for the capture unit to
// acknowledge that it is listening, only then dispatches a stimulus [Job]
// into the other node, and finally evaluates the captured packets. The
// readiness handshake replaces the fixed sleeps that make such tests racy.
// Two assertions are built in: [HandshakeAssertion] checks TCP SYN
// delivery and [FragmentationAssertion] checks IP fragmentation of an
// oversized ICMP datagram.
//
// Everything that touches the kernel goes through the [NetworkControl]
// capability, implemented on netlink by [NewNetlinkControl]; tests may
// substitute a fake. Creating namespaces, veth devices, and queueing
// disciplines requires CAP_NET_ADMIN, so the integration tests and the
// cmd/resilinet harness must run as root.
package resilinet
