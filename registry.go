package resilinet

//
// Resource registry
//

import "sync"

// ResourceKind is the kind of a registered resource.
type ResourceKind int

const (
	// ResourceNamespace identifies a network namespace.
	ResourceNamespace = ResourceKind(iota)

	// ResourceInterface identifies a network interface in the host
	// namespace.
	ResourceInterface
)

// String implements fmt.Stringer.
func (kind ResourceKind) String() string {
	switch kind {
	case ResourceNamespace:
		return "namespace"
	case ResourceInterface:
		return "interface"
	default:
		return "unknown"
	}
}

// ResourceEntry is a single registered resource.
type ResourceEntry struct {
	// Kind is the resource kind.
	Kind ResourceKind

	// ID is the resource identifier (namespace or interface name).
	ID string
}

// ResourceRegistry tracks every namespace and interface created during a
// run so that teardown is total regardless of how the run ends. Entries
// are append-only during setup and cleared only during teardown. The zero
// value is invalid; use [NewResourceRegistry] to construct.
//
// Only the [Topology] that owns the registry may mutate it.
type ResourceRegistry struct {
	// mu provides mutual exclusion.
	mu sync.Mutex

	// entries tracks resources in creation order.
	entries []ResourceEntry
}

// NewResourceRegistry creates an empty [ResourceRegistry].
func NewResourceRegistry() *ResourceRegistry {
	return &ResourceRegistry{
		mu:      sync.Mutex{},
		entries: []ResourceEntry{},
	}
}

// Add registers a resource. Registering the same resource twice is legal:
// over-cleanup of an already-removed resource only produces a log entry,
// while a leaked resource outlives the run.
func (reg *ResourceRegistry) Add(kind ResourceKind, id string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.entries = append(reg.entries, ResourceEntry{Kind: kind, ID: id})
}

// Contains returns whether a resource is already tracked.
func (reg *ResourceRegistry) Contains(kind ResourceKind, id string) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	for _, entry := range reg.entries {
		if entry.Kind == kind && entry.ID == id {
			return true
		}
	}
	return false
}

// Len returns the number of registered entries.
func (reg *ResourceRegistry) Len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.entries)
}

// Drain atomically removes and returns all entries of the given kind, in
// creation order. Teardown uses Drain to visit every entry exactly once.
func (reg *ResourceRegistry) Drain(kind ResourceKind) []ResourceEntry {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	drained := []ResourceEntry{}
	kept := []ResourceEntry{}
	for _, entry := range reg.entries {
		if entry.Kind == kind {
			drained = append(drained, entry)
			continue
		}
		kept = append(kept, entry)
	}
	reg.entries = kept
	return drained
}
