package resilinet

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestResourceRegistryTracksInCreationOrder(t *testing.T) {
	registry := NewResourceRegistry()
	registry.Add(ResourceNamespace, "client")
	registry.Add(ResourceInterface, "ve-00000001")
	registry.Add(ResourceNamespace, "server")
	registry.Add(ResourceInterface, "ve-00000002")

	if registry.Len() != 4 {
		t.Fatal("expected 4 entries, got", registry.Len())
	}
	if !registry.Contains(ResourceNamespace, "client") {
		t.Fatal("expected the client namespace to be tracked")
	}
	if registry.Contains(ResourceInterface, "ve-ffffffff") {
		t.Fatal("did not expect an untracked interface to be reported")
	}

	expect := []ResourceEntry{
		{Kind: ResourceInterface, ID: "ve-00000001"},
		{Kind: ResourceInterface, ID: "ve-00000002"},
	}
	if diff := cmp.Diff(expect, registry.Drain(ResourceInterface)); diff != "" {
		t.Fatal(diff)
	}

	// namespaces must survive an interface drain
	expect = []ResourceEntry{
		{Kind: ResourceNamespace, ID: "client"},
		{Kind: ResourceNamespace, ID: "server"},
	}
	if diff := cmp.Diff(expect, registry.Drain(ResourceNamespace)); diff != "" {
		t.Fatal(diff)
	}
	if registry.Len() != 0 {
		t.Fatal("expected an empty registry after draining both kinds")
	}
}

func TestResourceRegistryDrainTwice(t *testing.T) {
	registry := NewResourceRegistry()
	registry.Add(ResourceInterface, "ve-00000001")
	if entries := registry.Drain(ResourceInterface); len(entries) != 1 {
		t.Fatal("expected one drained entry, got", len(entries))
	}
	if entries := registry.Drain(ResourceInterface); len(entries) != 0 {
		t.Fatal("expected the second drain to return nothing, got", len(entries))
	}
}

func TestResourceRegistryDuplicatesAreLegal(t *testing.T) {
	registry := NewResourceRegistry()
	registry.Add(ResourceNamespace, "client")
	registry.Add(ResourceNamespace, "client")
	if registry.Len() != 2 {
		t.Fatal("expected duplicate registration to be kept, got", registry.Len())
	}
}

func TestResourceKindString(t *testing.T) {
	if ResourceNamespace.String() != "namespace" ||
		ResourceInterface.String() != "interface" ||
		ResourceKind(42).String() != "unknown" {
		t.Fatal("unexpected resource kind rendering")
	}
}
