package wire

import "testing"

func TestNegotiator_UnknownPeerDefaultsToLegacy(t *testing.T) {
	n, err := NewNegotiator("1.0.0")
	if err != nil {
		t.Fatalf("new negotiator: %v", err)
	}
	if !n.RequiresClusterKey("peer-a") {
		t.Fatal("unobserved peer must default to requiring CLUSTER_KEY")
	}
}

func TestNegotiator_ModernPeerSkipsClusterKey(t *testing.T) {
	n, err := NewNegotiator("1.0.0")
	if err != nil {
		t.Fatalf("new negotiator: %v", err)
	}
	if err := n.Observe("peer-b", "2.1.0"); err != nil {
		t.Fatalf("observe: %v", err)
	}
	if n.RequiresClusterKey("peer-b") {
		t.Fatal("a modern peer should not require CLUSTER_KEY")
	}
}

func TestNegotiator_LegacyPeerRequiresClusterKey(t *testing.T) {
	n, err := NewNegotiator("1.0.0")
	if err != nil {
		t.Fatalf("new negotiator: %v", err)
	}
	if err := n.Observe("peer-c", "0.9.5"); err != nil {
		t.Fatalf("observe: %v", err)
	}
	if !n.RequiresClusterKey("peer-c") {
		t.Fatal("a peer below the legacy ceiling must require CLUSTER_KEY")
	}
}
