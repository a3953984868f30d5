package types

import "time"

// Configuration bundles everything a duplicate-resolution core needs
// to run for one namespace, mirroring the split the teacher uses
// between a per-peer PeerConfiguration and a cluster-wide
// BaseConfiguration.
type Configuration struct {
	// Namespace is the human-readable namespace name, carried on the
	// wire for cross-version compatibility alongside NamespaceID.
	Namespace string

	NamespaceID NamespaceID

	// Policy is the conflict-resolution policy for this namespace.
	Policy ConflictPolicy

	// ProtocolVersion is the wire protocol version this node speaks.
	ProtocolVersion uint32

	// LegacyPeerVersion is the highest peer version still requiring
	// the CLUSTER_KEY compatibility field on outgoing probes.
	LegacyPeerVersion string

	// ClusterKey is this node's legacy cluster key, sent on probes
	// when the destination peer's negotiated version requires it.
	ClusterKey uint64

	// ProbeDeadline bounds how long the originator waits for answers
	// before the retransmit/timeout subsystem may detach the origin.
	ProbeDeadline time.Duration

	// RetransmitInterval is how often an unanswered probe is resent.
	RetransmitInterval time.Duration

	Logger  Logger
	Storage Storage
	Fabric  Fabric
}

// DefaultConfiguration returns sane defaults for namespace, the way the
// teacher's mcast.DefaultConfiguration seeds a Unity.
func DefaultConfiguration(namespace string, nsID NamespaceID) *Configuration {
	return &Configuration{
		Namespace:           namespace,
		NamespaceID:         nsID,
		Policy:              GenerationFirst,
		ProtocolVersion:     2,
		LegacyPeerVersion:   "1.0.0",
		ProbeDeadline:       1 * time.Second,
		RetransmitInterval:  100 * time.Millisecond,
	}
}
