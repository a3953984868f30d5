package wire

import (
	"sync"

	version "github.com/hashicorp/go-version"
)

// Negotiator decides, per Design Notes §9, whether the legacy
// CLUSTER_KEY field must be attached to an outgoing probe: required
// only for peers at or below a configured legacy version. Sending it
// unconditionally is always safe, so an unknown peer version defaults
// to "required".
type Negotiator struct {
	legacyCeiling *version.Version

	mu       sync.RWMutex
	observed map[string]*version.Version
}

// NewNegotiator builds a Negotiator that requires CLUSTER_KEY for any
// peer at or below legacyCeiling (e.g. "1.0.0").
func NewNegotiator(legacyCeiling string) (*Negotiator, error) {
	ceiling, err := version.NewVersion(legacyCeiling)
	if err != nil {
		return nil, err
	}
	return &Negotiator{
		legacyCeiling: ceiling,
		observed:      make(map[string]*version.Version),
	}, nil
}

// Observe records a peer's negotiated protocol version, learned out of
// band (e.g. during cluster membership exchange).
func (n *Negotiator) Observe(peer string, peerVersion string) error {
	v, err := version.NewVersion(peerVersion)
	if err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.observed[peer] = v
	return nil
}

// RequiresClusterKey reports whether an outgoing probe to peer must
// carry the legacy CLUSTER_KEY field. An unobserved peer is treated as
// legacy, since sending the field unconditionally is always safe.
func (n *Negotiator) RequiresClusterKey(peer string) bool {
	n.mu.RLock()
	v, ok := n.observed[peer]
	n.mu.RUnlock()
	if !ok {
		return true
	}
	return v.Compare(n.legacyCeiling) <= 0
}
