package core

import "github.com/jabolina/dupres/pkg/dupres/types"

// RestartPolicy gates the §4.4 step 6 restart-enqueue path. The source
// this spec is drawn from has a documented TODO about throttling
// restart storms; exposing the decision as a policy hook lets a caller
// add throttling later without touching the originator state machine.
type RestartPolicy interface {
	// ShouldThrottle reports whether a restart for key should be
	// suppressed right now. The default policy never throttles.
	ShouldThrottle(key types.RecordKey) bool
}

// NoThrottle never suppresses a restart.
type NoThrottle struct{}

func (NoThrottle) ShouldThrottle(types.RecordKey) bool { return false }
