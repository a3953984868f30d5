package types

// ConflictPolicy selects which field of a VersionStamp is compared
// first when resolving a duplicate.
type ConflictPolicy uint8

const (
	// GenerationFirst compares generation, then last-update-time.
	GenerationFirst ConflictPolicy = iota

	// LastUpdateFirst compares last-update-time, then generation.
	LastUpdateFirst
)

func (p ConflictPolicy) String() string {
	if p == LastUpdateFirst {
		return "last-update-first"
	}
	return "generation-first"
}
