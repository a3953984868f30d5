// Package policy implements the pure conflict-resolution order over
// (generation, last_update_time) pairs described in §4.1: a total order
// under a configured tie-breaking rule, with no side effects and no
// dependency on storage or transport.
package policy

import "github.com/jabolina/dupres/pkg/dupres/types"

// Resolve compares (genA, lutA) against (genB, lutB) under policy.
// It returns a negative value when B wins, zero on a tie, and a
// positive value when A wins.
//
// Generation is compared as a plain 16-bit value, not wrap-aware: this
// preserves cross-version tie-breaking compatibility with peers still
// running the original 16-bit comparison, even though a wrap-aware
// comparison would be "more correct" in isolation.
func Resolve(p types.ConflictPolicy, genA types.Generation, lutA uint64, genB types.Generation, lutB uint64) int {
	switch p {
	case types.LastUpdateFirst:
		if c := compareU64(lutA, lutB); c != 0 {
			return c
		}
		return compareGeneration(genA, genB)
	default: // types.GenerationFirst
		if c := compareGeneration(genA, genB); c != 0 {
			return c
		}
		return compareU64(lutA, lutB)
	}
}

func compareGeneration(a, b types.Generation) int {
	if a == b {
		return 0
	}
	if a > b {
		return 1
	}
	return -1
}

func compareU64(a, b uint64) int {
	if a == b {
		return 0
	}
	if a > b {
		return 1
	}
	return -1
}

// Wins reports whether challenger strictly beats incumbent under
// policy: the "strict-better" test that the originator's best-reply
// update (§4.4 step 7) and the responder's short-circuit check (§4.3
// step 4) each apply by calling Resolve directly.
func Wins(p types.ConflictPolicy, challengerGen types.Generation, challengerLUT uint64, incumbentGen types.Generation, incumbentLUT uint64) bool {
	return Resolve(p, challengerGen, challengerLUT, incumbentGen, incumbentLUT) > 0
}
