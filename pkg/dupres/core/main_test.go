package core_test

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain verifies the originator/responder/table concurrency never
// leaks a goroutine across a test run — the natural check for this
// package's refcounted, multiply-owned Request lifecycle.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
