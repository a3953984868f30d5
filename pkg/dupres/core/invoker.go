// Package core implements the concurrent duplicate-resolution state
// machine: the in-flight request table (§4.6), the responder
// (§4.3), the originator (§4.4) and apply-winner (§4.5).
package core

// Invoker spawns background work. It exists as its own seam — mirroring
// the teacher's core.Invoker used throughout peer.go and transport.go
// (p.invoker.Spawn(p.poll), p.invoker.Spawn(apply), ...) — so tests can
// swap in a WaitGroup-tracked invoker and assert every spawned task
// finishes, instead of every call site spawning a bare goroutine.
type Invoker interface {
	Spawn(f func())
}

// goroutineInvoker is the production Invoker: fire-and-forget.
type goroutineInvoker struct{}

// NewInvoker returns the production Invoker.
func NewInvoker() Invoker {
	return goroutineInvoker{}
}

func (goroutineInvoker) Spawn(f func()) {
	go f()
}
