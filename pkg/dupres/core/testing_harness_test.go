package core_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jabolina/dupres/pkg/dupres/core"
	"github.com/jabolina/dupres/pkg/dupres/definition"
	"github.com/jabolina/dupres/pkg/dupres/fabric"
	"github.com/jabolina/dupres/pkg/dupres/storage"
	"github.com/jabolina/dupres/pkg/dupres/types"
)

// harness wires one originator node plus N responder nodes over an
// in-process fabric.Switch, the way the teacher's protocol_test.go
// wires several Unity instances over a shared test invoker.
type harness struct {
	t        *testing.T
	sw       *fabric.Switch
	log      types.Logger
	table    *core.InflightTable
	origin   *core.Originator
	store    *storage.Memory
	peers    []types.NodeID
	responds map[types.NodeID]*storage.Memory
}

func newHarness(t *testing.T, peerCount int) *harness {
	t.Helper()
	sw := fabric.NewSwitch()
	log := definition.NewDefaultLogger()

	originFab := fabric.NewMemoryFabric(sw, "origin")
	originStore := storage.NewMemory(log)
	table := core.NewInflightTable()
	orig := core.NewOriginator(table, originFab, originStore, log, core.NewInvoker(), nil)
	originFab.Register(wireAckChannel(), orig.Handler())

	h := &harness{
		t:        t,
		sw:       sw,
		log:      log,
		table:    table,
		origin:   orig,
		store:    originStore,
		responds: make(map[types.NodeID]*storage.Memory),
	}

	for i := 0; i < peerCount; i++ {
		node := types.NodeID(peerName(i))
		peerFab := fabric.NewMemoryFabric(sw, node)
		peerStore := storage.NewMemory(log)
		resp := &core.Responder{
			Namespace:   "test",
			NamespaceID: 1,
			Policy:      types.GenerationFirst,
			Storage:     peerStore,
			Fabric:      peerFab,
			Log:         log,
			Invoker:     core.NewInvoker(),
		}
		peerFab.Register(wireAckChannel(), resp.Handler())
		h.peers = append(h.peers, node)
		h.responds[node] = peerStore
	}

	return h
}

func peerName(i int) string {
	return string(rune('A' + i))
}

func wireAckChannel() types.Channel { return types.RW }

type fakeOrigin struct {
	mu        sync.Mutex
	restarted bool
	restartMp *types.FabricMessage
}

func (f *fakeOrigin) Restart(msgp *types.FabricMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarted = true
	f.restartMp = msgp
	return nil
}

func (f *fakeOrigin) wasRestarted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.restarted
}

// waitFor polls cond until it returns true or the deadline elapses,
// failing the test on timeout. The in-process fabric hands each
// message to its handler synchronously, but the originator and
// responder handlers process it on a goroutine spawned through the
// Invoker, so cond may only become true after some polling.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %s", timeout)
		}
		time.Sleep(time.Millisecond)
	}
}

func testKey(b byte) types.RecordKey {
	var d types.Digest
	d[0] = b
	return types.RecordKey{NamespaceID: 1, Digest: d}
}

func bgCtx() context.Context { return context.Background() }
