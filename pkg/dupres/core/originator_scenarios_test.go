package core_test

import (
	"sync"
	"testing"
	"time"

	"github.com/jabolina/dupres/pkg/dupres/core"
	"github.com/jabolina/dupres/pkg/dupres/types"
)

// callbackRecorder captures exactly the callback invocations a single
// resolution should produce, per §4.4 step 10 and §8's "exactly-once
// callback" property.
type callbackRecorder struct {
	mu    sync.Mutex
	calls []callbackCall
}

type callbackCall struct {
	key    types.RecordKey
	result types.ResultCode
}

func (c *callbackRecorder) cb(key types.RecordKey, result types.ResultCode) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, callbackCall{key: key, result: result})
	return true
}

func (c *callbackRecorder) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func (c *callbackRecorder) last() callbackCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[len(c.calls)-1]
}

// S1: two peers reply, one strictly newer — the newer one wins and is
// applied locally exactly once.
func TestScenario_TwoPeersClearWinner(t *testing.T) {
	h := newHarness(t, 2)
	key := testKey(1)

	h.responds[h.peers[0]].Seed(key, types.VersionStamp{Generation: 3, LastUpdateTime: 100}, []types.Bin{{Name: "bin", Value: []byte("old")}})
	h.responds[h.peers[1]].Seed(key, types.VersionStamp{Generation: 5, LastUpdateTime: 200}, []types.Bin{{Name: "bin", Value: []byte("new")}})

	rec := &callbackRecorder{}
	origin := &fakeOrigin{}
	_, err := h.origin.Probe(bgCtx(), key, 1, origin, h.peers, types.GenerationFirst, nil, nil, time.Second, rec.cb)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}

	waitFor(t, time.Second, func() bool { return rec.count() == 1 })
	if got := rec.last().result; got != types.ResultOK {
		t.Fatalf("expected OK, got %s", got)
	}

	version, found, err := h.store.RecordGet(key)
	if err != nil || !found {
		t.Fatalf("expected record applied locally, found=%v err=%v", found, err)
	}
	if version.Generation != 5 || version.LastUpdateTime != 200 {
		t.Fatalf("expected winner's version applied, got %+v", version)
	}
	if h.table.Len() != 0 {
		t.Fatalf("expected request removed from table, Len()=%d", h.table.Len())
	}
}

// S2: both peers reply with an identical version stamp — a tie. The
// first-arriving reply stays the best and is written to the empty
// local store, so the result is OK and the callback fires exactly once.
func TestScenario_Tie(t *testing.T) {
	h := newHarness(t, 2)
	key := testKey(2)

	stamp := types.VersionStamp{Generation: 7, LastUpdateTime: 500}
	h.responds[h.peers[0]].Seed(key, stamp, []types.Bin{{Name: "bin", Value: []byte("a")}})
	h.responds[h.peers[1]].Seed(key, stamp, []types.Bin{{Name: "bin", Value: []byte("b")}})

	rec := &callbackRecorder{}
	origin := &fakeOrigin{}
	_, err := h.origin.Probe(bgCtx(), key, 1, origin, h.peers, types.GenerationFirst, nil, nil, time.Second, rec.cb)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}

	waitFor(t, time.Second, func() bool { return rec.count() == 1 })
	if got := rec.last().result; got != types.ResultOK {
		t.Fatalf("expected OK on tie, got %s", got)
	}
}

// S3: a second ack from a peer that already answered is dropped
// without a second callback invocation.
func TestScenario_DuplicateAck(t *testing.T) {
	h := newHarness(t, 1)
	key := testKey(3)
	h.responds[h.peers[0]].Seed(key, types.VersionStamp{Generation: 1, LastUpdateTime: 10}, []types.Bin{{Name: "bin", Value: []byte("x")}})

	rec := &callbackRecorder{}
	origin := &fakeOrigin{}
	req, err := h.origin.Probe(bgCtx(), key, 1, origin, h.peers, types.GenerationFirst, nil, nil, time.Second, rec.cb)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	_ = req

	waitFor(t, time.Second, func() bool { return rec.count() == 1 })

	// Replay an ack for an already-completed (and now removed) request:
	// must be silently dropped, not double-delivered.
	h.origin.HandleAck(bgCtx(), h.peers[0], fakeAckMessage(t, key, 1, types.ResultOK, 1, 10))
	if rec.count() != 1 {
		t.Fatalf("expected exactly one callback invocation, got %d", rec.count())
	}
}

// S4: an ack from a node never listed as a peer for this key is
// dropped and does not affect completion.
func TestScenario_StrangerAck(t *testing.T) {
	h := newHarness(t, 2)
	key := testKey(4)
	h.responds[h.peers[0]].Seed(key, types.VersionStamp{Generation: 1, LastUpdateTime: 10}, []types.Bin{{Name: "bin", Value: []byte("x")}})
	h.responds[h.peers[1]].Seed(key, types.VersionStamp{Generation: 1, LastUpdateTime: 10}, []types.Bin{{Name: "bin", Value: []byte("x")}})

	rec := &callbackRecorder{}
	origin := &fakeOrigin{}
	_, err := h.origin.Probe(bgCtx(), key, 1, origin, h.peers, types.GenerationFirst, nil, nil, time.Second, rec.cb)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}

	h.origin.HandleAck(bgCtx(), types.NodeID("nobody"), fakeAckMessage(t, key, 1, types.ResultOK, 1, 10))

	waitFor(t, time.Second, func() bool { return rec.count() == 1 })
	if rec.count() != 1 {
		t.Fatalf("expected exactly one callback invocation, got %d", rec.count())
	}
}

// S5: a peer answers FAIL_RESTART_REQUIRED; the transaction is
// re-enqueued via origin.Restart and the request is torn down without
// ever invoking the normal dup-res callback.
func TestScenario_RestartPath(t *testing.T) {
	h := newHarness(t, 1)
	key := testKey(5)

	rec := &callbackRecorder{}
	origin := &fakeOrigin{}
	clientMsg := &types.FabricMessage{Payload: []byte("client-request")}
	_, err := h.origin.Probe(bgCtx(), key, 1, origin, h.peers, types.GenerationFirst, nil, clientMsg, time.Second, rec.cb)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}

	h.origin.HandleAck(bgCtx(), h.peers[0], fakeAckMessage(t, key, 1, types.ResultRestartRequired, 0, 0))

	waitFor(t, time.Second, func() bool { return origin.wasRestarted() })
	if rec.count() != 0 {
		t.Fatalf("expected no dup-res callback on restart path, got %d calls", rec.count())
	}
	if h.table.Len() != 0 {
		t.Fatalf("expected request removed from table after restart, Len()=%d", h.table.Len())
	}
}

// S6: the timeout thread detaches origin before a straggling ack
// arrives. The straggler must still be processed (best-reply update,
// apply-winner) so local storage benefits, but must not trigger a
// second client-visible callback.
func TestScenario_TimeoutRaceWithStragglingAck(t *testing.T) {
	h := newHarness(t, 2)
	key := testKey(6)

	rec := &callbackRecorder{}
	origin := &fakeOrigin{}
	req, err := h.origin.Probe(bgCtx(), key, 1, origin, h.peers, types.GenerationFirst, nil, nil, time.Second, rec.cb)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	_ = req

	// Timeout fires before any peer has answered: detach origin.
	h.origin.TimeoutCB(key)

	// Now the straggling acks arrive from both peers, completing the
	// set and driving apply-winner, but origin is gone so no client
	// callback fires.
	h.origin.HandleAck(bgCtx(), h.peers[0], fakeAckMessageWithRecord(t, key, 1, types.ResultOK, 4, 40))
	h.origin.HandleAck(bgCtx(), h.peers[1], fakeAckMessageWithRecord(t, key, 1, types.ResultOK, 9, 90))

	waitFor(t, time.Second, func() bool { return h.table.Len() == 0 })
	if rec.count() != 0 {
		t.Fatalf("expected no client callback after timeout detached origin, got %d", rec.count())
	}

	version, found, err := h.store.RecordGet(key)
	if err != nil || !found {
		t.Fatalf("expected straggling winner still applied locally, found=%v err=%v", found, err)
	}
	if version.Generation != 9 || version.LastUpdateTime != 90 {
		t.Fatalf("expected higher-generation straggler applied, got %+v", version)
	}
}

// Probing the same key twice while the first resolution is still
// inflight must fail with ErrAlreadyInflight (§3 invariant 1).
func TestProbe_RejectsDuplicateInflightKey(t *testing.T) {
	h := newHarness(t, 1)
	key := testKey(7)

	blockingPeer := types.NodeID("unreachable-peer")
	rec := &callbackRecorder{}
	origin := &fakeOrigin{}
	_, err := h.origin.Probe(bgCtx(), key, 1, origin, []types.NodeID{blockingPeer}, types.GenerationFirst, nil, nil, time.Second, rec.cb)
	if err != nil {
		t.Fatalf("first Probe: %v", err)
	}

	_, err = h.origin.Probe(bgCtx(), key, 2, origin, []types.NodeID{blockingPeer}, types.GenerationFirst, nil, nil, time.Second, rec.cb)
	if err != core.ErrAlreadyInflight {
		t.Fatalf("expected ErrAlreadyInflight, got %v", err)
	}
}

// Abandon force-completes and removes a request even with no peers
// having answered, and is idempotent.
func TestAbandon_ForceRemovesAndIsIdempotent(t *testing.T) {
	h := newHarness(t, 1)
	key := testKey(8)

	rec := &callbackRecorder{}
	origin := &fakeOrigin{}
	_, err := h.origin.Probe(bgCtx(), key, 1, origin, []types.NodeID{"unreachable"}, types.GenerationFirst, nil, nil, time.Second, rec.cb)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}

	h.origin.Abandon(key)
	if h.table.Len() != 0 {
		t.Fatalf("expected table empty after Abandon, Len()=%d", h.table.Len())
	}
	// Idempotent: a second Abandon on an already-absent key is a no-op.
	h.origin.Abandon(key)
}
