package core

import (
	"context"
	"fmt"
	"time"

	"github.com/jabolina/dupres/pkg/dupres/policy"
	"github.com/jabolina/dupres/pkg/dupres/types"
	"github.com/jabolina/dupres/pkg/dupres/wire"
)

// ErrAlreadyInflight is returned by Probe when §3 invariant 1 ("at most
// one inflight request per key") would otherwise be violated.
var ErrAlreadyInflight = fmt.Errorf("originator: a resolution is already inflight for this key")

// Originator is the per-request state machine of §4.4: it issues
// probes, tracks which peers have answered, keeps a running best
// duplicate, and hands control back to the upstream transaction layer
// once the answer set is complete. It plays the role of the teacher's
// Peer.process/processInitialMessage/exchangeTimestamp trio
// (pkg/mcast/core/peer.go) and Unity.processGMCast's quorum counting
// (pkg/mcast/protocol.go), generalized from "agree on a timestamp" to
// "agree on, and apply, the winning duplicate."
type Originator struct {
	Table   *InflightTable
	Fabric  types.Fabric
	Storage types.Storage
	Log     types.Logger
	Invoker Invoker
	Restart RestartPolicy

	// Negotiator decides, per outgoing peer, whether the legacy
	// CLUSTER_KEY field must be attached (Design Notes §9). Nil means
	// every peer is treated as legacy, the unconditionally-safe default.
	Negotiator *wire.Negotiator
	ClusterKey uint64
}

// NewOriginator wires an Originator from its collaborators. restart may
// be nil, in which case restarts are never throttled.
func NewOriginator(table *InflightTable, fab types.Fabric, store types.Storage, log types.Logger, invoker Invoker, restart RestartPolicy) *Originator {
	if restart == nil {
		restart = NoThrottle{}
	}
	if invoker == nil {
		invoker = NewInvoker()
	}
	return &Originator{Table: table, Fabric: fab, Storage: store, Log: log, Invoker: invoker, Restart: restart}
}

// Probe implements make_probe + setup_request: build a probe for key,
// register the resulting Request in the table under its write lock,
// and send it to every peer. msgp is the original client request
// bytes, whose ownership transfers to the new Request (and, on the
// restart path, onward to the re-enqueued transaction).
func (o *Originator) Probe(ctx context.Context, key types.RecordKey, tid types.Tid, origin types.TransactionOrigin, peers []types.NodeID, pol types.ConflictPolicy, localHint *types.VersionStamp, msgp *types.FabricMessage, deadline time.Duration, cb types.DupResCallback) (*Request, error) {
	reservation, err := o.Storage.ReservePartition(key)
	if err != nil {
		return nil, err
	}

	req := newRequest(key, tid, reservation, time.Now().Add(deadline), origin, peers, pol, msgp, cb, o.Table, o.Fabric)
	if !o.Table.InsertIfAbsent(req) {
		reservation.Release()
		return nil, ErrAlreadyInflight
	}

	probeReq := &wire.ProbeRequest{
		Op:        wire.OpDup,
		Namespace: []byte(fmt.Sprintf("%d", key.NamespaceID)),
		NsID:      uint32(key.NamespaceID),
		Digest:    key.Digest,
		Tid:       uint32(tid),
	}
	if localHint != nil {
		gen := uint32(localHint.Generation)
		lut := localHint.LastUpdateTime
		probeReq.Generation = &gen
		probeReq.LastUpdateTime = &lut
	}

	for _, peer := range peers {
		o.sendProbe(ctx, peer, probeReq)
	}

	return req, nil
}

func (o *Originator) sendProbe(ctx context.Context, peer types.NodeID, probeReq *wire.ProbeRequest) {
	outgoing := *probeReq
	if o.Negotiator == nil || o.Negotiator.RequiresClusterKey(string(peer)) {
		outgoing.ClusterKey = o.ClusterKey
		outgoing.HasClusterKey = true
	}

	out := o.Fabric.MessageGet()
	if err := wire.EncodeRequest(&outgoing, out); err != nil {
		o.Log.Errorf("originator: failed encoding probe to %s: %v", peer, err)
		o.Fabric.MessagePut(out)
		return
	}
	if err := o.Fabric.Send(ctx, peer, out, types.RW); err != nil {
		o.Log.Errorf("originator: failed sending probe to %s: %v", peer, err)
		o.Fabric.MessagePut(out)
	}
}

// Handler adapts HandleAck to the signature Fabric.Register expects,
// dispatching each ack through Invoker so the fabric's receive loop
// never blocks on apply-winner's storage I/O.
func (o *Originator) Handler() func(types.NodeID, *types.FabricMessage) {
	return func(node types.NodeID, msg *types.FabricMessage) {
		o.Invoker.Spawn(func() {
			o.HandleAck(context.Background(), node, msg)
		})
	}
}

// HandleAck implements §4.4 steps 1-10.
func (o *Originator) HandleAck(ctx context.Context, node types.NodeID, msg *types.FabricMessage) {
	ack, err := wire.DecodeAck(msg)
	if err != nil {
		o.Log.Warnf("originator: malformed ack from %s: %v", node, err)
		o.Fabric.MessagePut(msg)
		return
	}

	// Step 1: parse identity fields; missing ⇒ drop.
	ident, ok := wire.ParseIdentity(ack)
	if !ok {
		o.Fabric.MessagePut(msg)
		return
	}
	key := types.RecordKey{NamespaceID: types.NamespaceID(ident.NsID), Digest: ident.Digest}

	// Step 2: look up the request, acquiring a reference. Absent ⇒ the
	// ack arrived after completion.
	req, found := o.Table.Lookup(key)
	if !found {
		o.Fabric.MessagePut(msg)
		return
	}

	req.mu.Lock()

	// Step 3: stale tid or already-complete ⇒ drop.
	if types.Tid(ident.Tid) != req.Tid || req.dupResComplete {
		req.mu.Unlock()
		o.Fabric.MessagePut(msg)
		req.release()
		return
	}

	// Step 4: unknown peer, or duplicate ack from a known peer ⇒ drop.
	idx := req.peerIndex(node)
	if idx < 0 {
		req.mu.Unlock()
		o.Log.Warnf("originator: ack from stranger peer %s for %s", node, key)
		o.Fabric.MessagePut(msg)
		req.release()
		return
	}
	if req.peerComplete[idx] {
		req.mu.Unlock()
		o.Fabric.MessagePut(msg)
		req.release()
		return
	}

	// Step 5: mark this peer answered.
	req.peerComplete[idx] = true

	meta := wire.ParseDupMeta(ack)

	// Step 6: retry decision.
	if meta.Result == types.ResultRestartRequired {
		origin := req.origin
		if origin == nil || o.Restart.ShouldThrottle(key) {
			// Origin already reclaimed by timeout, or the restart is
			// being throttled: silently drop.
			req.mu.Unlock()
			o.Fabric.MessagePut(msg)
			req.release()
			return
		}

		msgp := req.msgp
		req.msgp = nil
		req.dupResComplete = true
		req.mu.Unlock()

		if err := origin.Restart(msgp); err != nil {
			o.Log.Errorf("originator: restart enqueue failed for %s: %v", key, err)
		}
		o.Fabric.MessagePut(msg)
		o.Table.Remove(key, req)
		req.release()
		return
	}

	// Step 7: best-reply update, strict-better only (ties keep the
	// incumbent: first-writer wins among equals).
	var toRelease *types.FabricMessage
	if !req.hasBest || policy.Resolve(req.Policy, meta.Generation, meta.LastUpdateTime, req.bestGen, req.bestLUT) > 0 {
		toRelease = req.bestReply
		req.bestReply = msg
		req.bestResult = meta.Result
		req.bestGen = meta.Generation
		req.bestLUT = meta.LastUpdateTime
		req.hasBest = true
	} else {
		toRelease = msg
	}

	// Step 8: completion check.
	if !req.allComplete() {
		req.mu.Unlock()
		if toRelease != nil {
			o.Fabric.MessagePut(toRelease)
		}
		req.release()
		return
	}

	bestResult := req.bestResult
	bestAckMsg := req.bestReply
	reservation := req.Reservation
	pol := req.Policy
	req.mu.Unlock()
	if toRelease != nil {
		o.Fabric.MessagePut(toRelease)
	}

	// Step 9: apply the winner, if any reply succeeded.
	var resultCode types.ResultCode
	if bestResult == types.ResultOK && bestAckMsg != nil {
		bestAck, decodeErr := wire.DecodeAck(bestAckMsg)
		if decodeErr != nil {
			o.Log.Errorf("originator: failed decoding stored best reply for %s: %v", key, decodeErr)
			resultCode = types.ResultUnknownError
		} else {
			code, applyErr := ApplyWinner(o.Storage, reservation, bestAck, pol)
			if applyErr != nil {
				o.Log.Warnf("originator: apply-winner failed for %s: %v", key, applyErr)
			}
			resultCode = code
		}
	} else {
		resultCode = bestResult
	}

	req.mu.Lock()
	req.resultCode = resultCode
	origin := req.origin
	cb := req.DupResCB
	req.mu.Unlock()

	// Step 10: handoff, re-testing origin presence after the
	// destructive apply-winner work above so progress from step 9 is
	// never undone, even though no response will be delivered twice.
	remove := true
	if origin != nil && cb != nil {
		remove = cb(key, resultCode)
	}

	req.mu.Lock()
	req.dupResComplete = true
	req.mu.Unlock()

	if remove {
		o.Table.Remove(key, req)
	}
	req.release()
}

// TimeoutCB is the hook the (externally owned) retransmit/timeout
// subsystem calls when a request's deadline elapses: it detaches the
// origin so straggling acks still update local state (§4.4 step 6/10,
// §5 "cancellation") but no longer deliver a client-visible response.
// It never removes the request from the table — table removal happens
// either through the normal completion path above, or through Abandon
// once the retransmit subsystem gives up retrying entirely.
func (o *Originator) TimeoutCB(key types.RecordKey) {
	req, found := o.Table.Lookup(key)
	if !found {
		return
	}
	defer req.release()

	req.mu.Lock()
	defer req.mu.Unlock()
	if req.dupResComplete {
		return
	}
	req.origin = nil
}

// Abandon force-removes a request the retransmit subsystem has given
// up retrying (e.g. after exhausting its retry budget), releasing the
// table's reference. It is idempotent.
func (o *Originator) Abandon(key types.RecordKey) {
	req, found := o.Table.Lookup(key)
	if !found {
		return
	}
	req.mu.Lock()
	req.origin = nil
	req.dupResComplete = true
	req.mu.Unlock()
	o.Table.Remove(key, req)
	req.release()
}

// Resend re-sends the outstanding probe to every peer that has not yet
// answered, for use by an external retransmit timer.
func (o *Originator) Resend(ctx context.Context, key types.RecordKey, probeReq *wire.ProbeRequest) {
	req, found := o.Table.Lookup(key)
	if !found {
		return
	}
	defer req.release()

	req.mu.Lock()
	pending := make([]types.NodeID, 0, len(req.Peers))
	for i, done := range req.peerComplete {
		if !done {
			pending = append(pending, req.Peers[i])
		}
	}
	req.mu.Unlock()

	for _, peer := range pending {
		o.sendProbe(ctx, peer, probeReq)
	}
}
