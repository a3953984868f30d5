package core

import (
	"context"

	"github.com/jabolina/dupres/pkg/dupres/policy"
	"github.com/jabolina/dupres/pkg/dupres/types"
	"github.com/jabolina/dupres/pkg/dupres/wire"
)

// Responder implements §4.3's handle_probe: on receipt of a probe,
// look up the record locally, optionally short-circuit by conflict
// policy, and otherwise serialize and return the record plus its
// metadata. It plays the role the teacher's Unity.processCompute and
// Unity.processGather play in protocol.go: parse a request, branch on
// local state, build a response, and always answer exactly once.
type Responder struct {
	Namespace   string
	NamespaceID types.NamespaceID
	Policy      types.ConflictPolicy
	Storage     types.Storage
	Fabric      types.Fabric
	Log         types.Logger
	Invoker     Invoker
}

// Handler adapts HandleProbe to the signature Fabric.Register expects,
// dispatching each probe through Invoker so the fabric's receive loop
// never blocks on a storage read.
func (r *Responder) Handler() func(types.NodeID, *types.FabricMessage) {
	invoker := r.Invoker
	if invoker == nil {
		invoker = NewInvoker()
	}
	return func(node types.NodeID, msg *types.FabricMessage) {
		invoker.Spawn(func() {
			r.HandleProbe(context.Background(), node, msg)
		})
	}
}

// HandleProbe is the Fabric receive callback registered on types.RW.
// msg is always released back to the fabric pool before returning.
func (r *Responder) HandleProbe(ctx context.Context, node types.NodeID, msg *types.FabricMessage) {
	defer r.Fabric.MessagePut(msg)

	req, err := wire.DecodeRequest(msg)
	if err != nil {
		r.Log.Warnf("responder: malformed probe from %s: %v", node, err)
		r.reply(ctx, node, &wire.ProbeAck{Op: wire.OpDupAck, Result: types.ResultUnknownError})
		return
	}

	ident, ok := wire.ParseRequestIdentity(req)
	if !ok {
		r.Log.Warnf("responder: probe from %s missing identity fields", node)
		r.reply(ctx, node, wire.AckIdentity(req, types.ResultUnknownError))
		return
	}

	key := types.RecordKey{NamespaceID: types.NamespaceID(ident.NsID), Digest: ident.Digest}
	hasHint := req.HasLocalHint()

	reservation, err := r.Storage.ReservePartition(key)
	if err != nil {
		r.Log.Errorf("responder: failed reserving partition for %s: %v", key, err)
		r.reply(ctx, node, wire.AckIdentity(req, types.ResultUnknownError))
		return
	}
	defer reservation.Release()

	localVersion, found, err := r.Storage.RecordGet(key)
	if err != nil {
		r.Log.Errorf("responder: storage read failed for %s: %v", key, err)
		r.reply(ctx, node, wire.AckIdentity(req, types.ResultUnknownError))
		return
	}
	if !found {
		r.reply(ctx, node, wire.AckIdentity(req, types.ResultNotFound))
		return
	}

	if hasHint {
		cmp := policy.Resolve(r.Policy, types.Generation(*req.Generation), *req.LastUpdateTime, localVersion.Generation, localVersion.LastUpdateTime)
		if cmp <= 0 {
			if cmp == 0 {
				r.reply(ctx, node, wire.AckIdentity(req, types.ResultRecordExists))
			} else {
				r.reply(ctx, node, wire.AckIdentity(req, types.ResultGenerationError))
			}
			return
		}
	}

	rd, err := r.Storage.RecordOpen(key)
	if err != nil {
		r.Log.Errorf("responder: failed opening %s: %v", key, err)
		r.reply(ctx, node, wire.AckIdentity(req, types.ResultUnknownError))
		return
	}
	defer func() {
		if err := r.Storage.RecordClose(rd); err != nil {
			r.Log.Warnf("responder: close failed for %s: %v", key, err)
		}
	}()

	pickled, err := r.Storage.Pickle(rd)
	if err != nil {
		r.Log.Errorf("responder: pickle failed for %s: %v", key, err)
		r.reply(ctx, node, wire.AckIdentity(req, types.ResultUnknownError))
		return
	}

	nBins, err := r.Storage.LoadNBins(rd)
	if err != nil {
		r.Log.Errorf("responder: bin count failed for %s: %v", key, err)
		r.reply(ctx, node, wire.AckIdentity(req, types.ResultUnknownError))
		return
	}

	recordKey, err := r.Storage.RecordGetKey(rd)
	if err != nil {
		r.Log.Warnf("responder: record key unavailable for %s: %v", key, err)
	}

	info := uint32(0)
	if nBins == 0 {
		info |= wire.InfoNoBins
	}

	ack := wire.AckIdentity(req, types.ResultOK)
	ack.Generation = uint32(localVersion.Generation)
	ack.LastUpdateTime = localVersion.LastUpdateTime
	ack.Record = pickled
	ack.Key = recordKey
	ack.Info = info
	r.reply(ctx, node, ack)
}

func (r *Responder) reply(ctx context.Context, node types.NodeID, ack *wire.ProbeAck) {
	out := r.Fabric.MessageGet()
	if err := wire.EncodeAck(ack, out); err != nil {
		r.Log.Errorf("responder: failed encoding ack to %s: %v", node, err)
		r.Fabric.MessagePut(out)
		return
	}
	if err := r.Fabric.Send(ctx, node, out, types.RW); err != nil {
		r.Log.Errorf("responder: failed sending ack to %s: %v", node, err)
		r.Fabric.MessagePut(out)
	}
}
