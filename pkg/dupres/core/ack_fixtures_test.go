package core_test

import (
	"testing"

	"github.com/jabolina/dupres/pkg/dupres/storage"
	"github.com/jabolina/dupres/pkg/dupres/types"
	"github.com/jabolina/dupres/pkg/dupres/wire"
)

// fakeAckMessage builds a raw fabric message carrying an ack with no
// record payload, for tests exercising the restart/stranger/duplicate
// paths where apply-winner is never reached.
func fakeAckMessage(t *testing.T, key types.RecordKey, tid uint32, result types.ResultCode, generation uint32, lut uint64) *types.FabricMessage {
	t.Helper()
	ack := &wire.ProbeAck{
		Op:             wire.OpDupAck,
		NsID:           uint32(key.NamespaceID),
		Digest:         key.Digest,
		Tid:            tid,
		Result:         result,
		Generation:     generation,
		LastUpdateTime: lut,
	}
	msg := &types.FabricMessage{}
	if err := wire.EncodeAck(ack, msg); err != nil {
		t.Fatalf("EncodeAck: %v", err)
	}
	return msg
}

// fakeAckMessageWithRecord builds an OK ack carrying a one-bin pickled
// record, so apply-winner has something to replace-if-better with.
func fakeAckMessageWithRecord(t *testing.T, key types.RecordKey, tid uint32, result types.ResultCode, generation uint32, lut uint64) *types.FabricMessage {
	t.Helper()
	pickled := storage.Pickle([]types.Bin{{Name: "bin", Value: []byte("straggler")}})
	ack := &wire.ProbeAck{
		Op:             wire.OpDupAck,
		NsID:           uint32(key.NamespaceID),
		Digest:         key.Digest,
		Tid:            tid,
		Result:         result,
		Generation:     generation,
		LastUpdateTime: lut,
		Record:         pickled,
	}
	msg := &types.FabricMessage{}
	if err := wire.EncodeAck(ack, msg); err != nil {
		t.Fatalf("EncodeAck: %v", err)
	}
	return msg
}
