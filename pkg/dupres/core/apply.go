package core

import (
	"fmt"

	"github.com/jabolina/dupres/pkg/dupres/storage"
	"github.com/jabolina/dupres/pkg/dupres/types"
	"github.com/jabolina/dupres/pkg/dupres/wire"
)

// ErrBinlessPickle is the protocol violation §4.5/§7 describe: a
// pickle whose INFO flags mark it as having no bins must never
// overwrite a live record.
var ErrBinlessPickle = fmt.Errorf("apply-winner: binless pickle rejected")

// ApplyWinner implements §4.5: given the best ack, reconstruct the
// remote record value object and invoke storage's atomic
// replace-if-better, translating the result the way the source
// treats FAIL_RECORD_EXISTS/FAIL_GENERATION as an equally successful
// no-op.
func ApplyWinner(store types.Storage, reservation types.PartitionReservation, ack *wire.ProbeAck, policy types.ConflictPolicy) (types.ResultCode, error) {
	if len(ack.Record) < 2 {
		return types.ResultUnknownError, fmt.Errorf("apply-winner: record too short (%d bytes)", len(ack.Record))
	}

	info := ack.Info
	count, err := storage.BinCount(ack.Record)
	if err != nil {
		return types.ResultUnknownError, err
	}
	if info&wire.InfoNoBins != 0 || count == 0 {
		return types.ResultUnknownError, ErrBinlessPickle
	}

	remote := types.RemoteRecord{
		Reservation:    reservation,
		Digest:         ack.Digest,
		Generation:     types.Generation(ack.Generation),
		LastUpdateTime: ack.LastUpdateTime,
		VoidTime:       ack.VoidTime,
		SetName:        ack.SetName,
		Key:            ack.Key,
		RecordBytes:    ack.Record,
	}

	code, err := store.ReplaceIfBetter(remote, policy, false, false)
	if err != nil {
		return types.ResultUnknownError, err
	}

	switch code {
	case types.ResultRecordExists, types.ResultGenerationError:
		// Storage re-evaluated the policy and kept its newer copy: an
		// equally successful no-op from the caller's point of view.
		return types.ResultOK, nil
	default:
		return code, nil
	}
}
