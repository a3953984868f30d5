// Package storage provides an in-memory Storage implementation
// sufficient to exercise apply-winner end to end: open/load/pickle a
// record, and atomically replace-if-better under the conflict policy.
// It generalizes the teacher's InMemoryStateMachine (pkg/mcast/types
// state_machine.go: a Set/Get pair behind a log-structured commit) from
// "append a log entry" to "compare-and-replace a versioned record".
package storage

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/jabolina/dupres/pkg/dupres/policy"
	"github.com/jabolina/dupres/pkg/dupres/types"
)

type record struct {
	version  types.VersionStamp
	voidTime *uint32
	setName  []byte
	key      []byte
	bins     []types.Bin
}

// descriptor is the in-memory RecordDescriptor: a snapshot taken under
// the store lock at RecordOpen time, so a slow reader never observes
// a torn write.
type descriptor struct {
	key     types.RecordKey
	version types.VersionStamp
	snap    record
	closed  bool
}

func (d *descriptor) Key() types.RecordKey        { return d.key }
func (d *descriptor) Version() types.VersionStamp { return d.version }

// reservation is the no-op PartitionReservation this store hands out:
// an in-memory store has no cluster state to pin, but still honors the
// "released exactly once" contract so callers exercising that
// invariant can do so against this implementation.
type reservation struct {
	released bool
	mu       sync.Mutex
	log      types.Logger
	key      types.RecordKey
}

func (r *reservation) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		if r.log != nil {
			r.log.Warnf("partition reservation for %s released more than once", r.key)
		}
		return
	}
	r.released = true
}

// Memory is a namespace-scoped, in-memory Storage. RemoteRecord (§3)
// carries no namespace id — a Storage implementation is always scoped
// to exactly one namespace, so records are indexed by digest alone.
type Memory struct {
	mu      sync.RWMutex
	records map[types.Digest]record
	log     types.Logger
}

// NewMemory builds an empty store. log may be nil.
func NewMemory(log types.Logger) *Memory {
	return &Memory{
		records: make(map[types.Digest]record),
		log:     log,
	}
}

// Seed installs a record directly, for test setup.
func (m *Memory) Seed(key types.RecordKey, version types.VersionStamp, bins []types.Bin) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[key.Digest] = record{version: version, bins: bins}
}

func (m *Memory) ReservePartition(key types.RecordKey) (types.PartitionReservation, error) {
	return &reservation{log: m.log, key: key}, nil
}

func (m *Memory) RecordGet(key types.RecordKey) (types.VersionStamp, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[key.Digest]
	if !ok {
		return types.VersionStamp{}, false, nil
	}
	return r.version, true, nil
}

func (m *Memory) RecordOpen(key types.RecordKey) (types.RecordDescriptor, error) {
	m.mu.RLock()
	r, ok := m.records[key.Digest]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("storage: record %s not found", key)
	}
	return &descriptor{key: key, version: r.version, snap: r}, nil
}

func (m *Memory) LoadNBins(rd types.RecordDescriptor) (int, error) {
	d, err := asDescriptor(rd)
	if err != nil {
		return 0, err
	}
	return len(d.snap.bins), nil
}

func (m *Memory) LoadBins(rd types.RecordDescriptor, into []types.Bin) (int, error) {
	d, err := asDescriptor(rd)
	if err != nil {
		return 0, err
	}
	n := copy(into, d.snap.bins)
	return n, nil
}

func (m *Memory) Pickle(rd types.RecordDescriptor) ([]byte, error) {
	d, err := asDescriptor(rd)
	if err != nil {
		return nil, err
	}
	return Pickle(d.snap.bins), nil
}

func (m *Memory) RecordGetKey(rd types.RecordDescriptor) ([]byte, error) {
	d, err := asDescriptor(rd)
	if err != nil {
		return nil, err
	}
	return d.snap.key, nil
}

func (m *Memory) RecordClose(rd types.RecordDescriptor) error {
	return closeDescriptor(rd, m.log)
}

func (m *Memory) RecordDone(rd types.RecordDescriptor) error {
	return closeDescriptor(rd, m.log)
}

func closeDescriptor(rd types.RecordDescriptor, log types.Logger) error {
	d, err := asDescriptor(rd)
	if err != nil {
		return err
	}
	if d.closed {
		if log != nil {
			log.Warnf("record descriptor for %s closed more than once", d.key)
		}
		return nil
	}
	d.closed = true
	return nil
}

func asDescriptor(rd types.RecordDescriptor) (*descriptor, error) {
	d, ok := rd.(*descriptor)
	if !ok {
		return nil, fmt.Errorf("storage: foreign record descriptor %T", rd)
	}
	return d, nil
}

// ReplaceIfBetter implements §4.5's storage-side contract: compare
// remote against whatever is locally stored (if anything) under
// policy, and replace only on a strict win. Results FAIL_RECORD_EXISTS
// and FAIL_GENERATION both mean "local already as good or better",
// which the originator's apply-winner step remaps to OK.
func (m *Memory) ReplaceIfBetter(remote types.RemoteRecord, p types.ConflictPolicy, allowExpunge bool, isMigration bool) (types.ResultCode, error) {
	if len(remote.RecordBytes) < 2 {
		return types.ResultUnknownError, fmt.Errorf("storage: pickled record too short (%d bytes)", len(remote.RecordBytes))
	}
	bins, err := Unpickle(remote.RecordBytes)
	if err != nil {
		return types.ResultUnknownError, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	local, exists := m.records[remote.Digest]
	if exists {
		cmp := policy.Resolve(p, remote.Generation, remote.LastUpdateTime, local.version.Generation, local.version.LastUpdateTime)
		if cmp == 0 {
			return types.ResultRecordExists, nil
		}
		if cmp < 0 {
			return types.ResultGenerationError, nil
		}
	}

	_ = isMigration
	_ = allowExpunge

	m.records[remote.Digest] = record{
		version:  types.VersionStamp{Generation: remote.Generation, LastUpdateTime: remote.LastUpdateTime},
		voidTime: remote.VoidTime,
		setName:  remote.SetName,
		key:      remote.Key,
		bins:     bins,
	}
	return types.ResultOK, nil
}

// Pickle serializes bins into the opaque wire form this package reads
// back with Unpickle. The two-byte bin-count header is the minimum
// pickled header the wire contract requires.
func Pickle(bins []types.Bin) []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, uint16(len(bins)))
	for _, b := range bins {
		nameLen := byte(len(b.Name))
		entry := make([]byte, 1+len(b.Name)+4+len(b.Value))
		entry[0] = nameLen
		copy(entry[1:], b.Name)
		binary.BigEndian.PutUint32(entry[1+len(b.Name):], uint32(len(b.Value)))
		copy(entry[1+len(b.Name)+4:], b.Value)
		buf = append(buf, entry...)
	}
	return buf
}

// Unpickle parses bytes produced by Pickle. A binless pickle (bin
// count zero) is returned with an empty, non-nil slice: apply-winner
// is responsible for rejecting that case, not this decoder.
func Unpickle(data []byte) ([]types.Bin, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("storage: pickle header truncated")
	}
	n := binary.BigEndian.Uint16(data[:2])
	bins := make([]types.Bin, 0, n)
	off := 2
	for i := uint16(0); i < n; i++ {
		if off+1 > len(data) {
			return nil, fmt.Errorf("storage: pickle truncated at bin %d", i)
		}
		nameLen := int(data[off])
		off++
		if off+nameLen+4 > len(data) {
			return nil, fmt.Errorf("storage: pickle truncated at bin %d name", i)
		}
		name := string(data[off : off+nameLen])
		off += nameLen
		valLen := int(binary.BigEndian.Uint32(data[off : off+4]))
		off += 4
		if off+valLen > len(data) {
			return nil, fmt.Errorf("storage: pickle truncated at bin %d value", i)
		}
		value := data[off : off+valLen]
		off += valLen
		bins = append(bins, types.Bin{Name: name, Value: value})
	}
	return bins, nil
}

// BinCount reports the bin count encoded in a pickle's header without
// fully decoding it; apply-winner uses it to reject binless pickles.
func BinCount(data []byte) (uint16, error) {
	if len(data) < 2 {
		return 0, fmt.Errorf("storage: pickle header truncated")
	}
	return binary.BigEndian.Uint16(data[:2]), nil
}
