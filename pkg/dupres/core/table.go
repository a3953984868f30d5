package core

import (
	"hash/fnv"
	"sync"

	"github.com/jabolina/dupres/pkg/dupres/types"
)

const tableShardCount = 32

// InflightTable is the sharded mapping from (namespace_id, digest) to a
// shared Request handle described in §4.6. It generalizes the single
// mutex-guarded map the teacher uses for a peer's observers
// (Peer.observers map[types.UID]observer in pkg/mcast/core/peer.go)
// into per-bucket locks, since this table is shared across every
// namespace a node serves rather than scoped to one peer's local
// requests.
type InflightTable struct {
	shards [tableShardCount]shard
}

type shard struct {
	mu sync.Mutex
	m  map[types.RecordKey]*Request
}

// NewInflightTable builds an empty table.
func NewInflightTable() *InflightTable {
	t := &InflightTable{}
	for i := range t.shards {
		t.shards[i].m = make(map[types.RecordKey]*Request)
	}
	return t
}

func (t *InflightTable) shardFor(key types.RecordKey) *shard {
	h := fnv.New32a()
	var buf [4]byte
	buf[0] = byte(key.NamespaceID)
	buf[1] = byte(key.NamespaceID >> 8)
	buf[2] = byte(key.NamespaceID >> 16)
	buf[3] = byte(key.NamespaceID >> 24)
	_, _ = h.Write(buf[:])
	_, _ = h.Write(key.Digest[:])
	return &t.shards[h.Sum32()%tableShardCount]
}

// InsertIfAbsent installs req under its key if, and only if, no request
// is currently active for that key (§3 invariant 1). It returns false
// without installing anything if a request is already present.
func (t *InflightTable) InsertIfAbsent(req *Request) bool {
	s := t.shardFor(req.Key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.m[req.Key]; exists {
		return false
	}
	s.m[req.Key] = req
	return true
}

// Lookup finds the request for key, if any, bumping its reference
// count before releasing the bucket lock so a concurrent Remove can
// never free the request out from under the caller (§5 "table lookup
// acquires the request reference before releasing the bucket lock").
func (t *InflightTable) Lookup(key types.RecordKey) (*Request, bool) {
	s := t.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.m[key]
	if !ok {
		return nil, false
	}
	req.acquire()
	return req, true
}

// Remove deletes key from the table iff the stored value is exactly
// req, releasing the table's own strong reference in that case. It is
// idempotent: calling it again with a request that has already been
// removed (or was replaced by a new attempt reusing the key) is a
// harmless no-op.
func (t *InflightTable) Remove(key types.RecordKey, req *Request) bool {
	s := t.shardFor(key)
	s.mu.Lock()
	stored, ok := s.m[key]
	if !ok || stored != req {
		s.mu.Unlock()
		return false
	}
	delete(s.m, key)
	s.mu.Unlock()
	req.release()
	return true
}

// Len reports the total number of active requests, for observability
// (e.g. cmd/dupresctl stats).
func (t *InflightTable) Len() int {
	n := 0
	for i := range t.shards {
		t.shards[i].mu.Lock()
		n += len(t.shards[i].m)
		t.shards[i].mu.Unlock()
	}
	return n
}
