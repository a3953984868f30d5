package core

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jabolina/dupres/pkg/dupres/types"
)

// Request is one active duplicate resolution, per §3 "Inflight request
// (originator side)". Its immutable fields are set once at creation;
// everything else is guarded by mu, except Reservation, which per §5
// "Locking discipline" is immutable once set and readable without the
// lock.
//
// The request is shared-ownership (§3 invariant 5, §9): the table holds
// one strong reference from creation until it is removed; each
// retransmit/timeout hook call (Resend, TimeoutCB, Abandon) holds one
// more for the duration of that call; and handle_ack transiently acquires one more for the duration of
// processing a single ack. It is only torn down — releasing the
// partition reservation and returning msgp to the fabric — once every
// holder has released.
type Request struct {
	// Immutable.
	Key          types.RecordKey
	Tid          types.Tid
	Reservation  types.PartitionReservation
	Deadline     time.Time
	Peers        []types.NodeID
	Policy       types.ConflictPolicy
	DupResCB     types.DupResCallback
	table        *InflightTable
	fabric       types.Fabric

	mu sync.Mutex

	// origin is nil once the timeout thread has detached it, or once
	// Abandon has force-removed the request.
	origin types.TransactionOrigin

	// msgp is the original client request bytes; exactly one owner at
	// a time, transferred to a restart transaction or released to the
	// fabric on teardown.
	msgp *types.FabricMessage

	peerComplete []bool

	bestReply  *types.FabricMessage
	bestResult types.ResultCode
	bestGen    types.Generation
	bestLUT    uint64
	hasBest    bool

	dupResComplete bool
	resultCode     types.ResultCode

	refs int32
}

// newRequest builds a Request with refcount 1, representing the table's
// own strong reference. The caller is expected to insert it into the
// table atomically with construction.
func newRequest(key types.RecordKey, tid types.Tid, reservation types.PartitionReservation, deadline time.Time, origin types.TransactionOrigin, peers []types.NodeID, policy types.ConflictPolicy, msgp *types.FabricMessage, cb types.DupResCallback, table *InflightTable, fab types.Fabric) *Request {
	return &Request{
		Key:          key,
		Tid:          tid,
		Reservation:  reservation,
		Deadline:     deadline,
		Peers:        peers,
		Policy:       policy,
		DupResCB:     cb,
		table:        table,
		fabric:       fab,
		origin:       origin,
		msgp:         msgp,
		peerComplete: make([]bool, len(peers)),
		refs:         1,
	}
}

// acquire bumps the reference count. It must only be called while the
// caller already holds a reference it knows is live (e.g. while holding
// the table's bucket lock, per §5 "table lookup acquires the request
// reference before releasing the bucket lock").
func (r *Request) acquire() {
	atomic.AddInt32(&r.refs, 1)
}

// release drops a reference. On the last release it tears down the
// request's owned resources exactly once.
func (r *Request) release() {
	if atomic.AddInt32(&r.refs, -1) == 0 {
		r.teardown()
	}
}

func (r *Request) teardown() {
	if r.Reservation != nil {
		r.Reservation.Release()
	}
	r.mu.Lock()
	msgp := r.msgp
	r.msgp = nil
	best := r.bestReply
	r.bestReply = nil
	r.mu.Unlock()
	if msgp != nil && r.fabric != nil {
		r.fabric.MessagePut(msgp)
	}
	if best != nil && r.fabric != nil {
		r.fabric.MessagePut(best)
	}
}

// peerIndex finds node in Peers, or -1.
func (r *Request) peerIndex(node types.NodeID) int {
	for i, p := range r.Peers {
		if p == node {
			return i
		}
	}
	return -1
}

// allComplete reports whether every peer has answered. Caller must hold mu.
func (r *Request) allComplete() bool {
	for _, done := range r.peerComplete {
		if !done {
			return false
		}
	}
	return true
}
