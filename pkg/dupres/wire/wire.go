// Package wire implements the probe/ack codec described in §4.2 and §6:
// the fields exchanged between the originator and a responder, the
// pinned numeric OP and INFO values, and the ownership contract the codec must honor
// when handing messages to stateful consumers.
package wire

import (
	"encoding/json"

	"github.com/jabolina/dupres/pkg/dupres/types"
)

// Op values are the exact numeric tags carried on the wire. Encoding is
// JSON-over-fabric (the same envelope strategy the teacher uses for
// every peer-to-peer message), but the tags themselves are fixed
// integer constants independent of that envelope choice.
const (
	OpDup    uint32 = 1
	OpDupAck uint32 = 2
)

// ProbeRequest is the outbound probe: §6's wire table for "In req".
type ProbeRequest struct {
	Op               uint32       `json:"op"`
	Namespace        []byte       `json:"namespace"`
	NsID             uint32       `json:"ns_id"`
	Digest           types.Digest `json:"digest"`
	Tid              uint32       `json:"tid"`
	ClusterKey       uint64       `json:"cluster_key,omitempty"`
	HasClusterKey    bool         `json:"has_cluster_key,omitempty"`
	Generation       *uint32      `json:"generation,omitempty"`
	LastUpdateTime   *uint64      `json:"last_update_time,omitempty"`
}

// HasLocalHint reports whether the originator attached a local
// version hint to this probe.
func (r *ProbeRequest) HasLocalHint() bool {
	return r.Generation != nil && r.LastUpdateTime != nil
}

// ProbeAck is the inbound reply: §6's wire table for "In ack". It
// always echoes NsID, Digest and Tid verbatim from the request.
type ProbeAck struct {
	Op             uint32          `json:"op"`
	NsID           uint32          `json:"ns_id"`
	Digest         types.Digest    `json:"digest"`
	Tid            uint32          `json:"tid"`
	Result         types.ResultCode `json:"result"`
	Generation     uint32          `json:"generation,omitempty"`
	LastUpdateTime uint64          `json:"last_update_time,omitempty"`
	Record         []byte          `json:"record,omitempty"`
	SetName        []byte          `json:"set_name,omitempty"`
	Key            []byte          `json:"key,omitempty"`
	VoidTime       *uint32         `json:"void_time,omitempty"`
	Info           uint32          `json:"info,omitempty"`
}

// Info flag bits packed into the ack's INFO word.
const (
	InfoNoBins uint32 = 1 << iota
)

// EncodeRequest renders req into msg's payload. On a marshal failure
// the caller still owns msg and must return it to the fabric pool.
func EncodeRequest(req *ProbeRequest, msg *types.FabricMessage) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	msg.Payload = data
	return nil
}

// DecodeRequest parses msg's payload into a ProbeRequest.
func DecodeRequest(msg *types.FabricMessage) (*ProbeRequest, error) {
	var req ProbeRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// EncodeAck renders ack into msg's payload.
func EncodeAck(ack *ProbeAck, msg *types.FabricMessage) error {
	data, err := json.Marshal(ack)
	if err != nil {
		return err
	}
	msg.Payload = data
	return nil
}

// DecodeAck parses msg's payload into a ProbeAck.
func DecodeAck(msg *types.FabricMessage) (*ProbeAck, error) {
	var ack ProbeAck
	if err := json.Unmarshal(msg.Payload, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

// IdentityFields is the (NS_ID, DIGEST, TID) triple every ack echoes
// verbatim from its request.
type IdentityFields struct {
	NsID   uint32
	Digest types.Digest
	Tid    uint32
}

// ParseIdentity extracts the identity fields from an ack (§4.4 step 1).
// It reports false only for a nil ack; zero-valued fields are passed
// through unchecked.
func ParseIdentity(ack *ProbeAck) (IdentityFields, bool) {
	if ack == nil {
		return IdentityFields{}, false
	}
	return IdentityFields{NsID: ack.NsID, Digest: ack.Digest, Tid: ack.Tid}, true
}

// ParseRequestIdentity extracts the identity fields from a probe
// request, used by the responder. Per §4.3 step 1, "any missing field"
// fails parsing, so a zero-valued Digest or NsID is individually
// rejected rather than only when both are zero together.
func ParseRequestIdentity(req *ProbeRequest) (IdentityFields, bool) {
	if req == nil {
		return IdentityFields{}, false
	}
	var zero types.Digest
	if req.Digest == zero || req.NsID == 0 {
		return IdentityFields{}, false
	}
	return IdentityFields{NsID: req.NsID, Digest: req.Digest, Tid: req.Tid}, true
}

// DupMeta is the (result_code, generation, last_update_time) triple
// parse_dup_meta yields for the originator's retry and best-reply
// decisions (§4.4 steps 6-7).
type DupMeta struct {
	Result         types.ResultCode
	Generation     types.Generation
	LastUpdateTime uint64
}

// ParseDupMeta extracts the conflict-relevant fields from an ack.
func ParseDupMeta(ack *ProbeAck) DupMeta {
	return DupMeta{
		Result:         ack.Result,
		Generation:     types.Generation(ack.Generation),
		LastUpdateTime: ack.LastUpdateTime,
	}
}

// AckIdentity builds an ack carrying only the identity fields
// preserved from req, the "all other request fields become free real
// estate" step of §4.3.
func AckIdentity(req *ProbeRequest, result types.ResultCode) *ProbeAck {
	return &ProbeAck{
		Op:     OpDupAck,
		NsID:   req.NsID,
		Digest: req.Digest,
		Tid:    req.Tid,
		Result: result,
	}
}
