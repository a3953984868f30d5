package wire

import (
	"testing"

	"github.com/jabolina/dupres/pkg/dupres/types"
)

func TestEncodeDecodeRequestRoundTrip(t *testing.T) {
	gen := uint32(7)
	lut := uint64(200)
	req := &ProbeRequest{
		Op:             OpDup,
		Namespace:      []byte("test"),
		NsID:           1,
		Digest:         types.Digest{1, 2, 3},
		Tid:            42,
		Generation:     &gen,
		LastUpdateTime: &lut,
	}
	msg := &types.FabricMessage{}
	if err := EncodeRequest(req, msg); err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeRequest(msg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Tid != req.Tid || got.NsID != req.NsID || !got.HasLocalHint() {
		t.Fatalf("round trip mismatch: %#v", got)
	}
}

func TestAckIdentityPreservesOnlyIdentity(t *testing.T) {
	req := &ProbeRequest{NsID: 3, Digest: types.Digest{9}, Tid: 11, Namespace: []byte("ns")}
	ack := AckIdentity(req, types.ResultUnknownError)
	if ack.NsID != 3 || ack.Tid != 11 || ack.Result != types.ResultUnknownError {
		t.Fatalf("unexpected ack: %#v", ack)
	}
	if ack.Record != nil || ack.SetName != nil {
		t.Fatalf("bad-request ack must not carry record fields: %#v", ack)
	}
}

func TestParseDupMeta(t *testing.T) {
	ack := &ProbeAck{Result: types.ResultOK, Generation: 9, LastUpdateTime: 555}
	meta := ParseDupMeta(ack)
	if meta.Generation != 9 || meta.LastUpdateTime != 555 || meta.Result != types.ResultOK {
		t.Fatalf("unexpected meta: %#v", meta)
	}
}

func TestParseRequestIdentityRejectsEmpty(t *testing.T) {
	if _, ok := ParseRequestIdentity(&ProbeRequest{}); ok {
		t.Fatal("an all-zero request should be treated as missing identity")
	}
	if _, ok := ParseRequestIdentity(nil); ok {
		t.Fatal("a nil request must not parse")
	}
}

// Each identity field is individually required: a zero NsID with a
// real digest, or a real NsID with a zero digest, must both be
// rejected rather than only the case where both are zero.
func TestParseRequestIdentityRejectsEitherFieldMissing(t *testing.T) {
	if _, ok := ParseRequestIdentity(&ProbeRequest{NsID: 0, Digest: types.Digest{1}}); ok {
		t.Fatal("a zero NsID with a nonzero digest should be treated as missing identity")
	}
	if _, ok := ParseRequestIdentity(&ProbeRequest{NsID: 1, Digest: types.Digest{}}); ok {
		t.Fatal("a nonzero NsID with a zero digest should be treated as missing identity")
	}
	if _, ok := ParseRequestIdentity(&ProbeRequest{NsID: 1, Digest: types.Digest{1}}); !ok {
		t.Fatal("a request with both identity fields set should parse")
	}
}
