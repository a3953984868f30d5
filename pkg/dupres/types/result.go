package types

// ResultCode mirrors the result taxonomy exchanged on probe acks and
// returned from storage operations. Values are stable wire constants,
// not Go-idiomatic errors, because they are carried verbatim across the
// network inside a ProbeAck.
type ResultCode uint32

const (
	// ResultOK means the operation, or the probe, succeeded.
	ResultOK ResultCode = 0

	// ResultUnknownError covers malformed requests and anything that
	// does not map to a more specific code.
	ResultUnknownError ResultCode = 1

	// ResultNotFound means the peer holds no copy of the record.
	ResultNotFound ResultCode = 2

	// ResultGenerationError means the responder's local copy already
	// wins under the conflict policy against the originator's hint.
	ResultGenerationError ResultCode = 3

	// ResultRecordExists means the responder's local copy ties the
	// originator's hint under the conflict policy.
	ResultRecordExists ResultCode = 5

	// ResultForbidden signals a policy-level rejection of the probe.
	ResultForbidden ResultCode = 11

	// ResultRestartRequired signals that the authoritative view demands
	// the upstream transaction restart from scratch rather than being
	// resolved in place.
	ResultRestartRequired ResultCode = 23
)

func (r ResultCode) String() string {
	switch r {
	case ResultOK:
		return "OK"
	case ResultUnknownError:
		return "FAIL_UNKNOWN"
	case ResultNotFound:
		return "FAIL_NOT_FOUND"
	case ResultGenerationError:
		return "FAIL_GENERATION"
	case ResultRecordExists:
		return "FAIL_RECORD_EXISTS"
	case ResultForbidden:
		return "FAIL_FORBIDDEN"
	case ResultRestartRequired:
		return "RESTART_REQUIRED"
	default:
		return "UNKNOWN_RESULT"
	}
}
