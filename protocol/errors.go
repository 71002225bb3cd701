package protocol

import dgerrors "github.com/dropgate/dropgate/internal/errors"

// Wire error codes carried in an ErrorMsg.Code, per the spec's error kinds.
const (
	CodeProtocolMismatch = "PROTOCOL_MISMATCH"
	CodeMalformed        = "MALFORMED"
	CodeIncomplete       = "INCOMPLETE"
	CodeTimeout          = "TIMEOUT"
	CodeSinkFailure      = "SINK_FAILURE"
	CodeSourceFailure    = "SOURCE_FAILURE"
	CodeResumeRejected   = "RESUME_REJECTED"
)

// wireCodeFor maps a local error to the code a peer-facing ErrorMsg should
// carry. Errors with no specific mapping fall back to MALFORMED, the most
// generic fatal classification.
func wireCodeFor(err error) string {
	switch {
	case isType[*dgerrors.ProtocolMismatchError](err):
		return CodeProtocolMismatch
	case isType[*dgerrors.IncompleteError](err):
		return CodeIncomplete
	case dgerrors.IsTimeout(err):
		return CodeTimeout
	case isType[*dgerrors.SinkFailureError](err):
		return CodeSinkFailure
	case isType[*dgerrors.SourceFailureError](err):
		return CodeSourceFailure
	case isType[*dgerrors.ResumeRejectedError](err):
		return CodeResumeRejected
	default:
		return CodeMalformed
	}
}

func isType[T error](err error) bool {
	_, ok := err.(T)
	if ok {
		return true
	}
	type unwrapper interface{ Unwrap() error }
	for {
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
		if err == nil {
			return false
		}
		if _, ok := err.(T); ok {
			return true
		}
	}
}
