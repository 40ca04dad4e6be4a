package statecodec

import "fmt"

// ErrorCode is a string type used for structured error reporting from the
// codec. Using a custom type ensures that only predefined constants can be
// used where an ErrorCode is expected.
type ErrorCode string

const (
	// ErrCodeIntegrityMismatch means the state's integrity tag does not match
	// its contents. The state was altered or signed with a different key.
	ErrCodeIntegrityMismatch ErrorCode = "INTEGRITY_MISMATCH"
	// ErrCodeIntegrityMissing means a continue request arrived with no tag.
	ErrCodeIntegrityMissing ErrorCode = "INTEGRITY_MISSING"
	// ErrCodeStaleRevision means the submitted revision is older than one the
	// service has already advanced past in this exchange.
	ErrCodeStaleRevision ErrorCode = "STALE_REVISION"
	// ErrCodeAnswerTargetMismatch means the user event answers an action that
	// is not the last emitted action.
	ErrCodeAnswerTargetMismatch ErrorCode = "ANSWER_TARGET_MISMATCH"
	// ErrCodeMalformedState means the state snapshot fails structural checks.
	ErrCodeMalformedState ErrorCode = "MALFORMED_STATE"
	// ErrCodeEncoding means the canonical encoding itself failed.
	ErrCodeEncoding ErrorCode = "ENCODING_FAILURE"
)

// CodecError carries a stable machine code alongside the human message so the
// HTTP layer can map failures without string matching.
type CodecError struct {
	Code    ErrorCode
	Message string
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(code ErrorCode, format string, args ...any) *CodecError {
	return &CodecError{Code: code, Message: fmt.Sprintf(format, args...)}
}
