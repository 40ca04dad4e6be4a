package apiserver

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/protolith/excavate/internal/statecodec"
)

// ErrorBody is the envelope for every non-2xx response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the machine-readable code alongside the human message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

const (
	typeValidation = "validation_error"
	typeState      = "state_error"
	typeRateLimit  = "rate_limited"
	typeInternal   = "internal_error"
)

func writeError(c *gin.Context, status int, code, message, errType string) {
	c.JSON(status, ErrorBody{Error: ErrorDetail{Code: code, Message: message, Type: errType}})
}

// writeTurnError maps codec failures onto HTTP statuses. Anything that is not
// a recognized codec error is reported as an internal failure without leaking
// the underlying message.
func writeTurnError(c *gin.Context, err error) {
	var ce *statecodec.CodecError
	if !errors.As(err, &ce) {
		writeError(c, http.StatusInternalServerError, "TURN_FAILED",
			"the turn could not be completed", typeInternal)
		return
	}

	switch ce.Code {
	case statecodec.ErrCodeIntegrityMissing,
		statecodec.ErrCodeMalformedState,
		statecodec.ErrCodeAnswerTargetMismatch:
		writeError(c, http.StatusBadRequest, string(ce.Code), ce.Message, typeState)
	case statecodec.ErrCodeIntegrityMismatch,
		statecodec.ErrCodeStaleRevision:
		writeError(c, http.StatusConflict, string(ce.Code), ce.Message, typeState)
	default:
		writeError(c, http.StatusInternalServerError, string(ce.Code), ce.Message, typeInternal)
	}
}
