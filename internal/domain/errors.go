package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedPayload is returned when a message body is not a JSON object.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrStorageUnavailable marks a storage failure caused by a lost connection
	// rather than by the statement itself.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// Reason classifies why a reading failed validation.
type Reason string

const (
	ReasonMissingField Reason = "missing_field"
	ReasonWrongType    Reason = "wrong_type"
	ReasonOutOfRange   Reason = "out_of_range"
)

// ValidationError reports the first field that made a reading invalid.
type ValidationError struct {
	Reason Reason
	Field  string
	Value  string
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s(%s)", e.Reason, e.Field)
	}
	return fmt.Sprintf("%s(%s): %s", e.Reason, e.Field, e.Value)
}

// RejectReason returns the metric label for err: the validation reason,
// "decode" for malformed payloads, "unknown" otherwise.
func RejectReason(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return string(ve.Reason)
	}
	if errors.Is(err, ErrMalformedPayload) {
		return "decode"
	}
	return "unknown"
}
