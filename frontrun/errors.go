package frontrun

import (
	"errors"
	"fmt"
)

var (
	ErrDecode        = errors.New("cannot decode call data")
	ErrUnknownRouter = errors.New("router is not configured")
	ErrRejected      = errors.New("candidate rejected")
	ErrPanic         = errors.New("session panicked")
	ErrSubmission    = errors.New("submission failed")
	ErrConfirmation  = errors.New("confirmation failed")
)

// RejectError is a silent rejection of a candidate, reason is used as a metric label.
type RejectError struct {
	Reason string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("%s: %s", ErrRejected, e.Reason)
}

func (e *RejectError) Is(target error) bool {
	return target == ErrRejected
}

func reject(reason string) error {
	return &RejectError{Reason: reason}
}

func rejectReason(err error) string {
	var re *RejectError
	if errors.As(err, &re) {
		return re.Reason
	}
	return "unknown"
}
