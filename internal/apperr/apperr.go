// Package apperr defines the error taxonomy shared by the admission and
// lifecycle engine. Callers branch on Kind; transport layers map Kind to a
// status code.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation: malformed input, rejected before any state change.
	KindValidation
	// KindAdmissionDenied: cooldown, daily limit or step order; no mutation.
	KindAdmissionDenied
	// KindConflict: claim race, double submit; retryable.
	KindConflict
	// KindIntegrity: illegal transition or broken invariant; fatal.
	KindIntegrity
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAdmissionDenied:
		return "admission_denied"
	case KindConflict:
		return "conflict"
	case KindIntegrity:
		return "integrity"
	case KindNotFound:
		return "not_found"
	}
	return "unknown"
}

// Admission denial reasons.
const (
	ReasonCooldownActive  = "cooldown_active"
	ReasonDailyLimit      = "daily_limit"
	ReasonOutOfOrderStep  = "out_of_order_step"
	ReasonOutOfScope      = "out_of_scope"
	ReasonClaimExpired    = "claim_expired"
	ReasonAlreadyClaimed  = "already_claimed"
	ReasonDoubleSubmit    = "double_submit"
	ReasonUnresolvedFlags = "unresolved_flags"
	ReasonIllegalTransit  = "illegal_transition"
	ReasonForbiddenRole   = "forbidden_role"
	ReasonResubmitOff     = "resubmission_disabled"
	ReasonConcurrent      = "concurrent_update"
)

type Error struct {
	Kind       Kind
	Code       string
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(code, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

func Denied(reason, message string, retryAfter time.Duration) *Error {
	return &Error{Kind: KindAdmissionDenied, Code: reason, Message: message, RetryAfter: retryAfter}
}

func Conflict(code, format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: fmt.Sprintf(format, args...)}
}

func Integrity(code, format string, args ...any) *Error {
	return &Error{Kind: KindIntegrity, Code: code, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Code: "not_found", Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func Is(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// As extracts the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
