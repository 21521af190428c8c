package interlock

import (
	"errors"
	"fmt"

	"github.com/ppiankov/wheelguard/internal/policy"
)

// Kind classifies interlock errors. Callers surface the message verbatim.
type Kind string

const (
	KindInvalidToken            Kind = "invalid_token"
	KindNoActiveChallenge       Kind = "no_active_challenge"
	KindAlreadyActive           Kind = "already_active"
	KindActiveFaults            Kind = "active_faults"
	KindTemperatureTooHigh      Kind = "temperature_too_high"
	KindHandsOffTooLong         Kind = "hands_off_too_long"
	KindConsentMissing          Kind = "consent_missing"
	KindComboHeldTooShort       Kind = "combo_held_too_short"
	KindFaultClearedTooSoon     Kind = "fault_cleared_too_soon"
	KindNoActiveFault           Kind = "no_active_fault"
	KindHandsOffTimeoutExceeded Kind = "hands_off_timeout_exceeded"
	KindNotActive               Kind = "not_active"
)

// Sentinels for errors.Is. Matching compares Kind only.
var (
	ErrInvalidToken            = &Error{Kind: KindInvalidToken}
	ErrNoActiveChallenge       = &Error{Kind: KindNoActiveChallenge}
	ErrAlreadyActive           = &Error{Kind: KindAlreadyActive}
	ErrActiveFaults            = &Error{Kind: KindActiveFaults}
	ErrTemperatureTooHigh      = &Error{Kind: KindTemperatureTooHigh}
	ErrHandsOffTooLong         = &Error{Kind: KindHandsOffTooLong}
	ErrConsentMissing          = &Error{Kind: KindConsentMissing}
	ErrComboHeldTooShort       = &Error{Kind: KindComboHeldTooShort}
	ErrFaultClearedTooSoon     = &Error{Kind: KindFaultClearedTooSoon}
	ErrNoActiveFault           = &Error{Kind: KindNoActiveFault}
	ErrHandsOffTimeoutExceeded = &Error{Kind: KindHandsOffTimeoutExceeded}
	ErrNotActive               = &Error{Kind: KindNotActive}
)

// Error is returned by every failing interlock operation.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the Kind of err, or "" if err is not an interlock error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// gateError wraps an operational gate violation so both the interlock kind
// and the policy violation match with errors.Is.
func gateError(err error) *Error {
	kind := KindActiveFaults
	var v *policy.Violation
	if errors.As(err, &v) {
		switch v.Kind {
		case policy.TemperatureTooHigh:
			kind = KindTemperatureTooHigh
		case policy.HandsOffTooLong:
			kind = KindHandsOffTooLong
		}
	}
	return &Error{Kind: kind, Msg: "cannot enable high torque", Err: err}
}
