package server

import (
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ppiankov/wheelguard/internal/interlock"
)

// codeFor maps an interlock error kind to a gRPC status code.
func codeFor(kind interlock.Kind) codes.Code {
	switch kind {
	case interlock.KindInvalidToken:
		return codes.PermissionDenied
	case interlock.KindAlreadyActive:
		return codes.AlreadyExists
	case interlock.KindNoActiveChallenge, interlock.KindNoActiveFault, interlock.KindNotActive:
		return codes.NotFound
	case interlock.KindActiveFaults,
		interlock.KindTemperatureTooHigh,
		interlock.KindHandsOffTooLong,
		interlock.KindConsentMissing,
		interlock.KindComboHeldTooShort,
		interlock.KindFaultClearedTooSoon,
		interlock.KindHandsOffTimeoutExceeded:
		return codes.FailedPrecondition
	default:
		return codes.Internal
	}
}

// toStatus converts an interlock error into a status whose message is
// "[kind] message" so clients can recover the kind.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	kind := interlock.KindOf(err)
	if kind == "" {
		return status.Error(codes.Internal, err.Error())
	}
	return status.Error(codeFor(kind), fmt.Sprintf("[%s] %s", kind, err.Error()))
}

func invalidArgument(format string, args ...any) error {
	return status.Errorf(codes.InvalidArgument, format, args...)
}

// ErrorFromStatus rebuilds an *interlock.Error from a status produced by
// the server. Errors without a kind prefix are returned unchanged.
func ErrorFromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok || !strings.HasPrefix(st.Message(), "[") {
		return err
	}
	end := strings.Index(st.Message(), "] ")
	if end < 0 {
		return err
	}
	return &interlock.Error{
		Kind: interlock.Kind(st.Message()[1:end]),
		Msg:  st.Message()[end+2:],
	}
}
