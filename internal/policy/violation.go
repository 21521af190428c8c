package policy

import (
	"fmt"
	"time"

	"github.com/ppiankov/wheelguard/internal/model"
)

// ViolationKind names the rule a request broke.
type ViolationKind string

const (
	ActiveFaults       ViolationKind = "active_faults"
	TemperatureTooHigh ViolationKind = "temperature_too_high"
	HandsOffTooLong    ViolationKind = "hands_off_too_long"
	TorqueExceeded     ViolationKind = "torque_exceeded"
)

// Sentinels for errors.Is. Only Kind is compared.
var (
	ErrActiveFaults       = &Violation{Kind: ActiveFaults}
	ErrTemperatureTooHigh = &Violation{Kind: TemperatureTooHigh}
	ErrHandsOffTooLong    = &Violation{Kind: HandsOffTooLong}
	ErrTorqueExceeded     = &Violation{Kind: TorqueExceeded}
)

// Violation is returned by the policy when a safety rule rejects a request.
// Only the fields relevant to Kind are populated.
type Violation struct {
	Kind ViolationKind

	FaultFlags uint8

	TemperatureC uint8
	LimitC       uint8

	HandsOff      time.Duration
	HandsOffLimit time.Duration

	Requested  model.TorqueNm
	Limit      model.TorqueNm
	HighTorque bool
}

func (v *Violation) Error() string {
	switch v.Kind {
	case ActiveFaults:
		return fmt.Sprintf("device has active faults: 0x%02X", v.FaultFlags)
	case TemperatureTooHigh:
		return fmt.Sprintf("temperature too high: %d°C (limit: %d°C)", v.TemperatureC, v.LimitC)
	case HandsOffTooLong:
		return fmt.Sprintf("hands off too long: %s (limit: %s)", v.HandsOff, v.HandsOffLimit)
	case TorqueExceeded:
		return fmt.Sprintf("torque exceeds limit: requested %s, limit %s (high torque: %t)",
			v.Requested, v.Limit, v.HighTorque)
	default:
		return "safety violation: " + string(v.Kind)
	}
}

// Is matches any Violation of the same Kind.
func (v *Violation) Is(target error) bool {
	t, ok := target.(*Violation)
	return ok && t.Kind == v.Kind
}
