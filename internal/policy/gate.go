package policy

import (
	"time"

	"github.com/ppiankov/wheelguard/internal/model"
)

// CanEnableHighTorque decides whether a high-torque challenge may start.
//
// Evaluation order (must not be changed):
//  1. Any fault bit on the device, however minor
//  2. Temperature at or above the limit (boundary fails)
//  3. Hands-off strictly longer than the limit (boundary passes)
func (p *Policy) CanEnableHighTorque(device model.Device, handsOff time.Duration, temperatureC uint8) error {
	if device.HasFaults() {
		return &Violation{Kind: ActiveFaults, FaultFlags: device.FaultFlags}
	}

	if temperatureC >= p.limits.MaxTemperatureC {
		return &Violation{
			Kind:         TemperatureTooHigh,
			TemperatureC: temperatureC,
			LimitC:       p.limits.MaxTemperatureC,
		}
	}

	if handsOff > p.limits.MaxHandsOff {
		return &Violation{
			Kind:          HandsOffTooLong,
			HandsOff:      handsOff,
			HandsOffLimit: p.limits.MaxHandsOff,
		}
	}

	return nil
}

// MaxTemperature returns the thermal gate limit in °C.
func (p *Policy) MaxTemperature() uint8 {
	return p.limits.MaxTemperatureC
}

// MaxHandsOffDuration returns the hands-off gate limit.
func (p *Policy) MaxHandsOffDuration() time.Duration {
	return p.limits.MaxHandsOff
}
