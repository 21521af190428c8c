// Package policy holds the stateless torque and fault rules.
//
// Nothing here keeps state or performs I/O: the interlock calls these
// functions on every transition and the tick loop may call them on the
// hot path.
package policy

import "github.com/ppiankov/wheelguard/internal/model"

// Policy evaluates requests against a fixed set of Limits.
type Policy struct {
	limits Limits
}

// New returns a Policy for the given limits.
func New(limits Limits) *Policy {
	return &Policy{limits: limits}
}

// Default returns a Policy with DefaultLimits.
func Default() *Policy {
	return New(DefaultLimits())
}

// Limits returns a copy of the configured limits.
func (p *Policy) Limits() Limits {
	return p.limits
}

// GetMaxTorque returns the policy ceiling for the given mode.
func (p *Policy) GetMaxTorque(highTorque bool) model.TorqueNm {
	if highTorque {
		return p.limits.HighTorqueNm
	}
	return p.limits.SafeTorqueNm
}

// ValidateTorqueLimits passes requested through unchanged when its magnitude
// is within min(policy ceiling, device capability). Otherwise it returns a
// TorqueExceeded violation. Values are never scaled.
func (p *Policy) ValidateTorqueLimits(requested model.TorqueNm, highTorque bool, caps model.DeviceCapabilities) (model.TorqueNm, error) {
	limit := model.MinTorque(p.GetMaxTorque(highTorque), caps.MaxTorque)

	// Written as !(<=) so a NaN capability rejects everything.
	if !requested.IsFinite() || !(requested.Abs() <= limit) {
		return 0, &Violation{
			Kind:       TorqueExceeded,
			Requested:  requested,
			Limit:      limit,
			HighTorque: highTorque,
		}
	}
	return requested, nil
}

// RequiresImmediateShutdown reports whether any of bits 0-3 (USB, encoder,
// thermal, overcurrent) is set. Bit 4 (plugin) and above never zero torque.
func RequiresImmediateShutdown(faultFlags uint8) bool {
	return faultFlags&model.CriticalFaultMask != 0
}

// RequiresImmediateShutdown is the method form used by callers holding a Policy.
func (p *Policy) RequiresImmediateShutdown(faultFlags uint8) bool {
	return RequiresImmediateShutdown(faultFlags)
}
