package model

import "fmt"

// Fault flag bits reported by the device firmware. The layout is fixed.
const (
	FlagUSB         uint8 = 0x01
	FlagEncoder     uint8 = 0x02
	FlagThermal     uint8 = 0x04
	FlagOvercurrent uint8 = 0x08
	FlagPlugin      uint8 = 0x10

	// CriticalFaultMask covers the bits that force torque to zero.
	CriticalFaultMask uint8 = FlagUSB | FlagEncoder | FlagThermal | FlagOvercurrent
)

// FaultType classifies a fault condition.
type FaultType string

const (
	FaultUsbStall                 FaultType = "usb_stall"
	FaultEncoder                  FaultType = "encoder_fault"
	FaultThermalLimit             FaultType = "thermal_limit"
	FaultOvercurrent              FaultType = "overcurrent"
	FaultPluginOverrun            FaultType = "plugin_overrun"
	FaultTimingViolation          FaultType = "timing_violation"
	FaultSafetyInterlockViolation FaultType = "safety_interlock_violation"
	FaultHandsOffTimeout          FaultType = "hands_off_timeout"
	FaultPipeline                 FaultType = "pipeline_fault"
)

// AllFaultTypes lists every known fault type in a stable order.
var AllFaultTypes = []FaultType{
	FaultUsbStall,
	FaultEncoder,
	FaultThermalLimit,
	FaultOvercurrent,
	FaultPluginOverrun,
	FaultTimingViolation,
	FaultSafetyInterlockViolation,
	FaultHandsOffTimeout,
	FaultPipeline,
}

// ParseFaultType returns the FaultType named by s.
func ParseFaultType(s string) (FaultType, error) {
	for _, f := range AllFaultTypes {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown fault type %q", s)
}

// IsCritical reports whether the fault belongs to the critical set.
func (f FaultType) IsCritical() bool {
	switch f {
	case FaultUsbStall, FaultEncoder, FaultThermalLimit, FaultOvercurrent, FaultHandsOffTimeout:
		return true
	default:
		return false
	}
}

// Severity returns 1 (critical) through 3 (medium).
func (f FaultType) Severity() int {
	switch f {
	case FaultOvercurrent, FaultThermalLimit:
		return 1
	case FaultUsbStall, FaultEncoder, FaultSafetyInterlockViolation, FaultHandsOffTimeout:
		return 2
	default:
		return 3
	}
}

// Describe returns a human-readable description.
func (f FaultType) Describe() string {
	switch f {
	case FaultUsbStall:
		return "USB communication stall"
	case FaultEncoder:
		return "Encoder returned invalid data"
	case FaultThermalLimit:
		return "Thermal protection triggered"
	case FaultOvercurrent:
		return "Overcurrent protection triggered"
	case FaultPluginOverrun:
		return "Plugin exceeded timing budget"
	case FaultTimingViolation:
		return "Real-time timing violation"
	case FaultSafetyInterlockViolation:
		return "Safety interlock violation"
	case FaultHandsOffTimeout:
		return "Hands-off timeout exceeded"
	case FaultPipeline:
		return "Filter pipeline processing fault"
	default:
		return string(f)
	}
}

// FaultFromFlags maps the lowest set critical bit to its fault type.
// Returns false if no critical bit is set.
func FaultFromFlags(flags uint8) (FaultType, bool) {
	switch {
	case flags&FlagUSB != 0:
		return FaultUsbStall, true
	case flags&FlagEncoder != 0:
		return FaultEncoder, true
	case flags&FlagThermal != 0:
		return FaultThermalLimit, true
	case flags&FlagOvercurrent != 0:
		return FaultOvercurrent, true
	default:
		return "", false
	}
}
