package model

import (
	"fmt"
	"math"
	"time"
)

// TorqueNm is a motor torque in newton-metres.
type TorqueNm float64

// Abs returns the magnitude of t.
func (t TorqueNm) Abs() TorqueNm {
	return TorqueNm(math.Abs(float64(t)))
}

// IsFinite reports whether t is neither NaN nor infinite.
func (t TorqueNm) IsFinite() bool {
	f := float64(t)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func (t TorqueNm) String() string {
	return fmt.Sprintf("%.2f Nm", float64(t))
}

// MinTorque returns the smaller of a and b.
func MinTorque(a, b TorqueNm) TorqueNm {
	if a < b {
		return a
	}
	return b
}

// ClampTorque bounds requested to [-limit, limit]. Non-finite requests
// become zero.
func ClampTorque(requested, limit TorqueNm) TorqueNm {
	if !requested.IsFinite() {
		return 0
	}
	if requested > limit {
		return limit
	}
	if requested < -limit {
		return -limit
	}
	return requested
}

// DeviceCapabilities describes what a wheelbase can physically deliver.
type DeviceCapabilities struct {
	// MaxTorque is the device's hard ceiling. A device that reports zero,
	// a negative or a non-finite value receives no torque.
	MaxTorque TorqueNm `json:"max_torque_nm" yaml:"max_torque_nm"`
}

// Cap returns the lesser of limit and the device ceiling, never below zero.
func (c DeviceCapabilities) Cap(limit TorqueNm) TorqueNm {
	if !c.MaxTorque.IsFinite() || c.MaxTorque <= 0 {
		return 0
	}
	return MinTorque(limit, c.MaxTorque)
}

// Device is the host-side view of one wheelbase.
type Device struct {
	ID           string             `json:"id"`
	FaultFlags   uint8              `json:"fault_flags"`
	Capabilities DeviceCapabilities `json:"capabilities"`
}

// HasFaults returns true if the device reports any fault bit, critical or not.
func (d Device) HasFaults() bool {
	return d.FaultFlags != 0
}

// Telemetry is one per-tick sample from the device layer.
type Telemetry struct {
	DeviceID     string             `json:"device_id"`
	FaultFlags   uint8              `json:"fault_flags"`
	HandsOn      bool               `json:"hands_on"`
	TemperatureC uint8              `json:"temperature_c"`
	Capabilities DeviceCapabilities `json:"capabilities"`

	// ClutchesHeld is true while both clutch paddles are pressed past the
	// device's engagement threshold.
	ClutchesHeld bool `json:"clutches_held"`

	// Requested is the torque the FFB pipeline wants to output this tick.
	Requested TorqueNm `json:"requested_nm"`
}

// Device returns the device view carried by this sample.
func (t Telemetry) Device() Device {
	return Device{
		ID:           t.DeviceID,
		FaultFlags:   t.FaultFlags,
		Capabilities: t.Capabilities,
	}
}

// ComboKind identifies a physical button combination.
type ComboKind string

const (
	ComboBothClutchPaddles ComboKind = "both_clutch_paddles"
	ComboCustomSequence    ComboKind = "custom_sequence"
)

// ButtonCombo is the physical confirmation the operator performs on the wheel.
// Sequence is only meaningful for ComboCustomSequence.
type ButtonCombo struct {
	Kind     ComboKind `json:"kind"`
	Sequence uint32    `json:"sequence,omitempty"`
}

// BothClutchPaddles is the default interlock combo.
func BothClutchPaddles() ButtonCombo {
	return ButtonCombo{Kind: ComboBothClutchPaddles}
}

// CustomSequence returns a device-specific button sequence combo.
func CustomSequence(seq uint32) ButtonCombo {
	return ButtonCombo{Kind: ComboCustomSequence, Sequence: seq}
}

func (c ButtonCombo) String() string {
	if c.Kind == ComboCustomSequence {
		return fmt.Sprintf("%s(%d)", c.Kind, c.Sequence)
	}
	return string(c.Kind)
}

// InterlockAck is the firmware's confirmation that the physical combo was held.
type InterlockAck struct {
	ChallengeToken uint64      `json:"challenge_token"`
	DeviceToken    uint64      `json:"device_token"`
	ComboCompleted ButtonCombo `json:"combo_completed"`
	Timestamp      time.Time   `json:"timestamp"`
}
