package interlock

import (
	"fmt"
	"time"

	"github.com/ppiankov/wheelguard/internal/model"
)

// StateKind names a SafetyState variant.
type StateKind string

const (
	KindSafeTorque          StateKind = "safe_torque"
	KindHighTorqueChallenge StateKind = "high_torque_challenge"
	KindAwaitingPhysicalAck StateKind = "awaiting_physical_ack"
	KindHighTorqueActive    StateKind = "high_torque_active"
	KindFaulted             StateKind = "faulted"
)

// State is the interlock's safety state. Exactly one variant is active;
// each carries only the fields that exist in that state.
type State interface {
	Kind() StateKind
	String() string
	isState()
}

// SafeTorque is the initial state: only the safe ceiling applies.
type SafeTorque struct{}

// HighTorqueChallenge means a challenge was issued and awaits UI consent.
// ComboStart is zero until the firmware reports the combo.
type HighTorqueChallenge struct {
	Token          uint64
	IssuedAt       time.Time
	UIConsentGiven bool
	ComboStart     time.Time
}

// AwaitingPhysicalAck means consent was given and the combo hold is pending.
type AwaitingPhysicalAck struct {
	Token      uint64
	IssuedAt   time.Time
	ComboStart time.Time
}

// HighTorqueActive means a device holds a live authorization token.
type HighTorqueActive struct {
	DeviceID    string
	DeviceToken uint64
	ActivatedAt time.Time
}

// Faulted zeroes torque until ClearFault succeeds.
type Faulted struct {
	Fault model.FaultType
	Since time.Time
}

func (SafeTorque) Kind() StateKind          { return KindSafeTorque }
func (HighTorqueChallenge) Kind() StateKind { return KindHighTorqueChallenge }
func (AwaitingPhysicalAck) Kind() StateKind { return KindAwaitingPhysicalAck }
func (HighTorqueActive) Kind() StateKind    { return KindHighTorqueActive }
func (Faulted) Kind() StateKind             { return KindFaulted }

func (SafeTorque) isState()          {}
func (HighTorqueChallenge) isState() {}
func (AwaitingPhysicalAck) isState() {}
func (HighTorqueActive) isState()    {}
func (Faulted) isState()             {}

func (SafeTorque) String() string { return string(KindSafeTorque) }

func (s HighTorqueChallenge) String() string {
	return fmt.Sprintf("%s{consent=%t combo=%t}", KindHighTorqueChallenge, s.UIConsentGiven, !s.ComboStart.IsZero())
}

func (s AwaitingPhysicalAck) String() string {
	return fmt.Sprintf("%s{combo=%t}", KindAwaitingPhysicalAck, !s.ComboStart.IsZero())
}

func (s HighTorqueActive) String() string {
	return fmt.Sprintf("%s{device=%s}", KindHighTorqueActive, s.DeviceID)
}

func (s Faulted) String() string {
	return fmt.Sprintf("%s{%s}", KindFaulted, s.Fault)
}
