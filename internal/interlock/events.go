package interlock

import (
	"time"

	"github.com/ppiankov/wheelguard/internal/model"
)

// EventType names what happened inside the interlock.
type EventType string

const (
	EventTransition      EventType = "transition"
	EventChallengeIssued EventType = "challenge_issued"
	EventConsentGiven    EventType = "consent_given"
	EventComboStarted    EventType = "combo_started"
	EventComboReleased   EventType = "combo_released"
	EventConfirmed       EventType = "confirmed"
	EventRejected        EventType = "rejected"
	EventCancelled       EventType = "cancelled"
	EventExpired         EventType = "expired"
	EventDisabled        EventType = "disabled"
	EventRevoked         EventType = "revoked"
	EventFault           EventType = "fault"
	EventFaultCleared    EventType = "fault_cleared"
	EventWarning         EventType = "warning"
)

// Event is emitted for every transition and noteworthy decision.
type Event struct {
	Type     EventType       `json:"type"`
	At       time.Time       `json:"at"`
	DeviceID string          `json:"device_id,omitempty"`
	From     StateKind       `json:"from,omitempty"`
	To       StateKind       `json:"to,omitempty"`
	Fault    model.FaultType `json:"fault,omitempty"`
	Detail   string          `json:"detail,omitempty"`
}

// Events returns the channel events are delivered on. Delivery never
// blocks the interlock: when the buffer is full the event is dropped and
// counted.
func (il *Interlock) Events() <-chan Event {
	return il.events
}

// DroppedEvents returns how many events were discarded on a full buffer.
func (il *Interlock) DroppedEvents() uint64 {
	return il.dropped.Load()
}

func (il *Interlock) emit(ev Event) {
	select {
	case il.events <- ev:
	default:
		il.dropped.Add(1)
	}
}
