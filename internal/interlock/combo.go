package interlock

import (
	"time"

	"github.com/ppiankov/wheelguard/internal/model"
)

// ProcessComboInput evaluates raw clutch input for the consented challenge.
// Pressing both clutches starts the combo; holding them for the hold
// duration confirms the challenge with deviceToken. A release from the
// challenged device clears the start so the hold must begin again; releases
// from other devices are ignored. Returns true while the combo is in
// progress or when it just confirmed.
func (il *Interlock) ProcessComboInput(deviceID string, pressed bool, deviceToken uint64) bool {
	il.mu.Lock()
	defer il.mu.Unlock()

	now := il.clock.Now()
	if !pressed {
		il.clearComboLocked(deviceID, now)
		return false
	}

	if il.expireLocked(now) {
		return false
	}

	c := il.challenge
	if c == nil || !c.UIConsentGiven || c.DeviceID != deviceID {
		return false
	}
	if c.ComboRequired != model.BothClutchPaddles() {
		return false
	}

	if !c.ComboStarted() {
		il.startComboLocked(c, now)
		return true
	}

	if now.Sub(c.ComboStart) < il.cfg.ComboHoldDuration {
		return true
	}

	ack := model.InterlockAck{
		ChallengeToken: c.Token,
		DeviceToken:    deviceToken,
		ComboCompleted: model.BothClutchPaddles(),
		Timestamp:      now,
	}
	return il.confirmLocked(deviceID, ack, now) == nil
}

// ClearStaleCombo drops a recorded combo start when input reports stop
// arriving, so a USB hiccup cannot complete a hold nobody is performing.
func (il *Interlock) ClearStaleCombo() {
	il.mu.Lock()
	defer il.mu.Unlock()
	il.clearComboLocked("", il.clock.Now())
}

// clearComboLocked drops the combo start when deviceID owns the challenge.
// An empty deviceID clears it regardless of owner.
func (il *Interlock) clearComboLocked(deviceID string, now time.Time) {
	c := il.challenge
	if c == nil || !c.UIConsentGiven || !c.ComboStarted() {
		return
	}
	if deviceID != "" && c.DeviceID != deviceID {
		return
	}
	c.ComboStart = time.Time{}
	il.setStateLocked(c.state(), now, c.DeviceID)
	il.emit(Event{Type: EventComboReleased, At: now, DeviceID: c.DeviceID})
}
