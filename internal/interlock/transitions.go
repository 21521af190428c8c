package interlock

import (
	"slices"
	"time"

	"github.com/ppiankov/wheelguard/internal/model"
)

// RequestHighTorque starts the challenge handshake for deviceID.
// The interlock is single-flight: a pending challenge or an active session
// for any device rejects the request.
func (il *Interlock) RequestHighTorque(deviceID string) (Challenge, error) {
	il.mu.Lock()
	defer il.mu.Unlock()

	now := il.clock.Now()
	il.expireLocked(now)

	switch s := il.state.(type) {
	case Faulted:
		return Challenge{}, newError(KindActiveFaults, "cannot enable high torque with active faults: %s", s.Fault)
	case HighTorqueChallenge, AwaitingPhysicalAck:
		return Challenge{}, newError(KindAlreadyActive, "high torque challenge already active")
	case HighTorqueActive:
		return Challenge{}, newError(KindAlreadyActive, "high torque already active for device %q", s.DeviceID)
	}

	device, handsOff, temperature := il.gateInputsLocked(deviceID, now)
	if err := il.policy.CanEnableHighTorque(device, handsOff, temperature); err != nil {
		il.emit(Event{Type: EventRejected, At: now, DeviceID: deviceID, Detail: err.Error()})
		return Challenge{}, gateError(err)
	}

	token, err := il.mintLocked()
	if err != nil {
		return Challenge{}, err
	}

	il.challenge = &Challenge{
		Token:         token,
		DeviceID:      deviceID,
		ComboRequired: model.BothClutchPaddles(),
		IssuedAt:      now,
	}
	il.setStateLocked(il.challenge.state(), now, deviceID)
	il.emit(Event{Type: EventChallengeIssued, At: now, DeviceID: deviceID})

	return *il.challenge, nil
}

// ProvideUIConsent records the operator's consent for the pending challenge.
func (il *Interlock) ProvideUIConsent(token uint64) error {
	il.mu.Lock()
	defer il.mu.Unlock()

	now := il.clock.Now()
	c, err := il.challengeLocked(token, now)
	if err != nil {
		return err
	}

	if !c.UIConsentGiven {
		c.UIConsentGiven = true
		il.setStateLocked(c.state(), now, c.DeviceID)
		il.emit(Event{Type: EventConsentGiven, At: now, DeviceID: c.DeviceID})
	}
	return nil
}

// ReportComboStart records that the firmware saw the combo pressed. Valid
// before or after UI consent.
func (il *Interlock) ReportComboStart(token uint64) error {
	il.mu.Lock()
	defer il.mu.Unlock()

	now := il.clock.Now()
	c, err := il.challengeLocked(token, now)
	if err != nil {
		return err
	}

	il.startComboLocked(c, now)
	return nil
}

// ConfirmHighTorque consumes the pending challenge with the firmware's
// acknowledgement and authorizes deviceID.
func (il *Interlock) ConfirmHighTorque(deviceID string, ack model.InterlockAck) error {
	il.mu.Lock()
	defer il.mu.Unlock()

	return il.confirmLocked(deviceID, ack, il.clock.Now())
}

func (il *Interlock) confirmLocked(deviceID string, ack model.InterlockAck, now time.Time) error {
	c, err := il.challengeLocked(ack.ChallengeToken, now)
	if err != nil {
		return err
	}

	if c.DeviceID != deviceID {
		return newError(KindInvalidToken, "Invalid challenge token: challenge was issued for device %q", c.DeviceID)
	}
	if ack.DeviceToken == 0 {
		return newError(KindInvalidToken, "Invalid device token: must be non-zero")
	}
	if !c.UIConsentGiven {
		return newError(KindConsentMissing, "UI consent has not been given for this challenge")
	}
	if ack.ComboCompleted != c.ComboRequired {
		return newError(KindInvalidToken, "acknowledged combo %s does not match required %s",
			ack.ComboCompleted, c.ComboRequired)
	}
	if !c.ComboStarted() {
		return newError(KindComboHeldTooShort, "button combo start not detected")
	}

	held := now.Sub(c.ComboStart)
	if held < il.cfg.ComboHoldDuration {
		return newError(KindComboHeldTooShort, "button combo held for only %.1fs, required %.1fs",
			held.Seconds(), il.cfg.ComboHoldDuration.Seconds())
	}

	il.tokens = il.tokens.with(deviceID, DeviceToken{Token: ack.DeviceToken, ActivatedAt: now})
	delete(il.handsOff, deviceID)
	il.challenge = nil
	il.setStateLocked(HighTorqueActive{
		DeviceID:    deviceID,
		DeviceToken: ack.DeviceToken,
		ActivatedAt: now,
	}, now, deviceID)
	il.emit(Event{Type: EventConfirmed, At: now, DeviceID: deviceID})

	return nil
}

// CancelChallenge discards the pending challenge and returns to SafeTorque.
func (il *Interlock) CancelChallenge() error {
	il.mu.Lock()
	defer il.mu.Unlock()

	now := il.clock.Now()
	if il.challenge == nil {
		return newError(KindNoActiveChallenge, "no active challenge to cancel")
	}

	deviceID := il.challenge.DeviceID
	il.challenge = nil
	il.setStateLocked(SafeTorque{}, now, deviceID)
	il.emit(Event{Type: EventCancelled, At: now, DeviceID: deviceID})
	return nil
}

// CheckChallengeExpiry expires a challenge older than ChallengeWindow.
// Returns true if one was expired.
func (il *Interlock) CheckChallengeExpiry() bool {
	il.mu.Lock()
	defer il.mu.Unlock()
	return il.expireLocked(il.clock.Now())
}

// ChallengeTimeRemaining returns how long the pending challenge stays
// valid. ok is false when no challenge is pending.
func (il *Interlock) ChallengeTimeRemaining() (remaining time.Duration, ok bool) {
	il.mu.Lock()
	defer il.mu.Unlock()

	if il.challenge == nil {
		return 0, false
	}
	remaining = ChallengeWindow - il.clock.Now().Sub(il.challenge.IssuedAt)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// DisableHighTorque revokes deviceID's token. The interlock returns to
// SafeTorque once no device holds a token.
func (il *Interlock) DisableHighTorque(deviceID string) error {
	il.mu.Lock()
	defer il.mu.Unlock()

	now := il.clock.Now()
	if _, ok := il.tokens[deviceID]; !ok {
		return newError(KindNotActive, "high torque not active for device %q", deviceID)
	}

	il.tokens = il.tokens.without(deviceID)
	delete(il.handsOff, deviceID)
	il.emit(Event{Type: EventDisabled, At: now, DeviceID: deviceID})

	active, ok := il.state.(HighTorqueActive)
	if !ok {
		il.publishLocked()
		return nil
	}

	if id, tok, found := il.tokens.latest(); found {
		if active.DeviceID == deviceID {
			active = HighTorqueActive{DeviceID: id, DeviceToken: tok.Token, ActivatedAt: tok.ActivatedAt}
		}
		il.setStateLocked(active, now, deviceID)
		return nil
	}

	il.setStateLocked(SafeTorque{}, now, deviceID)
	return nil
}

// UpdateHandsOnStatus feeds deviceID's hands-on flag while it holds a
// token. Every token holder has its own hands-off timer. A single hands-off
// sample never faults; the interlock faults, and deviceID loses its token,
// only when that device's hands stay off for longer than HandsOffTimeout.
// A hands-on sample resets the device's timer. Devices without a token and
// states other than HighTorqueActive are a no-op.
func (il *Interlock) UpdateHandsOnStatus(deviceID string, handsOn bool) error {
	s := il.snap.Load()
	if _, active := s.state.(HighTorqueActive); !active {
		return nil
	}
	if _, ok := s.tokens[deviceID]; !ok {
		return nil
	}

	il.mu.Lock()
	defer il.mu.Unlock()

	if _, ok := il.state.(HighTorqueActive); !ok {
		return nil
	}
	if _, ok := il.tokens[deviceID]; !ok {
		return nil
	}

	if handsOn {
		delete(il.handsOff, deviceID)
		return nil
	}

	now := il.clock.Now()
	since, ok := il.handsOff[deviceID]
	if !ok {
		il.handsOff[deviceID] = now
		return nil
	}

	elapsed := now.Sub(since)
	if elapsed > il.cfg.HandsOffTimeout {
		il.revokeLocked(deviceID, now, string(model.FaultHandsOffTimeout))
		il.faultLocked(model.FaultHandsOffTimeout, deviceID, now)
		return newError(KindHandsOffTimeoutExceeded, "Hands-off timeout exceeded on %q: %.1fs > %.1fs",
			deviceID, elapsed.Seconds(), il.cfg.HandsOffTimeout.Seconds())
	}
	return nil
}

// ReportFault moves the interlock to Faulted from any state and revokes
// every device token.
func (il *Interlock) ReportFault(fault model.FaultType) {
	il.mu.Lock()
	defer il.mu.Unlock()

	now := il.clock.Now()
	il.revokeAllLocked(now, string(fault))
	il.faultLocked(fault, "", now)
}

// ReportDeviceFault faults the interlock and revokes only deviceID's token.
// Other devices keep theirs while Faulted; ClearFault revokes them.
func (il *Interlock) ReportDeviceFault(deviceID string, fault model.FaultType) {
	il.mu.Lock()
	defer il.mu.Unlock()

	now := il.clock.Now()
	il.revokeLocked(deviceID, now, string(fault))
	il.faultLocked(fault, deviceID, now)
}

// ReportWarning counts a non-critical fault and emits a warning event. The
// state is left unchanged.
func (il *Interlock) ReportWarning(deviceID string, fault model.FaultType) {
	il.mu.Lock()
	defer il.mu.Unlock()

	il.faultCounts[fault]++
	il.emit(Event{Type: EventWarning, At: il.clock.Now(), DeviceID: deviceID, Fault: fault, Detail: fault.Describe()})
}

func (il *Interlock) faultLocked(fault model.FaultType, deviceID string, now time.Time) {
	il.faultCounts[fault]++
	il.challenge = nil
	clear(il.handsOff)
	il.setStateLocked(Faulted{Fault: fault, Since: now}, now, deviceID)
	il.emit(Event{Type: EventFault, At: now, DeviceID: deviceID, Fault: fault, Detail: fault.Describe()})
}

// ClearFault returns to SafeTorque once the fault has lasted MinFaultDwell.
// Tokens still held are revoked: every device needs a fresh handshake
// after a fault.
func (il *Interlock) ClearFault() error {
	il.mu.Lock()
	defer il.mu.Unlock()

	f, ok := il.state.(Faulted)
	if !ok {
		return newError(KindNoActiveFault, "no active fault to clear")
	}

	now := il.clock.Now()
	dwell := now.Sub(f.Since)
	if dwell < il.cfg.MinFaultDwell {
		return newError(KindFaultClearedTooSoon, "fault duration too short: %s < %s", dwell, il.cfg.MinFaultDwell)
	}

	il.revokeAllLocked(now, "fault cleared")
	il.setStateLocked(SafeTorque{}, now, "")
	il.emit(Event{Type: EventFaultCleared, At: now, Fault: f.Fault})
	return nil
}

// revokeLocked drops deviceID's token without publishing; the caller's
// state change publishes.
func (il *Interlock) revokeLocked(deviceID string, now time.Time, reason string) {
	if _, ok := il.tokens[deviceID]; !ok {
		return
	}
	il.tokens = il.tokens.without(deviceID)
	delete(il.handsOff, deviceID)
	il.emit(Event{Type: EventRevoked, At: now, DeviceID: deviceID, Detail: reason})
}

func (il *Interlock) revokeAllLocked(now time.Time, reason string) {
	if len(il.tokens) == 0 {
		return
	}
	ids := make([]string, 0, len(il.tokens))
	for id := range il.tokens {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		il.emit(Event{Type: EventRevoked, At: now, DeviceID: id, Detail: reason})
	}
	il.tokens = TokenTable{}
	clear(il.handsOff)
}

// challengeLocked returns the pending challenge if token matches it,
// expiring it first when its window has passed.
func (il *Interlock) challengeLocked(token uint64, now time.Time) (*Challenge, error) {
	if il.expireLocked(now) {
		return nil, newError(KindNoActiveChallenge, "challenge expired")
	}
	if il.challenge == nil {
		return nil, newError(KindInvalidToken, "Invalid challenge token: no active challenge")
	}
	if il.challenge.Token != token {
		return nil, newError(KindInvalidToken, "Invalid challenge token")
	}
	return il.challenge, nil
}

func (il *Interlock) startComboLocked(c *Challenge, now time.Time) {
	c.ComboStart = now
	il.setStateLocked(c.state(), now, c.DeviceID)
	il.emit(Event{Type: EventComboStarted, At: now, DeviceID: c.DeviceID})
}

func (il *Interlock) expireLocked(now time.Time) bool {
	if il.challenge == nil || !il.challenge.expired(now) {
		return false
	}
	deviceID := il.challenge.DeviceID
	il.challenge = nil
	il.setStateLocked(SafeTorque{}, now, deviceID)
	il.emit(Event{Type: EventExpired, At: now, DeviceID: deviceID})
	return true
}
