package interlock

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/wheelguard/internal/clock"
	"github.com/ppiankov/wheelguard/internal/model"
	"github.com/ppiankov/wheelguard/internal/policy"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{
		HandsOffTimeout:   3 * time.Second,
		ComboHoldDuration: 2 * time.Second,
		MinFaultDwell:     100 * time.Millisecond,
	}
}

func newTestInterlock(t *testing.T) (*Interlock, *clock.FakeClock) {
	t.Helper()
	fc := clock.Fake(epoch)
	return New(testConfig(), WithClock(fc)), fc
}

func ackFor(c Challenge, deviceToken uint64) model.InterlockAck {
	return model.InterlockAck{
		ChallengeToken: c.Token,
		DeviceToken:    deviceToken,
		ComboCompleted: model.BothClutchPaddles(),
		Timestamp:      epoch,
	}
}

// activate drives deviceID through the full handshake.
func activate(t *testing.T, il *Interlock, fc *clock.FakeClock, deviceID string, deviceToken uint64) {
	t.Helper()
	c, err := il.RequestHighTorque(deviceID)
	if err != nil {
		t.Fatalf("RequestHighTorque(%s): %v", deviceID, err)
	}
	if err := il.ProvideUIConsent(c.Token); err != nil {
		t.Fatalf("ProvideUIConsent: %v", err)
	}
	if err := il.ReportComboStart(c.Token); err != nil {
		t.Fatalf("ReportComboStart: %v", err)
	}
	fc.Advance(2100 * time.Millisecond)
	if err := il.ConfirmHighTorque(deviceID, ackFor(c, deviceToken)); err != nil {
		t.Fatalf("ConfirmHighTorque(%s): %v", deviceID, err)
	}
}

func TestInitialStateIsSafeTorque(t *testing.T) {
	il, _ := newTestInterlock(t)

	if il.State().Kind() != KindSafeTorque {
		t.Fatalf("expected safe_torque, got %s", il.State())
	}
	if got := il.GetMaxTorque(false); got != 5.0 {
		t.Errorf("expected 5.0 Nm, got %v", got)
	}
	if _, ok := il.ChallengeTimeRemaining(); ok {
		t.Error("expected no challenge")
	}
}

func TestHappyPath(t *testing.T) {
	il, fc := newTestInterlock(t)

	c, err := il.RequestHighTorque("d1")
	if err != nil {
		t.Fatalf("RequestHighTorque: %v", err)
	}
	if c.Token == 0 {
		t.Fatal("expected non-zero token")
	}
	if c.ComboRequired != model.BothClutchPaddles() {
		t.Errorf("expected both clutch paddles, got %s", c.ComboRequired)
	}
	if _, ok := il.State().(HighTorqueChallenge); !ok {
		t.Fatalf("expected HighTorqueChallenge, got %s", il.State())
	}

	if err := il.ProvideUIConsent(c.Token); err != nil {
		t.Fatalf("ProvideUIConsent: %v", err)
	}
	if _, ok := il.State().(AwaitingPhysicalAck); !ok {
		t.Fatalf("expected AwaitingPhysicalAck, got %s", il.State())
	}

	if err := il.ReportComboStart(c.Token); err != nil {
		t.Fatalf("ReportComboStart: %v", err)
	}
	fc.Advance(2100 * time.Millisecond)

	if err := il.ConfirmHighTorque("d1", ackFor(c, 12345)); err != nil {
		t.Fatalf("ConfirmHighTorque: %v", err)
	}

	active, ok := il.State().(HighTorqueActive)
	if !ok {
		t.Fatalf("expected HighTorqueActive, got %s", il.State())
	}
	if active.DeviceToken != 12345 {
		t.Errorf("expected device token 12345, got %d", active.DeviceToken)
	}
	if !il.HasValidToken("d1") {
		t.Error("expected d1 to hold a token")
	}
	if got := il.GetMaxTorque(true); got != 25.0 {
		t.Errorf("expected 25.0 Nm, got %v", got)
	}
	if _, ok := il.ActiveChallenge(); ok {
		t.Error("expected challenge to be consumed")
	}
}

func TestInsufficientHold(t *testing.T) {
	il, fc := newTestInterlock(t)

	c, _ := il.RequestHighTorque("d1")
	il.ProvideUIConsent(c.Token)
	il.ReportComboStart(c.Token)
	fc.Advance(500 * time.Millisecond)

	err := il.ConfirmHighTorque("d1", ackFor(c, 12345))
	if err == nil {
		t.Fatal("expected error for short hold")
	}
	if !strings.Contains(err.Error(), "held for only") {
		t.Errorf("expected 'held for only', got %q", err)
	}
	if !errors.Is(err, ErrComboHeldTooShort) {
		t.Errorf("expected ComboHeldTooShort kind, got %s", KindOf(err))
	}
	if il.HasValidToken("d1") {
		t.Error("short hold must not mint a token")
	}

	// The challenge survives; holding longer succeeds.
	fc.Advance(1600 * time.Millisecond)
	if err := il.ConfirmHighTorque("d1", ackFor(c, 12345)); err != nil {
		t.Fatalf("expected confirm after full hold, got %v", err)
	}
}

func TestRequestRejectedWhileChallengePending(t *testing.T) {
	il, _ := newTestInterlock(t)

	if _, err := il.RequestHighTorque("d1"); err != nil {
		t.Fatal(err)
	}
	_, err := il.RequestHighTorque("d2")
	if err == nil || !strings.Contains(err.Error(), "already active") {
		t.Fatalf("expected 'already active', got %v", err)
	}
	if !errors.Is(err, ErrAlreadyActive) {
		t.Errorf("expected AlreadyActive kind, got %s", KindOf(err))
	}
}

func TestRequestRejectedWhileActive(t *testing.T) {
	il, fc := newTestInterlock(t)
	activate(t, il, fc, "d1", 1)

	_, err := il.RequestHighTorque("d1")
	if !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("expected AlreadyActive, got %v", err)
	}
}

func TestProvideUIConsentInvalidToken(t *testing.T) {
	il, _ := newTestInterlock(t)

	if err := il.ProvideUIConsent(42); err == nil || !strings.Contains(err.Error(), "Invalid challenge token") {
		t.Fatalf("expected invalid token with no challenge, got %v", err)
	}

	c, _ := il.RequestHighTorque("d1")
	err := il.ProvideUIConsent(c.Token + 1)
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected InvalidToken, got %v", err)
	}
	if _, ok := il.State().(HighTorqueChallenge); !ok {
		t.Errorf("wrong token must not advance the state, got %s", il.State())
	}
}

func TestComboStartBeforeConsentCarriesForward(t *testing.T) {
	il, fc := newTestInterlock(t)

	c, _ := il.RequestHighTorque("d1")
	if err := il.ReportComboStart(c.Token); err != nil {
		t.Fatalf("ReportComboStart before consent: %v", err)
	}
	fc.Advance(time.Second)
	if err := il.ProvideUIConsent(c.Token); err != nil {
		t.Fatal(err)
	}

	s, ok := il.State().(AwaitingPhysicalAck)
	if !ok {
		t.Fatalf("expected AwaitingPhysicalAck, got %s", il.State())
	}
	if !s.ComboStart.Equal(epoch) {
		t.Errorf("expected combo start carried forward, got %v", s.ComboStart)
	}

	fc.Advance(time.Second)
	if err := il.ConfirmHighTorque("d1", ackFor(c, 9)); err != nil {
		t.Fatalf("expected confirm, got %v", err)
	}
}

func TestReportComboStartInvalidToken(t *testing.T) {
	il, _ := newTestInterlock(t)
	if err := il.ReportComboStart(1); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected InvalidToken without challenge, got %v", err)
	}
	c, _ := il.RequestHighTorque("d1")
	if err := il.ReportComboStart(c.Token ^ 0xFF); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected InvalidToken on mismatch, got %v", err)
	}
}

func TestConfirmRequiresConsent(t *testing.T) {
	il, fc := newTestInterlock(t)

	c, _ := il.RequestHighTorque("d1")
	il.ReportComboStart(c.Token)
	fc.Advance(3 * time.Second)

	err := il.ConfirmHighTorque("d1", ackFor(c, 7))
	if !errors.Is(err, ErrConsentMissing) {
		t.Fatalf("expected ConsentMissing, got %v", err)
	}
}

func TestConfirmRejectsWrongChallengeToken(t *testing.T) {
	il, fc := newTestInterlock(t)

	c, _ := il.RequestHighTorque("d1")
	il.ProvideUIConsent(c.Token)
	il.ReportComboStart(c.Token)
	fc.Advance(3 * time.Second)

	bad := ackFor(c, 7)
	bad.ChallengeToken++
	err := il.ConfirmHighTorque("d1", bad)
	if err == nil || !strings.Contains(err.Error(), "Invalid challenge token") {
		t.Fatalf("expected invalid challenge token, got %v", err)
	}
}

func TestConfirmRejectsOtherDevice(t *testing.T) {
	il, fc := newTestInterlock(t)

	c, _ := il.RequestHighTorque("d1")
	il.ProvideUIConsent(c.Token)
	il.ReportComboStart(c.Token)
	fc.Advance(3 * time.Second)

	if err := il.ConfirmHighTorque("d2", ackFor(c, 7)); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected InvalidToken for foreign device, got %v", err)
	}
	if il.HasValidToken("d2") {
		t.Error("foreign device must not receive a token")
	}
}

func TestConfirmWithoutComboStart(t *testing.T) {
	il, fc := newTestInterlock(t)

	c, _ := il.RequestHighTorque("d1")
	il.ProvideUIConsent(c.Token)
	fc.Advance(3 * time.Second)

	if err := il.ConfirmHighTorque("d1", ackFor(c, 7)); !errors.Is(err, ErrComboHeldTooShort) {
		t.Fatalf("expected ComboHeldTooShort, got %v", err)
	}
}

func TestConfirmRejectsZeroDeviceTokenAndWrongCombo(t *testing.T) {
	il, fc := newTestInterlock(t)

	c, _ := il.RequestHighTorque("d1")
	il.ProvideUIConsent(c.Token)
	il.ReportComboStart(c.Token)
	fc.Advance(3 * time.Second)

	if err := il.ConfirmHighTorque("d1", ackFor(c, 0)); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected InvalidToken for zero device token, got %v", err)
	}

	ack := ackFor(c, 5)
	ack.ComboCompleted = model.CustomSequence(3)
	if err := il.ConfirmHighTorque("d1", ack); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected InvalidToken for combo mismatch, got %v", err)
	}
}

func TestCancelChallenge(t *testing.T) {
	il, _ := newTestInterlock(t)

	c, _ := il.RequestHighTorque("d1")
	il.ProvideUIConsent(c.Token)

	if err := il.CancelChallenge(); err != nil {
		t.Fatalf("CancelChallenge: %v", err)
	}
	if il.State().Kind() != KindSafeTorque {
		t.Fatalf("expected safe_torque, got %s", il.State())
	}
	if err := il.ProvideUIConsent(c.Token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("cancelled token must be rejected, got %v", err)
	}
	if err := il.CancelChallenge(); !errors.Is(err, ErrNoActiveChallenge) {
		t.Errorf("expected NoActiveChallenge on second cancel, got %v", err)
	}

	// A new request is accepted after cancel.
	if _, err := il.RequestHighTorque("d1"); err != nil {
		t.Fatalf("expected new request to succeed, got %v", err)
	}
}

func TestChallengeTimeRemaining(t *testing.T) {
	il, fc := newTestInterlock(t)

	il.RequestHighTorque("d1")
	remaining, ok := il.ChallengeTimeRemaining()
	if !ok {
		t.Fatal("expected a pending challenge")
	}
	if remaining <= 25*time.Second || remaining > 30*time.Second {
		t.Fatalf("expected remaining in (25s, 30s], got %v", remaining)
	}

	fc.Advance(10 * time.Second)
	remaining, _ = il.ChallengeTimeRemaining()
	if remaining != 20*time.Second {
		t.Errorf("expected 20s remaining, got %v", remaining)
	}
}

func TestCheckChallengeExpiry(t *testing.T) {
	il, fc := newTestInterlock(t)

	if il.CheckChallengeExpiry() {
		t.Fatal("expiry with no challenge must return false")
	}

	il.RequestHighTorque("d1")
	fc.Advance(ChallengeWindow)
	if il.CheckChallengeExpiry() {
		t.Fatal("challenge must still be valid at exactly the window")
	}
	if remaining, ok := il.ChallengeTimeRemaining(); !ok || remaining != 0 {
		t.Errorf("expected 0 remaining, got %v ok=%v", remaining, ok)
	}

	fc.Advance(time.Millisecond)
	if !il.CheckChallengeExpiry() {
		t.Fatal("expected challenge to expire")
	}
	if il.State().Kind() != KindSafeTorque {
		t.Errorf("expected safe_torque after expiry, got %s", il.State())
	}
	if il.CheckChallengeExpiry() {
		t.Error("second expiry check must return false")
	}
}

func TestExpiredChallengeRejectsConsent(t *testing.T) {
	il, fc := newTestInterlock(t)

	c, _ := il.RequestHighTorque("d1")
	fc.Advance(31 * time.Second)

	err := il.ProvideUIConsent(c.Token)
	if !errors.Is(err, ErrNoActiveChallenge) || !strings.Contains(err.Error(), "expired") {
		t.Fatalf("expected expired challenge, got %v", err)
	}
	if il.State().Kind() != KindSafeTorque {
		t.Errorf("expected safe_torque, got %s", il.State())
	}
}

func TestStaleChallengeDoesNotBlockNewRequest(t *testing.T) {
	il, fc := newTestInterlock(t)

	il.RequestHighTorque("d1")
	fc.Advance(31 * time.Second)

	if _, err := il.RequestHighTorque("d2"); err != nil {
		t.Fatalf("expired challenge must not block a new request: %v", err)
	}
}

func TestGetMaxTorqueIsIdempotent(t *testing.T) {
	il, fc := newTestInterlock(t)
	activate(t, il, fc, "d1", 77)

	first := il.GetMaxTorque(true)
	firstToken := il.HasValidToken("d1")
	for i := 0; i < 1000; i++ {
		if il.GetMaxTorque(true) != first || il.HasValidToken("d1") != firstToken {
			t.Fatal("hot-path reads changed without a mutation")
		}
	}
}

func TestHighCeilingOnlyWhileActive(t *testing.T) {
	il, _ := newTestInterlock(t)

	if got := il.GetMaxTorque(true); got != 5.0 {
		t.Fatalf("high ceiling must not apply in safe_torque, got %v", got)
	}
	il.RequestHighTorque("d1")
	if got := il.GetMaxTorque(true); got != 5.0 {
		t.Fatalf("high ceiling must not apply during challenge, got %v", got)
	}
}

func TestClamp(t *testing.T) {
	il, fc := newTestInterlock(t)

	tests := []struct {
		in, want model.TorqueNm
	}{
		{3, 3},
		{12, 5},
		{-12, -5},
	}
	for _, tt := range tests {
		if got := il.Clamp(tt.in); got != tt.want {
			t.Errorf("Clamp(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}

	activate(t, il, fc, "d1", 3)
	if got := il.ClampFor("d1", 30); got != 25 {
		t.Errorf("expected 25 for active device, got %v", got)
	}
	if got := il.ClampFor("d2", 30); got != 5 {
		t.Errorf("expected safe ceiling for device without token, got %v", got)
	}

	il.ReportFault(model.FaultOvercurrent)
	if got := il.Clamp(4); got != 0 {
		t.Errorf("expected 0 while faulted, got %v", got)
	}
}

func TestConsentRequirements(t *testing.T) {
	il, _ := newTestInterlock(t)

	info := il.ConsentRequirements()
	if info.MaxTorqueNm != 25.0 {
		t.Errorf("expected 25.0, got %v", info.MaxTorqueNm)
	}
	if !info.RequiresExplicitConsent {
		t.Error("consent must be mandatory")
	}
	if len(info.Warnings) == 0 || len(info.Disclaimers) == 0 {
		t.Error("warnings and disclaimers must be non-empty")
	}
	if !strings.Contains(info.Warnings[0], "25.0 Nm") {
		t.Errorf("expected ceiling in first warning, got %q", info.Warnings[0])
	}
}

func TestSetPolicyUpdatesCeilings(t *testing.T) {
	il, _ := newTestInterlock(t)

	limits := policy.DefaultLimits()
	limits.SafeTorqueNm = 3
	limits.HighTorqueNm = 15
	il.SetPolicy(policy.New(limits))

	if got := il.GetMaxTorque(false); got != 3 {
		t.Errorf("expected 3 Nm, got %v", got)
	}
	if got := il.ConsentRequirements().MaxTorqueNm; got != 15 {
		t.Errorf("expected 15 Nm, got %v", got)
	}
}

func TestTokensNonZeroAndUnique(t *testing.T) {
	seq := []uint64{0, 7, 7, 9}
	i := 0
	src := func() (uint64, error) {
		v := seq[i%len(seq)]
		i++
		return v, nil
	}
	fc := clock.Fake(epoch)
	il := New(testConfig(), WithClock(fc), WithTokenSource(src))

	c1, err := il.RequestHighTorque("d1")
	if err != nil {
		t.Fatal(err)
	}
	il.CancelChallenge()
	c2, err := il.RequestHighTorque("d1")
	if err != nil {
		t.Fatal(err)
	}

	if c1.Token != 7 || c2.Token != 9 {
		t.Fatalf("expected tokens 7 then 9, got %d and %d", c1.Token, c2.Token)
	}
}

func TestTokenSourceExhausted(t *testing.T) {
	fc := clock.Fake(epoch)
	il := New(testConfig(), WithClock(fc), WithTokenSource(func() (uint64, error) { return 0, nil }))

	if _, err := il.RequestHighTorque("d1"); err == nil {
		t.Fatal("expected mint failure")
	}
	if il.State().Kind() != KindSafeTorque {
		t.Errorf("failed mint must leave safe_torque, got %s", il.State())
	}
}

func TestRecentTokenMemoryIsBounded(t *testing.T) {
	var seq []uint64
	for v := uint64(1); v <= recentTokens+1; v++ {
		seq = append(seq, v)
	}
	// A repeat of the newest token is refused, the oldest is forgotten.
	seq = append(seq, recentTokens+1, 1)
	i := 0
	src := func() (uint64, error) {
		v := seq[i]
		i++
		return v, nil
	}
	il := New(testConfig(), WithClock(clock.Fake(epoch)), WithTokenSource(src))

	for n := 0; n <= recentTokens; n++ {
		if _, err := il.RequestHighTorque("d1"); err != nil {
			t.Fatalf("request %d: %v", n, err)
		}
		il.CancelChallenge()
	}
	c, err := il.RequestHighTorque("d1")
	if err != nil {
		t.Fatal(err)
	}
	if c.Token != 1 {
		t.Fatalf("expected the evicted token 1 to be reusable, got %d", c.Token)
	}
}

func TestRandomTokensDiffer(t *testing.T) {
	il, _ := newTestInterlock(t)
	seen := make(map[uint64]bool)
	for i := 0; i < 50; i++ {
		c, err := il.RequestHighTorque("d1")
		if err != nil {
			t.Fatal(err)
		}
		if c.Token == 0 || seen[c.Token] {
			t.Fatalf("token %d is zero or repeated", c.Token)
		}
		seen[c.Token] = true
		il.CancelChallenge()
	}
}

func TestEventsEmittedAndDropped(t *testing.T) {
	fc := clock.Fake(epoch)
	cfg := testConfig()
	cfg.EventBuffer = 2
	il := New(cfg, WithClock(fc))

	il.RequestHighTorque("d1") // transition + challenge_issued
	il.CancelChallenge()       // transition + cancelled, both dropped

	first := <-il.Events()
	if first.Type != EventTransition || first.From != KindSafeTorque || first.To != KindHighTorqueChallenge {
		t.Errorf("unexpected first event %+v", first)
	}
	second := <-il.Events()
	if second.Type != EventChallengeIssued || second.DeviceID != "d1" {
		t.Errorf("unexpected second event %+v", second)
	}
	if il.DroppedEvents() != 2 {
		t.Errorf("expected 2 dropped events, got %d", il.DroppedEvents())
	}
}
