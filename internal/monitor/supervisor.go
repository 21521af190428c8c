package monitor

import (
	"log/slog"
	"sync"

	"github.com/ppiankov/wheelguard/internal/interlock"
	"github.com/ppiankov/wheelguard/internal/logger"
	"github.com/ppiankov/wheelguard/internal/model"
	"github.com/ppiankov/wheelguard/internal/policy"
)

// deviceState is what the supervisor remembers between ticks for one device.
type deviceState struct {
	flags        uint8
	clutchesHeld bool
	pendingToken uint64
}

// Supervisor feeds per-tick telemetry into the interlock: fault bits,
// hands-on status, clutch input and challenge expiry.
type Supervisor struct {
	il      *interlock.Interlock
	rules   []Rule
	tokens  interlock.TokenSource
	logger  *slog.Logger
	mu      sync.Mutex
	devices map[string]*deviceState
}

// SupervisorOption customizes a Supervisor.
type SupervisorOption func(*Supervisor)

// WithRules replaces DefaultRules.
func WithRules(rules []Rule) SupervisorOption {
	return func(s *Supervisor) { s.rules = rules }
}

// WithDeviceTokens sets the source of device tokens used when a held
// clutch combo confirms a challenge.
func WithDeviceTokens(src interlock.TokenSource) SupervisorOption {
	return func(s *Supervisor) { s.tokens = src }
}

// WithLogger sets the supervisor's logger.
func WithLogger(l *slog.Logger) SupervisorOption {
	return func(s *Supervisor) { s.logger = l }
}

// NewSupervisor returns a Supervisor driving il.
func NewSupervisor(il *interlock.Interlock, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		il:      il,
		rules:   DefaultRules(),
		tokens:  interlock.RandomToken,
		devices: make(map[string]*deviceState),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logger.OrDiscard(s.logger).With("component", "supervisor")
	return s
}

// Interlock returns the supervised interlock.
func (s *Supervisor) Interlock() *interlock.Interlock {
	return s.il
}

// Tick processes one telemetry sample and returns the torque ceiling for
// that device, capped by the device's reported capability. A returned error
// is the hands-off timeout; the interlock is already Faulted when it is
// reported.
func (s *Supervisor) Tick(t model.Telemetry) (model.TorqueNm, error) {
	s.il.ObserveTelemetry(t)

	s.mu.Lock()
	st, ok := s.devices[t.DeviceID]
	if !ok {
		st = &deviceState{}
		s.devices[t.DeviceID] = st
	}
	prevFlags := st.flags
	st.flags = t.FaultFlags
	s.mu.Unlock()

	s.checkFaults(t.DeviceID, prevFlags, t.FaultFlags)

	handsErr := s.il.UpdateHandsOnStatus(t.DeviceID, t.HandsOn)
	if handsErr != nil {
		s.logger.Warn("hands-off timeout", "device", t.DeviceID, logger.Err(handsErr))
	}

	s.processCombo(t.DeviceID, t.ClutchesHeld, st)
	s.il.CheckChallengeExpiry()

	if policy.RequiresImmediateShutdown(t.FaultFlags) {
		return 0, handsErr
	}

	return t.Capabilities.Cap(s.il.LimitFor(t.DeviceID)), handsErr
}

// checkFaults reports critical bits while the interlock is not already
// Faulted, so a fault cleared while its bit is still set re-faults on the
// next tick. Warning bits are reported on their rising edge only.
func (s *Supervisor) checkFaults(deviceID string, prev, flags uint8) {
	if rule, ok := Match(flags, ActionShutdown, s.rules); ok {
		if s.il.State().Kind() != interlock.KindFaulted {
			s.logger.Error("critical device fault", "device", deviceID, "fault", rule.Fault, "flags", flags)
			s.il.ReportDeviceFault(deviceID, rule.Fault)
		}
	}

	rising := flags &^ prev
	if rule, ok := Match(rising, ActionWarn, s.rules); ok {
		s.logger.Warn("device warning", "device", deviceID, "fault", rule.Fault)
		s.il.ReportWarning(deviceID, rule.Fault)
	}
}

// processCombo forwards clutch input while a challenge is pending. A device
// token is minted on the press edge and reused until the hold confirms or
// the clutches are released.
func (s *Supervisor) processCombo(deviceID string, held bool, st *deviceState) {
	s.mu.Lock()
	wasHeld := st.clutchesHeld
	st.clutchesHeld = held
	s.mu.Unlock()

	if !held {
		if wasHeld {
			s.il.ProcessComboInput(deviceID, false, 0)
			s.mu.Lock()
			st.pendingToken = 0
			s.mu.Unlock()
		}
		return
	}

	if _, pending := s.il.ActiveChallenge(); !pending {
		return
	}

	s.mu.Lock()
	if st.pendingToken == 0 {
		tok, err := s.tokens()
		if err != nil || tok == 0 {
			s.mu.Unlock()
			s.logger.Error("failed to mint device token", "device", deviceID, logger.Err(err))
			return
		}
		st.pendingToken = tok
	}
	token := st.pendingToken
	s.mu.Unlock()

	s.il.ProcessComboInput(deviceID, true, token)
	if s.il.HasValidToken(deviceID) {
		s.logger.Info("high torque confirmed by clutch hold", "device", deviceID)
		s.mu.Lock()
		st.pendingToken = 0
		s.mu.Unlock()
	}
}

// Forget drops the supervisor's and the interlock's memory of a device.
func (s *Supervisor) Forget(deviceID string) {
	s.mu.Lock()
	delete(s.devices, deviceID)
	s.mu.Unlock()
	s.il.ForgetDevice(deviceID)
}

// ClearStaleCombo releases every remembered clutch press. Called when the
// input source stops delivering frames.
func (s *Supervisor) ClearStaleCombo() {
	s.mu.Lock()
	for _, st := range s.devices {
		st.clutchesHeld = false
		st.pendingToken = 0
	}
	s.mu.Unlock()
	s.il.ClearStaleCombo()
}
