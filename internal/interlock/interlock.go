// Package interlock gates high-torque force feedback behind a two-factor
// human-presence challenge and supervises it once granted.
//
// Locking discipline: every transition runs under mu and ends by
// publishing an immutable snapshot. The real-time loop reads torque
// ceilings and token presence from the snapshot only, so a writer never
// holds up a hot-path read. No method sleeps, blocks on I/O or starts a
// timer; every timeout is re-evaluated against the clock on the next call.
package interlock

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ppiankov/wheelguard/internal/clock"
	"github.com/ppiankov/wheelguard/internal/model"
	"github.com/ppiankov/wheelguard/internal/policy"
)

// Config holds the interlock timing parameters.
type Config struct {
	// HandsOffTimeout is how long hands may stay off the rim while high
	// torque is active before the interlock faults.
	HandsOffTimeout time.Duration `yaml:"hands_off_timeout" json:"hands_off_timeout"`

	// ComboHoldDuration is how long the physical combo must be held.
	ComboHoldDuration time.Duration `yaml:"combo_hold" json:"combo_hold"`

	// MinFaultDwell is the minimum time in Faulted before ClearFault succeeds.
	MinFaultDwell time.Duration `yaml:"min_fault_dwell" json:"min_fault_dwell"`

	// EventBuffer is the capacity of the Events channel.
	EventBuffer int `yaml:"event_buffer" json:"event_buffer"`
}

// DefaultConfig returns 5 s hands-off, 2 s combo hold, 100 ms fault dwell.
func DefaultConfig() Config {
	return Config{
		HandsOffTimeout:   5 * time.Second,
		ComboHoldDuration: 2 * time.Second,
		MinFaultDwell:     100 * time.Millisecond,
		EventBuffer:       256,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HandsOffTimeout <= 0 {
		c.HandsOffTimeout = d.HandsOffTimeout
	}
	if c.ComboHoldDuration <= 0 {
		c.ComboHoldDuration = d.ComboHoldDuration
	}
	if c.MinFaultDwell <= 0 {
		c.MinFaultDwell = d.MinFaultDwell
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = d.EventBuffer
	}
	return c
}

// snapshot is the lock-free view the hot path reads.
type snapshot struct {
	state  State
	tokens TokenTable
	safe   model.TorqueNm
	high   model.TorqueNm
}

// deviceStatus is the latest telemetry seen for one device.
type deviceStatus struct {
	faultFlags    uint8
	temperatureC  uint8
	capabilities  model.DeviceCapabilities
	handsOffSince time.Time
}

// Interlock is the safety state machine. Safe for concurrent use.
type Interlock struct {
	mu sync.Mutex

	cfg         Config
	clock       clock.Clock
	policy      *policy.Policy
	tokenSource TokenSource

	state       State
	challenge   *Challenge
	tokens      TokenTable
	handsOff    map[string]time.Time // start of each token holder's hands-off stretch
	devices     map[string]*deviceStatus
	faultCounts map[model.FaultType]uint32
	recent      [recentTokens]uint64
	recentNext  int

	snap    atomic.Pointer[snapshot]
	events  chan Event
	dropped atomic.Uint64
}

// Option customizes an Interlock.
type Option func(*Interlock)

// WithClock injects the time source.
func WithClock(c clock.Clock) Option {
	return func(il *Interlock) { il.clock = c }
}

// WithPolicy sets the torque policy. Defaults to policy.Default().
func WithPolicy(p *policy.Policy) Option {
	return func(il *Interlock) { il.policy = p }
}

// WithTokenSource replaces the random challenge token source.
func WithTokenSource(src TokenSource) Option {
	return func(il *Interlock) { il.tokenSource = src }
}

// New returns an Interlock in SafeTorque.
func New(cfg Config, opts ...Option) *Interlock {
	cfg = cfg.withDefaults()
	il := &Interlock{
		cfg:         cfg,
		clock:       clock.Real(),
		policy:      policy.Default(),
		tokenSource: RandomToken,
		state:       SafeTorque{},
		tokens:      TokenTable{},
		handsOff:    make(map[string]time.Time),
		devices:     make(map[string]*deviceStatus),
		faultCounts: make(map[model.FaultType]uint32, len(model.AllFaultTypes)),
		events:      make(chan Event, cfg.EventBuffer),
	}
	for _, opt := range opts {
		opt(il)
	}
	il.publishLocked()
	return il
}

// Config returns the timing parameters in effect.
func (il *Interlock) Config() Config {
	return il.cfg
}

// State returns the current safety state.
func (il *Interlock) State() State {
	return il.snap.Load().state
}

// GetMaxTorque returns the ceiling for the requested mode. It is zero while
// Faulted, and the high ceiling is only granted while HighTorqueActive.
func (il *Interlock) GetMaxTorque(highTorque bool) model.TorqueNm {
	s := il.snap.Load()
	switch s.state.(type) {
	case Faulted:
		return 0
	case HighTorqueActive:
		if highTorque {
			return s.high
		}
	}
	return s.safe
}

// CurrentLimit returns the ceiling implied by the state alone.
func (il *Interlock) CurrentLimit() model.TorqueNm {
	s := il.snap.Load()
	switch s.state.(type) {
	case Faulted:
		return 0
	case HighTorqueActive:
		return s.high
	}
	return s.safe
}

// LimitFor returns the ceiling for one device: high only if the device
// itself holds a token while high torque is active.
func (il *Interlock) LimitFor(deviceID string) model.TorqueNm {
	s := il.snap.Load()
	switch s.state.(type) {
	case Faulted:
		return 0
	case HighTorqueActive:
		if _, ok := s.tokens[deviceID]; ok {
			return s.high
		}
	}
	return s.safe
}

// Clamp bounds requested to the current state ceiling. Non-finite input
// becomes zero.
func (il *Interlock) Clamp(requested model.TorqueNm) model.TorqueNm {
	return model.ClampTorque(requested, il.CurrentLimit())
}

// ClampFor bounds requested to the ceiling for deviceID.
func (il *Interlock) ClampFor(deviceID string, requested model.TorqueNm) model.TorqueNm {
	return model.ClampTorque(requested, il.LimitFor(deviceID))
}

// HasValidToken reports whether deviceID holds a live authorization.
func (il *Interlock) HasValidToken(deviceID string) bool {
	_, ok := il.snap.Load().tokens[deviceID]
	return ok
}

// Tokens returns the published token table. Callers must not modify it.
func (il *Interlock) Tokens() TokenTable {
	return il.snap.Load().tokens
}

// ActiveChallenge returns a copy of the pending challenge, if any.
func (il *Interlock) ActiveChallenge() (Challenge, bool) {
	il.mu.Lock()
	defer il.mu.Unlock()
	if il.challenge == nil {
		return Challenge{}, false
	}
	return *il.challenge, true
}

// FaultCounts returns how many times each fault type has been reported.
func (il *Interlock) FaultCounts() map[model.FaultType]uint32 {
	il.mu.Lock()
	defer il.mu.Unlock()
	out := make(map[model.FaultType]uint32, len(il.faultCounts))
	for k, v := range il.faultCounts {
		out[k] = v
	}
	return out
}

// Policy returns the torque policy in effect.
func (il *Interlock) Policy() *policy.Policy {
	il.mu.Lock()
	defer il.mu.Unlock()
	return il.policy
}

// SetPolicy swaps the torque policy. The new ceilings apply from the next
// hot-path read.
func (il *Interlock) SetPolicy(p *policy.Policy) {
	il.mu.Lock()
	defer il.mu.Unlock()
	il.policy = p
	il.publishLocked()
}

func (il *Interlock) publishLocked() {
	il.snap.Store(&snapshot{
		state:  il.state,
		tokens: il.tokens,
		safe:   il.policy.GetMaxTorque(false),
		high:   il.policy.GetMaxTorque(true),
	})
}

// setStateLocked replaces the state, publishes and emits a transition event.
func (il *Interlock) setStateLocked(next State, now time.Time, deviceID string) {
	from := il.state.Kind()
	il.state = next
	il.publishLocked()
	if from != next.Kind() {
		il.emit(Event{
			Type:     EventTransition,
			At:       now,
			DeviceID: deviceID,
			From:     from,
			To:       next.Kind(),
		})
	}
}
