// Package monitor runs the fixed-rate safety loop: it polls device
// telemetry, feeds it to the interlock through a Supervisor and writes the
// clamped torque to the output.
package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ppiankov/wheelguard/internal/clock"
	"github.com/ppiankov/wheelguard/internal/logger"
	"github.com/ppiankov/wheelguard/internal/model"
)

// Config holds the loop configuration.
type Config struct {
	// TickInterval is the loop period. Defaults to 1 ms (1 kHz).
	TickInterval time.Duration `yaml:"tick_interval" json:"tick_interval"`

	// StallTicks is how many consecutive failed polls are tolerated before
	// the loop reports a USB stall.
	StallTicks int `yaml:"stall_ticks" json:"stall_ticks"`
}

// DefaultConfig returns a 1 kHz loop that stalls after 50 missed polls.
func DefaultConfig() Config {
	return Config{
		TickInterval: time.Millisecond,
		StallTicks:   50,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.StallTicks <= 0 {
		c.StallTicks = d.StallTicks
	}
	return c
}

// Stats are the loop counters.
type Stats struct {
	Ticks      uint64 `json:"ticks"`
	Frames     uint64 `json:"frames"`
	MissedPoll uint64 `json:"missed_poll"`
	Overruns   uint64 `json:"overruns"`
	Clamped    uint64 `json:"clamped"`
}

// Monitor is the tick loop.
type Monitor struct {
	cfg    Config
	sup    *Supervisor
	source Source
	sink   Sink
	clock  clock.Clock
	logger *slog.Logger

	missed   int
	stalled  bool
	ticks    atomic.Uint64
	frames   atomic.Uint64
	misses   atomic.Uint64
	overruns atomic.Uint64
	clamped  atomic.Uint64
}

// Option customizes a Monitor.
type Option func(*Monitor)

// WithClock sets the loop's time source.
func WithClock(c clock.Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

// WithLoopLogger sets the loop's logger.
func WithLoopLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// New returns a Monitor reading src and writing to sink.
func New(cfg Config, sup *Supervisor, src Source, sink Sink, opts ...Option) *Monitor {
	m := &Monitor{
		cfg:    cfg.withDefaults(),
		sup:    sup,
		source: src,
		sink:   sink,
		clock:  clock.Real(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logger.OrDiscard(m.logger).With("component", "monitor")
	return m
}

// Run ticks until ctx is cancelled or the source returns io.EOF.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := m.clock.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	m.logger.Info("safety loop started", "interval", m.cfg.TickInterval)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("safety loop stopped", "ticks", m.ticks.Load())
			return nil
		case <-ticker.C:
			if err := m.Step(); err != nil {
				if errors.Is(err, io.EOF) {
					m.logger.Info("telemetry source exhausted", "ticks", m.ticks.Load())
					return nil
				}
				return err
			}
		}
	}
}

// Replay steps the loop until the source is exhausted, calling advance with
// the tick interval before each step. With a fake clock this replays a
// script faster than real time and yields the same result on every run.
func (m *Monitor) Replay(advance func(time.Duration)) error {
	for {
		advance(m.cfg.TickInterval)
		if err := m.Step(); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// Step runs one tick. It returns io.EOF when the source is exhausted and
// a non-nil error only for sink failures.
func (m *Monitor) Step() error {
	start := m.clock.Now()
	m.ticks.Add(1)

	frames, err := m.source.Poll()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return err
		}
		m.missedPoll(err)
		return nil
	}
	m.missed = 0
	m.stalled = false

	for _, t := range frames {
		m.frames.Add(1)
		limit, _ := m.sup.Tick(t)

		out := model.ClampTorque(t.Requested, limit)
		if out != t.Requested {
			m.clamped.Add(1)
		}
		if err := m.sink.Write(t.DeviceID, out); err != nil {
			return err
		}
	}

	if m.clock.Now().Sub(start) > m.cfg.TickInterval {
		m.overruns.Add(1)
	}
	return nil
}

// missedPoll drops any combo in progress and, once StallTicks polls in a
// row have failed, faults the interlock with a USB stall.
func (m *Monitor) missedPoll(err error) {
	m.misses.Add(1)
	m.missed++
	m.sup.ClearStaleCombo()

	if m.missed >= m.cfg.StallTicks && !m.stalled {
		m.stalled = true
		m.logger.Error("telemetry stalled", "missed", m.missed, logger.Err(err))
		m.sup.Interlock().ReportFault(model.FaultUsbStall)
	}
}

// Stats returns a snapshot of the loop counters.
func (m *Monitor) Stats() Stats {
	return Stats{
		Ticks:      m.ticks.Load(),
		Frames:     m.frames.Load(),
		MissedPoll: m.misses.Load(),
		Overruns:   m.overruns.Load(),
		Clamped:    m.clamped.Load(),
	}
}
