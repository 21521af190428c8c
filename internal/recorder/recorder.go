// Package recorder drains interlock events into the log, the safety log,
// the fault history and the metrics.
package recorder

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/ppiankov/wheelguard/internal/audit"
	"github.com/ppiankov/wheelguard/internal/faultdb"
	"github.com/ppiankov/wheelguard/internal/interlock"
	"github.com/ppiankov/wheelguard/internal/logger"
	"github.com/ppiankov/wheelguard/internal/metrics"
)

// Options selects the recorder's outputs. Nil outputs are skipped.
type Options struct {
	Audit   *audit.Log
	Faults  *faultdb.DB
	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// PolicyHash returns the hash of the config in effect, stamped on
	// each safety log entry.
	PolicyHash func() string
}

// Recorder consumes one interlock's event channel.
type Recorder struct {
	events <-chan interlock.Event
	opts   Options
	log    *slog.Logger

	handled atomic.Uint64
	failed  atomic.Uint64
}

// New returns a recorder for events.
func New(events <-chan interlock.Event, opts Options) *Recorder {
	return &Recorder{
		events: events,
		opts:   opts,
		log:    logger.OrDiscard(opts.Logger).With("component", "recorder"),
	}
}

// Run handles events until ctx is cancelled or the channel closes. On
// cancellation, events already buffered are drained first so the safety
// log sees every transition up to shutdown.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case ev, ok := <-r.events:
			if !ok {
				return
			}
			r.Handle(ctx, ev)
		case <-ctx.Done():
			r.drain()
			return
		}
	}
}

func (r *Recorder) drain() {
	for {
		select {
		case ev, ok := <-r.events:
			if !ok {
				return
			}
			r.Handle(context.Background(), ev)
		default:
			return
		}
	}
}

// Handle records a single event to every configured output.
func (r *Recorder) Handle(ctx context.Context, ev interlock.Event) {
	r.handled.Add(1)
	r.logEvent(ev)

	if r.opts.Metrics != nil {
		r.opts.Metrics.Observe(ev)
	}

	if r.opts.Audit != nil {
		hash := ""
		if r.opts.PolicyHash != nil {
			hash = r.opts.PolicyHash()
		}
		if err := r.opts.Audit.RecordEvent(ev, hash); err != nil {
			r.failed.Add(1)
			r.log.Error("failed to write safety log", "event", ev.Type, logger.Err(err))
		}
	}

	if r.opts.Faults != nil && (ev.Type == interlock.EventFault || ev.Type == interlock.EventWarning) {
		_, err := r.opts.Faults.Record(ctx, faultdb.Record{
			At:       ev.At,
			DeviceID: ev.DeviceID,
			Fault:    ev.Fault,
			Critical: ev.Type == interlock.EventFault,
			Detail:   ev.Detail,
		})
		if err != nil {
			r.failed.Add(1)
			r.log.Error("failed to store fault", "fault", ev.Fault, logger.Err(err))
		}
	}
}

func (r *Recorder) logEvent(ev interlock.Event) {
	attrs := []any{"event", ev.Type}
	if ev.DeviceID != "" {
		attrs = append(attrs, "device", ev.DeviceID)
	}

	switch ev.Type {
	case interlock.EventTransition:
		r.log.Info("state transition", append(attrs, "from", ev.From, "to", ev.To)...)
	case interlock.EventFault:
		r.log.Error("safety fault", append(attrs, "fault", ev.Fault, "detail", ev.Detail)...)
	case interlock.EventWarning:
		r.log.Warn("safety warning", append(attrs, "fault", ev.Fault, "detail", ev.Detail)...)
	case interlock.EventRevoked:
		r.log.Warn("device token revoked", append(attrs, "reason", ev.Detail)...)
	case interlock.EventRejected:
		r.log.Warn("high torque request rejected", append(attrs, "reason", ev.Detail)...)
	default:
		r.log.Debug("interlock event", attrs...)
	}
}

// Handled returns how many events were processed.
func (r *Recorder) Handled() uint64 { return r.handled.Load() }

// Failed returns how many output writes failed.
func (r *Recorder) Failed() uint64 { return r.failed.Load() }
