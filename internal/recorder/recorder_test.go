package recorder

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/wheelguard/internal/audit"
	"github.com/ppiankov/wheelguard/internal/clock"
	"github.com/ppiankov/wheelguard/internal/faultdb"
	"github.com/ppiankov/wheelguard/internal/interlock"
	"github.com/ppiankov/wheelguard/internal/logger"
	"github.com/ppiankov/wheelguard/internal/metrics"
	"github.com/ppiankov/wheelguard/internal/model"
)

type fixture struct {
	il        *interlock.Interlock
	fc        *clock.FakeClock
	rec       *Recorder
	auditPath string
	faults    *faultdb.DB
	metrics   *metrics.Metrics
	logs      *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	fc := clock.Fake(time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC))
	il := interlock.New(interlock.DefaultConfig(), interlock.WithClock(fc))

	auditPath := filepath.Join(dir, "safety.jsonl")
	al, err := audit.Open(auditPath)
	require.NoError(t, err)
	t.Cleanup(func() { al.Close() })

	db, err := faultdb.Open(context.Background(), filepath.Join(dir, "faults.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	m := metrics.New()
	var logs bytes.Buffer

	rec := New(il.Events(), Options{
		Audit:      al,
		Faults:     db,
		Metrics:    m,
		Logger:     logger.New("debug", "text", &logs),
		PolicyHash: func() string { return "sha256:test" },
	})

	return &fixture{il: il, fc: fc, rec: rec, auditPath: auditPath, faults: db, metrics: m, logs: &logs}
}

// run drains everything emitted so far.
func (f *fixture) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.rec.Run(ctx)
}

func TestRecordsFaultEverywhere(t *testing.T) {
	f := newFixture(t)

	f.il.ReportDeviceFault("wheel-1", model.FaultOvercurrent)
	f.run(t)

	assert.Equal(t, uint64(2), f.rec.Handled(), "transition and fault")
	assert.Zero(t, f.rec.Failed())

	counts, err := f.faults.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, counts[model.FaultOvercurrent])

	recent, err := f.faults.Recent(context.Background(), "wheel-1", 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.True(t, recent[0].Critical)

	result := audit.Verify(f.auditPath)
	require.True(t, result.Valid, result.Error)
	assert.Equal(t, 2, result.Lines)

	replay, err := audit.Replay(f.auditPath, audit.ReplayFilter{Events: []string{"fault"}})
	require.NoError(t, err)
	require.Len(t, replay.Entries, 1)
	assert.Equal(t, "sha256:test", replay.Entries[0].PolicyHash)
	assert.Equal(t, "2026-05-01T08:00:00.000Z", replay.Entries[0].Timestamp)

	assert.Contains(t, f.logs.String(), "safety fault")
	assert.Contains(t, f.logs.String(), "fault=overcurrent")
}

func TestWarningStoredAsNonCritical(t *testing.T) {
	f := newFixture(t)

	f.il.ReportWarning("wheel-1", model.FaultPluginOverrun)
	f.run(t)

	recent, err := f.faults.Recent(context.Background(), "", 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.False(t, recent[0].Critical)
	assert.Contains(t, f.logs.String(), "level=WARN")
}

func TestHandshakeUpdatesMetrics(t *testing.T) {
	f := newFixture(t)

	c, err := f.il.RequestHighTorque("wheel-1")
	require.NoError(t, err)
	require.NoError(t, f.il.ProvideUIConsent(c.Token))
	require.NoError(t, f.il.ReportComboStart(c.Token))
	f.fc.Advance(2 * time.Second)
	require.NoError(t, f.il.ConfirmHighTorque("wheel-1", model.InterlockAck{
		ChallengeToken: c.Token,
		DeviceToken:    9,
		ComboCompleted: model.BothClutchPaddles(),
	}))
	f.run(t)

	out, err := testutil.GatherAndCount(f.metrics.Registry(), "wheelguard_challenges_total")
	require.NoError(t, err)
	assert.Equal(t, 2, out, "issued and confirmed series")

	result := audit.Verify(f.auditPath)
	assert.True(t, result.Valid)

	counts, err := f.faults.Counts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, counts, "handshake must not store faults")
}

func TestRunStopsOnClosedChannel(t *testing.T) {
	ch := make(chan interlock.Event, 1)
	ch <- interlock.Event{Type: interlock.EventCancelled}
	close(ch)

	rec := New(ch, Options{})
	done := make(chan struct{})
	go func() {
		rec.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("recorder did not stop")
	}
	assert.Equal(t, uint64(1), rec.Handled())
}

func TestAuditWriteFailureCounted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "safety.jsonl")
	al, err := audit.Open(path)
	require.NoError(t, err)
	require.NoError(t, al.Close())

	rec := New(nil, Options{Audit: al})
	rec.Handle(context.Background(), interlock.Event{Type: interlock.EventFault, Fault: model.FaultUsbStall})
	assert.Equal(t, uint64(1), rec.Failed())
}
