package audit

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ppiankov/wheelguard/internal/interlock"
	"github.com/ppiankov/wheelguard/internal/model"
)

// handshake is the event sequence one successful enable and a later
// thermal fault produce.
func handshake(at time.Time) []interlock.Event {
	return []interlock.Event{
		{Type: interlock.EventChallengeIssued, At: at, DeviceID: "wheel-1"},
		{Type: interlock.EventTransition, At: at, DeviceID: "wheel-1",
			From: interlock.KindSafeTorque, To: interlock.KindHighTorqueChallenge},
		{Type: interlock.EventConsentGiven, At: at.Add(time.Second), DeviceID: "wheel-1"},
		{Type: interlock.EventTransition, At: at.Add(time.Second), DeviceID: "wheel-1",
			From: interlock.KindHighTorqueChallenge, To: interlock.KindAwaitingPhysicalAck},
		{Type: interlock.EventConfirmed, At: at.Add(3 * time.Second), DeviceID: "wheel-1"},
		{Type: interlock.EventTransition, At: at.Add(3 * time.Second), DeviceID: "wheel-1",
			From: interlock.KindAwaitingPhysicalAck, To: interlock.KindHighTorqueActive},
		{Type: interlock.EventRevoked, At: at.Add(9 * time.Second), DeviceID: "wheel-1",
			Detail: string(model.FaultThermalLimit)},
		{Type: interlock.EventFault, At: at.Add(9 * time.Second), DeviceID: "wheel-1",
			Fault: model.FaultThermalLimit},
		{Type: interlock.EventTransition, At: at.Add(9 * time.Second), DeviceID: "wheel-1",
			From: interlock.KindHighTorqueActive, To: interlock.KindFaulted},
	}
}

func BenchmarkRecordEvent_Transition(b *testing.B) {
	al, err := Open(filepath.Join(b.TempDir(), "bench.jsonl"))
	if err != nil {
		b.Fatal(err)
	}
	defer al.Close()

	ev := interlock.Event{
		Type:     interlock.EventTransition,
		At:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		DeviceID: "wheel-1",
		From:     interlock.KindSafeTorque,
		To:       interlock.KindHighTorqueChallenge,
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := al.RecordEvent(ev, "sha256:bench"); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkRecordEvent_Handshake(b *testing.B) {
	al, err := Open(filepath.Join(b.TempDir(), "bench.jsonl"))
	if err != nil {
		b.Fatal(err)
	}
	defer al.Close()

	events := handshake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, ev := range events {
			if err := al.RecordEvent(ev, "sha256:bench"); err != nil {
				b.Fatal(err)
			}
		}
	}
}

// writeHandshakes fills a log with n enable/fault cycles.
func writeHandshakes(b *testing.B, n int) string {
	b.Helper()
	path := filepath.Join(b.TempDir(), "bench.jsonl")
	al, err := Open(path)
	if err != nil {
		b.Fatal(err)
	}
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		for _, ev := range handshake(at.Add(time.Duration(i) * time.Minute)) {
			if err := al.RecordEvent(ev, "sha256:bench"); err != nil {
				b.Fatal(err)
			}
		}
	}
	al.Close()
	return path
}

func benchVerify(b *testing.B, cycles int) {
	path := writeHandshakes(b, cycles)
	info, err := os.Stat(path)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	b.SetBytes(info.Size())
	for i := 0; i < b.N; i++ {
		if res := Verify(path); !res.Valid {
			b.Fatal("invalid chain:", res.Error)
		}
	}
}

func BenchmarkVerify_100Handshakes(b *testing.B) {
	benchVerify(b, 100)
}

func BenchmarkVerify_1000Handshakes(b *testing.B) {
	benchVerify(b, 1000)
}

// Reopening a long log replays the chain to recover head and tally.
func BenchmarkOpen_1000Handshakes(b *testing.B) {
	path := writeHandshakes(b, 1000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		al, err := Open(path)
		if err != nil {
			b.Fatal(err)
		}
		al.Close()
	}
}
