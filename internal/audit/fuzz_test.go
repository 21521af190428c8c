package audit

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ppiankov/wheelguard/internal/interlock"
	"github.com/ppiankov/wheelguard/internal/model"
)

func handshakeLog(f *testing.F) []byte {
	path := filepath.Join(f.TempDir(), "seed.jsonl")
	l, err := Open(path)
	if err != nil {
		f.Fatal(err)
	}
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	events := []interlock.Event{
		{Type: interlock.EventChallengeIssued, At: at, DeviceID: "wheel-1"},
		{Type: interlock.EventConsentGiven, At: at.Add(time.Second), DeviceID: "wheel-1"},
		{Type: interlock.EventConfirmed, At: at.Add(4 * time.Second), DeviceID: "wheel-1",
			From: interlock.KindAwaitingPhysicalAck, To: interlock.KindHighTorqueActive},
		{Type: interlock.EventFault, At: at.Add(9 * time.Second), DeviceID: "wheel-1", Fault: model.FaultThermalLimit},
	}
	for _, ev := range events {
		if err := l.RecordEvent(ev, "sha256:seed"); err != nil {
			f.Fatal(err)
		}
	}
	l.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		f.Fatal(err)
	}
	return data
}

func FuzzVerify(f *testing.F) {
	f.Add(handshakeLog(f))
	f.Add([]byte{})
	f.Add([]byte(`{"event":"fault"}` + "\n"))
	f.Add([]byte(`{"prev_hash":"` + GenesisHash + `","ts":"2026-01-01T00:00:00.000Z"}` + "\n"))
	f.Add([]byte("not json"))

	f.Fuzz(func(t *testing.T, data []byte) {
		path := filepath.Join(t.TempDir(), "fuzz.jsonl")
		if err := os.WriteFile(path, data, 0o600); err != nil {
			t.Fatal(err)
		}

		res := Verify(path)
		if !res.Valid {
			if res.ErrorLine < 1 {
				t.Fatalf("invalid log must name a line, got %+v", res)
			}
			return
		}
		total := 0
		for _, n := range res.Events {
			total += n
		}
		if total != res.Lines {
			t.Fatalf("event tally %d does not match %d lines", total, res.Lines)
		}
		if res.Lines == 0 && res.Head != GenesisHash {
			t.Fatalf("empty log must report genesis head, got %s", res.Head)
		}
	})
}
