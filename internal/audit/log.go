// Package audit is the tamper-evident safety log. Every interlock event is
// appended as one JSON line whose prev_hash is the SHA-256 of the line
// before it.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ppiankov/wheelguard/internal/interlock"
)

// GenesisHash is the prev_hash for the first entry in a new log.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// ErrBrokenChain is returned by Open when the existing file fails
// verification. Appending to it would bury the break under valid links.
var ErrBrokenChain = errors.New("audit: existing safety log is broken")

// Log is the append-only safety log. It tracks the chain head and a count
// of entries per event type, both recovered from disk on Open.
type Log struct {
	path string

	mu    sync.Mutex
	file  *os.File
	head  string
	lines int
	tally map[string]int
}

// Open opens (or creates) a safety log for appending. An existing file is
// walked end to end; a broken chain is refused with ErrBrokenChain.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}

	state := VerifyResult{Head: GenesisHash, Events: make(map[string]int)}
	if f, err := os.Open(path); err == nil {
		state = walkChain(f)
		f.Close()
		if !state.Valid {
			return nil, fmt.Errorf("%w: line %d: %s", ErrBrokenChain, state.ErrorLine, state.Error)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("audit: read existing log: %w", err)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit: open file: %w", err)
	}

	return &Log{
		path:  path,
		file:  file,
		head:  state.Head,
		lines: state.Lines,
		tally: state.Events,
	}, nil
}

// RecordEvent appends an interlock event. policyHash identifies the config
// the interlock was running with; a zero event time is stamped with now.
func (l *Log) RecordEvent(ev interlock.Event, policyHash string) error {
	e := Entry{
		Event:      string(ev.Type),
		DeviceID:   ev.DeviceID,
		From:       string(ev.From),
		To:         string(ev.To),
		Fault:      string(ev.Fault),
		Detail:     ev.Detail,
		PolicyHash: policyHash,
	}
	if !ev.At.IsZero() {
		e.Timestamp = ev.At.UTC().Format(TimestampFormat)
	}
	return l.Record(e)
}

// Record appends entry, setting PrevHash and, when empty, Timestamp.
// The file is synced before Record returns.
func (l *Log) Record(entry Entry) error {
	if entry.Event == "" {
		return errors.New("audit: entry has no event")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(TimestampFormat)
	}
	entry.PrevHash = l.head

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("audit: marshal entry: %w", err)
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("audit: write entry: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("audit: sync: %w", err)
	}

	l.head = HashLine(line)
	l.lines++
	l.tally[entry.Event]++
	return nil
}

// Head returns the hash the next entry will chain to.
func (l *Log) Head() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.head
}

// Len returns the number of entries in the log, including those found on Open.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lines
}

// Tally returns a copy of the per-event entry counts.
func (l *Log) Tally() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return maps.Clone(l.tally)
}

// Path returns the log file path.
func (l *Log) Path() string {
	return l.path
}

// Close closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// HashLine returns "sha256:<hex>" of the given bytes.
func HashLine(line []byte) string {
	h := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(h[:])
}
