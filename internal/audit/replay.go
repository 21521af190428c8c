package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// ReplayFilter holds filtering criteria for replay. Zero fields match all.
type ReplayFilter struct {
	DeviceID string
	Events   []string
	From     time.Time
	To       time.Time
}

func (f ReplayFilter) match(e Entry) bool {
	if f.DeviceID != "" && e.DeviceID != f.DeviceID {
		return false
	}
	if len(f.Events) > 0 {
		found := false
		for _, ev := range f.Events {
			if ev == e.Event {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.From.IsZero() || !f.To.IsZero() {
		ts, err := time.Parse(TimestampFormat, e.Timestamp)
		if err != nil {
			return false
		}
		if !f.From.IsZero() && ts.Before(f.From) {
			return false
		}
		if !f.To.IsZero() && ts.After(f.To) {
			return false
		}
	}
	return true
}

// ReplaySummary holds counts for the replayed entries.
type ReplaySummary struct {
	Total          int            `json:"total"`
	Faults         map[string]int `json:"faults,omitempty"`
	Warnings       int            `json:"warnings"`
	Confirmations  int            `json:"confirmations"`
	Rejections     int            `json:"rejections"`
	Expirations    int            `json:"expirations"`
	FirstTimestamp string         `json:"first_timestamp"`
	LastTimestamp  string         `json:"last_timestamp"`
}

// ReplayResult holds filtered entries and their summary.
type ReplayResult struct {
	Entries []Entry       `json:"entries"`
	Summary ReplaySummary `json:"summary"`
}

// Replay reads the log and returns entries matching filter. Malformed
// lines are skipped; use Verify to detect them.
func Replay(path string, filter ReplayFilter) (*ReplayResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open safety log: %w", err)
	}
	defer f.Close()

	result := &ReplayResult{}

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		if !filter.match(entry) {
			continue
		}
		result.Entries = append(result.Entries, entry)
		updateSummary(&result.Summary, entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read safety log: %w", err)
	}

	return result, nil
}

func updateSummary(s *ReplaySummary, e Entry) {
	s.Total++

	switch e.Event {
	case "fault":
		if s.Faults == nil {
			s.Faults = make(map[string]int)
		}
		s.Faults[e.Fault]++
	case "warning":
		s.Warnings++
	case "confirmed":
		s.Confirmations++
	case "rejected":
		s.Rejections++
	case "expired":
		s.Expirations++
	}

	if s.FirstTimestamp == "" {
		s.FirstTimestamp = e.Timestamp
	}
	s.LastTimestamp = e.Timestamp
}
