package audit

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

const separator = "──────────────────────────────────────────────────────────────────"

// FormatTimeline renders a ReplayResult as a human-readable timeline.
func FormatTimeline(result *ReplayResult) string {
	if len(result.Entries) == 0 {
		return "No safety events found.\n"
	}

	var b strings.Builder

	s := result.Summary
	b.WriteString(fmt.Sprintf("Safety log | %s–%s UTC\n", formatDateRange(s.FirstTimestamp), formatTimeOnly(s.LastTimestamp)))
	b.WriteString(separator + "\n")

	for _, e := range result.Entries {
		detail := e.Detail
		switch {
		case e.From != "" || e.To != "":
			detail = e.From + " -> " + e.To
		case e.Fault != "" && detail == "":
			detail = e.Fault
		}
		b.WriteString(fmt.Sprintf("%-10s %-17s %-12s %s\n",
			formatTimeOnly(e.Timestamp),
			strings.ToUpper(e.Event),
			truncate(e.DeviceID, 12),
			truncate(detail, 48)))
	}

	b.WriteString(separator + "\n")
	b.WriteString(formatSummary(s))
	return b.String()
}

// FormatJSON renders a ReplayResult as indented JSON.
func FormatJSON(result *ReplayResult) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal replay result: %w", err)
	}
	return string(data), nil
}

func formatDateRange(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("2006-01-02 15:04:05")
}

func formatTimeOnly(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("15:04:05")
}

func formatSummary(s ReplaySummary) string {
	parts := []string{fmt.Sprintf("%d events", s.Total)}
	if s.Confirmations > 0 {
		parts = append(parts, fmt.Sprintf("%d confirmed", s.Confirmations))
	}
	if s.Rejections > 0 {
		parts = append(parts, fmt.Sprintf("%d rejected", s.Rejections))
	}
	if s.Expirations > 0 {
		parts = append(parts, fmt.Sprintf("%d expired", s.Expirations))
	}
	if s.Warnings > 0 {
		parts = append(parts, fmt.Sprintf("%d warnings", s.Warnings))
	}

	faults := make([]string, 0, len(s.Faults))
	for f, n := range s.Faults {
		faults = append(faults, fmt.Sprintf("%s=%d", f, n))
	}
	sort.Strings(faults)
	if len(faults) > 0 {
		parts = append(parts, "faults: "+strings.Join(faults, " "))
	}

	return "Summary: " + strings.Join(parts, ", ") + "\n"
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
