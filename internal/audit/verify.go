package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// VerifyResult is the outcome of walking a safety log.
type VerifyResult struct {
	Valid     bool           `json:"valid"`
	Lines     int            `json:"lines"`
	Head      string         `json:"head,omitempty"`
	Events    map[string]int `json:"events,omitempty"`
	Error     string         `json:"error,omitempty"`
	ErrorLine int            `json:"error_line,omitempty"`
}

func (r *VerifyResult) fail(line int, format string, args ...any) VerifyResult {
	return VerifyResult{Lines: r.Lines, Error: fmt.Sprintf(format, args...), ErrorLine: line}
}

// Verify checks that every line links to the one before it and names an
// event and a time. It stops at the first broken line. On success Head is
// the hash the next appended entry must carry as prev_hash.
func Verify(path string) VerifyResult {
	f, err := os.Open(path)
	if err != nil {
		return VerifyResult{Error: fmt.Sprintf("open: %v", err)}
	}
	defer f.Close()
	return walkChain(f)
}

// walkChain is shared by Verify and Open so a reopened log resumes from
// exactly the head and tally Verify would report.
func walkChain(r io.Reader) VerifyResult {
	res := VerifyResult{Head: GenesisHash, Events: make(map[string]int)}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		n := res.Lines + 1
		line := bytes.Clone(scanner.Bytes())

		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return res.fail(n, "parse error: %v", err)
		}
		if e.PrevHash != res.Head {
			if n == 1 {
				return res.fail(n, "first entry prev_hash is %q, expected genesis hash", e.PrevHash)
			}
			return res.fail(n, "hash mismatch: expected %s, got %s", res.Head, e.PrevHash)
		}
		if e.Event == "" || e.Timestamp == "" {
			return res.fail(n, "entry has no event or timestamp")
		}

		res.Events[e.Event]++
		res.Head = HashLine(line)
		res.Lines = n
	}
	if err := scanner.Err(); err != nil {
		return res.fail(res.Lines+1, "scan: %v", err)
	}

	res.Valid = true
	return res
}
