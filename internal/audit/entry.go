package audit

// TimestampFormat is the layout used in entry timestamps.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// Entry is one line in the hash-chained JSONL safety log.
// Only flat string fields so json.Marshal output is deterministic and the
// chain hashes are reproducible.
type Entry struct {
	Timestamp  string `json:"ts"`
	Event      string `json:"event"`
	DeviceID   string `json:"device_id,omitempty"`
	From       string `json:"from,omitempty"`
	To         string `json:"to,omitempty"`
	Fault      string `json:"fault,omitempty"`
	Detail     string `json:"detail,omitempty"`
	PolicyHash string `json:"policy_hash,omitempty"`
	PrevHash   string `json:"prev_hash"`
}
