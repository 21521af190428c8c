package interlock

import "time"

// DeviceToken is a live per-device high-torque authorization.
type DeviceToken struct {
	Token       uint64    `json:"token"`
	ActivatedAt time.Time `json:"activated_at"`
}

// TokenTable maps device IDs to their authorization. Tables are never
// mutated after publication: with/without return fresh copies so the
// hot path can read a published table without locking.
type TokenTable map[string]DeviceToken

func (t TokenTable) with(deviceID string, tok DeviceToken) TokenTable {
	next := make(TokenTable, len(t)+1)
	for k, v := range t {
		next[k] = v
	}
	next[deviceID] = tok
	return next
}

func (t TokenTable) without(deviceID string) TokenTable {
	next := make(TokenTable, len(t))
	for k, v := range t {
		if k != deviceID {
			next[k] = v
		}
	}
	return next
}

// latest returns the most recently activated entry.
func (t TokenTable) latest() (string, DeviceToken, bool) {
	var (
		id    string
		tok   DeviceToken
		found bool
	)
	for k, v := range t {
		if !found || v.ActivatedAt.After(tok.ActivatedAt) || (v.ActivatedAt.Equal(tok.ActivatedAt) && k < id) {
			id, tok, found = k, v, true
		}
	}
	return id, tok, found
}
