package interlock

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"slices"
	"time"

	"github.com/ppiankov/wheelguard/internal/model"
)

// ChallengeWindow is how long an issued challenge stays valid.
const ChallengeWindow = 30 * time.Second

// maxMintAttempts bounds retries when the random source yields zero or a
// recently issued token.
const maxMintAttempts = 8

// recentTokens is how many issued challenge tokens are remembered for the
// repeat check.
const recentTokens = 64

// Challenge is a pending high-torque request. Only one exists at a time.
type Challenge struct {
	Token          uint64            `json:"token"`
	DeviceID       string            `json:"device_id"`
	ComboRequired  model.ButtonCombo `json:"combo_required"`
	UIConsentGiven bool              `json:"ui_consent_given"`
	ComboStart     time.Time         `json:"combo_start,omitzero"`
	IssuedAt       time.Time         `json:"issued_at"`
}

// ExpiresAt returns the end of the challenge window.
func (c Challenge) ExpiresAt() time.Time {
	return c.IssuedAt.Add(ChallengeWindow)
}

// ComboStarted reports whether the firmware has reported the combo press.
func (c Challenge) ComboStarted() bool {
	return !c.ComboStart.IsZero()
}

func (c *Challenge) expired(now time.Time) bool {
	return now.Sub(c.IssuedAt) > ChallengeWindow
}

// state derives the SafetyState variant matching the challenge's progress.
func (c *Challenge) state() State {
	if c.UIConsentGiven {
		return AwaitingPhysicalAck{
			Token:      c.Token,
			IssuedAt:   c.IssuedAt,
			ComboStart: c.ComboStart,
		}
	}
	return HighTorqueChallenge{
		Token:      c.Token,
		IssuedAt:   c.IssuedAt,
		ComboStart: c.ComboStart,
	}
}

// TokenSource produces candidate challenge tokens.
type TokenSource func() (uint64, error)

// RandomToken reads a 64-bit token from crypto/rand.
func RandomToken() (uint64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("failed to generate challenge token: %w", err)
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// mintLocked returns a non-zero token that is not among the last
// recentTokens challenge tokens this interlock issued.
func (il *Interlock) mintLocked() (uint64, error) {
	for i := 0; i < maxMintAttempts; i++ {
		token, err := il.tokenSource()
		if err != nil {
			return 0, err
		}
		if token == 0 || slices.Contains(il.recent[:], token) {
			continue
		}
		il.recent[il.recentNext] = token
		il.recentNext = (il.recentNext + 1) % recentTokens
		return token, nil
	}
	return 0, fmt.Errorf("failed to mint unique challenge token after %d attempts", maxMintAttempts)
}
