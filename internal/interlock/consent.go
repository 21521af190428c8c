package interlock

import (
	"fmt"

	"github.com/ppiankov/wheelguard/internal/model"
)

// ConsentInfo is what the operator UI shows before asking for consent.
type ConsentInfo struct {
	MaxTorqueNm             model.TorqueNm `json:"max_torque_nm"`
	RequiresExplicitConsent bool           `json:"requires_explicit_consent"`
	Warnings                []string       `json:"warnings"`
	Disclaimers             []string       `json:"disclaimers"`
}

// ConsentRequirements returns the high-torque ceiling and the static
// warning text the operator must acknowledge.
func (il *Interlock) ConsentRequirements() ConsentInfo {
	high := il.snap.Load().high
	return ConsentInfo{
		MaxTorqueNm:             high,
		RequiresExplicitConsent: true,
		Warnings: []string{
			fmt.Sprintf("High torque mode enables forces up to %.1f Nm", float64(high)),
			"Ensure wheel is properly mounted and secure",
			"Keep hands on wheel at all times during operation",
			"Emergency stop available via physical button combo",
		},
		Disclaimers: []string{
			"High torque forces can cause injury if misused",
			"User assumes all risk for high torque operation",
			"Disable high torque when not actively racing",
		},
	}
}
