package policy

import (
	"fmt"
	"time"

	"github.com/ppiankov/wheelguard/internal/model"
)

// Limits holds the fixed safety ceilings the policy enforces.
type Limits struct {
	SafeTorqueNm    model.TorqueNm `yaml:"safe_torque_nm" json:"safe_torque_nm"`
	HighTorqueNm    model.TorqueNm `yaml:"high_torque_nm" json:"high_torque_nm"`
	MaxTemperatureC uint8          `yaml:"max_temperature_c" json:"max_temperature_c"`
	MaxHandsOff     time.Duration  `yaml:"max_hands_off" json:"max_hands_off"`
}

// DefaultLimits returns the built-in ceilings: 5 Nm safe, 25 Nm high,
// 80 °C thermal gate, 5 s hands-off gate.
func DefaultLimits() Limits {
	return Limits{
		SafeTorqueNm:    5.0,
		HighTorqueNm:    25.0,
		MaxTemperatureC: 80,
		MaxHandsOff:     5 * time.Second,
	}
}

// Validate rejects limit sets that would make the high-torque gate meaningless.
func (l Limits) Validate() error {
	if !l.SafeTorqueNm.IsFinite() || l.SafeTorqueNm <= 0 {
		return fmt.Errorf("safe_torque_nm must be positive, got %v", float64(l.SafeTorqueNm))
	}
	if !l.HighTorqueNm.IsFinite() || l.HighTorqueNm < l.SafeTorqueNm {
		return fmt.Errorf("high_torque_nm (%v) must be >= safe_torque_nm (%v)",
			float64(l.HighTorqueNm), float64(l.SafeTorqueNm))
	}
	if l.MaxTemperatureC == 0 {
		return fmt.Errorf("max_temperature_c must be positive")
	}
	if l.MaxHandsOff <= 0 {
		return fmt.Errorf("max_hands_off must be positive")
	}
	return nil
}
