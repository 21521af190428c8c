package policy

import (
	"math"
	"testing"

	"github.com/ppiankov/wheelguard/internal/model"
)

func FuzzValidateTorqueLimits(f *testing.F) {
	f.Add(0.0, 25.0, false)
	f.Add(5.0, 25.0, false)
	f.Add(-25.0, 25.0, true)
	f.Add(math.NaN(), 10.0, true)

	p := Default()
	f.Fuzz(func(t *testing.T, requested, capability float64, high bool) {
		caps := model.DeviceCapabilities{MaxTorque: model.TorqueNm(capability)}
		got, err := p.ValidateTorqueLimits(model.TorqueNm(requested), high, caps)
		if err != nil {
			return
		}
		// Accepted values come back untouched and within both ceilings.
		if got != model.TorqueNm(requested) {
			t.Fatalf("value changed: %v -> %v", requested, got)
		}
		if math.Abs(requested) > float64(p.GetMaxTorque(high)) || math.Abs(requested) > capability {
			t.Fatalf("accepted %v over limit (cap %v, high %v)", requested, capability, high)
		}
	})
}
