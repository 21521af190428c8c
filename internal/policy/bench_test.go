package policy

import (
	"testing"

	"github.com/ppiankov/wheelguard/internal/model"
)

func BenchmarkValidateTorqueLimits(b *testing.B) {
	p := Default()
	caps := model.DeviceCapabilities{MaxTorque: 20}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p.ValidateTorqueLimits(12.5, true, caps)
	}
}

func BenchmarkRequiresImmediateShutdown(b *testing.B) {
	for i := 0; i < b.N; i++ {
		RequiresImmediateShutdown(uint8(i))
	}
}
