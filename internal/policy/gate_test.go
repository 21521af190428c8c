package policy

import (
	"errors"
	"testing"
	"time"

	"github.com/ppiankov/wheelguard/internal/model"
)

func healthyDevice() model.Device {
	return model.Device{ID: "d1", Capabilities: model.DeviceCapabilities{MaxTorque: 25}}
}

func TestGateAllowsHealthyDevice(t *testing.T) {
	p := Default()
	if err := p.CanEnableHighTorque(healthyDevice(), time.Second, 40); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}

func TestGateRejectsAnyFaultBit(t *testing.T) {
	p := Default()
	for bit := 0; bit < 8; bit++ {
		d := healthyDevice()
		d.FaultFlags = uint8(1) << bit
		err := p.CanEnableHighTorque(d, 0, 20)
		if !errors.Is(err, ErrActiveFaults) {
			t.Errorf("bit %d: expected ActiveFaults, got %v", bit, err)
		}
	}
}

func TestGateTemperatureBoundaryClosedOnUnsafeSide(t *testing.T) {
	p := Default()
	limit := p.MaxTemperature()

	if err := p.CanEnableHighTorque(healthyDevice(), 0, limit-1); err != nil {
		t.Errorf("one below limit should pass, got %v", err)
	}
	if err := p.CanEnableHighTorque(healthyDevice(), 0, limit); !errors.Is(err, ErrTemperatureTooHigh) {
		t.Errorf("at limit should fail with TemperatureTooHigh, got %v", err)
	}
	if err := p.CanEnableHighTorque(healthyDevice(), 0, 255); !errors.Is(err, ErrTemperatureTooHigh) {
		t.Errorf("far above limit should fail, got %v", err)
	}
}

func TestGateHandsOffBoundaryClosedOnSafeSide(t *testing.T) {
	p := Default()
	limit := p.MaxHandsOffDuration()

	if err := p.CanEnableHighTorque(healthyDevice(), limit, 20); err != nil {
		t.Errorf("exactly at limit should pass, got %v", err)
	}
	err := p.CanEnableHighTorque(healthyDevice(), limit+time.Nanosecond, 20)
	if !errors.Is(err, ErrHandsOffTooLong) {
		t.Errorf("one unit past limit should fail with HandsOffTooLong, got %v", err)
	}
}

func TestGateEvaluationOrder(t *testing.T) {
	p := Default()
	d := healthyDevice()
	d.FaultFlags = model.FlagPlugin

	// Faults win over temperature and hands-off.
	err := p.CanEnableHighTorque(d, time.Hour, 200)
	if !errors.Is(err, ErrActiveFaults) {
		t.Fatalf("expected ActiveFaults first, got %v", err)
	}

	// Temperature wins over hands-off.
	err = p.CanEnableHighTorque(healthyDevice(), time.Hour, 200)
	if !errors.Is(err, ErrTemperatureTooHigh) {
		t.Fatalf("expected TemperatureTooHigh second, got %v", err)
	}
}

func TestViolationMessages(t *testing.T) {
	p := Default()
	err := p.CanEnableHighTorque(model.Device{FaultFlags: 0x11}, 0, 0)
	if err == nil || err.Error() != "device has active faults: 0x11" {
		t.Errorf("unexpected message: %v", err)
	}
}
