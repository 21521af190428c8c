package interlock

import (
	"time"

	"github.com/ppiankov/wheelguard/internal/model"
)

// ObserveTelemetry records the latest device sample. RequestHighTorque uses
// it to evaluate the operational gate for that device.
func (il *Interlock) ObserveTelemetry(t model.Telemetry) {
	il.mu.Lock()
	defer il.mu.Unlock()

	st, ok := il.devices[t.DeviceID]
	if !ok {
		st = &deviceStatus{}
		il.devices[t.DeviceID] = st
	}
	st.faultFlags = t.FaultFlags
	st.temperatureC = t.TemperatureC
	st.capabilities = t.Capabilities

	if t.HandsOn {
		st.handsOffSince = time.Time{}
	} else if st.handsOffSince.IsZero() {
		st.handsOffSince = il.clock.Now()
	}
}

// ForgetDevice drops the telemetry memory for a disconnected device.
func (il *Interlock) ForgetDevice(deviceID string) {
	il.mu.Lock()
	defer il.mu.Unlock()
	delete(il.devices, deviceID)
}

// gateInputsLocked returns what the operational gate needs for deviceID.
// A device with no telemetry yet is treated as healthy, cool and hands-on.
func (il *Interlock) gateInputsLocked(deviceID string, now time.Time) (model.Device, time.Duration, uint8) {
	device := model.Device{ID: deviceID}
	st, ok := il.devices[deviceID]
	if !ok {
		return device, 0, 0
	}

	device.FaultFlags = st.faultFlags
	device.Capabilities = st.capabilities

	var handsOff time.Duration
	if !st.handsOffSince.IsZero() {
		handsOff = now.Sub(st.handsOffSince)
	}
	return device, handsOff, st.temperatureC
}
