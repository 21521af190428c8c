package monitor

import (
	"fmt"
	"io"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/wheelguard/internal/model"
)

// Source delivers the telemetry frames for one tick. Returning io.EOF ends
// the loop cleanly; any other error counts as a missed input frame.
type Source interface {
	Poll() ([]model.Telemetry, error)
}

// Sink receives the clamped torque command for one device.
type Sink interface {
	Write(deviceID string, torque model.TorqueNm) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(deviceID string, torque model.TorqueNm) error

// Write calls f.
func (f SinkFunc) Write(deviceID string, torque model.TorqueNm) error {
	return f(deviceID, torque)
}

// Output is one torque command written to a RecordingSink.
type Output struct {
	DeviceID string
	Torque   model.TorqueNm
}

// RecordingSink keeps every command in memory.
type RecordingSink struct {
	mu      sync.Mutex
	outputs []Output
}

// Write records the command.
func (r *RecordingSink) Write(deviceID string, torque model.TorqueNm) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputs = append(r.outputs, Output{DeviceID: deviceID, Torque: torque})
	return nil
}

// Outputs returns a copy of the recorded commands.
func (r *RecordingSink) Outputs() []Output {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Output, len(r.outputs))
	copy(out, r.outputs)
	return out
}

// Peak returns the largest magnitude written for deviceID.
func (r *RecordingSink) Peak(deviceID string) model.TorqueNm {
	r.mu.Lock()
	defer r.mu.Unlock()
	var peak model.TorqueNm
	for _, o := range r.outputs {
		if o.DeviceID == deviceID && o.Torque.Abs() > peak {
			peak = o.Torque.Abs()
		}
	}
	return peak
}

// ScriptSource replays a fixed list of frames, one per Poll, then returns
// io.EOF. There is no physics: values are delivered exactly as scripted.
type ScriptSource struct {
	mu     sync.Mutex
	frames [][]model.Telemetry
	pos    int
}

// NewScriptSource returns a source replaying frames in order.
func NewScriptSource(frames ...[]model.Telemetry) *ScriptSource {
	return &ScriptSource{frames: frames}
}

// Poll returns the next frame.
func (s *ScriptSource) Poll() ([]model.Telemetry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.frames) {
		return nil, io.EOF
	}
	f := s.frames[s.pos]
	s.pos++
	return f, nil
}

// Len returns the total number of frames.
func (s *ScriptSource) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// Script is the YAML form of a ScriptSource.
//
//	steps:
//	  - repeat: 500
//	    devices:
//	      - device_id: wheel-1
//	        hands_on: true
//	        temperature_c: 45
//	        max_torque_nm: 25
//	        requested_nm: 12
type Script struct {
	Steps []ScriptStep `yaml:"steps"`
}

// ScriptStep is a set of device samples repeated for Repeat ticks.
type ScriptStep struct {
	Repeat  int            `yaml:"repeat"`
	Devices []ScriptDevice `yaml:"devices"`
}

// ScriptDevice is one scripted telemetry sample.
type ScriptDevice struct {
	DeviceID     string  `yaml:"device_id"`
	FaultFlags   uint8   `yaml:"fault_flags"`
	HandsOn      bool    `yaml:"hands_on"`
	TemperatureC uint8   `yaml:"temperature_c"`
	MaxTorqueNm  float64 `yaml:"max_torque_nm"`
	ClutchesHeld bool    `yaml:"clutches_held"`
	RequestedNm  float64 `yaml:"requested_nm"`
}

func (d ScriptDevice) telemetry() model.Telemetry {
	return model.Telemetry{
		DeviceID:     d.DeviceID,
		FaultFlags:   d.FaultFlags,
		HandsOn:      d.HandsOn,
		TemperatureC: d.TemperatureC,
		Capabilities: model.DeviceCapabilities{MaxTorque: model.TorqueNm(d.MaxTorqueNm)},
		ClutchesHeld: d.ClutchesHeld,
		Requested:    model.TorqueNm(d.RequestedNm),
	}
}

// ParseScript decodes a YAML script into a ScriptSource.
func ParseScript(data []byte) (*ScriptSource, error) {
	var sc Script
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to parse script: %w", err)
	}

	var frames [][]model.Telemetry
	for i, step := range sc.Steps {
		if len(step.Devices) == 0 {
			return nil, fmt.Errorf("script step %d has no devices", i)
		}
		frame := make([]model.Telemetry, 0, len(step.Devices))
		for _, d := range step.Devices {
			if d.DeviceID == "" {
				return nil, fmt.Errorf("script step %d: device_id is required", i)
			}
			frame = append(frame, d.telemetry())
		}
		n := step.Repeat
		if n <= 0 {
			n = 1
		}
		for j := 0; j < n; j++ {
			frames = append(frames, frame)
		}
	}
	return NewScriptSource(frames...), nil
}

// LoadScript reads a YAML script file.
func LoadScript(path string) (*ScriptSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	return ParseScript(data)
}
