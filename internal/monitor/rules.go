package monitor

import "github.com/ppiankov/wheelguard/internal/model"

// Action is what the supervisor does when a fault bit is set.
type Action int

const (
	// ActionShutdown faults the interlock and revokes the device's token.
	ActionShutdown Action = iota
	// ActionWarn records the fault without touching torque.
	ActionWarn
)

func (a Action) String() string {
	if a == ActionShutdown {
		return "shutdown"
	}
	return "warn"
}

// Rule maps one telemetry fault bit to a fault type and action.
type Rule struct {
	Flag   uint8
	Fault  model.FaultType
	Action Action
}

// DefaultRules returns the fault bit table in bit order. Bits 0-3 shut
// torque down; bit 4 (plugin) only warns. Bits 5-7 are reserved and never
// match.
func DefaultRules() []Rule {
	return []Rule{
		{Flag: model.FlagUSB, Fault: model.FaultUsbStall, Action: ActionShutdown},
		{Flag: model.FlagEncoder, Fault: model.FaultEncoder, Action: ActionShutdown},
		{Flag: model.FlagThermal, Fault: model.FaultThermalLimit, Action: ActionShutdown},
		{Flag: model.FlagOvercurrent, Fault: model.FaultOvercurrent, Action: ActionShutdown},
		{Flag: model.FlagPlugin, Fault: model.FaultPluginOverrun, Action: ActionWarn},
	}
}

// Match returns the first rule with the given action whose bit is set.
func Match(flags uint8, action Action, rules []Rule) (Rule, bool) {
	for _, r := range rules {
		if r.Action == action && flags&r.Flag != 0 {
			return r, true
		}
	}
	return Rule{}, false
}
