package host

// State represents the lifecycle state of a loaded plugin.
//
// A plugin that passes validation enters Enabled directly. Transitions:
// Enabled <-> Disabled, Enabled -> Faulted on an unhandled execution panic
// (recovered with an explicit Enable), and Unloaded terminal from any state.
type State int

// Plugin states.
const (
	// StateEnabled - the plugin can execute actions.
	StateEnabled State = iota

	// StateDisabled - the plugin is loaded but execution is refused.
	StateDisabled

	// StateFaulted - an execution panicked; requires explicit Enable.
	StateFaulted

	// StateUnloaded - terminal; the plugin has been removed.
	StateUnloaded
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateEnabled:
		return "enabled"
	case StateDisabled:
		return "disabled"
	case StateFaulted:
		return "faulted"
	case StateUnloaded:
		return "unloaded"
	default:
		return "unknown"
	}
}

// IsExecutable returns true if the plugin may run actions.
func (s State) IsExecutable() bool {
	return s == StateEnabled
}
