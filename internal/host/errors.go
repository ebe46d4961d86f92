package host

import "errors"

// Host errors. All are recoverable at the call site; none should crash the
// hosting application.
var (
	// ErrNilManifest is returned when a nil manifest is provided.
	ErrNilManifest = errors.New("manifest is nil")

	// ErrNilInstance is returned when a nil runtime instance is provided.
	ErrNilInstance = errors.New("plugin instance is nil")

	// ErrInvalidManifest is returned when the manifest fails validation.
	ErrInvalidManifest = errors.New("manifest is invalid")

	// ErrAlreadyLoaded is returned on a duplicate load of the same id.
	ErrAlreadyLoaded = errors.New("plugin is already loaded")

	// ErrPluginNotFound is returned when a plugin id is not loaded.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrPluginDisabled is returned when executing a plugin that is not
	// enabled (disabled or faulted).
	ErrPluginDisabled = errors.New("plugin is disabled")

	// ErrWrongState is returned for an enable/disable outside the states
	// the transition is defined for.
	ErrWrongState = errors.New("plugin is not in a state that allows this transition")
)
