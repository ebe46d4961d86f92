package host

import (
	"context"

	"github.com/dshills/warden/internal/manifest"
	"github.com/dshills/warden/internal/sandbox"
)

// Result is the outcome of executing one plugin action. Error is a
// display-ready message, never a stack trace.
type Result struct {
	Success bool   `json:"success"`
	Output  any    `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Instance is the execution contract every plugin runtime implements. The
// host never assumes a concrete plugin type: it calls Initialize exactly
// once before the first Execute, and implementations must fail Execute
// with a well-defined error when called before initialization or after the
// host has released the plugin.
type Instance interface {
	// Initialize prepares the instance with its sandbox context.
	Initialize(sb *sandbox.Context) error

	// Execute runs one declared action. Implementations should honor ctx
	// cancellation on long operations.
	Execute(ctx context.Context, actionID string, params map[string]any, sb *sandbox.Context) (*Result, error)

	// Capabilities returns the actions the instance implements.
	Capabilities() []manifest.Capability
}
