// Package tools exposes plugin capabilities to an assistant runtime as
// executable tools. Each loaded plugin capability becomes one tool named
// plugin:{plugin-id}:{tool-id}, carrying the plugin's declared risk so the
// runtime can decide what needs confirmation.
package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/dshills/warden/internal/host"
	"github.com/dshills/warden/internal/manifest"
)

// Tool is one executable operation an assistant can invoke.
type Tool interface {
	// Name returns the unique tool name.
	Name() string

	// Description returns a description of what the tool does.
	Description() string

	// Parameters returns the list of parameters this tool accepts.
	Parameters() []Parameter

	// Execute runs the tool with the given parameters.
	Execute(ctx context.Context, params map[string]any) (*Result, error)

	// RiskLevel returns the risk classification of the tool.
	RiskLevel() RiskLevel

	// IsReadOnly reports whether the tool mutates any state.
	IsReadOnly() bool
}

// Parameter defines a tool parameter.
type Parameter struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Type        ParamType `json:"type"`
	Required    bool      `json:"required"`
	Default     any       `json:"default,omitempty"`
}

// ParamType represents the type of a parameter.
type ParamType string

const (
	// ParamTypeString is a string parameter.
	ParamTypeString ParamType = "string"
	// ParamTypeInt is an integer parameter.
	ParamTypeInt ParamType = "int"
	// ParamTypeBool is a boolean parameter.
	ParamTypeBool ParamType = "bool"
	// ParamTypeArray is an array parameter.
	ParamTypeArray ParamType = "array"
	// ParamTypeObject is an object parameter.
	ParamTypeObject ParamType = "object"
)

// Result contains the result of tool execution.
type Result struct {
	Success bool           `json:"success"`
	Output  string         `json:"output"`
	Error   error          `json:"error,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// RiskLevel classifies how much damage a tool could do.
type RiskLevel int

const (
	// RiskLow indicates minimal security risk.
	RiskLow RiskLevel = iota

	// RiskMedium indicates moderate security risk.
	RiskMedium

	// RiskHigh indicates significant security risk.
	RiskHigh

	// RiskCritical indicates maximum security risk.
	RiskCritical
)

// String returns a string representation of the risk level.
func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	case RiskCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// riskOf maps a manifest risk level to a tool risk level.
func riskOf(r manifest.RiskLevel) RiskLevel {
	switch r {
	case manifest.RiskReadOnly:
		return RiskLow
	case manifest.RiskLocalMutation:
		return RiskMedium
	case manifest.RiskNetwork:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// ToolName builds the canonical tool name for a plugin capability.
func ToolName(pluginID, toolID string) string {
	return fmt.Sprintf("plugin:%s:%s", pluginID, toolID)
}

// Executor runs a plugin action. The plugin host satisfies this.
type Executor interface {
	Execute(ctx context.Context, pluginID, actionID string, params map[string]any) (*host.Result, error)
}

// pluginTool adapts one plugin capability to the Tool interface.
type pluginTool struct {
	executor   Executor
	pluginID   string
	capability manifest.Capability
	risk       RiskLevel
}

func (t *pluginTool) Name() string {
	return ToolName(t.pluginID, t.capability.ToolID)
}

func (t *pluginTool) Description() string {
	if t.capability.Description != "" {
		return t.capability.Description
	}
	return t.capability.Name
}

func (t *pluginTool) Parameters() []Parameter {
	// Plugin actions take free-form parameters.
	return []Parameter{
		{Name: "params", Type: ParamTypeObject, Description: "Action parameters", Required: false},
	}
}

func (t *pluginTool) RiskLevel() RiskLevel { return t.risk }

// IsReadOnly is derived from whether the capability mutates state; the
// network dimension is already carried by the risk level.
func (t *pluginTool) IsReadOnly() bool {
	return !t.capability.ModifiesState
}

// Execute routes the call through the plugin host. Lifecycle failures, for
// example a disabled or unloaded plugin, surface as a failed Result rather
// than an error so the assistant sees a clean refusal.
func (t *pluginTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	hostRes, err := t.executor.Execute(ctx, t.pluginID, t.capability.ToolID, params)
	if err != nil {
		return &Result{Success: false, Error: err}, nil
	}
	if !hostRes.Success {
		return &Result{Success: false, Error: errors.New(hostRes.Error)}, nil
	}

	res := &Result{Success: true}
	if hostRes.Output != nil {
		res.Output = fmt.Sprint(hostRes.Output)
		res.Data = map[string]any{"output": hostRes.Output}
	}
	return res, nil
}
