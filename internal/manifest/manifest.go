// Package manifest defines the plugin manifest model: a plugin's declared
// identity, risk level, requested permissions, capabilities, and network
// intent. Manifests are immutable values parsed from snake_case JSON.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// RiskLevel classifies how much damage a plugin could do if it misbehaves.
// Levels are ordered: a manifest must declare at least the risk its
// permissions and capabilities imply.
type RiskLevel int

const (
	// RiskReadOnly - the plugin only reads state it was granted.
	RiskReadOnly RiskLevel = iota

	// RiskLocalMutation - the plugin writes files, storage, or memory.
	RiskLocalMutation

	// RiskNetwork - the plugin talks to the network.
	RiskNetwork

	// RiskSystemAdjacent - reserved for plugins touching the host system.
	// Not yet supported; the validator rejects it.
	RiskSystemAdjacent
)

// riskNames maps risk levels to their wire representation.
var riskNames = map[RiskLevel]string{
	RiskReadOnly:       "read_only",
	RiskLocalMutation:  "local_mutation",
	RiskNetwork:        "network",
	RiskSystemAdjacent: "system_adjacent",
}

// String returns the wire name of the risk level.
func (r RiskLevel) String() string {
	if name, ok := riskNames[r]; ok {
		return name
	}
	return "unknown"
}

// ParseRiskLevel parses a wire name into a RiskLevel.
func ParseRiskLevel(s string) (RiskLevel, error) {
	for level, name := range riskNames {
		if name == s {
			return level, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownRiskLevel, s)
}

// MarshalJSON implements json.Marshaler.
func (r RiskLevel) MarshalJSON() ([]byte, error) {
	name, ok := riskNames[r]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRiskLevel, int(r))
	}
	return json.Marshal(name)
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *RiskLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	level, err := ParseRiskLevel(s)
	if err != nil {
		return err
	}
	*r = level
	return nil
}

// PermissionType identifies the resource class a permission covers.
type PermissionType string

// Permission types.
const (
	PermissionFile    PermissionType = "file"
	PermissionNetwork PermissionType = "network"
	PermissionMemory  PermissionType = "memory"
	PermissionStorage PermissionType = "storage"
)

// IsValid returns true for a known permission type.
func (t PermissionType) IsValid() bool {
	switch t {
	case PermissionFile, PermissionNetwork, PermissionMemory, PermissionStorage:
		return true
	}
	return false
}

// Access is the direction of a permission grant.
type Access string

// Access modes.
const (
	AccessRead  Access = "read"
	AccessWrite Access = "write"
)

// IsValid returns true for a known access mode.
func (a Access) IsValid() bool {
	return a == AccessRead || a == AccessWrite
}

// Permission is a single (type, access, scope) grant a plugin declares it
// needs. Scope narrows the grant to a path or endpoint prefix; Reason is a
// human-readable justification shown to the operator.
type Permission struct {
	Type   PermissionType `json:"type"`
	Access Access         `json:"access"`
	Scope  string         `json:"scope,omitempty"`
	Reason string         `json:"reason,omitempty"`
}

// String returns a compact description, e.g. "file:write:/tmp/notes".
func (p Permission) String() string {
	if p.Scope == "" {
		return fmt.Sprintf("%s:%s", p.Type, p.Access)
	}
	return fmt.Sprintf("%s:%s:%s", p.Type, p.Access, p.Scope)
}

// Capability is one invocable action a plugin exposes to the assistant.
type Capability struct {
	ToolID          string `json:"tool_id"`
	Name            string `json:"name"`
	Description     string `json:"description,omitempty"`
	RequiresNetwork bool   `json:"requires_network"`
	ModifiesState   bool   `json:"modifies_state"`
}

// NetworkIntent declares what a networked plugin talks to and why. Required
// whenever any network permission is present.
type NetworkIntent struct {
	Endpoints    []string `json:"endpoints"`
	DataSent     string   `json:"data_sent,omitempty"`
	DataReceived string   `json:"data_received,omitempty"`
	Retention    string   `json:"retention,omitempty"`
	Purpose      string   `json:"purpose,omitempty"`
}

// Manifest describes a plugin's identity and everything it asks to do.
type Manifest struct {
	// Identity
	ID          string `json:"id"`      // Unique lowercase dotted/hyphenated id
	Version     string `json:"version"` // Semver
	Name        string `json:"name"`    // Human-readable name
	Author      string `json:"author"`
	Description string `json:"description,omitempty"`

	// Declared risk and grants
	RiskLevel     RiskLevel      `json:"risk_level"`
	Permissions   []Permission   `json:"permissions,omitempty"`
	Capabilities  []Capability   `json:"capabilities,omitempty"`
	NetworkIntent *NetworkIntent `json:"network_intent,omitempty"`
}

// Manifest errors.
var (
	// ErrUnknownRiskLevel is returned for a risk level outside the enum.
	ErrUnknownRiskLevel = errors.New("manifest: unknown risk level")

	// ErrNilManifest is returned when a nil manifest is provided.
	ErrNilManifest = errors.New("manifest: manifest is nil")
)

// ParseManifest parses a manifest from JSON bytes. The result is not
// validated; run it through a Validator before trusting it.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &m, nil
}

// LoadManifest reads and parses a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return ParseManifest(data)
}

// HasPermission returns true if the manifest declares a permission with the
// given type and access, regardless of scope.
func (m *Manifest) HasPermission(t PermissionType, a Access) bool {
	for _, p := range m.Permissions {
		if p.Type == t && p.Access == a {
			return true
		}
	}
	return false
}

// PermissionsOf returns all declared permissions of the given type.
func (m *Manifest) PermissionsOf(t PermissionType) []Permission {
	var out []Permission
	for _, p := range m.Permissions {
		if p.Type == t {
			out = append(out, p)
		}
	}
	return out
}

// CapabilityByTool returns the capability with the given tool id.
func (m *Manifest) CapabilityByTool(toolID string) (Capability, bool) {
	for _, c := range m.Capabilities {
		if c.ToolID == toolID {
			return c, true
		}
	}
	return Capability{}, false
}

// String returns a string representation of the manifest.
func (m *Manifest) String() string {
	return fmt.Sprintf("%s v%s", m.ID, m.Version)
}

// Clone creates a deep copy of the manifest.
func (m *Manifest) Clone() *Manifest {
	clone := *m

	if m.Permissions != nil {
		clone.Permissions = make([]Permission, len(m.Permissions))
		copy(clone.Permissions, m.Permissions)
	}

	if m.Capabilities != nil {
		clone.Capabilities = make([]Capability, len(m.Capabilities))
		copy(clone.Capabilities, m.Capabilities)
	}

	if m.NetworkIntent != nil {
		intent := *m.NetworkIntent
		if m.NetworkIntent.Endpoints != nil {
			intent.Endpoints = make([]string, len(m.NetworkIntent.Endpoints))
			copy(intent.Endpoints, m.NetworkIntent.Endpoints)
		}
		clone.NetworkIntent = &intent
	}

	return &clone
}
