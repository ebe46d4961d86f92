package manifest

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// idPattern validates plugin ids: lowercase, digits, dots, hyphens.
var idPattern = regexp.MustCompile(`^[a-z0-9.-]+$`)

// Result is the outcome of validating a manifest. A manifest is usable only
// when Valid is true; Warnings never block loading.
type Result struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// addError records a validation error.
func (r *Result) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// addWarning records a non-fatal finding.
func (r *Result) addWarning(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Validator checks manifests for structural and risk-level consistency.
// It has no side effects and is safe for concurrent use.
type Validator struct{}

// NewValidator creates a manifest validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate runs all checks against the manifest and returns the collected
// errors and warnings. A nil manifest is reported as invalid.
func (v *Validator) Validate(m *Manifest) *Result {
	res := &Result{}

	if m == nil {
		res.addError("manifest is nil")
		return res
	}

	v.checkIdentity(m, res)
	v.checkPermissions(m, res)
	v.checkCapabilities(m, res)
	v.checkRiskLevel(m, res)
	v.checkNetworkIntent(m, res)

	if len(m.Capabilities) == 0 {
		res.addWarning("manifest declares no capabilities; the plugin will expose no tools")
	}

	res.Valid = len(res.Errors) == 0
	return res
}

// checkIdentity validates the required identity fields.
func (v *Validator) checkIdentity(m *Manifest, res *Result) {
	if m.ID == "" {
		res.addError("id is required")
	} else if !idPattern.MatchString(m.ID) {
		res.addError("id %q must contain only lowercase letters, digits, dots, and hyphens", m.ID)
	}

	if m.Name == "" {
		res.addError("name is required")
	}
	if m.Author == "" {
		res.addError("author is required")
	}

	if m.Version == "" {
		res.addError("version is required")
	} else if _, err := semver.NewVersion(m.Version); err != nil {
		res.addError("version %q is not a valid semantic version", m.Version)
	}
}

// checkPermissions validates each declared permission.
func (v *Validator) checkPermissions(m *Manifest, res *Result) {
	for i, p := range m.Permissions {
		if !p.Type.IsValid() {
			res.addError("permission %d has unknown type %q", i, p.Type)
			continue
		}
		if !p.Access.IsValid() {
			res.addError("permission %d has unknown access %q", i, p.Access)
			continue
		}

		// File and network grants are meaningless without a scope.
		if p.Scope == "" && (p.Type == PermissionFile || p.Type == PermissionNetwork) {
			res.addError("%s permission requires a scope", p.Type)
		}

		// Write access must be narrowly scoped.
		if p.Access == AccessWrite && p.Scope == "*" {
			res.addError("%s write permission may not use wildcard scope %q; write access must be narrowly scoped", p.Type, p.Scope)
		}
	}
}

// checkCapabilities validates capability declarations against permissions.
func (v *Validator) checkCapabilities(m *Manifest, res *Result) {
	seen := make(map[string]bool, len(m.Capabilities))

	for i, c := range m.Capabilities {
		if c.ToolID == "" {
			res.addError("capability %d has no tool id", i)
			continue
		}
		if seen[c.ToolID] {
			res.addError("capability tool id %q is declared more than once", c.ToolID)
		}
		seen[c.ToolID] = true

		if c.RequiresNetwork && !m.HasPermission(PermissionNetwork, AccessRead) && !m.HasPermission(PermissionNetwork, AccessWrite) {
			res.addError("capability %q requires network access but no network permission is declared", c.ToolID)
		}
		if c.ModifiesState && !v.hasAnyWritePermission(m) {
			res.addError("capability %q modifies state but no write permission is declared", c.ToolID)
		}
	}
}

// hasAnyWritePermission reports whether any declared permission grants write.
func (v *Validator) hasAnyWritePermission(m *Manifest) bool {
	for _, p := range m.Permissions {
		if p.Access == AccessWrite {
			return true
		}
	}
	return false
}

// checkRiskLevel verifies that the declared risk level covers the risk
// implied by permissions and capabilities. Declaring more risk than
// required is allowed; declaring less fails.
func (v *Validator) checkRiskLevel(m *Manifest, res *Result) {
	if m.RiskLevel == RiskSystemAdjacent {
		res.addError("risk level %q is not yet supported", RiskSystemAdjacent)
		return
	}

	required := RequiredRiskLevel(m)
	if m.RiskLevel < required {
		res.addError("declared risk level %q is below the required level %q implied by declared permissions and capabilities",
			m.RiskLevel, required)
	}
}

// checkNetworkIntent requires a network intent whenever a network
// permission exists, and checks every endpoint against the declared scopes.
func (v *Validator) checkNetworkIntent(m *Manifest, res *Result) {
	netPerms := m.PermissionsOf(PermissionNetwork)
	if len(netPerms) == 0 {
		return
	}

	if m.NetworkIntent == nil {
		res.addError("network permission declared but network_intent is missing")
		return
	}

	for _, endpoint := range m.NetworkIntent.Endpoints {
		if !endpointCovered(endpoint, netPerms) {
			res.addError("network intent endpoint %q is not covered by any network permission scope", endpoint)
		}
	}
}

// endpointCovered reports whether some network permission scope is a prefix
// of the endpoint.
func endpointCovered(endpoint string, perms []Permission) bool {
	for _, p := range perms {
		if p.Scope == "" {
			continue
		}
		if p.Scope == "*" || strings.HasPrefix(endpoint, p.Scope) {
			return true
		}
	}
	return false
}

// RequiredRiskLevel computes the minimum risk level the manifest's declared
// permissions and capabilities imply.
func RequiredRiskLevel(m *Manifest) RiskLevel {
	required := RiskReadOnly

	for _, p := range m.Permissions {
		switch {
		case p.Type == PermissionNetwork:
			required = maxRisk(required, RiskNetwork)
		case p.Access == AccessWrite:
			required = maxRisk(required, RiskLocalMutation)
		}
	}

	for _, c := range m.Capabilities {
		if c.RequiresNetwork {
			required = maxRisk(required, RiskNetwork)
		}
		if c.ModifiesState {
			required = maxRisk(required, RiskLocalMutation)
		}
	}

	return required
}

// maxRisk returns the higher of two risk levels.
func maxRisk(a, b RiskLevel) RiskLevel {
	if a > b {
		return a
	}
	return b
}
