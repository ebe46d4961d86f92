package sandbox

import (
	"fmt"

	"github.com/dshills/warden/internal/manifest"
)

// NetworkAccessor gates network access behind the global connectivity mode
// and the plugin's declared network permissions. Both layers must pass:
// the engine being connected does not help a plugin with no network
// permission, and a declared permission is useless while offline.
type NetworkAccessor struct {
	manifest     *manifest.Manifest
	connectivity *Connectivity
}

// IsAvailable reports whether the plugin can use the network at all:
// the engine is connected and the manifest declares a network permission.
func (a *NetworkAccessor) IsAvailable() bool {
	if a.connectivity.Mode() != ModeConnected {
		return false
	}
	return a.hasNetworkPermission()
}

// IsEndpointPermitted reports whether an endpoint is covered by some
// declared network permission scope.
func (a *NetworkAccessor) IsEndpointPermitted(endpoint string) bool {
	for _, p := range a.manifest.Permissions {
		if p.Type != manifest.PermissionNetwork {
			continue
		}
		if p.Scope != "" && scopePrefix(endpoint, p.Scope) {
			return true
		}
	}
	return false
}

// Check validates a prospective network call against both layers, returning
// a display-ready error on denial.
func (a *NetworkAccessor) Check(endpoint string) error {
	if !a.hasNetworkPermission() {
		return fmt.Errorf("%w: %s", ErrPermissionNotDeclared, endpoint)
	}
	if a.connectivity.Mode() != ModeConnected {
		return fmt.Errorf("%w: %s", ErrOffline, endpoint)
	}
	if !a.IsEndpointPermitted(endpoint) {
		return fmt.Errorf("%w: %s", ErrEndpointDenied, endpoint)
	}
	return nil
}

// hasNetworkPermission reports whether any network permission is declared.
func (a *NetworkAccessor) hasNetworkPermission() bool {
	return a.manifest.HasPermission(manifest.PermissionNetwork, manifest.AccessRead) ||
		a.manifest.HasPermission(manifest.PermissionNetwork, manifest.AccessWrite)
}
