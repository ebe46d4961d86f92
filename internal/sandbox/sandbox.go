// Package sandbox builds per-plugin execution contexts exposing gated
// file, network, memory, and storage accessors. Every gate checks the
// plugin's declared manifest permissions only; operator policy is a
// separate, independent gate consulted by the host. The sandbox never
// logs - reporting grants and denials to the audit log is the caller's
// responsibility, which keeps this package a pure capability check.
package sandbox

import (
	"errors"
	"sync"

	"github.com/dshills/warden/internal/manifest"
)

// Sandbox errors.
var (
	// ErrPermissionNotDeclared is returned when an accessor is used
	// without the backing manifest permission.
	ErrPermissionNotDeclared = errors.New("sandbox: permission not declared in manifest")

	// ErrPathDenied is returned for a file path outside every declared scope.
	ErrPathDenied = errors.New("sandbox: path not covered by any declared file scope")

	// ErrOffline is returned for network use while the engine is offline.
	ErrOffline = errors.New("sandbox: network is unavailable in offline mode")

	// ErrEndpointDenied is returned for an endpoint outside every declared scope.
	ErrEndpointDenied = errors.New("sandbox: endpoint not covered by any declared network scope")
)

// Mode is the engine-wide connectivity mode.
type Mode int

const (
	// ModeOffline - no plugin may reach the network regardless of permissions.
	ModeOffline Mode = iota

	// ModeConnected - network-permitted plugins may reach their scopes.
	ModeConnected
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeOffline:
		return "offline"
	case ModeConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Connectivity is the shared global connectivity state layered under every
// plugin's declared network permission.
type Connectivity struct {
	mu   sync.RWMutex
	mode Mode
}

// NewConnectivity creates connectivity state in the given mode.
func NewConnectivity(mode Mode) *Connectivity {
	return &Connectivity{mode: mode}
}

// Mode returns the current mode.
func (c *Connectivity) Mode() Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

// SetMode switches the mode for every plugin at once.
func (c *Connectivity) SetMode(mode Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = mode
}

// Factory creates sandbox contexts. The storage and memory backings are
// shared across contexts but namespaced per plugin, so two plugins writing
// the same key never collide.
type Factory struct {
	connectivity *Connectivity
	storage      *kvStore
	memory       *kvStore
}

// NewFactory creates a context factory using the given connectivity state.
func NewFactory(conn *Connectivity) *Factory {
	if conn == nil {
		conn = NewConnectivity(ModeConnected)
	}
	return &Factory{
		connectivity: conn,
		storage:      newKVStore(),
		memory:       newKVStore(),
	}
}

// NewContext builds the execution context for one plugin manifest.
func (f *Factory) NewContext(m *manifest.Manifest) *Context {
	return &Context{
		manifest: m,
		files:    &FileAccessor{manifest: m},
		network:  &NetworkAccessor{manifest: m, connectivity: f.connectivity},
		storage:  &StorageAccessor{manifest: m, store: f.storage, namespace: m.ID},
		memory:   &MemoryAccessor{manifest: m, store: f.memory, namespace: m.ID},
	}
}

// DropPlugin discards all storage and memory state namespaced to a plugin.
// Called by the host on unload.
func (f *Factory) DropPlugin(pluginID string) {
	f.storage.dropNamespace(pluginID)
	f.memory.dropNamespace(pluginID)
}

// Context is the set of gated accessors created for one loaded plugin.
type Context struct {
	manifest *manifest.Manifest
	files    *FileAccessor
	network  *NetworkAccessor
	storage  *StorageAccessor
	memory   *MemoryAccessor
}

// PluginID returns the owning plugin's id.
func (c *Context) PluginID() string {
	return c.manifest.ID
}

// Manifest returns the manifest the context was built from.
func (c *Context) Manifest() *manifest.Manifest {
	return c.manifest
}

// HasPermission scans the manifest's declared permissions for a structural
// match. A permission with no scope covers any requested scope; otherwise
// the declared scope must prefix-cover the request.
func (c *Context) HasPermission(t manifest.PermissionType, a manifest.Access, scope string) bool {
	for _, p := range c.manifest.Permissions {
		if p.Type != t || p.Access != a {
			continue
		}
		if scope == "" || p.Scope == "" || scopePrefix(scope, p.Scope) {
			return true
		}
	}
	return false
}

// Files returns the gated file accessor.
func (c *Context) Files() *FileAccessor { return c.files }

// Network returns the gated network accessor.
func (c *Context) Network() *NetworkAccessor { return c.network }

// Storage returns the plugin's isolated storage accessor.
func (c *Context) Storage() *StorageAccessor { return c.storage }

// Memory returns the plugin's isolated memory accessor.
func (c *Context) Memory() *MemoryAccessor { return c.memory }
