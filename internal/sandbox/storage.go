package sandbox

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dshills/warden/internal/manifest"
)

// kvStore is the shared backing for storage and memory accessors: a
// namespace (plugin id) to key to value map behind one lock.
type kvStore struct {
	mu   sync.RWMutex
	data map[string]map[string]any
}

func newKVStore() *kvStore {
	return &kvStore{data: make(map[string]map[string]any)}
}

func (s *kvStore) get(ns, key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[ns][key]
	return v, ok
}

func (s *kvStore) set(ns, key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.data[ns]
	if !ok {
		bucket = make(map[string]any)
		s.data[ns] = bucket
	}
	bucket[key] = value
}

func (s *kvStore) delete(ns, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data[ns], key)
}

func (s *kvStore) keys(ns string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.data[ns]))
	for k := range s.data[ns] {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (s *kvStore) dropNamespace(ns string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, ns)
}

// StorageAccessor is a per-plugin isolated key-value namespace gated on the
// manifest's storage permissions.
type StorageAccessor struct {
	manifest  *manifest.Manifest
	store     *kvStore
	namespace string
}

// Get reads a value. Requires a declared storage read permission.
func (a *StorageAccessor) Get(key string) (any, bool, error) {
	if !a.manifest.HasPermission(manifest.PermissionStorage, manifest.AccessRead) {
		return nil, false, fmt.Errorf("%w: storage read", ErrPermissionNotDeclared)
	}
	v, ok := a.store.get(a.namespace, key)
	return v, ok, nil
}

// Set writes a value. Requires a declared storage write permission.
func (a *StorageAccessor) Set(key string, value any) error {
	if !a.manifest.HasPermission(manifest.PermissionStorage, manifest.AccessWrite) {
		return fmt.Errorf("%w: storage write", ErrPermissionNotDeclared)
	}
	a.store.set(a.namespace, key, value)
	return nil
}

// Delete removes a key. Requires a declared storage write permission.
func (a *StorageAccessor) Delete(key string) error {
	if !a.manifest.HasPermission(manifest.PermissionStorage, manifest.AccessWrite) {
		return fmt.Errorf("%w: storage write", ErrPermissionNotDeclared)
	}
	a.store.delete(a.namespace, key)
	return nil
}

// Keys lists the plugin's keys in sorted order. Requires storage read.
func (a *StorageAccessor) Keys() ([]string, error) {
	if !a.manifest.HasPermission(manifest.PermissionStorage, manifest.AccessRead) {
		return nil, fmt.Errorf("%w: storage read", ErrPermissionNotDeclared)
	}
	return a.store.keys(a.namespace), nil
}

// MemoryAccessor is the scratch-value counterpart of StorageAccessor,
// gated on memory permissions. Contents are dropped on unload.
type MemoryAccessor struct {
	manifest  *manifest.Manifest
	store     *kvStore
	namespace string
}

// Get reads a scratch value. Requires a declared memory read permission.
func (a *MemoryAccessor) Get(key string) (any, bool, error) {
	if !a.manifest.HasPermission(manifest.PermissionMemory, manifest.AccessRead) {
		return nil, false, fmt.Errorf("%w: memory read", ErrPermissionNotDeclared)
	}
	v, ok := a.store.get(a.namespace, key)
	return v, ok, nil
}

// Set writes a scratch value. Requires a declared memory write permission.
func (a *MemoryAccessor) Set(key string, value any) error {
	if !a.manifest.HasPermission(manifest.PermissionMemory, manifest.AccessWrite) {
		return fmt.Errorf("%w: memory write", ErrPermissionNotDeclared)
	}
	a.store.set(a.namespace, key, value)
	return nil
}

// Delete removes a scratch key. Requires a declared memory write permission.
func (a *MemoryAccessor) Delete(key string) error {
	if !a.manifest.HasPermission(manifest.PermissionMemory, manifest.AccessWrite) {
		return fmt.Errorf("%w: memory write", ErrPermissionNotDeclared)
	}
	a.store.delete(a.namespace, key)
	return nil
}
