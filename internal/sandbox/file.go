package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dshills/warden/internal/manifest"
)

// FileAccessor gates filesystem access behind the manifest's declared file
// permissions. A path is permitted only when some file permission's scope
// is a path-prefix of the target and the access mode matches.
type FileAccessor struct {
	manifest *manifest.Manifest
}

// IsPathPermitted reports whether the path is covered by a declared file
// permission with the given access.
func (a *FileAccessor) IsPathPermitted(path string, access manifest.Access) bool {
	target := normalizePath(path)
	for _, p := range a.manifest.Permissions {
		if p.Type != manifest.PermissionFile || p.Access != access {
			continue
		}
		if p.Scope == "*" || isWithinPath(target, normalizePath(p.Scope)) {
			return true
		}
	}
	return false
}

// Read reads a file after checking read permission for its path.
func (a *FileAccessor) Read(path string) ([]byte, error) {
	if !a.IsPathPermitted(path, manifest.AccessRead) {
		return nil, fmt.Errorf("%w: read %s", ErrPathDenied, path)
	}
	return os.ReadFile(path)
}

// Write writes a file after checking write permission for its path.
func (a *FileAccessor) Write(path string, data []byte) error {
	if !a.IsPathPermitted(path, manifest.AccessWrite) {
		return fmt.Errorf("%w: write %s", ErrPathDenied, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// normalizePath returns an absolute, clean path.
func normalizePath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return filepath.Clean(abs)
}

// isWithinPath checks if target is within or equal to base using
// filepath.Rel, so "/tmp/scope" never matches "/tmp/scopefile".
func isWithinPath(target, base string) bool {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	return !strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel)
}

// scopePrefix reports whether declared is a prefix of requested on a
// segment boundary. Used for non-filesystem scopes.
func scopePrefix(requested, declared string) bool {
	if requested == declared || declared == "*" {
		return true
	}
	if !strings.HasPrefix(requested, declared) {
		return false
	}
	rest := requested[len(declared):]
	return strings.HasSuffix(declared, "/") || rest[0] == '/'
}
