package policy

import (
	"encoding/json"
	"os"
	"path/filepath"

	log "github.com/charmbracelet/log"
)

// policyFile is the on-disk shape: plugin id to policy, snake_case JSON,
// rewritten wholesale on every mutation.
type policyFile struct {
	Policies map[string]*Policy `json:"policies"`
}

// loadFile reads the policy file into memory. A missing file leaves the
// store empty.
func (s *Store) loadFile() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var f policyFile
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if f.Policies != nil {
		s.policies = f.Policies
	}
	return nil
}

// Reload re-reads the policy file, replacing in-memory policies. Used by
// the watcher when the file changes externally.
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}
	return s.loadFile()
}

// persist writes the whole policy table to disk. Persistence is
// best-effort: a failed write degrades to "setting lost on next restart"
// and is logged, never surfaced to the caller.
func (s *Store) persist() {
	if s.path == "" {
		return
	}

	s.mu.RLock()
	f := policyFile{Policies: s.policies}
	data, err := json.MarshalIndent(&f, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		log.Warn("failed to encode policy file", "path", s.path, "error", err)
		return
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		log.Warn("failed to create policy directory", "path", s.path, "error", err)
		return
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		log.Warn("failed to write policy file", "path", s.path, "error", err)
	}
}
