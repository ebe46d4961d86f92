package pack

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	log "github.com/charmbracelet/log"

	"github.com/dshills/warden/internal/audit"
)

// registryName is the registry file kept at the root of the install dir.
const registryName = "registry.json"

// Installer errors.
var (
	ErrNotInstalled = errors.New("pack: plugin is not installed")
)

// Record is one installed plugin in the registry.
type Record struct {
	PluginID    string    `json:"plugin_id"`
	Version     string    `json:"version"`
	Hash        string    `json:"hash"`
	Signed      bool      `json:"signed"`
	InstalledAt time.Time `json:"installed_at"`
	Files       []string  `json:"files"`
}

// InstallResult reports what an Install call did.
type InstallResult struct {
	PluginID string `json:"plugin_id"`
	Version  string `json:"version"`
	Hash     string `json:"hash"`
	Signed   bool   `json:"signed"`

	// WasAlreadyInstalled is set when the exact package was installed
	// before and nothing changed.
	WasAlreadyInstalled bool `json:"was_already_installed"`

	// Upgraded and Downgraded report the version direction relative to a
	// previous install. Downgrades are allowed but flagged.
	Upgraded   bool `json:"upgraded"`
	Downgraded bool `json:"downgraded"`
}

// Installer unpacks packages into a directory tree, one subdirectory per
// plugin id, and tracks installs in a persisted registry.
type Installer struct {
	mu       sync.Mutex
	dir      string
	records  map[string]Record
	auditLog *audit.Log
}

// NewInstaller creates an installer rooted at dir, creating it if needed and
// loading any existing registry.
func NewInstaller(dir string) (*Installer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create install directory: %w", err)
	}

	inst := &Installer{
		dir:     dir,
		records: make(map[string]Record),
	}

	data, err := os.ReadFile(filepath.Join(dir, registryName))
	if err != nil {
		if os.IsNotExist(err) {
			return inst, nil
		}
		return nil, fmt.Errorf("failed to read registry: %w", err)
	}
	if err := json.Unmarshal(data, &inst.records); err != nil {
		return nil, fmt.Errorf("failed to parse registry: %w", err)
	}
	return inst, nil
}

// SetAuditLog wires an audit log; installs and uninstalls are recorded to
// it. A nil log disables recording.
func (i *Installer) SetAuditLog(l *audit.Log) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.auditLog = l
}

// record writes an audit entry when a log is wired.
func (i *Installer) record(e audit.Entry) {
	if i.auditLog != nil {
		i.auditLog.Record(e)
	}
}

// Dir returns the install root.
func (i *Installer) Dir() string { return i.dir }

// PluginDir returns the directory a plugin's files are unpacked into.
func (i *Installer) PluginDir(pluginID string) string {
	return filepath.Join(i.dir, pluginID)
}

// Install unpacks a screened package. Installing the same version again is
// a no-op, even when the archive bytes differ; a different version for an
// already-installed id replaces the previous files wholesale and the result
// reports the version direction.
func (i *Installer) Install(pkg *Package) (*InstallResult, error) {
	if pkg == nil || pkg.Manifest == nil {
		return nil, errors.New("pack: nil package")
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	id := pkg.Manifest.ID
	result := &InstallResult{
		PluginID: id,
		Version:  pkg.Manifest.Version,
		Hash:     pkg.Hash,
		Signed:   pkg.Signed,
	}

	if prev, exists := i.records[id]; exists {
		// Idempotence is keyed on version: an installed version is never
		// re-extracted. The result reports what is actually on disk.
		if prev.Version == pkg.Manifest.Version {
			if prev.Hash != pkg.Hash {
				log.Warn("package content differs from the installed copy of the same version",
					"plugin", id, "version", prev.Version)
			}
			result.Hash = prev.Hash
			result.Signed = prev.Signed
			result.WasAlreadyInstalled = true
			return result, nil
		}
		result.Upgraded, result.Downgraded = versionDirection(prev.Version, pkg.Manifest.Version)
		// Replace wholesale so files removed upstream do not linger.
		if err := os.RemoveAll(i.PluginDir(id)); err != nil {
			return nil, fmt.Errorf("failed to remove previous install: %w", err)
		}
		if result.Downgraded {
			log.Warn("installing an older version over a newer one",
				"plugin", id, "from", prev.Version, "to", pkg.Manifest.Version)
		}
	}

	target := i.PluginDir(id)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create plugin directory: %w", err)
	}
	for _, name := range pkg.Files {
		content, _ := pkg.Content(name)
		dest := filepath.Join(target, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", filepath.Dir(dest), err)
		}
		if err := os.WriteFile(dest, content, 0o644); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", name, err)
		}
	}

	i.records[id] = Record{
		PluginID:    id,
		Version:     pkg.Manifest.Version,
		Hash:        pkg.Hash,
		Signed:      pkg.Signed,
		InstalledAt: time.Now(),
		Files:       append([]string(nil), pkg.Files...),
	}
	if err := i.persist(); err != nil {
		return nil, err
	}

	details := fmt.Sprintf("version %s", pkg.Manifest.Version)
	switch {
	case result.Upgraded:
		details += ", upgrade"
	case result.Downgraded:
		details += ", downgrade"
	}
	i.record(audit.Entry{
		PluginID: id,
		Type:     audit.EventInstalled,
		Success:  true,
		Details:  details,
	})
	return result, nil
}

// Uninstall removes a plugin's files and registry record.
func (i *Installer) Uninstall(pluginID string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if _, exists := i.records[pluginID]; !exists {
		return fmt.Errorf("plugin %q: %w", pluginID, ErrNotInstalled)
	}
	if err := os.RemoveAll(i.PluginDir(pluginID)); err != nil {
		return fmt.Errorf("failed to remove plugin files: %w", err)
	}
	delete(i.records, pluginID)
	return i.persist()
}

// Get returns the registry record for a plugin id.
func (i *Installer) Get(pluginID string) (Record, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	rec, exists := i.records[pluginID]
	return rec, exists
}

// Installed returns all registry records sorted by plugin id.
func (i *Installer) Installed() []Record {
	i.mu.Lock()
	defer i.mu.Unlock()

	out := make([]Record, 0, len(i.records))
	for _, rec := range i.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].PluginID < out[b].PluginID })
	return out
}

// persist writes the registry. Must be called with mu held.
func (i *Installer) persist() error {
	data, err := json.MarshalIndent(i.records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode registry: %w", err)
	}
	if err := os.WriteFile(filepath.Join(i.dir, registryName), data, 0o644); err != nil {
		return fmt.Errorf("failed to write registry: %w", err)
	}
	return nil
}

// versionDirection compares two semver strings. Unparseable versions report
// neither direction; the manifest validator normally guarantees semver.
func versionDirection(from, to string) (upgraded, downgraded bool) {
	prev, err1 := semver.NewVersion(from)
	next, err2 := semver.NewVersion(to)
	if err1 != nil || err2 != nil {
		return false, false
	}
	switch next.Compare(prev) {
	case 1:
		return true, false
	case -1:
		return false, true
	default:
		return false, false
	}
}
