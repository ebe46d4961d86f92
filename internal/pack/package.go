// Package pack reads, writes, and installs plugin packages. A package is a
// zip archive with a ".wplug" extension carrying the plugin's manifest, its
// source files, and a license. Opening a package screens its contents for
// native code before anything is trusted.
package pack

import (
	"archive/zip"
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/zeebo/blake3"

	"github.com/dshills/warden/internal/manifest"
)

// Extension is the file extension for plugin packages.
const Extension = ".wplug"

// Well-known archive entry names.
const (
	ManifestName  = "manifest.json"
	LicenseName   = "LICENSE"
	SignatureName = "SIGNATURE"
)

// maxEntrySize caps the decompressed size of a single archive entry.
const maxEntrySize = 16 << 20

// Package errors.
var (
	ErrNotAPackage      = errors.New("pack: not a plugin package")
	ErrMissingManifest  = errors.New("pack: archive has no manifest.json")
	ErrMissingLicense   = errors.New("pack: archive has no LICENSE")
	ErrForbiddenContent = errors.New("pack: archive contains forbidden content")
	ErrUnsafeEntryPath  = errors.New("pack: archive entry path escapes the package root")
	ErrEntryTooLarge    = errors.New("pack: archive entry exceeds the size limit")
)

// forbiddenExtensions are file types a package may never carry. Plugins are
// distributed as source; native code and shell entry points are rejected at
// open time rather than at load time.
var forbiddenExtensions = map[string]bool{
	".so":    true,
	".dll":   true,
	".dylib": true,
	".exe":   true,
	".bin":   true,
	".sh":    true,
	".bat":   true,
	".cmd":   true,
	".ps1":   true,
	".msi":   true,
	".com":   true,
	".scr":   true,
}

// forbiddenMIMEs are magic-byte signatures rejected regardless of the entry's
// extension. Renaming a shared object to .txt does not get it past the gate.
var forbiddenMIMEs = []string{
	"application/x-elf",
	"application/x-executable",
	"application/x-sharedlib",
	"application/x-mach-binary",
	"application/vnd.microsoft.portable-executable",
}

// Package is an opened, screened plugin package.
type Package struct {
	Path     string
	Manifest *manifest.Manifest
	Hash     string // hex BLAKE3 of the archive bytes
	Signed   bool   // a SIGNATURE entry was present; not verified
	Files    []string
	License  string

	contents map[string][]byte
}

// Open reads, screens, and parses a package file. The returned package holds
// every entry in memory; packages are small by construction.
func Open(packagePath string) (*Package, error) {
	if !strings.HasSuffix(packagePath, Extension) {
		return nil, fmt.Errorf("%w: %q does not end in %s", ErrNotAPackage, packagePath, Extension)
	}

	data, err := os.ReadFile(packagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read package: %w", err)
	}

	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAPackage, err)
	}

	pkg := &Package{
		Path:     packagePath,
		Hash:     hashBytes(data),
		contents: make(map[string][]byte),
	}

	for _, f := range reader.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := path.Clean(f.Name)
		if !isSafeEntryPath(name) {
			return nil, fmt.Errorf("%w: %q", ErrUnsafeEntryPath, f.Name)
		}
		if f.UncompressedSize64 > maxEntrySize {
			return nil, fmt.Errorf("%w: %q", ErrEntryTooLarge, name)
		}

		content, err := readEntry(f)
		if err != nil {
			return nil, err
		}
		if err := screenEntry(name, content); err != nil {
			return nil, err
		}

		pkg.contents[name] = content
		pkg.Files = append(pkg.Files, name)
	}
	sort.Strings(pkg.Files)

	manifestData, ok := pkg.contents[ManifestName]
	if !ok {
		return nil, ErrMissingManifest
	}
	m, err := manifest.ParseManifest(manifestData)
	if err != nil {
		return nil, err
	}
	if res := manifest.NewValidator().Validate(m); !res.Valid {
		return nil, fmt.Errorf("package manifest is invalid: %s", res.Errors[0])
	}
	pkg.Manifest = m

	license, ok := pkg.contents[LicenseName]
	if !ok {
		return nil, ErrMissingLicense
	}
	pkg.License = string(license)

	_, pkg.Signed = pkg.contents[SignatureName]

	return pkg, nil
}

// Content returns the bytes of a named entry.
func (p *Package) Content(name string) ([]byte, bool) {
	data, ok := p.contents[name]
	return data, ok
}

// Create writes a package file from an on-disk directory, appending the
// package extension when missing. The directory must contain manifest.json
// and LICENSE; the manifest is parsed and validated and the same screening
// applied by Open runs on every file before it is added.
func Create(sourceDir, packagePath string) error {
	if !strings.HasSuffix(packagePath, Extension) {
		packagePath += Extension
	}

	var names []string
	err := filepath.WalkDir(sourceDir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(sourceDir, p)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk source directory: %w", err)
	}
	sort.Strings(names)

	hasManifest, hasLicense := false, false
	for _, name := range names {
		switch name {
		case ManifestName:
			hasManifest = true
		case LicenseName:
			hasLicense = true
		}
	}
	if !hasManifest {
		return ErrMissingManifest
	}
	if !hasLicense {
		return ErrMissingLicense
	}

	manifestData, err := os.ReadFile(filepath.Join(sourceDir, ManifestName))
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", ManifestName, err)
	}
	m, err := manifest.ParseManifest(manifestData)
	if err != nil {
		return err
	}
	if res := manifest.NewValidator().Validate(m); !res.Valid {
		return fmt.Errorf("package manifest is invalid: %s", res.Errors[0])
	}

	out, err := os.Create(packagePath)
	if err != nil {
		return fmt.Errorf("failed to create package: %w", err)
	}
	defer out.Close()

	w := zip.NewWriter(out)
	for _, name := range names {
		content, err := os.ReadFile(filepath.Join(sourceDir, filepath.FromSlash(name)))
		if err != nil {
			w.Close()
			return fmt.Errorf("failed to read %s: %w", name, err)
		}
		if err := screenEntry(name, content); err != nil {
			w.Close()
			return err
		}
		entry, err := w.Create(name)
		if err != nil {
			w.Close()
			return fmt.Errorf("failed to add %s: %w", name, err)
		}
		if _, err := entry.Write(content); err != nil {
			w.Close()
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize package: %w", err)
	}
	return nil
}

// screenEntry rejects an entry by extension, then by magic bytes.
func screenEntry(name string, content []byte) error {
	ext := strings.ToLower(path.Ext(name))
	if forbiddenExtensions[ext] {
		return fmt.Errorf("%w: %q has a forbidden extension", ErrForbiddenContent, name)
	}

	mime := mimetype.Detect(content)
	for _, bad := range forbiddenMIMEs {
		if mime.Is(bad) {
			return fmt.Errorf("%w: %q looks like %s", ErrForbiddenContent, name, mime.String())
		}
	}
	return nil
}

// isSafeEntryPath rejects absolute paths and traversal out of the root.
func isSafeEntryPath(name string) bool {
	if name == "" || name == "." || path.IsAbs(name) {
		return false
	}
	if name == ".." || strings.HasPrefix(name, "../") {
		return false
	}
	return true
}

// readEntry decompresses one archive entry, enforcing the size cap against
// zip bombs whose header lies about the uncompressed size.
func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	content, err := io.ReadAll(io.LimitReader(rc, maxEntrySize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read entry %s: %w", f.Name, err)
	}
	if len(content) > maxEntrySize {
		return nil, fmt.Errorf("%w: %q", ErrEntryTooLarge, f.Name)
	}
	return content, nil
}

// hashBytes returns the hex BLAKE3 digest of data.
func hashBytes(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
