// Package bundle identifies macOS-style package directories (application
// bundles, libraries, frameworks) that must be treated as single opaque files
// and never traversed internally.
package bundle

import (
	"os"
	"path/filepath"
	"strings"
)

// DefaultExtensions is the fallback list used when the configuration service
// does not provide one.
var DefaultExtensions = []string{
	".app",
	".bundle",
	".framework",
	".fcpbundle",
	".photoslibrary",
	".imovielibrary",
	".tvlibrary",
	".theater",
	".plugin",
	".component",
	".mdimporter",
	".qlgenerator",
	".saver",
	".service",
	".wdgt",
	".xpc",
}

// dotEntryThreshold: a directory containing more dot-prefixed entries than this
// is treated as a probable bundle even without a known extension.
const dotEntryThreshold = 5

// maxNesting bounds the inside-bundle resolution loop for pathological paths
// like a.app/b.app/c.app/...
const maxNesting = 16

// Detector checks paths against a set of bundle extensions. Zero value is not
// usable; construct with New.
type Detector struct {
	extensions []string
}

// New builds a detector from the given extensions, falling back to
// DefaultExtensions when the list is empty. Extensions are normalized to
// lowercase with a leading dot.
func New(extensions []string) *Detector {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	normalized := make([]string, 0, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		normalized = append(normalized, ext)
	}
	return &Detector{extensions: normalized}
}

// Extensions returns the normalized extension list in use.
func (d *Detector) Extensions() []string {
	return d.extensions
}

// hasBundleExtension checks the final path component against the extension list.
func (d *Detector) hasBundleExtension(path string) bool {
	name := strings.ToLower(filepath.Base(path))
	for _, ext := range d.extensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

// hasBundleStructure checks for the Contents/Info.plist marker that application
// bundles carry.
func hasBundleStructure(path string) bool {
	info, err := os.Stat(filepath.Join(path, "Contents", "Info.plist"))
	return err == nil && !info.IsDir()
}

// hasManyDotEntries is the heuristic fallback: package directories tend to be
// full of dot-prefixed bookkeeping entries.
func hasManyDotEntries(path string) bool {
	entries, err := os.ReadDir(path)
	if err != nil {
		return false
	}
	count := 0
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			count++
			if count > dotEntryThreshold {
				return true
			}
		}
	}
	return false
}

// IsBundle reports whether path is a bundle root. Checks run cheapest first:
// extension match, then the Contents/Info.plist marker, then the dot-entry
// heuristic (directories only).
func (d *Detector) IsBundle(path string) bool {
	if path == "" {
		return false
	}
	if d.hasBundleExtension(path) {
		return true
	}
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return false
	}
	if hasBundleStructure(path) {
		return true
	}
	return hasManyDotEntries(path)
}

// InsideBundle returns the root of the bundle that contains path, or "" when
// path is not inside one. Only the extension tier applies here: the check walks
// the path string, not the filesystem. A path that is itself a bundle root (and
// not nested in another) is not "inside" one.
func (d *Detector) InsideBundle(path string) string {
	if path == "" {
		return ""
	}
	sep := string(filepath.Separator)
	lower := strings.ToLower(path)
	for _, ext := range d.extensions {
		marker := ext + sep
		if idx := strings.Index(lower, marker); idx >= 0 {
			return path[:idx+len(ext)]
		}
	}
	return ""
}

// Resolve redirects a path inside a (possibly nested) bundle to the outermost
// enclosing bundle root, iterating rather than recursing so the depth stays
// bounded. Paths not inside any bundle come back unchanged.
func (d *Detector) Resolve(path string) string {
	cur := path
	for i := 0; i < maxNesting; i++ {
		root := d.InsideBundle(cur)
		if root == "" || root == cur {
			return cur
		}
		cur = root
	}
	return cur
}
