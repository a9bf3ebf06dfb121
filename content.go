// Package pkgmirror holds the core types shared by the pool, the metadata
// store, the format plugins, and the orchestrators in libmirror.
package pkgmirror

import "time"

// ContentType reports the format a ContentItem belongs to.
type ContentType string

// Known content types. The store accepts values outside this set; plugins
// own the vocabulary.
const (
	TypeRPM  ContentType = "rpm"
	TypeDEB  ContentType = "deb"
	TypeHelm ContentType = "helm"
	TypeAPK  ContentType = "apk"
)

// ContentItem is a single addressable artifact: an RPM, a .deb, a chart
// tarball, an .apk.
//
// SHA256 is the item's identity. Two items with the same SHA256 are the
// same item, no matter how many repositories or snapshots reference them.
// Items are immutable after creation.
type ContentItem struct {
	// SHA256 is the lowercase hex digest of the file's bytes.
	SHA256 string `json:"sha256"`
	// Filename is the original upstream basename.
	Filename string `json:"filename"`
	Size     int64  `json:"size_bytes"`
	// Type is the repository format that produced this item.
	Type    ContentType `json:"content_type"`
	Name    string      `json:"name"`
	Version string      `json:"version"`
	Arch    string      `json:"arch,omitempty"`
	// Metadata carries type-specific keys. The set is open; plugins
	// validate their own schema on write.
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// RepositoryFile is a non-package file captured during a mirror-mode sync:
// upstream metadata, signatures, installer images, and the like.
//
// OriginalPath is the exact upstream-relative path, preserved verbatim so
// the publisher can reconstruct the upstream layout.
type RepositoryFile struct {
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size_bytes"`
	// Category is a coarse grouping ("metadata", "signature", ...).
	Category string `json:"file_category"`
	// FileType is the upstream's own name for the file's role, recorded
	// verbatim. It is deliberately a free string: new upstream types
	// ("susedata", "by-hash", ...) must not require a schema change.
	FileType     string            `json:"file_type"`
	OriginalPath string            `json:"original_path"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Basename returns the final element of the file's original path.
func (f *RepositoryFile) Basename() string {
	p := f.OriginalPath
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[i+1:]
		}
	}
	return p
}
