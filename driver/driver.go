// Package driver holds the contracts format plugins implement.
//
// A format plugin supplies two roles sharing one notion of item identity
// and version order: a Syncer that turns an upstream index into candidate
// items, and a Publisher that lays a set of pooled items back out as a
// valid repository of that format.
package driver

import (
	"context"
	"errors"

	"github.com/pkgmirror/pkgmirror"
)

// Fingerprint is an opaque, plugin-defined value describing the upstream
// state at fetch time, typically derived from ETag or Last-Modified
// headers. Passing a previous run's fingerprint lets a Syncer short-cut
// with Unchanged.
type Fingerprint string

// Unchanged is returned from FetchIndex when the upstream reports the
// index has not changed since the fingerprint was taken.
var Unchanged = errors.New("driver: index unchanged")

// Candidate is one package a Syncer found upstream.
type Candidate struct {
	Item pkgmirror.ContentItem
	// Href is the download location, relative to the repository feed
	// unless absolute.
	Href string
	// PublishPath is the upstream-relative path the item occupies in
	// mirror-mode publishes (usually equal to Href).
	PublishPath string
}

// FileCandidate is one non-package file a Syncer enumerated in mirror
// mode.
type FileCandidate struct {
	File pkgmirror.RepositoryFile
	Href string
}

// IndexResult is everything one FetchIndex call learned.
type IndexResult struct {
	Candidates []Candidate
	// Files is populated in mirror mode only: every file the upstream
	// release metadata enumerates, with original paths preserved.
	Files []FileCandidate
	// Fingerprint reflects the upstream state the result was taken from.
	Fingerprint Fingerprint
}

// Syncer fetches and parses one upstream repository index.
type Syncer interface {
	// Name reports the plugin name, e.g. "rpm".
	Name() string
	// FetchIndex retrieves the upstream index for feed and parses it
	// into candidates. In mirror mode it additionally enumerates every
	// repository file. A fingerprint from a previous run may allow the
	// fetch to return Unchanged without a body.
	FetchIndex(ctx context.Context, feed string, mode pkgmirror.Mode, prev Fingerprint) (*IndexResult, error)
	// Cmp compares two version strings by the format's ordering rules.
	// It returns a value <0, 0, or >0, in the manner of strings.Compare.
	Cmp(a, b string) int
}

// LinkFunc hardlinks the pooled item with the given sha256 and filename
// to dst. Publishers receive one so they never touch the pool directly.
type LinkFunc func(sha256, filename, dst string) error

// Publisher materializes items into a format-correct repository tree.
type Publisher interface {
	// Publish hardlinks every item under dir and regenerates the
	// format's repository metadata to describe exactly that set.
	// dir is a staging directory; the caller makes it live atomically.
	Publish(ctx context.Context, items []pkgmirror.ContentItem, link LinkFunc, dir string) error
}

// Plugin is the full per-format capability set.
type Plugin interface {
	Syncer
	Publisher
}
