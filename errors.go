package pkgmirror

import (
	"errors"
	"fmt"
)

// Error kinds distinguished by the engine. Callers test with [errors.Is];
// wrapping layers add context with fmt.Errorf and the %w verb.
var (
	// ErrConfigInvalid marks bad or semantically inconsistent
	// configuration, e.g. a mirror-mode repository carrying filters.
	// Always fatal for the command.
	ErrConfigInvalid = errors.New("invalid configuration")
	// ErrFetchFailed marks a network or HTTP failure that survived the
	// retry budget. Per-item; the sync continues with other items.
	ErrFetchFailed = errors.New("fetch failed")
	// ErrChecksumMismatch marks a download whose computed sha256 differs
	// from the expected value. The temp file is deleted and no pool entry
	// is created.
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// ErrPoolIO marks a failed rename, hardlink, or unlink in the pool.
	ErrPoolIO = errors.New("pool i/o failed")
	// ErrCrossDevice marks a hardlink attempt across filesystems. Not
	// recoverable; the operator must co-locate pool and publish roots.
	ErrCrossDevice = errors.New("pool and destination on different filesystems")
	// ErrDuplicateSnapshot marks a (repository, name) collision.
	ErrDuplicateSnapshot = errors.New("snapshot name already exists")
	// ErrNotFound marks a missing repository, snapshot, view, or item.
	ErrNotFound = errors.New("not found")
	// ErrUpstreamParse marks malformed upstream metadata
	// (repomd.xml, InRelease, index.yaml, APKINDEX). Fails the sync.
	ErrUpstreamParse = errors.New("unable to parse upstream metadata")
)

// ItemError records the failure of a single candidate during a sync. The
// engine aggregates these; one ItemError never aborts the run.
type ItemError struct {
	// NEVRA or the format's closest equivalent identity string.
	Item string
	Err  error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("%s: %v", e.Item, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }
