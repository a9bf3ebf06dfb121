// Package datastore holds the interfaces the metadata store implements.
//
// The store records which content items exist, which repositories
// reference them, snapshots, and the sync audit trail. It never holds
// file bytes; those live in the pool.
package datastore

import (
	"context"

	"github.com/pkgmirror/pkgmirror"
)

// RepositoryStore persists repository records.
type RepositoryStore interface {
	// UpsertRepository inserts r or updates the stored row to match it.
	UpsertRepository(ctx context.Context, r *pkgmirror.Repository) error
	// GetRepository returns the repository with the given ID, or
	// ErrNotFound.
	GetRepository(ctx context.Context, id string) (*pkgmirror.Repository, error)
	ListRepositories(ctx context.Context) ([]pkgmirror.Repository, error)
	// SetLastSync records a successful sync time.
	SetLastSync(ctx context.Context, id string, at int64) error
}

// ContentStore persists content items and their repository links.
type ContentStore interface {
	// UpsertContentItems inserts the items that are new and reports how
	// many were created. Existing rows (same SHA256) are left untouched;
	// items are immutable.
	UpsertContentItems(ctx context.Context, items []pkgmirror.ContentItem) (created int64, err error)
	// GetContent returns the item with the given digest, or ErrNotFound.
	GetContent(ctx context.Context, sha256 string) (*pkgmirror.ContentItem, error)
	// FindContent looks an item up by coordinates rather than digest.
	// Used for formats whose upstream indexes publish no SHA-256.
	FindContent(ctx context.Context, typ pkgmirror.ContentType, name, version, arch string) (*pkgmirror.ContentItem, error)

	// LinkContent associates digests with a repository. Already-linked
	// digests are ignored.
	LinkContent(ctx context.Context, repoID string, sha256s []string) error
	// UnlinkContent removes links; the items themselves stay, and any
	// snapshot referencing them keeps them reachable.
	UnlinkContent(ctx context.Context, repoID string, sha256s []string) error
	ListRepositoryContent(ctx context.Context, repoID string) ([]pkgmirror.ContentItem, error)
	// LinkedDigests returns just the digests linked to a repository,
	// for presence checks during sync.
	LinkedDigests(ctx context.Context, repoID string) (map[string]struct{}, error)

	// ReplaceRepositoryFiles swaps the repository's mirror-mode file set
	// in one transaction.
	ReplaceRepositoryFiles(ctx context.Context, repoID string, files []pkgmirror.RepositoryFile) error
	ListRepositoryFiles(ctx context.Context, repoID string) ([]pkgmirror.RepositoryFile, error)
}

// SnapshotStore persists snapshots and view snapshots.
type SnapshotStore interface {
	// CreateSnapshot freezes the repository's current content set under
	// the given name. A name collision within the repository returns
	// ErrDuplicateSnapshot.
	CreateSnapshot(ctx context.Context, repoID, name, description string) (*pkgmirror.Snapshot, error)
	GetSnapshot(ctx context.Context, repoID, name string) (*pkgmirror.Snapshot, error)
	ListSnapshots(ctx context.Context, repoID string) ([]pkgmirror.Snapshot, error)
	// SnapshotContent returns the frozen item set.
	SnapshotContent(ctx context.Context, id int64) ([]pkgmirror.ContentItem, error)
	// CopySnapshot creates dst referencing the same items as src.
	// No file bytes move.
	CopySnapshot(ctx context.Context, repoID, src, dst string) (*pkgmirror.Snapshot, error)
	// DeleteSnapshot removes the snapshot record and its references.
	// Pool files are untouched until cleanup runs.
	DeleteSnapshot(ctx context.Context, repoID, name string) error

	// CreateViewSnapshot snapshots every member repository and the view
	// record itself in one transaction; a failure on any member leaves
	// nothing behind.
	CreateViewSnapshot(ctx context.Context, view *pkgmirror.View, name, description string) (*pkgmirror.ViewSnapshot, error)
	GetViewSnapshot(ctx context.Context, viewName, name string) (*pkgmirror.ViewSnapshot, error)
	ListViewSnapshots(ctx context.Context, viewName string) ([]pkgmirror.ViewSnapshot, error)
	DeleteViewSnapshot(ctx context.Context, viewName, name string) error
}

// SyncStore persists the sync audit trail.
type SyncStore interface {
	// RecordSyncRun inserts the run, or updates it if the ID exists.
	// Called once when a run opens and once when it closes.
	RecordSyncRun(ctx context.Context, run *pkgmirror.SyncRun) error
	ListSyncRuns(ctx context.Context, repoID string, limit int) ([]pkgmirror.SyncRun, error)
}

// Stats summarizes the store for reporting.
type Stats struct {
	Repositories  int64
	ContentItems  int64
	ContentBytes  int64
	Snapshots     int64
	ViewSnapshots int64
	SyncRuns      int64
}

// MetaStore is the full metadata store.
type MetaStore interface {
	RepositoryStore
	ContentStore
	SnapshotStore
	SyncStore

	// Init creates or upgrades the schema.
	Init(ctx context.Context) error

	// Referenced returns every digest any repository, snapshot, or
	// mirror-mode file set still references. The pool's cleanup keeps
	// exactly these.
	Referenced(ctx context.Context) (map[string]struct{}, error)
	Stats(ctx context.Context) (*Stats, error)
	Close() error
}
