package pkgmirror

import "time"

// Snapshot is an immutable, named point-in-time subset of one repository.
// Its content set never changes after creation.
type Snapshot struct {
	ID           int64     `json:"id"`
	RepositoryID string    `json:"repository_id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	PackageCount int64     `json:"package_count"`
	TotalSize    int64     `json:"total_size_bytes"`
}

// ViewSnapshot bundles one snapshot per member repository of a view,
// created atomically.
type ViewSnapshot struct {
	ID       int64  `json:"id"`
	ViewName string `json:"view_name"`
	Name     string `json:"name"`
	// SnapshotIDs is ordered to match the view's repository order.
	SnapshotIDs  []int64   `json:"snapshot_ids"`
	Description  string    `json:"description,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	PackageCount int64     `json:"package_count"`
	TotalSize    int64     `json:"total_size_bytes"`
}

// VersionChange is one entry in the "updated" set of a snapshot diff: a
// (name, arch) pair whose version differs between the two snapshots.
type VersionChange struct {
	Name string `json:"name"`
	Arch string `json:"arch"`
	From string `json:"from"`
	To   string `json:"to"`
}

// SnapshotDiff is the result of comparing two snapshots of one repository.
type SnapshotDiff struct {
	Added   []ContentItem   `json:"added"`
	Removed []ContentItem   `json:"removed"`
	Updated []VersionChange `json:"updated"`
}
