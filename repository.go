package pkgmirror

import "time"

// Mode selects how a repository is synced and published.
type Mode string

const (
	// Filtered syncs a selected subset of upstream packages and
	// regenerates repository metadata at publish time.
	Filtered Mode = "filtered"
	// Mirror syncs every file the upstream release metadata enumerates
	// and republishes it byte-for-byte.
	Mirror Mode = "mirror"
)

// RetentionPolicy controls what happens to items that disappear from (or
// are superseded in) the upstream candidate set.
type RetentionPolicy string

const (
	// RetainMirror unlinks everything not in the current upstream set.
	RetainMirror RetentionPolicy = "mirror"
	// RetainNewestOnly unlinks items superseded by a newer version still
	// present upstream.
	RetainNewestOnly RetentionPolicy = "newest-only"
	// RetainAll never unlinks.
	RetainAll RetentionPolicy = "keep-all"
	// RetainLastN keeps the N highest versions per (name, arch).
	RetainLastN RetentionPolicy = "keep-last-n"
)

// Repository is a named upstream source.
type Repository struct {
	// ID is the operator-chosen identifier from configuration.
	ID      string      `json:"id"`
	Name    string      `json:"name"`
	Type    ContentType `json:"type"`
	Feed    string      `json:"feed_url"`
	Enabled bool        `json:"enabled"`
	Mode    Mode        `json:"mode"`
	// LastSync is the zero Time until the first successful sync.
	LastSync time.Time `json:"last_sync_at,omitempty"`
}

// View is a configured, ordered list of repositories of one type,
// published as a single repository.
//
// Views live in configuration; publishing one does not persist its member
// set in the store.
type View struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Type        ContentType `json:"repo_type"`
	// Repositories is ordered; order is the client-side priority order
	// and the publish order.
	Repositories []string `json:"repositories"`
}
