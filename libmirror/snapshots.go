package libmirror

import (
	"context"
	"sort"

	"github.com/quay/zlog"

	"github.com/pkgmirror/pkgmirror"
)

// CreateSnapshot freezes a repository's current content set.
func (l *Libmirror) CreateSnapshot(ctx context.Context, repoID, name, description string) (*pkgmirror.Snapshot, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "libmirror/Libmirror.CreateSnapshot",
		"repository", repoID, "snapshot", name)
	if _, err := l.store.GetRepository(ctx, repoID); err != nil {
		return nil, err
	}
	snap, err := l.store.CreateSnapshot(ctx, repoID, name, description)
	if err != nil {
		return nil, err
	}
	zlog.Info(ctx).Int64("packages", snap.PackageCount).Msg("snapshot created")
	return snap, nil
}

// CopySnapshot creates dst as an alias of src's content set. No file
// bytes move.
func (l *Libmirror) CopySnapshot(ctx context.Context, repoID, src, dst string) (*pkgmirror.Snapshot, error) {
	return l.store.CopySnapshot(ctx, repoID, src, dst)
}

// DeleteSnapshot removes a snapshot record. Pool bytes stay until
// cleanup.
func (l *Libmirror) DeleteSnapshot(ctx context.Context, repoID, name string) error {
	return l.store.DeleteSnapshot(ctx, repoID, name)
}

// DiffSnapshots compares two snapshots of one repository. Version
// transitions for a (name, arch) present in both are classified by the
// format plugin's ordering.
func (l *Libmirror) DiffSnapshots(ctx context.Context, repoID, a, b string) (*pkgmirror.SnapshotDiff, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "libmirror/Libmirror.DiffSnapshots", "repository", repoID)
	repo, err := l.store.GetRepository(ctx, repoID)
	if err != nil {
		return nil, err
	}
	plg, err := l.pluginForType(repo.Type)
	if err != nil {
		return nil, err
	}
	sa, err := l.store.GetSnapshot(ctx, repoID, a)
	if err != nil {
		return nil, err
	}
	sb, err := l.store.GetSnapshot(ctx, repoID, b)
	if err != nil {
		return nil, err
	}
	ca, err := l.store.SnapshotContent(ctx, sa.ID)
	if err != nil {
		return nil, err
	}
	cb, err := l.store.SnapshotContent(ctx, sb.ID)
	if err != nil {
		return nil, err
	}

	type key struct{ name, arch string }
	inA := make(map[key]*pkgmirror.ContentItem, len(ca))
	aSHA := make(map[string]struct{}, len(ca))
	for i := range ca {
		it := &ca[i]
		inA[key{it.Name, it.Arch}] = it
		aSHA[it.SHA256] = struct{}{}
	}
	bSHA := make(map[string]struct{}, len(cb))
	seen := make(map[key]struct{}, len(cb))

	var diff pkgmirror.SnapshotDiff
	for i := range cb {
		it := &cb[i]
		bSHA[it.SHA256] = struct{}{}
		k := key{it.Name, it.Arch}
		seen[k] = struct{}{}
		old, ok := inA[k]
		switch {
		case !ok:
			diff.Added = append(diff.Added, *it)
		case old.Version != it.Version:
			diff.Updated = append(diff.Updated, pkgmirror.VersionChange{
				Name: it.Name,
				Arch: it.Arch,
				From: old.Version,
				To:   it.Version,
			})
		}
	}
	for i := range ca {
		it := &ca[i]
		if _, ok := seen[key{it.Name, it.Arch}]; !ok {
			diff.Removed = append(diff.Removed, *it)
		}
	}
	// Keep the updated list in the plugin's version order of the target
	// side, so reading top-down follows the upgrade direction.
	sortChanges(diff.Updated, plg.Cmp)
	return &diff, nil
}

func sortChanges(ch []pkgmirror.VersionChange, cmp func(a, b string) int) {
	sort.SliceStable(ch, func(i, j int) bool {
		if ch[i].Name != ch[j].Name {
			return ch[i].Name < ch[j].Name
		}
		return cmp(ch[i].To, ch[j].To) < 0
	})
}

// CreateViewSnapshot snapshots every member repository of a configured
// view in one transaction.
func (l *Libmirror) CreateViewSnapshot(ctx context.Context, viewName, name, description string) (*pkgmirror.ViewSnapshot, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "libmirror/Libmirror.CreateViewSnapshot",
		"view", viewName, "snapshot", name)
	view, err := l.cfg.CoreView(viewName)
	if err != nil {
		return nil, err
	}
	vs, err := l.store.CreateViewSnapshot(ctx, view, name, description)
	if err != nil {
		return nil, err
	}
	zlog.Info(ctx).Int("members", len(vs.SnapshotIDs)).Msg("view snapshot created")
	return vs, nil
}
