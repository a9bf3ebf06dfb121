package libmirror

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/quay/zlog"

	"github.com/pkgmirror/pkgmirror"
	"github.com/pkgmirror/pkgmirror/config"
	"github.com/pkgmirror/pkgmirror/pool"
)

// PublishRepository lays the repository's current content out under
// published/<repo>/latest.
func (l *Libmirror) PublishRepository(ctx context.Context, rc *config.Repository) error {
	ctx = zlog.ContextWithValues(ctx, "component", "libmirror/Libmirror.PublishRepository", "repository", rc.ID)
	items, err := l.store.ListRepositoryContent(ctx, rc.ID)
	if err != nil {
		return err
	}
	target := filepath.Join(l.cfg.Storage.PublishedPath, rc.ID, "latest")
	if pkgmirror.Mode(rc.Mode) == pkgmirror.Mirror {
		files, err := l.store.ListRepositoryFiles(ctx, rc.ID)
		if err != nil {
			return err
		}
		return l.stagePublish(ctx, target, func(stage string) error {
			return l.mirrorPublish(ctx, items, files, stage)
		})
	}
	plg, err := l.plugin(rc)
	if err != nil {
		return err
	}
	return l.stagePublish(ctx, target, func(stage string) error {
		return plg.Publish(ctx, items, l.contentLink, stage)
	})
}

// PublishSnapshot lays a snapshot out under
// published/<repo>/snapshots/<name>.
func (l *Libmirror) PublishSnapshot(ctx context.Context, rc *config.Repository, name string) error {
	ctx = zlog.ContextWithValues(ctx, "component", "libmirror/Libmirror.PublishSnapshot",
		"repository", rc.ID, "snapshot", name)
	snap, err := l.store.GetSnapshot(ctx, rc.ID, name)
	if err != nil {
		return err
	}
	items, err := l.store.SnapshotContent(ctx, snap.ID)
	if err != nil {
		return err
	}
	plg, err := l.plugin(rc)
	if err != nil {
		return err
	}
	target := filepath.Join(l.cfg.Storage.PublishedPath, rc.ID, "snapshots", name)
	return l.stagePublish(ctx, target, func(stage string) error {
		return plg.Publish(ctx, items, l.contentLink, stage)
	})
}

// PublishView publishes the union of the members' current content under
// published/views/<view>/latest. Duplicates across members are kept;
// client-side repository priority resolves them.
func (l *Libmirror) PublishView(ctx context.Context, viewName string) error {
	ctx = zlog.ContextWithValues(ctx, "component", "libmirror/Libmirror.PublishView", "view", viewName)
	view, err := l.cfg.CoreView(viewName)
	if err != nil {
		return err
	}
	var items []pkgmirror.ContentItem
	for _, repoID := range view.Repositories {
		part, err := l.store.ListRepositoryContent(ctx, repoID)
		if err != nil {
			return err
		}
		items = append(items, part...)
	}
	plg, err := l.pluginForType(view.Type)
	if err != nil {
		return err
	}
	target := filepath.Join(l.cfg.Storage.PublishedPath, "views", viewName, "latest")
	return l.stagePublish(ctx, target, func(stage string) error {
		return plg.Publish(ctx, items, l.contentLink, stage)
	})
}

// PublishViewSnapshot publishes a bundled view snapshot under
// published/views/<view>/snapshots/<name>.
func (l *Libmirror) PublishViewSnapshot(ctx context.Context, viewName, name string) error {
	ctx = zlog.ContextWithValues(ctx, "component", "libmirror/Libmirror.PublishViewSnapshot",
		"view", viewName, "snapshot", name)
	view, err := l.cfg.CoreView(viewName)
	if err != nil {
		return err
	}
	vs, err := l.store.GetViewSnapshot(ctx, viewName, name)
	if err != nil {
		return err
	}
	var items []pkgmirror.ContentItem
	for _, id := range vs.SnapshotIDs {
		part, err := l.store.SnapshotContent(ctx, id)
		if err != nil {
			return err
		}
		items = append(items, part...)
	}
	plg, err := l.pluginForType(view.Type)
	if err != nil {
		return err
	}
	target := filepath.Join(l.cfg.Storage.PublishedPath, "views", viewName, "snapshots", name)
	return l.stagePublish(ctx, target, func(stage string) error {
		return plg.Publish(ctx, items, l.contentLink, stage)
	})
}

// contentLink is the LinkFunc handed to format publishers.
func (l *Libmirror) contentLink(sha256, filename, dst string) error {
	return l.pool.Link(pool.Content, sha256, filename, dst)
}

// mirrorPublish hardlinks every item and repository file at its
// upstream-relative path. Metadata is never regenerated; signatures come
// through byte-identical.
func (l *Libmirror) mirrorPublish(ctx context.Context, items []pkgmirror.ContentItem, files []pkgmirror.RepositoryFile, stage string) error {
	for i := range items {
		it := &items[i]
		pp := it.Metadata["publish_path"]
		if pp == "" {
			pp = it.Filename
		}
		if err := l.pool.Link(pool.Content, it.SHA256, it.Filename, filepath.Join(stage, filepath.FromSlash(pp))); err != nil {
			return fmt.Errorf("libmirror: linking %s: %w", pp, err)
		}
	}
	for i := range files {
		f := &files[i]
		if f.SHA256 == "" {
			continue
		}
		dst := filepath.Join(stage, filepath.FromSlash(f.OriginalPath))
		if err := l.pool.Link(pool.Files, f.SHA256, f.Basename(), dst); err != nil {
			return fmt.Errorf("libmirror: linking %s: %w", f.OriginalPath, err)
		}
	}
	return nil
}

// stagePublish builds the tree in a sibling temp directory and makes it
// live with renames. On any failure the previous published tree is left
// intact.
func (l *Libmirror) stagePublish(ctx context.Context, target string, build func(stage string) error) error {
	stage := target + ".tmp." + pid()
	if err := os.MkdirAll(stage, 0o755); err != nil {
		return fmt.Errorf("libmirror: %w: %w", pkgmirror.ErrPoolIO, err)
	}
	if err := build(stage); err != nil {
		os.RemoveAll(stage)
		return err
	}

	old := target + ".old." + pid()
	hadOld := false
	switch _, err := os.Stat(target); {
	case err == nil:
		if err := os.Rename(target, old); err != nil {
			os.RemoveAll(stage)
			return fmt.Errorf("libmirror: %w: staging old tree: %w", pkgmirror.ErrPoolIO, err)
		}
		hadOld = true
	case !errors.Is(err, fs.ErrNotExist):
		os.RemoveAll(stage)
		return fmt.Errorf("libmirror: %w: %w", pkgmirror.ErrPoolIO, err)
	}
	if err := os.Rename(stage, target); err != nil {
		if hadOld {
			os.Rename(old, target)
		}
		os.RemoveAll(stage)
		return fmt.Errorf("libmirror: %w: activating publish: %w", pkgmirror.ErrPoolIO, err)
	}
	if hadOld {
		os.RemoveAll(old)
	}
	zlog.Info(ctx).Str("target", target).Msg("published")
	return nil
}
