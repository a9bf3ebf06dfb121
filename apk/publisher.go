package apk

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/quay/zlog"

	"github.com/pkgmirror/pkgmirror"
	"github.com/pkgmirror/pkgmirror/driver"
)

// Publish implements driver.Publisher.
//
// Packages are hardlinked under per-architecture directories and an
// APKINDEX.tar.gz is regenerated for each. The regenerated index is
// unsigned; clients need --allow-untrusted or an out-of-band key
// arrangement.
func (p *Plugin) Publish(ctx context.Context, items []pkgmirror.ContentItem, link driver.LinkFunc, dir string) error {
	ctx = zlog.ContextWithValues(ctx, "component", "apk/Plugin.Publish")

	byArch := make(map[string][]indexEntry)
	for i := range items {
		it := &items[i]
		arch := it.Arch
		if arch == "" {
			arch = "noarch"
		}
		if err := os.MkdirAll(filepath.Join(dir, arch), 0o755); err != nil {
			return fmt.Errorf("apk: %w: %w", pkgmirror.ErrPoolIO, err)
		}
		if err := link(it.SHA256, it.Filename, filepath.Join(dir, arch, it.Filename)); err != nil {
			return fmt.Errorf("apk: linking %s: %w", it.Filename, err)
		}
		byArch[arch] = append(byArch[arch], indexEntry{
			Checksum:      it.Metadata["apk_checksum"],
			Name:          it.Name,
			Version:       it.Version,
			Arch:          arch,
			Size:          it.Size,
			InstalledSize: it.Metadata["installed_size"],
			Description:   it.Metadata["description"],
			URL:           it.Metadata["url"],
			License:       it.Metadata["license"],
			Origin:        it.Metadata["origin"],
			Maintainer:    it.Metadata["maintainer"],
			BuildTime:     it.Metadata["build_time"],
			Commit:        it.Metadata["commit"],
			Depends:       it.Metadata["depends"],
			Provides:      it.Metadata["provides"],
		})
	}

	for arch, entries := range byArch {
		sort.Slice(entries, func(i, j int) bool {
			if entries[i].Name != entries[j].Name {
				return entries[i].Name < entries[j].Name
			}
			return p.Cmp(entries[i].Version, entries[j].Version) < 0
		})
		f, err := os.Create(filepath.Join(dir, arch, "APKINDEX.tar.gz"))
		if err != nil {
			return fmt.Errorf("apk: %w: %w", pkgmirror.ErrPoolIO, err)
		}
		err = writeIndex(f, "pkgmirror "+arch+"\n", entries)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("apk: writing %s index: %w", arch, err)
		}
	}
	zlog.Info(ctx).Int("packages", len(items)).Int("arches", len(byArch)).Msg("published")
	return nil
}
