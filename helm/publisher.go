package helm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/quay/zlog"
	"gopkg.in/yaml.v3"

	"github.com/pkgmirror/pkgmirror"
	"github.com/pkgmirror/pkgmirror/driver"
)

// Publish implements driver.Publisher.
//
// Chart tarballs are hardlinked flat into the target and index.yaml is
// regenerated with relative URLs so the tree is self-contained.
func (p *Plugin) Publish(ctx context.Context, items []pkgmirror.ContentItem, link driver.LinkFunc, dir string) error {
	ctx = zlog.ContextWithValues(ctx, "component", "helm/Plugin.Publish")

	idx := chartIndex{
		APIVersion: "v1",
		Generated:  time.Now().UTC(),
		Entries:    make(map[string][]chartVersion),
	}
	for i := range items {
		it := &items[i]
		if err := link(it.SHA256, it.Filename, filepath.Join(dir, it.Filename)); err != nil {
			return fmt.Errorf("helm: linking %s: %w", it.Filename, err)
		}
		idx.Entries[it.Name] = append(idx.Entries[it.Name], chartVersion{
			Name:        it.Name,
			Version:     it.Version,
			AppVersion:  it.Metadata["app_version"],
			Description: it.Metadata["description"],
			Digest:      it.SHA256,
			URLs:        []string{it.Filename},
			Created:     it.CreatedAt,
		})
	}
	for _, versions := range idx.Entries {
		sort.Slice(versions, func(i, j int) bool {
			return p.Cmp(versions[i].Version, versions[j].Version) > 0
		})
	}

	b, err := yaml.Marshal(&idx)
	if err != nil {
		return fmt.Errorf("helm: marshaling index: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "index.yaml"), b, 0o644); err != nil {
		return fmt.Errorf("helm: writing index.yaml: %w", err)
	}
	zlog.Info(ctx).Int("charts", len(items)).Msg("published")
	return nil
}
