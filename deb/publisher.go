package deb

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/quay/zlog"
	"github.com/ulikunitz/xz"

	"github.com/pkgmirror/pkgmirror"
	"github.com/pkgmirror/pkgmirror/driver"
)

// Publish implements driver.Publisher.
//
// Packages are hardlinked into the pool/ layout and per-architecture
// Packages indexes (plain, gz, xz) are regenerated together with a
// Release whose SHA256 stanza lists every generated index. Nothing is
// signed.
func (p *Plugin) Publish(ctx context.Context, items []pkgmirror.ContentItem, link driver.LinkFunc, dir string) error {
	ctx = zlog.ContextWithValues(ctx, "component", "deb/Plugin.Publish", "dist", p.cfg.Dist)

	type located struct {
		item *pkgmirror.ContentItem
		path string // archive-relative
	}
	byArch := make(map[string][]located)
	comps := make(map[string]struct{})
	for i := range items {
		it := &items[i]
		comp := it.Metadata["component"]
		if comp == "" {
			comp = "main"
		}
		comps[comp] = struct{}{}
		src := it.Metadata["Source"]
		if src == "" {
			src = it.Name
		}
		// Source fields may carry a version qualifier ("src (1.2)").
		if i := strings.IndexByte(src, ' '); i > 0 {
			src = src[:i]
		}
		rel := "pool/" + comp + "/" + poolLetter(src) + "/" + src + "/" + it.Filename
		if err := link(it.SHA256, it.Filename, filepath.Join(dir, filepath.FromSlash(rel))); err != nil {
			return fmt.Errorf("deb: linking %s: %w", it.Filename, err)
		}

		arches := []string{it.Arch}
		if it.Arch == "all" || it.Arch == "" {
			arches = p.cfg.Architectures
		}
		for _, a := range arches {
			byArch[a] = append(byArch[a], located{item: it, path: rel})
		}
	}

	distDir := filepath.Join(dir, "dists", p.cfg.Dist)
	var stanza []releaseFile
	arches := p.cfg.Architectures
	for _, arch := range arches {
		locs := byArch[arch]
		sort.Slice(locs, func(i, j int) bool { return locs[i].item.Name < locs[j].item.Name })
		for _, comp := range p.cfg.Components {
			var buf bytes.Buffer
			for _, l := range locs {
				c := l.item.Metadata["component"]
				if c == "" {
					c = "main"
				}
				if c != comp {
					continue
				}
				writeParagraph(&buf, l.item, l.path)
			}
			files, err := writeIndexes(distDir, comp+"/binary-"+arch, buf.Bytes())
			if err != nil {
				return err
			}
			stanza = append(stanza, files...)
		}
	}

	if err := writeRelease(distDir, p.cfg.Dist, p.cfg.Components, arches, stanza); err != nil {
		return err
	}
	zlog.Info(ctx).Int("packages", len(items)).Msg("published")
	return nil
}

func writeParagraph(buf *bytes.Buffer, it *pkgmirror.ContentItem, path string) {
	fmt.Fprintf(buf, "Package: %s\n", it.Name)
	fmt.Fprintf(buf, "Version: %s\n", it.Version)
	if it.Arch != "" {
		fmt.Fprintf(buf, "Architecture: %s\n", it.Arch)
	}
	for _, k := range []string{"Maintainer", "Source", "Section", "Priority", "Depends", "Homepage"} {
		if v := it.Metadata[k]; v != "" {
			fmt.Fprintf(buf, "%s: %s\n", k, v)
		}
	}
	fmt.Fprintf(buf, "Filename: %s\n", path)
	fmt.Fprintf(buf, "Size: %d\n", it.Size)
	fmt.Fprintf(buf, "SHA256: %s\n", it.SHA256)
	if v := it.Metadata["Description"]; v != "" {
		fmt.Fprintf(buf, "Description: %s\n", v)
	}
	buf.WriteByte('\n')
}

// writeIndexes writes Packages, Packages.gz, and Packages.xz under
// distDir/rel and returns their release-stanza entries.
func writeIndexes(distDir, rel string, plain []byte) ([]releaseFile, error) {
	outDir := filepath.Join(distDir, filepath.FromSlash(rel))
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("deb: %w", err)
	}

	var gzBuf bytes.Buffer
	zw := gzip.NewWriter(&gzBuf)
	if _, err := zw.Write(plain); err != nil {
		return nil, fmt.Errorf("deb: gzip: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("deb: gzip: %w", err)
	}

	var xzBuf bytes.Buffer
	xw, err := xz.NewWriter(&xzBuf)
	if err != nil {
		return nil, fmt.Errorf("deb: xz: %w", err)
	}
	if _, err := xw.Write(plain); err != nil {
		return nil, fmt.Errorf("deb: xz: %w", err)
	}
	if err := xw.Close(); err != nil {
		return nil, fmt.Errorf("deb: xz: %w", err)
	}

	var out []releaseFile
	for _, f := range []struct {
		name string
		b    []byte
	}{
		{"Packages", plain},
		{"Packages.gz", gzBuf.Bytes()},
		{"Packages.xz", xzBuf.Bytes()},
	} {
		if err := os.WriteFile(filepath.Join(outDir, f.name), f.b, 0o644); err != nil {
			return nil, fmt.Errorf("deb: writing %s: %w", f.name, err)
		}
		sum := sha256.Sum256(f.b)
		out = append(out, releaseFile{
			SHA256: hex.EncodeToString(sum[:]),
			Size:   int64(len(f.b)),
			Path:   rel + "/" + f.name,
		})
	}
	return out, nil
}

func writeRelease(distDir, dist string, comps, arches []string, stanza []releaseFile) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Codename: %s\n", dist)
	fmt.Fprintf(&buf, "Suite: %s\n", dist)
	fmt.Fprintf(&buf, "Components: %s\n", strings.Join(comps, " "))
	fmt.Fprintf(&buf, "Architectures: %s\n", strings.Join(arches, " "))
	fmt.Fprintf(&buf, "Date: %s\n", time.Now().UTC().Format(time.RFC1123Z))
	buf.WriteString("SHA256:\n")
	for _, f := range stanza {
		fmt.Fprintf(&buf, " %s %16d %s\n", f.SHA256, f.Size, f.Path)
	}
	if err := os.WriteFile(filepath.Join(distDir, "Release"), buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("deb: writing Release: %w", err)
	}
	return nil
}
