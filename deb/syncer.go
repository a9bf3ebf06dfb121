package deb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/quay/zlog"
	"github.com/ulikunitz/xz"

	"github.com/pkgmirror/pkgmirror"
	"github.com/pkgmirror/pkgmirror/driver"
	"github.com/pkgmirror/pkgmirror/fetcher"
)

// FetchIndex implements driver.Syncer.
//
// The release document is taken from dists/<dist>/InRelease, falling
// back to Release (+ Release.gpg). Packages indexes are fetched per
// (component, architecture) preferring the gz variant, then xz, then
// plain.
func (p *Plugin) FetchIndex(ctx context.Context, feed string, mode pkgmirror.Mode, prev driver.Fingerprint) (*driver.IndexResult, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "deb/Plugin.FetchIndex", "feed", feed, "dist", p.cfg.Dist)
	distDir := "dists/" + p.cfg.Dist + "/"

	relName := "InRelease"
	body, fp, err := fetcher.Conditional(ctx, p.client, mustJoin(feed, distDir+relName), prev)
	switch {
	case errors.Is(err, driver.Unchanged):
		return nil, err
	case err != nil:
		relName = "Release"
		body, fp, err = fetcher.Conditional(ctx, p.client, mustJoin(feed, distDir+relName), prev)
		if err != nil {
			return nil, fmt.Errorf("deb: fetching release: %w", err)
		}
	}
	rel, perr := parseRelease(body)
	body.Close()
	if perr != nil {
		return nil, perr
	}

	res := &driver.IndexResult{Fingerprint: fp}
	seen := make(map[string]struct{})
	for _, comp := range p.cfg.Components {
		for _, arch := range p.cfg.Architectures {
			cands, err := p.fetchPackages(ctx, feed, distDir, comp, arch)
			if err != nil {
				return nil, err
			}
			for _, c := range cands {
				// The same .deb can be listed for several
				// architectures ("all" packages); one candidate per
				// sha is enough.
				if _, ok := seen[c.Item.SHA256]; ok {
					continue
				}
				seen[c.Item.SHA256] = struct{}{}
				res.Candidates = append(res.Candidates, c)
			}
		}
	}
	zlog.Info(ctx).Int("packages", len(res.Candidates)).Msg("parsed packages indexes")

	if mode == pkgmirror.Mirror {
		res.Files = mirrorFiles(rel, relName, distDir)
	}
	return res, nil
}

func (p *Plugin) fetchPackages(ctx context.Context, feed, distDir, comp, arch string) ([]driver.Candidate, error) {
	base := distDir + comp + "/binary-" + arch + "/Packages"
	for _, suffix := range []string{".gz", ".xz", ""} {
		body, _, err := fetcher.Conditional(ctx, p.client, mustJoin(feed, base+suffix), "")
		if err != nil {
			continue
		}
		var r io.Reader = body
		switch suffix {
		case ".gz":
			zr, zerr := gzip.NewReader(body)
			if zerr != nil {
				body.Close()
				return nil, fmt.Errorf("deb: %w: gzip: %w", pkgmirror.ErrUpstreamParse, zerr)
			}
			r = zr
		case ".xz":
			xr, xerr := xz.NewReader(body)
			if xerr != nil {
				body.Close()
				return nil, fmt.Errorf("deb: %w: xz: %w", pkgmirror.ErrUpstreamParse, xerr)
			}
			r = xr
		}
		cands, perr := parsePackages(r, comp)
		body.Close()
		if perr != nil {
			return nil, perr
		}
		return cands, nil
	}
	return nil, fmt.Errorf("deb: %w: no Packages index for %s/%s", pkgmirror.ErrFetchFailed, comp, arch)
}

// mirrorFiles enumerates the release documents themselves plus every
// file the SHA256 stanza lists, paths preserved relative to the archive
// root.
func mirrorFiles(rel *release, relName, distDir string) []driver.FileCandidate {
	out := []driver.FileCandidate{{
		File: pkgmirror.RepositoryFile{
			Category:     "metadata",
			FileType:     strings.ToLower(relName),
			OriginalPath: distDir + relName,
		},
		Href: distDir + relName,
	}}
	if relName == "Release" {
		out = append(out, driver.FileCandidate{
			File: pkgmirror.RepositoryFile{
				Category:     "signature",
				FileType:     "release.gpg",
				OriginalPath: distDir + "Release.gpg",
			},
			Href: distDir + "Release.gpg",
		})
	}
	for _, f := range rel.Files {
		if !pkgmirror.ValidSHA256(f.SHA256) {
			continue
		}
		out = append(out, driver.FileCandidate{
			File: pkgmirror.RepositoryFile{
				SHA256:       f.SHA256,
				Size:         f.Size,
				Category:     "metadata",
				FileType:     indexType(f.Path),
				OriginalPath: distDir + f.Path,
			},
			Href: distDir + f.Path,
		})
	}
	return out
}

// indexType classifies a release-listed path. The set is open; new
// upstream layouts only add strings.
func indexType(p string) string {
	base := basename(p)
	switch {
	case strings.Contains(p, "by-hash/"):
		return "by-hash"
	case strings.HasPrefix(base, "Packages"):
		return "packages"
	case strings.HasPrefix(base, "Sources"):
		return "sources"
	case strings.HasPrefix(base, "Contents-"):
		return "contents"
	case strings.HasPrefix(base, "Translation-"):
		return "translation"
	case strings.HasPrefix(base, "Release"):
		return "release"
	}
	return "index"
}

func mustJoin(feed, rel string) string {
	u, err := url.Parse(feed)
	if err != nil {
		return feed + "/" + rel
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	ref, err := u.Parse(rel)
	if err != nil {
		return feed + "/" + rel
	}
	return ref.String()
}
