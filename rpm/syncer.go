package rpm

import (
	"context"
	"encoding/xml"
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
// It retrieves repodata/repomd.xml, follows the primary entry, and parses
// the package list. In mirror mode every repomd data entry is additionally
// reported as a repository file with its upstream-relative path preserved.
func (p *Plugin) FetchIndex(ctx context.Context, feed string, mode pkgmirror.Mode, prev driver.Fingerprint) (*driver.IndexResult, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "rpm/Plugin.FetchIndex", "feed", feed)

	mdURL, err := joinURL(feed, "repodata/repomd.xml")
	if err != nil {
		return nil, err
	}
	body, fp, err := fetcher.Conditional(ctx, p.client, mdURL, prev)
	if err != nil {
		// Includes driver.Unchanged.
		return nil, err
	}
	defer body.Close()

	var md repoMD
	if err := xml.NewDecoder(body).Decode(&md); err != nil {
		return nil, fmt.Errorf("rpm: %w: repomd.xml: %w", pkgmirror.ErrUpstreamParse, err)
	}

	var primary *repoMDData
	for i := range md.Data {
		if md.Data[i].Type == "primary" {
			primary = &md.Data[i]
			break
		}
	}
	if primary == nil {
		return nil, fmt.Errorf("rpm: %w: repomd.xml has no primary entry", pkgmirror.ErrUpstreamParse)
	}

	priURL, err := joinURL(feed, primary.Location.Href)
	if err != nil {
		return nil, err
	}
	pbody, _, err := fetcher.Conditional(ctx, p.client, priURL, "")
	if err != nil {
		return nil, err
	}
	defer pbody.Close()
	r, err := decompress(pbody, primary.Location.Href)
	if err != nil {
		return nil, err
	}

	cands, err := parsePrimary(r)
	if err != nil {
		return nil, err
	}
	zlog.Info(ctx).Int("packages", len(cands)).Msg("parsed primary")

	res := &driver.IndexResult{Candidates: cands, Fingerprint: fp}
	if mode == pkgmirror.Mirror {
		res.Files = mirrorFiles(&md)
	}
	return res, nil
}

// mirrorFiles enumerates repomd.xml itself plus every data entry. The
// data/@type attribute is recorded verbatim as the file type so values
// like "susedata" or "modules" need no schema support.
func mirrorFiles(md *repoMD) []driver.FileCandidate {
	out := make([]driver.FileCandidate, 0, len(md.Data)+1)
	out = append(out, driver.FileCandidate{
		File: pkgmirror.RepositoryFile{
			Category:     "metadata",
			FileType:     "repomd",
			OriginalPath: "repodata/repomd.xml",
		},
		Href: "repodata/repomd.xml",
	})
	for _, d := range md.Data {
		fc := driver.FileCandidate{
			File: pkgmirror.RepositoryFile{
				Category:     "metadata",
				FileType:     d.Type,
				OriginalPath: d.Location.Href,
				Size:         d.Size,
			},
			Href: d.Location.Href,
		}
		if d.Checksum.Type == "sha256" && pkgmirror.ValidSHA256(d.Checksum.Sum) {
			fc.File.SHA256 = d.Checksum.Sum
		}
		out = append(out, fc)
	}
	return out
}

// decompress wraps r according to the href's suffix. Plain .xml passes
// through.
func decompress(r io.Reader, href string) (io.Reader, error) {
	switch {
	case strings.HasSuffix(href, ".gz"):
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("rpm: %w: gzip: %w", pkgmirror.ErrUpstreamParse, err)
		}
		return zr, nil
	case strings.HasSuffix(href, ".xz"):
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("rpm: %w: xz: %w", pkgmirror.ErrUpstreamParse, err)
		}
		return xr, nil
	}
	return r, nil
}

func joinURL(feed, rel string) (string, error) {
	u, err := url.Parse(feed)
	if err != nil {
		return "", fmt.Errorf("rpm: bad feed url %q: %w", feed, err)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	ref, err := u.Parse(rel)
	if err != nil {
		return "", fmt.Errorf("rpm: bad href %q: %w", rel, err)
	}
	return ref.String(), nil
}
