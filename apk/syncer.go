package apk

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/quay/zlog"

	"github.com/pkgmirror/pkgmirror"
	"github.com/pkgmirror/pkgmirror/driver"
	"github.com/pkgmirror/pkgmirror/fetcher"
)

// FetchIndex implements driver.Syncer.
//
// One APKINDEX.tar.gz is fetched per configured architecture. The
// conditional fingerprint covers the first architecture's index; Alpine
// mirrors regenerate all arches together, so a 304 there means the
// whole repository is unchanged.
func (p *Plugin) FetchIndex(ctx context.Context, feed string, mode pkgmirror.Mode, prev driver.Fingerprint) (*driver.IndexResult, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "apk/Plugin.FetchIndex", "feed", feed)

	res := &driver.IndexResult{}
	for i, arch := range p.cfg.Architectures {
		cond := prev
		if i > 0 {
			cond = ""
		}
		body, fp, err := fetcher.Conditional(ctx, p.client, joinURL(feed, arch+"/APKINDEX.tar.gz"), cond)
		switch {
		case errors.Is(err, driver.Unchanged):
			return nil, err
		case err != nil:
			return nil, err
		}
		cands, perr := parseIndex(body, arch)
		body.Close()
		if perr != nil {
			return nil, perr
		}
		if i == 0 {
			res.Fingerprint = fp
		}
		res.Candidates = append(res.Candidates, cands...)
		if mode == pkgmirror.Mirror {
			res.Files = append(res.Files, driver.FileCandidate{
				File: pkgmirror.RepositoryFile{
					Category:     "metadata",
					FileType:     "apkindex",
					OriginalPath: arch + "/APKINDEX.tar.gz",
				},
				Href: arch + "/APKINDEX.tar.gz",
			})
		}
	}
	zlog.Info(ctx).Int("packages", len(res.Candidates)).Msg("parsed indexes")
	return res, nil
}

func joinURL(feed, rel string) string {
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
