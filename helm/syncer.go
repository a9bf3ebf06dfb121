package helm

import (
	"context"
	"net/url"
	"strings"

	"github.com/quay/zlog"

	"github.com/pkgmirror/pkgmirror"
	"github.com/pkgmirror/pkgmirror/driver"
	"github.com/pkgmirror/pkgmirror/fetcher"
)

// FetchIndex implements driver.Syncer.
func (p *Plugin) FetchIndex(ctx context.Context, feed string, mode pkgmirror.Mode, prev driver.Fingerprint) (*driver.IndexResult, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "helm/Plugin.FetchIndex", "feed", feed)

	body, fp, err := fetcher.Conditional(ctx, p.client, joinURL(feed, "index.yaml"), prev)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	cands, err := parseIndex(body)
	if err != nil {
		return nil, err
	}
	zlog.Info(ctx).Int("charts", len(cands)).Msg("parsed index")

	res := &driver.IndexResult{Candidates: cands, Fingerprint: fp}
	if mode == pkgmirror.Mirror {
		res.Files = []driver.FileCandidate{{
			File: pkgmirror.RepositoryFile{
				Category:     "metadata",
				FileType:     "index",
				OriginalPath: "index.yaml",
			},
			Href: "index.yaml",
		}}
	}
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
