package libmirror

import (
	"context"
	"errors"
	"os"

	"github.com/quay/zlog"

	"github.com/pkgmirror/pkgmirror"
	"github.com/pkgmirror/pkgmirror/config"
	"github.com/pkgmirror/pkgmirror/driver"
	"github.com/pkgmirror/pkgmirror/filter"
	"github.com/pkgmirror/pkgmirror/pool"
)

// UpdatePlan is the would-be effect of a sync, computed without
// mutating anything.
type UpdatePlan struct {
	// Unchanged is true when the upstream index still matches the last
	// recorded fingerprint; the remaining fields are zero.
	Unchanged bool
	// Need lists the items a sync would download.
	Need []pkgmirror.ContentItem
	// Present counts kept items already linked to the repository.
	Present int
	// PoolHits counts kept items that are pooled but not yet linked.
	PoolHits int
}

// CheckUpdates fetches and filters the upstream index and reports what
// a sync would do. The fetch-hint cache is consulted but not updated.
func (l *Libmirror) CheckUpdates(ctx context.Context, rc *config.Repository) (*UpdatePlan, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "libmirror/Libmirror.CheckUpdates", "repository", rc.ID)
	core := rc.Core()
	plg, err := l.plugin(rc)
	if err != nil {
		return nil, err
	}

	res, err := plg.FetchIndex(ctx, core.Feed, core.Mode, l.hints.Get(core.Feed))
	switch {
	case errors.Is(err, driver.Unchanged):
		return &UpdatePlan{Unchanged: true}, nil
	case err != nil:
		return nil, err
	}

	kept := res.Candidates
	if core.Mode == pkgmirror.Filtered && !rc.Filters.Empty() {
		rules, err := filter.Compile(rc.Filters)
		if err != nil {
			return nil, err
		}
		kept = rules.Apply(kept, plg.Cmp)
	}

	linked, err := l.store.LinkedDigests(ctx, rc.ID)
	if err != nil {
		return nil, err
	}
	plan := &UpdatePlan{}
	for _, c := range kept {
		sha := c.Item.SHA256
		if sha == "" {
			found, err := l.store.FindContent(ctx, c.Item.Type, c.Item.Name, c.Item.Version, c.Item.Arch)
			switch {
			case errors.Is(err, pkgmirror.ErrNotFound):
			case err != nil:
				return nil, err
			default:
				sha = found.SHA256
			}
		}
		if sha != "" {
			if _, ok := linked[sha]; ok {
				plan.Present++
				continue
			}
			if _, statErr := os.Stat(l.pool.Path(pool.Content, sha, c.Item.Filename)); statErr == nil {
				plan.PoolHits++
				continue
			}
		}
		plan.Need = append(plan.Need, c.Item)
	}
	zlog.Info(ctx).
		Int("need", len(plan.Need)).
		Int("present", plan.Present).
		Int("poolhits", plan.PoolHits).
		Msg("update check done")
	return plan, nil
}
