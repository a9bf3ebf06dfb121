package libmirror

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quay/zlog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/pkgmirror/pkgmirror"
	"github.com/pkgmirror/pkgmirror/config"
	"github.com/pkgmirror/pkgmirror/driver"
	"github.com/pkgmirror/pkgmirror/filter"
	"github.com/pkgmirror/pkgmirror/pool"
)

// SyncRepository brings one repository's pool and store state in line
// with its upstream.
//
// Per-item failures never abort the run; they are aggregated and the
// run closes as partial. The returned SyncRun is always valid, even
// when err is non-nil.
func (l *Libmirror) SyncRepository(ctx context.Context, rc *config.Repository) (*pkgmirror.SyncRun, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "libmirror/Libmirror.SyncRepository", "repository", rc.ID)
	core := rc.Core()
	if err := l.store.UpsertRepository(ctx, core); err != nil {
		return nil, err
	}

	run := &pkgmirror.SyncRun{
		ID:           uuid.New().String(),
		RepositoryID: rc.ID,
		Started:      time.Now(),
		Status:       pkgmirror.SyncRunning,
	}
	if err := l.store.RecordSyncRun(ctx, run); err != nil {
		return nil, err
	}

	err := l.sync(ctx, rc, core, run)
	run.Completed = time.Now()
	switch {
	case err == nil && run.Failed == 0:
		run.Status = pkgmirror.SyncSuccess
	case run.Downloaded > 0 || run.Skipped > 0:
		run.Status = pkgmirror.SyncPartial
	default:
		run.Status = pkgmirror.SyncFailed
	}
	if err != nil {
		run.Error = err.Error()
	}
	if rerr := l.store.RecordSyncRun(ctx, run); rerr != nil && err == nil {
		err = rerr
	}
	if run.Status == pkgmirror.SyncSuccess {
		if serr := l.store.SetLastSync(ctx, rc.ID, run.Completed.Unix()); serr != nil && err == nil {
			err = serr
		}
	}
	zlog.Info(ctx).
		Str("status", string(run.Status)).
		Int64("downloaded", run.Downloaded).
		Int64("skipped", run.Skipped).
		Int64("failed", run.Failed).
		Int64("unlinked", run.Unlinked).
		Int64("bytes", run.Bytes).
		Msg("sync finished")
	return run, err
}

func (l *Libmirror) sync(ctx context.Context, rc *config.Repository, core *pkgmirror.Repository, run *pkgmirror.SyncRun) error {
	plg, err := l.plugin(rc)
	if err != nil {
		return err
	}

	prev := l.hints.Get(core.Feed)
	res, err := plg.FetchIndex(ctx, core.Feed, core.Mode, prev)
	switch {
	case errors.Is(err, driver.Unchanged):
		zlog.Info(ctx).Msg("upstream index unchanged")
		return nil
	case err != nil:
		return err
	}

	kept := res.Candidates
	if core.Mode == pkgmirror.Filtered && !rc.Filters.Empty() {
		rules, err := filter.Compile(rc.Filters)
		if err != nil {
			return err
		}
		kept = rules.Apply(kept, plg.Cmp)
	}
	zlog.Info(ctx).
		Int("upstream", len(res.Candidates)).
		Int("kept", len(kept)).
		Msg("candidate set resolved")

	linked, err := l.store.LinkedDigests(ctx, rc.ID)
	if err != nil {
		return err
	}

	var (
		need    []driver.Candidate
		poolhit []driver.Candidate
		keptSHA = make(map[string]struct{}, len(kept))
	)
	for _, c := range kept {
		c := c
		if c.Item.SHA256 == "" {
			// Formats whose indexes publish no SHA-256 are matched by
			// coordinates against previously synced items.
			found, err := l.store.FindContent(ctx, c.Item.Type, c.Item.Name, c.Item.Version, c.Item.Arch)
			switch {
			case errors.Is(err, pkgmirror.ErrNotFound):
			case err != nil:
				return err
			default:
				c.Item.SHA256 = found.SHA256
				c.Item.Size = found.Size
			}
		}
		if c.Item.SHA256 != "" {
			keptSHA[c.Item.SHA256] = struct{}{}
			if _, ok := linked[c.Item.SHA256]; ok {
				run.Skipped++
				continue
			}
			if _, statErr := os.Stat(l.pool.Path(pool.Content, c.Item.SHA256, c.Item.Filename)); statErr == nil {
				poolhit = append(poolhit, c)
				continue
			}
		}
		need = append(need, c)
	}

	var itemErrs []error
	if len(poolhit) > 0 {
		if err := l.commit(ctx, rc.ID, core.Mode, poolhit); err != nil {
			return err
		}
		run.Skipped += int64(len(poolhit))
	}
	if len(need) > 0 {
		errs, err := l.download(ctx, rc, core, run, need, keptSHA)
		if err != nil {
			return err
		}
		itemErrs = append(itemErrs, errs...)
	}

	if err := l.applyRetention(ctx, rc, core, run, plg, res.Candidates, keptSHA); err != nil {
		return err
	}

	if core.Mode == pkgmirror.Mirror {
		errs, err := l.syncFiles(ctx, rc, core, run, res.Files)
		if err != nil {
			return err
		}
		itemErrs = append(itemErrs, errs...)
	}

	if err := errors.Join(itemErrs...); err != nil {
		return err
	}
	// The index validator is recorded only after a clean run; an
	// Unchanged answer must never skip items a previous run failed to
	// fetch.
	l.hints.Set(core.Feed, res.Fingerprint)
	return nil
}

// download fetches the need set with bounded parallelism, pools each
// file, and commits store rows in batches. Digests of successful
// downloads are added to keptSHA so retention sees items whose index
// carried no SHA-256 before this run computed one.
func (l *Libmirror) download(ctx context.Context, rc *config.Repository, core *pkgmirror.Repository, run *pkgmirror.SyncRun, need []driver.Candidate, keptSHA map[string]struct{}) ([]error, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "libmirror/Libmirror.download")
	sem := semaphore.NewWeighted(int64(l.cfg.Download.Parallel))
	var (
		mu       sync.Mutex
		done     []driver.Candidate
		itemErrs []error
	)
	// Workers never return errors; a failed item must not cancel its
	// siblings.
	var eg errgroup.Group
	for i := range need {
		c := need[i]
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		eg.Go(func() error {
			defer sem.Release(1)
			size, err := l.fetchOne(ctx, core.Feed, &c)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				itemFailures.WithLabelValues(rc.ID).Inc()
				run.Failed++
				itemErrs = append(itemErrs, &pkgmirror.ItemError{Item: c.Item.Filename, Err: err})
				return nil
			}
			downloadCounter.WithLabelValues(rc.ID).Inc()
			downloadBytes.WithLabelValues(rc.ID).Add(float64(size))
			run.Downloaded++
			run.Bytes += size
			keptSHA[c.Item.SHA256] = struct{}{}
			done = append(done, c)
			if len(done) >= commitBatch {
				batch := done
				done = nil
				if cerr := l.commit(ctx, rc.ID, core.Mode, batch); cerr != nil {
					itemErrs = append(itemErrs, cerr)
				}
			}
			return nil
		})
	}
	eg.Wait()
	if err := ctx.Err(); err != nil {
		// Commit what finished before reporting the cancellation.
		if len(done) > 0 {
			l.commit(context.WithoutCancel(ctx), rc.ID, core.Mode, done)
		}
		return itemErrs, err
	}
	if len(done) > 0 {
		if err := l.commit(ctx, rc.ID, core.Mode, done); err != nil {
			return itemErrs, err
		}
	}
	return itemErrs, nil
}

// commitBatch is how many completed downloads are committed per store
// transaction.
const commitBatch = 50

// fetchOne downloads a single candidate and moves it into the pool. The
// item's SHA256 and Size are filled from the bytes actually received.
func (l *Libmirror) fetchOne(ctx context.Context, feed string, c *driver.Candidate) (int64, error) {
	res, err := l.fetch.Get(ctx, resolve(feed, c.Href), c.Item.SHA256)
	if err != nil {
		return 0, err
	}
	defer os.Remove(res.Path)
	add, err := l.pool.AddFile(ctx, res.Path, pool.Content, c.Item.Filename, c.Item.SHA256)
	if err != nil {
		return 0, err
	}
	c.Item.SHA256 = add.SHA256
	c.Item.Size = add.Size
	return res.Size, nil
}

// commit upserts items and links them to the repository. In mirror mode
// the item's publish path rides along in its metadata so the publisher
// can reproduce the upstream layout.
func (l *Libmirror) commit(ctx context.Context, repoID string, mode pkgmirror.Mode, cands []driver.Candidate) error {
	items := make([]pkgmirror.ContentItem, len(cands))
	shas := make([]string, len(cands))
	for i := range cands {
		it := cands[i].Item
		if mode == pkgmirror.Mirror {
			pp := cands[i].PublishPath
			if pp == "" {
				pp = cands[i].Href
			}
			if it.Metadata == nil {
				it.Metadata = make(map[string]string, 1)
			}
			it.Metadata["publish_path"] = pp
		}
		items[i] = it
		shas[i] = it.SHA256
	}
	if _, err := l.store.UpsertContentItems(ctx, items); err != nil {
		return err
	}
	return l.store.LinkContent(ctx, repoID, shas)
}

// applyRetention unlinks items per the repository's policy. Unlinked
// items stay pooled until cleanup; snapshots keep referencing them.
func (l *Libmirror) applyRetention(ctx context.Context, rc *config.Repository, core *pkgmirror.Repository, run *pkgmirror.SyncRun, plg driver.Plugin, upstream []driver.Candidate, keptSHA map[string]struct{}) error {
	policy := rc.Retention.Policy
	if policy == "" {
		if core.Mode == pkgmirror.Mirror {
			policy = pkgmirror.RetainMirror
		} else {
			policy = pkgmirror.RetainAll
		}
	}
	if policy == pkgmirror.RetainAll {
		return nil
	}

	current, err := l.store.ListRepositoryContent(ctx, rc.ID)
	if err != nil {
		return err
	}
	var gone []string
	switch policy {
	case pkgmirror.RetainMirror:
		for _, it := range current {
			if _, ok := keptSHA[it.SHA256]; !ok {
				gone = append(gone, it.SHA256)
			}
		}
	case pkgmirror.RetainNewestOnly:
		removeMissing := rc.Retention.DeletedPackages == "remove"
		for _, it := range current {
			if _, ok := keptSHA[it.SHA256]; ok {
				continue
			}
			if superseded(&it, upstream, plg.Cmp) {
				gone = append(gone, it.SHA256)
			} else if removeMissing {
				gone = append(gone, it.SHA256)
			}
		}
	case pkgmirror.RetainLastN:
		gone = beyondLastN(current, keptSHA, rc.Retention.Versions, plg.Cmp)
	default:
		return fmt.Errorf("libmirror: %w: unknown retention policy %q", pkgmirror.ErrConfigInvalid, policy)
	}
	if len(gone) == 0 {
		return nil
	}
	if err := l.store.UnlinkContent(ctx, rc.ID, gone); err != nil {
		return err
	}
	run.Unlinked += int64(len(gone))
	zlog.Info(ctx).Int("unlinked", len(gone)).Str("policy", string(policy)).Msg("retention applied")
	return nil
}

// superseded reports whether the upstream set carries a newer version of
// the same (name, arch).
func superseded(it *pkgmirror.ContentItem, upstream []driver.Candidate, cmp func(a, b string) int) bool {
	for i := range upstream {
		u := &upstream[i].Item
		if u.Name == it.Name && u.Arch == it.Arch && cmp(u.Version, it.Version) > 0 {
			return true
		}
	}
	return false
}

// beyondLastN returns the digests of linked items falling outside the N
// highest versions per (name, arch), considering the incoming kept set
// as part of the population.
func beyondLastN(current []pkgmirror.ContentItem, keptSHA map[string]struct{}, n int, cmp func(a, b string) int) []string {
	type key struct{ name, arch string }
	groups := make(map[key][]*pkgmirror.ContentItem)
	for i := range current {
		it := &current[i]
		k := key{it.Name, it.Arch}
		groups[k] = append(groups[k], it)
	}
	var gone []string
	for _, items := range groups {
		if len(items) <= n {
			continue
		}
		sort.SliceStable(items, func(i, j int) bool {
			return cmp(items[i].Version, items[j].Version) > 0
		})
		for _, it := range items[n:] {
			gone = append(gone, it.SHA256)
		}
	}
	return gone
}

// syncFiles downloads the mirror-mode repository file set into the
// pool's files subtree and swaps the stored set.
func (l *Libmirror) syncFiles(ctx context.Context, rc *config.Repository, core *pkgmirror.Repository, run *pkgmirror.SyncRun, files []driver.FileCandidate) ([]error, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "libmirror/Libmirror.syncFiles")
	sem := semaphore.NewWeighted(int64(l.cfg.Download.Parallel))
	var (
		mu       sync.Mutex
		stored   []pkgmirror.RepositoryFile
		itemErrs []error
	)
	var eg errgroup.Group
	for i := range files {
		fc := files[i]
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		eg.Go(func() error {
			defer sem.Release(1)
			res, err := l.fetch.Get(ctx, resolve(core.Feed, fc.Href), fc.File.SHA256)
			if err == nil {
				defer os.Remove(res.Path)
				var add *pool.AddResult
				add, err = l.pool.AddFile(ctx, res.Path, pool.Files, fc.File.Basename(), fc.File.SHA256)
				if err == nil {
					fc.File.SHA256 = add.SHA256
					fc.File.Size = add.Size
				}
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				itemFailures.WithLabelValues(rc.ID).Inc()
				run.Failed++
				itemErrs = append(itemErrs, &pkgmirror.ItemError{Item: fc.File.OriginalPath, Err: err})
				return nil
			}
			run.Downloaded++
			run.Bytes += res.Size
			stored = append(stored, fc.File)
			return nil
		})
	}
	eg.Wait()
	if err := ctx.Err(); err != nil {
		return itemErrs, err
	}
	// The stored set only swaps when every file arrived; a partial swap
	// would publish a broken mirror.
	if len(itemErrs) == 0 {
		if err := l.store.ReplaceRepositoryFiles(ctx, rc.ID, stored); err != nil {
			return itemErrs, err
		}
	}
	return itemErrs, nil
}
